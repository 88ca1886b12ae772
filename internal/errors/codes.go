// Package errors 提供 OMG 编译层的错误处理系统
package errors

// ============================================================================
// 错误级别
// ============================================================================

// Level 错误级别
type Level int

const (
	LevelError   Level = iota // 错误
	LevelWarning              // 警告
	LevelNote                 // 提示
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarning:
		return "warning"
	case LevelNote:
		return "note"
	default:
		return "unknown"
	}
}

// ============================================================================
// 编译错误码 (E 开头)
// ============================================================================

// 编译错误码常量
const (
	// E0001-E0099: 输入错误
	E0001 = "E0001" // 非法的指令流
	E0002 = "E0002" // 不支持的操作码
	E0003 = "E0003" // 函数体未以 end 结束
	E0004 = "E0004" // 索引越界（函数、类型、全局、表）
	E0005 = "E0005" // 类型不匹配

	// E0100-E0199: 资源错误
	E0100 = "E0100" // 局部变量过多
	E0101 = "E0101" // 操作数栈高度溢出
	E0102 = "E0102" // 调用参数区过大

	// E0200-E0299: 控制流错误
	E0200 = "E0200" // 控制栈为空
	E0201 = "E0201" // 分支目标深度越界
	E0202 = "E0202" // else 不属于 if
	E0203 = "E0203" // catch 不属于 try
	E0204 = "E0204" // 块结果数量不匹配

	// E0300-E0399: IR 校验错误
	E0300 = "E0300" // 基本块缺少终结指令
	E0301 = "E0301" // 值在定义块之外被使用
	E0302 = "E0302" // 操作数类型不合法
	E0303 = "E0303" // 入口切换位置非法

	// E0400-E0499: 模块与链接错误
	E0400 = "E0400" // 未链接的调用目标不存在
	E0401 = "E0401" // 调用重复链接
	E0402 = "E0402" // 配置文件无效
	E0403 = "E0403" // 模块描述无效
)

// errorTitles 错误码对应的简短标题
var errorTitles = map[string]string{
	E0001: "malformed instruction stream",
	E0002: "unsupported opcode",
	E0003: "function body not terminated",
	E0004: "index out of range",
	E0005: "type mismatch",
	E0100: "too many locals",
	E0101: "operand stack height overflow",
	E0102: "call argument area too large",
	E0200: "control stack underflow",
	E0201: "branch depth out of range",
	E0202: "else without if",
	E0203: "catch without try",
	E0204: "block arity mismatch",
	E0300: "block without terminal",
	E0301: "value used outside its dominator",
	E0302: "invalid operand type",
	E0303: "misplaced entry switch",
	E0400: "unknown link target",
	E0401: "call linked twice",
	E0402: "invalid options",
	E0403: "invalid module description",
}

// Title 返回错误码的标题
func Title(code string) string {
	if t, ok := errorTitles[code]; ok {
		return t
	}
	return "compile error"
}
