package wasm

// ============================================================================
// 机器内存布局
// ============================================================================
//
// 生成的 IR 直接按这些偏移读写实例、表、堆对象和调用帧，运行时按同样的
// 偏移构造它们。所有指针都是 64 位机器字。

// 实例头部
const (
	InstanceOffsetMemoryBase         = 0  // u64 线性内存基址
	InstanceOffsetBoundsCheckingSize = 8  // u64 可访问字节数
	InstanceOffsetMemorySize         = 16 // u64 当前内存字节数
	InstanceOffsetBarrierThreshold   = 24 // u32 写屏障阈值
	InstanceOffsetShouldFence        = 28 // u8  并发标记期间需要 fence
	InstanceOffsetStackLimit         = 32 // u64 软栈上限
	InstanceOffsetTierUpCounters     = 40 // u64 分层计数器数组地址
	InstanceOffsetRTTs               = 48 // u64 按模块类型索引排列的 RTT 指针数组
	instanceHeaderSize               = 56
)

// ImportFunctionInfo 中各字段的偏移
const (
	ImportOffsetEntrypoint     = 0
	ImportOffsetTargetInstance = 8
	ImportOffsetBoxedCallee    = 16
	ImportFunctionInfoSize     = 24
)

// GlobalSlotSize 全局变量槽大小（容纳 v128）
const GlobalSlotSize = 16

// 表对象
const (
	TableOffsetLength   = 0 // u32
	TableOffsetElements = 8 // u64 元素数组地址
	TableObjectSize     = 16
)

// 函数引用表元素
const (
	FunctionEntryOffsetSignature   = 0  // u64 规范签名索引，0 表示空项
	FunctionEntryOffsetEntrypoint  = 8  // u64 代码地址
	FunctionEntryOffsetBoxedCallee = 16 // u64
	FunctionEntryOffsetRTT         = 24 // u64
	FunctionEntryOffsetInstance    = 32 // u64
	FunctionEntryOffsetValue       = 40 // u64 函数对象
	FunctionEntrySize              = 48
)

// ExternRefEntrySize 外部引用表元素大小
const ExternRefEntrySize = 8

// GC 对象头
const (
	ObjectOffsetRTT       = 0 // u64
	ObjectOffsetCellState = 8 // u8
	ObjectHeaderSize      = 16
)

// 数组对象
const (
	ArrayOffsetSize    = 16 // u32
	ArrayPayloadOffset = 24
)

// 函数对象（funcref 的值）
const (
	FunctionObjectOffsetEntrypoint  = 16
	FunctionObjectOffsetBoxedCallee = 24
	FunctionObjectOffsetInstance    = 32
	FunctionObjectOffsetSignature   = 40
	FunctionObjectSize              = 48
)

// RTT 对象
const (
	RTTOffsetKind        = 0 // u32
	RTTOffsetDisplaySize = 4 // u32
	RTTOffsetPayload     = 8 // 父类型 RTT 指针数组
)

// 调用帧。被调者 FP 之上依次是保存的调用者 FP、返回地址、callee、调用点索引，
// 然后是栈上传递的参数。
const (
	CallFrameOffsetCallerFrame   = 0
	CallFrameOffsetReturnPC      = 8
	CallFrameOffsetCallee        = 16
	CallFrameOffsetCallSiteIndex = 24
	CallFrameHeaderSize          = 32
	CallerFrameAndPCSize         = 16
	StackAlignment               = 16
)

// NullRef 空引用
const NullRef = 0

// InvalidCallSiteIndex 帧中表示“不在任何调用点”的索引
const InvalidCallSiteIndex = 0xffffffff

// 写屏障用的单元状态
const (
	CellStatePossiblyBlack   = 0
	CellStateDefinitelyWhite = 1
	CellStatePossiblyGrey    = 2
	CellStateBlackThreshold  = CellStatePossiblyBlack
)

// RoundUpToStackAlignment 按栈对齐取整
func RoundUpToStackAlignment(n uint32) uint32 {
	return (n + StackAlignment - 1) &^ (StackAlignment - 1)
}

// InstanceLayout 某个模块实例的字段偏移
type InstanceLayout struct {
	tablesOffset  uint32
	importsOffset uint32
	globalsOffset uint32
	size          uint32
}

// NewInstanceLayout 按模块信息计算实例布局
func NewInstanceLayout(m *ModuleInformation) *InstanceLayout {
	l := &InstanceLayout{tablesOffset: instanceHeaderSize}
	l.importsOffset = l.tablesOffset + 8*uint32(len(m.Tables))
	l.globalsOffset = l.importsOffset + ImportFunctionInfoSize*m.ImportFunctionCount()
	l.globalsOffset = (l.globalsOffset + GlobalSlotSize - 1) &^ (GlobalSlotSize - 1)
	l.size = l.globalsOffset + GlobalSlotSize*uint32(len(m.Globals))
	return l
}

// TableOffset 第 i 个表指针的偏移
func (l *InstanceLayout) TableOffset(i uint32) uint32 { return l.tablesOffset + 8*i }

// ImportFunctionInfoOffset 第 i 个导入函数信息的偏移
func (l *InstanceLayout) ImportFunctionInfoOffset(i uint32) uint32 {
	return l.importsOffset + ImportFunctionInfoSize*i
}

// ImportStubOffset 第 i 个导入的调用桩地址所在偏移
func (l *InstanceLayout) ImportStubOffset(i uint32) uint32 {
	return l.ImportFunctionInfoOffset(i) + ImportOffsetEntrypoint
}

// GlobalOffset 第 i 个全局变量槽的偏移
func (l *InstanceLayout) GlobalOffset(i uint32) uint32 { return l.globalsOffset + GlobalSlotSize*i }

// Size 实例总字节数
func (l *InstanceLayout) Size() uint32 { return l.size }

// ============================================================================
// i31 引用编码
// ============================================================================

// I31Tag i31 引用的低位标记；对象指针 8 字节对齐，最低位为 0
const I31Tag = 1

// BoxI31 把 31 位整数编码为引用
func BoxI31(v int32) uint64 {
	return uint64(uint32(v)&0x7fffffff)<<1 | I31Tag
}

// IsI31 引用是否为 i31
func IsI31(ref uint64) bool { return ref&I31Tag != 0 }

// UnboxI31 解码，signed 表示按有符号扩展
func UnboxI31(ref uint64, signed bool) int32 {
	if signed {
		return int32(int64(ref<<32) >> 33)
	}
	return int32(uint32(ref>>1) & 0x7fffffff)
}
