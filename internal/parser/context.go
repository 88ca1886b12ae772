package parser

import (
	"github.com/tangzhangming/novaomg/internal/bytecode"
	"github.com/tangzhangming/novaomg/internal/wasm"
)

// ============================================================================
// 操作数栈与控制栈
// ============================================================================

// TypedExpression 操作数栈上的一项：wasm 类型加上编译器的表达式句柄
type TypedExpression[E any] struct {
	Type  wasm.Type
	Value E
}

// Stack 操作数栈
type Stack[E any] []TypedExpression[E]

// Values 取出表达式句柄
func (s Stack[E]) Values() []E {
	out := make([]E, len(s))
	for i, te := range s {
		out[i] = te.Value
	}
	return out
}

// Clone 复制一份
func (s Stack[E]) Clone() Stack[E] {
	return append(Stack[E](nil), s...)
}

// ControlKind 控制结构种类
type ControlKind uint8

const (
	KindTopLevel ControlKind = iota
	KindBlock
	KindLoop
	KindIf
	KindElse
	KindTry
	KindCatch
	KindCatchAll
)

var controlKindNames = [...]string{"TopLevel", "Block", "Loop", "If", "Else", "Try", "Catch", "CatchAll"}

func (k ControlKind) String() string {
	if int(k) < len(controlKindNames) {
		return controlKindNames[k]
	}
	return "?"
}

// IsAnyCatch 是否处于 catch 或 catch_all 分支
func (k ControlKind) IsAnyCatch() bool {
	return k == KindCatch || k == KindCatchAll
}

// ControlEntry 控制栈的一项。Control 是编译器的控制结构句柄，
// 编译器在 else/catch 时可以替换它，控制栈上的这一项始终是权威的那一份。
type ControlEntry[E any, C any] struct {
	Kind      ControlKind
	Signature *wasm.FunctionSignature
	Control   C

	// EnclosedExpressionStack 进入该结构前外层的操作数栈（不含块参数）
	EnclosedExpressionStack Stack[E]
	// ElseBlockStack if 的参数副本，else 分支从这里开始
	ElseBlockStack Stack[E]
}

// ============================================================================
// 回调约定
// ============================================================================

// Context 解析器驱动的编译器。解析器维护两个栈并负责类型推导，
// 每弹出一个操作数都先调用 DidPopValueFromStack，然后才调用消费它的回调；
// 产生结果的回调自行把结果压入自己的栈并返回句柄。
type Context[E any, C any] interface {
	// WillParseOpcode 在每条可达指令之前调用
	WillParseOpcode()
	DidPopValueFromStack()

	// 参数与局部变量
	AddArguments(sig *wasm.FunctionSignature) error
	AddLocal(t wasm.Type, count uint32) error
	GetLocal(index uint32) (E, error)
	SetLocal(index uint32, value E) error
	TeeLocal(index uint32, value E) (E, error)
	GetGlobal(index uint32) (E, error)
	SetGlobal(index uint32, value E) error

	// 常量与算术
	AddConstant(t wasm.Type, bits uint64) (E, error)
	AddV128Constant(bits [2]uint64) (E, error)
	AddSelect(condition, a, b E) (E, error)
	AddUnary(op bytecode.OpCode, value E) (E, error)
	AddBinary(op bytecode.OpCode, lhs, rhs E) (E, error)
	AddExtractLane(op bytecode.OpCode, lane uint8, vector E) (E, error)
	AddReplaceLane(op bytecode.OpCode, lane uint8, vector, scalar E) (E, error)

	// 线性内存
	Load(op bytecode.OpCode, pointer E, offset uint64) (E, error)
	Store(op bytecode.OpCode, pointer, value E, offset uint64) error
	AtomicLoad(op bytecode.OpCode, pointer E, offset uint64) (E, error)
	AtomicStore(op bytecode.OpCode, pointer, value E, offset uint64) error
	AtomicBinaryRMW(op bytecode.OpCode, pointer, value E, offset uint64) (E, error)
	AtomicCompareExchange(op bytecode.OpCode, pointer, expected, value E, offset uint64) (E, error)
	AtomicWait(op bytecode.OpCode, pointer, value, timeout E, offset uint64) (E, error)
	AtomicNotify(pointer, count E, offset uint64) (E, error)
	AtomicFence() error
	AddMemorySize() (E, error)
	AddGrowMemory(delta E) (E, error)
	AddMemoryFill(dst, value, count E) error
	AddMemoryCopy(dst, src, count E) error
	AddMemoryInit(segment uint32, dst, src, count E) error
	AddDataDrop(segment uint32) error

	// 表
	AddTableGet(table uint32, index E) (E, error)
	AddTableSet(table uint32, index, value E) error
	AddTableSize(table uint32) (E, error)
	AddTableGrow(table uint32, fill, delta E) (E, error)
	AddTableFill(table uint32, offset, fill, count E) error
	AddTableCopy(dstTable, srcTable uint32, dst, src, count E) error
	AddTableInit(element, table uint32, dst, src, count E) error
	AddElemDrop(element uint32) error

	// 引用与 GC 对象
	AddRefNull(t wasm.Type) (E, error)
	AddRefIsNull(value E) (E, error)
	AddRefFunc(index uint32) (E, error)
	AddRefAsNonNull(value E) (E, error)
	AddRefEq(a, b E) (E, error)
	AddRefTest(value E, allowNull bool, heap wasm.HeapType) (E, error)
	AddRefCast(value E, allowNull bool, heap wasm.HeapType) (E, error)
	AddRefI31(value E) (E, error)
	AddI31Get(value E, signed bool) (E, error)
	AddStructNew(typeIndex uint32, args []E) (E, error)
	AddStructNewDefault(typeIndex uint32) (E, error)
	AddStructGet(op bytecode.OpCode, object E, typeIndex, field uint32) (E, error)
	AddStructSet(object E, typeIndex, field uint32, value E) error
	AddArrayNew(typeIndex uint32, size, init E) (E, error)
	AddArrayNewDefault(typeIndex uint32, size E) (E, error)
	AddArrayGet(op bytecode.OpCode, typeIndex uint32, array, index E) (E, error)
	AddArraySet(typeIndex uint32, array, index, value E) error
	AddArrayLen(array E) (E, error)

	// 控制流
	AddTopLevel(sig *wasm.FunctionSignature) (C, error)
	AddBlock(sig *wasm.FunctionSignature, enclosing, newStack Stack[E]) (C, error)
	AddLoop(sig *wasm.FunctionSignature, enclosing, newStack Stack[E], loopIndex uint32) (C, error)
	AddIf(condition E, sig *wasm.FunctionSignature, enclosing, newStack Stack[E]) (C, error)
	AddElse(entry *ControlEntry[E, C], current Stack[E]) error
	AddElseToUnreachable(entry *ControlEntry[E, C]) error
	AddTry(sig *wasm.FunctionSignature, enclosing, newStack Stack[E]) (C, error)
	AddCatch(tag uint32, current Stack[E], entry *ControlEntry[E, C]) ([]E, error)
	AddCatchToUnreachable(tag uint32, entry *ControlEntry[E, C]) ([]E, error)
	AddCatchAll(current Stack[E], entry *ControlEntry[E, C]) error
	AddCatchAllToUnreachable(entry *ControlEntry[E, C]) error
	AddDelegate(target C, entry *ControlEntry[E, C]) error
	AddDelegateToUnreachable(target C, entry *ControlEntry[E, C]) error
	AddThrow(tag uint32, args []E) error
	AddRethrow(catchControl C) error
	AddReturn(topLevel C, values Stack[E]) error
	AddBranch(target C, values Stack[E]) error
	AddBranchIf(target C, condition E, values Stack[E]) error
	AddBranchNull(target C, ref E, values Stack[E], negate bool) (E, error)
	AddBranchCast(target C, ref E, values Stack[E], allowNull bool, heap wasm.HeapType, negate bool) error
	AddSwitch(condition E, targets []C, defaultTarget C, values Stack[E]) error
	EndBlock(entry *ControlEntry[E, C], current Stack[E]) ([]E, error)
	AddEndToUnreachable(entry *ControlEntry[E, C], current Stack[E]) ([]E, error)
	AddUnreachable() error

	// 调用
	AddCall(funcIndex uint32, sig *wasm.FunctionSignature, args []E, tail bool) ([]E, error)
	AddCallIndirect(table, typeIndex uint32, calleeIndex E, args []E, tail bool) ([]E, error)
	AddCallRef(typeIndex uint32, callee E, args []E, tail bool) ([]E, error)
}
