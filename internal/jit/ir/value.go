package ir

import (
	"fmt"
	"math"

	"github.com/tangzhangming/novaomg/internal/wasm"
)

// ============================================================================
// 值
// ============================================================================

// Value IR 图中的一个节点。不同操作码使用不同的附加字段，
// 未使用的字段保持零值。
type Value struct {
	ID       int
	Op       Opcode
	Type     Type
	Children []*Value
	Owner    *BasicBlock
	Origin   Origin

	Imm   uint64 // 常量低 64 位、访存偏移；向量取通道和洗牌的语义标志
	ImmHi uint64 // ConstV128 高 64 位
	Width uint8  // 原子操作的访问字节数
	Lane  Lane   // 向量通道
	Index int    // Extract 的元组下标、通道下标

	Reg      Reg
	Pinned   PinnedReg
	Variable *Variable
	Phi      *Value // Upsilon 的目标

	Trap       wasm.ExceptionType // Check
	Patch      *Patchpoint
	Call       Operation // CCall
	Cases      []uint64  // Switch：第 i 个 case 跳到第 i 个后继，最后一个后继为默认
	TupleTypes []Type
}

// Variable 可重复赋值的存储位置，由 Get/Set 访问
type Variable struct {
	Index int
	Type  Type
}

func (v *Variable) String() string {
	return fmt.Sprintf("var%d", v.Index)
}

// Child 取第 i 个子节点
func (v *Value) Child(i int) *Value {
	return v.Children[i]
}

// IsTerminal 是否为块终结值
func (v *Value) IsTerminal() bool {
	if v.Op.IsControl() {
		return true
	}
	return v.Op == PatchpointOp && v.Patch.Terminal
}

// Int32 常量值
func (v *Value) Int32() int32 { return int32(uint32(v.Imm)) }

// Int64 常量值
func (v *Value) Int64() int64 { return int64(v.Imm) }

// Float 常量值
func (v *Value) Float() float32 { return math.Float32frombits(uint32(v.Imm)) }

// Double 常量值
func (v *Value) Double() float64 { return math.Float64frombits(v.Imm) }

// IsIntConstant 是否为给定整数常量
func (v *Value) IsIntConstant(c int64) bool {
	switch v.Op {
	case Const32:
		return int64(v.Int32()) == c
	case Const64:
		return v.Int64() == c
	}
	return false
}

// Name 打印用的名称
func (v *Value) Name() string {
	return fmt.Sprintf("@%d", v.ID)
}

// ============================================================================
// Patchpoint
// ============================================================================

// PatchKind patchpoint 的语义种类
type PatchKind uint8

const (
	PatchCall PatchKind = iota
	PatchCallIndirect
	PatchTailCall
	PatchTailCallIndirect
	PatchThrow
	PatchRethrow
	PatchReturn
	PatchEntryTierUp
	PatchLoopTierUp
	PatchTrap
	PatchStackOverflowCheck
	PatchContextSwitch
)

var patchKindNames = [...]string{
	"Call", "CallIndirect", "TailCall", "TailCallIndirect", "Throw", "Rethrow",
	"Return", "EntryTierUp", "LoopTierUp", "Trap", "StackOverflowCheck", "ContextSwitch",
}

func (k PatchKind) String() string {
	if int(k) < len(patchKindNames) {
		return patchKindNames[k]
	}
	return fmt.Sprintf("PatchKind(%d)", k)
}

// RepKind 操作数位置的种类
type RepKind uint8

const (
	RepSomeRegister  RepKind = iota // 任意寄存器
	RepRegister                     // 指定寄存器
	RepStackArgument                // 相对调用者 SP 的出参区
	RepStack                        // 相对当前 FP
	RepColdAny                      // 栈映射值，位置不限
)

// ValueRep 操作数位置约束
type ValueRep struct {
	Kind   RepKind
	Reg    Reg
	Offset int32
}

// SomeRegister 任意寄存器
func SomeRegister() ValueRep { return ValueRep{Kind: RepSomeRegister} }

// RegisterRep 指定寄存器
func RegisterRep(r Reg) ValueRep { return ValueRep{Kind: RepRegister, Reg: r} }

// StackArgumentRep 出参区偏移
func StackArgumentRep(offset int32) ValueRep {
	return ValueRep{Kind: RepStackArgument, Offset: offset}
}

// StackRep 相对 FP 的栈位置
func StackRep(offset int32) ValueRep { return ValueRep{Kind: RepStack, Offset: offset} }

// ColdAny 栈映射值
func ColdAny() ValueRep { return ValueRep{Kind: RepColdAny} }

func (r ValueRep) String() string {
	switch r.Kind {
	case RepSomeRegister:
		return "SomeRegister"
	case RepRegister:
		return r.Reg.String()
	case RepStackArgument:
		return fmt.Sprintf("stackArg(%d)", r.Offset)
	case RepStack:
		return fmt.Sprintf("fp(%d)", r.Offset)
	}
	return "ColdAny"
}

// Patchpoint 带位置约束的不透明操作：调用、抛出、返回、分层检查等。
// 子节点中 [0, StackmapFirst) 与 Reps 一一对应，其余为栈映射值。
type Patchpoint struct {
	Kind       PatchKind
	Reps       []ValueRep
	ResultReps []ValueRep
	Terminal   bool

	StackmapFirst int
	CallSiteIndex uint32
	HasHandlers   bool // 栈映射值用于异常恢复

	FunctionIndex uint32 // 直接调用目标
	NewFPOffset   int32  // 尾调用后新帧相对当前 FP 的偏移
	TagIndex      uint32
	LoopIndex     uint32
	Trap          wasm.ExceptionType
	StackSize     uint32 // 栈溢出检查的大小
}

// NumResults 结果个数
func (p *Patchpoint) NumResults() int {
	return len(p.ResultReps)
}
