// Package ir 定义优化层使用的图形式中间表示：过程、基本块、值和变量，
// 以及打印器、校验器和一个用于测试的解释器。
package ir

import "fmt"

// ============================================================================
// 值类型
// ============================================================================

// Type IR 值类型
type Type uint8

const (
	Void Type = iota
	Int32
	Int64
	Float
	Double
	V128
	Tuple
)

var typeNames = [...]string{"Void", "Int32", "Int64", "Float", "Double", "V128", "Tuple"}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", t)
}

// IsInt 是否整数类型
func (t Type) IsInt() bool { return t == Int32 || t == Int64 }

// IsFloat 是否浮点类型
func (t Type) IsFloat() bool { return t == Float || t == Double }

// Size 值在栈槽中占用的字节数
func (t Type) Size() int {
	switch t {
	case Int32, Float:
		return 4
	case Int64, Double:
		return 8
	case V128:
		return 16
	}
	return 0
}

// Lane 向量通道类型
type Lane uint8

const (
	LaneI8 Lane = iota
	LaneI16
	LaneI32
	LaneI64
	LaneF32
	LaneF64
)

var laneNames = [...]string{"i8x16", "i16x8", "i32x4", "i64x2", "f32x4", "f64x2"}

func (l Lane) String() string {
	if int(l) < len(laneNames) {
		return laneNames[l]
	}
	return fmt.Sprintf("Lane(%d)", l)
}

// Bits 通道位宽
func (l Lane) Bits() int {
	switch l {
	case LaneI8:
		return 8
	case LaneI16:
		return 16
	case LaneI32, LaneF32:
		return 32
	}
	return 64
}

// Count 通道数
func (l Lane) Count() int { return 128 / l.Bits() }

// ScalarType 单个通道对应的标量类型
func (l Lane) ScalarType() Type {
	switch l {
	case LaneI64:
		return Int64
	case LaneF32:
		return Float
	case LaneF64:
		return Double
	}
	return Int32
}

// ============================================================================
// 寄存器
// ============================================================================

// Reg 机器寄存器编号：0-15 为通用寄存器，16-31 为浮点/向量寄存器
type Reg uint8

const (
	GPR0 Reg = 0
	FPR0 Reg = 16

	NumRegs = 32
)

// IsFPR 是否浮点寄存器
func (r Reg) IsFPR() bool { return r >= FPR0 }

func (r Reg) String() string {
	if r.IsFPR() {
		return fmt.Sprintf("f%d", r-FPR0)
	}
	return fmt.Sprintf("r%d", r)
}

// PinnedReg 被固定的全局寄存器，在函数之间保持不变，调用后可能需要恢复
type PinnedReg uint8

const (
	PinnedInstance PinnedReg = iota
	PinnedMemoryBase
	PinnedBoundsCheckingSize

	NumPinnedRegs
)

var pinnedNames = [...]string{"instance", "memoryBase", "boundsCheckingSize"}

func (p PinnedReg) String() string {
	if int(p) < len(pinnedNames) {
		return pinnedNames[p]
	}
	return fmt.Sprintf("pinned(%d)", p)
}

// Frequency 边的执行频率
type Frequency uint8

const (
	FrequencyNormal Frequency = iota
	FrequencyRare
)

func (f Frequency) String() string {
	if f == FrequencyRare {
		return "Rare"
	}
	return "Normal"
}

// Origin 值对应的字节码位置
type Origin struct {
	Function uint32
	Offset   uint32
}

func (o Origin) String() string {
	return fmt.Sprintf("f%d:%d", o.Function, o.Offset)
}

// ============================================================================
// 运行时操作（CCall 目标）
// ============================================================================

// Operation 由生成代码直接调用的运行时操作
type Operation uint8

const (
	OpGrowMemory Operation = iota
	OpMemoryFill
	OpMemoryCopy
	OpMemoryInit
	OpDataDrop
	OpTableGet
	OpTableSet
	OpTableGrow
	OpTableFill
	OpTableCopy
	OpTableInit
	OpElemDrop
	OpRefFunc
	OpStructNew
	OpArrayNew
	OpIsSubRTT
	OpWriteBarrierSlowPath
	OpAtomicWait32
	OpAtomicWait64
	OpAtomicNotify
	OpTierUp

	numOperations
)

var operationNames = [...]string{
	OpGrowMemory:           "growMemory",
	OpMemoryFill:           "memoryFill",
	OpMemoryCopy:           "memoryCopy",
	OpMemoryInit:           "memoryInit",
	OpDataDrop:             "dataDrop",
	OpTableGet:             "tableGet",
	OpTableSet:             "tableSet",
	OpTableGrow:            "tableGrow",
	OpTableFill:            "tableFill",
	OpTableCopy:            "tableCopy",
	OpTableInit:            "tableInit",
	OpElemDrop:             "elemDrop",
	OpRefFunc:              "refFunc",
	OpStructNew:            "structNew",
	OpArrayNew:             "arrayNew",
	OpIsSubRTT:             "isSubRTT",
	OpWriteBarrierSlowPath: "writeBarrierSlowPath",
	OpAtomicWait32:         "atomicWait32",
	OpAtomicWait64:         "atomicWait64",
	OpAtomicNotify:         "atomicNotify",
	OpTierUp:               "tierUp",
}

func (op Operation) String() string {
	if op < numOperations {
		return operationNames[op]
	}
	return fmt.Sprintf("operation(%d)", op)
}
