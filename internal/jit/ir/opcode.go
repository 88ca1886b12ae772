package ir

import "fmt"

// Opcode IR 操作码
type Opcode uint8

const (
	Nop Opcode = iota

	// 常量与环境
	Const32
	Const64
	ConstFloat
	ConstDouble
	ConstV128
	ArgumentReg
	FramePointer
	GetPinned
	SetPinned

	// 整数与浮点算术
	Add
	Sub
	Mul
	Div
	UDiv
	Mod
	UMod
	ChillDiv
	ChillMod
	Neg
	BitAnd
	BitOr
	BitXor
	Shl
	SShr
	ZShr
	RotR
	RotL
	Clz
	Ctz
	Popcnt
	Abs
	Ceil
	Floor
	FTrunc
	Nearest
	Sqrt
	FMin
	FMax
	CopySign

	// 比较，结果为 Int32 的 0 或 1
	Equal
	NotEqual
	LessThan
	GreaterThan
	LessEqual
	GreaterEqual
	Above
	Below
	AboveEqual
	BelowEqual

	Select

	// 转换
	ZExt32
	SExt32
	SExt8
	SExt16
	SExt8To64
	SExt16To64
	Trunc
	IToF
	IToD
	UIToF
	UIToD
	FloatToDouble
	DoubleToFloat
	TruncFloat  // 有符号截断；超出范围时饱和，NaN 为 0
	TruncFloatU
	BitwiseCast

	// 访存，Imm 为偏移
	Load
	Load8Z
	Load8S
	Load16Z
	Load16S
	Store
	Store8
	Store16

	// 原子操作，Width 为访问字节数
	AtomicXchgAdd
	AtomicXchgSub
	AtomicXchgAnd
	AtomicXchgOr
	AtomicXchgXor
	AtomicXchg
	AtomicStrongCAS
	Fence

	// 变量与 SSA
	Get
	Set
	Phi
	Upsilon

	// 副作用
	Check
	PatchpointOp
	CCall
	Extract

	// 终结指令
	Jump
	Branch
	Switch
	EntrySwitch
	Oops

	// 向量
	VectorSplat
	VectorExtractLane
	VectorReplaceLane
	VectorNot
	VectorAnd
	VectorOr
	VectorXor
	VectorAndNot
	VectorAnyTrue
	VectorAllTrue
	VectorAdd
	VectorSub
	VectorMul
	VectorEqual
	VectorNeg
	VectorAddSat
	VectorSwizzle

	numOpcodes
)

var opcodeNames = [...]string{
	Nop: "Nop",

	Const32: "Const32", Const64: "Const64", ConstFloat: "ConstFloat", ConstDouble: "ConstDouble",
	ConstV128: "ConstV128", ArgumentReg: "ArgumentReg", FramePointer: "FramePointer",
	GetPinned: "GetPinned", SetPinned: "SetPinned",

	Add: "Add", Sub: "Sub", Mul: "Mul", Div: "Div", UDiv: "UDiv", Mod: "Mod", UMod: "UMod",
	ChillDiv: "ChillDiv", ChillMod: "ChillMod", Neg: "Neg",
	BitAnd: "BitAnd", BitOr: "BitOr", BitXor: "BitXor", Shl: "Shl", SShr: "SShr", ZShr: "ZShr",
	RotR: "RotR", RotL: "RotL", Clz: "Clz", Ctz: "Ctz", Popcnt: "Popcnt",
	Abs: "Abs", Ceil: "Ceil", Floor: "Floor", FTrunc: "FTrunc", Nearest: "Nearest", Sqrt: "Sqrt",
	FMin: "FMin", FMax: "FMax", CopySign: "CopySign",

	Equal: "Equal", NotEqual: "NotEqual", LessThan: "LessThan", GreaterThan: "GreaterThan",
	LessEqual: "LessEqual", GreaterEqual: "GreaterEqual",
	Above: "Above", Below: "Below", AboveEqual: "AboveEqual", BelowEqual: "BelowEqual",

	Select: "Select",

	ZExt32: "ZExt32", SExt32: "SExt32", SExt8: "SExt8", SExt16: "SExt16",
	SExt8To64: "SExt8To64", SExt16To64: "SExt16To64", Trunc: "Trunc",
	IToF: "IToF", IToD: "IToD", UIToF: "UIToF", UIToD: "UIToD",
	FloatToDouble: "FloatToDouble", DoubleToFloat: "DoubleToFloat",
	TruncFloat: "TruncFloat", TruncFloatU: "TruncFloatU", BitwiseCast: "BitwiseCast",

	Load: "Load", Load8Z: "Load8Z", Load8S: "Load8S", Load16Z: "Load16Z", Load16S: "Load16S",
	Store: "Store", Store8: "Store8", Store16: "Store16",

	AtomicXchgAdd: "AtomicXchgAdd", AtomicXchgSub: "AtomicXchgSub", AtomicXchgAnd: "AtomicXchgAnd",
	AtomicXchgOr: "AtomicXchgOr", AtomicXchgXor: "AtomicXchgXor", AtomicXchg: "AtomicXchg",
	AtomicStrongCAS: "AtomicStrongCAS", Fence: "Fence",

	Get: "Get", Set: "Set", Phi: "Phi", Upsilon: "Upsilon",

	Check: "Check", PatchpointOp: "Patchpoint", CCall: "CCall", Extract: "Extract",

	Jump: "Jump", Branch: "Branch", Switch: "Switch", EntrySwitch: "EntrySwitch", Oops: "Oops",

	VectorSplat: "VectorSplat", VectorExtractLane: "VectorExtractLane",
	VectorReplaceLane: "VectorReplaceLane", VectorNot: "VectorNot", VectorAnd: "VectorAnd",
	VectorOr: "VectorOr", VectorXor: "VectorXor", VectorAndNot: "VectorAndNot",
	VectorAnyTrue: "VectorAnyTrue", VectorAllTrue: "VectorAllTrue",
	VectorAdd: "VectorAdd", VectorSub: "VectorSub", VectorMul: "VectorMul",
	VectorEqual: "VectorEqual", VectorNeg: "VectorNeg", VectorAddSat: "VectorAddSat",
	VectorSwizzle: "VectorSwizzle",
}

func (op Opcode) String() string {
	if op < numOpcodes && opcodeNames[op] != "" {
		return opcodeNames[op]
	}
	return fmt.Sprintf("Opcode(%d)", op)
}

// IsConstant 是否常量
func (op Opcode) IsConstant() bool {
	return op >= Const32 && op <= ConstV128
}

// IsControl 是否块终结指令（终结型 Patchpoint 另行判断）
func (op Opcode) IsControl() bool {
	return op >= Jump && op <= Oops
}

// IsLoad 是否普通读内存
func (op Opcode) IsLoad() bool {
	return op >= Load && op <= Load16S
}

// IsStore 是否普通写内存
func (op Opcode) IsStore() bool {
	return op >= Store && op <= Store16
}

// IsAtomic 是否原子读改写
func (op Opcode) IsAtomic() bool {
	return op >= AtomicXchgAdd && op <= AtomicStrongCAS
}

// IsComparison 是否比较
func (op Opcode) IsComparison() bool {
	return op >= Equal && op <= BelowEqual
}

// IsBinaryArith 结果类型与两个操作数类型相同的二元运算
func (op Opcode) IsBinaryArith() bool {
	switch op {
	case Add, Sub, Mul, Div, UDiv, Mod, UMod, ChillDiv, ChillMod,
		BitAnd, BitOr, BitXor, FMin, FMax, CopySign:
		return true
	}
	return false
}

// IsShift 移位和旋转，移位量可以是 Int32
func (op Opcode) IsShift() bool {
	switch op {
	case Shl, SShr, ZShr, RotR, RotL:
		return true
	}
	return false
}

// MemoryAccessSize 访存宽度（字节），非访存返回 0
func (v *Value) MemoryAccessSize() int {
	switch v.Op {
	case Load8Z, Load8S, Store8:
		return 1
	case Load16Z, Load16S, Store16:
		return 2
	case Load:
		return v.Type.Size()
	case Store:
		return v.Children[0].Type.Size()
	}
	if v.Op.IsAtomic() {
		return int(v.Width)
	}
	return 0
}
