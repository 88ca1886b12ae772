package bytecode

import (
	"math"

	"github.com/tangzhangming/novaomg/internal/wasm"
)

// Assembler 以链式调用构造指令序列
type Assembler struct {
	code []Instr
}

// NewAssembler 创建汇编器
func NewAssembler() *Assembler {
	return &Assembler{}
}

func (a *Assembler) emit(in Instr) *Assembler {
	in.Offset = uint32(len(a.code))
	a.code = append(a.code, in)
	return a
}

// Op 无立即数指令
func (a *Assembler) Op(ops ...OpCode) *Assembler {
	for _, op := range ops {
		a.emit(Instr{Op: op})
	}
	return a
}

// Index 单索引指令
func (a *Assembler) Index(op OpCode, index uint32) *Assembler {
	return a.emit(Instr{Op: op, Index: index})
}

// TwoIndex 双索引指令
func (a *Assembler) TwoIndex(op OpCode, first, second uint32) *Assembler {
	return a.emit(Instr{Op: op, Index: first, Index2: second})
}

// LocalGet local.get
func (a *Assembler) LocalGet(index uint32) *Assembler { return a.Index(OpLocalGet, index) }

// LocalSet local.set
func (a *Assembler) LocalSet(index uint32) *Assembler { return a.Index(OpLocalSet, index) }

// Call call
func (a *Assembler) Call(index uint32) *Assembler { return a.Index(OpCall, index) }

// Br br
func (a *Assembler) Br(depth uint32) *Assembler { return a.Index(OpBr, depth) }

// I32Const i32.const
func (a *Assembler) I32Const(v int32) *Assembler {
	return a.emit(Instr{Op: OpI32Const, Bits: uint64(uint32(v))})
}

// I64Const i64.const
func (a *Assembler) I64Const(v int64) *Assembler {
	return a.emit(Instr{Op: OpI64Const, Bits: uint64(v)})
}

// F32Const f32.const
func (a *Assembler) F32Const(v float32) *Assembler {
	return a.emit(Instr{Op: OpF32Const, Bits: uint64(math.Float32bits(v))})
}

// F64Const f64.const
func (a *Assembler) F64Const(v float64) *Assembler {
	return a.emit(Instr{Op: OpF64Const, Bits: math.Float64bits(v)})
}

// V128Const v128.const，lo 为低 64 位
func (a *Assembler) V128Const(lo, hi uint64) *Assembler {
	return a.emit(Instr{Op: OpV128Const, V128: [2]uint64{lo, hi}})
}

// Block 带块签名的指令（block/loop/if/try）
func (a *Assembler) Block(op OpCode, params, results []wasm.Type) *Assembler {
	return a.emit(Instr{Op: op, Block: BlockType{Params: params, Results: results}})
}

// Mem 访存指令
func (a *Assembler) Mem(op OpCode, offset uint64) *Assembler {
	return a.emit(Instr{Op: op, Mem: MemArg{Offset: offset}})
}

// Lane 通道指令
func (a *Assembler) Lane(op OpCode, lane uint8) *Assembler {
	return a.emit(Instr{Op: op, Lane: lane})
}

// BrTable br_table
func (a *Assembler) BrTable(targets []uint32, defaultTarget uint32) *Assembler {
	return a.emit(Instr{Op: OpBrTable, Targets: targets, Index: defaultTarget})
}

// Ref 带堆类型立即数的指令（ref.null/ref.test/ref.cast）
func (a *Assembler) Ref(op OpCode, t wasm.Type) *Assembler {
	return a.emit(Instr{Op: op, RefType: t})
}

// BrCast br_on_cast / br_on_cast_fail
func (a *Assembler) BrCast(op OpCode, depth uint32, t wasm.Type) *Assembler {
	return a.emit(Instr{Op: op, Index: depth, RefType: t})
}

// Code 返回指令序列
func (a *Assembler) Code() []Instr {
	return a.code
}

// Function 用已生成的指令构造函数体
func (a *Assembler) Function(locals ...wasm.Type) *Function {
	return &Function{Locals: locals, Code: a.code}
}
