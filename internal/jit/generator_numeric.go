// generator_numeric.go - 标量算术、比较和类型转换

package jit

import (
	"math"

	"github.com/tangzhangming/novaomg/internal/bytecode"
	cerrors "github.com/tangzhangming/novaomg/internal/errors"
	"github.com/tangzhangming/novaomg/internal/jit/ir"
	"github.com/tangzhangming/novaomg/internal/wasm"
)

// simpleBinary 结果类型与操作数相同的二元运算，以及比较
var simpleBinary = map[bytecode.OpCode]ir.Opcode{
	bytecode.OpI32Add: ir.Add, bytecode.OpI32Sub: ir.Sub, bytecode.OpI32Mul: ir.Mul,
	bytecode.OpI32And: ir.BitAnd, bytecode.OpI32Or: ir.BitOr, bytecode.OpI32Xor: ir.BitXor,
	bytecode.OpI32Shl: ir.Shl, bytecode.OpI32ShrS: ir.SShr, bytecode.OpI32ShrU: ir.ZShr,
	bytecode.OpI32Rotl: ir.RotL, bytecode.OpI32Rotr: ir.RotR,
	bytecode.OpI64Add: ir.Add, bytecode.OpI64Sub: ir.Sub, bytecode.OpI64Mul: ir.Mul,
	bytecode.OpI64And: ir.BitAnd, bytecode.OpI64Or: ir.BitOr, bytecode.OpI64Xor: ir.BitXor,
	bytecode.OpI64Shl: ir.Shl, bytecode.OpI64ShrS: ir.SShr, bytecode.OpI64ShrU: ir.ZShr,
	bytecode.OpI64Rotl: ir.RotL, bytecode.OpI64Rotr: ir.RotR,

	bytecode.OpF32Add: ir.Add, bytecode.OpF32Sub: ir.Sub, bytecode.OpF32Mul: ir.Mul, bytecode.OpF32Div: ir.Div,
	bytecode.OpF32Min: ir.FMin, bytecode.OpF32Max: ir.FMax, bytecode.OpF32Copysign: ir.CopySign,
	bytecode.OpF64Add: ir.Add, bytecode.OpF64Sub: ir.Sub, bytecode.OpF64Mul: ir.Mul, bytecode.OpF64Div: ir.Div,
	bytecode.OpF64Min: ir.FMin, bytecode.OpF64Max: ir.FMax, bytecode.OpF64Copysign: ir.CopySign,

	bytecode.OpI32Eq: ir.Equal, bytecode.OpI32Ne: ir.NotEqual,
	bytecode.OpI32LtS: ir.LessThan, bytecode.OpI32LtU: ir.Below,
	bytecode.OpI32GtS: ir.GreaterThan, bytecode.OpI32GtU: ir.Above,
	bytecode.OpI32LeS: ir.LessEqual, bytecode.OpI32LeU: ir.BelowEqual,
	bytecode.OpI32GeS: ir.GreaterEqual, bytecode.OpI32GeU: ir.AboveEqual,
	bytecode.OpI64Eq: ir.Equal, bytecode.OpI64Ne: ir.NotEqual,
	bytecode.OpI64LtS: ir.LessThan, bytecode.OpI64LtU: ir.Below,
	bytecode.OpI64GtS: ir.GreaterThan, bytecode.OpI64GtU: ir.Above,
	bytecode.OpI64LeS: ir.LessEqual, bytecode.OpI64LeU: ir.BelowEqual,
	bytecode.OpI64GeS: ir.GreaterEqual, bytecode.OpI64GeU: ir.AboveEqual,
	bytecode.OpF32Eq: ir.Equal, bytecode.OpF32Ne: ir.NotEqual, bytecode.OpF32Lt: ir.LessThan,
	bytecode.OpF32Gt: ir.GreaterThan, bytecode.OpF32Le: ir.LessEqual, bytecode.OpF32Ge: ir.GreaterEqual,
	bytecode.OpF64Eq: ir.Equal, bytecode.OpF64Ne: ir.NotEqual, bytecode.OpF64Lt: ir.LessThan,
	bytecode.OpF64Gt: ir.GreaterThan, bytecode.OpF64Le: ir.LessEqual, bytecode.OpF64Ge: ir.GreaterEqual,
}

// simpleUnary 一元运算和不需要检查的转换
var simpleUnary = map[bytecode.OpCode]ir.Opcode{
	bytecode.OpI32Clz: ir.Clz, bytecode.OpI32Ctz: ir.Ctz, bytecode.OpI32Popcnt: ir.Popcnt,
	bytecode.OpI64Clz: ir.Clz, bytecode.OpI64Ctz: ir.Ctz, bytecode.OpI64Popcnt: ir.Popcnt,

	bytecode.OpF32Abs: ir.Abs, bytecode.OpF32Neg: ir.Neg, bytecode.OpF32Ceil: ir.Ceil, bytecode.OpF32Floor: ir.Floor,
	bytecode.OpF32Trunc: ir.FTrunc, bytecode.OpF32Nearest: ir.Nearest, bytecode.OpF32Sqrt: ir.Sqrt,
	bytecode.OpF64Abs: ir.Abs, bytecode.OpF64Neg: ir.Neg, bytecode.OpF64Ceil: ir.Ceil, bytecode.OpF64Floor: ir.Floor,
	bytecode.OpF64Trunc: ir.FTrunc, bytecode.OpF64Nearest: ir.Nearest, bytecode.OpF64Sqrt: ir.Sqrt,

	bytecode.OpI32WrapI64:     ir.Trunc,
	bytecode.OpI64ExtendI32S:  ir.SExt32,
	bytecode.OpI64ExtendI32U:  ir.ZExt32,
	bytecode.OpI32Extend8S:    ir.SExt8,
	bytecode.OpI32Extend16S:   ir.SExt16,
	bytecode.OpI64Extend8S:    ir.SExt8To64,
	bytecode.OpI64Extend16S:   ir.SExt16To64,
	bytecode.OpF32ConvertI32S: ir.IToF, bytecode.OpF32ConvertI32U: ir.UIToF,
	bytecode.OpF32ConvertI64S: ir.IToF, bytecode.OpF32ConvertI64U: ir.UIToF,
	bytecode.OpF64ConvertI32S: ir.IToD, bytecode.OpF64ConvertI32U: ir.UIToD,
	bytecode.OpF64ConvertI64S: ir.IToD, bytecode.OpF64ConvertI64U: ir.UIToD,
	bytecode.OpF32DemoteF64:   ir.DoubleToFloat,
	bytecode.OpF64PromoteF32:  ir.FloatToDouble,

	bytecode.OpI32ReinterpretF32: ir.BitwiseCast, bytecode.OpI64ReinterpretF64: ir.BitwiseCast,
	bytecode.OpF32ReinterpretI32: ir.BitwiseCast, bytecode.OpF64ReinterpretI64: ir.BitwiseCast,
}

func resultType(op bytecode.OpCode) ir.Type {
	return irType(wasm.Type{Kind: op.Info().Out})
}

// floatConstant 按类型编码的浮点常量
func (g *OMGIRGenerator) floatConstant(t ir.Type, f float64) *ir.Value {
	if t == ir.Float {
		return g.constant(ir.Float, uint64(math.Float32bits(float32(f))))
	}
	return g.constant(ir.Double, math.Float64bits(f))
}

// AddBinary 二元运算
func (g *OMGIRGenerator) AddBinary(op bytecode.OpCode, lhs, rhs *ir.Variable) (*ir.Variable, error) {
	a, b := g.get(lhs), g.get(rhs)
	if op.IsSIMD() {
		return g.addSIMDBinary(op, a, b)
	}
	if irOp, ok := simpleBinary[op]; ok {
		return g.push(g.emit(irOp, resultType(op), a, b))
	}

	switch op {
	case bytecode.OpI32DivS, bytecode.OpI64DivS:
		return g.push(g.emitCheckedSignedDiv(a, b))
	case bytecode.OpI32RemS, bytecode.OpI64RemS:
		g.emitDivisionByZeroCheck(b)
		return g.push(g.emit(ir.ChillMod, a.Type, a, b))
	case bytecode.OpI32DivU, bytecode.OpI64DivU:
		g.emitDivisionByZeroCheck(b)
		return g.push(g.emit(ir.UDiv, a.Type, a, b))
	case bytecode.OpI32RemU, bytecode.OpI64RemU:
		g.emitDivisionByZeroCheck(b)
		return g.push(g.emit(ir.UMod, a.Type, a, b))
	}
	return nil, cerrors.New(cerrors.E0002, "unsupported binary operator %s", op)
}

func (g *OMGIRGenerator) emitDivisionByZeroCheck(divisor *ir.Value) {
	zero := g.constant(divisor.Type, 0)
	g.currentBlock.AppendCheck(wasm.ExceptionDivisionByZero, g.emit(ir.Equal, ir.Int32, divisor, zero))
}

// emitCheckedSignedDiv 有符号除法：除零和 MIN / -1 都陷入
func (g *OMGIRGenerator) emitCheckedSignedDiv(a, b *ir.Value) *ir.Value {
	g.emitDivisionByZeroCheck(b)
	minValue := g.constant(a.Type, 1<<63)
	if a.Type == ir.Int32 {
		minValue = g.const32(math.MinInt32)
	}
	overflow := g.emit(ir.BitAnd, ir.Int32,
		g.emit(ir.Equal, ir.Int32, a, minValue),
		g.emit(ir.Equal, ir.Int32, b, g.constant(b.Type, math.MaxUint64)))
	g.currentBlock.AppendCheck(wasm.ExceptionIntegerOverflow, overflow)
	return g.emit(ir.Div, a.Type, a, b)
}

// AddUnary 一元运算
func (g *OMGIRGenerator) AddUnary(op bytecode.OpCode, value *ir.Variable) (*ir.Variable, error) {
	x := g.get(value)
	if op.IsSIMD() {
		return g.addSIMDUnary(op, x)
	}
	if irOp, ok := simpleUnary[op]; ok {
		return g.push(g.emit(irOp, resultType(op), x))
	}

	switch op {
	case bytecode.OpI32Eqz, bytecode.OpI64Eqz:
		return g.push(g.emit(ir.Equal, ir.Int32, x, g.constant(x.Type, 0)))
	case bytecode.OpI64Extend32S:
		return g.push(g.emit(ir.SExt32, ir.Int64, g.emit(ir.Trunc, ir.Int32, x)))
	}
	if r, ok := truncations[op]; ok {
		if r.saturating {
			return g.push(g.emitTruncSaturate(x, r))
		}
		return g.push(g.emitTruncChecked(x, r))
	}
	return nil, cerrors.New(cerrors.E0002, "unsupported unary operator %s", op)
}

// ============================================================================
// 浮点到整数的截断
// ============================================================================

// truncRange 截断的合法输入区间。lowerInclusive 为真时下界可取等号。
type truncRange struct {
	result         ir.Type
	signed         bool
	saturating     bool
	lower, upper   float64
	lowerInclusive bool
}

var truncations = func() map[bytecode.OpCode]truncRange {
	const (
		two31 = float64(1 << 31)
		two32 = float64(1 << 32)
		two63 = float64(1 << 63)
		two64 = two63 * 2
	)
	i32sF32 := truncRange{result: ir.Int32, signed: true, lower: -two31, upper: two31, lowerInclusive: true}
	i32sF64 := truncRange{result: ir.Int32, signed: true, lower: -two31 - 1, upper: two31}
	i32u := truncRange{result: ir.Int32, lower: -1, upper: two32}
	i64s := truncRange{result: ir.Int64, signed: true, lower: -two63, upper: two63, lowerInclusive: true}
	i64u := truncRange{result: ir.Int64, lower: -1, upper: two64}
	sat := func(r truncRange) truncRange { r.saturating = true; return r }

	return map[bytecode.OpCode]truncRange{
		bytecode.OpI32TruncF32S: i32sF32, bytecode.OpI32TruncF64S: i32sF64,
		bytecode.OpI32TruncF32U: i32u, bytecode.OpI32TruncF64U: i32u,
		bytecode.OpI64TruncF32S: i64s, bytecode.OpI64TruncF64S: i64s,
		bytecode.OpI64TruncF32U: i64u, bytecode.OpI64TruncF64U: i64u,

		bytecode.OpI32TruncSatF32S: sat(i32sF32), bytecode.OpI32TruncSatF64S: sat(i32sF64),
		bytecode.OpI32TruncSatF32U: sat(i32u), bytecode.OpI32TruncSatF64U: sat(i32u),
		bytecode.OpI64TruncSatF32S: sat(i64s), bytecode.OpI64TruncSatF64S: sat(i64s),
		bytecode.OpI64TruncSatF32U: sat(i64u), bytecode.OpI64TruncSatF64U: sat(i64u),
	}
}()

func (g *OMGIRGenerator) aboveLower(x *ir.Value, r truncRange) *ir.Value {
	op := ir.GreaterThan
	if r.lowerInclusive {
		op = ir.GreaterEqual
	}
	return g.emit(op, ir.Int32, x, g.floatConstant(x.Type, r.lower))
}

func (g *OMGIRGenerator) truncOp(r truncRange) ir.Opcode {
	if r.signed {
		return ir.TruncFloat
	}
	return ir.TruncFloatU
}

// emitTruncChecked 超出范围或 NaN 时陷入
func (g *OMGIRGenerator) emitTruncChecked(x *ir.Value, r truncRange) *ir.Value {
	below := g.emit(ir.LessThan, ir.Int32, x, g.floatConstant(x.Type, r.upper))
	inRange := g.emit(ir.BitAnd, ir.Int32, g.aboveLower(x, r), below)
	g.currentBlock.AppendCheck(wasm.ExceptionOutOfBoundsTrunc, g.emit(ir.Equal, ir.Int32, inRange, g.const32(0)))
	return g.emit(g.truncOp(r), r.result, x)
}

// emitTruncSaturate 超出范围时取边界值，NaN 为 0
func (g *OMGIRGenerator) emitTruncSaturate(x *ir.Value, r truncRange) *ir.Value {
	t := g.emit(g.truncOp(r), r.result, x)
	var maxBits, minBits uint64
	switch {
	case r.result == ir.Int32 && r.signed:
		maxBits, minBits = math.MaxInt32, 1 << 31
	case r.result == ir.Int32:
		maxBits = math.MaxUint32
	case r.signed:
		maxBits, minBits = math.MaxInt64, 1<<63
	default:
		maxBits = math.MaxUint64
	}
	zero := g.constant(r.result, 0)

	below := g.emit(ir.LessThan, ir.Int32, x, g.floatConstant(x.Type, r.upper))
	v := g.emit(ir.Select, r.result, below, t, g.constant(r.result, maxBits))
	if !r.signed {
		return g.emit(ir.Select, r.result, g.aboveLower(x, r), v, zero)
	}
	v = g.emit(ir.Select, r.result, g.aboveLower(x, r), v, g.constant(r.result, minBits))
	notNaN := g.emit(ir.Equal, ir.Int32, x, x)
	return g.emit(ir.Select, r.result, notNaN, v, zero)
}
