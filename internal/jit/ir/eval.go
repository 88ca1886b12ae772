package ir

import (
	"fmt"
	"math"
	"math/bits"
)

// ============================================================================
// 运行时值
// ============================================================================

// Bits 解释器中的值：标量放在低 64 位，V128 占满两个字
type Bits [2]uint64

// I32 构造 Int32 值
func I32(v int32) Bits { return Bits{uint64(uint32(v))} }

// I64 构造 Int64 值
func I64(v int64) Bits { return Bits{uint64(v)} }

// F32 构造 Float 值
func F32(v float32) Bits { return Bits{uint64(math.Float32bits(v))} }

// F64 构造 Double 值
func F64(v float64) Bits { return Bits{math.Float64bits(v)} }

// Int32 读取 Int32
func (b Bits) Int32() int32 { return int32(uint32(b[0])) }

// Int64 读取 Int64
func (b Bits) Int64() int64 { return int64(b[0]) }

// Float 读取 Float
func (b Bits) Float() float32 { return math.Float32frombits(uint32(b[0])) }

// Double 读取 Double
func (b Bits) Double() float64 { return math.Float64frombits(b[0]) }

// normalize 把值截断到类型宽度
func normalize(t Type, x uint64) Bits {
	if t == Int32 || t == Float {
		return Bits{uint64(uint32(x))}
	}
	return Bits{x}
}

func boolBits(b bool) Bits {
	if b {
		return Bits{1}
	}
	return Bits{}
}

// ============================================================================
// 标量运算
// ============================================================================

func evalBinary(op Opcode, t Type, a, b Bits) (Bits, error) {
	switch t {
	case Int32:
		return evalInt32(op, uint32(a[0]), uint32(b[0]))
	case Int64:
		return evalInt64(op, a[0], b[0])
	case Float:
		r, err := evalFloat(op, float64(a.Float()), float64(b.Float()))
		return F32(float32(r)), err
	case Double:
		r, err := evalFloat(op, a.Double(), b.Double())
		return F64(r), err
	}
	return Bits{}, fmt.Errorf("ir: %s on %s", op, t)
}

func evalInt32(op Opcode, a, b uint32) (Bits, error) {
	sa, sb := int32(a), int32(b)
	var r uint32
	switch op {
	case Add:
		r = a + b
	case Sub:
		r = a - b
	case Mul:
		r = a * b
	case Div, UDiv, Mod, UMod:
		if b == 0 {
			return Bits{}, fmt.Errorf("ir: %s by zero", op)
		}
		if (op == Div || op == Mod) && sa == math.MinInt32 && sb == -1 {
			return Bits{}, fmt.Errorf("ir: %s overflow", op)
		}
		switch op {
		case Div:
			r = uint32(sa / sb)
		case UDiv:
			r = a / b
		case Mod:
			r = uint32(sa % sb)
		case UMod:
			r = a % b
		}
	case ChillDiv:
		switch {
		case b == 0:
			r = 0
		case sa == math.MinInt32 && sb == -1:
			r = a
		default:
			r = uint32(sa / sb)
		}
	case ChillMod:
		if b == 0 || sb == -1 {
			r = 0
		} else {
			r = uint32(sa % sb)
		}
	case BitAnd:
		r = a & b
	case BitOr:
		r = a | b
	case BitXor:
		r = a ^ b
	case Shl:
		r = a << (b & 31)
	case SShr:
		r = uint32(sa >> (b & 31))
	case ZShr:
		r = a >> (b & 31)
	case RotR:
		r = bits.RotateLeft32(a, -int(b&31))
	case RotL:
		r = bits.RotateLeft32(a, int(b&31))
	default:
		return Bits{}, fmt.Errorf("ir: %s is not an Int32 operation", op)
	}
	return Bits{uint64(r)}, nil
}

func evalInt64(op Opcode, a, b uint64) (Bits, error) {
	sa, sb := int64(a), int64(b)
	var r uint64
	switch op {
	case Add:
		r = a + b
	case Sub:
		r = a - b
	case Mul:
		r = a * b
	case Div, UDiv, Mod, UMod:
		if b == 0 {
			return Bits{}, fmt.Errorf("ir: %s by zero", op)
		}
		if (op == Div || op == Mod) && sa == math.MinInt64 && sb == -1 {
			return Bits{}, fmt.Errorf("ir: %s overflow", op)
		}
		switch op {
		case Div:
			r = uint64(sa / sb)
		case UDiv:
			r = a / b
		case Mod:
			r = uint64(sa % sb)
		case UMod:
			r = a % b
		}
	case ChillDiv:
		switch {
		case b == 0:
			r = 0
		case sa == math.MinInt64 && sb == -1:
			r = a
		default:
			r = uint64(sa / sb)
		}
	case ChillMod:
		if b == 0 || sb == -1 {
			r = 0
		} else {
			r = uint64(sa % sb)
		}
	case BitAnd:
		r = a & b
	case BitOr:
		r = a | b
	case BitXor:
		r = a ^ b
	case Shl:
		r = a << (b & 63)
	case SShr:
		r = uint64(sa >> (b & 63))
	case ZShr:
		r = a >> (b & 63)
	case RotR:
		r = bits.RotateLeft64(a, -int(b&63))
	case RotL:
		r = bits.RotateLeft64(a, int(b&63))
	default:
		return Bits{}, fmt.Errorf("ir: %s is not an Int64 operation", op)
	}
	return Bits{r}, nil
}

func evalFloat(op Opcode, a, b float64) (float64, error) {
	switch op {
	case Add:
		return a + b, nil
	case Sub:
		return a - b, nil
	case Mul:
		return a * b, nil
	case Div:
		return a / b, nil
	case FMin:
		return wasmMin(a, b), nil
	case FMax:
		return wasmMax(a, b), nil
	case CopySign:
		return math.Copysign(a, b), nil
	}
	return 0, fmt.Errorf("ir: %s is not a floating point operation", op)
}

func wasmMin(a, b float64) float64 {
	switch {
	case math.IsNaN(a) || math.IsNaN(b):
		return math.NaN()
	case a == 0 && b == 0:
		if math.Signbit(a) {
			return a
		}
		return b
	}
	return math.Min(a, b)
}

func wasmMax(a, b float64) float64 {
	switch {
	case math.IsNaN(a) || math.IsNaN(b):
		return math.NaN()
	case a == 0 && b == 0:
		if math.Signbit(a) {
			return b
		}
		return a
	}
	return math.Max(a, b)
}

func evalCompare(op Opcode, t Type, a, b Bits) Bits {
	if t.IsFloat() {
		var x, y float64
		if t == Float {
			x, y = float64(a.Float()), float64(b.Float())
		} else {
			x, y = a.Double(), b.Double()
		}
		switch op {
		case Equal:
			return boolBits(x == y)
		case NotEqual:
			return boolBits(x != y)
		case LessThan:
			return boolBits(x < y)
		case GreaterThan:
			return boolBits(x > y)
		case LessEqual:
			return boolBits(x <= y)
		case GreaterEqual:
			return boolBits(x >= y)
		}
		return Bits{}
	}

	ua, ub := a[0], b[0]
	sa, sb := int64(ua), int64(ub)
	if t == Int32 {
		sa, sb = int64(int32(uint32(ua))), int64(int32(uint32(ub)))
		ua, ub = uint64(uint32(ua)), uint64(uint32(ub))
	}
	if t == V128 {
		return boolBits(a == b)
	}
	switch op {
	case Equal:
		return boolBits(ua == ub)
	case NotEqual:
		return boolBits(ua != ub)
	case LessThan:
		return boolBits(sa < sb)
	case GreaterThan:
		return boolBits(sa > sb)
	case LessEqual:
		return boolBits(sa <= sb)
	case GreaterEqual:
		return boolBits(sa >= sb)
	case Above:
		return boolBits(ua > ub)
	case Below:
		return boolBits(ua < ub)
	case AboveEqual:
		return boolBits(ua >= ub)
	case BelowEqual:
		return boolBits(ua <= ub)
	}
	return Bits{}
}

func evalUnary(op Opcode, t Type, child *Value, a Bits) (Bits, error) {
	switch op {
	case Neg:
		switch t {
		case Int32, Int64:
			return normalize(t, -a[0]), nil
		case Float:
			return F32(-a.Float()), nil
		case Double:
			return F64(-a.Double()), nil
		}
	case Clz:
		if t == Int32 {
			return Bits{uint64(bits.LeadingZeros32(uint32(a[0])))}, nil
		}
		return Bits{uint64(bits.LeadingZeros64(a[0]))}, nil
	case Ctz:
		if t == Int32 {
			return Bits{uint64(bits.TrailingZeros32(uint32(a[0])))}, nil
		}
		return Bits{uint64(bits.TrailingZeros64(a[0]))}, nil
	case Popcnt:
		if t == Int32 {
			return Bits{uint64(bits.OnesCount32(uint32(a[0])))}, nil
		}
		return Bits{uint64(bits.OnesCount64(a[0]))}, nil
	case Abs, Ceil, Floor, FTrunc, Nearest, Sqrt:
		f := func(x float64) float64 {
			switch op {
			case Abs:
				return math.Abs(x)
			case Ceil:
				return math.Ceil(x)
			case Floor:
				return math.Floor(x)
			case FTrunc:
				return math.Trunc(x)
			case Nearest:
				return math.RoundToEven(x)
			}
			return math.Sqrt(x)
		}
		if t == Float {
			if op == Sqrt {
				return F32(float32(math.Sqrt(float64(a.Float())))), nil
			}
			return F32(float32(f(float64(a.Float())))), nil
		}
		return F64(f(a.Double())), nil

	case ZExt32:
		return Bits{uint64(uint32(a[0]))}, nil
	case SExt32:
		return Bits{uint64(int64(int32(uint32(a[0]))))}, nil
	case SExt8:
		return Bits{uint64(uint32(int32(int8(a[0]))))}, nil
	case SExt16:
		return Bits{uint64(uint32(int32(int16(a[0]))))}, nil
	case SExt8To64:
		return Bits{uint64(int64(int8(a[0])))}, nil
	case SExt16To64:
		return Bits{uint64(int64(int16(a[0])))}, nil
	case Trunc:
		return Bits{uint64(uint32(a[0]))}, nil

	case IToF, IToD, UIToF, UIToD:
		var x float64
		signed := op == IToF || op == IToD
		switch {
		case child.Type == Int32 && signed:
			x = float64(a.Int32())
		case child.Type == Int32:
			x = float64(uint32(a[0]))
		case signed:
			if op == IToF {
				return F32(float32(a.Int64())), nil
			}
			x = float64(a.Int64())
		default:
			if op == UIToF {
				return F32(float32(a[0])), nil
			}
			x = float64(a[0])
		}
		if op == IToF || op == UIToF {
			return F32(float32(x)), nil
		}
		return F64(x), nil
	case FloatToDouble:
		return F64(float64(a.Float())), nil
	case DoubleToFloat:
		return F32(float32(a.Double())), nil
	case TruncFloat, TruncFloatU:
		x := a.Double()
		if child.Type == Float {
			x = float64(a.Float())
		}
		return truncSaturate(x, t, op == TruncFloat), nil
	case BitwiseCast:
		return normalize(t, a[0]), nil
	}
	return Bits{}, fmt.Errorf("ir: unsupported unary %s on %s", op, t)
}

// truncSaturate 浮点到整数的截断，超出范围时饱和，NaN 为 0
func truncSaturate(x float64, t Type, signed bool) Bits {
	if math.IsNaN(x) {
		return Bits{}
	}
	x = math.Trunc(x)
	switch {
	case t == Int32 && signed:
		if x <= math.MinInt32 {
			return I32(math.MinInt32)
		}
		if x >= math.MaxInt32 {
			return I32(math.MaxInt32)
		}
		return I32(int32(x))
	case t == Int32:
		if x <= 0 {
			return Bits{}
		}
		if x >= math.MaxUint32 {
			return Bits{math.MaxUint32}
		}
		return Bits{uint64(uint32(x))}
	case signed:
		if x <= math.MinInt64 {
			return I64(math.MinInt64)
		}
		if x >= math.MaxInt64 {
			return I64(math.MaxInt64)
		}
		return I64(int64(x))
	default:
		if x <= 0 {
			return Bits{}
		}
		if x >= math.MaxUint64 {
			return Bits{math.MaxUint64}
		}
		return Bits{uint64(x)}
	}
}

// ============================================================================
// 向量运算
// ============================================================================

func lane(v Bits, l Lane, i int) uint64 {
	w := l.Bits()
	bit := i * w
	x := v[bit/64] >> uint(bit%64)
	if w < 64 {
		x &= 1<<uint(w) - 1
	}
	return x
}

func setLane(v Bits, l Lane, i int, x uint64) Bits {
	w := l.Bits()
	bit := i * w
	mask := ^uint64(0)
	if w < 64 {
		mask = 1<<uint(w) - 1
	}
	v[bit/64] &^= mask << uint(bit%64)
	v[bit/64] |= (x & mask) << uint(bit%64)
	return v
}

func laneFloat(l Lane, x uint64) float64 {
	if l == LaneF32 {
		return float64(math.Float32frombits(uint32(x)))
	}
	return math.Float64frombits(x)
}

func floatLane(l Lane, f float64) uint64 {
	if l == LaneF32 {
		return uint64(math.Float32bits(float32(f)))
	}
	return math.Float64bits(f)
}

func evalVector(v *Value, args []Bits) (Bits, error) {
	l := v.Lane
	switch v.Op {
	case VectorSplat:
		var r Bits
		for i := 0; i < l.Count(); i++ {
			r = setLane(r, l, i, args[0][0])
		}
		return r, nil
	case VectorExtractLane:
		x := lane(args[0], l, v.Index)
		switch {
		case v.Imm != 0 && l == LaneI8:
			x = uint64(uint32(int32(int8(x))))
		case v.Imm != 0 && l == LaneI16:
			x = uint64(uint32(int32(int16(x))))
		}
		return Bits{x}, nil
	case VectorReplaceLane:
		return setLane(args[0], l, v.Index, args[1][0]), nil
	case VectorNot:
		return Bits{^args[0][0], ^args[0][1]}, nil
	case VectorAnd:
		return Bits{args[0][0] & args[1][0], args[0][1] & args[1][1]}, nil
	case VectorOr:
		return Bits{args[0][0] | args[1][0], args[0][1] | args[1][1]}, nil
	case VectorXor:
		return Bits{args[0][0] ^ args[1][0], args[0][1] ^ args[1][1]}, nil
	case VectorAndNot:
		return Bits{args[0][0] &^ args[1][0], args[0][1] &^ args[1][1]}, nil
	case VectorAnyTrue:
		return boolBits(args[0][0] != 0 || args[0][1] != 0), nil
	case VectorAllTrue:
		for i := 0; i < l.Count(); i++ {
			if lane(args[0], l, i) == 0 {
				return Bits{}, nil
			}
		}
		return Bits{1}, nil
	case VectorAdd, VectorSub, VectorMul, VectorEqual, VectorAddSat:
		var r Bits
		for i := 0; i < l.Count(); i++ {
			a, b := lane(args[0], l, i), lane(args[1], l, i)
			var x uint64
			if l == LaneF32 || l == LaneF64 {
				fa, fb := laneFloat(l, a), laneFloat(l, b)
				switch v.Op {
				case VectorAdd:
					x = floatLane(l, fa+fb)
				case VectorSub:
					x = floatLane(l, fa-fb)
				case VectorMul:
					x = floatLane(l, fa*fb)
				case VectorEqual:
					if fa == fb {
						x = ^uint64(0)
					}
				}
			} else {
				switch v.Op {
				case VectorAdd:
					x = a + b
				case VectorSub:
					x = a - b
				case VectorMul:
					x = a * b
				case VectorEqual:
					if a == b {
						x = ^uint64(0)
					}
				case VectorAddSat:
					x = a + b
					if limit := uint64(1)<<uint(l.Bits()) - 1; l != LaneI64 && x > limit {
						x = limit
					}
				}
			}
			r = setLane(r, l, i, x)
		}
		return r, nil
	case VectorNeg:
		var r Bits
		for i := 0; i < l.Count(); i++ {
			a := lane(args[0], l, i)
			if l == LaneF32 || l == LaneF64 {
				r = setLane(r, l, i, floatLane(l, -laneFloat(l, a)))
			} else {
				r = setLane(r, l, i, -a)
			}
		}
		return r, nil
	case VectorSwizzle:
		// Imm 非零为 x86 字节洗牌语义：最高位置位的索引得 0，否则取低 4 位；
		// 否则索引 >= 16 的通道为 0
		var r Bits
		for i := 0; i < 16; i++ {
			idx := lane(args[1], LaneI8, i)
			if v.Imm != 0 {
				if idx&0x80 != 0 {
					continue
				}
				idx &= 0x0f
			}
			if idx < 16 {
				r = setLane(r, LaneI8, i, lane(args[0], LaneI8, int(idx)))
			}
		}
		return r, nil
	}
	return Bits{}, fmt.Errorf("ir: unsupported vector operation %s", v.Op)
}
