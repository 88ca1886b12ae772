// generator_simd.go - 128 位向量指令

package jit

import (
	"runtime"
	"strings"

	"golang.org/x/sys/cpu"

	"github.com/tangzhangming/novaomg/internal/bytecode"
	cerrors "github.com/tangzhangming/novaomg/internal/errors"
	"github.com/tangzhangming/novaomg/internal/jit/ir"
	"github.com/tangzhangming/novaomg/internal/wasm"
)

// simdSupported 目标架构是否能执行向量指令。本机架构按 CPU 特性判断。
func simdSupported(arch string) bool {
	if arch == runtime.GOARCH {
		switch arch {
		case "amd64", "386":
			return cpu.X86.HasSSE41
		case "arm64":
			return cpu.ARM64.HasASIMD
		}
		return false
	}
	switch arch {
	case "amd64", "arm64":
		return true
	}
	return false
}

// needsSwizzleFixup x86 的字节洗牌只看索引最高位，越界索引需要先饱和到最高位置位
func needsSwizzleFixup(arch string) bool {
	return arch == "amd64" || arch == "386"
}

// functionUsesSIMD 签名、局部变量或指令中是否出现 v128
func functionUsesSIMD(fn *bytecode.Function, sig *wasm.FunctionSignature) bool {
	if sig.UsesV128() {
		return true
	}
	for _, t := range fn.Locals {
		if t.Kind == wasm.KindV128 {
			return true
		}
	}
	for i := range fn.Code {
		in := &fn.Code[i]
		if in.Op.IsSIMD() {
			return true
		}
		for _, t := range in.Block.Params {
			if t.Kind == wasm.KindV128 {
				return true
			}
		}
		for _, t := range in.Block.Results {
			if t.Kind == wasm.KindV128 {
				return true
			}
		}
	}
	return false
}

// laneOf 指令名前缀对应的通道类型
func laneOf(op bytecode.OpCode) ir.Lane {
	name := op.Info().Name
	switch {
	case strings.HasPrefix(name, "i8x16"):
		return ir.LaneI8
	case strings.HasPrefix(name, "i16x8"):
		return ir.LaneI16
	case strings.HasPrefix(name, "i32x4"):
		return ir.LaneI32
	case strings.HasPrefix(name, "i64x2"):
		return ir.LaneI64
	case strings.HasPrefix(name, "f32x4"):
		return ir.LaneF32
	case strings.HasPrefix(name, "f64x2"):
		return ir.LaneF64
	}
	return ir.LaneI8
}

func (g *OMGIRGenerator) splat(lane ir.Lane, scalar *ir.Value) *ir.Value {
	v := g.emit(ir.VectorSplat, ir.V128, scalar)
	v.Lane = lane
	return v
}

// AddV128Constant v128.const
func (g *OMGIRGenerator) AddV128Constant(bits [2]uint64) (*ir.Variable, error) {
	return g.push(g.vectorConstant(bits[0], bits[1]))
}

// AddExtractLane 取通道；有符号的窄通道设置 Imm
func (g *OMGIRGenerator) AddExtractLane(op bytecode.OpCode, lane uint8, vector *ir.Variable) (*ir.Variable, error) {
	l := laneOf(op)
	v := g.emit(ir.VectorExtractLane, l.ScalarType(), g.get(vector))
	v.Lane = l
	v.Index = int(lane)
	if op == bytecode.OpI8x16ExtractLaneS || op == bytecode.OpI16x8ExtractLaneS {
		v.Imm = 1
	}
	return g.push(v)
}

// AddReplaceLane 替换通道
func (g *OMGIRGenerator) AddReplaceLane(op bytecode.OpCode, lane uint8, vector, scalar *ir.Variable) (*ir.Variable, error) {
	vec, s := g.get(vector), g.get(scalar)
	v := g.emit(ir.VectorReplaceLane, ir.V128, vec, s)
	v.Lane = laneOf(op)
	v.Index = int(lane)
	return g.push(v)
}

func (g *OMGIRGenerator) addSIMDUnary(op bytecode.OpCode, x *ir.Value) (*ir.Variable, error) {
	switch op {
	case bytecode.OpI8x16Splat, bytecode.OpI16x8Splat, bytecode.OpI32x4Splat,
		bytecode.OpI64x2Splat, bytecode.OpF32x4Splat, bytecode.OpF64x2Splat:
		return g.push(g.splat(laneOf(op), x))
	case bytecode.OpV128Not:
		return g.push(g.emit(ir.VectorNot, ir.V128, x))
	case bytecode.OpV128AnyTrue:
		return g.push(g.emit(ir.VectorAnyTrue, ir.Int32, x))
	case bytecode.OpI8x16Neg, bytecode.OpI16x8Neg, bytecode.OpI32x4Neg,
		bytecode.OpI64x2Neg, bytecode.OpF32x4Neg, bytecode.OpF64x2Neg:
		v := g.emit(ir.VectorNeg, ir.V128, x)
		v.Lane = laneOf(op)
		return g.push(v)
	}
	return nil, cerrors.New(cerrors.E0002, "unsupported vector operator %s", op)
}

func (g *OMGIRGenerator) addSIMDBinary(op bytecode.OpCode, a, b *ir.Value) (*ir.Variable, error) {
	switch op {
	case bytecode.OpV128And:
		return g.push(g.emit(ir.VectorAnd, ir.V128, a, b))
	case bytecode.OpV128Or:
		return g.push(g.emit(ir.VectorOr, ir.V128, a, b))
	case bytecode.OpV128Xor:
		return g.push(g.emit(ir.VectorXor, ir.V128, a, b))
	case bytecode.OpV128AndNot:
		return g.push(g.emit(ir.VectorAndNot, ir.V128, a, b))
	case bytecode.OpI8x16Swizzle:
		return g.push(g.emitSwizzle(a, b))
	}

	name := op.Info().Name
	var irOp ir.Opcode
	switch {
	case strings.HasSuffix(name, ".add"):
		irOp = ir.VectorAdd
	case strings.HasSuffix(name, ".sub"):
		irOp = ir.VectorSub
	case strings.HasSuffix(name, ".mul"):
		irOp = ir.VectorMul
	case strings.HasSuffix(name, ".eq"):
		irOp = ir.VectorEqual
	default:
		return nil, cerrors.New(cerrors.E0002, "unsupported vector operator %s", op)
	}
	v := g.emit(irOp, ir.V128, a, b)
	v.Lane = laneOf(op)
	return g.push(v)
}

// emitSwizzle i8x16.swizzle；x86 上把 >= 16 的索引饱和到最高位置位
func (g *OMGIRGenerator) emitSwizzle(vector, indices *ir.Value) *ir.Value {
	if g.root.swizzleFixup {
		bias := g.splat(ir.LaneI8, g.const32(0x70))
		fixed := g.emit(ir.VectorAddSat, ir.V128, indices, bias)
		fixed.Lane = ir.LaneI8
		v := g.emit(ir.VectorSwizzle, ir.V128, vector, fixed)
		v.Imm = 1
		return v
	}
	return g.emit(ir.VectorSwizzle, ir.V128, vector, indices)
}
