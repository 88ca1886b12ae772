// calling_convention.go - wasm 到 wasm 的调用约定
//
// 整数和引用参数依次使用通用寄存器，浮点和向量参数依次使用浮点寄存器，
// 用完之后放到栈上。栈参数紧跟在被调者的帧头之后，偏移相对被调者的 FP：
//
//	FP+0   调用者的 FP
//	FP+8   返回地址
//	FP+16  callee
//	FP+24  调用点索引
//	FP+32  第一个栈参数
//
// 调用者在自己帧底部预留出参区，被调者的 FP 就是调用者的 SP，
// 所以同一个偏移对调用者表示 SP+offset，对被调者表示 FP+offset。
// 返回值使用同样的规则，超出寄存器的结果写回同一块区域。

package jit

import (
	"github.com/tangzhangming/novaomg/internal/jit/ir"
	"github.com/tangzhangming/novaomg/internal/wasm"
)

// LocationKind 参数位置种类
type LocationKind uint8

const (
	LocationGPR LocationKind = iota
	LocationFPR
	LocationStack
)

// ArgLocation 单个参数或结果的位置
type ArgLocation struct {
	Kind   LocationKind
	Reg    ir.Reg
	Offset int32 // 栈位置相对被调者 FP 的偏移
	Type   ir.Type
}

// IsStack 是否在栈上
func (l ArgLocation) IsStack() bool { return l.Kind == LocationStack }

// CallerRep 调用者一侧的操作数约束
func (l ArgLocation) CallerRep() ir.ValueRep {
	if l.IsStack() {
		return ir.StackArgumentRep(l.Offset)
	}
	return ir.RegisterRep(l.Reg)
}

// CalleeRep 被调者一侧（返回值）的操作数约束
func (l ArgLocation) CalleeRep() ir.ValueRep {
	if l.IsStack() {
		return ir.StackRep(l.Offset)
	}
	return ir.RegisterRep(l.Reg)
}

// CallInformation 某个签名的参数和结果布局
type CallInformation struct {
	Params  []ArgLocation
	Results []ArgLocation

	// HeaderAndArgumentStackSize 帧头加上栈参数（或栈结果，取较大者）的字节数，未对齐
	HeaderAndArgumentStackSize uint32
}

// ArgumentStackSize 栈参数区字节数
func (ci *CallInformation) ArgumentStackSize() uint32 {
	return ci.HeaderAndArgumentStackSize - wasm.CallFrameHeaderSize
}

// StackArgumentCount 栈上的参数个数
func (ci *CallInformation) StackArgumentCount() int {
	n := 0
	for _, p := range ci.Params {
		if p.IsStack() {
			n++
		}
	}
	return n
}

// CallingConvention 寄存器分配表
type CallingConvention struct {
	GPRArgs []ir.Reg
	FPRArgs []ir.Reg
}

// WasmCallingConvention 默认的 wasm 调用约定：6 个通用寄存器，8 个浮点寄存器
var WasmCallingConvention = CallingConvention{
	GPRArgs: []ir.Reg{ir.GPR0, ir.GPR0 + 1, ir.GPR0 + 2, ir.GPR0 + 3, ir.GPR0 + 4, ir.GPR0 + 5},
	FPRArgs: []ir.Reg{ir.FPR0, ir.FPR0 + 1, ir.FPR0 + 2, ir.FPR0 + 3, ir.FPR0 + 4, ir.FPR0 + 5, ir.FPR0 + 6, ir.FPR0 + 7},
}

// 入口块约定使用的参数寄存器
const (
	argumentGPR0 = ir.GPR0
	argumentGPR1 = ir.GPR0 + 1
	argumentGPR2 = ir.GPR0 + 2
	argumentGPR3 = ir.GPR0 + 3
)

// CallInformationFor 计算签名的布局
func (cc CallingConvention) CallInformationFor(sig *wasm.FunctionSignature) CallInformation {
	var ci CallInformation
	var argBytes, resultBytes uint32
	ci.Params, argBytes = cc.assign(sig.Params)
	ci.Results, resultBytes = cc.assign(sig.Results)
	ci.HeaderAndArgumentStackSize = wasm.CallFrameHeaderSize + max(argBytes, resultBytes)
	return ci
}

func (cc CallingConvention) assign(types []wasm.Type) ([]ArgLocation, uint32) {
	locs := make([]ArgLocation, len(types))
	gpr, fpr := 0, 0
	var stack uint32
	for i, t := range types {
		it := irType(t)
		switch {
		case (it == ir.Int32 || it == ir.Int64) && gpr < len(cc.GPRArgs):
			locs[i] = ArgLocation{Kind: LocationGPR, Reg: cc.GPRArgs[gpr], Type: it}
			gpr++
		case it != ir.Int32 && it != ir.Int64 && fpr < len(cc.FPRArgs):
			locs[i] = ArgLocation{Kind: LocationFPR, Reg: cc.FPRArgs[fpr], Type: it}
			fpr++
		default:
			size := uint32(8)
			if it == ir.V128 {
				size = 16
				stack = (stack + 15) &^ 15
			}
			locs[i] = ArgLocation{Kind: LocationStack, Offset: int32(wasm.CallFrameHeaderSize + stack), Type: it}
			stack += size
		}
	}
	return locs, stack
}

// irType wasm 值类型在 IR 中的表示；引用是 64 位指针
func irType(t wasm.Type) ir.Type {
	switch t.Kind {
	case wasm.KindI32:
		return ir.Int32
	case wasm.KindI64, wasm.KindRef:
		return ir.Int64
	case wasm.KindF32:
		return ir.Float
	case wasm.KindF64:
		return ir.Double
	case wasm.KindV128:
		return ir.V128
	}
	return ir.Void
}
