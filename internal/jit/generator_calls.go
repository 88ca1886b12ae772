// generator_calls.go - 调用与尾调用
//
// 直接调用的目标在编译时还不知道地址，patchpoint 只记录函数索引，
// 编译结束后作为未链接调用交给 CalleeGroup。导入函数、call_indirect 和
// call_ref 通过代码指针调用，被调者可能属于别的实例，调用之后恢复本实例的
// 固定寄存器。

package jit

import (
	"go.uber.org/zap"

	"github.com/tangzhangming/novaomg/internal/jit/ir"
	"github.com/tangzhangming/novaomg/internal/wasm"
)

// UnlinkedCall 等待链接的直接调用
type UnlinkedCall struct {
	CallSiteIndex uint32 `json:"callSiteIndex"`
	FunctionIndex uint32 `json:"functionIndex"`
	TailCall      bool   `json:"tailCall"`
}

// AddCall call / return_call
func (g *OMGIRGenerator) AddCall(funcIndex uint32, sig *wasm.FunctionSignature, args []*ir.Variable, tail bool) ([]*ir.Variable, error) {
	vals := g.getArgs(args)
	if tail && g.isInlined() {
		return nil, g.emitCallThenReturn(func() ([]*ir.Variable, error) {
			return g.emitCall(funcIndex, sig, vals)
		})
	}
	if tail {
		g.emitDirectTailCall(funcIndex, sig, vals)
		return nil, nil
	}
	return g.emitCall(funcIndex, sig, vals)
}

func (g *OMGIRGenerator) emitCall(funcIndex uint32, sig *wasm.FunctionSignature, args []*ir.Value) ([]*ir.Variable, error) {
	if g.info.IsImportedFunction(funcIndex) {
		return g.emitImportCall(funcIndex, sig, args)
	}
	candidate, reason := g.inlineDecision(funcIndex)
	if reason == inlineAccepted {
		return g.emitInlinedCall(funcIndex, candidate, sig, args)
	}
	g.log.Debug("not inlining", zap.Uint32("caller", g.functionIndex),
		zap.Uint32("callee", funcIndex), zap.Stringer("reason", reason))

	inst := g.instanceValue()
	p := &ir.Patchpoint{Kind: ir.PatchCall, FunctionIndex: funcIndex}
	call := g.emitCallPatchpoint(p, nil, nil, args, sig)
	g.root.unlinkedCalls = append(g.root.unlinkedCalls, UnlinkedCall{CallSiteIndex: p.CallSiteIndex, FunctionIndex: funcIndex})
	if g.info.CallCanClobberInstance(funcIndex) {
		g.restorePinnedState(inst)
	}
	return g.pushCallResults(call, sig)
}

// emitCallThenReturn 内联展开中的尾调用按普通调用加返回处理
func (g *OMGIRGenerator) emitCallThenReturn(call func() ([]*ir.Variable, error)) error {
	results, err := call()
	if err != nil {
		return err
	}
	g.emitReturn(g.getArgs(results))
	for range results {
		g.stackSize--
	}
	return nil
}

// emitImportCall 经导入调用桩调用，桩负责切换到目标实例
func (g *OMGIRGenerator) emitImportCall(funcIndex uint32, sig *wasm.FunctionSignature, args []*ir.Value) ([]*ir.Variable, error) {
	inst := g.instanceValue()
	stub := g.load(ir.Load, ir.Int64, inst, g.layout.ImportStubOffset(funcIndex))
	boxed := g.load(ir.Load, ir.Int64, inst, g.layout.ImportFunctionInfoOffset(funcIndex)+wasm.ImportOffsetBoxedCallee)
	p := &ir.Patchpoint{Kind: ir.PatchCallIndirect, FunctionIndex: funcIndex}
	call := g.emitCallPatchpoint(p, []*ir.Value{stub, boxed}, []ir.ValueRep{ir.SomeRegister(), ir.SomeRegister()}, args, sig)
	g.restorePinnedState(inst)
	return g.pushCallResults(call, sig)
}

// emitCallPatchpoint 生成非终结的调用 patchpoint。leading 是代码指针等
// 额外操作数，其后是按调用约定放置的实参，最后是异常恢复用的栈映射。
func (g *OMGIRGenerator) emitCallPatchpoint(p *ir.Patchpoint, leading []*ir.Value, leadingReps []ir.ValueRep,
	args []*ir.Value, sig *wasm.FunctionSignature) *ir.Value {
	ci := WasmCallingConvention.CallInformationFor(sig)
	g.proc.RequestCallArgAreaSize(wasm.RoundUpToStackAlignment(ci.HeaderAndArgumentStackSize))

	p.Reps = append([]ir.ValueRep(nil), leadingReps...)
	for i := range args {
		p.Reps = append(p.Reps, ci.Params[i].CallerRep())
	}
	for _, r := range ci.Results {
		p.ResultReps = append(p.ResultReps, r.CallerRep())
	}
	live := g.preparePatchpointForExceptions(p)
	g.root.makesCalls = true

	children := make([]*ir.Value, 0, len(leading)+len(args)+len(live))
	children = append(children, leading...)
	children = append(children, args...)
	children = append(children, live...)

	t := ir.Void
	switch len(sig.Results) {
	case 0:
	case 1:
		t = irType(sig.Results[0])
	default:
		t = ir.Tuple
	}
	call := g.currentBlock.AppendPatchpoint(t, p, children...)
	if t == ir.Tuple {
		call.TupleTypes = make([]ir.Type, len(sig.Results))
		for i, r := range sig.Results {
			call.TupleTypes[i] = irType(r)
		}
	}
	return call
}

// pushCallResults 把调用结果压栈；多返回值逐个取出元组分量
func (g *OMGIRGenerator) pushCallResults(call *ir.Value, sig *wasm.FunctionSignature) ([]*ir.Variable, error) {
	switch len(sig.Results) {
	case 0:
		return nil, nil
	case 1:
		v, err := g.push(call)
		if err != nil {
			return nil, err
		}
		return []*ir.Variable{v}, nil
	}
	results := make([]*ir.Variable, len(sig.Results))
	for i, t := range call.TupleTypes {
		v, err := g.push(g.currentBlock.AppendExtract(call, i, t))
		if err != nil {
			return nil, err
		}
		results[i] = v
	}
	return results, nil
}

// ============================================================================
// 间接调用
// ============================================================================

// AddCallIndirect call_indirect / return_call_indirect
func (g *OMGIRGenerator) AddCallIndirect(table, typeIndex uint32, calleeIndex *ir.Variable, args []*ir.Variable, tail bool) ([]*ir.Variable, error) {
	idx := g.get(calleeIndex)
	vals := g.getArgs(args)
	sig := g.info.TypeSignature(typeIndex)

	tbl := g.tableObject(table)
	length := g.load(ir.Load, ir.Int32, tbl, wasm.TableOffsetLength)
	g.currentBlock.AppendCheck(wasm.ExceptionOutOfBoundsCallIndirect, g.emit(ir.AboveEqual, ir.Int32, idx, length))
	elems := g.load(ir.Load, ir.Int64, tbl, wasm.TableOffsetElements)
	entry := g.emit(ir.Add, ir.Int64, elems,
		g.emit(ir.Mul, ir.Int64, g.emit(ir.ZExt32, ir.Int64, idx), g.const64(wasm.FunctionEntrySize)))

	entrySig := g.load(ir.Load, ir.Int64, entry, wasm.FunctionEntryOffsetSignature)
	expected := g.constU64(uint64(g.info.CanonicalType(typeIndex)))
	ok, mismatch := g.proc.AddBlock(), g.proc.AddBlock()
	g.currentBlock.AppendBranch(g.emit(ir.Equal, ir.Int32, entrySig, expected),
		ir.FrequentedBlock{Block: ok}, ir.FrequentedBlock{Block: mismatch, Frequency: ir.FrequencyRare})

	// 签名不同：空表项，或者子类型
	g.currentBlock = mismatch
	g.currentBlock.AppendCheck(wasm.ExceptionNullTableEntry, g.emit(ir.Equal, ir.Int32, entrySig, g.const64(0)))
	if g.info.IsFinalType(typeIndex) {
		g.emitTrap(wasm.ExceptionBadSignature)
	} else {
		rtt := g.load(ir.Load, ir.Int64, entry, wasm.FunctionEntryOffsetRTT)
		sub := g.currentBlock.AppendCCall(ir.Int32, ir.OpIsSubRTT, rtt, g.targetRTT(typeIndex))
		g.currentBlock.AppendCheck(wasm.ExceptionBadSignature, g.emit(ir.Equal, ir.Int32, sub, g.const32(0)))
		g.currentBlock.AppendJump(ok)
	}

	g.currentBlock = ok
	code := g.load(ir.Load, ir.Int64, entry, wasm.FunctionEntryOffsetEntrypoint)
	boxed := g.load(ir.Load, ir.Int64, entry, wasm.FunctionEntryOffsetBoxedCallee)
	calleeInstance := g.load(ir.Load, ir.Int64, entry, wasm.FunctionEntryOffsetInstance)
	return g.emitIndirectCall(code, boxed, calleeInstance, vals, sig, tail)
}

// AddCallRef call_ref / return_call_ref
func (g *OMGIRGenerator) AddCallRef(typeIndex uint32, callee *ir.Variable, args []*ir.Variable, tail bool) ([]*ir.Variable, error) {
	ref := g.get(callee)
	vals := g.getArgs(args)
	sig := g.info.TypeSignature(typeIndex)
	g.currentBlock.AppendCheck(wasm.ExceptionNullReference, g.isNull(ref))
	code := g.load(ir.Load, ir.Int64, ref, wasm.FunctionObjectOffsetEntrypoint)
	boxed := g.load(ir.Load, ir.Int64, ref, wasm.FunctionObjectOffsetBoxedCallee)
	calleeInstance := g.load(ir.Load, ir.Int64, ref, wasm.FunctionObjectOffsetInstance)
	return g.emitIndirectCall(code, boxed, calleeInstance, vals, sig, tail)
}

// emitIndirectCall 目标实例不同时先切换上下文，再经代码指针调用
func (g *OMGIRGenerator) emitIndirectCall(code, boxed, calleeInstance *ir.Value, args []*ir.Value,
	sig *wasm.FunctionSignature, tail bool) ([]*ir.Variable, error) {
	inst := g.instanceValue()
	switchBlock, cont := g.proc.AddBlock(), g.proc.AddBlock()
	g.currentBlock.AppendBranch(g.emit(ir.NotEqual, ir.Int32, calleeInstance, inst),
		ir.FrequentedBlock{Block: switchBlock, Frequency: ir.FrequencyRare}, ir.FrequentedBlock{Block: cont})

	g.currentBlock = switchBlock
	g.currentBlock.AppendPatchpoint(ir.Void,
		&ir.Patchpoint{Kind: ir.PatchContextSwitch, Reps: []ir.ValueRep{ir.SomeRegister()}}, calleeInstance)
	g.restorePinnedState(calleeInstance)
	g.currentBlock.AppendJump(cont)
	g.currentBlock = cont

	leading := []*ir.Value{code, boxed}
	leadingReps := []ir.ValueRep{ir.SomeRegister(), ir.SomeRegister()}
	if tail && g.isInlined() {
		return nil, g.emitCallThenReturn(func() ([]*ir.Variable, error) {
			call := g.emitCallPatchpoint(&ir.Patchpoint{Kind: ir.PatchCallIndirect}, leading, leadingReps, args, sig)
			g.restorePinnedState(inst)
			return g.pushCallResults(call, sig)
		})
	}
	if tail {
		g.emitTailCallPatchpoint(&ir.Patchpoint{Kind: ir.PatchTailCallIndirect}, leading, leadingReps, args, sig)
		return nil, nil
	}
	call := g.emitCallPatchpoint(&ir.Patchpoint{Kind: ir.PatchCallIndirect}, leading, leadingReps, args, sig)
	g.restorePinnedState(inst)
	return g.pushCallResults(call, sig)
}

// ============================================================================
// 尾调用
// ============================================================================

// emitTailCallPatchpoint 终结型尾调用。新帧复用调用者的参数区，
// 帧头位置按两边栈参数区大小之差移动。
func (g *OMGIRGenerator) emitTailCallPatchpoint(p *ir.Patchpoint, leading []*ir.Value, leadingReps []ir.ValueRep,
	args []*ir.Value, sig *wasm.FunctionSignature) {
	root := g.root
	calleeCI := WasmCallingConvention.CallInformationFor(sig)
	callerSize := wasm.RoundUpToStackAlignment(root.callInfo.HeaderAndArgumentStackSize)
	calleeSize := wasm.RoundUpToStackAlignment(calleeCI.HeaderAndArgumentStackSize)
	p.NewFPOffset = int32(callerSize) - int32(calleeSize)
	root.tailCallStackOffsetFromFP = min(root.tailCallStackOffsetFromFP, p.NewFPOffset)
	root.makesTailCalls = true

	p.Terminal = true
	p.Reps = append([]ir.ValueRep(nil), leadingReps...)
	for i := range args {
		p.Reps = append(p.Reps, calleeCI.Params[i].CalleeRep())
	}
	children := append(append([]*ir.Value(nil), leading...), args...)
	g.currentBlock.AppendPatchpoint(ir.Void, p, children...)
}

// emitDirectTailCall return_call
func (g *OMGIRGenerator) emitDirectTailCall(funcIndex uint32, sig *wasm.FunctionSignature, args []*ir.Value) {
	if g.info.IsImportedFunction(funcIndex) {
		inst := g.instanceValue()
		stub := g.load(ir.Load, ir.Int64, inst, g.layout.ImportStubOffset(funcIndex))
		boxed := g.load(ir.Load, ir.Int64, inst, g.layout.ImportFunctionInfoOffset(funcIndex)+wasm.ImportOffsetBoxedCallee)
		p := &ir.Patchpoint{Kind: ir.PatchTailCallIndirect, FunctionIndex: funcIndex}
		g.emitTailCallPatchpoint(p, []*ir.Value{stub, boxed}, []ir.ValueRep{ir.SomeRegister(), ir.SomeRegister()}, args, sig)
		return
	}
	p := &ir.Patchpoint{Kind: ir.PatchTailCall, FunctionIndex: funcIndex, CallSiteIndex: g.advanceCallSiteIndex()}
	g.emitTailCallPatchpoint(p, nil, nil, args, sig)
	g.root.unlinkedCalls = append(g.root.unlinkedCalls,
		UnlinkedCall{CallSiteIndex: p.CallSiteIndex, FunctionIndex: funcIndex, TailCall: true})
}
