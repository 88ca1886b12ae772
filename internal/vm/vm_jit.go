package vm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tangzhangming/novaomg/internal/jit"
	"github.com/tangzhangming/novaomg/internal/jit/ir"
	"github.com/tangzhangming/novaomg/internal/wasm"
)

// ============================================================================
// 入口
// ============================================================================

// Invoke 按导出名调用函数
func (vm *VM) Invoke(ctx context.Context, name string, args ...ir.Bits) ([]ir.Bits, error) {
	fn, ok := vm.info.ExportedFunction(name)
	if !ok {
		return nil, fmt.Errorf("vm: no exported function %q", name)
	}
	return vm.InvokeIndex(ctx, fn, args...)
}

// InvokeIndex 按函数索引调用函数。参数按调用约定放进寄存器和栈，
// 在机器栈顶建立第一个帧。
func (vm *VM) InvokeIndex(ctx context.Context, fn uint32, args ...ir.Bits) ([]ir.Bits, error) {
	if int(fn) >= len(vm.info.Functions) {
		return nil, fmt.Errorf("vm: function %d out of range", fn)
	}
	sig := vm.info.Signature(fn)
	if len(args) != len(sig.Params) {
		return nil, fmt.Errorf("vm: function %d takes %d arguments, got %d", fn, len(sig.Params), len(args))
	}
	vm.ctx = ctx
	vm.pinned[ir.PinnedInstance] = vm.inst.Addr
	vm.pinned[ir.PinnedMemoryBase] = vm.space.u64(vm.inst.Addr + wasm.InstanceOffsetMemoryBase)
	vm.pinned[ir.PinnedBoundsCheckingSize] = vm.space.u64(vm.inst.Addr + wasm.InstanceOffsetBoundsCheckingSize)

	if vm.info.IsImportedFunction(fn) {
		return vm.callHost(fn, args)
	}

	ci := jit.WasmCallingConvention.CallInformationFor(sig)
	fp := vm.space.StackTop() - uint64(wasm.RoundUpToStackAlignment(ci.HeaderAndArgumentStackSize))
	vm.writeFrameHeader(fp, 0, 0, fn)
	var regs [ir.NumRegs]ir.Bits
	for i, loc := range ci.Params {
		if err := vm.placeValue(&regs, fp, loc.CallerRep(), loc.Type, args[i]); err != nil {
			return nil, err
		}
	}
	return vm.runFunction(fn, fp, regs)
}

// ============================================================================
// 代码
// ============================================================================

// code 函数当前的编译结果，尚未编译时现在编译
func (vm *VM) code(fn uint32) (*jit.CompilationResult, error) {
	if res := vm.group.Result(fn); res != nil {
		vm.register(res)
		return res, nil
	}
	res, err := vm.compiler.Compile(vm.ctx, fn)
	if err != nil {
		return nil, err
	}
	vm.register(res)
	return res, nil
}

func (vm *VM) register(res *jit.CompilationResult) {
	vm.results[res.Procedure] = res
}

// resolve 代码地址对应的函数：模块内函数用函数组分配的地址，导入用调用桩
func (vm *VM) resolve(addr uint64) (uint32, error) {
	if fn, ok := vm.group.FunctionAtAddress(addr); ok {
		return fn, nil
	}
	n := uint64(vm.info.ImportFunctionCount())
	if addr >= ImportStubBase && (addr-ImportStubBase)%ImportStubStride == 0 {
		if i := (addr - ImportStubBase) / ImportStubStride; i < n {
			return uint32(i), nil
		}
	}
	return 0, fmt.Errorf("vm: jump to unmapped code address 0x%x", addr)
}

// ============================================================================
// 帧
// ============================================================================

// frameSize 帧在 FP 之下占用的字节数：出参区加上变量的栈槽
func frameSize(proc *ir.Procedure) uint64 {
	size := proc.CallArgAreaSize + 16*uint32(len(proc.Variables))
	return uint64(wasm.RoundUpToStackAlignment(size))
}

func (vm *VM) writeFrameHeader(fp, callerFP, returnPC uint64, callee uint32) {
	vm.space.putU64(fp+wasm.CallFrameOffsetCallerFrame, callerFP)
	vm.space.putU64(fp+wasm.CallFrameOffsetReturnPC, returnPC)
	vm.space.putU64(fp+wasm.CallFrameOffsetCallee, uint64(callee))
	vm.space.putU32(fp+wasm.CallFrameOffsetCallSiteIndex, wasm.InvalidCallSiteIndex)
}

// placeValue 按位置约束放置一个操作数；栈位置相对 base
func (vm *VM) placeValue(regs *[ir.NumRegs]ir.Bits, base uint64, rep ir.ValueRep, t ir.Type, val ir.Bits) error {
	switch rep.Kind {
	case ir.RepRegister:
		regs[rep.Reg] = val
		return nil
	case ir.RepStackArgument, ir.RepStack:
		size := 8
		if t == ir.V128 {
			size = 16
		}
		return vm.space.Store(base+uint64(int64(rep.Offset)), size, val)
	}
	return fmt.Errorf("vm: cannot place operand with %s constraint", rep)
}

// ============================================================================
// 执行
// ============================================================================

// runFunction 在 fp 处执行模块内函数，处理终结型尾调用
func (vm *VM) runFunction(fn uint32, fp uint64, regs [ir.NumRegs]ir.Bits) ([]ir.Bits, error) {
	res, err := vm.code(fn)
	if err != nil {
		return nil, err
	}
	return vm.runFrame(res, &ir.Frame{Function: fn, FP: fp, Regs: regs})
}

// runFrame 执行编译结果，直到返回。尾调用在新 FP 上继续，不增加 Go 调用深度。
func (vm *VM) runFrame(res *jit.CompilationResult, frame *ir.Frame) ([]ir.Bits, error) {
	for {
		if err := vm.ctx.Err(); err != nil {
			return nil, err
		}
		frame.Proc = res.Procedure
		frame.SP = frame.FP - frameSize(res.Procedure)
		if frame.SP < StackBase {
			return nil, vm.Trap(wasm.ExceptionStackOverflow)
		}
		out, err := vm.interp.Run(frame)
		if err != nil {
			return nil, err
		}
		if out.TailCall == nil {
			return out.Results, nil
		}

		tc := out.TailCall
		p := tc.Value.Patch
		leading := 0
		var addr uint64
		if p.Kind == ir.PatchTailCallIndirect {
			leading = 2
			addr = tc.Args[0][0]
		} else {
			var ok bool
			if addr, ok = res.CallTargets[p.CallSiteIndex]; !ok {
				return nil, fmt.Errorf("vm: tail call site %d in function %d is not linked",
					p.CallSiteIndex, frame.Function)
			}
		}
		target, err := vm.resolve(addr)
		if err != nil {
			return nil, err
		}
		vm.stats.TailCalls.Inc()
		if vm.info.IsImportedFunction(target) {
			return vm.callHost(target, tc.Args[leading:])
		}

		callerFP := vm.space.u64(frame.FP + wasm.CallFrameOffsetCallerFrame)
		returnPC := vm.space.u64(frame.FP + wasm.CallFrameOffsetReturnPC)
		var regs [ir.NumRegs]ir.Bits
		for i, val := range tc.Args[leading:] {
			child := tc.Value.Children[leading+i]
			if err := vm.placeValue(&regs, tc.NewFP, p.Reps[leading+i], child.Type, val); err != nil {
				return nil, err
			}
		}
		vm.writeFrameHeader(tc.NewFP, callerFP, returnPC, target)
		vm.log.Debug("tail call", zap.Uint32("from", frame.Function), zap.Uint32("to", target))

		if res, err = vm.code(target); err != nil {
			return nil, err
		}
		frame = &ir.Frame{Function: target, FP: tc.NewFP, Regs: regs}
	}
}

// call 非终结调用：被调者的 FP 是调用者的 SP，参数按位置约束放置
func (vm *VM) call(frame *ir.Frame, v *ir.Value, addr uint64, args []ir.Bits, leading int) (ir.PatchpointResult, error) {
	target, err := vm.resolve(addr)
	if err != nil {
		return ir.PatchpointResult{}, err
	}
	if vm.info.IsImportedFunction(target) {
		results, err := vm.callHost(target, args[leading:])
		return ir.PatchpointResult{Values: results}, err
	}

	p := v.Patch
	fp := frame.SP
	var regs [ir.NumRegs]ir.Bits
	for i, val := range args[leading:] {
		if err := vm.placeValue(&regs, fp, p.Reps[leading+i], v.Children[leading+i].Type, val); err != nil {
			return ir.PatchpointResult{}, err
		}
	}
	returnPC := vm.inst.entrypoint(frame.Function) + uint64(p.CallSiteIndex)
	vm.writeFrameHeader(fp, frame.FP, returnPC, target)
	vm.stats.Calls.Inc()

	results, err := vm.runFunction(target, fp, regs)
	if err != nil {
		return ir.PatchpointResult{}, err
	}
	return ir.PatchpointResult{Values: results}, nil
}

// callHost 调用导入函数
func (vm *VM) callHost(fn uint32, args []ir.Bits) ([]ir.Bits, error) {
	vm.stats.HostCalls.Inc()
	results, err := vm.imports[fn](args)
	if err != nil {
		return nil, err
	}
	if want := len(vm.info.Signature(fn).Results); len(results) != want {
		return nil, fmt.Errorf("vm: import %d returned %d values, want %d", fn, len(results), want)
	}
	return results, nil
}

// ============================================================================
// OSR
// ============================================================================

// loopTierUp 循环计数器触发。允许 OSR 时编译该循环的 OSR 版本，把活跃值
// 写进暂存缓冲区，在同一个 FP 上从 OSR 入口继续执行，当前激活就此结束。
func (vm *VM) loopTierUp(frame *ir.Frame, p *ir.Patchpoint, counter uint64, live []ir.Bits) (ir.PatchpointResult, error) {
	if !vm.hotspot.RecordLoopTrigger(frame.Function, p.LoopIndex, counter) {
		return ir.PatchpointResult{}, nil
	}
	if res := vm.results[frame.Proc]; res != nil && res.IsOSREntry() {
		return ir.PatchpointResult{}, nil
	}
	res, err := vm.hotspot.osrCode(frame.Function, p.LoopIndex)
	if err != nil {
		vm.hotspot.MarkOSREntry(frame.Function, false)
		vm.log.Warn("osr compile failed", zap.Uint32("function", frame.Function),
			zap.Uint32("loop", p.LoopIndex), zap.Error(err))
		return ir.PatchpointResult{}, nil
	}

	slot := uint32(8)
	if res.UsesSIMD {
		slot = 16
	}
	buffer := vm.space.Alloc(max(res.OSREntryScratchBufferSize, uint32(len(live))*slot, 8), 16)
	for i, val := range live {
		size := 8
		if slot == 16 {
			size = 16
		}
		_ = vm.space.Store(buffer+uint64(uint32(i)*slot), size, val)
	}
	vm.hotspot.MarkOSREntry(frame.Function, true)
	vm.stats.OSREntries.Inc()
	vm.log.Debug("osr entry", zap.Uint32("function", frame.Function), zap.Uint32("loop", p.LoopIndex),
		zap.Int("values", len(live)))

	osrFrame := &ir.Frame{Function: frame.Function, FP: frame.FP, Entry: res.OSREntrypoint}
	osrFrame.Regs[ir.GPR0] = ir.Bits{buffer}
	results, err := vm.runFrame(res, osrFrame)
	if err != nil {
		return ir.PatchpointResult{}, err
	}
	return ir.PatchpointResult{Transfer: true, Results: results}, nil
}
