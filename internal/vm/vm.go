package vm

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/tangzhangming/novaomg/internal/bytecode"
	"github.com/tangzhangming/novaomg/internal/jit"
	"github.com/tangzhangming/novaomg/internal/jit/ir"
	"github.com/tangzhangming/novaomg/internal/wasm"
)

// ============================================================================
// VM 核心结构
// ============================================================================
//
// VM 是编译结果的执行环境：生成的 IR 由 ir.Interpreter 解释执行，
// VM 作为 ir.Host 提供地址空间、固定寄存器、运行时操作、调用、
// 异常恢复、分层和 OSR。

// HostFunc 宿主实现的导入函数
type HostFunc func(args []ir.Bits) ([]ir.Bits, error)

// Config VM 配置
type Config struct {
	Options *jit.Options

	// Imports 导入函数，键为 "模块名.函数名"
	Imports map[string]HostFunc

	// StackSize 机器栈字节数，0 表示 DefaultStackSize
	StackSize uint32

	// EnableOSR 循环计数器触发时迁移到 OSR 版本
	EnableOSR bool

	// MaxSteps 单次激活最多执行的 IR 值个数，0 表示不限
	MaxSteps int
}

// VMStats 虚拟机统计信息
type VMStats struct {
	Calls      atomic.Uint64 // wasm 到 wasm 的调用
	TailCalls  atomic.Uint64
	HostCalls  atomic.Uint64
	Throws     atomic.Uint64
	Catches    atomic.Uint64
	Traps      atomic.Uint64
	OSREntries atomic.Uint64
}

// VM 虚拟机
type VM struct {
	module   *bytecode.Module
	info     *wasm.ModuleInformation
	group    *jit.CalleeGroup
	compiler *jit.Compiler
	opts     *jit.Options
	log      *zap.Logger

	space  *AddressSpace
	heap   *Heap
	inst   *Instance
	interp *ir.Interpreter
	pinned [ir.NumPinnedRegs]uint64

	hotspot *HotspotDetector
	imports []HostFunc

	// results 正在使用的过程 -> 编译结果
	results map[*ir.Procedure]*jit.CompilationResult
	osr     map[osrKey]*jit.CompilationResult

	// exceptions 异常句柄 -> 异常
	exceptions map[uint64]*Exception

	ctx   context.Context
	stats VMStats
}

// ============================================================================
// VM 生命周期
// ============================================================================

// New 实例化模块并创建虚拟机
func New(m *bytecode.Module, cfg Config) (*VM, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	opts := cfg.Options
	if opts == nil {
		opts = jit.DefaultOptions()
	}
	info := m.Info
	if info.Canonical == nil {
		if _, err := wasm.NewTypeInformation().Register(info); err != nil {
			return nil, err
		}
	}

	group, err := jit.NewCalleeGroup(info, m.Functions)
	if err != nil {
		return nil, err
	}
	compiler, err := jit.NewCompiler(group, opts)
	if err != nil {
		return nil, err
	}

	vm := &VM{
		module:     m,
		info:       info,
		group:      group,
		compiler:   compiler,
		opts:       opts,
		log:        opts.NamedLogger("vm"),
		space:      NewAddressSpace(cfg.StackSize),
		results:    make(map[*ir.Procedure]*jit.CompilationResult),
		osr:        make(map[osrKey]*jit.CompilationResult),
		exceptions: make(map[uint64]*Exception),
		ctx:        context.Background(),
	}
	vm.heap = NewHeap(vm.space)
	vm.hotspot = NewHotspotDetector(vm, cfg.EnableOSR)
	vm.interp = ir.NewInterpreter(vm)
	vm.interp.MaxSteps = cfg.MaxSteps

	if err := vm.resolveImports(cfg.Imports); err != nil {
		return nil, err
	}
	vm.inst, err = newInstance(info, vm.space, vm.heap, opts, func(fn uint32) uint64 {
		addr, _ := group.Entrypoint(fn)
		return addr
	})
	if err != nil {
		return nil, fmt.Errorf("vm: instantiate: %w", err)
	}
	vm.log.Debug("instantiated module",
		zap.Uint32("functions", info.InternalFunctionCount()),
		zap.Uint32("imports", info.ImportFunctionCount()),
		zap.Uint64("instance", vm.inst.Addr))
	return vm, nil
}

func (vm *VM) resolveImports(imports map[string]HostFunc) error {
	n := vm.info.ImportFunctionCount()
	vm.imports = make([]HostFunc, n)
	for i := uint32(0); i < n; i++ {
		imp := vm.info.Functions[i].Import
		name := imp.Module + "." + imp.Name
		f, ok := imports[name]
		if !ok {
			return fmt.Errorf("vm: unresolved import %q", name)
		}
		vm.imports[i] = f
	}
	return nil
}

// Instance 模块实例
func (vm *VM) Instance() *Instance { return vm.inst }

// Heap GC 堆
func (vm *VM) Heap() *Heap { return vm.heap }

// Hotspot 热点检测器
func (vm *VM) Hotspot() *HotspotDetector { return vm.hotspot }

// Compiler 编译器
func (vm *VM) Compiler() *jit.Compiler { return vm.compiler }

// Memory 线性内存
func (vm *VM) Memory() []byte { return vm.space.Memory() }

// Stats 统计信息
func (vm *VM) Stats() *VMStats { return &vm.stats }

// ============================================================================
// 陷阱与异常
// ============================================================================

// Trap wasm 陷阱，不能被 catch 捕获
type Trap struct {
	Kind wasm.ExceptionType
}

func (t *Trap) Error() string {
	return "wasm trap: " + t.Kind.String()
}

// Exception 抛出的 wasm 异常
type Exception struct {
	Tag     uint32
	Payload []ir.Bits
	Handle  uint64 // 异常对象在堆上的地址
}

func (e *Exception) Error() string {
	return fmt.Sprintf("uncaught wasm exception: tag %d", e.Tag)
}

// newException 在堆上分配异常对象，对象里只记录标签
func (vm *VM) newException(tag uint32, payload []ir.Bits) *Exception {
	handle := vm.space.Alloc(16, 8)
	vm.space.putU32(handle, tag)
	e := &Exception{Tag: tag, Payload: payload, Handle: handle}
	vm.exceptions[handle] = e
	return e
}

// IsTrap err 是否为指定种类的陷阱
func IsTrap(err error, kind wasm.ExceptionType) bool {
	var t *Trap
	return errors.As(err, &t) && t.Kind == kind
}

// ============================================================================
// ir.Host
// ============================================================================

// Load 读地址空间
func (vm *VM) Load(addr uint64, size int) (ir.Bits, error) { return vm.space.Load(addr, size) }

// Store 写地址空间
func (vm *VM) Store(addr uint64, size int, value ir.Bits) error {
	return vm.space.Store(addr, size, value)
}

// Pinned 读固定寄存器
func (vm *VM) Pinned(reg ir.PinnedReg) uint64 { return vm.pinned[reg] }

// SetPinned 写固定寄存器
func (vm *VM) SetPinned(reg ir.PinnedReg, value uint64) { vm.pinned[reg] = value }

// Trap 产生陷阱
func (vm *VM) Trap(kind wasm.ExceptionType) error {
	vm.stats.Traps.Inc()
	return &Trap{Kind: kind}
}

// CCall 运行时操作
func (vm *VM) CCall(frame *ir.Frame, op ir.Operation, args []ir.Bits) (ir.Bits, error) {
	h, ok := GetHelper(op)
	if !ok {
		return ir.Bits{}, fmt.Errorf("vm: no runtime operation %s", op)
	}
	return h(vm, frame, args)
}

// Patchpoint 调用、抛出、分层、陷阱和栈检查
func (vm *VM) Patchpoint(frame *ir.Frame, v *ir.Value, args []ir.Bits) (ir.PatchpointResult, error) {
	p := v.Patch
	switch p.Kind {
	case ir.PatchCall:
		res := vm.results[frame.Proc]
		addr, ok := res.CallTargets[p.CallSiteIndex]
		if !ok {
			return ir.PatchpointResult{}, fmt.Errorf("vm: call site %d in function %d is not linked",
				p.CallSiteIndex, frame.Function)
		}
		return vm.call(frame, v, addr, args[:p.StackmapFirst], 0)
	case ir.PatchCallIndirect:
		return vm.call(frame, v, args[0][0], args[:p.StackmapFirst], 2)
	case ir.PatchContextSwitch:
		if args[0][0] != vm.inst.Addr {
			return ir.PatchpointResult{}, fmt.Errorf("vm: call into foreign instance 0x%x", args[0][0])
		}
		return ir.PatchpointResult{}, nil
	case ir.PatchThrow:
		return ir.PatchpointResult{}, vm.throw(frame, v, args[:p.StackmapFirst])
	case ir.PatchRethrow:
		e, ok := vm.exceptions[args[0][0]]
		if !ok {
			return ir.PatchpointResult{}, fmt.Errorf("vm: rethrow of unknown exception 0x%x", args[0][0])
		}
		vm.stats.Throws.Inc()
		return ir.PatchpointResult{}, e
	case ir.PatchEntryTierUp:
		vm.hotspot.RecordEntryTrigger(frame.Function)
		return ir.PatchpointResult{}, nil
	case ir.PatchLoopTierUp:
		return vm.loopTierUp(frame, p, args[0][0], args[p.StackmapFirst:])
	case ir.PatchTrap:
		return ir.PatchpointResult{}, vm.Trap(p.Trap)
	case ir.PatchStackOverflowCheck:
		limit := vm.space.u64(vm.inst.Addr + wasm.InstanceOffsetStackLimit)
		if frame.FP < uint64(p.StackSize) || frame.FP-uint64(p.StackSize) < limit {
			return ir.PatchpointResult{}, vm.Trap(wasm.ExceptionStackOverflow)
		}
		return ir.PatchpointResult{}, nil
	}
	return ir.PatchpointResult{}, fmt.Errorf("vm: unexpected %s patchpoint", p.Kind)
}

// throw 载荷先写进出参区，再按标签签名读出
func (vm *VM) throw(frame *ir.Frame, v *ir.Value, payload []ir.Bits) error {
	p := v.Patch
	for i, rep := range p.Reps {
		if err := vm.placeValue(&frame.Regs, frame.SP, rep, v.Children[i].Type, payload[i]); err != nil {
			return err
		}
	}
	sig := vm.info.TagSignature(p.TagIndex)
	values := make([]ir.Bits, len(sig.Params))
	var slot uint64
	for i, t := range sig.Params {
		size := 8
		if t.Kind == wasm.KindV128 {
			size = 16
		}
		val, err := vm.space.Load(frame.SP+slot*8, size)
		if err != nil {
			return err
		}
		values[i] = val
		slot += uint64(size / 8)
	}
	vm.stats.Throws.Inc()
	e := vm.newException(p.TagIndex, values)
	vm.log.Debug("throw", zap.Uint32("function", frame.Function), zap.Uint32("tag", p.TagIndex),
		zap.Uint32("callSite", p.CallSiteIndex))
	return e
}

// Catch 按帧中记录的调用点查找处理器，把活跃值和载荷写进暂存缓冲区
func (vm *VM) Catch(frame *ir.Frame, v *ir.Value, err error, live []ir.Bits) bool {
	var e *Exception
	if !errors.As(err, &e) {
		return false
	}
	res := vm.results[frame.Proc]
	csi := vm.space.u32(frame.FP + wasm.CallFrameOffsetCallSiteIndex)
	if res == nil || csi == wasm.InvalidCallSiteIndex {
		return false
	}
	h, ok := res.Handlers.Lookup(csi, e.Tag, true)
	if !ok {
		return false
	}

	types := res.StackMaps[csi].Types
	slot := uint32(8)
	if res.UsesSIMD {
		slot = 16
	}
	buffer := vm.space.Alloc(max(uint32(len(live))*slot, 8), 16)
	for i, val := range live {
		size := 8
		if i < len(types) && types[i] == ir.V128 {
			size = 16
		}
		_ = vm.space.Store(buffer+uint64(uint32(i)*slot), size, val)
	}

	payload := vm.space.Alloc(max(uint32(16*len(e.Payload)), 8), 16)
	var off uint64
	for i, t := range vm.info.TagSignature(e.Tag).Params {
		size := 8
		if t.Kind == wasm.KindV128 {
			size = 16
		}
		_ = vm.space.Store(payload+off, size, e.Payload[i])
		off += uint64(size)
	}

	frame.Entry = h.Entrypoint
	frame.Regs = [ir.NumRegs]ir.Bits{}
	frame.Regs[ir.GPR0] = ir.Bits{buffer}
	frame.Regs[ir.GPR0+1] = ir.Bits{e.Handle}
	frame.Regs[ir.GPR0+2] = ir.Bits{payload}
	frame.Regs[ir.GPR0+3] = ir.Bits{vm.inst.Addr}
	vm.stats.Catches.Inc()
	vm.log.Debug("catch", zap.Uint32("function", frame.Function), zap.Uint32("callSite", csi),
		zap.Stringer("handler", h), zap.Stringer("at", v.Patch.Kind))
	return true
}
