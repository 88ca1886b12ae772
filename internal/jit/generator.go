// generator.go - OMG IR 生成器
//
// 生成器是解析器的回调实现：操作数栈上的每个高度对应一个 IR 变量，
// 压栈是对变量的 Set，读栈是 Get；控制结构降级为基本块和 phi。
//
// 内联时每个被调函数有自己的生成器实例，共用同一个 Procedure。
// 调用点计数、栈映射、处理器表、未链接调用、常量池和根块只由根生成器持有，
// 子生成器通过 root 指针直接写入。
//
// 块 0 只放常量、帧指针和入口切换；真正的函数入口是 rootBlocks[0]，
// catch 入口和 OSR 入口依次追加在 rootBlocks 之后。

package jit

import (
	"math"

	"go.uber.org/zap"

	"github.com/tangzhangming/novaomg/internal/bytecode"
	cerrors "github.com/tangzhangming/novaomg/internal/errors"
	"github.com/tangzhangming/novaomg/internal/jit/ir"
	"github.com/tangzhangming/novaomg/internal/parser"
	"github.com/tangzhangming/novaomg/internal/wasm"
)

// FunctionParser 生成器使用的解析器实例
type FunctionParser = parser.FunctionParser[*ir.Variable, *ControlData]

// Stack 生成器视角的操作数栈
type Stack = parser.Stack[*ir.Variable]

// ControlEntry 生成器视角的控制栈项
type ControlEntry = parser.ControlEntry[*ir.Variable, *ControlData]

// minimumParentCheckSize 叶子函数可以省略栈检查的帧大小上限，由调用者的检查覆盖
const minimumParentCheckSize = 1024

type constantKey struct {
	t      ir.Type
	lo, hi uint64
}

// OMGIRGenerator 一个函数（或一次内联展开）的 IR 生成器
type OMGIRGenerator struct {
	group  *CalleeGroup
	info   *wasm.ModuleInformation
	layout *wasm.InstanceLayout
	opts   *Options
	log    *zap.Logger

	proc          *ir.Procedure
	parser        *FunctionParser
	functionIndex uint32
	body          *bytecode.Function
	signature     *wasm.FunctionSignature
	callInfo      CallInformation

	parent             *OMGIRGenerator
	root               *OMGIRGenerator
	inlineDepth        uint32
	inlinedArgs        []*ir.Value
	inlinedResults     []*ir.Variable
	returnContinuation *ir.BasicBlock

	topLevelBlock *ir.BasicBlock
	currentBlock  *ir.BasicBlock
	locals        []*ir.Variable
	stack         []*ir.Variable
	stackSize     uint32
	tryDepth      uint32

	// 以下字段只在根生成器上有效
	rootBlocks                []*ir.BasicBlock
	callSiteIndex             uint32
	handlers                  HandlerTable
	stackMaps                 StackMaps
	unlinkedCalls             []UnlinkedCall
	constantPool              map[constantKey]*ir.Value
	constants                 []*ir.Value
	framePointerValue         *ir.Value
	codeOrigins               []CodeOrigin
	usesSIMD                  bool
	hasExceptionHandlers      bool
	makesCalls                bool
	makesTailCalls            bool
	tailCallStackOffsetFromFP int32
	maxHostCallArgumentSlots  uint32
	inlinedBytes              uint32
	osrEntryScratchBufferSize uint32
	osrEntrypoint             int
	loopIndexForOSREntry      int64
	tierUp                    *TierUpCount
	outerLoops                []uint32
	swizzleFixup              bool
	inlineStats               *InlineStats
}

// generatorConfig 根生成器的构造参数
type generatorConfig struct {
	group                *CalleeGroup
	opts                 *Options
	functionIndex        uint32
	loopIndexForOSREntry int64
	tierUp               *TierUpCount
	usesSIMD             bool
}

// newRootGenerator 为函数创建根生成器
func newRootGenerator(cfg generatorConfig) *OMGIRGenerator {
	info := cfg.group.Info()
	proc := ir.NewProcedure()
	g := &OMGIRGenerator{
		group:                cfg.group,
		info:                 info,
		layout:               cfg.group.Layout(),
		opts:                 cfg.opts,
		log:                  cfg.opts.logger(),
		proc:                 proc,
		functionIndex:        cfg.functionIndex,
		body:                 cfg.group.Body(cfg.functionIndex),
		signature:            info.Signature(cfg.functionIndex),
		stackMaps:            make(StackMaps),
		constantPool:         make(map[constantKey]*ir.Value),
		osrEntrypoint:        -1,
		loopIndexForOSREntry: cfg.loopIndexForOSREntry,
		tierUp:               cfg.tierUp,
		usesSIMD:             cfg.usesSIMD,
		swizzleFixup:         needsSwizzleFixup(cfg.opts.Arch()),
		inlineStats:          cfg.group.inlineStats,
	}
	g.root = g
	g.callInfo = WasmCallingConvention.CallInformationFor(g.signature)

	g.topLevelBlock = proc.AddBlock()
	entry := proc.AddBlock()
	g.rootBlocks = append(g.rootBlocks, entry)
	g.currentBlock = entry
	g.parser = parser.New[*ir.Variable, *ControlData](g, g.body, g.signature, info)
	return g
}

// newInlineGenerator 为内联的被调函数创建子生成器，结果写入 results，
// 结束时跳到 continuation
func (g *OMGIRGenerator) newInlineGenerator(callee uint32, args []*ir.Value, results []*ir.Variable,
	continuation *ir.BasicBlock) *OMGIRGenerator {
	child := &OMGIRGenerator{
		group:              g.group,
		info:               g.info,
		layout:             g.layout,
		opts:               g.opts,
		log:                g.log,
		proc:               g.proc,
		functionIndex:      callee,
		body:               g.group.Body(callee),
		signature:          g.info.Signature(callee),
		parent:             g,
		root:               g.root,
		inlineDepth:        g.inlineDepth + 1,
		inlinedArgs:        args,
		inlinedResults:     results,
		returnContinuation: continuation,
		currentBlock:       g.currentBlock,
		tryDepth:           g.tryDepth,
	}
	child.callInfo = WasmCallingConvention.CallInformationFor(child.signature)
	child.parser = parser.New[*ir.Variable, *ControlData](child, child.body, child.signature, g.info)
	return child
}

func (g *OMGIRGenerator) isInlined() bool { return g.parent != nil }

// ============================================================================
// 解析器钩子
// ============================================================================

// WillParseOpcode 之后创建的值都带上当前指令的位置
func (g *OMGIRGenerator) WillParseOpcode() {
	g.proc.SetOrigin(ir.Origin{Function: g.functionIndex, Offset: g.parser.CurrentOffset()})
}

// DidPopValueFromStack 解析器弹出一个操作数
func (g *OMGIRGenerator) DidPopValueFromStack() {
	g.stackSize--
}

// ============================================================================
// 操作数槽
// ============================================================================

// pushSlot 取得当前高度的槽并把高度加一。高度超过高水位时分配新变量，
// 复用的槽类型不同时换成新变量。
func (g *OMGIRGenerator) pushSlot(t ir.Type) (*ir.Variable, error) {
	if g.stackSize == math.MaxUint32 {
		return nil, cerrors.New(cerrors.E0101, "operand stack height overflows")
	}
	h := g.stackSize
	g.stackSize++
	if int(h) >= len(g.stack) {
		v := g.proc.AddVariable(t)
		g.stack = append(g.stack, v)
		return v, nil
	}
	if g.stack[h].Type != t {
		g.stack[h] = g.proc.AddVariable(t)
	}
	return g.stack[h], nil
}

// push 把值写入新的栈顶槽
func (g *OMGIRGenerator) push(v *ir.Value) (*ir.Variable, error) {
	slot, err := g.pushSlot(v.Type)
	if err != nil {
		return nil, err
	}
	g.currentBlock.AppendSet(slot, v)
	return slot, nil
}

// get 读取槽中的值
func (g *OMGIRGenerator) get(v *ir.Variable) *ir.Value {
	return g.currentBlock.AppendGet(v)
}

// getAll 读取栈顶 n 个槽，按压栈顺序
func (g *OMGIRGenerator) getTop(values Stack, n int) []*ir.Value {
	out := make([]*ir.Value, n)
	base := len(values) - n
	for i := 0; i < n; i++ {
		out[i] = g.get(values[base+i].Value)
	}
	return out
}

func (g *OMGIRGenerator) getArgs(args []*ir.Variable) []*ir.Value {
	out := make([]*ir.Value, len(args))
	for i, a := range args {
		out[i] = g.get(a)
	}
	return out
}

// ============================================================================
// 常量与环境
// ============================================================================

// constant 池化的常量，统一放在入口块
func (g *OMGIRGenerator) constant(t ir.Type, bits uint64) *ir.Value {
	switch t {
	case ir.Int32, ir.Float:
		bits = uint64(uint32(bits))
	case ir.V128:
		return g.vectorConstant(bits, 0)
	}
	root := g.root
	key := constantKey{t: t, lo: bits}
	if c, ok := root.constantPool[key]; ok {
		return c
	}
	c := g.proc.NewConstant(t, bits)
	root.constantPool[key] = c
	root.constants = append(root.constants, c)
	return c
}

func (g *OMGIRGenerator) vectorConstant(lo, hi uint64) *ir.Value {
	root := g.root
	key := constantKey{t: ir.V128, lo: lo, hi: hi}
	if c, ok := root.constantPool[key]; ok {
		return c
	}
	c := g.proc.NewV128Constant(lo, hi)
	root.constantPool[key] = c
	root.constants = append(root.constants, c)
	return c
}

func (g *OMGIRGenerator) const32(v int32) *ir.Value  { return g.constant(ir.Int32, uint64(uint32(v))) }
func (g *OMGIRGenerator) const64(v int64) *ir.Value  { return g.constant(ir.Int64, uint64(v)) }
func (g *OMGIRGenerator) constU64(v uint64) *ir.Value { return g.constant(ir.Int64, v) }

// zeroValue 类型的零值；引用的零值是空引用
func (g *OMGIRGenerator) zeroValue(t ir.Type) *ir.Value {
	if t == ir.V128 {
		return g.vectorConstant(0, 0)
	}
	return g.constant(t, 0)
}

// framePointer 当前帧指针，和常量一起放在入口块
func (g *OMGIRGenerator) framePointer() *ir.Value {
	root := g.root
	if root.framePointerValue == nil {
		root.framePointerValue = g.proc.NewValue(ir.FramePointer, ir.Int64)
	}
	return root.framePointerValue
}

func (g *OMGIRGenerator) instanceValue() *ir.Value {
	return g.currentBlock.AppendGetPinned(ir.PinnedInstance)
}

func (g *OMGIRGenerator) emit(op ir.Opcode, t ir.Type, children ...*ir.Value) *ir.Value {
	return g.currentBlock.AppendNew(op, t, children...)
}

func (g *OMGIRGenerator) load(op ir.Opcode, t ir.Type, ptr *ir.Value, offset uint32) *ir.Value {
	return g.currentBlock.AppendLoad(op, t, ptr, int32(offset))
}

// reloadMemoryRegistersFromInstance 从实例重新读取缓存的内存基址和边界
func (g *OMGIRGenerator) reloadMemoryRegistersFromInstance() {
	if !g.info.Memory.Present {
		return
	}
	inst := g.instanceValue()
	g.currentBlock.AppendSetPinned(ir.PinnedMemoryBase,
		g.load(ir.Load, ir.Int64, inst, wasm.InstanceOffsetMemoryBase))
	g.currentBlock.AppendSetPinned(ir.PinnedBoundsCheckingSize,
		g.load(ir.Load, ir.Int64, inst, wasm.InstanceOffsetBoundsCheckingSize))
}

// restorePinnedState 调用可能切换实例后恢复固定寄存器
func (g *OMGIRGenerator) restorePinnedState(instance *ir.Value) {
	g.currentBlock.AppendSetPinned(ir.PinnedInstance, instance)
	g.reloadMemoryRegistersFromInstance()
}

// branchHint 当前指令的分支提示
func (g *OMGIRGenerator) branchHint() wasm.BranchHint {
	return g.info.BranchHint(g.functionIndex, g.parser.CurrentOffset())
}

// ============================================================================
// 参数、局部变量、全局变量
// ============================================================================

// AddArguments 把参数复制到局部变量。根函数从调用约定的位置读取，
// 内联的被调者从调用者的实参读取。
func (g *OMGIRGenerator) AddArguments(sig *wasm.FunctionSignature) error {
	g.locals = make([]*ir.Variable, 0, len(sig.Params))
	for i, t := range sig.Params {
		local := g.proc.AddVariable(irType(t))
		g.locals = append(g.locals, local)
		if g.isInlined() {
			g.currentBlock.AppendSet(local, g.inlinedArgs[i])
			continue
		}
		loc := g.callInfo.Params[i]
		var arg *ir.Value
		if loc.IsStack() {
			arg = g.currentBlock.AppendLoad(ir.Load, loc.Type, g.framePointer(), loc.Offset)
		} else {
			arg = g.emit(ir.ArgumentReg, loc.Type)
			arg.Reg = loc.Reg
		}
		g.currentBlock.AppendSet(local, arg)
	}
	return nil
}

// AddLocal 声明 count 个零初始化的局部变量
func (g *OMGIRGenerator) AddLocal(t wasm.Type, count uint32) error {
	it := irType(t)
	zero := g.zeroValue(it)
	for i := uint32(0); i < count; i++ {
		local := g.proc.AddVariable(it)
		g.locals = append(g.locals, local)
		g.currentBlock.AppendSet(local, zero)
	}
	return nil
}

func (g *OMGIRGenerator) GetLocal(index uint32) (*ir.Variable, error) {
	return g.push(g.currentBlock.AppendGet(g.locals[index]))
}

func (g *OMGIRGenerator) SetLocal(index uint32, value *ir.Variable) error {
	g.currentBlock.AppendSet(g.locals[index], g.get(value))
	return nil
}

func (g *OMGIRGenerator) TeeLocal(index uint32, value *ir.Variable) (*ir.Variable, error) {
	v := g.get(value)
	g.currentBlock.AppendSet(g.locals[index], v)
	return g.push(v)
}

// globalAddress 全局变量值所在的地址和偏移。可移植绑定的全局先读出值单元指针。
func (g *OMGIRGenerator) globalAddress(index uint32) (*ir.Value, uint32) {
	inst := g.instanceValue()
	off := g.layout.GlobalOffset(index)
	if g.info.Globals[index].Binding == wasm.BindingPortable {
		return g.load(ir.Load, ir.Int64, inst, off), 0
	}
	return inst, off
}

// GetGlobal 读全局变量
func (g *OMGIRGenerator) GetGlobal(index uint32) (*ir.Variable, error) {
	if int(index) >= len(g.info.Globals) {
		return nil, cerrors.New(cerrors.E0004, "global %d out of range", index)
	}
	t := irType(g.info.Globals[index].Type)
	ptr, off := g.globalAddress(index)
	return g.push(g.load(ir.Load, t, ptr, off))
}

// SetGlobal 写全局变量。全局单元不在 GC 堆上，引用写入不需要写屏障。
func (g *OMGIRGenerator) SetGlobal(index uint32, value *ir.Variable) error {
	if int(index) >= len(g.info.Globals) {
		return cerrors.New(cerrors.E0004, "global %d out of range", index)
	}
	v := g.get(value)
	ptr, off := g.globalAddress(index)
	g.currentBlock.AppendStore(ir.Store, v, ptr, int32(off))
	return nil
}

// AddConstant 标量常量
func (g *OMGIRGenerator) AddConstant(t wasm.Type, bits uint64) (*ir.Variable, error) {
	return g.push(g.constant(irType(t), bits))
}

// AddSelect select
func (g *OMGIRGenerator) AddSelect(condition, a, b *ir.Variable) (*ir.Variable, error) {
	c, x, y := g.get(condition), g.get(a), g.get(b)
	return g.push(g.emit(ir.Select, x.Type, c, x, y))
}

// AddUnreachable unreachable 指令
func (g *OMGIRGenerator) AddUnreachable() error {
	g.emitTrap(wasm.ExceptionUnreachable)
	return nil
}

// emitTrap 无条件陷入，终结当前块
func (g *OMGIRGenerator) emitTrap(kind wasm.ExceptionType) {
	g.currentBlock.AppendPatchpoint(ir.Void, &ir.Patchpoint{Kind: ir.PatchTrap, Terminal: true, Trap: kind})
}

// ============================================================================
// 收尾
// ============================================================================

// insertConstants 把常量池和帧指针放进块 0。可能有异常处理器时，
// 在函数入口把帧中的调用点索引置为无效值。
func (g *OMGIRGenerator) insertConstants() {
	var invalid *ir.Value
	if g.hasExceptionHandlers {
		invalid = g.constant(ir.Int32, wasm.InvalidCallSiteIndex)
		g.framePointer()
	}
	values := append([]*ir.Value(nil), g.constants...)
	if g.framePointerValue != nil {
		values = append(values, g.framePointerValue)
	}
	if invalid != nil {
		store := g.proc.NewValue(ir.Store, ir.Void, invalid, g.framePointerValue)
		store.Imm = wasm.CallFrameOffsetCallSiteIndex
		g.rootBlocks[0].InsertFront(store)
	}
	g.topLevelBlock.InsertFront(values...)
}

// insertEntrySwitch 块 0 按入口编号分派到各个根块
func (g *OMGIRGenerator) insertEntrySwitch() {
	g.proc.NumEntrypoints = len(g.rootBlocks)
	g.topLevelBlock.AppendEntrySwitch(g.rootBlocks)
}

// frameSize 帧大小：出参区加上所有变量的栈槽
func (g *OMGIRGenerator) frameSize() uint32 {
	size := g.proc.CallArgAreaSize
	for _, v := range g.proc.Variables {
		size += uint32(max(8, v.Type.Size()))
	}
	return wasm.RoundUpToStackAlignment(size)
}

// computeStackCheckSize 计算入口栈检查的大小。叶子函数帧较小时不检查，
// 由调用者额外预留的空间覆盖。
func (g *OMGIRGenerator) computeStackCheckSize() (uint32, bool) {
	frame := g.frameSize()
	extra := wasm.RoundUpToStackAlignment(max(uint32(minimumParentCheckSize),
		g.maxHostCallArgumentSlots*8+wasm.CallFrameHeaderSize))
	switch {
	case g.makesCalls:
		return frame + extra, true
	case g.makesTailCalls:
		grow := uint32(0)
		if g.tailCallStackOffsetFromFP < 0 {
			grow = uint32(-g.tailCallStackOffsetFromFP)
		}
		return frame + grow + extra, true
	case frame >= minimumParentCheckSize:
		return frame, true
	}
	return frame, false
}

// insertStackCheck 在函数入口插入栈溢出检查
func (g *OMGIRGenerator) insertStackCheck(size uint32) {
	check := g.proc.NewValue(ir.PatchpointOp, ir.Void)
	check.Patch = &ir.Patchpoint{Kind: ir.PatchStackOverflowCheck, StackSize: size}
	g.rootBlocks[0].InsertFront(check)
}
