// generator_catch.go - 异常：调用点、栈映射、catch 入口、throw/rethrow/delegate
//
// 处于 try 中的可抛出 patchpoint 带着全部活跃变量作为栈映射。运行时找到
// 处理器后把这些值写进暂存缓冲区，再从 catch 的入口块进入本函数：
//
//	GPR0 暂存缓冲区
//	GPR1 异常对象
//	GPR2 载荷缓冲区
//	GPR3 处理器所在帧的实例
//
// catch 入口只读取缓冲区的前缀：外层结构的状态在 try 之内不会改变，
// try 体里每个调用点记录的活跃值都以同样的顺序从这段前缀开始。

package jit

import (
	"go.uber.org/zap"

	"github.com/tangzhangming/novaomg/internal/jit/ir"
	"github.com/tangzhangming/novaomg/internal/wasm"
)

// advanceCallSiteIndex 分配一个新的调用点索引
func (g *OMGIRGenerator) advanceCallSiteIndex() uint32 {
	g.root.callSiteIndex++
	return g.root.callSiteIndex
}

// frames 从根到当前的生成器链
func (g *OMGIRGenerator) frames() []*OMGIRGenerator {
	var chain []*OMGIRGenerator
	for f := g; f != nil; f = f.parent {
		chain = append(chain, f)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// liveVariables 恢复执行需要的变量，按帧依次是局部变量、各层控制结构的
// 外层操作数栈和 catch 异常、当前操作数栈。forCatch 时当前帧停在最内层
// 结构的外层操作数栈，即 catch 入口能看到的状态。
func (g *OMGIRGenerator) liveVariables(forCatch bool) []*ir.Variable {
	var vars []*ir.Variable
	for _, f := range g.frames() {
		vars = append(vars, f.locals...)
		controls := f.parser.ControlStack()
		stop := forCatch && f == g
		for i := range controls {
			ce := &controls[i]
			vars = append(vars, ce.EnclosedExpressionStack.Values()...)
			if stop && i == len(controls)-1 {
				break
			}
			if ce.Control.isAnyCatch() {
				vars = append(vars, ce.Control.exception)
			}
		}
		if !stop {
			vars = append(vars, f.parser.ExpressionStack().Values()...)
		}
	}
	return vars
}

func variableTypes(vars []*ir.Variable) []ir.Type {
	types := make([]ir.Type, len(vars))
	for i, v := range vars {
		types[i] = v.Type
	}
	return types
}

// preparePatchpointForExceptions 为可抛出的 patchpoint 分配调用点；在 try 中时
// 记录栈映射并返回作为栈映射子节点的活跃值
func (g *OMGIRGenerator) preparePatchpointForExceptions(p *ir.Patchpoint) []*ir.Value {
	csi := g.advanceCallSiteIndex()
	p.CallSiteIndex = csi
	if g.tryDepth == 0 {
		return nil
	}
	vars := g.liveVariables(false)
	live := make([]*ir.Value, len(vars))
	for i, v := range vars {
		live[i] = g.get(v)
	}
	p.HasHandlers = true
	g.root.stackMaps[csi] = StackMap{Types: variableTypes(vars)}
	g.storeCallSiteIndex(csi)
	return live
}

// storeCallSiteIndex 把调用点索引写进帧，展开时据此查找处理器
func (g *OMGIRGenerator) storeCallSiteIndex(csi uint32) {
	g.currentBlock.AppendStore(ir.Store, g.const32(int32(csi)), g.framePointer(), wasm.CallFrameOffsetCallSiteIndex)
}

// ============================================================================
// catch
// ============================================================================

// AddCatch 可达的 catch：结束 try 体或上一个 catch 体
func (g *OMGIRGenerator) AddCatch(tag uint32, current Stack, entry *ControlEntry) ([]*ir.Variable, error) {
	c := entry.Control
	g.unify(c.phis, current)
	g.currentBlock.AppendJump(c.continuation)
	return g.emitCatchImpl(CatchKindCatch, tag, entry)
}

// AddCatchToUnreachable 不可达之后的 catch
func (g *OMGIRGenerator) AddCatchToUnreachable(tag uint32, entry *ControlEntry) ([]*ir.Variable, error) {
	return g.emitCatchImpl(CatchKindCatch, tag, entry)
}

// AddCatchAll 可达的 catch_all
func (g *OMGIRGenerator) AddCatchAll(current Stack, entry *ControlEntry) error {
	c := entry.Control
	g.unify(c.phis, current)
	g.currentBlock.AppendJump(c.continuation)
	_, err := g.emitCatchImpl(CatchKindCatchAll, 0, entry)
	return err
}

// AddCatchAllToUnreachable 不可达之后的 catch_all
func (g *OMGIRGenerator) AddCatchAllToUnreachable(entry *ControlEntry) error {
	_, err := g.emitCatchImpl(CatchKindCatchAll, 0, entry)
	return err
}

// emitCatchImpl 新建 catch 入口块，登记处理器，恢复活跃值并压入载荷
func (g *OMGIRGenerator) emitCatchImpl(kind CatchKind, tag uint32, entry *ControlEntry) ([]*ir.Variable, error) {
	root := g.root
	c := entry.Control
	if c.isTry() {
		c = c.convertTryToCatch(g.advanceCallSiteIndex(), g.proc.AddVariable(ir.Int64))
		g.tryDepth--
	}
	c = c.withCatchKind(kind)
	entry.Control = c

	block := g.proc.AddBlock()
	root.rootBlocks = append(root.rootBlocks, block)
	handler := HandlerInfo{
		Kind:       HandlerCatch,
		Start:      c.tryStart,
		End:        c.tryEnd,
		Entrypoint: len(root.rootBlocks) - 1,
		TryDepth:   c.tryDepth,
		Tag:        tag,
	}
	if kind == CatchKindCatchAll {
		handler.Kind = HandlerCatchAll
	}
	root.handlers = append(root.handlers, handler)

	g.currentBlock = block
	g.stackSize = c.stackSize
	g.traceCF("catch", controlField(c), zap.Stringer("handler", handler))

	buffer := g.argumentRegister(argumentGPR0)
	exception := g.argumentRegister(argumentGPR1)
	payload := g.argumentRegister(argumentGPR2)
	g.currentBlock.AppendSetPinned(ir.PinnedInstance, g.argumentRegister(argumentGPR3))
	g.reloadMemoryRegistersFromInstance()

	slot := scratchSlotSize(root.usesSIMD)
	for i, v := range g.liveVariables(true) {
		g.currentBlock.AppendSet(v, g.load(ir.Load, v.Type, buffer, uint32(i)*slot))
	}
	g.currentBlock.AppendSet(c.exception, exception)

	if kind == CatchKindCatchAll {
		return nil, nil
	}
	sig := g.info.TagSignature(tag)
	results := make([]*ir.Variable, 0, len(sig.Params))
	var offset uint32
	for _, t := range sig.Params {
		it := irType(t)
		v, err := g.push(g.load(ir.Load, it, payload, offset*8))
		if err != nil {
			return nil, err
		}
		results = append(results, v)
		offset++
		if it == ir.V128 {
			offset++
		}
	}
	return results, nil
}

func (g *OMGIRGenerator) argumentRegister(r ir.Reg) *ir.Value {
	v := g.emit(ir.ArgumentReg, ir.Int64)
	v.Reg = r
	return v
}

// ============================================================================
// delegate / throw / rethrow
// ============================================================================

// AddDelegate delegate：try 区间内的异常转交给目标深度的处理器
func (g *OMGIRGenerator) AddDelegate(target *ControlData, entry *ControlEntry) error {
	g.emitDelegate(target, entry.Control)
	return nil
}

// AddDelegateToUnreachable 不可达之后的 delegate
func (g *OMGIRGenerator) AddDelegateToUnreachable(target *ControlData, entry *ControlEntry) error {
	g.emitDelegate(target, entry.Control)
	return nil
}

func (g *OMGIRGenerator) emitDelegate(target, c *ControlData) {
	h := HandlerInfo{
		Kind:       HandlerDelegate,
		Start:      c.tryStart,
		End:        g.advanceCallSiteIndex(),
		Entrypoint: -1,
		TryDepth:   c.tryDepth,
		Tag:        g.delegateTargetDepth(target),
	}
	g.root.handlers = append(g.root.handlers, h)
	g.traceCF("delegate", controlField(c), zap.Stringer("handler", h))
}

// delegateTargetDepth 目标为根函数体时交给调用者；内联函数体的目标是
// 调用点所在的 try 深度
func (g *OMGIRGenerator) delegateTargetDepth(target *ControlData) uint32 {
	if target.blockType == BlockTopLevel && !g.isInlined() {
		return DelegateToCaller
	}
	return target.tryDepth
}

// AddThrow throw：载荷按 8 字节槽放在出参区
func (g *OMGIRGenerator) AddThrow(tag uint32, args []*ir.Variable) error {
	vals := g.getArgs(args)
	reps := make([]ir.ValueRep, len(vals))
	var slots uint32
	for i, v := range vals {
		reps[i] = ir.StackArgumentRep(int32(slots * 8))
		slots++
		if v.Type == ir.V128 {
			slots++
		}
	}
	root := g.root
	root.makesCalls = true
	root.maxHostCallArgumentSlots = max(root.maxHostCallArgumentSlots, slots)
	g.proc.RequestCallArgAreaSize(wasm.RoundUpToStackAlignment(slots * 8))

	p := &ir.Patchpoint{Kind: ir.PatchThrow, Reps: reps, Terminal: true, TagIndex: tag}
	live := g.preparePatchpointForExceptions(p)
	g.currentBlock.AppendPatchpoint(ir.Void, p, append(vals, live...)...)
	return nil
}

// AddRethrow rethrow 重新抛出 catch 捕获的异常
func (g *OMGIRGenerator) AddRethrow(catchControl *ControlData) error {
	exception := g.get(catchControl.exception)
	g.root.makesCalls = true
	p := &ir.Patchpoint{Kind: ir.PatchRethrow, Reps: []ir.ValueRep{ir.SomeRegister()}, Terminal: true}
	live := g.preparePatchpointForExceptions(p)
	g.currentBlock.AppendPatchpoint(ir.Void, p, append([]*ir.Value{exception}, live...)...)
	return nil
}
