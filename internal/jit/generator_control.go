// generator_control.go - 结构化控制流的降级
//
// block/if/try 的出口、loop 的循环头各有一组 phi。跳到某个结构时，
// 先用 Upsilon 把栈顶的值交给目标的 phi，再跳转；进入出口块后把 phi
// 写回新的栈槽。loop 的出口没有 phi，循环体落到 end 时结果已经在栈槽里。

package jit

import (
	"go.uber.org/zap"

	"github.com/tangzhangming/novaomg/internal/jit/ir"
	"github.com/tangzhangming/novaomg/internal/wasm"
)

// unify 把栈顶 len(phis) 个值交给 phis
func (g *OMGIRGenerator) unify(phis []*ir.Value, values Stack) {
	base := len(values) - len(phis)
	for i, phi := range phis {
		g.currentBlock.AppendUpsilon(g.get(values[base+i].Value), phi)
	}
}

// placePhis 在刚进入的块开头放置 phi
func (g *OMGIRGenerator) placePhis(phis []*ir.Value) {
	for _, phi := range phis {
		g.currentBlock.Append(phi)
	}
}

// frequencies 按分支提示分配两个后继的频率
func (g *OMGIRGenerator) frequencies(taken, notTaken *ir.BasicBlock) (ir.FrequentedBlock, ir.FrequentedBlock) {
	t := ir.FrequentedBlock{Block: taken}
	n := ir.FrequentedBlock{Block: notTaken}
	switch g.branchHint() {
	case wasm.BranchHintLikely:
		n.Frequency = ir.FrequencyRare
	case wasm.BranchHintUnlikely:
		t.Frequency = ir.FrequencyRare
	}
	return t, n
}

func (g *OMGIRGenerator) newControl(sig *wasm.FunctionSignature, bt BlockType, stackSize uint32,
	continuation, special *ir.BasicBlock) *ControlData {
	c := newControlData(g.proc, sig, bt, stackSize, continuation, special)
	c.tryDepth = g.tryDepth
	return c
}

// AddTopLevel 函数级结构；根函数在这里插入入口处的分层计数
func (g *OMGIRGenerator) AddTopLevel(sig *wasm.FunctionSignature) (*ControlData, error) {
	c := g.newControl(sig, BlockTopLevel, 0, g.proc.AddBlock(), nil)
	if g.shouldEmitTierUpChecks() {
		g.emitEntryTierUpCheck()
	}
	return c, nil
}

// AddBlock block
func (g *OMGIRGenerator) AddBlock(sig *wasm.FunctionSignature, enclosing, newStack Stack) (*ControlData, error) {
	c := g.newControl(sig, BlockBlock, g.stackSize-uint32(len(newStack)), g.proc.AddBlock(), nil)
	g.traceCF("block", controlField(c))
	return c, nil
}

// AddLoop loop：参数经循环头的 phi 进入循环体
func (g *OMGIRGenerator) AddLoop(sig *wasm.FunctionSignature, enclosing, newStack Stack, loopIndex uint32) (*ControlData, error) {
	body := g.proc.AddBlock()
	c := g.newControl(sig, BlockLoop, g.stackSize-uint32(len(newStack)), g.proc.AddBlock(), body)

	g.unify(c.phis, newStack)
	g.currentBlock.AppendJump(body)
	g.currentBlock = body
	g.placePhis(c.phis)
	for i, te := range newStack {
		body.AppendSet(te.Value, c.phis[i])
	}

	if !g.isInlined() {
		if int64(loopIndex) == g.loopIndexForOSREntry {
			g.emitOSREntry(c, newStack)
		}
		if g.shouldEmitTierUpChecks() {
			g.emitLoopTierUpCheck(loopIndex)
		}
		g.outerLoops = append(g.outerLoops, loopIndex)
	}
	g.traceCF("loop", controlField(c), zap.Uint32("loopIndex", loopIndex))
	return c, nil
}

// AddIf if：块参数先复制一份，else 分支从副本恢复
func (g *OMGIRGenerator) AddIf(condition *ir.Variable, sig *wasm.FunctionSignature, enclosing, newStack Stack) (*ControlData, error) {
	cond := g.get(condition)
	taken := g.proc.AddBlock()
	notTaken := g.proc.AddBlock()
	c := g.newControl(sig, BlockIf, g.stackSize-uint32(len(newStack)), g.proc.AddBlock(), notTaken)

	c.elseArgs = make([]*ir.Variable, len(newStack))
	for i, te := range newStack {
		v := g.proc.AddVariable(te.Value.Type)
		g.currentBlock.AppendSet(v, g.get(te.Value))
		c.elseArgs[i] = v
	}
	t, n := g.frequencies(taken, notTaken)
	g.currentBlock.AppendBranch(cond, t, n)
	g.currentBlock = taken
	g.traceCF("if", controlField(c))
	return c, nil
}

// AddElse then 分支可达地结束
func (g *OMGIRGenerator) AddElse(entry *ControlEntry, current Stack) error {
	c := entry.Control
	g.unify(c.phis, current)
	g.currentBlock.AppendJump(c.continuation)
	g.enterElse(entry)
	return nil
}

// AddElseToUnreachable then 分支以不可达结束
func (g *OMGIRGenerator) AddElseToUnreachable(entry *ControlEntry) error {
	g.enterElse(entry)
	return nil
}

func (g *OMGIRGenerator) enterElse(entry *ControlEntry) {
	c := entry.Control
	g.currentBlock = c.special
	for i, te := range entry.ElseBlockStack {
		g.currentBlock.AppendSet(te.Value, g.get(c.elseArgs[i]))
	}
	g.stackSize = c.stackSize + uint32(len(entry.ElseBlockStack))
	entry.Control = c.convertIfToBlock()
	g.traceCF("else", controlField(entry.Control))
}

// AddTry try：占用一个调用点索引作为区间起点
func (g *OMGIRGenerator) AddTry(sig *wasm.FunctionSignature, enclosing, newStack Stack) (*ControlData, error) {
	g.tryDepth++
	g.root.hasExceptionHandlers = true
	c := newTryControl(g.proc, sig, g.stackSize-uint32(len(newStack)), g.proc.AddBlock(),
		g.advanceCallSiteIndex(), g.tryDepth)
	g.traceCF("try", controlField(c))
	return c, nil
}

// AddReturn return
func (g *OMGIRGenerator) AddReturn(topLevel *ControlData, values Stack) error {
	n := topLevel.signature.ReturnCount()
	g.emitReturn(g.getTop(values, n))
	return nil
}

// emitReturn 根函数按调用约定返回；内联展开写结果变量并跳回调用者
func (g *OMGIRGenerator) emitReturn(values []*ir.Value) {
	if g.isInlined() {
		for i, v := range values {
			g.currentBlock.AppendSet(g.inlinedResults[i], v)
		}
		g.currentBlock.AppendJump(g.returnContinuation)
		return
	}
	reps := make([]ir.ValueRep, len(values))
	for i := range values {
		reps[i] = g.callInfo.Results[i].CalleeRep()
	}
	g.currentBlock.AppendPatchpoint(ir.Void, &ir.Patchpoint{Kind: ir.PatchReturn, Reps: reps, Terminal: true}, values...)
}

// AddBranch br
func (g *OMGIRGenerator) AddBranch(target *ControlData, values Stack) error {
	g.unify(target.phis, values)
	g.currentBlock.AppendJump(target.targetBlockForBranch())
	g.traceCF("br", controlField(target))
	return nil
}

// AddBranchIf br_if
func (g *OMGIRGenerator) AddBranchIf(target *ControlData, condition *ir.Variable, values Stack) error {
	cond := g.get(condition)
	g.unify(target.phis, values)
	continuation := g.proc.AddBlock()
	t, n := g.frequencies(target.targetBlockForBranch(), continuation)
	g.currentBlock.AppendBranch(cond, t, n)
	g.currentBlock = continuation
	return nil
}

// AddBranchNull br_on_null / br_on_non_null
func (g *OMGIRGenerator) AddBranchNull(target *ControlData, ref *ir.Variable, values Stack, negate bool) (*ir.Variable, error) {
	r := g.get(ref)
	op := ir.Equal
	if negate {
		op = ir.NotEqual
	}
	cond := g.emit(op, ir.Int32, r, g.const64(wasm.NullRef))
	g.unify(target.phis, values)
	continuation := g.proc.AddBlock()
	t, n := g.frequencies(target.targetBlockForBranch(), continuation)
	g.currentBlock.AppendBranch(cond, t, n)
	g.currentBlock = continuation
	if negate {
		return nil, nil
	}
	return g.push(r)
}

// AddBranchCast br_on_cast / br_on_cast_fail
func (g *OMGIRGenerator) AddBranchCast(target *ControlData, ref *ir.Variable, values Stack,
	allowNull bool, heap wasm.HeapType, negate bool) error {
	test := g.emitRefTest(g.get(ref), allowNull, heap)
	if negate {
		test = g.emit(ir.Equal, ir.Int32, test, g.const32(0))
	}
	g.unify(target.phis, values)
	continuation := g.proc.AddBlock()
	t, n := g.frequencies(target.targetBlockForBranch(), continuation)
	g.currentBlock.AppendBranch(test, t, n)
	g.currentBlock = continuation
	return nil
}

// AddSwitch br_table
func (g *OMGIRGenerator) AddSwitch(condition *ir.Variable, targets []*ControlData, defaultTarget *ControlData, values Stack) error {
	cond := g.get(condition)
	cases := make([]uint64, len(targets))
	succs := make([]ir.FrequentedBlock, len(targets))
	for i, t := range targets {
		g.unify(t.phis, values)
		cases[i] = uint64(i)
		succs[i] = ir.FrequentedBlock{Block: t.targetBlockForBranch()}
	}
	g.unify(defaultTarget.phis, values)
	g.currentBlock.AppendSwitch(cond, cases, succs, ir.FrequentedBlock{Block: defaultTarget.targetBlockForBranch()})
	return nil
}

// EndBlock 可达的 end
func (g *OMGIRGenerator) EndBlock(entry *ControlEntry, current Stack) ([]*ir.Variable, error) {
	c := entry.Control
	g.traceCF("end", controlField(c))
	if c.isTry() {
		g.tryDepth--
	}
	if c.blockType == BlockLoop {
		g.popOuterLoop()
		n := c.signature.ReturnCount()
		return current[len(current)-n:].Values(), nil
	}
	g.unify(c.phis, current)
	g.currentBlock.AppendJump(c.continuation)
	return g.enterContinuation(c)
}

// AddEndToUnreachable 以不可达结束的 end
func (g *OMGIRGenerator) AddEndToUnreachable(entry *ControlEntry, current Stack) ([]*ir.Variable, error) {
	c := entry.Control
	g.traceCF("end (unreachable)", controlField(c))
	if c.isTry() {
		g.tryDepth--
	}
	if c.blockType == BlockLoop {
		g.popOuterLoop()
		g.currentBlock = c.continuation
		g.stackSize = c.stackSize
		results := make([]*ir.Variable, 0, len(c.signature.Results))
		for _, t := range c.signature.Results {
			v, err := g.push(g.zeroValue(irType(t)))
			if err != nil {
				return nil, err
			}
			results = append(results, v)
		}
		return results, nil
	}
	return g.enterContinuation(c)
}

// enterContinuation 进入结构的出口块，把 phi 写回栈槽。函数级结构在这里返回。
func (g *OMGIRGenerator) enterContinuation(c *ControlData) ([]*ir.Variable, error) {
	g.currentBlock = c.continuation
	g.stackSize = c.stackSize
	g.placePhis(c.phis)

	results := make([]*ir.Variable, 0, len(c.phis))
	if c.blockType == BlockTopLevel {
		for _, phi := range c.phis {
			slot, err := g.pushSlot(phi.Type)
			if err != nil {
				return nil, err
			}
			results = append(results, slot)
		}
		g.emitReturn(c.phis)
		return results, nil
	}
	for _, phi := range c.phis {
		slot, err := g.push(phi)
		if err != nil {
			return nil, err
		}
		results = append(results, slot)
	}
	return results, nil
}

func (g *OMGIRGenerator) popOuterLoop() {
	if !g.isInlined() && len(g.outerLoops) > 0 {
		g.outerLoops = g.outerLoops[:len(g.outerLoops)-1]
	}
}
