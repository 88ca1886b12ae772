// osr.go - 分层计数与 OSR 入口
//
// 根函数在入口和每个循环头把计数器加上增量，加到非负时请求升级。
// 计数器是 32 位有符号整数，运行时把它初始化为 -Threshold；
// 同一函数的入口和循环共用实例计数器数组中的同一项。
//
// 循环头的检查是一个 patchpoint，带着恢复执行所需的全部活跃值。运行时
// 可以据此把当前激活迁移到为该循环编译的 OSR 版本：OSR 版本在循环头之前
// 多一个入口块，按同样的顺序从暂存缓冲区读回这些值，然后跳进循环体。

package jit

import (
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/tangzhangming/novaomg/internal/jit/ir"
	"github.com/tangzhangming/novaomg/internal/wasm"
)

// NoOuterLoop 最外层循环的外层循环索引
const NoOuterLoop = -1

// TierUpCount 一个函数的分层信息。生成 IR 时记录循环的嵌套关系，
// 运行时累积触发次数。
type TierUpCount struct {
	mu         sync.RWMutex
	outerLoops map[uint32]int64

	EntryTriggers atomic.Uint32
	LoopTriggers  atomic.Uint32
}

// NewTierUpCount 创建分层信息
func NewTierUpCount() *TierUpCount {
	return &TierUpCount{outerLoops: make(map[uint32]int64)}
}

// AddOuterLoop 记录 loop 的直接外层循环，没有时为 NoOuterLoop
func (t *TierUpCount) AddOuterLoop(loop uint32, outer int64) {
	t.mu.Lock()
	t.outerLoops[loop] = outer
	t.mu.Unlock()
}

// OuterLoop 查询 loop 的直接外层循环
func (t *TierUpCount) OuterLoop(loop uint32) (int64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	outer, ok := t.outerLoops[loop]
	return outer, ok
}

// LoopCount 已记录的循环个数
func (t *TierUpCount) LoopCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.outerLoops)
}

// ============================================================================
// 计数器
// ============================================================================

// shouldEmitTierUpChecks 只有普通编译的根函数插入计数器
func (g *OMGIRGenerator) shouldEmitTierUpChecks() bool {
	return !g.isInlined() && g.opts.TierUp.Enabled && g.tierUp != nil && g.loopIndexForOSREntry < 0
}

// emitCounterIncrement 计数器加上 increment，返回计数器数组、偏移和新值
func (g *OMGIRGenerator) emitCounterIncrement(increment int32) (*ir.Value, int32, *ir.Value) {
	counters := g.load(ir.Load, ir.Int64, g.instanceValue(), wasm.InstanceOffsetTierUpCounters)
	off := int32(4 * g.info.ToInternalIndex(g.functionIndex))
	old := g.currentBlock.AppendLoad(ir.Load, ir.Int32, counters, off)
	updated := g.emit(ir.Add, ir.Int32, old, g.const32(increment))
	g.currentBlock.AppendStore(ir.Store, updated, counters, off)
	return counters, off, updated
}

// emitEntryTierUpCheck 函数入口的计数
func (g *OMGIRGenerator) emitEntryTierUpCheck() {
	_, _, count := g.emitCounterIncrement(g.opts.TierUp.FunctionEntryIncrement)
	tierUp, cont := g.proc.AddBlock(), g.proc.AddBlock()
	g.currentBlock.AppendBranch(g.emit(ir.GreaterEqual, ir.Int32, count, g.const32(0)),
		ir.FrequentedBlock{Block: tierUp, Frequency: ir.FrequencyRare}, ir.FrequentedBlock{Block: cont})

	g.currentBlock = tierUp
	g.currentBlock.AppendCCall(ir.Void, ir.OpTierUp, g.instanceValue(), g.const32(int32(g.functionIndex)))
	g.currentBlock.AppendJump(cont)
	g.currentBlock = cont
}

// emitLoopTierUpCheck 循环头的计数。触发时的 patchpoint 带着计数器地址和全部活跃值。
func (g *OMGIRGenerator) emitLoopTierUpCheck(loopIndex uint32) {
	outer := int64(NoOuterLoop)
	if n := len(g.outerLoops); n > 0 {
		outer = int64(g.outerLoops[n-1])
	}
	g.tierUp.AddOuterLoop(loopIndex, outer)

	counters, off, count := g.emitCounterIncrement(g.opts.TierUp.LoopIncrement)
	tierUp, cont := g.proc.AddBlock(), g.proc.AddBlock()
	g.currentBlock.AppendBranch(g.emit(ir.GreaterEqual, ir.Int32, count, g.const32(0)),
		ir.FrequentedBlock{Block: tierUp, Frequency: ir.FrequencyRare}, ir.FrequentedBlock{Block: cont})

	g.currentBlock = tierUp
	vars := g.liveVariables(false)
	children := make([]*ir.Value, 0, len(vars)+1)
	children = append(children, g.emit(ir.Add, ir.Int64, counters, g.const64(int64(off))))
	for _, v := range vars {
		children = append(children, g.get(v))
	}
	p := &ir.Patchpoint{Kind: ir.PatchLoopTierUp, LoopIndex: loopIndex, Reps: []ir.ValueRep{ir.SomeRegister()}}
	g.currentBlock.AppendPatchpoint(ir.Void, p, children...)
	g.currentBlock.AppendJump(cont)

	g.osrEntryScratchBufferSize = max(g.osrEntryScratchBufferSize, ScratchBufferSize(len(vars), g.usesSIMD))
	g.currentBlock = cont
}

// ============================================================================
// OSR 入口
// ============================================================================

// emitOSREntry 为 OSR 编译的目标循环新建入口块。暂存缓冲区的最后
// len(newStack) 项是循环参数，交给循环头的 phi；其余写回各自的变量。
func (g *OMGIRGenerator) emitOSREntry(c *ControlData, newStack Stack) {
	saved := g.currentBlock
	entry := g.proc.AddBlock()
	g.rootBlocks = append(g.rootBlocks, entry)
	g.osrEntrypoint = len(g.rootBlocks) - 1
	g.currentBlock = entry

	vars := g.liveVariables(false)
	buffer := g.argumentRegister(argumentGPR0)
	slot := scratchSlotSize(g.usesSIMD)
	params := len(vars) - len(newStack)
	for i, v := range vars {
		val := g.load(ir.Load, v.Type, buffer, uint32(i)*slot)
		if i < params {
			g.currentBlock.AppendSet(v, val)
			continue
		}
		g.currentBlock.AppendUpsilon(val, c.phis[i-params])
	}
	g.reloadMemoryRegistersFromInstance()
	g.currentBlock.AppendJump(c.special)

	g.osrEntryScratchBufferSize = max(g.osrEntryScratchBufferSize, ScratchBufferSize(len(vars), g.usesSIMD))
	g.log.Debug("osr entry", zap.Uint32("function", g.functionIndex),
		zap.Int64("loop", g.loopIndexForOSREntry), zap.Int("values", len(vars)))
	g.currentBlock = saved
}
