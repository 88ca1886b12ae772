// inliner.go - 直接调用的内联
//
// 内联在生成 IR 的同时进行：遇到可以内联的直接调用时，为被调函数创建
// 子生成器，在同一个 Procedure 里继续解析被调函数体。被调者的返回值写入
// 调用者新建的结果变量，返回语句跳到调用点之后的出口块。
//
// 内联策略：
// 1. 导入函数和可能切换实例的函数：不内联
// 2. 递归调用：不内联
// 3. 函数体不小于 MaxCalleeSize：不内联
// 4. 嵌套深度达到 MaxDepth：不内联
// 5. 根函数累计内联的指令数将达到 MaxCallerSize：不内联
// 6. 包含尾调用的函数：不内联
// 7. 使用 SIMD 而根函数没有使用：不内联

package jit

import (
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/tangzhangming/novaomg/internal/bytecode"
	"github.com/tangzhangming/novaomg/internal/jit/ir"
	"github.com/tangzhangming/novaomg/internal/wasm"
)

// ============================================================================
// 内联决策
// ============================================================================

// inlineRejection 不内联的原因；inlineAccepted 表示可以内联
type inlineRejection uint8

const (
	inlineAccepted inlineRejection = iota
	inlineDisabled
	inlineClobbersInstance
	inlineRecursive
	inlineTooLarge
	inlineTooDeep
	inlineOverBudget
	inlineHasTailCalls
	inlineUsesSIMD
)

var inlineRejectionNames = [...]string{
	"accepted", "disabled", "may clobber instance", "recursive call",
	"callee too large", "max depth reached", "caller budget exhausted",
	"callee makes tail calls", "callee uses SIMD",
}

func (r inlineRejection) String() string {
	if int(r) < len(inlineRejectionNames) {
		return inlineRejectionNames[r]
	}
	return "?"
}

// InlineStats 内联统计，编译任务之间并发更新
type InlineStats struct {
	Attempted      atomic.Uint32
	Inlined        atomic.Uint32
	SkippedTooBig  atomic.Uint32
	SkippedRecurse atomic.Uint32
	SkippedBudget  atomic.Uint32
	SkippedOther   atomic.Uint32
	InlinedBytes   atomic.Uint64
}

// InlineSnapshot 某一时刻的内联统计
type InlineSnapshot struct {
	Attempted      uint32 `json:"attempted"`
	Inlined        uint32 `json:"inlined"`
	SkippedTooBig  uint32 `json:"skippedTooBig"`
	SkippedRecurse uint32 `json:"skippedRecurse"`
	SkippedBudget  uint32 `json:"skippedBudget"`
	SkippedOther   uint32 `json:"skippedOther"`
	InlinedBytes   uint64 `json:"inlinedBytes"`
}

// Snapshot 读取当前统计
func (s *InlineStats) Snapshot() InlineSnapshot {
	return InlineSnapshot{
		Attempted:      s.Attempted.Load(),
		Inlined:        s.Inlined.Load(),
		SkippedTooBig:  s.SkippedTooBig.Load(),
		SkippedRecurse: s.SkippedRecurse.Load(),
		SkippedBudget:  s.SkippedBudget.Load(),
		SkippedOther:   s.SkippedOther.Load(),
		InlinedBytes:   s.InlinedBytes.Load(),
	}
}

func (s *InlineStats) record(r inlineRejection) {
	if s == nil {
		return
	}
	s.Attempted.Inc()
	switch r {
	case inlineAccepted:
		s.Inlined.Inc()
	case inlineTooLarge:
		s.SkippedTooBig.Inc()
	case inlineRecursive:
		s.SkippedRecurse.Inc()
	case inlineTooDeep, inlineOverBudget:
		s.SkippedBudget.Inc()
	default:
		s.SkippedOther.Inc()
	}
}

// hasTailCalls 函数体中是否有尾调用指令
func hasTailCalls(fn *bytecode.Function) bool {
	for i := range fn.Code {
		if fn.Code[i].Op.IsTailCall() {
			return true
		}
	}
	return false
}

// inlineDecision 判断能否在当前位置内联 callee
func (g *OMGIRGenerator) inlineDecision(callee uint32) (inlineCandidate, inlineRejection) {
	c, r := g.decideInlining(callee)
	g.root.inlineStats.record(r)
	return c, r
}

func (g *OMGIRGenerator) decideInlining(callee uint32) (inlineCandidate, inlineRejection) {
	opts := &g.opts.Inline
	if !opts.Enabled {
		return inlineCandidate{}, inlineDisabled
	}
	if g.info.CallCanClobberInstance(callee) {
		return inlineCandidate{}, inlineClobbersInstance
	}
	for f := g; f != nil; f = f.parent {
		if f.functionIndex == callee {
			return inlineCandidate{}, inlineRecursive
		}
	}
	c, ok := g.group.inlineCandidate(callee)
	if !ok {
		return c, inlineClobbersInstance
	}
	body := c.body
	size := body.Size()
	if size >= opts.MaxCalleeSize {
		return c, inlineTooLarge
	}
	if g.inlineDepth+1 > opts.MaxDepth {
		return c, inlineTooDeep
	}
	if g.root.inlinedBytes+size >= opts.MaxCallerSize {
		return c, inlineOverBudget
	}
	if hasTailCalls(body) {
		return c, inlineHasTailCalls
	}
	if !g.root.usesSIMD && functionUsesSIMD(body, g.info.Signature(callee)) {
		return c, inlineUsesSIMD
	}
	return c, inlineAccepted
}

// ============================================================================
// 内联展开
// ============================================================================

// emitInlinedCall 在当前块展开 callee。被调者占用的调用点区间记录为代码来源，
// 运行时据此把异常和栈回溯归到内联的函数。进入展开体前帧中写入区间起点，
// 返回后写入区间之外的新索引。
func (g *OMGIRGenerator) emitInlinedCall(callee uint32, c inlineCandidate, sig *wasm.FunctionSignature, args []*ir.Value) ([]*ir.Variable, error) {
	root := g.root
	size := c.body.Size()
	root.inlinedBytes += size
	if root.inlineStats != nil {
		root.inlineStats.InlinedBytes.Add(uint64(size))
	}
	if c.hasHandlers {
		root.hasExceptionHandlers = true
	}

	results := make([]*ir.Variable, len(sig.Results))
	for i, t := range sig.Results {
		results[i] = g.proc.AddVariable(irType(t))
	}
	continuation := g.proc.AddBlock()

	first := g.advanceCallSiteIndex()
	g.storeCallSiteIndex(first)
	child := g.newInlineGenerator(callee, args, results, continuation)
	g.log.Debug("inlining", zap.Uint32("caller", g.functionIndex), zap.Uint32("callee", callee),
		zap.Uint32("depth", child.inlineDepth))
	if err := child.parser.Parse(); err != nil {
		return nil, err
	}
	last := g.advanceCallSiteIndex()
	root.codeOrigins = append(root.codeOrigins, CodeOrigin{FirstCallSite: first, LastCallSite: last, Callee: callee})

	g.currentBlock = continuation
	out := make([]*ir.Variable, len(results))
	for i, r := range results {
		v, err := g.push(g.currentBlock.AppendGet(r))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	g.storeCallSiteIndex(g.advanceCallSiteIndex())
	return out, nil
}
