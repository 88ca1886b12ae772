// function_table.go - 被调函数组
//
// 一个模块的全部函数共用一个 CalleeGroup：
// 1. 提供模块信息、实例布局和函数体，供生成器（包括内联）读取
// 2. 记录每个函数的编译状态和编译结果
// 3. 给每个函数分配代码地址，链接编译结果中的直接调用
// 4. 记录调用点，便于重新编译后找到需要改写的调用者

package jit

import (
	"sort"
	"sync"

	"go.uber.org/atomic"

	"github.com/tangzhangming/novaomg/internal/bytecode"
	cerrors "github.com/tangzhangming/novaomg/internal/errors"
	"github.com/tangzhangming/novaomg/internal/wasm"
)

// ============================================================================
// 函数状态
// ============================================================================

// FunctionState 函数的编译状态
type FunctionState int32

const (
	FuncStateNone FunctionState = iota
	FuncStateCompiling
	FuncStateCompiled
	FuncStateFailed
)

var functionStateNames = [...]string{"none", "compiling", "compiled", "failed"}

func (s FunctionState) String() string {
	if int(s) < len(functionStateNames) {
		return functionStateNames[s]
	}
	return "?"
}

// 模块内函数的代码地址：CodeAddressBase + 序号 * CodeAddressStride
const (
	CodeAddressBase   = 0x10000000
	CodeAddressStride = 0x10
)

// PatchSite 调用某个函数的调用点
type PatchSite struct {
	Caller        uint32 `json:"caller"`
	CallSiteIndex uint32 `json:"callSiteIndex"`
	TailCall      bool   `json:"tailCall"`
}

// CalleeEntry 一个模块内函数
type CalleeEntry struct {
	FunctionIndex uint32
	State         FunctionState
	Result        *CompilationResult
	Entrypoint    uint64
	Callers       []PatchSite
}

// ============================================================================
// CalleeGroup
// ============================================================================

// CalleeGroup 一个模块的函数组
type CalleeGroup struct {
	mu      sync.RWMutex
	info    *wasm.ModuleInformation
	layout  *wasm.InstanceLayout
	bodies  []*bytecode.Function
	entries []*CalleeEntry

	inlineStats *InlineStats
	compiled    atomic.Uint32
	failed      atomic.Uint32
	linkedCalls atomic.Uint32
}

// NewCalleeGroup 创建函数组。bodies 按模块内函数序号排列。
func NewCalleeGroup(info *wasm.ModuleInformation, bodies []*bytecode.Function) (*CalleeGroup, error) {
	if want := info.InternalFunctionCount(); uint32(len(bodies)) != want {
		return nil, cerrors.New(cerrors.E0403, "module declares %d functions but has %d bodies", want, len(bodies))
	}
	g := &CalleeGroup{
		info:        info,
		layout:      wasm.NewInstanceLayout(info),
		bodies:      bodies,
		entries:     make([]*CalleeEntry, len(bodies)),
		inlineStats: &InlineStats{},
	}
	imports := info.ImportFunctionCount()
	for i := range bodies {
		g.entries[i] = &CalleeEntry{
			FunctionIndex: imports + uint32(i),
			Entrypoint:    CodeAddressBase + uint64(i)*CodeAddressStride,
		}
	}
	return g, nil
}

// Info 模块信息
func (g *CalleeGroup) Info() *wasm.ModuleInformation { return g.info }

// Layout 实例布局
func (g *CalleeGroup) Layout() *wasm.InstanceLayout { return g.layout }

// Body 函数体；导入函数没有函数体
func (g *CalleeGroup) Body(functionIndex uint32) *bytecode.Function {
	if g.info.IsImportedFunction(functionIndex) {
		return nil
	}
	i := g.info.ToInternalIndex(functionIndex)
	if int(i) >= len(g.bodies) {
		return nil
	}
	return g.bodies[i]
}

// InlineStats 内联统计
func (g *CalleeGroup) InlineStats() InlineSnapshot { return g.inlineStats.Snapshot() }

func (g *CalleeGroup) entry(functionIndex uint32) *CalleeEntry {
	if g.info.IsImportedFunction(functionIndex) {
		return nil
	}
	i := g.info.ToInternalIndex(functionIndex)
	if int(i) >= len(g.entries) {
		return nil
	}
	return g.entries[i]
}

// State 函数的编译状态
func (g *CalleeGroup) State(functionIndex uint32) FunctionState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if e := g.entry(functionIndex); e != nil {
		return e.State
	}
	return FuncStateNone
}

// setState 更新状态
func (g *CalleeGroup) setState(functionIndex uint32, s FunctionState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e := g.entry(functionIndex); e != nil {
		e.State = s
		if s == FuncStateFailed {
			g.failed.Inc()
		}
	}
}

// Entrypoint 函数的代码地址
func (g *CalleeGroup) Entrypoint(functionIndex uint32) (uint64, bool) {
	e := g.entry(functionIndex)
	if e == nil {
		return 0, false
	}
	return e.Entrypoint, true
}

// FunctionAtAddress 代码地址对应的函数索引
func (g *CalleeGroup) FunctionAtAddress(addr uint64) (uint32, bool) {
	if addr < CodeAddressBase || (addr-CodeAddressBase)%CodeAddressStride != 0 {
		return 0, false
	}
	i := (addr - CodeAddressBase) / CodeAddressStride
	if i >= uint64(len(g.entries)) {
		return 0, false
	}
	return g.entries[i].FunctionIndex, true
}

// Result 函数最近一次安装的编译结果
func (g *CalleeGroup) Result(functionIndex uint32) *CompilationResult {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if e := g.entry(functionIndex); e != nil {
		return e.Result
	}
	return nil
}

// inlineCandidate 内联决策读取的被调者状态
type inlineCandidate struct {
	body *bytecode.Function
	// 被调者已安装的代码是否带异常处理器；未安装时为 false
	hasHandlers bool
}

// inlineCandidate 在锁内读取被调者状态，其它任务可能正在安装它的结果
func (g *CalleeGroup) inlineCandidate(functionIndex uint32) (inlineCandidate, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e := g.entry(functionIndex)
	if e == nil {
		return inlineCandidate{}, false
	}
	c := inlineCandidate{body: g.bodies[g.info.ToInternalIndex(functionIndex)]}
	if e.Result != nil {
		c.hasHandlers = e.Result.HasExceptionHandlers
	}
	return c, true
}

// Install 链接编译结果并记录为函数的当前代码。OSR 版本只链接不替换。
func (g *CalleeGroup) Install(result *CompilationResult) error {
	if err := g.Link(result); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.entry(result.FunctionIndex)
	if e == nil {
		return cerrors.New(cerrors.E0004, "function %d has no body", result.FunctionIndex)
	}
	if !result.IsOSREntry() {
		e.Result = result
	}
	e.State = FuncStateCompiled
	g.compiled.Inc()
	return nil
}

// Link 把结果中的未链接调用解析为代码地址。同一个结果只能链接一次。
func (g *CalleeGroup) Link(result *CompilationResult) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if result.CallTargets != nil {
		return cerrors.New(cerrors.E0401, "function %d is already linked", result.FunctionIndex)
	}
	targets := make(map[uint32]uint64, len(result.UnlinkedCalls))
	for _, call := range result.UnlinkedCalls {
		e := g.entry(call.FunctionIndex)
		if e == nil {
			return cerrors.New(cerrors.E0400, "call site %d targets function %d which has no code",
				call.CallSiteIndex, call.FunctionIndex).InFunction(result.FunctionIndex, -1)
		}
		if _, dup := targets[call.CallSiteIndex]; dup {
			return cerrors.New(cerrors.E0401, "call site %d is linked twice", call.CallSiteIndex).
				InFunction(result.FunctionIndex, -1)
		}
		targets[call.CallSiteIndex] = e.Entrypoint
		e.Callers = append(e.Callers, PatchSite{
			Caller:        result.FunctionIndex,
			CallSiteIndex: call.CallSiteIndex,
			TailCall:      call.TailCall,
		})
	}
	result.CallTargets = targets
	g.linkedCalls.Add(uint32(len(targets)))
	return nil
}

// Callers 调用该函数的调用点，按调用者和调用点排序
func (g *CalleeGroup) Callers(functionIndex uint32) []PatchSite {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e := g.entry(functionIndex)
	if e == nil {
		return nil
	}
	out := append([]PatchSite(nil), e.Callers...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Caller != out[j].Caller {
			return out[i].Caller < out[j].Caller
		}
		return out[i].CallSiteIndex < out[j].CallSiteIndex
	})
	return out
}

// GroupStats 函数组的计数
type GroupStats struct {
	Functions   int            `json:"functions"`
	Compiled    uint32         `json:"compiled"`
	Failed      uint32         `json:"failed"`
	LinkedCalls uint32         `json:"linkedCalls"`
	Inline      InlineSnapshot `json:"inline"`
}

// Stats 读取计数
func (g *CalleeGroup) Stats() GroupStats {
	return GroupStats{
		Functions:   len(g.entries),
		Compiled:    g.compiled.Load(),
		Failed:      g.failed.Load(),
		LinkedCalls: g.linkedCalls.Load(),
		Inline:      g.inlineStats.Snapshot(),
	}
}
