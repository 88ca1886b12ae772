// compiler.go - 编译驱动
//
// Compiler 把一个函数（或它的某个循环的 OSR 版本）编译成 IR：
// 1. 检查 SIMD 可用性
// 2. 创建根生成器，由解析器驱动生成 IR
// 3. 收尾：常量、栈检查、入口切换、删除不可达块、校验
// 4. 链接直接调用并安装到 CalleeGroup
//
// CompileModule 用固定数量的工作协程并发编译所有函数，
// 失败的函数不影响其它函数，全部错误合并返回。

package jit

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	cerrors "github.com/tangzhangming/novaomg/internal/errors"
	"github.com/tangzhangming/novaomg/internal/jit/ir"
)

// ============================================================================
// 编译结果
// ============================================================================

// CompilationResult 一个函数的编译产物
type CompilationResult struct {
	FunctionIndex uint32
	Procedure     *ir.Procedure

	Handlers      HandlerTable
	StackMaps     StackMaps
	UnlinkedCalls []UnlinkedCall
	// CallTargets 调用点索引 -> 代码地址，由 CalleeGroup.Link 填写
	CallTargets map[uint32]uint64
	CodeOrigins []CodeOrigin

	// LoopIndexForOSREntry 非负时这是该循环的 OSR 版本
	LoopIndexForOSREntry      int64
	OSREntrypoint             int
	OSREntryScratchBufferSize uint32

	CallSiteCount        uint32
	HasStackCheck        bool
	StackCheckSize       uint32
	UsesSIMD             bool
	HasExceptionHandlers bool
	TierUp               *TierUpCount
}

// IsOSREntry 是否为 OSR 版本
func (r *CompilationResult) IsOSREntry() bool { return r.LoopIndexForOSREntry >= 0 }

// FunctionAtCallSite 调用点所在的函数（考虑内联）
func (r *CompilationResult) FunctionAtCallSite(callSite uint32) uint32 {
	return FunctionAt(r.CodeOrigins, callSite, r.FunctionIndex)
}

// ============================================================================
// 编译器
// ============================================================================

// CompilerStats 编译统计
type CompilerStats struct {
	Compiled     atomic.Uint32
	Failed       atomic.Uint32
	OSREntries   atomic.Uint32
	IRValues     atomic.Uint64
	CompileNanos atomic.Int64
}

// Compiler 一个模块的 OMG 编译器
type Compiler struct {
	group *CalleeGroup
	opts  *Options
	log   *zap.Logger

	mu     sync.Mutex
	tierUp map[uint32]*TierUpCount

	stats CompilerStats
}

// NewCompiler 创建编译器，opts 为空时使用默认配置
func NewCompiler(group *CalleeGroup, opts *Options) (*Compiler, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Compiler{
		group:  group,
		opts:   opts,
		log:    opts.logger(),
		tierUp: make(map[uint32]*TierUpCount),
	}, nil
}

// Group 函数组
func (c *Compiler) Group() *CalleeGroup { return c.group }

// Stats 统计
func (c *Compiler) Stats() *CompilerStats { return &c.stats }

// TierUpCount 函数的分层信息，首次访问时创建
func (c *Compiler) TierUpCount(functionIndex uint32) *TierUpCount {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tierUp[functionIndex]
	if !ok {
		t = NewTierUpCount()
		c.tierUp[functionIndex] = t
	}
	return t
}

// Compile 编译函数并安装
func (c *Compiler) Compile(ctx context.Context, functionIndex uint32) (*CompilationResult, error) {
	return c.compileAndInstall(ctx, functionIndex, -1)
}

// CompileOSREntry 编译从第 loopIndex 个循环进入的 OSR 版本
func (c *Compiler) CompileOSREntry(ctx context.Context, functionIndex, loopIndex uint32) (*CompilationResult, error) {
	return c.compileAndInstall(ctx, functionIndex, int64(loopIndex))
}

func (c *Compiler) compileAndInstall(ctx context.Context, functionIndex uint32, loop int64) (*CompilationResult, error) {
	result, err := c.compile(ctx, functionIndex, loop)
	if err != nil {
		return nil, err
	}
	if err := c.group.Install(result); err != nil {
		return nil, err
	}
	return result, nil
}

// CompileModule 并发编译模块中的全部函数
func (c *Compiler) CompileModule(ctx context.Context) ([]*CompilationResult, error) {
	info := c.group.Info()
	first := info.ImportFunctionCount()
	count := int(info.InternalFunctionCount())
	results := make([]*CompilationResult, count)
	errs := make([]error, count)

	jobs := make(chan int)
	var wg sync.WaitGroup
	workers := min(c.opts.WorkerCount(), max(count, 1))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i], errs[i] = c.compileAndInstall(ctx, first+uint32(i), -1)
			}
		}()
	}
	for i := 0; i < count; i++ {
		if ctx.Err() != nil {
			errs[i] = ctx.Err()
			continue
		}
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	var err error
	for _, e := range errs {
		err = multierr.Append(err, e)
	}
	out := results[:0]
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FunctionIndex < out[j].FunctionIndex })
	return out, err
}

// compile 生成一个函数的 IR
func (c *Compiler) compile(ctx context.Context, functionIndex uint32, loop int64) (*CompilationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info := c.group.Info()
	body := c.group.Body(functionIndex)
	if body == nil {
		return nil, cerrors.New(cerrors.E0004, "function %d has no body", functionIndex).InFunction(functionIndex, -1)
	}
	start := time.Now()
	c.group.setState(functionIndex, FuncStateCompiling)

	sig := info.Signature(functionIndex)
	usesSIMD := functionUsesSIMD(body, sig)
	if usesSIMD && !(c.opts.SIMD && simdSupported(c.opts.Arch())) {
		c.fail(functionIndex)
		return nil, cerrors.New(cerrors.E0002, "function uses v128 but SIMD is not available on %s", c.opts.Arch()).
			InFunction(functionIndex, -1)
	}

	g := newRootGenerator(generatorConfig{
		group:                c.group,
		opts:                 c.opts,
		functionIndex:        functionIndex,
		loopIndexForOSREntry: loop,
		tierUp:               c.TierUpCount(functionIndex),
		usesSIMD:             usesSIMD,
	})
	if err := g.parser.Parse(); err != nil {
		c.fail(functionIndex)
		return nil, err
	}
	result, err := g.finalize()
	if err != nil {
		c.fail(functionIndex)
		return nil, err
	}

	c.stats.Compiled.Inc()
	if result.IsOSREntry() {
		c.stats.OSREntries.Inc()
	}
	c.stats.IRValues.Add(uint64(result.Procedure.ValueCount()))
	c.stats.CompileNanos.Add(int64(time.Since(start)))
	c.log.Debug("compiled", zap.Uint32("function", functionIndex), zap.Int64("osrLoop", loop),
		zap.Int("blocks", len(result.Procedure.Blocks)), zap.Int("values", result.Procedure.ValueCount()),
		zap.Duration("elapsed", time.Since(start)))
	if c.opts.ShouldDumpIR(functionIndex) {
		c.log.Info("ir", zap.Uint32("function", functionIndex), zap.String("procedure", result.Procedure.String()))
	}
	return result, nil
}

func (c *Compiler) fail(functionIndex uint32) {
	c.stats.Failed.Inc()
	c.group.setState(functionIndex, FuncStateFailed)
}

// finalize 收尾并校验，返回编译结果
func (g *OMGIRGenerator) finalize() (*CompilationResult, error) {
	if g.loopIndexForOSREntry >= 0 && g.osrEntrypoint < 0 {
		return nil, cerrors.New(cerrors.E0004, "function has no loop %d", g.loopIndexForOSREntry).
			InFunction(g.functionIndex, -1)
	}
	g.insertConstants()
	stackCheckSize, hasStackCheck := g.computeStackCheckSize()
	if hasStackCheck {
		g.insertStackCheck(stackCheckSize)
	}
	g.insertEntrySwitch()
	g.proc.ResetReachability()
	if err := g.proc.Validate(); err != nil {
		return nil, cerrors.Wrap(cerrors.CodeOf(err), err, "generated IR is invalid").InFunction(g.functionIndex, -1)
	}

	return &CompilationResult{
		FunctionIndex:             g.functionIndex,
		Procedure:                 g.proc,
		Handlers:                  g.handlers,
		StackMaps:                 g.stackMaps,
		UnlinkedCalls:             g.unlinkedCalls,
		CodeOrigins:               g.codeOrigins,
		LoopIndexForOSREntry:      g.loopIndexForOSREntry,
		OSREntrypoint:             g.osrEntrypoint,
		OSREntryScratchBufferSize: g.osrEntryScratchBufferSize,
		CallSiteCount:             g.callSiteIndex,
		HasStackCheck:             hasStackCheck,
		StackCheckSize:            stackCheckSize,
		UsesSIMD:                  g.usesSIMD,
		HasExceptionHandlers:      g.hasExceptionHandlers,
		TierUp:                    g.tierUp,
	}, nil
}
