package jit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/tangzhangming/novaomg/internal/errors"
	"github.com/tangzhangming/novaomg/internal/jit/ir"
	"github.com/tangzhangming/novaomg/internal/wasm"
)

func patchpoints(proc *ir.Procedure, kind ir.PatchKind) []*ir.Value {
	var out []*ir.Value
	proc.ForEachValue(func(v *ir.Value) {
		if v.Op == ir.PatchpointOp && v.Patch.Kind == kind {
			out = append(out, v)
		}
	})
	return out
}

func noInlining() *Options {
	opts := DefaultOptions()
	opts.Inline.Enabled = false
	return opts
}

func tierUpOptions() *Options {
	opts := DefaultOptions()
	opts.TierUp.Enabled = true
	return opts
}

const countdownLoop = `
local i32
block
  loop
    local.get 1
    local.get 0
    i32.add
    local.set 1
    local.get 0
    i32.const 1
    i32.sub
    local.tee 0
    br_if 0
  end
end
local.get 1
end`

// ============================================================================
// 常量和入口
// ============================================================================

func TestConstantsArePooledInTopLevelBlock(t *testing.T) {
	sig := funcType(vt(wasm.I32), vt(wasm.I32))
	res := compileOne(t, sig, `
local.get 0
i32.const 7
i32.add
i32.const 7
i32.mul
end`, nil)

	var sevens []*ir.Value
	res.Procedure.ForEachValue(func(v *ir.Value) {
		if v.Op == ir.Const32 && v.Int32() == 7 {
			sevens = append(sevens, v)
		}
	})
	require.Len(t, sevens, 1)
	assert.Same(t, res.Procedure.Blocks[0], sevens[0].Owner)

	last := res.Procedure.Blocks[0].Last()
	assert.Equal(t, ir.EntrySwitch, last.Op)
	assert.Equal(t, 1, res.Procedure.NumEntrypoints)

	results, err := runLeaf(t, res, sig.Func, newLeafHost(), ir.I32(3))
	require.NoError(t, err)
	assert.Equal(t, int32(70), results[0].Int32())
}

func TestStackCheckOnlyWhenNeeded(t *testing.T) {
	sig := funcType(vt(wasm.I32), vt(wasm.I32))
	leaf := compileOne(t, sig, "local.get 0\ni32.const 1\ni32.add\nend", nil)
	assert.False(t, leaf.HasStackCheck)
	assert.Empty(t, patchpoints(leaf.Procedure, ir.PatchStackOverflowCheck))

	info := &wasm.ModuleInformation{Types: []wasm.TypeDefinition{sig}}
	g := newGroup(t, info,
		testFunc{body: "local.get 0\nend"},
		testFunc{body: "local.get 0\ncall 0\nend"},
	)
	res, err := newTestCompiler(t, g, noInlining()).Compile(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, res.HasStackCheck)

	checks := patchpoints(res.Procedure, ir.PatchStackOverflowCheck)
	require.Len(t, checks, 1)
	assert.Equal(t, res.StackCheckSize, checks[0].Patch.StackSize)
	assert.Same(t, checks[0], res.Procedure.Blocks[1].Values[0], "check is the first value of the normal entry")
	assert.GreaterOrEqual(t, res.StackCheckSize, uint32(minimumParentCheckSize))
}

// ============================================================================
// 调用
// ============================================================================

func TestDirectCallsAreLinked(t *testing.T) {
	sig := funcType(vt(wasm.I32), vt(wasm.I32))
	info := &wasm.ModuleInformation{Types: []wasm.TypeDefinition{sig}}
	g := newGroup(t, info,
		testFunc{body: "local.get 0\nend"},
		testFunc{body: "local.get 0\ncall 0\nreturn_call 0\nend"},
	)
	res, err := newTestCompiler(t, g, noInlining()).Compile(context.Background(), 1)
	require.NoError(t, err)

	calls := patchpoints(res.Procedure, ir.PatchCall)
	tails := patchpoints(res.Procedure, ir.PatchTailCall)
	require.Len(t, calls, 1)
	require.Len(t, tails, 1)
	assert.True(t, tails[0].Patch.Terminal)

	require.Len(t, res.UnlinkedCalls, 2)
	target, ok := g.Entrypoint(0)
	require.True(t, ok)
	for _, call := range res.UnlinkedCalls {
		assert.Equal(t, uint32(0), call.FunctionIndex)
		assert.Equal(t, target, res.CallTargets[call.CallSiteIndex])
	}

	callers := g.Callers(0)
	require.Len(t, callers, 2)
	assert.Equal(t, PatchSite{Caller: 1, CallSiteIndex: calls[0].Patch.CallSiteIndex}, callers[0])
	assert.Equal(t, PatchSite{Caller: 1, CallSiteIndex: tails[0].Patch.CallSiteIndex, TailCall: true}, callers[1])
	assert.Equal(t, uint32(2), g.Stats().LinkedCalls)
}

func TestImportCallsGoThroughStub(t *testing.T) {
	sig := funcType(vt(wasm.I32), vt(wasm.I32))
	info := &wasm.ModuleInformation{Types: []wasm.TypeDefinition{sig}}
	g := newGroup(t, info,
		testFunc{imported: true},
		testFunc{body: "local.get 0\ncall 0\nend"},
	)
	res, err := newTestCompiler(t, g, nil).Compile(context.Background(), 1)
	require.NoError(t, err)

	assert.Empty(t, res.UnlinkedCalls)
	calls := patchpoints(res.Procedure, ir.PatchCallIndirect)
	require.Len(t, calls, 1)
	p := calls[0].Patch
	assert.Equal(t, uint32(0), p.FunctionIndex)
	require.Len(t, p.Reps, 3)
	assert.Equal(t, ir.RepSomeRegister, p.Reps[0].Kind)
	assert.Equal(t, ir.RegisterRep(ir.GPR0), p.Reps[2])
}

func TestInliningRecordsCodeOrigins(t *testing.T) {
	sig := funcType(vt(wasm.I32), vt(wasm.I32))
	info := &wasm.ModuleInformation{Types: []wasm.TypeDefinition{sig}}
	g := newGroup(t, info,
		testFunc{imported: true},
		testFunc{body: "local.get 0\ncall 0\ni32.const 1\ni32.add\nend"},
		testFunc{body: "local.get 0\ncall 1\ncall 2\nend"},
	)
	res, err := newTestCompiler(t, g, nil).Compile(context.Background(), 2)
	require.NoError(t, err)

	require.Len(t, res.CodeOrigins, 1)
	origin := res.CodeOrigins[0]
	assert.Equal(t, uint32(1), origin.Callee)

	// 内联的 call 0 经导入桩调用，归属被内联的函数 1
	stubCalls := patchpoints(res.Procedure, ir.PatchCallIndirect)
	require.Len(t, stubCalls, 1)
	csi := stubCalls[0].Patch.CallSiteIndex
	assert.True(t, origin.FirstCallSite <= csi && csi <= origin.LastCallSite)
	assert.Equal(t, uint32(1), res.FunctionAtCallSite(csi))

	// 自递归不内联
	direct := patchpoints(res.Procedure, ir.PatchCall)
	require.Len(t, direct, 1)
	assert.Equal(t, uint32(2), direct[0].Patch.FunctionIndex)
	assert.Equal(t, uint32(2), res.FunctionAtCallSite(direct[0].Patch.CallSiteIndex))

	stats := g.InlineStats()
	assert.Equal(t, uint32(1), stats.Inlined)
	assert.Equal(t, uint32(1), stats.SkippedRecurse)
	assert.Positive(t, stats.InlinedBytes)
}

func TestInlinedThrowInsideCallerTry(t *testing.T) {
	info := &wasm.ModuleInformation{
		Types: []wasm.TypeDefinition{funcType(vt(wasm.I32), nil), funcType(vt(wasm.I32), vt(wasm.I32))},
		Tags:  []wasm.TagInformation{{TypeIndex: 0}},
	}
	g := newGroup(t, info,
		testFunc{typ: 1, body: "local.get 0\nthrow 0\nend"},
		testFunc{typ: 1, body: `
try (result i32)
  local.get 0
  call 0
catch 0
end
end`},
	)
	res, err := newTestCompiler(t, g, nil).Compile(context.Background(), 1)
	require.NoError(t, err)

	require.Len(t, res.CodeOrigins, 1)
	origin := res.CodeOrigins[0]
	assert.Equal(t, uint32(0), origin.Callee)

	throws := patchpoints(res.Procedure, ir.PatchThrow)
	require.Len(t, throws, 1)
	p := throws[0].Patch
	assert.True(t, p.HasHandlers)
	assert.Equal(t, uint32(0), res.FunctionAtCallSite(p.CallSiteIndex))
	_, ok := res.Handlers.Lookup(p.CallSiteIndex, 0, true)
	assert.True(t, ok, "the caller's catch covers the inlined throw")

	stored := make(map[uint32]bool)
	res.Procedure.ForEachValue(func(v *ir.Value) {
		if v.Op == ir.Store && v.Imm == wasm.CallFrameOffsetCallSiteIndex && v.Children[0].Op == ir.Const32 {
			stored[uint32(v.Children[0].Int32())] = true
		}
	})
	assert.True(t, stored[origin.FirstCallSite], "entering the inlined body")
	assert.True(t, stored[p.CallSiteIndex], "at the throw")
	assert.True(t, stored[origin.LastCallSite+1], "after returning to the caller")
	assert.Equal(t, uint32(1), res.FunctionAtCallSite(origin.LastCallSite+1))
}

func TestInliningRespectsCalleeSize(t *testing.T) {
	sig := funcType(vt(wasm.I32), vt(wasm.I32))
	info := &wasm.ModuleInformation{Types: []wasm.TypeDefinition{sig}}
	g := newGroup(t, info,
		testFunc{body: "local.get 0\ni32.const 2\ni32.mul\ni32.const 3\ni32.add\nend"},
		testFunc{body: "local.get 0\ncall 0\nend"},
	)
	opts := DefaultOptions()
	opts.Inline.MaxCalleeSize = 3
	res, err := newTestCompiler(t, g, opts).Compile(context.Background(), 1)
	require.NoError(t, err)

	assert.Empty(t, res.CodeOrigins)
	assert.Len(t, patchpoints(res.Procedure, ir.PatchCall), 1)
	assert.Equal(t, uint32(1), g.InlineStats().SkippedTooBig)
}

// ============================================================================
// 异常
// ============================================================================

func TestTryCatchEmitsHandlersAndStackMaps(t *testing.T) {
	info := &wasm.ModuleInformation{
		Types: []wasm.TypeDefinition{
			funcType(vt(wasm.I32), nil),
			funcType(nil, vt(wasm.I32)),
		},
		Tags: []wasm.TagInformation{{TypeIndex: 0}},
	}
	g := newGroup(t, info,
		testFunc{typ: 1, body: "i32.const 5\nthrow 0\nend"},
		testFunc{typ: 1, body: `
local i64
i64.const 9
local.set 0
try (result i32)
  call 0
catch 0
end
end`},
	)
	res, err := newTestCompiler(t, g, noInlining()).Compile(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, res.HasExceptionHandlers)

	require.Len(t, res.Handlers, 1)
	h := res.Handlers[0]
	assert.Equal(t, HandlerCatch, h.Kind)
	assert.Equal(t, uint32(0), h.Tag)
	assert.Positive(t, h.Entrypoint)
	assert.Less(t, h.Entrypoint, res.Procedure.NumEntrypoints)

	calls := patchpoints(res.Procedure, ir.PatchCall)
	require.Len(t, calls, 1)
	p := calls[0].Patch
	assert.True(t, p.HasHandlers)
	found, ok := res.Handlers.Lookup(p.CallSiteIndex, 0, true)
	require.True(t, ok)
	assert.Equal(t, h, *found)
	_, ok = res.Handlers.Lookup(p.CallSiteIndex, 1, true)
	assert.False(t, ok, "other tags are not caught")

	stackMap, ok := res.StackMaps[p.CallSiteIndex]
	require.True(t, ok)
	assert.Equal(t, len(calls[0].Children)-p.StackmapFirst, stackMap.Len())
	assert.Contains(t, stackMap.Types, ir.Int64)

	// 调用点索引在每个可能抛出的调用前写入帧
	var csiStores int
	res.Procedure.ForEachValue(func(v *ir.Value) {
		if v.Op == ir.Store && v.Imm == wasm.CallFrameOffsetCallSiteIndex {
			csiStores++
		}
	})
	assert.GreaterOrEqual(t, csiStores, 2)
}

func TestEntryClearsCallSiteIndex(t *testing.T) {
	info := &wasm.ModuleInformation{
		Types: []wasm.TypeDefinition{funcType(vt(wasm.I32), nil), funcType(vt(wasm.I32), vt(wasm.I32))},
		Tags:  []wasm.TagInformation{{TypeIndex: 0}},
	}
	g := newGroup(t, info, testFunc{typ: 1, body: `
try (result i32)
  local.get 0
  throw 0
catch 0
end
end`})
	res, err := newTestCompiler(t, g, nil).Compile(context.Background(), 0)
	require.NoError(t, err)
	require.NoError(t, res.Procedure.Validate())

	var entry *ir.Value
	res.Procedure.ForEachValue(func(v *ir.Value) {
		if v.Op == ir.Store && v.Imm == wasm.CallFrameOffsetCallSiteIndex &&
			v.Children[0].Op == ir.Const32 && uint32(v.Children[0].Int32()) == wasm.InvalidCallSiteIndex {
			entry = v
		}
	})
	require.NotNil(t, entry)
	assert.Same(t, res.Procedure.Blocks[0], entry.Children[0].Owner, "constant is placed in the top-level block")
}

func TestDelegateToFunctionBody(t *testing.T) {
	info := &wasm.ModuleInformation{
		Types: []wasm.TypeDefinition{funcType(vt(wasm.I32), nil), funcType(vt(wasm.I32), vt(wasm.I32))},
		Tags:  []wasm.TagInformation{{TypeIndex: 0}},
	}
	g := newGroup(t, info, testFunc{typ: 1, body: `
try (result i32)
  try
    local.get 0
    throw 0
  delegate 1
  i32.const 0
catch 0
end
end`})
	res, err := newTestCompiler(t, g, nil).Compile(context.Background(), 0)
	require.NoError(t, err)

	var delegate *HandlerInfo
	for i := range res.Handlers {
		if res.Handlers[i].Kind == HandlerDelegate {
			delegate = &res.Handlers[i]
		}
	}
	require.NotNil(t, delegate)
	assert.Equal(t, uint32(DelegateToCaller), delegate.DelegateTarget())
	assert.Equal(t, uint32(2), delegate.TryDepth)

	throws := patchpoints(res.Procedure, ir.PatchThrow)
	require.Len(t, throws, 1)
	_, ok := res.Handlers.Lookup(throws[0].Patch.CallSiteIndex, 0, true)
	assert.False(t, ok, "the outer catch is skipped")
}

func TestThrowPayloadUsesStackArguments(t *testing.T) {
	info := &wasm.ModuleInformation{
		Types: []wasm.TypeDefinition{funcType(vt(wasm.I32, wasm.F64), nil)},
		Tags:  []wasm.TagInformation{{TypeIndex: 0}},
	}
	g := newGroup(t, info, testFunc{body: "local.get 0\nlocal.get 1\nthrow 0\nend"})
	res, err := newTestCompiler(t, g, nil).Compile(context.Background(), 0)
	require.NoError(t, err)

	throws := patchpoints(res.Procedure, ir.PatchThrow)
	require.Len(t, throws, 1)
	p := throws[0].Patch
	assert.True(t, p.Terminal)
	assert.Equal(t, uint32(0), p.TagIndex)
	require.Len(t, p.Reps, 2)
	assert.Equal(t, ir.StackArgumentRep(0), p.Reps[0])
	assert.Equal(t, ir.StackArgumentRep(8), p.Reps[1])
}

func TestStructNewBarrierOnlyForReferenceFields(t *testing.T) {
	field := func(ty wasm.Type) wasm.FieldType {
		return wasm.FieldType{Storage: wasm.StorageType{Type: ty}, Mutable: true}
	}
	info := &wasm.ModuleInformation{
		Types: []wasm.TypeDefinition{
			funcType(vt(wasm.I32), nil),
			wasm.StructDef(field(wasm.I32)),
			wasm.StructDef(field(wasm.I32), field(wasm.EqRef)),
		},
	}
	g := newGroup(t, info,
		testFunc{body: "local.get 0\nstruct.new 1\ndrop\nend"},
		testFunc{body: "local.get 0\nref.null eq\nstruct.new 2\ndrop\nend"},
	)
	c := newTestCompiler(t, g, nil)

	barriers := func(res *CompilationResult) int {
		n := 0
		res.Procedure.ForEachValue(func(v *ir.Value) {
			if v.Op == ir.CCall && v.Call == ir.OpWriteBarrierSlowPath {
				n++
			}
		})
		return n
	}
	plain, err := c.Compile(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, barriers(plain))

	withRef, err := c.Compile(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, barriers(withRef))
}

// ============================================================================
// 分层
// ============================================================================

func TestTierUpChecks(t *testing.T) {
	sig := funcType(vt(wasm.I32), vt(wasm.I32))
	info := &wasm.ModuleInformation{Types: []wasm.TypeDefinition{sig}}
	g := newGroup(t, info, testFunc{body: countdownLoop})
	c := newTestCompiler(t, g, tierUpOptions())

	res, err := c.Compile(context.Background(), 0)
	require.NoError(t, err)

	var tierUpCalls int
	res.Procedure.ForEachValue(func(v *ir.Value) {
		if v.Op == ir.CCall && v.Call == ir.OpTierUp {
			tierUpCalls++
		}
	})
	assert.Equal(t, 1, tierUpCalls)

	loops := patchpoints(res.Procedure, ir.PatchLoopTierUp)
	require.Len(t, loops, 1)
	assert.Equal(t, uint32(0), loops[0].Patch.LoopIndex)
	assert.Equal(t, 1, c.TierUpCount(0).LoopCount())
	outer, ok := c.TierUpCount(0).OuterLoop(0)
	require.True(t, ok)
	assert.Equal(t, int64(NoOuterLoop), outer)
	assert.Positive(t, res.OSREntryScratchBufferSize)

	plain := compileOne(t, sig, countdownLoop, nil)
	assert.Empty(t, patchpoints(plain.Procedure, ir.PatchLoopTierUp))
}

func TestCompileOSREntry(t *testing.T) {
	sig := funcType(vt(wasm.I32), vt(wasm.I32))
	info := &wasm.ModuleInformation{Types: []wasm.TypeDefinition{sig}}
	g := newGroup(t, info, testFunc{body: countdownLoop})
	c := newTestCompiler(t, g, tierUpOptions())

	normal, err := c.Compile(context.Background(), 0)
	require.NoError(t, err)
	osr, err := c.CompileOSREntry(context.Background(), 0, 0)
	require.NoError(t, err)

	assert.True(t, osr.IsOSREntry())
	assert.Equal(t, int64(0), osr.LoopIndexForOSREntry)
	assert.Positive(t, osr.OSREntrypoint)
	assert.Equal(t, osr.OSREntrypoint+1, osr.Procedure.NumEntrypoints)
	assert.Positive(t, osr.OSREntryScratchBufferSize)
	assert.Empty(t, patchpoints(osr.Procedure, ir.PatchLoopTierUp), "osr code does not count")

	assert.Same(t, normal, g.Result(0), "osr code does not replace the function")
	assert.Equal(t, uint32(1), c.Stats().OSREntries.Load())

	_, err = c.CompileOSREntry(context.Background(), 0, 3)
	assert.Equal(t, cerrors.E0004, cerrors.CodeOf(err))
}

// ============================================================================
// SIMD
// ============================================================================

func TestSIMDCompiles(t *testing.T) {
	if !simdSupported(DefaultOptions().Arch()) {
		t.Skip("host has no SIMD")
	}
	sig := funcType(vt(wasm.I32), vt(wasm.I32))
	res := compileOne(t, sig, `
local.get 0
i32x4.splat
v128.const i32x4 1 2 3 4
i32x4.add
i32x4.extract_lane 2
end`, nil)
	assert.True(t, res.UsesSIMD)

	results, err := runLeaf(t, res, sig.Func, newLeafHost(), ir.I32(10))
	require.NoError(t, err)
	assert.Equal(t, int32(13), results[0].Int32())
}
