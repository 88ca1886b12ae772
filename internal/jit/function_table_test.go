package jit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangzhangming/novaomg/internal/bytecode"
	cerrors "github.com/tangzhangming/novaomg/internal/errors"
	"github.com/tangzhangming/novaomg/internal/jit/ir"
	"github.com/tangzhangming/novaomg/internal/wasm"
)

func TestNewCalleeGroupChecksBodyCount(t *testing.T) {
	info := &wasm.ModuleInformation{
		Types:     []wasm.TypeDefinition{funcType(nil, nil)},
		Functions: []wasm.FunctionInfo{{}, {}},
	}
	_, err := NewCalleeGroup(info, []*bytecode.Function{{}})
	assert.Equal(t, cerrors.E0403, cerrors.CodeOf(err))
}

func TestCodeAddresses(t *testing.T) {
	info := &wasm.ModuleInformation{Types: []wasm.TypeDefinition{funcType(nil, nil)}}
	g := newGroup(t, info,
		testFunc{imported: true},
		testFunc{body: "end"},
		testFunc{body: "end"},
	)

	_, ok := g.Entrypoint(0)
	assert.False(t, ok, "imports have no entrypoint")
	assert.Nil(t, g.Body(0))
	assert.NotNil(t, g.Body(2))

	for fn := uint32(1); fn <= 2; fn++ {
		addr, ok := g.Entrypoint(fn)
		require.True(t, ok)
		assert.Equal(t, uint64(CodeAddressBase+(fn-1)*CodeAddressStride), addr)
		back, ok := g.FunctionAtAddress(addr)
		require.True(t, ok)
		assert.Equal(t, fn, back)
	}

	_, ok = g.FunctionAtAddress(CodeAddressBase + 1)
	assert.False(t, ok, "only entrypoints map back")
	_, ok = g.FunctionAtAddress(CodeAddressBase + 2*CodeAddressStride)
	assert.False(t, ok)
	_, ok = g.FunctionAtAddress(0)
	assert.False(t, ok)
}

func TestLinkErrors(t *testing.T) {
	info := &wasm.ModuleInformation{Types: []wasm.TypeDefinition{funcType(nil, nil)}}
	g := newGroup(t, info, testFunc{body: "end"})

	res := &CompilationResult{
		FunctionIndex:        0,
		Procedure:            ir.NewProcedure(),
		LoopIndexForOSREntry: -1,
		UnlinkedCalls:        []UnlinkedCall{{CallSiteIndex: 1, FunctionIndex: 0}},
	}
	require.NoError(t, g.Link(res))
	assert.Equal(t, map[uint32]uint64{1: CodeAddressBase}, res.CallTargets)
	assert.Equal(t, cerrors.E0401, cerrors.CodeOf(g.Link(res)))

	unknown := &CompilationResult{
		Procedure:            ir.NewProcedure(),
		LoopIndexForOSREntry: -1,
		UnlinkedCalls:        []UnlinkedCall{{CallSiteIndex: 1, FunctionIndex: 7}},
	}
	assert.Equal(t, cerrors.E0400, cerrors.CodeOf(g.Link(unknown)))

	dup := &CompilationResult{
		Procedure:            ir.NewProcedure(),
		LoopIndexForOSREntry: -1,
		UnlinkedCalls: []UnlinkedCall{
			{CallSiteIndex: 2, FunctionIndex: 0},
			{CallSiteIndex: 2, FunctionIndex: 0, TailCall: true},
		},
	}
	assert.Equal(t, cerrors.E0401, cerrors.CodeOf(g.Link(dup)))
}

func TestGroupStates(t *testing.T) {
	info := &wasm.ModuleInformation{Types: []wasm.TypeDefinition{funcType(nil, nil)}}
	g := newGroup(t, info,
		testFunc{body: "end"},
		testFunc{body: "i32.add\nend"},
	)
	c := newTestCompiler(t, g, nil)

	_, err := c.Compile(context.Background(), 0)
	require.NoError(t, err)
	_, err = c.Compile(context.Background(), 1)
	require.Error(t, err)

	assert.Equal(t, "compiled", g.State(0).String())
	assert.Equal(t, "failed", g.State(1).String())
	assert.Equal(t, FuncStateNone, g.State(9))
	assert.Nil(t, g.Result(1))

	stats := g.Stats()
	assert.Equal(t, 2, stats.Functions)
	assert.Equal(t, uint32(1), stats.Compiled)
	assert.Equal(t, uint32(1), stats.Failed)
}

func TestInlineCandidateSeesInstalledResult(t *testing.T) {
	info := &wasm.ModuleInformation{
		Types: []wasm.TypeDefinition{funcType(vt(wasm.I32), nil), funcType(vt(wasm.I32), vt(wasm.I32))},
		Tags:  []wasm.TagInformation{{TypeIndex: 0}},
	}
	g := newGroup(t, info,
		testFunc{imported: true},
		testFunc{typ: 1, body: "try (result i32)\n  local.get 0\ncatch 0\nend\nend"},
	)

	_, ok := g.inlineCandidate(0)
	assert.False(t, ok, "imports are never inlined")

	c, ok := g.inlineCandidate(1)
	require.True(t, ok)
	assert.Same(t, g.Body(1), c.body)
	assert.False(t, c.hasHandlers, "nothing installed yet")

	_, err := newTestCompiler(t, g, nil).Compile(context.Background(), 1)
	require.NoError(t, err)
	c, _ = g.inlineCandidate(1)
	assert.True(t, c.hasHandlers)
}

func TestConcurrentInliningAndInstall(t *testing.T) {
	info := &wasm.ModuleInformation{Types: []wasm.TypeDefinition{funcType(vt(wasm.I32), vt(wasm.I32))}}
	funcs := []testFunc{{body: "local.get 0\ni32.const 1\ni32.add\nend"}}
	for i := 0; i < 16; i++ {
		funcs = append(funcs, testFunc{body: "local.get 0\ncall 0\ncall 0\nend"})
	}
	g := newGroup(t, info, funcs...)
	opts := DefaultOptions()
	opts.Workers = 4
	results, err := newTestCompiler(t, g, opts).CompileModule(context.Background())
	require.NoError(t, err)
	require.Len(t, results, len(funcs))
	for _, r := range results[1:] {
		assert.Len(t, r.CodeOrigins, 2)
	}
	assert.Equal(t, uint32(32), g.InlineStats().Inlined)
}
