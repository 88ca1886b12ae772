package jit

import (
	"bytes"
	"context"
	"testing"

	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangzhangming/novaomg/internal/wasm"
)

func TestDumpJSON(t *testing.T) {
	sig := funcType(vt(wasm.I32), vt(wasm.I32))
	info := &wasm.ModuleInformation{Types: []wasm.TypeDefinition{sig}}
	g := newGroup(t, info,
		testFunc{body: countdownLoop},
		testFunc{body: "local.get 0\ncall 0\ncall 1\nend"},
	)
	c := newTestCompiler(t, g, tierUpOptions())
	results, err := c.CompileModule(context.Background())
	require.NoError(t, err)
	osr, err := c.CompileOSREntry(context.Background(), 0, 0)
	require.NoError(t, err)

	// 顺序无关，输出按函数排序
	all := []*CompilationResult{results[1], osr, results[0]}

	var buf bytes.Buffer
	require.NoError(t, DumpJSON(&buf, g, all, false))
	var dump ModuleDump
	require.NoError(t, json.Unmarshal(buf.Bytes(), &dump))

	require.Len(t, dump.Functions, 3)
	assert.Equal(t, uint32(0), dump.Functions[0].Function)
	assert.Equal(t, uint32(1), dump.Functions[2].Function)
	assert.Empty(t, dump.Functions[0].IR)

	var osrSummary *ResultSummary
	for i := range dump.Functions {
		if dump.Functions[i].OSRLoop != nil {
			osrSummary = &dump.Functions[i]
		}
	}
	require.NotNil(t, osrSummary)
	assert.Equal(t, int64(0), *osrSummary.OSRLoop)
	assert.Equal(t, 2, osrSummary.Entrypoints)

	caller := dump.Functions[2]
	require.NotNil(t, caller.StackCheck)
	assert.Equal(t, *caller.StackCheck, results[1].StackCheckSize)
	assert.Equal(t, results[1].CallTargets, caller.CallTargets)

	assert.Equal(t, 2, dump.Group.Functions)
	assert.Equal(t, uint32(3), dump.Group.Compiled)
	assert.Equal(t, g.InlineStats(), dump.Group.Inline)

	buf.Reset()
	require.NoError(t, DumpJSON(&buf, nil, results[:1], true))
	assert.Contains(t, buf.String(), `"ir": "`)
	assert.Contains(t, buf.String(), "EntrySwitch")
}
