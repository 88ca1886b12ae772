// jit_test.go - 编译器和配置测试
//
// 生成的 IR 通过 ir.Interpreter 在一个只有内存的宿主上执行，
// 调用、异常和分层的执行测试在 vm 包中。

package jit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/tangzhangming/novaomg/internal/bytecode"
	cerrors "github.com/tangzhangming/novaomg/internal/errors"
	"github.com/tangzhangming/novaomg/internal/jit/ir"
	"github.com/tangzhangming/novaomg/internal/wasm"
)

// ============================================================================
// 辅助函数
// ============================================================================

type testFunc struct {
	typ      uint32
	body     string
	imported bool
}

func funcType(params, results []wasm.Type) wasm.TypeDefinition {
	return wasm.FuncDef(&wasm.FunctionSignature{Params: params, Results: results})
}

func vt(ts ...wasm.Type) []wasm.Type { return ts }

// newGroup 按文本函数体构造函数组
func newGroup(t testing.TB, info *wasm.ModuleInformation, funcs ...testFunc) *CalleeGroup {
	t.Helper()
	var bodies []*bytecode.Function
	for i, f := range funcs {
		fi := wasm.FunctionInfo{TypeIndex: f.typ}
		if f.imported {
			fi.Import = &wasm.ImportInfo{Module: "env", Name: "f"}
		} else {
			body, err := bytecode.ParseFunction(f.body)
			require.NoError(t, err, "function %d", i)
			body.Index = uint32(i)
			bodies = append(bodies, body)
		}
		info.Functions = append(info.Functions, fi)
	}
	_, err := wasm.NewTypeInformation().Register(info)
	require.NoError(t, err)
	g, err := NewCalleeGroup(info, bodies)
	require.NoError(t, err)
	return g
}

func newTestCompiler(t testing.TB, g *CalleeGroup, opts *Options) *Compiler {
	t.Helper()
	c, err := NewCompiler(g, opts)
	require.NoError(t, err)
	return c
}

// compileOne 单函数模块
func compileOne(t testing.TB, sig wasm.TypeDefinition, body string, opts *Options) *CompilationResult {
	t.Helper()
	info := &wasm.ModuleInformation{
		Types:  []wasm.TypeDefinition{sig},
		Memory: wasm.MemoryInformation{Present: true, InitialPages: 1},
	}
	g := newGroup(t, info, testFunc{body: body})
	res, err := newTestCompiler(t, g, opts).Compile(context.Background(), 0)
	require.NoError(t, err)
	return res
}

// ============================================================================
// 叶子函数的执行宿主
// ============================================================================

const (
	leafMemoryBase = 0x100000
	leafMemorySize = wasm.PageSize
	leafFP         = 0x8000
)

type leafTrap struct{ kind wasm.ExceptionType }

func (t *leafTrap) Error() string { return t.kind.String() }

type leafHost struct {
	mem    map[uint64]byte
	pinned [ir.NumPinnedRegs]uint64
}

func newLeafHost() *leafHost {
	h := &leafHost{mem: make(map[uint64]byte)}
	h.pinned[ir.PinnedMemoryBase] = leafMemoryBase
	h.pinned[ir.PinnedBoundsCheckingSize] = leafMemorySize
	return h
}

func (h *leafHost) Load(addr uint64, size int) (ir.Bits, error) {
	if addr >= leafMemoryBase && addr+uint64(size) > leafMemoryBase+leafMemorySize {
		return ir.Bits{}, &leafTrap{wasm.ExceptionOutOfBoundsMemoryAccess}
	}
	var r ir.Bits
	for i := 0; i < size; i++ {
		r[i/8] |= uint64(h.mem[addr+uint64(i)]) << uint(8*(i%8))
	}
	return r, nil
}

func (h *leafHost) Store(addr uint64, size int, v ir.Bits) error {
	if addr >= leafMemoryBase && addr+uint64(size) > leafMemoryBase+leafMemorySize {
		return &leafTrap{wasm.ExceptionOutOfBoundsMemoryAccess}
	}
	for i := 0; i < size; i++ {
		h.mem[addr+uint64(i)] = byte(v[i/8] >> uint(8*(i%8)))
	}
	return nil
}

func (h *leafHost) Pinned(r ir.PinnedReg) uint64                      { return h.pinned[r] }
func (h *leafHost) SetPinned(r ir.PinnedReg, v uint64)                { h.pinned[r] = v }
func (h *leafHost) Trap(kind wasm.ExceptionType) error                { return &leafTrap{kind} }
func (h *leafHost) Catch(*ir.Frame, *ir.Value, error, []ir.Bits) bool { return false }

// CCall 叶子函数不应调用运行时
func (h *leafHost) CCall(*ir.Frame, ir.Operation, []ir.Bits) (ir.Bits, error) {
	return ir.Bits{}, &leafTrap{wasm.ExceptionUnreachable}
}

func (h *leafHost) Patchpoint(_ *ir.Frame, v *ir.Value, _ []ir.Bits) (ir.PatchpointResult, error) {
	switch v.Patch.Kind {
	case ir.PatchStackOverflowCheck:
		return ir.PatchpointResult{}, nil
	case ir.PatchTrap:
		return ir.PatchpointResult{}, &leafTrap{v.Patch.Trap}
	}
	return ir.PatchpointResult{}, &leafTrap{wasm.ExceptionUnreachable}
}

// runLeaf 按调用约定放置参数并执行
func runLeaf(t testing.TB, res *CompilationResult, sig *wasm.FunctionSignature, h *leafHost, args ...ir.Bits) ([]ir.Bits, error) {
	t.Helper()
	ci := WasmCallingConvention.CallInformationFor(sig)
	frame := &ir.Frame{Proc: res.Procedure, Function: res.FunctionIndex, FP: leafFP, SP: leafFP - 0x1000}
	for i, loc := range ci.Params {
		if loc.IsStack() {
			size := 8
			if loc.Type == ir.V128 {
				size = 16
			}
			require.NoError(t, h.Store(leafFP+uint64(loc.Offset), size, args[i]))
			continue
		}
		frame.Regs[loc.Reg] = args[i]
	}
	out, err := ir.NewInterpreter(h).Run(frame)
	if err != nil {
		return nil, err
	}
	require.Nil(t, out.TailCall)
	return out.Results, nil
}

// ============================================================================
// 配置
// ============================================================================

func TestDefaultOptionsAreValid(t *testing.T) {
	opts := DefaultOptions()
	require.NoError(t, opts.Validate())
	assert.True(t, opts.Inline.Enabled)
	assert.False(t, opts.TierUp.Enabled)
	assert.Equal(t, MemoryModeBoundsChecking, opts.MemoryMode)
	assert.Positive(t, opts.WorkerCount())
}

func TestParseOptions(t *testing.T) {
	opts, err := ParseOptions([]byte(`
memory_mode = "signaling"
workers = 2
dump_ir_functions = [1, 3]

[inline]
enabled = false

[tierup]
enabled = true
threshold = 50
`))
	require.NoError(t, err)
	assert.Equal(t, MemoryModeSignaling, opts.MemoryMode)
	assert.Equal(t, 2, opts.WorkerCount())
	assert.False(t, opts.Inline.Enabled)
	assert.Equal(t, int32(50), opts.TierUp.Threshold)
	assert.Equal(t, int32(15), opts.TierUp.FunctionEntryIncrement, "unset fields keep defaults")
	assert.True(t, opts.ShouldDumpIR(3))
	assert.False(t, opts.ShouldDumpIR(2))
}

func TestOptionsValidateReportsEveryProblem(t *testing.T) {
	opts := DefaultOptions()
	opts.MemoryMode = "paging"
	opts.TargetArch = "mips"
	opts.Workers = -1
	opts.TierUp.Enabled = true
	opts.TierUp.Threshold = 0

	err := opts.Validate()
	require.Error(t, err)
	assert.Equal(t, cerrors.E0402, cerrors.CodeOf(err))
	var ce *cerrors.CompileError
	require.ErrorAs(t, err, &ce)
	assert.Len(t, multierr.Errors(ce.Unwrap()), 4)

	_, err = ParseOptions([]byte("workers = \"many\""))
	assert.Equal(t, cerrors.E0402, cerrors.CodeOf(err))
}

// ============================================================================
// 编译器
// ============================================================================

func TestCompileInstallsResult(t *testing.T) {
	info := &wasm.ModuleInformation{Types: []wasm.TypeDefinition{funcType(vt(wasm.I32), vt(wasm.I32))}}
	g := newGroup(t, info, testFunc{body: "local.get 0\nend"})
	c := newTestCompiler(t, g, nil)

	assert.Equal(t, FuncStateNone, g.State(0))
	res, err := c.Compile(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, uint32(0), res.FunctionIndex)
	assert.False(t, res.IsOSREntry())
	assert.Same(t, res, g.Result(0))
	assert.Equal(t, FuncStateCompiled, g.State(0))
	assert.Equal(t, uint32(1), c.Stats().Compiled.Load())
	assert.Positive(t, c.Stats().IRValues.Load())
}

func TestCompileErrors(t *testing.T) {
	info := &wasm.ModuleInformation{Types: []wasm.TypeDefinition{
		funcType(nil, vt(wasm.I32)),
		funcType(nil, nil),
	}}
	g := newGroup(t, info,
		testFunc{typ: 1, imported: true},
		testFunc{body: "i32.add\nend"},
		testFunc{typ: 1, body: "v128.const i32x4 0 0 0 0\ndrop\nend"},
	)
	opts := DefaultOptions()
	opts.SIMD = false
	c := newTestCompiler(t, g, opts)

	_, err := c.Compile(context.Background(), 0)
	assert.Equal(t, cerrors.E0004, cerrors.CodeOf(err), "imports have no body")

	_, err = c.Compile(context.Background(), 1)
	assert.Equal(t, cerrors.E0001, cerrors.CodeOf(err))
	assert.Equal(t, FuncStateFailed, g.State(1))

	_, err = c.Compile(context.Background(), 2)
	assert.Equal(t, cerrors.E0002, cerrors.CodeOf(err))
	assert.Equal(t, uint32(2), c.Stats().Failed.Load())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Compile(ctx, 2)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCompileModule(t *testing.T) {
	info := &wasm.ModuleInformation{Types: []wasm.TypeDefinition{funcType(vt(wasm.I32), vt(wasm.I32))}}
	funcs := []testFunc{{typ: 0, imported: true}}
	for i := 0; i < 6; i++ {
		funcs = append(funcs, testFunc{body: "local.get 0\ncall 0\nend"})
	}
	funcs = append(funcs, testFunc{body: "f32.add\nend"}, testFunc{body: "i64.eqz\nend"})
	g := newGroup(t, info, funcs...)
	opts := DefaultOptions()
	opts.Workers = 3
	c := newTestCompiler(t, g, opts)

	results, err := c.CompileModule(context.Background())
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	require.Len(t, results, 6)
	for i, r := range results {
		assert.Equal(t, uint32(i+1), r.FunctionIndex, "results are ordered")
	}
	stats := g.Stats()
	assert.Equal(t, uint32(6), stats.Compiled)
	assert.Equal(t, uint32(2), stats.Failed)
}

// ============================================================================
// 执行生成的 IR
// ============================================================================

func TestGeneratedCodeComputes(t *testing.T) {
	i32, i64, f64 := wasm.I32, wasm.I64, wasm.F64
	tests := []struct {
		name   string
		sig    wasm.TypeDefinition
		body   string
		args   []ir.Bits
		expect ir.Bits
	}{
		{"rotl", funcType(vt(i32, i32), vt(i32)), "local.get 0\nlocal.get 1\ni32.rotl\nend",
			[]ir.Bits{ir.I32(-0x7fffffff), ir.I32(1)}, ir.I32(3)},
		{"popcnt", funcType(vt(i64), vt(i64)), "local.get 0\ni64.popcnt\nend",
			[]ir.Bits{ir.I64(0xff00ff)}, ir.I64(16)},
		{"sqrt", funcType(vt(f64), vt(f64)), "local.get 0\nf64.sqrt\nf64.const 1.5\nf64.add\nend",
			[]ir.Bits{ir.F64(16)}, ir.F64(5.5)},
		{"select", funcType(vt(i32, i32, i32), vt(i32)), "local.get 0\nlocal.get 1\nlocal.get 2\nselect\nend",
			[]ir.Bits{ir.I32(4), ir.I32(5), ir.I32(0)}, ir.I32(5)},
		{"trunc_sat", funcType(vt(f64), vt(i32)), "local.get 0\ni32.trunc_sat_f64_s\nend",
			[]ir.Bits{ir.F64(1e20)}, ir.I32(0x7fffffff)},
		{"div_u", funcType(vt(i64, i64), vt(i64)), "local.get 0\nlocal.get 1\ni64.div_u\nend",
			[]ir.Bits{ir.I64(-1), ir.I64(2)}, ir.I64(0x7fffffffffffffff)},
		{"br_table", funcType(vt(i32), vt(i32)), `
block
  block
    block
      local.get 0
      br_table 0 1 2
    end
    i32.const 10
    return
  end
  i32.const 20
  return
end
i32.const 30
end`, []ir.Bits{ir.I32(1)}, ir.I32(20)},
		{"stack_params", funcType(vt(i32, i32, i32, i32, i32, i32, i32, f64), vt(i32)),
			"local.get 6\nlocal.get 0\ni32.sub\nend",
			[]ir.Bits{ir.I32(5), {}, {}, {}, {}, {}, ir.I32(12), ir.F64(0)}, ir.I32(7)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := compileOne(t, tt.sig, tt.body, nil)
			results, err := runLeaf(t, res, tt.sig.Func, newLeafHost(), tt.args...)
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, tt.expect, results[0])
		})
	}
}

func TestGeneratedCodeTraps(t *testing.T) {
	sig := funcType(vt(wasm.I32, wasm.I32), vt(wasm.I32))
	res := compileOne(t, sig, "local.get 0\nlocal.get 1\ni32.rem_s\nend", nil)

	_, err := runLeaf(t, res, sig.Func, newLeafHost(), ir.I32(1), ir.I32(0))
	var trap *leafTrap
	require.ErrorAs(t, err, &trap)
	assert.Equal(t, wasm.ExceptionDivisionByZero, trap.kind)

	// INT_MIN % -1 不陷入
	results, err := runLeaf(t, res, sig.Func, newLeafHost(), ir.I32(-1<<31), ir.I32(-1))
	require.NoError(t, err)
	assert.Equal(t, int32(0), results[0].Int32())
}

func TestGeneratedSignedDivisionTraps(t *testing.T) {
	sig := funcType(vt(wasm.I32, wasm.I32), vt(wasm.I32))
	res := compileOne(t, sig, "local.get 0\nlocal.get 1\ni32.div_s\nend", nil)

	var trap *leafTrap
	_, err := runLeaf(t, res, sig.Func, newLeafHost(), ir.I32(-1<<31), ir.I32(-1))
	require.ErrorAs(t, err, &trap)
	assert.Equal(t, wasm.ExceptionIntegerOverflow, trap.kind)

	_, err = runLeaf(t, res, sig.Func, newLeafHost(), ir.I32(7), ir.I32(0))
	require.ErrorAs(t, err, &trap)
	assert.Equal(t, wasm.ExceptionDivisionByZero, trap.kind)

	results, err := runLeaf(t, res, sig.Func, newLeafHost(), ir.I32(-7), ir.I32(2))
	require.NoError(t, err)
	assert.Equal(t, int32(-3), results[0].Int32())
}

func TestStaticallyOutOfBoundsFencepost(t *testing.T) {
	assert.False(t, isStaticallyOutOfBounds(0xfffffffb, 4))
	assert.True(t, isStaticallyOutOfBounds(0xfffffffc, 4))
	assert.False(t, isStaticallyOutOfBounds(0xfffffffe, 1))
	assert.True(t, isStaticallyOutOfBounds(0xffffffff, 1))
	assert.True(t, isStaticallyOutOfBounds(0xfffffff8, 16))
}

func TestGeneratedOutOfBoundsLoads(t *testing.T) {
	sig := funcType(vt(wasm.I32), vt(wasm.I32))

	// offset+size 超出 32 位：无条件陷入，不生成访存
	res := compileOne(t, sig, "local.get 0\ni32.load offset=0xfffffffd\nend", nil)
	var loads int
	res.Procedure.ForEachValue(func(v *ir.Value) {
		if v.Op == ir.Load {
			loads++
		}
	})
	assert.Zero(t, loads)
	var trap *leafTrap
	_, err := runLeaf(t, res, sig.Func, newLeafHost(), ir.I32(0))
	require.ErrorAs(t, err, &trap)
	assert.Equal(t, wasm.ExceptionOutOfBoundsMemoryAccess, trap.kind)

	// 指针接近 4GiB 时由运行期检查陷入
	for _, mode := range []MemoryMode{MemoryModeBoundsChecking, MemoryModeSignaling} {
		opts := DefaultOptions()
		opts.MemoryMode = mode
		res := compileOne(t, sig, "local.get 0\ni32.load offset=0x20\nend", opts)
		_, err := runLeaf(t, res, sig.Func, newLeafHost(), ir.I32(-16))
		require.ErrorAs(t, err, &trap, "mode %s", mode)
		assert.Equal(t, wasm.ExceptionOutOfBoundsMemoryAccess, trap.kind)
	}
}

func TestGeneratedMemoryAccess(t *testing.T) {
	sig := funcType(vt(wasm.I32, wasm.I64), vt(wasm.I32))
	body := `
local.get 0
local.get 1
i64.store offset=8
local.get 0
i32.load16_s offset=8
end`
	for _, mode := range []MemoryMode{MemoryModeBoundsChecking, MemoryModeSignaling} {
		opts := DefaultOptions()
		opts.MemoryMode = mode
		res := compileOne(t, sig, body, opts)

		h := newLeafHost()
		results, err := runLeaf(t, res, sig.Func, h, ir.I32(100), ir.I64(0x1234ffff))
		require.NoError(t, err, "mode %s", mode)
		assert.Equal(t, int32(-1), results[0].Int32())
		assert.Equal(t, byte(0x34), h.mem[leafMemoryBase+100+8+2])

		_, err = runLeaf(t, res, sig.Func, h, ir.I32(leafMemorySize-4), ir.I64(0))
		var trap *leafTrap
		require.ErrorAs(t, err, &trap, "mode %s", mode)
		assert.Equal(t, wasm.ExceptionOutOfBoundsMemoryAccess, trap.kind)
	}
}
