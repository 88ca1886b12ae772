package vm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangzhangming/novaomg/internal/bytecode"
	"github.com/tangzhangming/novaomg/internal/jit"
	"github.com/tangzhangming/novaomg/internal/jit/ir"
	"github.com/tangzhangming/novaomg/internal/wasm"
)

// ============================================================================
// 辅助函数
// ============================================================================

type testFunc struct {
	name   string // 非空时导出
	typ    uint32
	body   string
	module string // 非空时为导入
}

func sig(params, results []wasm.Type) wasm.TypeDefinition {
	return wasm.FuncDef(&wasm.FunctionSignature{Params: params, Results: results})
}

func types(ts ...wasm.Type) []wasm.Type { return ts }

func buildModule(t *testing.T, info *wasm.ModuleInformation, funcs ...testFunc) *bytecode.Module {
	t.Helper()
	m := &bytecode.Module{Info: info}
	for i, f := range funcs {
		fi := wasm.FunctionInfo{Name: f.name, TypeIndex: f.typ}
		if f.module != "" {
			fi.Import = &wasm.ImportInfo{Module: f.module, Name: f.name}
		} else {
			body, err := bytecode.ParseFunction(f.body)
			require.NoError(t, err, "function %d", i)
			body.Index = uint32(i)
			m.Functions = append(m.Functions, body)
			if f.name != "" {
				info.Exports = append(info.Exports, wasm.Export{Name: f.name, Kind: wasm.ExportFunction, Index: uint32(i)})
			}
		}
		info.Functions = append(info.Functions, fi)
	}
	return m
}

func newVM(t *testing.T, m *bytecode.Module, cfg Config) *VM {
	t.Helper()
	vm, err := New(m, cfg)
	require.NoError(t, err)
	return vm
}

func invoke(t *testing.T, vm *VM, name string, args ...ir.Bits) []ir.Bits {
	t.Helper()
	results, err := vm.Invoke(context.Background(), name, args...)
	require.NoError(t, err)
	return results
}

// ============================================================================
// 基本执行
// ============================================================================

func TestInvokeArithmetic(t *testing.T) {
	info := &wasm.ModuleInformation{Types: []wasm.TypeDefinition{sig(types(wasm.I32, wasm.I32), types(wasm.I32))}}
	m := buildModule(t, info, testFunc{name: "add", body: `
local.get 0
local.get 1
i32.add
end`})
	vm := newVM(t, m, Config{})

	results := invoke(t, vm, "add", ir.I32(40), ir.I32(2))
	require.Len(t, results, 1)
	assert.Equal(t, int32(42), results[0].Int32())

	_, err := vm.Invoke(context.Background(), "missing")
	assert.Error(t, err)
	_, err = vm.Invoke(context.Background(), "add", ir.I32(1))
	assert.Error(t, err)
}

func TestRecursiveCall(t *testing.T) {
	info := &wasm.ModuleInformation{Types: []wasm.TypeDefinition{sig(types(wasm.I64), types(wasm.I64))}}
	m := buildModule(t, info, testFunc{name: "fact", body: `
local.get 0
i64.const 2
i64.lt_s
if (result i64)
  i64.const 1
else
  local.get 0
  local.get 0
  i64.const 1
  i64.sub
  call 0
  i64.mul
end
end`})
	vm := newVM(t, m, Config{})

	results := invoke(t, vm, "fact", ir.I64(10))
	assert.Equal(t, int64(3628800), results[0].Int64())
	assert.Equal(t, uint64(9), vm.Stats().Calls.Load())
}

func TestStackArguments(t *testing.T) {
	eight := types(wasm.I32, wasm.I32, wasm.I32, wasm.I32, wasm.I32, wasm.I32, wasm.I32, wasm.I32)
	info := &wasm.ModuleInformation{Types: []wasm.TypeDefinition{
		sig(eight, types(wasm.I32)),
		sig(nil, types(wasm.I32)),
	}}
	m := buildModule(t, info,
		testFunc{name: "weighted", body: `
local.get 0
local.get 7
i32.const 100
i32.mul
i32.add
local.get 6
i32.const 10
i32.mul
i32.add
end`},
		testFunc{name: "caller", typ: 1, body: `
i32.const 1
i32.const 2
i32.const 3
i32.const 4
i32.const 5
i32.const 6
i32.const 7
i32.const 8
call 0
end`},
	)
	vm := newVM(t, m, Config{})

	assert.Equal(t, int32(871), invoke(t, vm, "caller")[0].Int32())
	args := []ir.Bits{ir.I32(1), ir.I32(0), ir.I32(0), ir.I32(0), ir.I32(0), ir.I32(0), ir.I32(2), ir.I32(3)}
	assert.Equal(t, int32(321), invoke(t, vm, "weighted", args...)[0].Int32())
}

// ============================================================================
// 内存和陷阱
// ============================================================================

func memoryModule(t *testing.T) *bytecode.Module {
	info := &wasm.ModuleInformation{
		Types: []wasm.TypeDefinition{
			sig(types(wasm.I32, wasm.I32), types(wasm.I32)),
			sig(types(wasm.I32), types(wasm.I32)),
			sig(nil, types(wasm.I32)),
		},
		Memory: wasm.MemoryInformation{Present: true, InitialPages: 1, MaximumPages: 3},
		Data:   []wasm.DataSegment{{Offset: 16, Bytes: []byte{0x2a, 0, 0, 0}}},
	}
	return buildModule(t, info,
		testFunc{name: "roundtrip", body: `
local.get 0
local.get 1
i32.store offset=4
local.get 0
i32.load offset=4
end`},
		testFunc{name: "load", typ: 1, body: `
local.get 0
i32.load
end`},
		testFunc{name: "grow", typ: 1, body: `
local.get 0
memory.grow
end`},
		testFunc{name: "size", typ: 2, body: `
memory.size
end`},
	)
}

func TestMemory(t *testing.T) {
	vm := newVM(t, memoryModule(t), Config{})

	assert.Equal(t, int32(-7), invoke(t, vm, "roundtrip", ir.I32(100), ir.I32(-7))[0].Int32())
	assert.Equal(t, int32(42), invoke(t, vm, "load", ir.I32(16))[0].Int32())

	assert.Equal(t, int32(1), invoke(t, vm, "grow", ir.I32(1))[0].Int32())
	assert.Equal(t, int32(2), invoke(t, vm, "size")[0].Int32())
	assert.Equal(t, int32(-1), invoke(t, vm, "grow", ir.I32(5))[0].Int32())
	assert.Len(t, vm.Memory(), 2*wasm.PageSize)

	// 增长后的内存可以访问
	assert.Equal(t, int32(9), invoke(t, vm, "roundtrip", ir.I32(wasm.PageSize+8), ir.I32(9))[0].Int32())
}

func TestMemoryOutOfBounds(t *testing.T) {
	for _, mode := range []jit.MemoryMode{jit.MemoryModeBoundsChecking, jit.MemoryModeSignaling} {
		opts := jit.DefaultOptions()
		opts.MemoryMode = mode
		vm := newVM(t, memoryModule(t), Config{Options: opts})

		_, err := vm.Invoke(context.Background(), "load", ir.I32(wasm.PageSize-2))
		assert.True(t, IsTrap(err, wasm.ExceptionOutOfBoundsMemoryAccess), "mode %v: %v", mode, err)
	}
}

func TestTraps(t *testing.T) {
	info := &wasm.ModuleInformation{Types: []wasm.TypeDefinition{
		sig(types(wasm.I32, wasm.I32), types(wasm.I32)),
		sig(nil, nil),
	}}
	m := buildModule(t, info,
		testFunc{name: "div", body: `
local.get 0
local.get 1
i32.div_s
end`},
		testFunc{name: "crash", typ: 1, body: `
unreachable
end`},
	)
	vm := newVM(t, m, Config{})

	_, err := vm.Invoke(context.Background(), "div", ir.I32(1), ir.I32(0))
	assert.True(t, IsTrap(err, wasm.ExceptionDivisionByZero), "%v", err)
	_, err = vm.Invoke(context.Background(), "div", ir.I32(-1<<31), ir.I32(-1))
	assert.True(t, IsTrap(err, wasm.ExceptionIntegerOverflow), "%v", err)
	_, err = vm.Invoke(context.Background(), "crash")
	assert.True(t, IsTrap(err, wasm.ExceptionUnreachable), "%v", err)
	assert.Equal(t, uint64(3), vm.Stats().Traps.Load())
}

func TestStackOverflow(t *testing.T) {
	info := &wasm.ModuleInformation{Types: []wasm.TypeDefinition{sig(types(wasm.I32), types(wasm.I32))}}
	m := buildModule(t, info, testFunc{name: "forever", body: `
local.get 0
i32.const 1
i32.add
call 0
end`})
	vm := newVM(t, m, Config{StackSize: 64 << 10})

	_, err := vm.Invoke(context.Background(), "forever", ir.I32(0))
	assert.True(t, IsTrap(err, wasm.ExceptionStackOverflow), "%v", err)
}

// ============================================================================
// 导入和异常
// ============================================================================

func TestImportCall(t *testing.T) {
	info := &wasm.ModuleInformation{Types: []wasm.TypeDefinition{sig(types(wasm.I32), types(wasm.I32))}}
	m := buildModule(t, info,
		testFunc{name: "twice", module: "env"},
		testFunc{name: "quad", body: `
local.get 0
call 0
call 0
end`},
	)

	_, err := New(m, Config{})
	require.Error(t, err, "unresolved import")

	var calls int
	vm := newVM(t, m, Config{Imports: map[string]HostFunc{
		"env.twice": func(args []ir.Bits) ([]ir.Bits, error) {
			calls++
			return []ir.Bits{ir.I32(2 * args[0].Int32())}, nil
		},
	}})
	assert.Equal(t, int32(28), invoke(t, vm, "quad", ir.I32(7))[0].Int32())
	assert.Equal(t, 2, calls)
	assert.Equal(t, uint64(2), vm.Stats().HostCalls.Load())
}

func exceptionModule(t *testing.T) *bytecode.Module {
	info := &wasm.ModuleInformation{
		Types: []wasm.TypeDefinition{
			sig(types(wasm.I32), nil),
			sig(types(wasm.I32), types(wasm.I32)),
		},
		Tags: []wasm.TagInformation{{TypeIndex: 0}, {TypeIndex: 0}},
	}
	return buildModule(t, info,
		testFunc{name: "raise", body: `
local.get 0
throw 0
end`},
		testFunc{name: "local", typ: 1, body: `
try (result i32)
  local.get 0
  throw 0
catch 0
  i32.const 1
  i32.add
end
end`},
		testFunc{name: "remote", typ: 1, body: `
local i32
i32.const 5
local.set 1
try (result i32)
  local.get 0
  call 0
  i32.const 0
catch 1
  drop
  i32.const -1
catch_all
  local.get 1
end
end`},
		testFunc{name: "rethrow", typ: 1, body: `
try (result i32)
  local.get 0
  call 0
  i32.const 0
catch_all
  rethrow 0
end
end`},
	)
}

func TestCatchInSameFrame(t *testing.T) {
	vm := newVM(t, exceptionModule(t), Config{})
	assert.Equal(t, int32(42), invoke(t, vm, "local", ir.I32(41))[0].Int32())
	assert.Equal(t, uint64(1), vm.Stats().Catches.Load())
}

func TestCatchAcrossCall(t *testing.T) {
	vm := newVM(t, exceptionModule(t), Config{})
	// tag 0 不匹配 catch 1，落到 catch_all，局部变量从暂存缓冲区恢复
	assert.Equal(t, int32(5), invoke(t, vm, "remote", ir.I32(3))[0].Int32())
}

func TestCatchFromInlinedCallee(t *testing.T) {
	info := &wasm.ModuleInformation{
		Types: []wasm.TypeDefinition{sig(types(wasm.I32), nil), sig(types(wasm.I32), types(wasm.I32))},
		Tags:  []wasm.TagInformation{{TypeIndex: 0}},
	}
	m := buildModule(t, info,
		testFunc{typ: 1, body: `
local.get 0
i32.eqz
if
  i32.const 7
  throw 0
end
local.get 0
end`},
		testFunc{name: "guarded", typ: 1, body: `
try (result i32)
  local.get 0
  call 0
catch 0
  i32.const 100
  i32.add
end
local.get 0
call 0
i32.add
end`},
	)
	vm := newVM(t, m, Config{})
	assert.Equal(t, int32(6), invoke(t, vm, "guarded", ir.I32(3))[0].Int32())
	assert.Positive(t, vm.Compiler().Group().InlineStats().Inlined)

	// 第二次调用在 try 之外，帧中的调用点已离开处理器区间
	_, err := vm.Invoke(context.Background(), "guarded", ir.I32(0))
	var e *Exception
	require.True(t, errors.As(err, &e), "%v", err)
	assert.Equal(t, int32(7), e.Payload[0].Int32())
}

func TestDelegateToCallerSkipsOuterCatch(t *testing.T) {
	info := &wasm.ModuleInformation{
		Types: []wasm.TypeDefinition{sig(types(wasm.I32), nil), sig(types(wasm.I32), types(wasm.I32))},
		Tags:  []wasm.TagInformation{{TypeIndex: 0}},
	}
	m := buildModule(t, info, testFunc{name: "delegated", typ: 1, body: `
try (result i32)
  try
    local.get 0
    throw 0
  delegate 1
  i32.const 0
catch 0
end
end`})
	vm := newVM(t, m, Config{})
	_, err := vm.Invoke(context.Background(), "delegated", ir.I32(5))
	var e *Exception
	require.True(t, errors.As(err, &e), "%v", err)
	assert.Equal(t, int32(5), e.Payload[0].Int32())
	assert.Zero(t, vm.Stats().Catches.Load())
}

func TestUncaughtException(t *testing.T) {
	vm := newVM(t, exceptionModule(t), Config{})

	_, err := vm.Invoke(context.Background(), "raise", ir.I32(9))
	var e *Exception
	require.True(t, errors.As(err, &e), "%v", err)
	assert.Equal(t, uint32(0), e.Tag)
	require.Len(t, e.Payload, 1)
	assert.Equal(t, int32(9), e.Payload[0].Int32())

	_, err = vm.Invoke(context.Background(), "rethrow", ir.I32(11))
	require.True(t, errors.As(err, &e), "%v", err)
	assert.Equal(t, int32(11), e.Payload[0].Int32())
}

// ============================================================================
// 尾调用和间接调用
// ============================================================================

func TestTailCallDoesNotGrowStack(t *testing.T) {
	info := &wasm.ModuleInformation{Types: []wasm.TypeDefinition{sig(types(wasm.I32, wasm.I64), types(wasm.I64))}}
	m := buildModule(t, info, testFunc{name: "sum", body: `
local.get 0
i32.eqz
if (result i64)
  local.get 1
else
  local.get 0
  i32.const 1
  i32.sub
  local.get 1
  local.get 0
  i64.extend_i32_u
  i64.add
  return_call 0
end
end`})
	vm := newVM(t, m, Config{StackSize: 64 << 10})

	assert.Equal(t, int64(50005000), invoke(t, vm, "sum", ir.I32(10000), ir.I64(0))[0].Int64())
	assert.Equal(t, uint64(10000), vm.Stats().TailCalls.Load())
}

func TestCallIndirect(t *testing.T) {
	info := &wasm.ModuleInformation{
		Types: []wasm.TypeDefinition{
			sig(types(wasm.I32), types(wasm.I32)),
			sig(nil, nil),
			sig(types(wasm.I32, wasm.I32), types(wasm.I32)),
		},
		Tables:   []wasm.TableInformation{{Element: wasm.FuncRef, Initial: 4}},
		Elements: []wasm.ElementSegment{{Table: 0, Offset: 0, Functions: []uint32{0, 1, 2}}},
	}
	m := buildModule(t, info,
		testFunc{name: "inc", body: `
local.get 0
i32.const 1
i32.add
end`},
		testFunc{name: "neg", body: `
i32.const 0
local.get 0
i32.sub
end`},
		testFunc{name: "noop", typ: 1, body: `
end`},
		testFunc{name: "dispatch", typ: 2, body: `
local.get 1
local.get 0
call_indirect 0 0
end`},
	)
	vm := newVM(t, m, Config{})

	assert.Equal(t, int32(8), invoke(t, vm, "dispatch", ir.I32(0), ir.I32(7))[0].Int32())
	assert.Equal(t, int32(-7), invoke(t, vm, "dispatch", ir.I32(1), ir.I32(7))[0].Int32())

	_, err := vm.Invoke(context.Background(), "dispatch", ir.I32(2), ir.I32(7))
	assert.True(t, IsTrap(err, wasm.ExceptionBadSignature), "%v", err)
	_, err = vm.Invoke(context.Background(), "dispatch", ir.I32(3), ir.I32(7))
	assert.True(t, IsTrap(err, wasm.ExceptionNullTableEntry), "%v", err)
	_, err = vm.Invoke(context.Background(), "dispatch", ir.I32(4), ir.I32(7))
	assert.True(t, IsTrap(err, wasm.ExceptionOutOfBoundsCallIndirect), "%v", err)
}

// ============================================================================
// GC 对象
// ============================================================================

func gcModule(t *testing.T) *bytecode.Module {
	mutable := func(ty wasm.Type) wasm.FieldType {
		return wasm.FieldType{Storage: wasm.StorageType{Type: ty}, Mutable: true}
	}
	info := &wasm.ModuleInformation{
		Types: []wasm.TypeDefinition{
			sig(types(wasm.I32), types(wasm.I32)),
			wasm.StructDef(mutable(wasm.I32), mutable(wasm.EqRef)),
			wasm.ArrayDef(mutable(wasm.I64)),
			sig(nil, nil),
			sig(nil, types(wasm.I32)),
		},
	}
	return buildModule(t, info,
		testFunc{name: "mark", typ: 3, module: "env"},
		testFunc{name: "field", body: `
local.get 0
ref.null eq
struct.new 1
struct.get 1 0
end`},
		testFunc{name: "arraylen", body: `
i64.const 7
local.get 0
array.new 2
array.len
end`},
		testFunc{name: "link", typ: 4, body: `
local (ref null 1)
i32.const 1
ref.null eq
struct.new 1
local.set 0
call 0
local.get 0
i32.const 2
ref.null eq
struct.new 1
struct.set 1 1
local.get 0
struct.get 1 0
end`},
	)
}

func TestStructAndArray(t *testing.T) {
	vm := newVM(t, gcModule(t), Config{Imports: map[string]HostFunc{
		"env.mark": func([]ir.Bits) ([]ir.Bits, error) { return nil, nil },
	}})

	assert.Equal(t, int32(77), invoke(t, vm, "field", ir.I32(77))[0].Int32())
	assert.Equal(t, int32(12), invoke(t, vm, "arraylen", ir.I32(12))[0].Int32())
	assert.Equal(t, uint64(1), vm.Heap().Stats().Structs.Load())
	assert.Equal(t, uint64(1), vm.Heap().Stats().Arrays.Load())

	_, err := vm.Invoke(context.Background(), "arraylen", ir.I32(-1))
	assert.True(t, IsTrap(err, wasm.ExceptionBadArrayNew), "%v", err)
}

func TestWriteBarrierDuringMarking(t *testing.T) {
	var vm *VM
	vm = newVM(t, gcModule(t), Config{Imports: map[string]HostFunc{
		"env.mark": func([]ir.Bits) ([]ir.Bits, error) {
			vm.Heap().StartMarking(vm.Instance())
			return nil, nil
		},
	}})

	assert.Equal(t, int32(1), invoke(t, vm, "link")[0].Int32())
	assert.True(t, vm.Heap().Marking())
	assert.Len(t, vm.Heap().RememberedSet(), 1)
	assert.Equal(t, uint64(1), vm.Heap().Stats().BarrierSlow.Load())

	vm.Heap().FinishMarking(vm.Instance())
	assert.Empty(t, vm.Heap().RememberedSet())
}

// ============================================================================
// 分层和 OSR
// ============================================================================

func loopModule(t *testing.T) *bytecode.Module {
	info := &wasm.ModuleInformation{Types: []wasm.TypeDefinition{sig(types(wasm.I32), types(wasm.I64))}}
	return buildModule(t, info, testFunc{name: "sum", body: `
local i64
block
  loop
    local.get 0
    i32.eqz
    br_if 1
    local.get 1
    local.get 0
    i64.extend_i32_u
    i64.add
    local.set 1
    local.get 0
    i32.const 1
    i32.sub
    local.set 0
    br 0
  end
end
local.get 1
end`})
}

func tierUpOptions() *jit.Options {
	opts := jit.DefaultOptions()
	opts.TierUp.Enabled = true
	opts.TierUp.Threshold = 30
	return opts
}

func TestEntryTierUpTrigger(t *testing.T) {
	vm := newVM(t, loopModule(t), Config{Options: tierUpOptions()})

	for i := 0; i < 4; i++ {
		assert.Equal(t, int64(6), invoke(t, vm, "sum", ir.I32(3))[0].Int64())
	}
	p, ok := vm.Hotspot().Profile(0)
	require.True(t, ok)
	assert.Positive(t, p.EntryTriggers)
	assert.Less(t, vm.Instance().Counter(0), int32(0), "counter is reset after a trigger")
	assert.Equal(t, []uint32{0}, vm.Hotspot().HotFunctions())
}

func TestOSREntry(t *testing.T) {
	vm := newVM(t, loopModule(t), Config{Options: tierUpOptions(), EnableOSR: true})

	assert.Equal(t, int64(500500), invoke(t, vm, "sum", ir.I32(1000))[0].Int64())
	stats := vm.Hotspot().Stats()
	assert.Positive(t, stats.LoopTriggers)
	assert.Equal(t, uint32(1), stats.OSREntries, "the OSR version runs the rest of the loop")
	assert.Equal(t, uint64(1), vm.Stats().OSREntries.Load())

	// 再次调用仍然从普通版本开始
	assert.Equal(t, int64(55), invoke(t, vm, "sum", ir.I32(10))[0].Int64())
}

func TestLoopTriggerWithoutOSR(t *testing.T) {
	vm := newVM(t, loopModule(t), Config{Options: tierUpOptions()})

	assert.Equal(t, int64(500500), invoke(t, vm, "sum", ir.I32(1000))[0].Int64())
	assert.Positive(t, vm.Hotspot().Stats().LoopTriggers)
	assert.Zero(t, vm.Hotspot().Stats().OSREntries)
}

func TestContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	vm := newVM(t, loopModule(t), Config{})
	_, err := vm.Invoke(ctx, "sum", ir.I32(1))
	assert.ErrorIs(t, err, context.Canceled)
}
