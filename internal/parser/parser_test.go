package parser

import (
	"fmt"
	"strings"
	"testing"

	"github.com/tangzhangming/novaomg/internal/bytecode"
	cerrors "github.com/tangzhangming/novaomg/internal/errors"
	"github.com/tangzhangming/novaomg/internal/wasm"
)

// ============================================================================
// 记录回调的 Context
// ============================================================================

type recControl struct {
	kind   string
	sig    *wasm.FunctionSignature
	height int
}

type recorder struct {
	events []string
	next   int
	height int // 模拟编译器的操作数高度
	pops   int
}

func (r *recorder) log(format string, args ...interface{}) {
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) value(format string, args ...interface{}) (int, error) {
	r.log(format, args...)
	r.next++
	r.height++
	return r.next, nil
}

func (r *recorder) void(format string, args ...interface{}) error {
	r.log(format, args...)
	return nil
}

func (r *recorder) results(n int) []int {
	out := make([]int, n)
	for i := range out {
		r.next++
		r.height++
		out[i] = r.next
	}
	return out
}

func (r *recorder) WillParseOpcode()      {}
func (r *recorder) DidPopValueFromStack() { r.pops++; r.height-- }

func (r *recorder) AddArguments(sig *wasm.FunctionSignature) error {
	return r.void("args %d", len(sig.Params))
}
func (r *recorder) AddLocal(t wasm.Type, count uint32) error { return r.void("local %s x%d", t, count) }
func (r *recorder) GetLocal(index uint32) (int, error)       { return r.value("local.get %d", index) }
func (r *recorder) SetLocal(index uint32, v int) error       { return r.void("local.set %d", index) }
func (r *recorder) TeeLocal(index uint32, v int) (int, error) {
	return r.value("local.tee %d", index)
}
func (r *recorder) GetGlobal(index uint32) (int, error) { return r.value("global.get %d", index) }
func (r *recorder) SetGlobal(index uint32, v int) error { return r.void("global.set %d", index) }

func (r *recorder) AddConstant(t wasm.Type, bits uint64) (int, error) {
	return r.value("const %s %d", t, bits)
}
func (r *recorder) AddV128Constant(bits [2]uint64) (int, error) { return r.value("v128.const") }
func (r *recorder) AddSelect(c, a, b int) (int, error)           { return r.value("select") }
func (r *recorder) AddUnary(op bytecode.OpCode, v int) (int, error) {
	return r.value("%s", op)
}
func (r *recorder) AddBinary(op bytecode.OpCode, a, b int) (int, error) {
	return r.value("%s", op)
}
func (r *recorder) AddExtractLane(op bytecode.OpCode, lane uint8, v int) (int, error) {
	return r.value("%s %d", op, lane)
}
func (r *recorder) AddReplaceLane(op bytecode.OpCode, lane uint8, v, s int) (int, error) {
	return r.value("%s %d", op, lane)
}

func (r *recorder) Load(op bytecode.OpCode, ptr int, off uint64) (int, error) {
	return r.value("%s +%d", op, off)
}
func (r *recorder) Store(op bytecode.OpCode, ptr, v int, off uint64) error {
	return r.void("%s +%d", op, off)
}
func (r *recorder) AtomicLoad(op bytecode.OpCode, ptr int, off uint64) (int, error) {
	return r.value("%s", op)
}
func (r *recorder) AtomicStore(op bytecode.OpCode, ptr, v int, off uint64) error {
	return r.void("%s", op)
}
func (r *recorder) AtomicBinaryRMW(op bytecode.OpCode, ptr, v int, off uint64) (int, error) {
	return r.value("%s", op)
}
func (r *recorder) AtomicCompareExchange(op bytecode.OpCode, ptr, e, v int, off uint64) (int, error) {
	return r.value("%s", op)
}
func (r *recorder) AtomicWait(op bytecode.OpCode, ptr, v, t int, off uint64) (int, error) {
	return r.value("%s", op)
}
func (r *recorder) AtomicNotify(ptr, c int, off uint64) (int, error) { return r.value("notify") }
func (r *recorder) AtomicFence() error                               { return r.void("fence") }
func (r *recorder) AddMemorySize() (int, error)                      { return r.value("memory.size") }
func (r *recorder) AddGrowMemory(d int) (int, error)                 { return r.value("memory.grow") }
func (r *recorder) AddMemoryFill(d, v, c int) error                  { return r.void("memory.fill") }
func (r *recorder) AddMemoryCopy(d, s, c int) error                  { return r.void("memory.copy") }
func (r *recorder) AddMemoryInit(seg uint32, d, s, c int) error {
	return r.void("memory.init %d", seg)
}
func (r *recorder) AddDataDrop(seg uint32) error { return r.void("data.drop %d", seg) }

func (r *recorder) AddTableGet(t uint32, i int) (int, error) { return r.value("table.get %d", t) }
func (r *recorder) AddTableSet(t uint32, i, v int) error     { return r.void("table.set %d", t) }
func (r *recorder) AddTableSize(t uint32) (int, error)       { return r.value("table.size %d", t) }
func (r *recorder) AddTableGrow(t uint32, f, d int) (int, error) {
	return r.value("table.grow %d", t)
}
func (r *recorder) AddTableFill(t uint32, o, f, c int) error { return r.void("table.fill %d", t) }
func (r *recorder) AddTableCopy(dt, st uint32, d, s, c int) error {
	return r.void("table.copy %d %d", dt, st)
}
func (r *recorder) AddTableInit(e, t uint32, d, s, c int) error {
	return r.void("table.init %d %d", e, t)
}
func (r *recorder) AddElemDrop(e uint32) error { return r.void("elem.drop %d", e) }

func (r *recorder) AddRefNull(t wasm.Type) (int, error)  { return r.value("ref.null %s", t) }
func (r *recorder) AddRefIsNull(v int) (int, error)      { return r.value("ref.is_null") }
func (r *recorder) AddRefFunc(i uint32) (int, error)     { return r.value("ref.func %d", i) }
func (r *recorder) AddRefAsNonNull(v int) (int, error)   { return r.value("ref.as_non_null") }
func (r *recorder) AddRefEq(a, b int) (int, error)       { return r.value("ref.eq") }
func (r *recorder) AddRefI31(v int) (int, error)         { return r.value("ref.i31") }
func (r *recorder) AddI31Get(v int, s bool) (int, error) { return r.value("i31.get %v", s) }
func (r *recorder) AddRefTest(v int, n bool, h wasm.HeapType) (int, error) {
	return r.value("ref.test %v %s", n, h)
}
func (r *recorder) AddRefCast(v int, n bool, h wasm.HeapType) (int, error) {
	return r.value("ref.cast %v %s", n, h)
}
func (r *recorder) AddStructNew(ti uint32, args []int) (int, error) {
	return r.value("struct.new %d/%d", ti, len(args))
}
func (r *recorder) AddStructNewDefault(ti uint32) (int, error) {
	return r.value("struct.new_default %d", ti)
}
func (r *recorder) AddStructGet(op bytecode.OpCode, o int, ti, f uint32) (int, error) {
	return r.value("%s %d %d", op, ti, f)
}
func (r *recorder) AddStructSet(o int, ti, f uint32, v int) error {
	return r.void("struct.set %d %d", ti, f)
}
func (r *recorder) AddArrayNew(ti uint32, s, i int) (int, error) { return r.value("array.new %d", ti) }
func (r *recorder) AddArrayNewDefault(ti uint32, s int) (int, error) {
	return r.value("array.new_default %d", ti)
}
func (r *recorder) AddArrayGet(op bytecode.OpCode, ti uint32, a, i int) (int, error) {
	return r.value("%s %d", op, ti)
}
func (r *recorder) AddArraySet(ti uint32, a, i, v int) error { return r.void("array.set %d", ti) }
func (r *recorder) AddArrayLen(a int) (int, error)           { return r.value("array.len") }

func (r *recorder) AddTopLevel(sig *wasm.FunctionSignature) (*recControl, error) {
	return &recControl{kind: "top", sig: sig}, nil
}
func (r *recorder) AddBlock(sig *wasm.FunctionSignature, enc, ns Stack[int]) (*recControl, error) {
	r.log("block enc=%d new=%d", len(enc), len(ns))
	return &recControl{kind: "block", sig: sig, height: r.height - len(ns)}, nil
}
func (r *recorder) AddLoop(sig *wasm.FunctionSignature, enc, ns Stack[int], idx uint32) (*recControl, error) {
	r.log("loop %d", idx)
	return &recControl{kind: "loop", sig: sig, height: r.height - len(ns)}, nil
}
func (r *recorder) AddIf(c int, sig *wasm.FunctionSignature, enc, ns Stack[int]) (*recControl, error) {
	r.log("if")
	return &recControl{kind: "if", sig: sig, height: r.height - len(ns)}, nil
}
func (r *recorder) AddElse(e *ControlEntry[int, *recControl], cur Stack[int]) error {
	r.height = e.Control.height + e.Signature.ArgumentCount()
	return r.void("else")
}
func (r *recorder) AddElseToUnreachable(e *ControlEntry[int, *recControl]) error {
	r.height = e.Control.height + e.Signature.ArgumentCount()
	return r.void("else!")
}
func (r *recorder) AddTry(sig *wasm.FunctionSignature, enc, ns Stack[int]) (*recControl, error) {
	r.log("try")
	return &recControl{kind: "try", sig: sig, height: r.height - len(ns)}, nil
}
func (r *recorder) AddCatch(tag uint32, cur Stack[int], e *ControlEntry[int, *recControl]) ([]int, error) {
	r.log("catch %d", tag)
	e.Control = &recControl{kind: "catch", sig: e.Control.sig, height: e.Control.height}
	r.height = e.Control.height
	return r.results(len(tagSig.Params)), nil
}
func (r *recorder) AddCatchToUnreachable(tag uint32, e *ControlEntry[int, *recControl]) ([]int, error) {
	r.log("catch! %d", tag)
	e.Control = &recControl{kind: "catch", sig: e.Control.sig, height: e.Control.height}
	r.height = e.Control.height
	return r.results(len(tagSig.Params)), nil
}
func (r *recorder) AddCatchAll(cur Stack[int], e *ControlEntry[int, *recControl]) error {
	r.height = e.Control.height
	return r.void("catch_all")
}
func (r *recorder) AddCatchAllToUnreachable(e *ControlEntry[int, *recControl]) error {
	r.height = e.Control.height
	return r.void("catch_all!")
}
func (r *recorder) AddDelegate(target *recControl, e *ControlEntry[int, *recControl]) error {
	return r.void("delegate %s", target.kind)
}
func (r *recorder) AddDelegateToUnreachable(target *recControl, e *ControlEntry[int, *recControl]) error {
	return r.void("delegate! %s", target.kind)
}
func (r *recorder) AddThrow(tag uint32, args []int) error { return r.void("throw %d/%d", tag, len(args)) }
func (r *recorder) AddRethrow(c *recControl) error        { return r.void("rethrow %s", c.kind) }
func (r *recorder) AddReturn(top *recControl, vals Stack[int]) error {
	return r.void("return %d", len(vals))
}
func (r *recorder) AddBranch(t *recControl, vals Stack[int]) error {
	return r.void("br %s", t.kind)
}
func (r *recorder) AddBranchIf(t *recControl, c int, vals Stack[int]) error {
	return r.void("br_if %s", t.kind)
}
func (r *recorder) AddBranchNull(t *recControl, ref int, vals Stack[int], negate bool) (int, error) {
	if negate {
		return 0, r.void("br_on_non_null %s %d", t.kind, len(vals))
	}
	return r.value("br_on_null %s %d", t.kind, len(vals))
}
func (r *recorder) AddBranchCast(t *recControl, ref int, vals Stack[int], n bool, h wasm.HeapType, negate bool) error {
	return r.void("br_on_cast %s %v", t.kind, negate)
}
func (r *recorder) AddSwitch(c int, targets []*recControl, def *recControl, vals Stack[int]) error {
	kinds := make([]string, len(targets))
	for i, t := range targets {
		kinds[i] = t.kind
	}
	return r.void("switch [%s] %s", strings.Join(kinds, " "), def.kind)
}
func (r *recorder) EndBlock(e *ControlEntry[int, *recControl], cur Stack[int]) ([]int, error) {
	r.log("end %s", e.Control.kind)
	r.height = e.Control.height
	return r.results(e.Signature.ReturnCount()), nil
}
func (r *recorder) AddEndToUnreachable(e *ControlEntry[int, *recControl], cur Stack[int]) ([]int, error) {
	r.log("end! %s", e.Control.kind)
	r.height = e.Control.height
	return r.results(e.Signature.ReturnCount()), nil
}
func (r *recorder) AddUnreachable() error { return r.void("unreachable") }

func (r *recorder) AddCall(fi uint32, sig *wasm.FunctionSignature, args []int, tail bool) ([]int, error) {
	r.log("call %d/%d tail=%v", fi, len(args), tail)
	if tail {
		return nil, nil
	}
	return r.results(sig.ReturnCount()), nil
}
func (r *recorder) AddCallIndirect(table, ti uint32, callee int, args []int, tail bool) ([]int, error) {
	r.log("call_indirect %d %d/%d", table, ti, len(args))
	return r.results(testInfo.TypeSignature(ti).ReturnCount()), nil
}
func (r *recorder) AddCallRef(ti uint32, callee int, args []int, tail bool) ([]int, error) {
	r.log("call_ref %d/%d", ti, len(args))
	return r.results(testInfo.TypeSignature(ti).ReturnCount()), nil
}

// ============================================================================
// 测试模块
// ============================================================================

var tagSig = &wasm.FunctionSignature{Params: []wasm.Type{wasm.I32}}

var testInfo = &wasm.ModuleInformation{
	Types: []wasm.TypeDefinition{
		wasm.FuncDef(&wasm.FunctionSignature{Params: []wasm.Type{wasm.I32, wasm.I32}, Results: []wasm.Type{wasm.I32}}),
		wasm.FuncDef(tagSig),
		wasm.StructDef(wasm.FieldType{Storage: wasm.StorageType{Type: wasm.I32, Packed: wasm.PackedI8}, Mutable: true}),
	},
	Functions: []wasm.FunctionInfo{{TypeIndex: 0}},
	Tags:      []wasm.TagInformation{{TypeIndex: 1}},
	Globals:   []wasm.GlobalInformation{{Type: wasm.I64, Mutable: true}},
	Tables:    []wasm.TableInformation{{Element: wasm.FuncRef, Initial: 4}},
}

func parse(t *testing.T, src string) (*recorder, *FunctionParser[int, *recControl], error) {
	t.Helper()
	fn, err := bytecode.ParseFunction(src)
	if err != nil {
		t.Fatalf("bad test input: %v", err)
	}
	r := &recorder{}
	p := New[int, *recControl](r, fn, testInfo.Signature(0), testInfo)
	return r, p, p.Parse()
}

// ============================================================================
// 测试
// ============================================================================

func TestParseCallbackTrace(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			"straight line",
			"local.get 0\nlocal.get 1\ni32.add\nend",
			[]string{"args 2", "local.get 0", "local.get 1", "i32.add", "end top"},
		},
		{
			"locals are grouped",
			"local i32 i32 f64\ni32.const 7\nend",
			[]string{"args 2", "local i32 x2", "local f64 x1", "const i32 7", "end top"},
		},
		{
			"block keeps its parameters",
			"i32.const 1\ni32.const 2\nblock (param i32) (result i32)\nend\ni32.add\nend",
			[]string{"args 2", "const i32 1", "const i32 2", "block enc=1 new=1", "end block", "i32.add", "end top"},
		},
		{
			"if with else",
			"local.get 0\nif (result i32)\ni32.const 1\nelse\ni32.const 2\nend\nend",
			[]string{"args 2", "local.get 0", "if", "const i32 1", "else", "const i32 2", "end if", "end top"},
		},
		{
			"implicit else",
			"local.get 0\nif\nnop\nend\ni32.const 0\nend",
			[]string{"args 2", "local.get 0", "if", "else", "end if", "const i32 0", "end top"},
		},
		{
			"unreachable code is skipped",
			"unreachable\ni32.const 5\nblock\nbr 0\nend\nend",
			[]string{"args 2", "unreachable", "end! top"},
		},
		{
			"unreachable then branch",
			"local.get 0\nif (result i32)\nunreachable\nelse\ni32.const 3\nend\nend",
			[]string{"args 2", "local.get 0", "if", "unreachable", "else!", "const i32 3", "end if", "end top"},
		},
		{
			"loops are numbered",
			"loop\nend\nblock\nloop\nbr 1\nend\nend\ni32.const 0\nend",
			[]string{"args 2", "loop 0", "end loop", "block enc=0 new=0", "loop 1", "br block", "end! loop", "end block", "const i32 0", "end top"},
		},
		{
			"br_table",
			"block\nblock\nlocal.get 0\nbr_table 0 1 2\nend\nend\ni32.const 0\nend",
			[]string{"args 2", "block enc=0 new=0", "block enc=0 new=0", "local.get 0", "switch [block block] top", "end! block", "end block", "const i32 0", "end top"},
		},
		{
			"try catch",
			"try (result i32)\ni32.const 1\ncatch 0\ncatch_all\ni32.const 2\nend\nend",
			[]string{"args 2", "try", "const i32 1", "catch 0", "catch_all", "const i32 2", "end catch", "end top"},
		},
		{
			"throw makes the try body unreachable",
			"try (result i32)\ni32.const 9\nthrow 0\ncatch 0\nend\nend",
			[]string{"args 2", "try", "const i32 9", "throw 0/1", "catch! 0", "end catch", "end top"},
		},
		{
			"delegate to the function level",
			"try\nlocal.get 0\nlocal.get 1\ncall 0\ndrop\ndelegate 0\ni32.const 0\nend",
			[]string{"args 2", "try", "local.get 0", "local.get 1", "call 0/2 tail=false", "delegate top", "end try", "const i32 0", "end top"},
		},
		{
			"rethrow targets the catch",
			"try\ncatch_all\nrethrow 0\nend\ni32.const 0\nend",
			[]string{"args 2", "try", "catch_all", "rethrow try", "end! try", "const i32 0", "end top"},
		},
		{
			"tail call",
			"local.get 0\nlocal.get 1\nreturn_call 0\nend",
			[]string{"args 2", "local.get 0", "local.get 1", "call 0/2 tail=true", "end! top"},
		},
		{
			"br_on_non_null pops the reference on fallthrough",
			"block (result funcref)\nref.null func\nbr_on_non_null 0\nref.null func\nend\ndrop\ni32.const 0\nend",
			[]string{"args 2", "block enc=0 new=0", "ref.null funcref", "br_on_non_null block 1", "ref.null funcref", "end block", "const i32 0", "end top"},
		},
	}

	for _, tt := range tests {
		r, _, err := parse(t, tt.input)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.name, err)
			continue
		}
		if got := strings.Join(r.events, "; "); got != strings.Join(tt.expected, "; ") {
			t.Errorf("%s:\n got %s\nwant %s", tt.name, got, strings.Join(tt.expected, "; "))
		}
	}
}

func TestParseKeepsHeightInStep(t *testing.T) {
	inputs := []string{
		"local.get 0\nlocal.get 1\ni32.add\nend",
		"i32.const 1\ni32.const 2\nblock (param i32) (result i32)\nend\ni32.add\nend",
		"local.get 0\nlocal.get 1\nlocal.get 0\nselect\nend",
		"i32.const 1\nlocal.tee 0\ndrop\nglobal.get 0\ni32.wrap_i64\nend",
	}

	for _, input := range inputs {
		r, p, err := parse(t, input)
		if err != nil {
			t.Errorf("%q: unexpected error: %v", input, err)
			continue
		}
		if r.height != len(p.ExpressionStack()) {
			t.Errorf("%q: compiler height %d, parser stack %d", input, r.height, len(p.ExpressionStack()))
		}
	}
}

func TestParseTypesResults(t *testing.T) {
	tests := []struct {
		input    string
		expected []wasm.Type
	}{
		{"ref.null func\nbr_on_null 0", []wasm.Type{wasm.RefType(wasm.HeapFunc, false)}},
		{"i32.const 1\nf32.const 2\nf32.const 3\ni32.const 0\nselect", []wasm.Type{wasm.I32, wasm.F32}},
		{"ref.null any\nref.cast_null 2", []wasm.Type{wasm.RefType(2, true)}},
		{"struct.new_default 2\nstruct.get_s 2 0", []wasm.Type{wasm.I32}},
		{"global.get 0\ntable.size 0", []wasm.Type{wasm.I64, wasm.I32}},
		{"try\ncatch 0", []wasm.Type{wasm.I32}},
	}

	for _, tt := range tests {
		// 没有 end 的函数体停在最后一条指令之后，可以检查此时的栈
		_, p, err := parse(t, tt.input)
		if cerrors.CodeOf(err) != cerrors.E0003 {
			t.Errorf("%q: expected unterminated body, got %v", tt.input, err)
			continue
		}
		stack := p.ExpressionStack()
		if len(stack) != len(tt.expected) {
			t.Errorf("%q: expected %d values, got %d", tt.input, len(tt.expected), len(stack))
			continue
		}
		for i, te := range stack {
			if te.Type != tt.expected[i] {
				t.Errorf("%q: value %d has type %s, want %s", tt.input, i, te.Type, tt.expected[i])
			}
		}
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"i32.add\nend", cerrors.E0001},
		{"i32.const 1", cerrors.E0003},
		{"else\nend", cerrors.E0202},
		{"catch_all\nend", cerrors.E0203},
		{"br 3\nend", cerrors.E0201},
		{"local.get 9\nend", cerrors.E0004},
		{"block (param i32)\nend\nend", cerrors.E0204},
		{"i32.const 0\nend\nnop", cerrors.E0001},
	}

	for _, tt := range tests {
		_, _, err := parse(t, tt.input)
		if err == nil {
			t.Errorf("%q: expected error", tt.input)
			continue
		}
		if code := cerrors.CodeOf(err); code != tt.expected {
			t.Errorf("%q: expected %s, got %s (%v)", tt.input, tt.expected, code, err)
		}
	}
}

func TestParseTooManyLocals(t *testing.T) {
	fn := &bytecode.Function{Locals: make([]wasm.Type, MaxFunctionLocals), Code: []bytecode.Instr{{Op: bytecode.OpEnd}}}
	for i := range fn.Locals {
		fn.Locals[i] = wasm.I32
	}
	p := New[int, *recControl](&recorder{}, fn, testInfo.Signature(0), testInfo)
	if err := p.Parse(); cerrors.CodeOf(err) != cerrors.E0100 {
		t.Errorf("expected E0100, got %v", err)
	}
}

func TestCurrentOffset(t *testing.T) {
	fn, err := bytecode.ParseFunction("local.get 0\nif @unlikely\nend\ni32.const 0\nend")
	if err != nil {
		t.Fatal(err)
	}
	for i := range fn.Code {
		fn.Code[i].Offset = uint32(i) * 3
	}

	var seen uint32
	r := &offsetRecorder{}
	p := New[int, *recControl](r, fn, testInfo.Signature(0), testInfo)
	r.onIf = func() { seen = p.CurrentOffset() }
	if err := p.Parse(); err != nil {
		t.Fatal(err)
	}
	if seen != 3 {
		t.Errorf("expected offset 3 at if, got %d", seen)
	}
}

type offsetRecorder struct {
	recorder
	onIf func()
}

func (r *offsetRecorder) AddIf(c int, sig *wasm.FunctionSignature, enc, ns Stack[int]) (*recControl, error) {
	r.onIf()
	return r.recorder.AddIf(c, sig, enc, ns)
}
