package bytecode

import (
	"strings"
	"testing"

	"github.com/tangzhangming/novaomg/internal/wasm"
)

func TestParseFunction(t *testing.T) {
	src := `
local i32 (ref null 2)
block (param i32) (result i32 i64)   ;; comment
  i32.load offset=32 align=2
  br_if 0 @unlikely
  br_table 0 1 2
  v128.const i32x4 1 2 3 0xffffffff
  ref.test_null 3
  br_on_cast 1 (ref struct)
end
`
	fn, err := ParseFunction(src)
	if err != nil {
		t.Fatal(err)
	}

	if len(fn.Locals) != 2 || fn.Locals[1] != wasm.RefType(2, true) {
		t.Errorf("unexpected locals %v", fn.Locals)
	}
	if len(fn.Code) != 8 {
		t.Fatalf("expected 8 instructions, got %d", len(fn.Code))
	}

	block := fn.Code[0]
	if block.Op != OpBlock || len(block.Block.Params) != 1 || len(block.Block.Results) != 2 {
		t.Errorf("bad block type %+v", block.Block)
	}
	if load := fn.Code[1]; load.Mem.Offset != 32 || load.Mem.Align != 2 {
		t.Errorf("bad memarg %+v", load.Mem)
	}
	if fn.Hints[2] != wasm.BranchHintUnlikely {
		t.Errorf("missing branch hint, got %v", fn.Hints)
	}
	if tbl := fn.Code[3]; len(tbl.Targets) != 2 || tbl.Index != 2 {
		t.Errorf("bad br_table %+v", tbl)
	}
	if v := fn.Code[4].V128; v[0] != 0x0000000200000001 || v[1] != 0xffffffff00000003 {
		t.Errorf("bad v128 const %x", v)
	}
	if rt := fn.Code[5].RefType; rt != wasm.RefType(3, true) {
		t.Errorf("bad ref.test type %v", rt)
	}
	if bc := fn.Code[6]; bc.Index != 1 || bc.RefType != wasm.RefType(wasm.HeapStruct, false) {
		t.Errorf("bad br_on_cast %+v", bc)
	}
}

func TestParseFunctionErrors(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"i32.bogus", "unknown instruction"},
		{"i32.const", "expected 1 immediate"},
		{"block (param i32", "unbalanced"},
		{"i32.load offset", "malformed memory immediate"},
		{"i32.const 1\nlocal i32", "local declaration after code"},
		{"br_if 0 @sometimes", "unknown annotation"},
	}

	for _, tt := range tests {
		_, err := ParseFunction(tt.input)
		if err == nil {
			t.Errorf("%q: expected error", tt.input)
			continue
		}
		if !strings.Contains(err.Error(), tt.expected) {
			t.Errorf("%q: error %q does not mention %q", tt.input, err, tt.expected)
		}
	}
}

func TestAssemblerRoundTrip(t *testing.T) {
	fn := NewAssembler().
		LocalGet(0).
		LocalGet(1).
		Op(OpI32Add).
		Op(OpEnd).
		Function()

	text := fn.Disassemble()
	for _, want := range []string{"local.get 0", "local.get 1", "i32.add", "end"} {
		if !strings.Contains(text, want) {
			t.Errorf("disassembly missing %q:\n%s", want, text)
		}
	}

	again, err := ParseFunction("local.get 0\nlocal.get 1\ni32.add\nend")
	if err != nil {
		t.Fatal(err)
	}
	for i := range fn.Code {
		if fn.Code[i].Op != again.Code[i].Op || fn.Code[i].Index != again.Code[i].Index {
			t.Errorf("instruction %d differs: %v vs %v", i, fn.Code[i].String(), again.Code[i].String())
		}
	}
}

func TestVerifier(t *testing.T) {
	info := &wasm.ModuleInformation{
		Types:     []wasm.TypeDefinition{wasm.FuncDef(&wasm.FunctionSignature{Params: []wasm.Type{wasm.I32}})},
		Functions: []wasm.FunctionInfo{{TypeIndex: 0}},
		Tags:      []wasm.TagInformation{{TypeIndex: 0}},
	}

	tests := []struct {
		src string
		ok  bool
	}{
		{"local.get 0\ndrop\nend", true},
		{"local.get 1\ndrop\nend", false},
		{"block\nbr 2\nend\nend", false},
		{"block\nbr 1\nend\nend", true},
		{"else\nend", false},
		{"try\ncatch 0\ndrop\nrethrow 0\nend\nend", true},
		{"try\nrethrow 0\nend\nend", false},
		{"try\ndelegate 0\nend", true},
		{"nop", false},
		{"end\nnop", false},
	}

	for _, tt := range tests {
		fn, err := ParseFunction(tt.src)
		if err != nil {
			t.Fatalf("%q: %v", tt.src, err)
		}
		err = NewVerifier(info, fn).Verify()
		if tt.ok && err != nil {
			t.Errorf("%q: unexpected error %v", tt.src, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("%q: expected verification error", tt.src)
		}
	}
}

func TestModuleValidateMarksClobberingTailCalls(t *testing.T) {
	sig := &wasm.FunctionSignature{}
	info := &wasm.ModuleInformation{
		Types: []wasm.TypeDefinition{wasm.FuncDef(sig)},
		Functions: []wasm.FunctionInfo{
			{TypeIndex: 0, Import: &wasm.ImportInfo{Module: "env", Name: "f"}},
			{TypeIndex: 0},
			{TypeIndex: 0},
		},
	}
	m := &Module{Info: info, Functions: []*Function{
		NewAssembler().Call(0).Op(OpEnd).Function(),
		NewAssembler().Index(OpReturnCall, 0).Op(OpEnd).Function(),
	}}
	if err := m.Validate(); err != nil {
		t.Fatal(err)
	}
	if info.CallCanClobberInstance(1) {
		t.Error("plain call should not clobber")
	}
	if !info.CallCanClobberInstance(2) {
		t.Error("tail call to an import should clobber")
	}
	if m.Body(0) != nil || m.Body(2).Index != 2 {
		t.Error("Body lookup is wrong")
	}
}
