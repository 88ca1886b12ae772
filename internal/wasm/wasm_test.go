package wasm

import "testing"

func TestParseType(t *testing.T) {
	tests := []struct {
		input    string
		expected Type
	}{
		{"i32", I32},
		{"f64", F64},
		{"funcref", FuncRef},
		{"(ref null 3)", RefType(3, true)},
		{"(ref struct)", RefType(HeapStruct, false)},
	}

	for _, tt := range tests {
		got, err := ParseType(tt.input)
		if err != nil {
			t.Errorf("ParseType(%q): %v", tt.input, err)
			continue
		}
		if got != tt.expected {
			t.Errorf("ParseType(%q) = %v, expected %v", tt.input, got, tt.expected)
		}
	}

	if _, err := ParseType("(ref null)"); err == nil {
		t.Error("expected error for malformed reference type")
	}
}

func TestStructLayout(t *testing.T) {
	st := (&StructType{Fields: []FieldType{
		{Storage: StorageType{Type: I32, Packed: PackedI8}},
		{Storage: StorageType{Type: I64}},
		{Storage: StorageType{Type: I32, Packed: PackedI16}},
		{Storage: StorageType{Type: I32}},
	}}).Layout()

	expected := []uint32{0, 8, 16, 20}
	for i, off := range expected {
		if got := st.FieldOffset(uint32(i)); got != off {
			t.Errorf("field %d: offset %d, expected %d", i, got, off)
		}
	}
	if st.InstancePayloadSize() != 24 {
		t.Errorf("payload size %d, expected 24", st.InstancePayloadSize())
	}
}

func TestRTTDisplay(t *testing.T) {
	types := []TypeDefinition{
		StructDef().WithSupertype(NoSupertype, false),
		StructDef(FieldType{Storage: StorageType{Type: I32}}).WithSupertype(0, false),
		StructDef(FieldType{Storage: StorageType{Type: I32}}).WithSupertype(1, true),
		StructDef(),
	}
	rtts, err := BuildRTTs(types)
	if err != nil {
		t.Fatal(err)
	}

	if rtts[2].DisplaySizeExcludingThis() != 2 {
		t.Fatalf("display size %d, expected 2", rtts[2].DisplaySizeExcludingThis())
	}
	if !rtts[2].IsSubRTT(rtts[0]) || !rtts[2].IsSubRTT(rtts[1]) || !rtts[2].IsSubRTT(rtts[2]) {
		t.Error("type 2 should be a subtype of its ancestors")
	}
	if rtts[0].IsSubRTT(rtts[2]) {
		t.Error("root should not be a subtype of its descendant")
	}
	if rtts[3].IsSubRTT(rtts[0]) {
		t.Error("unrelated type reported as subtype")
	}
}

func TestTypeInformationCanonicalizes(t *testing.T) {
	sig := &FunctionSignature{Params: []Type{I32, I32}, Results: []Type{I32}}
	m1 := &ModuleInformation{Types: []TypeDefinition{FuncDef(sig), FuncDef(&FunctionSignature{})}}
	m2 := &ModuleInformation{Types: []TypeDefinition{
		FuncDef(&FunctionSignature{}),
		FuncDef(&FunctionSignature{Params: []Type{I32, I32}, Results: []Type{I32}}),
	}}

	ti := NewTypeInformation()
	c1, err := ti.Register(m1)
	if err != nil {
		t.Fatal(err)
	}
	c2, err := ti.Register(m2)
	if err != nil {
		t.Fatal(err)
	}

	if c1[0] != c2[1] || c1[1] != c2[0] {
		t.Errorf("structurally equal signatures got different indices: %v %v", c1, c2)
	}
	if c1[0] == 0 || c1[0] == c1[1] {
		t.Errorf("unexpected canonical indices %v", c1)
	}
	if ti.Count() != 2 {
		t.Errorf("expected 2 canonical types, got %d", ti.Count())
	}
}

func TestI31Boxing(t *testing.T) {
	tests := []struct {
		value    int32
		signed   int32
		unsigned int32
	}{
		{0, 0, 0},
		{5, 5, 5},
		{-1, -1, 0x7fffffff},
		{0x40000000, -0x40000000, 0x40000000},
	}

	for _, tt := range tests {
		ref := BoxI31(tt.value)
		if !IsI31(ref) {
			t.Errorf("BoxI31(%d) is not tagged", tt.value)
		}
		if got := UnboxI31(ref, true); got != tt.signed {
			t.Errorf("UnboxI31(%d, signed) = %d, expected %d", tt.value, got, tt.signed)
		}
		if got := UnboxI31(ref, false); got != tt.unsigned {
			t.Errorf("UnboxI31(%d, unsigned) = %d, expected %d", tt.value, got, tt.unsigned)
		}
	}
}

func TestInstanceLayout(t *testing.T) {
	m := &ModuleInformation{
		Types:     []TypeDefinition{FuncDef(&FunctionSignature{})},
		Functions: []FunctionInfo{{Import: &ImportInfo{"env", "f"}}, {Import: &ImportInfo{"env", "g"}}, {}},
		Tables:    []TableInformation{{Element: FuncRef}},
		Globals:   []GlobalInformation{{Type: I32}, {Type: V128}},
	}
	l := NewInstanceLayout(m)

	if l.TableOffset(0) != instanceHeaderSize {
		t.Errorf("table offset %d", l.TableOffset(0))
	}
	if l.ImportStubOffset(1) != instanceHeaderSize+8+ImportFunctionInfoSize {
		t.Errorf("import stub offset %d", l.ImportStubOffset(1))
	}
	if l.GlobalOffset(0)%GlobalSlotSize != 0 {
		t.Errorf("global slot misaligned: %d", l.GlobalOffset(0))
	}
	if l.Size() != l.GlobalOffset(1)+GlobalSlotSize {
		t.Errorf("size %d", l.Size())
	}
	if m.ImportFunctionCount() != 2 || !m.CallCanClobberInstance(1) || m.CallCanClobberInstance(2) {
		t.Error("import accounting is wrong")
	}
}
