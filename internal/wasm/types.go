// Package wasm 描述 OMG 编译层消费的模块信息：值类型、签名、GC 类型、
// 运行时类型显示表（RTT）、陷阱种类以及实例和堆对象的内存布局。
package wasm

import (
	"fmt"
	"strings"
)

// ============================================================================
// 值类型
// ============================================================================

// TypeKind 值类型种类
type TypeKind uint8

const (
	KindVoid TypeKind = iota
	KindI32
	KindI64
	KindF32
	KindF64
	KindV128
	KindRef
)

// HeapType 堆类型；非负值是模块类型索引，负值是抽象堆类型
type HeapType int32

const (
	HeapFunc     HeapType = -0x10
	HeapExtern   HeapType = -0x11
	HeapAny      HeapType = -0x12
	HeapEq       HeapType = -0x13
	HeapI31      HeapType = -0x14
	HeapStruct   HeapType = -0x15
	HeapArray    HeapType = -0x16
	HeapNone     HeapType = -0x0f
	HeapNoExtern HeapType = -0x0e
	HeapNoFunc   HeapType = -0x0d
)

// IsConcrete 是否为具体类型索引
func (h HeapType) IsConcrete() bool { return h >= 0 }

// Index 具体类型索引
func (h HeapType) Index() uint32 { return uint32(h) }

// IsBottom 是否为 none/nofunc/noextern 这类底类型
func (h HeapType) IsBottom() bool {
	return h == HeapNone || h == HeapNoExtern || h == HeapNoFunc
}

func (h HeapType) String() string {
	switch h {
	case HeapFunc:
		return "func"
	case HeapExtern:
		return "extern"
	case HeapAny:
		return "any"
	case HeapEq:
		return "eq"
	case HeapI31:
		return "i31"
	case HeapStruct:
		return "struct"
	case HeapArray:
		return "array"
	case HeapNone:
		return "none"
	case HeapNoExtern:
		return "noextern"
	case HeapNoFunc:
		return "nofunc"
	}
	return fmt.Sprintf("%d", int32(h))
}

// ParseHeapType 解析堆类型名称或类型索引
func ParseHeapType(s string) (HeapType, error) {
	switch s {
	case "func":
		return HeapFunc, nil
	case "extern":
		return HeapExtern, nil
	case "any":
		return HeapAny, nil
	case "eq":
		return HeapEq, nil
	case "i31":
		return HeapI31, nil
	case "struct":
		return HeapStruct, nil
	case "array":
		return HeapArray, nil
	case "none":
		return HeapNone, nil
	case "noextern":
		return HeapNoExtern, nil
	case "nofunc":
		return HeapNoFunc, nil
	}
	var idx int32
	if _, err := fmt.Sscanf(s, "%d", &idx); err != nil || idx < 0 {
		return 0, fmt.Errorf("unknown heap type %q", s)
	}
	return HeapType(idx), nil
}

// Type 值类型
type Type struct {
	Kind     TypeKind
	Heap     HeapType // 仅引用类型有效
	Nullable bool     // 仅引用类型有效
}

// 常用类型
var (
	Void      = Type{Kind: KindVoid}
	I32       = Type{Kind: KindI32}
	I64       = Type{Kind: KindI64}
	F32       = Type{Kind: KindF32}
	F64       = Type{Kind: KindF64}
	V128      = Type{Kind: KindV128}
	FuncRef   = Type{Kind: KindRef, Heap: HeapFunc, Nullable: true}
	ExternRef = Type{Kind: KindRef, Heap: HeapExtern, Nullable: true}
	AnyRef    = Type{Kind: KindRef, Heap: HeapAny, Nullable: true}
	EqRef     = Type{Kind: KindRef, Heap: HeapEq, Nullable: true}
	I31Ref    = Type{Kind: KindRef, Heap: HeapI31, Nullable: true}
)

// RefType 构造引用类型
func RefType(heap HeapType, nullable bool) Type {
	return Type{Kind: KindRef, Heap: heap, Nullable: nullable}
}

// IsRef 是否为引用类型
func (t Type) IsRef() bool { return t.Kind == KindRef }

// IsFloat 是否为浮点类型
func (t Type) IsFloat() bool { return t.Kind == KindF32 || t.Kind == KindF64 }

// IsFuncRef 是否为函数引用（包括具体函数类型，需模块信息判断）
func (t Type) IsFuncRef() bool { return t.Kind == KindRef && t.Heap == HeapFunc }

// AsNonNull 返回不可空版本
func (t Type) AsNonNull() Type {
	t.Nullable = false
	return t
}

// Size 值在栈槽中的字节数
func (t Type) Size() uint32 {
	switch t.Kind {
	case KindI32, KindF32:
		return 4
	case KindV128:
		return 16
	case KindVoid:
		return 0
	}
	return 8
}

func (t Type) String() string {
	switch t.Kind {
	case KindVoid:
		return "void"
	case KindI32:
		return "i32"
	case KindI64:
		return "i64"
	case KindF32:
		return "f32"
	case KindF64:
		return "f64"
	case KindV128:
		return "v128"
	case KindRef:
		if t.Nullable {
			switch t.Heap {
			case HeapFunc:
				return "funcref"
			case HeapExtern:
				return "externref"
			}
			return fmt.Sprintf("(ref null %s)", t.Heap)
		}
		return fmt.Sprintf("(ref %s)", t.Heap)
	}
	return "?"
}

// ParseType 解析值类型名称
func ParseType(s string) (Type, error) {
	switch s {
	case "i32":
		return I32, nil
	case "i64":
		return I64, nil
	case "f32":
		return F32, nil
	case "f64":
		return F64, nil
	case "v128":
		return V128, nil
	case "funcref":
		return FuncRef, nil
	case "externref":
		return ExternRef, nil
	case "anyref":
		return AnyRef, nil
	case "eqref":
		return EqRef, nil
	case "i31ref":
		return I31Ref, nil
	}
	// (ref null 3) / (ref struct)
	if strings.HasPrefix(s, "(ref") && strings.HasSuffix(s, ")") {
		fields := strings.Fields(strings.TrimSuffix(strings.TrimPrefix(s, "(ref"), ")"))
		nullable := false
		if len(fields) == 2 && fields[0] == "null" {
			nullable = true
			fields = fields[1:]
		}
		if len(fields) != 1 {
			return Type{}, fmt.Errorf("malformed reference type %q", s)
		}
		heap, err := ParseHeapType(fields[0])
		if err != nil {
			return Type{}, err
		}
		return RefType(heap, nullable), nil
	}
	return Type{}, fmt.Errorf("unknown value type %q", s)
}

// ============================================================================
// 签名
// ============================================================================

// FunctionSignature 函数签名
type FunctionSignature struct {
	Params  []Type
	Results []Type
}

// ArgumentCount 参数数量
func (s *FunctionSignature) ArgumentCount() int { return len(s.Params) }

// ReturnCount 返回值数量
func (s *FunctionSignature) ReturnCount() int { return len(s.Results) }

// HasReturnVector 是否包含 v128 参数或返回值
func (s *FunctionSignature) HasReturnVector() bool {
	for _, t := range s.Results {
		if t.Kind == KindV128 {
			return true
		}
	}
	return false
}

// UsesV128 签名中是否出现 v128
func (s *FunctionSignature) UsesV128() bool {
	for _, t := range s.Params {
		if t.Kind == KindV128 {
			return true
		}
	}
	return s.HasReturnVector()
}

func (s *FunctionSignature) String() string {
	var sb strings.Builder
	sb.WriteString("(")
	for i, t := range s.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(t.String())
	}
	sb.WriteString(") -> (")
	for i, t := range s.Results {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(t.String())
	}
	sb.WriteString(")")
	return sb.String()
}

// Equal 结构相等
func (s *FunctionSignature) Equal(o *FunctionSignature) bool {
	if len(s.Params) != len(o.Params) || len(s.Results) != len(o.Results) {
		return false
	}
	for i := range s.Params {
		if s.Params[i] != o.Params[i] {
			return false
		}
	}
	for i := range s.Results {
		if s.Results[i] != o.Results[i] {
			return false
		}
	}
	return true
}

// BranchHint 分支提示
type BranchHint uint8

const (
	BranchHintInvalid BranchHint = iota
	BranchHintUnlikely
	BranchHintLikely
)
