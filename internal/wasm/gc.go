package wasm

import "fmt"

// ============================================================================
// GC 类型定义
// ============================================================================

// DefKind 类型定义种类
type DefKind uint8

const (
	DefFunc DefKind = iota
	DefStruct
	DefArray
)

func (k DefKind) String() string {
	switch k {
	case DefFunc:
		return "func"
	case DefStruct:
		return "struct"
	case DefArray:
		return "array"
	}
	return "?"
}

// PackedType 打包存储类型
type PackedType uint8

const (
	NotPacked PackedType = iota
	PackedI8
	PackedI16
)

// StorageType 字段存储类型
type StorageType struct {
	Type   Type
	Packed PackedType
}

// Size 存储宽度（字节）
func (s StorageType) Size() uint32 {
	switch s.Packed {
	case PackedI8:
		return 1
	case PackedI16:
		return 2
	}
	return s.Type.Size()
}

// Unpacked 读取后在操作数栈上的类型
func (s StorageType) Unpacked() Type {
	if s.Packed != NotPacked {
		return I32
	}
	return s.Type
}

// FieldType 字段类型
type FieldType struct {
	Storage StorageType
	Mutable bool
}

// StructType 结构体类型，字段偏移在 Layout 中计算
type StructType struct {
	Fields  []FieldType
	offsets []uint32
	size    uint32
}

// Layout 计算字段偏移（自然对齐），返回自身
func (s *StructType) Layout() *StructType {
	s.offsets = make([]uint32, len(s.Fields))
	var off uint32
	for i, f := range s.Fields {
		sz := f.Storage.Size()
		off = (off + sz - 1) &^ (sz - 1)
		s.offsets[i] = off
		off += sz
	}
	s.size = (off + 7) &^ 7
	return s
}

// FieldOffset 字段相对于对象负载起点的偏移
func (s *StructType) FieldOffset(i uint32) uint32 {
	if s.offsets == nil {
		s.Layout()
	}
	return s.offsets[i]
}

// InstancePayloadSize 负载字节数
func (s *StructType) InstancePayloadSize() uint32 {
	if s.offsets == nil {
		s.Layout()
	}
	return s.size
}

// ArrayType 数组类型
type ArrayType struct {
	Element FieldType
}

// NoSupertype 表示没有父类型
const NoSupertype = -1

// TypeDefinition 模块类型段中的一项
type TypeDefinition struct {
	Kind      DefKind
	Func      *FunctionSignature
	Struct    *StructType
	Array     *ArrayType
	Supertype int32 // NoSupertype 表示没有
	Final     bool
}

// FuncDef 构造函数类型定义（final，无父类型）
func FuncDef(sig *FunctionSignature) TypeDefinition {
	return TypeDefinition{Kind: DefFunc, Func: sig, Supertype: NoSupertype, Final: true}
}

// StructDef 构造结构体类型定义
func StructDef(fields ...FieldType) TypeDefinition {
	st := (&StructType{Fields: fields}).Layout()
	return TypeDefinition{Kind: DefStruct, Struct: st, Supertype: NoSupertype, Final: true}
}

// ArrayDef 构造数组类型定义
func ArrayDef(elem FieldType) TypeDefinition {
	return TypeDefinition{Kind: DefArray, Array: &ArrayType{Element: elem}, Supertype: NoSupertype, Final: true}
}

// WithSupertype 设置父类型并标记为非 final
func (d TypeDefinition) WithSupertype(super int32, final bool) TypeDefinition {
	d.Supertype = super
	d.Final = final
	return d
}

// ============================================================================
// 运行时类型（RTT）
// ============================================================================

// RTT 运行时类型显示表。Display 从直接父类型排到根类型，不含自身
type RTT struct {
	Kind    DefKind
	Index   uint32 // 模块内类型索引
	Display []*RTT
}

// DisplaySizeExcludingThis 显示表长度
func (r *RTT) DisplaySizeExcludingThis() uint32 { return uint32(len(r.Display)) }

// IsSubRTT 判断 r 是否为 parent 的子类型
func (r *RTT) IsSubRTT(parent *RTT) bool {
	if r == parent {
		return true
	}
	size := r.DisplaySizeExcludingThis()
	parentSize := parent.DisplaySizeExcludingThis()
	if size <= parentSize {
		return false
	}
	return r.Display[size-1-parentSize] == parent
}

// BuildRTTs 为模块的每个类型定义构造 RTT
func BuildRTTs(types []TypeDefinition) ([]*RTT, error) {
	rtts := make([]*RTT, len(types))
	var build func(i int, depth int) (*RTT, error)
	build = func(i int, depth int) (*RTT, error) {
		if rtts[i] != nil {
			return rtts[i], nil
		}
		if depth > len(types) {
			return nil, fmt.Errorf("cyclic supertype chain at type %d", i)
		}
		def := types[i]
		r := &RTT{Kind: def.Kind, Index: uint32(i)}
		if def.Supertype != NoSupertype {
			if int(def.Supertype) >= len(types) {
				return nil, fmt.Errorf("type %d: supertype %d out of range", i, def.Supertype)
			}
			parent, err := build(int(def.Supertype), depth+1)
			if err != nil {
				return nil, err
			}
			r.Display = append([]*RTT{parent}, parent.Display...)
		}
		rtts[i] = r
		return r, nil
	}
	for i := range types {
		if _, err := build(i, 0); err != nil {
			return nil, err
		}
	}
	return rtts, nil
}
