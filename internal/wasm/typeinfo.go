package wasm

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// TypeIndex 规范化后的类型索引，跨模块唯一；0 保留给空表项
type TypeIndex uint64

// TypeInformation 跨模块的类型规范化表。结构相同的类型定义得到同一个索引，
// 结构指纹使用 blake2b-256。
type TypeInformation struct {
	mu      sync.Mutex
	byPrint map[[blake2b.Size256]byte]TypeIndex
	defs    []TypeDefinition
}

// NewTypeInformation 创建规范化表
func NewTypeInformation() *TypeInformation {
	return &TypeInformation{
		byPrint: make(map[[blake2b.Size256]byte]TypeIndex),
		defs:    []TypeDefinition{{}},
	}
}

// Register 规范化模块中所有类型，结果写入 m.Canonical
func (ti *TypeInformation) Register(m *ModuleInformation) ([]TypeIndex, error) {
	ti.mu.Lock()
	defer ti.mu.Unlock()

	out := make([]TypeIndex, len(m.Types))
	for i := range m.Types {
		if err := ti.registerLocked(m, out, i, 0); err != nil {
			return nil, err
		}
	}
	m.Canonical = out
	return out, nil
}

func (ti *TypeInformation) registerLocked(m *ModuleInformation, out []TypeIndex, i int, depth int) error {
	if out[i] != 0 {
		return nil
	}
	if depth > len(m.Types) {
		return fmt.Errorf("type %d: recursive type definitions are not canonicalized", i)
	}
	def := m.Types[i]
	// 先规范化被引用的类型，指纹里写入它们的规范索引
	var deps []int
	collect := func(t Type) {
		if t.IsRef() && t.Heap.IsConcrete() {
			deps = append(deps, int(t.Heap.Index()))
		}
	}
	switch def.Kind {
	case DefFunc:
		for _, t := range def.Func.Params {
			collect(t)
		}
		for _, t := range def.Func.Results {
			collect(t)
		}
	case DefStruct:
		for _, f := range def.Struct.Fields {
			collect(f.Storage.Type)
		}
	case DefArray:
		collect(def.Array.Element.Storage.Type)
	}
	if def.Supertype != NoSupertype {
		deps = append(deps, int(def.Supertype))
	}
	for _, d := range deps {
		if d == i {
			return fmt.Errorf("type %d: self-referential type definitions are not canonicalized", i)
		}
		if err := ti.registerLocked(m, out, d, depth+1); err != nil {
			return err
		}
	}

	fp := fingerprint(def, out)
	if idx, ok := ti.byPrint[fp]; ok {
		out[i] = idx
		return nil
	}
	idx := TypeIndex(len(ti.defs))
	ti.defs = append(ti.defs, def)
	ti.byPrint[fp] = idx
	out[i] = idx
	return nil
}

// Definition 规范索引对应的定义
func (ti *TypeInformation) Definition(idx TypeIndex) (TypeDefinition, bool) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	if idx == 0 || int(idx) >= len(ti.defs) {
		return TypeDefinition{}, false
	}
	return ti.defs[idx], true
}

// Count 已规范化的类型数量
func (ti *TypeInformation) Count() int {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	return len(ti.defs) - 1
}

func fingerprint(def TypeDefinition, canonical []TypeIndex) [blake2b.Size256]byte {
	var buf []byte
	u64 := func(v uint64) {
		buf = binary.LittleEndian.AppendUint64(buf, v)
	}
	typ := func(t Type) {
		buf = append(buf, byte(t.Kind))
		if t.IsRef() {
			if t.Nullable {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
			if t.Heap.IsConcrete() {
				buf = append(buf, 'c')
				u64(uint64(canonical[t.Heap.Index()]))
			} else {
				buf = append(buf, 'a')
				u64(uint64(int64(t.Heap)))
			}
		}
	}
	field := func(f FieldType) {
		typ(f.Storage.Type)
		buf = append(buf, byte(f.Storage.Packed))
		if f.Mutable {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}

	buf = append(buf, byte(def.Kind))
	if def.Final {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	if def.Supertype != NoSupertype {
		u64(uint64(canonical[def.Supertype]))
	} else {
		u64(0)
	}
	switch def.Kind {
	case DefFunc:
		u64(uint64(len(def.Func.Params)))
		for _, t := range def.Func.Params {
			typ(t)
		}
		u64(uint64(len(def.Func.Results)))
		for _, t := range def.Func.Results {
			typ(t)
		}
	case DefStruct:
		u64(uint64(len(def.Struct.Fields)))
		for _, f := range def.Struct.Fields {
			field(f)
		}
	case DefArray:
		field(def.Array.Element)
	}
	return blake2b.Sum256(buf)
}
