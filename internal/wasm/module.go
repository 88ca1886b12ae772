package wasm

import "fmt"

// ============================================================================
// 模块信息
// ============================================================================

// PageSize 线性内存页大小
const PageSize = 64 * 1024

// MaxPages 32 位线性内存的最大页数
const MaxPages = 65536

// ImportInfo 导入描述
type ImportInfo struct {
	Module string
	Name   string
}

// FunctionInfo 函数索引空间中的一项（导入在前）
type FunctionInfo struct {
	Name      string
	TypeIndex uint32
	Import    *ImportInfo
}

// MemoryInformation 线性内存描述
type MemoryInformation struct {
	Present      bool
	InitialPages uint32
	MaximumPages uint32
	Shared       bool
}

// TableInformation 表描述
type TableInformation struct {
	Element    Type
	Initial    uint32
	Maximum    uint32
	HasMaximum bool
}

// IsFixedSize 表长度是否固定
func (t TableInformation) IsFixedSize() bool {
	return t.HasMaximum && t.Initial == t.Maximum
}

// GlobalBinding 全局变量的存放方式
type GlobalBinding uint8

const (
	// BindingEmbeddedInInstance 值直接存放在实例中
	BindingEmbeddedInInstance GlobalBinding = iota
	// BindingPortable 实例中存放指向值单元的指针（导入/导出的可变全局）
	BindingPortable
)

// GlobalInformation 全局变量描述
type GlobalInformation struct {
	Type    Type
	Mutable bool
	Binding GlobalBinding
	Init    [2]uint64
}

// TagInformation 异常标签描述
type TagInformation struct {
	TypeIndex uint32
}

// DataSegment 数据段
type DataSegment struct {
	Passive bool
	Offset  uint32
	Bytes   []byte
}

// ElementSegment 元素段
type ElementSegment struct {
	Passive   bool
	Table     uint32
	Offset    uint32
	Functions []uint32
}

// ExportKind 导出种类
type ExportKind uint8

const (
	ExportFunction ExportKind = iota
	ExportTable
	ExportMemory
	ExportGlobal
	ExportTag
)

// Export 导出项
type Export struct {
	Name  string
	Kind  ExportKind
	Index uint32
}

// ModuleInformation 模块范围的只读信息，编译任务之间共享
type ModuleInformation struct {
	Types     []TypeDefinition
	Functions []FunctionInfo
	Memory    MemoryInformation
	Tables    []TableInformation
	Globals   []GlobalInformation
	Tags      []TagInformation
	Data      []DataSegment
	Elements  []ElementSegment
	Exports   []Export

	// BranchHints 函数索引 -> 指令偏移 -> 提示
	BranchHints map[uint32]map[uint32]BranchHint

	// ClobberingTailCalls 会尾调用到其它实例的函数
	ClobberingTailCalls map[uint32]bool

	// Canonical 类型索引 -> 规范索引，由 TypeInformation.Register 填充
	Canonical []TypeIndex
}

// ImportFunctionCount 导入函数数量
func (m *ModuleInformation) ImportFunctionCount() uint32 {
	var n uint32
	for _, f := range m.Functions {
		if f.Import == nil {
			break
		}
		n++
	}
	return n
}

// InternalFunctionCount 模块内定义的函数数量
func (m *ModuleInformation) InternalFunctionCount() uint32 {
	return uint32(len(m.Functions)) - m.ImportFunctionCount()
}

// IsImportedFunction 函数索引是否指向导入
func (m *ModuleInformation) IsImportedFunction(index uint32) bool {
	return index < m.ImportFunctionCount()
}

// ToInternalIndex 函数索引转换为模块内函数序号
func (m *ModuleInformation) ToInternalIndex(index uint32) uint32 {
	return index - m.ImportFunctionCount()
}

// CallCanClobberInstance 调用该函数是否可能切换当前实例
func (m *ModuleInformation) CallCanClobberInstance(index uint32) bool {
	return m.IsImportedFunction(index) || m.ClobberingTailCalls[index]
}

// FunctionTypeIndex 函数的类型索引
func (m *ModuleInformation) FunctionTypeIndex(index uint32) uint32 {
	return m.Functions[index].TypeIndex
}

// Signature 函数签名
func (m *ModuleInformation) Signature(index uint32) *FunctionSignature {
	return m.TypeSignature(m.Functions[index].TypeIndex)
}

// TypeSignature 类型索引对应的函数签名
func (m *ModuleInformation) TypeSignature(typeIndex uint32) *FunctionSignature {
	return m.Types[typeIndex].Func
}

// TagSignature 异常标签的载荷签名
func (m *ModuleInformation) TagSignature(tag uint32) *FunctionSignature {
	return m.TypeSignature(m.Tags[tag].TypeIndex)
}

// CanonicalType 类型索引对应的规范索引
func (m *ModuleInformation) CanonicalType(typeIndex uint32) TypeIndex {
	if int(typeIndex) < len(m.Canonical) {
		return m.Canonical[typeIndex]
	}
	return TypeIndex(typeIndex) + 1
}

// StructType 类型索引对应的结构体类型
func (m *ModuleInformation) StructType(typeIndex uint32) *StructType {
	return m.Types[typeIndex].Struct
}

// ArrayType 类型索引对应的数组类型
func (m *ModuleInformation) ArrayType(typeIndex uint32) *ArrayType {
	return m.Types[typeIndex].Array
}

// IsFinalType 类型是否为 final
func (m *ModuleInformation) IsFinalType(typeIndex uint32) bool {
	return m.Types[typeIndex].Final
}

// IsFuncHeapType 堆类型是否属于函数类型层次
func (m *ModuleInformation) IsFuncHeapType(h HeapType) bool {
	if h.IsConcrete() {
		return m.Types[h.Index()].Kind == DefFunc
	}
	return h == HeapFunc || h == HeapNoFunc
}

// IsExternHeapType 堆类型是否属于 extern 层次
func (m *ModuleInformation) IsExternHeapType(h HeapType) bool {
	return h == HeapExtern || h == HeapNoExtern
}

// BranchHint 查询分支提示
func (m *ModuleInformation) BranchHint(function uint32, offset uint32) BranchHint {
	if m.BranchHints == nil {
		return BranchHintInvalid
	}
	return m.BranchHints[function][offset]
}

// SetBranchHint 记录分支提示
func (m *ModuleInformation) SetBranchHint(function uint32, offset uint32, hint BranchHint) {
	if m.BranchHints == nil {
		m.BranchHints = make(map[uint32]map[uint32]BranchHint)
	}
	if m.BranchHints[function] == nil {
		m.BranchHints[function] = make(map[uint32]BranchHint)
	}
	m.BranchHints[function][offset] = hint
}

// ExportedFunction 按名称查找导出函数
func (m *ModuleInformation) ExportedFunction(name string) (uint32, bool) {
	for _, e := range m.Exports {
		if e.Kind == ExportFunction && e.Name == name {
			return e.Index, true
		}
	}
	return 0, false
}

// Validate 检查索引的一致性
func (m *ModuleInformation) Validate() error {
	for i, f := range m.Functions {
		if int(f.TypeIndex) >= len(m.Types) || m.Types[f.TypeIndex].Kind != DefFunc {
			return fmt.Errorf("function %d: type index %d is not a function type", i, f.TypeIndex)
		}
		if f.Import == nil {
			for _, g := range m.Functions[i:] {
				if g.Import != nil {
					return fmt.Errorf("function %d: imports must precede definitions", i)
				}
			}
		}
	}
	for i, t := range m.Tags {
		if int(t.TypeIndex) >= len(m.Types) || m.Types[t.TypeIndex].Kind != DefFunc {
			return fmt.Errorf("tag %d: type index %d is not a function type", i, t.TypeIndex)
		}
	}
	for i, d := range m.Types {
		if d.Supertype != NoSupertype {
			if int(d.Supertype) >= len(m.Types) {
				return fmt.Errorf("type %d: supertype out of range", i)
			}
			if m.Types[d.Supertype].Kind != d.Kind {
				return fmt.Errorf("type %d: supertype kind mismatch", i)
			}
			if m.Types[d.Supertype].Final {
				return fmt.Errorf("type %d: supertype %d is final", i, d.Supertype)
			}
		}
	}
	if m.Memory.Present && m.Memory.MaximumPages != 0 && m.Memory.InitialPages > m.Memory.MaximumPages {
		return fmt.Errorf("memory: initial pages exceed maximum")
	}
	for _, e := range m.Exports {
		if e.Kind == ExportFunction && int(e.Index) >= len(m.Functions) {
			return fmt.Errorf("export %q: function %d out of range", e.Name, e.Index)
		}
	}
	return nil
}
