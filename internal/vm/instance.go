// instance.go - 模块实例的内存布局
//
// 实例对象按 wasm.InstanceLayout 排列：固定头部（内存基址、边界、屏障阈值、
// 栈上限、分层计数器、RTT 数组），之后是表指针、导入函数信息和全局变量槽。
// 表对象、RTT、全局值单元和函数对象都分配在运行时堆上。

package vm

import (
	"fmt"

	"github.com/tangzhangming/novaomg/internal/jit"
	"github.com/tangzhangming/novaomg/internal/jit/ir"
	"github.com/tangzhangming/novaomg/internal/wasm"
)

// 导入函数的调用桩地址：ImportStubBase + 导入序号 * ImportStubStride
const (
	ImportStubBase   = 0x2000_0000
	ImportStubStride = 0x10
)

// table 运行时表
type table struct {
	info  wasm.TableInformation
	obj   uint64 // 表对象地址
	funcs bool   // 元素是函数表项
}

// Instance 模块实例
type Instance struct {
	Addr uint64

	info   *wasm.ModuleInformation
	layout *wasm.InstanceLayout
	space  *AddressSpace
	heap   *Heap

	rtts        []*wasm.RTT
	rttAddrs    []uint64
	rttByAddr   map[uint64]*wasm.RTT
	tables      []*table
	counters    uint64
	funcObjects map[uint32]uint64

	droppedData     map[uint32]bool
	droppedElements map[uint32]bool
	maxPages        uint32

	// moduleEntrypoint 模块内函数的代码地址
	moduleEntrypoint func(fn uint32) uint64
}

// newInstance 按模块信息初始化实例
func newInstance(info *wasm.ModuleInformation, space *AddressSpace, heap *Heap, opts *jit.Options,
	moduleEntrypoint func(uint32) uint64) (*Instance, error) {
	rtts, err := wasm.BuildRTTs(info.Types)
	if err != nil {
		return nil, err
	}
	layout := wasm.NewInstanceLayout(info)
	inst := &Instance{
		Addr:             space.Alloc(layout.Size(), 16),
		info:             info,
		layout:           layout,
		space:            space,
		heap:             heap,
		rtts:             rtts,
		rttByAddr:        make(map[uint64]*wasm.RTT),
		funcObjects:      make(map[uint32]uint64),
		droppedData:      make(map[uint32]bool),
		droppedElements:  make(map[uint32]bool),
		moduleEntrypoint: moduleEntrypoint,
	}

	inst.initMemory()
	inst.initRTTs()
	inst.initCounters(opts)
	space.putU64(inst.Addr+wasm.InstanceOffsetStackLimit, space.StackLimit())
	space.putU32(inst.Addr+wasm.InstanceOffsetBarrierThreshold, wasm.CellStateBlackThreshold)

	for i := range info.Functions[:info.ImportFunctionCount()] {
		off := inst.Addr + uint64(layout.ImportFunctionInfoOffset(uint32(i)))
		space.putU64(off+wasm.ImportOffsetEntrypoint, ImportStubBase+uint64(i)*ImportStubStride)
		space.putU64(off+wasm.ImportOffsetTargetInstance, inst.Addr)
		space.putU64(off+wasm.ImportOffsetBoxedCallee, uint64(i))
	}
	for i, g := range info.Globals {
		inst.initGlobal(uint32(i), g)
	}
	for i, t := range info.Tables {
		inst.initTable(uint32(i), t)
	}
	if err := inst.applySegments(); err != nil {
		return nil, err
	}
	return inst, nil
}

func (inst *Instance) initMemory() {
	m := inst.info.Memory
	if !m.Present {
		return
	}
	inst.maxPages = wasm.MaxPages
	if m.MaximumPages != 0 {
		inst.maxPages = m.MaximumPages
	}
	inst.space.GrowMemory(m.InitialPages, inst.maxPages)
	inst.space.putU64(inst.Addr+wasm.InstanceOffsetMemoryBase, LinearMemoryBase)
	inst.syncMemorySize()
}

// syncMemorySize 内存大小变化后更新实例字段
func (inst *Instance) syncMemorySize() {
	size := inst.space.MemorySize()
	inst.space.putU64(inst.Addr+wasm.InstanceOffsetBoundsCheckingSize, size)
	inst.space.putU64(inst.Addr+wasm.InstanceOffsetMemorySize, size)
}

// initRTTs 把 RTT 写进堆：种类、显示表长度、父类型 RTT 指针
func (inst *Instance) initRTTs() {
	inst.rttAddrs = make([]uint64, len(inst.rtts))
	for i, r := range inst.rtts {
		addr := inst.space.Alloc(wasm.RTTOffsetPayload+8*r.DisplaySizeExcludingThis(), 8)
		inst.rttAddrs[i] = addr
		inst.rttByAddr[addr] = r
	}
	for i, r := range inst.rtts {
		addr := inst.rttAddrs[i]
		inst.space.putU32(addr+wasm.RTTOffsetKind, uint32(r.Kind))
		inst.space.putU32(addr+wasm.RTTOffsetDisplaySize, r.DisplaySizeExcludingThis())
		for j, parent := range r.Display {
			inst.space.putU64(addr+wasm.RTTOffsetPayload+uint64(8*j), inst.rttAddrs[parent.Index])
		}
	}
	array := inst.space.Alloc(uint32(8*max(len(inst.rtts), 1)), 8)
	for i, addr := range inst.rttAddrs {
		inst.space.putU64(array+uint64(8*i), addr)
	}
	inst.space.putU64(inst.Addr+wasm.InstanceOffsetRTTs, array)
}

// initCounters 每个模块内函数一个 32 位计数器，初值为 -Threshold
func (inst *Instance) initCounters(opts *jit.Options) {
	n := inst.info.InternalFunctionCount()
	inst.counters = inst.space.Alloc(4*max(n, 1), 8)
	for i := uint32(0); i < n; i++ {
		inst.space.putU32(inst.counters+uint64(4*i), uint32(-opts.TierUp.Threshold))
	}
	inst.space.putU64(inst.Addr+wasm.InstanceOffsetTierUpCounters, inst.counters)
}

// Counter 函数的分层计数器当前值
func (inst *Instance) Counter(functionIndex uint32) int32 {
	return int32(inst.space.u32(inst.counters + uint64(4*inst.info.ToInternalIndex(functionIndex))))
}

func (inst *Instance) initGlobal(i uint32, g wasm.GlobalInformation) {
	slot := inst.Addr + uint64(inst.layout.GlobalOffset(i))
	target := slot
	if g.Binding == wasm.BindingPortable {
		target = inst.space.Alloc(wasm.GlobalSlotSize, 16)
		inst.space.putU64(slot, target)
	}
	_ = inst.space.Store(target, int(max(g.Type.Size(), 8)), ir.Bits{g.Init[0], g.Init[1]})
}

// globalAddress 全局变量值所在地址
func (inst *Instance) globalAddress(i uint32) uint64 {
	slot := inst.Addr + uint64(inst.layout.GlobalOffset(i))
	if inst.info.Globals[i].Binding == wasm.BindingPortable {
		return inst.space.u64(slot)
	}
	return slot
}

// Global 读全局变量
func (inst *Instance) Global(i uint32) ir.Bits {
	v, _ := inst.space.Load(inst.globalAddress(i), int(max(inst.info.Globals[i].Type.Size(), 8)))
	return v
}

// ============================================================================
// 表
// ============================================================================

func (inst *Instance) initTable(i uint32, info wasm.TableInformation) {
	t := &table{info: info, funcs: inst.info.IsFuncHeapType(info.Element.Heap)}
	t.obj = inst.space.Alloc(wasm.TableObjectSize, 8)
	inst.space.putU64(inst.Addr+uint64(inst.layout.TableOffset(i)), t.obj)
	inst.tables = append(inst.tables, t)
	inst.resizeTable(t, info.Initial)
}

func (t *table) entrySize() uint32 {
	if t.funcs {
		return wasm.FunctionEntrySize
	}
	return wasm.ExternRefEntrySize
}

// resizeTable 重新分配元素数组，保留原有元素
func (inst *Instance) resizeTable(t *table, length uint32) {
	old := inst.tableLength(t)
	oldElems := inst.space.u64(t.obj + wasm.TableOffsetElements)
	elems := inst.space.Alloc(t.entrySize()*max(length, 1), 8)
	for i := uint32(0); i < min(old, length)*t.entrySize(); i += 8 {
		inst.space.putU64(elems+uint64(i), inst.space.u64(oldElems+uint64(i)))
	}
	inst.space.putU64(t.obj+wasm.TableOffsetElements, elems)
	inst.space.putU32(t.obj+wasm.TableOffsetLength, length)
}

func (inst *Instance) tableLength(t *table) uint32 {
	return inst.space.u32(t.obj + wasm.TableOffsetLength)
}

func (inst *Instance) tableEntry(t *table, i uint32) uint64 {
	return inst.space.u64(t.obj+wasm.TableOffsetElements) + uint64(i*t.entrySize())
}

// TableLength 表长度
func (inst *Instance) TableLength(i uint32) uint32 { return inst.tableLength(inst.tables[i]) }

// TableGet 读表元素：函数表返回函数对象
func (inst *Instance) TableGet(i, index uint32) uint64 {
	t := inst.tables[i]
	e := inst.tableEntry(t, index)
	if t.funcs {
		return inst.space.u64(e + wasm.FunctionEntryOffsetValue)
	}
	return inst.space.u64(e)
}

// setTableElement 写表元素；函数表同时展开函数对象中的调用信息
func (inst *Instance) setTableElement(t *table, index uint32, ref uint64) {
	e := inst.tableEntry(t, index)
	if !t.funcs {
		inst.space.putU64(e, ref)
		return
	}
	if ref == wasm.NullRef {
		for off := uint64(0); off < wasm.FunctionEntrySize; off += 8 {
			inst.space.putU64(e+off, 0)
		}
		return
	}
	s := inst.space
	s.putU64(e+wasm.FunctionEntryOffsetSignature, s.u64(ref+wasm.FunctionObjectOffsetSignature))
	s.putU64(e+wasm.FunctionEntryOffsetEntrypoint, s.u64(ref+wasm.FunctionObjectOffsetEntrypoint))
	s.putU64(e+wasm.FunctionEntryOffsetBoxedCallee, s.u64(ref+wasm.FunctionObjectOffsetBoxedCallee))
	s.putU64(e+wasm.FunctionEntryOffsetRTT, s.u64(ref+wasm.ObjectOffsetRTT))
	s.putU64(e+wasm.FunctionEntryOffsetInstance, s.u64(ref+wasm.FunctionObjectOffsetInstance))
	s.putU64(e+wasm.FunctionEntryOffsetValue, ref)
}

// ============================================================================
// 函数对象和段
// ============================================================================

// FunctionObject 函数的函数对象，同一函数只分配一次
func (inst *Instance) FunctionObject(fn uint32, entrypoint uint64) uint64 {
	if obj, ok := inst.funcObjects[fn]; ok {
		return obj
	}
	typeIndex := inst.info.FunctionTypeIndex(fn)
	obj := inst.heap.NewFunctionObject(inst.rttAddrs[typeIndex], entrypoint, uint64(fn), inst.Addr,
		uint64(inst.info.CanonicalType(typeIndex)))
	inst.funcObjects[fn] = obj
	return obj
}

// entrypoint 函数的代码地址：模块内函数用 CalleeGroup 分配的地址，导入用调用桩
func (inst *Instance) entrypoint(fn uint32) uint64 {
	if inst.info.IsImportedFunction(fn) {
		return ImportStubBase + uint64(fn)*ImportStubStride
	}
	return inst.moduleEntrypoint(fn)
}

func (inst *Instance) applySegments() error {
	for i, d := range inst.info.Data {
		if d.Passive {
			continue
		}
		end := uint64(d.Offset) + uint64(len(d.Bytes))
		if end > inst.space.MemorySize() {
			return fmt.Errorf("data segment %d does not fit in memory", i)
		}
		copy(inst.space.memory[d.Offset:], d.Bytes)
		inst.droppedData[uint32(i)] = true
	}
	for i, e := range inst.info.Elements {
		if e.Passive {
			continue
		}
		if int(e.Table) >= len(inst.tables) {
			return fmt.Errorf("element segment %d: table %d out of range", i, e.Table)
		}
		t := inst.tables[e.Table]
		if uint64(e.Offset)+uint64(len(e.Functions)) > uint64(inst.tableLength(t)) {
			return fmt.Errorf("element segment %d does not fit in table %d", i, e.Table)
		}
		for j, fn := range e.Functions {
			inst.setTableElement(t, e.Offset+uint32(j), inst.FunctionObject(fn, inst.entrypoint(fn)))
		}
		inst.droppedElements[uint32(i)] = true
	}
	return nil
}
