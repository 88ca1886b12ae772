package vm

import (
	"fmt"

	"github.com/tangzhangming/novaomg/internal/jit/ir"
	"github.com/tangzhangming/novaomg/internal/wasm"
)

// ============================================================================
// 运行时操作注册表
// 生成的代码通过 CCall 调用这些操作，第一个参数通常是实例指针
// ============================================================================

// HelperFunc 运行时操作
type HelperFunc func(vm *VM, frame *ir.Frame, args []ir.Bits) (ir.Bits, error)

// helperRegistry 操作 -> 实现
var helperRegistry = map[ir.Operation]HelperFunc{
	ir.OpGrowMemory:           helperGrowMemory,
	ir.OpMemoryFill:           helperMemoryFill,
	ir.OpMemoryCopy:           helperMemoryCopy,
	ir.OpMemoryInit:           helperMemoryInit,
	ir.OpDataDrop:             helperDataDrop,
	ir.OpTableGet:             helperTableGet,
	ir.OpTableSet:             helperTableSet,
	ir.OpTableGrow:            helperTableGrow,
	ir.OpTableFill:            helperTableFill,
	ir.OpTableCopy:            helperTableCopy,
	ir.OpTableInit:            helperTableInit,
	ir.OpElemDrop:             helperElemDrop,
	ir.OpRefFunc:              helperRefFunc,
	ir.OpStructNew:            helperStructNew,
	ir.OpArrayNew:             helperArrayNew,
	ir.OpIsSubRTT:             helperIsSubRTT,
	ir.OpWriteBarrierSlowPath: helperWriteBarrierSlowPath,
	ir.OpAtomicWait32:         helperAtomicWait32,
	ir.OpAtomicWait64:         helperAtomicWait64,
	ir.OpAtomicNotify:         helperAtomicNotify,
	ir.OpTierUp:               helperTierUp,
}

// GetHelper 获取操作的实现
func GetHelper(op ir.Operation) (HelperFunc, bool) {
	h, ok := helperRegistry[op]
	return h, ok
}

// maxArrayLength array.new 允许的最大长度
const maxArrayLength = 1 << 24

var (
	success = ir.I32(1)
	failure = ir.I32(0)
)

func u32arg(b ir.Bits) uint64 { return uint64(uint32(b[0])) }

func result(ok bool) ir.Bits {
	if ok {
		return success
	}
	return failure
}

// ============================================================================
// 线性内存
// ============================================================================

func helperGrowMemory(vm *VM, _ *ir.Frame, args []ir.Bits) (ir.Bits, error) {
	old := vm.space.GrowMemory(uint32(args[1][0]), vm.inst.maxPages)
	if old >= 0 {
		vm.inst.syncMemorySize()
	}
	return ir.I32(old), nil
}

func (vm *VM) memoryInBounds(offset, count uint64) bool {
	return offset+count <= vm.space.MemorySize()
}

func helperMemoryFill(vm *VM, _ *ir.Frame, args []ir.Bits) (ir.Bits, error) {
	dst, value, count := u32arg(args[1]), byte(args[2][0]), u32arg(args[3])
	if !vm.memoryInBounds(dst, count) {
		return failure, nil
	}
	vm.space.fillMemory(dst, value, count)
	return success, nil
}

func helperMemoryCopy(vm *VM, _ *ir.Frame, args []ir.Bits) (ir.Bits, error) {
	dst, src, count := u32arg(args[1]), u32arg(args[2]), u32arg(args[3])
	if !vm.memoryInBounds(dst, count) || !vm.memoryInBounds(src, count) {
		return failure, nil
	}
	vm.space.copyMemory(dst, src, count)
	return success, nil
}

func helperMemoryInit(vm *VM, _ *ir.Frame, args []ir.Bits) (ir.Bits, error) {
	seg := uint32(args[1][0])
	dst, src, count := u32arg(args[2]), u32arg(args[3]), u32arg(args[4])
	var data []byte
	if !vm.inst.droppedData[seg] {
		data = vm.info.Data[seg].Bytes
	}
	if src+count > uint64(len(data)) || !vm.memoryInBounds(dst, count) {
		return failure, nil
	}
	copy(vm.space.memory[dst:dst+count], data[src:src+count])
	return success, nil
}

func helperDataDrop(vm *VM, _ *ir.Frame, args []ir.Bits) (ir.Bits, error) {
	vm.inst.droppedData[uint32(args[1][0])] = true
	return ir.Bits{}, nil
}

// ============================================================================
// 表
// ============================================================================

func (vm *VM) tableArg(b ir.Bits) (*table, error) {
	i := uint32(b[0])
	if int(i) >= len(vm.inst.tables) {
		return nil, fmt.Errorf("vm: table %d out of range", i)
	}
	return vm.inst.tables[i], nil
}

func helperTableGet(vm *VM, _ *ir.Frame, args []ir.Bits) (ir.Bits, error) {
	t, err := vm.tableArg(args[1])
	if err != nil {
		return ir.Bits{}, err
	}
	idx := uint32(args[2][0])
	if idx >= vm.inst.tableLength(t) {
		return ir.Bits{}, vm.Trap(wasm.ExceptionOutOfBoundsTableAccess)
	}
	return ir.Bits{vm.inst.TableGet(uint32(args[1][0]), idx)}, nil
}

func helperTableSet(vm *VM, _ *ir.Frame, args []ir.Bits) (ir.Bits, error) {
	t, err := vm.tableArg(args[1])
	if err != nil {
		return ir.Bits{}, err
	}
	idx := uint32(args[2][0])
	if idx >= vm.inst.tableLength(t) {
		return failure, nil
	}
	vm.inst.setTableElement(t, idx, args[3][0])
	return success, nil
}

func helperTableGrow(vm *VM, _ *ir.Frame, args []ir.Bits) (ir.Bits, error) {
	t, err := vm.tableArg(args[1])
	if err != nil {
		return ir.Bits{}, err
	}
	fill, delta := args[2][0], uint32(args[3][0])
	old := vm.inst.tableLength(t)
	limit := uint64(1 << 24)
	if t.info.HasMaximum {
		limit = uint64(t.info.Maximum)
	}
	if uint64(old)+uint64(delta) > limit {
		return ir.I32(-1), nil
	}
	vm.inst.resizeTable(t, old+delta)
	for i := old; i < old+delta; i++ {
		vm.inst.setTableElement(t, i, fill)
	}
	return ir.I32(int32(old)), nil
}

func helperTableFill(vm *VM, _ *ir.Frame, args []ir.Bits) (ir.Bits, error) {
	t, err := vm.tableArg(args[1])
	if err != nil {
		return ir.Bits{}, err
	}
	offset, fill, count := u32arg(args[2]), args[3][0], u32arg(args[4])
	if offset+count > uint64(vm.inst.tableLength(t)) {
		return failure, nil
	}
	for i := offset; i < offset+count; i++ {
		vm.inst.setTableElement(t, uint32(i), fill)
	}
	return success, nil
}

func helperTableCopy(vm *VM, _ *ir.Frame, args []ir.Bits) (ir.Bits, error) {
	dt, err := vm.tableArg(args[1])
	if err != nil {
		return ir.Bits{}, err
	}
	st, err := vm.tableArg(args[2])
	if err != nil {
		return ir.Bits{}, err
	}
	dst, src, count := u32arg(args[3]), u32arg(args[4]), u32arg(args[5])
	if dst+count > uint64(vm.inst.tableLength(dt)) || src+count > uint64(vm.inst.tableLength(st)) {
		return failure, nil
	}
	refs := make([]uint64, count)
	for i := range refs {
		refs[i] = vm.inst.TableGet(uint32(args[2][0]), uint32(src)+uint32(i))
	}
	for i, ref := range refs {
		vm.inst.setTableElement(dt, uint32(dst)+uint32(i), ref)
	}
	return success, nil
}

func helperTableInit(vm *VM, _ *ir.Frame, args []ir.Bits) (ir.Bits, error) {
	elem := uint32(args[1][0])
	t, err := vm.tableArg(args[2])
	if err != nil {
		return ir.Bits{}, err
	}
	dst, src, count := u32arg(args[3]), u32arg(args[4]), u32arg(args[5])
	var funcs []uint32
	if !vm.inst.droppedElements[elem] {
		funcs = vm.info.Elements[elem].Functions
	}
	if src+count > uint64(len(funcs)) || dst+count > uint64(vm.inst.tableLength(t)) {
		return failure, nil
	}
	for i := uint64(0); i < count; i++ {
		fn := funcs[src+i]
		vm.inst.setTableElement(t, uint32(dst+i), vm.inst.FunctionObject(fn, vm.inst.entrypoint(fn)))
	}
	return success, nil
}

func helperElemDrop(vm *VM, _ *ir.Frame, args []ir.Bits) (ir.Bits, error) {
	vm.inst.droppedElements[uint32(args[1][0])] = true
	return ir.Bits{}, nil
}

// ============================================================================
// 引用与 GC
// ============================================================================

func helperRefFunc(vm *VM, _ *ir.Frame, args []ir.Bits) (ir.Bits, error) {
	fn := uint32(args[1][0])
	return ir.Bits{vm.inst.FunctionObject(fn, vm.inst.entrypoint(fn))}, nil
}

func helperStructNew(vm *VM, _ *ir.Frame, args []ir.Bits) (ir.Bits, error) {
	typeIndex := uint32(args[1][0])
	st := vm.info.StructType(typeIndex)
	if st == nil {
		return ir.Bits{}, nil
	}
	return ir.Bits{vm.heap.NewStruct(vm.inst.rttAddrs[typeIndex], st)}, nil
}

func helperArrayNew(vm *VM, _ *ir.Frame, args []ir.Bits) (ir.Bits, error) {
	typeIndex, length := uint32(args[1][0]), uint32(args[2][0])
	at := vm.info.ArrayType(typeIndex)
	if at == nil || length > maxArrayLength {
		return ir.Bits{}, nil
	}
	return ir.Bits{vm.heap.NewArray(vm.inst.rttAddrs[typeIndex], at, length, args[3])}, nil
}

func helperIsSubRTT(vm *VM, _ *ir.Frame, args []ir.Bits) (ir.Bits, error) {
	sub, okSub := vm.inst.rttByAddr[args[0][0]]
	parent, okParent := vm.inst.rttByAddr[args[1][0]]
	if !okSub || !okParent {
		return ir.Bits{}, fmt.Errorf("vm: isSubRTT on unknown RTT 0x%x / 0x%x", args[0][0], args[1][0])
	}
	return result(sub.IsSubRTT(parent)), nil
}

func helperWriteBarrierSlowPath(vm *VM, _ *ir.Frame, args []ir.Bits) (ir.Bits, error) {
	vm.heap.WriteBarrierSlowPath(args[1][0])
	return ir.Bits{}, nil
}

// ============================================================================
// 原子等待
// ============================================================================

// 单线程运行时里没有其它线程能唤醒等待者：值不等返回 1，相等则超时返回 2
func atomicWait(vm *VM, args []ir.Bits, size int) (ir.Bits, error) {
	addr := args[1][0] + args[2][0]
	if addr+uint64(size) > vm.space.MemorySize() || addr%uint64(size) != 0 {
		return ir.I32(-1), nil
	}
	cur, err := vm.space.Load(LinearMemoryBase+addr, size)
	if err != nil {
		return ir.Bits{}, err
	}
	mask := ^uint64(0)
	if size == 4 {
		mask = 0xffffffff
	}
	if cur[0]&mask != args[3][0]&mask {
		return ir.I32(1), nil
	}
	return ir.I32(2), nil
}

func helperAtomicWait32(vm *VM, _ *ir.Frame, args []ir.Bits) (ir.Bits, error) {
	return atomicWait(vm, args, 4)
}

func helperAtomicWait64(vm *VM, _ *ir.Frame, args []ir.Bits) (ir.Bits, error) {
	return atomicWait(vm, args, 8)
}

func helperAtomicNotify(vm *VM, _ *ir.Frame, args []ir.Bits) (ir.Bits, error) {
	addr := args[1][0] + args[2][0]
	if addr+4 > vm.space.MemorySize() || addr%4 != 0 {
		return ir.I32(-1), nil
	}
	return ir.I32(0), nil
}

// ============================================================================
// 分层
// ============================================================================

func helperTierUp(vm *VM, _ *ir.Frame, args []ir.Bits) (ir.Bits, error) {
	vm.hotspot.RecordEntryTrigger(uint32(args[1][0]))
	return ir.Bits{}, nil
}
