package vm

import (
	"go.uber.org/atomic"

	"github.com/tangzhangming/novaomg/internal/jit/ir"
	"github.com/tangzhangming/novaomg/internal/wasm"
)

// ============================================================================
// GC 堆
// ============================================================================
//
// 对象分配在地址空间的运行时堆上，对象头是 RTT 指针和单元状态。
// 这里不回收内存，只模拟并发标记和写屏障：
//   - 新对象是白色（CellStateDefinitelyWhite），高于屏障阈值，写入时不进慢路径
//   - StartMarking 把已有对象标成黑色并打开 fence，之后向黑色对象写入引用
//     会进入慢路径，慢路径把对象变灰并加入记忆集
//   - FinishMarking 结束标记，清空记忆集

// HeapStats GC 堆统计
type HeapStats struct {
	Structs      atomic.Uint64
	Arrays       atomic.Uint64
	Functions    atomic.Uint64
	Bytes        atomic.Uint64
	BarrierSlow  atomic.Uint64
	RememberedSz atomic.Uint64
}

// Heap GC 堆
type Heap struct {
	space   *AddressSpace
	objects []uint64
	marking bool

	// rememberedSet 标记期间被写入引用的黑色对象
	rememberedSet []uint64

	stats HeapStats
}

// NewHeap 创建 GC 堆
func NewHeap(space *AddressSpace) *Heap {
	return &Heap{space: space}
}

// Stats 统计
func (h *Heap) Stats() *HeapStats { return &h.stats }

// Marking 是否在并发标记中
func (h *Heap) Marking() bool { return h.marking }

// RememberedSet 记忆集的副本
func (h *Heap) RememberedSet() []uint64 {
	return append([]uint64(nil), h.rememberedSet...)
}

// allocObject 分配带对象头的清零对象
func (h *Heap) allocObject(rtt uint64, size uint32) uint64 {
	obj := h.space.Alloc(size, 16)
	h.space.putU64(obj+wasm.ObjectOffsetRTT, rtt)
	h.space.putU8(obj+wasm.ObjectOffsetCellState, wasm.CellStateDefinitelyWhite)
	h.objects = append(h.objects, obj)
	h.stats.Bytes.Add(uint64(size))
	return obj
}

// NewStruct 分配结构体，字段清零
func (h *Heap) NewStruct(rtt uint64, st *wasm.StructType) uint64 {
	h.stats.Structs.Inc()
	return h.allocObject(rtt, wasm.ObjectHeaderSize+st.InstancePayloadSize())
}

// NewArray 分配数组并用 init 填充每个元素
func (h *Heap) NewArray(rtt uint64, at *wasm.ArrayType, length uint32, init ir.Bits) uint64 {
	elem := at.Element.Storage.Size()
	obj := h.allocObject(rtt, wasm.ArrayPayloadOffset+elem*length)
	h.space.putU32(obj+wasm.ArrayOffsetSize, length)
	if init != (ir.Bits{}) {
		for i := uint32(0); i < length; i++ {
			_ = h.space.Store(obj+wasm.ArrayPayloadOffset+uint64(i*elem), int(elem), init)
		}
	}
	h.stats.Arrays.Inc()
	return obj
}

// NewFunctionObject 分配函数对象
func (h *Heap) NewFunctionObject(rtt, entrypoint, boxed, instance, signature uint64) uint64 {
	obj := h.allocObject(rtt, wasm.FunctionObjectSize)
	h.space.putU64(obj+wasm.FunctionObjectOffsetEntrypoint, entrypoint)
	h.space.putU64(obj+wasm.FunctionObjectOffsetBoxedCallee, boxed)
	h.space.putU64(obj+wasm.FunctionObjectOffsetInstance, instance)
	h.space.putU64(obj+wasm.FunctionObjectOffsetSignature, signature)
	h.stats.Functions.Inc()
	return obj
}

// StartMarking 开始并发标记：已有对象变黑，实例的屏障阈值和 fence 标志随之更新
func (h *Heap) StartMarking(inst *Instance) {
	h.marking = true
	for _, obj := range h.objects {
		h.space.putU8(obj+wasm.ObjectOffsetCellState, wasm.CellStatePossiblyBlack)
	}
	h.space.putU32(inst.Addr+wasm.InstanceOffsetBarrierThreshold, wasm.CellStatePossiblyGrey)
	h.space.putU8(inst.Addr+wasm.InstanceOffsetShouldFence, 1)
}

// FinishMarking 结束标记，所有对象回到白色
func (h *Heap) FinishMarking(inst *Instance) {
	h.marking = false
	for _, obj := range h.objects {
		h.space.putU8(obj+wasm.ObjectOffsetCellState, wasm.CellStateDefinitelyWhite)
	}
	h.rememberedSet = h.rememberedSet[:0]
	h.stats.RememberedSz.Store(0)
	h.space.putU32(inst.Addr+wasm.InstanceOffsetBarrierThreshold, wasm.CellStateBlackThreshold)
	h.space.putU8(inst.Addr+wasm.InstanceOffsetShouldFence, 0)
}

// WriteBarrierSlowPath 黑色对象被写入引用：变灰并记入记忆集
func (h *Heap) WriteBarrierSlowPath(cell uint64) {
	h.stats.BarrierSlow.Inc()
	if h.space.u8(cell+wasm.ObjectOffsetCellState) == wasm.CellStatePossiblyGrey {
		return
	}
	h.space.putU8(cell+wasm.ObjectOffsetCellState, wasm.CellStatePossiblyGrey)
	h.rememberedSet = append(h.rememberedSet, cell)
	h.stats.RememberedSz.Inc()
}
