// generator_reference.go - 引用、i31、GC 对象、表和写屏障
//
// 引用在 IR 中是 64 位指针，空引用为 0，i31 引用最低位为 1。
// GC 对象的头部是 RTT 指针和单元状态，字段从对象头之后开始；
// 数组在头部之后是 32 位长度，元素从 ArrayPayloadOffset 开始。

package jit

import (
	"github.com/tangzhangming/novaomg/internal/bytecode"
	"github.com/tangzhangming/novaomg/internal/jit/ir"
	"github.com/tangzhangming/novaomg/internal/wasm"
)

// ============================================================================
// 引用
// ============================================================================

func (g *OMGIRGenerator) isNull(ref *ir.Value) *ir.Value {
	return g.emit(ir.Equal, ir.Int32, ref, g.const64(wasm.NullRef))
}

// AddRefNull ref.null
func (g *OMGIRGenerator) AddRefNull(t wasm.Type) (*ir.Variable, error) {
	return g.push(g.const64(wasm.NullRef))
}

// AddRefIsNull ref.is_null
func (g *OMGIRGenerator) AddRefIsNull(value *ir.Variable) (*ir.Variable, error) {
	return g.push(g.isNull(g.get(value)))
}

// AddRefFunc ref.func 由运行时取得函数对象
func (g *OMGIRGenerator) AddRefFunc(index uint32) (*ir.Variable, error) {
	r := g.currentBlock.AppendCCall(ir.Int64, ir.OpRefFunc, g.instanceValue(), g.const32(int32(index)))
	return g.push(r)
}

// AddRefAsNonNull ref.as_non_null
func (g *OMGIRGenerator) AddRefAsNonNull(value *ir.Variable) (*ir.Variable, error) {
	r := g.get(value)
	g.currentBlock.AppendCheck(wasm.ExceptionNullRefAsNonNull, g.isNull(r))
	return g.push(r)
}

// AddRefEq ref.eq
func (g *OMGIRGenerator) AddRefEq(a, b *ir.Variable) (*ir.Variable, error) {
	x, y := g.get(a), g.get(b)
	return g.push(g.emit(ir.Equal, ir.Int32, x, y))
}

// AddRefI31 ref.i31
func (g *OMGIRGenerator) AddRefI31(value *ir.Variable) (*ir.Variable, error) {
	masked := g.emit(ir.BitAnd, ir.Int32, g.get(value), g.const32(0x7fffffff))
	shifted := g.emit(ir.Shl, ir.Int64, g.emit(ir.ZExt32, ir.Int64, masked), g.const32(1))
	return g.push(g.emit(ir.BitOr, ir.Int64, shifted, g.const64(wasm.I31Tag)))
}

// AddI31Get i31.get_s / i31.get_u
func (g *OMGIRGenerator) AddI31Get(value *ir.Variable, signed bool) (*ir.Variable, error) {
	r := g.get(value)
	g.currentBlock.AppendCheck(wasm.ExceptionNullI31Get, g.isNull(r))
	var v *ir.Value
	if signed {
		v = g.emit(ir.SShr, ir.Int64, g.emit(ir.Shl, ir.Int64, r, g.const32(32)), g.const32(33))
	} else {
		v = g.emit(ir.ZShr, ir.Int64, r, g.const32(1))
	}
	return g.push(g.emit(ir.Trunc, ir.Int32, v))
}

// ============================================================================
// 类型测试
// ============================================================================

// refTestBuilder 在多个块里产生同一个 Int32 结果
type refTestBuilder struct {
	g      *OMGIRGenerator
	result *ir.Value
	done   *ir.BasicBlock
}

func (b *refTestBuilder) finish(v *ir.Value) {
	b.g.currentBlock.AppendUpsilon(v, b.result)
	b.g.currentBlock.AppendJump(b.done)
}

// split 按条件分成两个新块，返回 (真, 假)
func (b *refTestBuilder) split(cond *ir.Value) (*ir.BasicBlock, *ir.BasicBlock) {
	yes, no := b.g.proc.AddBlock(), b.g.proc.AddBlock()
	b.g.currentBlock.AppendBranch(cond, ir.FrequentedBlock{Block: yes}, ir.FrequentedBlock{Block: no})
	return yes, no
}

// emitRefTest ref.test 的结果（Int32）。返回时当前块是汇合块。
func (g *OMGIRGenerator) emitRefTest(ref *ir.Value, allowNull bool, heap wasm.HeapType) *ir.Value {
	b := &refTestBuilder{g: g, result: g.proc.NewPhi(ir.Int32), done: g.proc.AddBlock()}

	nullBlock, nonNull := g.proc.AddBlock(), g.proc.AddBlock()
	g.currentBlock.AppendBranch(g.isNull(ref),
		ir.FrequentedBlock{Block: nullBlock, Frequency: ir.FrequencyRare}, ir.FrequentedBlock{Block: nonNull})

	g.currentBlock = nullBlock
	if allowNull {
		b.finish(g.const32(1))
	} else {
		b.finish(g.const32(0))
	}

	g.currentBlock = nonNull
	g.emitNonNullRefTest(b, ref, heap)

	g.currentBlock = b.done
	g.currentBlock.Append(b.result)
	return b.result
}

func (g *OMGIRGenerator) isI31(ref *ir.Value) *ir.Value {
	tag := g.emit(ir.BitAnd, ir.Int64, ref, g.const64(wasm.I31Tag))
	return g.emit(ir.NotEqual, ir.Int32, tag, g.const64(0))
}

func (g *OMGIRGenerator) emitNonNullRefTest(b *refTestBuilder, ref *ir.Value, heap wasm.HeapType) {
	switch {
	case heap == wasm.HeapFunc || heap == wasm.HeapExtern || heap == wasm.HeapAny:
		b.finish(g.const32(1))
		return
	case heap.IsBottom():
		b.finish(g.const32(0))
		return
	case heap == wasm.HeapI31:
		b.finish(g.isI31(ref))
		return
	}

	if !g.info.IsFuncHeapType(heap) {
		i31, object := b.split(g.isI31(ref))
		g.currentBlock = i31
		if heap == wasm.HeapEq {
			b.finish(g.const32(1))
		} else {
			b.finish(g.const32(0))
		}
		g.currentBlock = object
	}

	rtt := g.load(ir.Load, ir.Int64, ref, wasm.ObjectOffsetRTT)
	switch heap {
	case wasm.HeapEq, wasm.HeapStruct, wasm.HeapArray:
		kind := g.load(ir.Load, ir.Int32, rtt, wasm.RTTOffsetKind)
		switch heap {
		case wasm.HeapEq:
			b.finish(g.emit(ir.NotEqual, ir.Int32, kind, g.const32(int32(wasm.DefFunc))))
		case wasm.HeapStruct:
			b.finish(g.emit(ir.Equal, ir.Int32, kind, g.const32(int32(wasm.DefStruct))))
		default:
			b.finish(g.emit(ir.Equal, ir.Int32, kind, g.const32(int32(wasm.DefArray))))
		}
		return
	}

	target := g.targetRTT(heap.Index())
	same, differ := b.split(g.emit(ir.Equal, ir.Int32, rtt, target))
	g.currentBlock = same
	b.finish(g.const32(1))
	g.currentBlock = differ
	if g.info.IsFinalType(heap.Index()) {
		b.finish(g.const32(0))
		return
	}
	b.finish(g.currentBlock.AppendCCall(ir.Int32, ir.OpIsSubRTT, rtt, target))
}

// targetRTT 模块类型的 RTT 指针
func (g *OMGIRGenerator) targetRTT(typeIndex uint32) *ir.Value {
	rtts := g.load(ir.Load, ir.Int64, g.instanceValue(), wasm.InstanceOffsetRTTs)
	return g.load(ir.Load, ir.Int64, rtts, 8*typeIndex)
}

// AddRefTest ref.test
func (g *OMGIRGenerator) AddRefTest(value *ir.Variable, allowNull bool, heap wasm.HeapType) (*ir.Variable, error) {
	return g.push(g.emitRefTest(g.get(value), allowNull, heap))
}

// AddRefCast ref.cast，失败时陷入
func (g *OMGIRGenerator) AddRefCast(value *ir.Variable, allowNull bool, heap wasm.HeapType) (*ir.Variable, error) {
	ref := g.get(value)
	test := g.emitRefTest(ref, allowNull, heap)
	g.currentBlock.AppendCheck(wasm.ExceptionCastFailure, g.emit(ir.Equal, ir.Int32, test, g.const32(0)))
	return g.push(ref)
}

// ============================================================================
// 写屏障
// ============================================================================

// emitWriteBarrier 向 cell 写入引用之后调用。单元状态高于阈值时什么都不做；
// 并发标记期间先 fence 再重读一次状态。
func (g *OMGIRGenerator) emitWriteBarrier(cell *ir.Value) {
	inst := g.instanceValue()
	state := g.load(ir.Load8Z, ir.Int32, cell, wasm.ObjectOffsetCellState)
	threshold := g.load(ir.Load, ir.Int32, inst, wasm.InstanceOffsetBarrierThreshold)

	done := g.proc.AddBlock()
	fenceCheck := g.proc.AddBlock()
	fencePath := g.proc.AddBlock()
	slow := g.proc.AddBlock()

	g.currentBlock.AppendBranch(g.emit(ir.Above, ir.Int32, state, threshold),
		ir.FrequentedBlock{Block: done}, ir.FrequentedBlock{Block: fenceCheck, Frequency: ir.FrequencyRare})

	g.currentBlock = fenceCheck
	shouldFence := g.load(ir.Load8Z, ir.Int32, inst, wasm.InstanceOffsetShouldFence)
	g.currentBlock.AppendBranch(shouldFence,
		ir.FrequentedBlock{Block: fencePath, Frequency: ir.FrequencyRare}, ir.FrequentedBlock{Block: slow})

	g.currentBlock = fencePath
	g.emit(ir.Fence, ir.Void)
	reloaded := g.load(ir.Load8Z, ir.Int32, cell, wasm.ObjectOffsetCellState)
	g.currentBlock.AppendBranch(g.emit(ir.Above, ir.Int32, reloaded, g.const32(wasm.CellStateBlackThreshold)),
		ir.FrequentedBlock{Block: done}, ir.FrequentedBlock{Block: slow})

	g.currentBlock = slow
	g.currentBlock.AppendCCall(ir.Void, ir.OpWriteBarrierSlowPath, g.instanceValue(), cell)
	g.currentBlock.AppendJump(done)

	g.currentBlock = done
}

// ============================================================================
// struct
// ============================================================================

func storeOpcode(s wasm.StorageType) ir.Opcode {
	switch s.Packed {
	case wasm.PackedI8:
		return ir.Store8
	case wasm.PackedI16:
		return ir.Store16
	}
	return ir.Store
}

func packedLoadOpcode(s wasm.StorageType, signed bool) (ir.Opcode, ir.Type) {
	switch s.Packed {
	case wasm.PackedI8:
		if signed {
			return ir.Load8S, ir.Int32
		}
		return ir.Load8Z, ir.Int32
	case wasm.PackedI16:
		if signed {
			return ir.Load16S, ir.Int32
		}
		return ir.Load16Z, ir.Int32
	}
	return ir.Load, irType(s.Type)
}

// AddStructNew struct.new：运行时分配，字段在这里逐个写入
func (g *OMGIRGenerator) AddStructNew(typeIndex uint32, args []*ir.Variable) (*ir.Variable, error) {
	vals := g.getArgs(args)
	obj := g.currentBlock.AppendCCall(ir.Int64, ir.OpStructNew, g.instanceValue(), g.const32(int32(typeIndex)))
	g.currentBlock.AppendCheck(wasm.ExceptionBadStructNew, g.isNull(obj))
	st := g.info.StructType(typeIndex)
	storesRef := false
	for i, v := range vals {
		f := st.Fields[i]
		off := int32(wasm.ObjectHeaderSize + st.FieldOffset(uint32(i)))
		g.currentBlock.AppendStore(storeOpcode(f.Storage), v, obj, off)
		storesRef = storesRef || f.Storage.Type.IsRef()
	}
	// 新对象是白色，屏障只走快速路径
	if storesRef {
		g.emitWriteBarrier(obj)
	}
	return g.push(obj)
}

// AddStructNewDefault struct.new_default：运行时分配的对象已经清零
func (g *OMGIRGenerator) AddStructNewDefault(typeIndex uint32) (*ir.Variable, error) {
	obj := g.currentBlock.AppendCCall(ir.Int64, ir.OpStructNew, g.instanceValue(), g.const32(int32(typeIndex)))
	g.currentBlock.AppendCheck(wasm.ExceptionBadStructNew, g.isNull(obj))
	return g.push(obj)
}

// AddStructGet struct.get / struct.get_s / struct.get_u
func (g *OMGIRGenerator) AddStructGet(op bytecode.OpCode, object *ir.Variable, typeIndex, field uint32) (*ir.Variable, error) {
	obj := g.get(object)
	g.currentBlock.AppendCheck(wasm.ExceptionNullStructGet, g.isNull(obj))
	st := g.info.StructType(typeIndex)
	lop, t := packedLoadOpcode(st.Fields[field].Storage, op == bytecode.OpStructGetS)
	return g.push(g.load(lop, t, obj, wasm.ObjectHeaderSize+st.FieldOffset(field)))
}

// AddStructSet struct.set
func (g *OMGIRGenerator) AddStructSet(object *ir.Variable, typeIndex, field uint32, value *ir.Variable) error {
	obj, v := g.get(object), g.get(value)
	g.currentBlock.AppendCheck(wasm.ExceptionNullStructSet, g.isNull(obj))
	st := g.info.StructType(typeIndex)
	f := st.Fields[field]
	g.currentBlock.AppendStore(storeOpcode(f.Storage), v, obj, int32(wasm.ObjectHeaderSize+st.FieldOffset(field)))
	if f.Storage.Type.IsRef() {
		g.emitWriteBarrier(obj)
	}
	return nil
}

// ============================================================================
// array
// ============================================================================

// AddArrayNew array.new
func (g *OMGIRGenerator) AddArrayNew(typeIndex uint32, size, init *ir.Variable) (*ir.Variable, error) {
	n, v := g.get(size), g.get(init)
	return g.push(g.emitArrayNew(typeIndex, n, v))
}

// AddArrayNewDefault array.new_default
func (g *OMGIRGenerator) AddArrayNewDefault(typeIndex uint32, size *ir.Variable) (*ir.Variable, error) {
	n := g.get(size)
	elem := g.info.ArrayType(typeIndex).Element.Storage
	init := g.zeroValue(irType(elem.Unpacked()))
	return g.push(g.emitArrayNew(typeIndex, n, init))
}

func (g *OMGIRGenerator) emitArrayNew(typeIndex uint32, size, init *ir.Value) *ir.Value {
	arr := g.currentBlock.AppendCCall(ir.Int64, ir.OpArrayNew, g.instanceValue(), g.const32(int32(typeIndex)), size, init)
	g.currentBlock.AppendCheck(wasm.ExceptionBadArrayNew, g.isNull(arr))
	return arr
}

// arrayElementAddress 检查空引用和下标后返回元素地址（未加负载偏移）
func (g *OMGIRGenerator) arrayElementAddress(arr, index *ir.Value, elem wasm.StorageType,
	nullTrap, boundsTrap wasm.ExceptionType) *ir.Value {
	g.currentBlock.AppendCheck(nullTrap, g.isNull(arr))
	length := g.load(ir.Load, ir.Int32, arr, wasm.ArrayOffsetSize)
	g.currentBlock.AppendCheck(boundsTrap, g.emit(ir.AboveEqual, ir.Int32, index, length))
	scaled := g.emit(ir.Mul, ir.Int64, g.emit(ir.ZExt32, ir.Int64, index), g.const64(int64(elem.Size())))
	return g.emit(ir.Add, ir.Int64, arr, scaled)
}

// AddArrayGet array.get / array.get_s / array.get_u
func (g *OMGIRGenerator) AddArrayGet(op bytecode.OpCode, typeIndex uint32, array, index *ir.Variable) (*ir.Variable, error) {
	arr, idx := g.get(array), g.get(index)
	elem := g.info.ArrayType(typeIndex).Element.Storage
	addr := g.arrayElementAddress(arr, idx, elem, wasm.ExceptionNullArrayGet, wasm.ExceptionOutOfBoundsArrayGet)
	lop, t := packedLoadOpcode(elem, op == bytecode.OpArrayGetS)
	return g.push(g.load(lop, t, addr, wasm.ArrayPayloadOffset))
}

// AddArraySet array.set
func (g *OMGIRGenerator) AddArraySet(typeIndex uint32, array, index, value *ir.Variable) error {
	arr, idx, v := g.get(array), g.get(index), g.get(value)
	elem := g.info.ArrayType(typeIndex).Element.Storage
	addr := g.arrayElementAddress(arr, idx, elem, wasm.ExceptionNullArraySet, wasm.ExceptionOutOfBoundsArraySet)
	g.currentBlock.AppendStore(storeOpcode(elem), v, addr, wasm.ArrayPayloadOffset)
	if elem.Type.IsRef() {
		g.emitWriteBarrier(arr)
	}
	return nil
}

// AddArrayLen array.len
func (g *OMGIRGenerator) AddArrayLen(array *ir.Variable) (*ir.Variable, error) {
	arr := g.get(array)
	g.currentBlock.AppendCheck(wasm.ExceptionNullArrayLen, g.isNull(arr))
	return g.push(g.load(ir.Load, ir.Int32, arr, wasm.ArrayOffsetSize))
}

// ============================================================================
// 表
// ============================================================================

func (g *OMGIRGenerator) isFuncTable(table uint32) bool {
	return g.info.IsFuncHeapType(g.info.Tables[table].Element.Heap)
}

// tableObject 表对象指针
func (g *OMGIRGenerator) tableObject(table uint32) *ir.Value {
	return g.load(ir.Load, ir.Int64, g.instanceValue(), g.layout.TableOffset(table))
}

// AddTableGet table.get：函数表取元素里缓存的函数对象
func (g *OMGIRGenerator) AddTableGet(table uint32, index *ir.Variable) (*ir.Variable, error) {
	idx := g.get(index)
	tbl := g.tableObject(table)
	length := g.load(ir.Load, ir.Int32, tbl, wasm.TableOffsetLength)
	g.currentBlock.AppendCheck(wasm.ExceptionOutOfBoundsTableAccess, g.emit(ir.AboveEqual, ir.Int32, idx, length))
	elems := g.load(ir.Load, ir.Int64, tbl, wasm.TableOffsetElements)
	wide := g.emit(ir.ZExt32, ir.Int64, idx)
	if g.isFuncTable(table) {
		entry := g.emit(ir.Add, ir.Int64, elems, g.emit(ir.Mul, ir.Int64, wide, g.const64(wasm.FunctionEntrySize)))
		return g.push(g.load(ir.Load, ir.Int64, entry, wasm.FunctionEntryOffsetValue))
	}
	entry := g.emit(ir.Add, ir.Int64, elems, g.emit(ir.Shl, ir.Int64, wide, g.const32(3)))
	return g.push(g.load(ir.Load, ir.Int64, entry, 0))
}

// AddTableSet table.set 交给运行时，函数表需要同时更新签名和入口
func (g *OMGIRGenerator) AddTableSet(table uint32, index, value *ir.Variable) error {
	g.emitBulkCall(ir.OpTableSet, wasm.ExceptionOutOfBoundsTableAccess,
		g.const32(int32(table)), g.get(index), g.get(value))
	return nil
}

// AddTableSize table.size
func (g *OMGIRGenerator) AddTableSize(table uint32) (*ir.Variable, error) {
	return g.push(g.load(ir.Load, ir.Int32, g.tableObject(table), wasm.TableOffsetLength))
}

// AddTableGrow table.grow，失败时结果为 -1
func (g *OMGIRGenerator) AddTableGrow(table uint32, fill, delta *ir.Variable) (*ir.Variable, error) {
	f, d := g.get(fill), g.get(delta)
	r := g.currentBlock.AppendCCall(ir.Int32, ir.OpTableGrow, g.instanceValue(), g.const32(int32(table)), f, d)
	return g.push(r)
}

// AddTableFill table.fill
func (g *OMGIRGenerator) AddTableFill(table uint32, offset, fill, count *ir.Variable) error {
	g.emitBulkCall(ir.OpTableFill, wasm.ExceptionOutOfBoundsTableAccess,
		g.const32(int32(table)), g.get(offset), g.get(fill), g.get(count))
	return nil
}

// AddTableCopy table.copy
func (g *OMGIRGenerator) AddTableCopy(dstTable, srcTable uint32, dst, src, count *ir.Variable) error {
	g.emitBulkCall(ir.OpTableCopy, wasm.ExceptionOutOfBoundsTableAccess,
		g.const32(int32(dstTable)), g.const32(int32(srcTable)), g.get(dst), g.get(src), g.get(count))
	return nil
}

// AddTableInit table.init
func (g *OMGIRGenerator) AddTableInit(element, table uint32, dst, src, count *ir.Variable) error {
	g.emitBulkCall(ir.OpTableInit, wasm.ExceptionOutOfBoundsTableAccess,
		g.const32(int32(element)), g.const32(int32(table)), g.get(dst), g.get(src), g.get(count))
	return nil
}

// AddElemDrop elem.drop
func (g *OMGIRGenerator) AddElemDrop(element uint32) error {
	g.currentBlock.AppendCCall(ir.Void, ir.OpElemDrop, g.instanceValue(), g.const32(int32(element)))
	return nil
}
