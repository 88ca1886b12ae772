// generator_memory.go - 线性内存访问、原子操作和 bulk memory
//
// 地址计算：32 位指针零扩展后加上固定的内存基址。边界检查模式下每次访问
// 比较 ptr+offset+size 与可访问字节数；信号模式依赖保护区，只有偏移大到
// 无法放进访存立即数时才显式检查。

package jit

import (
	"math"
	"strings"

	"github.com/tangzhangming/novaomg/internal/bytecode"
	"github.com/tangzhangming/novaomg/internal/jit/ir"
	"github.com/tangzhangming/novaomg/internal/wasm"
)

// isStaticallyOutOfBounds offset+size 超出 32 位时访问必然越界
func isStaticallyOutOfBounds(offset uint64, size uint32) bool {
	return offset+uint64(size) > math.MaxUint32
}

// emitStaticOutOfBounds 必然越界的访问直接陷入
func (g *OMGIRGenerator) emitStaticOutOfBounds() {
	g.currentBlock.AppendCheck(wasm.ExceptionOutOfBoundsMemoryAccess, g.const32(1))
}

// emitCheckAndPreparePointer 检查边界并返回机器地址和访存立即数
func (g *OMGIRGenerator) emitCheckAndPreparePointer(pointer *ir.Value, offset uint64, size uint32) (*ir.Value, int32) {
	ptr := g.emit(ir.ZExt32, ir.Int64, pointer)
	folded := false
	if offset > math.MaxInt32 {
		ptr = g.emit(ir.Add, ir.Int64, ptr, g.constU64(offset))
		offset = 0
		folded = true
	}

	if g.opts.MemoryMode == MemoryModeBoundsChecking || folded {
		end := g.emit(ir.Add, ir.Int64, ptr, g.constU64(offset+uint64(size)))
		limit := g.currentBlock.AppendGetPinned(ir.PinnedBoundsCheckingSize)
		g.currentBlock.AppendCheck(wasm.ExceptionOutOfBoundsMemoryAccess, g.emit(ir.Above, ir.Int32, end, limit))
	}

	base := g.currentBlock.AppendGetPinned(ir.PinnedMemoryBase)
	return g.emit(ir.Add, ir.Int64, base, ptr), int32(offset)
}

// Load 普通读
func (g *OMGIRGenerator) Load(op bytecode.OpCode, pointer *ir.Variable, offset uint64) (*ir.Variable, error) {
	info := op.Info()
	out := irType(wasm.Type{Kind: info.Out})
	if isStaticallyOutOfBounds(offset, info.Size) {
		g.emitStaticOutOfBounds()
		return g.push(g.zeroValue(out))
	}
	addr, imm := g.emitCheckAndPreparePointer(g.get(pointer), offset, info.Size)
	b := g.currentBlock

	var v *ir.Value
	switch op {
	case bytecode.OpI32Load8S:
		v = b.AppendLoad(ir.Load8S, ir.Int32, addr, imm)
	case bytecode.OpI32Load8U:
		v = b.AppendLoad(ir.Load8Z, ir.Int32, addr, imm)
	case bytecode.OpI32Load16S:
		v = b.AppendLoad(ir.Load16S, ir.Int32, addr, imm)
	case bytecode.OpI32Load16U:
		v = b.AppendLoad(ir.Load16Z, ir.Int32, addr, imm)
	case bytecode.OpI64Load8S:
		v = b.AppendLoad(ir.Load8S, ir.Int64, addr, imm)
	case bytecode.OpI64Load8U:
		v = b.AppendLoad(ir.Load8Z, ir.Int64, addr, imm)
	case bytecode.OpI64Load16S:
		v = b.AppendLoad(ir.Load16S, ir.Int64, addr, imm)
	case bytecode.OpI64Load16U:
		v = b.AppendLoad(ir.Load16Z, ir.Int64, addr, imm)
	case bytecode.OpI64Load32S:
		v = g.emit(ir.SExt32, ir.Int64, b.AppendLoad(ir.Load, ir.Int32, addr, imm))
	case bytecode.OpI64Load32U:
		v = g.emit(ir.ZExt32, ir.Int64, b.AppendLoad(ir.Load, ir.Int32, addr, imm))
	case bytecode.OpV128Load8Splat:
		v = g.splat(ir.LaneI8, b.AppendLoad(ir.Load8Z, ir.Int32, addr, imm))
	case bytecode.OpV128Load16Splat:
		v = g.splat(ir.LaneI16, b.AppendLoad(ir.Load16Z, ir.Int32, addr, imm))
	case bytecode.OpV128Load32Splat:
		v = g.splat(ir.LaneI32, b.AppendLoad(ir.Load, ir.Int32, addr, imm))
	case bytecode.OpV128Load64Splat:
		v = g.splat(ir.LaneI64, b.AppendLoad(ir.Load, ir.Int64, addr, imm))
	default:
		v = b.AppendLoad(ir.Load, out, addr, imm)
	}
	return g.push(v)
}

// Store 普通写
func (g *OMGIRGenerator) Store(op bytecode.OpCode, pointer, value *ir.Variable, offset uint64) error {
	info := op.Info()
	if isStaticallyOutOfBounds(offset, info.Size) {
		g.emitStaticOutOfBounds()
		return nil
	}
	v := g.get(value)
	addr, imm := g.emitCheckAndPreparePointer(g.get(pointer), offset, info.Size)

	switch op {
	case bytecode.OpI32Store8:
		g.currentBlock.AppendStore(ir.Store8, v, addr, imm)
	case bytecode.OpI32Store16:
		g.currentBlock.AppendStore(ir.Store16, v, addr, imm)
	case bytecode.OpI64Store8:
		g.currentBlock.AppendStore(ir.Store8, g.emit(ir.Trunc, ir.Int32, v), addr, imm)
	case bytecode.OpI64Store16:
		g.currentBlock.AppendStore(ir.Store16, g.emit(ir.Trunc, ir.Int32, v), addr, imm)
	case bytecode.OpI64Store32:
		g.currentBlock.AppendStore(ir.Store, g.emit(ir.Trunc, ir.Int32, v), addr, imm)
	default:
		g.currentBlock.AppendStore(ir.Store, v, addr, imm)
	}
	return nil
}

// ============================================================================
// 原子操作
// ============================================================================

// emitAtomicAddress 原子访问的有效地址，要求按访问宽度对齐
func (g *OMGIRGenerator) emitAtomicAddress(pointer *ir.Value, offset uint64, size uint32) *ir.Value {
	addr, imm := g.emitCheckAndPreparePointer(pointer, offset, size)
	if imm != 0 {
		addr = g.emit(ir.Add, ir.Int64, addr, g.const64(int64(imm)))
	}
	if size > 1 {
		misaligned := g.emit(ir.BitAnd, ir.Int64, addr, g.const64(int64(size-1)))
		g.currentBlock.AppendCheck(wasm.ExceptionOutOfBoundsMemoryAccess, misaligned)
	}
	return addr
}

// sanitizeAtomicResult 窄访问的旧值只保留低位
func (g *OMGIRGenerator) sanitizeAtomicResult(v *ir.Value, size uint32) *ir.Value {
	if int(size) >= v.Type.Size() {
		return v
	}
	mask := uint64(1)<<(size*8) - 1
	return g.emit(ir.BitAnd, v.Type, v, g.constant(v.Type, mask))
}

// atomicOpcode 读改写指令对应的 IR 操作
func atomicOpcode(op bytecode.OpCode) ir.Opcode {
	name := op.Info().Name
	switch {
	case strings.HasSuffix(name, ".add") || strings.HasSuffix(name, ".add_u"):
		return ir.AtomicXchgAdd
	case strings.HasSuffix(name, ".sub") || strings.HasSuffix(name, ".sub_u"):
		return ir.AtomicXchgSub
	case strings.HasSuffix(name, ".and") || strings.HasSuffix(name, ".and_u"):
		return ir.AtomicXchgAnd
	case strings.HasSuffix(name, ".or") || strings.HasSuffix(name, ".or_u"):
		return ir.AtomicXchgOr
	case strings.HasSuffix(name, ".xor") || strings.HasSuffix(name, ".xor_u"):
		return ir.AtomicXchgXor
	case strings.HasSuffix(name, ".cmpxchg") || strings.HasSuffix(name, ".cmpxchg_u"):
		return ir.AtomicStrongCAS
	}
	return ir.AtomicXchg
}

// AtomicLoad 原子读，用加 0 的读改写实现
func (g *OMGIRGenerator) AtomicLoad(op bytecode.OpCode, pointer *ir.Variable, offset uint64) (*ir.Variable, error) {
	info := op.Info()
	t := irType(wasm.Type{Kind: info.Out})
	if isStaticallyOutOfBounds(offset, info.Size) {
		g.emitStaticOutOfBounds()
		return g.push(g.zeroValue(t))
	}
	ea := g.emitAtomicAddress(g.get(pointer), offset, info.Size)
	v := g.currentBlock.AppendAtomic(ir.AtomicXchgAdd, t, uint8(info.Size), 0, g.zeroValue(t), ea)
	return g.push(g.sanitizeAtomicResult(v, info.Size))
}

// AtomicStore 原子写，用交换实现
func (g *OMGIRGenerator) AtomicStore(op bytecode.OpCode, pointer, value *ir.Variable, offset uint64) error {
	info := op.Info()
	if isStaticallyOutOfBounds(offset, info.Size) {
		g.emitStaticOutOfBounds()
		return nil
	}
	v := g.get(value)
	ea := g.emitAtomicAddress(g.get(pointer), offset, info.Size)
	g.currentBlock.AppendAtomic(ir.AtomicXchg, v.Type, uint8(info.Size), 0, v, ea)
	return nil
}

// AtomicBinaryRMW 原子读改写
func (g *OMGIRGenerator) AtomicBinaryRMW(op bytecode.OpCode, pointer, value *ir.Variable, offset uint64) (*ir.Variable, error) {
	info := op.Info()
	t := irType(wasm.Type{Kind: info.Out})
	if isStaticallyOutOfBounds(offset, info.Size) {
		g.emitStaticOutOfBounds()
		return g.push(g.zeroValue(t))
	}
	v := g.get(value)
	ea := g.emitAtomicAddress(g.get(pointer), offset, info.Size)
	old := g.currentBlock.AppendAtomic(atomicOpcode(op), t, uint8(info.Size), 0, v, ea)
	return g.push(g.sanitizeAtomicResult(old, info.Size))
}

// AtomicCompareExchange 原子比较交换
func (g *OMGIRGenerator) AtomicCompareExchange(op bytecode.OpCode, pointer, expected, value *ir.Variable, offset uint64) (*ir.Variable, error) {
	info := op.Info()
	t := irType(wasm.Type{Kind: info.Out})
	if isStaticallyOutOfBounds(offset, info.Size) {
		g.emitStaticOutOfBounds()
		return g.push(g.zeroValue(t))
	}
	exp, v := g.get(expected), g.get(value)
	ea := g.emitAtomicAddress(g.get(pointer), offset, info.Size)
	old := g.currentBlock.AppendAtomic(ir.AtomicStrongCAS, t, uint8(info.Size), 0, exp, v, ea)
	return g.push(g.sanitizeAtomicResult(old, info.Size))
}

// AtomicWait memory.atomic.wait32/64，由运行时检查边界
func (g *OMGIRGenerator) AtomicWait(op bytecode.OpCode, pointer, value, timeout *ir.Variable, offset uint64) (*ir.Variable, error) {
	operation := ir.OpAtomicWait32
	if op == bytecode.OpMemoryAtomicWait64 {
		operation = ir.OpAtomicWait64
	}
	ptr := g.emit(ir.ZExt32, ir.Int64, g.get(pointer))
	v, t := g.get(value), g.get(timeout)
	r := g.currentBlock.AppendCCall(ir.Int32, operation, g.instanceValue(), ptr, g.constU64(offset), v, t)
	g.currentBlock.AppendCheck(wasm.ExceptionOutOfBoundsMemoryAccess, g.emit(ir.LessThan, ir.Int32, r, g.const32(0)))
	return g.push(r)
}

// AtomicNotify memory.atomic.notify
func (g *OMGIRGenerator) AtomicNotify(pointer, count *ir.Variable, offset uint64) (*ir.Variable, error) {
	ptr := g.emit(ir.ZExt32, ir.Int64, g.get(pointer))
	n := g.get(count)
	r := g.currentBlock.AppendCCall(ir.Int32, ir.OpAtomicNotify, g.instanceValue(), ptr, g.constU64(offset), n)
	g.currentBlock.AppendCheck(wasm.ExceptionOutOfBoundsMemoryAccess, g.emit(ir.LessThan, ir.Int32, r, g.const32(0)))
	return g.push(r)
}

// AtomicFence atomic.fence
func (g *OMGIRGenerator) AtomicFence() error {
	g.emit(ir.Fence, ir.Void)
	return nil
}

// ============================================================================
// memory.size / grow / fill / copy / init
// ============================================================================

// AddMemorySize 以页为单位的内存大小
func (g *OMGIRGenerator) AddMemorySize() (*ir.Variable, error) {
	bytes := g.load(ir.Load, ir.Int64, g.instanceValue(), wasm.InstanceOffsetMemorySize)
	pages := g.emit(ir.ZShr, ir.Int64, bytes, g.const32(16))
	return g.push(g.emit(ir.Trunc, ir.Int32, pages))
}

// AddGrowMemory memory.grow；内存可能移动，之后重新读取基址
func (g *OMGIRGenerator) AddGrowMemory(delta *ir.Variable) (*ir.Variable, error) {
	r := g.currentBlock.AppendCCall(ir.Int32, ir.OpGrowMemory, g.instanceValue(), g.get(delta))
	g.reloadMemoryRegistersFromInstance()
	return g.push(r)
}

// emitBulkCall 运行时返回 0 表示越界
func (g *OMGIRGenerator) emitBulkCall(op ir.Operation, trap wasm.ExceptionType, args ...*ir.Value) {
	r := g.currentBlock.AppendCCall(ir.Int32, op, append([]*ir.Value{g.instanceValue()}, args...)...)
	g.currentBlock.AppendCheck(trap, g.emit(ir.Equal, ir.Int32, r, g.const32(0)))
}

// AddMemoryFill memory.fill
func (g *OMGIRGenerator) AddMemoryFill(dst, value, count *ir.Variable) error {
	g.emitBulkCall(ir.OpMemoryFill, wasm.ExceptionOutOfBoundsMemoryAccess, g.get(dst), g.get(value), g.get(count))
	return nil
}

// AddMemoryCopy memory.copy
func (g *OMGIRGenerator) AddMemoryCopy(dst, src, count *ir.Variable) error {
	g.emitBulkCall(ir.OpMemoryCopy, wasm.ExceptionOutOfBoundsMemoryAccess, g.get(dst), g.get(src), g.get(count))
	return nil
}

// AddMemoryInit memory.init
func (g *OMGIRGenerator) AddMemoryInit(segment uint32, dst, src, count *ir.Variable) error {
	g.emitBulkCall(ir.OpMemoryInit, wasm.ExceptionOutOfBoundsMemoryAccess,
		g.const32(int32(segment)), g.get(dst), g.get(src), g.get(count))
	return nil
}

// AddDataDrop data.drop
func (g *OMGIRGenerator) AddDataDrop(segment uint32) error {
	g.currentBlock.AppendCCall(ir.Void, ir.OpDataDrop, g.instanceValue(), g.const32(int32(segment)))
	return nil
}
