// memory.go - 模拟的机器地址空间
//
// 地址空间分三段：
//
//	[HeapBase, ...)          运行时堆：实例、表、RTT、GC 对象、暂存缓冲区
//	[StackBase, +StackSize)  机器栈，向低地址增长
//	[LinearMemoryBase, ...)  线性内存，后面跟着保护区
//
// 访问保护区里的地址相当于触发了信号，转换为越界陷阱；
// 访问其它未映射的地址是运行时自身的错误。

package vm

import (
	"encoding/binary"
	"fmt"

	"github.com/tangzhangming/novaomg/internal/jit/ir"
	"github.com/tangzhangming/novaomg/internal/wasm"
)

const (
	HeapBase         = 0x0001_0000
	StackBase        = 0x4000_0000
	LinearMemoryBase = 0x1_0000_0000

	// GuardRegionSize 线性内存基址之后保留的地址范围，覆盖 32 位指针加上
	// 不超过 MaxInt32 的访存立即数
	GuardRegionSize = 8 << 30

	// DefaultStackSize 默认机器栈大小
	DefaultStackSize = 1 << 20

	// stackRedZone 栈底留给运行时自身的空间，软栈上限在它之上
	stackRedZone = 4096
)

// SegmentationFault 访问了未映射的地址
type SegmentationFault struct {
	Addr uint64
	Size int
}

func (e *SegmentationFault) Error() string {
	return fmt.Sprintf("segmentation fault: %d-byte access at 0x%x", e.Size, e.Addr)
}

// AddressSpace 地址空间
type AddressSpace struct {
	heap   []byte
	stack  []byte
	memory []byte
}

// NewAddressSpace 创建地址空间，stackSize 为 0 时使用默认值
func NewAddressSpace(stackSize uint32) *AddressSpace {
	if stackSize == 0 {
		stackSize = DefaultStackSize
	}
	return &AddressSpace{
		heap:  make([]byte, 0, 64<<10),
		stack: make([]byte, stackSize),
	}
}

// StackTop 栈的最高地址（不含）
func (a *AddressSpace) StackTop() uint64 { return StackBase + uint64(len(a.stack)) }

// StackLimit 软栈上限
func (a *AddressSpace) StackLimit() uint64 { return StackBase + stackRedZone }

// MemorySize 线性内存字节数
func (a *AddressSpace) MemorySize() uint64 { return uint64(len(a.memory)) }

// Memory 线性内存的当前内容
func (a *AddressSpace) Memory() []byte { return a.memory }

// GrowMemory 线性内存增长 pages 页，返回原页数；超出 maximum 时返回 -1
func (a *AddressSpace) GrowMemory(pages, maximum uint32) int32 {
	old := uint32(len(a.memory) / wasm.PageSize)
	if uint64(old)+uint64(pages) > uint64(maximum) {
		return -1
	}
	a.memory = append(a.memory, make([]byte, int(pages)*wasm.PageSize)...)
	return int32(old)
}

// Alloc 在堆上分配 size 字节的清零空间
func (a *AddressSpace) Alloc(size, align uint32) uint64 {
	if align < 8 {
		align = 8
	}
	start := (uint32(len(a.heap)) + align - 1) &^ (align - 1)
	end := start + size
	if end > uint32(cap(a.heap)) {
		grown := make([]byte, len(a.heap), max(2*cap(a.heap), int(end)))
		copy(grown, a.heap)
		a.heap = grown
	}
	a.heap = a.heap[:end]
	clear(a.heap[start:end])
	return HeapBase + uint64(start)
}

// slice 地址对应的字节切片；线性内存越界时返回陷阱
func (a *AddressSpace) slice(addr uint64, size int) ([]byte, error) {
	n := uint64(size)
	switch {
	case addr >= LinearMemoryBase && addr < LinearMemoryBase+GuardRegionSize:
		off := addr - LinearMemoryBase
		if off+n > uint64(len(a.memory)) {
			return nil, &Trap{Kind: wasm.ExceptionOutOfBoundsMemoryAccess}
		}
		return a.memory[off : off+n], nil
	case addr >= StackBase && addr+n <= a.StackTop():
		off := addr - StackBase
		return a.stack[off : off+n], nil
	case addr >= HeapBase && addr+n <= HeapBase+uint64(len(a.heap)):
		off := addr - HeapBase
		return a.heap[off : off+n], nil
	}
	return nil, &SegmentationFault{Addr: addr, Size: size}
}

// Load 读 size 字节，小端
func (a *AddressSpace) Load(addr uint64, size int) (ir.Bits, error) {
	b, err := a.slice(addr, size)
	if err != nil {
		return ir.Bits{}, err
	}
	var r ir.Bits
	switch size {
	case 1:
		r[0] = uint64(b[0])
	case 2:
		r[0] = uint64(binary.LittleEndian.Uint16(b))
	case 4:
		r[0] = uint64(binary.LittleEndian.Uint32(b))
	case 8:
		r[0] = binary.LittleEndian.Uint64(b)
	case 16:
		r[0] = binary.LittleEndian.Uint64(b)
		r[1] = binary.LittleEndian.Uint64(b[8:])
	default:
		return ir.Bits{}, fmt.Errorf("vm: unsupported access size %d", size)
	}
	return r, nil
}

// Store 写 size 字节，小端
func (a *AddressSpace) Store(addr uint64, size int, v ir.Bits) error {
	b, err := a.slice(addr, size)
	if err != nil {
		return err
	}
	switch size {
	case 1:
		b[0] = byte(v[0])
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v[0]))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v[0]))
	case 8:
		binary.LittleEndian.PutUint64(b, v[0])
	case 16:
		binary.LittleEndian.PutUint64(b, v[0])
		binary.LittleEndian.PutUint64(b[8:], v[1])
	default:
		return fmt.Errorf("vm: unsupported access size %d", size)
	}
	return nil
}

// 运行时自身的数据结构都在已映射的地址上，以下读写忽略错误

func (a *AddressSpace) u8(addr uint64) uint8 {
	v, _ := a.Load(addr, 1)
	return uint8(v[0])
}

func (a *AddressSpace) u32(addr uint64) uint32 {
	v, _ := a.Load(addr, 4)
	return uint32(v[0])
}

func (a *AddressSpace) u64(addr uint64) uint64 {
	v, _ := a.Load(addr, 8)
	return v[0]
}

func (a *AddressSpace) putU8(addr uint64, v uint8)   { _ = a.Store(addr, 1, ir.Bits{uint64(v)}) }
func (a *AddressSpace) putU32(addr uint64, v uint32) { _ = a.Store(addr, 4, ir.Bits{uint64(v)}) }
func (a *AddressSpace) putU64(addr uint64, v uint64) { _ = a.Store(addr, 8, ir.Bits{v}) }

// copyMemory 线性内存内的移动，区间可以重叠
func (a *AddressSpace) copyMemory(dst, src, n uint64) {
	copy(a.memory[dst:dst+n], a.memory[src:src+n])
}

// fillMemory 线性内存填充
func (a *AddressSpace) fillMemory(dst uint64, value byte, n uint64) {
	for i := dst; i < dst+n; i++ {
		a.memory[i] = value
	}
}
