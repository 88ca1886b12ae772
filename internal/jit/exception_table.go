// exception_table.go - 异常处理表与栈映射
//
// 每个 try 占用一段调用点索引区间 [Start, End)。可能抛出的 patchpoint
// 各自占一个调用点索引，并带着一份栈映射：恢复执行所需的全部活跃值，
// 按“根帧到当前帧，每帧依次是局部变量、各层控制结构的外层操作数栈
// 及 catch 的异常值、当前操作数栈”的顺序排列。
//
// 运行时按调用点索引找到处理器后，把栈映射的值依次写入暂存缓冲区，
// 然后从处理器对应的入口块重新进入函数。

package jit

import (
	"fmt"

	"github.com/tangzhangming/novaomg/internal/jit/ir"
)

// ============================================================================
// 处理器
// ============================================================================

// HandlerKind 处理器种类
type HandlerKind uint8

const (
	HandlerCatch HandlerKind = iota
	HandlerCatchAll
	HandlerDelegate
)

var handlerKindNames = [...]string{"catch", "catch_all", "delegate"}

func (k HandlerKind) String() string {
	if int(k) < len(handlerKindNames) {
		return handlerKindNames[k]
	}
	return "?"
}

// MarshalText JSON 输出使用名称
func (k HandlerKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// HandlerInfo 异常处理表的一项
type HandlerInfo struct {
	Kind  HandlerKind `json:"kind"`
	Start uint32      `json:"start"`
	End   uint32      `json:"end"`

	// Entrypoint 处理器入口在根块中的序号；delegate 为 -1
	Entrypoint int    `json:"entrypoint"`
	TryDepth   uint32 `json:"tryDepth"`

	// Tag catch 捕获的标签；delegate 时为目标深度，DelegateToCaller 表示交给调用者
	Tag uint32 `json:"tag"`
}

// Covers 调用点是否落在区间内
func (h *HandlerInfo) Covers(callSite uint32) bool {
	return h.Start <= callSite && callSite < h.End
}

// DelegateToCaller delegate 的目标深度：本帧不再有处理器
const DelegateToCaller = 0

// DelegateTarget delegate 的目标深度
func (h *HandlerInfo) DelegateTarget() uint32 { return h.Tag }

func (h HandlerInfo) String() string {
	return fmt.Sprintf("%s [%d, %d) depth=%d tag=%d entry=%d", h.Kind, h.Start, h.End, h.TryDepth, h.Tag, h.Entrypoint)
}

// HandlerTable 一个函数（含内联的被调者）的处理器，内层在前
type HandlerTable []HandlerInfo

// Lookup 查找能处理该调用点上抛出的异常的处理器。
// catchAll 为假时只匹配 tag 相同的 catch；delegate 把搜索转交给外层深度的 try。
func (t HandlerTable) Lookup(callSite uint32, tag uint32, hasTag bool) (*HandlerInfo, bool) {
	delegated := false
	var targetDepth uint32
	for i := range t {
		h := &t[i]
		if !h.Covers(callSite) {
			continue
		}
		if delegated && (targetDepth == DelegateToCaller || h.TryDepth > targetDepth) {
			continue
		}
		switch h.Kind {
		case HandlerDelegate:
			delegated = true
			targetDepth = h.DelegateTarget()
		case HandlerCatchAll:
			return h, true
		case HandlerCatch:
			if hasTag && h.Tag == tag {
				return h, true
			}
		}
	}
	return nil, false
}

// ============================================================================
// 栈映射
// ============================================================================

// StackMap 某个调用点上的活跃值类型，顺序与 patchpoint 的栈映射子节点一致
type StackMap struct {
	Types []ir.Type `json:"types"`
}

// Len 值个数
func (m StackMap) Len() int { return len(m.Types) }

// StackMaps 调用点索引 -> 栈映射
type StackMaps map[uint32]StackMap

// ScratchBufferSize 按值宽度计算暂存缓冲区大小
func ScratchBufferSize(count int, usesSIMD bool) uint32 {
	return uint32(count) * scratchSlotSize(usesSIMD)
}

func scratchSlotSize(usesSIMD bool) uint32 {
	if usesSIMD {
		return 16
	}
	return 8
}

// CodeOrigin 内联被调者占用的调用点区间
type CodeOrigin struct {
	FirstCallSite uint32 `json:"firstCallSite"`
	LastCallSite  uint32 `json:"lastCallSite"`
	Callee        uint32 `json:"callee"`
}

// FunctionAt 调用点所在的最内层函数；不在任何内联区间时返回 caller
func FunctionAt(origins []CodeOrigin, callSite uint32, caller uint32) uint32 {
	fn := caller
	best := ^uint32(0)
	for _, o := range origins {
		if o.FirstCallSite <= callSite && callSite <= o.LastCallSite {
			if span := o.LastCallSite - o.FirstCallSite; span < best {
				best = span
				fn = o.Callee
			}
		}
	}
	return fn
}
