// control.go - 控制结构
//
// 每个 block/loop/if/try 在生成器里对应一个 ControlData。它记录进入时的栈高度、
// 出口块、loop 的循环体或 if 的 else 块，以及合并用的 phi：
// loop 的 phi 在循环头接收参数，其余结构的 phi 在出口接收结果。
// try 在遇到第一个 catch 时转换为 catch 结构，转换产生一个新的 ControlData，
// 由解析器控制栈上的那一项持有。

package jit

import (
	"fmt"

	"github.com/tangzhangming/novaomg/internal/jit/ir"
	"github.com/tangzhangming/novaomg/internal/wasm"
)

// BlockType 控制结构种类
type BlockType uint8

const (
	BlockTopLevel BlockType = iota
	BlockBlock
	BlockLoop
	BlockIf
	BlockTry
	BlockCatch
)

var blockTypeNames = [...]string{"TopLevel", "Block", "Loop", "If", "Try", "Catch"}

func (t BlockType) String() string {
	if int(t) < len(blockTypeNames) {
		return blockTypeNames[t]
	}
	return "?"
}

// CatchKind catch 分支种类
type CatchKind uint8

const (
	CatchKindCatch CatchKind = iota
	CatchKindCatchAll
)

// ControlData 一个控制结构
type ControlData struct {
	blockType BlockType
	signature *wasm.FunctionSignature

	// stackSize 进入时的栈高度，不含块参数（函数级结构除外）
	stackSize uint32

	continuation *ir.BasicBlock
	// special loop 的循环体，或 if 的 else 块
	special *ir.BasicBlock
	phis    []*ir.Value
	// elseArgs if 的块参数副本，else 分支开始时写回参数槽
	elseArgs []*ir.Variable

	tryStart  uint32
	tryEnd    uint32
	tryDepth  uint32
	catchKind CatchKind
	exception *ir.Variable
}

func newControlData(proc *ir.Procedure, sig *wasm.FunctionSignature, bt BlockType, stackSize uint32,
	continuation, special *ir.BasicBlock) *ControlData {
	c := &ControlData{
		blockType:    bt,
		signature:    sig,
		stackSize:    stackSize,
		continuation: continuation,
		special:      special,
	}
	types := sig.Results
	if bt == BlockLoop {
		types = sig.Params
	}
	c.phis = make([]*ir.Value, len(types))
	for i, t := range types {
		c.phis[i] = proc.NewPhi(irType(t))
	}
	return c
}

func newTryControl(proc *ir.Procedure, sig *wasm.FunctionSignature, stackSize uint32,
	continuation *ir.BasicBlock, tryStart, tryDepth uint32) *ControlData {
	c := newControlData(proc, sig, BlockTry, stackSize, continuation, nil)
	c.tryStart = tryStart
	c.tryDepth = tryDepth
	return c
}

// BlockType 种类
func (c *ControlData) BlockType() BlockType { return c.blockType }

// Signature 块签名
func (c *ControlData) Signature() *wasm.FunctionSignature { return c.signature }

// TryDepth try 嵌套深度
func (c *ControlData) TryDepth() uint32 { return c.tryDepth }

// targetBlockForBranch 分支目标：loop 跳回循环体，其余跳到出口
func (c *ControlData) targetBlockForBranch() *ir.BasicBlock {
	if c.blockType == BlockLoop {
		return c.special
	}
	return c.continuation
}

// branchTargetArity 分支携带的值个数
func (c *ControlData) branchTargetArity() int {
	if c.blockType == BlockLoop {
		return c.signature.ArgumentCount()
	}
	return c.signature.ReturnCount()
}

func (c *ControlData) isTry() bool      { return c.blockType == BlockTry }
func (c *ControlData) isAnyCatch() bool { return c.blockType == BlockCatch }

// convertIfToBlock else 之后 if 按普通块处理
func (c *ControlData) convertIfToBlock() *ControlData {
	out := *c
	out.blockType = BlockBlock
	out.special = nil
	out.elseArgs = nil
	return &out
}

// convertTryToCatch 第一个 catch 结束 try 的调用点区间
func (c *ControlData) convertTryToCatch(tryEnd uint32, exception *ir.Variable) *ControlData {
	out := *c
	out.blockType = BlockCatch
	out.tryEnd = tryEnd
	out.exception = exception
	return &out
}

func (c *ControlData) withCatchKind(kind CatchKind) *ControlData {
	out := *c
	out.catchKind = kind
	return &out
}

func (c *ControlData) String() string {
	s := fmt.Sprintf("%s %s height=%d", c.blockType, c.signature, c.stackSize)
	if c.continuation != nil {
		s += fmt.Sprintf(" continuation=#%d", c.continuation.Index)
	}
	if c.special != nil {
		s += fmt.Sprintf(" special=#%d", c.special.Index)
	}
	if c.blockType == BlockTry || c.blockType == BlockCatch {
		s += fmt.Sprintf(" try=[%d, %d) depth=%d", c.tryStart, c.tryEnd, c.tryDepth)
	}
	return s
}
