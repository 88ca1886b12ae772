// Package bytecode 定义已解码、已类型检查的结构化 wasm 指令流，
// 以及构造它的汇编器和文本形式。
package bytecode

import (
	"fmt"
	"strings"

	"github.com/tangzhangming/novaomg/internal/wasm"
)

// ============================================================================
// 指令
// ============================================================================

// BlockType 块签名
type BlockType struct {
	Params  []wasm.Type
	Results []wasm.Type
}

// Signature 转换为函数签名
func (b BlockType) Signature() *wasm.FunctionSignature {
	return &wasm.FunctionSignature{Params: b.Params, Results: b.Results}
}

// MemArg 访存立即数
type MemArg struct {
	Align  uint32
	Offset uint64
}

// Instr 单条指令
type Instr struct {
	Op      OpCode
	Offset  uint32 // 在函数体中的位置，分支提示以此为键
	Index   uint32
	Index2  uint32
	Bits    uint64 // 标量常量的位模式
	V128    [2]uint64
	Block   BlockType
	Mem     MemArg
	Lane    uint8
	Targets []uint32  // br_table 的目标，默认目标在 Index
	RefType wasm.Type // ref.null / ref.test / ref.cast / br_on_cast 的目标类型
}

func (in *Instr) String() string {
	var sb strings.Builder
	sb.WriteString(in.Op.String())
	switch in.Op.Info().Imm {
	case ImmBlock:
		for _, t := range in.Block.Params {
			fmt.Fprintf(&sb, " (param %s)", t)
		}
		for _, t := range in.Block.Results {
			fmt.Fprintf(&sb, " (result %s)", t)
		}
	case ImmIndex:
		fmt.Fprintf(&sb, " %d", in.Index)
	case ImmTwoIndex:
		fmt.Fprintf(&sb, " %d %d", in.Index, in.Index2)
	case ImmI32:
		fmt.Fprintf(&sb, " %d", int32(in.Bits))
	case ImmI64:
		fmt.Fprintf(&sb, " %d", int64(in.Bits))
	case ImmF32, ImmF64:
		fmt.Fprintf(&sb, " 0x%x", in.Bits)
	case ImmV128:
		fmt.Fprintf(&sb, " 0x%016x 0x%016x", in.V128[0], in.V128[1])
	case ImmMem:
		if in.Mem.Offset != 0 {
			fmt.Fprintf(&sb, " offset=%d", in.Mem.Offset)
		}
		if in.Mem.Align != 0 {
			fmt.Fprintf(&sb, " align=%d", in.Mem.Align)
		}
	case ImmLane:
		fmt.Fprintf(&sb, " %d", in.Lane)
	case ImmBrTable:
		for _, t := range in.Targets {
			fmt.Fprintf(&sb, " %d", t)
		}
		fmt.Fprintf(&sb, " %d", in.Index)
	case ImmHeapType:
		sb.WriteString(" " + in.RefType.Heap.String())
	case ImmBrCast:
		fmt.Fprintf(&sb, " %d %s", in.Index, in.RefType)
	}
	return sb.String()
}

// ============================================================================
// 函数与模块
// ============================================================================

// Function 模块内定义的函数体
type Function struct {
	Index  uint32 // 函数索引空间中的索引
	Locals []wasm.Type
	Code   []Instr
	Hints  map[uint32]wasm.BranchHint // 指令偏移 -> 分支提示
}

// Size 函数体大小（指令数），作为内联预算的度量
func (f *Function) Size() uint32 {
	return uint32(len(f.Code))
}

// Disassemble 以文本形式输出函数体
func (f *Function) Disassemble() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "== function %d ==\n", f.Index)
	for _, t := range f.Locals {
		fmt.Fprintf(&sb, "  (local %s)\n", t)
	}
	depth := 1
	for i := range f.Code {
		in := &f.Code[i]
		switch in.Op {
		case OpEnd, OpElse, OpCatch, OpCatchAll, OpDelegate:
			depth--
		}
		fmt.Fprintf(&sb, "%04d %s%s\n", i, strings.Repeat("  ", max(depth, 0)), in.String())
		switch in.Op {
		case OpBlock, OpLoop, OpIf, OpTry, OpElse, OpCatch, OpCatchAll:
			depth++
		}
	}
	return sb.String()
}

// Module 模块：只读模块信息加上各函数体
type Module struct {
	Info      *wasm.ModuleInformation
	Functions []*Function // 仅包含模块内定义的函数，顺序与索引空间一致
}

// Body 按函数索引取函数体；导入函数返回 nil
func (m *Module) Body(funcIndex uint32) *Function {
	if m.Info.IsImportedFunction(funcIndex) {
		return nil
	}
	i := m.Info.ToInternalIndex(funcIndex)
	if int(i) >= len(m.Functions) {
		return nil
	}
	return m.Functions[i]
}

// Validate 校验模块信息和每个函数体的结构，并计算会切换实例的尾调用
func (m *Module) Validate() error {
	if err := m.Info.Validate(); err != nil {
		return err
	}
	if uint32(len(m.Functions)) != m.Info.InternalFunctionCount() {
		return fmt.Errorf("module declares %d functions but has %d bodies",
			m.Info.InternalFunctionCount(), len(m.Functions))
	}
	for i, f := range m.Functions {
		f.Index = m.Info.ImportFunctionCount() + uint32(i)
		for j := range f.Code {
			f.Code[j].Offset = uint32(j)
		}
		if err := NewVerifier(m.Info, f).Verify(); err != nil {
			return err
		}
		for off, hint := range f.Hints {
			m.Info.SetBranchHint(f.Index, off, hint)
		}
		if m.makesClobberingTailCall(f) {
			if m.Info.ClobberingTailCalls == nil {
				m.Info.ClobberingTailCalls = make(map[uint32]bool)
			}
			m.Info.ClobberingTailCalls[f.Index] = true
		}
	}
	return nil
}

func (m *Module) makesClobberingTailCall(f *Function) bool {
	for i := range f.Code {
		switch f.Code[i].Op {
		case OpReturnCallIndirect, OpReturnCallRef:
			return true
		case OpReturnCall:
			if m.Info.IsImportedFunction(f.Code[i].Index) {
				return true
			}
		}
	}
	return false
}
