package bytecode

import (
	"fmt"

	"github.com/tangzhangming/novaomg/internal/wasm"
)

// VerificationError 指令流结构错误
type VerificationError struct {
	Function uint32 // 函数索引
	Offset   int    // 指令偏移量
	Message  string // 错误消息
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("function %d: malformed code at %d: %s", e.Function, e.Offset, e.Message)
}

// Verifier 结构验证器：检查块的嵌套、分支深度和索引范围。
// 操作数类型由上游解码器保证，这里不再检查。
type Verifier struct {
	info   *wasm.ModuleInformation
	fn     *Function
	locals int
	blocks []OpCode
}

// NewVerifier 创建验证器
func NewVerifier(info *wasm.ModuleInformation, fn *Function) *Verifier {
	return &Verifier{info: info, fn: fn}
}

func (v *Verifier) fail(offset int, format string, args ...interface{}) error {
	return &VerificationError{Function: v.fn.Index, Offset: offset, Message: fmt.Sprintf(format, args...)}
}

// Verify 验证函数体
func (v *Verifier) Verify() error {
	sig := v.info.Signature(v.fn.Index)
	v.locals = len(sig.Params) + len(v.fn.Locals)
	v.blocks = []OpCode{OpBlock}

	for i := range v.fn.Code {
		if len(v.blocks) == 0 {
			return v.fail(i, "instructions after the final end")
		}
		if err := v.verifyInstr(i, &v.fn.Code[i]); err != nil {
			return err
		}
	}
	if len(v.blocks) != 0 {
		return v.fail(len(v.fn.Code), "function body is not terminated by end")
	}
	return nil
}

func (v *Verifier) top() OpCode {
	return v.blocks[len(v.blocks)-1]
}

func (v *Verifier) checkDepth(offset int, depth uint32) error {
	if int(depth) >= len(v.blocks) {
		return v.fail(offset, "branch depth %d exceeds control depth %d", depth, len(v.blocks))
	}
	return nil
}

func (v *Verifier) verifyInstr(offset int, in *Instr) error {
	if !in.Op.IsValid() {
		return v.fail(offset, "invalid opcode %d", in.Op)
	}
	switch in.Op {
	case OpBlock, OpLoop, OpIf, OpTry:
		v.blocks = append(v.blocks, in.Op)
	case OpElse:
		if v.top() != OpIf {
			return v.fail(offset, "else without if")
		}
		v.blocks[len(v.blocks)-1] = OpElse
	case OpCatch, OpCatchAll:
		if t := v.top(); t != OpTry && t != OpCatch {
			return v.fail(offset, "%s without try", in.Op)
		}
		if in.Op == OpCatch && int(in.Index) >= len(v.info.Tags) {
			return v.fail(offset, "tag %d out of range", in.Index)
		}
		v.blocks[len(v.blocks)-1] = in.Op
	case OpDelegate:
		if v.top() != OpTry {
			return v.fail(offset, "delegate without try")
		}
		v.blocks = v.blocks[:len(v.blocks)-1]
		if err := v.checkDepth(offset, in.Index); err != nil {
			return err
		}
	case OpEnd:
		v.blocks = v.blocks[:len(v.blocks)-1]
	case OpBr, OpBrIf, OpBrOnNull, OpBrOnNonNull, OpBrOnCast, OpBrOnCastFail:
		return v.checkDepth(offset, in.Index)
	case OpBrTable:
		for _, t := range in.Targets {
			if err := v.checkDepth(offset, t); err != nil {
				return err
			}
		}
		return v.checkDepth(offset, in.Index)
	case OpRethrow:
		if int(in.Index) >= len(v.blocks) {
			return v.fail(offset, "rethrow depth %d out of range", in.Index)
		}
		if t := v.blocks[len(v.blocks)-1-int(in.Index)]; t != OpCatch && t != OpCatchAll {
			return v.fail(offset, "rethrow target is not a catch")
		}
	case OpThrow:
		if int(in.Index) >= len(v.info.Tags) {
			return v.fail(offset, "tag %d out of range", in.Index)
		}
	case OpLocalGet, OpLocalSet, OpLocalTee:
		if int(in.Index) >= v.locals {
			return v.fail(offset, "local %d out of range", in.Index)
		}
	case OpGlobalGet, OpGlobalSet:
		if int(in.Index) >= len(v.info.Globals) {
			return v.fail(offset, "global %d out of range", in.Index)
		}
	case OpCall, OpReturnCall, OpRefFunc:
		if int(in.Index) >= len(v.info.Functions) {
			return v.fail(offset, "function %d out of range", in.Index)
		}
	case OpCallIndirect, OpReturnCallIndirect:
		if int(in.Index) >= len(v.info.Types) || v.info.Types[in.Index].Kind != wasm.DefFunc {
			return v.fail(offset, "type %d is not a function type", in.Index)
		}
		if int(in.Index2) >= len(v.info.Tables) {
			return v.fail(offset, "table %d out of range", in.Index2)
		}
	case OpCallRef, OpReturnCallRef:
		if int(in.Index) >= len(v.info.Types) || v.info.Types[in.Index].Kind != wasm.DefFunc {
			return v.fail(offset, "type %d is not a function type", in.Index)
		}
	case OpTableGet, OpTableSet, OpTableSize, OpTableGrow, OpTableFill:
		if int(in.Index) >= len(v.info.Tables) {
			return v.fail(offset, "table %d out of range", in.Index)
		}
	case OpStructNew, OpStructNewDefault, OpStructGet, OpStructGetS, OpStructGetU, OpStructSet:
		if int(in.Index) >= len(v.info.Types) || v.info.Types[in.Index].Kind != wasm.DefStruct {
			return v.fail(offset, "type %d is not a struct type", in.Index)
		}
		if in.Op != OpStructNew && in.Op != OpStructNewDefault &&
			int(in.Index2) >= len(v.info.Types[in.Index].Struct.Fields) {
			return v.fail(offset, "field %d out of range", in.Index2)
		}
	case OpArrayNew, OpArrayNewDefault, OpArrayGet, OpArrayGetS, OpArrayGetU, OpArraySet:
		if int(in.Index) >= len(v.info.Types) || v.info.Types[in.Index].Kind != wasm.DefArray {
			return v.fail(offset, "type %d is not an array type", in.Index)
		}
	}

	if in.Op.Info().Imm == ImmMem || in.Op == OpMemorySize || in.Op == OpMemoryGrow ||
		in.Op == OpMemoryFill || in.Op == OpMemoryCopy || in.Op == OpMemoryInit {
		if !v.info.Memory.Present {
			return v.fail(offset, "%s without a memory", in.Op)
		}
	}
	return nil
}
