package parser

import (
	"github.com/tangzhangming/novaomg/internal/bytecode"
	cerrors "github.com/tangzhangming/novaomg/internal/errors"
	"github.com/tangzhangming/novaomg/internal/wasm"
)

// typeOfKind 标量和向量种类对应的值类型
func typeOfKind(k wasm.TypeKind) wasm.Type {
	return wasm.Type{Kind: k}
}

// parseInstr 解析一条可达指令
func (p *FunctionParser[E, C]) parseInstr(in *bytecode.Instr) error {
	info := in.Op.Info()
	switch info.Class {
	case bytecode.ClassConst:
		return p.parseConst(in)

	case bytecode.ClassUnary:
		v, err := p.pop()
		if err != nil {
			return err
		}
		r, err := p.ctx.AddUnary(in.Op, v.Value)
		return p.push(typeOfKind(info.Out), r, err)

	case bytecode.ClassBinary:
		args, err := p.popN(2)
		if err != nil {
			return err
		}
		r, err := p.ctx.AddBinary(in.Op, args[0], args[1])
		return p.push(typeOfKind(info.Out), r, err)

	case bytecode.ClassLoad:
		ptr, err := p.pop()
		if err != nil {
			return err
		}
		r, err := p.ctx.Load(in.Op, ptr.Value, in.Mem.Offset)
		return p.push(typeOfKind(info.Out), r, err)

	case bytecode.ClassStore:
		args, err := p.popN(2)
		if err != nil {
			return err
		}
		return p.check(p.ctx.Store(in.Op, args[0], args[1], in.Mem.Offset))

	case bytecode.ClassAtomicLoad:
		ptr, err := p.pop()
		if err != nil {
			return err
		}
		r, err := p.ctx.AtomicLoad(in.Op, ptr.Value, in.Mem.Offset)
		return p.push(typeOfKind(info.Out), r, err)

	case bytecode.ClassAtomicStore:
		args, err := p.popN(2)
		if err != nil {
			return err
		}
		return p.check(p.ctx.AtomicStore(in.Op, args[0], args[1], in.Mem.Offset))

	case bytecode.ClassAtomicRMW:
		args, err := p.popN(2)
		if err != nil {
			return err
		}
		r, err := p.ctx.AtomicBinaryRMW(in.Op, args[0], args[1], in.Mem.Offset)
		return p.push(typeOfKind(info.Out), r, err)

	case bytecode.ClassAtomicCmpxchg:
		args, err := p.popN(3)
		if err != nil {
			return err
		}
		r, err := p.ctx.AtomicCompareExchange(in.Op, args[0], args[1], args[2], in.Mem.Offset)
		return p.push(typeOfKind(info.Out), r, err)

	case bytecode.ClassExtractLane:
		v, err := p.pop()
		if err != nil {
			return err
		}
		r, err := p.ctx.AddExtractLane(in.Op, in.Lane, v.Value)
		return p.push(typeOfKind(info.Out), r, err)

	case bytecode.ClassReplaceLane:
		args, err := p.popN(2)
		if err != nil {
			return err
		}
		r, err := p.ctx.AddReplaceLane(in.Op, in.Lane, args[0], args[1])
		return p.push(wasm.V128, r, err)
	}
	return p.parseSpecial(in)
}

func (p *FunctionParser[E, C]) parseConst(in *bytecode.Instr) error {
	switch in.Op {
	case bytecode.OpI32Const:
		r, err := p.ctx.AddConstant(wasm.I32, uint64(uint32(in.Bits)))
		return p.push(wasm.I32, r, err)
	case bytecode.OpI64Const:
		r, err := p.ctx.AddConstant(wasm.I64, in.Bits)
		return p.push(wasm.I64, r, err)
	case bytecode.OpF32Const:
		r, err := p.ctx.AddConstant(wasm.F32, uint64(uint32(in.Bits)))
		return p.push(wasm.F32, r, err)
	case bytecode.OpF64Const:
		r, err := p.ctx.AddConstant(wasm.F64, in.Bits)
		return p.push(wasm.F64, r, err)
	case bytecode.OpV128Const:
		r, err := p.ctx.AddV128Constant(in.V128)
		return p.push(wasm.V128, r, err)
	}
	return p.fail(cerrors.E0002, "unexpected constant %s", in.Op)
}

// parseSpecial 逐条处理的指令
func (p *FunctionParser[E, C]) parseSpecial(in *bytecode.Instr) error {
	switch in.Op {
	case bytecode.OpNop:
		return nil

	case bytecode.OpBlock, bytecode.OpLoop, bytecode.OpIf, bytecode.OpElse,
		bytecode.OpTry, bytecode.OpCatch, bytecode.OpCatchAll, bytecode.OpDelegate,
		bytecode.OpThrow, bytecode.OpRethrow, bytecode.OpEnd,
		bytecode.OpBr, bytecode.OpBrIf, bytecode.OpBrTable, bytecode.OpReturn,
		bytecode.OpBrOnNull, bytecode.OpBrOnNonNull, bytecode.OpBrOnCast, bytecode.OpBrOnCastFail,
		bytecode.OpUnreachable:
		return p.parseControl(in)

	case bytecode.OpCall, bytecode.OpCallIndirect, bytecode.OpCallRef,
		bytecode.OpReturnCall, bytecode.OpReturnCallIndirect, bytecode.OpReturnCallRef:
		return p.parseCall(in)

	case bytecode.OpDrop:
		_, err := p.pop()
		return err

	case bytecode.OpSelect:
		var t wasm.Type
		if n := len(p.expressionStack); n >= 3 {
			t = p.expressionStack[n-3].Type
		}
		args, err := p.popN(3)
		if err != nil {
			return err
		}
		r, err := p.ctx.AddSelect(args[2], args[0], args[1])
		return p.push(t, r, err)

	case bytecode.OpLocalGet:
		if int(in.Index) >= len(p.locals) {
			return p.fail(cerrors.E0004, "local %d out of range", in.Index)
		}
		r, err := p.ctx.GetLocal(in.Index)
		return p.push(p.locals[in.Index], r, err)

	case bytecode.OpLocalSet:
		if int(in.Index) >= len(p.locals) {
			return p.fail(cerrors.E0004, "local %d out of range", in.Index)
		}
		v, err := p.pop()
		if err != nil {
			return err
		}
		return p.check(p.ctx.SetLocal(in.Index, v.Value))

	case bytecode.OpLocalTee:
		if int(in.Index) >= len(p.locals) {
			return p.fail(cerrors.E0004, "local %d out of range", in.Index)
		}
		v, err := p.pop()
		if err != nil {
			return err
		}
		r, err := p.ctx.TeeLocal(in.Index, v.Value)
		return p.push(p.locals[in.Index], r, err)

	case bytecode.OpGlobalGet:
		r, err := p.ctx.GetGlobal(in.Index)
		return p.push(p.info.Globals[in.Index].Type, r, err)

	case bytecode.OpGlobalSet:
		v, err := p.pop()
		if err != nil {
			return err
		}
		return p.check(p.ctx.SetGlobal(in.Index, v.Value))
	}

	if in.Op.IsAtomic() || in.Op == bytecode.OpAtomicFence {
		return p.parseAtomicSpecial(in)
	}
	switch in.Op {
	case bytecode.OpMemorySize, bytecode.OpMemoryGrow, bytecode.OpMemoryFill,
		bytecode.OpMemoryCopy, bytecode.OpMemoryInit, bytecode.OpDataDrop:
		return p.parseMemory(in)
	case bytecode.OpTableGet, bytecode.OpTableSet, bytecode.OpTableSize, bytecode.OpTableGrow,
		bytecode.OpTableFill, bytecode.OpTableCopy, bytecode.OpTableInit, bytecode.OpElemDrop:
		return p.parseTable(in)
	}
	return p.parseReference(in)
}

func (p *FunctionParser[E, C]) parseAtomicSpecial(in *bytecode.Instr) error {
	switch in.Op {
	case bytecode.OpAtomicFence:
		return p.check(p.ctx.AtomicFence())
	case bytecode.OpMemoryAtomicNotify:
		args, err := p.popN(2)
		if err != nil {
			return err
		}
		r, err := p.ctx.AtomicNotify(args[0], args[1], in.Mem.Offset)
		return p.push(wasm.I32, r, err)
	case bytecode.OpMemoryAtomicWait32, bytecode.OpMemoryAtomicWait64:
		args, err := p.popN(3)
		if err != nil {
			return err
		}
		r, err := p.ctx.AtomicWait(in.Op, args[0], args[1], args[2], in.Mem.Offset)
		return p.push(wasm.I32, r, err)
	}
	return p.fail(cerrors.E0002, "unsupported atomic instruction %s", in.Op)
}

func (p *FunctionParser[E, C]) parseMemory(in *bytecode.Instr) error {
	switch in.Op {
	case bytecode.OpMemorySize:
		r, err := p.ctx.AddMemorySize()
		return p.push(wasm.I32, r, err)
	case bytecode.OpMemoryGrow:
		delta, err := p.pop()
		if err != nil {
			return err
		}
		r, err := p.ctx.AddGrowMemory(delta.Value)
		return p.push(wasm.I32, r, err)
	case bytecode.OpMemoryFill:
		args, err := p.popN(3)
		if err != nil {
			return err
		}
		return p.check(p.ctx.AddMemoryFill(args[0], args[1], args[2]))
	case bytecode.OpMemoryCopy:
		args, err := p.popN(3)
		if err != nil {
			return err
		}
		return p.check(p.ctx.AddMemoryCopy(args[0], args[1], args[2]))
	case bytecode.OpMemoryInit:
		args, err := p.popN(3)
		if err != nil {
			return err
		}
		return p.check(p.ctx.AddMemoryInit(in.Index, args[0], args[1], args[2]))
	case bytecode.OpDataDrop:
		return p.check(p.ctx.AddDataDrop(in.Index))
	}
	return p.fail(cerrors.E0002, "unsupported memory instruction %s", in.Op)
}

func (p *FunctionParser[E, C]) parseTable(in *bytecode.Instr) error {
	switch in.Op {
	case bytecode.OpTableGet:
		idx, err := p.pop()
		if err != nil {
			return err
		}
		r, err := p.ctx.AddTableGet(in.Index, idx.Value)
		return p.push(p.info.Tables[in.Index].Element, r, err)
	case bytecode.OpTableSet:
		args, err := p.popN(2)
		if err != nil {
			return err
		}
		return p.check(p.ctx.AddTableSet(in.Index, args[0], args[1]))
	case bytecode.OpTableSize:
		r, err := p.ctx.AddTableSize(in.Index)
		return p.push(wasm.I32, r, err)
	case bytecode.OpTableGrow:
		args, err := p.popN(2)
		if err != nil {
			return err
		}
		r, err := p.ctx.AddTableGrow(in.Index, args[0], args[1])
		return p.push(wasm.I32, r, err)
	case bytecode.OpTableFill:
		args, err := p.popN(3)
		if err != nil {
			return err
		}
		return p.check(p.ctx.AddTableFill(in.Index, args[0], args[1], args[2]))
	case bytecode.OpTableCopy:
		args, err := p.popN(3)
		if err != nil {
			return err
		}
		return p.check(p.ctx.AddTableCopy(in.Index, in.Index2, args[0], args[1], args[2]))
	case bytecode.OpTableInit:
		args, err := p.popN(3)
		if err != nil {
			return err
		}
		return p.check(p.ctx.AddTableInit(in.Index, in.Index2, args[0], args[1], args[2]))
	case bytecode.OpElemDrop:
		return p.check(p.ctx.AddElemDrop(in.Index))
	}
	return p.fail(cerrors.E0002, "unsupported table instruction %s", in.Op)
}

func (p *FunctionParser[E, C]) parseReference(in *bytecode.Instr) error {
	switch in.Op {
	case bytecode.OpRefNull:
		t := in.RefType
		t.Nullable = true
		r, err := p.ctx.AddRefNull(t)
		return p.push(t, r, err)

	case bytecode.OpRefIsNull:
		v, err := p.pop()
		if err != nil {
			return err
		}
		r, err := p.ctx.AddRefIsNull(v.Value)
		return p.push(wasm.I32, r, err)

	case bytecode.OpRefFunc:
		r, err := p.ctx.AddRefFunc(in.Index)
		t := wasm.RefType(wasm.HeapType(p.info.FunctionTypeIndex(in.Index)), false)
		return p.push(t, r, err)

	case bytecode.OpRefAsNonNull:
		v, err := p.pop()
		if err != nil {
			return err
		}
		r, err := p.ctx.AddRefAsNonNull(v.Value)
		return p.push(v.Type.AsNonNull(), r, err)

	case bytecode.OpRefEq:
		args, err := p.popN(2)
		if err != nil {
			return err
		}
		r, err := p.ctx.AddRefEq(args[0], args[1])
		return p.push(wasm.I32, r, err)

	case bytecode.OpRefTest, bytecode.OpRefTestNull:
		v, err := p.pop()
		if err != nil {
			return err
		}
		r, err := p.ctx.AddRefTest(v.Value, in.Op == bytecode.OpRefTestNull, in.RefType.Heap)
		return p.push(wasm.I32, r, err)

	case bytecode.OpRefCast, bytecode.OpRefCastNull:
		v, err := p.pop()
		if err != nil {
			return err
		}
		allowNull := in.Op == bytecode.OpRefCastNull
		r, err := p.ctx.AddRefCast(v.Value, allowNull, in.RefType.Heap)
		return p.push(wasm.RefType(in.RefType.Heap, allowNull), r, err)

	case bytecode.OpRefI31:
		v, err := p.pop()
		if err != nil {
			return err
		}
		r, err := p.ctx.AddRefI31(v.Value)
		return p.push(wasm.RefType(wasm.HeapI31, false), r, err)

	case bytecode.OpI31GetS, bytecode.OpI31GetU:
		v, err := p.pop()
		if err != nil {
			return err
		}
		r, err := p.ctx.AddI31Get(v.Value, in.Op == bytecode.OpI31GetS)
		return p.push(wasm.I32, r, err)

	case bytecode.OpStructNew:
		st := p.info.StructType(in.Index)
		args, err := p.popN(len(st.Fields))
		if err != nil {
			return err
		}
		r, err := p.ctx.AddStructNew(in.Index, args)
		return p.push(wasm.RefType(wasm.HeapType(in.Index), false), r, err)

	case bytecode.OpStructNewDefault:
		r, err := p.ctx.AddStructNewDefault(in.Index)
		return p.push(wasm.RefType(wasm.HeapType(in.Index), false), r, err)

	case bytecode.OpStructGet, bytecode.OpStructGetS, bytecode.OpStructGetU:
		obj, err := p.pop()
		if err != nil {
			return err
		}
		field := p.info.StructType(in.Index).Fields[in.Index2]
		r, err := p.ctx.AddStructGet(in.Op, obj.Value, in.Index, in.Index2)
		return p.push(field.Storage.Unpacked(), r, err)

	case bytecode.OpStructSet:
		args, err := p.popN(2)
		if err != nil {
			return err
		}
		return p.check(p.ctx.AddStructSet(args[0], in.Index, in.Index2, args[1]))

	case bytecode.OpArrayNew:
		args, err := p.popN(2)
		if err != nil {
			return err
		}
		r, err := p.ctx.AddArrayNew(in.Index, args[1], args[0])
		return p.push(wasm.RefType(wasm.HeapType(in.Index), false), r, err)

	case bytecode.OpArrayNewDefault:
		size, err := p.pop()
		if err != nil {
			return err
		}
		r, err := p.ctx.AddArrayNewDefault(in.Index, size.Value)
		return p.push(wasm.RefType(wasm.HeapType(in.Index), false), r, err)

	case bytecode.OpArrayGet, bytecode.OpArrayGetS, bytecode.OpArrayGetU:
		args, err := p.popN(2)
		if err != nil {
			return err
		}
		elem := p.info.ArrayType(in.Index).Element
		r, err := p.ctx.AddArrayGet(in.Op, in.Index, args[0], args[1])
		return p.push(elem.Storage.Unpacked(), r, err)

	case bytecode.OpArraySet:
		args, err := p.popN(3)
		if err != nil {
			return err
		}
		return p.check(p.ctx.AddArraySet(in.Index, args[0], args[1], args[2]))

	case bytecode.OpArrayLen:
		v, err := p.pop()
		if err != nil {
			return err
		}
		r, err := p.ctx.AddArrayLen(v.Value)
		return p.push(wasm.I32, r, err)
	}
	return p.fail(cerrors.E0002, "unsupported instruction %s", in.Op)
}
