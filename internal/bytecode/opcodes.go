package bytecode

import "github.com/tangzhangming/novaomg/internal/wasm"

// ============================================================================
// 操作码
// ============================================================================

// OpCode 已解码的结构化指令操作码
type OpCode uint16

const (
	OpUnreachable OpCode = iota
	OpNop
	OpBlock
	OpLoop
	OpIf
	OpElse
	OpTry
	OpCatch
	OpCatchAll
	OpDelegate
	OpThrow
	OpRethrow
	OpEnd
	OpBr
	OpBrIf
	OpBrTable
	OpReturn
	OpCall
	OpCallIndirect
	OpCallRef
	OpReturnCall
	OpReturnCallIndirect
	OpReturnCallRef
	OpBrOnNull
	OpBrOnNonNull
	OpBrOnCast
	OpBrOnCastFail
	OpDrop
	OpSelect
	OpLocalGet
	OpLocalSet
	OpLocalTee
	OpGlobalGet
	OpGlobalSet
	OpTableGet
	OpTableSet
	OpTableSize
	OpTableGrow
	OpTableFill
	OpTableCopy
	OpTableInit
	OpElemDrop
	OpMemorySize
	OpMemoryGrow
	OpMemoryFill
	OpMemoryCopy
	OpMemoryInit
	OpDataDrop
	OpI32Const
	OpI64Const
	OpF32Const
	OpF64Const
	OpV128Const
	OpI32Load
	OpI64Load
	OpF32Load
	OpF64Load
	OpI32Load8S
	OpI32Load8U
	OpI32Load16S
	OpI32Load16U
	OpI64Load8S
	OpI64Load8U
	OpI64Load16S
	OpI64Load16U
	OpI64Load32S
	OpI64Load32U
	OpV128Load
	OpV128Load8Splat
	OpV128Load16Splat
	OpV128Load32Splat
	OpV128Load64Splat
	OpI32Store
	OpI64Store
	OpF32Store
	OpF64Store
	OpI32Store8
	OpI32Store16
	OpI64Store8
	OpI64Store16
	OpI64Store32
	OpV128Store
	OpI32Eqz
	OpI32Eq
	OpI32Ne
	OpI32LtS
	OpI32LtU
	OpI32GtS
	OpI32GtU
	OpI32LeS
	OpI32LeU
	OpI32GeS
	OpI32GeU
	OpI64Eqz
	OpI64Eq
	OpI64Ne
	OpI64LtS
	OpI64LtU
	OpI64GtS
	OpI64GtU
	OpI64LeS
	OpI64LeU
	OpI64GeS
	OpI64GeU
	OpF32Eq
	OpF32Ne
	OpF32Lt
	OpF32Gt
	OpF32Le
	OpF32Ge
	OpF64Eq
	OpF64Ne
	OpF64Lt
	OpF64Gt
	OpF64Le
	OpF64Ge
	OpI32Clz
	OpI32Ctz
	OpI32Popcnt
	OpI32Add
	OpI32Sub
	OpI32Mul
	OpI32DivS
	OpI32DivU
	OpI32RemS
	OpI32RemU
	OpI32And
	OpI32Or
	OpI32Xor
	OpI32Shl
	OpI32ShrS
	OpI32ShrU
	OpI32Rotl
	OpI32Rotr
	OpI64Clz
	OpI64Ctz
	OpI64Popcnt
	OpI64Add
	OpI64Sub
	OpI64Mul
	OpI64DivS
	OpI64DivU
	OpI64RemS
	OpI64RemU
	OpI64And
	OpI64Or
	OpI64Xor
	OpI64Shl
	OpI64ShrS
	OpI64ShrU
	OpI64Rotl
	OpI64Rotr
	OpF32Abs
	OpF32Neg
	OpF32Ceil
	OpF32Floor
	OpF32Trunc
	OpF32Nearest
	OpF32Sqrt
	OpF32Add
	OpF32Sub
	OpF32Mul
	OpF32Div
	OpF32Min
	OpF32Max
	OpF32Copysign
	OpF64Abs
	OpF64Neg
	OpF64Ceil
	OpF64Floor
	OpF64Trunc
	OpF64Nearest
	OpF64Sqrt
	OpF64Add
	OpF64Sub
	OpF64Mul
	OpF64Div
	OpF64Min
	OpF64Max
	OpF64Copysign
	OpI32WrapI64
	OpI32TruncF32S
	OpI32TruncF32U
	OpI32TruncF64S
	OpI32TruncF64U
	OpI64ExtendI32S
	OpI64ExtendI32U
	OpI64TruncF32S
	OpI64TruncF32U
	OpI64TruncF64S
	OpI64TruncF64U
	OpF32ConvertI32S
	OpF32ConvertI32U
	OpF32ConvertI64S
	OpF32ConvertI64U
	OpF32DemoteF64
	OpF64ConvertI32S
	OpF64ConvertI32U
	OpF64ConvertI64S
	OpF64ConvertI64U
	OpF64PromoteF32
	OpI32ReinterpretF32
	OpI64ReinterpretF64
	OpF32ReinterpretI32
	OpF64ReinterpretI64
	OpI32Extend8S
	OpI32Extend16S
	OpI64Extend8S
	OpI64Extend16S
	OpI64Extend32S
	OpI32TruncSatF32S
	OpI32TruncSatF32U
	OpI32TruncSatF64S
	OpI32TruncSatF64U
	OpI64TruncSatF32S
	OpI64TruncSatF32U
	OpI64TruncSatF64S
	OpI64TruncSatF64U
	OpRefNull
	OpRefIsNull
	OpRefFunc
	OpRefAsNonNull
	OpRefEq
	OpRefTest
	OpRefTestNull
	OpRefCast
	OpRefCastNull
	OpRefI31
	OpI31GetS
	OpI31GetU
	OpStructNew
	OpStructNewDefault
	OpStructGet
	OpStructGetS
	OpStructGetU
	OpStructSet
	OpArrayNew
	OpArrayNewDefault
	OpArrayGet
	OpArrayGetS
	OpArrayGetU
	OpArraySet
	OpArrayLen
	OpMemoryAtomicNotify
	OpMemoryAtomicWait32
	OpMemoryAtomicWait64
	OpAtomicFence
	OpI32AtomicLoad
	OpI64AtomicLoad
	OpI32AtomicLoad8U
	OpI32AtomicLoad16U
	OpI64AtomicLoad8U
	OpI64AtomicLoad16U
	OpI64AtomicLoad32U
	OpI32AtomicStore
	OpI64AtomicStore
	OpI32AtomicStore8
	OpI32AtomicStore16
	OpI64AtomicStore8
	OpI64AtomicStore16
	OpI64AtomicStore32
	OpI32AtomicRmwAdd
	OpI64AtomicRmwAdd
	OpI32AtomicRmw8AddU
	OpI32AtomicRmw16AddU
	OpI64AtomicRmw8AddU
	OpI64AtomicRmw16AddU
	OpI64AtomicRmw32AddU
	OpI32AtomicRmwSub
	OpI64AtomicRmwSub
	OpI32AtomicRmw8SubU
	OpI32AtomicRmw16SubU
	OpI64AtomicRmw8SubU
	OpI64AtomicRmw16SubU
	OpI64AtomicRmw32SubU
	OpI32AtomicRmwAnd
	OpI64AtomicRmwAnd
	OpI32AtomicRmw8AndU
	OpI32AtomicRmw16AndU
	OpI64AtomicRmw8AndU
	OpI64AtomicRmw16AndU
	OpI64AtomicRmw32AndU
	OpI32AtomicRmwOr
	OpI64AtomicRmwOr
	OpI32AtomicRmw8OrU
	OpI32AtomicRmw16OrU
	OpI64AtomicRmw8OrU
	OpI64AtomicRmw16OrU
	OpI64AtomicRmw32OrU
	OpI32AtomicRmwXor
	OpI64AtomicRmwXor
	OpI32AtomicRmw8XorU
	OpI32AtomicRmw16XorU
	OpI64AtomicRmw8XorU
	OpI64AtomicRmw16XorU
	OpI64AtomicRmw32XorU
	OpI32AtomicRmwXchg
	OpI64AtomicRmwXchg
	OpI32AtomicRmw8XchgU
	OpI32AtomicRmw16XchgU
	OpI64AtomicRmw8XchgU
	OpI64AtomicRmw16XchgU
	OpI64AtomicRmw32XchgU
	OpI32AtomicRmwCmpxchg
	OpI64AtomicRmwCmpxchg
	OpI32AtomicRmw8CmpxchgU
	OpI32AtomicRmw16CmpxchgU
	OpI64AtomicRmw8CmpxchgU
	OpI64AtomicRmw16CmpxchgU
	OpI64AtomicRmw32CmpxchgU
	OpI8x16Splat
	OpI16x8Splat
	OpI32x4Splat
	OpI64x2Splat
	OpF32x4Splat
	OpF64x2Splat
	OpI8x16ExtractLaneS
	OpI8x16ExtractLaneU
	OpI16x8ExtractLaneS
	OpI16x8ExtractLaneU
	OpI32x4ExtractLane
	OpI64x2ExtractLane
	OpF32x4ExtractLane
	OpF64x2ExtractLane
	OpI8x16ReplaceLane
	OpI16x8ReplaceLane
	OpI32x4ReplaceLane
	OpI64x2ReplaceLane
	OpF32x4ReplaceLane
	OpF64x2ReplaceLane
	OpV128Not
	OpV128AnyTrue
	OpI8x16Neg
	OpI16x8Neg
	OpI32x4Neg
	OpI64x2Neg
	OpF32x4Neg
	OpF64x2Neg
	OpV128And
	OpV128Or
	OpV128Xor
	OpV128AndNot
	OpI8x16Swizzle
	OpI8x16Add
	OpI16x8Add
	OpI32x4Add
	OpI64x2Add
	OpF32x4Add
	OpF64x2Add
	OpI8x16Sub
	OpI16x8Sub
	OpI32x4Sub
	OpI64x2Sub
	OpF32x4Sub
	OpF64x2Sub
	OpI16x8Mul
	OpI32x4Mul
	OpI64x2Mul
	OpF32x4Mul
	OpF64x2Mul
	OpI8x16Eq
	OpI16x8Eq
	OpI32x4Eq
	OpI64x2Eq
	OpF32x4Eq
	OpF64x2Eq
	opCodeCount
)

// ImmKind 立即数种类
type ImmKind uint8

const (
	ImmNone     ImmKind = iota
	ImmBlock            // 块类型
	ImmIndex            // 单个索引（局部、全局、函数、标签深度、表、段、类型）
	ImmTwoIndex         // 两个索引（类型+表、类型+字段、目标表+源表、段+表）
	ImmI32
	ImmI64
	ImmF32
	ImmF64
	ImmV128
	ImmMem      // 对齐与偏移
	ImmLane     // 通道号
	ImmBrTable  // 目标列表与默认目标
	ImmHeapType // 堆类型
	ImmBrCast   // 标签深度与目标引用类型
)

// OpClass 指令类别，决定操作数栈的形状
type OpClass uint8

const (
	ClassSpecial       OpClass = iota // 逐条处理
	ClassConst                        // 无操作数，一个结果
	ClassUnary                        // 一个操作数，一个结果
	ClassBinary                       // 两个操作数，一个结果
	ClassLoad                         // 地址 -> 值
	ClassStore                        // 地址, 值 -> 无
	ClassAtomicLoad                   // 地址 -> 值
	ClassAtomicStore                  // 地址, 值 -> 无
	ClassAtomicRMW                    // 地址, 值 -> 旧值
	ClassAtomicCmpxchg                // 地址, 期望值, 新值 -> 旧值
	ClassExtractLane                  // 向量 -> 标量
	ClassReplaceLane                  // 向量, 标量 -> 向量
)

// OpInfo 操作码的静态描述
type OpInfo struct {
	Name  string
	Imm   ImmKind
	Class OpClass
	In    wasm.TypeKind // 主操作数类型（访存指令为值类型）
	Out   wasm.TypeKind // 结果类型
	Size  uint32        // 访存宽度（字节）
}

var opInfos = [opCodeCount]OpInfo{
	OpUnreachable:            {"unreachable", ImmNone, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpNop:                    {"nop", ImmNone, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpBlock:                  {"block", ImmBlock, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpLoop:                   {"loop", ImmBlock, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpIf:                     {"if", ImmBlock, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpElse:                   {"else", ImmNone, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpTry:                    {"try", ImmBlock, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpCatch:                  {"catch", ImmIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpCatchAll:               {"catch_all", ImmNone, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpDelegate:               {"delegate", ImmIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpThrow:                  {"throw", ImmIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpRethrow:                {"rethrow", ImmIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpEnd:                    {"end", ImmNone, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpBr:                     {"br", ImmIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpBrIf:                   {"br_if", ImmIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpBrTable:                {"br_table", ImmBrTable, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpReturn:                 {"return", ImmNone, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpCall:                   {"call", ImmIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpCallIndirect:           {"call_indirect", ImmTwoIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpCallRef:                {"call_ref", ImmIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpReturnCall:             {"return_call", ImmIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpReturnCallIndirect:     {"return_call_indirect", ImmTwoIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpReturnCallRef:          {"return_call_ref", ImmIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpBrOnNull:               {"br_on_null", ImmIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpBrOnNonNull:            {"br_on_non_null", ImmIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpBrOnCast:               {"br_on_cast", ImmBrCast, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpBrOnCastFail:           {"br_on_cast_fail", ImmBrCast, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpDrop:                   {"drop", ImmNone, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpSelect:                 {"select", ImmNone, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpLocalGet:               {"local.get", ImmIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpLocalSet:               {"local.set", ImmIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpLocalTee:               {"local.tee", ImmIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpGlobalGet:              {"global.get", ImmIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpGlobalSet:              {"global.set", ImmIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpTableGet:               {"table.get", ImmIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpTableSet:               {"table.set", ImmIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpTableSize:              {"table.size", ImmIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpTableGrow:              {"table.grow", ImmIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpTableFill:              {"table.fill", ImmIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpTableCopy:              {"table.copy", ImmTwoIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpTableInit:              {"table.init", ImmTwoIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpElemDrop:               {"elem.drop", ImmIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpMemorySize:             {"memory.size", ImmNone, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpMemoryGrow:             {"memory.grow", ImmNone, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpMemoryFill:             {"memory.fill", ImmNone, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpMemoryCopy:             {"memory.copy", ImmNone, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpMemoryInit:             {"memory.init", ImmIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpDataDrop:               {"data.drop", ImmIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpI32Const:               {"i32.const", ImmI32, ClassConst, wasm.KindVoid, wasm.KindI32, 0},
	OpI64Const:               {"i64.const", ImmI64, ClassConst, wasm.KindVoid, wasm.KindI64, 0},
	OpF32Const:               {"f32.const", ImmF32, ClassConst, wasm.KindVoid, wasm.KindF32, 0},
	OpF64Const:               {"f64.const", ImmF64, ClassConst, wasm.KindVoid, wasm.KindF64, 0},
	OpV128Const:              {"v128.const", ImmV128, ClassConst, wasm.KindVoid, wasm.KindV128, 0},
	OpI32Load:                {"i32.load", ImmMem, ClassLoad, wasm.KindI32, wasm.KindI32, 4},
	OpI64Load:                {"i64.load", ImmMem, ClassLoad, wasm.KindI32, wasm.KindI64, 8},
	OpF32Load:                {"f32.load", ImmMem, ClassLoad, wasm.KindI32, wasm.KindF32, 4},
	OpF64Load:                {"f64.load", ImmMem, ClassLoad, wasm.KindI32, wasm.KindF64, 8},
	OpI32Load8S:              {"i32.load8_s", ImmMem, ClassLoad, wasm.KindI32, wasm.KindI32, 1},
	OpI32Load8U:              {"i32.load8_u", ImmMem, ClassLoad, wasm.KindI32, wasm.KindI32, 1},
	OpI32Load16S:             {"i32.load16_s", ImmMem, ClassLoad, wasm.KindI32, wasm.KindI32, 2},
	OpI32Load16U:             {"i32.load16_u", ImmMem, ClassLoad, wasm.KindI32, wasm.KindI32, 2},
	OpI64Load8S:              {"i64.load8_s", ImmMem, ClassLoad, wasm.KindI32, wasm.KindI64, 1},
	OpI64Load8U:              {"i64.load8_u", ImmMem, ClassLoad, wasm.KindI32, wasm.KindI64, 1},
	OpI64Load16S:             {"i64.load16_s", ImmMem, ClassLoad, wasm.KindI32, wasm.KindI64, 2},
	OpI64Load16U:             {"i64.load16_u", ImmMem, ClassLoad, wasm.KindI32, wasm.KindI64, 2},
	OpI64Load32S:             {"i64.load32_s", ImmMem, ClassLoad, wasm.KindI32, wasm.KindI64, 4},
	OpI64Load32U:             {"i64.load32_u", ImmMem, ClassLoad, wasm.KindI32, wasm.KindI64, 4},
	OpV128Load:               {"v128.load", ImmMem, ClassLoad, wasm.KindI32, wasm.KindV128, 16},
	OpV128Load8Splat:         {"v128.load8_splat", ImmMem, ClassLoad, wasm.KindI32, wasm.KindV128, 1},
	OpV128Load16Splat:        {"v128.load16_splat", ImmMem, ClassLoad, wasm.KindI32, wasm.KindV128, 2},
	OpV128Load32Splat:        {"v128.load32_splat", ImmMem, ClassLoad, wasm.KindI32, wasm.KindV128, 4},
	OpV128Load64Splat:        {"v128.load64_splat", ImmMem, ClassLoad, wasm.KindI32, wasm.KindV128, 8},
	OpI32Store:               {"i32.store", ImmMem, ClassStore, wasm.KindI32, wasm.KindVoid, 4},
	OpI64Store:               {"i64.store", ImmMem, ClassStore, wasm.KindI64, wasm.KindVoid, 8},
	OpF32Store:               {"f32.store", ImmMem, ClassStore, wasm.KindF32, wasm.KindVoid, 4},
	OpF64Store:               {"f64.store", ImmMem, ClassStore, wasm.KindF64, wasm.KindVoid, 8},
	OpI32Store8:              {"i32.store8", ImmMem, ClassStore, wasm.KindI32, wasm.KindVoid, 1},
	OpI32Store16:             {"i32.store16", ImmMem, ClassStore, wasm.KindI32, wasm.KindVoid, 2},
	OpI64Store8:              {"i64.store8", ImmMem, ClassStore, wasm.KindI64, wasm.KindVoid, 1},
	OpI64Store16:             {"i64.store16", ImmMem, ClassStore, wasm.KindI64, wasm.KindVoid, 2},
	OpI64Store32:             {"i64.store32", ImmMem, ClassStore, wasm.KindI64, wasm.KindVoid, 4},
	OpV128Store:              {"v128.store", ImmMem, ClassStore, wasm.KindV128, wasm.KindVoid, 16},
	OpI32Eqz:                 {"i32.eqz", ImmNone, ClassUnary, wasm.KindI32, wasm.KindI32, 0},
	OpI32Eq:                  {"i32.eq", ImmNone, ClassBinary, wasm.KindI32, wasm.KindI32, 0},
	OpI32Ne:                  {"i32.ne", ImmNone, ClassBinary, wasm.KindI32, wasm.KindI32, 0},
	OpI32LtS:                 {"i32.lt_s", ImmNone, ClassBinary, wasm.KindI32, wasm.KindI32, 0},
	OpI32LtU:                 {"i32.lt_u", ImmNone, ClassBinary, wasm.KindI32, wasm.KindI32, 0},
	OpI32GtS:                 {"i32.gt_s", ImmNone, ClassBinary, wasm.KindI32, wasm.KindI32, 0},
	OpI32GtU:                 {"i32.gt_u", ImmNone, ClassBinary, wasm.KindI32, wasm.KindI32, 0},
	OpI32LeS:                 {"i32.le_s", ImmNone, ClassBinary, wasm.KindI32, wasm.KindI32, 0},
	OpI32LeU:                 {"i32.le_u", ImmNone, ClassBinary, wasm.KindI32, wasm.KindI32, 0},
	OpI32GeS:                 {"i32.ge_s", ImmNone, ClassBinary, wasm.KindI32, wasm.KindI32, 0},
	OpI32GeU:                 {"i32.ge_u", ImmNone, ClassBinary, wasm.KindI32, wasm.KindI32, 0},
	OpI64Eqz:                 {"i64.eqz", ImmNone, ClassUnary, wasm.KindI64, wasm.KindI32, 0},
	OpI64Eq:                  {"i64.eq", ImmNone, ClassBinary, wasm.KindI64, wasm.KindI32, 0},
	OpI64Ne:                  {"i64.ne", ImmNone, ClassBinary, wasm.KindI64, wasm.KindI32, 0},
	OpI64LtS:                 {"i64.lt_s", ImmNone, ClassBinary, wasm.KindI64, wasm.KindI32, 0},
	OpI64LtU:                 {"i64.lt_u", ImmNone, ClassBinary, wasm.KindI64, wasm.KindI32, 0},
	OpI64GtS:                 {"i64.gt_s", ImmNone, ClassBinary, wasm.KindI64, wasm.KindI32, 0},
	OpI64GtU:                 {"i64.gt_u", ImmNone, ClassBinary, wasm.KindI64, wasm.KindI32, 0},
	OpI64LeS:                 {"i64.le_s", ImmNone, ClassBinary, wasm.KindI64, wasm.KindI32, 0},
	OpI64LeU:                 {"i64.le_u", ImmNone, ClassBinary, wasm.KindI64, wasm.KindI32, 0},
	OpI64GeS:                 {"i64.ge_s", ImmNone, ClassBinary, wasm.KindI64, wasm.KindI32, 0},
	OpI64GeU:                 {"i64.ge_u", ImmNone, ClassBinary, wasm.KindI64, wasm.KindI32, 0},
	OpF32Eq:                  {"f32.eq", ImmNone, ClassBinary, wasm.KindF32, wasm.KindI32, 0},
	OpF32Ne:                  {"f32.ne", ImmNone, ClassBinary, wasm.KindF32, wasm.KindI32, 0},
	OpF32Lt:                  {"f32.lt", ImmNone, ClassBinary, wasm.KindF32, wasm.KindI32, 0},
	OpF32Gt:                  {"f32.gt", ImmNone, ClassBinary, wasm.KindF32, wasm.KindI32, 0},
	OpF32Le:                  {"f32.le", ImmNone, ClassBinary, wasm.KindF32, wasm.KindI32, 0},
	OpF32Ge:                  {"f32.ge", ImmNone, ClassBinary, wasm.KindF32, wasm.KindI32, 0},
	OpF64Eq:                  {"f64.eq", ImmNone, ClassBinary, wasm.KindF64, wasm.KindI32, 0},
	OpF64Ne:                  {"f64.ne", ImmNone, ClassBinary, wasm.KindF64, wasm.KindI32, 0},
	OpF64Lt:                  {"f64.lt", ImmNone, ClassBinary, wasm.KindF64, wasm.KindI32, 0},
	OpF64Gt:                  {"f64.gt", ImmNone, ClassBinary, wasm.KindF64, wasm.KindI32, 0},
	OpF64Le:                  {"f64.le", ImmNone, ClassBinary, wasm.KindF64, wasm.KindI32, 0},
	OpF64Ge:                  {"f64.ge", ImmNone, ClassBinary, wasm.KindF64, wasm.KindI32, 0},
	OpI32Clz:                 {"i32.clz", ImmNone, ClassUnary, wasm.KindI32, wasm.KindI32, 0},
	OpI32Ctz:                 {"i32.ctz", ImmNone, ClassUnary, wasm.KindI32, wasm.KindI32, 0},
	OpI32Popcnt:              {"i32.popcnt", ImmNone, ClassUnary, wasm.KindI32, wasm.KindI32, 0},
	OpI32Add:                 {"i32.add", ImmNone, ClassBinary, wasm.KindI32, wasm.KindI32, 0},
	OpI32Sub:                 {"i32.sub", ImmNone, ClassBinary, wasm.KindI32, wasm.KindI32, 0},
	OpI32Mul:                 {"i32.mul", ImmNone, ClassBinary, wasm.KindI32, wasm.KindI32, 0},
	OpI32DivS:                {"i32.div_s", ImmNone, ClassBinary, wasm.KindI32, wasm.KindI32, 0},
	OpI32DivU:                {"i32.div_u", ImmNone, ClassBinary, wasm.KindI32, wasm.KindI32, 0},
	OpI32RemS:                {"i32.rem_s", ImmNone, ClassBinary, wasm.KindI32, wasm.KindI32, 0},
	OpI32RemU:                {"i32.rem_u", ImmNone, ClassBinary, wasm.KindI32, wasm.KindI32, 0},
	OpI32And:                 {"i32.and", ImmNone, ClassBinary, wasm.KindI32, wasm.KindI32, 0},
	OpI32Or:                  {"i32.or", ImmNone, ClassBinary, wasm.KindI32, wasm.KindI32, 0},
	OpI32Xor:                 {"i32.xor", ImmNone, ClassBinary, wasm.KindI32, wasm.KindI32, 0},
	OpI32Shl:                 {"i32.shl", ImmNone, ClassBinary, wasm.KindI32, wasm.KindI32, 0},
	OpI32ShrS:                {"i32.shr_s", ImmNone, ClassBinary, wasm.KindI32, wasm.KindI32, 0},
	OpI32ShrU:                {"i32.shr_u", ImmNone, ClassBinary, wasm.KindI32, wasm.KindI32, 0},
	OpI32Rotl:                {"i32.rotl", ImmNone, ClassBinary, wasm.KindI32, wasm.KindI32, 0},
	OpI32Rotr:                {"i32.rotr", ImmNone, ClassBinary, wasm.KindI32, wasm.KindI32, 0},
	OpI64Clz:                 {"i64.clz", ImmNone, ClassUnary, wasm.KindI64, wasm.KindI64, 0},
	OpI64Ctz:                 {"i64.ctz", ImmNone, ClassUnary, wasm.KindI64, wasm.KindI64, 0},
	OpI64Popcnt:              {"i64.popcnt", ImmNone, ClassUnary, wasm.KindI64, wasm.KindI64, 0},
	OpI64Add:                 {"i64.add", ImmNone, ClassBinary, wasm.KindI64, wasm.KindI64, 0},
	OpI64Sub:                 {"i64.sub", ImmNone, ClassBinary, wasm.KindI64, wasm.KindI64, 0},
	OpI64Mul:                 {"i64.mul", ImmNone, ClassBinary, wasm.KindI64, wasm.KindI64, 0},
	OpI64DivS:                {"i64.div_s", ImmNone, ClassBinary, wasm.KindI64, wasm.KindI64, 0},
	OpI64DivU:                {"i64.div_u", ImmNone, ClassBinary, wasm.KindI64, wasm.KindI64, 0},
	OpI64RemS:                {"i64.rem_s", ImmNone, ClassBinary, wasm.KindI64, wasm.KindI64, 0},
	OpI64RemU:                {"i64.rem_u", ImmNone, ClassBinary, wasm.KindI64, wasm.KindI64, 0},
	OpI64And:                 {"i64.and", ImmNone, ClassBinary, wasm.KindI64, wasm.KindI64, 0},
	OpI64Or:                  {"i64.or", ImmNone, ClassBinary, wasm.KindI64, wasm.KindI64, 0},
	OpI64Xor:                 {"i64.xor", ImmNone, ClassBinary, wasm.KindI64, wasm.KindI64, 0},
	OpI64Shl:                 {"i64.shl", ImmNone, ClassBinary, wasm.KindI64, wasm.KindI64, 0},
	OpI64ShrS:                {"i64.shr_s", ImmNone, ClassBinary, wasm.KindI64, wasm.KindI64, 0},
	OpI64ShrU:                {"i64.shr_u", ImmNone, ClassBinary, wasm.KindI64, wasm.KindI64, 0},
	OpI64Rotl:                {"i64.rotl", ImmNone, ClassBinary, wasm.KindI64, wasm.KindI64, 0},
	OpI64Rotr:                {"i64.rotr", ImmNone, ClassBinary, wasm.KindI64, wasm.KindI64, 0},
	OpF32Abs:                 {"f32.abs", ImmNone, ClassUnary, wasm.KindF32, wasm.KindF32, 0},
	OpF32Neg:                 {"f32.neg", ImmNone, ClassUnary, wasm.KindF32, wasm.KindF32, 0},
	OpF32Ceil:                {"f32.ceil", ImmNone, ClassUnary, wasm.KindF32, wasm.KindF32, 0},
	OpF32Floor:               {"f32.floor", ImmNone, ClassUnary, wasm.KindF32, wasm.KindF32, 0},
	OpF32Trunc:               {"f32.trunc", ImmNone, ClassUnary, wasm.KindF32, wasm.KindF32, 0},
	OpF32Nearest:             {"f32.nearest", ImmNone, ClassUnary, wasm.KindF32, wasm.KindF32, 0},
	OpF32Sqrt:                {"f32.sqrt", ImmNone, ClassUnary, wasm.KindF32, wasm.KindF32, 0},
	OpF32Add:                 {"f32.add", ImmNone, ClassBinary, wasm.KindF32, wasm.KindF32, 0},
	OpF32Sub:                 {"f32.sub", ImmNone, ClassBinary, wasm.KindF32, wasm.KindF32, 0},
	OpF32Mul:                 {"f32.mul", ImmNone, ClassBinary, wasm.KindF32, wasm.KindF32, 0},
	OpF32Div:                 {"f32.div", ImmNone, ClassBinary, wasm.KindF32, wasm.KindF32, 0},
	OpF32Min:                 {"f32.min", ImmNone, ClassBinary, wasm.KindF32, wasm.KindF32, 0},
	OpF32Max:                 {"f32.max", ImmNone, ClassBinary, wasm.KindF32, wasm.KindF32, 0},
	OpF32Copysign:            {"f32.copysign", ImmNone, ClassBinary, wasm.KindF32, wasm.KindF32, 0},
	OpF64Abs:                 {"f64.abs", ImmNone, ClassUnary, wasm.KindF64, wasm.KindF64, 0},
	OpF64Neg:                 {"f64.neg", ImmNone, ClassUnary, wasm.KindF64, wasm.KindF64, 0},
	OpF64Ceil:                {"f64.ceil", ImmNone, ClassUnary, wasm.KindF64, wasm.KindF64, 0},
	OpF64Floor:               {"f64.floor", ImmNone, ClassUnary, wasm.KindF64, wasm.KindF64, 0},
	OpF64Trunc:               {"f64.trunc", ImmNone, ClassUnary, wasm.KindF64, wasm.KindF64, 0},
	OpF64Nearest:             {"f64.nearest", ImmNone, ClassUnary, wasm.KindF64, wasm.KindF64, 0},
	OpF64Sqrt:                {"f64.sqrt", ImmNone, ClassUnary, wasm.KindF64, wasm.KindF64, 0},
	OpF64Add:                 {"f64.add", ImmNone, ClassBinary, wasm.KindF64, wasm.KindF64, 0},
	OpF64Sub:                 {"f64.sub", ImmNone, ClassBinary, wasm.KindF64, wasm.KindF64, 0},
	OpF64Mul:                 {"f64.mul", ImmNone, ClassBinary, wasm.KindF64, wasm.KindF64, 0},
	OpF64Div:                 {"f64.div", ImmNone, ClassBinary, wasm.KindF64, wasm.KindF64, 0},
	OpF64Min:                 {"f64.min", ImmNone, ClassBinary, wasm.KindF64, wasm.KindF64, 0},
	OpF64Max:                 {"f64.max", ImmNone, ClassBinary, wasm.KindF64, wasm.KindF64, 0},
	OpF64Copysign:            {"f64.copysign", ImmNone, ClassBinary, wasm.KindF64, wasm.KindF64, 0},
	OpI32WrapI64:             {"i32.wrap_i64", ImmNone, ClassUnary, wasm.KindI64, wasm.KindI32, 0},
	OpI32TruncF32S:           {"i32.trunc_f32_s", ImmNone, ClassUnary, wasm.KindF32, wasm.KindI32, 0},
	OpI32TruncF32U:           {"i32.trunc_f32_u", ImmNone, ClassUnary, wasm.KindF32, wasm.KindI32, 0},
	OpI32TruncF64S:           {"i32.trunc_f64_s", ImmNone, ClassUnary, wasm.KindF64, wasm.KindI32, 0},
	OpI32TruncF64U:           {"i32.trunc_f64_u", ImmNone, ClassUnary, wasm.KindF64, wasm.KindI32, 0},
	OpI64ExtendI32S:          {"i64.extend_i32_s", ImmNone, ClassUnary, wasm.KindI32, wasm.KindI64, 0},
	OpI64ExtendI32U:          {"i64.extend_i32_u", ImmNone, ClassUnary, wasm.KindI32, wasm.KindI64, 0},
	OpI64TruncF32S:           {"i64.trunc_f32_s", ImmNone, ClassUnary, wasm.KindF32, wasm.KindI64, 0},
	OpI64TruncF32U:           {"i64.trunc_f32_u", ImmNone, ClassUnary, wasm.KindF32, wasm.KindI64, 0},
	OpI64TruncF64S:           {"i64.trunc_f64_s", ImmNone, ClassUnary, wasm.KindF64, wasm.KindI64, 0},
	OpI64TruncF64U:           {"i64.trunc_f64_u", ImmNone, ClassUnary, wasm.KindF64, wasm.KindI64, 0},
	OpF32ConvertI32S:         {"f32.convert_i32_s", ImmNone, ClassUnary, wasm.KindI32, wasm.KindF32, 0},
	OpF32ConvertI32U:         {"f32.convert_i32_u", ImmNone, ClassUnary, wasm.KindI32, wasm.KindF32, 0},
	OpF32ConvertI64S:         {"f32.convert_i64_s", ImmNone, ClassUnary, wasm.KindI64, wasm.KindF32, 0},
	OpF32ConvertI64U:         {"f32.convert_i64_u", ImmNone, ClassUnary, wasm.KindI64, wasm.KindF32, 0},
	OpF32DemoteF64:           {"f32.demote_f64", ImmNone, ClassUnary, wasm.KindF64, wasm.KindF32, 0},
	OpF64ConvertI32S:         {"f64.convert_i32_s", ImmNone, ClassUnary, wasm.KindI32, wasm.KindF64, 0},
	OpF64ConvertI32U:         {"f64.convert_i32_u", ImmNone, ClassUnary, wasm.KindI32, wasm.KindF64, 0},
	OpF64ConvertI64S:         {"f64.convert_i64_s", ImmNone, ClassUnary, wasm.KindI64, wasm.KindF64, 0},
	OpF64ConvertI64U:         {"f64.convert_i64_u", ImmNone, ClassUnary, wasm.KindI64, wasm.KindF64, 0},
	OpF64PromoteF32:          {"f64.promote_f32", ImmNone, ClassUnary, wasm.KindF32, wasm.KindF64, 0},
	OpI32ReinterpretF32:      {"i32.reinterpret_f32", ImmNone, ClassUnary, wasm.KindF32, wasm.KindI32, 0},
	OpI64ReinterpretF64:      {"i64.reinterpret_f64", ImmNone, ClassUnary, wasm.KindF64, wasm.KindI64, 0},
	OpF32ReinterpretI32:      {"f32.reinterpret_i32", ImmNone, ClassUnary, wasm.KindI32, wasm.KindF32, 0},
	OpF64ReinterpretI64:      {"f64.reinterpret_i64", ImmNone, ClassUnary, wasm.KindI64, wasm.KindF64, 0},
	OpI32Extend8S:            {"i32.extend8_s", ImmNone, ClassUnary, wasm.KindI32, wasm.KindI32, 0},
	OpI32Extend16S:           {"i32.extend16_s", ImmNone, ClassUnary, wasm.KindI32, wasm.KindI32, 0},
	OpI64Extend8S:            {"i64.extend8_s", ImmNone, ClassUnary, wasm.KindI64, wasm.KindI64, 0},
	OpI64Extend16S:           {"i64.extend16_s", ImmNone, ClassUnary, wasm.KindI64, wasm.KindI64, 0},
	OpI64Extend32S:           {"i64.extend32_s", ImmNone, ClassUnary, wasm.KindI64, wasm.KindI64, 0},
	OpI32TruncSatF32S:        {"i32.trunc_sat_f32_s", ImmNone, ClassUnary, wasm.KindF32, wasm.KindI32, 0},
	OpI32TruncSatF32U:        {"i32.trunc_sat_f32_u", ImmNone, ClassUnary, wasm.KindF32, wasm.KindI32, 0},
	OpI32TruncSatF64S:        {"i32.trunc_sat_f64_s", ImmNone, ClassUnary, wasm.KindF64, wasm.KindI32, 0},
	OpI32TruncSatF64U:        {"i32.trunc_sat_f64_u", ImmNone, ClassUnary, wasm.KindF64, wasm.KindI32, 0},
	OpI64TruncSatF32S:        {"i64.trunc_sat_f32_s", ImmNone, ClassUnary, wasm.KindF32, wasm.KindI64, 0},
	OpI64TruncSatF32U:        {"i64.trunc_sat_f32_u", ImmNone, ClassUnary, wasm.KindF32, wasm.KindI64, 0},
	OpI64TruncSatF64S:        {"i64.trunc_sat_f64_s", ImmNone, ClassUnary, wasm.KindF64, wasm.KindI64, 0},
	OpI64TruncSatF64U:        {"i64.trunc_sat_f64_u", ImmNone, ClassUnary, wasm.KindF64, wasm.KindI64, 0},
	OpRefNull:                {"ref.null", ImmHeapType, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpRefIsNull:              {"ref.is_null", ImmNone, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpRefFunc:                {"ref.func", ImmIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpRefAsNonNull:           {"ref.as_non_null", ImmNone, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpRefEq:                  {"ref.eq", ImmNone, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpRefTest:                {"ref.test", ImmHeapType, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpRefTestNull:            {"ref.test_null", ImmHeapType, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpRefCast:                {"ref.cast", ImmHeapType, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpRefCastNull:            {"ref.cast_null", ImmHeapType, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpRefI31:                 {"ref.i31", ImmNone, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpI31GetS:                {"i31.get_s", ImmNone, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpI31GetU:                {"i31.get_u", ImmNone, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpStructNew:              {"struct.new", ImmIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpStructNewDefault:       {"struct.new_default", ImmIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpStructGet:              {"struct.get", ImmTwoIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpStructGetS:             {"struct.get_s", ImmTwoIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpStructGetU:             {"struct.get_u", ImmTwoIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpStructSet:              {"struct.set", ImmTwoIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpArrayNew:               {"array.new", ImmIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpArrayNewDefault:        {"array.new_default", ImmIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpArrayGet:               {"array.get", ImmIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpArrayGetS:              {"array.get_s", ImmIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpArrayGetU:              {"array.get_u", ImmIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpArraySet:               {"array.set", ImmIndex, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpArrayLen:               {"array.len", ImmNone, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpMemoryAtomicNotify:     {"memory.atomic.notify", ImmMem, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 4},
	OpMemoryAtomicWait32:     {"memory.atomic.wait32", ImmMem, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 4},
	OpMemoryAtomicWait64:     {"memory.atomic.wait64", ImmMem, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 8},
	OpAtomicFence:            {"atomic.fence", ImmNone, ClassSpecial, wasm.KindVoid, wasm.KindVoid, 0},
	OpI32AtomicLoad:          {"i32.atomic.load", ImmMem, ClassAtomicLoad, wasm.KindI32, wasm.KindI32, 4},
	OpI64AtomicLoad:          {"i64.atomic.load", ImmMem, ClassAtomicLoad, wasm.KindI32, wasm.KindI64, 8},
	OpI32AtomicLoad8U:        {"i32.atomic.load8_u", ImmMem, ClassAtomicLoad, wasm.KindI32, wasm.KindI32, 1},
	OpI32AtomicLoad16U:       {"i32.atomic.load16_u", ImmMem, ClassAtomicLoad, wasm.KindI32, wasm.KindI32, 2},
	OpI64AtomicLoad8U:        {"i64.atomic.load8_u", ImmMem, ClassAtomicLoad, wasm.KindI32, wasm.KindI64, 1},
	OpI64AtomicLoad16U:       {"i64.atomic.load16_u", ImmMem, ClassAtomicLoad, wasm.KindI32, wasm.KindI64, 2},
	OpI64AtomicLoad32U:       {"i64.atomic.load32_u", ImmMem, ClassAtomicLoad, wasm.KindI32, wasm.KindI64, 4},
	OpI32AtomicStore:         {"i32.atomic.store", ImmMem, ClassAtomicStore, wasm.KindI32, wasm.KindVoid, 4},
	OpI64AtomicStore:         {"i64.atomic.store", ImmMem, ClassAtomicStore, wasm.KindI64, wasm.KindVoid, 8},
	OpI32AtomicStore8:        {"i32.atomic.store8", ImmMem, ClassAtomicStore, wasm.KindI32, wasm.KindVoid, 1},
	OpI32AtomicStore16:       {"i32.atomic.store16", ImmMem, ClassAtomicStore, wasm.KindI32, wasm.KindVoid, 2},
	OpI64AtomicStore8:        {"i64.atomic.store8", ImmMem, ClassAtomicStore, wasm.KindI64, wasm.KindVoid, 1},
	OpI64AtomicStore16:       {"i64.atomic.store16", ImmMem, ClassAtomicStore, wasm.KindI64, wasm.KindVoid, 2},
	OpI64AtomicStore32:       {"i64.atomic.store32", ImmMem, ClassAtomicStore, wasm.KindI64, wasm.KindVoid, 4},
	OpI32AtomicRmwAdd:        {"i32.atomic.rmw.add", ImmMem, ClassAtomicRMW, wasm.KindI32, wasm.KindI32, 4},
	OpI64AtomicRmwAdd:        {"i64.atomic.rmw.add", ImmMem, ClassAtomicRMW, wasm.KindI64, wasm.KindI64, 8},
	OpI32AtomicRmw8AddU:      {"i32.atomic.rmw8.add_u", ImmMem, ClassAtomicRMW, wasm.KindI32, wasm.KindI32, 1},
	OpI32AtomicRmw16AddU:     {"i32.atomic.rmw16.add_u", ImmMem, ClassAtomicRMW, wasm.KindI32, wasm.KindI32, 2},
	OpI64AtomicRmw8AddU:      {"i64.atomic.rmw8.add_u", ImmMem, ClassAtomicRMW, wasm.KindI64, wasm.KindI64, 1},
	OpI64AtomicRmw16AddU:     {"i64.atomic.rmw16.add_u", ImmMem, ClassAtomicRMW, wasm.KindI64, wasm.KindI64, 2},
	OpI64AtomicRmw32AddU:     {"i64.atomic.rmw32.add_u", ImmMem, ClassAtomicRMW, wasm.KindI64, wasm.KindI64, 4},
	OpI32AtomicRmwSub:        {"i32.atomic.rmw.sub", ImmMem, ClassAtomicRMW, wasm.KindI32, wasm.KindI32, 4},
	OpI64AtomicRmwSub:        {"i64.atomic.rmw.sub", ImmMem, ClassAtomicRMW, wasm.KindI64, wasm.KindI64, 8},
	OpI32AtomicRmw8SubU:      {"i32.atomic.rmw8.sub_u", ImmMem, ClassAtomicRMW, wasm.KindI32, wasm.KindI32, 1},
	OpI32AtomicRmw16SubU:     {"i32.atomic.rmw16.sub_u", ImmMem, ClassAtomicRMW, wasm.KindI32, wasm.KindI32, 2},
	OpI64AtomicRmw8SubU:      {"i64.atomic.rmw8.sub_u", ImmMem, ClassAtomicRMW, wasm.KindI64, wasm.KindI64, 1},
	OpI64AtomicRmw16SubU:     {"i64.atomic.rmw16.sub_u", ImmMem, ClassAtomicRMW, wasm.KindI64, wasm.KindI64, 2},
	OpI64AtomicRmw32SubU:     {"i64.atomic.rmw32.sub_u", ImmMem, ClassAtomicRMW, wasm.KindI64, wasm.KindI64, 4},
	OpI32AtomicRmwAnd:        {"i32.atomic.rmw.and", ImmMem, ClassAtomicRMW, wasm.KindI32, wasm.KindI32, 4},
	OpI64AtomicRmwAnd:        {"i64.atomic.rmw.and", ImmMem, ClassAtomicRMW, wasm.KindI64, wasm.KindI64, 8},
	OpI32AtomicRmw8AndU:      {"i32.atomic.rmw8.and_u", ImmMem, ClassAtomicRMW, wasm.KindI32, wasm.KindI32, 1},
	OpI32AtomicRmw16AndU:     {"i32.atomic.rmw16.and_u", ImmMem, ClassAtomicRMW, wasm.KindI32, wasm.KindI32, 2},
	OpI64AtomicRmw8AndU:      {"i64.atomic.rmw8.and_u", ImmMem, ClassAtomicRMW, wasm.KindI64, wasm.KindI64, 1},
	OpI64AtomicRmw16AndU:     {"i64.atomic.rmw16.and_u", ImmMem, ClassAtomicRMW, wasm.KindI64, wasm.KindI64, 2},
	OpI64AtomicRmw32AndU:     {"i64.atomic.rmw32.and_u", ImmMem, ClassAtomicRMW, wasm.KindI64, wasm.KindI64, 4},
	OpI32AtomicRmwOr:         {"i32.atomic.rmw.or", ImmMem, ClassAtomicRMW, wasm.KindI32, wasm.KindI32, 4},
	OpI64AtomicRmwOr:         {"i64.atomic.rmw.or", ImmMem, ClassAtomicRMW, wasm.KindI64, wasm.KindI64, 8},
	OpI32AtomicRmw8OrU:       {"i32.atomic.rmw8.or_u", ImmMem, ClassAtomicRMW, wasm.KindI32, wasm.KindI32, 1},
	OpI32AtomicRmw16OrU:      {"i32.atomic.rmw16.or_u", ImmMem, ClassAtomicRMW, wasm.KindI32, wasm.KindI32, 2},
	OpI64AtomicRmw8OrU:       {"i64.atomic.rmw8.or_u", ImmMem, ClassAtomicRMW, wasm.KindI64, wasm.KindI64, 1},
	OpI64AtomicRmw16OrU:      {"i64.atomic.rmw16.or_u", ImmMem, ClassAtomicRMW, wasm.KindI64, wasm.KindI64, 2},
	OpI64AtomicRmw32OrU:      {"i64.atomic.rmw32.or_u", ImmMem, ClassAtomicRMW, wasm.KindI64, wasm.KindI64, 4},
	OpI32AtomicRmwXor:        {"i32.atomic.rmw.xor", ImmMem, ClassAtomicRMW, wasm.KindI32, wasm.KindI32, 4},
	OpI64AtomicRmwXor:        {"i64.atomic.rmw.xor", ImmMem, ClassAtomicRMW, wasm.KindI64, wasm.KindI64, 8},
	OpI32AtomicRmw8XorU:      {"i32.atomic.rmw8.xor_u", ImmMem, ClassAtomicRMW, wasm.KindI32, wasm.KindI32, 1},
	OpI32AtomicRmw16XorU:     {"i32.atomic.rmw16.xor_u", ImmMem, ClassAtomicRMW, wasm.KindI32, wasm.KindI32, 2},
	OpI64AtomicRmw8XorU:      {"i64.atomic.rmw8.xor_u", ImmMem, ClassAtomicRMW, wasm.KindI64, wasm.KindI64, 1},
	OpI64AtomicRmw16XorU:     {"i64.atomic.rmw16.xor_u", ImmMem, ClassAtomicRMW, wasm.KindI64, wasm.KindI64, 2},
	OpI64AtomicRmw32XorU:     {"i64.atomic.rmw32.xor_u", ImmMem, ClassAtomicRMW, wasm.KindI64, wasm.KindI64, 4},
	OpI32AtomicRmwXchg:       {"i32.atomic.rmw.xchg", ImmMem, ClassAtomicRMW, wasm.KindI32, wasm.KindI32, 4},
	OpI64AtomicRmwXchg:       {"i64.atomic.rmw.xchg", ImmMem, ClassAtomicRMW, wasm.KindI64, wasm.KindI64, 8},
	OpI32AtomicRmw8XchgU:     {"i32.atomic.rmw8.xchg_u", ImmMem, ClassAtomicRMW, wasm.KindI32, wasm.KindI32, 1},
	OpI32AtomicRmw16XchgU:    {"i32.atomic.rmw16.xchg_u", ImmMem, ClassAtomicRMW, wasm.KindI32, wasm.KindI32, 2},
	OpI64AtomicRmw8XchgU:     {"i64.atomic.rmw8.xchg_u", ImmMem, ClassAtomicRMW, wasm.KindI64, wasm.KindI64, 1},
	OpI64AtomicRmw16XchgU:    {"i64.atomic.rmw16.xchg_u", ImmMem, ClassAtomicRMW, wasm.KindI64, wasm.KindI64, 2},
	OpI64AtomicRmw32XchgU:    {"i64.atomic.rmw32.xchg_u", ImmMem, ClassAtomicRMW, wasm.KindI64, wasm.KindI64, 4},
	OpI32AtomicRmwCmpxchg:    {"i32.atomic.rmw.cmpxchg", ImmMem, ClassAtomicCmpxchg, wasm.KindI32, wasm.KindI32, 4},
	OpI64AtomicRmwCmpxchg:    {"i64.atomic.rmw.cmpxchg", ImmMem, ClassAtomicCmpxchg, wasm.KindI64, wasm.KindI64, 8},
	OpI32AtomicRmw8CmpxchgU:  {"i32.atomic.rmw8.cmpxchg_u", ImmMem, ClassAtomicCmpxchg, wasm.KindI32, wasm.KindI32, 1},
	OpI32AtomicRmw16CmpxchgU: {"i32.atomic.rmw16.cmpxchg_u", ImmMem, ClassAtomicCmpxchg, wasm.KindI32, wasm.KindI32, 2},
	OpI64AtomicRmw8CmpxchgU:  {"i64.atomic.rmw8.cmpxchg_u", ImmMem, ClassAtomicCmpxchg, wasm.KindI64, wasm.KindI64, 1},
	OpI64AtomicRmw16CmpxchgU: {"i64.atomic.rmw16.cmpxchg_u", ImmMem, ClassAtomicCmpxchg, wasm.KindI64, wasm.KindI64, 2},
	OpI64AtomicRmw32CmpxchgU: {"i64.atomic.rmw32.cmpxchg_u", ImmMem, ClassAtomicCmpxchg, wasm.KindI64, wasm.KindI64, 4},
	OpI8x16Splat:             {"i8x16.splat", ImmNone, ClassUnary, wasm.KindI32, wasm.KindV128, 0},
	OpI16x8Splat:             {"i16x8.splat", ImmNone, ClassUnary, wasm.KindI32, wasm.KindV128, 0},
	OpI32x4Splat:             {"i32x4.splat", ImmNone, ClassUnary, wasm.KindI32, wasm.KindV128, 0},
	OpI64x2Splat:             {"i64x2.splat", ImmNone, ClassUnary, wasm.KindI64, wasm.KindV128, 0},
	OpF32x4Splat:             {"f32x4.splat", ImmNone, ClassUnary, wasm.KindF32, wasm.KindV128, 0},
	OpF64x2Splat:             {"f64x2.splat", ImmNone, ClassUnary, wasm.KindF64, wasm.KindV128, 0},
	OpI8x16ExtractLaneS:      {"i8x16.extract_lane_s", ImmLane, ClassExtractLane, wasm.KindV128, wasm.KindI32, 0},
	OpI8x16ExtractLaneU:      {"i8x16.extract_lane_u", ImmLane, ClassExtractLane, wasm.KindV128, wasm.KindI32, 0},
	OpI16x8ExtractLaneS:      {"i16x8.extract_lane_s", ImmLane, ClassExtractLane, wasm.KindV128, wasm.KindI32, 0},
	OpI16x8ExtractLaneU:      {"i16x8.extract_lane_u", ImmLane, ClassExtractLane, wasm.KindV128, wasm.KindI32, 0},
	OpI32x4ExtractLane:       {"i32x4.extract_lane", ImmLane, ClassExtractLane, wasm.KindV128, wasm.KindI32, 0},
	OpI64x2ExtractLane:       {"i64x2.extract_lane", ImmLane, ClassExtractLane, wasm.KindV128, wasm.KindI64, 0},
	OpF32x4ExtractLane:       {"f32x4.extract_lane", ImmLane, ClassExtractLane, wasm.KindV128, wasm.KindF32, 0},
	OpF64x2ExtractLane:       {"f64x2.extract_lane", ImmLane, ClassExtractLane, wasm.KindV128, wasm.KindF64, 0},
	OpI8x16ReplaceLane:       {"i8x16.replace_lane", ImmLane, ClassReplaceLane, wasm.KindI32, wasm.KindV128, 0},
	OpI16x8ReplaceLane:       {"i16x8.replace_lane", ImmLane, ClassReplaceLane, wasm.KindI32, wasm.KindV128, 0},
	OpI32x4ReplaceLane:       {"i32x4.replace_lane", ImmLane, ClassReplaceLane, wasm.KindI32, wasm.KindV128, 0},
	OpI64x2ReplaceLane:       {"i64x2.replace_lane", ImmLane, ClassReplaceLane, wasm.KindI64, wasm.KindV128, 0},
	OpF32x4ReplaceLane:       {"f32x4.replace_lane", ImmLane, ClassReplaceLane, wasm.KindF32, wasm.KindV128, 0},
	OpF64x2ReplaceLane:       {"f64x2.replace_lane", ImmLane, ClassReplaceLane, wasm.KindF64, wasm.KindV128, 0},
	OpV128Not:                {"v128.not", ImmNone, ClassUnary, wasm.KindV128, wasm.KindV128, 0},
	OpV128AnyTrue:            {"v128.any_true", ImmNone, ClassUnary, wasm.KindV128, wasm.KindI32, 0},
	OpI8x16Neg:               {"i8x16.neg", ImmNone, ClassUnary, wasm.KindV128, wasm.KindV128, 0},
	OpI16x8Neg:               {"i16x8.neg", ImmNone, ClassUnary, wasm.KindV128, wasm.KindV128, 0},
	OpI32x4Neg:               {"i32x4.neg", ImmNone, ClassUnary, wasm.KindV128, wasm.KindV128, 0},
	OpI64x2Neg:               {"i64x2.neg", ImmNone, ClassUnary, wasm.KindV128, wasm.KindV128, 0},
	OpF32x4Neg:               {"f32x4.neg", ImmNone, ClassUnary, wasm.KindV128, wasm.KindV128, 0},
	OpF64x2Neg:               {"f64x2.neg", ImmNone, ClassUnary, wasm.KindV128, wasm.KindV128, 0},
	OpV128And:                {"v128.and", ImmNone, ClassBinary, wasm.KindV128, wasm.KindV128, 0},
	OpV128Or:                 {"v128.or", ImmNone, ClassBinary, wasm.KindV128, wasm.KindV128, 0},
	OpV128Xor:                {"v128.xor", ImmNone, ClassBinary, wasm.KindV128, wasm.KindV128, 0},
	OpV128AndNot:             {"v128.andnot", ImmNone, ClassBinary, wasm.KindV128, wasm.KindV128, 0},
	OpI8x16Swizzle:           {"i8x16.swizzle", ImmNone, ClassBinary, wasm.KindV128, wasm.KindV128, 0},
	OpI8x16Add:               {"i8x16.add", ImmNone, ClassBinary, wasm.KindV128, wasm.KindV128, 0},
	OpI16x8Add:               {"i16x8.add", ImmNone, ClassBinary, wasm.KindV128, wasm.KindV128, 0},
	OpI32x4Add:               {"i32x4.add", ImmNone, ClassBinary, wasm.KindV128, wasm.KindV128, 0},
	OpI64x2Add:               {"i64x2.add", ImmNone, ClassBinary, wasm.KindV128, wasm.KindV128, 0},
	OpF32x4Add:               {"f32x4.add", ImmNone, ClassBinary, wasm.KindV128, wasm.KindV128, 0},
	OpF64x2Add:               {"f64x2.add", ImmNone, ClassBinary, wasm.KindV128, wasm.KindV128, 0},
	OpI8x16Sub:               {"i8x16.sub", ImmNone, ClassBinary, wasm.KindV128, wasm.KindV128, 0},
	OpI16x8Sub:               {"i16x8.sub", ImmNone, ClassBinary, wasm.KindV128, wasm.KindV128, 0},
	OpI32x4Sub:               {"i32x4.sub", ImmNone, ClassBinary, wasm.KindV128, wasm.KindV128, 0},
	OpI64x2Sub:               {"i64x2.sub", ImmNone, ClassBinary, wasm.KindV128, wasm.KindV128, 0},
	OpF32x4Sub:               {"f32x4.sub", ImmNone, ClassBinary, wasm.KindV128, wasm.KindV128, 0},
	OpF64x2Sub:               {"f64x2.sub", ImmNone, ClassBinary, wasm.KindV128, wasm.KindV128, 0},
	OpI16x8Mul:               {"i16x8.mul", ImmNone, ClassBinary, wasm.KindV128, wasm.KindV128, 0},
	OpI32x4Mul:               {"i32x4.mul", ImmNone, ClassBinary, wasm.KindV128, wasm.KindV128, 0},
	OpI64x2Mul:               {"i64x2.mul", ImmNone, ClassBinary, wasm.KindV128, wasm.KindV128, 0},
	OpF32x4Mul:               {"f32x4.mul", ImmNone, ClassBinary, wasm.KindV128, wasm.KindV128, 0},
	OpF64x2Mul:               {"f64x2.mul", ImmNone, ClassBinary, wasm.KindV128, wasm.KindV128, 0},
	OpI8x16Eq:                {"i8x16.eq", ImmNone, ClassBinary, wasm.KindV128, wasm.KindV128, 0},
	OpI16x8Eq:                {"i16x8.eq", ImmNone, ClassBinary, wasm.KindV128, wasm.KindV128, 0},
	OpI32x4Eq:                {"i32x4.eq", ImmNone, ClassBinary, wasm.KindV128, wasm.KindV128, 0},
	OpI64x2Eq:                {"i64x2.eq", ImmNone, ClassBinary, wasm.KindV128, wasm.KindV128, 0},
	OpF32x4Eq:                {"f32x4.eq", ImmNone, ClassBinary, wasm.KindV128, wasm.KindV128, 0},
	OpF64x2Eq:                {"f64x2.eq", ImmNone, ClassBinary, wasm.KindV128, wasm.KindV128, 0},
}

var opByName map[string]OpCode

func init() {
	opByName = make(map[string]OpCode, opCodeCount)
	for op := OpCode(0); op < opCodeCount; op++ {
		opByName[opInfos[op].Name] = op
	}
}

// Info 返回操作码描述
func (op OpCode) Info() *OpInfo {
	return &opInfos[op]
}

// String 返回文本形式的助记符
func (op OpCode) String() string {
	if op < opCodeCount {
		return opInfos[op].Name
	}
	return "unknown"
}

// IsValid 操作码是否已定义
func (op OpCode) IsValid() bool {
	return op < opCodeCount
}

// LookupOp 按助记符查找操作码
func LookupOp(name string) (OpCode, bool) {
	op, ok := opByName[name]
	return op, ok
}

// IsAtomic 是否为原子访存指令
func (op OpCode) IsAtomic() bool {
	switch opInfos[op].Class {
	case ClassAtomicLoad, ClassAtomicStore, ClassAtomicRMW, ClassAtomicCmpxchg:
		return true
	}
	return op == OpMemoryAtomicNotify || op == OpMemoryAtomicWait32 || op == OpMemoryAtomicWait64
}

// IsTailCall 是否为尾调用
func (op OpCode) IsTailCall() bool {
	return op == OpReturnCall || op == OpReturnCallIndirect || op == OpReturnCallRef
}

// IsSIMD 是否为向量指令
func (op OpCode) IsSIMD() bool {
	info := &opInfos[op]
	return info.In == wasm.KindV128 || info.Out == wasm.KindV128 ||
		info.Class == ClassExtractLane || info.Class == ClassReplaceLane
}
