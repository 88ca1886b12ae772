package wasm

// ExceptionType 陷阱种类
type ExceptionType uint8

const (
	ExceptionOutOfBoundsMemoryAccess ExceptionType = iota
	ExceptionOutOfBoundsTableAccess
	ExceptionOutOfBoundsCallIndirect
	ExceptionNullTableEntry
	ExceptionNullReference
	ExceptionBadSignature
	ExceptionOutOfBoundsTrunc
	ExceptionUnreachable
	ExceptionDivisionByZero
	ExceptionIntegerOverflow
	ExceptionStackOverflow
	ExceptionFuncrefNotWasm
	ExceptionInvalidGCTypeUse
	ExceptionOutOfBoundsArrayGet
	ExceptionOutOfBoundsArraySet
	ExceptionOutOfBoundsArrayFill
	ExceptionOutOfBoundsArrayCopy
	ExceptionNullArrayGet
	ExceptionNullArraySet
	ExceptionNullArrayLen
	ExceptionNullArrayFill
	ExceptionNullStructGet
	ExceptionNullStructSet
	ExceptionNullI31Get
	ExceptionCastFailure
	ExceptionBadStructNew
	ExceptionBadArrayNew
	ExceptionOutOfBoundsDataSegmentAccess
	ExceptionOutOfBoundsElementSegmentAccess
	ExceptionNullRefAsNonNull
	ExceptionBadTableGrow
	exceptionTypeCount
)

var exceptionMessages = [exceptionTypeCount]string{
	ExceptionOutOfBoundsMemoryAccess:         "Out of bounds memory access",
	ExceptionOutOfBoundsTableAccess:          "Out of bounds table access",
	ExceptionOutOfBoundsCallIndirect:         "Out of bounds call_indirect",
	ExceptionNullTableEntry:                  "call_indirect to a null table entry",
	ExceptionNullReference:                   "call_ref to a null reference",
	ExceptionBadSignature:                    "call_indirect to a signature that does not match",
	ExceptionOutOfBoundsTrunc:                "Out of bounds Trunc operation",
	ExceptionUnreachable:                     "Unreachable code should not be executed",
	ExceptionDivisionByZero:                  "Division by zero",
	ExceptionIntegerOverflow:                 "Integer overflow",
	ExceptionStackOverflow:                   "Stack overflow",
	ExceptionFuncrefNotWasm:                  "Funcref must be an exported wasm function",
	ExceptionInvalidGCTypeUse:                "Unsupported use of struct or array type",
	ExceptionOutOfBoundsArrayGet:             "Out of bounds array.get",
	ExceptionOutOfBoundsArraySet:             "Out of bounds array.set",
	ExceptionOutOfBoundsArrayFill:            "Out of bounds array.fill",
	ExceptionOutOfBoundsArrayCopy:            "Out of bounds array.copy",
	ExceptionNullArrayGet:                    "array.get to a null reference",
	ExceptionNullArraySet:                    "array.set to a null reference",
	ExceptionNullArrayLen:                    "array.len to a null reference",
	ExceptionNullArrayFill:                   "array.fill to a null reference",
	ExceptionNullStructGet:                   "struct.get to a null reference",
	ExceptionNullStructSet:                   "struct.set to a null reference",
	ExceptionNullI31Get:                      "i31.get_<sx> to a null reference",
	ExceptionCastFailure:                     "ref.cast failed to cast reference to target heap type",
	ExceptionBadStructNew:                    "Failed to allocate new struct",
	ExceptionBadArrayNew:                     "Failed to allocate new array",
	ExceptionOutOfBoundsDataSegmentAccess:    "Out of bounds data segment access",
	ExceptionOutOfBoundsElementSegmentAccess: "Out of bounds element segment access",
	ExceptionNullRefAsNonNull:                "ref.as_non_null to a null reference",
	ExceptionBadTableGrow:                    "Failed to grow table",
}

func (e ExceptionType) String() string {
	if e < exceptionTypeCount {
		return exceptionMessages[e]
	}
	return "Unknown exception"
}
