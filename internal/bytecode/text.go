package bytecode

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tangzhangming/novaomg/internal/wasm"
)

// ============================================================================
// 文本形式
// ============================================================================
//
// 每行一条指令，;; 开始注释。函数体前可以用 "local <type>..." 声明局部变量。
// 块签名写作 (param ...) / (result ...)；访存立即数写作 offset=N align=N；
// br_if 和 if 可以带 @likely / @unlikely 分支提示。

// TextError 文本解析错误
type TextError struct {
	Line    int
	Message string
}

func (e *TextError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

// ParseFunction 解析文本形式的函数体
func ParseFunction(src string) (*Function, error) {
	fn := &Function{}
	for n, raw := range strings.Split(src, "\n") {
		line := raw
		if i := strings.Index(line, ";;"); i >= 0 {
			line = line[:i]
		}
		toks, err := tokenize(line)
		if err != nil {
			return nil, &TextError{Line: n + 1, Message: err.Error()}
		}
		if len(toks) == 0 {
			continue
		}
		if toks[0] == "local" {
			if len(fn.Code) > 0 {
				return nil, &TextError{Line: n + 1, Message: "local declaration after code"}
			}
			for _, tok := range toks[1:] {
				t, err := wasm.ParseType(tok)
				if err != nil {
					return nil, &TextError{Line: n + 1, Message: err.Error()}
				}
				fn.Locals = append(fn.Locals, t)
			}
			continue
		}
		in, hint, err := parseInstr(toks)
		if err != nil {
			return nil, &TextError{Line: n + 1, Message: err.Error()}
		}
		in.Offset = uint32(len(fn.Code))
		if hint != wasm.BranchHintInvalid {
			if fn.Hints == nil {
				fn.Hints = make(map[uint32]wasm.BranchHint)
			}
			fn.Hints[in.Offset] = hint
		}
		fn.Code = append(fn.Code, in)
	}
	return fn, nil
}

// tokenize 按空白切分，顶层括号组作为一个 token
func tokenize(line string) ([]string, error) {
	var toks []string
	depth := 0
	start := -1
	for i, c := range line {
		switch {
		case c == '(':
			if depth == 0 {
				start = i
			}
			depth++
		case c == ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced ')'")
			}
			if depth == 0 {
				toks = append(toks, line[start:i+1])
				start = -1
			}
		case c == ' ' || c == '\t' || c == '\r':
			if depth == 0 && start >= 0 {
				toks = append(toks, line[start:i])
				start = -1
			}
		default:
			if start < 0 {
				start = i
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced '('")
	}
	if start >= 0 {
		toks = append(toks, line[start:])
	}
	return toks, nil
}

func parseInstr(toks []string) (Instr, wasm.BranchHint, error) {
	op, ok := LookupOp(toks[0])
	if !ok {
		return Instr{}, 0, fmt.Errorf("unknown instruction %q", toks[0])
	}
	in := Instr{Op: op}
	args := toks[1:]

	hint := wasm.BranchHintInvalid
	if n := len(args); n > 0 && strings.HasPrefix(args[n-1], "@") {
		switch args[n-1] {
		case "@likely":
			hint = wasm.BranchHintLikely
		case "@unlikely":
			hint = wasm.BranchHintUnlikely
		default:
			return in, 0, fmt.Errorf("unknown annotation %q", args[n-1])
		}
		args = args[:n-1]
	}

	var err error
	switch op.Info().Imm {
	case ImmNone:
		err = expectArgs(args, 0)
	case ImmBlock:
		in.Block, err = parseBlockType(args)
	case ImmIndex:
		if err = expectArgs(args, 1); err == nil {
			in.Index, err = parseU32(args[0])
		}
	case ImmTwoIndex:
		if err = expectArgs(args, 2); err == nil {
			if in.Index, err = parseU32(args[0]); err == nil {
				in.Index2, err = parseU32(args[1])
			}
		}
	case ImmI32:
		if err = expectArgs(args, 1); err == nil {
			var v int64
			v, err = parseInt(args[0], 32)
			in.Bits = uint64(uint32(v))
		}
	case ImmI64:
		if err = expectArgs(args, 1); err == nil {
			var v int64
			v, err = parseInt(args[0], 64)
			in.Bits = uint64(v)
		}
	case ImmF32:
		if err = expectArgs(args, 1); err == nil {
			var f float64
			f, err = strconv.ParseFloat(args[0], 32)
			in.Bits = uint64(math.Float32bits(float32(f)))
		}
	case ImmF64:
		if err = expectArgs(args, 1); err == nil {
			var f float64
			f, err = strconv.ParseFloat(args[0], 64)
			in.Bits = math.Float64bits(f)
		}
	case ImmV128:
		in.V128, err = parseV128(args)
	case ImmMem:
		for _, a := range args {
			key, val, found := strings.Cut(a, "=")
			if !found {
				return in, 0, fmt.Errorf("malformed memory immediate %q", a)
			}
			n, perr := strconv.ParseUint(val, 0, 64)
			if perr != nil {
				return in, 0, perr
			}
			switch key {
			case "offset":
				in.Mem.Offset = n
			case "align":
				in.Mem.Align = uint32(n)
			default:
				return in, 0, fmt.Errorf("unknown memory immediate %q", key)
			}
		}
	case ImmLane:
		if err = expectArgs(args, 1); err == nil {
			var lane uint32
			lane, err = parseU32(args[0])
			in.Lane = uint8(lane)
		}
	case ImmBrTable:
		if len(args) == 0 {
			return in, 0, fmt.Errorf("br_table needs a default target")
		}
		for i, a := range args {
			d, perr := parseU32(a)
			if perr != nil {
				return in, 0, perr
			}
			if i == len(args)-1 {
				in.Index = d
			} else {
				in.Targets = append(in.Targets, d)
			}
		}
	case ImmHeapType:
		if err = expectArgs(args, 1); err == nil {
			var heap wasm.HeapType
			heap, err = wasm.ParseHeapType(args[0])
			nullable := op == OpRefNull || op == OpRefTestNull || op == OpRefCastNull
			in.RefType = wasm.RefType(heap, nullable)
		}
	case ImmBrCast:
		if err = expectArgs(args, 2); err == nil {
			if in.Index, err = parseU32(args[0]); err == nil {
				in.RefType, err = wasm.ParseType(args[1])
				if err == nil && !in.RefType.IsRef() {
					err = fmt.Errorf("%s needs a reference type", op)
				}
			}
		}
	}
	return in, hint, err
}

func expectArgs(args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("expected %d immediate(s), got %d", n, len(args))
	}
	return nil
}

func parseU32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	return uint32(v), err
}

func parseInt(s string, bits int) (int64, error) {
	if v, err := strconv.ParseInt(s, 0, bits); err == nil {
		return v, nil
	}
	// 允许无符号写法，如 0xffffffff
	u, err := strconv.ParseUint(s, 0, bits)
	return int64(u), err
}

func parseBlockType(args []string) (BlockType, error) {
	var bt BlockType
	for _, a := range args {
		if !strings.HasPrefix(a, "(") || !strings.HasSuffix(a, ")") {
			return bt, fmt.Errorf("malformed block type %q", a)
		}
		inner, err := tokenize(a[1 : len(a)-1])
		if err != nil {
			return bt, err
		}
		if len(inner) == 0 {
			return bt, fmt.Errorf("empty block type group")
		}
		for _, tok := range inner[1:] {
			t, err := wasm.ParseType(tok)
			if err != nil {
				return bt, err
			}
			switch inner[0] {
			case "param":
				bt.Params = append(bt.Params, t)
			case "result":
				bt.Results = append(bt.Results, t)
			default:
				return bt, fmt.Errorf("unknown block type group %q", inner[0])
			}
		}
	}
	return bt, nil
}

func parseV128(args []string) ([2]uint64, error) {
	var v [2]uint64
	if len(args) == 0 {
		return v, fmt.Errorf("v128.const needs a lane shape")
	}
	var lanes, width int
	switch args[0] {
	case "i8x16":
		lanes, width = 16, 8
	case "i16x8":
		lanes, width = 8, 16
	case "i32x4", "f32x4":
		lanes, width = 4, 32
	case "i64x2", "f64x2":
		lanes, width = 2, 64
	default:
		return v, fmt.Errorf("unknown lane shape %q", args[0])
	}
	if len(args)-1 != lanes {
		return v, fmt.Errorf("%s needs %d lanes", args[0], lanes)
	}
	for i, a := range args[1:] {
		var bits uint64
		switch args[0] {
		case "f32x4":
			f, err := strconv.ParseFloat(a, 32)
			if err != nil {
				return v, err
			}
			bits = uint64(math.Float32bits(float32(f)))
		case "f64x2":
			f, err := strconv.ParseFloat(a, 64)
			if err != nil {
				return v, err
			}
			bits = math.Float64bits(f)
		default:
			n, err := parseInt(a, width)
			if err != nil {
				return v, err
			}
			bits = uint64(n)
		}
		if width < 64 {
			bits &= 1<<uint(width) - 1
		}
		bit := i * width
		v[bit/64] |= bits << uint(bit%64)
	}
	return v, nil
}
