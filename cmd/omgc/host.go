package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tangzhangming/novaomg/internal/i18n"
	"github.com/tangzhangming/novaomg/internal/jit/ir"
	"github.com/tangzhangming/novaomg/internal/vm"
	"github.com/tangzhangming/novaomg/internal/wasm"
)

// ============================================================================
// 宿主导入
// ============================================================================
//
// env.print_<type> 打印参数；其它导入在被调用时报错。

// hostImports 为模块的每个导入提供实现
func hostImports(info *wasm.ModuleInformation, out io.Writer) map[string]vm.HostFunc {
	imports := make(map[string]vm.HostFunc)
	for i := uint32(0); i < info.ImportFunctionCount(); i++ {
		imp := info.Functions[i].Import
		name := imp.Module + "." + imp.Name
		sig := info.Signature(i)
		if imp.Module == "env" && strings.HasPrefix(imp.Name, "print") {
			imports[name] = printer(out, sig)
			continue
		}
		imports[name] = func([]ir.Bits) ([]ir.Bits, error) {
			return nil, fmt.Errorf("host function %s is not available", name)
		}
	}
	return imports
}

// printer 按签名打印全部参数，结果全为零
func printer(out io.Writer, sig *wasm.FunctionSignature) vm.HostFunc {
	return func(args []ir.Bits) ([]ir.Bits, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = formatValue(sig.Params[i], a)
		}
		fmt.Fprintln(out, strings.Join(parts, " "))
		return make([]ir.Bits, len(sig.Results)), nil
	}
}

// ============================================================================
// 参数与结果
// ============================================================================

// parseArguments 按签名解析命令行参数
func parseArguments(export string, sig *wasm.FunctionSignature, args []string) ([]ir.Bits, error) {
	if len(args) != len(sig.Params) {
		return nil, fmt.Errorf("%s", i18n.T(i18n.MsgErrArgCount, export, len(sig.Params), len(args)))
	}
	out := make([]ir.Bits, len(args))
	for i, s := range args {
		v, err := parseValue(sig.Params[i], s)
		if err != nil {
			return nil, fmt.Errorf("%s", i18n.T(i18n.MsgErrBadArgument, i, s, sig.Params[i]))
		}
		out[i] = v
	}
	return out, nil
}

func parseValue(t wasm.Type, s string) (ir.Bits, error) {
	switch t.Kind {
	case wasm.KindI32:
		v, err := strconv.ParseInt(s, 0, 32)
		if err != nil {
			// 允许无符号写法，如 0xffffffff
			u, uerr := strconv.ParseUint(s, 0, 32)
			if uerr != nil {
				return ir.Bits{}, err
			}
			v = int64(int32(uint32(u)))
		}
		return ir.I32(int32(v)), nil
	case wasm.KindI64:
		v, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			u, uerr := strconv.ParseUint(s, 0, 64)
			if uerr != nil {
				return ir.Bits{}, err
			}
			v = int64(u)
		}
		return ir.I64(v), nil
	case wasm.KindF32:
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return ir.Bits{}, err
		}
		return ir.F32(float32(v)), nil
	case wasm.KindF64:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return ir.Bits{}, err
		}
		return ir.F64(v), nil
	case wasm.KindRef:
		if s == "null" && t.Nullable {
			return ir.Bits{wasm.NullRef}, nil
		}
	}
	return ir.Bits{}, fmt.Errorf("cannot pass %s from the command line", t)
}

// formatValue 按类型输出值
func formatValue(t wasm.Type, v ir.Bits) string {
	switch t.Kind {
	case wasm.KindI32:
		return strconv.FormatInt(int64(v.Int32()), 10)
	case wasm.KindI64:
		return strconv.FormatInt(v.Int64(), 10)
	case wasm.KindF32:
		return strconv.FormatFloat(float64(v.Float()), 'g', -1, 32)
	case wasm.KindF64:
		return strconv.FormatFloat(v.Double(), 'g', -1, 64)
	case wasm.KindV128:
		return fmt.Sprintf("0x%016x%016x", v[1], v[0])
	case wasm.KindRef:
		if v[0] == wasm.NullRef {
			return "null"
		}
		if wasm.IsI31(v[0]) {
			return fmt.Sprintf("(i31 %d)", wasm.UnboxI31(v[0], true))
		}
		return fmt.Sprintf("(ref 0x%x)", v[0])
	}
	return fmt.Sprintf("%#x", v[0])
}
