// omgc - wasm 优化层编译器命令行
//
// 读取 TOML 模块描述，编译其中的函数，输出 IR、JSON 摘要，
// 或者在模拟运行时上执行导出函数。
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tangzhangming/novaomg/internal/i18n"
	"github.com/tangzhangming/novaomg/internal/loader"
)

const (
	Version = "0.1.0"
)

// 全局语言参数
var globalLang string

func main() {
	// 预扫描全局参数 --lang 或 -lang
	args := preprocessArgs(os.Args[1:])
	i18n.Init(globalLang)
	os.Exit(dispatch(args, os.Stdout, os.Stderr))
}

// dispatch 执行子命令，返回退出码
func dispatch(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stdout)
		return 0
	}

	command := args[0]
	switch command {
	case "compile":
		return cmdCompile(args[1:], stdout, stderr)
	case "run":
		return cmdRun(args[1:], stdout, stderr)
	case "check":
		return cmdCheck(args[1:], stdout, stderr)
	case "version", "-version", "--version":
		cmdVersion(stdout)
		return 0
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintln(stderr, i18n.T(i18n.MsgErrUnknownCmd, command))
		fmt.Fprintln(stderr)
		printUsage(stderr)
		return 1
	}
}

// preprocessArgs 预处理参数，提取全局 --lang 参数
func preprocessArgs(args []string) []string {
	var result []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--lang" || arg == "-lang":
			if i+1 < len(args) {
				globalLang = args[i+1]
				i++
				continue
			}
		case strings.HasPrefix(arg, "--lang="):
			globalLang = strings.TrimPrefix(arg, "--lang=")
			continue
		case strings.HasPrefix(arg, "-lang="):
			globalLang = strings.TrimPrefix(arg, "-lang=")
			continue
		}
		result = append(result, arg)
	}
	return result
}

func printUsage(w io.Writer) {
	ext := loader.DescriptionFileExtension
	fmt.Fprintf(w, i18n.T(i18n.MsgVersionTitle)+"\n\n", Version)
	fmt.Fprintln(w, i18n.T(i18n.MsgHelpUsage))
	fmt.Fprintln(w, "  omgc [--lang en|zh] <command> [options] <module"+ext+"> [arguments]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, i18n.T(i18n.MsgHelpCommands))
	fmt.Fprintf(w, "  compile <module>                %s\n", i18n.T(i18n.MsgCmdCompile))
	fmt.Fprintf(w, "  run <module> <export> [args]    %s\n", i18n.T(i18n.MsgCmdRun))
	fmt.Fprintf(w, "  check <module>                  %s\n", i18n.T(i18n.MsgCmdCheck))
	fmt.Fprintf(w, "  version                         %s\n", i18n.T(i18n.MsgCmdVersion))
	fmt.Fprintf(w, "  help                            %s\n", i18n.T(i18n.MsgCmdHelp))
	fmt.Fprintln(w)
	fmt.Fprintln(w, i18n.T(i18n.MsgHelpOptions))
	fmt.Fprintf(w, "  -options <file>   %s\n", i18n.T(i18n.MsgOptOptions))
	fmt.Fprintf(w, "  -v                %s\n", i18n.T(i18n.MsgOptVerbose))
	fmt.Fprintf(w, "  --lang <en|zh>    %s\n", i18n.T(i18n.MsgOptLang))
	fmt.Fprintln(w)
	fmt.Fprintln(w, i18n.T(i18n.MsgHelpExamples))
	fmt.Fprintf(w, "  omgc compile -ir -func 1 fib%s\n", ext)
	fmt.Fprintf(w, "  omgc compile -json fib%s\n", ext)
	fmt.Fprintf(w, "  omgc run -osr fib%s sum 100000\n", ext)
	fmt.Fprintf(w, "  omgc --lang zh check fib%s\n", ext)
}

// cmdVersion 显示版本信息
func cmdVersion(w io.Writer) {
	fmt.Fprintf(w, i18n.T(i18n.MsgVersionTitle)+"\n", Version)
	fmt.Fprintln(w, i18n.T(i18n.MsgVersionDesc))
}
