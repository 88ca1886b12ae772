package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tangzhangming/novaomg/internal/bytecode"
	cerrors "github.com/tangzhangming/novaomg/internal/errors"
	"github.com/tangzhangming/novaomg/internal/i18n"
	"github.com/tangzhangming/novaomg/internal/jit"
	"github.com/tangzhangming/novaomg/internal/loader"
	"github.com/tangzhangming/novaomg/internal/vm"
	"github.com/tangzhangming/novaomg/internal/wasm"
)

// ============================================================================
// 公共部分
// ============================================================================

// commonFlags 所有子命令共享的选项
type commonFlags struct {
	options *string
	verbose *bool
	noColor *bool
}

func newFlagSet(name, usage string, stderr io.Writer) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	cf := &commonFlags{
		options: fs.String("options", "", i18n.T(i18n.MsgOptOptions)),
		verbose: fs.Bool("v", false, i18n.T(i18n.MsgOptVerbose)),
		noColor: fs.Bool("no-color", false, i18n.T(i18n.MsgOptNoColor)),
	}
	fs.Usage = func() {
		fmt.Fprintln(stderr, i18n.T(i18n.MsgHelpUsage)+" omgc "+name+" [options] "+usage)
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, i18n.T(i18n.MsgHelpOptions))
		fs.PrintDefaults()
	}
	return fs, cf
}

// session 一个已加载的模块
type session struct {
	desc   *loader.Description
	module *bytecode.Module
	opts   *jit.Options
	log    *zap.Logger
}

// load 加载描述并构建模块。选项的优先级：-options、options_file 或
// [options]，最后是从描述文件向上找到的 omg.toml。
func load(path string, cf *commonFlags) (*session, error) {
	d, err := loader.Load(path)
	if err != nil {
		return nil, err
	}

	opts := d.Options
	source := ""
	switch {
	case *cf.options != "":
		source = *cf.options
	case d.OptionsFile == "" && reflect.DeepEqual(opts, *jit.DefaultOptions()):
		source = loader.FindOptionsFile(path)
	}
	if source != "" {
		loaded, err := jit.LoadOptions(source)
		if err != nil {
			return nil, err
		}
		opts = *loaded
	}
	if *cf.verbose && opts.LogLevel == "" {
		opts.LogLevel = "debug"
	}

	s := &session{desc: d, opts: &opts, log: opts.NamedLogger("omgc")}
	if source != "" {
		s.log.Info(i18n.T(i18n.MsgUsingOptions, source))
	}
	if s.module, err = d.Build(); err != nil {
		return nil, err
	}
	return s, nil
}

// verify 逐个验证函数体，返回全部问题
func (s *session) verify() error {
	var errs error
	for _, f := range s.module.Functions {
		if err := bytecode.NewVerifier(s.module.Info, f).Verify(); err != nil {
			var ve *bytecode.VerificationError
			if stderrors.As(err, &ve) {
				err = cerrors.New(cerrors.E0001, "%s", ve.Message).InFunction(ve.Function, ve.Offset)
			}
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		return errs
	}
	return s.module.Validate()
}

// compiler 注册类型并创建编译器
func (s *session) compiler() (*jit.Compiler, error) {
	if err := s.verify(); err != nil {
		return nil, err
	}
	if _, err := wasm.NewTypeInformation().Register(s.module.Info); err != nil {
		return nil, err
	}
	group, err := jit.NewCalleeGroup(s.module.Info, s.module.Functions)
	if err != nil {
		return nil, err
	}
	return jit.NewCompiler(group, s.opts)
}

// report 输出错误，返回错误个数
func report(stderr io.Writer, cf *commonFlags, err error) int {
	if *cf.noColor {
		cerrors.SetColorsEnabled(false)
	}
	r := cerrors.NewReporter(stderr)
	r.Report(err)
	n := r.ErrorCount()
	fmt.Fprintln(stderr, i18n.T(i18n.MsgErrErrorCount, n))
	return n
}

// signalContext Ctrl-C 时取消编译和执行
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// ============================================================================
// compile
// ============================================================================

// cmdCompile 编译模块
func cmdCompile(args []string, stdout, stderr io.Writer) int {
	fs, cf := newFlagSet("compile", "<module>", stderr)
	jsonOut := fs.Bool("json", false, i18n.T(i18n.MsgOptJSON))
	showIR := fs.Bool("ir", false, i18n.T(i18n.MsgOptIR))
	function := fs.Int("func", -1, i18n.T(i18n.MsgOptFunc))
	osrLoop := fs.Int("osr-loop", -1, i18n.T(i18n.MsgOptOSRLoop))
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		fs.Usage()
		fmt.Fprintln(stderr, i18n.T(i18n.MsgErrNoInput))
		return 1
	}
	if *osrLoop >= 0 && *function < 0 {
		fmt.Fprintln(stderr, i18n.T(i18n.MsgErrOSRNeedsFunc))
		return 1
	}

	s, err := load(fs.Arg(0), cf)
	if err != nil {
		report(stderr, cf, err)
		return 1
	}
	c, err := s.compiler()
	if err != nil {
		report(stderr, cf, err)
		return 1
	}
	defer s.log.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	var results []*jit.CompilationResult
	var compileErr error
	if *function >= 0 {
		fn := uint32(*function)
		info := s.module.Info
		if int(fn) >= len(info.Functions) || info.IsImportedFunction(fn) {
			fmt.Fprintln(stderr, i18n.T(i18n.MsgErrNoFunction, fn))
			return 1
		}
		var res *jit.CompilationResult
		if *osrLoop >= 0 {
			res, compileErr = c.CompileOSREntry(ctx, fn, uint32(*osrLoop))
		} else {
			res, compileErr = c.Compile(ctx, fn)
		}
		if res != nil {
			results = append(results, res)
		}
	} else {
		results, compileErr = c.CompileModule(ctx)
	}

	if err := printResults(stdout, s, c, results, *jsonOut, *showIR); err != nil {
		fmt.Fprintln(stderr, i18n.T(i18n.MsgErrWrite, err))
		return 1
	}
	if compileErr != nil {
		report(stderr, cf, compileErr)
		return 1
	}
	return 0
}

func printResults(w io.Writer, s *session, c *jit.Compiler, results []*jit.CompilationResult, jsonOut, showIR bool) error {
	if jsonOut {
		return jit.DumpJSON(w, c.Group(), results, showIR)
	}
	if showIR {
		for _, res := range results {
			header := fmt.Sprintf("; function %d", res.FunctionIndex)
			if res.IsOSREntry() {
				header += fmt.Sprintf(" (osr entry, loop %d)", res.LoopIndexForOSREntry)
			}
			if _, err := fmt.Fprintf(w, "%s\n%s\n", header, res.Procedure); err != nil {
				return err
			}
		}
		return nil
	}

	for _, res := range results {
		check := i18n.T(i18n.MsgStackCheckNone)
		if res.HasStackCheck {
			check = fmt.Sprintf("%d", res.StackCheckSize)
		}
		fmt.Fprintln(w, i18n.T(i18n.MsgFunctionSummary, res.FunctionIndex, len(res.Procedure.Blocks),
			res.Procedure.ValueCount(), res.CallSiteCount, check))
	}
	stats := c.Stats()
	_, err := fmt.Fprintln(w, i18n.T(i18n.MsgCompileSummary, s.desc.Name, stats.Compiled.Load(), stats.Failed.Load(),
		stats.IRValues.Load(), time.Duration(stats.CompileNanos.Load())))
	return err
}

// ============================================================================
// check
// ============================================================================

// cmdCheck 验证并编译模块，报告全部错误
func cmdCheck(args []string, stdout, stderr io.Writer) int {
	fs, cf := newFlagSet("check", "<module>", stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		fs.Usage()
		fmt.Fprintln(stderr, i18n.T(i18n.MsgErrNoInput))
		return 1
	}

	s, err := load(fs.Arg(0), cf)
	if err != nil {
		report(stderr, cf, err)
		return 1
	}
	c, err := s.compiler()
	if err == nil {
		ctx, cancel := signalContext()
		defer cancel()
		_, err = c.CompileModule(ctx)
	}
	if err != nil {
		report(stderr, cf, err)
		return 1
	}
	fmt.Fprintln(stdout, i18n.T(i18n.MsgCheckOK, s.desc.Name, len(s.module.Functions)))
	return 0
}

// ============================================================================
// run
// ============================================================================

// cmdRun 在模拟运行时上执行导出函数
func cmdRun(args []string, stdout, stderr io.Writer) int {
	fs, cf := newFlagSet("run", "<module> <export> [args...]", stderr)
	osr := fs.Bool("osr", false, i18n.T(i18n.MsgOptOSR))
	maxSteps := fs.Int("max-steps", 0, i18n.T(i18n.MsgOptMaxSteps))
	showStats := fs.Bool("stats", false, i18n.T(i18n.MsgOptStats))
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		fs.Usage()
		fmt.Fprintln(stderr, i18n.T(i18n.MsgErrNoInput))
		return 1
	}
	if fs.NArg() < 2 {
		fmt.Fprintln(stderr, i18n.T(i18n.MsgErrNoExport))
		return 1
	}

	s, err := load(fs.Arg(0), cf)
	if err != nil {
		report(stderr, cf, err)
		return 1
	}
	defer s.log.Sync()

	export := fs.Arg(1)
	info := s.module.Info
	fn, ok := info.ExportedFunction(export)
	if !ok {
		fmt.Fprintln(stderr, i18n.T(i18n.MsgErrRun, fmt.Sprintf("no exported function %q", export)))
		return 1
	}
	sig := info.Signature(fn)
	argv, err := parseArguments(export, sig, fs.Args()[2:])
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	machine, err := vm.New(s.module, vm.Config{
		Options:   s.opts,
		Imports:   hostImports(info, stdout),
		EnableOSR: *osr,
		MaxSteps:  *maxSteps,
	})
	if err != nil {
		report(stderr, cf, err)
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()
	results, err := machine.Invoke(ctx, export, argv...)
	if err != nil {
		fmt.Fprintln(stderr, i18n.T(i18n.MsgErrRun, err))
		return 1
	}

	if len(results) == 0 {
		fmt.Fprintln(stdout, i18n.T(i18n.MsgRunNoResults, export))
	} else {
		parts := make([]string, len(results))
		for i, r := range results {
			parts[i] = formatValue(sig.Results[i], r)
		}
		fmt.Fprintln(stdout, i18n.T(i18n.MsgRunResults, export, strings.Join(parts, " ")))
	}

	if *showStats {
		fmt.Fprintln(stdout, i18n.T(i18n.MsgStatsHeader))
		out := struct {
			VM       *vm.VMStats          `json:"vm"`
			Hotspot  vm.HotspotStats      `json:"hotspot"`
			Compiler *jit.CompilerStats   `json:"compiler"`
			Group    jit.GroupStats       `json:"group"`
			Profiles []vm.FunctionProfile `json:"profiles,omitempty"`
		}{
			VM:       machine.Stats(),
			Hotspot:  machine.Hotspot().Stats(),
			Compiler: machine.Compiler().Stats(),
			Group:    machine.Compiler().Group().Stats(),
		}
		for _, f := range machine.Hotspot().HotFunctions() {
			p, _ := machine.Hotspot().Profile(f)
			out.Profiles = append(out.Profiles, p)
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			fmt.Fprintln(stderr, i18n.T(i18n.MsgErrWrite, err))
			return 1
		}
		fmt.Fprintln(stdout, string(data))
	}
	return 0
}
