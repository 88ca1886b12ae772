package i18n

var messagesEN = map[string]string{
	MsgVersionTitle: "omgc %s",
	MsgVersionDesc:  "Optimizing-tier wasm compiler: builds IR graphs from validated function bodies.",
	MsgHelpUsage:    "Usage:",
	MsgHelpCommands: "Commands:",
	MsgHelpOptions:  "Options:",
	MsgHelpExamples: "Examples:",

	MsgCmdCompile: "Compile every function and print a summary, the IR or JSON",
	MsgCmdRun:     "Run an exported function on the simulated runtime",
	MsgCmdCheck:   "Validate and compile a module, reporting every error",
	MsgCmdVersion: "Show version information",
	MsgCmdHelp:    "Show this help",

	MsgOptOptions:  "compiler options file (TOML)",
	MsgOptJSON:     "print compilation results as JSON",
	MsgOptIR:       "print the generated IR",
	MsgOptFunc:     "only compile this function index",
	MsgOptOSRLoop:  "compile an OSR entry for this loop index (needs -func)",
	MsgOptOSR:      "enter OSR versions of hot loops",
	MsgOptMaxSteps: "maximum IR values executed per activation, 0 for no limit",
	MsgOptStats:    "print runtime statistics after the run",
	MsgOptVerbose:  "verbose logging",
	MsgOptNoColor:  "disable colored diagnostics",
	MsgOptLang:     "message language",

	MsgErrNoInput:      "error: no module description given",
	MsgErrUnknownCmd:   "error: unknown command '%s'",
	MsgErrNoExport:     "error: no export name given",
	MsgErrArgCount:     "error: %s takes %d arguments, got %d",
	MsgErrBadArgument:  "error: argument %d: cannot parse %q as %s",
	MsgErrNoFunction:   "error: function %d is not defined in this module",
	MsgErrOSRNeedsFunc: "error: -osr-loop needs -func",
	MsgErrRun:          "error: %v",
	MsgErrWrite:        "error: failed to write output: %v",
	MsgErrErrorCount:   "%d error(s)",

	MsgCheckOK:         "%s: OK (%d functions)",
	MsgCompileSummary:  "%s: %d compiled, %d failed, %d IR values in %s",
	MsgFunctionSummary: "  func %d: %d blocks, %d values, %d call sites, stack check %s",
	MsgStackCheckNone:  "none",
	MsgRunResults:      "%s => %s",
	MsgRunNoResults:    "%s => ()",
	MsgStatsHeader:     "Runtime statistics:",
	MsgUsingOptions:    "using options from %s",
}
