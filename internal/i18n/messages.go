package i18n

// 消息 ID
const (
	// 版本与帮助
	MsgVersionTitle = "version.title"
	MsgVersionDesc  = "version.desc"
	MsgHelpUsage    = "help.usage"
	MsgHelpCommands = "help.commands"
	MsgHelpOptions  = "help.options"
	MsgHelpExamples = "help.examples"

	// 命令描述
	MsgCmdCompile = "cmd.compile"
	MsgCmdRun     = "cmd.run"
	MsgCmdCheck   = "cmd.check"
	MsgCmdVersion = "cmd.version"
	MsgCmdHelp    = "cmd.help"

	// 选项
	MsgOptOptions  = "opt.options"
	MsgOptJSON     = "opt.json"
	MsgOptIR       = "opt.ir"
	MsgOptFunc     = "opt.func"
	MsgOptOSRLoop  = "opt.osr_loop"
	MsgOptOSR      = "opt.osr"
	MsgOptMaxSteps = "opt.max_steps"
	MsgOptStats    = "opt.stats"
	MsgOptVerbose  = "opt.verbose"
	MsgOptNoColor  = "opt.no_color"
	MsgOptLang     = "opt.lang"

	// 错误
	MsgErrNoInput      = "err.no_input"
	MsgErrUnknownCmd   = "err.unknown_cmd"
	MsgErrNoExport     = "err.no_export"
	MsgErrArgCount     = "err.arg_count"
	MsgErrBadArgument  = "err.bad_argument"
	MsgErrNoFunction   = "err.no_function"
	MsgErrOSRNeedsFunc = "err.osr_needs_func"
	MsgErrRun          = "err.run"
	MsgErrWrite        = "err.write"
	MsgErrErrorCount   = "err.error_count"

	// 结果
	MsgCheckOK         = "ok.check"
	MsgCompileSummary  = "ok.compile_summary"
	MsgFunctionSummary = "ok.function_summary"
	MsgStackCheckNone  = "ok.stack_check_none"
	MsgRunResults      = "ok.run_results"
	MsgRunNoResults    = "ok.run_no_results"
	MsgStatsHeader     = "ok.stats_header"
	MsgUsingOptions    = "ok.using_options"
)
