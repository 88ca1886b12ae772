package i18n

var messagesZH = map[string]string{
	MsgVersionTitle: "omgc %s",
	MsgVersionDesc:  "wasm 优化层编译器：从已验证的函数体生成 IR 图。",
	MsgHelpUsage:    "用法：",
	MsgHelpCommands: "命令：",
	MsgHelpOptions:  "选项：",
	MsgHelpExamples: "示例：",

	MsgCmdCompile: "编译所有函数，输出摘要、IR 或 JSON",
	MsgCmdRun:     "在模拟运行时上执行导出函数",
	MsgCmdCheck:   "验证并编译模块，报告全部错误",
	MsgCmdVersion: "显示版本信息",
	MsgCmdHelp:    "显示帮助",

	MsgOptOptions:  "编译选项文件（TOML）",
	MsgOptJSON:     "以 JSON 输出编译结果",
	MsgOptIR:       "输出生成的 IR",
	MsgOptFunc:     "只编译该函数索引",
	MsgOptOSRLoop:  "为该循环编译 OSR 入口（需要 -func）",
	MsgOptOSR:      "热循环进入 OSR 版本",
	MsgOptMaxSteps: "单次激活最多执行的 IR 值个数，0 表示不限",
	MsgOptStats:    "运行结束后输出统计信息",
	MsgOptVerbose:  "详细日志",
	MsgOptNoColor:  "关闭彩色诊断",
	MsgOptLang:     "消息语言",

	MsgErrNoInput:      "错误：未指定模块描述文件",
	MsgErrUnknownCmd:   "错误：未知命令 '%s'",
	MsgErrNoExport:     "错误：未指定导出名",
	MsgErrArgCount:     "错误：%s 需要 %d 个参数，实际 %d 个",
	MsgErrBadArgument:  "错误：第 %d 个参数 %q 不是合法的 %s",
	MsgErrNoFunction:   "错误：函数 %d 不是本模块定义的函数",
	MsgErrOSRNeedsFunc: "错误：-osr-loop 需要同时指定 -func",
	MsgErrRun:          "错误：%v",
	MsgErrWrite:        "错误：写出失败：%v",
	MsgErrErrorCount:   "%d 个错误",

	MsgCheckOK:         "%s：通过（%d 个函数）",
	MsgCompileSummary:  "%s：成功 %d 个，失败 %d 个，共 %d 个 IR 值，耗时 %s",
	MsgFunctionSummary: "  函数 %d：%d 个基本块，%d 个值，%d 个调用点，栈检查 %s",
	MsgStackCheckNone:  "无",
	MsgRunResults:      "%s => %s",
	MsgRunNoResults:    "%s => ()",
	MsgStatsHeader:     "运行统计：",
	MsgUsingOptions:    "使用选项文件 %s",
}
