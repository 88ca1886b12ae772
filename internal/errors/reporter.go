package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/multierr"
)

// ============================================================================
// 错误报告器
// ============================================================================

// Reporter 错误报告器
type Reporter struct {
	formatter *Formatter
	out       io.Writer
	errors    []*CompileError
	warnings  []*CompileError
	others    []error
}

// NewReporter 创建错误报告器
func NewReporter(out io.Writer) *Reporter {
	if out == nil {
		out = os.Stderr
	}
	return &Reporter{
		formatter: NewFormatter(),
		out:       out,
	}
}

// SetFormatter 设置格式化器
func (r *Reporter) SetFormatter(f *Formatter) {
	r.formatter = f
}

// ============================================================================
// 报告编译错误
// ============================================================================

// Report 报告一个错误；multierr 聚合的错误会被逐个展开
func (r *Reporter) Report(err error) {
	for _, e := range multierr.Errors(err) {
		var ce *CompileError
		if !stderrors.As(e, &ce) {
			r.others = append(r.others, e)
			fmt.Fprintf(r.out, "%s: %v\n", LevelError, e)
			continue
		}
		if ce.Level == LevelWarning {
			r.warnings = append(r.warnings, ce)
		} else {
			r.errors = append(r.errors, ce)
		}
		fmt.Fprint(r.out, r.formatter.FormatCompileError(ce))
	}
}

// HasErrors 是否有错误
func (r *Reporter) HasErrors() bool {
	return len(r.errors) > 0 || len(r.others) > 0
}

// ErrorCount 错误数量
func (r *Reporter) ErrorCount() int {
	return len(r.errors) + len(r.others)
}

// WarningCount 警告数量
func (r *Reporter) WarningCount() int {
	return len(r.warnings)
}

// Errors 获取所有编译错误
func (r *Reporter) Errors() []*CompileError {
	return r.errors
}

// Clear 清空已记录的错误
func (r *Reporter) Clear() {
	r.errors = nil
	r.warnings = nil
	r.others = nil
}
