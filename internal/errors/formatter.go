package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ============================================================================
// 编译错误
// ============================================================================

// CompileError 编译错误
type CompileError struct {
	Code     string // 错误码 (E0100)
	Level    Level  // 错误级别
	Function uint32 // 出错函数的索引
	Offset   int    // 指令偏移，-1 表示未知
	Message  string // 主消息
	Notes    []string
	Err      error // 底层原因
}

// Error 实现 error 接口
func (e *CompileError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("function %d @%d: %s[%s]: %s", e.Function, e.Offset, e.Level, e.Code, e.Message)
	}
	return fmt.Sprintf("function %d: %s[%s]: %s", e.Function, e.Level, e.Code, e.Message)
}

// Unwrap 返回底层原因
func (e *CompileError) Unwrap() error {
	return e.Err
}

// New 创建编译错误
func New(code string, format string, args ...interface{}) *CompileError {
	return &CompileError{
		Code:    code,
		Level:   LevelError,
		Offset:  -1,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap 用错误码包装一个底层错误
func Wrap(code string, err error, format string, args ...interface{}) *CompileError {
	e := New(code, format, args...)
	e.Err = err
	if err != nil {
		e.Message = fmt.Sprintf("%s: %v", e.Message, err)
	}
	return e
}

// InFunction 设置出错函数和偏移，返回自身便于链式调用
func (e *CompileError) InFunction(index uint32, offset int) *CompileError {
	e.Function = index
	e.Offset = offset
	return e
}

// CodeOf 返回错误链上第一个 CompileError 的错误码
func CodeOf(err error) string {
	var ce *CompileError
	if stderrors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// ============================================================================
// 格式化器
// ============================================================================

// Formatter 错误格式化器
type Formatter struct {
	Colors    bool // 是否使用颜色
	ShowNotes bool // 是否显示附加说明
}

// NewFormatter 创建默认格式化器
func NewFormatter() *Formatter {
	return &Formatter{
		Colors:    colorsEnabled,
		ShowNotes: true,
	}
}

// FormatCompileError 格式化编译错误
func (f *Formatter) FormatCompileError(err *CompileError) string {
	var sb strings.Builder

	// 错误头: error[E0100]: too many locals
	levelStr := f.colorize(err.Level.String(), f.levelColor(err.Level))
	codeStr := f.colorize(fmt.Sprintf("[%s]", err.Code), f.levelColor(err.Level))
	sb.WriteString(fmt.Sprintf("%s%s: %s\n", levelStr, codeStr, Title(err.Code)))

	// 位置: --> function 3 @17
	arrow := f.colorize("-->", ColorCyan)
	location := fmt.Sprintf("function %d", err.Function)
	if err.Offset >= 0 {
		location = fmt.Sprintf("%s @%d", location, err.Offset)
	}
	sb.WriteString(fmt.Sprintf(" %s %s\n", arrow, f.colorize(location, ColorCyan)))
	sb.WriteString(fmt.Sprintf("  %s\n", err.Message))

	if f.ShowNotes {
		for _, note := range err.Notes {
			noteLabel := f.colorize(" = note:", ColorCyan)
			sb.WriteString(fmt.Sprintf("%s %s\n", noteLabel, note))
		}
	}

	return sb.String()
}

// FormatCompileErrors 格式化多个编译错误
func (f *Formatter) FormatCompileErrors(errs []*CompileError) string {
	var sb strings.Builder
	for i, err := range errs {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(f.FormatCompileError(err))
	}
	if len(errs) > 0 {
		summary := fmt.Sprintf("compilation failed: %d error(s)", len(errs))
		sb.WriteString("\n" + f.colorize(summary, ColorBoldRed) + "\n")
	}
	return sb.String()
}

func (f *Formatter) levelColor(level Level) Color {
	switch level {
	case LevelError:
		return ColorBoldRed
	case LevelWarning:
		return ColorBoldYellow
	default:
		return ColorBoldCyan
	}
}

func (f *Formatter) colorize(s string, color Color) string {
	if !f.Colors {
		return s
	}
	return Colorize(s, color)
}
