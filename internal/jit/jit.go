// Package jit 实现优化层的 wasm IR 生成器：按结构遍历已验证的函数体，
// 把操作数栈映射到变量，把结构化控制流降级为基本块，
// 并处理内联、尾调用、异常恢复和分层编译。
package jit

import (
	"fmt"
	"os"
	"runtime"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	cerrors "github.com/tangzhangming/novaomg/internal/errors"
)

// ============================================================================
// 配置
// ============================================================================

// MemoryMode 线性内存的越界检查方式
type MemoryMode string

const (
	// MemoryModeBoundsChecking 每次访问都显式比较边界
	MemoryModeBoundsChecking MemoryMode = "bounds-checking"
	// MemoryModeSignaling 依赖保护区，只对偏移过大的访问显式检查
	MemoryModeSignaling MemoryMode = "signaling"
)

// InlineOptions 内联预算
type InlineOptions struct {
	Enabled bool `toml:"enabled"`

	// MaxDepth 内联嵌套深度上限
	MaxDepth uint32 `toml:"max_depth"`
	// MaxCalleeSize 被调函数体大小（指令数）上限
	MaxCalleeSize uint32 `toml:"max_callee_size"`
	// MaxCallerSize 根函数累计内联的指令数上限
	MaxCallerSize uint32 `toml:"max_caller_size"`
}

// TierUpOptions 分层计数器
type TierUpOptions struct {
	Enabled bool `toml:"enabled"`

	// Threshold 计数器初值为 -Threshold，加到非负时触发
	Threshold int32 `toml:"threshold"`
	// FunctionEntryIncrement 每次进入函数的增量
	FunctionEntryIncrement int32 `toml:"function_entry_increment"`
	// LoopIncrement 每次回到循环头的增量
	LoopIncrement int32 `toml:"loop_increment"`
}

// Options 编译选项，可以从 TOML 文件加载
type Options struct {
	Inline     InlineOptions `toml:"inline"`
	TierUp     TierUpOptions `toml:"tierup"`
	MemoryMode MemoryMode    `toml:"memory_mode"`

	// TargetArch 目标架构，空表示本机
	TargetArch string `toml:"target_arch"`
	SIMD       bool   `toml:"simd"`

	LogLevel string `toml:"log_level"`

	// DumpIRFunctions 编译完成后打印 IR 的函数索引
	DumpIRFunctions []uint32 `toml:"dump_ir_functions"`

	// Workers CompileModule 的并发数，0 表示 GOMAXPROCS
	Workers int `toml:"workers"`

	// Logger 不从文件加载；为空时按 LogLevel 创建
	Logger *zap.Logger `toml:"-"`
}

// DefaultOptions 返回默认配置
func DefaultOptions() *Options {
	return &Options{
		Inline: InlineOptions{
			Enabled:       true,
			MaxDepth:      4,
			MaxCalleeSize: 64,
			MaxCallerSize: 2048,
		},
		TierUp: TierUpOptions{
			Enabled:                false,
			Threshold:              1000,
			FunctionEntryIncrement: 15,
			LoopIncrement:          1,
		},
		MemoryMode: MemoryModeBoundsChecking,
		SIMD:       true,
		LogLevel:   "",
	}
}

// LoadOptions 从 TOML 文件加载配置，未出现的字段保持默认值
func LoadOptions(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.E0402, err, "failed to read options file")
	}
	return ParseOptions(data)
}

// ParseOptions 解析 TOML 文本
func ParseOptions(data []byte) (*Options, error) {
	opts := DefaultOptions()
	if err := toml.Unmarshal(data, opts); err != nil {
		return nil, cerrors.Wrap(cerrors.E0402, err, "failed to parse options")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// Validate 检查所有字段，返回全部问题
func (o *Options) Validate() error {
	var err error
	switch o.MemoryMode {
	case MemoryModeBoundsChecking, MemoryModeSignaling:
	default:
		err = multierr.Append(err, fmt.Errorf("unknown memory_mode %q", o.MemoryMode))
	}
	switch o.TargetArch {
	case "", "amd64", "386", "arm64":
	default:
		err = multierr.Append(err, fmt.Errorf("unsupported target_arch %q", o.TargetArch))
	}
	if o.Inline.Enabled && o.Inline.MaxDepth == 0 {
		err = multierr.Append(err, fmt.Errorf("inline.max_depth must be positive when inlining is enabled"))
	}
	if o.TierUp.Enabled {
		if o.TierUp.Threshold <= 0 {
			err = multierr.Append(err, fmt.Errorf("tierup.threshold must be positive"))
		}
		if o.TierUp.FunctionEntryIncrement <= 0 || o.TierUp.LoopIncrement <= 0 {
			err = multierr.Append(err, fmt.Errorf("tierup increments must be positive"))
		}
	}
	if o.Workers < 0 {
		err = multierr.Append(err, fmt.Errorf("workers must not be negative"))
	}
	if o.LogLevel != "" {
		if _, lerr := zapcore.ParseLevel(o.LogLevel); lerr != nil {
			err = multierr.Append(err, lerr)
		}
	}
	if err != nil {
		return cerrors.Wrap(cerrors.E0402, err, "invalid options")
	}
	return nil
}

// Arch 目标架构
func (o *Options) Arch() string {
	if o.TargetArch != "" {
		return o.TargetArch
	}
	return runtime.GOARCH
}

// WorkerCount 实际并发数
func (o *Options) WorkerCount() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// ShouldDumpIR 是否需要打印该函数的 IR
func (o *Options) ShouldDumpIR(function uint32) bool {
	for _, f := range o.DumpIRFunctions {
		if f == function {
			return true
		}
	}
	return false
}

// logger 取得日志器，LogLevel 为空时不输出
func (o *Options) logger() *zap.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	if o.LogLevel == "" {
		return zap.NewNop()
	}
	level, err := zapcore.ParseLevel(o.LogLevel)
	if err != nil {
		return zap.NewNop()
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	o.Logger = l
	return l
}

// NamedLogger 供运行时等其它组件使用的子日志器
func (o *Options) NamedLogger(name string) *zap.Logger {
	return o.logger().Named(name)
}
