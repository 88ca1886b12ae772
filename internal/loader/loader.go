// loader.go - 模块描述文件
//
// 模块描述是一个 TOML 文件：类型、函数（文本形式的函数体）、内存、表、
// 全局变量、标签、数据段和元素段，以及可选的编译选项。例如：
//
//	options_file = "omg.toml"
//
//	[memory]
//	initial = 1
//
//	[[types]]
//	params = ["i32", "i32"]
//	results = ["i32"]
//
//	[[functions]]
//	name = "add"
//	type = 0
//	export = true
//	body = """
//	local.get 0
//	local.get 1
//	i32.add
//	end
//	"""

package loader

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/multierr"

	"github.com/tangzhangming/novaomg/internal/bytecode"
	cerrors "github.com/tangzhangming/novaomg/internal/errors"
	"github.com/tangzhangming/novaomg/internal/jit"
	"github.com/tangzhangming/novaomg/internal/wasm"
)

// 常量定义
const (
	DescriptionFileExtension = ".toml"
	OptionsFileName          = "omg.toml" // 向上查找的默认选项文件
)

// ============================================================================
// 描述结构
// ============================================================================

// Description 模块描述
type Description struct {
	Name string `toml:"name"`

	// OptionsFile 相对描述文件所在目录；设置时覆盖 [options]
	OptionsFile string      `toml:"options_file"`
	Options     jit.Options `toml:"options"`

	Memory    *MemoryDesc    `toml:"memory"`
	Types     []TypeDesc     `toml:"types"`
	Functions []FunctionDesc `toml:"functions"`
	Globals   []GlobalDesc   `toml:"globals"`
	Tables    []TableDesc    `toml:"tables"`
	Tags      []TagDesc      `toml:"tags"`
	Data      []DataDesc     `toml:"data"`
	Elements  []ElementDesc  `toml:"elements"`

	dir string
}

// MemoryDesc 线性内存
type MemoryDesc struct {
	Initial uint32 `toml:"initial"`
	Maximum uint32 `toml:"maximum"`
	Shared  bool   `toml:"shared"`
}

// TypeDesc 类型段的一项：函数、结构体或数组之一
type TypeDesc struct {
	Params  []string `toml:"params"`
	Results []string `toml:"results"`

	// Struct 字段列表，如 "mut i32"、"i8"
	Struct []string `toml:"struct"`
	Array  string   `toml:"array"`

	Super *int32 `toml:"super"`
	Final *bool  `toml:"final"`
}

// FunctionDesc 函数；Import 非空时为导入，写作 "模块名.函数名"
type FunctionDesc struct {
	Name   string `toml:"name"`
	Type   uint32 `toml:"type"`
	Export bool   `toml:"export"`
	Import string `toml:"import"`
	Body   string `toml:"body"`
}

// GlobalDesc 全局变量。Init 为整数或浮点数；引用类型只能为空引用。
type GlobalDesc struct {
	Type     string `toml:"type"`
	Mutable  bool   `toml:"mutable"`
	Portable bool   `toml:"portable"`
	Init     any    `toml:"init"`
}

// TableDesc 表
type TableDesc struct {
	Element string  `toml:"element"`
	Initial uint32  `toml:"initial"`
	Maximum *uint32 `toml:"maximum"`
}

// TagDesc 异常标签
type TagDesc struct {
	Type uint32 `toml:"type"`
}

// DataDesc 数据段；Text 与 Hex 二选一
type DataDesc struct {
	Offset  uint32 `toml:"offset"`
	Passive bool   `toml:"passive"`
	Text    string `toml:"text"`
	Hex     string `toml:"hex"`
}

// ElementDesc 元素段
type ElementDesc struct {
	Table     uint32   `toml:"table"`
	Offset    uint32   `toml:"offset"`
	Passive   bool     `toml:"passive"`
	Functions []uint32 `toml:"functions"`
}

// ============================================================================
// 加载
// ============================================================================

// Load 从文件加载模块描述
func Load(path string) (*Description, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.E0403, err, "failed to read module description")
	}
	d, err := parse(data, filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	if d.Name == "" {
		d.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return d, nil
}

// Parse 解析模块描述文本；options_file 相对当前目录
func Parse(data []byte) (*Description, error) {
	return parse(data, ".")
}

func parse(data []byte, dir string) (*Description, error) {
	d := &Description{Options: *jit.DefaultOptions(), dir: dir}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(d); err != nil {
		return nil, cerrors.Wrap(cerrors.E0403, err, "failed to parse module description")
	}
	if d.OptionsFile != "" {
		path := d.OptionsFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		opts, err := jit.LoadOptions(path)
		if err != nil {
			return nil, err
		}
		d.Options = *opts
	} else if err := d.Options.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// FindOptionsFile 从 startPath 向上查找 omg.toml，找不到时返回空字符串
func FindOptionsFile(startPath string) string {
	info, err := os.Stat(startPath)
	if err != nil {
		return ""
	}
	dir := startPath
	if !info.IsDir() {
		dir = filepath.Dir(startPath)
	}
	if dir, err = filepath.Abs(dir); err != nil {
		return ""
	}
	for {
		path := filepath.Join(dir, OptionsFileName)
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// ============================================================================
// 构建
// ============================================================================

// Build 构造模块。所有描述问题一起返回。
func (d *Description) Build() (*bytecode.Module, error) {
	info := &wasm.ModuleInformation{}
	m := &bytecode.Module{Info: info}
	var errs error
	fail := func(format string, args ...interface{}) {
		errs = multierr.Append(errs, fmt.Errorf(format, args...))
	}

	if d.Memory != nil {
		info.Memory = wasm.MemoryInformation{
			Present:      true,
			InitialPages: d.Memory.Initial,
			MaximumPages: d.Memory.Maximum,
			Shared:       d.Memory.Shared,
		}
	}

	for i, t := range d.Types {
		def, err := t.definition()
		if err != nil {
			fail("type %d: %v", i, err)
			continue
		}
		info.Types = append(info.Types, def)
	}

	for i, f := range d.Functions {
		fi := wasm.FunctionInfo{Name: f.Name, TypeIndex: f.Type}
		if f.Import != "" {
			module, name, ok := strings.Cut(f.Import, ".")
			if !ok {
				fail("function %d: import %q is not of the form module.name", i, f.Import)
			}
			fi.Import = &wasm.ImportInfo{Module: module, Name: name}
			if f.Body != "" {
				fail("function %d: an import has no body", i)
			}
		} else {
			body, err := bytecode.ParseFunction(f.Body)
			if err != nil {
				fail("function %d: %v", i, err)
				body = &bytecode.Function{}
			}
			body.Index = uint32(i)
			m.Functions = append(m.Functions, body)
		}
		if f.Export {
			if f.Name == "" {
				fail("function %d: exported functions need a name", i)
			}
			info.Exports = append(info.Exports, wasm.Export{Name: f.Name, Kind: wasm.ExportFunction, Index: uint32(i)})
		}
		info.Functions = append(info.Functions, fi)
	}

	for i, g := range d.Globals {
		gi, err := g.information()
		if err != nil {
			fail("global %d: %v", i, err)
			continue
		}
		info.Globals = append(info.Globals, gi)
	}

	for i, t := range d.Tables {
		elem, err := wasm.ParseType(t.Element)
		if err != nil || !elem.IsRef() {
			fail("table %d: element type %q is not a reference type", i, t.Element)
			continue
		}
		ti := wasm.TableInformation{Element: elem, Initial: t.Initial}
		if t.Maximum != nil {
			ti.Maximum, ti.HasMaximum = *t.Maximum, true
		}
		info.Tables = append(info.Tables, ti)
	}

	for _, t := range d.Tags {
		info.Tags = append(info.Tags, wasm.TagInformation{TypeIndex: t.Type})
	}

	for i, seg := range d.Data {
		payload := []byte(seg.Text)
		if seg.Hex != "" {
			if seg.Text != "" {
				fail("data %d: text and hex are exclusive", i)
			}
			var err error
			if payload, err = hex.DecodeString(seg.Hex); err != nil {
				fail("data %d: %v", i, err)
			}
		}
		info.Data = append(info.Data, wasm.DataSegment{Passive: seg.Passive, Offset: seg.Offset, Bytes: payload})
	}

	for _, seg := range d.Elements {
		info.Elements = append(info.Elements, wasm.ElementSegment{
			Passive:   seg.Passive,
			Table:     seg.Table,
			Offset:    seg.Offset,
			Functions: seg.Functions,
		})
	}

	if errs == nil {
		errs = info.Validate()
	}
	if errs != nil {
		return nil, cerrors.Wrap(cerrors.E0403, errs, "invalid module description")
	}
	return m, nil
}

// Dir 描述文件所在目录
func (d *Description) Dir() string { return d.dir }

func (t TypeDesc) definition() (wasm.TypeDefinition, error) {
	var def wasm.TypeDefinition
	kinds := 0
	if t.Struct != nil {
		kinds++
		fields := make([]wasm.FieldType, len(t.Struct))
		for i, s := range t.Struct {
			f, err := parseField(s)
			if err != nil {
				return def, err
			}
			fields[i] = f
		}
		def = wasm.StructDef(fields...)
	}
	if t.Array != "" {
		kinds++
		elem, err := parseField(t.Array)
		if err != nil {
			return def, err
		}
		def = wasm.ArrayDef(elem)
	}
	if t.Params != nil || t.Results != nil || kinds == 0 {
		kinds++
		sig := &wasm.FunctionSignature{}
		for _, s := range t.Params {
			p, err := wasm.ParseType(s)
			if err != nil {
				return def, err
			}
			sig.Params = append(sig.Params, p)
		}
		for _, s := range t.Results {
			r, err := wasm.ParseType(s)
			if err != nil {
				return def, err
			}
			sig.Results = append(sig.Results, r)
		}
		def = wasm.FuncDef(sig)
	}
	if kinds != 1 {
		return def, fmt.Errorf("a type is exactly one of function, struct or array")
	}

	super := int32(wasm.NoSupertype)
	if t.Super != nil {
		super = *t.Super
	}
	final := true
	if t.Final != nil {
		final = *t.Final
	}
	return def.WithSupertype(super, final), nil
}

// parseField "mut i32"、"i8"、"(ref null 0)"
func parseField(s string) (wasm.FieldType, error) {
	var f wasm.FieldType
	if rest, ok := strings.CutPrefix(s, "mut "); ok {
		f.Mutable = true
		s = strings.TrimSpace(rest)
	}
	switch s {
	case "i8":
		f.Storage = wasm.StorageType{Type: wasm.I32, Packed: wasm.PackedI8}
		return f, nil
	case "i16":
		f.Storage = wasm.StorageType{Type: wasm.I32, Packed: wasm.PackedI16}
		return f, nil
	}
	t, err := wasm.ParseType(s)
	if err != nil {
		return f, err
	}
	f.Storage = wasm.StorageType{Type: t}
	return f, nil
}

func (g GlobalDesc) information() (wasm.GlobalInformation, error) {
	t, err := wasm.ParseType(g.Type)
	if err != nil {
		return wasm.GlobalInformation{}, err
	}
	gi := wasm.GlobalInformation{Type: t, Mutable: g.Mutable}
	if g.Portable {
		gi.Binding = wasm.BindingPortable
	}
	switch v := g.Init.(type) {
	case nil:
	case int64:
		switch t.Kind {
		case wasm.KindI32:
			gi.Init[0] = uint64(uint32(v))
		case wasm.KindI64:
			gi.Init[0] = uint64(v)
		case wasm.KindF32:
			gi.Init[0] = uint64(math.Float32bits(float32(v)))
		case wasm.KindF64:
			gi.Init[0] = math.Float64bits(float64(v))
		default:
			return gi, fmt.Errorf("%s cannot be initialized with %d", t, v)
		}
	case float64:
		switch t.Kind {
		case wasm.KindF32:
			gi.Init[0] = uint64(math.Float32bits(float32(v)))
		case wasm.KindF64:
			gi.Init[0] = math.Float64bits(v)
		default:
			return gi, fmt.Errorf("%s cannot be initialized with %v", t, v)
		}
	default:
		return gi, fmt.Errorf("unsupported initializer %v", v)
	}
	return gi, nil
}
