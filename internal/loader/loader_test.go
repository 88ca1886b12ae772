package loader

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	cerrors "github.com/tangzhangming/novaomg/internal/errors"
	"github.com/tangzhangming/novaomg/internal/jit"
	"github.com/tangzhangming/novaomg/internal/wasm"
)

const fullDescription = `
name = "sample"

[options]
memory_mode = "signaling"

[options.inline]
enabled = false

[memory]
initial = 1
maximum = 4

[[types]]
params = ["i32", "i32"]
results = ["i32"]

[[types]]
struct = ["mut i32", "i8", "(ref null 1)"]
final = false

[[types]]
array = "mut i16"

[[types]]
struct = ["mut i32", "i8", "(ref null 1)", "f64"]
super = 1

[[functions]]
name = "log"
type = 0
import = "env.log"

[[functions]]
name = "add"
type = 0
export = true
body = """
local.get 0
local.get 1
i32.add
end
"""

[[globals]]
type = "i64"
mutable = true
init = -5

[[globals]]
type = "f32"
portable = true
init = 1.5

[[tables]]
element = "funcref"
initial = 2
maximum = 2

[[tags]]
type = 0

[[data]]
offset = 16
text = "hi"

[[data]]
passive = true
hex = "cafe"

[[elements]]
table = 0
offset = 0
functions = [1, 0]
`

func TestParseAndBuild(t *testing.T) {
	d, err := Parse([]byte(fullDescription))
	require.NoError(t, err)
	assert.Equal(t, "sample", d.Name)
	assert.Equal(t, jit.MemoryModeSignaling, d.Options.MemoryMode)
	assert.False(t, d.Options.Inline.Enabled)
	assert.Equal(t, uint32(4), d.Options.Inline.MaxDepth, "unset options keep defaults")

	m, err := d.Build()
	require.NoError(t, err)
	info := m.Info

	assert.Equal(t, wasm.MemoryInformation{Present: true, InitialPages: 1, MaximumPages: 4}, info.Memory)

	require.Len(t, info.Types, 4)
	assert.Equal(t, wasm.DefFunc, info.Types[0].Kind)
	assert.Equal(t, []wasm.Type{wasm.I32, wasm.I32}, info.Types[0].Func.Params)
	st := info.Types[1].Struct
	require.Len(t, st.Fields, 3)
	assert.True(t, st.Fields[0].Mutable)
	assert.Equal(t, wasm.PackedI8, st.Fields[1].Storage.Packed)
	assert.Equal(t, wasm.RefType(1, true), st.Fields[2].Storage.Type)
	assert.False(t, info.Types[1].Final)
	assert.Equal(t, wasm.PackedI16, info.Types[2].Array.Element.Storage.Packed)
	assert.Equal(t, int32(1), info.Types[3].Supertype)
	assert.True(t, info.Types[3].Final)

	require.Len(t, info.Functions, 2)
	assert.Equal(t, &wasm.ImportInfo{Module: "env", Name: "log"}, info.Functions[0].Import)
	require.Len(t, m.Functions, 1)
	assert.Equal(t, uint32(1), m.Functions[0].Index)
	assert.Len(t, m.Functions[0].Code, 4)
	fn, ok := info.ExportedFunction("add")
	require.True(t, ok)
	assert.Equal(t, uint32(1), fn)

	require.Len(t, info.Globals, 2)
	assert.Equal(t, uint64(0xfffffffffffffffb), info.Globals[0].Init[0])
	assert.Equal(t, wasm.BindingPortable, info.Globals[1].Binding)
	assert.Equal(t, uint64(math.Float32bits(1.5)), info.Globals[1].Init[0])

	require.Len(t, info.Tables, 1)
	assert.True(t, info.Tables[0].IsFixedSize())
	assert.Equal(t, []wasm.TagInformation{{TypeIndex: 0}}, info.Tags)
	require.Len(t, info.Data, 2)
	assert.Equal(t, []byte("hi"), info.Data[0].Bytes)
	assert.Equal(t, []byte{0xca, 0xfe}, info.Data[1].Bytes)
	assert.Equal(t, []uint32{1, 0}, info.Elements[0].Functions)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("[[functions]]\nbdy = \"end\"\n"))
	assert.Equal(t, cerrors.E0403, cerrors.CodeOf(err))

	_, err = Parse([]byte("[options]\nworkers = -1\n"))
	assert.Equal(t, cerrors.E0402, cerrors.CodeOf(err))
}

func TestBuildReportsEveryProblem(t *testing.T) {
	d, err := Parse([]byte(`
[[types]]
params = ["i33"]

[[types]]
struct = ["i32"]
array = "i32"

[[functions]]
import = "nodot"

[[functions]]
type = 0
export = true
body = "i32.frobnicate\nend"

[[tables]]
element = "i32"

[[data]]
hex = "zz"
`))
	require.NoError(t, err)
	_, err = d.Build()
	require.Error(t, err)
	assert.Equal(t, cerrors.E0403, cerrors.CodeOf(err))

	var ce *cerrors.CompileError
	require.ErrorAs(t, err, &ce)
	assert.Len(t, multierr.Errors(ce.Unwrap()), 7)
}

func TestBuildValidatesIndices(t *testing.T) {
	d, err := Parse([]byte(`
[[types]]
params = []

[[functions]]
type = 3
body = "end"
`))
	require.NoError(t, err)
	_, err = d.Build()
	assert.Equal(t, cerrors.E0403, cerrors.CodeOf(err))
}

func TestLoadResolvesOptionsFile(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "modules")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, OptionsFileName), []byte("workers = 3\n[tierup]\nenabled = true\n"), 0o644))

	path := filepath.Join(sub, "fib.toml")
	require.NoError(t, os.WriteFile(path, []byte(`options_file = "../omg.toml"
[options]
workers = 9
`), 0o644))

	d, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "fib", d.Name)
	assert.Equal(t, 3, d.Options.Workers, "options_file replaces the inline table")
	assert.True(t, d.Options.TierUp.Enabled)
	assert.Equal(t, sub, d.Dir())

	assert.Equal(t, filepath.Join(dir, OptionsFileName), FindOptionsFile(path))
	assert.Empty(t, FindOptionsFile(filepath.Join(dir, "missing")))

	_, err = Load(filepath.Join(dir, "missing.toml"))
	assert.Equal(t, cerrors.E0403, cerrors.CodeOf(err))
}
