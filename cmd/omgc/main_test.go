package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangzhangming/novaomg/internal/i18n"
	"github.com/tangzhangming/novaomg/internal/jit"
	"github.com/tangzhangming/novaomg/internal/jit/ir"
	"github.com/tangzhangming/novaomg/internal/wasm"
)

const sample = "testdata/sample.toml"

func TestMain(m *testing.M) {
	i18n.SetLanguage(i18n.LangEnglish)
	os.Exit(m.Run())
}

func omgc(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := dispatch(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestPreprocessArgs(t *testing.T) {
	defer func() { globalLang = "" }()

	args := preprocessArgs([]string{"--lang", "zh", "run", "-lang=en", "x.toml"})
	assert.Equal(t, []string{"run", "x.toml"}, args)
	assert.Equal(t, "en", globalLang)
}

func TestVersionAndHelp(t *testing.T) {
	code, out, _ := omgc(t, "version")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "omgc "+Version)

	code, out, _ = omgc(t)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "Commands:")

	code, _, errOut := omgc(t, "frobnicate")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "unknown command 'frobnicate'")
}

func TestCompileSummary(t *testing.T) {
	code, out, errOut := omgc(t, "compile", sample)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "sample: 4 compiled, 0 failed")
	assert.Contains(t, out, "func 1:")
	assert.Contains(t, out, "func 4:")
}

func TestCompileIR(t *testing.T) {
	code, out, errOut := omgc(t, "compile", "-ir", "-func", "1", sample)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "; function 1\n")
	assert.Contains(t, out, ir.EntrySwitch.String())

	code, out, errOut = omgc(t, "compile", "-ir", "-func", "2", "-osr-loop", "0", sample)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "(osr entry, loop 0)")

	code, _, errOut = omgc(t, "compile", "-osr-loop", "0", sample)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "-osr-loop needs -func")

	code, _, errOut = omgc(t, "compile", "-func", "0", sample)
	assert.Equal(t, 1, code, "imports cannot be compiled")
	assert.Contains(t, errOut, "function 0 is not defined")
}

func TestCompileJSON(t *testing.T) {
	code, out, errOut := omgc(t, "compile", "-json", sample)
	require.Equal(t, 0, code, errOut)

	var dump jit.ModuleDump
	require.NoError(t, json.Unmarshal([]byte(out), &dump))
	require.Len(t, dump.Functions, 4)
	assert.Equal(t, uint32(1), dump.Functions[0].Function)
	assert.Equal(t, 4, dump.Group.Functions)
	assert.Equal(t, uint32(4), dump.Group.Compiled)
}

func TestCheck(t *testing.T) {
	code, out, errOut := omgc(t, "check", sample)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "sample: OK (4 functions)")

	bad := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte(`
[[types]]
results = ["i32"]

[[functions]]
type = 0
body = "i32.add\nend"
`), 0o644))
	code, _, errOut = omgc(t, "check", "-no-color", bad)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "1 error(s)")

	code, _, errOut = omgc(t, "check", filepath.Join(t.TempDir(), "missing.toml"))
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "E0403")
}

func TestRun(t *testing.T) {
	code, out, errOut := omgc(t, "run", sample, "fib", "10")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "fib => 55\n", out)

	code, out, errOut = omgc(t, "run", sample, "report", "7")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "7\nreport => 13\n", out)

	code, out, errOut = omgc(t, "run", "-osr", "-stats", sample, "sum", "100")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "sum => 5050\n")
	assert.Contains(t, out, "Runtime statistics:")
	assert.Contains(t, out, `"hotspot"`)
}

func TestRunErrors(t *testing.T) {
	code, _, errOut := omgc(t, "run", sample, "div", "1", "0")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "wasm trap")

	code, _, errOut = omgc(t, "run", sample, "fib")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "fib takes 1 arguments, got 0")

	code, _, errOut = omgc(t, "run", sample, "fib", "ten")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, `cannot parse "ten" as i32`)

	code, _, errOut = omgc(t, "run", sample, "nope")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, `no exported function "nope"`)

	code, _, errOut = omgc(t, "run", sample)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "no export name")
}

func TestValues(t *testing.T) {
	v, err := parseValue(wasm.I32, "0xffffffff")
	require.NoError(t, err)
	assert.Equal(t, "-1", formatValue(wasm.I32, v))

	v, err = parseValue(wasm.F64, "2.5")
	require.NoError(t, err)
	assert.Equal(t, "2.5", formatValue(wasm.F64, v))

	v, err = parseValue(wasm.ExternRef, "null")
	require.NoError(t, err)
	assert.Equal(t, "null", formatValue(wasm.ExternRef, v))
	assert.Equal(t, "(i31 -3)", formatValue(wasm.I31Ref, ir.Bits{wasm.BoxI31(-3)}))

	_, err = parseValue(wasm.V128, "0")
	assert.Error(t, err)
}
