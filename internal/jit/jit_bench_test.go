package jit

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/tangzhangming/novaomg/internal/wasm"
)

// ============================================================================
// 编译基准测试
// ============================================================================
//
// 运行：
//   go test -bench=. -benchmem ./internal/jit/...

// straightLine n 组算术指令
func straightLine(n int) string {
	var b strings.Builder
	b.WriteString("local.get 0\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "i32.const %d\ni32.add\nlocal.get 0\ni32.mul\n", i)
	}
	b.WriteString("end")
	return b.String()
}

func benchmarkCompile(b *testing.B, body string, opts *Options) {
	sig := funcType(vt(wasm.I32), vt(wasm.I32))
	info := &wasm.ModuleInformation{Types: []wasm.TypeDefinition{sig}}
	g := newGroup(b, info, testFunc{body: body})
	c := newTestCompiler(b, g, opts)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.compile(ctx, 0, -1); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCompileStraightLine(b *testing.B) {
	benchmarkCompile(b, straightLine(200), nil)
}

func BenchmarkCompileLoop(b *testing.B) {
	benchmarkCompile(b, countdownLoop, nil)
}

func BenchmarkCompileLoopWithTierUp(b *testing.B) {
	benchmarkCompile(b, countdownLoop, tierUpOptions())
}

func BenchmarkCompileModule(b *testing.B) {
	sig := funcType(vt(wasm.I32), vt(wasm.I32))
	const n = 64
	ctx := context.Background()

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		info := &wasm.ModuleInformation{Types: []wasm.TypeDefinition{sig}}
		funcs := make([]testFunc, n)
		for j := range funcs {
			funcs[j] = testFunc{body: fmt.Sprintf("local.get 0\ncall %d\ni32.const 1\ni32.add\nend", (j+1)%n)}
		}
		c := newTestCompiler(b, newGroup(b, info, funcs...), nil)
		b.StartTimer()

		if _, err := c.CompileModule(ctx); err != nil {
			b.Fatal(err)
		}
	}
}
