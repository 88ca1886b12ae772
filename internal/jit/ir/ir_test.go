package ir

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/tangzhangming/novaomg/internal/wasm"
)

// testHost 最小宿主：按字节保存内存
type testHost struct {
	mem     map[uint64]byte
	pinned  [NumPinnedRegs]uint64
	calls   int
	catchAt int // 捕获的入口编号，-1 表示不捕获
}

func newTestHost() *testHost {
	return &testHost{mem: make(map[uint64]byte), catchAt: -1}
}

type testTrap struct{ kind wasm.ExceptionType }

func (t *testTrap) Error() string { return t.kind.String() }

func (h *testHost) Load(addr uint64, size int) (Bits, error) {
	var r Bits
	for i := 0; i < size; i++ {
		r[i/8] |= uint64(h.mem[addr+uint64(i)]) << uint(8*(i%8))
	}
	return r, nil
}

func (h *testHost) Store(addr uint64, size int, v Bits) error {
	for i := 0; i < size; i++ {
		h.mem[addr+uint64(i)] = byte(v[i/8] >> uint(8*(i%8)))
	}
	return nil
}

func (h *testHost) Pinned(r PinnedReg) uint64         { return h.pinned[r] }
func (h *testHost) SetPinned(r PinnedReg, v uint64)   { h.pinned[r] = v }
func (h *testHost) Trap(kind wasm.ExceptionType) error { return &testTrap{kind} }

func (h *testHost) CCall(_ *Frame, op Operation, args []Bits) (Bits, error) {
	return Bits{}, fmt.Errorf("unexpected ccall %s", op)
}

func (h *testHost) Patchpoint(_ *Frame, v *Value, args []Bits) (PatchpointResult, error) {
	h.calls++
	switch v.Patch.Kind {
	case PatchCall:
		return PatchpointResult{Values: []Bits{I32(args[0].Int32() * 2)}}, nil
	case PatchThrow:
		return PatchpointResult{}, errors.New("thrown")
	}
	return PatchpointResult{}, nil
}

func (h *testHost) Catch(frame *Frame, _ *Value, _ error, live []Bits) bool {
	if h.catchAt < 0 {
		return false
	}
	frame.Entry = h.catchAt
	frame.Regs[GPR0] = live[0]
	h.catchAt = -1
	return true
}

func returnValue(b *BasicBlock, v *Value) {
	b.AppendPatchpoint(Void, &Patchpoint{
		Kind:     PatchReturn,
		Terminal: true,
		Reps:     []ValueRep{RegisterRep(GPR0)},
	}, v)
}

func TestInterpretStraightLine(t *testing.T) {
	proc := NewProcedure()
	b := proc.AddBlock()
	x := b.AppendNew(ArgumentReg, Int32)
	x.Reg = GPR0
	y := b.AppendNew(ArgumentReg, Int32)
	y.Reg = GPR0 + 1
	sum := b.AppendNew(Add, Int32, x, y)
	returnValue(b, sum)

	if err := proc.Validate(); err != nil {
		t.Fatal(err)
	}

	frame := &Frame{Proc: proc}
	frame.Regs[0] = I32(3)
	frame.Regs[1] = I32(4)
	out, err := NewInterpreter(newTestHost()).Run(frame)
	if err != nil {
		t.Fatal(err)
	}
	if got := out.Results[0].Int32(); got != 7 {
		t.Errorf("expected 7, got %d", got)
	}
}

func TestInterpretLoopWithPhi(t *testing.T) {
	// sum = 0; for i = n; i != 0; i-- { sum += i }
	proc := NewProcedure()
	entry := proc.AddBlock()
	header := proc.AddBlock()
	exit := proc.AddBlock()

	n := entry.AppendNew(ArgumentReg, Int32)
	zero := proc.NewConstant(Int32, 0)
	one := proc.NewConstant(Int32, 1)
	entry.InsertFront(zero, one)
	iPhi := proc.NewPhi(Int32)
	sumPhi := proc.NewPhi(Int32)
	entry.AppendUpsilon(n, iPhi)
	entry.AppendUpsilon(zero, sumPhi)
	entry.AppendJump(header)

	header.Append(iPhi)
	header.Append(sumPhi)
	sum := header.AppendNew(Add, Int32, sumPhi, iPhi)
	i := header.AppendNew(Sub, Int32, iPhi, one)
	header.AppendUpsilon(i, iPhi)
	header.AppendUpsilon(sum, sumPhi)
	done := header.AppendNew(Equal, Int32, i, zero)
	header.AppendBranch(done, FrequentedBlock{Block: exit}, FrequentedBlock{Block: header})
	returnValue(exit, sum)

	proc.ResetPredecessors()
	if err := proc.Validate(); err != nil {
		t.Fatal(err)
	}

	frame := &Frame{Proc: proc}
	frame.Regs[0] = I32(10)
	out, err := NewInterpreter(newTestHost()).Run(frame)
	if err != nil {
		t.Fatal(err)
	}
	if got := out.Results[0].Int32(); got != 55 {
		t.Errorf("expected 55, got %d", got)
	}
}

func TestInterpretCheckTraps(t *testing.T) {
	proc := NewProcedure()
	b := proc.AddBlock()
	x := b.AppendNew(ArgumentReg, Int32)
	b.AppendCheck(wasm.ExceptionDivisionByZero, b.AppendNew(Equal, Int32, x, b.AppendNew(Const32, Int32)))
	returnValue(b, x)

	frame := &Frame{Proc: proc}
	_, err := NewInterpreter(newTestHost()).Run(frame)
	var trap *testTrap
	if !errors.As(err, &trap) || trap.kind != wasm.ExceptionDivisionByZero {
		t.Fatalf("expected division trap, got %v", err)
	}
}

func TestInterpretCatchRestartsAtEntry(t *testing.T) {
	proc := NewProcedure()
	top := proc.AddBlock()
	body := proc.AddBlock()
	handler := proc.AddBlock()
	proc.NumEntrypoints = 2
	top.AppendEntrySwitch([]*BasicBlock{body, handler})

	live := body.AppendNew(Const32, Int32)
	live.Imm = 41
	body.AppendPatchpoint(Void, &Patchpoint{Kind: PatchThrow, Terminal: true, HasHandlers: true}, live)

	arg := handler.AppendNew(ArgumentReg, Int32)
	one := handler.AppendNew(Const32, Int32)
	one.Imm = 1
	returnValue(handler, handler.AppendNew(Add, Int32, arg, one))

	proc.ResetPredecessors()
	if err := proc.Validate(); err != nil {
		t.Fatal(err)
	}

	host := newTestHost()
	host.catchAt = 1
	out, err := NewInterpreter(host).Run(&Frame{Proc: proc})
	if err != nil {
		t.Fatal(err)
	}
	if got := out.Results[0].Int32(); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}

	// 没有处理器时错误向外传播
	if _, err := NewInterpreter(newTestHost()).Run(&Frame{Proc: proc}); err == nil {
		t.Error("expected the throw to escape")
	}
}

func TestInterpretTailCall(t *testing.T) {
	proc := NewProcedure()
	b := proc.AddBlock()
	arg := b.AppendNew(Const64, Int64)
	arg.Imm = 9
	b.AppendPatchpoint(Void, &Patchpoint{
		Kind:        PatchTailCall,
		Terminal:    true,
		NewFPOffset: -16,
		Reps:        []ValueRep{RegisterRep(GPR0)},
	}, arg)

	out, err := NewInterpreter(newTestHost()).Run(&Frame{Proc: proc, FP: 0x1000})
	if err != nil {
		t.Fatal(err)
	}
	if out.TailCall == nil || out.TailCall.NewFP != 0x1000-16 || out.TailCall.Args[0].Int64() != 9 {
		t.Errorf("bad tail call request %+v", out.TailCall)
	}
}

func TestValidateReportsProblems(t *testing.T) {
	tests := []struct {
		name  string
		build func(p *Procedure)
		code  string
	}{
		{"missing terminal", func(p *Procedure) {
			p.AddBlock().AppendNew(Const32, Int32)
		}, "E0300"},
		{"use before def", func(p *Procedure) {
			b := p.AddBlock()
			c := p.NewConstant(Int32, 1)
			b.AppendNew(Add, Int32, c, c)
			b.Append(c)
			b.AppendOops()
		}, "E0301"},
		{"type mismatch", func(p *Procedure) {
			b := p.AddBlock()
			x := b.AppendNew(Const32, Int32)
			y := b.AppendNew(Const64, Int64)
			b.AppendNew(Add, Int32, x, y)
			b.AppendOops()
		}, "E0302"},
		{"misplaced entry switch", func(p *Procedure) {
			b0 := p.AddBlock()
			b1 := p.AddBlock()
			b0.AppendJump(b1)
			b1.AppendEntrySwitch([]*BasicBlock{b1})
		}, "E0303"},
		{"non-dominating use", func(p *Procedure) {
			b0, left, right, join := p.AddBlock(), p.AddBlock(), p.AddBlock(), p.AddBlock()
			c := b0.AppendNew(Const32, Int32)
			b0.AppendBranch(c, FrequentedBlock{Block: left}, FrequentedBlock{Block: right})
			v := left.AppendNew(Add, Int32, c, c)
			left.AppendJump(join)
			right.AppendJump(join)
			join.AppendNew(Add, Int32, v, c)
			join.AppendOops()
		}, "E0301"},
	}

	for _, tt := range tests {
		p := NewProcedure()
		tt.build(p)
		p.ResetPredecessors()
		err := p.Validate()
		if err == nil {
			t.Errorf("%s: expected validation error", tt.name)
			continue
		}
		if !strings.Contains(err.Error(), tt.code) {
			t.Errorf("%s: expected %s, got %v", tt.name, tt.code, err)
		}
	}
}

func TestResetReachability(t *testing.T) {
	p := NewProcedure()
	b0, dead, live := p.AddBlock(), p.AddBlock(), p.AddBlock()
	b0.AppendJump(live)
	dead.AppendJump(live)
	live.AppendOops()

	p.ResetReachability()
	if len(p.Blocks) != 2 || p.Blocks[1] != live || live.Index != 1 {
		t.Fatalf("unexpected blocks after pruning: %d", len(p.Blocks))
	}
	if len(live.Predecessors) != 1 || live.Predecessors[0] != b0 {
		t.Errorf("predecessors not recomputed")
	}
}

func TestDominators(t *testing.T) {
	p := NewProcedure()
	b0, left, right, join := p.AddBlock(), p.AddBlock(), p.AddBlock(), p.AddBlock()
	c := b0.AppendNew(Const32, Int32)
	b0.AppendBranch(c, FrequentedBlock{Block: left}, FrequentedBlock{Block: right})
	left.AppendJump(join)
	right.AppendJump(join)
	join.AppendOops()
	p.ResetPredecessors()

	dom := p.ComputeDominators()
	if dom.IDom(join) != 0 {
		t.Errorf("idom(join) = %d, want 0", dom.IDom(join))
	}
	if dom.Dominates(left, join) {
		t.Error("left must not dominate join")
	}
	if !dom.Dominates(b0, right) {
		t.Error("entry must dominate right")
	}
}

func TestEvalSemantics(t *testing.T) {
	tests := []struct {
		op   Opcode
		t    Type
		a, b Bits
		want Bits
	}{
		{ChillDiv, Int32, I32(math.MinInt32), I32(-1), I32(math.MinInt32)},
		{ChillMod, Int32, I32(math.MinInt32), I32(-1), I32(0)},
		{ChillDiv, Int64, I64(7), I64(0), I64(0)},
		{RotL, Int32, I32(1), I32(33), I32(2)},
		{ZShr, Int64, I64(-1), I64(60), I64(15)},
		{FMin, Double, F64(0), F64(math.Copysign(0, -1)), F64(math.Copysign(0, -1))},
		{Above, Int32, I32(-1), I32(1), I32(1)},
		{LessThan, Int32, I32(-1), I32(1), I32(1)},
	}
	for _, tt := range tests {
		var got Bits
		var err error
		if tt.op.IsComparison() {
			got = evalCompare(tt.op, tt.t, tt.a, tt.b)
		} else {
			got, err = evalBinary(tt.op, tt.t, tt.a, tt.b)
		}
		if err != nil {
			t.Errorf("%s: %v", tt.op, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s(%x, %x) = %x, want %x", tt.op, tt.a, tt.b, got, tt.want)
		}
	}

	if _, err := evalBinary(Div, Int32, I32(1), I32(0)); err == nil {
		t.Error("Div by zero must be rejected")
	}
	if got := truncSaturate(math.NaN(), Int32, true); got != (Bits{}) {
		t.Errorf("NaN must truncate to 0, got %x", got)
	}
	if got := truncSaturate(1e20, Int32, false); got[0] != math.MaxUint32 {
		t.Errorf("expected saturation, got %x", got)
	}
}

func TestSwizzleSemantics(t *testing.T) {
	var table Bits
	for i := 0; i < 16; i++ {
		table = setLane(table, LaneI8, i, uint64(0x10+i))
	}
	var idx Bits
	idx = setLane(idx, LaneI8, 0, 1)
	idx = setLane(idx, LaneI8, 1, 17)

	portable := &Value{Op: VectorSwizzle, Lane: LaneI8}
	got, _ := evalVector(portable, []Bits{table, idx})
	if lane(got, LaneI8, 0) != 0x11 || lane(got, LaneI8, 1) != 0 {
		t.Errorf("portable swizzle wrong: %x", got)
	}

	// x86 语义需要先做饱和加 0x70
	x86 := &Value{Op: VectorSwizzle, Lane: LaneI8, Imm: 1}
	unfixed, _ := evalVector(x86, []Bits{table, idx})
	if lane(unfixed, LaneI8, 1) == 0 {
		t.Error("x86 shuffle should wrap index 17 without the fixup")
	}
	var bias Bits
	for i := 0; i < 16; i++ {
		bias = setLane(bias, LaneI8, i, 0x70)
	}
	fixed, _ := evalVector(&Value{Op: VectorAddSat, Lane: LaneI8}, []Bits{idx, bias})
	got, _ = evalVector(x86, []Bits{table, fixed})
	if lane(got, LaneI8, 0) != 0x11 || lane(got, LaneI8, 1) != 0 {
		t.Errorf("fixed-up x86 swizzle wrong: %x", got)
	}
}

func TestPrinter(t *testing.T) {
	proc := NewProcedure()
	b := proc.AddBlock()
	c := proc.NewConstant(Int32, 5)
	b.InsertFront(c)
	b.AppendCheck(wasm.ExceptionOutOfBoundsMemoryAccess, c)
	b.AppendOops()

	text := proc.String()
	for _, want := range []string{"BB#0:", "Int32 @0 = Const32(5)", "Check(@0, "} {
		if !strings.Contains(text, want) {
			t.Errorf("dump missing %q:\n%s", want, text)
		}
	}
}
