// interpreter.go - IR 解释器
//
// 解释器直接执行一个 Procedure，用来代替机器码后端驱动测试和命令行工具。
// 内存、固定寄存器、运行时操作、调用、抛出以及异常恢复都委托给 Host，
// 解释器本身只负责值的计算和块之间的转移。

package ir

import (
	"fmt"

	"github.com/tangzhangming/novaomg/internal/wasm"
)

// ============================================================================
// 宿主接口
// ============================================================================

// Frame 一次激活的状态
type Frame struct {
	Proc     *Procedure
	Function uint32
	FP       uint64
	SP       uint64
	Entry    int // EntrySwitch 选择的入口
	Regs     [NumRegs]Bits
}

// PatchpointResult patchpoint 执行结果
type PatchpointResult struct {
	Values []Bits

	// Transfer 为真时当前激活已经被替换（OSR），Results 是函数的返回值
	Transfer bool
	Results  []Bits
}

// TailCall 终结型尾调用请求，由调用方在新帧上继续执行
type TailCall struct {
	Value *Value
	Args  []Bits // 与 Reps 一一对应
	NewFP uint64
}

// Outcome 一次执行的结果：返回值或尾调用请求
type Outcome struct {
	Results  []Bits
	TailCall *TailCall
}

// Host 解释器的运行环境
type Host interface {
	Load(addr uint64, size int) (Bits, error)
	Store(addr uint64, size int, value Bits) error
	Pinned(reg PinnedReg) uint64
	SetPinned(reg PinnedReg, value uint64)
	Trap(kind wasm.ExceptionType) error
	CCall(frame *Frame, op Operation, args []Bits) (Bits, error)
	Patchpoint(frame *Frame, v *Value, args []Bits) (PatchpointResult, error)

	// Catch 在 patchpoint 抛出 err 后查找本帧的处理器。找到时设置
	// frame.Entry 和入口参数寄存器并返回 true，执行从入口块重新开始。
	Catch(frame *Frame, v *Value, err error, live []Bits) bool
}

// ============================================================================
// 解释器
// ============================================================================

// Interpreter IR 解释器
type Interpreter struct {
	host     Host
	MaxSteps int // 大于 0 时限制执行的值个数
}

// NewInterpreter 创建解释器
func NewInterpreter(host Host) *Interpreter {
	return &Interpreter{host: host}
}

type state struct {
	frame   *Frame
	vals    []Bits
	shadows []Bits
	vars    []Bits
	tuples  map[int][]Bits
}

// Run 执行 frame.Proc，直到返回、尾调用或出错
func (in *Interpreter) Run(frame *Frame) (*Outcome, error) {
	proc := frame.Proc
	if len(proc.Blocks) == 0 {
		return nil, fmt.Errorf("ir: empty procedure")
	}
	st := &state{
		frame:   frame,
		vals:    make([]Bits, proc.ValueCount()),
		shadows: make([]Bits, proc.ValueCount()),
		vars:    make([]Bits, len(proc.Variables)),
		tuples:  make(map[int][]Bits),
	}

	steps := 0
	block := proc.Blocks[0]
restart:
	for {
		for _, v := range block.Values {
			steps++
			if in.MaxSteps > 0 && steps > in.MaxSteps {
				return nil, fmt.Errorf("ir: step limit %d exceeded", in.MaxSteps)
			}

			switch v.Op {
			case Jump:
				block = block.Successors[0].Block
				continue restart
			case Branch:
				if st.vals[v.Children[0].ID][0] != 0 {
					block = block.Successors[0].Block
				} else {
					block = block.Successors[1].Block
				}
				continue restart
			case Switch:
				x := st.vals[v.Children[0].ID][0]
				if v.Children[0].Type == Int32 {
					x = uint64(uint32(x))
				}
				next := block.Successors[len(block.Successors)-1].Block
				for i, c := range v.Cases {
					if c == x {
						next = block.Successors[i].Block
						break
					}
				}
				block = next
				continue restart
			case EntrySwitch:
				if frame.Entry < 0 || frame.Entry >= len(block.Successors) {
					return nil, fmt.Errorf("ir: no entrypoint %d", frame.Entry)
				}
				block = block.Successors[frame.Entry].Block
				continue restart
			case Oops:
				return nil, fmt.Errorf("ir: reached Oops in block #%d", block.Index)
			case PatchpointOp:
				out, caught, err := in.patchpoint(st, v)
				if err != nil {
					return nil, err
				}
				if caught {
					block = proc.Blocks[0]
					continue restart
				}
				if out != nil {
					return out, nil
				}
			default:
				if err := in.eval(st, v); err != nil {
					return nil, err
				}
			}
		}
		return nil, fmt.Errorf("ir: block #%d fell through", block.Index)
	}
}

func (in *Interpreter) args(st *state, v *Value) []Bits {
	args := make([]Bits, len(v.Children))
	for i, c := range v.Children {
		args[i] = st.vals[c.ID]
	}
	return args
}

func (in *Interpreter) patchpoint(st *state, v *Value) (*Outcome, bool, error) {
	p := v.Patch
	args := in.args(st, v)
	switch p.Kind {
	case PatchReturn:
		return &Outcome{Results: args[:p.StackmapFirst]}, false, nil
	case PatchTailCall, PatchTailCallIndirect:
		return &Outcome{TailCall: &TailCall{
			Value: v,
			Args:  args[:p.StackmapFirst],
			NewFP: st.frame.FP + uint64(int64(p.NewFPOffset)),
		}}, false, nil
	}

	res, err := in.host.Patchpoint(st.frame, v, args)
	if err != nil {
		if p.HasHandlers && in.host.Catch(st.frame, v, err, args[p.StackmapFirst:]) {
			return nil, true, nil
		}
		return nil, false, err
	}
	if res.Transfer {
		return &Outcome{Results: res.Results}, false, nil
	}
	if p.Terminal {
		return nil, false, fmt.Errorf("ir: terminal %s patchpoint returned", p.Kind)
	}
	switch v.Type {
	case Void:
	case Tuple:
		st.tuples[v.ID] = res.Values
	default:
		if len(res.Values) == 0 {
			return nil, false, fmt.Errorf("ir: %s patchpoint produced no value", p.Kind)
		}
		st.vals[v.ID] = res.Values[0]
	}
	return nil, false, nil
}

func (in *Interpreter) eval(st *state, v *Value) error {
	child := func(i int) Bits { return st.vals[v.Children[i].ID] }
	var r Bits
	var err error

	switch {
	case v.Op == Nop, v.Op == Fence:
		return nil
	case v.Op == ConstV128:
		r = Bits{v.Imm, v.ImmHi}
	case v.Op.IsConstant():
		r = normalize(v.Type, v.Imm)
	case v.Op == ArgumentReg:
		r = st.frame.Regs[v.Reg]
	case v.Op == FramePointer:
		r = Bits{st.frame.FP}
	case v.Op == GetPinned:
		r = Bits{in.host.Pinned(v.Pinned)}
	case v.Op == SetPinned:
		in.host.SetPinned(v.Pinned, child(0)[0])
		return nil

	case v.Op.IsBinaryArith() || v.Op.IsShift():
		r, err = evalBinary(v.Op, v.Type, child(0), child(1))
	case v.Op.IsComparison():
		r = evalCompare(v.Op, v.Children[0].Type, child(0), child(1))
	case v.Op == Select:
		if child(0)[0] != 0 {
			r = child(1)
		} else {
			r = child(2)
		}

	case v.Op.IsLoad():
		r, err = in.load(v, child(0)[0])
	case v.Op.IsStore():
		size := v.MemoryAccessSize()
		err = in.host.Store(child(1)[0]+v.Imm, size, child(0))
		return err
	case v.Op.IsAtomic():
		r, err = in.atomic(v, in.args(st, v))

	case v.Op == Get:
		r = st.vars[v.Variable.Index]
	case v.Op == Set:
		st.vars[v.Variable.Index] = child(0)
		return nil
	case v.Op == Phi:
		r = st.shadows[v.ID]
	case v.Op == Upsilon:
		st.shadows[v.Phi.ID] = child(0)
		return nil

	case v.Op == Check:
		if child(0)[0] != 0 {
			return in.host.Trap(v.Trap)
		}
		return nil
	case v.Op == CCall:
		r, err = in.host.CCall(st.frame, v.Call, in.args(st, v))
	case v.Op == Extract:
		tuple := st.tuples[v.Children[0].ID]
		if v.Index >= len(tuple) {
			return fmt.Errorf("ir: extract %d from a %d-tuple", v.Index, len(tuple))
		}
		r = tuple[v.Index]

	case v.Op >= VectorSplat:
		r, err = evalVector(v, in.args(st, v))
	default:
		r, err = evalUnary(v.Op, v.Type, v.Children[0], child(0))
	}
	if err != nil {
		return err
	}
	st.vals[v.ID] = r
	return nil
}

func (in *Interpreter) load(v *Value, ptr uint64) (Bits, error) {
	size := v.MemoryAccessSize()
	raw, err := in.host.Load(ptr+v.Imm, size)
	if err != nil {
		return Bits{}, err
	}
	switch v.Op {
	case Load8S:
		if v.Type == Int64 {
			return Bits{uint64(int64(int8(raw[0])))}, nil
		}
		return Bits{uint64(uint32(int32(int8(raw[0]))))}, nil
	case Load16S:
		if v.Type == Int64 {
			return Bits{uint64(int64(int16(raw[0])))}, nil
		}
		return Bits{uint64(uint32(int32(int16(raw[0]))))}, nil
	}
	return raw, nil
}

func (in *Interpreter) atomic(v *Value, args []Bits) (Bits, error) {
	ptr := args[len(args)-1][0] + v.Imm
	size := int(v.Width)
	mask := ^uint64(0)
	if size < 8 {
		mask = 1<<uint(size*8) - 1
	}
	old, err := in.host.Load(ptr, size)
	if err != nil {
		return Bits{}, err
	}
	o := old[0] & mask
	x := args[0][0]
	var n uint64
	switch v.Op {
	case AtomicXchgAdd:
		n = o + x
	case AtomicXchgSub:
		n = o - x
	case AtomicXchgAnd:
		n = o & x
	case AtomicXchgOr:
		n = o | x
	case AtomicXchgXor:
		n = o ^ x
	case AtomicXchg:
		n = x
	case AtomicStrongCAS:
		n = o
		if o == x&mask {
			n = args[1][0]
		}
	}
	if err := in.host.Store(ptr, size, Bits{n & mask}); err != nil {
		return Bits{}, err
	}
	return normalize(v.Type, o), nil
}
