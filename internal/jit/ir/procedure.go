package ir

import "github.com/tangzhangming/novaomg/internal/wasm"

// ============================================================================
// 基本块
// ============================================================================

// FrequentedBlock 带执行频率的后继边
type FrequentedBlock struct {
	Block     *BasicBlock
	Frequency Frequency
}

// BasicBlock 基本块：值序列，最后一个值为终结值
type BasicBlock struct {
	Index        int
	Values       []*Value
	Successors   []FrequentedBlock
	Predecessors []*BasicBlock

	proc *Procedure
}

// Procedure 所属过程
func (b *BasicBlock) Procedure() *Procedure { return b.proc }

// Last 最后一个值
func (b *BasicBlock) Last() *Value {
	if len(b.Values) == 0 {
		return nil
	}
	return b.Values[len(b.Values)-1]
}

// Terminated 是否已经以终结值结尾
func (b *BasicBlock) Terminated() bool {
	last := b.Last()
	return last != nil && last.IsTerminal()
}

// Append 追加一个已创建的值
func (b *BasicBlock) Append(v *Value) *Value {
	v.Owner = b
	b.Values = append(b.Values, v)
	return v
}

// InsertFront 把值插入块首，保持给定顺序
func (b *BasicBlock) InsertFront(values ...*Value) {
	for _, v := range values {
		v.Owner = b
	}
	b.Values = append(append(make([]*Value, 0, len(values)+len(b.Values)), values...), b.Values...)
}

// AppendNew 创建并追加
func (b *BasicBlock) AppendNew(op Opcode, t Type, children ...*Value) *Value {
	return b.Append(b.proc.NewValue(op, t, children...))
}

// AppendLoad 读内存，ptr + offset
func (b *BasicBlock) AppendLoad(op Opcode, t Type, ptr *Value, offset int32) *Value {
	v := b.AppendNew(op, t, ptr)
	v.Imm = uint64(int64(offset))
	return v
}

// AppendStore 写内存，ptr + offset
func (b *BasicBlock) AppendStore(op Opcode, value, ptr *Value, offset int32) *Value {
	v := b.AppendNew(op, Void, value, ptr)
	v.Imm = uint64(int64(offset))
	return v
}

// AppendAtomic 原子读改写；CAS 的子节点为 (expected, new, ptr)，其余为 (value, ptr)
func (b *BasicBlock) AppendAtomic(op Opcode, t Type, width uint8, offset int32, children ...*Value) *Value {
	v := b.AppendNew(op, t, children...)
	v.Width = width
	v.Imm = uint64(int64(offset))
	return v
}

// AppendGet 读变量
func (b *BasicBlock) AppendGet(variable *Variable) *Value {
	v := b.AppendNew(Get, variable.Type)
	v.Variable = variable
	return v
}

// AppendSet 写变量
func (b *BasicBlock) AppendSet(variable *Variable, value *Value) *Value {
	v := b.AppendNew(Set, Void, value)
	v.Variable = variable
	return v
}

// AppendUpsilon 为 phi 提供一个输入
func (b *BasicBlock) AppendUpsilon(value, phi *Value) *Value {
	v := b.AppendNew(Upsilon, Void, value)
	v.Phi = phi
	return v
}

// AppendCheck 条件非零时陷入
func (b *BasicBlock) AppendCheck(kind wasm.ExceptionType, cond *Value) *Value {
	v := b.AppendNew(Check, Void, cond)
	v.Trap = kind
	return v
}

// AppendCCall 调用运行时操作
func (b *BasicBlock) AppendCCall(t Type, op Operation, args ...*Value) *Value {
	v := b.AppendNew(CCall, t, args...)
	v.Call = op
	return v
}

// AppendExtract 取元组的第 i 个分量
func (b *BasicBlock) AppendExtract(tuple *Value, index int, t Type) *Value {
	v := b.AppendNew(Extract, t, tuple)
	v.Index = index
	return v
}

// AppendGetPinned 读固定寄存器
func (b *BasicBlock) AppendGetPinned(reg PinnedReg) *Value {
	v := b.AppendNew(GetPinned, Int64)
	v.Pinned = reg
	return v
}

// AppendSetPinned 写固定寄存器
func (b *BasicBlock) AppendSetPinned(reg PinnedReg, value *Value) *Value {
	v := b.AppendNew(SetPinned, Void, value)
	v.Pinned = reg
	return v
}

// AppendPatchpoint 追加 patchpoint
func (b *BasicBlock) AppendPatchpoint(t Type, p *Patchpoint, children ...*Value) *Value {
	v := b.AppendNew(PatchpointOp, t, children...)
	v.Patch = p
	p.StackmapFirst = len(p.Reps)
	return v
}

// AppendJump 无条件跳转
func (b *BasicBlock) AppendJump(target *BasicBlock) *Value {
	v := b.AppendNew(Jump, Void)
	b.Successors = []FrequentedBlock{{Block: target}}
	return v
}

// AppendBranch 条件跳转：非零到 taken，否则到 notTaken
func (b *BasicBlock) AppendBranch(cond *Value, taken, notTaken FrequentedBlock) *Value {
	v := b.AppendNew(Branch, Void, cond)
	b.Successors = []FrequentedBlock{taken, notTaken}
	return v
}

// AppendSwitch 多路跳转
func (b *BasicBlock) AppendSwitch(scrutinee *Value, cases []uint64, targets []FrequentedBlock, fallThrough FrequentedBlock) *Value {
	v := b.AppendNew(Switch, Void, scrutinee)
	v.Cases = cases
	b.Successors = append(append([]FrequentedBlock{}, targets...), fallThrough)
	return v
}

// AppendEntrySwitch 按入口编号选择后继
func (b *BasicBlock) AppendEntrySwitch(entries []*BasicBlock) *Value {
	v := b.AppendNew(EntrySwitch, Void)
	b.Successors = b.Successors[:0]
	for _, e := range entries {
		b.Successors = append(b.Successors, FrequentedBlock{Block: e})
	}
	return v
}

// AppendOops 不可达的终结
func (b *BasicBlock) AppendOops() *Value {
	b.Successors = nil
	return b.AppendNew(Oops, Void)
}

// AddPredecessor 登记前驱
func (b *BasicBlock) AddPredecessor(pred *BasicBlock) {
	for _, p := range b.Predecessors {
		if p == pred {
			return
		}
	}
	b.Predecessors = append(b.Predecessors, pred)
}

// ============================================================================
// 过程
// ============================================================================

// Procedure 一个函数的 IR 图
type Procedure struct {
	Blocks         []*BasicBlock
	Variables      []*Variable
	NumEntrypoints int

	// 出参区大小（字节），取所有调用的最大值
	CallArgAreaSize uint32

	nextID int
	origin Origin
}

// NewProcedure 创建空过程
func NewProcedure() *Procedure {
	return &Procedure{NumEntrypoints: 1}
}

// AddBlock 新建基本块
func (p *Procedure) AddBlock() *BasicBlock {
	b := &BasicBlock{Index: len(p.Blocks), proc: p}
	p.Blocks = append(p.Blocks, b)
	return b
}

// AddVariable 新建变量
func (p *Procedure) AddVariable(t Type) *Variable {
	v := &Variable{Index: len(p.Variables), Type: t}
	p.Variables = append(p.Variables, v)
	return v
}

// NewValue 创建一个尚未放入块的值
func (p *Procedure) NewValue(op Opcode, t Type, children ...*Value) *Value {
	v := &Value{ID: p.nextID, Op: op, Type: t, Children: children, Origin: p.origin}
	p.nextID++
	return v
}

// NewPhi 创建一个尚未放入块的 phi
func (p *Procedure) NewPhi(t Type) *Value {
	return p.NewValue(Phi, t)
}

// NewConstant 创建常量（未放入块）
func (p *Procedure) NewConstant(t Type, bits uint64) *Value {
	var op Opcode
	switch t {
	case Int32:
		op = Const32
		bits = uint64(uint32(bits))
	case Int64:
		op = Const64
	case Float:
		op = ConstFloat
		bits = uint64(uint32(bits))
	case Double:
		op = ConstDouble
	default:
		panic("ir: bad constant type " + t.String())
	}
	v := p.NewValue(op, t)
	v.Imm = bits
	return v
}

// NewV128Constant 创建向量常量（未放入块）
func (p *Procedure) NewV128Constant(lo, hi uint64) *Value {
	v := p.NewValue(ConstV128, V128)
	v.Imm, v.ImmHi = lo, hi
	return v
}

// SetOrigin 之后创建的值都带上这个字节码位置
func (p *Procedure) SetOrigin(o Origin) { p.origin = o }

// ValueCount 已创建值的数量，值 ID 都小于它
func (p *Procedure) ValueCount() int { return p.nextID }

// RequestCallArgAreaSize 记录出参区需求
func (p *Procedure) RequestCallArgAreaSize(size uint32) {
	if size > p.CallArgAreaSize {
		p.CallArgAreaSize = size
	}
}

// ResetPredecessors 根据后继重新计算前驱
func (p *Procedure) ResetPredecessors() {
	for _, b := range p.Blocks {
		b.Predecessors = b.Predecessors[:0]
	}
	for _, b := range p.Blocks {
		for _, s := range b.Successors {
			s.Block.AddPredecessor(b)
		}
	}
}

// ForEachValue 遍历所有块中的值
func (p *Procedure) ForEachValue(fn func(*Value)) {
	for _, b := range p.Blocks {
		for _, v := range b.Values {
			fn(v)
		}
	}
}
