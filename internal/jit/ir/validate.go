package ir

import (
	"go.uber.org/multierr"

	cerrors "github.com/tangzhangming/novaomg/internal/errors"
)

// Validate 校验过程结构：终结值、后继个数、入口切换位置、操作数类型和支配关系。
// 返回所有问题的聚合错误。
func (p *Procedure) Validate() error {
	var err error
	placed := make(map[*Value]bool, p.ValueCount())
	for _, b := range p.Blocks {
		if b.proc != p {
			err = multierr.Append(err, cerrors.New(cerrors.E0300, "block #%d belongs to another procedure", b.Index))
		}
		for _, v := range b.Values {
			placed[v] = true
		}
	}

	dom := p.ComputeDominators()
	for _, b := range p.Blocks {
		err = multierr.Append(err, p.validateBlock(b, placed, dom))
	}
	return err
}

func (p *Procedure) validateBlock(b *BasicBlock, placed map[*Value]bool, dom *Dominators) error {
	var err error
	if !b.Terminated() {
		return cerrors.New(cerrors.E0300, "block #%d does not end in a terminal", b.Index)
	}

	position := make(map[*Value]int, len(b.Values))
	for i, v := range b.Values {
		position[v] = i
		if v.Owner != b {
			err = multierr.Append(err, cerrors.New(cerrors.E0301, "%s in block #%d has a stale owner", v.Name(), b.Index))
		}
		if v.IsTerminal() && i != len(b.Values)-1 {
			err = multierr.Append(err, cerrors.New(cerrors.E0300, "terminal %s in the middle of block #%d", v.Name(), b.Index))
		}
		for _, c := range v.Children {
			if !placed[c] {
				err = multierr.Append(err, cerrors.New(cerrors.E0301, "%s uses unplaced value %s", v.Name(), c.Name()))
				continue
			}
			if c.Owner == b {
				if j, ok := position[c]; !ok || j >= i {
					err = multierr.Append(err, cerrors.New(cerrors.E0301, "%s uses %s before its definition", v.Name(), c.Name()))
				}
			} else if !dom.Dominates(c.Owner, b) {
				err = multierr.Append(err, cerrors.New(cerrors.E0301,
					"%s in block #%d uses %s from non-dominating block #%d", v.Name(), b.Index, c.Name(), c.Owner.Index))
			}
		}
		if v.Op == Upsilon && (v.Phi == nil || !placed[v.Phi]) {
			err = multierr.Append(err, cerrors.New(cerrors.E0301, "upsilon %s targets an unplaced phi", v.Name()))
		}
		if v.Op == EntrySwitch && b.Index != 0 {
			err = multierr.Append(err, cerrors.New(cerrors.E0303, "entry switch in block #%d", b.Index))
		}
		err = multierr.Append(err, validateTypes(v))
	}

	last := b.Last()
	want := -1
	switch last.Op {
	case Jump:
		want = 1
	case Branch:
		want = 2
	case Switch:
		want = len(last.Cases) + 1
	case EntrySwitch:
		want = p.NumEntrypoints
	case Oops, PatchpointOp:
		want = 0
	}
	if want >= 0 && len(b.Successors) != want {
		err = multierr.Append(err, cerrors.New(cerrors.E0300,
			"block #%d ends in %s with %d successors, want %d", b.Index, last.Op, len(b.Successors), want))
	}
	return err
}

func typeError(v *Value, format string, args ...interface{}) error {
	return cerrors.New(cerrors.E0302, "%s: "+format, append([]interface{}{v.String()}, args...)...)
}

func validateTypes(v *Value) error {
	switch {
	case v.Op.IsBinaryArith():
		if len(v.Children) != 2 || v.Children[0].Type != v.Type || v.Children[1].Type != v.Type {
			return typeError(v, "operands must be %s", v.Type)
		}
	case v.Op.IsShift():
		if len(v.Children) != 2 || v.Children[0].Type != v.Type || !v.Children[1].Type.IsInt() {
			return typeError(v, "bad shift operands")
		}
	case v.Op.IsComparison():
		if v.Type != Int32 || len(v.Children) != 2 || v.Children[0].Type != v.Children[1].Type {
			return typeError(v, "comparison operands differ")
		}
	case v.Op.IsLoad():
		if v.Children[0].Type != Int64 {
			return typeError(v, "pointer must be Int64")
		}
	case v.Op.IsStore():
		if len(v.Children) != 2 || v.Children[1].Type != Int64 {
			return typeError(v, "pointer must be Int64")
		}
	case v.Op.IsAtomic():
		if ptr := v.Children[len(v.Children)-1]; ptr.Type != Int64 {
			return typeError(v, "pointer must be Int64")
		}
		if v.Width != 1 && v.Width != 2 && v.Width != 4 && v.Width != 8 {
			return typeError(v, "bad width %d", v.Width)
		}
	}
	switch v.Op {
	case Check, Branch:
		if !v.Children[0].Type.IsInt() {
			return typeError(v, "condition must be an integer")
		}
	case Select:
		if len(v.Children) != 3 || !v.Children[0].Type.IsInt() ||
			v.Children[1].Type != v.Type || v.Children[2].Type != v.Type {
			return typeError(v, "bad select operands")
		}
	case Set:
		if v.Children[0].Type != v.Variable.Type {
			return typeError(v, "value type %s does not match %s", v.Children[0].Type, v.Variable.Type)
		}
	case Get:
		if v.Type != v.Variable.Type {
			return typeError(v, "result type does not match variable")
		}
	case Upsilon:
		if v.Phi != nil && v.Children[0].Type != v.Phi.Type {
			return typeError(v, "value type %s does not match phi %s", v.Children[0].Type, v.Phi.Type)
		}
	case Extract:
		tuple := v.Children[0]
		if tuple.Type != Tuple || v.Index >= len(tuple.TupleTypes) || tuple.TupleTypes[v.Index] != v.Type {
			return typeError(v, "bad tuple extract")
		}
	case PatchpointOp:
		if len(v.Children) < len(v.Patch.Reps) {
			return typeError(v, "fewer children than reps")
		}
	}
	return nil
}
