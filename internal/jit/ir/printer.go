package ir

import (
	"fmt"
	"strings"
)

// ============================================================================
// IR 字符串表示
// ============================================================================

// String 返回值的单行表示
func (v *Value) String() string {
	var sb strings.Builder
	if v.Type != Void {
		fmt.Fprintf(&sb, "%s %s = ", v.Type, v.Name())
	}
	sb.WriteString(v.Op.String())

	var args []string
	for _, c := range v.Children {
		args = append(args, c.Name())
	}
	switch {
	case v.Op == Const32:
		args = append(args, fmt.Sprint(v.Int32()))
	case v.Op == Const64:
		args = append(args, fmt.Sprint(v.Int64()))
	case v.Op == ConstFloat:
		args = append(args, fmt.Sprint(v.Float()))
	case v.Op == ConstDouble:
		args = append(args, fmt.Sprint(v.Double()))
	case v.Op == ConstV128:
		args = append(args, fmt.Sprintf("0x%016x%016x", v.ImmHi, v.Imm))
	case v.Op == ArgumentReg:
		args = append(args, v.Reg.String())
	case v.Op == GetPinned || v.Op == SetPinned:
		args = append(args, v.Pinned.String())
	case v.Op == Get || v.Op == Set:
		args = append(args, v.Variable.String())
	case v.Op == Upsilon:
		args = append(args, "^"+v.Phi.Name())
	case v.Op.IsLoad() || v.Op.IsStore():
		if v.Imm != 0 {
			args = append(args, fmt.Sprintf("offset = %d", int64(v.Imm)))
		}
	case v.Op.IsAtomic():
		args = append(args, fmt.Sprintf("width = %d", v.Width))
		if v.Imm != 0 {
			args = append(args, fmt.Sprintf("offset = %d", int64(v.Imm)))
		}
	case v.Op == TruncFloat:
		if v.Imm != 0 {
			args = append(args, "signed")
		}
	case v.Op == Check:
		args = append(args, v.Trap.String())
	case v.Op == CCall:
		args = append(args, v.Call.String())
	case v.Op == Extract:
		args = append(args, fmt.Sprint(v.Index))
	case v.Op == PatchpointOp:
		args = append(args, v.Patch.describe())
	case v.Op == Switch:
		var cases []string
		for _, c := range v.Cases {
			cases = append(cases, fmt.Sprint(c))
		}
		args = append(args, "cases = ["+strings.Join(cases, ", ")+"]")
	case v.Op >= VectorSplat:
		args = append(args, v.Lane.String())
		if v.Op == VectorExtractLane || v.Op == VectorReplaceLane {
			args = append(args, fmt.Sprint(v.Index))
		}
	}
	if len(args) > 0 {
		sb.WriteString("(" + strings.Join(args, ", ") + ")")
	}
	return sb.String()
}

func (p *Patchpoint) describe() string {
	s := p.Kind.String()
	switch p.Kind {
	case PatchCall, PatchTailCall:
		s += fmt.Sprintf(" func = %d", p.FunctionIndex)
	case PatchThrow:
		s += fmt.Sprintf(" tag = %d", p.TagIndex)
	case PatchLoopTierUp:
		s += fmt.Sprintf(" loop = %d", p.LoopIndex)
	case PatchTrap:
		s += " " + p.Trap.String()
	}
	if p.Kind == PatchTailCall || p.Kind == PatchTailCallIndirect {
		s += fmt.Sprintf(" newFP = %d", p.NewFPOffset)
	}
	if p.HasHandlers {
		s += fmt.Sprintf(" csi = %d", p.CallSiteIndex)
	}
	if len(p.Reps) > 0 {
		var reps []string
		for _, r := range p.Reps {
			reps = append(reps, r.String())
		}
		s += " reps = [" + strings.Join(reps, ", ") + "]"
	}
	return s
}

// String 打印一个基本块
func (b *BasicBlock) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "BB#%d:", b.Index)
	if len(b.Predecessors) > 0 {
		var preds []string
		for _, p := range b.Predecessors {
			preds = append(preds, fmt.Sprintf("#%d", p.Index))
		}
		fmt.Fprintf(&sb, " ; preds = %s", strings.Join(preds, ", "))
	}
	sb.WriteString("\n")
	for _, v := range b.Values {
		fmt.Fprintf(&sb, "    %s\n", v)
	}
	if len(b.Successors) > 0 {
		var succs []string
		for _, s := range b.Successors {
			if s.Frequency == FrequencyRare {
				succs = append(succs, fmt.Sprintf("#%d/Rare", s.Block.Index))
			} else {
				succs = append(succs, fmt.Sprintf("#%d", s.Block.Index))
			}
		}
		fmt.Fprintf(&sb, "  Successors: %s\n", strings.Join(succs, ", "))
	}
	return sb.String()
}

// String 打印整个过程
func (p *Procedure) String() string {
	var sb strings.Builder
	for _, b := range p.Blocks {
		sb.WriteString(b.String())
	}
	if len(p.Variables) > 0 {
		sb.WriteString("Variables:\n")
		for _, v := range p.Variables {
			fmt.Fprintf(&sb, "    %s %s\n", v.Type, v)
		}
	}
	return sb.String()
}
