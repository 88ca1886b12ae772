// Package parser 按结构遍历已验证的函数体，维护操作数栈和控制栈，
// 并把每条指令翻译成对 Context 的回调。
package parser

import (
	"fmt"

	"github.com/tangzhangming/novaomg/internal/bytecode"
	cerrors "github.com/tangzhangming/novaomg/internal/errors"
	"github.com/tangzhangming/novaomg/internal/wasm"
)

// MaxFunctionLocals 单个函数允许的局部变量（含参数）上限
const MaxFunctionLocals = 50000

// FunctionParser 函数体解析器
type FunctionParser[E any, C any] struct {
	ctx  Context[E, C]
	info *wasm.ModuleInformation
	fn   *bytecode.Function
	sig  *wasm.FunctionSignature

	locals          []wasm.Type
	expressionStack Stack[E]
	controlStack    []ControlEntry[E, C]

	unreachableBlocks int    // 大于 0 时跳过指令，只跟踪嵌套深度
	loopIndex         uint32 // 下一个可达循环的序号
	pc                int    // 当前指令在 Code 中的位置
	finished          bool
}

// New 创建解析器。sig 是函数签名，info 提供全局、表、类型等信息
func New[E any, C any](ctx Context[E, C], fn *bytecode.Function, sig *wasm.FunctionSignature, info *wasm.ModuleInformation) *FunctionParser[E, C] {
	return &FunctionParser[E, C]{ctx: ctx, info: info, fn: fn, sig: sig}
}

// ============================================================================
// 供编译器查询的状态
// ============================================================================

// ExpressionStack 当前结构内的操作数栈
func (p *FunctionParser[E, C]) ExpressionStack() Stack[E] {
	return p.expressionStack
}

// ControlStack 控制栈，栈底是函数级结构
func (p *FunctionParser[E, C]) ControlStack() []ControlEntry[E, C] {
	return p.controlStack
}

// CurrentOffset 当前指令的偏移，分支提示以此为键
func (p *FunctionParser[E, C]) CurrentOffset() uint32 {
	if p.pc < len(p.fn.Code) {
		return p.fn.Code[p.pc].Offset
	}
	return uint32(p.pc)
}

// TypeOfLocal 局部变量类型
func (p *FunctionParser[E, C]) TypeOfLocal(index uint32) wasm.Type {
	return p.locals[index]
}

// NumLocals 局部变量（含参数）数量
func (p *FunctionParser[E, C]) NumLocals() int {
	return len(p.locals)
}

// Unreachable 当前是否处于不可达代码中
func (p *FunctionParser[E, C]) Unreachable() bool {
	return p.unreachableBlocks > 0
}

// ============================================================================
// 错误与栈操作
// ============================================================================

func (p *FunctionParser[E, C]) fail(code string, format string, args ...interface{}) error {
	return cerrors.New(code, format, args...).InFunction(p.fn.Index, p.pc)
}

// check 给回调返回的错误补上函数和偏移
func (p *FunctionParser[E, C]) check(err error) error {
	if err == nil {
		return nil
	}
	if ce, ok := err.(*cerrors.CompileError); ok {
		if ce.Offset < 0 {
			ce.InFunction(p.fn.Index, p.pc)
		}
		return ce
	}
	return cerrors.Wrap(cerrors.E0001, err, "%s", p.fn.Code[p.pc].Op).InFunction(p.fn.Index, p.pc)
}

func (p *FunctionParser[E, C]) pop() (TypedExpression[E], error) {
	n := len(p.expressionStack)
	if n == 0 {
		return TypedExpression[E]{}, p.fail(cerrors.E0001, "expression stack underflow")
	}
	te := p.expressionStack[n-1]
	p.expressionStack = p.expressionStack[:n-1]
	p.ctx.DidPopValueFromStack()
	return te, nil
}

// popN 弹出 n 个值，按压栈顺序返回
func (p *FunctionParser[E, C]) popN(n int) ([]E, error) {
	if len(p.expressionStack) < n {
		return nil, p.fail(cerrors.E0001, "expression stack underflow: need %d, have %d", n, len(p.expressionStack))
	}
	out := make([]E, n)
	for i := n - 1; i >= 0; i-- {
		te, err := p.pop()
		if err != nil {
			return nil, err
		}
		out[i] = te.Value
	}
	return out, nil
}

func (p *FunctionParser[E, C]) push(t wasm.Type, value E, err error) error {
	if err != nil {
		return p.check(err)
	}
	p.expressionStack = append(p.expressionStack, TypedExpression[E]{Type: t, Value: value})
	return nil
}

func (p *FunctionParser[E, C]) pushResults(types []wasm.Type, values []E, err error) error {
	if err != nil {
		return p.check(err)
	}
	if len(values) != len(types) {
		return p.fail(cerrors.E0204, "expected %d results, got %d", len(types), len(values))
	}
	for i, v := range values {
		p.expressionStack = append(p.expressionStack, TypedExpression[E]{Type: types[i], Value: v})
	}
	return nil
}

// splitStack 把块参数从当前栈移到新栈，返回外层栈和新栈
func (p *FunctionParser[E, C]) splitStack(sig *wasm.FunctionSignature) (Stack[E], Stack[E], error) {
	n := sig.ArgumentCount()
	if len(p.expressionStack) < n {
		return nil, nil, p.fail(cerrors.E0204, "block expects %d arguments, stack has %d", n, len(p.expressionStack))
	}
	split := len(p.expressionStack) - n
	enclosing := p.expressionStack[:split:split]
	newStack := p.expressionStack[split:].Clone()
	return enclosing, newStack, nil
}

// target 分支目标
func (p *FunctionParser[E, C]) target(depth uint32) (*ControlEntry[E, C], error) {
	if int(depth) >= len(p.controlStack) {
		return nil, p.fail(cerrors.E0201, "branch depth %d exceeds control depth %d", depth, len(p.controlStack))
	}
	return &p.controlStack[len(p.controlStack)-1-int(depth)], nil
}

func (p *FunctionParser[E, C]) top() (*ControlEntry[E, C], error) {
	if len(p.controlStack) == 0 {
		return nil, p.fail(cerrors.E0200, "control stack is empty")
	}
	return &p.controlStack[len(p.controlStack)-1], nil
}

func (p *FunctionParser[E, C]) popControl() (ControlEntry[E, C], error) {
	if len(p.controlStack) == 0 {
		return ControlEntry[E, C]{}, p.fail(cerrors.E0200, "control stack is empty")
	}
	entry := p.controlStack[len(p.controlStack)-1]
	p.controlStack = p.controlStack[:len(p.controlStack)-1]
	return entry, nil
}

// ============================================================================
// 解析
// ============================================================================

// Parse 解析整个函数体
func (p *FunctionParser[E, C]) Parse() error {
	if err := p.parseLocals(); err != nil {
		return err
	}

	top, err := p.ctx.AddTopLevel(p.sig)
	if err != nil {
		return p.check(err)
	}
	p.controlStack = append(p.controlStack, ControlEntry[E, C]{
		Kind:      KindTopLevel,
		Signature: p.sig,
		Control:   top,
	})

	for p.pc = 0; p.pc < len(p.fn.Code); p.pc++ {
		if p.finished {
			return p.fail(cerrors.E0001, "instructions after the final end")
		}
		in := &p.fn.Code[p.pc]
		if p.unreachableBlocks > 0 {
			err = p.parseUnreachable(in)
		} else {
			p.ctx.WillParseOpcode()
			err = p.parseInstr(in)
		}
		if err != nil {
			return err
		}
	}
	if !p.finished {
		return p.fail(cerrors.E0003, "function body is not terminated by end")
	}
	return nil
}

func (p *FunctionParser[E, C]) parseLocals() error {
	total := len(p.sig.Params) + len(p.fn.Locals)
	if total > MaxFunctionLocals {
		return cerrors.New(cerrors.E0100, "%d locals exceed the limit of %d", total, MaxFunctionLocals).InFunction(p.fn.Index, -1)
	}
	p.locals = make([]wasm.Type, 0, total)
	p.locals = append(p.locals, p.sig.Params...)
	if err := p.ctx.AddArguments(p.sig); err != nil {
		return p.check(err)
	}

	// 相邻同类型的局部变量合并为一次 AddLocal
	for i := 0; i < len(p.fn.Locals); {
		j := i + 1
		for j < len(p.fn.Locals) && p.fn.Locals[j] == p.fn.Locals[i] {
			j++
		}
		if err := p.ctx.AddLocal(p.fn.Locals[i], uint32(j-i)); err != nil {
			return p.check(err)
		}
		p.locals = append(p.locals, p.fn.Locals[i:j]...)
		i = j
	}
	return nil
}

// parseUnreachable 不可达代码只跟踪块的嵌套，直到回到可达的 else/catch/end
func (p *FunctionParser[E, C]) parseUnreachable(in *bytecode.Instr) error {
	switch in.Op {
	case bytecode.OpBlock, bytecode.OpLoop, bytecode.OpIf, bytecode.OpTry:
		p.unreachableBlocks++
		return nil

	case bytecode.OpElse:
		if p.unreachableBlocks > 1 {
			return nil
		}
		entry, err := p.top()
		if err != nil {
			return err
		}
		if entry.Kind != KindIf {
			return p.fail(cerrors.E0202, "else without if")
		}
		if err := p.ctx.AddElseToUnreachable(entry); err != nil {
			return p.check(err)
		}
		entry.Kind = KindElse
		p.expressionStack = entry.ElseBlockStack
		p.unreachableBlocks = 0
		return nil

	case bytecode.OpCatch, bytecode.OpCatchAll:
		if p.unreachableBlocks > 1 {
			return nil
		}
		entry, err := p.top()
		if err != nil {
			return err
		}
		if entry.Kind != KindTry && entry.Kind != KindCatch {
			return p.fail(cerrors.E0203, "%s without try", in.Op)
		}
		p.unreachableBlocks = 0
		p.expressionStack = nil
		if in.Op == bytecode.OpCatchAll {
			if err := p.ctx.AddCatchAllToUnreachable(entry); err != nil {
				return p.check(err)
			}
			entry.Kind = KindCatchAll
			return nil
		}
		results, err := p.ctx.AddCatchToUnreachable(in.Index, entry)
		entry.Kind = KindCatch
		return p.pushResults(p.info.TagSignature(in.Index).Params, results, err)

	case bytecode.OpDelegate:
		if p.unreachableBlocks > 1 {
			p.unreachableBlocks--
			return nil
		}
		entry, err := p.popControl()
		if err != nil {
			return err
		}
		if entry.Kind != KindTry {
			return p.fail(cerrors.E0203, "delegate without try")
		}
		target, err := p.target(in.Index)
		if err != nil {
			return err
		}
		if err := p.ctx.AddDelegateToUnreachable(target.Control, &entry); err != nil {
			return p.check(err)
		}
		p.unreachableBlocks = 0
		return p.endToUnreachable(&entry)

	case bytecode.OpEnd:
		if p.unreachableBlocks > 1 {
			p.unreachableBlocks--
			return nil
		}
		entry, err := p.popControl()
		if err != nil {
			return err
		}
		p.unreachableBlocks = 0
		if entry.Kind == KindIf {
			// then 分支不可达，但没有 else 时参数原样流到出口
			if err := p.ctx.AddElseToUnreachable(&entry); err != nil {
				return p.check(err)
			}
			p.expressionStack = entry.ElseBlockStack
			return p.endBlock(&entry)
		}
		return p.endToUnreachable(&entry)
	}
	return nil
}

func (p *FunctionParser[E, C]) endToUnreachable(entry *ControlEntry[E, C]) error {
	results, err := p.ctx.AddEndToUnreachable(entry, p.expressionStack)
	p.expressionStack = entry.EnclosedExpressionStack
	if err := p.pushResults(entry.Signature.Results, results, err); err != nil {
		return err
	}
	if entry.Kind == KindTopLevel {
		p.finished = true
	}
	return nil
}

func (p *FunctionParser[E, C]) endBlock(entry *ControlEntry[E, C]) error {
	if len(p.expressionStack) < entry.Signature.ReturnCount() {
		return p.fail(cerrors.E0204, "%s expects %d results, stack has %d",
			entry.Kind, entry.Signature.ReturnCount(), len(p.expressionStack))
	}
	results, err := p.ctx.EndBlock(entry, p.expressionStack)
	p.expressionStack = entry.EnclosedExpressionStack
	if err := p.pushResults(entry.Signature.Results, results, err); err != nil {
		return err
	}
	if entry.Kind == KindTopLevel {
		p.finished = true
	}
	return nil
}

// ============================================================================
// 控制指令
// ============================================================================

func (p *FunctionParser[E, C]) parseControl(in *bytecode.Instr) error {
	switch in.Op {
	case bytecode.OpBlock, bytecode.OpLoop, bytecode.OpTry:
		sig := in.Block.Signature()
		enclosing, newStack, err := p.splitStack(sig)
		if err != nil {
			return err
		}
		var control C
		kind := KindBlock
		switch in.Op {
		case bytecode.OpBlock:
			control, err = p.ctx.AddBlock(sig, enclosing, newStack)
		case bytecode.OpLoop:
			kind = KindLoop
			control, err = p.ctx.AddLoop(sig, enclosing, newStack, p.loopIndex)
			p.loopIndex++
		case bytecode.OpTry:
			kind = KindTry
			control, err = p.ctx.AddTry(sig, enclosing, newStack)
		}
		if err != nil {
			return p.check(err)
		}
		p.controlStack = append(p.controlStack, ControlEntry[E, C]{
			Kind:                    kind,
			Signature:               sig,
			Control:                 control,
			EnclosedExpressionStack: enclosing,
		})
		p.expressionStack = newStack
		return nil

	case bytecode.OpIf:
		cond, err := p.pop()
		if err != nil {
			return err
		}
		sig := in.Block.Signature()
		enclosing, newStack, err := p.splitStack(sig)
		if err != nil {
			return err
		}
		control, err := p.ctx.AddIf(cond.Value, sig, enclosing, newStack)
		if err != nil {
			return p.check(err)
		}
		p.controlStack = append(p.controlStack, ControlEntry[E, C]{
			Kind:                    KindIf,
			Signature:               sig,
			Control:                 control,
			EnclosedExpressionStack: enclosing,
			ElseBlockStack:          newStack.Clone(),
		})
		p.expressionStack = newStack
		return nil

	case bytecode.OpElse:
		entry, err := p.top()
		if err != nil {
			return err
		}
		if entry.Kind != KindIf {
			return p.fail(cerrors.E0202, "else without if")
		}
		if err := p.ctx.AddElse(entry, p.expressionStack); err != nil {
			return p.check(err)
		}
		entry.Kind = KindElse
		p.expressionStack = entry.ElseBlockStack
		return nil

	case bytecode.OpCatch:
		entry, err := p.top()
		if err != nil {
			return err
		}
		if entry.Kind != KindTry && entry.Kind != KindCatch {
			return p.fail(cerrors.E0203, "catch without try")
		}
		results, err := p.ctx.AddCatch(in.Index, p.expressionStack, entry)
		entry.Kind = KindCatch
		p.expressionStack = nil
		return p.pushResults(p.info.TagSignature(in.Index).Params, results, err)

	case bytecode.OpCatchAll:
		entry, err := p.top()
		if err != nil {
			return err
		}
		if entry.Kind != KindTry && entry.Kind != KindCatch {
			return p.fail(cerrors.E0203, "catch_all without try")
		}
		if err := p.ctx.AddCatchAll(p.expressionStack, entry); err != nil {
			return p.check(err)
		}
		entry.Kind = KindCatchAll
		p.expressionStack = nil
		return nil

	case bytecode.OpDelegate:
		entry, err := p.popControl()
		if err != nil {
			return err
		}
		if entry.Kind != KindTry {
			return p.fail(cerrors.E0203, "delegate without try")
		}
		target, err := p.target(in.Index)
		if err != nil {
			return err
		}
		if err := p.ctx.AddDelegate(target.Control, &entry); err != nil {
			return p.check(err)
		}
		return p.endBlock(&entry)

	case bytecode.OpEnd:
		entry, err := p.popControl()
		if err != nil {
			return err
		}
		if entry.Kind == KindIf {
			if err := p.ctx.AddElse(&entry, p.expressionStack); err != nil {
				return p.check(err)
			}
			p.expressionStack = entry.ElseBlockStack
		}
		return p.endBlock(&entry)

	case bytecode.OpBr:
		target, err := p.target(in.Index)
		if err != nil {
			return err
		}
		if err := p.ctx.AddBranch(target.Control, p.expressionStack); err != nil {
			return p.check(err)
		}
		p.unreachableBlocks = 1
		return nil

	case bytecode.OpBrIf:
		cond, err := p.pop()
		if err != nil {
			return err
		}
		target, err := p.target(in.Index)
		if err != nil {
			return err
		}
		return p.check(p.ctx.AddBranchIf(target.Control, cond.Value, p.expressionStack))

	case bytecode.OpBrTable:
		cond, err := p.pop()
		if err != nil {
			return err
		}
		targets := make([]C, len(in.Targets))
		for i, depth := range in.Targets {
			t, err := p.target(depth)
			if err != nil {
				return err
			}
			targets[i] = t.Control
		}
		def, err := p.target(in.Index)
		if err != nil {
			return err
		}
		if err := p.ctx.AddSwitch(cond.Value, targets, def.Control, p.expressionStack); err != nil {
			return p.check(err)
		}
		p.unreachableBlocks = 1
		return nil

	case bytecode.OpBrOnNull:
		ref, err := p.pop()
		if err != nil {
			return err
		}
		target, err := p.target(in.Index)
		if err != nil {
			return err
		}
		result, err := p.ctx.AddBranchNull(target.Control, ref.Value, p.expressionStack, false)
		return p.push(ref.Type.AsNonNull(), result, err)

	case bytecode.OpBrOnNonNull:
		if len(p.expressionStack) == 0 {
			return p.fail(cerrors.E0001, "expression stack underflow")
		}
		ref := p.expressionStack[len(p.expressionStack)-1]
		target, err := p.target(in.Index)
		if err != nil {
			return err
		}
		// 分支时引用作为最后一个值传给目标，不分支时弹出
		p.expressionStack[len(p.expressionStack)-1].Type = ref.Type.AsNonNull()
		if _, err := p.ctx.AddBranchNull(target.Control, ref.Value, p.expressionStack, true); err != nil {
			return p.check(err)
		}
		_, err = p.pop()
		return err

	case bytecode.OpBrOnCast, bytecode.OpBrOnCastFail:
		if len(p.expressionStack) == 0 {
			return p.fail(cerrors.E0001, "expression stack underflow")
		}
		ref := p.expressionStack[len(p.expressionStack)-1]
		target, err := p.target(in.Index)
		if err != nil {
			return err
		}
		negate := in.Op == bytecode.OpBrOnCastFail
		if err := p.ctx.AddBranchCast(target.Control, ref.Value, p.expressionStack,
			in.RefType.Nullable, in.RefType.Heap, negate); err != nil {
			return p.check(err)
		}
		if !negate {
			// 未分支说明转换失败，引用类型保持不变
			return nil
		}
		p.expressionStack[len(p.expressionStack)-1].Type = in.RefType
		return nil

	case bytecode.OpReturn:
		if err := p.ctx.AddReturn(p.controlStack[0].Control, p.expressionStack); err != nil {
			return p.check(err)
		}
		p.unreachableBlocks = 1
		return nil

	case bytecode.OpUnreachable:
		if err := p.ctx.AddUnreachable(); err != nil {
			return p.check(err)
		}
		p.unreachableBlocks = 1
		return nil

	case bytecode.OpThrow:
		sig := p.info.TagSignature(in.Index)
		args, err := p.popN(sig.ArgumentCount())
		if err != nil {
			return err
		}
		if err := p.ctx.AddThrow(in.Index, args); err != nil {
			return p.check(err)
		}
		p.unreachableBlocks = 1
		return nil

	case bytecode.OpRethrow:
		target, err := p.target(in.Index)
		if err != nil {
			return err
		}
		if !target.Kind.IsAnyCatch() {
			return p.fail(cerrors.E0203, "rethrow target is not a catch")
		}
		if err := p.ctx.AddRethrow(target.Control); err != nil {
			return p.check(err)
		}
		p.unreachableBlocks = 1
		return nil
	}
	return p.fail(cerrors.E0002, "unexpected control instruction %s", in.Op)
}

// ============================================================================
// 调用
// ============================================================================

func (p *FunctionParser[E, C]) parseCall(in *bytecode.Instr) error {
	tail := in.Op.IsTailCall()
	var sig *wasm.FunctionSignature
	var results []E
	var err error

	switch in.Op {
	case bytecode.OpCall, bytecode.OpReturnCall:
		sig = p.info.Signature(in.Index)
		args, perr := p.popN(sig.ArgumentCount())
		if perr != nil {
			return perr
		}
		results, err = p.ctx.AddCall(in.Index, sig, args, tail)

	case bytecode.OpCallIndirect, bytecode.OpReturnCallIndirect:
		sig = p.info.TypeSignature(in.Index)
		callee, perr := p.pop()
		if perr != nil {
			return perr
		}
		args, perr := p.popN(sig.ArgumentCount())
		if perr != nil {
			return perr
		}
		results, err = p.ctx.AddCallIndirect(in.Index2, in.Index, callee.Value, args, tail)

	case bytecode.OpCallRef, bytecode.OpReturnCallRef:
		sig = p.info.TypeSignature(in.Index)
		callee, perr := p.pop()
		if perr != nil {
			return perr
		}
		args, perr := p.popN(sig.ArgumentCount())
		if perr != nil {
			return perr
		}
		results, err = p.ctx.AddCallRef(in.Index, callee.Value, args, tail)
	}

	if tail {
		if err != nil {
			return p.check(err)
		}
		p.unreachableBlocks = 1
		return nil
	}
	return p.pushResults(sig.Results, results, err)
}

func (p *FunctionParser[E, C]) String() string {
	return fmt.Sprintf("parser(function %d, pc %d, %d controls, %d values)",
		p.fn.Index, p.pc, len(p.controlStack), len(p.expressionStack))
}
