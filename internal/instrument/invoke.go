package instrument

import (
	"fmt"
	"strings"

	"smalitaint/internal/analysis"
	"smalitaint/internal/disasm"
	"smalitaint/internal/signature"
	"smalitaint/internal/tool"
)

// invoke rewrites one call site. It returns the text of the invoke, which
// changes when the callee is augmented, and the lines around it. Lines that
// depend on the result are parked until the move-result is written.
func (r *rewriter) invoke(i int, inst disasm.Inst, text string) (string, []string, []string) {
	callee, err := calleeOf(inst)
	if err != nil {
		r.fail(err)
		return text, nil, nil
	}
	regs := r.regs(inst)
	if r.err != nil {
		return text, nil, nil
	}
	if len(regs) != len(callee.Params) {
		r.fail(fmt.Errorf("line %d: %d registers for %d parameter slots of %s",
			r.line, len(regs), len(callee.Params), callee))
		return text, nil, nil
	}
	dest := r.dest(i)
	ctx := r.ctx
	opts := r.e.opts

	r.sinkChecks(callee, regs)
	pre := r.em.Take()

	label, isSource := opts.Oracle.SourceLabel(callee.Class, callee.NameAndDesc())
	key, app := analysis.Resolve(opts.Classes, callee.String())

	var post []string
	switch {
	case app && opts.Plan.Augmented(key):
		seedLabel, seeded := label, isSource
		if !seeded {
			seedLabel, seeded = opts.Plan.SourceSeed(key)
		}
		text = r.augmentedCall(inst, callee, regs, seedLabel, seeded)
		pre = append(pre, r.em.Take()...)
		if dest >= 0 {
			r.em.Call(tool.OpGetReturnTaint)
			r.em.MoveResultTaint(r.sh(dest))
		}
		// the seed already carries the source label
		isSource = false

	case app && opts.Plan.Instrumented(key):
		for k, t := range callee.Params {
			if t == signature.Filler {
				continue
			}
			r.em.ConstTaint(ctx.Temp(0), k)
			r.em.MoveTaint(ctx.Temp(1), r.sh(regs[k]))
			r.em.Call(tool.OpSetParamTaint, ctx.Temp(0), ctx.Temp(1))
		}
		pre = append(pre, r.em.Take()...)
		if dest >= 0 && !isSource {
			r.em.Call(tool.OpGetReturnTaint)
			r.em.MoveResultTaint(r.sh(dest))
		}

	default:
		in, err := r.e.containers.Apply(r.em, Site{
			Sig:    callee,
			Regs:   regs,
			Dest:   dest,
			Shadow: ctx.Shadow,
			Types:  ctx.Types,
		})
		if err != nil {
			r.fail(fmt.Errorf("line %d: %w", r.line, err))
			return text, nil, nil
		}
		if in.Empty() {
			var p []string
			p, post = r.defaultRule(callee, regs, dest, isSource)
			pre = append(pre, p...)
		} else {
			pre = append(pre, in.Pre...)
			post = in.Post
		}
	}
	post = append(post, r.em.Take()...)

	if isSource && dest >= 0 {
		r.sourceLabel(label, dest)
		post = append(post, r.em.Take()...)
	}
	if len(regs) > 0 {
		delete(ctx.Erased, regs[0])
	}
	return text, pre, r.park(dest, callee, post)
}

// park defers post lines until the move-result when the call has one.
func (r *rewriter) park(dest int, callee *signature.Signature, post []string) []string {
	if dest < 0 {
		return post
	}
	r.pending, r.pendingPost, r.pendingType = true, post, callee.Return
	return nil
}

// sinkChecks reports the taint of every checked argument before the call.
func (r *rewriter) sinkChecks(callee *signature.Signature, regs []int) {
	params := r.e.sinkParams(callee)
	if params.Empty() {
		return
	}
	for k := range callee.Declared() {
		if !params.Contains(k) {
			continue
		}
		slot := callee.ParamSlot(k)
		r.em.MoveTaint(r.ctx.Temp(0), r.sh(regs[slot]))
		r.em.ConstString(r.ctx.Temp(1), callee.String())
		r.em.Call(tool.OpCheckSink, r.ctx.Temp(0), r.ctx.Temp(1))
	}
}

// sourceLabel overwrites the result's shadow with the label of source ordinal n.
func (r *rewriter) sourceLabel(n, dest int) {
	t := r.ctx.Temp(1)
	r.em.ConstTaint(t, n)
	r.em.Call(tool.OpSourceLabel, t)
	r.em.MoveResultTaint(r.sh(dest))
}

// defaultRule handles calls into code that is not instrumented: the receiver
// absorbs the arguments' labels and the result carries the union of all.
func (r *rewriter) defaultRule(callee *signature.Signature, regs []int, dest int, isSource bool) (pre, post []string) {
	var shadows []int
	for k, t := range callee.Params {
		if t != signature.Filler {
			shadows = append(shadows, r.sh(regs[k]))
		}
	}
	if !callee.Static && len(shadows) > 1 {
		r.em.Union(shadows[0], shadows...)
	}
	pre = r.em.Take()
	if dest >= 0 && !isSource {
		r.em.Union(r.sh(dest), shadows...)
	}
	return pre, r.em.Take()
}

// augmentedCall stages the arguments, their labels and a seed into the temp
// block and returns the ranged invoke of the augmented descriptor.
func (r *rewriter) augmentedCall(inst disasm.Inst, callee *signature.Signature, regs []int, label int, isSource bool) string {
	n := len(regs)
	count := 2 * n
	if !callee.IsVoid() {
		count++
	}
	if count == 0 {
		return inst.String()
	}
	base := r.ctx.Temp(0)
	r.em.stage(regs, callee.Params)
	for k := 0; k < n; k++ {
		r.em.MoveTaint(base+n+k, r.sh(regs[k]))
	}
	if !callee.IsVoid() {
		seed := base + 2*n
		if isSource {
			r.em.ConstTaint(seed, label)
			r.em.Call(tool.OpSourceLabel, seed)
			r.em.MoveResultTaint(seed)
		} else {
			r.em.ConstTaint(seed, 0)
		}
	}
	kind := strings.TrimSuffix(inst.Op, "/range") + r.em.name(tool.OpRangeSuffix)
	target := callee.Class + "->" + callee.Name + callee.AddTaintToDesc()
	return disasm.Format(kind, disasm.FormatRange(disasm.Reg(base), disasm.Reg(base+count-1)), target)
}

// invokeCustom gives the result of a call site or polymorphic invoke the
// union of its arguments.
func (r *rewriter) invokeCustom(i int, inst disasm.Inst) {
	d := r.dest(i)
	if d < 0 {
		return
	}
	var shadows []int
	for _, reg := range r.regs(inst) {
		shadows = append(shadows, r.sh(reg))
	}
	r.em.Union(r.sh(d), shadows...)
	r.pending, r.pendingPost, r.pendingType = true, r.em.Take(), ""
}
