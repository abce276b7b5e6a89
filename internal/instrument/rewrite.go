package instrument

import (
	"fmt"
	"strconv"
	"strings"

	"smalitaint/internal/analysis"
	"smalitaint/internal/disasm"
	"smalitaint/internal/hierarchy"
	"smalitaint/internal/signature"
	"smalitaint/internal/tool"
)

// rewriter carries one method through the inject pass.
type rewriter struct {
	e   *Engine
	cls *hierarchy.Class
	m   *method
	ctx *MethodContext
	em  *Emitter

	line int
	err  error

	// set by an invoke or filled-new-array whose result is consumed; the
	// lines are written after the move-result
	pending     bool
	pendingPost []string
	pendingType string
}

func (e *Engine) newRewriter(cls *hierarchy.Class, m *method, aug bool) *rewriter {
	temp := MinTempBlock
	for _, it := range m.items {
		if it.kind != itemInst || it.op.Family != disasm.FamInvoke {
			continue
		}
		callee, err := calleeOf(it.inst)
		if err != nil {
			continue
		}
		if key, ok := analysis.Resolve(e.opts.Classes, callee.String()); ok && e.opts.Plan.Augmented(key) {
			temp = max(temp, 2*len(callee.Params)+1)
		}
	}
	ctx := NewMethodContext(cls.Name, m.sig)
	ctx.Layout = NewLayout(m.locals, m.params, temp, aug && !m.sig.IsVoid())
	ctx.Augmented = aug
	ctx.Instrumented = true
	if l, ok := e.opts.Oracle.SourceLabel(cls.Name, m.sig.NameAndDesc()); ok {
		ctx.SourceLabel = l
	}
	return &rewriter{e: e, cls: cls, m: m, ctx: ctx, em: NewEmitter(e.opts.Tool, ctx.Layout.Temp)}
}

func (r *rewriter) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// rename maps pN to the local that holds parameter N after the prologue.
func (r *rewriter) rename(reg string) string {
	p, n, ok := disasm.ParseRegister(reg)
	if !ok || p != 'p' {
		return reg
	}
	return disasm.Reg(r.ctx.Layout.Param(n))
}

func (r *rewriter) reg(arg string) int {
	p, n, ok := disasm.ParseRegister(arg)
	if !ok || p != 'v' {
		r.fail(fmt.Errorf("line %d: expected register, got %q", r.line, arg))
		return 0
	}
	return n
}

func (r *rewriter) regs(inst disasm.Inst) []int {
	names, err := disasm.Registers(inst)
	if err != nil {
		r.fail(err)
		return nil
	}
	out := make([]int, len(names))
	for i, n := range names {
		out[i] = r.reg(n)
	}
	return out
}

func (r *rewriter) sh(reg int) int {
	s, err := r.ctx.Shadow(reg)
	if err != nil {
		r.fail(fmt.Errorf("line %d: %w", r.line, err))
	}
	return s
}

// wrote records that reg's shadow now holds an unknown label.
func (r *rewriter) wrote(reg int) {
	delete(r.ctx.Erased, reg)
	r.ctx.forget(reg)
}

// clear zeroes reg's shadow unless it is already known to be zero.
func (r *rewriter) clear(reg int) {
	if !r.ctx.Erased[reg] {
		r.em.ConstTaint(r.sh(reg), 0)
	}
	r.ctx.forget(reg)
	r.ctx.Erased[reg] = true
}

// dest returns the register written by the move-result following item i.
func (r *rewriter) dest(i int) int {
	j, ok := r.m.resultOf(i)
	if !ok {
		return -1
	}
	a := r.m.items[j].inst.Args
	if len(a) == 0 {
		r.fail(fmt.Errorf("line %d: move-result without register", r.m.items[j].line))
		return -1
	}
	return r.reg(r.rename(a[0]))
}

func localsLine(n int) string { return "    .locals " + strconv.Itoa(n) }

func (r *rewriter) run() ([]string, error) {
	lay := r.ctx.Layout
	if !lay.Fits() {
		return nil, errOversized
	}
	started := false
	for i, it := range r.m.items {
		if it.body && !started {
			started = true
			r.prologue()
		}
		switch it.kind {
		case itemHeader:
			switch i {
			case 0:
				line := it.text
				if r.ctx.Augmented {
					line = augmentedHeader(line, r.m.sig)
				}
				r.ctx.emit(line)
				if r.m.regIndex < 0 {
					r.ctx.emit(localsLine(lay.Frame))
				}
			case r.m.regIndex:
				r.ctx.emit(localsLine(lay.Frame))
			default:
				r.ctx.emit(it.text)
			}
		case itemLabel:
			r.ctx.resetLabel()
			if err := r.ctx.Regions.track(it.text); err != nil {
				r.fail(fmt.Errorf("line %d: %w", it.line, err))
			}
			r.ctx.emit(it.text)
		case itemDirective:
			r.ctx.emit(renameDebug(it.text, r.rename))
		case itemInst:
			r.instruction(i, it)
		default:
			r.ctx.emit(it.text)
		}
		if r.err != nil {
			return nil, r.err
		}
	}
	if err := r.em.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", r.m.sig, err)
	}
	r.ctx.Inserted = r.em.Count()
	r.ctx.Units = r.m.units + r.em.Units()
	if r.ctx.Units > MaxMethodUnits {
		return nil, errOversized
	}
	return r.ctx.Lines, nil
}

// prologue moves the incoming parameters down to the registers the body
// addresses and initialises every shadow.
func (r *rewriter) prologue() {
	lay := r.ctx.Layout
	params := r.m.sig.Params
	for k, t := range params {
		r.em.Move(lay.Param(k), lay.Incoming(k), t)
	}

	zero := r.ctx.Temp(0)
	r.em.ConstTaint(zero, 0)
	for v := 0; v < lay.Locals; v++ {
		r.em.MoveTaint(r.sh(v), zero)
		r.ctx.Erased[v] = true
	}
	for k, t := range params {
		if t == signature.Filler {
			r.em.MoveTaint(r.sh(lay.Param(k)), zero)
		}
	}

	for k, t := range params {
		if t == signature.Filler {
			continue
		}
		s := r.sh(lay.Param(k))
		if r.ctx.Augmented {
			r.em.MoveTaint(s, lay.Incoming(lay.Params+k))
		} else {
			r.em.ConstTaint(r.ctx.Temp(1), k)
			r.em.Call(tool.OpGetParamTaint, r.ctx.Temp(1))
			r.em.MoveResultTaint(s)
		}
		r.ctx.Types[lay.Param(k)] = t
	}
	if lay.Seed >= 0 {
		r.em.MoveTaint(lay.Seed, lay.Incoming(2*lay.Params))
	}
	r.ctx.emit(r.em.Take()...)
}

func (r *rewriter) instruction(i int, it item) {
	r.line = it.line
	inst := disasm.RenameRegisters(it.inst, r.rename)
	text := inst.String()

	var pre, post []string
	switch it.op.Family {
	case disasm.FamInvoke:
		text, pre, post = r.invoke(i, inst, text)
	case disasm.FamInvokeCustom:
		r.invokeCustom(i, inst)
	default:
		pre, post = r.propagate(i, inst, it.op)
	}
	if r.err != nil {
		return
	}
	r.ctx.emit(pre...)
	r.ctx.emit(text)
	if it.op.Family == disasm.FamMoveResult {
		r.ctx.emit(r.pendingPost...)
		r.pendingPost = nil
	}
	r.ctx.emit(post...)
}

// propagate applies the shadow rule of a non-call instruction. pre lines run
// before the instruction, post lines after it.
func (r *rewriter) propagate(i int, inst disasm.Inst, op disasm.Opcode) (pre, post []string) {
	a := inst.Args
	if len(a) == 0 && op.Family != disasm.FamNop && op.Family != disasm.FamReturnVoid {
		r.fail(fmt.Errorf("line %d: %s without operands", r.line, inst.Op))
		return nil, nil
	}
	ctx := r.ctx
	before := func() { pre = append(pre, r.em.Take()...) }

	switch op.Family {
	case disasm.FamMove:
		d, s := r.reg(a[0]), r.reg(a[1])
		t, af, zero := ctx.Types[s], ctx.ArrayFields[s], ctx.Erased[s]
		if !(zero && ctx.Erased[d]) {
			r.em.MoveTaint(r.sh(d), r.sh(s))
		}
		r.wrote(d)
		if zero {
			ctx.Erased[d] = true
		}
		if t != "" {
			ctx.Types[d] = t
		}
		if af != "" {
			ctx.ArrayFields[d] = af
		}

	case disasm.FamArrayLength, disasm.FamUnOp, disasm.FamBinOpLit:
		d, s := r.reg(a[0]), r.reg(a[1])
		r.em.MoveTaint(r.sh(d), r.sh(s))
		r.wrote(d)

	case disasm.FamBinOp, disasm.FamCmp:
		d, x, y := r.reg(a[0]), r.reg(a[1]), r.reg(a[2])
		r.em.Union(r.sh(d), r.sh(x), r.sh(y))
		r.wrote(d)

	case disasm.FamBinOp2Addr:
		d, y := r.reg(a[0]), r.reg(a[1])
		r.em.Union(r.sh(d), r.sh(d), r.sh(y))
		r.wrote(d)

	case disasm.FamConst, disasm.FamConstMethod:
		r.clear(r.reg(a[0]))
	case disasm.FamConstString:
		d := r.reg(a[0])
		r.clear(d)
		ctx.Types[d] = "Ljava/lang/String;"
	case disasm.FamConstClass:
		d := r.reg(a[0])
		r.clear(d)
		ctx.Types[d] = "Ljava/lang/Class;"
	case disasm.FamNewInstance, disasm.FamNewArray:
		d := r.reg(a[0])
		r.clear(d)
		ctx.Types[d] = a[len(a)-1]
	case disasm.FamInstanceOf:
		d := r.reg(a[0])
		r.clear(d)
		ctx.Types[d] = "Z"
	case disasm.FamCheckCast:
		if len(a) == 2 {
			ctx.Types[r.reg(a[0])] = a[1]
		}

	case disasm.FamMoveResult:
		d := r.reg(a[0])
		if r.pending {
			r.wrote(d)
			if r.pendingType != "" {
				ctx.Types[d] = r.pendingType
			}
		} else {
			r.clear(d)
		}
		r.pending, r.pendingType = false, ""

	case disasm.FamMoveException:
		d := r.reg(a[0])
		r.em.Call(tool.OpGetExceptionTaint)
		r.em.MoveResultTaint(r.sh(d))
		r.wrote(d)
		ctx.Types[d] = "Ljava/lang/Throwable;"

	case disasm.FamReturn:
		s := r.sh(r.reg(a[0]))
		if seed := ctx.Layout.Seed; seed >= 0 {
			r.em.Union(ctx.Temp(2), s, seed)
			s = ctx.Temp(2)
		}
		r.em.Call(tool.OpSetReturnTaint, s)
		before()

	case disasm.FamThrow:
		r.em.Call(tool.OpSetExceptionTaint, r.sh(r.reg(a[0])))
		before()

	case disasm.FamAGet:
		d, arr := r.reg(a[0]), r.reg(a[1])
		elem := ""
		if t := ctx.Types[arr]; strings.HasPrefix(t, "[") {
			elem = t[1:]
		}
		r.em.Call(tool.OpGetArrayTaint, arr)
		r.em.MoveResultTaint(r.sh(d))
		before()
		r.wrote(d)
		if elem != "" {
			ctx.Types[d] = elem
		}

	case disasm.FamAPut:
		v, arr := r.reg(a[0]), r.reg(a[1])
		r.em.Call(tool.OpAddArrayTaint, arr, r.sh(v))
		if ref, ok := ctx.ArrayFields[arr]; ok {
			t0 := ctx.Temp(0)
			r.em.Field(tool.OpStaticFieldTaintGet, []int{t0}, ref)
			r.em.Union(t0, t0, r.sh(v))
			r.em.Field(tool.OpStaticFieldTaintPut, []int{t0}, ref)
		}

	case disasm.FamIGet:
		pre = r.instanceGet(a)
	case disasm.FamIPut:
		r.instancePut(inst.Op, a)
	case disasm.FamSGet:
		r.staticGet(a)
	case disasm.FamSPut:
		r.staticPut(a)

	case disasm.FamFilledNewArray:
		if d := r.dest(i); d >= 0 {
			var shadows []int
			for _, reg := range r.regs(inst) {
				shadows = append(shadows, r.sh(reg))
			}
			r.em.Union(r.sh(d), shadows...)
			r.pending, r.pendingPost, r.pendingType = true, r.em.Take(), a[len(a)-1]
		}
	}
	post = r.em.Take()
	return pre, post
}

// field resolves a field operand to its indexed owner.
func (r *rewriter) field(ref string) (owner string, f hierarchy.Field, typ string, ok bool) {
	class, name, typ, valid := fieldRef(ref)
	if !valid {
		r.fail(fmt.Errorf("line %d: bad field reference %q", r.line, ref))
		return "", hierarchy.Field{}, "", false
	}
	owner, f, ok = r.e.opts.Classes.FieldOwner(class, name)
	return owner, f, typ, ok
}

func (r *rewriter) instanceGet(a []string) []string {
	if len(a) != 3 {
		r.fail(fmt.Errorf("line %d: iget expects 3 operands", r.line))
		return nil
	}
	d, obj := r.reg(a[0]), r.reg(a[1])
	owner, f, typ, ok := r.field(a[2])
	t1 := r.ctx.Temp(1)
	switch {
	case !ok || f.Static:
		r.em.Call(tool.OpGetArrayTaint, obj)
		r.em.MoveResultTaint(t1)
	case t1 <= NibbleRegister:
		_, name, _, _ := fieldRef(a[2])
		r.em.Field(tool.OpFieldTaintGet, []int{t1, obj}, shadowRef(owner, name))
	default:
		// the object register doubles as the 4-bit target while its
		// reference waits in the temp block
		_, name, _, _ := fieldRef(a[2])
		t2 := r.ctx.Temp(2)
		r.em.StageObject(t2, obj)
		r.em.Field(tool.OpFieldTaintGet, []int{obj, obj}, shadowRef(owner, name))
		r.em.MoveTaint(t1, obj)
		r.em.StageObject(obj, t2)
	}
	pre := r.em.Take()
	r.em.MoveTaint(r.sh(d), t1)
	r.wrote(d)
	r.ctx.Types[d] = typ
	return pre
}

func (r *rewriter) instancePut(op string, a []string) {
	if len(a) != 3 {
		r.fail(fmt.Errorf("line %d: iput expects 3 operands", r.line))
		return
	}
	v, obj := r.reg(a[0]), r.reg(a[1])
	owner, f, _, ok := r.field(a[2])
	if !ok || f.Static {
		r.em.Call(tool.OpAddArrayTaint, obj, r.sh(v))
		return
	}
	_, name, _, _ := fieldRef(a[2])
	ref := shadowRef(owner, name)
	t1, t2 := r.ctx.Temp(1), r.ctx.Temp(2)
	switch {
	case t1 <= NibbleRegister:
		r.em.MoveTaint(t1, r.sh(v))
		r.em.Field(tool.OpFieldTaintPut, []int{t1, obj}, ref)
	case v != obj && !r.ctx.Regions.Inside():
		// park the value, carry the label in its register, then restore it
		slot := putSlot(op)
		r.em.Move(t2, v, slot)
		r.em.MoveTaint(v, r.sh(v))
		r.em.Field(tool.OpFieldTaintPut, []int{v, obj}, ref)
		r.em.Move(v, t2, slot)
	default:
		r.em.ConstString(t1, ref)
		r.em.MoveTaint(t2, r.sh(v))
		r.em.Call(tool.OpSetFieldTaint, obj, t1, t2)
	}
}

// putSlot is the slot type of the value an iput variant stores.
func putSlot(op string) string {
	switch {
	case strings.HasSuffix(op, "-wide"):
		return "J"
	case strings.HasSuffix(op, "-object"):
		return "Ljava/lang/Object;"
	}
	return "I"
}

func (r *rewriter) staticGet(a []string) {
	if len(a) != 2 {
		r.fail(fmt.Errorf("line %d: sget expects 2 operands", r.line))
		return
	}
	d := r.reg(a[0])
	owner, f, typ, ok := r.field(a[1])
	if !ok || !f.Static {
		r.clear(d)
		r.ctx.Types[d] = typ
		return
	}
	_, name, _, _ := fieldRef(a[1])
	ref := shadowRef(owner, name)
	t0 := r.ctx.Temp(0)
	r.em.Field(tool.OpStaticFieldTaintGet, []int{t0}, ref)
	r.em.MoveTaint(r.sh(d), t0)
	r.wrote(d)
	r.ctx.Types[d] = typ
	if strings.HasPrefix(typ, "[") {
		r.ctx.ArrayFields[d] = ref
	}
}

func (r *rewriter) staticPut(a []string) {
	if len(a) != 2 {
		r.fail(fmt.Errorf("line %d: sput expects 2 operands", r.line))
		return
	}
	v := r.reg(a[0])
	owner, f, _, ok := r.field(a[1])
	if !ok || !f.Static {
		return
	}
	_, name, _, _ := fieldRef(a[1])
	t0 := r.ctx.Temp(0)
	r.em.MoveTaint(t0, r.sh(v))
	r.em.Field(tool.OpStaticFieldTaintPut, []int{t0}, shadowRef(owner, name))
}
