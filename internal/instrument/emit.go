package instrument

import (
	"fmt"
	"strconv"
	"sync"

	"smalitaint/internal/disasm"
	"smalitaint/internal/signature"
	"smalitaint/internal/tool"
)

// Emitter spells taint operations through a tool strategy. Every instruction
// it writes lands in an internal buffer that callers drain with Take. The
// first error sticks and turns later calls into no-ops.
type Emitter struct {
	ts    tool.Strategy
	temp  int
	lines []string
	units int
	count int
	err   error
}

// NewEmitter returns an emitter whose staging block starts at temp.
func NewEmitter(ts tool.Strategy, temp int) *Emitter {
	return &Emitter{ts: ts, temp: temp}
}

// Err returns the first error encountered.
func (e *Emitter) Err() error { return e.err }

// Take returns the buffered lines and empties the buffer.
func (e *Emitter) Take() []string {
	out := e.lines
	e.lines = nil
	return out
}

// Units returns the code units emitted so far.
func (e *Emitter) Units() int { return e.units }

// Count returns the number of instructions emitted so far.
func (e *Emitter) Count() int { return e.count }

// Temp returns the i-th staging register.
func (e *Emitter) Temp(i int) int { return e.temp + i }

func (e *Emitter) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *Emitter) name(op tool.Op) string {
	if e.err != nil {
		return ""
	}
	n, err := e.ts.Name(op)
	if err != nil {
		e.fail(err)
		return ""
	}
	return n
}

// Raw appends an instruction verbatim and accounts for its size.
func (e *Emitter) Raw(op string, args ...string) {
	if e.err != nil || op == "" {
		return
	}
	o, ok := disasm.Lookup(op)
	if !ok {
		e.fail(fmt.Errorf("%w %q emitted", disasm.ErrUnknownOpcode, op))
		return
	}
	e.lines = append(e.lines, disasm.Format(op, args...))
	e.units += o.Units
	e.count++
}

func (e *Emitter) op(op tool.Op, args ...string) {
	e.Raw(e.name(op), args...)
}

// MoveTaint copies a taint label between registers.
func (e *Emitter) MoveTaint(dst, src int) {
	if dst == src {
		return
	}
	if dst <= HighRegister {
		e.op(tool.OpMoveTaint, disasm.Reg(dst), disasm.Reg(src))
		return
	}
	e.op(tool.OpMoveTaintWide, disasm.Reg(dst), disasm.Reg(src))
}

// MoveResultTaint stores the int result of the previous call in dst.
func (e *Emitter) MoveResultTaint(dst int) {
	if dst <= HighRegister {
		e.op(tool.OpMoveResultTaint, disasm.Reg(dst))
		return
	}
	e.op(tool.OpMoveResultTaint, disasm.Reg(e.temp))
	e.MoveTaint(dst, e.temp)
}

// ConstTaint loads a literal label.
func (e *Emitter) ConstTaint(dst, v int) {
	if dst <= HighRegister {
		e.op(tool.OpConst, disasm.Reg(dst), strconv.Itoa(v))
		return
	}
	e.op(tool.OpConst, disasm.Reg(e.temp), strconv.Itoa(v))
	e.MoveTaint(dst, e.temp)
}

// ConstString loads a string literal into an 8-bit addressable register.
func (e *Emitter) ConstString(dst int, s string) {
	if dst > HighRegister {
		e.fail(fmt.Errorf("const-string target v%d out of range", dst))
		return
	}
	e.op(tool.OpConstString, disasm.Reg(dst), strconv.Quote(s))
}

// Union stores the bitwise union of srcs in dst. The sources are read before
// dst is written, so dst may be one of them.
func (e *Emitter) Union(dst int, srcs ...int) {
	switch len(srcs) {
	case 0:
		e.ConstTaint(dst, 0)
		return
	case 1:
		e.MoveTaint(dst, srcs[0])
		return
	case 2:
		if dst <= HighRegister && srcs[0] <= HighRegister && srcs[1] <= HighRegister {
			e.op(tool.OpUnionTaint, disasm.Reg(dst), disasm.Reg(srcs[0]), disasm.Reg(srcs[1]))
			return
		}
	}
	acc := e.temp
	e.MoveTaint(acc, srcs[0])
	for _, s := range srcs[1:] {
		if s > HighRegister {
			e.MoveTaint(acc+1, s)
			s = acc + 1
		}
		e.op(tool.OpUnionTaint, disasm.Reg(acc), disasm.Reg(acc), disasm.Reg(s))
	}
	e.MoveTaint(dst, acc)
}

var targetCache sync.Map // call target -> *signature.Signature

func targetSignature(target string) (*signature.Signature, error) {
	if s, ok := targetCache.Load(target); ok {
		return s.(*signature.Signature), nil
	}
	s, err := signature.Parse(target, true)
	if err != nil {
		return nil, err
	}
	targetCache.Store(target, s)
	return s, nil
}

// Call invokes a runtime helper with regs as its argument slots. When the
// registers do not fit the non-range window and are not already contiguous
// they are copied into the staging block first; in that case regs must not
// alias the staging block except at their own position.
func (e *Emitter) Call(op tool.Op, regs ...int) {
	target := e.name(op)
	if target == "" {
		return
	}
	e.invoke(e.name(tool.OpInvokeStatic), target, regs, nil)
}

// invoke writes an invoke of target using kind (e.g. "invoke-static"). types
// gives the slot types used for staging moves; nil derives them from target.
func (e *Emitter) invoke(kind, target string, regs []int, types []string) {
	if e.err != nil {
		return
	}
	if fitsWindow(regs) {
		names := make([]string, len(regs))
		for i, r := range regs {
			names[i] = disasm.Reg(r)
		}
		e.Raw(kind, disasm.FormatList(names...), target)
		return
	}
	if !contiguous(regs) {
		if types == nil {
			sig, err := targetSignature(target)
			if err != nil {
				e.fail(err)
				return
			}
			types = sig.Params
		}
		if len(types) != len(regs) {
			e.fail(fmt.Errorf("%s: %d registers for %d slots", target, len(regs), len(types)))
			return
		}
		e.stage(regs, types)
		staged := make([]int, len(regs))
		for i := range regs {
			staged[i] = e.temp + i
		}
		regs = staged
	}
	e.Raw(kind+e.name(tool.OpRangeSuffix),
		disasm.FormatRange(disasm.Reg(regs[0]), disasm.Reg(regs[len(regs)-1])), target)
}

// stage copies regs into consecutive staging registers with moves matching
// the slot types. Filler slots travel with their wide partner.
func (e *Emitter) stage(regs []int, types []string) {
	for i, r := range regs {
		e.Move(e.temp+i, r, types[i])
	}
}

// Move copies a value of slot type t with a 16-bit move.
func (e *Emitter) Move(dst, src int, t string) {
	switch {
	case t == signature.Filler, dst == src:
	case signature.IsWide(t):
		e.op(tool.OpMoveWide, disasm.Reg(dst), disasm.Reg(src))
	case signature.IsObject(t):
		e.op(tool.OpMoveObject, disasm.Reg(dst), disasm.Reg(src))
	default:
		e.op(tool.OpMoveTaintWide, disasm.Reg(dst), disasm.Reg(src))
	}
}

// StageObject copies an object reference with a 16-bit move.
func (e *Emitter) StageObject(dst, src int) {
	if dst != src {
		e.op(tool.OpMoveObject, disasm.Reg(dst), disasm.Reg(src))
	}
}

// Field reads or writes a shadow field. op is one of the field-taint ops.
func (e *Emitter) Field(op tool.Op, regs []int, ref string) {
	args := make([]string, 0, len(regs)+1)
	for _, r := range regs {
		args = append(args, disasm.Reg(r))
	}
	e.op(op, append(args, ref)...)
}

func fitsWindow(regs []int) bool {
	if len(regs) > InvokeWindow {
		return false
	}
	for _, r := range regs {
		if r > NibbleRegister {
			return false
		}
	}
	return true
}

func contiguous(regs []int) bool {
	if len(regs) == 0 {
		return true
	}
	for i := 1; i < len(regs); i++ {
		if regs[i] != regs[0]+i {
			return false
		}
	}
	return true
}
