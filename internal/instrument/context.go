package instrument

import (
	"fmt"

	"smalitaint/internal/signature"
)

const (
	// HighRegister is the largest register an 8-bit operand can address.
	HighRegister = 255
	// NibbleRegister is the largest register a 4-bit operand can address.
	NibbleRegister = 15
	// InvokeWindow is the register count limit of non-range invokes.
	InvokeWindow = 5
	// MaxMethodUnits bounds a rewritten method body. Larger bodies could push
	// conditional branches out of their 16-bit reach.
	MaxMethodUnits = 32767
	// MinTempBlock is the number of scratch registers every rewritten method
	// reserves for staging helper-call operands.
	MinTempBlock = 4
)

// Layout is the register frame of a rewritten method. Original locals keep
// v0..vL-1, parameters are copied to vL..vL+P-1, then come the temp block,
// one shadow per original register, and the optional seed register. Incoming
// parameters follow the new locals.
type Layout struct {
	Locals   int // original locals
	Params   int // original parameter registers
	Temp     int // first register of the temp block
	TempSize int
	Seed     int // -1 when the method carries no seed
	Frame    int // new .locals count
}

// NewLayout computes the frame for a method with the given original locals,
// parameter registers and temp block size.
func NewLayout(locals, params, tempSize int, seed bool) Layout {
	if tempSize < MinTempBlock {
		tempSize = MinTempBlock
	}
	l := Layout{
		Locals:   locals,
		Params:   params,
		Temp:     locals + params,
		TempSize: tempSize,
		Seed:     -1,
	}
	l.Frame = 2*(locals+params) + tempSize
	if seed {
		l.Seed = l.Frame
		l.Frame++
	}
	return l
}

// Fits reports whether the temp block stays addressable by 8-bit operands.
func (l Layout) Fits() bool {
	return l.Temp+l.TempSize-1 <= HighRegister
}

// Shadow returns the shadow register of original register r.
func (l Layout) Shadow(r int) (int, error) {
	if r < 0 || r >= l.Locals+l.Params {
		return 0, fmt.Errorf("register v%d outside frame of %d", r, l.Locals+l.Params)
	}
	return l.Temp + l.TempSize + r, nil
}

// Param returns the register that holds parameter slot k after the rewrite.
func (l Layout) Param(k int) int { return l.Locals + k }

// Incoming returns the register incoming parameter k occupies on entry.
func (l Layout) Incoming(k int) int { return l.Frame + k }

// MethodContext is the mutable state of rewriting one method. It is created
// when the method opens and dropped once its lines are written out.
type MethodContext struct {
	Class string
	Sig   *signature.Signature

	Layout Layout

	// Augmented methods receive one taint per slot plus a seed.
	Augmented    bool
	Instrumented bool
	// SourceLabel is the ordinal of the method itself when it is a source.
	SourceLabel int

	Types       map[int]string // last known static type per register
	Erased      map[int]bool   // shadows known to be zero since the last label
	ArrayFields map[int]string // register -> static field it was loaded from

	Regions RegionStack

	Lines    []string
	Bridges  [][]string
	Inserted int
	Units    int
}

// NewMethodContext returns a context with empty maps.
func NewMethodContext(class string, sig *signature.Signature) *MethodContext {
	return &MethodContext{
		Class:       class,
		Sig:         sig,
		SourceLabel: -1,
		Types:       make(map[int]string),
		Erased:      make(map[int]bool),
		ArrayFields: make(map[int]string),
	}
}

// MaxRegister returns the highest register index in use after the rewrite.
func (m *MethodContext) MaxRegister() int {
	return m.Layout.Frame + m.Layout.Params - 1
}

// Shadow returns the shadow register of r.
func (m *MethodContext) Shadow(r int) (int, error) {
	return m.Layout.Shadow(r)
}

// Temp returns the i-th scratch register.
func (m *MethodContext) Temp(i int) int { return m.Layout.Temp + i }

// forget drops per-register facts when r is overwritten.
func (m *MethodContext) forget(r int) {
	delete(m.Types, r)
	delete(m.ArrayFields, r)
}

// resetLabel clears facts that do not survive a branch target.
func (m *MethodContext) resetLabel() {
	clear(m.Erased)
	clear(m.Types)
	clear(m.ArrayFields)
}

func (m *MethodContext) emit(lines ...string) {
	m.Lines = append(m.Lines, lines...)
}
