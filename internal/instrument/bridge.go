package instrument

import (
	"fmt"
	"slices"
	"strings"

	"smalitaint/internal/disasm"
	"smalitaint/internal/hierarchy"
	"smalitaint/internal/signature"
	"smalitaint/internal/tool"
)

// bridge builds a synthetic method with the original descriptor of an
// augmented method. Framework code and reflection keep reaching the method
// through it; it forwards with every taint and the seed set to zero.
func (e *Engine) bridge(cls *hierarchy.Class, m *method, header string) []string {
	sig := m.sig
	n := len(sig.Params)
	seed := 0
	if !sig.IsVoid() {
		seed = 1
	}
	block := 2*n + seed
	if block == n {
		return nil
	}
	if block > HighRegister+1 {
		e.log.Warn("no bridge for wide method", "method", sig.String(), "slots", n)
		return nil
	}
	locals := block
	if signature.IsWide(sig.Return) && locals < 2 {
		locals = 2
	}

	em := NewEmitter(e.opts.Tool, 0)
	incoming := make([]int, n)
	for k := range incoming {
		incoming[k] = locals + k
	}
	em.stage(incoming, sig.Params)
	for j := n; j < block; j++ {
		em.ConstTaint(j, 0)
	}
	target := sig.Class + "->" + sig.Name + sig.AddTaintToDesc()
	em.Raw(em.name(bridgeInvoke(cls, m.decl))+em.name(tool.OpRangeSuffix),
		disasm.FormatRange(disasm.Reg(0), disasm.Reg(block-1)), target)
	switch {
	case sig.IsVoid():
		em.op(tool.OpReturnVoid)
	case signature.IsWide(sig.Return):
		em.op(tool.OpMoveResultWide, "v0")
		em.op(tool.OpReturnWide, "v0")
	case signature.IsObject(sig.Return):
		em.op(tool.OpMoveResultObject, "v0")
		em.op(tool.OpReturnObject, "v0")
	default:
		em.op(tool.OpMoveResult, "v0")
		em.op(tool.OpReturn, "v0")
	}
	if err := em.Err(); err != nil {
		e.log.Warn("no bridge", "method", sig.String(), "err", err)
		return nil
	}
	e.opts.Stats.Bridges.Add(1)

	out := []string{bridgeHeader(header, m.decl), fmt.Sprintf("    .locals %d", locals), ""}
	out = append(out, em.Take()...)
	return append(out, ".end method")
}

func bridgeInvoke(cls *hierarchy.Class, decl hierarchy.Method) tool.Op {
	switch {
	case decl.Static:
		return tool.OpInvokeStatic
	case decl.Private:
		return tool.OpInvokeDirect
	case cls.Interface:
		return tool.OpInvokeInterface
	}
	return tool.OpInvokeVirtual
}

// bridgeHeader keeps the original access flags minus abstract and native and
// marks the method synthetic.
func bridgeHeader(header string, decl hierarchy.Method) string {
	flags := slices.DeleteFunc(slices.Clone(decl.Flags), func(f string) bool {
		return f == "abstract" || f == "native"
	})
	if !slices.Contains(flags, "synthetic") {
		flags = append(flags, "synthetic")
	}
	f := strings.Fields(header)
	return ".method " + strings.Join(append(flags, f[len(f)-1]), " ")
}
