// Package instrument rewrites smali method bodies so that every register
// carries a shadow taint label, and wires those labels through calls, fields,
// arrays, exceptions and platform containers.
package instrument

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/samber/lo"

	"smalitaint/internal/analysis"
	"smalitaint/internal/disasm"
	"smalitaint/internal/hierarchy"
	"smalitaint/internal/logging"
	"smalitaint/internal/oracle"
	"smalitaint/internal/signature"
	"smalitaint/internal/tool"
)

// MaxCoverageID is the largest method id const/16 can carry.
const MaxCoverageID = 32767

var errOversized = errors.New("method too large to instrument")

// Options configures an Engine. Nil fields fall back to an empty oracle, an
// empty class index, fresh statistics and a discarding logger. The zero Tool
// is the Full strategy.
type Options struct {
	Oracle  *oracle.Oracle
	Tool    tool.Strategy
	Classes *hierarchy.Index
	Plan    *analysis.Plan
	Facts   *analysis.Facts
	Stats   *analysis.Stats
	Logger  *log.Logger
}

// Engine runs the analyze and inject passes over single class listings. An
// engine holds no per-file state, so one engine may serve many goroutines.
type Engine struct {
	opts       Options
	containers *Containers
	log        *log.Logger
}

// NewEngine returns an engine for opts.
func NewEngine(opts Options) *Engine {
	if opts.Oracle == nil {
		opts.Oracle, _ = oracle.New(nil, nil)
	}
	if opts.Classes == nil {
		opts.Classes = hierarchy.NewIndex()
	}
	if opts.Facts == nil {
		opts.Facts = analysis.NewFacts()
	}
	if opts.Stats == nil {
		opts.Stats = &analysis.Stats{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Engine{
		opts:       opts,
		containers: NewContainers(opts.Oracle, opts.Classes),
		log:        opts.Logger,
	}
}

// Stats returns the counters the engine accumulates into.
func (e *Engine) Stats() *analysis.Stats { return e.opts.Stats }

// Facts returns the per-method facts recorded by AnalyzeFile.
func (e *Engine) Facts() *analysis.Facts { return e.opts.Facts }

func calleeOf(inst disasm.Inst) (*signature.Signature, error) {
	if len(inst.Args) == 0 {
		return nil, fmt.Errorf("line %d: %s without target", inst.Line, inst.Op)
	}
	sig, err := signature.Parse(inst.Args[len(inst.Args)-1], strings.HasPrefix(inst.Op, "invoke-static"))
	if err != nil {
		return nil, fmt.Errorf("line %d: %w", inst.Line, err)
	}
	return sig, nil
}

// sinkParams resolves the checked parameters of a call, first by the exact
// signature, then through the classes that may implement it.
func (e *Engine) sinkParams(callee *signature.Signature) oracle.ParamSet {
	if p := e.opts.Oracle.SinkParams(callee.String()); !p.Empty() {
		return p
	}
	nd := callee.NameAndDesc()
	return e.opts.Oracle.SinkParamsIn(e.opts.Classes.ImplementingClassesOf(callee.Class, nd), nd)
}

// AnalyzeFile records facts for every method of one class listing.
func (e *Engine) AnalyzeFile(path string, lines []string) error {
	cls, err := hierarchy.ParseClass(path, lines)
	if err != nil {
		return err
	}
	segs, err := splitMethods(lines)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	st := e.opts.Stats
	st.Files.Add(1)
	st.Classes.Add(1)
	for _, s := range segs {
		if !s.method {
			continue
		}
		m, err := scanMethod(cls.Name, s.start, lines[s.start:s.end])
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		f, err := e.methodFacts(path, cls, m)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		e.opts.Facts.Put(f)

		st.Methods.Add(1)
		st.SourceCalls.Add(int64(f.SourceCalls))
		st.SinkCalls.Add(int64(f.SinkCalls))
		st.ContainerSites.Add(int64(f.ContainerSites))
		if f.Tainted() {
			st.TaintedMethods.Add(1)
		} else {
			st.CleanMethods.Add(1)
		}
	}
	return nil
}

func (e *Engine) methodFacts(path string, cls *hierarchy.Class, m *method) (*analysis.MethodFacts, error) {
	f := &analysis.MethodFacts{
		Signature:   m.sig.String(),
		Class:       cls.Name,
		NameAndDesc: m.sig.NameAndDesc(),
		File:        path,
		Static:      m.decl.Static,
		Abstract:    m.decl.Abstract,
		Native:      m.decl.Native,
		Units:       m.units,
		Registers:   m.locals + m.params,
		SourceLabel: -1,
	}
	if l, ok := e.opts.Oracle.SourceLabel(cls.Name, f.NameAndDesc); ok {
		f.SourceLabel = l
	}
	for i, it := range m.items {
		if it.kind != itemInst || it.op.Family != disasm.FamInvoke {
			continue
		}
		callee, err := calleeOf(it.inst)
		if err != nil {
			return nil, err
		}
		f.Callees = append(f.Callees, callee.String())
		if e.opts.Oracle.IsSource(callee.Class, callee.NameAndDesc()) {
			f.SourceCalls++
		}
		if !e.sinkParams(callee).Empty() {
			f.SinkCalls++
		}
		site := Site{Sig: callee, Regs: make([]int, len(callee.Params)), Dest: -1}
		if _, ok := m.resultOf(i); ok {
			site.Dest = 0
		}
		if _, _, ok := e.containers.Match(site); ok {
			f.ContainerSites++
		}
	}
	return f, nil
}

// InjectFile rewrites one class listing according to the engine's plan and
// strategy. Methods the plan does not select pass through unchanged.
func (e *Engine) InjectFile(path string, lines []string) ([]string, error) {
	ts := e.opts.Tool
	if !ts.Tracks() && !ts.Covers() {
		return slices.Clone(lines), nil
	}
	cls, err := hierarchy.ParseClass(path, lines)
	if err != nil {
		return nil, err
	}
	segs, err := splitMethods(lines)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	out := make([]string, 0, len(lines)+len(lines)/2)
	var bridges [][]string
	for _, s := range segs {
		chunk := lines[s.start:s.end]
		if !s.method {
			out = append(out, chunk...)
			continue
		}
		m, err := scanMethod(cls.Name, s.start, chunk)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if ts.Covers() {
			out = append(out, e.coverageHit(m, chunk)...)
			continue
		}
		body, bridge, err := e.rewriteMethod(cls, m, chunk)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, body...)
		if bridge != nil {
			bridges = append(bridges, bridge)
		}
	}
	if ts.Tracks() {
		out = append(out, e.shadowFields(cls)...)
		for _, b := range bridges {
			out = append(out, "")
			out = append(out, b...)
		}
	}
	return out, nil
}

func (e *Engine) rewriteMethod(cls *hierarchy.Class, m *method, chunk []string) ([]string, []string, error) {
	key := m.sig.String()
	if !e.opts.Plan.Instrumented(key) {
		return chunk, nil, nil
	}
	aug := e.opts.Plan.Augmented(key)
	st := e.opts.Stats
	st.Instrumented.Add(1)

	var bridge []string
	if aug {
		st.Augmented.Add(1)
		switch {
		case m.decl.Abstract:
			// callers left on the old descriptor still resolve here and
			// dispatch to the implementations' bridges
			bridge = slices.Clone(chunk)
			st.Bridges.Add(1)
		case !m.decl.Native:
			bridge = e.bridge(cls, m, chunk[0])
		}
	}
	if !m.hasBody {
		out := slices.Clone(chunk)
		if aug {
			out[0] = augmentedHeader(out[0], m.sig)
		}
		return out, bridge, nil
	}

	r := e.newRewriter(cls, m, aug)
	body, err := r.run()
	switch {
	case errors.Is(err, errOversized):
		st.Oversized.Add(1)
		e.log.Warn("method passes through uninstrumented", "method", key, "units", m.units,
			"registers", m.locals+m.params)
		return e.passThrough(m, chunk, aug), bridge, nil
	case err != nil:
		return nil, nil, err
	}
	st.Inserted.Add(int64(r.ctx.Inserted))
	if logging.IsDebug() {
		e.log.Debug("instrumented", "method", key, "augmented", aug, "inserted", r.ctx.Inserted,
			"units", r.ctx.Units, "frame", r.ctx.Layout.Frame)
	}
	return body, bridge, nil
}

// passThrough keeps an oversized body as is. An augmented header still has to
// match what callers invoke, so the descriptor and a .registers count grow.
func (e *Engine) passThrough(m *method, chunk []string, aug bool) []string {
	out := slices.Clone(chunk)
	if !aug {
		return out
	}
	out[0] = augmentedHeader(out[0], m.sig)
	if m.registersForm && m.regIndex >= 0 {
		extra := len(m.sig.Params)
		if !m.sig.IsVoid() {
			extra++
		}
		out[m.regIndex] = fmt.Sprintf("    .registers %d", m.locals+m.params+extra)
	}
	return out
}

// coverageHit inserts a coverage hit at method entry.
func (e *Engine) coverageHit(m *method, chunk []string) []string {
	id, ok := e.opts.Plan.MethodID(m.sig.String())
	if !ok || !m.hasBody || m.locals < 1 || id > MaxCoverageID {
		return chunk
	}
	em := NewEmitter(e.opts.Tool, 0)
	em.ConstTaint(0, id)
	em.Call(tool.OpCoverageHit, 0)
	if err := em.Err(); err != nil {
		e.log.Warn("coverage hit skipped", "method", m.sig.String(), "err", err)
		return chunk
	}
	at := slices.IndexFunc(m.items, func(it item) bool { return it.body })
	if at < 0 {
		return chunk
	}
	e.opts.Stats.CoverageHits.Add(1)
	e.opts.Stats.Inserted.Add(int64(em.Count()))
	out := make([]string, 0, len(chunk)+em.Count())
	out = append(out, chunk[:at]...)
	out = append(out, em.Take()...)
	return append(out, chunk[at:]...)
}

// shadowFields declares one int shadow per field of a tracked class.
func (e *Engine) shadowFields(cls *hierarchy.Class) []string {
	if cls.Interface || len(cls.Fields) == 0 {
		return nil
	}
	names := lo.Keys(cls.Fields)
	sort.Strings(names)
	out := []string{"", "# shadow fields"}
	for _, n := range names {
		if _, clash := cls.Fields[n+"_taint"]; clash {
			continue
		}
		mod := ""
		if cls.Fields[n].Static {
			mod = "static "
		}
		out = append(out, fmt.Sprintf(".field public %s%s:I", mod, shadowName(n)))
	}
	e.opts.Stats.ShadowFields.Add(int64(len(out) - 2))
	return out
}

func shadowName(field string) string { return field + "_taint" }

// shadowRef is the reference of the shadow of field name declared by owner.
func shadowRef(owner, name string) string {
	return owner + "->" + shadowName(name) + ":I"
}

// fieldRef splits "Lcls;->name:T".
func fieldRef(ref string) (class, name, typ string, ok bool) {
	class, rest, ok := strings.Cut(ref, "->")
	if !ok {
		return "", "", "", false
	}
	name, typ, ok = strings.Cut(rest, ":")
	return class, name, typ, ok
}
