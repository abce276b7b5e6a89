package analysis

import (
	"sort"
	"strings"

	"github.com/samber/lo"

	"smalitaint/internal/hierarchy"
)

// objectMethods are dispatched into by framework code on every class.
var objectMethods = map[string]bool{
	"toString()Ljava/lang/String;": true,
	"equals(Ljava/lang/Object;)Z":  true,
	"hashCode()I":                  true,
	"finalize()V":                  true,
	"clone()Ljava/lang/Object;":    true,
}

// Plan is the inject pass's view of the analyze results: which methods get
// shadow tracking and which get taint parameters appended to their
// descriptors. A nil *Plan selects nothing.
type Plan struct {
	instrumented map[string]bool
	augmented    map[string]bool
	ids          map[string]int
	labels       map[string]int
	families     map[string]string
}

// unionFind groups overriding declarations into dispatch families.
type unionFind struct {
	parent map[string]string
}

func (u *unionFind) find(x string) string {
	p, ok := u.parent[x]
	if !ok {
		u.parent[x] = x
		return x
	}
	if p == x {
		return x
	}
	root := u.find(p)
	u.parent[x] = root
	return root
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	// smaller name wins so roots do not depend on visit order
	if rb < ra {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
}

func splitKey(sig string) (class, nameAndDesc string) {
	class, nameAndDesc, _ = strings.Cut(sig, "->")
	return class, nameAndDesc
}

// Resolve maps a call target as written at a call site to the key of the app
// method it reaches, if any.
func Resolve(classes *hierarchy.Index, callee string) (string, bool) {
	class, nd := splitKey(callee)
	decl, ok := classes.DeclaringClass(class, nd)
	if !ok {
		return "", false
	}
	return decl + "->" + nd, true
}

func dispatched(f *MethodFacts) bool {
	return !f.Static && !strings.HasPrefix(f.NameAndDesc, "<")
}

// BuildPlan selects methods for instrumentation: every method that calls a
// source or sink, then transitively its callers, closed over override
// families. A family is augmented when none of its members can be entered
// from framework code under the original descriptor.
func BuildPlan(facts *Facts, classes *hierarchy.Index) *Plan {
	all := facts.All()
	p := &Plan{
		instrumented: make(map[string]bool),
		augmented:    make(map[string]bool),
		ids:          make(map[string]int, len(all)),
		labels:       make(map[string]int),
		families:     make(map[string]string),
	}
	uf := &unionFind{parent: make(map[string]string)}
	callers := make(map[string][]string)

	for i, f := range all {
		p.ids[f.Signature] = i
		if f.SourceLabel >= 0 {
			p.labels[f.Signature] = f.SourceLabel
		}
		uf.find(f.Signature)
		if dispatched(f) {
			for _, a := range classes.Ancestors(f.Class) {
				if m, ok := classes.Method(a, f.NameAndDesc); ok && !m.Private && !m.Static {
					uf.union(f.Signature, a+"->"+f.NameAndDesc)
				}
			}
		}
		for _, c := range lo.Uniq(f.Callees) {
			if key, ok := Resolve(classes, c); ok {
				callers[key] = append(callers[key], f.Signature)
			}
		}
	}

	members := make(map[string][]string)
	for _, f := range all {
		root := uf.find(f.Signature)
		p.families[f.Signature] = root
		members[root] = append(members[root], f.Signature)
	}

	var work []string
	visit := func(m string) {
		if !p.instrumented[m] {
			p.instrumented[m] = true
			work = append(work, m)
		}
	}
	for _, f := range all {
		if f.Tainted() {
			visit(f.Signature)
		}
	}
	for len(work) > 0 {
		m := work[len(work)-1]
		work = work[:len(work)-1]
		for _, fm := range members[uf.find(m)] {
			visit(fm)
		}
		for _, c := range callers[m] {
			visit(c)
		}
	}

	for _, ms := range members {
		if !p.instrumented[ms[0]] {
			continue
		}
		ok := lo.EveryBy(ms, func(m string) bool {
			f, _ := facts.Get(m)
			return augmentable(f, classes)
		})
		if ok {
			for _, m := range ms {
				p.augmented[m] = true
			}
		}
	}
	return p
}

func augmentable(f *MethodFacts, classes *hierarchy.Index) bool {
	if f == nil || f.Native || strings.HasPrefix(f.NameAndDesc, "<") {
		return false
	}
	if m, ok := classes.Method(f.Class, f.NameAndDesc); ok && (m.Private || m.Static) {
		return true
	}
	if objectMethods[f.NameAndDesc] {
		return false
	}
	return !classes.HasExternalAncestor(f.Class)
}

// Instrumented reports whether sig gets shadow tracking.
func (p *Plan) Instrumented(sig string) bool {
	return p != nil && p.instrumented[sig]
}

// Augmented reports whether sig's descriptor carries taint parameters.
func (p *Plan) Augmented(sig string) bool {
	return p != nil && p.augmented[sig]
}

// MethodID returns a stable index for sig, usable as a coverage id.
func (p *Plan) MethodID(sig string) (int, bool) {
	if p == nil {
		return 0, false
	}
	id, ok := p.ids[sig]
	return id, ok
}

// SourceSeed returns the source ordinal a caller passes as seed when calling
// sig, which is itself configured as a source.
func (p *Plan) SourceSeed(sig string) (int, bool) {
	if p == nil {
		return 0, false
	}
	l, ok := p.labels[sig]
	return l, ok
}

// Family returns the representative of sig's override family.
func (p *Plan) Family(sig string) string {
	if p == nil {
		return sig
	}
	if r, ok := p.families[sig]; ok {
		return r
	}
	return sig
}

// InstrumentedMethods returns the selected methods in sorted order.
func (p *Plan) InstrumentedMethods() []string {
	if p == nil {
		return nil
	}
	out := lo.Keys(p.instrumented)
	sort.Strings(out)
	return out
}

// AugmentedMethods returns the augmented methods in sorted order.
func (p *Plan) AugmentedMethods() []string {
	if p == nil {
		return nil
	}
	out := lo.Keys(p.augmented)
	sort.Strings(out)
	return out
}
