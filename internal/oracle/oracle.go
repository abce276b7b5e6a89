// Package oracle decides which method signatures introduce taint (sources)
// and which parameters of which methods must be checked for taint (sinks).
//
// An Oracle is built once from the source and sink lists and is read-only
// afterwards, so a single instance can be shared by every worker.
package oracle

import (
	"slices"
	"strings"
)

// Wildcard is the class part of a source entry that matches any declaring class.
const Wildcard = "*"

// ParamSet lists the declared-parameter indices a sink checks. All means the
// check applies to every parameter.
type ParamSet struct {
	All     bool
	Indices []int
}

// Empty reports whether the set selects no parameter.
func (p ParamSet) Empty() bool {
	return !p.All && len(p.Indices) == 0
}

// Contains reports whether declared parameter i is checked.
func (p ParamSet) Contains(i int) bool {
	return p.All || slices.Contains(p.Indices, i)
}

// Oracle holds the loaded source and sink tables.
type Oracle struct {
	exact     map[string]int // class->nameAndDesc -> ordinal
	wildcards map[string]int // nameAndDesc -> ordinal
	sinks     map[string]ParamSet
	nExact    int
}

func newOracle() *Oracle {
	return &Oracle{
		exact:     make(map[string]int),
		wildcards: make(map[string]int),
		sinks:     make(map[string]ParamSet),
	}
}

// IsSource reports whether calling class->nameAndDesc introduces taint,
// either through an exact entry or a wildcard entry for nameAndDesc.
func (o *Oracle) IsSource(class, nameAndDesc string) bool {
	_, ok := o.SourceLabel(class, nameAndDesc)
	return ok
}

// SourceLabel returns the ordinal used as the taint label for a source call.
// Exact entries win over wildcard entries.
func (o *Oracle) SourceLabel(class, nameAndDesc string) (int, bool) {
	if n, ok := o.exact[class+"->"+nameAndDesc]; ok {
		return n, true
	}
	n, ok := o.wildcards[nameAndDesc]
	return n, ok
}

// TaintNum returns the ordinal of an exact source entry, its zero-based
// position in the load order.
func (o *Oracle) TaintNum(sig string) (int, bool) {
	n, ok := o.exact[sig]
	return n, ok
}

// SinkParams looks up an exact sink signature. The zero ParamSet is returned
// when sig is not a sink.
func (o *Oracle) SinkParams(sig string) ParamSet {
	return o.sinks[sig]
}

// SinkParamsIn tries class->nameAndDesc for every class in classes and
// returns the first matching sink entry. When more than one class matches,
// the winner is decided by the order of classes; callers must not depend on
// which one wins for ambiguous hierarchies.
func (o *Oracle) SinkParamsIn(classes []string, nameAndDesc string) ParamSet {
	for _, c := range classes {
		if p, ok := o.sinks[c+"->"+nameAndDesc]; ok {
			return p
		}
	}
	return ParamSet{}
}

// HasSinks reports whether any sink was loaded. Container propagation is
// disabled entirely when it returns false.
func (o *Oracle) HasSinks() bool {
	return len(o.sinks) > 0
}

// Sources returns the number of exact and wildcard source entries.
func (o *Oracle) Sources() int {
	return len(o.exact) + len(o.wildcards)
}

// Sinks returns the number of sink entries.
func (o *Oracle) Sinks() int {
	return len(o.sinks)
}

// SourceSignatures returns the exact source signatures ordered by ordinal.
func (o *Oracle) SourceSignatures() []string {
	out := make([]string, o.nExact)
	for sig, n := range o.exact {
		out[n] = sig
	}
	return out
}

func isComment(line string) bool {
	return strings.HasPrefix(line, "//")
}
