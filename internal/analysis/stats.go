// Package analysis holds what the analyze pass learns about a program: run
// statistics, per-method facts, the instrumentation plan derived from them
// and the report rendered at the end of a run.
package analysis

import "sync/atomic"

// Stats are run-wide counters. Workers add to them concurrently; the order of
// additions does not matter.
type Stats struct {
	Files          atomic.Int64
	Classes        atomic.Int64
	Methods        atomic.Int64
	SourceCalls    atomic.Int64
	SinkCalls      atomic.Int64
	TaintedMethods atomic.Int64
	CleanMethods   atomic.Int64
	Instrumented   atomic.Int64
	Augmented      atomic.Int64
	Oversized      atomic.Int64
	ContainerSites atomic.Int64
	Inserted       atomic.Int64
	Bridges        atomic.Int64
	ShadowFields   atomic.Int64
	CoverageHits   atomic.Int64
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	Files          int64 `json:"files" yaml:"files"`
	Classes        int64 `json:"classes" yaml:"classes"`
	Methods        int64 `json:"methods" yaml:"methods"`
	SourceCalls    int64 `json:"source_calls" yaml:"source_calls"`
	SinkCalls      int64 `json:"sink_calls" yaml:"sink_calls"`
	TaintedMethods int64 `json:"tainted_methods" yaml:"tainted_methods"`
	CleanMethods   int64 `json:"clean_methods" yaml:"clean_methods"`
	Instrumented   int64 `json:"instrumented" yaml:"instrumented"`
	Augmented      int64 `json:"augmented" yaml:"augmented"`
	Oversized      int64 `json:"oversized" yaml:"oversized"`
	ContainerSites int64 `json:"container_sites" yaml:"container_sites"`
	Inserted       int64 `json:"inserted" yaml:"inserted"`
	Bridges        int64 `json:"bridges" yaml:"bridges"`
	ShadowFields   int64 `json:"shadow_fields" yaml:"shadow_fields"`
	CoverageHits   int64 `json:"coverage_hits" yaml:"coverage_hits"`
}

// Snapshot copies the current counter values.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Files:          s.Files.Load(),
		Classes:        s.Classes.Load(),
		Methods:        s.Methods.Load(),
		SourceCalls:    s.SourceCalls.Load(),
		SinkCalls:      s.SinkCalls.Load(),
		TaintedMethods: s.TaintedMethods.Load(),
		CleanMethods:   s.CleanMethods.Load(),
		Instrumented:   s.Instrumented.Load(),
		Augmented:      s.Augmented.Load(),
		Oversized:      s.Oversized.Load(),
		ContainerSites: s.ContainerSites.Load(),
		Inserted:       s.Inserted.Load(),
		Bridges:        s.Bridges.Load(),
		ShadowFields:   s.ShadowFields.Load(),
		CoverageHits:   s.CoverageHits.Load(),
	}
}

// Add merges another snapshot into s.
func (s *Stats) Add(o Snapshot) {
	s.Files.Add(o.Files)
	s.Classes.Add(o.Classes)
	s.Methods.Add(o.Methods)
	s.SourceCalls.Add(o.SourceCalls)
	s.SinkCalls.Add(o.SinkCalls)
	s.TaintedMethods.Add(o.TaintedMethods)
	s.CleanMethods.Add(o.CleanMethods)
	s.Instrumented.Add(o.Instrumented)
	s.Augmented.Add(o.Augmented)
	s.Oversized.Add(o.Oversized)
	s.ContainerSites.Add(o.ContainerSites)
	s.Inserted.Add(o.Inserted)
	s.Bridges.Add(o.Bridges)
	s.ShadowFields.Add(o.ShadowFields)
	s.CoverageHits.Add(o.CoverageHits)
}

// Plus returns the field-wise sum of two snapshots.
func (a Snapshot) Plus(b Snapshot) Snapshot {
	var s Stats
	s.Add(a)
	s.Add(b)
	return s.Snapshot()
}
