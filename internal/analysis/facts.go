package analysis

import (
	"sort"
	"sync"

	"github.com/samber/lo"
)

// MethodFacts is what the analyze pass records for one method body.
type MethodFacts struct {
	Signature   string   `json:"signature" yaml:"signature"`
	Class       string   `json:"class" yaml:"class"`
	NameAndDesc string   `json:"name_and_desc" yaml:"name_and_desc"`
	File        string   `json:"file" yaml:"file"`
	Static      bool     `json:"static,omitempty" yaml:"static,omitempty"`
	Abstract    bool     `json:"abstract,omitempty" yaml:"abstract,omitempty"`
	Native      bool     `json:"native,omitempty" yaml:"native,omitempty"`
	Callees     []string `json:"callees,omitempty" yaml:"callees,omitempty"`

	SourceCalls    int `json:"source_calls" yaml:"source_calls"`
	SinkCalls      int `json:"sink_calls" yaml:"sink_calls"`
	ContainerSites int `json:"container_sites" yaml:"container_sites"`
	Units          int `json:"units" yaml:"units"`
	Registers      int `json:"registers" yaml:"registers"`

	// SourceLabel is the ordinal of the method itself when a wildcard or
	// exact source entry names it, otherwise -1.
	SourceLabel int `json:"source_label" yaml:"source_label"`
}

// Tainted reports whether the method calls a source or a sink directly.
func (f *MethodFacts) Tainted() bool {
	return f.SourceCalls > 0 || f.SinkCalls > 0
}

// Facts collects MethodFacts from concurrent workers.
type Facts struct {
	mu sync.RWMutex
	m  map[string]*MethodFacts
}

// NewFacts returns an empty collection.
func NewFacts() *Facts {
	return &Facts{m: make(map[string]*MethodFacts)}
}

// Put records facts for a method, replacing earlier ones.
func (fs *Facts) Put(f *MethodFacts) {
	fs.mu.Lock()
	fs.m[f.Signature] = f
	fs.mu.Unlock()
}

// Get returns the facts for a canonical signature.
func (fs *Facts) Get(sig string) (*MethodFacts, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	f, ok := fs.m[sig]
	return f, ok
}

// Len returns the number of recorded methods.
func (fs *Facts) Len() int {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return len(fs.m)
}

// Signatures returns every recorded signature in sorted order.
func (fs *Facts) Signatures() []string {
	fs.mu.RLock()
	keys := lo.Keys(fs.m)
	fs.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// All returns the recorded facts ordered by signature.
func (fs *Facts) All() []*MethodFacts {
	keys := fs.Signatures()
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return lo.Map(keys, func(k string, _ int) *MethodFacts { return fs.m[k] })
}
