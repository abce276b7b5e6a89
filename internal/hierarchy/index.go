package hierarchy

import (
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Resolver answers "which classes could provide method nameAndDesc when it is
// invoked on class".
type Resolver interface {
	ImplementingClassesOf(class, nameAndDesc string) []string
}

// Index is a read-only class hierarchy built once before any worker starts.
// Query results are memoised; the cache is the only mutable state.
type Index struct {
	classes  map[string]*Class
	children map[string][]string

	mu    sync.RWMutex
	cache map[string][]string
}

var _ Resolver = (*Index)(nil)

// NewIndex builds an index over classes. Later duplicates of a class name
// replace earlier ones.
func NewIndex(classes ...*Class) *Index {
	ix := &Index{
		classes:  make(map[string]*Class, len(classes)),
		children: make(map[string][]string),
		cache:    make(map[string][]string),
	}
	for _, c := range classes {
		ix.classes[c.Name] = c
	}
	for _, c := range ix.classes {
		for _, p := range c.parents() {
			ix.children[p] = append(ix.children[p], c.Name)
		}
	}
	for p := range ix.children {
		sort.Strings(ix.children[p])
	}
	return ix
}

func (c *Class) parents() []string {
	var ps []string
	if c.Super != "" {
		ps = append(ps, c.Super)
	}
	return append(ps, c.Interfaces...)
}

// Scan parses every listing and indexes the result. files maps a path to its
// lines.
func Scan(files map[string][]string) (*Index, error) {
	paths := lo.Keys(files)
	sort.Strings(paths)
	classes := make([]*Class, 0, len(paths))
	for _, p := range paths {
		c, err := ParseClass(p, files[p])
		if err != nil {
			return nil, err
		}
		classes = append(classes, c)
	}
	return NewIndex(classes...), nil
}

// Len returns the number of indexed classes.
func (ix *Index) Len() int { return len(ix.classes) }

// Classes returns the indexed class names in sorted order.
func (ix *Index) Classes() []string {
	names := lo.Keys(ix.classes)
	sort.Strings(names)
	return names
}

// Class returns the header of an indexed class.
func (ix *Index) Class(name string) (*Class, bool) {
	c, ok := ix.classes[name]
	return c, ok
}

// IsApp reports whether class is part of the indexed input.
func (ix *Index) IsApp(class string) bool {
	_, ok := ix.classes[class]
	return ok
}

// IsInterface reports whether class is an indexed interface.
func (ix *Index) IsInterface(class string) bool {
	c, ok := ix.classes[class]
	return ok && c.Interface
}

// Declares reports whether class itself declares nameAndDesc.
func (ix *Index) Declares(class, nameAndDesc string) bool {
	_, ok := ix.Method(class, nameAndDesc)
	return ok
}

// Method returns the declaration of nameAndDesc in class, if any.
func (ix *Index) Method(class, nameAndDesc string) (Method, bool) {
	c, ok := ix.classes[class]
	if !ok {
		return Method{}, false
	}
	m, ok := c.Methods[nameAndDesc]
	return m, ok
}

// Ancestors returns the supertypes of class breadth-first: superclass before
// interfaces, nearer before farther. Names outside the index are included but
// not expanded.
func (ix *Index) Ancestors(class string) []string {
	var out []string
	seen := map[string]bool{class: true}
	queue := []string{class}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		c, ok := ix.classes[cur]
		if !ok {
			continue
		}
		for _, p := range c.parents() {
			if seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
			queue = append(queue, p)
		}
	}
	return out
}

// Descendants returns every indexed subtype of class in sorted order.
func (ix *Index) Descendants(class string) []string {
	seen := map[string]bool{}
	queue := []string{class}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, ch := range ix.children[cur] {
			if !seen[ch] {
				seen[ch] = true
				queue = append(queue, ch)
			}
		}
	}
	out := lo.Keys(seen)
	sort.Strings(out)
	return out
}

// DeclaringClass resolves nameAndDesc invoked on class to the nearest indexed
// class that declares it.
func (ix *Index) DeclaringClass(class, nameAndDesc string) (string, bool) {
	if ix.Declares(class, nameAndDesc) {
		return class, true
	}
	for _, a := range ix.Ancestors(class) {
		if ix.Declares(a, nameAndDesc) {
			return a, true
		}
	}
	return "", false
}

// FieldOwner resolves a field reference to the indexed class declaring it,
// following superclasses only. Interface constants are not resolved.
func (ix *Index) FieldOwner(class, name string) (string, Field, bool) {
	for cur := class; cur != ""; {
		c, ok := ix.classes[cur]
		if !ok || c.Interface {
			return "", Field{}, false
		}
		if f, ok := c.Fields[name]; ok {
			return cur, f, true
		}
		cur = c.Super
	}
	return "", Field{}, false
}

// HasExternalAncestor reports whether any supertype of class lies outside the
// index, ignoring java.lang.Object. Framework code may then dispatch into the
// class through methods it overrides.
func (ix *Index) HasExternalAncestor(class string) bool {
	for _, a := range ix.Ancestors(class) {
		if a != ObjectClass && !ix.IsApp(a) {
			return true
		}
	}
	return false
}

// ImplementingClassesOf returns class, then its ancestors breadth-first, then
// the sorted indexed descendants that declare nameAndDesc.
func (ix *Index) ImplementingClassesOf(class, nameAndDesc string) []string {
	key := class + "->" + nameAndDesc
	ix.mu.RLock()
	if cached, ok := ix.cache[key]; ok {
		ix.mu.RUnlock()
		return cached
	}
	ix.mu.RUnlock()

	out := append([]string{class}, ix.Ancestors(class)...)
	for _, d := range ix.Descendants(class) {
		if ix.Declares(d, nameAndDesc) {
			out = append(out, d)
		}
	}

	ix.mu.Lock()
	ix.cache[key] = out
	ix.mu.Unlock()
	return out
}
