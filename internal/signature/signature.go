// Package signature models Dalvik method signatures as they appear in smali
// listings ("Lpkg/Class;->name(params)ret") and derives the taint-augmented
// descriptors used by instrumented methods.
package signature

import (
	"errors"
	"fmt"
	"strings"
)

// Filler is the placeholder entry inserted after every 64-bit parameter so that
// a parameter index always equals its register slot.
const Filler = "-"

// ErrMalformed is returned for signatures missing "->", "(" or ")".
var ErrMalformed = errors.New("malformed method signature")

// Signature is a parsed method reference. It never changes after Parse except
// for the bookkeeping fields set by the rewriter (BaseRegisters,
// NumParamsWithTaint).
type Signature struct {
	Class  string
	Name   string
	Desc   string
	Static bool

	// Params holds one entry per register slot: the receiver first for
	// instance methods, then declared parameters with a Filler after each
	// wide type.
	Params []string
	Return string

	// BaseRegisters is the register count the listing declared for the method.
	BaseRegisters int

	// NumParamsWithTaint is set by AddTaintToDesc.
	NumParamsWithTaint int

	declared []string
}

// Parse parses a canonical "class->name(desc)ret" string.
func Parse(canonical string, static bool) (*Signature, error) {
	arrow := strings.Index(canonical, "->")
	if arrow <= 0 {
		return nil, fmt.Errorf("%w: %q has no class separator", ErrMalformed, canonical)
	}
	rest := canonical[arrow+2:]
	open := strings.IndexByte(rest, '(')
	if open <= 0 {
		return nil, fmt.Errorf("%w: %q has no parameter list", ErrMalformed, canonical)
	}
	closeIdx := strings.IndexByte(rest[open:], ')')
	if closeIdx < 0 {
		return nil, fmt.Errorf("%w: %q has an unterminated parameter list", ErrMalformed, canonical)
	}
	closeIdx += open

	s := &Signature{
		Class:  canonical[:arrow],
		Name:   rest[:open],
		Desc:   rest[open:],
		Static: static,
		Return: rest[closeIdx+1:],
	}
	if s.Return == "" {
		return nil, fmt.Errorf("%w: %q has no return type", ErrMalformed, canonical)
	}

	declared, err := ParseParamTypes(rest[open+1 : closeIdx])
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrMalformed, canonical, err)
	}
	s.declared = declared

	if !static {
		s.Params = append(s.Params, s.Class)
	}
	for _, t := range declared {
		s.Params = append(s.Params, t)
		if IsWide(t) {
			s.Params = append(s.Params, Filler)
		}
	}
	return s, nil
}

// MustParse is like Parse but panics on error. Intended for tables and tests.
func MustParse(canonical string, static bool) *Signature {
	s, err := Parse(canonical, static)
	if err != nil {
		panic(err)
	}
	return s
}

// ParseParamTypes splits the inside of a descriptor's parentheses into type
// tokens. Array prefixes stay attached to their element type.
func ParseParamTypes(params string) ([]string, error) {
	var types []string
	start := 0
	for i := 0; i < len(params); i++ {
		switch params[i] {
		case '[':
			// part of the token that begins at start
			continue
		case 'L':
			end := strings.IndexByte(params[i:], ';')
			if end < 0 {
				return nil, fmt.Errorf("unterminated object type at offset %d", i)
			}
			i += end
		case 'Z', 'B', 'S', 'C', 'I', 'J', 'F', 'D':
		default:
			return nil, fmt.Errorf("unexpected %q at offset %d", params[i], i)
		}
		types = append(types, params[start:i+1])
		start = i + 1
	}
	if start != len(params) {
		return nil, fmt.Errorf("dangling array prefix %q", params[start:])
	}
	return types, nil
}

// String returns the canonical "class->name+desc" form.
func (s *Signature) String() string {
	return s.Class + "->" + s.Name + s.Desc
}

// NameAndDesc returns "name(params)ret" without the declaring class.
func (s *Signature) NameAndDesc() string {
	return s.Name + s.Desc
}

// Equal reports whether both signatures have the same canonical form.
func (s *Signature) Equal(o *Signature) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.String() == o.String()
}

// Declared returns the declared parameter types, without receiver or fillers.
func (s *Signature) Declared() []string {
	return s.declared
}

// RegisterCount is the number of register slots the parameters occupy.
func (s *Signature) RegisterCount() int {
	return len(s.Params)
}

// IsVoid reports whether the method returns nothing.
func (s *Signature) IsVoid() bool {
	return s.Return == "V"
}

// IsConstructor reports whether the method is an instance or class initializer.
func (s *Signature) IsConstructor() bool {
	return s.Name == "<init>" || s.Name == "<clinit>"
}

// ParamSlot maps a declared parameter index to its register slot in Params.
// It returns -1 when the index is out of range.
func (s *Signature) ParamSlot(declared int) int {
	if declared < 0 || declared >= len(s.declared) {
		return -1
	}
	slot := 0
	if !s.Static {
		slot = 1
	}
	for i := 0; i < declared; i++ {
		slot++
		if IsWide(s.declared[i]) {
			slot++
		}
	}
	return slot
}

// AddTaintToDesc returns the descriptor with one int taint parameter per
// register slot and, for non-void methods, one trailing seed parameter. It
// also records NumParamsWithTaint. Calling it twice is not supported.
func (s *Signature) AddTaintToDesc() string {
	n := len(s.Params)
	extra := n
	if !s.IsVoid() {
		extra++
	}
	s.NumParamsWithTaint = n + extra

	closeIdx := strings.LastIndexByte(s.Desc, ')')
	var b strings.Builder
	b.Grow(len(s.Desc) + extra)
	b.WriteString(s.Desc[:closeIdx])
	b.WriteString(strings.Repeat("I", extra))
	b.WriteString(s.Desc[closeIdx:])
	return b.String()
}

// AugmentedString is the canonical form using the taint-augmented descriptor.
// Unlike AddTaintToDesc it does not touch NumParamsWithTaint.
func (s *Signature) AugmentedString() string {
	c := *s
	return s.Class + "->" + s.Name + c.AddTaintToDesc()
}

// IsWide reports whether a type occupies two registers.
func IsWide(t string) bool {
	return t == "J" || t == "D"
}

// IsObject reports whether a type is a reference (object or array).
func IsObject(t string) bool {
	return strings.HasPrefix(t, "L") || strings.HasPrefix(t, "[")
}

// IsReferenceValue reports whether a container value of this type carries
// object identity worth threading to the runtime. Strings and char sequences
// are treated as scalar payloads.
func IsReferenceValue(t string) bool {
	if strings.HasPrefix(t, "[") {
		return true
	}
	switch t {
	case "Ljava/lang/String;", "Ljava/lang/CharSequence;":
		return false
	}
	return strings.HasPrefix(t, "L")
}
