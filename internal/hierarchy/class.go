// Package hierarchy indexes the class headers of a smali tree and answers
// dispatch questions about it: which classes can implement a method, where a
// method or field is declared, and whether a class escapes into framework code.
package hierarchy

import (
	"fmt"
	"strings"

	"smalitaint/internal/disasm"
)

// ObjectClass is the root of every class hierarchy.
const ObjectClass = "Ljava/lang/Object;"

// Method holds the access flags of a declared method.
type Method struct {
	Name     string
	Desc     string
	Flags    []string
	Static   bool
	Private  bool
	Abstract bool
	Native   bool
}

// NameAndDesc returns "name(params)ret".
func (m Method) NameAndDesc() string { return m.Name + m.Desc }

// IsConstructor reports whether m is an instance or class initializer.
func (m Method) IsConstructor() bool {
	return m.Name == "<init>" || m.Name == "<clinit>"
}

// Field is a declared field.
type Field struct {
	Name   string
	Type   string
	Static bool
}

// Class is the header information of one smali class file.
type Class struct {
	Name       string
	Super      string
	Interfaces []string
	Interface  bool
	Abstract   bool
	Fields     map[string]Field
	Methods    map[string]Method // keyed by name+descriptor
	Path       string
}

// ParseClass reads the header directives of a class listing. Method bodies
// are skipped.
func ParseClass(path string, lines []string) (*Class, error) {
	c := &Class{
		Path:    path,
		Fields:  make(map[string]Field),
		Methods: make(map[string]Method),
	}
	inMethod := false
	for i, line := range lines {
		if disasm.Classify(line) != disasm.Directive {
			continue
		}
		f := strings.Fields(line)
		switch disasm.DirectiveName(line) {
		case "class":
			if len(f) < 2 {
				return nil, fmt.Errorf("%s:%d: bad .class directive", path, i+1)
			}
			c.Name = f[len(f)-1]
			for _, flag := range f[1 : len(f)-1] {
				switch flag {
				case "interface":
					c.Interface = true
				case "abstract":
					c.Abstract = true
				}
			}
		case "super":
			if len(f) >= 2 {
				c.Super = f[1]
			}
		case "implements":
			if len(f) >= 2 {
				c.Interfaces = append(c.Interfaces, f[1])
			}
		case "field":
			if inMethod {
				continue
			}
			fld, ok := parseField(f[1:])
			if ok {
				c.Fields[fld.Name] = fld
			}
		case "method":
			inMethod = true
			m, err := ParseMethodHeader(line)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %w", path, i+1, err)
			}
			c.Methods[m.NameAndDesc()] = m
		case "end method":
			inMethod = false
		}
	}
	if c.Name == "" {
		return nil, fmt.Errorf("%s: missing .class directive", path)
	}
	if c.Super == "" && c.Name != ObjectClass {
		c.Super = ObjectClass
	}
	return c, nil
}

// ParseMethodHeader parses a ".method <flags> name(desc)ret" line.
func ParseMethodHeader(line string) (Method, error) {
	f := strings.Fields(line)
	if len(f) < 2 || f[0] != ".method" {
		return Method{}, fmt.Errorf("bad method header %q", strings.TrimSpace(line))
	}
	nd := f[len(f)-1]
	open := strings.IndexByte(nd, '(')
	if open <= 0 {
		return Method{}, fmt.Errorf("bad method header %q", strings.TrimSpace(line))
	}
	m := Method{Name: nd[:open], Desc: nd[open:], Flags: f[1 : len(f)-1]}
	for _, flag := range m.Flags {
		switch flag {
		case "static":
			m.Static = true
		case "private":
			m.Private = true
		case "abstract":
			m.Abstract = true
		case "native":
			m.Native = true
		}
	}
	return m, nil
}

// parseField handles "<flags> name:Type [= value]".
func parseField(f []string) (Field, bool) {
	var fld Field
	for _, tok := range f {
		if tok == "=" {
			break
		}
		if tok == "static" {
			fld.Static = true
			continue
		}
		if name, typ, ok := strings.Cut(tok, ":"); ok {
			fld.Name, fld.Type = name, typ
		}
	}
	return fld, fld.Name != ""
}
