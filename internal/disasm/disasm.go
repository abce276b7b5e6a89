// Package disasm models the lines of a smali listing: it classifies each line,
// tokenises instruction operands and knows the size of every Dalvik opcode.
package disasm

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind classifies a listing line.
type Kind int

const (
	Blank Kind = iota
	Comment
	Directive
	Label
	Instruction
)

// Inst is a parsed instruction line.
type Inst struct {
	Line int      // 1-based line number in the listing
	Text string   // original line, untrimmed
	Op   string   // mnemonic
	Args []string // top-level operands, trimmed
}

// Stream is a linear sequence of instructions.
type Stream []Inst

// Classify returns the kind of a raw listing line.
func Classify(line string) Kind {
	t := strings.TrimSpace(line)
	switch {
	case t == "":
		return Blank
	case t[0] == '#':
		return Comment
	case t[0] == '.':
		return Directive
	case t[0] == ':':
		return Label
	default:
		return Instruction
	}
}

// DirectiveName returns the directive keyword of a line such as ".end method"
// ("end method") or ".locals 3" ("locals").
func DirectiveName(line string) string {
	t := strings.TrimSpace(line)
	if !strings.HasPrefix(t, ".") {
		return ""
	}
	t = t[1:]
	if strings.HasPrefix(t, "end ") {
		f := strings.Fields(t)
		if len(f) >= 2 {
			return "end " + f[1]
		}
	}
	if i := strings.IndexAny(t, " \t"); i >= 0 {
		return t[:i]
	}
	return t
}

// ParseInst parses an instruction line. It does not validate the mnemonic.
func ParseInst(line int, text string) (Inst, error) {
	body := strings.TrimSpace(stripComment(text))
	if body == "" {
		return Inst{}, fmt.Errorf("line %d: empty instruction", line)
	}
	inst := Inst{Line: line, Text: text}
	sp := strings.IndexAny(body, " \t")
	if sp < 0 {
		inst.Op = body
		return inst, nil
	}
	inst.Op = body[:sp]
	args, err := splitOperands(strings.TrimSpace(body[sp:]))
	if err != nil {
		return Inst{}, fmt.Errorf("line %d: %w", line, err)
	}
	inst.Args = args
	return inst, nil
}

// String formats the instruction with the indentation baksmali uses.
func (i Inst) String() string {
	return Format(i.Op, i.Args...)
}

// Format renders an instruction line.
func Format(op string, args ...string) string {
	if len(args) == 0 {
		return "    " + op
	}
	return "    " + op + " " + strings.Join(args, ", ")
}

// FormatList renders a brace register list: "{v0, v1}".
func FormatList(regs ...string) string {
	return "{" + strings.Join(regs, ", ") + "}"
}

// FormatRange renders a register range: "{v3 .. v6}".
func FormatRange(first, last string) string {
	return "{" + first + " .. " + last + "}"
}

func stripComment(s string) string {
	inStr := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if inStr {
				i++
			}
		case '"':
			inStr = !inStr
		case '#':
			if !inStr {
				return s[:i]
			}
		}
	}
	return s
}

func splitOperands(s string) ([]string, error) {
	var (
		args  []string
		start int
		depth int
		inStr bool
	)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case inStr && c == '\\':
			i++
		case c == '"':
			inStr = !inStr
		case inStr:
		case c == '{':
			depth++
		case c == '}':
			depth--
		case c == ',' && depth == 0:
			args = append(args, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	if inStr || depth != 0 {
		return nil, fmt.Errorf("unbalanced operands %q", s)
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" {
		args = append(args, rest)
	}
	return args, nil
}

// IsRegister reports whether s names a register ("v12", "p0").
func IsRegister(s string) bool {
	_, _, ok := ParseRegister(s)
	return ok
}

// ParseRegister splits a register name into its prefix ('v' or 'p') and index.
func ParseRegister(s string) (byte, int, bool) {
	if len(s) < 2 || (s[0] != 'v' && s[0] != 'p') {
		return 0, 0, false
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil || n < 0 {
		return 0, 0, false
	}
	return s[0], n, true
}

// Reg formats a v-register name.
func Reg(n int) string {
	return "v" + strconv.Itoa(n)
}

// IsList reports whether an operand is a brace register list.
func IsList(arg string) bool {
	return strings.HasPrefix(arg, "{")
}

// ExpandList returns the registers named by a brace list, expanding ranges.
func ExpandList(arg string) ([]string, error) {
	inner := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(arg, "{"), "}"))
	if inner == "" {
		return nil, nil
	}
	if a, b, ok := strings.Cut(inner, ".."); ok {
		a, b = strings.TrimSpace(a), strings.TrimSpace(b)
		pa, na, ok1 := ParseRegister(a)
		pb, nb, ok2 := ParseRegister(b)
		if !ok1 || !ok2 || pa != pb || nb < na {
			return nil, fmt.Errorf("bad register range %q", arg)
		}
		regs := make([]string, 0, nb-na+1)
		for n := na; n <= nb; n++ {
			regs = append(regs, string(pa)+strconv.Itoa(n))
		}
		return regs, nil
	}
	var regs []string
	for _, r := range strings.Split(inner, ",") {
		r = strings.TrimSpace(r)
		if !IsRegister(r) {
			return nil, fmt.Errorf("bad register %q in %q", r, arg)
		}
		regs = append(regs, r)
	}
	return regs, nil
}

// RenameRegisters returns a copy of inst whose register operands are mapped
// through fn. Brace lists and ranges are rewritten in place.
func RenameRegisters(inst Inst, fn func(string) string) Inst {
	out := inst
	out.Args = make([]string, len(inst.Args))
	for i, a := range inst.Args {
		out.Args[i] = RenameOperand(a, fn)
	}
	return out
}

// RenameOperand maps the registers of a single operand through fn.
func RenameOperand(a string, fn func(string) string) string {
	switch {
	case IsRegister(a):
		return fn(a)
	case IsList(a):
		inner := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(a, "{"), "}"))
		if x, y, ok := strings.Cut(inner, ".."); ok {
			return FormatRange(fn(strings.TrimSpace(x)), fn(strings.TrimSpace(y)))
		}
		if inner == "" {
			return a
		}
		parts := strings.Split(inner, ",")
		for j, p := range parts {
			parts[j] = fn(strings.TrimSpace(p))
		}
		return FormatList(parts...)
	}
	return a
}

// Registers returns every register operand of inst in order, expanding lists.
func Registers(inst Inst) ([]string, error) {
	var regs []string
	for _, a := range inst.Args {
		switch {
		case IsRegister(a):
			regs = append(regs, a)
		case IsList(a):
			l, err := ExpandList(a)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", inst.Line, err)
			}
			regs = append(regs, l...)
		}
	}
	return regs, nil
}
