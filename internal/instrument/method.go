package instrument

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"smalitaint/internal/disasm"
	"smalitaint/internal/hierarchy"
	"smalitaint/internal/signature"
)

// ErrUnterminated is returned for a method, annotation or payload block that
// never closes.
var ErrUnterminated = errors.New("unterminated block")

type itemKind int

const (
	itemHeader     itemKind = iota // .method line and directives before the body
	itemDirective                  // directive inside the body
	itemAnnotation                 // inside an annotation block; never rewritten
	itemPayload                    // switch or array-data literal block
	itemLabel
	itemInst
	itemEnd
	itemOther // blank and comment lines
)

type item struct {
	kind itemKind
	text string
	line int // 1-based line in the file
	body bool
	inst disasm.Inst
	op   disasm.Opcode
}

// method is one scanned .method ... .end method block.
type method struct {
	decl  hierarchy.Method
	sig   *signature.Signature
	items []item

	locals        int
	params        int
	regIndex      int // item index of .locals/.registers, -1 when absent
	registersForm bool
	units         int
	hasBody       bool
}

// segment is a run of file lines: either a whole method or the text between
// methods.
type segment struct {
	start, end int // [start, end)
	method     bool
}

func splitMethods(lines []string) ([]segment, error) {
	var segs []segment
	start := 0
	open := -1
	for i, l := range lines {
		if disasm.Classify(l) != disasm.Directive {
			continue
		}
		switch disasm.DirectiveName(l) {
		case "method":
			if open >= 0 {
				return nil, fmt.Errorf("line %d: %w: method opened inside method at line %d", i+1, ErrUnterminated, open+1)
			}
			if i > start {
				segs = append(segs, segment{start: start, end: i})
			}
			open = i
		case "end method":
			if open < 0 {
				return nil, fmt.Errorf("line %d: .end method without .method", i+1)
			}
			segs = append(segs, segment{start: open, end: i + 1, method: true})
			start, open = i+1, -1
		}
	}
	if open >= 0 {
		return nil, fmt.Errorf("line %d: %w: method never closed", open+1, ErrUnterminated)
	}
	if start < len(lines) {
		segs = append(segs, segment{start: start, end: len(lines)})
	}
	return segs, nil
}

// scanMethod classifies every line of a method, validating opcodes and try
// regions and summing code units.
func scanMethod(class string, first int, lines []string) (*method, error) {
	decl, err := hierarchy.ParseMethodHeader(lines[0])
	if err != nil {
		return nil, fmt.Errorf("line %d: %w", first+1, err)
	}
	sig, err := signature.Parse(class+"->"+decl.NameAndDesc(), decl.Static)
	if err != nil {
		return nil, fmt.Errorf("line %d: %w", first+1, err)
	}
	m := &method{decl: decl, sig: sig, params: sig.RegisterCount(), regIndex: -1}

	var (
		regions  RegionStack
		inBody   bool
		annot    int
		payload  string
		openText string
		entries  int
	)
	for i, text := range lines {
		ln := first + i + 1
		it := item{text: text, line: ln}
		cls := disasm.Classify(text)
		name := ""
		if cls == disasm.Directive {
			name = disasm.DirectiveName(text)
		}

		switch {
		case i == 0:
			it.kind = itemHeader
		case payload != "":
			it.kind = itemPayload
			if name == "end "+payload {
				m.units += disasm.PayloadUnits(openText, entries)
				payload = ""
			} else if cls != disasm.Blank && cls != disasm.Comment {
				entries++
			}
		case annot > 0:
			it.kind = itemAnnotation
			switch name {
			case "annotation":
				annot++
			case "end annotation":
				annot--
			}
		case cls == disasm.Blank || cls == disasm.Comment:
			it.kind = itemOther
		case cls == disasm.Directive:
			switch {
			case name == "end method":
				it.kind = itemEnd
			case name == "annotation":
				annot = 1
				it.kind = itemAnnotation
			case disasm.IsPayloadStart(name):
				payload, openText, entries = name, text, 0
				it.kind = itemPayload
			case name == "locals" || name == "registers":
				n, err := directiveInt(text)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", ln, err)
				}
				m.regIndex = len(m.items)
				m.registersForm = name == "registers"
				if m.registersForm {
					m.locals = n - m.params
					if m.locals < 0 {
						return nil, fmt.Errorf("line %d: %d registers for %d parameter registers", ln, n, m.params)
					}
				} else {
					m.locals = n
				}
				it.kind = itemHeader
			case inBody:
				it.kind = itemDirective
			default:
				it.kind = itemHeader
			}
		case cls == disasm.Label:
			inBody = true
			it.kind = itemLabel
			if err := regions.track(text); err != nil {
				return nil, fmt.Errorf("line %d: %w", ln, err)
			}
		default:
			inBody = true
			inst, err := disasm.ParseInst(ln, text)
			if err != nil {
				return nil, err
			}
			op, err := disasm.MustLookup(inst)
			if err != nil {
				return nil, err
			}
			it.kind, it.inst, it.op = itemInst, inst, op
			m.units += op.Units
		}
		it.body = inBody
		m.items = append(m.items, it)
	}
	switch {
	case payload != "":
		return nil, fmt.Errorf("method at line %d: %w: .%s", first+1, ErrUnterminated, payload)
	case annot > 0:
		return nil, fmt.Errorf("method at line %d: %w: .annotation", first+1, ErrUnterminated)
	case regions.Inside():
		return nil, fmt.Errorf("method at line %d: %w: %d try regions left open", first+1, ErrRegionImbalance, regions.Depth())
	}
	m.hasBody = inBody
	return m, nil
}

func directiveInt(text string) (int, error) {
	f := strings.Fields(text)
	if len(f) < 2 {
		return 0, fmt.Errorf("missing count in %q", strings.TrimSpace(text))
	}
	n, err := strconv.Atoi(f[1])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("bad count in %q", strings.TrimSpace(text))
	}
	return n, nil
}

// resultOf returns the item index of the move-result that consumes the
// invoke at item i. Labels, debug directives and comments may sit between.
func (m *method) resultOf(i int) (int, bool) {
	for j := i + 1; j < len(m.items); j++ {
		switch m.items[j].kind {
		case itemLabel, itemDirective, itemOther:
			continue
		case itemInst:
			if m.items[j].op.Family == disasm.FamMoveResult {
				return j, true
			}
		}
		return 0, false
	}
	return 0, false
}

// augmentedHeader returns the .method line with the taint-augmented descriptor.
func augmentedHeader(line string, sig *signature.Signature) string {
	aug := sig.Name + sig.AddTaintToDesc()
	idx := strings.LastIndex(line, sig.Name+sig.Desc)
	if idx < 0 {
		return line
	}
	return line[:idx] + aug + line[idx+len(sig.Name+sig.Desc):]
}

// renameDebug rewrites the register operand of .local, .end local and
// .restart local directives.
func renameDebug(line string, fn func(string) string) string {
	name := disasm.DirectiveName(line)
	switch name {
	case "local", "end local", "restart local":
	default:
		return line
	}
	idx := strings.Index(line, "."+name)
	if idx < 0 {
		return line
	}
	idx += len(name) + 1
	rest := line[idx:]
	trimmed := strings.TrimLeft(rest, " \t")
	lead := rest[:len(rest)-len(trimmed)]
	end := strings.IndexAny(trimmed, ", \t")
	if end < 0 {
		end = len(trimmed)
	}
	if !disasm.IsRegister(trimmed[:end]) {
		return line
	}
	return line[:idx] + lead + fn(trimmed[:end]) + trimmed[end:]
}
