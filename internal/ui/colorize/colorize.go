// Package colorize highlights smali listings for the terminal.
package colorize

import (
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// Enabled reports whether output should carry colors. SMALITAINT_NO_COLOR or
// NO_COLOR turn it off.
func Enabled() bool {
	return os.Getenv("SMALITAINT_NO_COLOR") == "" && os.Getenv("NO_COLOR") == ""
}

// Disable turns colors off for the rest of the process.
func Disable() {
	_ = os.Setenv("SMALITAINT_NO_COLOR", "1")
}

func lexer() chroma.Lexer {
	if l := lexers.Get("smali"); l != nil {
		return chroma.Coalesce(l)
	}
	return nil
}

func style() *chroma.Style {
	for _, name := range []string{SmaliDark.Name, "dracula", "monokai"} {
		if s := styles.Get(name); s != nil {
			return s
		}
	}
	return styles.Fallback
}

func formatter() chroma.Formatter {
	for _, name := range []string{"terminal16m", "terminal256"} {
		if f := formatters.Get(name); f != nil {
			return f
		}
	}
	return formatters.Fallback
}

// Listing highlights a whole listing. With colors disabled, or no lexer
// available, it returns code as is.
func Listing(code string) (string, error) {
	if !Enabled() {
		return code, nil
	}
	l := lexer()
	if l == nil {
		return code, nil
	}
	it, err := l.Tokenise(nil, code)
	if err != nil {
		return code, err
	}
	var buf strings.Builder
	if err := formatter().Format(&buf, style(), it); err != nil {
		return code, err
	}
	return buf.String(), nil
}

// Lines highlights lines one by one, keeping the line count.
func Lines(lines []string) []string {
	hl, err := Listing(strings.Join(lines, "\n") + "\n")
	if err != nil {
		return lines
	}
	out := strings.Split(strings.TrimSuffix(hl, "\n"), "\n")
	if len(out) != len(lines) {
		return lines
	}
	return out
}

// Changed marks the lines of out that do not appear, in order, in orig.
// Rewriting only inserts lines and edits lines in place, so a greedy walk
// finds the untouched ones.
func Changed(orig, out []string) []bool {
	marks := make([]bool, len(out))
	j := 0
	for i, l := range out {
		if j < len(orig) && l == orig[j] {
			j++
			continue
		}
		if k := indexFrom(orig, j, l); k >= 0 {
			j = k + 1
			continue
		}
		marks[i] = true
	}
	return marks
}

// lookahead bounds how many original lines may be skipped when a line was
// edited in place.
const lookahead = 2

func indexFrom(lines []string, from int, want string) int {
	for k := from; k < len(lines) && k <= from+lookahead; k++ {
		if lines[k] == want {
			return k
		}
	}
	return -1
}

// Plain removes ANSI escape sequences.
func Plain(s string) string {
	var b strings.Builder
	esc := false
	for _, r := range s {
		switch {
		case r == '\x1b':
			esc = true
		case esc:
			if r == 'm' {
				esc = false
			}
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
