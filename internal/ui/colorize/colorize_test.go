package colorize

import (
	"testing"

	"github.com/alecthomas/chroma/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listing = `.method public static f(I)I
    .locals 1
    # comment
    add-int/lit8 v0, p0, 0x1
    return v0
.end method
`

func TestListing(t *testing.T) {
	t.Setenv("SMALITAINT_NO_COLOR", "")
	t.Setenv("NO_COLOR", "")
	out, err := Listing(listing)
	require.NoError(t, err)
	assert.Contains(t, out, "\x1b[")
	assert.Equal(t, listing, Plain(out))

	t.Setenv("SMALITAINT_NO_COLOR", "1")
	out, err = Listing(listing)
	require.NoError(t, err)
	assert.Equal(t, listing, out)
}

func TestLinesKeepsCount(t *testing.T) {
	t.Setenv("SMALITAINT_NO_COLOR", "")
	t.Setenv("NO_COLOR", "")
	lines := []string{".locals 1", "    # note", "    return v0"}
	out := Lines(lines)
	require.Len(t, out, len(lines))
	for i := range lines {
		assert.Contains(t, Plain(out[i]), lines[i][len(lines[i])-1:])
	}
}

func TestRegistersAreBuiltins(t *testing.T) {
	l := lexer()
	require.NotNil(t, l)
	it, err := l.Tokenise(nil, "    move v0, p1\n")
	require.NoError(t, err)
	var regs []string
	for _, tok := range it.Tokens() {
		if tok.Type == chroma.NameBuiltin {
			regs = append(regs, tok.Value)
		}
	}
	assert.Equal(t, []string{"v0", "p1"}, regs)
}

func TestChanged(t *testing.T) {
	orig := []string{"a", "b", "c", "d"}
	out := []string{"a", "x", "b'", "c", "y", "d", "z"}
	assert.Equal(t, []bool{false, true, true, false, true, false, true}, Changed(orig, out))
	assert.Equal(t, []bool{false, false}, Changed([]string{"a", "b"}, []string{"a", "b"}))
}
