package colorize

import (
	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/styles"
)

// SmaliDark is the style used for listings.
var SmaliDark = styles.Register(chroma.MustNewStyle("smali-dark", chroma.StyleEntries{
	chroma.Text:           "#FFFFFF",
	chroma.TextWhitespace: "#FFFFFF",
	chroma.Background:     "bg:#1e1e1e",
	chroma.Comment:        "#6A9955",

	chroma.Keyword:      "#C586C0", // directives and access flags
	chroma.KeywordType:  "#569CD6",
	chroma.NameBuiltin:  "#7C9C9D", // registers
	chroma.NameClass:    "#FFD700",
	chroma.NameFunction: "#DCDCAA",
	chroma.NameVariable: "#9CDCFE", // field names
	chroma.NameLabel:    "#FF8700",

	chroma.LiteralNumber:        "#FF5F87",
	chroma.LiteralNumberHex:     "#FF5F87",
	chroma.LiteralNumberInteger: "#FF5F87",
	chroma.LiteralNumberFloat:   "#FF5F87",
	chroma.LiteralString:        "#EACD53",

	chroma.Punctuation: "#D4D4D4",
}))
