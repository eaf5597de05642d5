package bsdl

import (
	"github.com/alecthomas/participle/v2/lexer"
)

// Lexer tokenises the VHDL subset used by BSDL files. Only the keywords the
// grammar anchors on get their own token types; everything else is an Ident,
// Number, String or single punctuation character.
var Lexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `--[^\n]*`},
	{Name: "Whitespace", Pattern: `\s+`},

	{Name: "End", Pattern: `(?i)\bend\b`},
	{Name: "Keyword", Pattern: `(?i)\b(entity|is|attribute|of)\b`},

	{Name: "String", Pattern: `"[^"]*"`},
	{Name: "Number", Pattern: `[0-9]+(\.[0-9]+)?([eE][-+]?[0-9]+)?`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},

	{Name: "Assign", Pattern: `:=`},
	{Name: "Punct", Pattern: `[^\s\w"]`},
})

// groupLexer splits the comma separated "NAME[len] (a, b)" lists found inside
// INSTRUCTION_OPCODE and REGISTER_ACCESS strings.
var groupLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Whitespace", Pattern: `\s+`},
	{Name: "Word", Pattern: `[a-zA-Z0-9_]+`},
	{Name: "Punct", Pattern: `[\[\](),]`},
})
