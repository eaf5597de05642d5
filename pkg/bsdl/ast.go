package bsdl

import "strings"

// File is a parsed BSDL file.
type File struct {
	Entity *Entity `@@`
}

// Entity is the single entity a BSDL file declares. Statements other than
// attribute specifications (generic, port, use, constant) are kept as raw
// token runs.
type Entity struct {
	Name       string       `"entity" @Ident "is"`
	Statements []*Statement `@@*`
	EndName    string       `End @Ident? ";"`
}

// Statement is one ';' terminated entity statement.
type Statement struct {
	Attribute *Attribute `  @@`
	Other     *Other     `| @@`
}

// Attribute is an attribute specification such as
//
//	attribute INSTRUCTION_LENGTH of CHIP : entity is 5;
//
// Attribute declarations ("attribute NAME : TYPE;") have no Of.
type Attribute struct {
	Name  string      `"attribute" @Ident`
	Of    string      `( "of" @Ident`
	Class string      `  ":" @(Keyword | Ident) "is"`
	Value *Expression `  @@`
	Type  string      `| ":" @Ident ) ";"`
}

// Other is a statement the reader does not interpret.
type Other struct {
	Chunks []*Chunk `@@+ ";"`
}

// Chunk is a token or parenthesised group. Groups may contain ';'.
type Chunk struct {
	Group *Group `  @@`
	Token string `| @~(";" | "(" | ")" | End)`
}

// Group is a parenthesised token run.
type Group struct {
	Items []*Item `"(" @@* ")"`
}

// Item is a token or nested group inside a Group.
type Item struct {
	Group *Group `  @@`
	Token string `| @~("(" | ")")`
}

// Expression is a '&' concatenation of terms.
type Expression struct {
	Terms []*Term `@@ ( "&" @@ )*`
}

// Term is a literal, name or parenthesised tuple such as (10.0e6, BOTH).
type Term struct {
	String *string       `  @String`
	Number *string       `| @Number`
	Ident  *string       `| @(Ident | Keyword)`
	Tuple  []*Expression `| "(" @@ ( "," @@ )* ")"`
}

// Text concatenates the string terms of e with their quotes removed.
func (e *Expression) Text() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	for _, t := range e.Terms {
		if t.String != nil {
			b.WriteString(strings.Trim(*t.String, `"`))
		}
	}
	return b.String()
}

// Attributes returns the attribute specifications of the entity in file
// order.
func (e *Entity) Attributes() []*Attribute {
	var attrs []*Attribute
	for _, s := range e.Statements {
		if s.Attribute != nil && s.Attribute.Value != nil {
			attrs = append(attrs, s.Attribute)
		}
	}
	return attrs
}

// Attribute returns the named attribute specification, matched case
// insensitively, or nil.
func (e *Entity) Attribute(name string) *Attribute {
	for _, a := range e.Attributes() {
		if strings.EqualFold(a.Name, name) {
			return a
		}
	}
	return nil
}
