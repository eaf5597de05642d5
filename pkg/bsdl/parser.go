package bsdl

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/alecthomas/participle/v2"
)

var (
	buildOnce   sync.Once
	fileParser  *participle.Parser[File]
	groupParser *participle.Parser[groupList]
	buildErr    error
)

func parsers() (*participle.Parser[File], *participle.Parser[groupList], error) {
	buildOnce.Do(func() {
		fileParser, buildErr = participle.Build[File](
			participle.Lexer(Lexer),
			participle.Elide("Comment", "Whitespace"),
			participle.CaseInsensitive("Keyword", "End"),
			participle.UseLookahead(16),
		)
		if buildErr != nil {
			buildErr = fmt.Errorf("bsdl: build grammar: %w", buildErr)
			return
		}
		groupParser, buildErr = participle.Build[groupList](
			participle.Lexer(groupLexer),
			participle.Elide("Whitespace"),
		)
		if buildErr != nil {
			buildErr = fmt.Errorf("bsdl: build group grammar: %w", buildErr)
		}
	})
	return fileParser, groupParser, buildErr
}

// ParseSyntax parses r into its syntax tree. name is used in error
// positions.
func ParseSyntax(name string, r io.Reader) (*File, error) {
	p, _, err := parsers()
	if err != nil {
		return nil, err
	}
	f, err := p.Parse(name, r)
	if err != nil {
		return nil, fmt.Errorf("bsdl: %w", err)
	}
	return f, nil
}

// Parse reads a BSDL description from r.
func Parse(name string, r io.Reader) (*Description, error) {
	f, err := ParseSyntax(name, r)
	if err != nil {
		return nil, err
	}
	return describe(f.Entity)
}

// ParseFile reads the BSDL file at path.
func ParseFile(path string) (*Description, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bsdl: %w", err)
	}
	defer f.Close()
	return Parse(path, f)
}
