package lexer

import "fmt"

// Kind classifies a scanned token.
type Kind int

const (
	EOF Kind = iota
	Ident
	String
	Number
	Duration
	Size
	LBrace
	RBrace
	Equals
	Comma
	Semicolon
)

var kindNames = map[Kind]string{
	EOF:       "end of file",
	Ident:     "identifier",
	String:    "string",
	Number:    "number",
	Duration:  "duration",
	Size:      "size",
	LBrace:    "'{'",
	RBrace:    "'}'",
	Equals:    "'='",
	Comma:     "','",
	Semicolon: "';'",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("token(%d)", int(k))
}

// Pos is a 1-based source position.
type Pos struct {
	Line int
	Col  int
}

func (p Pos) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Col)
}

// Token is a single lexical unit of a .flow source file.
type Token struct {
	Kind Kind
	// Text is the token's content. For String tokens the surrounding quotes
	// are stripped but interpolation markers are preserved verbatim; for
	// Duration and Size tokens the unit suffix is included.
	Text string
	Pos  Pos
}

func (t Token) String() string {
	switch t.Kind {
	case Ident, Number, Duration, Size:
		return fmt.Sprintf("%s %q", t.Kind, t.Text)
	case String:
		return fmt.Sprintf("string %q", t.Text)
	default:
		return t.Kind.String()
	}
}
