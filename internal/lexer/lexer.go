// Package lexer turns .flow source text into a token stream with source
// positions. It validates lexical shape only: duration and size literals must
// carry a known unit suffix and string interpolation markers must be
// well-formed, but ranges and references are left to later stages.
package lexer

import (
	"fmt"
	"strings"
	"unicode"
)

// SyntaxError reports malformed source. It is fatal to compilation.
type SyntaxError struct {
	Pos      Pos
	Message  string
	Expected string
}

func (e *SyntaxError) Error() string {
	if e.Expected != "" {
		return fmt.Sprintf("%s: %s (expected %s)", e.Pos, e.Message, e.Expected)
	}
	return fmt.Sprintf("%s: %s", e.Pos, e.Message)
}

var durationUnits = map[string]bool{"s": true, "m": true, "h": true}

var sizeUnits = map[string]bool{"b": true, "kb": true, "mb": true, "gb": true}

// Lexer scans source text into tokens.
type Lexer struct {
	src  string
	off  int
	line int
	col  int
}

// New creates a Lexer over the given source text.
func New(src string) *Lexer {
	return &Lexer{src: src, line: 1, col: 1}
}

// Scan consumes the whole source and returns its tokens, terminated by an
// EOF token, or a SyntaxError at the first malformed input.
func Scan(src string) ([]Token, error) {
	lx := New(src)
	var toks []Token
	for {
		tok, err := lx.Next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		if tok.Kind == EOF {
			return toks, nil
		}
	}
}

// Next returns the next token in the stream.
func (l *Lexer) Next() (Token, error) {
	l.skipSpaceAndComments()
	pos := l.pos()

	if l.off >= len(l.src) {
		return Token{Kind: EOF, Pos: pos}, nil
	}

	ch := l.src[l.off]
	switch {
	case ch == '{':
		l.advance(1)
		return Token{Kind: LBrace, Text: "{", Pos: pos}, nil
	case ch == '}':
		l.advance(1)
		return Token{Kind: RBrace, Text: "}", Pos: pos}, nil
	case ch == '=':
		l.advance(1)
		return Token{Kind: Equals, Text: "=", Pos: pos}, nil
	case ch == ',':
		l.advance(1)
		return Token{Kind: Comma, Text: ",", Pos: pos}, nil
	case ch == ';':
		l.advance(1)
		return Token{Kind: Semicolon, Text: ";", Pos: pos}, nil
	case ch == '"' || ch == '\'':
		return l.scanString(pos, ch)
	case ch == '-' || isDigit(ch):
		return l.scanNumber(pos)
	case isIdentStart(ch):
		return l.scanIdent(pos), nil
	default:
		return Token{}, &SyntaxError{Pos: pos, Message: fmt.Sprintf("illegal character %q", rune(ch))}
	}
}

func (l *Lexer) pos() Pos {
	return Pos{Line: l.line, Col: l.col}
}

func (l *Lexer) advance(n int) {
	for i := 0; i < n && l.off < len(l.src); i++ {
		if l.src[l.off] == '\n' {
			l.line++
			l.col = 1
		} else {
			l.col++
		}
		l.off++
	}
}

func (l *Lexer) skipSpaceAndComments() {
	for l.off < len(l.src) {
		ch := l.src[l.off]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\r' || ch == '\n':
			l.advance(1)
		case ch == '#':
			l.skipToEOL()
		case ch == '/' && l.off+1 < len(l.src) && l.src[l.off+1] == '/':
			l.skipToEOL()
		default:
			return
		}
	}
}

func (l *Lexer) skipToEOL() {
	for l.off < len(l.src) && l.src[l.off] != '\n' {
		l.advance(1)
	}
}

func (l *Lexer) scanIdent(pos Pos) Token {
	start := l.off
	for l.off < len(l.src) && isIdentPart(l.src[l.off]) {
		l.advance(1)
	}
	return Token{Kind: Ident, Text: l.src[start:l.off], Pos: pos}
}

// scanNumber scans an integer literal with an optional unit suffix. A suffix
// of s/m/h yields a Duration token, b/kb/mb/gb a Size token.
func (l *Lexer) scanNumber(pos Pos) (Token, error) {
	start := l.off
	if l.src[l.off] == '-' {
		l.advance(1)
		if l.off >= len(l.src) || !isDigit(l.src[l.off]) {
			return Token{}, &SyntaxError{Pos: pos, Message: "malformed number", Expected: "digit after '-'"}
		}
	}
	for l.off < len(l.src) && isDigit(l.src[l.off]) {
		l.advance(1)
	}
	suffixStart := l.off
	for l.off < len(l.src) && isIdentPart(l.src[l.off]) {
		l.advance(1)
	}
	text := l.src[start:l.off]
	suffix := strings.ToLower(l.src[suffixStart:l.off])
	switch {
	case suffix == "":
		return Token{Kind: Number, Text: text, Pos: pos}, nil
	case durationUnits[suffix]:
		return Token{Kind: Duration, Text: text, Pos: pos}, nil
	case sizeUnits[suffix]:
		return Token{Kind: Size, Text: text, Pos: pos}, nil
	default:
		return Token{}, &SyntaxError{
			Pos:      pos,
			Message:  fmt.Sprintf("unknown unit suffix %q in %q", suffix, text),
			Expected: "s, m, h, b, kb, mb or gb",
		}
	}
}

// scanString scans a quoted literal. Escapes for the quote character and
// backslash are unescaped; ${...} interpolation markers are checked for
// well-formedness but kept verbatim for later resolution.
func (l *Lexer) scanString(pos Pos, quote byte) (Token, error) {
	l.advance(1) // opening quote
	var sb strings.Builder
	for {
		if l.off >= len(l.src) || l.src[l.off] == '\n' {
			return Token{}, &SyntaxError{Pos: pos, Message: "unterminated string literal", Expected: fmt.Sprintf("closing %q", rune(quote))}
		}
		ch := l.src[l.off]
		switch ch {
		case quote:
			l.advance(1)
			return Token{Kind: String, Text: sb.String(), Pos: pos}, nil
		case '\\':
			if l.off+1 < len(l.src) {
				next := l.src[l.off+1]
				if next == quote || next == '\\' {
					sb.WriteByte(next)
					l.advance(2)
					continue
				}
			}
			sb.WriteByte(ch)
			l.advance(1)
		case '$':
			if l.off+1 < len(l.src) && l.src[l.off+1] == '{' {
				if err := l.checkInterpolation(); err != nil {
					return Token{}, err
				}
			}
			sb.WriteByte(ch)
			l.advance(1)
		default:
			sb.WriteByte(ch)
			l.advance(1)
		}
	}
}

// checkInterpolation validates the shape of a ${identifier} marker starting
// at the current '$' without consuming it.
func (l *Lexer) checkInterpolation() error {
	pos := l.pos()
	i := l.off + 2
	start := i
	for i < len(l.src) && isIdentPart(l.src[i]) {
		i++
	}
	if i == start || i >= len(l.src) || l.src[i] != '}' {
		return &SyntaxError{Pos: pos, Message: "malformed interpolation", Expected: "${identifier}"}
	}
	return nil
}

func isDigit(ch byte) bool { return ch >= '0' && ch <= '9' }

func isIdentStart(ch byte) bool {
	return ch == '_' || unicode.IsLetter(rune(ch))
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch)
}
