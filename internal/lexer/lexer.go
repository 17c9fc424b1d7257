// Package lexer turns raw template source into an ordered token stream.
//
// The scan is a single forward pass. Literal text runs between delimiters are
// collected into Text tokens; {{ ... }} produces an Expr token, {{! ... }} a
// RawExpr token, {% name args %} a Directive token and {# ... #} a Comment
// token. A backslash immediately before a delimiter opener escapes it, so
// \{{ emits the two literal braces. Quoted strings inside expressions and
// directives may contain delimiter text without terminating the construct.
//
// Nothing is executed here; the only failure mode is a structurally
// unterminated construct at end of input, reported as a CompileError.
package lexer

import (
	"strings"

	"github.com/velumhq/velum/internal/errors"
	"github.com/velumhq/velum/internal/token"
)

// Lexer scans one template source.
type Lexer struct {
	name string
	src  string
	off  int
	line int
	col  int
}

// New creates a lexer for the named template source.
func New(name string, src []byte) *Lexer {
	return &Lexer{name: name, src: string(src), line: 1, col: 1}
}

// Lex scans the whole source and returns the token sequence.
func Lex(name string, src []byte) ([]token.Token, error) {
	return New(name, src).All()
}

// All consumes the remaining input and returns every token in order.
func (l *Lexer) All() ([]token.Token, error) {
	var toks []token.Token
	var text strings.Builder
	textPos := l.pos()

	flush := func() {
		if text.Len() > 0 {
			toks = append(toks, token.Token{Kind: token.Text, Text: text.String(), Pos: textPos})
			text.Reset()
		}
	}

	for l.off < len(l.src) {
		c := l.src[l.off]

		switch {
		case c == '\\' && l.openerAt(l.off+1) != "":
			// Escaped delimiter: drop the backslash, keep the opener verbatim.
			opener := l.openerAt(l.off + 1)
			if text.Len() == 0 {
				textPos = l.pos()
			}
			text.WriteString(opener)
			l.advance(1 + len(opener))

		case l.openerAt(l.off) != "":
			flush()
			tok, err := l.lexConstruct()
			if err != nil {
				return nil, err
			}
			if tok.Kind != token.Comment {
				toks = append(toks, tok)
			}
			textPos = l.pos()

		default:
			if text.Len() == 0 {
				textPos = l.pos()
			}
			text.WriteByte(c)
			l.advance(1)
		}
	}

	flush()
	return toks, nil
}

// openerAt reports the delimiter opener starting at offset i, or "".
func (l *Lexer) openerAt(i int) string {
	if i >= len(l.src) {
		return ""
	}
	rest := l.src[i:]
	switch {
	case strings.HasPrefix(rest, "{{"):
		return "{{"
	case strings.HasPrefix(rest, "{%"):
		return "{%"
	case strings.HasPrefix(rest, "{#"):
		return "{#"
	}
	return ""
}

// lexConstruct scans one delimited construct starting at the current offset.
func (l *Lexer) lexConstruct() (token.Token, error) {
	start := l.pos()
	opener := l.openerAt(l.off)
	l.advance(len(opener))

	kind := token.Expr
	closer := "}}"
	switch opener {
	case "{%":
		kind = token.Directive
		closer = "%}"
	case "{#":
		kind = token.Comment
		closer = "#}"
	default:
		if l.off < len(l.src) && l.src[l.off] == '!' {
			kind = token.RawExpr
			l.advance(1)
		}
	}

	body, err := l.scanUntil(closer, kind != token.Comment, start)
	if err != nil {
		return token.Token{}, err
	}

	tok := token.Token{Kind: kind, Text: strings.TrimSpace(body), Pos: start}
	if kind == token.Directive {
		tok.Name, tok.Args = splitDirective(tok.Text)
		if tok.Name == "" {
			return token.Token{}, &errors.CompileError{
				Template: l.name, Line: start.Line, Col: start.Col,
				Msg: "empty directive",
			}
		}
	}
	return tok, nil
}

// scanUntil consumes input up to (and including) the closer, returning the
// body in between. When quoted is true, single- and double-quoted strings are
// skipped over so a closer inside quotes does not terminate the construct.
func (l *Lexer) scanUntil(closer string, quoted bool, start token.Pos) (string, error) {
	from := l.off
	for l.off < len(l.src) {
		if strings.HasPrefix(l.src[l.off:], closer) {
			body := l.src[from:l.off]
			l.advance(len(closer))
			return body, nil
		}
		c := l.src[l.off]
		if quoted && (c == '"' || c == '\'') {
			if err := l.scanString(c, start); err != nil {
				return "", err
			}
			continue
		}
		l.advance(1)
	}
	return "", &errors.CompileError{
		Template: l.name, Line: start.Line, Col: start.Col,
		Msg: "unterminated construct, missing " + closer,
	}
}

// scanString consumes a quoted literal, honoring backslash escapes.
func (l *Lexer) scanString(quote byte, start token.Pos) error {
	l.advance(1) // opening quote
	for l.off < len(l.src) {
		c := l.src[l.off]
		if c == '\\' && l.off+1 < len(l.src) {
			l.advance(2)
			continue
		}
		l.advance(1)
		if c == quote {
			return nil
		}
	}
	return &errors.CompileError{
		Template: l.name, Line: start.Line, Col: start.Col,
		Msg: "unterminated string literal",
	}
}

// advance moves the offset forward by n bytes, tracking line and column.
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

func (l *Lexer) pos() token.Pos {
	return token.Pos{Line: l.line, Col: l.col}
}

// splitDirective separates a directive body into its name and argument text.
func splitDirective(body string) (name, args string) {
	i := 0
	for i < len(body) && isNameByte(body[i]) {
		i++
	}
	return body[:i], strings.TrimSpace(body[i:])
}

func isNameByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '_'
}
