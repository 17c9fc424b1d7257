// Package token defines the lexical token stream shared by the lexer and
// the parser. Tokens carry their source position so compile diagnostics can
// point at the offending template text.
package token

import "fmt"

// Kind identifies the category of a token.
type Kind int

const (
	// Text is a run of literal template text emitted verbatim.
	Text Kind = iota
	// Expr is an escaped output expression ({{ ... }}).
	Expr
	// RawExpr is an unescaped output expression ({{! ... }}).
	RawExpr
	// Directive is a directive invocation ({% name args %}).
	Directive
	// Comment is a template comment ({# ... #}); the parser drops it.
	Comment
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case Expr:
		return "expr"
	case RawExpr:
		return "raw"
	case Directive:
		return "directive"
	case Comment:
		return "comment"
	default:
		return "unknown"
	}
}

// Pos is a 1-based source position.
type Pos struct {
	Line int
	Col  int
}

// String formats the position as line:col.
func (p Pos) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Col)
}

// Token is a single lexical unit produced by the lexer.
//
// For Text tokens, Text holds the literal run with escape sequences already
// unescaped. For Expr and RawExpr tokens, Text holds the trimmed expression
// source. For Directive tokens, Name holds the directive name and Args the
// remaining trimmed argument text.
type Token struct {
	Kind Kind
	Text string
	Name string
	Args string
	Pos  Pos
}
