// Package parser consumes the lexer's token stream and produces the compiled
// program for a template. Literal text passes through verbatim, expressions
// compile to typed lookup trees, and each directive invocation dispatches to
// the registered directive's compile hook. Block directives drive the parser
// themselves through ParseUntil.
package parser

import (
	"fmt"

	"github.com/velumhq/velum/internal/errors"
	"github.com/velumhq/velum/internal/program"
	"github.com/velumhq/velum/internal/token"
)

// Directive is a compiler extension point. The engine owns registration; the
// parser only needs the compile hook.
type Directive interface {
	Name() string
	Compile(p *Parser, tok token.Token) ([]program.Node, error)
}

// Lookup resolves a directive by name.
type Lookup func(name string) (Directive, bool)

// terminators are directive names reserved for closing blocks. They are
// consumed by ParseUntil and are never looked up in the registry.
var terminators = map[string]bool{"end": true, "else": true, "elseif": true}

// Parser holds the token cursor for one template compilation.
type Parser struct {
	name   string
	toks   []token.Token
	i      int
	lookup Lookup
}

// Compile parses the token sequence into a program.
func Compile(name string, toks []token.Token, lookup Lookup) (*program.Program, error) {
	p := &Parser{name: name, toks: toks, lookup: lookup}
	nodes, _, err := p.parseNodes(nil)
	if err != nil {
		return nil, err
	}
	return &program.Program{Nodes: nodes}, nil
}

// Template returns the name of the template being compiled.
func (p *Parser) Template() string {
	return p.name
}

// Errorf builds a CompileError at the given position.
func (p *Parser) Errorf(pos token.Pos, format string, args ...any) error {
	return &errors.CompileError{
		Template: p.name, Line: pos.Line, Col: pos.Col,
		Msg: fmt.Sprintf(format, args...),
	}
}

// ParseUntil compiles nodes until one of the stop directives is seen. The
// stop token is consumed and returned so the caller can branch on it.
// Reaching end of input first is a compile error.
func (p *Parser) ParseUntil(open token.Token, stop ...string) ([]program.Node, token.Token, error) {
	nodes, term, err := p.parseNodes(stop)
	if err != nil {
		return nil, token.Token{}, err
	}
	if term == nil {
		return nil, token.Token{}, p.Errorf(open.Pos, "unterminated {%% %s %%} block", open.Name)
	}
	return nodes, *term, nil
}

// parseNodes is the main loop: it compiles tokens until a stop directive or
// end of input. The stop token, when hit, is returned separately.
func (p *Parser) parseNodes(stop []string) ([]program.Node, *token.Token, error) {
	var nodes []program.Node
	for p.i < len(p.toks) {
		tok := p.toks[p.i]
		p.i++

		switch tok.Kind {
		case token.Text:
			nodes = append(nodes, program.Node{Op: program.OpText, Text: tok.Text})

		case token.Expr, token.RawExpr:
			expr, err := p.ParseExpr(tok.Text, tok.Pos)
			if err != nil {
				return nil, nil, err
			}
			op := program.OpEmit
			if tok.Kind == token.RawExpr {
				op = program.OpRaw
			}
			nodes = append(nodes, program.Node{Op: op, Expr: expr})

		case token.Directive:
			for _, s := range stop {
				if tok.Name == s {
					return nodes, &tok, nil
				}
			}
			if terminators[tok.Name] {
				return nil, nil, p.Errorf(tok.Pos, "unexpected {%% %s %%}", tok.Name)
			}
			d, ok := p.lookup(tok.Name)
			if !ok {
				return nil, nil, p.Errorf(tok.Pos, "unknown directive %q", tok.Name)
			}
			compiled, err := d.Compile(p, tok)
			if err != nil {
				return nil, nil, err
			}
			nodes = append(nodes, compiled...)
		}
	}
	return nodes, nil, nil
}
