package parser

import (
	"strconv"
	"strings"

	"github.com/velumhq/velum/internal/program"
	"github.com/velumhq/velum/internal/token"
)

// ParseExpr compiles expression source into its typed form. The grammar is a
// deliberately small one: string/number/bool literals, environment paths with
// dotted members, bracketed indexes and keys, explicit method calls, and
// named function calls whose arguments are themselves expressions.
func (p *Parser) ParseExpr(src string, pos token.Pos) (*program.Expr, error) {
	s := &exprScanner{p: p, src: src, pos: pos}
	expr, err := s.parse()
	if err != nil {
		return nil, err
	}
	s.skipSpace()
	if !s.eof() {
		return nil, p.Errorf(pos, "unexpected %q in expression %q", s.rest(), src)
	}
	return expr, nil
}

type exprScanner struct {
	p   *Parser
	src string
	i   int
	pos token.Pos
}

func (s *exprScanner) eof() bool    { return s.i >= len(s.src) }
func (s *exprScanner) rest() string { return s.src[s.i:] }
func (s *exprScanner) peek() byte   { return s.src[s.i] }

func (s *exprScanner) errMissing(what string) error {
	return s.p.Errorf(s.pos, "expression %q: missing %s", s.src, what)
}

func (s *exprScanner) skipSpace() {
	for !s.eof() {
		switch s.peek() {
		case ' ', '\t', '\r', '\n':
			s.i++
		default:
			return
		}
	}
}

// parse reads one full expression.
func (s *exprScanner) parse() (*program.Expr, error) {
	s.skipSpace()
	if s.eof() {
		return nil, s.p.Errorf(s.pos, "empty expression")
	}

	c := s.peek()
	switch {
	case c == '"' || c == '\'':
		lit, err := s.scanString(c)
		if err != nil {
			return nil, err
		}
		return &program.Expr{Kind: program.KindString, Value: lit}, nil

	case c >= '0' && c <= '9' || c == '-':
		return s.scanNumber()

	case isIdentByte(c):
		ident := s.scanIdent()
		if ident == "true" || ident == "false" {
			return &program.Expr{Kind: program.KindBool, Value: ident}, nil
		}
		if !s.eof() && s.peek() == '(' {
			args, err := s.scanArgs()
			if err != nil {
				return nil, err
			}
			call := &program.Expr{Kind: program.KindCall, Name: ident, Args: args}
			steps, err := s.scanSteps()
			if err != nil {
				return nil, err
			}
			call.Steps = steps
			return call, nil
		}
		path := &program.Expr{Kind: program.KindPath, Name: ident}
		steps, err := s.scanSteps()
		if err != nil {
			return nil, err
		}
		path.Steps = steps
		return path, nil
	}
	return nil, s.p.Errorf(s.pos, "expression %q: unexpected %q", s.src, string(c))
}

// scanSteps reads trailing .member, .method(args), [index] and ["key"] steps.
func (s *exprScanner) scanSteps() ([]program.Step, error) {
	var steps []program.Step
	for !s.eof() {
		switch s.peek() {
		case '.':
			s.i++
			if s.eof() || !isIdentByte(s.peek()) {
				return nil, s.errMissing("member name after '.'")
			}
			name := s.scanIdent()
			if !s.eof() && s.peek() == '(' {
				args, err := s.scanArgs()
				if err != nil {
					return nil, err
				}
				steps = append(steps, program.Step{Kind: program.StepMethod, Name: name, Args: args})
			} else {
				steps = append(steps, program.Step{Kind: program.StepMember, Name: name})
			}
		case '[':
			s.i++
			s.skipSpace()
			if s.eof() {
				return nil, s.errMissing("']'")
			}
			if q := s.peek(); q == '"' || q == '\'' {
				key, err := s.scanString(q)
				if err != nil {
					return nil, err
				}
				steps = append(steps, program.Step{Kind: program.StepKey, Name: key})
			} else {
				start := s.i
				for !s.eof() && s.peek() >= '0' && s.peek() <= '9' {
					s.i++
				}
				idx, err := strconv.Atoi(s.src[start:s.i])
				if err != nil {
					return nil, s.errMissing("index")
				}
				steps = append(steps, program.Step{Kind: program.StepIndex, Index: idx})
			}
			s.skipSpace()
			if s.eof() || s.peek() != ']' {
				return nil, s.errMissing("']'")
			}
			s.i++
		default:
			return steps, nil
		}
	}
	return steps, nil
}

// scanArgs reads a parenthesized, comma-separated argument list.
func (s *exprScanner) scanArgs() ([]program.Expr, error) {
	s.i++ // '('
	var args []program.Expr
	s.skipSpace()
	if !s.eof() && s.peek() == ')' {
		s.i++
		return args, nil
	}
	for {
		arg, err := s.parse()
		if err != nil {
			return nil, err
		}
		args = append(args, *arg)
		s.skipSpace()
		if s.eof() {
			return nil, s.errMissing("')'")
		}
		switch s.peek() {
		case ',':
			s.i++
		case ')':
			s.i++
			return args, nil
		default:
			return nil, s.p.Errorf(s.pos, "expression %q: expected ',' or ')'", s.src)
		}
	}
}

// scanString reads a quoted literal, resolving backslash escapes.
func (s *exprScanner) scanString(quote byte) (string, error) {
	s.i++ // opening quote
	var b strings.Builder
	for !s.eof() {
		c := s.peek()
		if c == '\\' && s.i+1 < len(s.src) {
			s.i++
			b.WriteByte(s.peek())
			s.i++
			continue
		}
		s.i++
		if c == quote {
			return b.String(), nil
		}
		b.WriteByte(c)
	}
	return "", s.errMissing("closing quote")
}

func (s *exprScanner) scanNumber() (*program.Expr, error) {
	start := s.i
	if s.peek() == '-' {
		s.i++
	}
	for !s.eof() && (s.peek() >= '0' && s.peek() <= '9' || s.peek() == '.') {
		s.i++
	}
	lexeme := s.src[start:s.i]
	if _, err := strconv.ParseFloat(lexeme, 64); err != nil {
		return nil, s.p.Errorf(s.pos, "expression %q: bad number %q", s.src, lexeme)
	}
	return &program.Expr{Kind: program.KindNumber, Value: lexeme}, nil
}

func (s *exprScanner) scanIdent() string {
	start := s.i
	for !s.eof() && isIdentByte(s.peek()) {
		s.i++
	}
	return s.src[start:s.i]
}

func isIdentByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '_' || b == '$'
}
