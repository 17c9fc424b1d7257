package engine

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/velumhq/velum/internal/parser"
	"github.com/velumhq/velum/internal/program"
	"github.com/velumhq/velum/internal/token"
)

func builtinDirectives() []Directive {
	return []Directive{
		&extendDirective{},
		&includeDirective{},
		&ifDirective{},
		&forDirective{},
		&setDirective{},
	}
}

// extendDirective declares the template's parent. The actual inheritance
// hand-off happens after evaluation; compiling just records the parent name
// expression.
type extendDirective struct {
	BaseDirective
}

func (d *extendDirective) Name() string { return "extend" }

func (d *extendDirective) Compile(p *parser.Parser, tok token.Token) ([]program.Node, error) {
	x, err := p.ParseExpr(tok.Args, tok.Pos)
	if err != nil {
		return nil, err
	}
	return []program.Node{{Op: program.OpExtend, Expr: x}}, nil
}

// includeDirective renders another template in place with the current
// environment.
type includeDirective struct {
	BaseDirective
}

func (d *includeDirective) Name() string { return "include" }

func (d *includeDirective) Compile(p *parser.Parser, tok token.Token) ([]program.Node, error) {
	x, err := p.ParseExpr(tok.Args, tok.Pos)
	if err != nil {
		return nil, err
	}
	return []program.Node{{Op: program.OpInclude, Expr: x}}, nil
}

// ifDirective compiles if/elseif/else/end chains. An elseif arm becomes a
// nested conditional in the else branch.
type ifDirective struct {
	BaseDirective
}

func (d *ifDirective) Name() string { return "if" }

func (d *ifDirective) Compile(p *parser.Parser, tok token.Token) ([]program.Node, error) {
	n, err := compileIf(p, tok)
	if err != nil {
		return nil, err
	}
	return []program.Node{*n}, nil
}

func compileIf(p *parser.Parser, tok token.Token) (*program.Node, error) {
	cond, err := p.ParseExpr(tok.Args, tok.Pos)
	if err != nil {
		return nil, err
	}

	body, term, err := p.ParseUntil(tok, "elseif", "else", "end")
	if err != nil {
		return nil, err
	}
	n := &program.Node{Op: program.OpIf, Expr: cond, Body: body}

	switch term.Name {
	case "end":
		return n, nil
	case "elseif":
		nested, err := compileIf(p, term)
		if err != nil {
			return nil, err
		}
		n.Else = []program.Node{*nested}
		return n, nil
	case "else":
		if strings.TrimSpace(term.Args) != "" {
			return nil, p.Errorf(term.Pos, "else takes no arguments")
		}
		elseBody, _, err := p.ParseUntil(term, "end")
		if err != nil {
			return nil, err
		}
		n.Else = elseBody
		return n, nil
	}
	return nil, p.Errorf(term.Pos, "unexpected terminator %q", term.Name)
}

// forDirective compiles "item in expr" and "key, item in expr" loops.
type forDirective struct {
	BaseDirective
}

func (d *forDirective) Name() string { return "for" }

func (d *forDirective) Compile(p *parser.Parser, tok token.Token) ([]program.Node, error) {
	idx := strings.Index(tok.Args, " in ")
	if idx < 0 {
		return nil, p.Errorf(tok.Pos, "for: want %q, got %q", "item in expr", tok.Args)
	}
	vars := strings.TrimSpace(tok.Args[:idx])
	src := strings.TrimSpace(tok.Args[idx+len(" in "):])

	var key, item string
	if c := strings.IndexByte(vars, ','); c >= 0 {
		key = strings.TrimSpace(vars[:c])
		item = strings.TrimSpace(vars[c+1:])
	} else {
		item = vars
	}
	if item == "" || !isIdent(item) || (key != "" && !isIdent(key)) {
		return nil, p.Errorf(tok.Pos, "for: invalid loop variables %q", vars)
	}

	x, err := p.ParseExpr(src, tok.Pos)
	if err != nil {
		return nil, err
	}
	body, _, err := p.ParseUntil(tok, "end")
	if err != nil {
		return nil, err
	}
	return []program.Node{{Op: program.OpFor, Key: key, Item: item, Expr: x, Body: body}}, nil
}

// setDirective compiles "name = expr" bindings into the current frame.
type setDirective struct {
	BaseDirective
}

func (d *setDirective) Name() string { return "set" }

func (d *setDirective) Compile(p *parser.Parser, tok token.Token) ([]program.Node, error) {
	idx := strings.IndexByte(tok.Args, '=')
	if idx < 0 {
		return nil, p.Errorf(tok.Pos, "set: want %q, got %q", "name = expr", tok.Args)
	}
	name := strings.TrimSpace(tok.Args[:idx])
	if !isIdent(name) {
		return nil, p.Errorf(tok.Pos, "set: invalid variable name %q", name)
	}
	x, err := p.ParseExpr(tok.Args[idx+1:], tok.Pos)
	if err != nil {
		return nil, err
	}
	return []program.Node{{Op: program.OpSet, Name: name, Expr: x}}, nil
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		ok := c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' ||
			i > 0 && c >= '0' && c <= '9'
		if !ok {
			return false
		}
	}
	return true
}

// CoreExtension contributes the default function set. It is registered by
// New and initialized lazily with the rest of the registries.
type CoreExtension struct{}

// Name returns the extension identifier.
func (CoreExtension) Name() string { return "core" }

// Initialize registers the built-in functions.
func (CoreExtension) Initialize(e *Engine) error {
	funcs := map[string]Function{
		"upper":   fnUpper,
		"lower":   fnLower,
		"trim":    fnTrim,
		"length":  fnLength,
		"default": fnDefault,
		"join":    fnJoin,
	}
	for name, fn := range funcs {
		if err := e.AddFunction(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func oneString(name string, args []any) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%s: want 1 argument, got %d", name, len(args))
	}
	return Stringify(args[0]), nil
}

func fnUpper(args ...any) (any, error) {
	s, err := oneString("upper", args)
	if err != nil {
		return nil, err
	}
	return strings.ToUpper(s), nil
}

func fnLower(args ...any) (any, error) {
	s, err := oneString("lower", args)
	if err != nil {
		return nil, err
	}
	return strings.ToLower(s), nil
}

func fnTrim(args ...any) (any, error) {
	s, err := oneString("trim", args)
	if err != nil {
		return nil, err
	}
	return strings.TrimSpace(s), nil
}

func fnLength(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("length: want 1 argument, got %d", len(args))
	}
	switch t := args[0].(type) {
	case nil:
		return 0, nil
	case string:
		return len(t), nil
	}
	rv := reflect.ValueOf(args[0])
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len(), nil
	}
	return nil, fmt.Errorf("length: cannot measure %T", args[0])
}

func fnDefault(args ...any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("default: want 2 arguments, got %d", len(args))
	}
	if Truthy(args[0]) {
		return args[0], nil
	}
	return args[1], nil
}

func fnJoin(args ...any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("join: want 2 arguments, got %d", len(args))
	}
	sep := Stringify(args[1])
	rv := reflect.ValueOf(args[0])
	if args[0] == nil {
		return "", nil
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("join: cannot join %T", args[0])
	}
	parts := make([]string, rv.Len())
	for i := range parts {
		parts[i] = Stringify(rv.Index(i).Interface())
	}
	return strings.Join(parts, sep), nil
}
