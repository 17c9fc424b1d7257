package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	verrors "github.com/velumhq/velum/internal/errors"
	"github.com/velumhq/velum/internal/lexer"
	"github.com/velumhq/velum/internal/program"
	"github.com/velumhq/velum/internal/token"
)

// upperDirective is a minimal inline directive used to exercise registry
// dispatch without pulling in the engine.
type upperDirective struct{}

func (upperDirective) Name() string { return "shout" }

func (upperDirective) Compile(p *Parser, tok token.Token) ([]program.Node, error) {
	x, err := p.ParseExpr(tok.Args, tok.Pos)
	if err != nil {
		return nil, err
	}
	return []program.Node{{Op: program.OpEmit, Expr: x}}, nil
}

// blockDirective consumes a body up to end, testing ParseUntil.
type blockDirective struct{}

func (blockDirective) Name() string { return "block" }

func (blockDirective) Compile(p *Parser, tok token.Token) ([]program.Node, error) {
	body, _, err := p.ParseUntil(tok, "end")
	if err != nil {
		return nil, err
	}
	return body, nil
}

func testLookup(name string) (Directive, bool) {
	switch name {
	case "shout":
		return upperDirective{}, true
	case "block":
		return blockDirective{}, true
	}
	return nil, false
}

func compileSrc(t *testing.T, src string) (*program.Program, error) {
	t.Helper()
	toks, err := lexer.Lex("t.vel", []byte(src))
	require.NoError(t, err)
	return Compile("t.vel", toks, testLookup)
}

func TestCompileTextAndExpressions(t *testing.T) {
	prog, err := compileSrc(t, "Hi {{ name }} and {{! body }}")
	require.NoError(t, err)
	require.Len(t, prog.Nodes, 4)

	assert.Equal(t, program.OpText, prog.Nodes[0].Op)
	assert.Equal(t, "Hi ", prog.Nodes[0].Text)
	assert.Equal(t, program.OpEmit, prog.Nodes[1].Op)
	assert.Equal(t, "name", prog.Nodes[1].Expr.Name)
	assert.Equal(t, program.OpText, prog.Nodes[2].Op)
	assert.Equal(t, program.OpRaw, prog.Nodes[3].Op)
}

func TestCompileDirectiveDispatch(t *testing.T) {
	prog, err := compileSrc(t, "{% shout name %}")
	require.NoError(t, err)
	require.Len(t, prog.Nodes, 1)
	assert.Equal(t, program.OpEmit, prog.Nodes[0].Op)
}

func TestCompileBlockDirective(t *testing.T) {
	prog, err := compileSrc(t, "{% block %}inner {{ x }}{% end %}tail")
	require.NoError(t, err)
	require.Len(t, prog.Nodes, 3)
	assert.Equal(t, "inner ", prog.Nodes[0].Text)
	assert.Equal(t, program.OpEmit, prog.Nodes[1].Op)
	assert.Equal(t, "tail", prog.Nodes[2].Text)
}

func TestCompileUnknownDirective(t *testing.T) {
	_, err := compileSrc(t, "{% bogus %}")
	require.Error(t, err)

	var ce *verrors.CompileError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Msg, "bogus")
}

func TestCompileStrayTerminator(t *testing.T) {
	for _, src := range []string{"{% end %}", "{% else %}", "{% elseif x %}"} {
		_, err := compileSrc(t, src)
		require.Error(t, err, src)

		var ce *verrors.CompileError
		assert.ErrorAs(t, err, &ce)
	}
}

func TestCompileUnterminatedBlock(t *testing.T) {
	_, err := compileSrc(t, "{% block %}never closed")
	require.Error(t, err)

	var ce *verrors.CompileError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Msg, "unterminated")
}

func TestParseExpr(t *testing.T) {
	p := &Parser{name: "t.vel"}
	pos := token.Pos{Line: 1, Col: 1}

	tests := []struct {
		name string
		src  string
		want program.Expr
	}{
		{
			name: "bare path",
			src:  "user",
			want: program.Expr{Kind: program.KindPath, Name: "user"},
		},
		{
			name: "dotted member",
			src:  "user.name",
			want: program.Expr{Kind: program.KindPath, Name: "user", Steps: []program.Step{
				{Kind: program.StepMember, Name: "name"},
			}},
		},
		{
			name: "index and key steps",
			src:  `items[2]["label"]`,
			want: program.Expr{Kind: program.KindPath, Name: "items", Steps: []program.Step{
				{Kind: program.StepIndex, Index: 2},
				{Kind: program.StepKey, Name: "label"},
			}},
		},
		{
			name: "method step with args",
			src:  `user.format("long")`,
			want: program.Expr{Kind: program.KindPath, Name: "user", Steps: []program.Step{
				{Kind: program.StepMethod, Name: "format", Args: []program.Expr{
					{Kind: program.KindString, Value: "long"},
				}},
			}},
		},
		{
			name: "string literal single quotes",
			src:  "'hello'",
			want: program.Expr{Kind: program.KindString, Value: "hello"},
		},
		{
			name: "number literal",
			src:  "-3.5",
			want: program.Expr{Kind: program.KindNumber, Value: "-3.5"},
		},
		{
			name: "bool literal",
			src:  "true",
			want: program.Expr{Kind: program.KindBool, Value: "true"},
		},
		{
			name: "function call",
			src:  "upper(name)",
			want: program.Expr{Kind: program.KindCall, Name: "upper", Args: []program.Expr{
				{Kind: program.KindPath, Name: "name"},
			}},
		},
		{
			name: "nested call with literals",
			src:  `default(user.nick, "anon")`,
			want: program.Expr{Kind: program.KindCall, Name: "default", Args: []program.Expr{
				{Kind: program.KindPath, Name: "user", Steps: []program.Step{
					{Kind: program.StepMember, Name: "nick"},
				}},
				{Kind: program.KindString, Value: "anon"},
			}},
		},
		{
			name: "call result steps",
			src:  "first(items).name",
			want: program.Expr{Kind: program.KindCall, Name: "first", Args: []program.Expr{
				{Kind: program.KindPath, Name: "items"},
			}, Steps: []program.Step{
				{Kind: program.StepMember, Name: "name"},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.ParseExpr(tt.src, pos)
			require.NoError(t, err)
			assert.Equal(t, &tt.want, got)
		})
	}
}

func TestParseExprErrors(t *testing.T) {
	p := &Parser{name: "t.vel"}
	pos := token.Pos{Line: 1, Col: 1}

	tests := []string{
		"",
		"user.",
		"items[",
		"items[2",
		`items["key`,
		"upper(name",
		"upper(name,",
		"name extra",
		"3.5.7",
		"?",
	}

	for _, src := range tests {
		t.Run(src, func(t *testing.T) {
			_, err := p.ParseExpr(src, pos)
			require.Error(t, err)

			var ce *verrors.CompileError
			assert.ErrorAs(t, err, &ce)
		})
	}
}
