package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	verrors "github.com/velumhq/velum/internal/errors"
	"github.com/velumhq/velum/internal/token"
)

func TestLexText(t *testing.T) {
	toks, err := Lex("t.vel", []byte("hello world"))
	require.NoError(t, err)
	require.Len(t, toks, 1)
	assert.Equal(t, token.Text, toks[0].Kind)
	assert.Equal(t, "hello world", toks[0].Text)
	assert.Equal(t, token.Pos{Line: 1, Col: 1}, toks[0].Pos)
}

func TestLexConstructs(t *testing.T) {
	tests := []struct {
		name string
		src  string
		kind token.Kind
		text string
	}{
		{
			name: "expression",
			src:  "{{ user.name }}",
			kind: token.Expr,
			text: "user.name",
		},
		{
			name: "raw expression",
			src:  "{{! body }}",
			kind: token.RawExpr,
			text: "body",
		},
		{
			name: "expression without padding",
			src:  "{{title}}",
			kind: token.Expr,
			text: "title",
		},
		{
			name: "closer inside quoted string",
			src:  `{{ fmt("}}") }}`,
			kind: token.Expr,
			text: `fmt("}}")`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			toks, err := Lex("t.vel", []byte(tt.src))
			require.NoError(t, err)
			require.Len(t, toks, 1)
			assert.Equal(t, tt.kind, toks[0].Kind)
			assert.Equal(t, tt.text, toks[0].Text)
		})
	}
}

func TestLexDirective(t *testing.T) {
	toks, err := Lex("t.vel", []byte("{% for item in items %}"))
	require.NoError(t, err)
	require.Len(t, toks, 1)
	assert.Equal(t, token.Directive, toks[0].Kind)
	assert.Equal(t, "for", toks[0].Name)
	assert.Equal(t, "item in items", toks[0].Args)
}

func TestLexDirectiveWithoutArgs(t *testing.T) {
	toks, err := Lex("t.vel", []byte("{% end %}"))
	require.NoError(t, err)
	require.Len(t, toks, 1)
	assert.Equal(t, "end", toks[0].Name)
	assert.Empty(t, toks[0].Args)
}

func TestLexCommentDropped(t *testing.T) {
	toks, err := Lex("t.vel", []byte("a{# note to self #}b"))
	require.NoError(t, err)
	require.Len(t, toks, 2)
	assert.Equal(t, "a", toks[0].Text)
	assert.Equal(t, "b", toks[1].Text)
}

func TestLexEscapedOpener(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{`\{{ not an expr }}`, "{{ not an expr }}"},
		{`\{% not a directive %}`, "{% not a directive %}"},
		{`\{# not a comment #}`, "{# not a comment #}"},
	}

	for _, tt := range tests {
		toks, err := Lex("t.vel", []byte(tt.src))
		require.NoError(t, err)
		require.Len(t, toks, 1)
		assert.Equal(t, token.Text, toks[0].Kind)
		assert.Equal(t, tt.want, toks[0].Text)
	}
}

func TestLexBackslashWithoutOpener(t *testing.T) {
	toks, err := Lex("t.vel", []byte(`a\b`))
	require.NoError(t, err)
	require.Len(t, toks, 1)
	assert.Equal(t, `a\b`, toks[0].Text)
}

func TestLexMixedStream(t *testing.T) {
	src := "Hello {{ name }}!\n{% if admin %}ADMIN{% end %}"
	toks, err := Lex("t.vel", []byte(src))
	require.NoError(t, err)
	require.Len(t, toks, 6)

	assert.Equal(t, token.Text, toks[0].Kind)
	assert.Equal(t, "Hello ", toks[0].Text)
	assert.Equal(t, token.Expr, toks[1].Kind)
	assert.Equal(t, token.Text, toks[2].Kind)
	assert.Equal(t, "!\n", toks[2].Text)
	assert.Equal(t, token.Directive, toks[3].Kind)
	assert.Equal(t, "if", toks[3].Name)
	assert.Equal(t, "ADMIN", toks[4].Text)
	assert.Equal(t, "end", toks[5].Name)
}

func TestLexPositions(t *testing.T) {
	src := "line one\n  {{ x }}"
	toks, err := Lex("t.vel", []byte(src))
	require.NoError(t, err)
	require.Len(t, toks, 2)
	assert.Equal(t, token.Pos{Line: 2, Col: 3}, toks[1].Pos)
}

func TestLexErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unterminated expression", "{{ user.name"},
		{"unterminated directive", "{% if cond"},
		{"unterminated comment", "{# never closed"},
		{"unterminated string", `{{ greet("oops) }}`},
		{"empty directive", "{% %}"},
		{"directive without name", "{% @bad %}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Lex("t.vel", []byte(tt.src))
			require.Error(t, err)

			var ce *verrors.CompileError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, "t.vel", ce.Template)
			assert.Greater(t, ce.Line, 0)
		})
	}
}

func TestLexEmptySource(t *testing.T) {
	toks, err := Lex("t.vel", nil)
	require.NoError(t, err)
	assert.Empty(t, toks)
}
