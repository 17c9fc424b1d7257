// Package program defines the compiled intermediate representation of a
// template: a typed node tree produced by the parser and executed by the
// engine's evaluator. The tree serializes to JSON, which is the format of
// the on-disk cache artifact. Compiled templates are data, never code that
// gets interpreted as source at render time.
package program

import "encoding/json"

// Op identifies what a node does when evaluated.
type Op string

const (
	// OpText emits literal text.
	OpText Op = "text"
	// OpEmit evaluates Expr and writes its HTML-escaped string form.
	OpEmit Op = "emit"
	// OpRaw evaluates Expr and writes its string form unescaped.
	OpRaw Op = "raw"
	// OpIf evaluates Expr for truthiness and runs Body or Else.
	OpIf Op = "if"
	// OpFor iterates Expr, binding Item (and optionally Key) per element.
	OpFor Op = "for"
	// OpSet binds Name to the value of Expr in the environment.
	OpSet Op = "set"
	// OpInclude renders the template named by Expr into the output.
	OpInclude Op = "include"
	// OpExtend declares the parent template named by Expr for the current
	// render frame; it emits nothing itself.
	OpExtend Op = "extend"
)

// Node is one instruction of a compiled template.
type Node struct {
	Op   Op     `json:"op"`
	Text string `json:"text,omitempty"`
	Name string `json:"name,omitempty"`
	Key  string `json:"key,omitempty"`
	Item string `json:"item,omitempty"`
	Expr *Expr  `json:"expr,omitempty"`
	Body []Node `json:"body,omitempty"`
	Else []Node `json:"else,omitempty"`
}

// ExprKind identifies the shape of an expression.
type ExprKind string

const (
	// KindPath is a variable lookup rooted at an environment name,
	// optionally followed by attribute steps.
	KindPath ExprKind = "path"
	// KindString is a quoted string literal.
	KindString ExprKind = "string"
	// KindNumber is an integer or float literal; Value keeps the lexeme.
	KindNumber ExprKind = "number"
	// KindBool is true or false.
	KindBool ExprKind = "bool"
	// KindCall is a named function invocation with argument expressions.
	KindCall ExprKind = "call"
)

// Expr is a compiled expression.
type Expr struct {
	Kind  ExprKind `json:"kind"`
	Name  string   `json:"name,omitempty"`
	Value string   `json:"value,omitempty"`
	Steps []Step   `json:"steps,omitempty"`
	Args  []Expr   `json:"args,omitempty"`
}

// StepKind identifies one attribute-access step of a path expression.
type StepKind string

const (
	// StepMember is dotted access, resolved with Any semantics.
	StepMember StepKind = "member"
	// StepIndex is bracketed numeric access, resolved with Array semantics.
	StepIndex StepKind = "index"
	// StepKey is bracketed string-key access, resolved with Array semantics.
	StepKey StepKind = "key"
	// StepMethod is an explicit method invocation with arguments.
	StepMethod StepKind = "method"
)

// Step is one attribute-access step applied to the value so far.
type Step struct {
	Kind  StepKind `json:"kind"`
	Name  string   `json:"name,omitempty"`
	Index int      `json:"index,omitempty"`
	Args  []Expr   `json:"args,omitempty"`
}

// Program is a compiled template.
type Program struct {
	Nodes []Node `json:"nodes"`
}

// Marshal serializes the program to its artifact form.
func (p *Program) Marshal() ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}

// Unmarshal deserializes a program from its artifact form.
func Unmarshal(data []byte) (*Program, error) {
	var p Program
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
