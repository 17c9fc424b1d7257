package engine

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/velumhq/velum/internal/program"
	"github.com/velumhq/velum/internal/resolver"
)

// renderContext carries all per-render state for one frame: the bound
// environment, the output buffer and the inheritance slot. Nothing is kept
// on the engine between renders, so a failed evaluation leaves no residue.
type renderContext struct {
	name  string
	depth int
	env   map[string]any

	out strings.Builder

	parent    string
	parentSet bool
}

// evaluate walks a compiled program fragment and appends its output to the
// frame buffer.
func (e *Engine) evaluate(rc *renderContext, nodes []program.Node) error {
	for i := range nodes {
		if err := e.evalNode(rc, &nodes[i]); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) evalNode(rc *renderContext, n *program.Node) error {
	switch n.Op {
	case program.OpText:
		rc.out.WriteString(n.Text)
		return nil

	case program.OpEmit:
		v, err := e.evalExpr(rc, n.Expr)
		if err != nil {
			return err
		}
		rc.out.WriteString(e.Escape(v))
		return nil

	case program.OpRaw:
		v, err := e.evalExpr(rc, n.Expr)
		if err != nil {
			return err
		}
		rc.out.WriteString(Stringify(v))
		return nil

	case program.OpIf:
		v, err := e.evalExpr(rc, n.Expr)
		if err != nil {
			return err
		}
		if Truthy(v) {
			return e.evaluate(rc, n.Body)
		}
		return e.evaluate(rc, n.Else)

	case program.OpFor:
		return e.evalFor(rc, n)

	case program.OpSet:
		v, err := e.evalExpr(rc, n.Expr)
		if err != nil {
			return err
		}
		rc.env[n.Name] = v
		return nil

	case program.OpInclude:
		v, err := e.evalExpr(rc, n.Expr)
		if err != nil {
			return err
		}
		name, ok := v.(string)
		if !ok {
			return fmt.Errorf("include: template name is %T, want string", v)
		}
		out, err := e.renderFrame(name, rc.env, rc.depth+1)
		if err != nil {
			return err
		}
		rc.out.WriteString(out)
		return nil

	case program.OpExtend:
		v, err := e.evalExpr(rc, n.Expr)
		if err != nil {
			return err
		}
		name, ok := v.(string)
		if !ok {
			return fmt.Errorf("extend: template name is %T, want string", v)
		}
		if rc.parentSet {
			return fmt.Errorf("extend: parent already declared as %q", rc.parent)
		}
		rc.parent = name
		rc.parentSet = true
		return nil

	default:
		return fmt.Errorf("unknown opcode %q", n.Op)
	}
}

// evalFor iterates slices, arrays and maps. Loop variables shadow existing
// bindings for the duration of the loop and are restored afterwards.
func (e *Engine) evalFor(rc *renderContext, n *program.Node) error {
	v, err := e.evalExpr(rc, n.Expr)
	if err != nil {
		return err
	}

	savedItem, hadItem := rc.env[n.Item]
	var savedKey any
	var hadKey bool
	if n.Key != "" {
		savedKey, hadKey = rc.env[n.Key]
	}
	restore := func() {
		if hadItem {
			rc.env[n.Item] = savedItem
		} else {
			delete(rc.env, n.Item)
		}
		if n.Key != "" {
			if hadKey {
				rc.env[n.Key] = savedKey
			} else {
				delete(rc.env, n.Key)
			}
		}
	}
	defer restore()

	iter := func(key, item any) error {
		rc.env[n.Item] = item
		if n.Key != "" {
			rc.env[n.Key] = key
		}
		return e.evaluate(rc, n.Body)
	}

	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if err := iter(i, rv.Index(i).Interface()); err != nil {
				return err
			}
		}
		return nil
	case reflect.Map:
		keys := rv.MapKeys()
		sortMapKeys(keys)
		for _, k := range keys {
			if err := iter(k.Interface(), rv.MapIndex(k).Interface()); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("for: cannot iterate %T", v)
	}
}

// sortMapKeys orders string map keys so map iteration is deterministic.
// Non-string keys are left in runtime order.
func sortMapKeys(keys []reflect.Value) {
	if len(keys) == 0 || keys[0].Kind() != reflect.String {
		return
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j].String() < keys[j-1].String(); j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
}

// evalExpr evaluates a compiled expression against the frame environment.
func (e *Engine) evalExpr(rc *renderContext, x *program.Expr) (any, error) {
	if x == nil {
		return nil, nil
	}

	var v any
	switch x.Kind {
	case program.KindString:
		v = x.Value
	case program.KindNumber:
		f, err := strconv.ParseFloat(x.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("number literal %q: %w", x.Value, err)
		}
		v = f
	case program.KindBool:
		v = x.Value == "true"
	case program.KindPath:
		v = rc.env[x.Name]
	case program.KindCall:
		fn, ok := e.Function(x.Name)
		if !ok {
			return nil, fmt.Errorf("unknown function %q", x.Name)
		}
		args, err := e.evalArgs(rc, x.Args)
		if err != nil {
			return nil, err
		}
		v, err = fn(args...)
		if err != nil {
			return nil, fmt.Errorf("function %q: %w", x.Name, err)
		}
	default:
		return nil, fmt.Errorf("unknown expression kind %q", x.Kind)
	}

	return e.applySteps(rc, v, x.Steps)
}

func (e *Engine) evalArgs(rc *renderContext, exprs []program.Expr) ([]any, error) {
	if len(exprs) == 0 {
		return nil, nil
	}
	args := make([]any, len(exprs))
	for i := range exprs {
		v, err := e.evalExpr(rc, &exprs[i])
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

// applySteps walks an access chain left to right through the resolver.
func (e *Engine) applySteps(rc *renderContext, v any, steps []program.Step) (any, error) {
	for i := range steps {
		s := &steps[i]
		switch s.Kind {
		case program.StepMember:
			next, err := e.resolver.Resolve(v, s.Name, nil, resolver.Any)
			if err != nil {
				return nil, err
			}
			v = next
		case program.StepKey:
			next, err := e.resolver.Resolve(v, s.Name, nil, resolver.Array)
			if err != nil {
				return nil, err
			}
			v = next
		case program.StepIndex:
			next, err := e.resolver.Resolve(v, strconv.Itoa(s.Index), nil, resolver.Array)
			if err != nil {
				return nil, err
			}
			v = next
		case program.StepMethod:
			args, err := e.evalArgs(rc, s.Args)
			if err != nil {
				return nil, err
			}
			next, err := e.resolver.Resolve(v, s.Name, args, resolver.Method)
			if err != nil {
				return nil, err
			}
			v = next
		default:
			return nil, fmt.Errorf("unknown step kind %q", s.Kind)
		}
	}
	return v, nil
}

// Truthy reports whether a value counts as true in conditionals: nil, false,
// empty strings, zero numbers and empty collections are false.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() > 0
	case reflect.Ptr, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

// Stringify converts a value to its unescaped textual form. Floats that hold
// whole numbers print without a decimal part.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	case fmt.Stringer:
		return t.String()
	}
	return fmt.Sprintf("%v", v)
}

// Escape converts a value for emission into markup. Strings are HTML-escaped
// including both quote styles; numbers and booleans pass through untouched.
func (e *Engine) Escape(v any) string {
	switch t := v.(type) {
	case string:
		return htmlEscape(t)
	case []byte:
		return htmlEscape(string(t))
	}
	return Stringify(v)
}

// htmlEscape replaces &, <, >, " and ' without allocating when the input
// contains none of them.
func htmlEscape(s string) string {
	i := strings.IndexAny(s, "&<>\"'")
	if i < 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	b.WriteString(s[:i])
	for ; i < len(s); i++ {
		switch s[i] {
		case '&':
			b.WriteString("&amp;")
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '"':
			b.WriteString("&quot;")
		case '\'':
			b.WriteString("&#39;")
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
