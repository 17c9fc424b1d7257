// Package resolver implements dynamic attribute resolution: looking up a
// named member on a mapping, sequence, struct or method-bearing value at
// render time. A per-type cache of callable member names avoids repeated
// reflection over the same types across renders.
package resolver

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
)

// CallKind selects which resolution semantics apply.
type CallKind int

const (
	// Array resolves only mapping/sequence keys; a miss yields nil.
	Array CallKind = iota
	// Method resolves only callable members.
	Method
	// Any tries array semantics first, then fields, then callables.
	Any
)

// Caller is the generic fallback-call capability. When a subject has no
// matching field or method but implements Caller, resolution invokes it as a
// last resort; a failure from this path is swallowed and treated as
// "no value", unlike a failure from a confirmed method, which is re-raised.
type Caller interface {
	CallMember(name string, args []any) (any, error)
}

// Resolver performs attribute resolution with a per-type method-name cache.
// The zero value is not usable; construct with New. A single Resolver is safe
// for concurrent use: the cache publishes each type's immutable member set
// exactly once, so racing first lookups rebuild identical data.
type Resolver struct {
	methods sync.Map // reflect.Type -> map[string]string (lowercased -> exported name)
}

// New creates an empty resolver.
func New() *Resolver {
	return &Resolver{}
}

// Resolve looks up member on subject according to kind. Absence of a value is
// not an error: the result is (nil, nil). Errors are returned only for
// failures raised by a confirmed member invocation.
func (r *Resolver) Resolve(subject any, member string, args []any, kind CallKind) (any, error) {
	if subject == nil {
		return nil, nil
	}

	if kind == Array || kind == Any {
		if v, ok := lookupElement(subject, member); ok {
			return v, nil
		}
		if kind == Array {
			return nil, nil
		}
	}

	if kind == Any {
		if v, ok := lookupField(subject, member); ok {
			return v, nil
		}
	}

	return r.callMember(subject, member, args)
}

// lookupElement applies mapping/sequence semantics: map key or numeric index.
func lookupElement(subject any, member string) (any, bool) {
	if m, ok := subject.(map[string]any); ok {
		v, ok := m[member]
		return v, ok
	}

	rv := reflect.ValueOf(subject)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		mv := rv.MapIndex(reflect.ValueOf(member))
		if !mv.IsValid() {
			return nil, false
		}
		return mv.Interface(), true
	case reflect.Slice, reflect.Array:
		idx, err := strconv.Atoi(member)
		if err != nil || idx < 0 || idx >= rv.Len() {
			return nil, false
		}
		return rv.Index(idx).Interface(), true
	}
	return nil, false
}

// lookupField applies struct-field semantics, dereferencing pointers.
func lookupField(subject any, member string) (any, bool) {
	rv := reflect.ValueOf(subject)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, false
	}
	fv := rv.FieldByNameFunc(func(n string) bool {
		return n == member || strings.EqualFold(n, member)
	})
	if !fv.IsValid() || !fv.CanInterface() {
		return nil, false
	}
	return fv.Interface(), true
}

// callMember attempts member, then Get<member>, then Is<member>, matched
// case-insensitively against the subject's cached callable set. When none
// exist, the generic Caller fallback is tried and its failure swallowed.
func (r *Resolver) callMember(subject any, member string, args []any) (any, error) {
	rv := reflect.ValueOf(subject)
	if !rv.IsValid() {
		return nil, nil
	}
	names := r.methodNames(rv.Type())
	lower := strings.ToLower(member)

	for _, candidate := range []string{lower, "get" + lower, "is" + lower} {
		if exported, ok := names[candidate]; ok {
			return invoke(rv.MethodByName(exported), args)
		}
	}

	if c, ok := subject.(Caller); ok {
		v, err := c.CallMember(member, args)
		if err != nil {
			// Fallback-path failures mean "no value", not an error.
			return nil, nil
		}
		return v, nil
	}
	return nil, nil
}

// methodNames returns the lowercased callable-name set for a type, building
// it once per type and publishing the finished map atomically.
func (r *Resolver) methodNames(t reflect.Type) map[string]string {
	if cached, ok := r.methods.Load(t); ok {
		return cached.(map[string]string)
	}
	names := make(map[string]string, t.NumMethod())
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		names[strings.ToLower(m.Name)] = m.Name
	}
	actual, _ := r.methods.LoadOrStore(t, names)
	return actual.(map[string]string)
}

// invoke calls a confirmed method. Errors raised here belong to the caller:
// they are returned unchanged rather than swallowed.
func invoke(m reflect.Value, args []any) (any, error) {
	mt := m.Type()
	wantIn := mt.NumIn()
	if mt.IsVariadic() {
		if len(args) < wantIn-1 {
			return nil, fmt.Errorf("method takes at least %d arguments, got %d", wantIn-1, len(args))
		}
	} else if len(args) != wantIn {
		return nil, fmt.Errorf("method takes %d arguments, got %d", wantIn, len(args))
	}

	in := make([]reflect.Value, len(args))
	for i, a := range args {
		var pt reflect.Type
		if mt.IsVariadic() && i >= wantIn-1 {
			pt = mt.In(wantIn - 1).Elem()
		} else {
			pt = mt.In(i)
		}
		av := reflect.ValueOf(a)
		if a == nil {
			av = reflect.Zero(pt)
		} else if !av.Type().AssignableTo(pt) {
			if av.Type().ConvertibleTo(pt) {
				av = av.Convert(pt)
			} else {
				return nil, fmt.Errorf("argument %d: %s is not assignable to %s", i, av.Type(), pt)
			}
		}
		in[i] = av
	}

	out := m.Call(in)
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if err, ok := out[0].Interface().(error); ok {
			return nil, err
		}
		return out[0].Interface(), nil
	default:
		if err, ok := out[len(out)-1].Interface().(error); ok && err != nil {
			return nil, err
		}
		return out[0].Interface(), nil
	}
}
