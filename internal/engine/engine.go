// Package engine is the orchestrator of the velum template system. An Engine
// owns the directive, function and extension registries, the global
// parameter store, the compiled-artifact store and the attribute resolver,
// and drives the render cycle: load, bind, evaluate, resolve inheritance.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/velumhq/velum/internal/errors"
	"github.com/velumhq/velum/internal/lexer"
	"github.com/velumhq/velum/internal/logging"
	"github.com/velumhq/velum/internal/parser"
	"github.com/velumhq/velum/internal/program"
	"github.com/velumhq/velum/internal/resolver"
	"github.com/velumhq/velum/internal/storage"
	"github.com/velumhq/velum/internal/token"
)

// Directive is a named compiler extension point. Compile receives the
// directive invocation token and returns the program fragment it compiles
// to. A directive that needs its engine embeds BaseDirective and is bound at
// registration time.
type Directive interface {
	Name() string
	Compile(p *parser.Parser, tok token.Token) ([]program.Node, error)
}

// Binder is implemented by directives that want to be bound to their owning
// engine at registration time.
type Binder interface {
	Bind(e *Engine) error
}

// BaseDirective provides engine binding for directive implementations. A
// directive is bound to exactly one engine; registering it with a second
// engine fails.
type BaseDirective struct {
	engine *Engine
}

// Bind attaches the owning engine.
func (b *BaseDirective) Bind(e *Engine) error {
	if b.engine != nil && b.engine != e {
		return fmt.Errorf("directive already bound to another engine")
	}
	b.engine = e
	return nil
}

// Engine returns the engine the directive is bound to.
func (b *BaseDirective) Engine() *Engine {
	return b.engine
}

// Function is a named callable available to template expressions.
type Function func(args ...any) (any, error)

// Extension bundles directives and functions. Initialize runs exactly once,
// lazily, in registration order, the first time the engine's registries are
// consulted.
type Extension interface {
	Name() string
	Initialize(e *Engine) error
}

// Engine compiles and renders templates.
type Engine struct {
	mu          sync.RWMutex
	directives  map[string]Directive
	functions   map[string]Function
	extensions  []Extension
	globals     map[string]any
	initialized bool
	initRunning bool
	initErr     error

	store    *storage.Store
	resolver *resolver.Resolver
	log      logging.Logger
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	loader   storage.Loader
	cacheDir string
	log      logging.Logger
}

// WithLoader sets the template source loader.
func WithLoader(l storage.Loader) Option {
	return func(o *options) { o.loader = l }
}

// WithTemplateDir is shorthand for a filesystem loader rooted at dir.
func WithTemplateDir(dir string) Option {
	return func(o *options) { o.loader = storage.NewFSLoader(dir) }
}

// WithCacheDir enables the on-disk compiled-artifact cache.
func WithCacheDir(dir string) Option {
	return func(o *options) { o.cacheDir = dir }
}

// WithLogger injects a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.log = l }
}

// New creates an engine. The built-in directives (extend, include, if, for,
// set) and the core function extension are pre-registered; callers may add
// their own until the first render or registry lookup seals the registries.
func New(opts ...Option) *Engine {
	o := &options{
		loader: storage.NewMapLoader(),
		log:    logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}

	e := &Engine{
		directives: make(map[string]Directive),
		functions:  make(map[string]Function),
		globals:    make(map[string]any),
		store:      storage.NewStore(o.loader, o.cacheDir),
		resolver:   resolver.New(),
		log:        o.log.WithComponent("engine"),
	}

	for _, d := range builtinDirectives() {
		// Registration of built-ins happens before any lookup, so this
		// cannot fail with a ConfigurationError.
		if err := e.AddDirective(d); err != nil {
			panic(err)
		}
	}
	if err := e.AddExtension(&CoreExtension{}); err != nil {
		panic(err)
	}
	return e
}

// Store exposes the artifact store, mainly for cache invalidation by the
// file watcher.
func (e *Engine) Store() *storage.Store {
	return e.store
}

// AddDirective registers a directive. It fails with a ConfigurationError
// once the registries have been initialized.
func (e *Engine) AddDirective(d Directive) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return &errors.ConfigurationError{Op: "AddDirective"}
	}
	if b, ok := d.(Binder); ok {
		if err := b.Bind(e); err != nil {
			return fmt.Errorf("binding directive %q: %w", d.Name(), err)
		}
	}
	e.directives[d.Name()] = d
	return nil
}

// AddFunction registers a named function. It fails with a
// ConfigurationError once the registries have been initialized.
func (e *Engine) AddFunction(name string, fn Function) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return &errors.ConfigurationError{Op: "AddFunction"}
	}
	e.functions[name] = fn
	return nil
}

// AddExtension registers an extension. It fails with a ConfigurationError
// once the registries have been initialized.
func (e *Engine) AddExtension(x Extension) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return &errors.ConfigurationError{Op: "AddExtension"}
	}
	e.extensions = append(e.extensions, x)
	return nil
}

// AddGlobal stores an engine-wide parameter, merged into every render with
// lower priority than the call-site parameters.
func (e *Engine) AddGlobal(name string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.globals[name] = value
}

// Globals returns a copy of the global parameter store.
func (e *Engine) Globals() map[string]any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]any, len(e.globals))
	for k, v := range e.globals {
		out[k] = v
	}
	return out
}

// Directive looks up a registered directive, triggering lazy initialization
// on first call.
func (e *Engine) Directive(name string) (Directive, bool) {
	if err := e.ensureInit(); err != nil {
		return nil, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, ok := e.directives[name]
	return d, ok
}

// Function looks up a registered function, triggering lazy initialization on
// first call.
func (e *Engine) Function(name string) (Function, bool) {
	if err := e.ensureInit(); err != nil {
		return nil, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn, ok := e.functions[name]
	return fn, ok
}

// Extensions returns the registered extensions, triggering lazy
// initialization on first call.
func (e *Engine) Extensions() []Extension {
	_ = e.ensureInit()
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Extension, len(e.extensions))
	copy(out, e.extensions)
	return out
}

// ensureInit runs each extension's Initialize hook exactly once, in
// registration order, then seals the registries. Extensions may register
// directives and functions from inside Initialize; the sealed flag is only
// raised after the last hook returns.
func (e *Engine) ensureInit() error {
	e.mu.Lock()
	if e.initialized || e.initRunning {
		err := e.initErr
		e.mu.Unlock()
		return err
	}
	e.initRunning = true
	exts := make([]Extension, len(e.extensions))
	copy(exts, e.extensions)
	e.mu.Unlock()

	var initErr error
	for _, x := range exts {
		if err := x.Initialize(e); err != nil {
			initErr = fmt.Errorf("initializing extension %q: %w", x.Name(), err)
			break
		}
	}

	e.mu.Lock()
	e.initRunning = false
	e.initialized = true
	e.initErr = initErr
	e.mu.Unlock()
	return initErr
}

// GetAttribute resolves a named member on a subject. See the resolver
// package for the resolution order per call kind.
func (e *Engine) GetAttribute(subject any, member string, args []any, kind resolver.CallKind) (any, error) {
	return e.resolver.Resolve(subject, member, args, kind)
}

// Render is the primary entry point: it loads (compiling if necessary) the
// named template, binds globals and parameters, evaluates the compiled
// program and resolves template inheritance. The parameters map is never
// mutated.
func (e *Engine) Render(name string, params map[string]any) (string, error) {
	if err := e.ensureInit(); err != nil {
		return "", err
	}

	bound := e.Globals()
	for k, v := range params {
		bound[k] = v
	}
	return e.renderFrame(name, bound, 0)
}

// Precompile loads the named template, compiling and caching it if needed,
// without rendering.
func (e *Engine) Precompile(name string) error {
	if err := e.ensureInit(); err != nil {
		return err
	}
	_, err := e.load(name)
	return err
}

// maxRenderDepth bounds extend and include chains so a cycle fails with an
// error instead of recursing without limit.
const maxRenderDepth = 64

// renderFrame performs one load/bind/evaluate/inherit cycle. Each frame
// works on its own copy of the bound parameters, so recursive frames never
// mutate their caller's environment.
func (e *Engine) renderFrame(name string, bound map[string]any, depth int) (string, error) {
	if depth > maxRenderDepth {
		return "", &errors.RuntimeEvaluationError{
			Template: name,
			Err:      fmt.Errorf("template nesting exceeds %d levels", maxRenderDepth),
		}
	}

	art, err := e.load(name)
	if err != nil {
		return "", err
	}

	env := make(map[string]any, len(bound))
	for k, v := range bound {
		env[k] = v
	}

	rc := &renderContext{name: name, depth: depth, env: env}
	if err := e.evaluate(rc, art.Program.Nodes); err != nil {
		return "", &errors.RuntimeEvaluationError{Template: name, Err: err}
	}

	// Inheritance: the parent slot was set by an extend directive during
	// evaluation and is consumed exactly once here. The child's buffered
	// output only existed to produce that side effect; it is discarded.
	if rc.parentSet {
		e.log.Debug(context.Background(), "template extends parent",
			"template", name, "parent", rc.parent)
		return e.renderFrame(rc.parent, bound, depth+1)
	}
	return rc.out.String(), nil
}

// load resolves a template through the artifact store, compiling with the
// engine's registries when the cache cannot serve it.
func (e *Engine) load(name string) (*storage.Artifact, error) {
	return e.store.Load(name, e.compile)
}

// compile runs the lexer and parser over template source.
func (e *Engine) compile(name string, src []byte) (*program.Program, error) {
	e.log.Debug(context.Background(), "compiling template", "template", name)
	toks, err := lexer.Lex(name, src)
	if err != nil {
		return nil, err
	}
	return parser.Compile(name, toks, func(dn string) (parser.Directive, bool) {
		e.mu.RLock()
		defer e.mu.RUnlock()
		d, ok := e.directives[dn]
		return d, ok
	})
}
