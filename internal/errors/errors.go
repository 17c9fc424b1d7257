// Package errors defines the error taxonomy for the velum engine.
//
// Four failure classes cover the whole subsystem: configuration mistakes
// (registering into a sealed engine), missing template sources, compile
// failures, and runtime evaluation failures. All of them implement the
// error interface and are matchable with errors.As.
package errors

import "fmt"

// ConfigurationError reports a registration attempt against an engine whose
// registries have already been initialized.
type ConfigurationError struct {
	Op string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: engine already initialized, registrations are sealed", e.Op)
}

// MissingTemplateError reports that a named template source does not exist.
type MissingTemplateError struct {
	Name string
	Err  error
}

// Error implements the error interface.
func (e *MissingTemplateError) Error() string {
	return fmt.Sprintf("template %q not found", e.Name)
}

// Unwrap returns the underlying loader error, if any.
func (e *MissingTemplateError) Unwrap() error {
	return e.Err
}

// CompileError reports malformed template syntax: an unterminated construct,
// an unknown directive, or bad directive arguments.
type CompileError struct {
	Template string
	Line     int
	Col      int
	Msg      string
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.Template, e.Line, e.Col, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Template, e.Msg)
}

// RuntimeEvaluationError reports a failure while evaluating a compiled
// template against its environment.
type RuntimeEvaluationError struct {
	Template string
	Err      error
}

// Error implements the error interface.
func (e *RuntimeEvaluationError) Error() string {
	return fmt.Sprintf("evaluating template %q: %v", e.Template, e.Err)
}

// Unwrap returns the underlying evaluation error.
func (e *RuntimeEvaluationError) Unwrap() error {
	return e.Err
}
