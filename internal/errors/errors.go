// Package errors provides the structured error type used across routeperf.
// Errors carry a category so the CLI and HTTP layers can decide how to
// present them without string matching.
package errors

import (
	stdErrors "errors"
	"fmt"
)

// Category classifies a PerfError.
type Category string

const (
	// CategoryConfig covers missing or invalid settings.
	CategoryConfig Category = "config"
	// CategoryValidation covers bad user input (flags, request bodies).
	CategoryValidation Category = "validation"
	// CategoryPersistence covers database reads, writes and DDL.
	CategoryPersistence Category = "persistence"
	// CategoryDependency marks an optional dependency that is unavailable.
	// Callers normally degrade to a fallback instead of failing.
	CategoryDependency Category = "dependency"
	CategoryInternal   Category = "internal"
)

// ErrNotFound is returned where a lookup has no sensible nil result.
var ErrNotFound = stdErrors.New("not found")

// ContextFields carries structured context for a PerfError.
type ContextFields map[string]any

// PerfError is a categorized error with optional cause and context.
type PerfError struct {
	Category Category      `json:"category"`
	Message  string        `json:"message"`
	Cause    error         `json:"cause,omitempty"`
	Context  ContextFields `json:"context,omitempty"`
}

func (e *PerfError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *PerfError) Unwrap() error {
	return e.Cause
}

// WithContext adds a context value and returns the same error.
func (e *PerfError) WithContext(key string, value any) *PerfError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// New creates a PerfError without a cause.
func New(category Category, message string) *PerfError {
	return &PerfError{Category: category, Message: message}
}

// Newf is New with fmt formatting.
func Newf(category Category, format string, args ...any) *PerfError {
	return &PerfError{Category: category, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a PerfError that wraps err. A nil err yields nil.
func Wrap(err error, category Category, message string) error {
	if err == nil {
		return nil
	}
	return &PerfError{Category: category, Message: message, Cause: err}
}

// IsCategory reports whether any PerfError in err's chain has the category.
func IsCategory(err error, category Category) bool {
	var pe *PerfError
	if stdErrors.As(err, &pe) {
		return pe.Category == category
	}
	return false
}

// GetCategory returns the category of the outermost PerfError in err's
// chain, or CategoryInternal.
func GetCategory(err error) Category {
	var pe *PerfError
	if stdErrors.As(err, &pe) {
		return pe.Category
	}
	return CategoryInternal
}

// ExitCode maps an error to a process exit code. Commands only ever
// distinguish success from failure.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}
