// Package stack contains pure functions for parsing deployment stack
// specifications. This is part of the Functional Core - all functions are
// pure with no I/O.
package stack

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Input validation errors
	ErrEmptyInput = errors.New("stack spec is empty")

	// YAML parsing errors
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// Structure errors
	ErrNoServices   = errors.New("stack spec must define at least one service")
	ErrInvalidStack = errors.New("invalid stack spec")

	// Service validation errors
	ErrServiceNoImage     = errors.New("service must have image or build")
	ErrServiceInvalidPort = errors.New("invalid port configuration")
	ErrCircularDependency = errors.New("circular dependency detected")
	ErrUnknownDependency  = errors.New("depends_on references unknown service")

	// Reference validation errors
	ErrUnknownSecret  = errors.New("reference to undeclared secret")
	ErrUnknownNetwork = errors.New("reference to undeclared network")
	ErrUnknownVolume  = errors.New("reference to undeclared volume")

	// Variable interpolation errors
	ErrMissingVariable = errors.New("unset variable without default")

	// Health check errors
	ErrInvalidHealthCheck = errors.New("invalid health check")

	// Unsupported feature errors
	ErrUnsupportedFeature = errors.New("unsupported stack feature")
)

// ParseError wraps errors with context about where parsing failed.
type ParseError struct {
	Field   string // e.g., "services.web.ports[0]"
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError creates a new ParseError.
func NewParseError(field, message string, err error) *ParseError {
	return &ParseError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}
