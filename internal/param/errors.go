package param

import (
	"errors"
	"fmt"
)

// Binding failures. A *ValidationError wraps exactly one of these.
var (
	ErrUnknownParameter = errors.New("unknown parameter")
	ErrMissing          = errors.New("missing required parameter")
	ErrNull             = errors.New("value must not be null")
	ErrEmpty            = errors.New("value must not be empty")
	ErrPattern          = errors.New("value does not match pattern")
	ErrInterval         = errors.New("value outside interval")
	ErrValueSet         = errors.New("value not in value set")
	ErrConversion       = errors.New("value conversion failed")
	ErrValidator        = errors.New("validation failed")
)

// ValidationError reports a bad or missing value supplied at bind time.
type ValidationError struct {
	Param string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("parameter %q: %v", e.Param, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ConstructionError reports a mistake in a field declaration. It is raised
// while building descriptors and is never a user input problem.
type ConstructionError struct {
	Field string
	Step  string
	Err   error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("parameter %q: %s: %v", e.Field, e.Step, e.Err)
}

func (e *ConstructionError) Unwrap() error { return e.Err }

func invalid(name string, sentinel error, format string, args ...any) *ValidationError {
	if format == "" {
		return &ValidationError{Param: name, Err: sentinel}
	}
	return &ValidationError{Param: name, Err: fmt.Errorf("%w: "+format, append([]any{sentinel}, args...)...)}
}

// Reason maps a binding error to a short label for metrics.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrUnknownParameter):
		return "unknown"
	case errors.Is(err, ErrMissing):
		return "missing"
	case errors.Is(err, ErrNull):
		return "null"
	case errors.Is(err, ErrEmpty):
		return "empty"
	case errors.Is(err, ErrPattern):
		return "pattern"
	case errors.Is(err, ErrInterval):
		return "interval"
	case errors.Is(err, ErrValueSet):
		return "value_set"
	case errors.Is(err, ErrConversion):
		return "conversion"
	case errors.Is(err, ErrValidator):
		return "validator"
	}
	return "other"
}
