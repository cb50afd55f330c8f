package grid

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this package matches exactly one of
// them with errors.Is.
var (
	// ErrConfiguration is a programmer mistake: no primary column, a mass
	// action registered after the source, a handler of the wrong shape
	ErrConfiguration = errors.New("grid configuration error")

	// ErrNotFound is returned for unknown column ids, undefined mass actions
	// and delete targets missing from the store
	ErrNotFound = errors.New("not found")

	// ErrInvalidData is returned for page numbers, limits and order values
	// that cannot be used, and for store results of the wrong shape
	ErrInvalidData = errors.New("invalid data")
)

// Error carries the kind, the failing operation and the cause
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinel in addition to the wrapped chain
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// NewError creates an Error of the given kind
func NewError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func errorf(kind error, op, format string, args ...interface{}) *Error {
	return NewError(kind, op, fmt.Errorf(format, args...))
}
