package provider

import (
	"errors"
	"fmt"
)

// Classification sentinels. Implementations wrap provider failures in an
// *Error whose Kind is one of these so callers can use errors.Is.
var (
	// ErrNotFound reports that the addressed resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists reports that a create collided with an existing resource.
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrPropagating reports that a dependency exists but is not yet usable
	// because the provider has not finished propagating it.
	ErrPropagating = errors.New("dependency not yet propagated")

	// ErrConflict reports that another update on the resource is still in progress.
	ErrConflict = errors.New("resource update in progress")
)

// Error is a classified provider failure.
type Error struct {
	// Service is the provider service that failed (e.g., "s3", "lambda").
	Service string

	// Operation is the API operation that failed.
	Operation string

	// Kind is one of the classification sentinels, or nil when unclassified.
	Kind error

	// Code is the provider's own error code, if any.
	Code string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Service, e.Operation, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Service, e.Operation, e.Err)
}

// Unwrap exposes both the classification and the underlying error.
func (e *Error) Unwrap() []error {
	if e.Kind == nil {
		return []error{e.Err}
	}
	return []error{e.Kind, e.Err}
}

// NewError builds a classified error.
func NewError(service, operation string, kind error, code string, err error) *Error {
	if err == nil {
		err = kind
	}
	return &Error{
		Service:   service,
		Operation: operation,
		Kind:      kind,
		Code:      code,
		Err:       err,
	}
}

// IsNotFound reports whether err is classified as not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists reports whether err is classified as already existing.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsPropagating reports whether err is caused by a dependency that is not
// yet visible to the provider.
func IsPropagating(err error) bool {
	return errors.Is(err, ErrPropagating)
}

// IsConflict reports whether err is caused by a concurrent update.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
