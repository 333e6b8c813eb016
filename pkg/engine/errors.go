package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/openfroyo/converge/pkg/provider"
	"github.com/openfroyo/converge/pkg/waiter"
)

// ErrorClass classifies an engine failure.
type ErrorClass string

const (
	// ErrorClassNotFound reports a missing resource. Descriptors recover
	// from it locally; it only surfaces for lookups such as Reference.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassAlreadyExists reports a create that collided with an
	// existing resource. Descriptors recover from it locally.
	ErrorClassAlreadyExists ErrorClass = "already_exists"

	// ErrorClassTimeout reports a consistency wait that ran out of attempts.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassTransport reports any other provider failure.
	ErrorClassTransport ErrorClass = "transport"

	// ErrorClassInvocation reports a function invocation that returned a
	// status outside 200..299.
	ErrorClassInvocation ErrorClass = "invocation"

	// ErrorClassValidation reports bad input, such as an unknown function.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassDeployment reports a convergence invariant that did not hold.
	ErrorClassDeployment ErrorClass = "deployment"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is the provider error code, if any.
	Code string `json:"code,omitempty"`

	// Kind is the resource kind involved.
	Kind Kind `json:"kind,omitempty"`

	// Resource is the derived name of the resource involved.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	switch {
	case e.Resource != "" && e.Operation != "":
		return fmt.Sprintf("[%s] %s %s (operation=%s): %s", e.Class, e.Kind, e.Resource, e.Operation, msg)
	case e.Resource != "":
		return fmt.Sprintf("[%s] %s %s: %s", e.Class, e.Kind, e.Resource, msg)
	default:
		return fmt.Sprintf("[%s] %s", e.Class, msg)
	}
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches another *EngineError with the same class and code.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && (t.Code == "" || e.Code == t.Code)
}

// NewError creates an error of the given class.
func NewError(class ErrorClass, message string, err error) *EngineError {
	return &EngineError{
		Class:   class,
		Message: message,
		Err:     err,
	}
}

// NewValidationError creates a validation error.
func NewValidationError(message string) *EngineError {
	return NewError(ErrorClassValidation, message, nil)
}

// NewDeploymentError creates a deployment error.
func NewDeploymentError(message string, err error) *EngineError {
	return NewError(ErrorClassDeployment, message, err)
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(kind Kind, name string) *EngineError {
	e.Kind = kind
	e.Resource = name
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Classify maps err onto an error class. Engine errors keep their class;
// provider and waiter sentinels are translated; everything else is a
// transport failure.
func Classify(err error) ErrorClass {
	var e *EngineError
	switch {
	case errors.As(err, &e):
		return e.Class
	case errors.Is(err, waiter.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorClassTimeout
	case provider.IsNotFound(err):
		return ErrorClassNotFound
	case provider.IsAlreadyExists(err):
		return ErrorClassAlreadyExists
	default:
		return ErrorClassTransport
	}
}

// wrap classifies err and attaches the failing step's identity. Errors
// that already carry an identity are returned unchanged.
func wrap(kind Kind, name, operation string, err error) error {
	if err == nil {
		return nil
	}
	var e *EngineError
	if errors.As(err, &e) && e.Resource != "" {
		return err
	}

	wrapped := &EngineError{
		Class:     Classify(err),
		Message:   operation + " failed",
		Kind:      kind,
		Resource:  name,
		Operation: operation,
		Err:       err,
	}
	if e != nil {
		wrapped.Class = e.Class
		wrapped.Code = e.Code
	}
	var pe *provider.Error
	if errors.As(err, &pe) {
		wrapped.Code = pe.Code
	}
	return wrapped
}

// IsNotFound reports whether err is classified as not found.
func IsNotFound(err error) bool { return Classify(err) == ErrorClassNotFound }

// IsTimeout reports whether err is classified as a timeout.
func IsTimeout(err error) bool { return Classify(err) == ErrorClassTimeout }

// IsInvocationFailure reports whether err is a failed invocation.
func IsInvocationFailure(err error) bool { return Classify(err) == ErrorClassInvocation }

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool { return Classify(err) == ErrorClassValidation }

// IsDeployment reports whether err is a violated convergence invariant.
func IsDeployment(err error) bool { return Classify(err) == ErrorClassDeployment }
