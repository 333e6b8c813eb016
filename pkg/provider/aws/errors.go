package aws

import (
	"errors"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/openfroyo/converge/pkg/provider"
)

// notFoundCodes are error codes meaning the addressed resource is absent.
var notFoundCodes = map[string]bool{
	"NotFound":                  true,
	"NoSuchBucket":              true,
	"NoSuchKey":                 true,
	"NoSuchEntity":              true,
	"ResourceNotFoundException": true,
}

// existsCodes are error codes meaning a create collided with a resource.
var existsCodes = map[string]bool{
	"BucketAlreadyOwnedByYou": true,
	"EntityAlreadyExists":     true,
	"ResourceInUseException":  true,
}

// classify wraps an SDK error in a *provider.Error. Operation matters for
// codes whose meaning depends on the call.
func classify(service, operation string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return provider.NewError(service, operation, nil, "", err)
	}
	code := apiErr.ErrorCode()

	var kind error
	switch {
	case notFoundCodes[code]:
		kind = provider.ErrNotFound
	case code == "ResourceInUseException" && operation == "DeleteTable":
		kind = provider.ErrConflict
	case existsCodes[code]:
		kind = provider.ErrAlreadyExists
	case code == "ResourceConflictException" && operation == "CreateFunction":
		kind = provider.ErrAlreadyExists
	case code == "ResourceConflictException", code == "DeleteConflict":
		kind = provider.ErrConflict
	case code == "InvalidParameterValueException" && propagating(apiErr.ErrorMessage()):
		kind = provider.ErrPropagating
	}
	return provider.NewError(service, operation, kind, code, err)
}

// propagating matches the messages returned while a new role is not yet
// visible to the function service.
func propagating(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "cannot be assumed") ||
		strings.Contains(msg, "role defined for the function")
}
