package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a business error so transports can map it to a status code.
type ErrorKind string

const (
	KindNotFound   ErrorKind = "not_found"
	KindForbidden  ErrorKind = "forbidden"
	KindBadRequest ErrorKind = "bad_request"
	KindConflict   ErrorKind = "conflict"
)

// DomainError is the error type returned for every expected business failure.
type DomainError struct {
	Kind    ErrorKind
	Message string
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	return e.Message
}

// NewNotFoundError reports that the entity with the given identifier does not exist.
func NewNotFoundError(entity, id string) *DomainError {
	return &DomainError{Kind: KindNotFound, Message: fmt.Sprintf("%s with ID %s not found", entity, id)}
}

// NewForbiddenError reports that the actor lacks the role or ownership for an action.
func NewForbiddenError(message string) *DomainError {
	return &DomainError{Kind: KindForbidden, Message: message}
}

// NewValidationError reports invalid input.
func NewValidationError(message string) *DomainError {
	return &DomainError{Kind: KindBadRequest, Message: message}
}

// NewBadRequestError carries a reason string unchanged to the caller.
func NewBadRequestError(reason string) *DomainError {
	return &DomainError{Kind: KindBadRequest, Message: reason}
}

// NewInvalidStateError reports an illegal status transition.
func NewInvalidStateError(from, to string) *DomainError {
	return &DomainError{Kind: KindBadRequest, Message: fmt.Sprintf("Cannot transition from %s to %s", from, to)}
}

// NewConflictError reports a uniqueness or concurrent-modification failure.
func NewConflictError(message string) *DomainError {
	return &DomainError{Kind: KindConflict, Message: message}
}

// KindOf returns the kind of the first DomainError in err's chain, or "" if there is none.
func KindOf(err error) ErrorKind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsNotFound reports whether err is a NotFound domain error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsConflict reports whether err is a Conflict domain error.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }
