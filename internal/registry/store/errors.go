package store

import (
	"errors"
	"fmt"
)

// NotFoundError indicates the resource was not found.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ValidationError indicates a client-side validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

// CodeUniqueViolation marks a ConflictError raised by a uniqueness constraint.
const CodeUniqueViolation = "unique_violation"

// ConflictError indicates a uniqueness/conflict violation. Lost races surface
// as a ConflictError with Code CodeUniqueViolation and are recovered by the
// caller; they are not meant to reach API clients.
type ConflictError struct {
	Message string
	Code    string
	Details map[string]interface{}
}

func (e *ConflictError) Error() string {
	return e.Message
}

// ForbiddenError indicates insufficient access.
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string {
	if e.Reason != "" {
		return "forbidden: " + e.Reason
	}
	return "forbidden"
}

// IntegrityError describes stored state that breaks a data-model invariant.
// It is logged and counted, never returned to API clients.
type IntegrityError struct {
	Kind    string
	Message string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation (%s): %s", e.Kind, e.Message)
}

// IsUniqueViolation reports whether err is a lost insert race.
func IsUniqueViolation(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict) && conflict.Code == CodeUniqueViolation
}

// IsNotFound reports whether err is a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
