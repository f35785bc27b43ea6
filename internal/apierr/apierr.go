// Package apierr models the small closed set of error kinds every public
// operation in the orchestrator can return: validation, conflict, not-found,
// unavailable, and internal. Callers classify with errors.As instead of
// string-matching or exception hierarchies.
package apierr

import (
	"fmt"

	"github.com/example/bgp-orchestrator/internal/rules"
)

// Kind is one of the fixed error categories from the error handling design.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindConflict    Kind = "conflict"
	KindNotFound    Kind = "not_found"
	KindUnavailable Kind = "unavailable"
	KindInternal    Kind = "internal"
)

// Error is the concrete union type. Exactly one of Conflicts is populated,
// and only when Kind == KindConflict.
type Error struct {
	Kind          Kind
	Detail        string
	Conflicts     []rules.Conflict
	CorrelationID string
	Cause         error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Validation builds a 4xx-class validation error.
func Validation(correlationID, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Detail: fmt.Sprintf(format, args...), CorrelationID: correlationID}
}

// Conflict builds a conflict error carrying the full structured conflict list.
func Conflict(correlationID string, conflicts []rules.Conflict) *Error {
	return &Error{
		Kind:          KindConflict,
		Detail:        "one or more conflicts detected",
		Conflicts:     conflicts,
		CorrelationID: correlationID,
	}
}

// NotFound builds a 404-class error.
func NotFound(correlationID, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Detail: fmt.Sprintf(format, args...), CorrelationID: correlationID}
}

// Unavailable builds a 5xx-class error for an essential dependency that is
// down or whose circuit is open. Never use this for enrichment paths —
// those should degrade to "no determination" instead.
func Unavailable(correlationID string, cause error, format string, args ...any) *Error {
	return &Error{Kind: KindUnavailable, Detail: fmt.Sprintf(format, args...), CorrelationID: correlationID, Cause: cause}
}

// Internal wraps an unexpected error for 5xx surfacing with a correlation id.
func Internal(correlationID string, cause error) *Error {
	return &Error{Kind: KindInternal, Detail: "internal error", CorrelationID: correlationID, Cause: cause}
}

// HTTPStatus maps a Kind to the status code the API boundary should return.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return 400
	case KindConflict:
		return 400
	case KindNotFound:
		return 404
	case KindUnavailable:
		return 503
	default:
		return 500
	}
}
