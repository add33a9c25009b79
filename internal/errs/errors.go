// Package errs provides the unified error type used across pgcatalog.
//
// Every subsystem (database, fetch, filestore, snapshot, …) wraps its native
// errors into *errs.Error before returning them to callers. Callers use the
// Is* predicates to react to a failure without importing driver packages.
//
// Usage:
//
//	// In a driver, wrap native errors:
//	return errs.Wrap(errs.ErrKindTimeout, "query timed out", pgErr)
//
//	// In a caller, check the error kind:
//	if errs.IsAmbiguous(err) {
//	    // the requested table matched zero or several relations
//	}
package errs

import (
	"errors"
	"fmt"
)

// ErrKind categorises an error without exposing subsystem-specific codes.
type ErrKind int

const (
	ErrKindUnknown           ErrKind = iota
	ErrKindNotFound                  // no rows, no object, no bucket
	ErrKindConnectionFailed          // cannot reach the backend
	ErrKindTimeout                   // context deadline / cancellation
	ErrKindQueryFailed               // SQL or storage operation error
	ErrKindInvalidInput              // bad arguments from the caller
	ErrKindPermissionDenied          // access denied / auth failure
	ErrKindAmbiguous                 // a single-table request matched 0 or >1 relations
	ErrKindContractViolation         // catalog rows broke an assumption of the fetch passes
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindNotFound:
		return "not_found"
	case ErrKindConnectionFailed:
		return "connection_failed"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindQueryFailed:
		return "query_failed"
	case ErrKindInvalidInput:
		return "invalid_input"
	case ErrKindPermissionDenied:
		return "permission_denied"
	case ErrKindAmbiguous:
		return "ambiguous"
	case ErrKindContractViolation:
		return "contract_violation"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by all pgcatalog subsystems.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error // underlying driver error, kept for logging
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf is New with a formatted message.
func Newf(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// Annotate wraps cause with msg while keeping the kind already carried by
// cause. Errors that are not *Error become ErrKindUnknown.
func Annotate(cause error, msg string) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: KindOf(cause), Message: msg, Cause: cause}
}

// --- Predicates ---

// IsNotFound reports whether err represents a "not found" result.
func IsNotFound(err error) bool {
	return KindOf(err) == ErrKindNotFound
}

// IsTimeout reports whether err was caused by a deadline or context cancellation.
func IsTimeout(err error) bool {
	return KindOf(err) == ErrKindTimeout
}

// IsConnectionFailed reports whether err is a connectivity or auth failure.
func IsConnectionFailed(err error) bool {
	return KindOf(err) == ErrKindConnectionFailed
}

// IsQueryFailed reports whether err is a backend operation failure.
func IsQueryFailed(err error) bool {
	return KindOf(err) == ErrKindQueryFailed
}

// IsInvalidInput reports whether err was caused by bad input from the caller.
func IsInvalidInput(err error) bool {
	return KindOf(err) == ErrKindInvalidInput
}

// IsPermissionDenied reports whether err is an access control failure.
func IsPermissionDenied(err error) bool {
	return KindOf(err) == ErrKindPermissionDenied
}

// IsAmbiguous reports whether err is a failed single-table postcondition.
func IsAmbiguous(err error) bool {
	return KindOf(err) == ErrKindAmbiguous
}

// IsContractViolation reports whether err signals catalog rows the fetch
// passes cannot interpret.
func IsContractViolation(err error) bool {
	return KindOf(err) == ErrKindContractViolation
}

// KindOf extracts the ErrKind of the outermost *Error in the chain.
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}
