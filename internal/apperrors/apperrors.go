// Package apperrors classifies remote-store and dispatch failures by their
// raw cause. Control flow decisions (rollback, retryability) key off the
// classification, never off message text.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind is the failure classification of an operation.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindPermissionDenied Kind = "permission_denied"
	KindTransient        Kind = "transient"
	KindValidation       Kind = "validation"
	KindUnknown          Kind = "unknown"
)

// Error wraps an underlying cause with its classification and the operation
// that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func NotFound(op string, err error) *Error         { return New(KindNotFound, op, err) }
func PermissionDenied(op string, err error) *Error { return New(KindPermissionDenied, op, err) }
func Transient(op string, err error) *Error        { return New(KindTransient, op, err) }
func Validation(op string, err error) *Error       { return New(KindValidation, op, err) }
func Unknown(op string, err error) *Error          { return New(KindUnknown, op, err) }

// Offline is the failure reported when the connectivity monitor says there is
// no network before a mutation is attempted.
func Offline(op string) *Error {
	return Transient(op, errors.New("device is offline"))
}

// KindOf extracts the classification from err. Unclassified errors are
// KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Retryable reports whether the failed operation may be replayed as-is.
// Transient and unknown failures are retryable; permission denials and
// validation rejections are not.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindUnknown:
		return true
	}
	return false
}

var messages = map[Kind]string{
	KindNotFound:         "The requested record no longer exists.",
	KindPermissionDenied: "You do not have permission to perform this action.",
	KindTransient:        "Connection problem. Check your network and try again.",
	KindUnknown:          "Something went wrong. Please try again.",
}

// Message returns the user-facing description for a classified error.
// Validation failures surface their specific cause; everything else maps to a
// fixed string per kind so raw store errors never reach the UI.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Kind == KindValidation && e.Err != nil {
		return e.Err.Error()
	}
	if msg, ok := messages[KindOf(err)]; ok {
		return msg
	}
	return messages[KindUnknown]
}
