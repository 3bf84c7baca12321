package domain

import "errors"

// Kind classifies an operation failure. Every error surfaced by the ledger
// core carries exactly one kind; transports map kinds to status codes.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindForbidden         Kind = "forbidden"
	KindInvalidState      Kind = "invalid_state"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindConflict          Kind = "conflict" // optimistic-version clash, retryable
	KindFailure           Kind = "failure"  // unexpected, terminal
)

// Error is the result value used instead of exception-style control flow.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.cause }

func NotFound(msg string) error          { return &Error{Kind: KindNotFound, Message: msg} }
func Forbidden(msg string) error         { return &Error{Kind: KindForbidden, Message: msg} }
func InvalidState(msg string) error      { return &Error{Kind: KindInvalidState, Message: msg} }
func InsufficientFunds(msg string) error { return &Error{Kind: KindInsufficientFunds, Message: msg} }
func Conflict(msg string) error          { return &Error{Kind: KindConflict, Message: msg} }

// Failure wraps an unexpected error behind a generic message so internal
// detail never leaks to callers.
func Failure(msg string, cause error) error {
	return &Error{Kind: KindFailure, Message: msg, cause: cause}
}

// KindOf extracts the kind of err, or KindFailure for unclassified errors.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindFailure
}

// IsConflict reports whether err is a retryable optimistic-concurrency clash.
func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}
