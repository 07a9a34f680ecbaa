package types

import (
	"errors"
	"fmt"
)

// ErrorKind is the machine-readable error taxonomy surfaced to clients and
// used for retry decisions inside the workers.
type ErrorKind string

const (
	KindValidation       ErrorKind = "validation"        // malformed input
	KindNotFound         ErrorKind = "not_found"         // order or resource missing
	KindVenueTransient   ErrorKind = "venue_transient"   // retryable venue error
	KindVenuePermanent   ErrorKind = "venue_permanent"   // venue refused terminally
	KindNoQuotes         ErrorKind = "no_quotes"         // no venue produced a valid quote
	KindDeadlineExceeded ErrorKind = "deadline_exceeded" // collection timed out short of minimum
	KindSwapRejected     ErrorKind = "swap_rejected"     // swap exhausted retries
	KindCancelled        ErrorKind = "cancelled"         // client cancelled before dispatch
	KindInternal         ErrorKind = "internal"          // invariant violated
)

// Error carries an ErrorKind alongside a human-readable message and an
// optional wrapped cause. It supports errors.Is on kind via sentinel matching
// and errors.As for direct inspection.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError creates a tagged error with no cause.
func NewError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// WrapError tags an underlying error with a kind and message.
func WrapError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf extracts the ErrorKind from err, unwrapping as needed.
// Untagged errors report KindInternal.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindInternal
}

// Retryable reports whether the error should consume a retry attempt rather
// than fail the job outright.
func Retryable(err error) bool {
	return KindOf(err) == KindVenueTransient
}
