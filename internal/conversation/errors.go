// ABOUTME: Error taxonomy for sessions: construction, subscription, operation, cancellation, load.
// ABOUTME: Errors wrap their cause and work with errors.Is and errors.As.

package conversation

import (
	"errors"
	"fmt"
)

// ErrInvalidTransport is returned when a session is built without a transport.
var ErrInvalidTransport = errors.New("transport is required")

// ErrInvalidListener is returned when Subscribe is called with a nil listener.
var ErrInvalidListener = errors.New("listener is required")

// ErrCancelled is recorded as the session error when Cancel stops a send.
var ErrCancelled = errors.New("cancelled by user")

// ErrorKind classifies session errors.
type ErrorKind string

const (
	KindConstruction ErrorKind = "construction"
	KindSubscription ErrorKind = "subscription"
	KindOperation    ErrorKind = "operation"
	KindCancellation ErrorKind = "cancellation"
	KindLoad         ErrorKind = "load"
)

// Error is a classified session error.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
