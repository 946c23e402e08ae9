// Package syncerr defines the error kinds shared by every gamesync component.
// Callers distinguish retryable from fatal failures with errors.Is against the
// sentinels below or with KindOf, never by matching message text.
package syncerr

import (
	"errors"
	"fmt"
)

// Kind tags an Error with its failure class
type Kind int

const (
	// KindUnknown is returned by KindOf for errors that carry no kind
	KindUnknown Kind = iota
	// KindInvalidCredentials means a credential field was missing before any request was made
	KindInvalidCredentials
	// KindAuthFailure means the remote side rejected the credentials (401/403)
	KindAuthFailure
	// KindRateLimitExceeded means rate limiting persisted past the retry budget
	KindRateLimitExceeded
	// KindTransport means the connection failed past the retry budget
	KindTransport
	// KindUnexpectedStatus means the remote side broke the protocol contract
	KindUnexpectedStatus
	// KindEmptyInventory means the inventory response carried no game list at all
	KindEmptyInventory
)

// Sentinel errors, one per kind
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAuthFailure        = errors.New("authentication failed")
	ErrRateLimitExceeded  = errors.New("rate limit exceeded")
	ErrTransport          = errors.New("transport error")
	ErrUnexpectedStatus   = errors.New("unexpected status")
	ErrEmptyInventory     = errors.New("empty inventory")
)

var sentinels = map[Kind]error{
	KindInvalidCredentials: ErrInvalidCredentials,
	KindAuthFailure:        ErrAuthFailure,
	KindRateLimitExceeded:  ErrRateLimitExceeded,
	KindTransport:          ErrTransport,
	KindUnexpectedStatus:   ErrUnexpectedStatus,
	KindEmptyInventory:     ErrEmptyInventory,
}

// String implements fmt.Stringer
func (k Kind) String() string {
	if s, ok := sentinels[k]; ok {
		return s.Error()
	}
	return "unknown"
}

// Retryable reports whether a failure of this kind is transient
func (k Kind) Retryable() bool {
	return k == KindRateLimitExceeded || k == KindTransport
}

// Error is a failure tagged with its Kind
type Error struct {
	Kind     Kind
	Op       string // operation name, e.g. "notion query"
	Status   int    // HTTP status when the failure came from a response
	Body     string // response body for UnexpectedStatus
	Attempts int    // number of requests issued before giving up
	Err      error  // underlying cause, may be nil
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Attempts > 1 {
		msg = fmt.Sprintf("%s after %d attempts", msg, e.Attempts)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements errors.Unwrap
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support against the kind sentinels
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && target == s
}

// New creates an Error of the given kind
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// InvalidCredentials reports a missing or blank credential field
func InvalidCredentials(op, field string) *Error {
	return &Error{Kind: KindInvalidCredentials, Op: op, Err: fmt.Errorf("%s cannot be empty", field)}
}

// UnexpectedStatus reports a non-success response that is not retried
func UnexpectedStatus(op string, status int, body string) *Error {
	return &Error{Kind: KindUnexpectedStatus, Op: op, Status: status, Body: body}
}

// KindOf returns the Kind of the first *Error in err's chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
