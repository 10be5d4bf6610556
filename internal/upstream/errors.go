package upstream

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated: no session cookie for the upstream site. Sign in and retry.
	ErrUnauthenticated = errors.New("not signed in to upstream")
	// ErrSessionExpired: the site answered 401/403 or bounced to its login page.
	ErrSessionExpired = errors.New("upstream session expired")
	// ErrTokenRejected: the site answered 400; the cached token was dropped and the next
	// call fetches a fresh one.
	ErrTokenRejected = errors.New("upstream rejected anti-forgery token")
	// ErrGeneric: any other failure.
	ErrGeneric = errors.New("upstream request failed")
)

// FetchError carries the failing operation and HTTP status alongside one of the sentinel kinds.
type FetchError struct {
	Kind   error
	Op     string // "token", "levels", "trades"
	Status int    // 0 when no response was received
	Err    error  // underlying cause, may be nil
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Is(target error) bool { return target == e.Kind }

func (e *FetchError) Unwrap() error { return e.Err }

func fetchErr(kind error, op string, status int, err error) error {
	return &FetchError{Kind: kind, Op: op, Status: status, Err: err}
}

// outcome maps an error to a short metrics label.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, ErrTokenRejected):
		return "token_rejected"
	}
	return "error"
}
