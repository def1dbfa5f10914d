package scraper

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/aluiziolira/go-build-finder/session"
)

// ErrorKind labels a fetch failure for retry decisions and metrics.
type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"
	KindConnection  ErrorKind = "connection"
	KindForbidden   ErrorKind = "forbidden"
	KindNotFound    ErrorKind = "not_found" // never retried
	KindRateLimited ErrorKind = "rate_limited"
)

// FetchError is a listing fetch failure with a known kind.
type FetchError struct {
	Kind ErrorKind
	Err  error
}

func (e *FetchError) Error() string {
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *FetchError) Unwrap() error { return e.Err }

// ErrorType returns the metrics label for err: one of the ErrorKind values,
// "canceled", "other", or "unknown" for a nil error.
func ErrorType(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return string(fe.Kind)
	}
	return "other"
}

// classifyError wraps a session error in a FetchError when its kind can be
// told. Errors that already carry a kind are returned unchanged.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return err
	}
	if kind, ok := kindOf(err); ok {
		return &FetchError{Kind: kind, Err: err}
	}
	return err
}

func kindOf(err error) (ErrorKind, bool) {
	if errors.Is(err, session.ErrNotReady) || errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout, true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindConnection, true
	}
	var statusErr *session.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusForbidden:
			return KindForbidden, true
		case http.StatusNotFound:
			return KindNotFound, true
		case http.StatusTooManyRequests:
			return KindRateLimited, true
		}
	}
	return "", false
}

func retryable(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) && fe.Kind == KindNotFound {
		return false
	}
	return !errors.Is(err, context.Canceled)
}
