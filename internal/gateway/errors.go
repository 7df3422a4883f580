package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrUnavailable marks a failure to reach the remote at all.
var ErrUnavailable = errors.New("remote unavailable")

// Error is a classified gateway failure.
type Error struct {
	Op         string
	StatusCode int // 0 for transport failures
	Retryable  bool
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op + ": failed"
}

func (e *Error) Unwrap() error { return e.Err }

// Classify reports whether an HTTP status is worth retrying: 5xx, 408 and
// 429 are transient, every other 4xx is a permanent rejection.
func Classify(status int) bool {
	switch {
	case status >= 500:
		return true
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return true
	}
	return false
}

// IsRetryable reports whether err is transient. Cancellation is not: the
// caller gave up, the remote did not fail.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Retryable
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr)
}

// IsNotFound reports whether the remote answered 404.
func IsNotFound(err error) bool {
	var gerr *Error
	return errors.As(err, &gerr) && gerr.StatusCode == http.StatusNotFound
}

// StatusError builds the error for a non-2xx response.
func StatusError(op string, status int, message string) *Error {
	return &Error{Op: op, StatusCode: status, Retryable: Classify(status), Message: message}
}

// TransportError wraps a failure to complete the round trip.
func TransportError(op string, err error) *Error {
	return &Error{Op: op, Retryable: !errors.Is(err, context.Canceled), Err: err}
}
