package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Classifier reports whether err should be retried.
type Classifier func(err error) bool

// DefaultClassifier retries every error except context cancellation,
// errors marked Permanent, and StatusErrors carrying a client status.
func DefaultClassifier(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return IsRetryableStatus(se.Code)
	}
	return true
}

// Matching retries only errors that match one of targets via errors.Is.
// Permanent errors are never retried.
func Matching(targets ...error) Classifier {
	return func(err error) bool {
		var perm *permanentError
		if errors.As(err, &perm) {
			return false
		}
		for _, target := range targets {
			if errors.Is(err, target) {
				return true
			}
		}
		return false
	}
}

// Permanent marks err as non-retryable. Do returns the inner error, not
// the marker.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func unwrapPermanent(err error) error {
	if perm, ok := err.(*permanentError); ok {
		return perm.err
	}
	return err
}

// StatusError is a failure carrying an HTTP status, such as a page
// navigation that returned a non-2xx document.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d for %s", e.Code, e.URL)
}

// IsRetryableStatus reports whether an HTTP status indicates a transient
// condition. Rate limiting and server errors are retryable; authorization
// and malformed-request errors are not.
func IsRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusRequestTimeout:
		return true
	case http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusUnprocessableEntity:
		return false
	default:
		return code >= 500 && code < 600
	}
}
