package tts

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies a provider failure.
type ErrorKind int

const (
	// KindNotConfigured means credentials or an endpoint are missing. No
	// network I/O was attempted.
	KindNotConfigured ErrorKind = iota + 1

	// KindUnavailable means a health check or connection failed.
	KindUnavailable

	// KindTimeout means the call exceeded its deadline.
	KindTimeout

	// KindRemoteRejected means the backend answered with a 4xx/5xx or a
	// failed job status.
	KindRemoteRejected

	// KindEmptyResult means the backend answered successfully without audio.
	KindEmptyResult
)

// String returns the snake_case name of the kind, used in logs and metrics.
func (k ErrorKind) String() string {
	switch k {
	case KindNotConfigured:
		return "not_configured"
	case KindUnavailable:
		return "unavailable"
	case KindTimeout:
		return "timeout"
	case KindRemoteRejected:
		return "remote_rejected"
	case KindEmptyResult:
		return "empty_result"
	default:
		return "unknown"
	}
}

// Sentinel errors for use with [errors.Is]. Any *Error matches the sentinel
// of the same kind regardless of provider or message.
var (
	ErrNotConfigured  = &Error{Kind: KindNotConfigured}
	ErrUnavailable    = &Error{Kind: KindUnavailable}
	ErrTimeout        = &Error{Kind: KindTimeout}
	ErrRemoteRejected = &Error{Kind: KindRemoteRejected}
	ErrEmptyResult    = &Error{Kind: KindEmptyResult}
)

// Error is the typed failure returned by every provider.
type Error struct {
	Provider string
	Kind     ErrorKind

	// Status is the HTTP status code for KindRemoteRejected, if any.
	Status int

	// Message is the backend's explanation, if it sent one.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements error.
func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Provider == "" && t.Status == 0 && t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// NewError builds an *Error for provider with the given kind and cause.
func NewError(provider string, kind ErrorKind, err error) *Error {
	return &Error{Provider: provider, Kind: kind, Err: err}
}

// NotConfigured builds a KindNotConfigured error with a message.
func NotConfigured(provider, message string) *Error {
	return &Error{Provider: provider, Kind: KindNotConfigured, Message: message}
}

// Rejected builds a KindRemoteRejected error.
func Rejected(provider string, status int, message string) *Error {
	return &Error{Provider: provider, Kind: KindRemoteRejected, Status: status, Message: message}
}

// Empty builds a KindEmptyResult error.
func Empty(provider string) *Error {
	return &Error{Provider: provider, Kind: KindEmptyResult}
}

// KindOf returns the kind of err if it is (or wraps) an *Error.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsTransient reports whether retrying the same provider may succeed.
func IsTransient(err error) bool {
	k, ok := KindOf(err)
	return ok && (k == KindTimeout || k == KindUnavailable)
}

// Classify converts a transport-level error into an *Error. Deadline and
// timeout errors become KindTimeout; everything else that prevented a
// response (refused connections, DNS failures, resets) becomes
// KindUnavailable. Errors that are already *Error are returned unchanged.
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(provider, KindTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(provider, KindTimeout, err)
	}
	return NewError(provider, KindUnavailable, err)
}
