// Package apperr defines EXSA Engine's error taxonomy: a closed set of
// kinds, each with an HTTP status mapping and a safe, user-visible
// message. Every error that crosses the HTTP boundary or terminates a
// streaming job is an [Error].
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the error categories the core distinguishes. Kinds are
// used both for HTTP status mapping and for the terminal Done reason on
// a streaming job.
type Kind string

const (
	KindValidation      Kind = "validation_error"
	KindInvalidModelPath Kind = "invalid_model_path"
	KindModelLoadError  Kind = "model_load_error"
	KindModelNotReady   Kind = "model_not_ready"
	KindBusy            Kind = "busy"
	KindQueueFull       Kind = "queue_full"
	KindRateLimited     Kind = "rate_limited"
	KindContextOverflow Kind = "context_overflow"
	KindTokenizeError   Kind = "tokenize_error"
	KindBackendError    Kind = "backend_error"
	KindClientCancelled Kind = "client_cancelled"
	KindShuttingDown    Kind = "shutting_down"
	KindNotImplemented  Kind = "not_implemented"
	KindNotFound        Kind = "not_found"
)

// statusByKind is the HTTP status mapping from spec.md §7.
var statusByKind = map[Kind]int{
	KindValidation:       http.StatusBadRequest,
	KindInvalidModelPath: http.StatusBadRequest,
	KindModelLoadError:   http.StatusInternalServerError,
	KindModelNotReady:    http.StatusServiceUnavailable,
	KindBusy:             http.StatusConflict,
	KindQueueFull:        http.StatusServiceUnavailable,
	KindRateLimited:      http.StatusTooManyRequests,
	KindContextOverflow:  http.StatusBadRequest,
	KindTokenizeError:    http.StatusBadRequest,
	KindBackendError:     http.StatusInternalServerError,
	KindClientCancelled:  0, // stream ends silently; never surfaced as an HTTP status
	KindShuttingDown:     http.StatusServiceUnavailable,
	KindNotImplemented:   http.StatusNotImplemented,
	KindNotFound:         http.StatusNotFound,
}

// Error is the single error type that crosses package boundaries in the
// core. It carries a [Kind] for programmatic handling, a safe message for
// clients, an optional field name (for validation errors), and an
// optional wrapped cause for logging (never rendered to clients).
type Error struct {
	Kind    Kind
	Field   string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Status returns the HTTP status code associated with e.Kind.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New constructs an [Error] of the given kind with a plain message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Field constructs a [KindValidation] error naming the offending field.
func Field(field, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

// Wrap constructs an [Error] of the given kind wrapping cause. The cause's
// text is never exposed in [Error.Error]'s safe message unless message is
// itself derived from it by the caller.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// As extracts an *Error from err, if present.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// StatusFor returns the HTTP status for err: the mapped status if err (or
// something it wraps) is an *Error, otherwise 500.
func StatusFor(err error) int {
	if e, ok := As(err); ok {
		return e.Status()
	}
	return http.StatusInternalServerError
}
