// Package apperr defines the error kinds surfaced by the transcription
// pipeline and how they map onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	InvalidArgument   Kind = "invalid_argument"
	UnsupportedFormat Kind = "unsupported_format"
	SourceUnavailable Kind = "source_unavailable"
	DecodeFailure     Kind = "decode_failure"
	EngineBusy        Kind = "engine_busy"
	InferenceFailure  Kind = "inference_failure"
	NotFound          Kind = "not_found"
	Internal          Kind = "internal"
)

// Error carries a Kind, a message that is safe to show to clients, and the
// underlying cause which is only meant for server-side logs.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Public returns the client-facing message without the wrapped cause.
func (e *Error) Public() string { return e.Msg }

// New creates an Error without a cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error around err. A nil err yields nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// PublicMessage returns the sanitized message for err. Errors that are not
// classified never leak their text.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != Internal {
		return e.Public()
	}
	return "internal server error"
}

// Status maps a Kind to an HTTP status code.
func Status(kind Kind) int {
	switch kind {
	case InvalidArgument, UnsupportedFormat:
		return http.StatusBadRequest
	case SourceUnavailable:
		return http.StatusBadGateway
	case DecodeFailure:
		return http.StatusUnprocessableEntity
	case EngineBusy:
		return http.StatusTooManyRequests
	case NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
