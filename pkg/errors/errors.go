package errors

import (
	"context"
	"errors"
	"fmt"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeNetwork            ErrorType = "network"
	ErrorTypeRateLimit          ErrorType = "rate_limit"
	ErrorTypeServerError        ErrorType = "server_error"
	ErrorTypeAuth               ErrorType = "auth"
	ErrorTypeNotFound           ErrorType = "not_found"
	ErrorTypeParsing            ErrorType = "parsing"
	ErrorTypeUnexpectedResponse ErrorType = "unexpected_response"
	ErrorTypeUploadRejected     ErrorType = "upload_rejected"
	ErrorTypeRetriesExhausted   ErrorType = "retries_exhausted"
	ErrorTypeUnknown            ErrorType = "unknown"
)

// Error represents a typed failure from one of the network collaborators
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	// Op names the request or operation that failed, usually a URL
	Op string
	// Err is the underlying cause, if any
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Type, so callers can test
// errors.Is(err, &Error{Type: ErrorTypeUploadRejected}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// New builds an *Error
func New(errType ErrorType, code int, op, message string) *Error {
	return &Error{Type: errType, Code: code, Op: op, Message: message}
}

// Wrap builds an *Error around an underlying cause
func Wrap(errType ErrorType, op string, err error) *Error {
	return &Error{Type: errType, Op: op, Message: string(errType), Err: err}
}

// ParseError reports a markup node or field that was expected but absent
func ParseError(op, expected string) *Error {
	return &Error{Type: ErrorTypeParsing, Op: op, Message: "could not find " + expected}
}

// UnexpectedResponse reports a response body with the wrong shape
func UnexpectedResponse(op, message string) *Error {
	return &Error{Type: ErrorTypeUnexpectedResponse, Op: op, Message: message}
}

// UploadRejected reports a non-200 answer from the local store upload endpoint
func UploadRejected(postID, status int) *Error {
	return &Error{
		Type:    ErrorTypeUploadRejected,
		Code:    status,
		Op:      fmt.Sprintf("upload post #%d", postID),
		Message: fmt.Sprintf("expected status 200, got %d", status),
	}
}

// RetriesExhausted reports an operation that kept failing after every attempt
func RetriesExhausted(op string, attempts int, last error) *Error {
	return &Error{
		Type:    ErrorTypeRetriesExhausted,
		Op:      op,
		Message: fmt.Sprintf("exceeded %d attempts", attempts),
		Err:     last,
	}
}

// FromStatus maps a non-2xx HTTP status code to a typed error.
// It returns nil for 2xx codes.
func FromStatus(op string, statusCode int) *Error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == 401 || statusCode == 403:
		return New(ErrorTypeAuth, statusCode, op, "authentication required")
	case statusCode == 404:
		return New(ErrorTypeNotFound, statusCode, op, "resource not found")
	case statusCode == 429:
		return New(ErrorTypeRateLimit, statusCode, op, "rate limit exceeded")
	case IsRetryableStatusCode(statusCode):
		return New(ErrorTypeServerError, statusCode, op, "server error")
	default:
		return New(ErrorTypeUnknown, statusCode, op, fmt.Sprintf("unexpected status code: %d", statusCode))
	}
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// Outcome is the classification of a single request attempt
type Outcome int

const (
	Success Outcome = iota
	Retryable
	Permanent
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Retryable:
		return "retryable"
	default:
		return "permanent"
	}
}

// Classify decides how a transport attempt ended. Typed errors follow
// IsRetryable even when they wrap a context error, since an http.Client
// timeout surfaces as a network error wrapping context.DeadlineExceeded.
// A bare context error means the caller gave up and is permanent.
// Anything else untyped (dial failures, truncated bodies) is transient.
func Classify(err error) Outcome {
	if err == nil {
		return Success
	}
	var typed *Error
	if errors.As(err, &typed) {
		if IsRetryable(typed.Type) {
			return Retryable
		}
		return Permanent
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Permanent
	}
	return Retryable
}

// TypeOf returns the ErrorType carried by err, or ErrorTypeUnknown
func TypeOf(err error) ErrorType {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Type
	}
	return ErrorTypeUnknown
}
