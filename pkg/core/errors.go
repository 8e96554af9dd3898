// Package core holds the error shape shared by the gateway's packages.
package core

import (
	"errors"
	"fmt"
)

// Error is what a client sees inside the {"error": ...} envelope. The cause
// is kept for logs and errors.Is but never serialized.
type Error struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Param      string    `json:"param,omitempty"`
	Code       string    `json:"code,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	RetryAfter *int      `json:"retry_after,omitempty"`

	cause error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrPermission     ErrorType = "permission_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrAPI            ErrorType = "api_error"
	ErrOverloaded     ErrorType = "overloaded_error"
	ErrUpstream       ErrorType = "upstream_error"
)

func NewInvalidRequestError(message string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message}
}

// NewInvalidRequestErrorWithParam names the offending request field, e.g.
// "message" or "history[3].role".
func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message, Param: param}
}

// NewRateLimitError sets RetryAfter only for positive values.
func NewRateLimitError(message string, retryAfter int) *Error {
	e := &Error{Type: ErrRateLimit, Message: message}
	if retryAfter > 0 {
		e.RetryAfter = &retryAfter
	}
	return e
}

// NewUpstreamError wraps a failure of the language model or its transport.
func NewUpstreamError(upstream string, underlying error) *Error {
	msg := upstream + ": upstream unavailable"
	if underlying != nil {
		msg = fmt.Sprintf("%s: %v", upstream, underlying)
	}
	return &Error{Type: ErrUpstream, Message: msg, cause: underlying}
}

// IsUpstream reports whether err came from the language model side.
func IsUpstream(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce != nil && ce.Type == ErrUpstream
}
