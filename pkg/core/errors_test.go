package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	err := &Error{
		Type:    ErrInvalidRequest,
		Message: "message must not be empty",
	}

	expected := "invalid_request_error: message must not be empty"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestError_WithCode(t *testing.T) {
	err := &Error{
		Type:    ErrOverloaded,
		Message: "server is draining",
		Code:    "draining",
	}

	expected := "overloaded_error: server is draining (code: draining)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewInvalidRequestErrorWithParam(t *testing.T) {
	err := NewInvalidRequestErrorWithParam("history role must be user or assistant", "history[2].role")
	if err.Type != ErrInvalidRequest {
		t.Errorf("Type = %v, want %v", err.Type, ErrInvalidRequest)
	}
	if err.Param != "history[2].role" {
		t.Errorf("Param = %q", err.Param)
	}
}

func TestNewRateLimitError(t *testing.T) {
	err := NewRateLimitError("rate limit exceeded", 3)
	if err.Type != ErrRateLimit {
		t.Errorf("Type = %v, want %v", err.Type, ErrRateLimit)
	}
	if err.RetryAfter == nil || *err.RetryAfter != 3 {
		t.Errorf("RetryAfter = %v, want 3", err.RetryAfter)
	}

	if got := NewRateLimitError("busy", 0); got.RetryAfter != nil {
		t.Errorf("RetryAfter = %v, want nil for zero", *got.RetryAfter)
	}
}

func TestNewUpstreamError_Unwraps(t *testing.T) {
	underlying := errors.New("dial tcp: connection refused")
	err := NewUpstreamError("gemini", underlying)

	if err.Type != ErrUpstream {
		t.Errorf("Type = %v, want %v", err.Type, ErrUpstream)
	}
	if !errors.Is(err, underlying) {
		t.Error("expected errors.Is to find the underlying error")
	}
	if err.Message != "gemini: dial tcp: connection refused" {
		t.Errorf("Message = %q", err.Message)
	}
	if got := NewUpstreamError("gemini", nil).Message; got != "gemini: upstream unavailable" {
		t.Errorf("Message = %q", got)
	}
}

func TestIsUpstream(t *testing.T) {
	wrapped := fmt.Errorf("chat round 2: %w", NewUpstreamError("gemini", errors.New("503")))
	if !IsUpstream(wrapped) {
		t.Error("expected wrapped upstream error to match")
	}
	if IsUpstream(NewInvalidRequestError("bad")) {
		t.Error("invalid request is not upstream")
	}
	if IsUpstream(errors.New("plain")) {
		t.Error("plain error is not upstream")
	}
}
