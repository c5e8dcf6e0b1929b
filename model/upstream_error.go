package model

import (
	"errors"
	"fmt"
)

// UpstreamError describes a non-retryable failure returned by an upstream
// provider. It is intended to cross package boundaries so the gateway surface
// can report stable, structured information while preserving the upstream
// error message verbatim.
type UpstreamError struct {
	provider  string
	operation string
	status    int
	message   string
	cause     error
}

// NewUpstreamError constructs an UpstreamError. provider is required; cause
// may be nil but is recommended to preserve the original error chain.
func NewUpstreamError(provider, operation string, status int, message string, cause error) *UpstreamError {
	if provider == "" {
		panic("model: provider is required")
	}
	return &UpstreamError{
		provider:  provider,
		operation: operation,
		status:    status,
		message:   message,
		cause:     cause,
	}
}

// Provider returns the provider identifier (for example, "anthropic").
func (e *UpstreamError) Provider() string { return e.provider }

// Operation returns the provider operation when known (for example, "/chat").
func (e *UpstreamError) Operation() string { return e.operation }

// Status returns the upstream HTTP status when available, otherwise 0.
func (e *UpstreamError) Status() int { return e.status }

// Message returns the upstream error message when available.
func (e *UpstreamError) Message() string { return e.message }

func (e *UpstreamError) Error() string {
	op := e.operation
	if op == "" {
		op = "request"
	}
	msg := e.message
	if msg == "" && e.cause != nil {
		msg = e.cause.Error()
	}
	if msg == "" {
		msg = "upstream error"
	}
	if e.status > 0 {
		return fmt.Sprintf("%s %s (%d): %s", e.provider, op, e.status, msg)
	}
	return fmt.Sprintf("%s %s: %s", e.provider, op, msg)
}

// Unwrap returns the underlying error to preserve the original chain.
func (e *UpstreamError) Unwrap() error { return e.cause }

// AsUpstreamError returns the first UpstreamError in err's chain, if any.
func AsUpstreamError(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
