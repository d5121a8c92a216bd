// Package llmerrors classifies provider failures so the step loop can decide
// what is worth retrying.
package llmerrors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType categorizes an LLM provider error for retry decisions.
type ErrorType int8

const (
	// Retryable error types.

	// ErrorTypeRateLimit represents rate limiting (429, quota exceeded).
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient represents transient failures (5xx, EOF, connection
	// reset, timeout).
	ErrorTypeTransient
	// ErrorTypeEmptyResponse represents a 200 with no usable content.
	ErrorTypeEmptyResponse

	// Non-retryable error types.

	// ErrorTypeAuth represents authentication failures (401/403, bad API key).
	ErrorTypeAuth
	// ErrorTypeBadPrompt represents malformed requests (too long, rejected).
	ErrorTypeBadPrompt
	// ErrorTypeUnknown is the default for unclassified errors.
	ErrorTypeUnknown

	// ErrorTypeExhausted marks a step whose retry budget is spent. It is
	// produced by the runtime, never by a provider, and is terminal.
	ErrorTypeExhausted
)

// String returns the string representation of the error type.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeUnknown:
		return "unknown"
	case ErrorTypeExhausted:
		return "exhausted"
	default:
		return "invalid"
	}
}

// Error is a classified provider error.
type Error struct {
	Err        error     // Wrapped underlying error
	Message    string    // Human-readable error message
	Type       ErrorType // Classified error type
	StatusCode int       // HTTP status code if applicable
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("llm error (%s): %s", e.Type.String(), e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("llm error (%s): %v", e.Type.String(), e.Err)
	}
	return fmt.Sprintf("llm error (%s): status %d", e.Type.String(), e.StatusCode)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether this error is worth another attempt.
// Blocklist approach: everything is retryable UNLESS explicitly not.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeAuth, ErrorTypeBadPrompt, ErrorTypeExhausted:
		return false
	default:
		return true
	}
}

// Retryable reports whether err should be retried. Unclassified errors are
// classified first, so plain network errors count as retryable.
func Retryable(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.IsRetryable()
	}
	return Classify(err).IsRetryable()
}

// Is checks if an error is of a specific type.
func Is(err error, errorType ErrorType) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == errorType
	}
	return false
}

// TypeOf returns the error type of an error, or ErrorTypeUnknown if not
// classified.
func TypeOf(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}

// NewError creates a new classified error.
func NewError(errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
	}
}

// NewErrorWithStatus creates a new classified error with an HTTP status.
func NewErrorWithStatus(errorType ErrorType, statusCode int, message string) *Error {
	return &Error{
		Type:       errorType,
		StatusCode: statusCode,
		Message:    message,
	}
}

// NewErrorWithCause creates a new classified error wrapping another error.
func NewErrorWithCause(errorType ErrorType, cause error, message string) *Error {
	return &Error{
		Type:    errorType,
		Err:     cause,
		Message: message,
	}
}

// NewExhaustedError wraps the last provider error once a step's retry budget
// is spent. The step loop emits this and fails the turn.
func NewExhaustedError(cause error, attempts int) *Error {
	return &Error{
		Type:    ErrorTypeExhausted,
		Err:     cause,
		Message: fmt.Sprintf("gave up after %d attempts", attempts),
	}
}

// Classify maps an arbitrary provider error onto the taxonomy. Errors that
// are already classified pass through unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewErrorWithCause(ErrorTypeTransient, err, "request timeout")
	}
	if errors.Is(err, context.Canceled) {
		return NewErrorWithCause(ErrorTypeTransient, err, "request canceled")
	}

	if code := extractStatusCode(err.Error()); code != 0 {
		return ClassifyStatus(code, err)
	}

	return classifyText(err)
}

// ClassifyStatus maps an HTTP status code onto the taxonomy. Providers whose
// SDKs surface typed API errors call this directly instead of relying on
// string parsing.
func ClassifyStatus(statusCode int, cause error) *Error {
	e := &Error{StatusCode: statusCode, Err: cause}
	switch {
	case statusCode == 401 || statusCode == 403:
		e.Type = ErrorTypeAuth
		e.Message = "authentication failed"
	case statusCode == 429:
		e.Type = ErrorTypeRateLimit
		e.Message = "rate limit exceeded"
	case statusCode == 400 || statusCode == 404 || statusCode == 413 || statusCode == 422:
		e.Type = ErrorTypeBadPrompt
		e.Message = "request rejected"
	case statusCode >= 500:
		e.Type = ErrorTypeTransient
		e.Message = "server error"
	default:
		return classifyText(cause)
	}
	return e
}

func classifyText(err error) *Error {
	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "temporary") ||
		strings.Contains(errStr, "eof") ||
		strings.Contains(errStr, "reset") {
		return NewErrorWithCause(ErrorTypeTransient, err, "network or connection error")
	}

	if strings.Contains(errStr, "rate") ||
		strings.Contains(errStr, "quota") ||
		strings.Contains(errStr, "overloaded") {
		return NewErrorWithCause(ErrorTypeRateLimit, err, "rate limiting detected")
	}

	if strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "api key") ||
		strings.Contains(errStr, "auth") {
		return NewErrorWithCause(ErrorTypeAuth, err, "authentication error")
	}

	if strings.Contains(errStr, "invalid") ||
		strings.Contains(errStr, "malformed") ||
		strings.Contains(errStr, "too large") ||
		strings.Contains(errStr, "context length") {
		return NewErrorWithCause(ErrorTypeBadPrompt, err, "prompt or request error")
	}

	return NewErrorWithCause(ErrorTypeUnknown, err, "unclassified error")
}

// extractStatusCode pulls an HTTP status out of an error string. SDKs that
// stringify responses usually include one near a recognizable prefix.
func extractStatusCode(errStr string) int {
	lower := strings.ToLower(errStr)
	patterns := []string{
		"status code: ",
		"status: ",
		"http ",
		"code ",
	}

	known := []struct {
		prefix string
		code   int
	}{
		{"400", 400}, {"401", 401}, {"403", 403}, {"404", 404},
		{"413", 413}, {"422", 422}, {"429", 429},
		{"500", 500}, {"502", 502}, {"503", 503}, {"504", 504}, {"529", 529},
	}

	for _, pattern := range patterns {
		idx := strings.Index(lower, pattern)
		if idx == -1 {
			continue
		}
		rest := lower[idx+len(pattern):]
		for _, k := range known {
			if strings.HasPrefix(rest, k.prefix) {
				return k.code
			}
		}
	}
	return 0
}
