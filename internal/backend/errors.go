package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind categorizes generation failures for fallback decisions
type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"
	KindUnreachable ErrorKind = "unreachable"
	KindBadResponse ErrorKind = "bad_response"
	KindRateLimited ErrorKind = "rate_limited"
)

// GenerationError wraps a failed backend call with enough context for the
// fallback policy and metrics to classify it
type GenerationError struct {
	Backend    string
	Operation  string
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *GenerationError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s failed (HTTP %d): %s", e.Backend, e.Operation, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Backend, e.Operation, e.Message)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// NewGenerationError creates a new GenerationError
func NewGenerationError(backend, operation string, kind ErrorKind, statusCode int, message string, err error) *GenerationError {
	return &GenerationError{
		Backend:    backend,
		Operation:  operation,
		Kind:       kind,
		StatusCode: statusCode,
		Message:    message,
		Err:        err,
	}
}

// IsTimeout checks if the error is a generation deadline expiry
func IsTimeout(err error) bool {
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.Kind == KindTimeout
	}
	return false
}

// IsUnreachable checks if the error indicates the backend could not be reached
func IsUnreachable(err error) bool {
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.Kind == KindUnreachable
	}
	return false
}

// IsRateLimited checks if the error is a rate limit rejection
func IsRateLimited(err error) bool {
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.Kind == KindRateLimited || ge.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// IsRetryable checks if the call could plausibly succeed on another attempt
func IsRetryable(err error) bool {
	if IsRateLimited(err) {
		return true
	}
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.StatusCode >= 500 && ge.StatusCode < 600
	}
	return false
}
