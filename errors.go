package splists

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Error types carried in ClientError.Type.
const (
	ErrorTypeAuthRequired     = "AuthRequired"
	ErrorTypeAuthExpired      = "AuthExpired"
	ErrorTypeTransientHTTP    = "TransientHTTP"
	ErrorTypeNonRetryableHTTP = "NonRetryableHTTP"
	ErrorTypeItemNotFound     = "ItemNotFound"
	ErrorTypeMissingEtag      = "MissingEtag"
	ErrorTypeNetwork          = "Network"
	ErrorTypeValidation       = "Validation"
	ErrorTypeDecode           = "Decode"
)

// Sentinels for errors.Is. Matching compares Type only.
var (
	// ErrAuthRequired is returned when no token could be acquired before a call.
	ErrAuthRequired = &ClientError{Type: ErrorTypeAuthRequired, Message: "access token required"}

	// ErrAuthExpired is returned when a 401 persists after one token refresh.
	ErrAuthExpired = &ClientError{Type: ErrorTypeAuthExpired, Message: "access token rejected after refresh"}

	// ErrTransientHTTP is returned when retries are exhausted on a retryable status.
	ErrTransientHTTP = &ClientError{Type: ErrorTypeTransientHTTP, Message: "retries exhausted"}

	// ErrNonRetryableHTTP is returned for any 4xx outside the retryable set.
	ErrNonRetryableHTTP = &ClientError{Type: ErrorTypeNonRetryableHTTP, Message: "request rejected"}

	// ErrItemNotFound is returned when an etag refresh finds the item gone.
	ErrItemNotFound = &ClientError{Type: ErrorTypeItemNotFound, Message: "item not found"}

	// ErrMissingEtag is returned when an etag refresh cannot repair a conflict.
	ErrMissingEtag = &ClientError{Type: ErrorTypeMissingEtag, Message: "etag unavailable"}

	// ErrNetwork is returned when the transport keeps failing.
	ErrNetwork = &ClientError{Type: ErrorTypeNetwork, Message: "network failure"}

	// ErrValidation is returned for invalid configuration or arguments.
	ErrValidation = &ClientError{Type: ErrorTypeValidation, Message: "invalid input"}
)

// ClientError is the error type returned by every Client operation.
type ClientError struct {
	Type        string
	Message     string
	Cause       error
	RequestID   string
	Method      string
	URL         string
	StatusCode  int
	Attempt     int
	MaxAttempts int
	Timestamp   time.Time
	Duration    time.Duration
}

// Error implements error.
func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxAttempts)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*ClientError); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *ClientError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", e.RequestID)
	}
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.URL != "" {
		info += fmt.Sprintf("URL: %s\n", e.URL)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if e.Attempt > 0 {
		info += fmt.Sprintf("Attempt: %d/%d\n", e.Attempt, e.MaxAttempts)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}

// PageError reports a pagination drain that failed after at least one page was
// read. The items collected before the failure are returned alongside it.
type PageError struct {
	Page  int
	Cause error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d: %v", e.Page, e.Cause)
}

func (e *PageError) Unwrap() error {
	return e.Cause
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.StatusCode
	}
	return 0
}

// IsTransient reports whether err might succeed if the whole call is retried
// later: exhausted transient statuses and network failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		switch clientErr.Type {
		case ErrorTypeTransientHTTP, ErrorTypeNetwork:
			return true
		}
	}
	return false
}

func newError(errorType, message string, cause error) *ClientError {
	return &ClientError{
		Type:      errorType,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}
