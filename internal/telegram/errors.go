package telegram

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"
)

// ErrorClass is the closed classification of a failed Bot API call. Every
// failure is mapped to exactly one class at the call boundary; retry policy
// switches on the class and nothing else.
type ErrorClass string

const (
	ClassRateLimited ErrorClass = "rate_limited"
	ClassServerError ErrorClass = "server_error"
	ClassClientError ErrorClass = "client_error"
	ClassNetworkError ErrorClass = "network_error"
	ClassUnknown     ErrorClass = "unknown"
)

// APIError describes one failed call. Code and Description come from the
// API response when one was received; RetryAfter is set only for
// ClassRateLimited; NetworkKind only for ClassNetworkError.
type APIError struct {
	Class       ErrorClass
	Code        int
	Description string
	RetryAfter  time.Duration
	NetworkKind string
}

func (e *APIError) Error() string {
	switch e.Class {
	case ClassRateLimited:
		return fmt.Sprintf("telegram rate limited, retry after %s", e.RetryAfter)
	case ClassNetworkError:
		return fmt.Sprintf("telegram network error: %s", e.NetworkKind)
	default:
		if e.Description != "" {
			return fmt.Sprintf("telegram error %d: %s", e.Code, e.Description)
		}
		return fmt.Sprintf("telegram error %d", e.Code)
	}
}

// Retryable reports whether another attempt can succeed. Rate limits,
// server errors and recognized transient network failures are retryable;
// client errors and unclassified failures are not.
func (e *APIError) Retryable() bool {
	switch e.Class {
	case ClassRateLimited, ClassServerError, ClassNetworkError:
		return true
	default:
		return false
	}
}

// Reason is the user-facing failure summary for a send that gave up.
func (e *APIError) Reason() string {
	if e.Description != "" {
		return e.Description
	}
	if e.Code != 0 {
		return fmt.Sprintf("Telegram error %d", e.Code)
	}
	if e.NetworkKind != "" {
		return fmt.Sprintf("Network error %s", e.NetworkKind)
	}
	return "Telegram send failed"
}

// classifyResponse maps a non-ok API response to an APIError. Terminal
// delivery conditions (deleted chat, bot blocked by the recipient) are
// client errors regardless of the numeric code.
func classifyResponse(code int, description string, retryAfterSeconds int) *APIError {
	apiErr := &APIError{Code: code, Description: description}

	lower := strings.ToLower(description)
	switch {
	case retryAfterSeconds > 0:
		apiErr.Class = ClassRateLimited
		apiErr.RetryAfter = time.Duration(retryAfterSeconds) * time.Second
	case code >= 500:
		apiErr.Class = ClassServerError
	case code == 400 || code == 401 || code == 403 || code == 404:
		apiErr.Class = ClassClientError
	case strings.Contains(lower, "chat not found"), strings.Contains(lower, "bot was blocked by the user"):
		apiErr.Class = ClassClientError
	default:
		apiErr.Class = ClassUnknown
	}
	return apiErr
}

// classifyTransportError maps an HTTP transport failure to an APIError.
// Only recognized transient kinds become ClassNetworkError; everything
// else is ClassUnknown and not retried.
func classifyTransportError(err error) *APIError {
	if kind, ok := networkKind(err); ok {
		return &APIError{Class: ClassNetworkError, NetworkKind: kind}
	}
	return &APIError{Class: ClassUnknown, Description: err.Error()}
}

func networkKind(err error) (string, bool) {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout", true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout", true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns", true
	}
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return "connection_refused", true
	case errors.Is(err, syscall.ECONNRESET):
		return "connection_reset", true
	}
	return "", false
}
