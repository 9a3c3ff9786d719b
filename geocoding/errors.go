// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geocoding

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNotFound is returned when a result or address id does not exist.
var ErrNotFound = errors.New("not found")

// ValidationError reports a malformed request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}

	return e.Field + ": " + e.Message
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// UnavailableProviderError reports a provider that is unknown or not configured.
type UnavailableProviderError struct {
	Provider string
}

func (e *UnavailableProviderError) Error() string {
	return fmt.Sprintf("provider %s is not available", e.Provider)
}

// ProviderError is a failure talking to an upstream provider.
type ProviderError struct {
	Type     ErrorType
	Provider string
	Message  string
	Err      error
}

// ErrorType classifies provider failures.
type ErrorType int

const (
	// ErrorTypeUnknown unclassified failure.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeRateLimit the provider, or our own limiter, throttled the call.
	ErrorTypeRateLimit
	// ErrorTypeQuotaExceeded quota exhausted or key rejected.
	ErrorTypeQuotaExceeded
	// ErrorTypeTimeout the call did not finish in time.
	ErrorTypeTimeout
	// ErrorTypeNotFound nothing at that address.
	ErrorTypeNotFound
	// ErrorTypeInvalidRequest the provider rejected the parameters.
	ErrorTypeInvalidRequest
	// ErrorTypeNetworkError connection level failure.
	ErrorTypeNetworkError
	// ErrorTypeInvalidResponse the body could not be decoded.
	ErrorTypeInvalidResponse
)

func (e *ProviderError) Error() string {
	msg := e.Message
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}

	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}

	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRateLimitError reports whether err is a rate limit failure.
func IsRateLimitError(err error) bool {
	var pErr *ProviderError
	if errors.As(err, &pErr) {
		return pErr.Type == ErrorTypeRateLimit
	}

	errStr := strings.ToLower(err.Error())

	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429")
}

// IsQuotaExceededError reports whether err is a quota failure.
func IsQuotaExceededError(err error) bool {
	var pErr *ProviderError
	if errors.As(err, &pErr) {
		return pErr.Type == ErrorTypeQuotaExceeded
	}

	// Google Maps wording
	errStr := strings.ToLower(err.Error())

	return strings.Contains(errStr, "over_query_limit") ||
		strings.Contains(errStr, "quota exceeded")
}

// IsTimeoutError reports whether err is a timeout.
func IsTimeoutError(err error) bool {
	var pErr *ProviderError
	if errors.As(err, &pErr) {
		return pErr.Type == ErrorTypeTimeout
	}

	errStr := strings.ToLower(err.Error())

	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded")
}

// ClassifyHTTPError maps an upstream status code to a ProviderError.
func ClassifyHTTPError(provider string, statusCode int) *ProviderError {
	switch statusCode {
	case http.StatusTooManyRequests: // 429
		return &ProviderError{
			Type:     ErrorTypeRateLimit,
			Provider: provider,
			Message:  "rate limit reached",
		}
	case http.StatusForbidden, http.StatusUnauthorized: // 403, 401
		return &ProviderError{
			Type:     ErrorTypeQuotaExceeded,
			Provider: provider,
			Message:  "quota exceeded or access denied",
		}
	case http.StatusBadRequest: // 400
		return &ProviderError{
			Type:     ErrorTypeInvalidRequest,
			Provider: provider,
			Message:  "invalid request",
		}
	case http.StatusNotFound: // 404
		return &ProviderError{
			Type:     ErrorTypeNotFound,
			Provider: provider,
			Message:  "location not found",
		}
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return &ProviderError{
			Type:     ErrorTypeNetworkError,
			Provider: provider,
			Message:  fmt.Sprintf("service unavailable (status %d)", statusCode),
		}
	default:
		return &ProviderError{
			Type:     ErrorTypeUnknown,
			Provider: provider,
			Message:  fmt.Sprintf("HTTP error %d", statusCode),
		}
	}
}

// outcome turns a provider failure into a metrics label.
func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case IsRateLimitError(err):
		return "rate_limited"
	case IsQuotaExceededError(err):
		return "quota_exceeded"
	case IsTimeoutError(err):
		return "timeout"
	default:
		return "error"
	}
}
