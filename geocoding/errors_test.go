// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geocoding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

type errorCheckTestCase struct {
	name string
	err  error
	want bool
}

func runErrorCheckTest(t *testing.T, tests []errorCheckTestCase, checkFunc func(error) bool) {
	t.Helper()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := checkFunc(tt.err); got != tt.want {
				t.Errorf("checkFunc() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsRateLimitError(t *testing.T) {
	runErrorCheckTest(t, []errorCheckTestCase{
		{"rate limit type", &ProviderError{Type: ErrorTypeRateLimit, Message: "slow down"}, true},
		{"wrapped rate limit type", fmt.Errorf("calling: %w", &ProviderError{Type: ErrorTypeRateLimit}), true},
		{"message with too many requests", errors.New("too many requests"), true},
		{"message with 429", errors.New("nominatim returned status 429"), true},
		{"other type", &ProviderError{Type: ErrorTypeNotFound, Message: "429 in text is ignored"}, false},
		{"unrelated", errors.New("some other error"), false},
	}, IsRateLimitError)
}

func TestIsQuotaExceededError(t *testing.T) {
	runErrorCheckTest(t, []errorCheckTestCase{
		{"quota type", &ProviderError{Type: ErrorTypeQuotaExceeded}, true},
		{"google wording", errors.New("google status: OVER_QUERY_LIMIT"), true},
		{"plain wording", errors.New("quota exceeded"), true},
		{"other type", &ProviderError{Type: ErrorTypeRateLimit}, false},
		{"unrelated", errors.New("some other error"), false},
	}, IsQuotaExceededError)
}

func TestIsTimeoutError(t *testing.T) {
	runErrorCheckTest(t, []errorCheckTestCase{
		{"timeout type", &ProviderError{Type: ErrorTypeTimeout}, true},
		{"context deadline", context.DeadlineExceeded, true},
		{"client timeout wording", errors.New("Client.Timeout exceeded while awaiting headers"), true},
		{"other type", &ProviderError{Type: ErrorTypeNetworkError}, false},
		{"unrelated", errors.New("connection refused"), false},
	}, IsTimeoutError)
}

func TestClassifyHTTPError(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorType
	}{
		{http.StatusTooManyRequests, ErrorTypeRateLimit},
		{http.StatusForbidden, ErrorTypeQuotaExceeded},
		{http.StatusUnauthorized, ErrorTypeQuotaExceeded},
		{http.StatusBadRequest, ErrorTypeInvalidRequest},
		{http.StatusNotFound, ErrorTypeNotFound},
		{http.StatusBadGateway, ErrorTypeNetworkError},
		{http.StatusServiceUnavailable, ErrorTypeNetworkError},
		{http.StatusTeapot, ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			got := ClassifyHTTPError("yandex", tt.status)
			if got.Type != tt.want {
				t.Errorf("ClassifyHTTPError(%d).Type = %v, want %v", tt.status, got.Type, tt.want)
			}

			if got.Provider != "yandex" {
				t.Errorf("ClassifyHTTPError(%d).Provider = %q", tt.status, got.Provider)
			}
		})
	}
}

func TestProviderErrorMessage(t *testing.T) {
	err := &ProviderError{
		Type:     ErrorTypeNetworkError,
		Provider: "google",
		Message:  "request failed",
		Err:      errors.New("connection refused"),
	}

	if got, want := err.Error(), "google: request failed: connection refused"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	if !errors.Is(err, err.Err) {
		t.Errorf("Unwrap() should expose the cause")
	}
}

func TestOutcome(t *testing.T) {
	tests := map[string]error{
		"success":        nil,
		"rate_limited":   &ProviderError{Type: ErrorTypeRateLimit},
		"quota_exceeded": &ProviderError{Type: ErrorTypeQuotaExceeded},
		"timeout":        &ProviderError{Type: ErrorTypeTimeout},
		"error":          &ProviderError{Type: ErrorTypeNetworkError},
	}

	for want, err := range tests {
		if got := outcome(err); got != want {
			t.Errorf("outcome(%v) = %q, want %q", err, got, want)
		}
	}
}
