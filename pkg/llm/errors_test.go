package llm

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestStatusFromErrorStructured(t *testing.T) {
	if got := StatusFromError(&APIError{Message: "boom", Status: 503}); got != 503 {
		t.Fatalf("got %d", got)
	}
	if got := StatusFromError(&RateLimitError{}); got != 429 {
		t.Fatalf("got %d", got)
	}
	// Structured status wins over a misleading message.
	if got := StatusFromError(&APIError{Message: "rate limit exceeded", Status: 500}); got != 500 {
		t.Fatalf("structured status should win, got %d", got)
	}
	// Wrapped errors are unwrapped.
	wrapped := fmt.Errorf("request failed: %w", &APIError{Message: "nope", Status: 502})
	if got := StatusFromError(wrapped); got != 502 {
		t.Fatalf("got %d", got)
	}
}

func TestStatusFromErrorPhrases(t *testing.T) {
	cases := []struct {
		msg  string
		want int
	}{
		{"upstream rate limit hit", 429},
		{"service unavailable right now", 503},
		{"model overloaded", 503},
		{"request timeout while streaming", 408},
		{"bad gateway from proxy", 502},
		{"unauthorized request", 401},
		{"something unrelated", 0},
	}
	for _, tc := range cases {
		if got := StatusFromError(errors.New(tc.msg)); got != tc.want {
			t.Errorf("%q: got %d want %d", tc.msg, got, tc.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !isRetryable(&APIError{Message: "x", Status: code}) {
			t.Errorf("status %d should be retryable", code)
		}
	}
	for _, code := range []int{400, 401, 403, 404, 422} {
		if isRetryable(&APIError{Message: "x", Status: code}) {
			t.Errorf("status %d should not be retryable", code)
		}
	}
	if !isRetryable(errors.New("dial tcp: connection refused")) {
		t.Error("connection refused should be retryable")
	}
}

func TestErrorClassification(t *testing.T) {
	if !isQuotaError(&RateLimitError{RetryAfter: time.Minute}) {
		t.Error("RateLimitError is a quota error")
	}
	if !isQuotaError(errors.New("monthly quota exceeded")) {
		t.Error("quota phrase should classify")
	}
	if isQuotaError(&APIError{Message: "bad request", Status: 400}) {
		t.Error("400 is not a quota error")
	}

	if !isAuthError(&APIError{Message: "no", Status: 401}) {
		t.Error("401 is an auth error")
	}
	if !isAuthError(errors.New("oauth token expired")) {
		t.Error("token expiry phrase should classify")
	}
	if isAuthError(&APIError{Message: "slow down", Status: 429}) {
		t.Error("429 is not an auth error")
	}

	if !isToolInputError(&ToolInputError{ToolName: "grep", Message: "bad args"}) {
		t.Error("ToolInputError should classify")
	}
	if isToolInputError(errors.New("plain")) {
		t.Error("plain error is not a tool input error")
	}
}
