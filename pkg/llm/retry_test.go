package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}
}

func TestRetrySucceedsAfterTransientError(t *testing.T) {
	provider := &fakeProvider{attempts: []fakeAttempt{
		{err: &APIError{Message: "bad gateway", Status: 502}},
		{events: []Event{
			{Type: EventTextDelta, Text: "hi"},
			{Type: EventDone},
		}},
	}}

	wrapped := WrapWithRetry(provider, fastRetryConfig())
	stream, err := wrapped.Stream(context.Background(), Request{Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	events, err := collectEvents(stream)
	if err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if provider.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", provider.calls)
	}
	if textOf(events) != "hi" {
		t.Fatalf("got %q", textOf(events))
	}
}

func TestRetryNonRetryableFailsImmediately(t *testing.T) {
	provider := &fakeProvider{attempts: []fakeAttempt{
		{err: &APIError{Message: "invalid request", Status: 400}},
	}}

	wrapped := WrapWithRetry(provider, fastRetryConfig())
	stream, err := wrapped.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := collectEvents(stream); err == nil {
		t.Fatal("expected error")
	}
	if provider.calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", provider.calls)
	}
}

func TestRetryStopsOncePartialContentForwarded(t *testing.T) {
	provider := &fakeProvider{attempts: []fakeAttempt{
		{
			events:    []Event{{Type: EventTextDelta, Text: "partial"}},
			streamErr: &APIError{Message: "connection reset", Status: 503},
		},
		{events: []Event{{Type: EventDone}}},
	}}

	wrapped := WrapWithRetry(provider, fastRetryConfig())
	stream, err := wrapped.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	events, err := collectEvents(stream)
	if err == nil {
		t.Fatal("mid-stream failure after forwarded content must surface, not retry")
	}
	if provider.calls != 1 {
		t.Fatalf("expected no second attempt, got %d calls", provider.calls)
	}
	if textOf(events) != "partial" {
		t.Fatalf("partial content should have been forwarded, got %q", textOf(events))
	}
}

func TestRetryExhaustsAttemptBudget(t *testing.T) {
	provider := &fakeProvider{attempts: []fakeAttempt{
		{err: &APIError{Message: "unavailable", Status: 503}},
	}}

	wrapped := WrapWithRetry(provider, fastRetryConfig())
	stream, _ := wrapped.Stream(context.Background(), Request{})
	_, err := collectEvents(stream)
	if err == nil {
		t.Fatal("expected final error")
	}
	if provider.calls != 3 {
		t.Fatalf("expected the full attempt budget, got %d", provider.calls)
	}
}

func TestRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := &fakeProvider{attempts: []fakeAttempt{
		{err: &APIError{Message: "unavailable", Status: 503}},
	}}
	wrapped := WrapWithRetry(provider, fastRetryConfig())
	stream, err := wrapped.Stream(ctx, Request{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := collectEvents(stream); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBackoffPrefersRetryAfterHint(t *testing.T) {
	r := &RetryProvider{config: RetryConfig{
		BaseBackoff: time.Second,
		MaxBackoff:  30 * time.Second,
	}}

	wait := r.calculateBackoff(1, &RateLimitError{RetryAfter: 7 * time.Second})
	if wait != 7*time.Second {
		t.Fatalf("expected upstream hint, got %v", wait)
	}

	wait = r.calculateBackoff(1, &RateLimitError{RetryAfter: time.Hour})
	if wait != 30*time.Second {
		t.Fatalf("hint should be capped, got %v", wait)
	}

	wait = r.calculateBackoff(10, errors.New("x"))
	if wait > 30*time.Second {
		t.Fatalf("backoff exceeds ceiling: %v", wait)
	}
}
