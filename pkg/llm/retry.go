package llm

import (
	"context"
	"io"
	"math"
	"math/rand"
	"time"
)

// RetryConfig configures transport-level retry behavior.
type RetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryConfig returns sensible defaults for transient errors.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseBackoff: 1 * time.Second,
		MaxBackoff:  30 * time.Second,
	}
}

// RetryProvider wraps a provider with automatic retry on transient errors.
// A request is only retried while nothing has been forwarded yet; once any
// event reached the consumer the stream's failure is surfaced instead, so
// output is never duplicated or mixed across attempts.
type RetryProvider struct {
	inner  Provider
	config RetryConfig
}

// WrapWithRetry wraps a provider with retry logic.
func WrapWithRetry(p Provider, config RetryConfig) Provider {
	return &RetryProvider{inner: p, config: config}
}

func (r *RetryProvider) Name() string       { return r.inner.Name() }
func (r *RetryProvider) Credential() string { return r.inner.Credential() }

func (r *RetryProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		var lastErr error

		for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
			stream, err := r.inner.Stream(ctx, req)
			if err != nil {
				if !isRetryable(err) {
					return err
				}
				lastErr = err
			} else {
				forwarded, err := r.forwardEvents(ctx, stream, events)
				if err == nil {
					return nil
				}
				if forwarded > 0 || !isRetryable(err) {
					return err
				}
				lastErr = err
			}

			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt >= r.config.MaxAttempts {
				break
			}

			wait := r.calculateBackoff(attempt, lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		return lastErr
	}), nil
}

// forwardEvents reads events from the inner stream and forwards them,
// returning how many were forwarded alongside any terminal error.
func (r *RetryProvider) forwardEvents(ctx context.Context, stream Stream, events chan<- Event) (int, error) {
	defer stream.Close()

	forwarded := 0
	for {
		select {
		case <-ctx.Done():
			return forwarded, ctx.Err()
		default:
		}

		event, err := stream.Recv()
		if err == io.EOF {
			return forwarded, nil
		}
		if err != nil {
			return forwarded, err
		}

		select {
		case events <- event:
			forwarded++
		case <-ctx.Done():
			return forwarded, ctx.Err()
		}
	}
}

// calculateBackoff computes the wait duration for a retry attempt:
// exponential with jitter, capped, preferring an upstream reset hint.
func (r *RetryProvider) calculateBackoff(attempt int, err error) time.Duration {
	if rle, ok := err.(*RateLimitError); ok && rle.RetryAfter > 0 {
		wait := rle.RetryAfter
		if wait > r.config.MaxBackoff {
			wait = r.config.MaxBackoff
		}
		return wait
	}

	backoff := float64(r.config.BaseBackoff) * math.Pow(2, float64(attempt-1))
	backoff += (rand.Float64() - 0.5) * 0.5 * backoff // +/- 25% jitter
	if backoff > float64(r.config.MaxBackoff) {
		backoff = float64(r.config.MaxBackoff)
	}
	return time.Duration(backoff)
}
