package llm

import (
	"errors"
	"strings"
	"time"
)

// APIError is an error from an upstream transport carrying an HTTP status.
type APIError struct {
	Message string
	// Status is set from the transport's structured response where
	// available. Zero when only a message was recoverable.
	Status int
}

func (e *APIError) Error() string { return e.Message }

// StatusCode implements the statusCoder accessor.
func (e *APIError) StatusCode() int { return e.Status }

// RateLimitError indicates the upstream rejected the request for quota
// reasons. RetryAfter is zero when the upstream gave no reset hint.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "rate limited"
}

func (e *RateLimitError) StatusCode() int { return 429 }

// ToolInputError indicates the model produced a tool call the host could
// not validate (unknown tool, malformed arguments, schema mismatch). It is
// recoverable: the interpreter forwards it as an in-band error event so the
// agent can retry with corrected arguments.
type ToolInputError struct {
	ToolName string
	Message  string
}

func (e *ToolInputError) Error() string { return e.Message }

// statusCoder is the uniform accessor for errors that know their HTTP
// status. Both our own error types and the upstream SDKs' types satisfy one
// of the two method shapes.
type statusCoder interface {
	StatusCode() int
}

type statusFielder interface {
	Status() int
}

// StatusFromError extracts a numeric HTTP status from err, checking the
// structured accessors first and falling back to known message phrases.
// Returns 0 if nothing could be derived. The phrase table is deliberately
// small; structured codes are always preferred and the string-matching
// surface is not to be expanded.
func StatusFromError(err error) int {
	if err == nil {
		return 0
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		if code := sc.StatusCode(); code != 0 {
			return code
		}
	}
	var sf statusFielder
	if errors.As(err, &sf) {
		if code := sf.Status(); code != 0 {
			return code
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"), strings.Contains(msg, "too many requests"):
		return 429
	case strings.Contains(msg, "service unavailable"), strings.Contains(msg, "503"), strings.Contains(msg, "overloaded"):
		return 503
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return 408
	case strings.Contains(msg, "bad gateway"), strings.Contains(msg, "502"):
		return 502
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "401"):
		return 401
	}
	return 0
}

// retryableStatuses are the HTTP statuses worth retrying at the transport
// layer.
var retryableStatuses = map[int]bool{
	408: true,
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// isRetryable reports whether err is a transient failure worth another
// attempt within the same transport.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if code := StatusFromError(err); code != 0 {
		return retryableStatuses[code]
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "temporary failure") ||
		strings.Contains(msg, "no such host")
}

// isQuotaError reports whether err is a quota or rate-limit rejection, the
// class that marks the subscription cooldown and triggers managed fallback.
func isQuotaError(err error) bool {
	if err == nil {
		return false
	}
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return true
	}
	if StatusFromError(err) == 429 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "quota")
}

// isAuthError reports whether err is an authentication or token-expiry
// failure on the subscription path. These fall back to the managed path
// without touching the cooldown record.
func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	code := StatusFromError(err)
	if code == 401 || code == 403 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "authentication") ||
		strings.Contains(msg, "invalid bearer") ||
		strings.Contains(msg, "token expired") ||
		strings.Contains(msg, "oauth token")
}

// isToolInputError reports whether err is the recoverable validation class.
func isToolInputError(err error) bool {
	var tie *ToolInputError
	return errors.As(err, &tie)
}
