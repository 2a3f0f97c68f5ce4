package llm

import (
	"sync"
	"time"
)

// DefaultCooldown is the window applied when the upstream gives no
// authoritative reset time.
const DefaultCooldown = 5 * time.Minute

// CooldownStore records when the subscription path became rate limited.
// It is the only state shared across concurrent runs; the record is
// advisory, so last-writer-wins races are acceptable. The zero value is
// ready to use.
type CooldownStore struct {
	mu    sync.Mutex
	until time.Time
	now   func() time.Time // Overridable for tests
}

func NewCooldownStore() *CooldownStore {
	return &CooldownStore{now: time.Now}
}

func (s *CooldownStore) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

// MarkRateLimited records the subscription path as unusable until the
// given time. A zero until applies the default window.
func (s *CooldownStore) MarkRateLimited(until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if until.IsZero() {
		until = s.clock().Add(DefaultCooldown)
	}
	s.until = until
}

// Active reports whether the subscription path is currently cooling down.
// An expired record is cleared lazily.
func (s *CooldownStore) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.until.IsZero() {
		return false
	}
	if !s.clock().Before(s.until) {
		s.until = time.Time{}
		return false
	}
	return true
}

// Clear resets the record, e.g. after the user reconnects their account.
func (s *CooldownStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.until = time.Time{}
}

// Until returns the recorded expiry, or the zero time when not limited.
func (s *CooldownStore) Until() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.until
}
