package llm

import (
	"testing"
	"time"
)

func TestCooldownDefaultWindow(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewCooldownStore()
	s.now = func() time.Time { return base }

	s.MarkRateLimited(time.Time{})
	if got := s.Until(); !got.Equal(base.Add(DefaultCooldown)) {
		t.Fatalf("expected default window, got %v", got)
	}
	if !s.Active() {
		t.Fatal("expected active cooldown")
	}
}

func TestCooldownLazyClear(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	s := NewCooldownStore()
	s.now = func() time.Time { return now }

	s.MarkRateLimited(base.Add(time.Minute))
	if !s.Active() {
		t.Fatal("expected active")
	}

	now = base.Add(2 * time.Minute)
	if s.Active() {
		t.Fatal("expired record should not be active")
	}
	if !s.Until().IsZero() {
		t.Fatal("expired record should have been cleared")
	}
}

func TestCooldownLastWriterWins(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewCooldownStore()
	s.now = func() time.Time { return base }

	s.MarkRateLimited(base.Add(10 * time.Minute))
	s.MarkRateLimited(base.Add(1 * time.Minute))
	if got := s.Until(); !got.Equal(base.Add(1 * time.Minute)) {
		t.Fatalf("expected last write to win, got %v", got)
	}
}

func TestCooldownExplicitClear(t *testing.T) {
	s := NewCooldownStore()
	s.MarkRateLimited(time.Now().Add(time.Hour))
	s.Clear()
	if s.Active() {
		t.Fatal("expected cleared record")
	}
}
