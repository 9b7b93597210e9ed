package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestBreakerOpensAndRecovers(t *testing.T) {
	now := time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC)
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, Cooldown: time.Minute})
	b.now = func() time.Time { return now }

	boom := errors.New("502 bad gateway")
	for i := 0; i < 3; i++ {
		if err := b.Do(func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if b.State() != BreakerOpen {
		t.Fatalf("state = %s, want open", b.State())
	}

	calls := 0
	if err := b.Do(func() error { calls++; return nil }); !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("open breaker let a call through: %v", err)
	}
	if calls != 0 || b.Rejected() != 1 {
		t.Errorf("calls=%d rejected=%d", calls, b.Rejected())
	}

	now = now.Add(2 * time.Minute)
	if err := b.Do(func() error { calls++; return nil }); err != nil {
		t.Fatalf("trial call: %v", err)
	}
	if b.State() != BreakerClosed || calls != 1 {
		t.Errorf("state=%s calls=%d", b.State(), calls)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: time.Second})
	b.now = func() time.Time { return now }

	b.Do(func() error { return errors.New("down") })
	now = now.Add(2 * time.Second)
	b.Do(func() error { return errors.New("still down") })
	if b.State() != BreakerOpen {
		t.Errorf("state = %s, want open", b.State())
	}
}

func TestBreakerIgnoresNonTrippingErrors(t *testing.T) {
	notFound := errors.New("404")
	b := NewBreaker(BreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Minute,
		Trips:            func(err error) bool { return !errors.Is(err, notFound) },
	})
	for i := 0; i < 5; i++ {
		b.Do(func() error { return notFound })
	}
	if b.State() != BreakerClosed {
		t.Errorf("client errors opened the breaker")
	}
	b.Do(func() error { return errors.New("timeout") })
	if b.State() != BreakerOpen {
		t.Errorf("state = %s", b.State())
	}
	b.Reset()
	if b.State() != BreakerClosed {
		t.Errorf("Reset did not close")
	}
}
