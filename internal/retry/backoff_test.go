package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeClock advances time only when the controller sleeps, so multi-minute
// backoff sequences run instantly in tests.
type fakeClock struct {
	now    time.Time
	slept  []time.Duration
	sleeps int
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.now = c.now.Add(d)
	c.slept = append(c.slept, d)
	c.sleeps++
	return nil
}

func newTestController(clock *fakeClock, opts ...Option) *Controller {
	base := []Option{
		WithClock(clock.Now, clock.Sleep),
		WithJitterSource(func() float64 { return 0 }),
	}
	return New(append(base, opts...)...)
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	clock := newFakeClock()
	c := newTestController(clock)

	calls := 0
	err := c.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	}, 5, IsRetryable)

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if clock.sleeps != 2 {
		t.Errorf("expected 2 sleeps, got %d", clock.sleeps)
	}
	// Exponential doubling from the 1s base.
	if clock.slept[0] != 1*time.Second || clock.slept[1] != 2*time.Second {
		t.Errorf("unexpected delays: %v", clock.slept)
	}
}

func TestDo_NonRetryableFailsImmediately(t *testing.T) {
	clock := newFakeClock()
	c := newTestController(clock)

	calls := 0
	wantErr := errors.New("invalid request body")
	err := c.Do(context.Background(), func(context.Context) error {
		calls++
		return wantErr
	}, 5, IsRetryable)

	if !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if clock.sleeps != 0 {
		t.Errorf("expected no sleeps, got %d", clock.sleeps)
	}
}

func TestDo_StandardProfileRespectsElapsedCeiling(t *testing.T) {
	clock := newFakeClock()
	c := newTestController(clock)

	wantErr := errors.New("service unavailable")
	start := clock.now
	err := c.Do(context.Background(), func(context.Context) error {
		return wantErr
	}, 100, IsRetryable)

	if !errors.Is(err, wantErr) {
		t.Fatalf("expected last error, got %v", err)
	}
	if elapsed := clock.now.Sub(start); elapsed > 60*time.Second {
		t.Errorf("slept past the 60s ceiling: %v elapsed", elapsed)
	}
	// Delays double to the 8s cap: 1+2+4+8+8... = stops before crossing 60s.
	if clock.sleeps == 0 {
		t.Error("expected at least one backoff sleep before hitting the ceiling")
	}
}

func TestDo_QuotaErrorUpgradesAttemptBudget(t *testing.T) {
	clock := newFakeClock()
	c := newTestController(clock)

	calls := 0
	err := c.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("quota exceeded for model requests")
	}, 2, IsRetryable)

	if err == nil {
		t.Fatal("expected failure after exhausting the quota budget")
	}
	if calls < 12 {
		t.Errorf("expected the quota profile to raise the budget to at least 12 attempts, got %d", calls)
	}
	for i, d := range clock.slept {
		if d < 30*time.Second {
			t.Errorf("delay %d below the 30s quota floor: %v", i, d)
		}
	}
}

func TestDo_QuotaFloorHoldsUnderNegativeJitter(t *testing.T) {
	clock := newFakeClock()
	c := newTestController(clock, WithJitterSource(func() float64 { return -1 }))

	calls := 0
	_ = c.Do(context.Background(), func(context.Context) error {
		calls++
		return &HTTPError{StatusCode: 429, Message: "too many requests"}
	}, 1, IsRetryable)

	if calls < 12 {
		t.Errorf("expected at least 12 attempts for a 429, got %d", calls)
	}
	for i, d := range clock.slept {
		if d < 30*time.Second {
			t.Errorf("delay %d dipped below the floor after jitter: %v", i, d)
		}
	}
}

func TestDo_RetryAfterHintRaisesDelay(t *testing.T) {
	clock := newFakeClock()
	c := newTestController(clock)

	calls := 0
	_ = c.Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return &HTTPError{StatusCode: 503, RetryAfter: 5 * time.Second, Message: "maintenance"}
		}
		return nil
	}, 3, IsRetryable)

	if clock.sleeps != 1 {
		t.Fatalf("expected one sleep, got %d", clock.sleeps)
	}
	if clock.slept[0] < 5*time.Second {
		t.Errorf("expected delay raised to the 5s hint, got %v", clock.slept[0])
	}
}

func TestDo_NilPredicateRetriesEverything(t *testing.T) {
	clock := newFakeClock()
	c := newTestController(clock)

	calls := 0
	_ = c.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("opaque failure")
	}, 3, nil)

	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestProfiles(t *testing.T) {
	std := StandardProfile()
	if std.BaseDelay != time.Second || std.MaxDelay != 8*time.Second || std.MaxElapsed != 60*time.Second {
		t.Errorf("unexpected standard profile: %+v", std)
	}

	quota := QuotaProfile()
	if quota.BaseDelay != 30*time.Second || quota.MaxDelay != 300*time.Second {
		t.Errorf("unexpected quota profile: %+v", quota)
	}
	if quota.MinDelay != 30*time.Second || quota.MinAttempts != 12 || quota.MaxElapsed != time.Hour {
		t.Errorf("unexpected quota profile limits: %+v", quota)
	}
}
