package circuitbreaker

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(failures, successes int, timeout time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cb := New(Config{FailureThreshold: failures, SuccessThreshold: successes, Timeout: timeout})
	cb.now = clock.now
	return cb, clock
}

func TestInitialStateClosed(t *testing.T) {
	cb, _ := newTestBreaker(3, 1, 10*time.Second)
	if cb.State() != StateClosed {
		t.Fatalf("expected closed, got %s", cb.State())
	}
	if !cb.Allow() {
		t.Fatal("expected Allow=true when closed")
	}
}

func TestDefaults(t *testing.T) {
	cb := New(Config{})
	if cb.failureThreshold != DefaultFailureThreshold || cb.successThreshold != DefaultSuccessThreshold || cb.timeout != DefaultTimeout {
		t.Fatalf("defaults not applied: %+v", cb)
	}
}

func TestOpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, 1, 10*time.Second)
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %s", cb.State())
	}
	if cb.Allow() {
		t.Fatal("expected Allow=false when open")
	}
}

func TestTransitionsToHalfOpenAfterTimeout(t *testing.T) {
	cb, clock := newTestBreaker(1, 1, time.Second)
	cb.RecordFailure()
	clock.advance(500 * time.Millisecond)
	if cb.State() != StateOpen {
		t.Fatalf("expected still open before timeout, got %s", cb.State())
	}
	clock.advance(time.Second)
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half_open after timeout, got %s", cb.State())
	}
	if !cb.Allow() {
		t.Fatal("expected Allow=true when half_open")
	}
}

func TestClosesAfterSuccessesInHalfOpen(t *testing.T) {
	cb, clock := newTestBreaker(1, 2, time.Second)
	cb.RecordFailure()
	clock.advance(2 * time.Second)
	_ = cb.State() // trigger half-open transition
	cb.RecordSuccess()
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half_open after 1 of 2 successes, got %s", cb.State())
	}
	cb.RecordSuccess()
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after 2 successes, got %s", cb.State())
	}
}

func TestReopensOnFailureInHalfOpen(t *testing.T) {
	cb, clock := newTestBreaker(1, 1, time.Second)
	cb.RecordFailure()
	clock.advance(2 * time.Second)
	_ = cb.State() // trigger half-open transition
	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("expected open after failure in half_open, got %s", cb.State())
	}
}

func TestSuccessResetFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(3, 1, 10*time.Second)
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != StateClosed {
		t.Fatalf("expected still closed (failure count reset), got %s", cb.State())
	}
}

func TestSnapshotAndReset(t *testing.T) {
	cb, clock := newTestBreaker(2, 1, time.Minute)
	cb.RecordFailure()
	cb.RecordFailure()

	s := cb.Snapshot()
	if s.State != "open" || s.Failures != 2 || s.FailureLimit != 2 {
		t.Fatalf("unexpected snapshot: %+v", s)
	}
	if !s.OpenUntil.Equal(clock.t.Add(time.Minute)) {
		t.Errorf("OpenUntil = %v", s.OpenUntil)
	}

	cb.Reset()
	if cb.State() != StateClosed || cb.Snapshot().Failures != 0 {
		t.Fatalf("expected closed breaker after reset, got %+v", cb.Snapshot())
	}
}
