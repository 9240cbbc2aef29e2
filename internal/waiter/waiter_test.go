package waiter

import (
	"testing"
	"time"
)

// TestDelay tests base wait accounting.
func TestDelay(t *testing.T) {
	t.Parallel()

	t.Run("first request needs no wait history", func(t *testing.T) {
		t.Parallel()

		w := New(Options{Wait: time.Second})
		if d := w.Delay("h"); d != time.Second {
			t.Errorf("expected full wait for unseen host, got %s", d)
		}
	})

	t.Run("elapsed time reduces the delay", func(t *testing.T) {
		t.Parallel()

		w := New(Options{Wait: 10 * time.Second})
		now := time.Now()
		w.now = func() time.Time { return now }

		w.RequestSent("h")
		now = now.Add(4 * time.Second)
		if d := w.Delay("h"); d != 6*time.Second {
			t.Errorf("expected 6s remaining, got %s", d)
		}

		now = now.Add(10 * time.Second)
		if d := w.Delay("h"); d != 0 {
			t.Errorf("expected no delay after the wait elapsed, got %s", d)
		}
	})

	t.Run("hosts are independent", func(t *testing.T) {
		t.Parallel()

		w := New(Options{Wait: time.Second})
		now := time.Now()
		w.now = func() time.Time { return now }

		w.RequestSent("a")
		if d := w.Delay("b"); d != time.Second {
			t.Errorf("host b must not inherit host a's clock, got %s", d)
		}
	})

	t.Run("random wait stays in range", func(t *testing.T) {
		t.Parallel()

		w := New(Options{Wait: 10 * time.Second, RandomWait: true})

		w.randFloat = func() float64 { return 0 }
		if d := w.Delay("h"); d != 5*time.Second {
			t.Errorf("expected 0.5x at the low end, got %s", d)
		}
		w.randFloat = func() float64 { return 1 }
		if d := w.Delay("h"); d != 15*time.Second {
			t.Errorf("expected 1.5x at the high end, got %s", d)
		}
	})
}

// TestFailure tests the capped exponential backoff curve.
func TestFailure(t *testing.T) {
	t.Parallel()

	w := New(Options{WaitRetry: 10 * time.Second})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second}, // capped
		{10, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := w.Failure("h", tt.attempt); got != tt.want {
			t.Errorf("attempt %d: expected %s, got %s", tt.attempt, tt.want, got)
		}
	}

	// The backoff dominates the next delay.
	if d := w.Delay("h"); d != 10*time.Second {
		t.Errorf("expected backoff-dominated delay, got %s", d)
	}

	// Success clears it.
	w.Success("h")
	if d := w.Delay("h"); d != 0 {
		t.Errorf("expected no delay after success, got %s", d)
	}
}

// TestRateLimited tests 429 handling.
func TestRateLimited(t *testing.T) {
	t.Parallel()

	w := New(Options{Wait: time.Second, RateLimitBackoff: time.Minute})
	if got := w.RateLimited("h"); got != time.Minute {
		t.Errorf("expected extended backoff, got %s", got)
	}
	if d := w.Delay("h"); d != time.Minute {
		t.Errorf("expected 429 backoff applied, got %s", d)
	}

	// Fallback chain when no explicit backoff is configured.
	w2 := New(Options{Wait: time.Second})
	if got := w2.RateLimited("h"); got != time.Second {
		t.Errorf("expected fallback to wait, got %s", got)
	}
}
