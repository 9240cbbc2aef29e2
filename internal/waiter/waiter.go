package waiter

import (
	"math/rand"
	"sync"
	"time"
)

// Options configures a Waiter.
type Options struct {
	// Wait is the base delay between requests to one host (--wait).
	Wait time.Duration

	// RandomWait scales each delay by a uniform factor in [0.5, 1.5]
	// (--random-wait), making the crawl harder to fingerprint.
	RandomWait bool

	// WaitRetry caps the exponential retry backoff (--waitretry).
	WaitRetry time.Duration

	// RateLimitBackoff is the extended delay applied after a 429
	// response. 0 falls back to WaitRetry, then Wait.
	RateLimitBackoff time.Duration
}

// hostState is the pacing bookkeeping for one host.
type hostState struct {
	lastRequest time.Time
	backoff     time.Duration
}

// Waiter tracks per-host politeness state.
type Waiter struct {
	opts Options

	mu    sync.Mutex
	hosts map[string]*hostState

	// now and randFloat are injectable for tests.
	now       func() time.Time
	randFloat func() float64
}

// New creates a Waiter.
func New(opts Options) *Waiter {
	return &Waiter{
		opts:      opts,
		hosts:     make(map[string]*hostState),
		now:       time.Now,
		randFloat: rand.Float64,
	}
}

// Delay returns how long the caller must sleep before sending the next
// request to host. It accounts for the base wait, the time already elapsed
// since the host's last request, and any pending retry backoff.
func (w *Waiter) Delay(host string) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := w.hosts[host]
	if s == nil {
		s = &hostState{}
		w.hosts[host] = s
	}

	delay := w.opts.Wait
	if w.opts.RandomWait && delay > 0 {
		// Uniform in [0.5, 1.5] of the base wait.
		delay = time.Duration(float64(delay) * (0.5 + w.randFloat()))
	}
	if s.backoff > delay {
		delay = s.backoff
	}

	if !s.lastRequest.IsZero() {
		elapsed := w.now().Sub(s.lastRequest)
		delay -= elapsed
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// RequestSent records that a request went to host now, restarting its
// politeness clock.
func (w *Waiter) RequestSent(host string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.hosts[host]
	if s == nil {
		s = &hostState{}
		w.hosts[host] = s
	}
	s.lastRequest = w.now()
}

// Failure records a retryable failure for host and returns the backoff to
// apply before the next attempt: min(2^attempt seconds, waitretry).
func (w *Waiter) Failure(host string, attempt int) time.Duration {
	backoff := time.Duration(1<<uint(min(attempt, 30))) * time.Second //nolint:gosec // bounded shift
	if w.opts.WaitRetry > 0 && backoff > w.opts.WaitRetry {
		backoff = w.opts.WaitRetry
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.hosts[host]
	if s == nil {
		s = &hostState{}
		w.hosts[host] = s
	}
	s.backoff = backoff
	return backoff
}

// RateLimited records a 429 response for host, applying the extended
// backoff.
func (w *Waiter) RateLimited(host string) time.Duration {
	backoff := w.opts.RateLimitBackoff
	if backoff == 0 {
		backoff = w.opts.WaitRetry
	}
	if backoff == 0 {
		backoff = w.opts.Wait
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.hosts[host]
	if s == nil {
		s = &hostState{}
		w.hosts[host] = s
	}
	s.backoff = backoff
	return backoff
}

// Success clears host's retry backoff after a completed request.
func (w *Waiter) Success(host string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if s := w.hosts[host]; s != nil {
		s.backoff = 0
	}
}
