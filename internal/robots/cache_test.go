package robots

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func staticFetch(status int, body string) (FetchFunc, *atomic.Int64) {
	var calls atomic.Int64
	return func(_ context.Context, _ string) (int, []byte, error) {
		calls.Add(1)
		return status, []byte(body), nil
	}, &calls
}

// TestCheck tests rule evaluation.
func TestCheck(t *testing.T) {
	t.Parallel()

	t.Run("disallow rule blocks matching paths", func(t *testing.T) {
		t.Parallel()

		fetch, _ := staticFetch(200, "User-agent: *\nDisallow: /x/\n")
		c := NewCache(fetch)

		allowed, err := c.Check(context.Background(), "http", "h", "80", "/x/y", "webgrab")
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		if allowed {
			t.Error("/x/y must be disallowed")
		}

		allowed, err = c.Check(context.Background(), "http", "h", "80", "/y", "webgrab")
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		if !allowed {
			t.Error("/y must be allowed")
		}
	})

	t.Run("allow overrides shorter disallow", func(t *testing.T) {
		t.Parallel()

		fetch, _ := staticFetch(200, "User-agent: *\nDisallow: /a/\nAllow: /a/public/\n")
		c := NewCache(fetch)

		allowed, err := c.Check(context.Background(), "http", "h", "80", "/a/public/x", "webgrab")
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		if !allowed {
			t.Error("longest match must win")
		}
	})

	t.Run("404 means allow all", func(t *testing.T) {
		t.Parallel()

		fetch, _ := staticFetch(404, "")
		c := NewCache(fetch)

		allowed, err := c.Check(context.Background(), "http", "h", "80", "/anything", "webgrab")
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		if !allowed {
			t.Error("missing robots.txt must allow all")
		}
	})

	t.Run("5xx is transient then allow-all", func(t *testing.T) {
		t.Parallel()

		fetch, calls := staticFetch(500, "")
		c := NewCache(fetch, WithMaxAttempts(2))

		if _, err := c.Check(context.Background(), "http", "h", "80", "/a", "webgrab"); !errors.Is(err, ErrUnavailable) {
			t.Fatalf("expected ErrUnavailable, got %v", err)
		}

		// Second attempt exhausts the budget and flips to allow-all.
		allowed, err := c.Check(context.Background(), "http", "h", "80", "/a", "webgrab")
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		if !allowed {
			t.Error("exhausted attempts must allow all")
		}
		if calls.Load() != 2 {
			t.Errorf("expected 2 fetches, got %d", calls.Load())
		}
	})

	t.Run("network errors behave like 5xx", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int64
		fetch := func(_ context.Context, _ string) (int, []byte, error) {
			calls.Add(1)
			return 0, nil, errors.New("connection refused")
		}
		c := NewCache(fetch, WithMaxAttempts(1))

		allowed, err := c.Check(context.Background(), "http", "h", "80", "/a", "webgrab")
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		if !allowed {
			t.Error("exhausted network attempts must allow all")
		}
	})
}

// TestCacheTTL tests entry reuse and refresh.
func TestCacheTTL(t *testing.T) {
	t.Parallel()

	fetch, calls := staticFetch(200, "User-agent: *\nDisallow:\n")
	c := NewCache(fetch, WithTTL(time.Hour))

	now := time.Now()
	c.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		if _, err := c.Check(context.Background(), "http", "h", "80", "/a", "webgrab"); err != nil {
			t.Fatalf("Check failed: %v", err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 fetch within TTL, got %d", calls.Load())
	}

	now = now.Add(2 * time.Hour)
	if _, err := c.Check(context.Background(), "http", "h", "80", "/a", "webgrab"); err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected refresh after TTL, got %d fetches", calls.Load())
	}
}

// TestSitesAreIndependent tests per-site isolation.
func TestSitesAreIndependent(t *testing.T) {
	t.Parallel()

	fetch := func(_ context.Context, robotsURL string) (int, []byte, error) {
		if robotsURL == "http://closed:80/robots.txt" {
			return 200, []byte("User-agent: *\nDisallow: /\n"), nil
		}
		return 404, nil, nil
	}
	c := NewCache(fetch)

	allowed, err := c.Check(context.Background(), "http", "closed", "80", "/a", "webgrab")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if allowed {
		t.Error("closed site must deny")
	}

	allowed, err = c.Check(context.Background(), "http", "open", "80", "/a", "webgrab")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !allowed {
		t.Error("open site must allow")
	}
}
