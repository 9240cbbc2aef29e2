package robots

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

// Cache tuning defaults.
const (
	// DefaultTTL is how long a parsed robots.txt stays valid.
	DefaultTTL = 24 * time.Hour

	// DefaultMaxAttempts is how many failed network fetches are tolerated
	// before a site is treated as allow-all.
	DefaultMaxAttempts = 3
)

// ErrUnavailable is returned while a site's robots.txt is temporarily
// unfetchable (5xx or network error with attempts remaining). The engine
// requeues the asking URL with backoff.
var ErrUnavailable = errors.New("robots.txt temporarily unavailable")

// outcome classifies a cached entry.
type outcome int

const (
	outcomeAllowAll outcome = iota
	outcomeDenyAll
	outcomeRules
)

// FetchFunc fetches a robots.txt URL and returns the status code and body.
// The engine supplies a function wired through the normal fetcher so the
// exchange lands in the WARC like everything else.
type FetchFunc func(ctx context.Context, robotsURL string) (status int, body []byte, err error)

// entry is one cached robots.txt evaluation.
type entry struct {
	outcome  outcome
	group    *robotstxt.RobotsData
	fetched  time.Time
	failures int
}

// Cache is the per-site robots.txt store.
type Cache struct {
	// fetch retrieves robots.txt bodies.
	fetch FetchFunc

	// ttl is the entry refresh interval.
	ttl time.Duration

	// maxAttempts bounds network retries before allow-all.
	maxAttempts int

	// logger records fetch outcomes.
	logger *slog.Logger

	// flight collapses concurrent fetches for the same site.
	flight singleflight.Group

	mu      sync.Mutex
	entries map[string]*entry

	// now is the clock, overridable in tests.
	now func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides the entry refresh interval.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		c.ttl = ttl
	}
}

// WithMaxAttempts overrides how many failed fetches precede allow-all.
func WithMaxAttempts(n int) Option {
	return func(c *Cache) {
		c.maxAttempts = n
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// NewCache creates a robots cache that fetches through fetch.
func NewCache(fetch FetchFunc, opts ...Option) *Cache {
	c := &Cache{
		fetch:       fetch,
		ttl:         DefaultTTL,
		maxAttempts: DefaultMaxAttempts,
		entries:     make(map[string]*entry),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Check reports whether userAgent may fetch path on the given site.
// The first call per site fetches and parses robots.txt; concurrent calls
// for the same site share one fetch. Check returns ErrUnavailable while
// the site's robots.txt is transiently unfetchable.
func (c *Cache) Check(ctx context.Context, scheme, host, port, path, userAgent string) (bool, error) {
	key := scheme + "://" + host + ":" + port

	c.mu.Lock()
	e, ok := c.entries[key]
	fresh := ok && c.now().Sub(e.fetched) < c.ttl
	c.mu.Unlock()

	if !fresh {
		if err := c.refresh(ctx, key, scheme, host, port); err != nil {
			return false, err
		}
		c.mu.Lock()
		e = c.entries[key]
		c.mu.Unlock()
	}

	switch e.outcome {
	case outcomeAllowAll:
		return true, nil
	case outcomeDenyAll:
		return false, nil
	default:
		return e.group.TestAgent(path, userAgent), nil
	}
}

// Allowed is the filter-chain adapter: it answers from the cache, treating
// transient unavailability as a deny. A chain rejection settles the URL as
// skipped; only the engine's own robots step, which calls Check, requeues
// on ErrUnavailable.
func (c *Cache) Allowed(scheme, host, port, path, userAgent string) bool {
	ok, err := c.Check(context.Background(), scheme, host, port, path, userAgent)
	if err != nil {
		return false
	}
	return ok
}

// refresh fetches and parses robots.txt for a site, collapsing concurrent
// callers into a single fetch.
func (c *Cache) refresh(ctx context.Context, key, scheme, host, port string) error {
	_, err, _ := c.flight.Do(key, func() (any, error) {
		robotsURL := fmt.Sprintf("%s://%s:%s/robots.txt", scheme, host, port)
		status, body, err := c.fetch(ctx, robotsURL)

		c.mu.Lock()
		defer c.mu.Unlock()
		e := c.entries[key]
		if e == nil {
			e = &entry{}
			c.entries[key] = e
		}

		if err != nil {
			e.failures++
			c.logger.Debug("robots.txt fetch failed",
				"site", key,
				"attempt", e.failures,
				"error", err,
			)
			if e.failures >= c.maxAttempts {
				// The site is reachable enough to crawl or the engine
				// would not be asking; stop blocking on robots.txt.
				e.outcome = outcomeAllowAll
				e.fetched = c.now()
				return nil, nil
			}
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		switch {
		case status >= 500:
			e.failures++
			if e.failures >= c.maxAttempts {
				e.outcome = outcomeAllowAll
				e.fetched = c.now()
				return nil, nil
			}
			return nil, fmt.Errorf("%w: status %d", ErrUnavailable, status)
		case status >= 400:
			// No robots.txt means no restrictions.
			e.outcome = outcomeAllowAll
			e.fetched = c.now()
			e.failures = 0
			return nil, nil
		}

		data, err := robotstxt.FromBytes(body)
		if err != nil {
			// Unparseable robots.txt is treated as absent, matching the
			// permissive behavior of major crawlers.
			c.logger.Debug("robots.txt parse failed", "site", key, "error", err)
			e.outcome = outcomeAllowAll
			e.fetched = c.now()
			e.failures = 0
			return nil, nil
		}

		e.outcome = outcomeRules
		e.group = data
		e.fetched = c.now()
		e.failures = 0
		return nil, nil
	})
	return err
}
