package fetch

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/webgrab/webgrab/internal/urlx"
)

// Tracker follows one logical request's redirect chain. It enforces the
// hop limit, detects cycles, and decides header carryover per hop.
type Tracker struct {
	// maxHops is the redirect budget (--max-redirect).
	maxHops int

	// origin is the URL the chain started from, for cross-origin checks.
	origin *urlx.Parsed

	// visited holds the key of every URL seen in this chain.
	visited map[string]bool

	// hops counts redirects followed so far.
	hops int
}

// NewTracker creates a tracker for a chain starting at origin.
func NewTracker(origin *urlx.Parsed, maxHops int) *Tracker {
	return &Tracker{
		maxHops: maxHops,
		origin:  origin,
		visited: map[string]bool{origin.Key(): true},
	}
}

// Hop is the tracker's decision for one redirect.
type Hop struct {
	// URL is the normalized redirect target.
	URL *urlx.Parsed

	// Method is the method for the next request: 303 always converts to
	// GET, and 301/302 convert POST to GET per browser practice.
	Method string

	// StripAuth is true when the Authorization header must not carry
	// over because the target is cross-origin.
	StripAuth bool

	// SpanHost is true when the target's host differs from the chain's
	// origin, for strong-redirect filter classification.
	SpanHost bool
}

// Hops returns the number of redirects followed so far.
func (t *Tracker) Hops() int {
	return t.hops
}

// Follow validates a redirect from current to the Location target and
// returns the next hop. It fails with ErrTooManyRedirects past the budget
// and ErrRedirectCycle when the chain revisits a URL.
func (t *Tracker) Follow(current *urlx.Parsed, status int, location, method string) (*Hop, error) {
	if location == "" {
		return nil, fmt.Errorf("redirect %d without Location from %s", status, current)
	}
	if t.hops >= t.maxHops {
		return nil, fmt.Errorf("%w: %d hops from %s", ErrTooManyRedirects, t.hops, t.origin)
	}

	target, err := current.Resolve(location)
	if err != nil {
		return nil, fmt.Errorf("unresolvable redirect target %q: %w", location, err)
	}
	if t.visited[target.Key()] {
		return nil, fmt.Errorf("%w: %s revisited", ErrRedirectCycle, target)
	}
	t.visited[target.Key()] = true
	t.hops++

	hop := &Hop{URL: target, Method: method}
	switch status {
	case http.StatusSeeOther:
		hop.Method = http.MethodGet
	case http.StatusMovedPermanently, http.StatusFound:
		if method == http.MethodPost {
			hop.Method = http.MethodGet
		}
	}

	if !sameOrigin(t.origin, target) {
		hop.StripAuth = true
	}
	hop.SpanHost = !strings.EqualFold(t.origin.Host, target.Host)
	return hop, nil
}

// sameOrigin compares scheme, host, and port.
func sameOrigin(a, b *urlx.Parsed) bool {
	return a.Scheme == b.Scheme && strings.EqualFold(a.Host, b.Host) && a.Port == b.Port
}
