package pool

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// dnsEntry is one cached resolution.
type dnsEntry struct {
	addrs    []net.IP
	resolved time.Time
	next     int // rotation cursor
}

// DNSCache caches hostname resolutions with a TTL.
//
// Design decision: We cache at the crawler level rather than relying on the
// resolver because a recursive crawl hits the same few hosts thousands of
// times, and politeness pacing means entries would otherwise expire between
// requests on slow crawls.
type DNSCache struct {
	// resolver performs the actual lookups. Overridable for tests.
	resolver *net.Resolver

	// ttl is how long a resolution stays valid.
	ttl time.Duration

	// rotate cycles through addresses on successive lookups instead of
	// always returning them in resolver order.
	rotate bool

	// timeout bounds a single resolution.
	timeout time.Duration

	mu      sync.Mutex
	entries map[string]*dnsEntry
}

// NewDNSCache creates a DNS cache. ttl of 0 uses one hour. timeout of 0
// disables the per-lookup bound (the dial context still applies).
func NewDNSCache(ttl, timeout time.Duration, rotate bool) *DNSCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &DNSCache{
		resolver: net.DefaultResolver,
		ttl:      ttl,
		rotate:   rotate,
		timeout:  timeout,
		entries:  make(map[string]*dnsEntry),
	}
}

// Resolve returns the addresses for host, consulting the cache first.
// With rotation enabled, the address order shifts by one on each call so
// multi-homed hosts spread load across their addresses.
func (c *DNSCache) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	// IP literals never hit the resolver.
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}

	c.mu.Lock()
	entry, ok := c.entries[host]
	if ok && time.Since(entry.resolved) < c.ttl {
		addrs := rotated(entry.addrs, entry.next)
		if c.rotate {
			entry.next = (entry.next + 1) % len(entry.addrs)
		}
		c.mu.Unlock()
		return addrs, nil
	}
	c.mu.Unlock()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	ips, err := c.resolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no addresses for %s", host)
	}

	c.mu.Lock()
	c.entries[host] = &dnsEntry{addrs: ips, resolved: time.Now()}
	c.mu.Unlock()
	return ips, nil
}

// rotated returns addrs shifted left by n, without mutating the input.
func rotated(addrs []net.IP, n int) []net.IP {
	if n == 0 || len(addrs) < 2 {
		out := make([]net.IP, len(addrs))
		copy(out, addrs)
		return out
	}
	n %= len(addrs)
	out := make([]net.IP, 0, len(addrs))
	out = append(out, addrs[n:]...)
	out = append(out, addrs[:n]...)
	return out
}

// split partitions addresses into IPv4 and IPv6 lists, preserving order.
func split(addrs []net.IP) (v4, v6 []net.IP) {
	for _, ip := range addrs {
		if ip.To4() != nil {
			v4 = append(v4, ip)
		} else {
			v6 = append(v6, ip)
		}
	}
	return v4, v6
}
