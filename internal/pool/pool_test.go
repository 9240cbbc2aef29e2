package pool

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestDNSCache tests caching and rotation.
func TestDNSCache(t *testing.T) {
	t.Parallel()

	t.Run("IP literals bypass the resolver", func(t *testing.T) {
		t.Parallel()

		c := NewDNSCache(time.Hour, 0, false)
		addrs, err := c.Resolve(context.Background(), "127.0.0.1")
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if len(addrs) != 1 || addrs[0].String() != "127.0.0.1" {
			t.Errorf("unexpected addresses: %v", addrs)
		}
	})

	t.Run("rotation shifts cached addresses", func(t *testing.T) {
		t.Parallel()

		c := NewDNSCache(time.Hour, 0, true)
		c.entries["multi.example"] = &dnsEntry{
			addrs:    []net.IP{net.ParseIP("10.0.0.1"), net.ParseIP("10.0.0.2")},
			resolved: time.Now(),
		}

		first, err := c.Resolve(context.Background(), "multi.example")
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		second, err := c.Resolve(context.Background(), "multi.example")
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if first[0].Equal(second[0]) {
			t.Errorf("expected rotation, got %v then %v", first[0], second[0])
		}
	})

	t.Run("expired entries are refreshed", func(t *testing.T) {
		t.Parallel()

		c := NewDNSCache(time.Nanosecond, 0, false)
		c.entries["stale.invalid"] = &dnsEntry{
			addrs:    []net.IP{net.ParseIP("10.0.0.1")},
			resolved: time.Now().Add(-time.Second),
		}

		// The stale entry must not be served; the lookup of a nonexistent
		// name then fails at the resolver.
		if _, err := c.Resolve(context.Background(), "stale.invalid"); err == nil {
			t.Error("expected resolver error for expired entry of invalid host")
		}
	})
}

// TestSplit tests address family partitioning.
func TestSplit(t *testing.T) {
	t.Parallel()

	addrs := []net.IP{
		net.ParseIP("10.0.0.1"),
		net.ParseIP("::1"),
		net.ParseIP("10.0.0.2"),
	}
	v4, v6 := split(addrs)
	if len(v4) != 2 || len(v6) != 1 {
		t.Errorf("expected 2 v4 and 1 v6, got %d and %d", len(v4), len(v6))
	}
}

// TestPoolDial tests a full exchange through the pooled transport.
func TestPoolDial(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, err := New(Options{KeepAlive: true, ConnectTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	client := &http.Client{Transport: p.Transport()}

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("request through pool failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

// TestGlobalLimit tests the crawl-wide semaphore.
func TestGlobalLimit(t *testing.T) {
	t.Parallel()

	p, err := New(Options{TotalLimit: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx := context.Background()
	if err := p.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}

	timed, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := p.Acquire(timed); err == nil {
		t.Fatal("second Acquire should block until release")
	}

	p.Release()
	if err := p.Acquire(ctx); err != nil {
		t.Fatalf("Acquire after Release failed: %v", err)
	}
	p.Release()
}

// TestInvalidBindAddress tests option validation.
func TestInvalidBindAddress(t *testing.T) {
	t.Parallel()

	if _, err := New(Options{BindAddress: "not-an-ip"}); err == nil {
		t.Fatal("expected error for invalid bind address")
	}
}
