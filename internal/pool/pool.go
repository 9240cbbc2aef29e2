package pool

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"golang.org/x/sync/semaphore"
)

// Default pool limits.
const (
	// DefaultHostLimit is the maximum connections per (scheme, host, port).
	DefaultHostLimit = 6

	// DefaultIdleTimeout is how long an idle connection survives before
	// aging out of the pool.
	DefaultIdleTimeout = 90 * time.Second

	// happyEyeballsDelay is the stagger between the preferred and fallback
	// address family dial attempts, per RFC 8305.
	happyEyeballsDelay = 250 * time.Millisecond
)

// TLSPolicy configures the TLS behavior of new connections.
type TLSPolicy struct {
	// MinVersion and MaxVersion bound the negotiated protocol version.
	// Zero values keep the runtime defaults.
	MinVersion uint16
	MaxVersion uint16

	// InsecureSkipVerify disables certificate verification
	// (--no-check-certificate).
	InsecureSkipVerify bool

	// ClientCert is presented to servers requesting client auth.
	ClientCert *tls.Certificate

	// RootCAs overrides the system certificate pool when non-nil
	// (--ca-certificate / --ca-directory).
	RootCAs *x509.CertPool
}

// Options configures a Pool.
type Options struct {
	// HostLimit caps connections per (scheme, host, port). 0 uses
	// DefaultHostLimit.
	HostLimit int

	// TotalLimit caps connections across all hosts. 0 means the
	// concurrency setting of the engine; the pool treats 0 as unlimited
	// and trusts the engine's task bound.
	TotalLimit int

	// IdleTimeout ages idle connections out of the pool. 0 uses
	// DefaultIdleTimeout.
	IdleTimeout time.Duration

	// ConnectTimeout bounds a single dial attempt.
	ConnectTimeout time.Duration

	// DNSTimeout bounds a single resolution.
	DNSTimeout time.Duration

	// DNSRotate cycles through addresses of multi-homed hosts.
	DNSRotate bool

	// BindAddress binds the local side of new connections when non-empty.
	BindAddress string

	// KeepAlive disables HTTP keep-alive when false, closing each
	// connection after one exchange.
	KeepAlive bool

	// TLS is the TLS policy for https connections.
	TLS TLSPolicy

	// Proxy selects a proxy per request. Nil uses the environment
	// (http_proxy, https_proxy, no_proxy).
	Proxy func(*http.Request) (*url.URL, error)
}

// Pool builds and owns the HTTP transport used by the fetcher.
//
// Design decision: We wrap http.Transport rather than managing raw
// connections because the transport already implements per-host caching,
// idle aging, and HTTP/1.1 framing; the pool's job is to own its dialer
// (DNS cache, Happy Eyeballs, bind address), its limits, and the global
// in-flight semaphore that the transport lacks.
type Pool struct {
	// transport is the shared HTTP transport.
	transport *http.Transport

	// dns is the crawl-wide resolution cache.
	dns *DNSCache

	// global bounds total concurrent exchanges when TotalLimit > 0.
	global *semaphore.Weighted

	// connectTimeout bounds a single dial attempt.
	connectTimeout time.Duration

	// bindAddr is the optional local address for new connections.
	bindAddr *net.TCPAddr
}

// New creates a connection pool with the given options.
func New(opts Options) (*Pool, error) {
	hostLimit := opts.HostLimit
	if hostLimit <= 0 {
		hostLimit = DefaultHostLimit
	}
	idle := opts.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}

	p := &Pool{
		dns:            NewDNSCache(time.Hour, opts.DNSTimeout, opts.DNSRotate),
		connectTimeout: opts.ConnectTimeout,
	}
	if opts.TotalLimit > 0 {
		p.global = semaphore.NewWeighted(int64(opts.TotalLimit))
	}
	if opts.BindAddress != "" {
		ip := net.ParseIP(opts.BindAddress)
		if ip == nil {
			return nil, fmt.Errorf("invalid bind address %q", opts.BindAddress)
		}
		p.bindAddr = &net.TCPAddr{IP: ip}
	}

	tlsConfig := &tls.Config{
		MinVersion:         opts.TLS.MinVersion,
		MaxVersion:         opts.TLS.MaxVersion,
		InsecureSkipVerify: opts.TLS.InsecureSkipVerify, //nolint:gosec // --no-check-certificate
		RootCAs:            opts.TLS.RootCAs,
	}
	if opts.TLS.ClientCert != nil {
		tlsConfig.Certificates = []tls.Certificate{*opts.TLS.ClientCert}
	}

	proxy := opts.Proxy
	if proxy == nil {
		proxy = http.ProxyFromEnvironment
	}

	p.transport = &http.Transport{
		Proxy:                 proxy,
		DialContext:           p.dialContext,
		TLSClientConfig:       tlsConfig,
		MaxConnsPerHost:       hostLimit,
		MaxIdleConnsPerHost:   hostLimit,
		IdleConnTimeout:       idle,
		DisableKeepAlives:     !opts.KeepAlive,
		DisableCompression:    true, // the fetcher negotiates and decodes itself
		ExpectContinueTimeout: time.Second,
	}

	return p, nil
}

// Transport returns the pooled transport for use by an http.Client.
func (p *Pool) Transport() http.RoundTripper {
	return p.transport
}

// Acquire blocks until a global connection slot is free.
// It is a no-op without a total limit.
func (p *Pool) Acquire(ctx context.Context) error {
	if p.global == nil {
		return nil
	}
	return p.global.Acquire(ctx, 1)
}

// Release returns a global connection slot.
func (p *Pool) Release() {
	if p.global != nil {
		p.global.Release(1)
	}
}

// CloseIdle drops all idle connections, used on graceful stop.
func (p *Pool) CloseIdle() {
	p.transport.CloseIdleConnections()
}

// dialContext resolves via the DNS cache and dials with Happy Eyeballs:
// the preferred family starts immediately, the other after a short stagger,
// and the first connection to complete wins.
func (p *Pool) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid dial address %q: %w", addr, err)
	}

	addrs, err := p.dns.Resolve(ctx, host)
	if err != nil {
		return nil, err
	}

	if p.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.connectTimeout)
		defer cancel()
	}

	v4, v6 := split(addrs)
	switch {
	case len(v6) == 0:
		return p.dialSerial(ctx, v4, port)
	case len(v4) == 0:
		return p.dialSerial(ctx, v6, port)
	default:
		return p.dialRace(ctx, v4, v6, port)
	}
}

// dialSerial tries each address in order until one connects.
func (p *Pool) dialSerial(ctx context.Context, addrs []net.IP, port string) (net.Conn, error) {
	var firstErr error
	for _, ip := range addrs {
		conn, err := p.dialOne(ctx, ip, port)
		if err == nil {
			return conn, nil
		}
		if firstErr == nil {
			firstErr = err
		}
		if ctx.Err() != nil {
			break
		}
	}
	if firstErr == nil {
		firstErr = fmt.Errorf("no addresses to dial")
	}
	return nil, firstErr
}

// dialRace starts the IPv4 attempt immediately and the IPv6 attempt after
// the Happy-Eyeballs stagger; the loser is closed.
func (p *Pool) dialRace(ctx context.Context, v4, v6 []net.IP, port string) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan result, 2)
	go func() {
		conn, err := p.dialSerial(ctx, v4, port)
		results <- result{conn, err}
	}()
	go func() {
		select {
		case <-ctx.Done():
			results <- result{nil, ctx.Err()}
			return
		case <-time.After(happyEyeballsDelay):
		}
		conn, err := p.dialSerial(ctx, v6, port)
		results <- result{conn, err}
	}()

	var firstErr error
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err == nil {
			cancel()
			// Drain and close the loser without blocking the caller.
			go func() {
				if late := <-results; late.conn != nil {
					_ = late.conn.Close()
				}
			}()
			return r.conn, nil
		}
		if firstErr == nil {
			firstErr = r.err
		}
	}
	return nil, firstErr
}

// dialOne dials a single resolved address.
func (p *Pool) dialOne(ctx context.Context, ip net.IP, port string) (net.Conn, error) {
	d := net.Dialer{}
	if p.bindAddr != nil {
		d.LocalAddr = p.bindAddr
	}
	return d.DialContext(ctx, "tcp", net.JoinHostPort(ip.String(), port))
}

// LoadRootCAs builds a certificate pool from a PEM file and/or a directory
// of PEM files. Either argument may be empty.
func LoadRootCAs(certFile, certDir string) (*x509.CertPool, error) {
	if certFile == "" && certDir == "" {
		return nil, nil
	}
	cas := x509.NewCertPool()
	if certFile != "" {
		pem, err := os.ReadFile(certFile) //nolint:gosec // user-provided CA path
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		if !cas.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", certFile)
		}
	}
	if certDir != "" {
		entries, err := os.ReadDir(certDir)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA directory: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			pem, err := os.ReadFile(certDir + "/" + e.Name()) //nolint:gosec // user-provided CA dir
			if err != nil {
				continue
			}
			cas.AppendCertsFromPEM(pem)
		}
	}
	return cas, nil
}
