package fetch

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/sha1" //nolint:gosec // WARC payload digests are defined over SHA-1
	"encoding/base32"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/time/rate"

	"github.com/webgrab/webgrab/internal/urlx"
)

// Request describes one logical fetch before redirects.
type Request struct {
	// URL is the normalized target.
	URL *urlx.Parsed

	// Method defaults to GET, or POST when PostData is set.
	Method string

	// Header carries extra request headers (--header).
	Header http.Header

	// PostData is an optional request body.
	PostData string

	// Referer is the Referer header value, empty for none.
	Referer string

	// Range requests a byte range for --continue resumption.
	Range string
}

// Response is the result of one exchange.
type Response struct {
	// URL is the URL this response answered (the last hop's target).
	URL *urlx.Parsed

	// StatusCode and Proto are the wire status line parts.
	StatusCode int
	Proto      string

	// Header holds the response headers. When the fetcher decoded a
	// negotiated content coding, Content-Encoding and Content-Length are
	// removed so headers and stored body stay consistent.
	Header http.Header

	// Body is the buffered entity body, decoded of transfer and
	// negotiated content codings. Nil for responses without bodies.
	Body *Spool

	// Length is the entity body length in bytes.
	Length int64

	// PayloadDigest is sha1:<base32> over the entity body.
	PayloadDigest string

	// ContentType is the media type without parameters.
	ContentType string

	// IPAddress is the remote address the exchange used.
	IPAddress string

	// Duration is the wall-clock time of the exchange.
	Duration time.Duration
}

// Exchange is one request/response pair on the wire, delivered to the
// recorder observer. Redirect chains produce one Exchange per hop.
type Exchange struct {
	// Method, URL, and RequestHeader describe the request as sent.
	Method        string
	URL           *urlx.Parsed
	RequestHeader http.Header

	// RequestBody is the request entity, empty for GET.
	RequestBody string

	// Response is nil when the exchange failed before response headers
	// arrived; Err then carries the failure.
	Response *Response

	// Err is the failure, if any.
	Err error
}

// Observer receives each completed exchange, in wire order.
// The WARC recorder is the primary implementation.
type Observer interface {
	// Exchange is called after the exchange's body is fully buffered,
	// or with Response == nil when the attempt failed early.
	Exchange(ex *Exchange)
}

// Timeouts bounds the phases of an exchange. Zero disables a bound.
// DNS and connect timeouts live in the connection pool's dialer.
type Timeouts struct {
	// Read bounds the gap between successive body reads.
	Read time.Duration

	// Session bounds the whole logical fetch including redirects.
	Session time.Duration
}

// Fetcher executes logical fetches over a pooled transport.
//
// Design decision: We keep redirect following inside the fetcher rather
// than in the engine because the WARC file must contain every hop of the
// chain in wire order, and the politeness waiter treats the chain as one
// request against the origin host.
type Fetcher struct {
	// client is the HTTP client over the pooled transport. Redirects are
	// handled by the Tracker, not the client.
	client *http.Client

	// userAgent is the User-Agent header for all requests.
	userAgent string

	// maxRedirects is the per-request hop budget.
	maxRedirects int

	// maxBodySize aborts bodies larger than this. 0 means unlimited.
	maxBodySize int64

	// ignoreLength disables the body size limit (--ignore-length).
	ignoreLength bool

	// compression requests and decodes gzip/deflate/brotli bodies.
	compression bool

	// limiter paces body reads (--limit-rate). Nil means unpaced.
	limiter *rate.Limiter

	// spillThreshold and spillDir configure body spools.
	spillThreshold int64
	spillDir       string

	// timeouts are the read/session bounds.
	timeouts Timeouts

	// meter receives body byte counts for statistics. Nil disables.
	meter func(n int64)
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) FetcherOption {
	return func(f *Fetcher) { f.userAgent = ua }
}

// WithMaxRedirects sets the redirect hop budget.
func WithMaxRedirects(n int) FetcherOption {
	return func(f *Fetcher) { f.maxRedirects = n }
}

// WithMaxBodySize bounds response bodies; ignore disables the bound while
// keeping it configured for reporting.
func WithMaxBodySize(size int64, ignore bool) FetcherOption {
	return func(f *Fetcher) {
		f.maxBodySize = size
		f.ignoreLength = ignore
	}
}

// WithCompression enables transparent gzip/deflate/brotli negotiation.
func WithCompression(enabled bool) FetcherOption {
	return func(f *Fetcher) { f.compression = enabled }
}

// WithRateLimit paces body reads to bytesPerSecond. 0 disables pacing.
func WithRateLimit(bytesPerSecond int64) FetcherOption {
	return func(f *Fetcher) {
		if bytesPerSecond > 0 {
			f.limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), int(bytesPerSecond))
		}
	}
}

// WithSpill configures body spool threshold and directory.
func WithSpill(threshold int64, dir string) FetcherOption {
	return func(f *Fetcher) {
		f.spillThreshold = threshold
		f.spillDir = dir
	}
}

// WithTimeouts sets the read and session bounds.
func WithTimeouts(t Timeouts) FetcherOption {
	return func(f *Fetcher) { f.timeouts = t }
}

// WithMeter registers a callback receiving downloaded byte counts.
func WithMeter(meter func(n int64)) FetcherOption {
	return func(f *Fetcher) { f.meter = meter }
}

// NewFetcher creates a fetcher over the given transport. The transport
// comes from the connection pool; the cookie jar attaches here so every
// exchange shares it.
func NewFetcher(transport http.RoundTripper, jar http.CookieJar, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client: &http.Client{
			Transport: transport,
			Jar:       jar,
			// Redirects are followed by the Tracker so each hop is
			// observed and recorded individually.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		userAgent:    "webgrab/1.0",
		maxRedirects: 20,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Do executes one logical fetch: the request plus any redirect chain.
// Each hop is delivered to obs before the next begins. The returned
// outcome is Completed with the final response, or a classified failure.
// The caller owns the response body spool and must Release it.
func (f *Fetcher) Do(ctx context.Context, req *Request, obs Observer) *Outcome {
	if f.timeouts.Session > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeouts.Session)
		defer cancel()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
		if req.PostData != "" {
			method = http.MethodPost
		}
	}

	tracker := NewTracker(req.URL, f.maxRedirects)
	target := req.URL
	body := req.PostData
	stripAuth := false

	for {
		resp, err := f.exchange(ctx, target, method, body, req, stripAuth, obs)
		if err != nil {
			return FailedOutcome(err)
		}

		if !isRedirect(resp.StatusCode) {
			return CompletedOutcome(resp)
		}

		hop, err := tracker.Follow(target, resp.StatusCode, resp.Header.Get("Location"), method)
		if resp.Body != nil {
			resp.Body.Release()
		}
		if err != nil {
			return FailedOutcome(err)
		}

		target = hop.URL
		method = hop.Method
		if method == http.MethodGet {
			body = ""
		}
		if hop.StripAuth {
			stripAuth = true
		}
	}
}

// exchange performs a single hop and buffers its body.
func (f *Fetcher) exchange(ctx context.Context, target *urlx.Parsed, method, body string, orig *Request, stripAuth bool, obs Observer) (*Response, error) {
	var reqBody io.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("User-Agent", f.userAgent)
	httpReq.Header.Set("Accept", "*/*")
	if f.compression {
		httpReq.Header.Set("Accept-Encoding", "gzip, deflate, br")
	}
	if orig.Referer != "" {
		httpReq.Header.Set("Referer", orig.Referer)
	}
	if orig.Range != "" {
		httpReq.Header.Set("Range", orig.Range)
	}
	if body != "" {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for k, vals := range orig.Header {
		httpReq.Header.Del(k)
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}
	if stripAuth {
		httpReq.Header.Del("Authorization")
	}

	// Capture the remote address for the WARC-IP-Address field.
	var remoteAddr string
	trace := &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			if info.Conn != nil {
				if host, _, err := net.SplitHostPort(info.Conn.RemoteAddr().String()); err == nil {
					remoteAddr = host
				}
			}
		},
	}
	httpReq = httpReq.WithContext(httptrace.WithClientTrace(httpReq.Context(), trace))

	start := time.Now()
	httpResp, err := f.client.Do(httpReq)
	if err != nil {
		if obs != nil {
			obs.Exchange(&Exchange{
				Method:        method,
				URL:           target,
				RequestHeader: httpReq.Header.Clone(),
				RequestBody:   body,
				Err:           err,
			})
		}
		return nil, err
	}

	resp, err := f.buffer(ctx, target, httpResp, start)
	if resp != nil {
		resp.IPAddress = remoteAddr
	}
	ex := &Exchange{
		Method:        method,
		URL:           target,
		RequestHeader: httpReq.Header.Clone(),
		RequestBody:   body,
		Response:      resp,
		Err:           err,
	}
	if obs != nil {
		obs.Exchange(ex)
	}
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Release()
		}
		return nil, err
	}

	return resp, nil
}

// buffer streams the response body into a spool, decoding content codings,
// pacing against the rate limit, and enforcing the size bound.
func (f *Fetcher) buffer(ctx context.Context, target *urlx.Parsed, httpResp *http.Response, start time.Time) (*Response, error) {
	defer httpResp.Body.Close() //nolint:errcheck // transport owns reuse

	resp := &Response{
		URL:        target,
		StatusCode: httpResp.StatusCode,
		Proto:      httpResp.Proto,
		Header:     httpResp.Header.Clone(),
	}

	var src io.Reader = httpResp.Body
	if f.timeouts.Read > 0 {
		src = &stallReader{r: httpResp.Body, timeout: f.timeouts.Read, cancelBody: httpResp.Body}
	}

	encoding := strings.ToLower(httpResp.Header.Get("Content-Encoding"))
	if f.compression && encoding != "" && encoding != "identity" {
		decoded, err := decodeBody(src, encoding)
		if err != nil {
			return resp, fmt.Errorf("failed to decode %s body: %w", encoding, err)
		}
		src = decoded
		// The stored entity is decoded; drop the coding headers so the
		// recorded response stays replayable.
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
	}

	spool := NewSpool(f.spillThreshold, f.spillDir)
	resp.Body = spool

	hash := sha1.New() //nolint:gosec // WARC payload digest
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return resp, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			if f.limiter != nil {
				if werr := waitN(ctx, f.limiter, n); werr != nil {
					return resp, werr
				}
			}
			if _, werr := spool.Write(buf[:n]); werr != nil {
				return resp, werr
			}
			if _, werr := hash.Write(buf[:n]); werr != nil {
				return resp, werr
			}
			resp.Length += int64(n)
			if f.meter != nil {
				f.meter(int64(n))
			}
			if f.maxBodySize > 0 && !f.ignoreLength && resp.Length > f.maxBodySize {
				return resp, fmt.Errorf("%w: %d bytes exceeds limit %d", ErrTooLarge, resp.Length, f.maxBodySize)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return resp, err
		}
	}

	resp.PayloadDigest = "sha1:" + base32.StdEncoding.EncodeToString(hash.Sum(nil))
	resp.ContentType = mediaType(httpResp.Header.Get("Content-Type"))
	resp.Duration = time.Since(start)
	return resp, nil
}

// waitN splits large reservations so they never exceed the limiter burst.
func waitN(ctx context.Context, l *rate.Limiter, n int) error {
	for n > 0 {
		chunk := n
		if burst := l.Burst(); chunk > burst {
			chunk = burst
		}
		if err := l.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// decodeBody wraps r with decoders for each listed coding, outermost last.
func decodeBody(r io.Reader, encoding string) (io.Reader, error) {
	codings := strings.Split(encoding, ",")
	for i := len(codings) - 1; i >= 0; i-- {
		switch strings.TrimSpace(codings[i]) {
		case "gzip", "x-gzip":
			gz, err := gzip.NewReader(r)
			if err != nil {
				return nil, err
			}
			r = gz
		case "deflate":
			r = flate.NewReader(r)
		case "br":
			r = brotli.NewReader(r)
		case "identity", "":
			// Nothing to do.
		default:
			return nil, fmt.Errorf("unsupported content coding %q", codings[i])
		}
	}
	return r, nil
}

// stallReader enforces the read timeout: a read that makes no progress for
// the configured duration closes the body, which fails the pending Read.
type stallReader struct {
	r          io.Reader
	timeout    time.Duration
	cancelBody io.Closer
}

// Read implements io.Reader.
func (s *stallReader) Read(p []byte) (int, error) {
	timer := time.AfterFunc(s.timeout, func() {
		_ = s.cancelBody.Close()
	})
	defer timer.Stop()
	n, err := s.r.Read(p)
	if err != nil && !timer.Stop() {
		// The watchdog fired: report the stall as a timeout.
		return n, fmt.Errorf("read stalled for %s: %w", s.timeout, context.DeadlineExceeded)
	}
	return n, err
}

// isRedirect reports whether status is a followable 3xx.
func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}

// mediaType strips parameters from a Content-Type value.
func mediaType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// ContentLengthHint parses a Content-Length header, returning -1 when
// absent or malformed.
func ContentLengthHint(h http.Header) int64 {
	v := h.Get("Content-Length")
	if v == "" {
		return -1
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return -1
	}
	return n
}
