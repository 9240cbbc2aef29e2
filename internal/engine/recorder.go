package engine

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/webgrab/webgrab/internal/fetch"
	"github.com/webgrab/webgrab/internal/warc"
)

// WARCObserver returns a fetch observer that records exchanges under
// visitKey. The engine builds one per task; the command layer uses this
// for exchanges outside the frontier, such as robots.txt fetches.
func WARCObserver(w *warc.Writer, logger *slog.Logger, visitKey string) fetch.Observer {
	return &warcRecorder{writer: w, logger: logger, visitKey: visitKey}
}

// warcRecorder adapts the WARC writer to the fetcher's observer interface.
// One recorder is created per logical fetch so the visit key travels with
// the exchanges.
type warcRecorder struct {
	writer   *warc.Writer
	logger   *slog.Logger
	visitKey string
}

// Exchange implements fetch.Observer. Failures before response headers
// become metadata records; everything else becomes a request/response (or
// revisit) pair. Recording errors are logged, not propagated: losing one
// record must not abort the fetch that produced it.
func (r *warcRecorder) Exchange(ex *fetch.Exchange) {
	if r.writer == nil {
		return
	}

	if ex.Response == nil {
		if _, err := r.writer.WriteMetadata(ex.URL.String(), ex.Err.Error()); err != nil {
			r.logger.Error("failed to write metadata record", "url", ex.URL.String(), "error", err)
		}
		return
	}

	resp := ex.Response
	capture := &warc.Capture{
		TargetURI:     ex.URL.String(),
		VisitKey:      r.visitKey,
		IPAddress:     resp.IPAddress,
		Date:          time.Now(),
		RequestHead:   requestHead(ex),
		RequestBody:   []byte(ex.RequestBody),
		ResponseHead:  responseHead(resp),
		BodyLength:    resp.Length,
		PayloadDigest: resp.PayloadDigest,
		StatusCode:    resp.StatusCode,
		ContentType:   resp.ContentType,
	}
	if resp.Body != nil {
		capture.OpenBody = resp.Body.Open
	}

	if _, _, err := r.writer.CaptureExchange(capture); err != nil {
		r.logger.Error("failed to write exchange records", "url", ex.URL.String(), "error", err)
	}
}

// requestHead reconstructs the HTTP request head as sent on the wire.
func requestHead(ex *fetch.Exchange) []byte {
	var b strings.Builder
	uri := ex.URL.Path
	if q := ex.URL.Query; q != "" {
		uri += "?" + q
	}
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", ex.Method, uri)
	fmt.Fprintf(&b, "Host: %s\r\n", ex.URL.HostPort())
	writeHeaders(&b, ex.RequestHeader)
	b.WriteString("\r\n")
	return []byte(b.String())
}

// responseHead reconstructs the HTTP response head.
func responseHead(resp *fetch.Response) []byte {
	var b strings.Builder
	proto := resp.Proto
	if proto == "" {
		proto = "HTTP/1.1"
	}
	fmt.Fprintf(&b, "%s %d %s\r\n", proto, resp.StatusCode, http.StatusText(resp.StatusCode))
	header := resp.Header.Clone()
	header.Set("Content-Length", fmt.Sprintf("%d", resp.Length))
	header.Del("Transfer-Encoding")
	writeHeaders(&b, header)
	b.WriteString("\r\n")
	return []byte(b.String())
}

// writeHeaders emits headers in sorted order for deterministic records.
func writeHeaders(w io.Writer, header http.Header) {
	names := make([]string, 0, len(header))
	for name := range header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, value := range header[name] {
			fmt.Fprintf(w, "%s: %s\r\n", name, value)
		}
	}
}
