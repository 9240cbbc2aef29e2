package engine

import (
	"sync"
	"time"

	"github.com/webgrab/webgrab/internal/frontier"
)

// Stats accumulates crawl counters. All methods are safe for concurrent
// use by tasks.
type Stats struct {
	mu sync.Mutex

	start     time.Time
	queued    int64
	dequeued  int64
	byStatus  map[frontier.Status]int64
	bytesIn   int64
	bytesOut  int64
	perHost   map[string]*hostStats

	// Error category flags, for exit code selection.
	networkErrors bool
	sslErrors     bool
	authFailures  bool
	serverErrors  bool
}

// hostStats tracks per-host bandwidth.
type hostStats struct {
	bytes    int64
	duration time.Duration
}

// NewStats creates a Stats with the clock started.
func NewStats() *Stats {
	return &Stats{
		start:    time.Now(),
		byStatus: make(map[frontier.Status]int64),
		perHost:  make(map[string]*hostStats),
	}
}

// Queued counts n URLs entering the frontier.
func (s *Stats) Queued(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued += int64(n)
}

// Dequeued counts one URL leaving the frontier.
func (s *Stats) Dequeued() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dequeued++
}

// Finished counts one URL reaching a terminal status.
func (s *Stats) Finished(status frontier.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byStatus[status]++
}

// BytesIn counts downloaded body bytes for host over d.
func (s *Stats) BytesIn(host string, n int64, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bytesIn += n
	hs := s.perHost[host]
	if hs == nil {
		hs = &hostStats{}
		s.perHost[host] = hs
	}
	hs.bytes += n
	hs.duration += d
}

// BytesOut counts uploaded request bytes.
func (s *Stats) BytesOut(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bytesOut += n
}

// TotalBytesIn returns the aggregate downloaded byte count, used by the
// quota filter.
func (s *Stats) TotalBytesIn() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesIn
}

// NoteNetworkError flags that a network-level failure occurred.
func (s *Stats) NoteNetworkError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.networkErrors = true
}

// NoteSSLError flags a certificate verification failure.
func (s *Stats) NoteSSLError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sslErrors = true
}

// NoteAuthFailure flags a 401 or 407 response.
func (s *Stats) NoteAuthFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authFailures = true
}

// NoteServerError flags a server-issued error response.
func (s *Stats) NoteServerError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serverErrors = true
}

// HostBandwidth is one host's transfer summary.
type HostBandwidth struct {
	Host     string
	Bytes    int64
	Duration time.Duration
}

// Snapshot is an immutable copy of the counters.
type Snapshot struct {
	Duration time.Duration
	Queued   int64
	Dequeued int64
	ByStatus map[frontier.Status]int64
	BytesIn  int64
	BytesOut int64
	PerHost  []HostBandwidth

	NetworkErrors bool
	SSLErrors     bool
	AuthFailures  bool
	ServerErrors  bool
}

// InFlight returns dequeued-minus-finished bookkeeping as seen by the
// counters; it equals the scheduler's in-flight count at quiescent points.
func (s *Snapshot) InFlight() int64 {
	var finished int64
	for _, n := range s.ByStatus {
		finished += n
	}
	return s.Dequeued - finished
}

// Snapshot copies the current counters.
func (s *Stats) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &Snapshot{
		Duration:      time.Since(s.start),
		Queued:        s.queued,
		Dequeued:      s.dequeued,
		ByStatus:      make(map[frontier.Status]int64, len(s.byStatus)),
		BytesIn:       s.bytesIn,
		BytesOut:      s.bytesOut,
		NetworkErrors: s.networkErrors,
		SSLErrors:     s.sslErrors,
		AuthFailures:  s.authFailures,
		ServerErrors:  s.serverErrors,
	}
	for k, v := range s.byStatus {
		snap.ByStatus[k] = v
	}
	for host, hs := range s.perHost {
		snap.PerHost = append(snap.PerHost, HostBandwidth{Host: host, Bytes: hs.bytes, Duration: hs.duration})
	}
	return snap
}
