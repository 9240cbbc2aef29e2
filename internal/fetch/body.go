package fetch

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
)

// DefaultSpillThreshold is the in-memory size above which a body spools to
// a temporary file.
const DefaultSpillThreshold = 1 << 20 // 1 MiB

// Spool buffers a response body for the observers that consume it after
// the fetch: the WARC recorder, the file writer, and the scraper.
//
// Small bodies stay in memory; larger ones spill to a temporary file. The
// spool is reference counted: each observer takes a reference via Open and
// the backing file is removed when the last reference is released.
type Spool struct {
	// threshold is the spill point in bytes.
	threshold int64

	// dir is where spill files are created ("" = os.TempDir).
	dir string

	mu   sync.Mutex
	buf  bytes.Buffer
	file *os.File
	size int64
	refs int
	done bool
}

// NewSpool creates a spool with the given spill threshold.
// threshold <= 0 uses DefaultSpillThreshold. dir names the spill directory
// (--warc-tempdir), empty meaning the system default.
func NewSpool(threshold int64, dir string) *Spool {
	if threshold <= 0 {
		threshold = DefaultSpillThreshold
	}
	// The creator holds the first reference until Release.
	return &Spool{threshold: threshold, dir: dir, refs: 1}
}

// Write implements io.Writer, spilling to disk past the threshold.
func (s *Spool) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil && s.size+int64(len(p)) > s.threshold {
		f, err := os.CreateTemp(s.dir, "webgrab-body-*")
		if err != nil {
			return 0, fmt.Errorf("failed to create spill file: %w", err)
		}
		if _, err := f.Write(s.buf.Bytes()); err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
			return 0, fmt.Errorf("failed to spill body: %w", err)
		}
		s.buf.Reset()
		s.file = f
	}

	var n int
	var err error
	if s.file != nil {
		n, err = s.file.Write(p)
	} else {
		n, err = s.buf.Write(p)
	}
	s.size += int64(n)
	return n, err
}

// Size returns the number of buffered bytes.
func (s *Spool) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Open returns a reader over the whole body and takes a reference.
// Callers must Release when done. Open after the last Release is an error.
func (s *Spool) Open() (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return nil, fmt.Errorf("spool already released")
	}
	s.refs++

	if s.file == nil {
		return &spoolReader{s: s, r: bytes.NewReader(s.buf.Bytes())}, nil
	}
	f, err := os.Open(s.file.Name())
	if err != nil {
		s.refs--
		return nil, fmt.Errorf("failed to reopen spill file: %w", err)
	}
	return &spoolReader{s: s, r: f, c: f}, nil
}

// Bytes returns the body when it fits in memory, or nil once spilled.
// Convenience for tests and small-document scraping.
func (s *Spool) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		return nil
	}
	return s.buf.Bytes()
}

// Release drops the creator's (or an observer's) reference. The spill file
// is deleted when the count reaches zero.
func (s *Spool) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.release()
}

func (s *Spool) release() {
	s.refs--
	if s.refs > 0 {
		return
	}
	s.done = true
	if s.file != nil {
		name := s.file.Name()
		_ = s.file.Close()
		_ = os.Remove(name)
		s.file = nil
	}
	s.buf.Reset()
}

// spoolReader is a read handle holding one spool reference.
type spoolReader struct {
	s      *Spool
	r      io.Reader
	c      io.Closer
	closed bool
}

// Read implements io.Reader.
func (r *spoolReader) Read(p []byte) (int, error) {
	return r.r.Read(p)
}

// Close releases the underlying reference.
func (r *spoolReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	var err error
	if r.c != nil {
		err = r.c.Close()
	}
	r.s.mu.Lock()
	r.s.release()
	r.s.mu.Unlock()
	return err
}
