package warc

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"
)

// cdxHeader names the 11 columns this index emits:
// massaged url, date, original url, mime, status, checksum, redirect,
// meta tags, compressed size, offset, filename.
const cdxHeader = " CDX N b a m s k r M S V g"

// cdxEntry is one index line.
type cdxEntry struct {
	url      string
	date     time.Time
	mime     string
	status   int
	checksum string
	size     int64
	offset   int64
	filename string
}

// cdxWriter appends index lines next to the archive.
type cdxWriter struct {
	file *os.File
	bw   *bufio.Writer
}

// newCDXWriter opens or creates the index file, emitting the header line
// for new files.
func newCDXWriter(path string, appendMode bool) (*cdxWriter, error) {
	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0644) //nolint:gosec // index output
	if err != nil {
		return nil, fmt.Errorf("failed to open CDX file: %w", err)
	}

	w := &cdxWriter{file: f, bw: bufio.NewWriter(f)}
	if st, err := f.Stat(); err == nil && st.Size() == 0 {
		fmt.Fprintln(w.bw, cdxHeader)
	}
	return w, nil
}

// add writes one index line.
func (w *cdxWriter) add(e cdxEntry) {
	fmt.Fprintf(w.bw, "%s %s %s %s %d %s %s %s %d %d %s\n",
		massageURL(e.url),
		e.date.UTC().Format("20060102150405"),
		e.url,
		dashIfEmpty(e.mime),
		e.status,
		dashIfEmpty(e.checksum),
		"-", // redirect target: resolved by the crawl itself
		"-", // meta tags: not extracted
		e.size,
		e.offset,
		e.filename,
	)
}

// close flushes and closes the index.
func (w *cdxWriter) close() error {
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush CDX file: %w", err)
	}
	return w.file.Close()
}

// massageURL produces the canonicalized sort key used in the N column:
// lower-cased, with the scheme and a leading "www." stripped. The host is
// not reversed into SURT form.
func massageURL(raw string) string {
	s := strings.ToLower(raw)
	for _, prefix := range []string{"https://", "http://", "ftp://"} {
		if rest, ok := strings.CutPrefix(s, prefix); ok {
			s = rest
			break
		}
	}
	s = strings.TrimPrefix(s, "www.")
	if s == "" {
		return "-"
	}
	return s
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
