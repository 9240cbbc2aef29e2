package writer

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/webgrab/webgrab/internal/urlx"
)

// DefaultMaxFilenameLength caps one path segment's length in bytes.
const DefaultMaxFilenameLength = 160

// ErrNotModified is returned by Save when timestamping decides the local
// copy is current and the download should be suppressed.
var ErrNotModified = errors.New("local file is up to date")

// Options configures a Writer.
type Options struct {
	// Prefix is the output directory (--directory-prefix). Empty means
	// the current directory.
	Prefix string

	// NoDirectories flattens all files into the prefix.
	NoDirectories bool

	// ForceDirectories keeps host/path directories when NoDirectories is
	// also set. Without NoDirectories every download gets them anyway.
	ForceDirectories bool

	// NoHostDirectories drops the leading host directory.
	NoHostDirectories bool

	// ProtocolDirectories inserts the scheme above the host directory.
	ProtocolDirectories bool

	// CutDirs removes the first N path components (--cut-dirs).
	CutDirs int

	// Restrict is the filename restriction bitmask.
	Restrict Restrict

	// MaxFilenameLength caps each segment; 0 uses the default.
	MaxFilenameLength int

	// NoClobber renames colliding downloads to name.1, name.2, ...
	NoClobber bool

	// Continue resumes partial files with Range requests.
	Continue bool

	// Timestamping skips downloads whose local mtime is not older than
	// the server's Last-Modified.
	Timestamping bool

	// DeleteAfter removes each file right after writing (crawl-only runs
	// that feed the WARC but keep no tree).
	DeleteAfter bool

	// OutputDocument concatenates every body into one file (-O).
	OutputDocument string
}

// Writer converts responses into files on disk.
type Writer struct {
	opts Options

	// mu serializes collision probing and renames; bodies stream outside
	// critical sections.
	mu sync.Mutex

	// outputFile is the shared handle when OutputDocument is set.
	outputFile *os.File
}

// New creates a Writer.
func New(opts Options) *Writer {
	if opts.MaxFilenameLength <= 0 {
		opts.MaxFilenameLength = DefaultMaxFilenameLength
	}
	return &Writer{opts: opts}
}

// FilePath maps a URL to its target path under the prefix, before
// collision handling.
func (w *Writer) FilePath(u *urlx.Parsed) string {
	if w.opts.OutputDocument != "" {
		return w.opts.OutputDocument
	}

	segments := splitPathSegments(u)

	if w.opts.CutDirs > 0 {
		dirs := segments[:len(segments)-1]
		file := segments[len(segments)-1]
		if w.opts.CutDirs >= len(dirs) {
			segments = []string{file}
		} else {
			segments = append(dirs[w.opts.CutDirs:], file)
		}
	}

	// --force-directories wins when both directory flags are given,
	// matching Wget's precedence.
	if w.opts.NoDirectories && !w.opts.ForceDirectories {
		segments = segments[len(segments)-1:]
	} else {
		var lead []string
		if w.opts.ProtocolDirectories {
			lead = append(lead, u.Scheme)
		}
		if !w.opts.NoHostDirectories {
			lead = append(lead, u.HostPort())
		}
		segments = append(lead, segments...)
	}

	for i, seg := range segments {
		segments[i] = truncateName(restrictSegment(seg, w.opts.Restrict), w.opts.MaxFilenameLength)
	}

	root := w.opts.Prefix
	if root == "" {
		root = "."
	}
	return joinSafe(root, segments)
}

// ResumeOffset returns the size of an existing partial file for --continue,
// or 0 when resumption does not apply. The engine turns a non-zero offset
// into a Range request.
func (w *Writer) ResumeOffset(u *urlx.Parsed) int64 {
	if !w.opts.Continue {
		return 0
	}
	st, err := os.Stat(w.FilePath(u))
	if err != nil || st.IsDir() {
		return 0
	}
	return st.Size()
}

// Save writes body to the file derived from u, applying collision rules.
// It returns the final path. With Timestamping enabled and an up-to-date
// local file, it returns ErrNotModified without reading the body.
func (w *Writer) Save(u *urlx.Parsed, header http.Header, statusCode int, body io.Reader) (string, error) {
	if w.opts.OutputDocument != "" {
		return w.saveOutputDocument(body)
	}

	target := w.FilePath(u)

	if w.opts.Timestamping {
		if upToDate(target, header) {
			return target, ErrNotModified
		}
	}

	w.mu.Lock()
	target = w.resolveCollisions(target)
	if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
		w.mu.Unlock()
		return "", fmt.Errorf("failed to create directories: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if w.opts.Continue && statusCode == http.StatusPartialContent {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(target, flags, 0644) //nolint:gosec // crawl output tree
	w.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", target, err)
	}

	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		_ = os.Remove(target)
		return "", fmt.Errorf("failed to write %s: %w", target, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", target, err)
	}

	if lm := parseLastModified(header); !lm.IsZero() {
		_ = os.Chtimes(target, lm, lm)
	}

	if w.opts.DeleteAfter {
		if err := os.Remove(target); err != nil {
			return "", fmt.Errorf("failed to delete after download: %w", err)
		}
	}
	return target, nil
}

// saveOutputDocument appends body to the shared -O target.
func (w *Writer) saveOutputDocument(body io.Reader) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.outputFile == nil {
		f, err := os.Create(w.opts.OutputDocument) //nolint:gosec // user-chosen output
		if err != nil {
			return "", fmt.Errorf("failed to create output document: %w", err)
		}
		w.outputFile = f
	}
	if _, err := io.Copy(w.outputFile, body); err != nil {
		return "", fmt.Errorf("failed to write output document: %w", err)
	}
	return w.opts.OutputDocument, nil
}

// Close releases the shared output document handle, if any.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.outputFile == nil {
		return nil
	}
	err := w.outputFile.Close()
	w.outputFile = nil
	return err
}

// resolveCollisions applies the directory/file collision suffixes and the
// anti-clobber counter. Must be called with the lock held.
func (w *Writer) resolveCollisions(target string) string {
	// A directory where the file should go gets the file a ".f" suffix;
	// a file standing where a directory is needed gets the directory a
	// ".d" suffix.
	if st, err := os.Stat(target); err == nil && st.IsDir() {
		target += ".f"
	}
	target = resolveDirConflicts(target)

	if w.opts.NoClobber {
		if _, err := os.Stat(target); err == nil {
			for i := 1; ; i++ {
				candidate := fmt.Sprintf("%s.%d", target, i)
				if _, err := os.Stat(candidate); os.IsNotExist(err) {
					return candidate
				}
			}
		}
	}
	return target
}

// resolveDirConflicts walks the directory components of target and
// suffixes with ".d" any that collide with existing regular files.
func resolveDirConflicts(target string) string {
	dir, file := filepath.Split(target)
	dir = filepath.Clean(dir)
	if dir == "." || dir == string(filepath.Separator) {
		return target
	}

	parts := strings.Split(dir, string(filepath.Separator))
	probe := ""
	for i, part := range parts {
		if part == "" {
			probe = string(filepath.Separator)
			continue
		}
		if probe == "" || probe == string(filepath.Separator) {
			probe += part
		} else {
			probe += string(filepath.Separator) + part
		}
		if st, err := os.Stat(probe); err == nil && !st.IsDir() {
			parts[i] = part + ".d"
			probe += ".d"
		}
	}
	return filepath.Join(strings.Join(parts, string(filepath.Separator)), file)
}

// splitPathSegments returns the URL path as directory segments plus a
// final filename, defaulting to index.html for directory URLs, with the
// query folded into the filename the way Wget does.
func splitPathSegments(u *urlx.Parsed) []string {
	p := u.Path
	segments := []string{}
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	if strings.HasSuffix(p, "/") || len(segments) == 0 {
		segments = append(segments, "index.html")
	}
	if u.Query != "" {
		segments[len(segments)-1] += "?" + u.Query
	}
	return segments
}

// upToDate reports whether the local file at target is at least as new as
// the server's Last-Modified.
func upToDate(target string, header http.Header) bool {
	lm := parseLastModified(header)
	if lm.IsZero() {
		return false
	}
	st, err := os.Stat(target)
	if err != nil {
		return false
	}
	return !st.ModTime().Before(lm)
}

// parseLastModified parses the Last-Modified header, zero when absent or
// malformed.
func parseLastModified(header http.Header) time.Time {
	v := header.Get("Last-Modified")
	if v == "" {
		return time.Time{}
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return time.Time{}
	}
	return t
}
