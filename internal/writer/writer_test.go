package writer

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/webgrab/webgrab/internal/urlx"
)

// TestFilePath tests directory strategies.
func TestFilePath(t *testing.T) {
	t.Parallel()

	u := urlx.MustParse("http://h/a/b/c.html")

	tests := []struct {
		name string
		opts Options
		want string
	}{
		{"default host directories", Options{Prefix: "out"}, filepath.Join("out", "h", "a", "b", "c.html")},
		{"no directories", Options{Prefix: "out", NoDirectories: true}, filepath.Join("out", "c.html")},
		{"no host directories", Options{Prefix: "out", NoHostDirectories: true}, filepath.Join("out", "a", "b", "c.html")},
		{"protocol directories", Options{Prefix: "out", ProtocolDirectories: true}, filepath.Join("out", "http", "h", "a", "b", "c.html")},
		{"cut dirs", Options{Prefix: "out", NoHostDirectories: true, CutDirs: 1}, filepath.Join("out", "b", "c.html")},
		{"cut dirs beyond depth", Options{Prefix: "out", NoHostDirectories: true, CutDirs: 5}, filepath.Join("out", "c.html")},
		{"force overrides no-directories", Options{Prefix: "out", NoDirectories: true, ForceDirectories: true}, filepath.Join("out", "h", "a", "b", "c.html")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := New(tt.opts).FilePath(u); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}

	t.Run("directory URL becomes index.html", func(t *testing.T) {
		t.Parallel()
		got := New(Options{Prefix: "out"}).FilePath(urlx.MustParse("http://h/sub/"))
		if got != filepath.Join("out", "h", "sub", "index.html") {
			t.Errorf("unexpected path %q", got)
		}
	})

	t.Run("query folds into the filename", func(t *testing.T) {
		t.Parallel()
		got := New(Options{Prefix: "out"}).FilePath(urlx.MustParse("http://h/p?a=1"))
		if !strings.HasSuffix(got, "p?a=1") {
			t.Errorf("expected query in filename, got %q", got)
		}
	})

	t.Run("non-default port joins the host directory", func(t *testing.T) {
		t.Parallel()
		got := New(Options{Prefix: "out"}).FilePath(urlx.MustParse("http://h:8080/x"))
		if !strings.Contains(got, "h:8080") {
			t.Errorf("expected port in host directory, got %q", got)
		}
	})
}

// TestRestrict tests filename restriction modes.
func TestRestrict(t *testing.T) {
	t.Parallel()

	t.Run("windows escapes forbidden characters", func(t *testing.T) {
		t.Parallel()
		got := restrictSegment(`a<b>c|d?.txt`, RestrictWindows)
		for _, c := range `<>|?` {
			if strings.ContainsRune(got, c) {
				t.Errorf("character %q survived windows mode: %q", c, got)
			}
		}
	})

	t.Run("windows prefixes reserved names", func(t *testing.T) {
		t.Parallel()
		if got := restrictSegment("CON.txt", RestrictWindows); got != "_CON.txt" {
			t.Errorf("expected _CON.txt, got %q", got)
		}
	})

	t.Run("nocontrol strips control bytes", func(t *testing.T) {
		t.Parallel()
		if got := restrictSegment("a\x01b\x1fc", RestrictNoControl); got != "abc" {
			t.Errorf("expected abc, got %q", got)
		}
	})

	t.Run("ascii escapes high bytes", func(t *testing.T) {
		t.Parallel()
		got := restrictSegment("caf\xc3\xa9", RestrictASCII)
		if got != "caf%C3%A9" {
			t.Errorf("expected caf%%C3%%A9, got %q", got)
		}
	})

	t.Run("lower and upper", func(t *testing.T) {
		t.Parallel()
		if got := restrictSegment("MiXeD", RestrictLower); got != "mixed" {
			t.Errorf("expected mixed, got %q", got)
		}
		if got := restrictSegment("MiXeD", RestrictUpper); got != "MIXED" {
			t.Errorf("expected MIXED, got %q", got)
		}
	})

	t.Run("parse combines modes", func(t *testing.T) {
		t.Parallel()
		r, err := ParseRestrict("windows,lower")
		if err != nil {
			t.Fatalf("ParseRestrict failed: %v", err)
		}
		if r&RestrictWindows == 0 || r&RestrictLower == 0 {
			t.Errorf("modes not combined: %b", r)
		}
		if _, err := ParseRestrict("bogus"); err == nil {
			t.Error("expected error for unknown mode")
		}
	})
}

// TestTruncateName tests the length cap.
func TestTruncateName(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", 200) + ".html"
	got := truncateName(long, DefaultMaxFilenameLength)
	if len(got) != DefaultMaxFilenameLength {
		t.Errorf("expected %d bytes, got %d", DefaultMaxFilenameLength, len(got))
	}
	if !strings.HasSuffix(got, ".html") {
		t.Errorf("extension must be preserved: %q", got)
	}
}

// TestSave tests body writing and collision handling.
func TestSave(t *testing.T) {
	t.Parallel()

	t.Run("writes the body", func(t *testing.T) {
		t.Parallel()

		w := New(Options{Prefix: t.TempDir()})
		u := urlx.MustParse("http://h/a.txt")
		path, err := w.Save(u, http.Header{}, 200, strings.NewReader("abc"))
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("ReadFile failed: %v", err)
		}
		if string(data) != "abc" {
			t.Errorf("expected abc, got %q", data)
		}
	})

	t.Run("directory collision gets .f suffix", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		w := New(Options{Prefix: dir})
		u := urlx.MustParse("http://h/sub")
		if err := os.MkdirAll(filepath.Join(dir, "h", "sub"), 0750); err != nil {
			t.Fatalf("MkdirAll failed: %v", err)
		}

		path, err := w.Save(u, http.Header{}, 200, strings.NewReader("x"))
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if !strings.HasSuffix(path, "sub.f") {
			t.Errorf("expected .f suffix, got %q", path)
		}
	})

	t.Run("file collision on directory path gets .d suffix", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		w := New(Options{Prefix: dir})
		if err := os.MkdirAll(filepath.Join(dir, "h"), 0750); err != nil {
			t.Fatalf("MkdirAll failed: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "h", "sub"), []byte("file"), 0644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}

		path, err := w.Save(urlx.MustParse("http://h/sub/page"), http.Header{}, 200, strings.NewReader("x"))
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if !strings.Contains(path, "sub.d") {
			t.Errorf("expected .d suffix on the directory, got %q", path)
		}
	})

	t.Run("no-clobber numbers duplicates", func(t *testing.T) {
		t.Parallel()

		w := New(Options{Prefix: t.TempDir(), NoClobber: true})
		u := urlx.MustParse("http://h/a.txt")
		first, err := w.Save(u, http.Header{}, 200, strings.NewReader("1"))
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		second, err := w.Save(u, http.Header{}, 200, strings.NewReader("2"))
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if second != first+".1" {
			t.Errorf("expected %q, got %q", first+".1", second)
		}
	})

	t.Run("timestamping suppresses fresh files", func(t *testing.T) {
		t.Parallel()

		w := New(Options{Prefix: t.TempDir(), Timestamping: true})
		u := urlx.MustParse("http://h/a.txt")
		lm := time.Now().Add(-time.Hour).UTC()
		header := http.Header{"Last-Modified": []string{lm.Format(http.TimeFormat)}}

		if _, err := w.Save(u, header, 200, strings.NewReader("v1")); err != nil {
			t.Fatalf("initial Save failed: %v", err)
		}

		// The saved file's mtime equals Last-Modified, so a second save
		// with the same header is suppressed.
		if _, err := w.Save(u, header, 200, strings.NewReader("v2")); !errors.Is(err, ErrNotModified) {
			t.Errorf("expected ErrNotModified, got %v", err)
		}
	})

	t.Run("continue appends on 206", func(t *testing.T) {
		t.Parallel()

		w := New(Options{Prefix: t.TempDir(), Continue: true})
		u := urlx.MustParse("http://h/big.bin")
		if _, err := w.Save(u, http.Header{}, 200, strings.NewReader("01234")); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if off := w.ResumeOffset(u); off != 5 {
			t.Fatalf("expected resume offset 5, got %d", off)
		}
		path, err := w.Save(u, http.Header{}, http.StatusPartialContent, strings.NewReader("56789"))
		if err != nil {
			t.Fatalf("resumed Save failed: %v", err)
		}
		data, _ := os.ReadFile(path)
		if string(data) != "0123456789" {
			t.Errorf("expected concatenated body, got %q", data)
		}
	})

	t.Run("delete-after removes the file", func(t *testing.T) {
		t.Parallel()

		w := New(Options{Prefix: t.TempDir(), DeleteAfter: true})
		path, err := w.Save(urlx.MustParse("http://h/x"), http.Header{}, 200, strings.NewReader("x"))
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Error("file must be deleted after download")
		}
	})

	t.Run("output document concatenates bodies", func(t *testing.T) {
		t.Parallel()

		out := filepath.Join(t.TempDir(), "all.txt")
		w := New(Options{OutputDocument: out})
		if _, err := w.Save(urlx.MustParse("http://h/a"), http.Header{}, 200, strings.NewReader("aa")); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if _, err := w.Save(urlx.MustParse("http://h/b"), http.Header{}, 200, strings.NewReader("bb")); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		data, _ := os.ReadFile(out)
		if string(data) != "aabb" {
			t.Errorf("expected aabb, got %q", data)
		}
	})
}
