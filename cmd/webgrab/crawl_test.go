package main

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/webgrab/webgrab/internal/config"
	"github.com/webgrab/webgrab/internal/engine"
)

// runCrawlCommand executes the crawl command with args in dir.
func runCrawlCommand(t *testing.T, dir string, args ...string) error {
	t.Helper()

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir failed: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"crawl"}, args...))
	return cmd.Execute()
}

// TestCrawlArgErrors tests that argument problems exit with code 2.
func TestCrawlArgErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no seeds", nil},
		{"bad regex", []string{"--accept-regex", "(", "http://h/"}},
		{"bad restrict mode", []string{"--restrict-file-names", "bogus", "http://h/"}},
		{"bad secure protocol", []string{"--secure-protocol", "SSLv3", "http://h/"}},
		{"bad header", []string{"--header", "no-colon", "http://h/"}},
		{"conflicting reports", []string{"--json", "--markdown", "http://h/"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runCrawlCommand(t, t.TempDir(), tt.args...)
			var ee *exitError
			if !errors.As(err, &ee) {
				t.Fatalf("expected exitError, got %v", err)
			}
			if ee.code != 2 {
				t.Errorf("expected exit code 2, got %d", ee.code)
			}
		})
	}
}

// TestCrawlSingleFile runs a real end-to-end single download.
func TestCrawlSingleFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, "abc")
	}))
	defer srv.Close()

	dir := t.TempDir()
	if err := runCrawlCommand(t, dir, "--no-robots", srv.URL+"/a.txt"); err != nil {
		t.Fatalf("crawl failed: %v", err)
	}

	// The frontier database was created with the default name.
	if _, err := os.Stat(filepath.Join(dir, config.DefaultDatabaseName)); err != nil {
		t.Errorf("expected frontier database: %v", err)
	}

	// The body landed under host/path.
	matches, err := filepath.Glob(filepath.Join(dir, "*", "a.txt"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected saved file, got %v (%v)", matches, err)
	}
	data, _ := os.ReadFile(matches[0])
	if string(data) != "abc" {
		t.Errorf("unexpected content %q", data)
	}
}

// TestCrawlWARC runs an end-to-end download with recording enabled.
func TestCrawlWARC(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "abc")
	}))
	defer srv.Close()

	dir := t.TempDir()
	err := runCrawlCommand(t, dir,
		"--no-robots",
		"--warc-file", "capture",
		"--no-warc-compression",
		srv.URL+"/a.txt")
	if err != nil {
		t.Fatalf("crawl failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "capture.warc"))
	if err != nil {
		t.Fatalf("expected WARC file: %v", err)
	}
	for _, want := range []string{"WARC-Type: warcinfo", "WARC-Type: response", "urn:X-webgrab:log"} {
		if !bytes.Contains(data, []byte(want)) {
			t.Errorf("archive missing %q", want)
		}
	}
}

// TestBuildChainSpanFamilies tests span-hosts-allow parsing.
func TestBuildChainSpanFamilies(t *testing.T) {
	t.Parallel()

	cfg := config.NewConfig()
	cfg.SpanHostsAllow = "page-requisites"
	if _, err := buildChain(cfg, engine.NewStats()); err != nil {
		t.Fatalf("buildChain failed: %v", err)
	}

	cfg.SpanHostsAllow = "bogus"
	if _, err := buildChain(cfg, engine.NewStats()); err == nil {
		t.Error("expected error for unknown family")
	}
}

// TestParseHeaderList tests header flag parsing.
func TestParseHeaderList(t *testing.T) {
	t.Parallel()

	header, err := parseHeaderList([]string{"X-One: 1", "X-Two: 2"})
	if err != nil {
		t.Fatalf("parseHeaderList failed: %v", err)
	}
	if header.Get("X-One") != "1" || header.Get("X-Two") != "2" {
		t.Errorf("unexpected headers %v", header)
	}

	if _, err := parseHeaderList([]string{"missing-colon"}); err == nil {
		t.Error("expected error for malformed header")
	}
}
