package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

// TestSecureHandler tests credential redaction.
func TestSecureHandler(t *testing.T) {
	t.Parallel()

	t.Run("redacts sensitive keys", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		logger := slog.New(NewSecureHandler(slog.NewTextHandler(&buf, nil)))

		logger.Info("request", "authorization", "Basic dXNlcjpwYXNz", "url", "http://h/a")
		out := buf.String()
		if strings.Contains(out, "dXNlcjpwYXNz") {
			t.Errorf("credential leaked: %s", out)
		}
		if !strings.Contains(out, MaskValue) {
			t.Errorf("expected mask in output: %s", out)
		}
		if !strings.Contains(out, "http://h/a") {
			t.Errorf("plain URL must pass through: %s", out)
		}
	})

	t.Run("scrubs URL userinfo", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		logger := slog.New(NewSecureHandler(slog.NewTextHandler(&buf, nil)))

		logger.Info("fetch", "url", "http://user:secret@h/path")
		out := buf.String()
		if strings.Contains(out, "secret") {
			t.Errorf("userinfo leaked: %s", out)
		}
		if !strings.Contains(out, "h/path") {
			t.Errorf("rest of URL must survive: %s", out)
		}
	})

	t.Run("redacts inside groups", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		logger := slog.New(NewSecureHandler(slog.NewTextHandler(&buf, nil)))

		logger.Info("request", slog.Group("headers", "Cookie", "sid=123"))
		if strings.Contains(buf.String(), "sid=123") {
			t.Errorf("grouped cookie leaked: %s", buf.String())
		}
	})
}

// TestScrubURL tests the URL scrubber directly.
func TestScrubURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"http://user:pass@h/a", "http://" + MaskValue + "@h/a"},
		{"https://token@h/", "https://" + MaskValue + "@h/"},
		{"http://h/a", "http://h/a"},
		{"not a url", "not a url"},
	}
	for _, tt := range tests {
		if got := ScrubURL(tt.in); got != tt.want {
			t.Errorf("ScrubURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// TestLevels tests verbose level selection.
func TestLevels(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	quiet := New(&buf, false)
	quiet.Debug("hidden")
	quiet.Info("also hidden")
	if buf.Len() != 0 {
		t.Errorf("non-verbose logger must drop info and below: %s", buf.String())
	}

	verbose := New(&buf, true)
	verbose.Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Error("verbose logger must emit debug records")
	}
}
