package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestValidate tests configuration validation.
func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Config {
		c := NewConfig()
		c.URLs = []string{"http://example.com/"}
		return c
	}

	t.Run("accepts defaults with a seed", func(t *testing.T) {
		t.Parallel()
		if err := valid().Validate(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"no seeds", func(c *Config) { c.URLs = nil }, ErrNoSeeds},
		{"zero tries", func(c *Config) { c.Tries = 0 }, ErrInvalidTries},
		{"zero concurrent", func(c *Config) { c.Concurrent = 0 }, ErrInvalidConcurrent},
		{"negative redirect", func(c *Config) { c.MaxRedirect = -1 }, ErrInvalidMaxRedirect},
		{"negative wait", func(c *Config) { c.Wait = -time.Second }, ErrInvalidWait},
		{"negative quota", func(c *Config) { c.Quota = -1 }, ErrInvalidQuota},
		{"both report formats", func(c *Config) { c.JSONReport = true; c.MarkdownReport = true }, ErrConflictingReportFormats},
		{"append without warc", func(c *Config) { c.WARCAppend = true }, ErrAppendWithoutWARC},
		{"both post sources", func(c *Config) { c.PostData = "a"; c.PostFile = "f" }, ErrConflictingPostSources},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := valid()
			tt.mutate(c)
			if err := c.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

// TestPhaseTimeout tests timeout fallback.
func TestPhaseTimeout(t *testing.T) {
	t.Parallel()

	c := NewConfig()
	c.Timeout = time.Minute
	if got := c.PhaseTimeout(0); got != time.Minute {
		t.Errorf("expected shared timeout, got %s", got)
	}
	if got := c.PhaseTimeout(time.Second); got != time.Second {
		t.Errorf("expected specific timeout, got %s", got)
	}
}

// TestLoadConfigFile tests YAML site overrides.
func TestLoadConfigFile(t *testing.T) {
	t.Parallel()

	t.Run("loads sites and defaults", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), ".webgrabrc")
		content := `
defaults:
  wait: 1.5
sites:
  slow.example:
    wait: 10
    depth: 2
    headers:
      X-Client: webgrab
`
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}

		cf, err := LoadConfigFile(path)
		if err != nil {
			t.Fatalf("LoadConfigFile failed: %v", err)
		}

		slow := cf.GetSiteConfig("slow.example")
		if slow.Wait != 10 || slow.Depth != 2 {
			t.Errorf("unexpected site config: %+v", slow)
		}
		if slow.Headers["X-Client"] != "webgrab" {
			t.Errorf("missing header override: %+v", slow.Headers)
		}

		other := cf.GetSiteConfig("other.example")
		if other.Wait != 1.5 {
			t.Errorf("defaults must apply to unlisted hosts: %+v", other)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "absent")); !errors.Is(err, ErrConfigNotFound) {
			t.Errorf("expected ErrConfigNotFound, got %v", err)
		}
	})
}
