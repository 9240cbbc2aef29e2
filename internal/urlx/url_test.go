package urlx

import (
	"errors"
	"strings"
	"testing"
)

// TestParse tests URL normalization.
func TestParse(t *testing.T) {
	t.Parallel()

	t.Run("lower-cases scheme and host", func(t *testing.T) {
		t.Parallel()

		p, err := Parse("HTTP://Example.COM/Path")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Scheme != "http" {
			t.Errorf("expected scheme http, got %q", p.Scheme)
		}
		if p.Host != "example.com" {
			t.Errorf("expected host example.com, got %q", p.Host)
		}
		if p.Path != "/Path" {
			t.Errorf("path case must be preserved, got %q", p.Path)
		}
	})

	t.Run("removes default port", func(t *testing.T) {
		t.Parallel()

		p, err := Parse("http://example.com:80/a")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := p.KeyURL(); got != "http://example.com/a" {
			t.Errorf("expected default port elided, got %q", got)
		}
		if p.Address() != "example.com:80" {
			t.Errorf("dial address must keep the port, got %q", p.Address())
		}
	})

	t.Run("keeps explicit non-default port", func(t *testing.T) {
		t.Parallel()

		p, err := Parse("http://example.com:8080/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := p.KeyURL(); got != "http://example.com:8080/" {
			t.Errorf("expected port kept, got %q", got)
		}
	})

	t.Run("resolves dot segments", func(t *testing.T) {
		t.Parallel()

		p, err := Parse("http://h/a/b/../c/./d")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Path != "/a/c/d" {
			t.Errorf("expected /a/c/d, got %q", p.Path)
		}
	})

	t.Run("collapses consecutive slashes", func(t *testing.T) {
		t.Parallel()

		p, err := Parse("http://h//a///b")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Path != "/a/b" {
			t.Errorf("expected /a/b, got %q", p.Path)
		}
	})

	t.Run("strips fragment from key but keeps it for fetch", func(t *testing.T) {
		t.Parallel()

		p, err := Parse("http://h/a#section")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if strings.Contains(p.KeyURL(), "#") {
			t.Errorf("key must not contain fragment: %q", p.KeyURL())
		}
		if !strings.HasSuffix(p.String(), "#section") {
			t.Errorf("fetch URL must keep fragment: %q", p.String())
		}
	})

	t.Run("converts IDN host to A-label", func(t *testing.T) {
		t.Parallel()

		p, err := Parse("http://bücher.example/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Host != "xn--bcher-kva.example" {
			t.Errorf("expected punycode host, got %q", p.Host)
		}
	})

	t.Run("percent-encodes non-ASCII path", func(t *testing.T) {
		t.Parallel()

		p, err := Parse("http://h/café")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Path != "/caf%C3%A9" {
			t.Errorf("expected UTF-8 percent-encoding, got %q", p.Path)
		}
	})

	t.Run("brackets IPv6 hosts", func(t *testing.T) {
		t.Parallel()

		p, err := Parse("http://[::1]:8080/x")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := p.KeyURL(); got != "http://[::1]:8080/x" {
			t.Errorf("expected bracketed host, got %q", got)
		}
	})

	t.Run("rejects unsupported scheme", func(t *testing.T) {
		t.Parallel()

		if _, err := Parse("mailto:user@example.com"); !errors.Is(err, ErrInvalidURL) {
			t.Errorf("expected ErrInvalidURL, got %v", err)
		}
	})

	t.Run("rejects empty input", func(t *testing.T) {
		t.Parallel()

		if _, err := Parse("  "); !errors.Is(err, ErrInvalidURL) {
			t.Errorf("expected ErrInvalidURL, got %v", err)
		}
	})
}

// TestKey tests the dedup key derivation.
func TestKey(t *testing.T) {
	t.Parallel()

	t.Run("equivalent forms share a key", func(t *testing.T) {
		t.Parallel()

		variants := []string{
			"http://Example.com/a",
			"http://example.com:80/a",
			"http://example.com/a#frag",
			"http://example.com/b/../a",
		}
		want := MustParse("http://example.com/a").Key()
		for _, v := range variants {
			if got := MustParse(v).Key(); got != want {
				t.Errorf("key for %q differs: %s != %s", v, got, want)
			}
		}
	})

	t.Run("query order is significant", func(t *testing.T) {
		t.Parallel()

		a := MustParse("http://h/?a=1&b=2").Key()
		b := MustParse("http://h/?b=2&a=1").Key()
		if a == b {
			t.Error("query item order must be preserved in the key")
		}
	})
}

// TestResolve tests relative reference resolution.
func TestResolve(t *testing.T) {
	t.Parallel()

	base := MustParse("http://h/dir/page.html")

	tests := []struct {
		name string
		ref  string
		want string
	}{
		{"relative file", "img.png", "http://h/dir/img.png"},
		{"absolute path", "/top.css", "http://h/top.css"},
		{"parent", "../other/x", "http://h/other/x"},
		{"absolute URL", "http://other/y", "http://other/y"},
		{"protocol relative", "//cdn.example/z", "http://cdn.example/z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := base.Resolve(tt.ref)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.KeyURL() != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got.KeyURL())
			}
		})
	}
}

// TestDirectory tests directory derivation for the parent filter.
func TestDirectory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url  string
		want string
	}{
		{"http://h/a/b/c.html", "/a/b/"},
		{"http://h/a/", "/a/"},
		{"http://h/", "/"},
	}
	for _, tt := range tests {
		if got := MustParse(tt.url).Directory(); got != tt.want {
			t.Errorf("Directory(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
