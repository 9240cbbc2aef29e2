package scrape

import (
	"io"
	"strings"
	"testing"

	"github.com/webgrab/webgrab/internal/frontier"
	"github.com/webgrab/webgrab/internal/urlx"
)

func doc(url, contentType, body string) *Document {
	return &Document{
		URL:         urlx.MustParse(url),
		ContentType: contentType,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(body)), nil
		},
	}
}

func urls(links []Link) []string {
	out := make([]string, len(links))
	for i, l := range links {
		out[i] = l.URL
	}
	return out
}

func contains(links []Link, url string) bool {
	for _, l := range links {
		if l.URL == url {
			return true
		}
	}
	return false
}

// TestHTMLExtractor tests link discovery in HTML.
func TestHTMLExtractor(t *testing.T) {
	t.Parallel()

	t.Run("extracts anchors and requisites", func(t *testing.T) {
		t.Parallel()

		body := `<html><head>
			<link rel="stylesheet" href="/style.css">
			<script src="/app.js"></script>
		</head><body>
			<a href="/sub/">Sub</a>
			<img src="/img.png">
		</body></html>`

		links, err := NewHTMLExtractor().Extract(doc("http://h/", "text/html", body))
		if err != nil {
			t.Fatalf("Extract failed: %v", err)
		}
		if len(links) != 4 {
			t.Fatalf("expected 4 links, got %d: %v", len(links), urls(links))
		}

		byURL := make(map[string]Link)
		for _, l := range links {
			byURL[l.URL] = l
		}
		if l := byURL["/sub/"]; l.Kind != KindLinkedPage || l.Inline {
			t.Errorf("anchor misclassified: %+v", l)
		}
		if l := byURL["/img.png"]; l.Kind != KindPageRequisite || !l.Inline {
			t.Errorf("image misclassified: %+v", l)
		}
		if l := byURL["/style.css"]; l.LinkType != frontier.LinkTypeCSS || !l.Inline {
			t.Errorf("stylesheet misclassified: %+v", l)
		}
		if l := byURL["/app.js"]; l.Kind != KindScriptSrc {
			t.Errorf("script misclassified: %+v", l)
		}
	})

	t.Run("skips unfetchable schemes", func(t *testing.T) {
		t.Parallel()

		body := `<a href="javascript:void(0)">x</a>
			<a href="mailto:a@b">m</a>
			<a href="#">f</a>
			<a href="/real">r</a>`
		links, err := NewHTMLExtractor().Extract(doc("http://h/", "text/html", body))
		if err != nil {
			t.Fatalf("Extract failed: %v", err)
		}
		if len(links) != 1 || links[0].URL != "/real" {
			t.Errorf("expected only /real, got %v", urls(links))
		}
	})

	t.Run("base href overrides resolution base", func(t *testing.T) {
		t.Parallel()

		body := `<base href="http://cdn.example/assets/"><img src="logo.png">`
		links, err := NewHTMLExtractor().Extract(doc("http://h/", "text/html", body))
		if err != nil {
			t.Fatalf("Extract failed: %v", err)
		}
		if len(links) != 1 || links[0].BaseOverride != "http://cdn.example/assets/" {
			t.Errorf("expected base override, got %+v", links)
		}
	})

	t.Run("inline style contributes url() requisites", func(t *testing.T) {
		t.Parallel()

		body := `<style>body { background: url("/bg.png"); }</style>`
		links, err := NewHTMLExtractor().Extract(doc("http://h/", "text/html", body))
		if err != nil {
			t.Fatalf("Extract failed: %v", err)
		}
		if !contains(links, "/bg.png") {
			t.Errorf("expected /bg.png, got %v", urls(links))
		}
	})

	t.Run("follow and ignore tags", func(t *testing.T) {
		t.Parallel()

		body := `<a href="/a">a</a><img src="/i.png">`

		only, err := NewHTMLExtractor(WithFollowTags([]string{"a"})).Extract(doc("http://h/", "text/html", body))
		if err != nil {
			t.Fatalf("Extract failed: %v", err)
		}
		if len(only) != 1 || only[0].URL != "/a" {
			t.Errorf("follow-tags must keep only anchors, got %v", urls(only))
		}

		dropped, err := NewHTMLExtractor(WithIgnoreTags([]string{"a"})).Extract(doc("http://h/", "text/html", body))
		if err != nil {
			t.Fatalf("Extract failed: %v", err)
		}
		if contains(dropped, "/a") {
			t.Errorf("ignore-tags must drop anchors, got %v", urls(dropped))
		}
	})

	t.Run("srcset candidates", func(t *testing.T) {
		t.Parallel()

		body := `<img src="/s.png" srcset="/s2.png 2x, /s3.png 3x">`
		links, err := NewHTMLExtractor().Extract(doc("http://h/", "text/html", body))
		if err != nil {
			t.Fatalf("Extract failed: %v", err)
		}
		if !contains(links, "/s2.png") || !contains(links, "/s3.png") {
			t.Errorf("expected srcset candidates, got %v", urls(links))
		}
	})
}

// TestCSSExtractor tests stylesheet references.
func TestCSSExtractor(t *testing.T) {
	t.Parallel()

	body := `@import "reset.css";
	h1 { background: url(banner.png); }
	.a { background: url('quoted.gif'); }
	.b { background: url("double.jpg"); }`

	links, err := NewCSSExtractor().Extract(doc("http://h/style.css", "text/css", body))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(links) != 4 {
		t.Fatalf("expected 4 links, got %d: %v", len(links), urls(links))
	}
	for _, want := range []string{"reset.css", "banner.png", "quoted.gif", "double.jpg"} {
		if !contains(links, want) {
			t.Errorf("missing %q in %v", want, urls(links))
		}
	}

	byURL := make(map[string]Link)
	for _, l := range links {
		byURL[l.URL] = l
	}
	if byURL["reset.css"].LinkType != frontier.LinkTypeCSS {
		t.Error("imported stylesheet must keep the css link type")
	}
	if !byURL["banner.png"].Inline {
		t.Error("stylesheet resources are requisites")
	}
}

// TestSitemapExtractor tests urlset and index parsing.
func TestSitemapExtractor(t *testing.T) {
	t.Parallel()

	t.Run("urlset entries", func(t *testing.T) {
		t.Parallel()

		body := `<?xml version="1.0" encoding="UTF-8"?>
		<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
			<url><loc>http://h/a</loc></url>
			<url><loc>http://h/b</loc></url>
		</urlset>`

		links, err := NewSitemapExtractor().Extract(doc("http://h/sitemap.xml", "application/xml", body))
		if err != nil {
			t.Fatalf("Extract failed: %v", err)
		}
		if len(links) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(links))
		}
		if links[0].Kind != KindSitemapEntry || links[0].LinkType != frontier.LinkTypeHTML {
			t.Errorf("entry misclassified: %+v", links[0])
		}
	})

	t.Run("sitemap index nests", func(t *testing.T) {
		t.Parallel()

		body := `<sitemapindex><sitemap><loc>http://h/sitemap-1.xml</loc></sitemap></sitemapindex>`
		links, err := NewSitemapExtractor().Extract(doc("http://h/sitemap_index.xml", "application/xml", body))
		if err != nil {
			t.Fatalf("Extract failed: %v", err)
		}
		if len(links) != 1 || links[0].LinkType != frontier.LinkTypeSitemap {
			t.Errorf("nested sitemap must keep the sitemap link type: %+v", links)
		}
	})

	t.Run("truncated sitemap keeps earlier entries", func(t *testing.T) {
		t.Parallel()

		body := `<urlset><url><loc>http://h/a</loc></url><url><loc>http://h/b`
		links, err := NewSitemapExtractor().Extract(doc("http://h/sitemap.xml", "application/xml", body))
		if err == nil {
			t.Fatal("expected parse error for truncated XML")
		}
		if len(links) == 0 || links[0].URL != "http://h/a" {
			t.Errorf("links before the error must be kept, got %v", urls(links))
		}
	})
}

// TestDispatcher tests extractor routing.
func TestDispatcher(t *testing.T) {
	t.Parallel()

	d := DefaultDispatcher()

	html, err := d.Scrape(doc("http://h/", "text/html", `<a href="/x">x</a>`))
	if err != nil {
		t.Fatalf("Scrape failed: %v", err)
	}
	if len(html) != 1 {
		t.Errorf("expected HTML route, got %v", urls(html))
	}

	css, err := d.Scrape(doc("http://h/s.css", "text/css", `a { background: url(i.png); }`))
	if err != nil {
		t.Fatalf("Scrape failed: %v", err)
	}
	if len(css) != 1 {
		t.Errorf("expected CSS route, got %v", urls(css))
	}

	// Unknown types scrape nothing, without error.
	binary, err := d.Scrape(doc("http://h/x.bin", "application/octet-stream", "\x00\x01"))
	if err != nil {
		t.Fatalf("Scrape failed: %v", err)
	}
	if len(binary) != 0 {
		t.Errorf("expected no links for binary, got %v", urls(binary))
	}

	// Content-type absent: the link type recorded at discovery decides.
	byType, err := d.Scrape(&Document{
		URL:      urlx.MustParse("http://h/styles"),
		LinkType: frontier.LinkTypeCSS,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(`a { background: url(i.png); }`)), nil
		},
	})
	if err != nil {
		t.Fatalf("Scrape failed: %v", err)
	}
	if len(byType) != 1 {
		t.Errorf("expected link-type fallback route, got %v", urls(byType))
	}
}
