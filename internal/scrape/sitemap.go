package scrape

import (
	"encoding/xml"
	"io"
	"strings"

	"github.com/webgrab/webgrab/internal/frontier"
)

// SitemapExtractor parses sitemap XML: both urlset files and sitemap
// index files pointing at further sitemaps.
type SitemapExtractor struct{}

// NewSitemapExtractor creates the sitemap extractor.
func NewSitemapExtractor() *SitemapExtractor {
	return &SitemapExtractor{}
}

// Name implements Extractor.
func (e *SitemapExtractor) Name() string { return "sitemap" }

// Accepts implements Extractor.
func (e *SitemapExtractor) Accepts(doc *Document) bool {
	if doc.LinkType == frontier.LinkTypeSitemap {
		return true
	}
	base := strings.ToLower(doc.URL.Path)
	if strings.HasSuffix(base, "/sitemap.xml") || strings.HasSuffix(base, "/sitemap_index.xml") {
		return true
	}
	return false
}

// Extract implements Extractor. It streams tokens rather than unmarshaling
// the whole document, so a truncated sitemap still yields the entries
// parsed before the error.
func (e *SitemapExtractor) Extract(doc *Document) ([]Link, error) {
	body, err := doc.Open()
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck // read-only spool handle

	decoder := xml.NewDecoder(body)
	var links []Link
	inSitemapIndex := false
	inLoc := false

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			return links, nil
		}
		if err != nil {
			// Partial parse: keep what was found.
			return links, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "sitemapindex":
				inSitemapIndex = true
			case "loc":
				inLoc = true
			}
		case xml.EndElement:
			if t.Name.Local == "loc" {
				inLoc = false
			}
		case xml.CharData:
			if !inLoc {
				continue
			}
			loc := strings.TrimSpace(string(t))
			if loc == "" {
				continue
			}
			link := Link{URL: loc, Kind: KindSitemapEntry, LinkType: frontier.LinkTypeHTML}
			if inSitemapIndex {
				// Nested sitemaps are parsed as sitemaps again.
				link.LinkType = frontier.LinkTypeSitemap
			}
			links = append(links, link)
		}
	}
}
