package scrape

import (
	"io"
	"regexp"
	"strings"

	"github.com/webgrab/webgrab/internal/frontier"
)

// cssURLPattern matches url(...) tokens and @import "..." forms.
var cssURLPattern = regexp.MustCompile(`(?i)url\(\s*['"]?([^'")\s]+)['"]?\s*\)|@import\s+['"]([^'"]+)['"]`)

// CSSExtractor finds url() and @import references in stylesheets.
// Everything a stylesheet references is a page requisite; imported
// stylesheets keep the css link type so their own references are followed.
type CSSExtractor struct {
	// maxBytes bounds how much of a stylesheet is scanned. Stylesheets
	// past this size are truncated, keeping the links already matched.
	maxBytes int64
}

// NewCSSExtractor creates the CSS extractor.
func NewCSSExtractor() *CSSExtractor {
	return &CSSExtractor{maxBytes: 10 << 20}
}

// Name implements Extractor.
func (e *CSSExtractor) Name() string { return "css" }

// Accepts implements Extractor.
func (e *CSSExtractor) Accepts(doc *Document) bool {
	switch doc.ContentType {
	case "text/css":
		return true
	case "":
		return doc.LinkType == frontier.LinkTypeCSS || extMatches(doc, ".css")
	default:
		return false
	}
}

// Extract implements Extractor.
func (e *CSSExtractor) Extract(doc *Document) ([]Link, error) {
	body, err := doc.Open()
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck // read-only spool handle

	data, err := io.ReadAll(io.LimitReader(body, e.maxBytes))
	if err != nil {
		// Keep whatever was read; partial stylesheets still yield links.
		return cssLinks(string(data)), err
	}
	return cssLinks(string(data)), nil
}

// cssLinks extracts references from stylesheet text. Shared with the HTML
// extractor for inline <style> blocks.
func cssLinks(text string) []Link {
	var links []Link
	for _, m := range cssURLPattern.FindAllStringSubmatch(text, -1) {
		ref := m[1]
		if ref == "" {
			ref = m[2]
		}
		ref = usableRef(ref)
		if ref == "" {
			continue
		}
		link := Link{URL: ref, Kind: KindPageRequisite, Inline: true}
		if strings.HasSuffix(strings.ToLower(ref), ".css") || m[2] != "" {
			link.LinkType = frontier.LinkTypeCSS
		}
		links = append(links, link)
	}
	return links
}
