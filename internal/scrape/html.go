package scrape

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/webgrab/webgrab/internal/frontier"
)

// requisiteAttrs maps element names to the attribute holding a page
// requisite reference.
var requisiteAttrs = map[string]string{
	"img":    "src",
	"embed":  "src",
	"source": "src",
	"track":  "src",
	"iframe": "src",
	"input":  "src", // type=image
	"audio":  "src",
	"video":  "src",
}

// HTMLExtractor finds links in HTML documents.
//
// Design decision: We walk the x/net/html node tree rather than using a
// tokenizer because attribute handling differs per element (rel on link,
// type on script) and a tree pass keeps that logic in one switch.
type HTMLExtractor struct {
	// followTags restricts extraction to these elements when non-empty
	// (--follow-tags).
	followTags map[string]bool

	// ignoreTags drops these elements (--ignore-tags).
	ignoreTags map[string]bool
}

// HTMLOption configures the HTML extractor.
type HTMLOption func(*HTMLExtractor)

// WithFollowTags restricts extraction to the named elements.
func WithFollowTags(tags []string) HTMLOption {
	return func(e *HTMLExtractor) {
		e.followTags = toSet(tags)
	}
}

// WithIgnoreTags drops the named elements.
func WithIgnoreTags(tags []string) HTMLOption {
	return func(e *HTMLExtractor) {
		e.ignoreTags = toSet(tags)
	}
}

func toSet(list []string) map[string]bool {
	if len(list) == 0 {
		return nil
	}
	set := make(map[string]bool, len(list))
	for _, v := range list {
		set[strings.ToLower(strings.TrimSpace(v))] = true
	}
	return set
}

// NewHTMLExtractor creates the HTML extractor.
func NewHTMLExtractor(opts ...HTMLOption) *HTMLExtractor {
	e := &HTMLExtractor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements Extractor.
func (e *HTMLExtractor) Name() string { return "html" }

// Accepts implements Extractor.
func (e *HTMLExtractor) Accepts(doc *Document) bool {
	switch doc.ContentType {
	case "text/html", "application/xhtml+xml":
		return true
	case "":
		return doc.LinkType == frontier.LinkTypeHTML || extMatches(doc, ".html", ".htm")
	default:
		return false
	}
}

// Extract implements Extractor. The body is decoded per its charset before
// parsing; parse errors after partial extraction keep the links found.
func (e *HTMLExtractor) Extract(doc *Document) ([]Link, error) {
	body, err := doc.Open()
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck // read-only spool handle

	decoded, err := charset.NewReader(body, doc.ContentType)
	if err != nil {
		return nil, err
	}

	root, err := html.Parse(decoded)
	if err != nil {
		// html.Parse recovers from almost anything; when it does fail
		// there is no partial tree to mine.
		return nil, err
	}

	var links []Link
	baseOverride := ""

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if !e.skip(n.Data) {
				links = append(links, e.fromElement(n, &baseOverride)...)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	// Resolve against a <base href> when present.
	if baseOverride != "" {
		for i := range links {
			if links[i].BaseOverride == "" {
				links[i].BaseOverride = baseOverride
			}
		}
	}
	return links, nil
}

// skip applies the follow/ignore tag policy.
func (e *HTMLExtractor) skip(tag string) bool {
	if e.ignoreTags[tag] {
		return true
	}
	if e.followTags != nil && !e.followTags[tag] {
		return true
	}
	return false
}

// fromElement extracts the links one element contributes.
func (e *HTMLExtractor) fromElement(n *html.Node, baseOverride *string) []Link {
	switch n.Data {
	case "base":
		if *baseOverride == "" {
			*baseOverride = getAttr(n, "href")
		}
		return nil

	case "a", "area":
		if href := usableRef(getAttr(n, "href")); href != "" {
			return []Link{{URL: href, Kind: KindLinkedPage, LinkType: frontier.LinkTypeHTML}}
		}

	case "link":
		href := usableRef(getAttr(n, "href"))
		if href == "" {
			return nil
		}
		rel := strings.ToLower(getAttr(n, "rel"))
		switch {
		case strings.Contains(rel, "stylesheet"):
			return []Link{{URL: href, Kind: KindPageRequisite, Inline: true, LinkType: frontier.LinkTypeCSS}}
		case strings.Contains(rel, "icon"):
			return []Link{{URL: href, Kind: KindPageRequisite, Inline: true}}
		}

	case "script":
		if src := usableRef(getAttr(n, "src")); src != "" {
			return []Link{{URL: src, Kind: KindScriptSrc, Inline: true, LinkType: frontier.LinkTypeJS}}
		}

	case "frame":
		if src := usableRef(getAttr(n, "src")); src != "" {
			return []Link{{URL: src, Kind: KindLinkedPage, LinkType: frontier.LinkTypeHTML}}
		}

	case "style":
		// Inline stylesheets can reference url(...) resources.
		if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
			return cssLinks(n.FirstChild.Data)
		}

	default:
		if attr, ok := requisiteAttrs[n.Data]; ok {
			if src := usableRef(getAttr(n, attr)); src != "" {
				links := []Link{{URL: src, Kind: KindPageRequisite, Inline: true}}
				// srcset carries further candidates.
				for _, candidate := range srcsetURLs(getAttr(n, "srcset")) {
					links = append(links, Link{URL: candidate, Kind: KindPageRequisite, Inline: true})
				}
				return links
			}
		}
	}
	return nil
}

// srcsetURLs parses the URL parts of a srcset attribute.
func srcsetURLs(srcset string) []string {
	if srcset == "" {
		return nil
	}
	var urls []string
	for _, part := range strings.Split(srcset, ",") {
		fields := strings.Fields(strings.TrimSpace(part))
		if len(fields) > 0 {
			if u := usableRef(fields[0]); u != "" {
				urls = append(urls, u)
			}
		}
	}
	return urls
}

// usableRef filters references that can never become fetchable URLs.
func usableRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || ref == "#" {
		return ""
	}
	lower := strings.ToLower(ref)
	for _, scheme := range []string{"javascript:", "mailto:", "tel:", "data:", "about:"} {
		if strings.HasPrefix(lower, scheme) {
			return ""
		}
	}
	return ref
}

// getAttr retrieves an attribute value from an HTML node.
func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}
