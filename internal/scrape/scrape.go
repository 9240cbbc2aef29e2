package scrape

import (
	"io"
	"path"
	"strings"

	"github.com/webgrab/webgrab/internal/frontier"
	"github.com/webgrab/webgrab/internal/urlx"
)

// Kind classifies a discovered link for filter and ordering policy.
type Kind string

// Link kinds.
const (
	// KindLinkedPage is a navigational link: follows recursion depth.
	KindLinkedPage Kind = "linked-page"

	// KindPageRequisite is a resource needed to render the page; it uses
	// the separate requisite budget and is fetched before linked pages.
	KindPageRequisite Kind = "page-requisite"

	// KindScriptSrc is an external script, treated as a requisite with
	// its own link type for dispatch.
	KindScriptSrc Kind = "script-src"

	// KindSitemapEntry is a URL listed in a sitemap.
	KindSitemapEntry Kind = "sitemap-entry"
)

// Link is one extracted reference.
type Link struct {
	// URL is the raw reference as found in the document, before
	// resolution against the base.
	URL string

	// Kind classifies the link.
	Kind Kind

	// Inline is true for page requisites.
	Inline bool

	// LinkType is the expected format of the target document.
	LinkType frontier.LinkType

	// BaseOverride resolves the link against this base instead of the
	// document URL (HTML <base href>).
	BaseOverride string
}

// Document is the input to an extractor: the fetched body plus enough
// response metadata to pick a parser.
type Document struct {
	// URL is the document's fetch URL, the default resolution base.
	URL *urlx.Parsed

	// ContentType is the response media type, possibly empty.
	ContentType string

	// LinkType is the format recorded when the URL was discovered.
	LinkType frontier.LinkType

	// Open returns a fresh reader over the body.
	Open func() (io.ReadCloser, error)
}

// Extractor parses one document format.
type Extractor interface {
	// Name identifies the extractor in logs.
	Name() string

	// Accepts reports whether this extractor handles the document.
	Accepts(doc *Document) bool

	// Extract returns the document's links. Links found before a parse
	// error must be returned alongside the error.
	Extract(doc *Document) ([]Link, error)
}

// Dispatcher routes documents to extractors.
type Dispatcher struct {
	extractors []Extractor
}

// NewDispatcher creates a dispatcher over the given extractors, consulted
// in order.
func NewDispatcher(extractors ...Extractor) *Dispatcher {
	return &Dispatcher{extractors: extractors}
}

// DefaultDispatcher returns a dispatcher with the HTML, CSS, and sitemap
// extractors.
func DefaultDispatcher() *Dispatcher {
	return NewDispatcher(NewHTMLExtractor(), NewCSSExtractor(), NewSitemapExtractor())
}

// Scrape extracts links from doc with the first accepting extractor.
// Documents no extractor accepts yield no links and no error.
func (d *Dispatcher) Scrape(doc *Document) ([]Link, error) {
	for _, e := range d.extractors {
		if e.Accepts(doc) {
			return e.Extract(doc)
		}
	}
	return nil, nil
}

// extMatches reports whether the document URL's file extension is one of
// exts, the fallback when no content type is available.
func extMatches(doc *Document, exts ...string) bool {
	ext := strings.ToLower(path.Ext(doc.URL.Path))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}
