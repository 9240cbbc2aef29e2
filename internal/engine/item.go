package engine

import (
	"github.com/webgrab/webgrab/internal/fetch"
	"github.com/webgrab/webgrab/internal/filter"
	"github.com/webgrab/webgrab/internal/frontier"
	"github.com/webgrab/webgrab/internal/urlx"
)

// Item is one URL's journey through the pipeline. Hooks receive it by
// reference and may inspect every stage's result; only Record fields meant
// for update (post data, referer) may be mutated.
type Item struct {
	// Record is the frontier record being processed.
	Record *frontier.Record

	// URL is the parsed canonical URL.
	URL *urlx.Parsed

	// Root is the parsed seed URL that introduced this record, nil for
	// seeds themselves.
	Root *urlx.Parsed

	// Verdict is the filter chain result, set by the filter step.
	Verdict *filter.Result

	// Outcome is the fetch result, set by the fetch step.
	Outcome *fetch.Outcome

	// Response is the completed response, when Outcome is Completed.
	Response *fetch.Response

	// Filename is where the body was written, when it was.
	Filename string

	// Children are the records discovered by scraping, in enqueue order
	// (requisites before linked pages).
	Children []*frontier.Record
}

// newItem parses the record's URLs into an Item.
func newItem(rec *frontier.Record) (*Item, error) {
	u, err := urlx.Parse(rec.URL)
	if err != nil {
		return nil, err
	}
	item := &Item{Record: rec, URL: u}
	if rec.RootURL != "" && rec.RootURL != rec.URL {
		if root, err := urlx.Parse(rec.RootURL); err == nil {
			item.Root = root
		}
	}
	return item, nil
}
