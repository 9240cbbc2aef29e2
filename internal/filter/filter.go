package filter

import (
	"github.com/webgrab/webgrab/internal/frontier"
	"github.com/webgrab/webgrab/internal/urlx"
)

// Item is the candidate a filter judges: the parsed URL plus the frontier
// bookkeeping that policy depends on.
type Item struct {
	// URL is the candidate, already normalized.
	URL *urlx.Parsed

	// Record is the frontier record for the candidate. Level, Inline,
	// InlineLevel, and LinkType drive the recursion filters.
	Record *frontier.Record

	// Root is the seed that introduced the candidate, for span-host and
	// parent checks. Nil for seeds themselves.
	Root *urlx.Parsed

	// Redirect is true when the candidate is the target of an HTTP
	// redirect. Strong-redirect policy lets such targets bypass the
	// host-scope filters.
	Redirect bool
}

// Filter is a single named accept/reject predicate.
type Filter interface {
	// Name identifies the filter in demuxed results and logs.
	Name() string

	// Test reports whether the item passes this filter.
	Test(item *Item) bool
}

// Result is the demultiplexed verdict of a chain.
type Result struct {
	// Verdicts maps filter name to pass/fail, one entry per chain member.
	Verdicts map[string]bool

	// Failed lists the names of filters that rejected the item, in chain
	// order. Empty means accepted.
	Failed []string
}

// OK reports whether every filter passed.
func (r *Result) OK() bool {
	return len(r.Failed) == 0
}

// Chain is an ordered set of filters evaluated together.
type Chain struct {
	filters []Filter
}

// NewChain creates a chain from the given filters, evaluated in order.
func NewChain(filters ...Filter) *Chain {
	return &Chain{filters: filters}
}

// Add appends filters to the chain.
func (c *Chain) Add(filters ...Filter) {
	c.filters = append(c.filters, filters...)
}

// Test evaluates every filter against item and returns the demuxed result.
//
// Design decision: We always run the whole chain instead of stopping at the
// first failure. Hooks receive the complete verdict map, and the per-filter
// cost is a few string and map operations, so short-circuiting buys nothing.
func (c *Chain) Test(item *Item) *Result {
	res := &Result{Verdicts: make(map[string]bool, len(c.filters))}
	for _, f := range c.filters {
		ok := f.Test(item)
		res.Verdicts[f.Name()] = ok
		if !ok {
			res.Failed = append(res.Failed, f.Name())
		}
	}
	return res
}
