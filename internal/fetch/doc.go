// Package fetch executes HTTP exchanges for the crawl engine.
//
// A Fetcher runs one logical request: it follows redirects through a
// Tracker, streams the response body into a Spool that observers share,
// decodes negotiated content encodings, paces reads against the bandwidth
// limit, and classifies every failure into a retryable or fatal Outcome
// the scheduler can switch on.
package fetch
