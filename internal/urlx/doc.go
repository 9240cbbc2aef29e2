// Package urlx normalizes URLs for fetching and deduplication.
//
// Every URL entering the crawl passes through Parse, which produces two
// canonical forms: the fetch URL (what goes on the wire, fragment kept)
// and the key (fragment stripped, hashed) used by the frontier to ensure
// each resource is downloaded at most once.
package urlx
