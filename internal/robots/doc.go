// Package robots caches and evaluates robots.txt rules per site.
//
// Each (scheme, host, port) gets one entry with a 24-hour TTL. Fetches go
// through the crawl's own fetch function so they are recorded like any
// other exchange, but they bypass the filter chain and never consume quota.
package robots
