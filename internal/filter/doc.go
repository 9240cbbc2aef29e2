// Package filter decides which discovered URLs enter the crawl.
//
// A Chain is an ordered set of independent predicates. Each filter reports
// pass or fail under its own name; a URL is accepted only when every filter
// passes. The demultiplexed result lets hooks and logs show exactly which
// policy rejected a URL.
package filter
