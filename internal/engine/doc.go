// Package engine drives the crawl.
//
// The Engine checks URLs out of the frontier, runs each through the
// per-item pipeline (filters, robots, politeness, fetch, record, write,
// scrape, enqueue), and flips the frontier record to its terminal status.
// Concurrency is bounded by the configured task limit; termination occurs
// when the frontier is drained and no task is in flight. The first stop
// request blocks new check-outs, the second cancels running tasks.
package engine
