// Package pool manages pooled HTTP connections for the fetcher.
//
// It builds the transport every exchange runs on: a DNS cache with TTL and
// optional address rotation, a Happy-Eyeballs dialer that races IPv4 and
// IPv6, per-host and global connection limits, idle connection aging, and
// the crawl's TLS policy.
package pool
