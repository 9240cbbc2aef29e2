// Package report renders the post-crawl summary.
//
// Three writers share one shape: a human-oriented Markdown report, a
// machine-oriented JSON report, and a terse text line, all built from the
// engine's statistics snapshot.
package report
