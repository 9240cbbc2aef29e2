// Package main provides the entry point for the webgrab CLI.
//
// webgrab is a Wget-compatible recursive web archiver. It downloads the
// given URLs, optionally following links into a full site mirror, records
// every exchange into a WARC archive, and keeps its crawl state in a
// database so interrupted crawls resume with the same command line.
//
// Usage:
//
//	webgrab crawl <url>...
//	webgrab crawl -r -l 2 --warc-file site http://example.com/
//
// See --help for all available options.
package main

// main is the entry point for webgrab.
func main() {
	Execute()
}
