// Package scrape extracts links from fetched documents.
//
// A Dispatcher routes each response to an extractor chosen by content type,
// falling back to the link type recorded when the URL was discovered and
// then to the file extension. Extractors tolerate partial parses: links
// found before an error are kept.
package scrape
