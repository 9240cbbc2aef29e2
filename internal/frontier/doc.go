// Package frontier provides the durable URL queue backing a crawl.
//
// The frontier is a SQLite database holding one record per discovered URL
// plus a visits table used for WARC revisit deduplication. It is the single
// source of truth for crawl progress: an interrupted crawl resumes by
// reopening the same database file.
package frontier
