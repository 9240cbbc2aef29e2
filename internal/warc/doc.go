// Package warc writes WARC 1.0 archives (ISO 28500).
//
// A Writer appends request, response, revisit, metadata, and resource
// records, optionally wrapping each record in its own gzip member so the
// file remains seekable by record. A journal file protects every append:
// after a crash the file is truncated back to the last committed offset,
// leaving a well-formed sequence of records. Rotation starts a new
// numbered file before a record would cross the size threshold, and a CDX
// index can be maintained alongside.
package warc
