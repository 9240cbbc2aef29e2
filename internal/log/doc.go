// Package log provides the crawl's structured logging setup.
//
// The sanitizing handler redacts transport credentials before log records
// reach the underlying handler: Authorization and cookie headers, and
// userinfo embedded in logged URLs. A crawl log quotes the URLs and
// headers it touches constantly, so scrubbing happens at the handler
// rather than at every call site.
package log
