// Package cookie implements the crawl's RFC 6265 cookie jar.
//
// The jar enforces per-cookie and per-domain size caps, rejects Domain
// attributes naming public suffixes, and round-trips the Mozilla
// cookies.txt format for --load-cookies and --save-cookies. It satisfies
// net/http.CookieJar so the fetcher can attach it directly to its client.
package cookie
