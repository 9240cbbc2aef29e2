package urlx

import (
	"crypto/sha1" //nolint:gosec // dedup key, not a security boundary
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// defaultPorts maps schemes to the port implied when none is given.
// A URL carrying the default port explicitly is normalized to carry none,
// so http://example.com:80/ and http://example.com/ share one key.
var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"ftp":   "21",
}

// Parsed is the canonical decomposition of a URL.
//
// Design decision: We keep our own struct instead of passing *url.URL
// around because:
//  1. The key (dedup form) and the fetch form diverge, and both are
//     derived once here rather than recomputed by every consumer
//  2. Host and Port are split so the connection pool and filters never
//     re-parse authority strings
//  3. The zero value is obviously invalid, which catches unparsed URLs
type Parsed struct {
	// Scheme is the lower-cased URL scheme (http, https, ftp).
	Scheme string

	// Userinfo is the user[:password] portion, empty when absent.
	// It is excluded from the key and never logged.
	Userinfo string

	// Host is the lower-cased host with IDN labels converted to ASCII
	// A-labels. IPv6 literals are stored without brackets.
	Host string

	// Port is the explicit port, or the scheme default when none was given.
	Port string

	// Path is the normalized path: dot-segments resolved, consecutive
	// slashes collapsed, non-ASCII bytes percent-encoded as UTF-8.
	// Always begins with "/".
	Path string

	// Query is the raw query string without the leading "?", order preserved.
	Query string

	// Fragment is kept for the fetch URL and stripped from the key.
	Fragment string
}

// Parse normalizes raw into its canonical form.
// It returns ErrInvalidURL (wrapped with detail) when raw is not an
// absolute URL with a supported scheme and a non-empty host.
func Parse(raw string) (*Parsed, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidURL)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if _, ok := defaultPorts[scheme]; !ok {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))

	// Non-ASCII hostnames go to the wire as Punycode A-labels.
	if !isASCII(host) {
		ascii, err := idna.Lookup.ToASCII(host)
		if err != nil {
			return nil, fmt.Errorf("%w: IDN conversion of %q: %v", ErrInvalidURL, host, err)
		}
		host = ascii
	}

	port := u.Port()
	if port == "" || port == defaultPorts[scheme] {
		port = defaultPorts[scheme]
	}

	p := &Parsed{
		Scheme:   scheme,
		Host:     host,
		Port:     port,
		Path:     normalizePath(u.EscapedPath()),
		Query:    u.RawQuery,
		Fragment: u.Fragment,
	}
	if u.User != nil {
		p.Userinfo = u.User.String()
	}
	return p, nil
}

// MustParse is Parse for inputs known to be valid, typically literals in
// tests. It panics on error.
func MustParse(raw string) *Parsed {
	p, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the fetch URL: the exact form sent on the wire,
// fragment included.
func (p *Parsed) String() string {
	var b strings.Builder
	b.WriteString(p.Scheme)
	b.WriteString("://")
	if p.Userinfo != "" {
		b.WriteString(p.Userinfo)
		b.WriteByte('@')
	}
	b.WriteString(p.HostPort())
	b.WriteString(p.Path)
	if p.Query != "" {
		b.WriteByte('?')
		b.WriteString(p.Query)
	}
	if p.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(p.Fragment)
	}
	return b.String()
}

// KeyURL returns the canonical form used for deduplication: the fetch URL
// without userinfo or fragment, with the default port elided.
func (p *Parsed) KeyURL() string {
	var b strings.Builder
	b.WriteString(p.Scheme)
	b.WriteString("://")
	b.WriteString(bracketHost(p.Host))
	if p.Port != defaultPorts[p.Scheme] {
		b.WriteByte(':')
		b.WriteString(p.Port)
	}
	b.WriteString(p.Path)
	if p.Query != "" {
		b.WriteByte('?')
		b.WriteString(p.Query)
	}
	return b.String()
}

// Key returns the frontier dedup key: the SHA-1 of KeyURL in hex.
// The frontier stores the full URL string separately; the key keeps the
// main table rows fixed-width.
func (p *Parsed) Key() string {
	sum := sha1.Sum([]byte(p.KeyURL())) //nolint:gosec // dedup key
	return hex.EncodeToString(sum[:])
}

// HostPort returns the authority form used in URLs and Host headers, with
// the default port elided. Address is the form with the port always present.
func (p *Parsed) HostPort() string {
	host := bracketHost(p.Host)
	if p.Port == defaultPorts[p.Scheme] {
		return host
	}
	return host + ":" + p.Port
}

// Address returns host:port for the dialer, port always explicit.
func (p *Parsed) Address() string {
	return net.JoinHostPort(p.Host, p.Port)
}

// Resolve parses ref relative to p and normalizes the result.
// Extractors hand raw href values here; anything unresolvable is an error.
func (p *Parsed) Resolve(ref string) (*Parsed, error) {
	base, err := url.Parse(p.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	return Parse(base.ResolveReference(r).String())
}

// IsSecure reports whether the URL uses TLS.
func (p *Parsed) IsSecure() bool {
	return p.Scheme == "https"
}

// Directory returns the path with the final segment removed, used by the
// parent filter and the writer's directory strategy. Always ends in "/".
func (p *Parsed) Directory() string {
	i := strings.LastIndexByte(p.Path, '/')
	return p.Path[:i+1]
}

// bracketHost wraps IPv6 literals in brackets for URL and authority forms.
func bracketHost(host string) string {
	if strings.Contains(host, ":") {
		return "[" + host + "]"
	}
	return host
}

// normalizePath resolves dot-segments, collapses consecutive slashes, and
// percent-encodes non-ASCII bytes as UTF-8.
func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	// Collapse "//" before dot-segment removal so "/a//../b" behaves as
	// "/a/../b".
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}

	path = removeDotSegments(path)

	// Percent-encode anything outside printable ASCII. Already-encoded
	// sequences pass through untouched since '%' is printable.
	var b strings.Builder
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c <= 0x20 || c >= 0x7f {
			fmt.Fprintf(&b, "%%%02X", c)
		} else {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// removeDotSegments implements RFC 3986 section 5.2.4.
func removeDotSegments(path string) string {
	var out []string
	trailingSlash := strings.HasSuffix(path, "/")
	for _, seg := range strings.Split(path, "/") {
		switch seg {
		case "", ".":
			// Skip; the join below restores separators.
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, seg)
		}
	}
	res := "/" + strings.Join(out, "/")
	if trailingSlash && !strings.HasSuffix(res, "/") {
		res += "/"
	}
	return res
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
