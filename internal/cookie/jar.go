package cookie

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// Size caps, matching common browser limits.
const (
	// MaxCookieBytes caps name length + value length for one cookie.
	MaxCookieBytes = 4096

	// MaxCookiesPerDomain caps stored cookies per registrable domain.
	MaxCookiesPerDomain = 50
)

// entry is one stored cookie.
type entry struct {
	name    string
	value   string
	domain  string // lower-case, no leading dot
	path    string
	secure  bool
	httpOnly bool
	hostOnly bool // set when no Domain attribute was given
	session  bool // no Expires/Max-Age
	expires  time.Time
	created  time.Time
	seq      int64 // creation tiebreaker
}

func (e *entry) key() string {
	return e.domain + ";" + e.path + ";" + e.name
}

func (e *entry) expired(now time.Time) bool {
	return !e.session && !e.expires.After(now)
}

// Jar is an RFC 6265 cookie store.
//
// Mutation is serialized by a mutex; the engine's cookie traffic is light
// compared to body streaming, so contention is not a concern.
type Jar struct {
	mu      sync.Mutex
	entries map[string]*entry // keyed by (domain, path, name)
	nextSeq int64

	// keepSession keeps session cookies when saving to disk
	// (--keep-session-cookies).
	keepSession bool

	// now is the clock, overridable in tests.
	now func() time.Time
}

// Option configures a Jar.
type Option func(*Jar)

// WithKeepSessionCookies includes session cookies in Save output.
func WithKeepSessionCookies(keep bool) Option {
	return func(j *Jar) {
		j.keepSession = keep
	}
}

// NewJar creates an empty cookie jar.
func NewJar(opts ...Option) *Jar {
	j := &Jar{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// SetCookies implements http.CookieJar. Cookies violating the size caps,
// naming a public suffix, or claiming an unrelated domain are dropped.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	now := j.now()

	for _, c := range cookies {
		if c.Name == "" || len(c.Name)+len(c.Value) > MaxCookieBytes {
			continue
		}

		e := &entry{
			name:     c.Name,
			value:    c.Value,
			path:     defaultPath(c.Path, u.Path),
			secure:   c.Secure,
			httpOnly: c.HttpOnly,
			created:  now,
			seq:      j.nextSeq,
		}
		j.nextSeq++

		domain := strings.ToLower(strings.TrimPrefix(c.Domain, "."))
		if domain == "" {
			e.domain = host
			e.hostOnly = true
		} else {
			if !domainMatch(host, domain) {
				continue
			}
			// A Domain attribute naming a public suffix would let the
			// cookie leak across registrants.
			if isPublicSuffix(domain) && domain != host {
				continue
			}
			e.domain = domain
		}

		switch {
		case c.MaxAge > 0:
			e.expires = now.Add(time.Duration(c.MaxAge) * time.Second)
		case c.MaxAge < 0:
			// Immediate expiry deletes the cookie.
			delete(j.entries, e.key())
			continue
		case !c.Expires.IsZero():
			e.expires = c.Expires
			if e.expired(now) {
				delete(j.entries, e.key())
				continue
			}
		default:
			e.session = true
		}

		// Replacing an existing cookie keeps its creation time, per
		// RFC 6265 section 5.3 step 11.3.
		if old, ok := j.entries[e.key()]; ok {
			e.created = old.created
			e.seq = old.seq
		}
		j.entries[e.key()] = e
		j.enforceDomainCap(e.domain, now)
	}
}

// Cookies implements http.CookieJar. Expired cookies are purged, and the
// result is ordered by path length descending then creation time ascending.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	host := strings.ToLower(u.Hostname())
	secure := u.Scheme == "https"

	j.mu.Lock()
	defer j.mu.Unlock()
	now := j.now()

	var matched []*entry
	for key, e := range j.entries {
		if e.expired(now) {
			delete(j.entries, key)
			continue
		}
		if e.secure && !secure {
			continue
		}
		if e.hostOnly {
			if host != e.domain {
				continue
			}
		} else if !domainMatch(host, e.domain) {
			continue
		}
		if !pathMatch(u.Path, e.path) {
			continue
		}
		matched = append(matched, e)
	}

	sort.Slice(matched, func(a, b int) bool {
		if len(matched[a].path) != len(matched[b].path) {
			return len(matched[a].path) > len(matched[b].path)
		}
		return matched[a].seq < matched[b].seq
	})

	out := make([]*http.Cookie, len(matched))
	for i, e := range matched {
		out[i] = &http.Cookie{Name: e.name, Value: e.value}
	}
	return out
}

// Len returns the number of stored, unexpired cookies.
func (j *Jar) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := j.now()
	n := 0
	for _, e := range j.entries {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

// enforceDomainCap evicts the oldest cookies of a registrable domain once
// the cap is exceeded. Must be called with the lock held.
func (j *Jar) enforceDomainCap(domain string, now time.Time) {
	reg := registrableDomain(domain)

	var owned []*entry
	for key, e := range j.entries {
		if e.expired(now) {
			delete(j.entries, key)
			continue
		}
		if registrableDomain(e.domain) == reg {
			owned = append(owned, e)
		}
	}
	if len(owned) <= MaxCookiesPerDomain {
		return
	}
	sort.Slice(owned, func(a, b int) bool { return owned[a].seq < owned[b].seq })
	for _, e := range owned[:len(owned)-MaxCookiesPerDomain] {
		delete(j.entries, e.key())
	}
}

// domainMatch implements RFC 6265 section 5.1.3.
func domainMatch(host, domain string) bool {
	if host == domain {
		return true
	}
	return strings.HasSuffix(host, "."+domain)
}

// pathMatch implements RFC 6265 section 5.1.4.
func pathMatch(reqPath, cookiePath string) bool {
	if reqPath == "" {
		reqPath = "/"
	}
	if reqPath == cookiePath {
		return true
	}
	if strings.HasPrefix(reqPath, cookiePath) {
		return strings.HasSuffix(cookiePath, "/") || reqPath[len(cookiePath)] == '/'
	}
	return false
}

// defaultPath implements RFC 6265 section 5.1.4 default-path.
func defaultPath(cookiePath, reqPath string) string {
	if cookiePath != "" && strings.HasPrefix(cookiePath, "/") {
		return cookiePath
	}
	if reqPath == "" || !strings.HasPrefix(reqPath, "/") {
		return "/"
	}
	i := strings.LastIndexByte(reqPath, '/')
	if i == 0 {
		return "/"
	}
	return reqPath[:i]
}

// isPublicSuffix reports whether domain is a public suffix like "com" or
// "co.uk". Single labels without a dot count as suffixes for cookie
// purposes.
func isPublicSuffix(domain string) bool {
	suffix, _ := publicsuffix.PublicSuffix(domain)
	return suffix == domain
}

// registrableDomain returns eTLD+1 for grouping cookies under their owner,
// falling back to the host itself when no registrable form exists.
func registrableDomain(domain string) string {
	reg, err := publicsuffix.EffectiveTLDPlusOne(domain)
	if err != nil {
		return domain
	}
	return reg
}
