package filter

import (
	"regexp"
	"strings"
)

// SpanPolicy controls which cross-host links may be followed.
type SpanPolicy struct {
	// Enabled allows spanning to other hosts at all.
	Enabled bool

	// LinkedPages allows ordinary links on spanned hosts.
	LinkedPages bool

	// PageRequisites allows direct page requisites on spanned hosts.
	// Requisite recursion stays on-host: only InlineLevel 1 spans.
	PageRequisites bool
}

// SchemeFilter accepts http and https URLs, plus ftp when enabled.
type SchemeFilter struct {
	// AllowFTP admits ftp URLs into the frontier.
	AllowFTP bool
}

// Name implements Filter.
func (f *SchemeFilter) Name() string { return "scheme" }

// Test implements Filter.
func (f *SchemeFilter) Test(item *Item) bool {
	switch item.URL.Scheme {
	case "http", "https":
		return true
	case "ftp":
		return f.AllowFTP
	default:
		return false
	}
}

// RecursiveFilter enforces the recursion depth budget. Page requisites use
// their own budget so a deep page can still pull its images.
type RecursiveFilter struct {
	// Enabled is false for single-shot downloads; then only level 0 and
	// requisites of level-0 pages pass.
	Enabled bool

	// MaxLevel is the maximum link depth, 0 meaning unlimited.
	MaxLevel int

	// MaxRequisiteLevel is the separate budget for inline resources,
	// 0 meaning unlimited.
	MaxRequisiteLevel int
}

// Name implements Filter.
func (f *RecursiveFilter) Name() string { return "recursive" }

// Test implements Filter.
func (f *RecursiveFilter) Test(item *Item) bool {
	r := item.Record
	if r.Inline {
		return f.MaxRequisiteLevel == 0 || r.InlineLevel <= f.MaxRequisiteLevel
	}
	if r.Level == 0 {
		return true
	}
	if !f.Enabled {
		return false
	}
	return f.MaxLevel == 0 || r.Level <= f.MaxLevel
}

// SpanHostsFilter keeps the crawl on the seed's host unless spanning is
// allowed. Redirect targets bypass this filter under strong-redirect policy.
type SpanHostsFilter struct {
	// Policy is the span-hosts configuration.
	Policy SpanPolicy

	// StrongRedirects lets redirect targets through regardless of host,
	// so a requested resource is not lost to a CDN hop. On by default.
	StrongRedirects bool
}

// Name implements Filter.
func (f *SpanHostsFilter) Name() string { return "span_hosts" }

// Test implements Filter.
func (f *SpanHostsFilter) Test(item *Item) bool {
	if item.Root == nil {
		return true // seeds define their own host scope
	}
	if strings.EqualFold(item.URL.Host, item.Root.Host) {
		return true
	}
	if item.Redirect && f.StrongRedirects {
		return true
	}
	if !f.Policy.Enabled {
		return false
	}
	if item.Record.Inline {
		return f.Policy.PageRequisites && item.Record.InlineLevel <= 1
	}
	return f.Policy.LinkedPages
}

// DomainsFilter applies include/exclude lists of hostname suffixes.
// A hostname matches a suffix when it equals it or ends in "." + suffix.
type DomainsFilter struct {
	// Accept lists domain suffixes to allow. Empty allows all.
	Accept []string

	// Reject lists domain suffixes to refuse. Checked after Accept.
	Reject []string
}

// Name implements Filter.
func (f *DomainsFilter) Name() string { return "domains" }

// Test implements Filter.
func (f *DomainsFilter) Test(item *Item) bool {
	host := item.URL.Host
	if len(f.Accept) > 0 && !matchesAnySuffix(host, f.Accept) {
		return false
	}
	return !matchesAnySuffix(host, f.Reject)
}

func matchesAnySuffix(host string, suffixes []string) bool {
	for _, s := range suffixes {
		s = strings.ToLower(strings.TrimPrefix(s, "."))
		if host == s || strings.HasSuffix(host, "."+s) {
			return true
		}
	}
	return false
}

// HostnamesFilter applies include/exclude lists of exact hostnames.
type HostnamesFilter struct {
	// Accept lists exact hostnames to allow. Empty allows all.
	Accept []string

	// Reject lists exact hostnames to refuse.
	Reject []string
}

// Name implements Filter.
func (f *HostnamesFilter) Name() string { return "hostnames" }

// Test implements Filter.
func (f *HostnamesFilter) Test(item *Item) bool {
	host := item.URL.Host
	if len(f.Accept) > 0 && !containsFold(f.Accept, host) {
		return false
	}
	return !containsFold(f.Reject, host)
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// ExtensionsFilter applies Wget's --accept/--reject suffix lists. Only
// URLs whose final path segment carries an extension are judged; extension-
// less paths (directories, index pages) always pass so recursion can reach
// the accepted files.
type ExtensionsFilter struct {
	// Accept lists filename suffixes to allow. Empty allows all.
	Accept []string

	// Reject lists filename suffixes to refuse.
	Reject []string
}

// Name implements Filter.
func (f *ExtensionsFilter) Name() string { return "extensions" }

// Test implements Filter.
func (f *ExtensionsFilter) Test(item *Item) bool {
	path := strings.ToLower(item.URL.Path)
	last := path[strings.LastIndexByte(path, '/')+1:]
	if !strings.Contains(last, ".") {
		return true
	}
	if matchesAnyExt(last, f.Reject) {
		return false
	}
	if len(f.Accept) > 0 {
		return matchesAnyExt(last, f.Accept)
	}
	return true
}

func matchesAnyExt(name string, suffixes []string) bool {
	for _, s := range suffixes {
		s = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "."))
		if s != "" && strings.HasSuffix(name, "."+s) {
			return true
		}
	}
	return false
}

// RegexFilter applies accept/reject regular expressions to the full URL.
type RegexFilter struct {
	// Accept must match for the URL to pass, when non-nil.
	Accept *regexp.Regexp

	// Reject must not match for the URL to pass, when non-nil.
	Reject *regexp.Regexp
}

// Name implements Filter.
func (f *RegexFilter) Name() string { return "regex" }

// Test implements Filter.
func (f *RegexFilter) Test(item *Item) bool {
	url := item.URL.String()
	if f.Accept != nil && !f.Accept.MatchString(url) {
		return false
	}
	if f.Reject != nil && f.Reject.MatchString(url) {
		return false
	}
	return true
}

// DirectoriesFilter applies include/exclude path prefixes.
type DirectoriesFilter struct {
	// Include lists path prefixes to allow. Empty allows all.
	Include []string

	// Exclude lists path prefixes to refuse.
	Exclude []string
}

// Name implements Filter.
func (f *DirectoriesFilter) Name() string { return "directories" }

// Test implements Filter.
func (f *DirectoriesFilter) Test(item *Item) bool {
	path := item.URL.Path
	if len(f.Include) > 0 && !hasAnyPrefix(path, f.Include) {
		return false
	}
	return !hasAnyPrefix(path, f.Exclude)
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		if strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/") || path == p {
			return true
		}
	}
	return false
}

// ParentFilter implements no-parent: only URLs at or below the seed's
// directory pass. Page requisites are exempt, matching the rule that a
// page's images may live anywhere on the host.
type ParentFilter struct{}

// Name implements Filter.
func (f *ParentFilter) Name() string { return "parent" }

// Test implements Filter.
func (f *ParentFilter) Test(item *Item) bool {
	if item.Root == nil || item.Record.Inline {
		return true
	}
	if !strings.EqualFold(item.URL.Host, item.Root.Host) {
		return true // span-hosts policy owns cross-host decisions
	}
	return strings.HasPrefix(item.URL.Path, item.Root.Directory())
}

// FollowFTPFilter controls whether FTP links found on HTTP pages are
// followed. It always passes FTP seeds at level 0; SchemeFilter still
// rejects them unless its AllowFTP is set.
type FollowFTPFilter struct {
	// Follow admits ftp links discovered during an HTTP crawl.
	Follow bool
}

// Name implements Filter.
func (f *FollowFTPFilter) Name() string { return "follow_ftp" }

// Test implements Filter.
func (f *FollowFTPFilter) Test(item *Item) bool {
	if item.URL.Scheme != "ftp" {
		return true
	}
	return f.Follow || item.Record.Level == 0
}

// HTTPSOnlyFilter restricts the crawl to https URLs.
type HTTPSOnlyFilter struct {
	// Enabled turns the restriction on.
	Enabled bool
}

// Name implements Filter.
func (f *HTTPSOnlyFilter) Name() string { return "https_only" }

// Test implements Filter.
func (f *HTTPSOnlyFilter) Test(item *Item) bool {
	return !f.Enabled || item.URL.Scheme == "https"
}

// QuotaFilter rejects new URLs once the aggregate download size crosses the
// configured cap. In-flight fetches are never cut short; the quota only
// stops new work, matching Wget's --quota semantics.
type QuotaFilter struct {
	// Quota is the byte cap, 0 meaning unlimited.
	Quota int64

	// BytesDownloaded reports the crawl's running byte total.
	BytesDownloaded func() int64
}

// Name implements Filter.
func (f *QuotaFilter) Name() string { return "quota" }

// Test implements Filter.
func (f *QuotaFilter) Test(item *Item) bool {
	if f.Quota <= 0 || f.BytesDownloaded == nil {
		return true
	}
	return f.BytesDownloaded() < f.Quota
}

// RobotsAgent answers robots.txt queries. Implemented by the robots cache;
// declared here so the filter package stays free of network dependencies.
type RobotsAgent interface {
	// Allowed reports whether the user agent may fetch the URL.
	Allowed(scheme, host, port, path, userAgent string) bool
}

// RobotsFilter consults the robots.txt cache. Robots.txt fetches themselves
// bypass the whole chain and never reach this filter.
type RobotsFilter struct {
	// Agent is the robots cache. Nil disables robots enforcement.
	Agent RobotsAgent

	// UserAgent is the agent token matched against robots.txt groups.
	UserAgent string
}

// Name implements Filter.
func (f *RobotsFilter) Name() string { return "robots" }

// Test implements Filter.
func (f *RobotsFilter) Test(item *Item) bool {
	if f.Agent == nil {
		return true
	}
	u := item.URL
	path := u.Path
	if u.Query != "" {
		path += "?" + u.Query
	}
	return f.Agent.Allowed(u.Scheme, u.Host, u.Port, path, f.UserAgent)
}
