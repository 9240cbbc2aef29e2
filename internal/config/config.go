package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values. Where a matching Wget option exists, the
// default matches Wget's.
const (
	// DefaultTries is the attempt budget per URL.
	DefaultTries = 20

	// DefaultConcurrent is the number of simultaneous in-flight URLs.
	DefaultConcurrent = 1

	// DefaultMaxRedirect bounds one logical request's redirect chain.
	DefaultMaxRedirect = 20

	// DefaultTimeout applies to DNS, connect, and read phases when no
	// per-phase value is given.
	DefaultTimeout = 900 * time.Second

	// DefaultMaxFilenameLength caps one on-disk path segment.
	DefaultMaxFilenameLength = 160

	// DefaultUserAgent identifies webgrab in HTTP requests.
	DefaultUserAgent = "webgrab/1.0 (+https://github.com/webgrab/webgrab)"

	// DefaultDatabaseName is the frontier file created in the working
	// directory when --database is not given.
	DefaultDatabaseName = "webgrab.db"

	// AppName is used for XDG directory paths.
	AppName = "webgrab"
)

// Config holds all options for a crawl.
//
// Design decision: We use a single flat struct instead of nested structs
// per subsystem. The CLI surface maps one flag to one field, and the
// engine slices the struct into component options itself; nesting here
// would only duplicate that mapping.
type Config struct {
	// URLs are the seed URLs, entering the frontier at level 0.
	URLs []string

	// Recursive enables link recursion (-r).
	Recursive bool

	// Level is the maximum recursion depth, 0 meaning unlimited (-l).
	Level int

	// PageRequisites downloads resources needed to render pages (-p).
	PageRequisites bool

	// PageRequisitesLevel is the separate depth budget for requisites.
	PageRequisitesLevel int

	// SpanHosts allows following links to other hosts (-H).
	SpanHosts bool

	// SpanHostsAllow names the link families allowed to span:
	// "linked-pages", "page-requisites", or both comma-separated.
	SpanHostsAllow string

	// NoStrongRedirects subjects redirect targets to the host filters.
	NoStrongRedirects bool

	// Domains and ExcludeDomains are hostname-suffix allow/deny lists.
	Domains        []string
	ExcludeDomains []string

	// Hostnames and ExcludeHostnames are exact-hostname allow/deny lists.
	Hostnames        []string
	ExcludeHostnames []string

	// Accept and Reject are filename suffix allow/deny lists.
	Accept []string
	Reject []string

	// AcceptRegex and RejectRegex filter full URLs.
	AcceptRegex string
	RejectRegex string

	// IncludeDirectories and ExcludeDirectories are path-prefix lists.
	IncludeDirectories []string
	ExcludeDirectories []string

	// NoParent restricts the crawl to descendants of the seed directory.
	NoParent bool

	// FollowTags and IgnoreTags tune the HTML extractor.
	FollowTags []string
	IgnoreTags []string

	// Sitemaps seeds /sitemap.xml beside each seed URL. Sitemaps declared
	// in robots.txt are not added.
	Sitemaps bool

	// FollowFTP follows ftp:// links found on HTTP pages.
	FollowFTP bool

	// HTTPSOnly restricts the crawl to https URLs.
	HTTPSOnly bool

	// Quota is the aggregate download byte cap, 0 meaning unlimited.
	Quota int64

	// NoRobots disables robots.txt checks.
	NoRobots bool

	// Wait is the base inter-request delay per host.
	Wait time.Duration

	// RandomWait randomizes Wait into [0.5, 1.5] of its value.
	RandomWait bool

	// WaitRetry caps the exponential retry backoff.
	WaitRetry time.Duration

	// DNSTimeout, ConnectTimeout, ReadTimeout, and SessionTimeout bound
	// their phases. Zero DNS, connect, and read values inherit Timeout; a
	// zero SessionTimeout leaves the whole request unbounded.
	Timeout        time.Duration
	DNSTimeout     time.Duration
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	SessionTimeout time.Duration

	// LimitRate paces body reads, in bytes per second. 0 is unpaced.
	LimitRate int64

	// Tries is the attempt budget per URL.
	Tries int

	// RetryConnRefused treats connection-refused as retryable.
	RetryConnRefused bool

	// RetryDNSError treats DNS failures as retryable.
	RetryDNSError bool

	// Concurrent is the number of simultaneous in-flight URLs.
	Concurrent int

	// MaxRedirect bounds one logical request's redirect chain.
	MaxRedirect int

	// DirectoryPrefix is the output tree root (-P).
	DirectoryPrefix string

	// Directory strategy flags, mirroring Wget.
	NoDirectories       bool
	ForceDirectories    bool
	NoHostDirectories   bool
	ProtocolDirectories bool
	CutDirs             int

	// RestrictFileNames is the comma-separated restriction mode list.
	RestrictFileNames string

	// MaxFilenameLength caps one path segment, 0 using the default.
	MaxFilenameLength int

	// NoClobber, Continue, Timestamping, and DeleteAfter select the
	// writer's clobber and freshness policy.
	NoClobber    bool
	Continue     bool
	Timestamping bool
	DeleteAfter  bool

	// OutputDocument concatenates all bodies into one file (-O).
	OutputDocument string

	// WARCFile is the archive path prefix; empty disables recording.
	WARCFile string

	// WARCAppend continues an existing archive.
	WARCAppend bool

	// WARCMaxSize rotates archive files at this many bytes.
	WARCMaxSize int64

	// WARCDedup emits revisit records for repeated payloads.
	WARCDedup bool

	// WARCCDX maintains a CDX index beside the archive.
	WARCCDX bool

	// NoWARCCompression writes plain .warc instead of per-record gzip.
	NoWARCCompression bool

	// NoWARCDigests omits block and payload digests.
	NoWARCDigests bool

	// WARCTempDir holds archive files while they are being written.
	WARCTempDir string

	// WARCMoveDir receives finished archive files.
	WARCMoveDir string

	// WARCHeaders are extra warcinfo fields, "name: value" each.
	WARCHeaders []string

	// UserAgent is the User-Agent header.
	UserAgent string

	// Headers are extra request headers, "name: value" each.
	Headers []string

	// Referer forces the Referer header on seed requests.
	Referer string

	// PostData and PostFile supply a POST body for the seeds.
	PostData string
	PostFile string

	// NoHTTPKeepAlive closes connections after each exchange.
	NoHTTPKeepAlive bool

	// HTTPCompression negotiates gzip/deflate/brotli encoding.
	HTTPCompression bool

	// Cookie policy.
	NoCookies          bool
	LoadCookies        string
	SaveCookies        string
	KeepSessionCookies bool

	// TLS policy.
	SecureProtocol     string
	NoCheckCertificate bool
	Certificate        string
	PrivateKey         string
	CACertificate      string
	CADirectory        string

	// BindAddress binds the local side of connections.
	BindAddress string

	// Database is the frontier path. Empty uses DefaultDatabaseName in
	// the working directory.
	Database string

	// DatabaseURI is an alternative frontier location in URI form
	// (file:path). It overrides Database when set.
	DatabaseURI string

	// MaxBodySize aborts bodies larger than this; 0 is unlimited.
	MaxBodySize int64

	// IgnoreLength disables the body size bound.
	IgnoreLength bool

	// ContentOnError saves bodies of 4xx/5xx responses.
	ContentOnError bool

	// IgnoreFatalErrors keeps crawling through disk and database errors.
	IgnoreFatalErrors bool

	// Verbose enables debug logging.
	Verbose bool

	// ConfigFilePath points at the YAML site-override file. Empty
	// searches the usual locations.
	ConfigFilePath string

	// SiteConfigs holds per-site overrides loaded from the config file.
	SiteConfigs *File

	// ReportFile receives the post-crawl summary; empty writes stdout.
	ReportFile string

	// JSONReport and MarkdownReport select the summary format.
	JSONReport     bool
	MarkdownReport bool
}

// NewConfig creates a Config with defaults.
//
// Design decision: We use a constructor instead of relying on zero values
// because many defaults are non-zero, and the constructor documents them.
func NewConfig() *Config {
	return &Config{
		Tries:             DefaultTries,
		Concurrent:        DefaultConcurrent,
		MaxRedirect:       DefaultMaxRedirect,
		Timeout:           DefaultTimeout,
		MaxFilenameLength: DefaultMaxFilenameLength,
		UserAgent:         DefaultUserAgent,
		Level:             5,
		PageRequisitesLevel: 5,
	}
}

// DatabasePath returns the frontier path, applying the default name.
// A file: URI form is accepted via DatabaseURI.
func (c *Config) DatabasePath() string {
	if c.DatabaseURI != "" {
		return strings.TrimPrefix(c.DatabaseURI, "file:")
	}
	if c.Database != "" {
		return c.Database
	}
	return DefaultDatabaseName
}

// PhaseTimeout returns specific when set, else the shared Timeout.
func (c *Config) PhaseTimeout(specific time.Duration) time.Duration {
	if specific > 0 {
		return specific
	}
	return c.Timeout
}

// XDGDataDir returns the XDG data directory for webgrab.
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for webgrab.
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Validate checks the configuration, returning the first problem found.
// It runs once after flag parsing, before any component starts.
func (c *Config) Validate() error {
	if len(c.URLs) == 0 {
		return ErrNoSeeds
	}
	if c.Tries <= 0 {
		return ErrInvalidTries
	}
	if c.Concurrent <= 0 {
		return ErrInvalidConcurrent
	}
	if c.MaxRedirect < 0 {
		return ErrInvalidMaxRedirect
	}
	if c.Wait < 0 {
		return ErrInvalidWait
	}
	if c.Quota < 0 {
		return ErrInvalidQuota
	}
	if c.LimitRate < 0 {
		return ErrInvalidLimitRate
	}
	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}
	if c.WARCAppend && c.WARCFile == "" {
		return ErrAppendWithoutWARC
	}
	if c.PostData != "" && c.PostFile != "" {
		return ErrConflictingPostSources
	}
	return nil
}
