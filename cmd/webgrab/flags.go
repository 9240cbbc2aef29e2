package main

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/webgrab/webgrab/internal/config"
)

// registerCrawlFlags declares the crawl command's flag surface.
func registerCrawlFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()

	// Policy
	f.BoolVarP(&cfg.Recursive, "recursive", "r", false, "Follow links in fetched documents")
	f.IntVarP(&cfg.Level, "level", "l", cfg.Level, "Maximum recursion depth (0 = unlimited)")
	f.BoolVarP(&cfg.PageRequisites, "page-requisites", "p", false, "Download resources needed to render pages")
	f.IntVar(&cfg.PageRequisitesLevel, "page-requisites-level", cfg.PageRequisitesLevel, "Separate depth budget for page requisites")
	f.BoolVarP(&cfg.SpanHosts, "span-hosts", "H", false, "Follow links to other hosts")
	f.StringVar(&cfg.SpanHostsAllow, "span-hosts-allow", "", "Link families allowed to span: linked-pages, page-requisites")
	f.BoolVar(&cfg.NoStrongRedirects, "no-strong-redirects", false, "Subject redirect targets to the host filters")
	f.StringSliceVarP(&cfg.Domains, "domains", "D", nil, "Allowed hostname suffixes")
	f.StringSliceVar(&cfg.ExcludeDomains, "exclude-domains", nil, "Refused hostname suffixes")
	f.StringSliceVar(&cfg.Hostnames, "hostnames", nil, "Allowed exact hostnames")
	f.StringSliceVar(&cfg.ExcludeHostnames, "exclude-hostnames", nil, "Refused exact hostnames")
	f.StringSliceVarP(&cfg.Accept, "accept", "A", nil, "Allowed filename suffixes")
	f.StringSliceVarP(&cfg.Reject, "reject", "R", nil, "Refused filename suffixes")
	f.StringVar(&cfg.AcceptRegex, "accept-regex", "", "Only URLs matching this expression")
	f.StringVar(&cfg.RejectRegex, "reject-regex", "", "Skip URLs matching this expression")
	f.StringSliceVarP(&cfg.IncludeDirectories, "include-directories", "I", nil, "Allowed path prefixes")
	f.StringSliceVarP(&cfg.ExcludeDirectories, "exclude-directories", "X", nil, "Refused path prefixes")
	f.BoolVar(&cfg.NoParent, "no-parent", false, "Never ascend above the seed directory")
	f.StringSliceVar(&cfg.FollowTags, "follow-tags", nil, "Only extract links from these HTML elements")
	f.StringSliceVar(&cfg.IgnoreTags, "ignore-tags", nil, "Never extract links from these HTML elements")
	f.BoolVar(&cfg.Sitemaps, "sitemaps", false, "Also crawl each host's sitemap.xml")
	f.BoolVar(&cfg.FollowFTP, "follow-ftp", false, "Follow ftp links found on HTTP pages")
	f.BoolVar(&cfg.HTTPSOnly, "https-only", false, "Only follow https URLs")
	f.Int64VarP(&cfg.Quota, "quota", "Q", 0, "Stop after this many downloaded bytes (0 = unlimited)")
	f.BoolVar(&cfg.NoRobots, "no-robots", false, "Ignore robots.txt")

	// Timing
	f.DurationVarP(&cfg.Wait, "wait", "w", 0, "Base delay between requests to one host")
	f.BoolVar(&cfg.RandomWait, "random-wait", false, "Randomize --wait into 0.5x..1.5x")
	f.DurationVar(&cfg.WaitRetry, "waitretry", 0, "Cap for the exponential retry backoff")
	f.DurationVarP(&cfg.Timeout, "timeout", "T", cfg.Timeout, "Shared timeout for DNS, connect, and read phases")
	f.DurationVar(&cfg.DNSTimeout, "dns-timeout", 0, "DNS resolution timeout")
	f.DurationVar(&cfg.ConnectTimeout, "connect-timeout", 0, "TCP connect timeout")
	f.DurationVar(&cfg.ReadTimeout, "read-timeout", 0, "Socket read timeout")
	f.DurationVar(&cfg.SessionTimeout, "session-timeout", 0, "Whole-request timeout including redirects")
	f.Int64Var(&cfg.LimitRate, "limit-rate", 0, "Download rate limit in bytes per second")

	// Retries
	f.IntVarP(&cfg.Tries, "tries", "t", cfg.Tries, "Attempts per URL")
	f.BoolVar(&cfg.RetryConnRefused, "retry-connrefused", false, "Retry when the connection is refused")
	f.BoolVar(&cfg.RetryDNSError, "retry-dns-error", false, "Retry on DNS resolution failures")
	f.IntVar(&cfg.Concurrent, "concurrent", cfg.Concurrent, "Simultaneous in-flight URLs")
	f.IntVar(&cfg.MaxRedirect, "max-redirect", cfg.MaxRedirect, "Redirect hops per request")

	// I/O
	f.StringVarP(&cfg.DirectoryPrefix, "directory-prefix", "P", "", "Directory to save files under")
	f.BoolVar(&cfg.NoDirectories, "no-directories", false, "Save all files directly into the prefix")
	f.BoolVarP(&cfg.ForceDirectories, "force-directories", "x", false, "Always create host/path directories")
	f.BoolVar(&cfg.NoHostDirectories, "no-host-directories", false, "Omit the host directory")
	f.BoolVar(&cfg.ProtocolDirectories, "protocol-directories", false, "Insert the scheme above the host directory")
	f.IntVar(&cfg.CutDirs, "cut-dirs", 0, "Remove this many leading path components")
	f.StringVar(&cfg.RestrictFileNames, "restrict-file-names", "", "Filename restriction modes (ascii,lower,upper,nocontrol,unix,windows)")
	f.IntVar(&cfg.MaxFilenameLength, "max-filename-length", cfg.MaxFilenameLength, "Longest allowed filename segment")
	f.BoolVarP(&cfg.NoClobber, "no-clobber", "n", false, "Number colliding downloads instead of overwriting")
	f.BoolVarP(&cfg.Continue, "continue", "c", false, "Resume partial downloads with Range requests")
	f.BoolVarP(&cfg.Timestamping, "timestamping", "N", false, "Skip downloads not newer than the local file")
	f.BoolVar(&cfg.DeleteAfter, "delete-after", false, "Delete each file after downloading it")
	f.StringVarP(&cfg.OutputDocument, "output-document", "O", "", "Concatenate all bodies into this file")

	// Recording
	f.StringVar(&cfg.WARCFile, "warc-file", "", "Record exchanges into this WARC path prefix")
	f.BoolVar(&cfg.WARCAppend, "warc-append", false, "Append to an existing WARC sequence")
	f.Int64Var(&cfg.WARCMaxSize, "warc-max-size", 0, "Rotate WARC files at this many bytes")
	f.BoolVar(&cfg.WARCDedup, "warc-dedup", false, "Emit revisit records for repeated payloads")
	f.BoolVar(&cfg.WARCCDX, "warc-cdx", false, "Maintain a CDX index beside the archive")
	f.BoolVar(&cfg.NoWARCCompression, "no-warc-compression", false, "Write uncompressed WARC records")
	f.BoolVar(&cfg.NoWARCDigests, "no-warc-digests", false, "Omit block and payload digests")
	f.StringVar(&cfg.WARCTempDir, "warc-tempdir", "", "Directory for in-progress WARC files")
	f.StringVar(&cfg.WARCMoveDir, "warc-move", "", "Move finished WARC files here")
	f.StringArrayVar(&cfg.WARCHeaders, "warc-header", nil, "Extra warcinfo field (name: value)")

	// Protocol
	f.StringVarP(&cfg.UserAgent, "user-agent", "U", cfg.UserAgent, "User-Agent header")
	f.StringArrayVar(&cfg.Headers, "header", nil, "Extra request header (name: value)")
	f.StringVar(&cfg.Referer, "referer", "", "Referer header for the seed requests")
	f.StringVar(&cfg.PostData, "post-data", "", "POST body for the seed requests")
	f.StringVar(&cfg.PostFile, "post-file", "", "File containing the POST body for the seed requests")
	f.BoolVar(&cfg.NoHTTPKeepAlive, "no-http-keep-alive", false, "Close connections after each request")
	f.BoolVar(&cfg.HTTPCompression, "http-compression", false, "Negotiate gzip/deflate/brotli response encoding")
	f.BoolVar(&cfg.NoCookies, "no-cookies", false, "Disable the cookie jar")
	f.StringVar(&cfg.LoadCookies, "load-cookies", "", "Load cookies from this cookies.txt file")
	f.StringVar(&cfg.SaveCookies, "save-cookies", "", "Save cookies to this cookies.txt file on exit")
	f.BoolVar(&cfg.KeepSessionCookies, "keep-session-cookies", false, "Include session cookies when saving")

	// TLS
	f.StringVar(&cfg.SecureProtocol, "secure-protocol", "auto", "TLS protocol version (auto, TLSv1, TLSv1_1, TLSv1_2, TLSv1_3)")
	f.BoolVar(&cfg.NoCheckCertificate, "no-check-certificate", false, "Skip server certificate verification")
	f.StringVar(&cfg.Certificate, "certificate", "", "Client certificate file (PEM)")
	f.StringVar(&cfg.PrivateKey, "private-key", "", "Client private key file (PEM)")
	f.StringVar(&cfg.CACertificate, "ca-certificate", "", "CA bundle file (PEM)")
	f.StringVar(&cfg.CADirectory, "ca-directory", "", "Directory of CA certificates")
	f.StringVar(&cfg.BindAddress, "bind-address", "", "Local address to bind outgoing connections to")

	// Misc
	f.StringVar(&cfg.Database, "database", "", "Frontier database path (default webgrab.db)")
	f.StringVar(&cfg.DatabaseURI, "database-uri", "", "Frontier database location as a file: URI")
	f.Int64Var(&cfg.MaxBodySize, "max-body-size", 0, "Largest response body to accept (0 = unlimited)")
	f.BoolVar(&cfg.IgnoreLength, "ignore-length", false, "Ignore the body size limit")
	f.BoolVar(&cfg.ContentOnError, "content-on-error", false, "Save bodies of error responses")
	f.BoolVar(&cfg.IgnoreFatalErrors, "ignore-fatal-errors", false, "Keep crawling through disk and database errors")
	f.StringVar(&cfg.ConfigFilePath, "config", "", "Per-site configuration file (default .webgrabrc)")
	f.StringVar(&cfg.ReportFile, "report-file", "", "Write the crawl summary to this file")
	f.BoolVar(&cfg.JSONReport, "json", false, "Render the crawl summary as JSON")
	f.BoolVar(&cfg.MarkdownReport, "markdown", false, "Render the crawl summary as Markdown")
}

// parseHeaderList turns "Name: value" strings into an http.Header.
func parseHeaderList(raw []string) (http.Header, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	header := make(http.Header, len(raw))
	for _, line := range raw {
		name, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("malformed header %q: expected \"name: value\"", line)
		}
		header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return header, nil
}

// tlsVersions maps --secure-protocol values onto TLS version bounds.
func tlsVersions(name string) (minVersion, maxVersion uint16, err error) {
	switch strings.ToLower(name) {
	case "", "auto", "pfs":
		return 0, 0, nil
	case "tlsv1":
		return tls.VersionTLS10, 0, nil
	case "tlsv1_1":
		return tls.VersionTLS11, 0, nil
	case "tlsv1_2":
		return tls.VersionTLS12, 0, nil
	case "tlsv1_3":
		return tls.VersionTLS13, 0, nil
	default:
		return 0, 0, fmt.Errorf("unsupported secure protocol %q", name)
	}
}
