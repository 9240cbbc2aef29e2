package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/webgrab/webgrab/internal/config"
	"github.com/webgrab/webgrab/internal/cookie"
	"github.com/webgrab/webgrab/internal/engine"
	"github.com/webgrab/webgrab/internal/fetch"
	"github.com/webgrab/webgrab/internal/filter"
	"github.com/webgrab/webgrab/internal/frontier"
	"github.com/webgrab/webgrab/internal/log"
	"github.com/webgrab/webgrab/internal/pool"
	"github.com/webgrab/webgrab/internal/report"
	"github.com/webgrab/webgrab/internal/robots"
	"github.com/webgrab/webgrab/internal/scrape"
	"github.com/webgrab/webgrab/internal/urlx"
	"github.com/webgrab/webgrab/internal/waiter"
	"github.com/webgrab/webgrab/internal/warc"
	"github.com/webgrab/webgrab/internal/writer"
)

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cfg := config.NewConfig()
	cmd := &cobra.Command{
		Use:   "crawl [url]...",
		Short: "Download URLs, optionally recursing into a site mirror",
		Long: `Crawl downloads the given URLs and, with --recursive, everything they
link to within the configured depth and host policy. Fetched exchanges can
be recorded into a WARC archive with --warc-file.

The crawl state lives in a database file (--database, default webgrab.db).
Re-running the same command line against an existing database resumes the
crawl where it stopped.

Examples:
  # Download one file
  webgrab crawl http://example.com/file.txt

  # Mirror a site two levels deep with page requisites
  webgrab crawl -r -l 2 -p http://example.com/

  # Archive a crawl into compressed WARC files of at most 1 GiB
  webgrab crawl -r --warc-file example --warc-max-size 1073741824 http://example.com/

  # Resume an interrupted crawl
  webgrab crawl -r --database mirror.db http://example.com/`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, cfg, args)
		},
	}
	registerCrawlFlags(cmd, cfg)
	return cmd
}

// runCrawl assembles the components and drives the engine.
func runCrawl(cmd *cobra.Command, cfg *config.Config, args []string) error {
	cfg.URLs = args
	cfg.Verbose, _ = cmd.Root().PersistentFlags().GetBool("verbose")

	if err := cfg.Validate(); err != nil {
		return &exitError{code: 2, err: err}
	}
	if cfg.PostFile != "" {
		data, err := os.ReadFile(cfg.PostFile) //nolint:gosec // user-provided body file
		if err != nil {
			return &exitError{code: 2, err: fmt.Errorf("failed to read post file: %w", err)}
		}
		cfg.PostData = string(data)
	}

	logger := log.New(cmd.ErrOrStderr(), cfg.Verbose)
	slog.SetDefault(logger)

	// Per-site overrides are optional unless the path was explicit.
	if path := config.FindConfigFile(cfg.ConfigFilePath); path != "" {
		siteConfigs, err := config.LoadConfigFile(path)
		if err != nil {
			return &exitError{code: 2, err: fmt.Errorf("failed to load %s: %w", path, err)}
		}
		cfg.SiteConfigs = siteConfigs
	} else if cfg.ConfigFilePath != "" {
		return &exitError{code: 2, err: config.ErrConfigNotFound}
	}

	crawl, err := assemble(cfg, logger)
	if err != nil {
		return err
	}
	defer crawl.close(logger)

	ctx := context.Background()
	stopSignals(ctx, crawl.engine, logger)

	if err := crawl.engine.Seed(ctx, cfg.URLs, cfg.PostData, cfg.Referer); err != nil {
		return &exitError{code: 2, err: err}
	}

	snap, runErr := crawl.engine.Run(ctx)
	if runErr != nil {
		logger.Error("crawl aborted", "error", runErr)
	}

	crawl.finish(cfg, snap, logger)

	if code := crawl.engine.ExitCode(snap, runErr); code != 0 {
		return &exitError{code: code, err: runErr}
	}
	return nil
}

// crawlComponents holds everything assemble builds, for teardown.
type crawlComponents struct {
	engine   *engine.Engine
	frontier *frontier.DB
	warc     *warc.Writer
	writer   *writer.Writer
	jar      *cookie.Jar
	cfg      *config.Config
}

// assemble builds the component graph from the configuration.
func assemble(cfg *config.Config, logger *slog.Logger) (*crawlComponents, error) {
	front, err := frontier.Open(cfg.DatabasePath(), frontier.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open frontier: %w", err)
	}

	minTLS, maxTLS, err := tlsVersions(cfg.SecureProtocol)
	if err != nil {
		_ = front.Close()
		return nil, &exitError{code: 2, err: err}
	}
	tlsPolicy := pool.TLSPolicy{
		MinVersion:         minTLS,
		MaxVersion:         maxTLS,
		InsecureSkipVerify: cfg.NoCheckCertificate,
	}
	if cfg.Certificate != "" {
		cert, err := tls.LoadX509KeyPair(cfg.Certificate, cfg.PrivateKey)
		if err != nil {
			_ = front.Close()
			return nil, &exitError{code: 2, err: fmt.Errorf("failed to load client certificate: %w", err)}
		}
		tlsPolicy.ClientCert = &cert
	}
	if cas, err := pool.LoadRootCAs(cfg.CACertificate, cfg.CADirectory); err != nil {
		_ = front.Close()
		return nil, &exitError{code: 2, err: err}
	} else if cas != nil {
		tlsPolicy.RootCAs = cas
	}

	connPool, err := pool.New(pool.Options{
		TotalLimit:     cfg.Concurrent,
		ConnectTimeout: cfg.PhaseTimeout(cfg.ConnectTimeout),
		DNSTimeout:     cfg.PhaseTimeout(cfg.DNSTimeout),
		BindAddress:    cfg.BindAddress,
		KeepAlive:      !cfg.NoHTTPKeepAlive,
		TLS:            tlsPolicy,
	})
	if err != nil {
		_ = front.Close()
		return nil, &exitError{code: 2, err: err}
	}

	var jar *cookie.Jar
	if !cfg.NoCookies {
		jar = cookie.NewJar(cookie.WithKeepSessionCookies(cfg.KeepSessionCookies))
		if cfg.LoadCookies != "" {
			if err := jar.LoadFile(cfg.LoadCookies); err != nil {
				_ = front.Close()
				return nil, &exitError{code: 2, err: err}
			}
		}
	}

	fetcher := fetch.NewFetcher(connPool.Transport(), cookieJarOrNil(jar),
		fetch.WithUserAgent(cfg.UserAgent),
		fetch.WithMaxRedirects(cfg.MaxRedirect),
		fetch.WithMaxBodySize(cfg.MaxBodySize, cfg.IgnoreLength),
		fetch.WithCompression(cfg.HTTPCompression),
		fetch.WithRateLimit(cfg.LimitRate),
		fetch.WithSpill(0, cfg.WARCTempDir),
		fetch.WithTimeouts(fetch.Timeouts{
			Read:    cfg.PhaseTimeout(cfg.ReadTimeout),
			Session: cfg.SessionTimeout,
		}),
	)

	var warcWriter *warc.Writer
	if cfg.WARCFile != "" {
		warcOpts := warc.Options{
			Prefix:   cfg.WARCFile,
			Compress: !cfg.NoWARCCompression,
			Digests:  !cfg.NoWARCDigests,
			MaxSize:  cfg.WARCMaxSize,
			Append:   cfg.WARCAppend,
			TempDir:  cfg.WARCTempDir,
			MoveDir:  cfg.WARCMoveDir,
			CDX:      cfg.WARCCDX,
			Software: "webgrab/" + getVersion(),
		}
		for _, raw := range cfg.WARCHeaders {
			name, value, ok := strings.Cut(raw, ":")
			if !ok {
				_ = front.Close()
				return nil, &exitError{code: 2, err: fmt.Errorf("malformed warc header %q", raw)}
			}
			warcOpts.InfoFields = append(warcOpts.InfoFields, warc.Field{
				Name:  strings.TrimSpace(name),
				Value: strings.TrimSpace(value),
			})
		}
		if cfg.WARCDedup {
			warcOpts.Deduper = &frontierDeduper{db: front}
		}
		warcWriter, err = warc.NewWriter(warcOpts)
		if err != nil {
			_ = front.Close()
			return nil, fmt.Errorf("failed to open WARC output: %w", err)
		}
	}

	restrict, err := writer.ParseRestrict(cfg.RestrictFileNames)
	if err != nil {
		_ = front.Close()
		return nil, &exitError{code: 2, err: err}
	}
	fileWriter := writer.New(writer.Options{
		Prefix:              cfg.DirectoryPrefix,
		NoDirectories:       cfg.NoDirectories,
		ForceDirectories:    cfg.ForceDirectories,
		NoHostDirectories:   cfg.NoHostDirectories,
		ProtocolDirectories: cfg.ProtocolDirectories,
		CutDirs:             cfg.CutDirs,
		Restrict:            restrict,
		MaxFilenameLength:   cfg.MaxFilenameLength,
		NoClobber:           cfg.NoClobber,
		Continue:            cfg.Continue,
		Timestamping:        cfg.Timestamping,
		DeleteAfter:         cfg.DeleteAfter,
		OutputDocument:      cfg.OutputDocument,
	})

	stats := engine.NewStats()

	var robotsCache *robots.Cache
	if !cfg.NoRobots {
		robotsCache = robots.NewCache(
			robotsFetcher(fetcher, warcWriter, logger),
			robots.WithLogger(logger),
		)
	}

	chain, err := buildChain(cfg, stats)
	if err != nil {
		_ = front.Close()
		return nil, &exitError{code: 2, err: err}
	}

	baseHeaders, err := parseHeaderList(cfg.Headers)
	if err != nil {
		_ = front.Close()
		return nil, &exitError{code: 2, err: err}
	}

	var htmlOpts []scrape.HTMLOption
	if len(cfg.FollowTags) > 0 {
		htmlOpts = append(htmlOpts, scrape.WithFollowTags(cfg.FollowTags))
	}
	if len(cfg.IgnoreTags) > 0 {
		htmlOpts = append(htmlOpts, scrape.WithIgnoreTags(cfg.IgnoreTags))
	}

	eng := engine.New(engine.Options{
		Frontier:       front,
		Chain:          chain,
		Robots:         robotsCache,
		Fetcher:        fetcher,
		WARC:           warcWriter,
		Writer:         fileWriter,
		Waiter: waiter.New(waiter.Options{
			Wait:       cfg.Wait,
			RandomWait: cfg.RandomWait,
			WaitRetry:  cfg.WaitRetry,
		}),
		Scraper: scrape.NewDispatcher(
			scrape.NewHTMLExtractor(htmlOpts...),
			scrape.NewCSSExtractor(),
			scrape.NewSitemapExtractor(),
		),
		Hooks:          buildHooks(cfg),
		Stats:          stats,
		Logger:         logger,
		Concurrent:     cfg.Concurrent,
		Tries:          cfg.Tries,
		Recursive:      cfg.Recursive,
		PageRequisites: cfg.PageRequisites,
		Sitemaps:       cfg.Sitemaps,
		UserAgent:      cfg.UserAgent,
		ContentOnError: cfg.ContentOnError,
		Quota:          cfg.Quota,
		RequestHeaders: requestHeaders(cfg, baseHeaders),
	})

	return &crawlComponents{
		engine:   eng,
		frontier: front,
		warc:     warcWriter,
		writer:   fileWriter,
		jar:      jar,
		cfg:      cfg,
	}, nil
}

// buildChain constructs the filter chain in evaluation order. Robots
// policy is enforced by the engine rather than by a chain member: a
// transiently unfetchable robots.txt must requeue the URL, which a
// pass/fail filter cannot express.
func buildChain(cfg *config.Config, stats *engine.Stats) (*filter.Chain, error) {
	var acceptRe, rejectRe *regexp.Regexp
	var err error
	if cfg.AcceptRegex != "" {
		if acceptRe, err = regexp.Compile(cfg.AcceptRegex); err != nil {
			return nil, fmt.Errorf("invalid accept-regex: %w", err)
		}
	}
	if cfg.RejectRegex != "" {
		if rejectRe, err = regexp.Compile(cfg.RejectRegex); err != nil {
			return nil, fmt.Errorf("invalid reject-regex: %w", err)
		}
	}

	span := filter.SpanPolicy{Enabled: cfg.SpanHosts}
	if cfg.SpanHosts && cfg.SpanHostsAllow == "" {
		span.LinkedPages = true
		span.PageRequisites = true
	}
	for _, family := range strings.Split(cfg.SpanHostsAllow, ",") {
		switch strings.TrimSpace(family) {
		case "linked-pages":
			span.Enabled = true
			span.LinkedPages = true
		case "page-requisites":
			span.Enabled = true
			span.PageRequisites = true
		case "":
		default:
			return nil, fmt.Errorf("unknown span-hosts-allow family %q", family)
		}
	}

	chain := filter.NewChain(
		&filter.SchemeFilter{AllowFTP: cfg.FollowFTP},
		&filter.RecursiveFilter{
			Enabled:           cfg.Recursive,
			MaxLevel:          cfg.Level,
			MaxRequisiteLevel: cfg.PageRequisitesLevel,
		},
		&filter.SpanHostsFilter{Policy: span, StrongRedirects: !cfg.NoStrongRedirects},
		&filter.DomainsFilter{Accept: cfg.Domains, Reject: cfg.ExcludeDomains},
		&filter.HostnamesFilter{Accept: cfg.Hostnames, Reject: cfg.ExcludeHostnames},
		&filter.ExtensionsFilter{Accept: cfg.Accept, Reject: cfg.Reject},
		&filter.RegexFilter{Accept: acceptRe, Reject: rejectRe},
		&filter.DirectoriesFilter{Include: cfg.IncludeDirectories, Exclude: cfg.ExcludeDirectories},
		&filter.FollowFTPFilter{Follow: cfg.FollowFTP},
		&filter.HTTPSOnlyFilter{Enabled: cfg.HTTPSOnly},
		&filter.QuotaFilter{Quota: cfg.Quota, BytesDownloaded: stats.TotalBytesIn},
	)
	if cfg.NoParent {
		chain.Add(&filter.ParentFilter{})
	}
	return chain, nil
}

// robotsFetcher adapts the fetcher for robots.txt retrieval. The exchange
// is recorded into the WARC like any other, but bypasses the filter chain
// and the frontier.
func robotsFetcher(fetcher *fetch.Fetcher, warcWriter *warc.Writer, logger *slog.Logger) robots.FetchFunc {
	return func(ctx context.Context, robotsURL string) (int, []byte, error) {
		u, err := urlx.Parse(robotsURL)
		if err != nil {
			return 0, nil, err
		}
		obs := engine.WARCObserver(warcWriter, logger, u.Key())
		outcome := fetcher.Do(ctx, &fetch.Request{URL: u}, obs)
		if outcome.State != fetch.Completed {
			return 0, nil, outcome.Err
		}
		resp := outcome.Response
		defer resp.Body.Release()

		body, err := resp.Body.Open()
		if err != nil {
			return resp.StatusCode, nil, nil
		}
		defer body.Close() //nolint:errcheck // read-only spool handle
		data, err := io.ReadAll(body)
		if err != nil {
			return resp.StatusCode, nil, nil
		}
		return resp.StatusCode, data, nil
	}
}

// buildHooks wires configuration-driven behavior through the engine's
// extension points: retry policy exceptions and per-site wait overrides.
func buildHooks(cfg *config.Config) *engine.Hooks {
	hooks := &engine.Hooks{}

	hooks.Error = func(_ *engine.Item, err error) engine.Action {
		if err == nil {
			return engine.ActionNormal
		}
		if !cfg.RetryConnRefused && errors.Is(err, syscall.ECONNREFUSED) {
			return engine.ActionFinish
		}
		var dnsErr *net.DNSError
		if !cfg.RetryDNSError && errors.As(err, &dnsErr) && !dnsErr.IsTimeout {
			return engine.ActionFinish
		}
		return engine.ActionNormal
	}

	if cfg.SiteConfigs != nil {
		hooks.WaitTime = func(d time.Duration, item *engine.Item) time.Duration {
			site := cfg.SiteConfigs.GetSiteConfig(item.URL.Host)
			if site.Wait > 0 {
				return time.Duration(site.Wait * float64(time.Second))
			}
			return d
		}
	}
	return hooks
}

// requestHeaders builds the per-host request header source from the global
// headers and the per-site configuration.
func requestHeaders(cfg *config.Config, base http.Header) func(host string) http.Header {
	if base == nil && cfg.SiteConfigs == nil {
		return nil
	}
	return func(host string) http.Header {
		header := make(http.Header)
		for name, values := range base {
			header[name] = values
		}
		if cfg.SiteConfigs != nil {
			site := cfg.SiteConfigs.GetSiteConfig(host)
			for name, value := range site.Headers {
				header.Set(name, value)
			}
			if site.Cookie != "" {
				header.Set("Cookie", site.Cookie)
			}
		}
		return header
	}
}

// stopSignals installs the two-stage stop handler: the first interrupt
// requests a graceful stop, the second cancels running tasks.
func stopSignals(ctx context.Context, eng *engine.Engine, logger *slog.Logger) {
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			logger.Warn("stop requested; finishing in-flight downloads (interrupt again to abort)")
			eng.Stop()
		case <-ctx.Done():
			return
		}
		select {
		case <-signals:
			logger.Warn("aborting")
			eng.StopNow()
		case <-ctx.Done():
		}
	}()
}

// finish runs the post-crawl teardown that depends on the result: the WARC
// log record, saved cookies, and the summary report.
func (c *crawlComponents) finish(cfg *config.Config, snap *engine.Snapshot, logger *slog.Logger) {
	if snap == nil {
		return
	}

	if c.warc != nil {
		summary := report.NewSummary(cfg.URLs, snap, c.warc.Path())
		var text strings.Builder
		if _, err := report.NewTextWriter(&text).Write(summary); err == nil {
			if _, err := c.warc.WriteLog([]byte(text.String())); err != nil {
				logger.Error("failed to write WARC log record", "error", err)
			}
		}
	}

	if c.jar != nil && cfg.SaveCookies != "" {
		if err := c.jar.SaveFile(cfg.SaveCookies); err != nil {
			logger.Error("failed to save cookies", "error", err)
		}
	}

	out := os.Stdout
	if cfg.ReportFile != "" {
		f, err := os.Create(cfg.ReportFile) //nolint:gosec // user-chosen report path
		if err != nil {
			logger.Error("failed to create report file", "error", err)
			return
		}
		defer f.Close() //nolint:errcheck // flushed below
		out = f
	}

	warcPath := ""
	if c.warc != nil {
		warcPath = c.warc.Path()
	}
	summary := report.NewSummary(cfg.URLs, snap, warcPath)

	var rw report.Writer
	switch {
	case cfg.JSONReport:
		rw = report.NewJSONWriter(out)
	case cfg.MarkdownReport:
		rw = report.NewMarkdownWriter(out)
	default:
		rw = report.NewTextWriter(out)
	}
	if _, err := rw.Write(summary); err != nil {
		logger.Error("failed to write report", "error", err)
	}
}

// close tears down the long-lived components.
func (c *crawlComponents) close(logger *slog.Logger) {
	if c.warc != nil {
		if err := c.warc.Close(); err != nil {
			logger.Error("failed to close WARC output", "error", err)
		}
	}
	if err := c.writer.Close(); err != nil {
		logger.Error("failed to close output document", "error", err)
	}
	if err := c.frontier.Close(); err != nil {
		logger.Error("failed to close frontier", "error", err)
	}
}

// cookieJarOrNil converts a possibly-nil concrete jar into the interface
// the fetcher takes, avoiding the typed-nil pitfall.
func cookieJarOrNil(jar *cookie.Jar) http.CookieJar {
	if jar == nil {
		return nil
	}
	return jar
}

// frontierDeduper adapts the frontier's visits table to the WARC writer's
// dedup interface.
type frontierDeduper struct {
	db *frontier.DB
}

// Lookup implements warc.Deduper.
func (d *frontierDeduper) Lookup(key, digest string) (string, error) {
	return d.db.LookupVisit(context.Background(), key, digest)
}

// Store implements warc.Deduper.
func (d *frontierDeduper) Store(key, digest, recordID string) error {
	return d.db.AddVisit(context.Background(), &frontier.Visit{
		Key:           key,
		PayloadDigest: digest,
		RecordID:      recordID,
	})
}
