package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/webgrab/webgrab/internal/fetch"
	"github.com/webgrab/webgrab/internal/filter"
	"github.com/webgrab/webgrab/internal/frontier"
	"github.com/webgrab/webgrab/internal/robots"
	"github.com/webgrab/webgrab/internal/scrape"
	"github.com/webgrab/webgrab/internal/urlx"
	"github.com/webgrab/webgrab/internal/waiter"
	"github.com/webgrab/webgrab/internal/warc"
	"github.com/webgrab/webgrab/internal/writer"
)

// Options wires the engine's collaborators.
//
// Design decision: Every shared component is passed in explicitly rather
// than constructed here or held globally. The engine owns scheduling; the
// command layer owns assembly.
type Options struct {
	// Frontier is the durable URL store. Required.
	Frontier *frontier.DB

	// Chain is the filter chain applied at dequeue. Required.
	Chain *filter.Chain

	// Robots answers robots.txt queries. Nil disables robots checks.
	Robots *robots.Cache

	// Fetcher executes exchanges. Required.
	Fetcher *fetch.Fetcher

	// WARC records exchanges. Nil disables recording.
	WARC *warc.Writer

	// Writer materializes bodies on disk. Required.
	Writer *writer.Writer

	// Waiter paces requests per host. Required.
	Waiter *waiter.Waiter

	// Scraper extracts links from responses. Required.
	Scraper *scrape.Dispatcher

	// Hooks is the extension point table. Nil means defaults everywhere.
	Hooks *Hooks

	// Stats receives counters. Required.
	Stats *Stats

	// Logger records progress. Nil uses slog.Default.
	Logger *slog.Logger

	// Concurrent bounds simultaneous tasks.
	Concurrent int

	// Tries is the attempt budget per URL.
	Tries int

	// Recursive and PageRequisites control child enqueueing.
	Recursive      bool
	PageRequisites bool

	// Sitemaps seeds each host's /sitemap.xml alongside the seed URLs.
	Sitemaps bool

	// UserAgent is the robots.txt agent token.
	UserAgent string

	// ContentOnError saves bodies of error responses.
	ContentOnError bool

	// Quota triggers a graceful stop once this many bytes are downloaded.
	// 0 means unlimited.
	Quota int64

	// RequestHeaders returns extra headers for a host, or nil. Used for
	// per-site configuration.
	RequestHeaders func(host string) http.Header
}

// Engine is the crawl scheduler.
type Engine struct {
	opts   Options
	logger *slog.Logger

	// stopCh closes on graceful stop: no new check-outs.
	stopCh   chan struct{}
	stopOnce sync.Once

	// cancelTasks aborts running tasks on immediate stop.
	cancelTasks context.CancelFunc
	stoppedNow  atomic.Bool
}

// New creates an Engine.
func New(opts Options) *Engine {
	if opts.Concurrent <= 0 {
		opts.Concurrent = 1
	}
	if opts.Tries <= 0 {
		opts.Tries = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		opts:   opts,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Stop requests a graceful stop: no new tasks are dispatched, in-flight
// tasks finish. Safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// StopNow cancels running tasks after requesting a graceful stop. The
// frontier's in-progress records are released when Run returns.
func (e *Engine) StopNow() {
	e.Stop()
	e.stoppedNow.Store(true)
	if e.cancelTasks != nil {
		e.cancelTasks()
	}
}

// Seed inserts the given URLs at level 0. Invalid URLs are reported and
// skipped; seeding fails only when no URL is usable.
func (e *Engine) Seed(ctx context.Context, urls []string, postData, referer string) error {
	var records []*frontier.Record
	for _, raw := range urls {
		u, err := urlx.Parse(raw)
		if err != nil {
			e.logger.Warn("skipping invalid seed", "url", raw, "error", err)
			continue
		}
		records = append(records, &frontier.Record{
			URL:      u.String(),
			Key:      u.Key(),
			RootURL:  u.String(),
			Status:   frontier.StatusTodo,
			LinkType: frontier.LinkTypeHTML,
			PostData: postData,
			Referer:  referer,
		})
		if e.opts.Sitemaps {
			sm, err := u.Resolve("/sitemap.xml")
			if err != nil {
				continue
			}
			records = append(records, &frontier.Record{
				URL:      sm.String(),
				Key:      sm.Key(),
				RootURL:  u.String(),
				Status:   frontier.StatusTodo,
				LinkType: frontier.LinkTypeSitemap,
			})
		}
	}
	if len(records) == 0 {
		return fmt.Errorf("no valid seed URLs")
	}
	added, err := e.opts.Frontier.AddMany(ctx, records)
	if err != nil {
		return fmt.Errorf("failed to seed frontier: %w", err)
	}
	e.opts.Stats.Queued(added)
	for _, rec := range records {
		e.opts.Hooks.queuedURL(rec)
	}
	return nil
}

// Run drives the crawl to completion: startup recovery, then dispatch
// until the frontier is drained and no task is in flight, or a stop is
// requested. It returns the final statistics snapshot.
func (e *Engine) Run(ctx context.Context) (*Snapshot, error) {
	taskCtx, cancel := context.WithCancel(ctx)
	e.cancelTasks = cancel
	defer cancel()

	recovered, err := e.opts.Frontier.RecoverInProgress(ctx)
	if err != nil {
		return nil, fmt.Errorf("frontier recovery failed: %w", err)
	}
	if recovered > 0 {
		e.logger.Warn("recovered interrupted URLs", "count", recovered)
	}

	// Design decision: We use errgroup.SetLimit rather than a worker pool
	// because it bounds concurrency correctly with far less bookkeeping.
	// Each checked-out URL gets its own goroutine; Go blocks while the
	// limit's worth of tasks are running, which is exactly the back-
	// pressure the dispatcher needs.
	g := new(errgroup.Group)
	g.SetLimit(e.opts.Concurrent)
	var runErr error

dispatch:
	for {
		select {
		case <-e.stopCh:
			break dispatch
		case <-ctx.Done():
			break dispatch
		default:
		}

		rec, err := e.opts.Frontier.CheckOut(ctx)
		if err != nil {
			runErr = fmt.Errorf("frontier check-out failed: %w", err)
			e.Stop()
			break dispatch
		}
		if rec == nil {
			// Running tasks may still enqueue more work: drain them,
			// then look again. A second empty check-out with nothing in
			// flight is the termination condition.
			_ = g.Wait()
			select {
			case <-e.stopCh:
				break dispatch
			case <-ctx.Done():
				break dispatch
			default:
			}
			rec, err = e.opts.Frontier.CheckOut(ctx)
			if err != nil {
				runErr = fmt.Errorf("frontier check-out failed: %w", err)
				e.Stop()
				break dispatch
			}
			if rec == nil {
				break dispatch
			}
		}

		e.opts.Stats.Dequeued()
		e.opts.Hooks.dequeuedURL(rec)

		g.Go(func() error {
			e.process(taskCtx, rec)
			return nil
		})
	}

	_ = g.Wait()

	// After an immediate stop, cancelled tasks may have left records
	// in-progress; release them so the next run resumes cleanly.
	if e.stoppedNow.Load() || ctx.Err() != nil {
		if _, err := e.opts.Frontier.RecoverInProgress(context.WithoutCancel(ctx)); err != nil {
			e.logger.Error("failed to release in-progress records", "error", err)
		}
	}

	snap := e.opts.Stats.Snapshot()
	e.opts.Hooks.finishStatistics(snap)
	return snap, runErr
}

// ExitCode maps the crawl result to the documented process exit codes.
func (e *Engine) ExitCode(snap *Snapshot, runErr error) int {
	code := 0
	switch {
	case runErr != nil:
		code = 1
	case snap.SSLErrors:
		code = 6
	case snap.AuthFailures:
		code = 7
	case snap.ServerErrors:
		code = 8
	case snap.NetworkErrors:
		code = 4
	}
	return e.opts.Hooks.exitStatus(code)
}

// process runs one record through the pipeline and settles its status.
func (e *Engine) process(ctx context.Context, rec *frontier.Record) {
	// An immediate stop may cancel the task context between check-out and
	// start; the record goes back untouched.
	if ctx.Err() != nil {
		e.release(ctx, rec)
		return
	}

	item, err := newItem(rec)
	if err != nil {
		e.logger.Warn("unparseable URL in frontier", "url", rec.URL, "error", err)
		e.finish(ctx, item, rec, frontier.StatusError, 0)
		return
	}

	// Filter chain. Robots.txt fetches never pass through here: the
	// robots cache fetches directly via the fetcher.
	item.Verdict = e.opts.Chain.Test(&filter.Item{
		URL:    item.URL,
		Record: rec,
		Root:   item.Root,
	})
	accepted, hookErr := e.opts.Hooks.acceptURL(item, item.Verdict.OK())
	if hookErr != nil {
		e.logger.Warn("accept_url hook failed", "url", rec.URL, "error", hookErr)
	}
	if !accepted {
		e.logger.Debug("rejected by filters", "url", rec.URL, "failed", item.Verdict.Failed)
		e.finish(ctx, item, rec, frontier.StatusSkipped, 0)
		return
	}

	// Robots policy, unless disabled or the record is itself robots.txt.
	if e.opts.Robots != nil && rec.LinkType != frontier.LinkTypeRobots {
		path := item.URL.Path
		if item.URL.Query != "" {
			path += "?" + item.URL.Query
		}
		allowed, err := e.opts.Robots.Check(ctx, item.URL.Scheme, item.URL.Host, item.URL.Port, path, e.opts.UserAgent)
		if errors.Is(err, robots.ErrUnavailable) {
			e.requeue(ctx, item, rec, err)
			return
		}
		if err != nil {
			e.logger.Warn("robots check failed", "url", rec.URL, "error", err)
		} else if !allowed {
			e.logger.Debug("disallowed by robots.txt", "url", rec.URL)
			e.finish(ctx, item, rec, frontier.StatusSkipped, 0)
			return
		}
	}

	// Politeness: wait out the host's clock before dispatching.
	delay := e.opts.Hooks.waitTime(e.opts.Waiter.Delay(item.URL.Host), item)
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			e.release(ctx, rec)
			return
		}
	}
	e.opts.Waiter.RequestSent(item.URL.Host)

	req := &fetch.Request{
		URL:      item.URL,
		PostData: rec.PostData,
		Referer:  rec.Referer,
	}
	if e.opts.RequestHeaders != nil {
		req.Header = e.opts.RequestHeaders(item.URL.Host)
	}
	if offset := e.opts.Writer.ResumeOffset(item.URL); offset > 0 {
		req.Range = fmt.Sprintf("bytes=%d-", offset)
	}

	recorder := &warcRecorder{writer: e.opts.WARC, logger: e.logger, visitKey: rec.Key}
	item.Outcome = e.opts.Fetcher.Do(ctx, req, recorder)

	switch item.Outcome.State {
	case fetch.Completed:
		item.Response = item.Outcome.Response
		defer item.Response.Body.Release()
		e.handleResponse(ctx, item, rec)
	case fetch.Retryable:
		e.noteErrorKind(item.Outcome.Kind)
		e.requeue(ctx, item, rec, item.Outcome.Err)
	case fetch.Fatal:
		e.noteErrorKind(item.Outcome.Kind)
		if action, _ := e.opts.Hooks.errorHook(item, item.Outcome.Err); action == ActionRetry {
			e.requeue(ctx, item, rec, item.Outcome.Err)
			return
		}
		e.logger.Warn("fetch failed", "url", rec.URL, "kind", item.Outcome.Kind.String(), "error", item.Outcome.Err)
		e.finish(ctx, item, rec, frontier.StatusError, 0)
	}
}

// handleResponse settles a completed exchange by status class.
func (e *Engine) handleResponse(ctx context.Context, item *Item, rec *frontier.Record) {
	resp := item.Response
	status := resp.StatusCode
	e.opts.Stats.BytesIn(item.URL.Host, resp.Length, resp.Duration)
	e.opts.Waiter.Success(item.URL.Host)

	if action, hookErr := e.opts.Hooks.preResponse(item); hookErr == nil && action == ActionStop {
		e.Stop()
	}

	action, hookErr := e.opts.Hooks.response(item)
	if hookErr != nil {
		e.logger.Warn("response hook failed", "url", rec.URL, "error", hookErr)
	}
	switch action {
	case ActionRetry:
		e.requeue(ctx, item, rec, nil)
		return
	case ActionFinish:
		e.finish(ctx, item, rec, frontier.StatusDone, status)
		return
	case ActionStop:
		e.Stop()
	}

	switch {
	case status >= 200 && status < 300:
		e.handleSuccess(ctx, item, rec)

	case status == http.StatusTooManyRequests:
		backoff := e.opts.Waiter.RateLimited(item.URL.Host)
		e.logger.Debug("rate limited", "url", rec.URL, "backoff", backoff)
		e.requeue(ctx, item, rec, nil)

	case status >= 500:
		e.opts.Stats.NoteServerError()
		e.requeue(ctx, item, rec, nil)

	case status >= 400:
		if status == http.StatusUnauthorized || status == http.StatusProxyAuthRequired {
			e.opts.Stats.NoteAuthFailure()
		}
		e.opts.Stats.NoteServerError()
		if e.opts.ContentOnError {
			e.save(item, rec)
		}
		e.finish(ctx, item, rec, frontier.StatusError, status)

	default:
		// Residual 3xx: the fetcher exhausted or refused the redirect
		// internally; nothing further to do with the body.
		e.finish(ctx, item, rec, frontier.StatusDone, status)
	}
}

// handleSuccess writes, scrapes, and enqueues children for a 2xx response.
func (e *Engine) handleSuccess(ctx context.Context, item *Item, rec *frontier.Record) {
	e.save(item, rec)
	e.scrapeAndEnqueue(ctx, item, rec)
	e.finish(ctx, item, rec, frontier.StatusDone, item.Response.StatusCode)

	if e.opts.Quota > 0 && e.opts.Stats.TotalBytesIn() >= e.opts.Quota {
		e.logger.Warn("download quota reached; stopping", "quota", e.opts.Quota)
		e.Stop()
	}
}

// save writes the response body to disk.
func (e *Engine) save(item *Item, rec *frontier.Record) {
	body, err := item.Response.Body.Open()
	if err != nil {
		e.logger.Error("failed to open body for writing", "url", rec.URL, "error", err)
		return
	}
	defer body.Close() //nolint:errcheck // read-only spool handle

	// The final URL after redirects names the file, matching what the
	// content actually is.
	path, err := e.opts.Writer.Save(item.Response.URL, item.Response.Header, item.Response.StatusCode, body)
	switch {
	case errors.Is(err, writer.ErrNotModified):
		e.logger.Debug("local file is current", "url", rec.URL)
		item.Filename = path
	case err != nil:
		e.logger.Error("failed to write body", "url", rec.URL, "error", err)
	default:
		item.Filename = path
	}
}

// scrapeAndEnqueue extracts links and inserts the children, requisites
// before linked pages so a page is usable as soon as it is saved.
func (e *Engine) scrapeAndEnqueue(ctx context.Context, item *Item, rec *frontier.Record) {
	if !e.opts.Recursive && !e.opts.PageRequisites && rec.LinkType != frontier.LinkTypeSitemap {
		return
	}

	resp := item.Response
	links, err := e.opts.Scraper.Scrape(&scrape.Document{
		URL:         resp.URL,
		ContentType: resp.ContentType,
		LinkType:    rec.LinkType,
		Open:        resp.Body.Open,
	})
	if err != nil {
		// Partial parses still produced links; keep them.
		e.logger.Debug("partial scrape", "url", rec.URL, "links", len(links), "error", err)
	}

	var requisites, pages []*frontier.Record
	for _, link := range links {
		child := e.childRecord(item, rec, link)
		if child == nil {
			continue
		}
		if child.Inline {
			requisites = append(requisites, child)
		} else {
			pages = append(pages, child)
		}
	}

	if extra, hookErr := e.opts.Hooks.getURLs(item); hookErr == nil {
		pages = append(pages, extra...)
	} else {
		e.logger.Warn("get_urls hook failed", "url", rec.URL, "error", hookErr)
	}

	children := append(requisites, pages...)
	if len(children) == 0 {
		return
	}
	item.Children = children

	added, err := e.opts.Frontier.AddMany(ctx, children)
	if err != nil {
		e.logger.Error("failed to enqueue children", "url", rec.URL, "error", err)
		return
	}
	e.opts.Stats.Queued(added)
	for _, child := range children {
		e.opts.Hooks.queuedURL(child)
	}
}

// childRecord builds the frontier record for one extracted link, or nil
// when the link cannot become one.
func (e *Engine) childRecord(item *Item, rec *frontier.Record, link scrape.Link) *frontier.Record {
	base := item.Response.URL
	if link.BaseOverride != "" {
		if override, err := base.Resolve(link.BaseOverride); err == nil {
			base = override
		}
	}
	target, err := base.Resolve(link.URL)
	if err != nil {
		return nil
	}

	inline := link.Inline
	if !inline && !e.opts.Recursive && rec.LinkType != frontier.LinkTypeSitemap {
		return nil // single-shot runs follow requisites only
	}
	if inline && !e.opts.PageRequisites {
		return nil
	}

	child := &frontier.Record{
		URL:      target.String(),
		Key:      target.Key(),
		RootURL:  rec.RootURL,
		Status:   frontier.StatusTodo,
		Level:    rec.Level + 1,
		Inline:   inline,
		LinkType: link.LinkType,
		Referer:  rec.URL,
	}
	child.ParentURL = rec.URL
	if inline {
		child.InlineLevel = rec.InlineLevel + 1
	}
	return child
}

// requeue returns a retryable failure to the frontier with backoff, or
// settles it as an error once the attempt budget is spent.
func (e *Engine) requeue(ctx context.Context, item *Item, rec *frontier.Record, cause error) {
	tries := rec.TryCount + 1
	if tries >= e.opts.Tries {
		if cause != nil {
			e.logger.Warn("giving up", "url", rec.URL, "tries", tries, "error", cause)
		}
		e.finish(ctx, item, rec, frontier.StatusError, statusOf(item))
		return
	}

	if action, _ := e.opts.Hooks.errorHook(item, cause); action == ActionFinish {
		e.finish(ctx, item, rec, frontier.StatusError, statusOf(item))
		return
	}

	backoff := e.opts.Waiter.Failure(item.URL.Host, tries)
	e.logger.Debug("requeueing", "url", rec.URL, "attempt", tries, "backoff", backoff, "error", cause)
	if err := e.opts.Frontier.Update(ctx, rec.Key, frontier.Update{
		Status:   frontier.StatusTodo,
		TryCount: &tries,
	}); err != nil {
		e.logger.Error("failed to requeue", "url", rec.URL, "error", err)
	}
}

// finish settles a record in a terminal status.
func (e *Engine) finish(ctx context.Context, item *Item, rec *frontier.Record, status frontier.Status, statusCode int) {
	tries := rec.TryCount + 1
	up := frontier.Update{Status: status, TryCount: &tries}
	if statusCode > 0 {
		up.StatusCode = &statusCode
	}
	if item != nil && item.Filename != "" {
		up.Filename = &item.Filename
	}
	if err := e.opts.Frontier.Update(context.WithoutCancel(ctx), rec.Key, up); err != nil {
		e.logger.Error("failed to update record", "url", rec.URL, "error", err)
		return
	}
	e.opts.Stats.Finished(status)
}

// release returns an untouched record to TODO, used when a task is
// cancelled before fetching.
func (e *Engine) release(ctx context.Context, rec *frontier.Record) {
	if err := e.opts.Frontier.Release(context.WithoutCancel(ctx), rec.Key); err != nil {
		e.logger.Error("failed to release record", "url", rec.URL, "error", err)
	}
}

// noteErrorKind maps failure kinds onto the exit-code flags.
func (e *Engine) noteErrorKind(kind fetch.ErrorKind) {
	switch kind {
	case fetch.KindNetwork, fetch.KindTimedOut, fetch.KindProtocol:
		e.opts.Stats.NoteNetworkError()
	case fetch.KindSSLVerification:
		e.opts.Stats.NoteSSLError()
	}
}

// statusOf returns the HTTP status of an item's response, 0 when none.
func statusOf(item *Item) int {
	if item != nil && item.Response != nil {
		return item.Response.StatusCode
	}
	return 0
}
