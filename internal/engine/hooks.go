package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/webgrab/webgrab/internal/frontier"
)

// ErrHook wraps a panic raised inside a hook. Hook failures never kill the
// engine; the default action applies. Failures of the AcceptURL, Response,
// and GetURLs hooks are logged; the others are dropped silently.
var ErrHook = errors.New("hook failed")

// Action is a hook's verdict on the current item.
type Action int

// Hook actions.
const (
	// ActionNormal continues default processing.
	ActionNormal Action = iota

	// ActionRetry requeues the item regardless of outcome.
	ActionRetry

	// ActionFinish marks the item done regardless of outcome.
	ActionFinish

	// ActionStop requests a graceful engine stop.
	ActionStop
)

// HookID names an extension point.
type HookID int

// Extension points, invoked in the order they occur during processing.
const (
	// HookAcceptURL may veto or force a filter verdict.
	HookAcceptURL HookID = iota

	// HookQueuedURL observes every URL entering the frontier.
	HookQueuedURL

	// HookDequeuedURL observes every URL leaving the frontier.
	HookDequeuedURL

	// HookPreResponse runs once the exchange has completed, just before
	// HookResponse; it is not invoked earlier, when headers arrive.
	HookPreResponse

	// HookResponse runs when the body is complete.
	HookResponse

	// HookError runs after a failed attempt.
	HookError

	// HookGetURLs may contribute additional child URLs.
	HookGetURLs

	// HookWaitTime may adjust the politeness delay.
	HookWaitTime

	// HookFinishStatistics observes the final statistics.
	HookFinishStatistics

	// HookExitStatus may rewrite the process exit code.
	HookExitStatus
)

// Hooks is the registration table for crawl extension points. Nil members
// mean default behavior.
//
// Design decision: Typed function fields instead of a generic
// map[HookID]any keep signatures checked at compile time; the HookID enum
// only names the extension points, and dispatch goes through the fields.
type Hooks struct {
	// AcceptURL decides whether a URL passes, given the chain verdict.
	AcceptURL func(item *Item, verdict bool) bool

	// QueuedURL observes a URL entering the frontier.
	QueuedURL func(rec *frontier.Record)

	// DequeuedURL observes a URL leaving the frontier.
	DequeuedURL func(rec *frontier.Record)

	// PreResponse sees a completed exchange before Response does. Only
	// ActionStop is acted on; other actions are ignored.
	PreResponse func(item *Item) Action

	// Response classifies a completed exchange.
	Response func(item *Item) Action

	// Error classifies a failed attempt.
	Error func(item *Item, err error) Action

	// GetURLs returns additional children for a processed item.
	GetURLs func(item *Item) []*frontier.Record

	// WaitTime adjusts the politeness delay before a request.
	WaitTime func(d time.Duration, item *Item) time.Duration

	// FinishStatistics observes the final counters.
	FinishStatistics func(stats *Snapshot)

	// ExitStatus rewrites the final exit code.
	ExitStatus func(code int) int
}

// call runs fn with panic confinement, returning the default action when
// the hook fails.
func call[T any](hookErr *error, fallback T, fn func() T) (out T) {
	defer func() {
		if r := recover(); r != nil {
			*hookErr = fmt.Errorf("%w: %v", ErrHook, r)
			out = fallback
		}
	}()
	return fn()
}

// acceptURL applies the AcceptURL hook over the chain verdict.
func (h *Hooks) acceptURL(item *Item, verdict bool) (bool, error) {
	if h == nil || h.AcceptURL == nil {
		return verdict, nil
	}
	var hookErr error
	out := call(&hookErr, verdict, func() bool { return h.AcceptURL(item, verdict) })
	return out, hookErr
}

// response applies the Response hook.
func (h *Hooks) response(item *Item) (Action, error) {
	if h == nil || h.Response == nil {
		return ActionNormal, nil
	}
	var hookErr error
	out := call(&hookErr, ActionNormal, func() Action { return h.Response(item) })
	return out, hookErr
}

// preResponse applies the PreResponse hook.
func (h *Hooks) preResponse(item *Item) (Action, error) {
	if h == nil || h.PreResponse == nil {
		return ActionNormal, nil
	}
	var hookErr error
	out := call(&hookErr, ActionNormal, func() Action { return h.PreResponse(item) })
	return out, hookErr
}

// errorHook applies the Error hook.
func (h *Hooks) errorHook(item *Item, err error) (Action, error) {
	if h == nil || h.Error == nil {
		return ActionNormal, nil
	}
	var hookErr error
	out := call(&hookErr, ActionNormal, func() Action { return h.Error(item, err) })
	return out, hookErr
}

// getURLs applies the GetURLs hook.
func (h *Hooks) getURLs(item *Item) ([]*frontier.Record, error) {
	if h == nil || h.GetURLs == nil {
		return nil, nil
	}
	var hookErr error
	var none []*frontier.Record
	out := call(&hookErr, none, func() []*frontier.Record { return h.GetURLs(item) })
	return out, hookErr
}

// waitTime applies the WaitTime hook.
func (h *Hooks) waitTime(d time.Duration, item *Item) time.Duration {
	if h == nil || h.WaitTime == nil {
		return d
	}
	var hookErr error
	return call(&hookErr, d, func() time.Duration { return h.WaitTime(d, item) })
}

// queuedURL notifies the QueuedURL hook.
func (h *Hooks) queuedURL(rec *frontier.Record) {
	if h == nil || h.QueuedURL == nil {
		return
	}
	var hookErr error
	call(&hookErr, struct{}{}, func() struct{} { h.QueuedURL(rec); return struct{}{} })
}

// dequeuedURL notifies the DequeuedURL hook.
func (h *Hooks) dequeuedURL(rec *frontier.Record) {
	if h == nil || h.DequeuedURL == nil {
		return
	}
	var hookErr error
	call(&hookErr, struct{}{}, func() struct{} { h.DequeuedURL(rec); return struct{}{} })
}

// finishStatistics notifies the FinishStatistics hook.
func (h *Hooks) finishStatistics(stats *Snapshot) {
	if h == nil || h.FinishStatistics == nil {
		return
	}
	var hookErr error
	call(&hookErr, struct{}{}, func() struct{} { h.FinishStatistics(stats); return struct{}{} })
}

// exitStatus applies the ExitStatus hook.
func (h *Hooks) exitStatus(code int) int {
	if h == nil || h.ExitStatus == nil {
		return code
	}
	var hookErr error
	return call(&hookErr, code, func() int { return h.ExitStatus(code) })
}
