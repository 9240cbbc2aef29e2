// Package waiter paces requests per host.
//
// Each host carries the wall-clock time of its last request and its current
// retry backoff. The engine consults the waiter before dispatching and
// sleeps out the returned duration, so within one host requests are never
// reordered or hurried.
package waiter
