package fetch

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"syscall"
)

// Sentinel errors for redirect handling.
var (
	// ErrRedirectCycle is returned when a redirect chain revisits a URL.
	ErrRedirectCycle = errors.New("redirect cycle detected")

	// ErrTooManyRedirects is returned when a chain exceeds the hop limit.
	ErrTooManyRedirects = errors.New("too many redirects")

	// ErrTooLarge is returned when a response body exceeds the configured
	// size limit and --ignore-length is not set.
	ErrTooLarge = errors.New("response body too large")
)

// ErrorKind classifies a failed exchange for retry policy.
type ErrorKind int

// Error kinds, from spec'd taxonomy: transient network errors requeue with
// backoff, protocol errors count as transient, SSL verification failures
// are terminal.
const (
	// KindNone means no error.
	KindNone ErrorKind = iota

	// KindNetwork covers connect refused/reset, DNS failures, and broken
	// reads. Retryable.
	KindNetwork

	// KindProtocol covers malformed framing and bad chunked encoding.
	// Retryable until tries are exhausted.
	KindProtocol

	// KindSSLVerification covers certificate validation failures. Fatal
	// unless verification is disabled.
	KindSSLVerification

	// KindTimedOut covers any phase timeout. Retryable.
	KindTimedOut

	// KindTooLarge covers bodies over the size limit. Fatal.
	KindTooLarge

	// KindRedirect covers redirect cycles and hop exhaustion. Fatal.
	KindRedirect

	// KindServerError covers 5xx responses. Retryable.
	KindServerError

	// KindClientError covers 4xx responses. Terminal.
	KindClientError
)

// String returns the kind's name for logs and reports.
func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNetwork:
		return "network"
	case KindProtocol:
		return "protocol"
	case KindSSLVerification:
		return "ssl_verification"
	case KindTimedOut:
		return "timed_out"
	case KindTooLarge:
		return "too_large"
	case KindRedirect:
		return "redirect"
	case KindServerError:
		return "server_error"
	case KindClientError:
		return "client_error"
	default:
		return "unknown"
	}
}

// Retryable reports whether the kind warrants a requeue with backoff.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindNetwork, KindProtocol, KindTimedOut, KindServerError:
		return true
	default:
		return false
	}
}

// State is the top-level result of one logical fetch.
type State int

// Fetch states.
const (
	// Completed means a response was received and processed.
	Completed State = iota

	// Retryable means the attempt failed but a retry may succeed.
	Retryable

	// Fatal means retrying cannot help.
	Fatal
)

// Outcome is the sum-type result the scheduler switches on.
//
// Design decision: Go has no tagged unions, so Outcome pairs a State tag
// with the fields valid for it: Response for Completed, Kind and Err
// otherwise. Constructors keep the pairing honest.
type Outcome struct {
	// State selects which fields are meaningful.
	State State

	// Response is set for Completed outcomes.
	Response *Response

	// Kind classifies the failure for Retryable and Fatal outcomes.
	Kind ErrorKind

	// Err is the underlying error for failed outcomes.
	Err error
}

// CompletedOutcome wraps a received response.
func CompletedOutcome(resp *Response) *Outcome {
	return &Outcome{State: Completed, Response: resp}
}

// FailedOutcome classifies err into a Retryable or Fatal outcome.
func FailedOutcome(err error) *Outcome {
	kind := Classify(err)
	state := Fatal
	if kind.Retryable() {
		state = Retryable
	}
	return &Outcome{State: state, Kind: kind, Err: err}
}

// Classify maps an error to its ErrorKind.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrRedirectCycle), errors.Is(err, ErrTooManyRedirects):
		return KindRedirect
	case errors.Is(err, ErrTooLarge):
		return KindTooLarge
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimedOut
	}

	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return KindSSLVerification
	}
	var unknownAuth x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	var certInvalid x509.CertificateInvalidError
	if errors.As(err, &unknownAuth) || errors.As(err, &hostnameErr) || errors.As(err, &certInvalid) {
		return KindSSLVerification
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimedOut
		}
		return KindNetwork
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return KindNetwork
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindNetwork
	}

	// Anything else from the transport is framing trouble.
	return KindProtocol
}
