package config

import "errors"

// Configuration validation errors.
//
// Design decision: We use package-level sentinel errors rather than
// creating new error instances in Validate(). Callers can use errors.Is()
// for programmatic handling while the messages stay human-readable.
var (
	// ErrNoSeeds is returned when no seed URL is given.
	ErrNoSeeds = errors.New("no URLs specified: provide at least one seed URL")

	// ErrInvalidTries is returned when the retry budget is not positive.
	ErrInvalidTries = errors.New("invalid tries: must be positive")

	// ErrInvalidConcurrent is returned when the concurrency is not positive.
	ErrInvalidConcurrent = errors.New("invalid concurrent: must be positive")

	// ErrInvalidMaxRedirect is returned when the redirect budget is negative.
	ErrInvalidMaxRedirect = errors.New("invalid max-redirect: must be non-negative")

	// ErrInvalidWait is returned when the politeness delay is negative.
	ErrInvalidWait = errors.New("invalid wait: must be non-negative")

	// ErrInvalidQuota is returned when the byte quota is negative.
	ErrInvalidQuota = errors.New("invalid quota: must be non-negative")

	// ErrInvalidLimitRate is returned when the rate limit is negative.
	ErrInvalidLimitRate = errors.New("invalid limit-rate: must be non-negative")

	// ErrConflictingReportFormats is returned when both --json and
	// --markdown report formats are selected.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")

	// ErrAppendWithoutWARC is returned when --warc-append is given
	// without --warc-file.
	ErrAppendWithoutWARC = errors.New("warc-append requires warc-file")

	// ErrConflictingPostSources is returned when both --post-data and
	// --post-file are given.
	ErrConflictingPostSources = errors.New("conflicting post sources: --post-data and --post-file cannot be used together")
)
