package frontier

// Status is the lifecycle state of a URL record.
//
// Transitions run Todo -> InProgress -> {Done|Error|Skipped}; the last three
// are terminal. A record returns from InProgress to Todo when a retryable
// failure is requeued, when a cancelled task releases it, and when startup
// recovery resets records left over from an abnormal shutdown.
type Status string

// URL record statuses.
const (
	// StatusTodo marks a URL waiting to be processed.
	StatusTodo Status = "todo"

	// StatusInProgress marks a URL checked out by a worker.
	StatusInProgress Status = "in_progress"

	// StatusDone marks a URL processed successfully.
	StatusDone Status = "done"

	// StatusError marks a URL that failed for good: its tries ran out, or
	// its failure was not retryable.
	StatusError Status = "error"

	// StatusSkipped marks a URL rejected by the filter chain.
	// Skipped URLs are not failures.
	StatusSkipped Status = "skipped"
)

// LinkType records which document format produced a URL. The scraper
// dispatcher uses it to pick an extractor when the response carries no
// usable Content-Type.
type LinkType string

// Link types.
const (
	LinkTypeHTML    LinkType = "html"
	LinkTypeCSS     LinkType = "css"
	LinkTypeJS      LinkType = "js"
	LinkTypeSitemap LinkType = "sitemap"
	LinkTypeRobots  LinkType = "robots"
)

// Record is the unit of frontier bookkeeping: one row per discovered URL.
type Record struct {
	// ID is the insertion-order row id, used as the tiebreaker when
	// checking out work.
	ID int64

	// URL is the canonical fetch URL.
	URL string

	// Key is the dedup key derived from the canonical form
	// (urlx.Parsed.Key). Unique across the table.
	Key string

	// ParentURL is the referring page, empty for seeds.
	ParentURL string

	// RootURL is the seed that (transitively) introduced this URL.
	RootURL string

	// Status is the record's lifecycle state.
	Status Status

	// TryCount is the number of fetch attempts made so far.
	TryCount int

	// Level is the recursion depth from the nearest seed. Seeds are level 0.
	Level int

	// Inline is true for page requisites (images, stylesheets, scripts).
	// Requisites use a separate recursion budget.
	Inline bool

	// InlineLevel is the requisite depth, counted separately from Level.
	InlineLevel int

	// LinkType is the format of the document that produced this URL.
	LinkType LinkType

	// PostData is an optional request body; its presence switches the
	// request method to POST.
	PostData string

	// Referer is the Referer header value to send, when any.
	Referer string

	// StatusCode is the HTTP status of the last attempt, 0 before any.
	StatusCode int

	// Filename is the path the body was saved under, filled after writing.
	Filename string
}

// Update is the set of fields a worker may change after processing.
// Nil pointers leave the stored value untouched.
type Update struct {
	Status     Status
	TryCount   *int
	StatusCode *int
	Filename   *string
}

// Visit maps a (url key, payload digest) pair to the WARC record that first
// captured it. Subsequent identical payloads become revisit records.
type Visit struct {
	// Key is the URL dedup key.
	Key string

	// PayloadDigest is the WARC payload digest (sha1:<base32>).
	PayloadDigest string

	// RecordID is the WARC-Record-ID of the original response record.
	RecordID string
}
