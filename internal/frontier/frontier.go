package frontier

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// ErrNotFound is returned when no record exists for a key.
var ErrNotFound = errors.New("frontier: record not found")

// DB is the durable frontier store.
//
// Design decision: We use a single database file per crawl rather than one
// per host. Check-out ordering spans hosts, and resume must see the whole
// crawl in one transaction scope.
type DB struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// path is the path to the SQLite database file.
	path string

	// mu serializes writers within the process. SQLite allows a single
	// writer; taking the lock here keeps transactions short and avoids
	// SQLITE_BUSY churn.
	mu sync.Mutex
}

// Options configures DB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	// When false, Open fails on a missing file instead of silently
	// starting an empty crawl.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging for better concurrent
	// performance. Recommended for most use cases.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a frontier database at path.
// If CreateIfNotExists is false and the file doesn't exist, an error is
// returned.
func Open(path string, opts Options) (*DB, error) {
	if !opts.CreateIfNotExists {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("frontier database not found at %s", path)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	// modernc.org/sqlite uses mode=rw to prevent creating new files and
	// mode=rwc to allow creation.
	dsn := path + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = path + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer; a single pooled connection keeps
	// transactions serialized without busy-retries.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	f := &DB{db: db, path: path}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := f.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return f, nil
}

// Close closes the database connection.
func (f *DB) Close() error {
	return f.db.Close()
}

// Path returns the database file path.
func (f *DB) Path() string {
	return f.path
}

// createTables creates the database schema if it doesn't exist.
func (f *DB) createTables() error {
	schema := `
	-- Full URL strings are interned here to keep the urls table compact.
	CREATE TABLE IF NOT EXISTS url_strings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS urls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		key TEXT NOT NULL UNIQUE,
		url_string_id INTEGER NOT NULL REFERENCES url_strings(id),
		parent_string_id INTEGER REFERENCES url_strings(id),
		root_string_id INTEGER REFERENCES url_strings(id),
		status TEXT NOT NULL DEFAULT 'todo',
		try_count INTEGER NOT NULL DEFAULT 0,
		level INTEGER NOT NULL DEFAULT 0,
		inline_flag INTEGER NOT NULL DEFAULT 0,
		inline_level INTEGER NOT NULL DEFAULT 0,
		link_type TEXT NOT NULL DEFAULT '',
		post_data TEXT NOT NULL DEFAULT '',
		referer TEXT NOT NULL DEFAULT '',
		status_code INTEGER NOT NULL DEFAULT 0,
		filename TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_urls_status ON urls(status);
	CREATE INDEX IF NOT EXISTS idx_urls_checkout ON urls(status, level, id);

	-- Visits map (key, payload digest) to the WARC record that first
	-- captured the payload, for revisit records across runs.
	CREATE TABLE IF NOT EXISTS visits (
		key TEXT NOT NULL,
		payload_digest TEXT NOT NULL,
		warc_record_id TEXT NOT NULL,
		PRIMARY KEY (key, payload_digest)
	);
	`
	_, err := f.db.ExecContext(context.Background(), schema)
	return err
}

// internURL inserts url into url_strings if absent and returns its id.
func internURL(ctx context.Context, tx *sql.Tx, url string) (int64, error) {
	if url == "" {
		return 0, nil
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO url_strings (url) VALUES (?) ON CONFLICT(url) DO NOTHING`, url); err != nil {
		return 0, err
	}
	var id int64
	if err := tx.QueryRowContext(ctx,
		`SELECT id FROM url_strings WHERE url = ?`, url).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// AddMany inserts records, skipping any whose key already exists.
// The whole batch commits atomically. It returns the number of records
// actually inserted.
func (f *DB) AddMany(ctx context.Context, records []*Record) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	added := 0
	for _, r := range records {
		urlID, err := internURL(ctx, tx, r.URL)
		if err != nil {
			return 0, fmt.Errorf("failed to intern URL: %w", err)
		}
		parentID, err := internURL(ctx, tx, r.ParentURL)
		if err != nil {
			return 0, fmt.Errorf("failed to intern parent URL: %w", err)
		}
		rootID, err := internURL(ctx, tx, r.RootURL)
		if err != nil {
			return 0, fmt.Errorf("failed to intern root URL: %w", err)
		}

		status := r.Status
		if status == "" {
			status = StatusTodo
		}

		res, err := tx.ExecContext(ctx, `
		INSERT INTO urls (key, url_string_id, parent_string_id, root_string_id,
			status, try_count, level, inline_flag, inline_level, link_type,
			post_data, referer)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING`,
			r.Key, urlID, nullableID(parentID), nullableID(rootID),
			string(status), r.TryCount, r.Level, boolInt(r.Inline),
			r.InlineLevel, string(r.LinkType), r.PostData, r.Referer,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert URL record: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			added++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return added, nil
}

// CheckOut atomically claims the TODO record with the lowest
// (level, insertion order) and marks it in-progress.
// It returns (nil, nil) when no TODO record remains.
func (f *DB) CheckOut(ctx context.Context) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	r, err := scanRecord(tx.QueryRowContext(ctx, selectRecord+`
		WHERE u.status = 'todo'
		ORDER BY u.level, u.id
		LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select record: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE urls SET status = 'in_progress' WHERE id = ?`, r.ID); err != nil {
		return nil, fmt.Errorf("failed to mark in progress: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	r.Status = StatusInProgress
	return r, nil
}

// Update applies the given fields to the record with key.
func (f *DB) Update(ctx context.Context, key string, up Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	query := `UPDATE urls SET status = ?`
	args := []any{string(up.Status)}
	if up.TryCount != nil {
		query += `, try_count = ?`
		args = append(args, *up.TryCount)
	}
	if up.StatusCode != nil {
		query += `, status_code = ?`
		args = append(args, *up.StatusCode)
	}
	if up.Filename != nil {
		query += `, filename = ?`
		args = append(args, *up.Filename)
	}
	query += ` WHERE key = ?`
	args = append(args, key)

	res, err := f.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Release flips a single in-progress record back to TODO. Used when a
// claimed item is abandoned before processing (immediate stop).
func (f *DB) Release(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, err := f.db.ExecContext(ctx,
		`UPDATE urls SET status = 'todo' WHERE key = ? AND status = 'in_progress'`, key)
	if err != nil {
		return fmt.Errorf("failed to release record: %w", err)
	}
	return nil
}

// RecoverInProgress flips every in-progress record back to TODO.
// Called once at startup: records left in-progress belong to a previous
// process that died mid-crawl. Returns the number of recovered records.
func (f *DB) RecoverInProgress(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	res, err := f.db.ExecContext(ctx,
		`UPDATE urls SET status = 'todo' WHERE status = 'in_progress'`)
	if err != nil {
		return 0, fmt.Errorf("failed to recover in-progress records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count recovered records: %w", err)
	}
	return n, nil
}

// Get returns the record with key, or ErrNotFound.
func (f *DB) Get(ctx context.Context, key string) (*Record, error) {
	r, err := scanRecord(f.db.QueryRowContext(ctx, selectRecord+` WHERE u.key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return r, nil
}

// CountByStatus returns the number of records per status.
func (f *DB) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	rows, err := f.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM urls GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

// AddVisit records that a payload digest was captured under a WARC record.
// Duplicate (key, digest) pairs keep the first record id.
func (f *DB) AddVisit(ctx context.Context, v *Visit) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, err := f.db.ExecContext(ctx, `
	INSERT INTO visits (key, payload_digest, warc_record_id)
	VALUES (?, ?, ?)
	ON CONFLICT(key, payload_digest) DO NOTHING`,
		v.Key, v.PayloadDigest, v.RecordID)
	if err != nil {
		return fmt.Errorf("failed to add visit: %w", err)
	}
	return nil
}

// LookupVisit returns the WARC record id that first captured digest for any
// URL, preferring an exact (key, digest) match. Returns "" when unseen.
func (f *DB) LookupVisit(ctx context.Context, key, digest string) (string, error) {
	var id string
	err := f.db.QueryRowContext(ctx,
		`SELECT warc_record_id FROM visits WHERE key = ? AND payload_digest = ?`,
		key, digest).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		err = f.db.QueryRowContext(ctx,
			`SELECT warc_record_id FROM visits WHERE payload_digest = ? LIMIT 1`,
			digest).Scan(&id)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up visit: %w", err)
	}
	return id, nil
}

// selectRecord is the shared projection joining urls with its interned
// strings. Append a WHERE clause before querying.
const selectRecord = `
	SELECT u.id, u.key, s.url,
		COALESCE(p.url, ''), COALESCE(r.url, ''),
		u.status, u.try_count, u.level, u.inline_flag, u.inline_level,
		u.link_type, u.post_data, u.referer, u.status_code, u.filename
	FROM urls u
	JOIN url_strings s ON s.id = u.url_string_id
	LEFT JOIN url_strings p ON p.id = u.parent_string_id
	LEFT JOIN url_strings r ON r.id = u.root_string_id`

// rowScanner abstracts *sql.Row and *sql.Rows for scanRecord.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var r Record
	var status, linkType string
	var inline int
	if err := row.Scan(&r.ID, &r.Key, &r.URL, &r.ParentURL, &r.RootURL,
		&status, &r.TryCount, &r.Level, &inline, &r.InlineLevel,
		&linkType, &r.PostData, &r.Referer, &r.StatusCode, &r.Filename); err != nil {
		return nil, err
	}
	r.Status = Status(status)
	r.LinkType = LinkType(linkType)
	r.Inline = inline != 0
	return &r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nullableID converts a zero id (no interned string) to SQL NULL.
func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
