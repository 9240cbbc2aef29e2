package frontier

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "frontier.db"), DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open frontier: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close frontier: %v", err)
		}
	})
	return db
}

func seedRecord(url, key string, level int) *Record {
	return &Record{URL: url, Key: key, RootURL: url, Level: level, LinkType: LinkTypeHTML}
}

// TestAddMany tests batch insertion and key deduplication.
func TestAddMany(t *testing.T) {
	t.Parallel()

	t.Run("inserts new records", func(t *testing.T) {
		t.Parallel()
		db := openTestDB(t)
		ctx := context.Background()

		n, err := db.AddMany(ctx, []*Record{
			seedRecord("http://h/a", "ka", 0),
			seedRecord("http://h/b", "kb", 0),
		})
		if err != nil {
			t.Fatalf("AddMany failed: %v", err)
		}
		if n != 2 {
			t.Errorf("expected 2 inserted, got %d", n)
		}
	})

	t.Run("skips duplicate keys", func(t *testing.T) {
		t.Parallel()
		db := openTestDB(t)
		ctx := context.Background()

		if _, err := db.AddMany(ctx, []*Record{seedRecord("http://h/a", "ka", 0)}); err != nil {
			t.Fatalf("AddMany failed: %v", err)
		}
		n, err := db.AddMany(ctx, []*Record{
			seedRecord("http://h/a", "ka", 1), // duplicate key, deeper level
			seedRecord("http://h/c", "kc", 1),
		})
		if err != nil {
			t.Fatalf("AddMany failed: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 inserted, got %d", n)
		}

		// The original record must be untouched.
		r, err := db.Get(ctx, "ka")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if r.Level != 0 {
			t.Errorf("duplicate insert must not overwrite: level = %d", r.Level)
		}
	})
}

// TestCheckOut tests claim ordering and the empty case.
func TestCheckOut(t *testing.T) {
	t.Parallel()

	t.Run("claims lowest level first", func(t *testing.T) {
		t.Parallel()
		db := openTestDB(t)
		ctx := context.Background()

		if _, err := db.AddMany(ctx, []*Record{
			seedRecord("http://h/deep", "kd", 3),
			seedRecord("http://h/shallow", "ks", 1),
		}); err != nil {
			t.Fatalf("AddMany failed: %v", err)
		}

		r, err := db.CheckOut(ctx)
		if err != nil {
			t.Fatalf("CheckOut failed: %v", err)
		}
		if r == nil || r.Key != "ks" {
			t.Fatalf("expected shallow record first, got %+v", r)
		}
		if r.Status != StatusInProgress {
			t.Errorf("expected in_progress, got %s", r.Status)
		}
	})

	t.Run("claims insertion order within a level", func(t *testing.T) {
		t.Parallel()
		db := openTestDB(t)
		ctx := context.Background()

		if _, err := db.AddMany(ctx, []*Record{
			seedRecord("http://h/first", "k1", 0),
			seedRecord("http://h/second", "k2", 0),
		}); err != nil {
			t.Fatalf("AddMany failed: %v", err)
		}

		r, err := db.CheckOut(ctx)
		if err != nil {
			t.Fatalf("CheckOut failed: %v", err)
		}
		if r.Key != "k1" {
			t.Errorf("expected insertion order, got %s", r.Key)
		}
	})

	t.Run("returns nil when drained", func(t *testing.T) {
		t.Parallel()
		db := openTestDB(t)
		ctx := context.Background()

		r, err := db.CheckOut(ctx)
		if err != nil {
			t.Fatalf("CheckOut failed: %v", err)
		}
		if r != nil {
			t.Errorf("expected nil on empty frontier, got %+v", r)
		}
	})

	t.Run("does not claim the same record twice", func(t *testing.T) {
		t.Parallel()
		db := openTestDB(t)
		ctx := context.Background()

		if _, err := db.AddMany(ctx, []*Record{seedRecord("http://h/a", "ka", 0)}); err != nil {
			t.Fatalf("AddMany failed: %v", err)
		}
		first, err := db.CheckOut(ctx)
		if err != nil || first == nil {
			t.Fatalf("first CheckOut failed: %v %v", first, err)
		}
		second, err := db.CheckOut(ctx)
		if err != nil {
			t.Fatalf("second CheckOut failed: %v", err)
		}
		if second != nil {
			t.Errorf("expected nil, got %+v", second)
		}
	})
}

// TestUpdate tests field updates after processing.
func TestUpdate(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.AddMany(ctx, []*Record{seedRecord("http://h/a", "ka", 0)}); err != nil {
		t.Fatalf("AddMany failed: %v", err)
	}

	tries := 1
	code := 200
	name := "h/a"
	if err := db.Update(ctx, "ka", Update{
		Status:     StatusDone,
		TryCount:   &tries,
		StatusCode: &code,
		Filename:   &name,
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	r, err := db.Get(ctx, "ka")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if r.Status != StatusDone || r.TryCount != 1 || r.StatusCode != 200 || r.Filename != "h/a" {
		t.Errorf("unexpected record after update: %+v", r)
	}

	if err := db.Update(ctx, "missing", Update{Status: StatusDone}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestRecoverInProgress tests startup recovery.
func TestRecoverInProgress(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.AddMany(ctx, []*Record{
		seedRecord("http://h/a", "ka", 0),
		seedRecord("http://h/b", "kb", 0),
	}); err != nil {
		t.Fatalf("AddMany failed: %v", err)
	}
	if _, err := db.CheckOut(ctx); err != nil {
		t.Fatalf("CheckOut failed: %v", err)
	}

	n, err := db.RecoverInProgress(ctx)
	if err != nil {
		t.Fatalf("RecoverInProgress failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 recovered, got %d", n)
	}

	counts, err := db.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus failed: %v", err)
	}
	if counts[StatusTodo] != 2 {
		t.Errorf("expected 2 todo after recovery, got %d", counts[StatusTodo])
	}
	if counts[StatusInProgress] != 0 {
		t.Errorf("expected 0 in_progress after recovery, got %d", counts[StatusInProgress])
	}
}

// TestResume tests that a reopened database retains state.
func TestResume(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "frontier.db")
	ctx := context.Background()

	db, err := Open(path, DefaultOptions())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := db.AddMany(ctx, []*Record{seedRecord("http://h/a", "ka", 0)}); err != nil {
		t.Fatalf("AddMany failed: %v", err)
	}
	if err := db.Update(ctx, "ka", Update{Status: StatusDone}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(path, Options{CreateIfNotExists: false, EnableWAL: true})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close() //nolint:errcheck

	r, err := reopened.Get(ctx, "ka")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if r.Status != StatusDone {
		t.Errorf("expected done after reopen, got %s", r.Status)
	}
}

// TestOpenMissing tests that resume-mode open fails on a missing file.
func TestOpenMissing(t *testing.T) {
	t.Parallel()

	_, err := Open(filepath.Join(t.TempDir(), "absent.db"), Options{CreateIfNotExists: false})
	if err == nil {
		t.Fatal("expected error opening missing database")
	}
}

// TestVisits tests the payload-digest dedup index.
func TestVisits(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	ctx := context.Background()

	v := &Visit{Key: "ka", PayloadDigest: "sha1:ABC", RecordID: "urn:uuid:1"}
	if err := db.AddVisit(ctx, v); err != nil {
		t.Fatalf("AddVisit failed: %v", err)
	}

	// Exact match.
	id, err := db.LookupVisit(ctx, "ka", "sha1:ABC")
	if err != nil {
		t.Fatalf("LookupVisit failed: %v", err)
	}
	if id != "urn:uuid:1" {
		t.Errorf("expected urn:uuid:1, got %q", id)
	}

	// Digest-only match from another URL.
	id, err = db.LookupVisit(ctx, "kb", "sha1:ABC")
	if err != nil {
		t.Fatalf("LookupVisit failed: %v", err)
	}
	if id != "urn:uuid:1" {
		t.Errorf("expected digest match across URLs, got %q", id)
	}

	// Unseen digest.
	id, err = db.LookupVisit(ctx, "ka", "sha1:XYZ")
	if err != nil {
		t.Fatalf("LookupVisit failed: %v", err)
	}
	if id != "" {
		t.Errorf("expected empty for unseen digest, got %q", id)
	}

	// First record id wins on duplicate insert.
	if err := db.AddVisit(ctx, &Visit{Key: "ka", PayloadDigest: "sha1:ABC", RecordID: "urn:uuid:2"}); err != nil {
		t.Fatalf("AddVisit failed: %v", err)
	}
	id, _ = db.LookupVisit(ctx, "ka", "sha1:ABC")
	if id != "urn:uuid:1" {
		t.Errorf("expected original record id kept, got %q", id)
	}
}
