package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"media-catalog/internal/hashing"
)

func setupTestDB(t testing.TB) *Database {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	db, err := New(context.Background(), dbPath, 5)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close test database: %v", err)
		}
	})
	return db
}

func setupTestRoot(t testing.TB, db *Database, name string) int64 {
	t.Helper()
	id, err := db.UpsertRoot(context.Background(), &StorageRoot{
		Name:     name,
		Protocol: "smb",
		Host:     "10.0.0.5",
		Port:     445,
		Share:    "media",
	})
	if err != nil {
		t.Fatalf("failed to create test root: %v", err)
	}
	return id
}

func testEntry(rootID int64, path string, size int64) *CatalogEntry {
	return &CatalogEntry{
		RootID:     rootID,
		Path:       path,
		Name:       filepath.Base(path),
		FileType:   "video",
		MimeType:   "video/x-matroska",
		Size:       size,
		ModTime:    time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		Accessible: true,
	}
}

func upsertOne(t testing.TB, db *Database, e *CatalogEntry) UpsertResult {
	t.Helper()
	tx, err := db.BeginBatch()
	if err != nil {
		t.Fatalf("BeginBatch failed: %v", err)
	}
	res, err := db.UpsertEntry(tx, e)
	if endErr := db.EndBatch(tx, err); endErr != nil {
		t.Fatalf("upsert failed: %v", endErr)
	}
	return res
}

// Overlapping batches must measure their own lifetimes: a shared start
// timestamp would let one scan's batch corrupt another's transaction
// metrics.
func TestOverlappingBatchesKeepOwnStartTimes(t *testing.T) {
	db := setupTestDB(t)
	rootID := setupTestRoot(t, db, "nas1")

	first, err := db.BeginBatch()
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(10 * time.Millisecond)

	second, err := db.BeginBatch()
	if err != nil {
		t.Fatal(err)
	}

	if !second.start.After(first.start) {
		t.Errorf("second batch start %v not after first %v", second.start, first.start)
	}

	// Ending the batches out of order must still work on each batch's
	// own transaction.
	if _, err := db.UpsertEntry(second, testEntry(rootID, "movies/b.mkv", 10)); err != nil {
		t.Fatal(err)
	}
	if err := db.EndBatch(second, nil); err != nil {
		t.Fatalf("ending second batch: %v", err)
	}
	if _, err := db.UpsertEntry(first, testEntry(rootID, "movies/a.mkv", 10)); err != nil {
		t.Fatal(err)
	}
	if err := db.EndBatch(first, nil); err != nil {
		t.Fatalf("ending first batch: %v", err)
	}

	for _, p := range []string{"movies/a.mkv", "movies/b.mkv"} {
		entry, err := db.GetEntryByPath(context.Background(), rootID, p)
		if err != nil {
			t.Fatal(err)
		}
		if entry == nil {
			t.Errorf("entry %s missing after overlapping batches", p)
		}
	}
}

func TestUpsertRootIdempotent(t *testing.T) {
	db := setupTestDB(t)

	first := setupTestRoot(t, db, "nas1")
	second := setupTestRoot(t, db, "nas1")
	if first != second {
		t.Errorf("re-upserting a root changed its id: %d != %d", first, second)
	}
}

func TestUpsertEntryInsert(t *testing.T) {
	db := setupTestDB(t)
	rootID := setupTestRoot(t, db, "nas1")

	res := upsertOne(t, db, testEntry(rootID, "movies/x.mkv", 1000))
	if !res.Added {
		t.Error("first upsert should report Added")
	}
	if !res.NeedsHashing {
		t.Error("new entry should need hashing")
	}
}

func TestUpsertEntryUnchangedKeepsHashes(t *testing.T) {
	db := setupTestDB(t)
	rootID := setupTestRoot(t, db, "nas1")
	ctx := context.Background()

	e := testEntry(rootID, "movies/x.mkv", 1000)
	res := upsertOne(t, db, e)

	err := db.UpdateHashes(ctx, res.ID, hashing.FileHashes{
		MD5:    "aa",
		SHA256: "bb",
	})
	if err != nil {
		t.Fatalf("UpdateHashes failed: %v", err)
	}

	res2 := upsertOne(t, db, testEntry(rootID, "movies/x.mkv", 1000))
	if res2.Added {
		t.Error("second upsert should not report Added")
	}
	if res2.NeedsHashing {
		t.Error("unchanged entry with stored hashes should not need re-hashing")
	}

	stored, err := db.GetEntryByPath(ctx, rootID, "movies/x.mkv")
	if err != nil {
		t.Fatal(err)
	}
	if stored.SHA256 != "bb" {
		t.Errorf("hashes lost on unchanged upsert: %+v", stored)
	}
}

func TestUpsertEntryChangeInvalidatesHashes(t *testing.T) {
	db := setupTestDB(t)
	rootID := setupTestRoot(t, db, "nas1")
	ctx := context.Background()

	e := testEntry(rootID, "movies/x.mkv", 1000)
	res := upsertOne(t, db, e)
	if err := db.UpdateHashes(ctx, res.ID, hashing.FileHashes{SHA256: "bb"}); err != nil {
		t.Fatal(err)
	}

	grown := testEntry(rootID, "movies/x.mkv", 2000)
	res2 := upsertOne(t, db, grown)
	if !res2.NeedsHashing {
		t.Error("size change should require re-hashing")
	}

	stored, err := db.GetEntryByPath(ctx, rootID, "movies/x.mkv")
	if err != nil {
		t.Fatal(err)
	}
	if stored.SHA256 != "" || stored.MD5 != "" || stored.QuickHash != "" {
		t.Errorf("stale hashes survived a size change: %+v", stored)
	}
	if stored.Size != 2000 {
		t.Errorf("size = %d, want 2000", stored.Size)
	}
}

func TestTombstoneLifecycle(t *testing.T) {
	db := setupTestDB(t)
	rootID := setupTestRoot(t, db, "nas1")
	ctx := context.Background()

	upsertOne(t, db, testEntry(rootID, "movies/x.mkv", 1000))

	// A cutoff in the future treats every entry as untouched.
	tx, err := db.BeginBatch()
	if err != nil {
		t.Fatal(err)
	}
	n, err := db.MarkMissing(tx, rootID, time.Now().Add(time.Minute))
	if endErr := db.EndBatch(tx, err); endErr != nil {
		t.Fatal(endErr)
	}
	if n != 1 {
		t.Fatalf("tombstoned %d entries, want 1", n)
	}

	stored, err := db.GetEntryByPath(ctx, rootID, "movies/x.mkv")
	if err != nil {
		t.Fatal(err)
	}
	if !stored.Deleted || stored.DeletedAt == nil {
		t.Errorf("entry not tombstoned: %+v", stored)
	}

	// Reappearing in a scan revives the tombstone.
	upsertOne(t, db, testEntry(rootID, "movies/x.mkv", 1000))
	stored, err = db.GetEntryByPath(ctx, rootID, "movies/x.mkv")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Deleted {
		t.Error("re-scanned entry should be revived")
	}
}

func TestPurgeTombstones(t *testing.T) {
	db := setupTestDB(t)
	rootID := setupTestRoot(t, db, "nas1")
	ctx := context.Background()

	res := upsertOne(t, db, testEntry(rootID, "movies/x.mkv", 1000))
	if err := db.SaveMetadata(ctx, res.ID, &ExtractedMetadata{
		MimeType: "video/x-matroska", FileType: "video", ExtractionSuccess: true,
	}); err != nil {
		t.Fatal(err)
	}

	tx, err := db.BeginBatch()
	if err != nil {
		t.Fatal(err)
	}
	_, err = db.MarkMissing(tx, rootID, time.Now().Add(time.Minute))
	if endErr := db.EndBatch(tx, err); endErr != nil {
		t.Fatal(endErr)
	}

	// A fresh tombstone survives the retention window.
	n, err := db.PurgeTombstones(ctx, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("purged %d entries inside retention, want 0", n)
	}

	// Negative retention expires everything immediately.
	n, err = db.PurgeTombstones(ctx, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("purged %d entries, want 1", n)
	}

	stored, err := db.GetEntryByPath(ctx, rootID, "movies/x.mkv")
	if err != nil {
		t.Fatal(err)
	}
	if stored != nil {
		t.Error("purged entry still present")
	}

	md, err := db.GetMetadata(ctx, res.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(md) != 0 {
		t.Errorf("metadata did not cascade on purge: %+v", md)
	}
}

func TestRefreshDuplicateFlags(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	root1 := setupTestRoot(t, db, "nas1")
	root2 := setupTestRoot(t, db, "nas2")

	a := upsertOne(t, db, testEntry(root1, "movies/x.mkv", 1000))
	b := upsertOne(t, db, testEntry(root2, "backup/x.mkv", 1000))
	c := upsertOne(t, db, testEntry(root1, "movies/y.mkv", 500))

	same := hashing.FileHashes{SHA256: "feedface"}
	if err := db.UpdateHashes(ctx, a.ID, same); err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateHashes(ctx, b.ID, same); err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateHashes(ctx, c.ID, hashing.FileHashes{SHA256: "cafe"}); err != nil {
		t.Fatal(err)
	}

	groups, err := db.RefreshDuplicateFlags(ctx)
	if err != nil {
		t.Fatalf("RefreshDuplicateFlags failed: %v", err)
	}
	if groups != 1 {
		t.Errorf("duplicate groups = %d, want 1", groups)
	}

	for _, tc := range []struct {
		rootID int64
		path   string
		want   bool
	}{
		{root1, "movies/x.mkv", true},
		{root2, "backup/x.mkv", true},
		{root1, "movies/y.mkv", false},
	} {
		stored, err := db.GetEntryByPath(ctx, tc.rootID, tc.path)
		if err != nil {
			t.Fatal(err)
		}
		if stored.IsDuplicate != tc.want {
			t.Errorf("%s is_duplicate = %v, want %v", tc.path, stored.IsDuplicate, tc.want)
		}
	}
}

func TestEntriesForProjectionExcludesDeadEntries(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	rootID := setupTestRoot(t, db, "nas1")

	upsertOne(t, db, testEntry(rootID, "movies/live.mkv", 1000))

	inaccessible := testEntry(rootID, "movies/locked.mkv", 500)
	inaccessible.Accessible = false
	upsertOne(t, db, inaccessible)

	gone := testEntry(rootID, "movies/gone.mkv", 700)
	res := upsertOne(t, db, gone)
	_ = res
	tx, err := db.BeginBatch()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tx.Exec("UPDATE files SET deleted = 1, deleted_at = strftime('%s','now') WHERE path = 'movies/gone.mkv'"); err != nil {
		db.EndBatch(tx, err)
		t.Fatal(err)
	}
	if err := db.EndBatch(tx, nil); err != nil {
		t.Fatal(err)
	}

	entries, err := db.EntriesForProjection(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Path != "movies/live.mkv" {
		t.Errorf("unexpected projection input: %+v", entries)
	}
	if entries[0].RootName != "nas1" {
		t.Errorf("root name = %q, want nas1", entries[0].RootName)
	}
}

func TestScanHistoryRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	scanID, err := db.StartScan(ctx, "nas1")
	if err != nil {
		t.Fatalf("StartScan failed: %v", err)
	}

	counters := ScanCounters{FilesProcessed: 10, FilesAdded: 4, FilesUpdated: 5, FilesMissing: 1, ErrorCount: 2}
	if err := db.FinishScan(ctx, scanID, ScanStatusCompleted, counters, ""); err != nil {
		t.Fatalf("FinishScan failed: %v", err)
	}

	records, err := db.RecentScans(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("scan record count = %d, want 1", len(records))
	}

	r := records[0]
	if r.Status != ScanStatusCompleted || r.FinishedAt == nil {
		t.Errorf("scan not closed: %+v", r)
	}
	if r.FilesProcessed != 10 || r.FilesAdded != 4 || r.FilesMissing != 1 || r.ErrorCount != 2 {
		t.Errorf("counters lost: %+v", r)
	}
}
