package scanner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"media-catalog/internal/config"
	"media-catalog/internal/database"
	"media-catalog/internal/hashing"
	"media-catalog/internal/localfs"
	"media-catalog/internal/protocol"
)

type fixture struct {
	dir     string
	db      *database.Database
	engine  *hashing.Engine
	scanner *Scanner
}

func setup(t *testing.T, scanning config.ScanningConfig) *fixture {
	t.Helper()

	dir := t.TempDir()
	db, err := database.New(context.Background(), filepath.Join(t.TempDir(), "catalog.db"), 5)
	if err != nil {
		t.Fatalf("creating test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	engine := hashing.NewEngine(2, hashing.DefaultOptions())
	t.Cleanup(engine.Shutdown)

	factory := func(root config.SmbRoot) (protocol.Client, error) {
		return localfs.New(dir)
	}

	return &fixture{
		dir:     dir,
		db:      db,
		engine:  engine,
		scanner: New(db, engine, scanning, factory),
	}
}

func defaultScanning() config.ScanningConfig {
	return config.ScanningConfig{
		MaxConcurrentScans: 2,
		BatchSize:          3, // small so tests exercise batch flushing
	}
}

func testRoot(name string) config.SmbRoot {
	return config.SmbRoot{
		Name:                     name,
		Host:                     "localhost",
		Port:                     445,
		Share:                    "media",
		Enabled:                  true,
		ScanIntervalMinutes:      60,
		MaxDepth:                 -1,
		EnableDeepScan:           true,
		EnableMetadataExtraction: true,
		EnableDuplicateDetection: true,
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func rootID(t *testing.T, f *fixture, name string) int64 {
	t.Helper()
	id, err := f.db.UpsertRoot(context.Background(), &database.StorageRoot{Name: name})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestScanCatalogsAndHashes(t *testing.T) {
	f := setup(t, defaultScanning())
	writeFile(t, f.dir, "movies/x.mkv", "identical content")
	writeFile(t, f.dir, "backup/x-copy.mkv", "identical content")
	writeFile(t, f.dir, "music/song.mp3", "different content")
	ctx := context.Background()

	if err := f.scanner.ScanAll(ctx, []config.SmbRoot{testRoot("local1")}); err != nil {
		t.Fatalf("ScanAll failed: %v", err)
	}

	id := rootID(t, f, "local1")
	entry, err := f.db.GetEntryByPath(ctx, id, "movies/x.mkv")
	if err != nil {
		t.Fatal(err)
	}
	if entry == nil {
		t.Fatal("scanned file missing from catalog")
	}
	if entry.SHA256 == "" || entry.MD5 == "" {
		t.Errorf("hashes not stored: %+v", entry)
	}
	if entry.FileType != "video" {
		t.Errorf("file type = %q, want video", entry.FileType)
	}
	if !entry.IsDuplicate {
		t.Error("identical files should be flagged as duplicates")
	}

	unique, err := f.db.GetEntryByPath(ctx, id, "music/song.mp3")
	if err != nil {
		t.Fatal(err)
	}
	if unique.IsDuplicate {
		t.Error("unique file wrongly flagged as duplicate")
	}

	md, err := f.db.GetMetadata(ctx, entry.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(md) == 0 {
		t.Error("metadata extraction produced no rows")
	}

	scans, err := f.db.RecentScans(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(scans) != 1 || scans[0].Status != database.ScanStatusCompleted {
		t.Fatalf("scan history wrong: %+v", scans)
	}
	if scans[0].FilesProcessed != 3 || scans[0].FilesAdded != 3 {
		t.Errorf("counters wrong: %+v", scans[0])
	}
}

func TestRescanKeepsHashesForUnchangedFiles(t *testing.T) {
	f := setup(t, defaultScanning())
	writeFile(t, f.dir, "movies/x.mkv", "stable content")
	ctx := context.Background()
	roots := []config.SmbRoot{testRoot("local1")}

	if err := f.scanner.ScanAll(ctx, roots); err != nil {
		t.Fatal(err)
	}

	id := rootID(t, f, "local1")
	first, err := f.db.GetEntryByPath(ctx, id, "movies/x.mkv")
	if err != nil {
		t.Fatal(err)
	}

	if err := f.scanner.ScanAll(ctx, roots); err != nil {
		t.Fatal(err)
	}

	second, err := f.db.GetEntryByPath(ctx, id, "movies/x.mkv")
	if err != nil {
		t.Fatal(err)
	}
	if second.SHA256 != first.SHA256 || second.SHA256 == "" {
		t.Errorf("hashes changed on rescan of unchanged file: %q -> %q", first.SHA256, second.SHA256)
	}

	scans, err := f.db.RecentScans(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if scans[0].FilesAdded != 0 || scans[0].FilesUpdated != 1 {
		t.Errorf("rescan counters wrong: %+v", scans[0])
	}
}

func TestRescanTombstonesMissingFiles(t *testing.T) {
	f := setup(t, defaultScanning())
	writeFile(t, f.dir, "movies/keep.mkv", "keep")
	writeFile(t, f.dir, "movies/gone.mkv", "gone")
	ctx := context.Background()
	roots := []config.SmbRoot{testRoot("local1")}

	if err := f.scanner.ScanAll(ctx, roots); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(filepath.Join(f.dir, "movies/gone.mkv")); err != nil {
		t.Fatal(err)
	}

	// Liveness timestamps have one-second resolution; step past the
	// first scan's second so the missing file is distinguishable.
	time.Sleep(1100 * time.Millisecond)

	if err := f.scanner.ScanAll(ctx, roots); err != nil {
		t.Fatal(err)
	}

	id := rootID(t, f, "local1")
	gone, err := f.db.GetEntryByPath(ctx, id, "movies/gone.mkv")
	if err != nil {
		t.Fatal(err)
	}
	if gone == nil || !gone.Deleted {
		t.Errorf("missing file not tombstoned: %+v", gone)
	}

	keep, err := f.db.GetEntryByPath(ctx, id, "movies/keep.mkv")
	if err != nil {
		t.Fatal(err)
	}
	if keep.Deleted {
		t.Error("surviving file wrongly tombstoned")
	}

	scans, err := f.db.RecentScans(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if scans[0].FilesMissing != 1 {
		t.Errorf("missing counter = %d, want 1", scans[0].FilesMissing)
	}
}

func TestExcludePatterns(t *testing.T) {
	f := setup(t, defaultScanning())
	writeFile(t, f.dir, "movies/x.mkv", "data")
	writeFile(t, f.dir, "movies/x.tmp", "scratch")
	writeFile(t, f.dir, "cache/y.mkv", "cached")
	ctx := context.Background()

	root := testRoot("local1")
	root.ExcludePatterns = []string{"*.tmp", "cache"}
	if err := f.scanner.ScanAll(ctx, []config.SmbRoot{root}); err != nil {
		t.Fatal(err)
	}

	id := rootID(t, f, "local1")
	for _, p := range []string{"movies/x.tmp", "cache/y.mkv"} {
		entry, err := f.db.GetEntryByPath(ctx, id, p)
		if err != nil {
			t.Fatal(err)
		}
		if entry != nil {
			t.Errorf("excluded path %s was cataloged", p)
		}
	}

	kept, err := f.db.GetEntryByPath(ctx, id, "movies/x.mkv")
	if err != nil {
		t.Fatal(err)
	}
	if kept == nil {
		t.Error("non-excluded file missing")
	}
}

func TestIncludePatterns(t *testing.T) {
	f := setup(t, defaultScanning())
	writeFile(t, f.dir, "movies/x.mkv", "video")
	writeFile(t, f.dir, "movies/readme.txt", "text")
	ctx := context.Background()

	root := testRoot("local1")
	root.IncludePatterns = []string{"*.mkv"}
	if err := f.scanner.ScanAll(ctx, []config.SmbRoot{root}); err != nil {
		t.Fatal(err)
	}

	id := rootID(t, f, "local1")
	excludedEntry, err := f.db.GetEntryByPath(ctx, id, "movies/readme.txt")
	if err != nil {
		t.Fatal(err)
	}
	if excludedEntry != nil {
		t.Error("file outside include patterns was cataloged")
	}
}

func TestMaxDepthLimitsRecursion(t *testing.T) {
	f := setup(t, defaultScanning())
	writeFile(t, f.dir, "top.mkv", "top")
	writeFile(t, f.dir, "movies/mid.mkv", "mid")
	writeFile(t, f.dir, "movies/nested/deep.mkv", "deep")
	ctx := context.Background()

	root := testRoot("local1")
	root.MaxDepth = 1
	if err := f.scanner.ScanAll(ctx, []config.SmbRoot{root}); err != nil {
		t.Fatal(err)
	}

	id := rootID(t, f, "local1")
	for p, want := range map[string]bool{
		"top.mkv":                true,
		"movies/mid.mkv":         true,
		"movies/nested/deep.mkv": false,
	} {
		entry, err := f.db.GetEntryByPath(ctx, id, p)
		if err != nil {
			t.Fatal(err)
		}
		if (entry != nil) != want {
			t.Errorf("path %s cataloged=%v, want %v", p, entry != nil, want)
		}
	}
}

func TestMediaOnlyWithoutDeepScan(t *testing.T) {
	f := setup(t, defaultScanning())
	writeFile(t, f.dir, "movies/x.mkv", "video")
	writeFile(t, f.dir, "movies/notes.xyz", "junk")
	ctx := context.Background()

	root := testRoot("local1")
	root.EnableDeepScan = false
	if err := f.scanner.ScanAll(ctx, []config.SmbRoot{root}); err != nil {
		t.Fatal(err)
	}

	id := rootID(t, f, "local1")
	entry, err := f.db.GetEntryByPath(ctx, id, "movies/notes.xyz")
	if err != nil {
		t.Fatal(err)
	}
	if entry != nil {
		t.Error("non-media file cataloged without deep scan")
	}
}

func TestDisabledRootSkipped(t *testing.T) {
	f := setup(t, defaultScanning())
	writeFile(t, f.dir, "movies/x.mkv", "video")
	ctx := context.Background()

	root := testRoot("local1")
	root.Enabled = false
	if err := f.scanner.ScanAll(ctx, []config.SmbRoot{root}); err != nil {
		t.Fatal(err)
	}

	scans, err := f.db.RecentScans(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(scans) != 0 {
		t.Errorf("disabled root produced scan history: %+v", scans)
	}
}

func TestCancelledScanRecordsCancellation(t *testing.T) {
	f := setup(t, defaultScanning())
	writeFile(t, f.dir, "movies/x.mkv", "video")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.scanner.ScanRoot(ctx, testRoot("local1"))
	if err == nil {
		t.Fatal("cancelled scan should report an error")
	}

	scans, scanErr := f.db.RecentScans(context.Background(), 5)
	if scanErr != nil {
		t.Fatal(scanErr)
	}
	if len(scans) != 1 || scans[0].Status != database.ScanStatusCancelled {
		t.Errorf("scan history wrong for cancelled scan: %+v", scans)
	}
}

// unlistableClient fails directory listings for one path and delegates
// everything else.
type unlistableClient struct {
	protocol.Client
	failPath string
}

func (c *unlistableClient) ListFiles(ctx context.Context, p string) ([]protocol.FileInfo, error) {
	if p == c.failPath {
		return nil, protocol.NewTransportError("local", "list_files", p, errors.New("permission denied"))
	}
	return c.Client.ListFiles(ctx, p)
}

func TestUnlistableDirectorySkipsMissingFileDetection(t *testing.T) {
	f := setup(t, defaultScanning())
	writeFile(t, f.dir, "movies/x.mkv", "video")
	writeFile(t, f.dir, "music/song.mp3", "audio")
	ctx := context.Background()
	roots := []config.SmbRoot{testRoot("local1")}

	if err := f.scanner.ScanAll(ctx, roots); err != nil {
		t.Fatal(err)
	}

	// Step past the first scan's liveness second so unvisited entries
	// would be eligible for tombstoning if the walk tried.
	time.Sleep(1100 * time.Millisecond)

	f.scanner.factory = func(root config.SmbRoot) (protocol.Client, error) {
		inner, err := localfs.New(f.dir)
		if err != nil {
			return nil, err
		}
		return &unlistableClient{Client: inner, failPath: "movies"}, nil
	}

	if err := f.scanner.ScanAll(ctx, roots); err != nil {
		t.Fatal(err)
	}

	id := rootID(t, f, "local1")
	entry, err := f.db.GetEntryByPath(ctx, id, "movies/x.mkv")
	if err != nil {
		t.Fatal(err)
	}
	if entry == nil || entry.Deleted {
		t.Errorf("file under unlistable directory was tombstoned: %+v", entry)
	}

	scans, err := f.db.RecentScans(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if scans[0].FilesMissing != 0 {
		t.Errorf("incomplete walk reported %d missing files, want 0", scans[0].FilesMissing)
	}
	if scans[0].ErrorCount == 0 {
		t.Error("listing failure not counted as a scan error")
	}
	if scans[0].Status != database.ScanStatusCompleted {
		t.Errorf("scan status = %q, want completed", scans[0].Status)
	}
}

func TestScanAllOrdersRootsByPriority(t *testing.T) {
	scanning := defaultScanning()
	scanning.MaxConcurrentScans = 1
	f := setup(t, scanning)
	ctx := context.Background()

	var mu sync.Mutex
	var order []string
	inner := f.scanner.factory
	f.scanner.factory = func(root config.SmbRoot) (protocol.Client, error) {
		mu.Lock()
		order = append(order, root.Name)
		mu.Unlock()
		return inner(root)
	}

	low := testRoot("archive")
	low.Priority = 1
	high := testRoot("primary")
	high.Priority = 10
	mid := testRoot("shared")
	mid.Priority = 5

	if err := f.scanner.ScanAll(ctx, []config.SmbRoot{low, high, mid}); err != nil {
		t.Fatal(err)
	}

	want := []string{"primary", "shared", "archive"}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != len(want) {
		t.Fatalf("scanned %d roots, want %d: %v", len(order), len(want), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("scan order = %v, want %v", order, want)
		}
	}
}

func TestFailingRootDoesNotAbortOthers(t *testing.T) {
	f := setup(t, defaultScanning())
	writeFile(t, f.dir, "movies/x.mkv", "video")
	ctx := context.Background()

	okDir := f.dir
	f.scanner.factory = func(root config.SmbRoot) (protocol.Client, error) {
		if root.Name == "broken" {
			return localfs.New(filepath.Join(okDir, "does-not-exist"))
		}
		return localfs.New(okDir)
	}

	roots := []config.SmbRoot{testRoot("broken"), testRoot("local1")}
	if err := f.scanner.ScanAll(ctx, roots); err != nil {
		t.Fatalf("healthy root should survive a broken sibling: %v", err)
	}

	id := rootID(t, f, "local1")
	entry, err := f.db.GetEntryByPath(ctx, id, "movies/x.mkv")
	if err != nil {
		t.Fatal(err)
	}
	if entry == nil {
		t.Error("healthy root was not scanned")
	}
}
