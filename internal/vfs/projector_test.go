package vfs

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"media-catalog/internal/config"
	"media-catalog/internal/database"
)

func testPolicy(maxLinks int) Policy {
	return Policy{
		DuplicatesPath:       "/duplicates",
		CategoriesPath:       "/categories",
		BySizePath:           "/by-size",
		ByDatePath:           "/by-date",
		MaxLinksPerDirectory: maxLinks,
		SizeBuckets:          DefaultSizeBuckets(),
	}
}

func entry(id int64, root, path, fileType string, size int64, modTime time.Time, hash string) database.ProjectionEntry {
	return database.ProjectionEntry{
		ID:          id,
		RootName:    root,
		Path:        path,
		Name:        path,
		FileType:    fileType,
		Size:        size,
		ModTime:     modTime,
		ContentHash: hash,
	}
}

func TestBuildDuplicateGroupsAcrossRoots(t *testing.T) {
	march := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	july := time.Date(2026, 7, 2, 0, 0, 0, 0, time.UTC)

	entries := []database.ProjectionEntry{
		entry(1, "nas1", "movies/x.mkv", "video", 5<<20, march, "feedface"),
		entry(2, "nas2", "backup/x.mkv", "video", 200<<20, july, "feedface"),
		entry(3, "nas1", "movies/y.mkv", "video", 5<<20, march, "cafe"),
		entry(4, "nas1", "misc/unhashed.bin", "other", 100, march, ""),
	}

	p := Build(entries, testPolicy(1000))

	group, ok := p.Duplicates["feedface"]
	if !ok {
		t.Fatalf("expected duplicate group feedface, got %v", keys(p.Duplicates))
	}
	if len(group) != 2 {
		t.Fatalf("group size = %d, want 2", len(group))
	}
	if group[0].RootName != "nas1" || group[1].RootName != "nas2" {
		t.Errorf("cross-root members missing: %+v", group)
	}

	if _, ok := p.Duplicates["cafe"]; ok {
		t.Error("singleton hash should not form a duplicate group")
	}

	// The two duplicates differ in size and month, so the attribute
	// groupings keep them apart.
	if len(p.Sizes["1mb-10mb"]) != 2 || len(p.Sizes["100mb-1gb"]) != 1 {
		t.Errorf("size buckets wrong: %+v", bucketSizes(p.Sizes))
	}
	if len(p.Dates["2026-03"]) != 3 || len(p.Dates["2026-07"]) != 1 {
		t.Errorf("date buckets wrong: %+v", bucketSizes(p.Dates))
	}
	if len(p.Categories["video"]) != 3 || len(p.Categories["other"]) != 1 {
		t.Errorf("category buckets wrong: %+v", bucketSizes(p.Categories))
	}
}

func TestBuildIdempotentAndOrderIndependent(t *testing.T) {
	march := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	entries := []database.ProjectionEntry{
		entry(1, "nas1", "a.mkv", "video", 100, march, "h1"),
		entry(2, "nas1", "b.mkv", "video", 200, march, "h1"),
		entry(3, "nas2", "c.mp3", "audio", 300, march, "h2"),
		entry(4, "nas2", "d.mp3", "audio", 400, march, "h2"),
	}

	first := Build(entries, testPolicy(1000))

	reversed := make([]database.ProjectionEntry, len(entries))
	for i, e := range entries {
		reversed[len(entries)-1-i] = e
	}
	second := Build(reversed, testPolicy(1000))

	if !reflect.DeepEqual(first.Duplicates, second.Duplicates) {
		t.Error("duplicate grouping depends on input order")
	}
	if !reflect.DeepEqual(first.Categories, second.Categories) {
		t.Error("category grouping depends on input order")
	}
	if !reflect.DeepEqual(first.Sizes, second.Sizes) {
		t.Error("size grouping depends on input order")
	}
	if !reflect.DeepEqual(first.Dates, second.Dates) {
		t.Error("date grouping depends on input order")
	}
}

func TestBuildSplitsOversizedBuckets(t *testing.T) {
	march := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	var entries []database.ProjectionEntry
	for i := 0; i < 5; i++ {
		entries = append(entries,
			entry(int64(i), "nas1", fmt.Sprintf("movies/%02d.mkv", i), "video", 100, march, ""))
	}

	p := Build(entries, testPolicy(2))

	for _, name := range []string{"video", "video_2", "video_3"} {
		if _, ok := p.Categories[name]; !ok {
			t.Errorf("missing sub-bucket %q: %v", name, keys(p.Categories))
		}
	}
	if len(p.Categories["video"]) != 2 || len(p.Categories["video_2"]) != 2 || len(p.Categories["video_3"]) != 1 {
		t.Errorf("sub-bucket sizes wrong: %+v", bucketSizes(p.Categories))
	}

	// No entry lost to splitting.
	if p.Categories.EntryCount() != 5 {
		t.Errorf("entry count = %d, want 5", p.Categories.EntryCount())
	}

	// Stable chunk assignment across rebuilds.
	again := Build(entries, testPolicy(2))
	if !reflect.DeepEqual(p.Categories, again.Categories) {
		t.Error("sub-bucket assignment not stable")
	}
}

func TestSizeLabel(t *testing.T) {
	buckets := DefaultSizeBuckets()
	tests := []struct {
		size int64
		want string
	}{
		{0, "under-1mb"},
		{1<<20 - 1, "under-1mb"},
		{1 << 20, "1mb-10mb"},
		{50 << 20, "10mb-100mb"},
		{500 << 20, "100mb-1gb"},
		{2 << 30, "over-1gb"},
	}
	for _, tt := range tests {
		if got := sizeLabel(tt.size, buckets); got != tt.want {
			t.Errorf("sizeLabel(%d) = %q, want %q", tt.size, got, tt.want)
		}
	}
}

func TestPolicyFromConfigDefaults(t *testing.T) {
	p := PolicyFromConfig(config.VFSConfig{})
	if p.MaxLinksPerDirectory != 1000 {
		t.Errorf("maxLinks = %d, want default 1000", p.MaxLinksPerDirectory)
	}
	if p.DuplicatesPath != "/duplicates" || p.ByDatePath != "/by-date" {
		t.Errorf("default paths wrong: %+v", p)
	}
	if len(p.SizeBuckets) == 0 || p.SizeBuckets[len(p.SizeBuckets)-1].Max != 0 {
		t.Errorf("size buckets must end unbounded: %+v", p.SizeBuckets)
	}
}

func keys(g Grouping) []string {
	out := make([]string, 0, len(g))
	for k := range g {
		out = append(out, k)
	}
	return out
}

func bucketSizes(g Grouping) map[string]int {
	out := make(map[string]int, len(g))
	for k, v := range g {
		out[k] = len(v)
	}
	return out
}
