package vfs

import (
	"fmt"
	"sort"
	"time"

	"media-catalog/internal/config"
	"media-catalog/internal/database"
	"media-catalog/internal/logging"
	"media-catalog/internal/metrics"
)

// SizeBucket is one size partition of the by-size grouping.
type SizeBucket struct {
	Label string
	// Max is the exclusive upper bound in bytes; 0 means unbounded and
	// must only appear on the last bucket.
	Max int64
}

// Policy parameterizes a projection rebuild.
type Policy struct {
	DuplicatesPath string
	CategoriesPath string
	BySizePath     string
	ByDatePath     string

	// MaxLinksPerDirectory caps entries per projected directory. A
	// bucket exceeding the cap is split into suffixed sub-buckets
	// rather than silently truncated.
	MaxLinksPerDirectory int

	SizeBuckets []SizeBucket
}

// DefaultSizeBuckets partitions by decimal order of magnitude around
// common media sizes.
func DefaultSizeBuckets() []SizeBucket {
	return []SizeBucket{
		{Label: "under-1mb", Max: 1 << 20},
		{Label: "1mb-10mb", Max: 10 << 20},
		{Label: "10mb-100mb", Max: 100 << 20},
		{Label: "100mb-1gb", Max: 1 << 30},
		{Label: "over-1gb", Max: 0},
	}
}

// PolicyFromConfig maps the virtualFileSystem configuration section
// onto a projection policy.
func PolicyFromConfig(cfg config.VFSConfig) Policy {
	p := Policy{
		DuplicatesPath:       cfg.DuplicatesPath,
		CategoriesPath:       cfg.CategoriesPath,
		BySizePath:           cfg.BySizePath,
		ByDatePath:           cfg.ByDatePath,
		MaxLinksPerDirectory: cfg.MaxLinksPerDirectory,
		SizeBuckets:          DefaultSizeBuckets(),
	}
	if p.DuplicatesPath == "" {
		p.DuplicatesPath = "/duplicates"
	}
	if p.CategoriesPath == "" {
		p.CategoriesPath = "/categories"
	}
	if p.BySizePath == "" {
		p.BySizePath = "/by-size"
	}
	if p.ByDatePath == "" {
		p.ByDatePath = "/by-date"
	}
	if p.MaxLinksPerDirectory <= 0 {
		p.MaxLinksPerDirectory = 1000
	}
	return p
}

// Grouping maps projected directory names to their member entries.
type Grouping map[string][]database.ProjectionEntry

// Projection is one complete rebuild of the virtual filesystem model.
type Projection struct {
	Policy Policy

	// Duplicates groups entries sharing a content hash; only groups
	// with two or more members appear, keyed by the hash.
	Duplicates Grouping

	// Categories partitions entries by file type.
	Categories Grouping

	// Sizes partitions entries by the policy's size buckets.
	Sizes Grouping

	// Dates partitions entries by modification month (YYYY-MM), a
	// stable key that keeps rebuilds idempotent with no reference to
	// the current time.
	Dates Grouping

	BuiltAt time.Time
}

// Build projects the live catalog into the four groupings. Rebuilds are
// idempotent and order-independent: the input is sorted internally, so
// the same entry set always yields the same grouping assignment.
func Build(entries []database.ProjectionEntry, policy Policy) *Projection {
	start := time.Now()
	if len(policy.SizeBuckets) == 0 {
		policy.SizeBuckets = DefaultSizeBuckets()
	}

	sorted := make([]database.ProjectionEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].RootName != sorted[j].RootName {
			return sorted[i].RootName < sorted[j].RootName
		}
		return sorted[i].Path < sorted[j].Path
	})

	p := &Projection{
		Policy:     policy,
		Duplicates: buildDuplicates(sorted, policy),
		Categories: Grouping{},
		Sizes:      Grouping{},
		Dates:      Grouping{},
		BuiltAt:    start,
	}

	for _, e := range sorted {
		p.Categories[e.FileType] = append(p.Categories[e.FileType], e)
		label := sizeLabel(e.Size, policy.SizeBuckets)
		p.Sizes[label] = append(p.Sizes[label], e)
		month := e.ModTime.UTC().Format("2006-01")
		p.Dates[month] = append(p.Dates[month], e)
	}

	p.Categories = splitOversized(p.Categories, policy.MaxLinksPerDirectory)
	p.Sizes = splitOversized(p.Sizes, policy.MaxLinksPerDirectory)
	p.Dates = splitOversized(p.Dates, policy.MaxLinksPerDirectory)

	metrics.VFSRebuildsTotal.Inc()
	metrics.VFSRebuildDuration.Observe(time.Since(start).Seconds())
	metrics.VFSDuplicateGroups.Set(float64(len(p.Duplicates)))
	logging.Debug("Projection rebuilt: %d entries, %d duplicate groups", len(sorted), len(p.Duplicates))
	return p
}

func buildDuplicates(sorted []database.ProjectionEntry, policy Policy) Grouping {
	byHash := Grouping{}
	for _, e := range sorted {
		if e.ContentHash == "" {
			continue
		}
		byHash[e.ContentHash] = append(byHash[e.ContentHash], e)
	}
	for hash, group := range byHash {
		if len(group) < 2 {
			delete(byHash, hash)
		}
	}
	return splitOversized(byHash, policy.MaxLinksPerDirectory)
}

func sizeLabel(size int64, buckets []SizeBucket) string {
	for _, b := range buckets {
		if b.Max == 0 || size < b.Max {
			return b.Label
		}
	}
	// Misconfigured bucket list without an unbounded tail.
	return buckets[len(buckets)-1].Label
}

// splitOversized replaces any bucket exceeding the cap with suffixed
// sub-buckets ("name", "name_2", ...). Members are already in
// deterministic order, so the chunk assignment is stable across
// rebuilds.
func splitOversized(g Grouping, maxLinks int) Grouping {
	if maxLinks <= 0 {
		return g
	}
	out := make(Grouping, len(g))
	for name, members := range g {
		if len(members) <= maxLinks {
			out[name] = members
			continue
		}
		for i := 0; i*maxLinks < len(members); i++ {
			chunk := members[i*maxLinks:]
			if len(chunk) > maxLinks {
				chunk = chunk[:maxLinks]
			}
			key := name
			if i > 0 {
				key = fmt.Sprintf("%s_%d", name, i+1)
			}
			out[key] = chunk
		}
	}
	return out
}

// DirectoryCount returns the total number of projected directories.
func (p *Projection) DirectoryCount() int {
	return len(p.Duplicates) + len(p.Categories) + len(p.Sizes) + len(p.Dates)
}

// EntryCount returns the number of distinct entries in a grouping.
func (g Grouping) EntryCount() int {
	n := 0
	for _, members := range g {
		n += len(members)
	}
	return n
}
