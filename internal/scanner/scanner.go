package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"media-catalog/internal/config"
	"media-catalog/internal/database"
	"media-catalog/internal/hashing"
	"media-catalog/internal/logging"
	"media-catalog/internal/mediatypes"
	"media-catalog/internal/metrics"
	"media-catalog/internal/protocol"
)

// ClientFactory opens a protocol client for one configured root. The
// scanner owns the returned client for the duration of the scan.
type ClientFactory func(root config.SmbRoot) (protocol.Client, error)

// Scanner walks configured roots and feeds the catalog.
type Scanner struct {
	db      *database.Database
	engine  *hashing.Engine
	factory ClientFactory

	maxConcurrentScans int
	batchSize          int
	scanTimeout        time.Duration
}

// New builds a scanner over the given stores and scan policy.
func New(db *database.Database, engine *hashing.Engine, scanning config.ScanningConfig, factory ClientFactory) *Scanner {
	maxScans := scanning.MaxConcurrentScans
	if maxScans < 1 {
		maxScans = 1
	}
	batchSize := scanning.BatchSize
	if batchSize < 1 {
		batchSize = 500
	}
	timeout := time.Duration(scanning.ScanTimeoutMinutes) * time.Minute

	return &Scanner{
		db:                 db,
		engine:             engine,
		factory:            factory,
		maxConcurrentScans: maxScans,
		batchSize:          batchSize,
		scanTimeout:        timeout,
	}
}

// ScanAll scans every enabled root, at most maxConcurrentScans at a
// time. A failing root never aborts the others; its failure is recorded
// in scan history and logged. After all scans finish the duplicate
// flags are recomputed across the whole catalog.
func (s *Scanner) ScanAll(ctx context.Context, roots []config.SmbRoot) error {
	var g errgroup.Group
	g.SetLimit(s.maxConcurrentScans)

	// Higher-priority roots are dispatched first, so when scans queue
	// behind the concurrency limit the important shares go earliest.
	ordered := make([]config.SmbRoot, len(roots))
	copy(ordered, roots)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	for _, root := range ordered {
		if !root.Enabled {
			logging.Debug("Skipping disabled root %q", root.Name)
			continue
		}
		root := root
		g.Go(func() error {
			if err := s.ScanRoot(ctx, root); err != nil {
				logging.Error("Scan of root %q failed: %v", root.Name, err)
			}
			// Root failures are isolated; never abort sibling scans.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	groups, err := s.db.RefreshDuplicateFlags(ctx)
	if err != nil {
		return fmt.Errorf("refreshing duplicate flags: %w", err)
	}
	logging.Info("Duplicate refresh complete: %d groups", groups)
	return nil
}

// hashJob tracks one in-flight hashing future.
type hashJob struct {
	fileID int64
	path   string
	result <-chan hashing.Result
}

// scanState carries the mutable bookkeeping of one root scan.
type scanState struct {
	root     config.SmbRoot
	rootID   int64
	client   protocol.Client
	counters database.ScanCounters

	batch   []*database.CatalogEntry
	pending []hashJob

	// unlisted counts directories the walk could not list. A non-zero
	// count means the walk was incomplete and missing-file detection
	// has to sit this scan out.
	unlisted int
}

// ScanRoot runs one full scan of a single root.
func (s *Scanner) ScanRoot(ctx context.Context, root config.SmbRoot) error {
	if s.scanTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.scanTimeout)
		defer cancel()
	}

	metrics.ScansActive.Inc()
	defer metrics.ScansActive.Dec()
	scanStart := time.Now()

	// Scan bookkeeping writes on a background context: a cancelled scan
	// must still record that it was cancelled.
	bookCtx := context.Background()

	client, err := s.factory(root)
	if err != nil {
		metrics.ScanRunsTotal.WithLabelValues(root.Name, "error").Inc()
		return fmt.Errorf("connecting to root %q: %w", root.Name, err)
	}
	defer client.Close()

	rootID, err := s.db.UpsertRoot(bookCtx, &database.StorageRoot{
		Name:        root.Name,
		Protocol:    client.Protocol(),
		Host:        root.Host,
		Port:        root.Port,
		Share:       root.Share,
		VirtualPath: root.EffectiveVirtualPath(),
	})
	if err != nil {
		metrics.ScanRunsTotal.WithLabelValues(root.Name, "error").Inc()
		return err
	}

	scanID, err := s.db.StartScan(bookCtx, root.Name)
	if err != nil {
		metrics.ScanRunsTotal.WithLabelValues(root.Name, "error").Inc()
		return err
	}

	logging.Info("Scanning root %q (%s)", root.Name, client.URL("/"))

	state := &scanState{root: root, rootID: rootID, client: client}
	walkErr := s.walk(ctx, state)

	// Flush whatever the walk produced, even on failure: a partial scan
	// still improves the catalog, and tombstoning is skipped below.
	if err := s.flushBatch(ctx, state); err != nil && walkErr == nil {
		walkErr = err
	}
	s.drainHashes(ctx, state, 0)

	status := database.ScanStatusCompleted
	errorMessage := ""
	switch {
	case errors.Is(walkErr, context.Canceled) || errors.Is(walkErr, context.DeadlineExceeded):
		status = database.ScanStatusCancelled
		errorMessage = walkErr.Error()
	case walkErr != nil:
		status = database.ScanStatusFailed
		errorMessage = walkErr.Error()
	case state.unlisted > 0:
		// Files under an unlistable directory were never visited, so
		// skipping them is not evidence of deletion. The scan still
		// counts as completed; the next clean walk reconciles.
		logging.Warn("Skipping missing-file detection for root %q: %d directories could not be listed",
			root.Name, state.unlisted)
	default:
		// Only a clean, complete walk may tombstone: after a partial
		// scan an unvisited file is not evidence of deletion.
		tx, txErr := s.db.BeginBatch()
		if txErr == nil {
			var missing int64
			missing, txErr = s.db.MarkMissing(tx, rootID, scanStart)
			txErr = s.db.EndBatch(tx, txErr)
			if txErr == nil {
				state.counters.FilesMissing = missing
			}
		}
		if txErr != nil {
			status = database.ScanStatusFailed
			errorMessage = txErr.Error()
			walkErr = txErr
		}
	}

	if err := s.db.FinishScan(bookCtx, scanID, status, state.counters, errorMessage); err != nil {
		logging.Error("Failed to record scan finish for %q: %v", root.Name, err)
	}

	metricStatus := "success"
	if status != database.ScanStatusCompleted {
		metricStatus = "error"
	}
	metrics.ScanRunsTotal.WithLabelValues(root.Name, metricStatus).Inc()
	metrics.ScanDuration.WithLabelValues(root.Name).Observe(time.Since(scanStart).Seconds())

	logging.Info("Scan of root %q %s: %d processed, %d added, %d updated, %d missing, %d errors in %v",
		root.Name, status, state.counters.FilesProcessed, state.counters.FilesAdded,
		state.counters.FilesUpdated, state.counters.FilesMissing, state.counters.ErrorCount,
		time.Since(scanStart).Round(time.Millisecond))
	return walkErr
}

// walk breadth-first traverses the root within its depth limit.
func (s *Scanner) walk(ctx context.Context, state *scanState) error {
	type dir struct {
		path  string
		depth int
	}
	queue := []dir{{path: "/", depth: 0}}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		current := queue[0]
		queue = queue[1:]

		entries, err := state.client.ListFiles(ctx, current.path)
		if err != nil {
			// One unreadable directory does not fail the scan, but its
			// files were never visited, so the walk is incomplete.
			logging.Warn("Listing %s on root %q failed: %v", current.path, state.root.Name, err)
			state.unlisted++
			state.counters.ErrorCount++
			metrics.ScanErrors.WithLabelValues(state.root.Name).Inc()
			continue
		}

		for _, entry := range entries {
			if entry.IsDir {
				if state.root.MaxDepth >= 0 && current.depth >= state.root.MaxDepth {
					continue
				}
				if excluded(entry.Path, entry.Name, state.root.ExcludePatterns) {
					continue
				}
				queue = append(queue, dir{path: entry.Path, depth: current.depth + 1})
				continue
			}

			if !s.wantsFile(state.root, entry) {
				continue
			}
			if err := s.ingest(ctx, state, entry); err != nil {
				logging.Warn("Ingesting %s on root %q failed: %v", entry.Path, state.root.Name, err)
				state.counters.ErrorCount++
				metrics.ScanErrors.WithLabelValues(state.root.Name).Inc()
			}
		}
	}
	return nil
}

// wantsFile applies the root's include/exclude globs and, outside deep
// scans, the media-type filter.
func (s *Scanner) wantsFile(root config.SmbRoot, entry protocol.FileInfo) bool {
	if excluded(entry.Path, entry.Name, root.ExcludePatterns) {
		return false
	}
	if len(root.IncludePatterns) > 0 && !matchesAny(entry.Path, entry.Name, root.IncludePatterns) {
		return false
	}
	if !root.EnableDeepScan && !mediatypes.IsMediaFile(strings.ToLower(path.Ext(entry.Name))) {
		return false
	}
	return true
}

func excluded(fullPath, name string, patterns []string) bool {
	return matchesAny(fullPath, name, patterns)
}

// matchesAny matches globs against both the base name and the full
// share-relative path, so "*.tmp" and "cache/*" both work.
func matchesAny(fullPath, name string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, err := path.Match(pattern, name); err == nil && ok {
			return true
		}
		if ok, err := path.Match(pattern, fullPath); err == nil && ok {
			return true
		}
	}
	return false
}

// ingest records one discovered file and queues hashing when needed.
func (s *Scanner) ingest(ctx context.Context, state *scanState, entry protocol.FileInfo) error {
	ext := strings.ToLower(path.Ext(entry.Name))
	catalogEntry := &database.CatalogEntry{
		RootID:     state.rootID,
		Path:       entry.Path,
		Name:       entry.Name,
		FileType:   string(mediatypes.GetFileType(ext)),
		MimeType:   mediatypes.GetMimeType(ext),
		Size:       entry.Size,
		ModTime:    entry.ModTime,
		Accessible: true,
	}

	state.batch = append(state.batch, catalogEntry)
	state.counters.FilesProcessed++
	metrics.ScanFilesProcessed.WithLabelValues(state.root.Name).Inc()

	if len(state.batch) >= s.batchSize {
		if err := s.flushBatch(ctx, state); err != nil {
			return err
		}
	}
	return nil
}

// flushBatch upserts the accumulated entries in one transaction and
// queues hashing and metadata work for the ones that need it. Catalog
// writes run on a background context: entries already discovered are
// recorded even when the scan is being cancelled; only hash results
// are subject to the cancellation discard rule.
func (s *Scanner) flushBatch(ctx context.Context, state *scanState) error {
	if len(state.batch) == 0 {
		return nil
	}
	batch := state.batch
	state.batch = nil

	tx, err := s.db.BeginBatch()
	if err != nil {
		return err
	}

	results := make([]database.UpsertResult, 0, len(batch))
	for _, entry := range batch {
		res, upsertErr := s.db.UpsertEntry(tx, entry)
		if upsertErr != nil {
			err = upsertErr
			break
		}
		results = append(results, res)
	}
	if err = s.db.EndBatch(tx, err); err != nil {
		return err
	}

	writeCtx := context.Background()
	for i, res := range results {
		entry := batch[i]
		if res.Added {
			state.counters.FilesAdded++
		} else {
			state.counters.FilesUpdated++
		}

		if state.root.EnableMetadataExtraction && (res.Added || res.NeedsHashing) {
			if mdErr := s.db.SaveMetadata(writeCtx, res.ID, basicMetadata(entry)); mdErr != nil {
				logging.Warn("Saving metadata for %s failed: %v", entry.Path, mdErr)
				state.counters.ErrorCount++
			}
		}

		if state.root.EnableDuplicateDetection && res.NeedsHashing {
			s.submitHash(ctx, state, res.ID, entry)
		}
	}

	// Bound the number of in-flight futures to one batch.
	s.drainHashes(ctx, state, s.batchSize)
	return nil
}

// submitHash queues one file on the shared hashing pool. The open
// happens inside the pool so queued jobs hold no remote handles.
func (s *Scanner) submitHash(ctx context.Context, state *scanState, fileID int64, entry *database.CatalogEntry) {
	client := state.client
	filePath := entry.Path

	result := s.engine.Submit(ctx, filePath, entry.Size, func(openCtx context.Context) (io.ReadSeeker, error) {
		return client.OpenFile(openCtx, filePath)
	})
	state.pending = append(state.pending, hashJob{fileID: fileID, path: filePath, result: result})
}

// drainHashes collects finished hash futures down to keep pending
// jobs. keep=0 drains everything. Results are discarded, not written,
// when the owning scan was cancelled.
func (s *Scanner) drainHashes(ctx context.Context, state *scanState, keep int) {
	for len(state.pending) > keep {
		job := state.pending[0]
		state.pending = state.pending[1:]

		res := <-job.result
		if ctx.Err() != nil {
			continue
		}
		if res.Err != nil {
			logging.Warn("Hashing %s failed: %v", job.path, res.Err)
			state.counters.ErrorCount++
			metrics.ScanErrors.WithLabelValues(state.root.Name).Inc()
			if errors.Is(res.Err, protocol.ErrNotFound) {
				// Vanished since listing; the tombstone pass handles it.
				continue
			}
			// Listed but unreadable: keep the entry, exclude it from
			// active queries until a later scan reads it.
			if markErr := s.db.MarkInaccessible(ctx, job.fileID); markErr != nil {
				logging.Error("Marking %s inaccessible failed: %v", job.path, markErr)
			}
			continue
		}

		if err := s.db.UpdateHashes(ctx, job.fileID, res.Hashes); err != nil {
			logging.Error("Storing hashes for %s failed: %v", job.path, err)
			state.counters.ErrorCount++
		}
	}
}

// basicMetadata derives the always-available metadata of an entry.
// Deeper extraction (container parsing, tags) plugs in here later.
func basicMetadata(entry *database.CatalogEntry) *database.ExtractedMetadata {
	title := strings.TrimSuffix(entry.Name, path.Ext(entry.Name))
	return &database.ExtractedMetadata{
		MimeType:          entry.MimeType,
		FileType:          entry.FileType,
		ExtractionSuccess: true,
		Properties: map[string]string{
			"title":     title,
			"extension": strings.TrimPrefix(strings.ToLower(path.Ext(entry.Name)), "."),
			"file_size": fmt.Sprintf("%d", entry.Size),
		},
	}
}
