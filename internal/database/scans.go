package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// StartScan opens a scan history record and returns its id.
func (d *Database) StartScan(ctx context.Context, rootName string) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("start_scan", start, err) }()

	opCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := d.db.ExecContext(opCtx, `
		INSERT INTO scan_history (root_name, started_at, status)
		VALUES (?, ?, ?)`,
		rootName, time.Now().Unix(), ScanStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("recording scan start for %s: %w", rootName, err)
	}
	return res.LastInsertId()
}

// ScanCounters carries the per-scan totals written on completion.
type ScanCounters struct {
	FilesProcessed int64
	FilesAdded     int64
	FilesUpdated   int64
	FilesMissing   int64
	ErrorCount     int64
}

// FinishScan closes a scan history record with its outcome.
func (d *Database) FinishScan(ctx context.Context, scanID int64, status string, counters ScanCounters, errorMessage string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("finish_scan", start, err) }()

	opCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(opCtx, `
		UPDATE scan_history SET
			finished_at = ?, status = ?,
			files_processed = ?, files_added = ?, files_updated = ?,
			files_missing = ?, error_count = ?, error_message = ?
		WHERE id = ?`,
		time.Now().Unix(), status,
		counters.FilesProcessed, counters.FilesAdded, counters.FilesUpdated,
		counters.FilesMissing, counters.ErrorCount, errorMessage, scanID)
	if err != nil {
		return fmt.Errorf("recording scan finish %d: %w", scanID, err)
	}
	return nil
}

// RecentScans returns the newest scan records, most recent first.
func (d *Database) RecentScans(ctx context.Context, limit int) ([]ScanRecord, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("recent_scans", start, err) }()

	if limit <= 0 {
		limit = 20
	}

	opCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(opCtx, `
		SELECT id, root_name, started_at, finished_at, status,
		       files_processed, files_added, files_updated, files_missing,
		       error_count, error_message
		FROM scan_history
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying scan history: %w", err)
	}
	defer rows.Close()

	var records []ScanRecord
	for rows.Next() {
		var (
			r          ScanRecord
			startedAt  int64
			finishedAt sql.NullInt64
		)
		if err = rows.Scan(&r.ID, &r.RootName, &startedAt, &finishedAt, &r.Status,
			&r.FilesProcessed, &r.FilesAdded, &r.FilesUpdated, &r.FilesMissing,
			&r.ErrorCount, &r.ErrorMessage); err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(startedAt, 0).UTC()
		if finishedAt.Valid {
			t := time.Unix(finishedAt.Int64, 0).UTC()
			r.FinishedAt = &t
		}
		records = append(records, r)
	}
	err = rows.Err()
	return records, err
}
