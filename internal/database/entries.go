package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"media-catalog/internal/hashing"
	"media-catalog/internal/logging"
)

// UpsertRoot inserts or updates a storage root by name and returns its id.
func (d *Database) UpsertRoot(ctx context.Context, root *StorageRoot) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("upsert_root", start, err) }()

	opCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(opCtx, `
		INSERT INTO storage_roots (name, protocol, host, port, share, virtual_path)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			protocol = excluded.protocol,
			host = excluded.host,
			port = excluded.port,
			share = excluded.share,
			virtual_path = excluded.virtual_path`,
		root.Name, root.Protocol, root.Host, root.Port, root.Share, root.VirtualPath)
	if err != nil {
		return 0, fmt.Errorf("upserting root %q: %w", root.Name, err)
	}

	var id int64
	err = d.db.QueryRowContext(opCtx, "SELECT id FROM storage_roots WHERE name = ?", root.Name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("resolving root %q: %w", root.Name, err)
	}
	root.ID = id
	return id, nil
}

// UpsertResult reports what UpsertEntry did with one discovered file.
type UpsertResult struct {
	ID    int64
	Added bool

	// NeedsHashing is true for new entries and entries whose size or
	// modification time changed; stored hashes were invalidated.
	NeedsHashing bool
}

// UpsertEntry records a discovered file inside a batch transaction.
// An unchanged file (same size and mod time) keeps its stored hashes
// and only refreshes its liveness columns; any change invalidates all
// hashes so the file is re-hashed.
func (d *Database) UpsertEntry(tx *Batch, e *CatalogEntry) (UpsertResult, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("upsert_entry", start, err) }()

	var (
		id                      int64
		size, modTime           int64
		sha256Col, md5Col, fast string
	)
	err = tx.QueryRow(`
		SELECT id, size, mod_time, sha256, md5, fast_digest
		FROM files WHERE root_id = ? AND path = ?`,
		e.RootID, e.Path).Scan(&id, &size, &modTime, &sha256Col, &md5Col, &fast)

	switch {
	case err == sql.ErrNoRows:
		err = nil
		res, insErr := tx.Exec(`
			INSERT INTO files (root_id, path, name, file_type, mime_type, size, mod_time, accessible)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.RootID, e.Path, e.Name, e.FileType, e.MimeType, e.Size, e.ModTime.Unix(), boolToInt(e.Accessible))
		if insErr != nil {
			err = fmt.Errorf("inserting entry %s: %w", e.Path, insErr)
			return UpsertResult{}, err
		}
		newID, insErr := res.LastInsertId()
		if insErr != nil {
			err = insErr
			return UpsertResult{}, err
		}
		e.ID = newID
		return UpsertResult{ID: newID, Added: true, NeedsHashing: true}, nil

	case err != nil:
		err = fmt.Errorf("looking up entry %s: %w", e.Path, err)
		return UpsertResult{}, err
	}

	e.ID = id
	changed := size != e.Size || modTime != e.ModTime.Unix()

	if changed {
		_, err = tx.Exec(`
			UPDATE files SET
				name = ?, file_type = ?, mime_type = ?, size = ?, mod_time = ?,
				quick_hash = '', md5 = '', sha256 = '', fast_digest = '',
				is_duplicate = 0, accessible = ?, deleted = 0, deleted_at = NULL,
				updated_at = strftime('%s', 'now')
			WHERE id = ?`,
			e.Name, e.FileType, e.MimeType, e.Size, e.ModTime.Unix(), boolToInt(e.Accessible), id)
		if err != nil {
			err = fmt.Errorf("updating entry %s: %w", e.Path, err)
			return UpsertResult{}, err
		}
		return UpsertResult{ID: id, NeedsHashing: true}, nil
	}

	_, err = tx.Exec(`
		UPDATE files SET
			accessible = ?, deleted = 0, deleted_at = NULL,
			updated_at = strftime('%s', 'now')
		WHERE id = ?`,
		boolToInt(e.Accessible), id)
	if err != nil {
		err = fmt.Errorf("refreshing entry %s: %w", e.Path, err)
		return UpsertResult{}, err
	}

	needsHashing := sha256Col == "" && md5Col == "" && fast == ""
	return UpsertResult{ID: id, NeedsHashing: needsHashing}, nil
}

// UpdateHashes stores the digests computed for one entry.
func (d *Database) UpdateHashes(ctx context.Context, fileID int64, h hashing.FileHashes) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("update_hashes", start, err) }()

	opCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(opCtx, `
		UPDATE files SET
			quick_hash = ?, md5 = ?, sha256 = ?, fast_digest = ?,
			updated_at = strftime('%s', 'now')
		WHERE id = ?`,
		h.QuickHash, h.MD5, h.SHA256, h.FastDigest, fileID)
	if err != nil {
		return fmt.Errorf("updating hashes for file %d: %w", fileID, err)
	}
	return nil
}

// MarkInaccessible flags an entry that lists but cannot be read. It
// stays cataloged and is excluded from search and projection until a
// later scan reads it successfully.
func (d *Database) MarkInaccessible(ctx context.Context, fileID int64) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("mark_inaccessible", start, err) }()

	opCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(opCtx,
		"UPDATE files SET accessible = 0, updated_at = strftime('%s', 'now') WHERE id = ?", fileID)
	if err != nil {
		return fmt.Errorf("marking file %d inaccessible: %w", fileID, err)
	}
	return nil
}

// MarkMissing tombstones every live entry of a root that was not
// touched since the scan started. It runs inside the scan's final
// batch so a failed batch leaves nothing half-tombstoned.
func (d *Database) MarkMissing(tx *Batch, rootID int64, scanStart time.Time) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("mark_missing", start, err) }()

	res, err := tx.Exec(`
		UPDATE files SET deleted = 1, deleted_at = strftime('%s', 'now')
		WHERE root_id = ? AND deleted = 0 AND updated_at < ?`,
		rootID, scanStart.Unix())
	if err != nil {
		return 0, fmt.Errorf("tombstoning missing entries: %w", err)
	}
	return res.RowsAffected()
}

// PurgeTombstones hard-deletes entries tombstoned longer than the
// retention window. Metadata rows cascade.
func (d *Database) PurgeTombstones(ctx context.Context, retention time.Duration) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("purge_tombstones", start, err) }()

	opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-retention).Unix()
	res, err := d.db.ExecContext(opCtx,
		"DELETE FROM files WHERE deleted = 1 AND deleted_at IS NOT NULL AND deleted_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging tombstones: %w", err)
	}

	n, err := res.RowsAffected()
	if n > 0 {
		logging.Info("Purged %d tombstoned entries past retention", n)
	}
	return n, err
}

// contentHashExpr is the stored-column equivalent of
// CatalogEntry.ContentHash, used wherever grouping happens in SQL.
const contentHashExpr = "COALESCE(NULLIF(sha256, ''), NULLIF(md5, ''), NULLIF(fast_digest, ''))"

// RefreshDuplicateFlags recomputes is_duplicate across the live catalog
// and returns the number of duplicate groups.
func (d *Database) RefreshDuplicateFlags(ctx context.Context) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("refresh_duplicates", start, err) }()

	opCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	tx, err := d.db.BeginTx(opCtx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(opCtx, "UPDATE files SET is_duplicate = 0 WHERE is_duplicate = 1"); err != nil {
		return 0, fmt.Errorf("clearing duplicate flags: %w", err)
	}

	dupHashes := fmt.Sprintf(`
		SELECT %s AS ch FROM files
		WHERE deleted = 0 AND accessible = 1
		GROUP BY ch
		HAVING ch IS NOT NULL AND COUNT(*) > 1`, contentHashExpr)

	if _, err = tx.ExecContext(opCtx, fmt.Sprintf(`
		UPDATE files SET is_duplicate = 1
		WHERE deleted = 0 AND accessible = 1 AND %s IN (%s)`, contentHashExpr, dupHashes)); err != nil {
		return 0, fmt.Errorf("setting duplicate flags: %w", err)
	}

	var groups int64
	if err = tx.QueryRowContext(opCtx, fmt.Sprintf("SELECT COUNT(*) FROM (%s)", dupHashes)).Scan(&groups); err != nil {
		return 0, fmt.Errorf("counting duplicate groups: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return groups, nil
}

// EntriesForProjection returns every live, accessible entry joined with
// its root name, the input set for a virtual filesystem rebuild.
func (d *Database) EntriesForProjection(ctx context.Context) ([]ProjectionEntry, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("entries_for_projection", start, err) }()

	opCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	rows, err := d.db.QueryContext(opCtx, fmt.Sprintf(`
		SELECT f.id, r.name, f.path, f.name, f.file_type, f.size, f.mod_time,
		       COALESCE(%s, '')
		FROM files f
		JOIN storage_roots r ON r.id = f.root_id
		WHERE f.deleted = 0 AND f.accessible = 1
		ORDER BY r.name, f.path`, contentHashExpr))
	if err != nil {
		return nil, fmt.Errorf("querying projection entries: %w", err)
	}
	defer rows.Close()

	var entries []ProjectionEntry
	for rows.Next() {
		var e ProjectionEntry
		var modTime int64
		if err = rows.Scan(&e.ID, &e.RootName, &e.Path, &e.Name, &e.FileType, &e.Size, &modTime, &e.ContentHash); err != nil {
			return nil, err
		}
		e.ModTime = time.Unix(modTime, 0).UTC()
		entries = append(entries, e)
	}
	err = rows.Err()
	return entries, err
}

// GetEntryByPath returns one entry of a root, tombstoned or not.
func (d *Database) GetEntryByPath(ctx context.Context, rootID int64, path string) (*CatalogEntry, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_entry", start, err) }()

	opCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var (
		e         CatalogEntry
		modTime   int64
		deletedAt sql.NullInt64
	)
	err = d.db.QueryRowContext(opCtx, `
		SELECT id, root_id, path, name, file_type, mime_type, size, mod_time,
		       quick_hash, md5, sha256, fast_digest,
		       is_duplicate, accessible, deleted, deleted_at
		FROM files WHERE root_id = ? AND path = ?`,
		rootID, path).Scan(
		&e.ID, &e.RootID, &e.Path, &e.Name, &e.FileType, &e.MimeType, &e.Size, &modTime,
		&e.QuickHash, &e.MD5, &e.SHA256, &e.FastDigest,
		&e.IsDuplicate, &e.Accessible, &e.Deleted, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching entry %s: %w", path, err)
	}

	e.ModTime = time.Unix(modTime, 0).UTC()
	if deletedAt.Valid {
		t := time.Unix(deletedAt.Int64, 0).UTC()
		e.DeletedAt = &t
	}
	return &e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
