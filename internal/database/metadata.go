package database

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// searchableKeys is the allowlist of property keys that populate the
// searchable text surface, bounding its size.
var searchableKeys = map[string]bool{
	"title":           true,
	"author":          true,
	"creator":         true,
	"subject":         true,
	"keywords":        true,
	"description":     true,
	"comments":        true,
	"album":           true,
	"artist":          true,
	"genre":           true,
	"searchable_text": true,
}

// IsSearchableKey reports whether a metadata key participates in
// free-text search.
func IsSearchableKey(key string) bool {
	return searchableKeys[strings.ToLower(key)]
}

// InferType classifies a metadata value for display tagging. It never
// affects identity: values are stored verbatim as text.
func InferType(value string) string {
	switch strings.ToLower(value) {
	case "true", "false":
		return "boolean"
	}
	if _, err := strconv.ParseFloat(value, 64); err == nil {
		return "number"
	}
	if len(value) >= 10 {
		if _, err := time.Parse("2006-01-02", value[:10]); err == nil {
			return "date"
		}
	}
	return "string"
}

// SaveMetadata replaces all metadata of a file in one transaction:
// existing rows are deleted, then the new set is inserted, including the
// fixed keys mime_type, file_type, extraction_success and (when present)
// extraction_error. Partial failure rolls back and leaves the prior
// metadata intact.
func (d *Database) SaveMetadata(ctx context.Context, fileID int64, md *ExtractedMetadata) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("save_metadata", start, err) }()

	opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tx, err := d.db.BeginTx(opCtx, nil)
	if err != nil {
		return fmt.Errorf("starting metadata transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(opCtx, "DELETE FROM file_metadata WHERE file_id = ?", fileID); err != nil {
		err = fmt.Errorf("clearing metadata for file %d: %w", fileID, err)
		return err
	}

	stmt, err := tx.PrepareContext(opCtx, `
		INSERT INTO file_metadata (file_id, key, value, data_type, searchable)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing metadata insert: %w", err)
	}
	defer stmt.Close()

	insert := func(key, value string) error {
		_, insErr := stmt.ExecContext(opCtx, fileID, key, value, InferType(value), boolToInt(IsSearchableKey(key)))
		if insErr != nil {
			return fmt.Errorf("inserting metadata %s for file %d: %w", key, fileID, insErr)
		}
		return nil
	}

	if err = insert("mime_type", md.MimeType); err != nil {
		return err
	}
	if err = insert("file_type", md.FileType); err != nil {
		return err
	}
	if err = insert("extraction_success", strconv.FormatBool(md.ExtractionSuccess)); err != nil {
		return err
	}
	if md.ExtractionError != "" {
		if err = insert("extraction_error", md.ExtractionError); err != nil {
			return err
		}
	}

	// Deterministic insert order; fixed keys win over colliding
	// property keys via the delete-then-insert contract.
	keys := make([]string, 0, len(md.Properties))
	for key := range md.Properties {
		switch key {
		case "mime_type", "file_type", "extraction_success", "extraction_error":
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err = insert(key, md.Properties[key]); err != nil {
			return err
		}
	}

	err = tx.Commit()
	return err
}

// GetMetadata returns all metadata rows of a file ordered by key.
func (d *Database) GetMetadata(ctx context.Context, fileID int64) ([]MetadataEntry, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_metadata", start, err) }()

	opCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(opCtx, `
		SELECT key, value, data_type, searchable
		FROM file_metadata WHERE file_id = ?
		ORDER BY key`, fileID)
	if err != nil {
		return nil, fmt.Errorf("querying metadata for file %d: %w", fileID, err)
	}
	defer rows.Close()

	var entries []MetadataEntry
	for rows.Next() {
		var e MetadataEntry
		if err = rows.Scan(&e.Key, &e.Value, &e.DataType, &e.Searchable); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	err = rows.Err()
	return entries, err
}

// SearchByMetadata runs the conjunctive metadata filter: exact key
// match, value substring, and searchable-text substring, ANDed when
// more than one is supplied. Results are restricted to live, accessible
// files, newest modification first.
func (d *Database) SearchByMetadata(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("search_metadata", start, err) }()

	if q.Limit <= 0 {
		q.Limit = 1000
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	var (
		conds []string
		args  []interface{}
	)

	matchSelect := "'', ''"
	if q.Key != "" || q.Value != "" {
		keyCond := "1=1"
		if q.Key != "" {
			keyCond = "m.key = ?"
		}
		valueCond := "1=1"
		if q.Value != "" {
			valueCond = `m.value LIKE ? ESCAPE '\'`
		}
		conds = append(conds, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM file_metadata m WHERE m.file_id = f.id AND %s AND %s)", keyCond, valueCond))
		if q.Key != "" {
			args = append(args, q.Key)
		}
		if q.Value != "" {
			args = append(args, "%"+escapeLike(q.Value)+"%")
		}

		// Surface the first matching row so callers see what hit.
		matchSelect = fmt.Sprintf(`
			COALESCE((SELECT m.key FROM file_metadata m WHERE m.file_id = f.id AND %s AND %s ORDER BY m.key LIMIT 1), ''),
			COALESCE((SELECT m.value FROM file_metadata m WHERE m.file_id = f.id AND %s AND %s ORDER BY m.key LIMIT 1), '')`,
			keyCond, valueCond, keyCond, valueCond)
	}

	if q.SearchText != "" {
		conds = append(conds,
			`EXISTS (SELECT 1 FROM file_metadata s WHERE s.file_id = f.id AND s.searchable = 1 AND s.value LIKE ? ESCAPE '\')`)
	}

	where := "f.deleted = 0 AND f.accessible = 1"
	if len(conds) > 0 {
		where += " AND " + strings.Join(conds, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT f.id, f.path, f.name, f.size, f.mod_time,
		       r.name, r.host, r.share,
		       %s
		FROM files f
		JOIN storage_roots r ON r.id = f.root_id
		WHERE %s
		ORDER BY f.mod_time DESC, f.id DESC
		LIMIT ? OFFSET ?`, matchSelect, where)

	// Placeholders bind in textual order: the two matchSelect
	// subqueries come before the WHERE clause.
	var queryArgs []interface{}
	queryArgs = append(queryArgs, args...)
	queryArgs = append(queryArgs, args...)
	queryArgs = append(queryArgs, args...)
	if q.SearchText != "" {
		queryArgs = append(queryArgs, "%"+escapeLike(q.SearchText)+"%")
	}
	queryArgs = append(queryArgs, q.Limit, q.Offset)

	opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := d.db.QueryContext(opCtx, query, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("searching metadata: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var modTime int64
		if err = rows.Scan(&r.FileID, &r.Path, &r.Name, &r.Size, &modTime,
			&r.RootName, &r.RootHost, &r.RootShare,
			&r.MatchedKey, &r.MatchedValue); err != nil {
			return nil, err
		}
		r.ModifiedAt = time.Unix(modTime, 0).UTC()
		results = append(results, r)
	}
	err = rows.Err()
	return results, err
}

// GetMetadataStatistics aggregates the metadata table: files with
// metadata, total rows, the 20 most frequent keys, and the full
// file-type distribution of the live catalog.
func (d *Database) GetMetadataStatistics(ctx context.Context) (*MetadataStatistics, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("metadata_statistics", start, err) }()

	opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	stats := &MetadataStatistics{FileTypes: make(map[string]int64)}

	err = d.db.QueryRowContext(opCtx,
		"SELECT COUNT(DISTINCT file_id), COUNT(*) FROM file_metadata").
		Scan(&stats.FilesWithMetadata, &stats.TotalRows)
	if err != nil {
		return nil, fmt.Errorf("counting metadata rows: %w", err)
	}

	rows, err := d.db.QueryContext(opCtx, `
		SELECT key, COUNT(*) AS n FROM file_metadata
		GROUP BY key ORDER BY n DESC, key LIMIT 20`)
	if err != nil {
		return nil, fmt.Errorf("aggregating metadata keys: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kc KeyCount
		if err = rows.Scan(&kc.Key, &kc.Count); err != nil {
			return nil, err
		}
		stats.TopKeys = append(stats.TopKeys, kc)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	typeRows, err := d.db.QueryContext(opCtx, `
		SELECT file_type, COUNT(*) FROM files
		WHERE deleted = 0 AND accessible = 1
		GROUP BY file_type`)
	if err != nil {
		return nil, fmt.Errorf("aggregating file types: %w", err)
	}
	defer typeRows.Close()
	for typeRows.Next() {
		var fileType string
		var count int64
		if err = typeRows.Scan(&fileType, &count); err != nil {
			return nil, err
		}
		stats.FileTypes[fileType] = count
	}
	err = typeRows.Err()
	return stats, err
}

// escapeLike escapes LIKE wildcards in user-supplied substrings.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}
