package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"media-catalog/internal/logging"
	"media-catalog/internal/metrics"
)

// Default timeout for single database operations
const defaultTimeout = 5 * time.Second

// Database manages all catalog persistence.
type Database struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// New opens (or creates) the catalog database. dbPath is the full path
// to the database file; the parent directory must already exist.
// maxPoolSize bounds the connection pool; values below 1 fall back to 10.
func New(ctx context.Context, dbPath string, maxPoolSize int) (*Database, error) {
	logging.Info("Database path: %s", dbPath)

	if maxPoolSize < 1 {
		maxPoolSize = 10
	}

	// WAL mode with a busy timeout prevents "database is locked" errors
	// when scan batches and searches overlap.
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000&_temp_store=MEMORY&_busy_timeout=5000&_foreign_keys=on", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(maxPoolSize)
	db.SetMaxIdleConns(maxPoolSize / 2)
	db.SetConnMaxLifetime(time.Hour)

	d := &Database{
		db:     db,
		dbPath: dbPath,
	}

	if err := d.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	logging.Info("Database initialized successfully at %s", dbPath)
	return d, nil
}

func (d *Database) initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS storage_roots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		protocol TEXT NOT NULL DEFAULT 'smb',
		host TEXT NOT NULL DEFAULT '',
		port INTEGER NOT NULL DEFAULT 445,
		share TEXT NOT NULL DEFAULT '',
		virtual_path TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	CREATE TABLE IF NOT EXISTS files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		root_id INTEGER NOT NULL REFERENCES storage_roots(id),
		path TEXT NOT NULL,
		name TEXT NOT NULL,
		file_type TEXT NOT NULL DEFAULT 'other',
		mime_type TEXT NOT NULL DEFAULT '',
		size INTEGER NOT NULL DEFAULT 0,
		mod_time INTEGER NOT NULL,
		quick_hash TEXT NOT NULL DEFAULT '',
		md5 TEXT NOT NULL DEFAULT '',
		sha256 TEXT NOT NULL DEFAULT '',
		fast_digest TEXT NOT NULL DEFAULT '',
		is_duplicate INTEGER NOT NULL DEFAULT 0,
		accessible INTEGER NOT NULL DEFAULT 1,
		deleted INTEGER NOT NULL DEFAULT 0,
		deleted_at INTEGER,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		UNIQUE(root_id, path)
	);

	CREATE INDEX IF NOT EXISTS idx_files_root ON files(root_id);
	CREATE INDEX IF NOT EXISTS idx_files_sha256 ON files(sha256);
	CREATE INDEX IF NOT EXISTS idx_files_md5 ON files(md5);
	CREATE INDEX IF NOT EXISTS idx_files_quick_hash ON files(quick_hash);
	CREATE INDEX IF NOT EXISTS idx_files_type ON files(file_type);
	CREATE INDEX IF NOT EXISTS idx_files_deleted ON files(deleted);
	CREATE INDEX IF NOT EXISTS idx_files_mod_time ON files(mod_time);

	CREATE TABLE IF NOT EXISTS file_metadata (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_id INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
		key TEXT NOT NULL,
		value TEXT NOT NULL DEFAULT '',
		data_type TEXT NOT NULL DEFAULT 'string',
		searchable INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		UNIQUE(file_id, key)
	);

	CREATE INDEX IF NOT EXISTS idx_metadata_key ON file_metadata(key);
	CREATE INDEX IF NOT EXISTS idx_metadata_searchable ON file_metadata(searchable);

	CREATE TABLE IF NOT EXISTS scan_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		root_name TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		status TEXT NOT NULL DEFAULT 'running',
		files_processed INTEGER NOT NULL DEFAULT 0,
		files_added INTEGER NOT NULL DEFAULT 0,
		files_updated INTEGER NOT NULL DEFAULT 0,
		files_missing INTEGER NOT NULL DEFAULT 0,
		error_count INTEGER NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_scan_history_root ON scan_history(root_name, started_at);
	`

	_, err := d.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database.
func (d *Database) Close() error {
	return d.db.Close()
}

// Batch is one open batch transaction. Each batch carries its own start
// time, so concurrent scans measure their transactions independently.
type Batch struct {
	*sql.Tx
	start time.Time
}

// BeginBatch starts a transaction for batch operations. The caller is
// responsible for calling EndBatch when done.
func (d *Database) BeginBatch() (*Batch, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	start := time.Now()

	// Background context: the transaction lifetime is managed by
	// EndBatch, not a timeout.
	tx, err := d.db.BeginTx(context.Background(), nil)
	if err != nil {
		return nil, err
	}
	return &Batch{Tx: tx, start: start}, nil
}

// EndBatch commits the batch, or rolls it back when err is non-nil.
// Rollback on failure means a batch either fully lands or leaves the
// catalog untouched.
func (d *Database) EndBatch(b *Batch, err error) error {
	duration := time.Since(b.start).Seconds()

	if err != nil {
		metrics.DBTransactionDuration.WithLabelValues("rollback").Observe(duration)
		rbErr := b.Rollback()
		if rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback also failed: %w", rbErr))
		}
		return err
	}

	metrics.DBTransactionDuration.WithLabelValues("commit").Observe(duration)
	return b.Commit()
}

// Vacuum reclaims space from purged tombstones and metadata churn.
func (d *Database) Vacuum() error {
	start := time.Now()
	var err error
	defer func() { recordQuery("vacuum", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	_, err = d.db.ExecContext(ctx, "VACUUM")
	return err
}

// recordQuery records database query metrics
func recordQuery(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(duration)
}

// UpdateDBMetrics updates database connection metrics
func (d *Database) UpdateDBMetrics() {
	stats := d.db.Stats()
	metrics.DBConnectionsOpen.Set(float64(stats.OpenConnections))
}
