// Package database persists the catalog: storage roots, file entries
// with their digests, per-file metadata, and scan history, all in one
// SQLite database running in WAL mode.
//
// Entries are soft-deleted: a file missing from a scan is tombstoned
// and only purged after the retention window, so a transient scan
// failure never destroys catalog state. Metadata saves are transactional
// delete-then-insert per file; they either fully commit or leave the
// prior metadata intact.
package database
