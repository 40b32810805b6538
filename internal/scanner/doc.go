// Package scanner orchestrates catalog scans: it walks each enabled
// storage root through its protocol client, upserts discovered files in
// batches, pipelines changed files into the shared hashing pool, and
// reconciles the catalog afterwards (tombstoning missing files and
// refreshing duplicate flags).
//
// Failure isolation follows the unit of work: a failing file never
// aborts its root's scan, and a failing root never aborts sibling
// scans. Cancellation discards in-flight hash results instead of
// writing them.
package scanner
