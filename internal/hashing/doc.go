// Package hashing computes the digests that drive duplicate detection.
//
// Every file gets a single streaming pass producing MD5, SHA-256 and an
// xxHash64 fast digest via one MultiWriter. Files above a size
// threshold additionally get a quick hash sampling the head and tail
// blocks, which lets the scanner rule out non-duplicates among large
// files without reading them in full.
//
// The Engine runs computations on a fixed worker pool so a scan can
// queue hash jobs without holding remote file handles open while they
// wait.
package hashing
