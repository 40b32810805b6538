// Package workers computes worker pool sizes from available parallelism,
// with environment variable overrides for deployments where the automatic
// sizing is wrong (e.g. scans against a slow NAS).
package workers
