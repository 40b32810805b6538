package workers

import (
	"os"
	"runtime"
	"strconv"
)

// Count returns the optimal number of workers for a given task type.
// It respects container CPU limits via GOMAXPROCS (Go 1.19+).
//
// The multiplier adjusts for task characteristics:
//   - 1.0 for CPU-bound tasks
//   - 2.0 for I/O-bound tasks
//
// The limit parameter caps the worker count; use 0 for no limit.
// envVar, when non-empty, names an environment variable that overrides
// the computed count (e.g. HASH_WORKERS, SCAN_WORKERS).
func Count(multiplier float64, limit int, envVar string) int {
	if envVar != "" {
		if override := os.Getenv(envVar); override != "" {
			if count, err := strconv.Atoi(override); err == nil && count > 0 {
				if limit > 0 && count > limit {
					return limit
				}
				return count
			}
		}
	}

	available := runtime.GOMAXPROCS(0)

	count := int(float64(available) * multiplier)
	if count < 1 {
		count = 1
	}
	if limit > 0 && count > limit {
		count = limit
	}

	return count
}

// ForHashing returns the worker count for the hashing pool. Hashing is
// mixed CPU and network I/O, so it gets 1 worker per CPU with an
// HASH_WORKERS override.
func ForHashing(limit int) int {
	return Count(1.0, limit, "HASH_WORKERS")
}

// ForScanning returns the worker count for concurrent root scans.
// Scans are I/O bound; SCAN_WORKERS overrides.
func ForScanning(limit int) int {
	return Count(2.0, limit, "SCAN_WORKERS")
}
