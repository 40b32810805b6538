// Package vfs projects the catalog into a browsable virtual filesystem
// model: duplicate groups, categories, size buckets and modification
// months. The projection is a pure function of the live entry set; it
// does not mount anything itself.
package vfs
