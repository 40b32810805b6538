// Package metrics defines the Prometheus instrumentation for the media
// catalog: scan runs, hashing pool activity, protocol client operations,
// database queries and virtual filesystem rebuilds.
//
// All metrics are registered with the default registry via promauto and
// served from the monitoring HTTP endpoint.
package metrics
