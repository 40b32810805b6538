// Package localfs implements protocol.Client over a local directory.
// It exists for single-host deployments without SMB and doubles as the
// concrete client the scanner tests run against.
package localfs
