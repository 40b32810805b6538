// Package protocol defines the storage-protocol abstraction the scanner
// depends on. Each supported protocol (SMB today, local for testing and
// single-host deployments) provides a Client implementation; the scan
// orchestrator never touches a concrete protocol type.
//
// The package also defines the error taxonomy shared by all clients:
// ErrNotFound for absent paths, ErrInvalidArgument for file/directory
// type mismatches, and TransportError for everything the orchestrator
// should treat as retryable.
package protocol
