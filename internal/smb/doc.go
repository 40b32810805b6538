// Package smb implements protocol.Client over SMB2/SMB3 using go-smb2.
//
// One Client holds one authenticated session and one mounted share; the
// underlying library multiplexes concurrent operations over the single
// TCP connection. Paths are share-relative; a leading "/" addresses the
// share root. Canonical URLs take the form smb://host:port/share/path.
//
// The client never retries: timeouts and transport failures surface as
// protocol.TransportError for the scan orchestrator to handle.
package smb
