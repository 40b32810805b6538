package protocol

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure conditions callers branch on.
// Everything else raised by a client is a *TransportError.
var (
	// ErrNotFound indicates the addressed path does not exist.
	ErrNotFound = errors.New("path not found")

	// ErrInvalidArgument indicates a type mismatch: a file operation on
	// a directory, a directory operation on a file, or deleting a
	// non-empty directory without the recursive flag.
	ErrInvalidArgument = errors.New("invalid argument")
)

// TransportError wraps network, authentication and timeout failures.
// The scan orchestrator treats these as retryable; the client itself
// never retries.
type TransportError struct {
	Protocol string
	Op       string
	Path     string
	Err      error
}

func (e *TransportError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s %s: %v", e.Protocol, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s %s: %v", e.Protocol, e.Op, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError wraps err as a transport failure for the given
// operation. A nil err returns nil.
func NewTransportError(protocol, op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Protocol: protocol, Op: op, Path: path, Err: err}
}

// IsRetryable reports whether an error is a transport failure the
// orchestrator may retry with backoff. NotFound and InvalidArgument are
// definitive and never retryable.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// NotFound wraps ErrNotFound with the offending path.
func NotFound(path string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, path)
}

// InvalidArgument wraps ErrInvalidArgument with a reason.
func InvalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
