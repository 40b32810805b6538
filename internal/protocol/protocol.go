package protocol

import (
	"context"
	"io"
	"time"
)

// FileInfo describes a single entry on a remote share.
type FileInfo struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
	IsDir   bool      `json:"isDir"`
}

// Client is the protocol-neutral surface the scanner works against.
// One Client holds one authenticated context for one storage root and is
// safe for concurrent use by multiple in-flight operations.
//
// Paths are share-relative; a leading "/" is interpreted relative to the
// share root, so "/movies/x.mkv" and "movies/x.mkv" address the same file.
type Client interface {
	// Protocol returns the protocol identifier ("smb", "local", ...).
	Protocol() string

	// URL returns the canonical address of a share-relative path,
	// e.g. smb://host:445/media/movies/x.mkv.
	URL(path string) string

	// TestConnection probes the share root and reports reachability.
	// It never returns an error; any failure yields false.
	TestConnection(ctx context.Context) bool

	// ListFiles lists the entries of a directory. Entry names have
	// trailing path separators stripped; directories report size 0.
	ListFiles(ctx context.Context, path string) ([]FileInfo, error)

	// ListDirectories lists only the subdirectories of a directory.
	ListDirectories(ctx context.Context, path string) ([]FileInfo, error)

	// OpenFile opens a file for streaming reads. The returned reader
	// supports seeking so the hashing engine can sample head and tail
	// blocks without reading the whole file.
	OpenFile(ctx context.Context, path string) (ReadSeekCloser, error)

	// ReadFile reads an entire file into memory.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// ReadFileText reads an entire file and returns it as a string.
	ReadFileText(ctx context.Context, path string) (string, error)

	// WriteFile creates or truncates a file with the given content.
	WriteFile(ctx context.Context, path string, data io.Reader) error

	// DeleteFile removes a file. Deleting a directory through this
	// method is an invalid-argument error.
	DeleteFile(ctx context.Context, path string) error

	// Exists reports whether a path exists.
	Exists(ctx context.Context, path string) (bool, error)

	// Stat returns the FileInfo for a path.
	Stat(ctx context.Context, path string) (*FileInfo, error)

	// CreateDirectory creates a directory, including missing parents.
	CreateDirectory(ctx context.Context, path string) error

	// DeleteDirectory removes a directory. Without recursive it fails
	// with an invalid-argument error when the directory is not empty.
	DeleteDirectory(ctx context.Context, path string, recursive bool) error

	// CopyDirectory recursively copies a directory tree within the share.
	CopyDirectory(ctx context.Context, src, dst string) error

	// DirectorySize computes the total size of all files under a path.
	DirectorySize(ctx context.Context, path string) (int64, error)

	// Close releases the connection.
	Close() error
}

// ReadSeekCloser combines the stream interfaces file handles expose.
type ReadSeekCloser interface {
	io.Reader
	io.Seeker
	io.Closer
}
