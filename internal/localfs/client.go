package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"media-catalog/internal/metrics"
	"media-catalog/internal/protocol"
)

// Client implements protocol.Client over a directory on the local
// filesystem. It backs single-host deployments where the media lives on
// a mounted volume, and serves as the test double for the scanner.
type Client struct {
	root string
}

// New returns a client rooted at dir. The directory must exist.
func New(dir string) (*Client, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, protocol.NewTransportError("local", "open", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, classify("open", dir, err)
	}
	if !info.IsDir() {
		return nil, protocol.InvalidArgument("not a directory: %s", dir)
	}
	return &Client{root: abs}, nil
}

// Protocol returns "local".
func (c *Client) Protocol() string { return "local" }

// URL returns the canonical file:// address of a root-relative path.
func (c *Client) URL(p string) string {
	return "file://" + c.resolve(p)
}

// resolve maps a root-relative path to an absolute one, confined to the
// client root. Escaping ".." segments are cleaned away rather than
// rejected; the result never leaves the root.
func (c *Client) resolve(p string) string {
	p = strings.TrimPrefix(filepath.ToSlash(p), "/")
	rel := filepath.Clean(filepath.FromSlash(p))
	if rel == "." || rel == string(filepath.Separator) {
		return c.root
	}
	joined := filepath.Join(c.root, rel)
	if !strings.HasPrefix(joined, c.root) {
		return c.root
	}
	return joined
}

// relative converts an absolute path back to the root-relative form
// reported in FileInfo.Path.
func (c *Client) relative(abs string) string {
	rel, err := filepath.Rel(c.root, abs)
	if err != nil || rel == "." {
		return "."
	}
	return filepath.ToSlash(rel)
}

func classify(op, p string, err error) error {
	if err == nil {
		return nil
	}
	if os.IsNotExist(err) {
		return protocol.NotFound(p)
	}
	return protocol.NewTransportError("local", op, p, err)
}

func record(op string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ProtocolOpsTotal.WithLabelValues("local", op, status).Inc()
	metrics.ProtocolOpDuration.WithLabelValues("local", op).Observe(time.Since(start).Seconds())
}

// TestConnection reports whether the root directory is readable.
func (c *Client) TestConnection(ctx context.Context) bool {
	_, err := os.ReadDir(c.root)
	return err == nil
}

// ListFiles lists the entries of a directory.
func (c *Client) ListFiles(ctx context.Context, p string) ([]protocol.FileInfo, error) {
	start := time.Now()
	abs := c.resolve(p)
	entries, err := os.ReadDir(abs)
	record("list_files", start, err)
	if err != nil {
		return nil, classify("list_files", p, err)
	}

	infos := make([]protocol.FileInfo, 0, len(entries))
	for _, entry := range entries {
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		size := fi.Size()
		if fi.IsDir() {
			size = 0
		}
		infos = append(infos, protocol.FileInfo{
			Name:    entry.Name(),
			Path:    c.relative(filepath.Join(abs, entry.Name())),
			Size:    size,
			ModTime: fi.ModTime(),
			IsDir:   fi.IsDir(),
		})
	}
	return infos, nil
}

// ListDirectories lists only the subdirectories of a directory.
func (c *Client) ListDirectories(ctx context.Context, p string) ([]protocol.FileInfo, error) {
	entries, err := c.ListFiles(ctx, p)
	if err != nil {
		return nil, err
	}
	dirs := entries[:0]
	for _, entry := range entries {
		if entry.IsDir {
			dirs = append(dirs, entry)
		}
	}
	return dirs, nil
}

// OpenFile opens a file for streaming reads.
func (c *Client) OpenFile(ctx context.Context, p string) (protocol.ReadSeekCloser, error) {
	start := time.Now()
	abs := c.resolve(p)
	info, err := os.Stat(abs)
	if err != nil {
		record("open_file", start, err)
		return nil, classify("open_file", p, err)
	}
	if info.IsDir() {
		record("open_file", start, os.ErrInvalid)
		return nil, protocol.InvalidArgument("cannot read directory as file: %s", p)
	}

	f, err := os.Open(abs)
	record("open_file", start, err)
	if err != nil {
		return nil, classify("open_file", p, err)
	}
	return f, nil
}

// ReadFile reads an entire file into memory.
func (c *Client) ReadFile(ctx context.Context, p string) ([]byte, error) {
	f, err := c.OpenFile(ctx, p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, classify("read_file", p, err)
	}
	return data, nil
}

// ReadFileText reads an entire file as a string.
func (c *Client) ReadFileText(ctx context.Context, p string) (string, error) {
	data, err := c.ReadFile(ctx, p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteFile creates or truncates a file with the given content.
func (c *Client) WriteFile(ctx context.Context, p string, data io.Reader) error {
	start := time.Now()
	abs := c.resolve(p)
	f, err := os.Create(abs)
	if err != nil {
		record("write_file", start, err)
		return classify("write_file", p, err)
	}

	_, err = io.Copy(f, data)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	record("write_file", start, err)
	return classify("write_file", p, err)
}

// DeleteFile removes a file.
func (c *Client) DeleteFile(ctx context.Context, p string) error {
	start := time.Now()
	abs := c.resolve(p)
	info, err := os.Stat(abs)
	if err != nil {
		record("delete_file", start, err)
		return classify("delete_file", p, err)
	}
	if info.IsDir() {
		record("delete_file", start, os.ErrInvalid)
		return protocol.InvalidArgument("cannot delete directory as file: %s", p)
	}

	err = os.Remove(abs)
	record("delete_file", start, err)
	return classify("delete_file", p, err)
}

// Exists reports whether a path exists.
func (c *Client) Exists(ctx context.Context, p string) (bool, error) {
	_, err := os.Stat(c.resolve(p))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, classify("exists", p, err)
}

// Stat returns the FileInfo for a path.
func (c *Client) Stat(ctx context.Context, p string) (*protocol.FileInfo, error) {
	start := time.Now()
	abs := c.resolve(p)
	info, err := os.Stat(abs)
	record("stat", start, err)
	if err != nil {
		return nil, classify("stat", p, err)
	}

	size := info.Size()
	if info.IsDir() {
		size = 0
	}
	return &protocol.FileInfo{
		Name:    info.Name(),
		Path:    c.relative(abs),
		Size:    size,
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}, nil
}

// CreateDirectory creates a directory including missing parents.
func (c *Client) CreateDirectory(ctx context.Context, p string) error {
	start := time.Now()
	err := os.MkdirAll(c.resolve(p), 0o755)
	record("create_directory", start, err)
	return classify("create_directory", p, err)
}

// DeleteDirectory removes a directory. Without recursive it fails when
// the directory is not empty.
func (c *Client) DeleteDirectory(ctx context.Context, p string, recursive bool) error {
	start := time.Now()
	abs := c.resolve(p)

	info, err := os.Stat(abs)
	if err != nil {
		record("delete_directory", start, err)
		return classify("delete_directory", p, err)
	}
	if !info.IsDir() {
		record("delete_directory", start, os.ErrInvalid)
		return protocol.InvalidArgument("not a directory: %s", p)
	}

	if recursive {
		err = os.RemoveAll(abs)
		record("delete_directory", start, err)
		return classify("delete_directory", p, err)
	}

	err = os.Remove(abs)
	record("delete_directory", start, err)
	if err != nil {
		var pathErr *os.PathError
		if errors.As(err, &pathErr) && strings.Contains(pathErr.Err.Error(), "not empty") {
			return protocol.InvalidArgument("directory not empty: %s", p)
		}
		return classify("delete_directory", p, err)
	}
	return nil
}

// CopyDirectory recursively copies a directory tree within the root.
func (c *Client) CopyDirectory(ctx context.Context, src, dst string) error {
	srcAbs := c.resolve(src)
	dstAbs := c.resolve(dst)

	info, err := os.Stat(srcAbs)
	if err != nil {
		return classify("copy_directory", src, err)
	}
	if !info.IsDir() {
		return protocol.InvalidArgument("copy source is not a directory: %s", src)
	}

	err = filepath.WalkDir(srcAbs, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcAbs, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dstAbs, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
	return classify("copy_directory", src, err)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	return err
}

// DirectorySize computes the total size of all files under a path.
func (c *Client) DirectorySize(ctx context.Context, p string) (int64, error) {
	abs := c.resolve(p)
	info, err := os.Stat(abs)
	if err != nil {
		return 0, classify("directory_size", p, err)
	}
	if !info.IsDir() {
		return 0, protocol.InvalidArgument("not a directory: %s", p)
	}

	var total int64
	err = filepath.WalkDir(abs, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		total += fi.Size()
		return nil
	})
	if err != nil {
		return 0, classify("directory_size", p, err)
	}
	return total, nil
}

// Close is a no-op; the client holds no connection state.
func (c *Client) Close() error { return nil }

var _ protocol.Client = (*Client)(nil)

// String identifies the client in log lines.
func (c *Client) String() string {
	return fmt.Sprintf("local:%s", c.root)
}
