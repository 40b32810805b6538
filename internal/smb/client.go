package smb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strings"
	"time"

	"github.com/hirochachacha/go-smb2"

	"media-catalog/internal/logging"
	"media-catalog/internal/metrics"
	"media-catalog/internal/protocol"
)

// DefaultPort is the standard SMB/CIFS port.
const DefaultPort = 445

// NT status codes go-smb2 surfaces for absent paths.
const (
	statusObjectNameNotFound = 0xC0000034
	statusObjectPathNotFound = 0xC000003A
)

// Config describes one SMB connection.
type Config struct {
	Host        string
	Port        int
	Share       string
	Username    string
	Password    string
	Domain      string
	DialTimeout time.Duration
	ReadTimeout time.Duration
}

// Client implements protocol.Client over one authenticated SMB session.
// The underlying go-smb2 share multiplexes concurrent operations over a
// single connection, so a Client is safe for concurrent use.
type Client struct {
	conn    net.Conn
	session *smb2.Session
	share   *smb2.Share
	config  Config
}

// Dial connects, authenticates and mounts the configured share.
func Dial(config Config) (*Client, error) {
	if config.Port <= 0 {
		config.Port = DefaultPort
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 30 * time.Second
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 60 * time.Second
	}

	addr := net.JoinHostPort(config.Host, fmt.Sprintf("%d", config.Port))
	conn, err := net.DialTimeout("tcp", addr, config.DialTimeout)
	if err != nil {
		return nil, protocol.NewTransportError("smb", "dial", addr, err)
	}

	d := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     config.Username,
			Password: config.Password,
			Domain:   config.Domain,
		},
	}

	session, err := d.Dial(conn)
	if err != nil {
		conn.Close()
		return nil, protocol.NewTransportError("smb", "session", addr, err)
	}

	share, err := session.Mount(config.Share)
	if err != nil {
		session.Logoff()
		conn.Close()
		return nil, protocol.NewTransportError("smb", "mount", config.Share, err)
	}

	logging.Debug("SMB session established: %s share=%s", addr, config.Share)

	return &Client{
		conn:    conn,
		session: session,
		share:   share,
		config:  config,
	}, nil
}

// Protocol returns "smb".
func (c *Client) Protocol() string { return "smb" }

// URL returns the canonical smb://host:port/share/path address.
func (c *Client) URL(p string) string {
	base := fmt.Sprintf("smb://%s:%d/%s", c.config.Host, c.config.Port, c.config.Share)
	if p = normalize(p); p == "." {
		return base
	}
	return base + "/" + p
}

// normalize converts a caller path to the share-relative form go-smb2
// expects. A leading "/" means share-root-relative, so it is stripped;
// the result is cleaned and "." addresses the share root.
func normalize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "/")
	p = path.Clean(p)
	if p == "" || p == "/" {
		return "."
	}
	return p
}

// fs returns the share bound to ctx with the configured read timeout
// applied, so every remote operation is deadline-bounded.
func (c *Client) fs(ctx context.Context) (*smb2.Share, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, c.config.ReadTimeout)
	return c.share.WithContext(ctx), cancel
}

// classify maps a go-smb2 error into the protocol error taxonomy.
func classify(op, p string, err error) error {
	if err == nil {
		return nil
	}
	if os.IsNotExist(err) {
		return protocol.NotFound(p)
	}
	var re *smb2.ResponseError
	if errors.As(err, &re) {
		if re.Code == statusObjectNameNotFound || re.Code == statusObjectPathNotFound {
			return protocol.NotFound(p)
		}
	}
	return protocol.NewTransportError("smb", op, p, err)
}

// record observes one client operation for metrics.
func record(op string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ProtocolOpsTotal.WithLabelValues("smb", op, status).Inc()
	metrics.ProtocolOpDuration.WithLabelValues("smb", op).Observe(time.Since(start).Seconds())
}

// TestConnection probes the share root. Any failure yields false so
// callers can treat connectivity probing as non-fatal.
func (c *Client) TestConnection(ctx context.Context) bool {
	start := time.Now()
	fs, cancel := c.fs(ctx)
	defer cancel()

	_, err := fs.Stat(".")
	record("test_connection", start, err)
	if err != nil {
		logging.Debug("SMB connection test failed for %s: %v", c.URL("/"), err)
		return false
	}
	return true
}

// ListFiles lists the entries of a directory. Trailing path separators
// are stripped from entry names and directories report size 0.
func (c *Client) ListFiles(ctx context.Context, p string) ([]protocol.FileInfo, error) {
	start := time.Now()
	fs, cancel := c.fs(ctx)
	defer cancel()

	rel := normalize(p)
	entries, err := fs.ReadDir(rel)
	record("list_files", start, err)
	if err != nil {
		return nil, classify("list_files", p, err)
	}

	infos := make([]protocol.FileInfo, 0, len(entries))
	for _, entry := range entries {
		name := strings.TrimRight(entry.Name(), "/\\")
		size := entry.Size()
		if entry.IsDir() {
			size = 0
		}
		infos = append(infos, protocol.FileInfo{
			Name:    name,
			Path:    join(rel, name),
			Size:    size,
			ModTime: entry.ModTime(),
			IsDir:   entry.IsDir(),
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

// OpenFile opens a file for streaming reads. go-smb2 binds every
// operation on the handle to the context the share was wrapped with, so
// the handle gets its own context derived from the caller's — without
// the per-op read timeout, since streaming legitimately outlives it —
// and the returned file releases that context on Close.
func (c *Client) OpenFile(ctx context.Context, p string) (protocol.ReadSeekCloser, error) {
	start := time.Now()
	streamCtx, cancel := context.WithCancel(ctx)
	fs := c.share.WithContext(streamCtx)

	rel := normalize(p)
	info, err := fs.Stat(rel)
	if err != nil {
		cancel()
		record("open_file", start, err)
		return nil, classify("open_file", p, err)
	}
	if info.IsDir() {
		cancel()
		record("open_file", start, os.ErrInvalid)
		return nil, protocol.InvalidArgument("cannot read directory as file: %s", p)
	}

	f, err := fs.Open(rel)
	record("open_file", start, err)
	if err != nil {
		cancel()
		return nil, classify("open_file", p, err)
	}
	return &streamFile{ReadSeekCloser: f, cancel: cancel}, nil
}

// streamFile couples an open handle to the context it was opened under.
type streamFile struct {
	protocol.ReadSeekCloser
	cancel context.CancelFunc
}

func (s *streamFile) Close() error {
	err := s.ReadSeekCloser.Close()
	s.cancel()
	return err
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
	fs, cancel := c.fs(ctx)
	defer cancel()

	rel := normalize(p)
	f, err := fs.Create(rel)
	if err != nil {
		record("write_file", start, err)
		return classify("write_file", p, err)
	}

	_, err = io.Copy(f, data)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	record("write_file", start, err)
	if err != nil {
		return classify("write_file", p, err)
	}
	return nil
}

// DeleteFile removes a file. Removing a directory is an invalid-argument
// error; use DeleteDirectory instead.
func (c *Client) DeleteFile(ctx context.Context, p string) error {
	start := time.Now()
	fs, cancel := c.fs(ctx)
	defer cancel()

	rel := normalize(p)
	info, err := fs.Stat(rel)
	if err != nil {
		record("delete_file", start, err)
		return classify("delete_file", p, err)
	}
	if info.IsDir() {
		record("delete_file", start, os.ErrInvalid)
		return protocol.InvalidArgument("cannot delete directory as file: %s", p)
	}

	err = fs.Remove(rel)
	record("delete_file", start, err)
	return classify("delete_file", p, err)
}

// Exists reports whether a path exists on the share.
func (c *Client) Exists(ctx context.Context, p string) (bool, error) {
	start := time.Now()
	fs, cancel := c.fs(ctx)
	defer cancel()

	_, err := fs.Stat(normalize(p))
	if err == nil {
		record("exists", start, nil)
		return true, nil
	}
	cerr := classify("exists", p, err)
	if errors.Is(cerr, protocol.ErrNotFound) {
		record("exists", start, nil)
		return false, nil
	}
	record("exists", start, err)
	return false, cerr
}

// Stat returns the FileInfo for a path.
func (c *Client) Stat(ctx context.Context, p string) (*protocol.FileInfo, error) {
	start := time.Now()
	fs, cancel := c.fs(ctx)
	defer cancel()

	rel := normalize(p)
	info, err := fs.Stat(rel)
	record("stat", start, err)
	if err != nil {
		return nil, classify("stat", p, err)
	}

	size := info.Size()
	if info.IsDir() {
		size = 0
	}
	return &protocol.FileInfo{
		Name:    strings.TrimRight(info.Name(), "/\\"),
		Path:    rel,
		Size:    size,
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}, nil
}

// CreateDirectory creates a directory including missing parents.
func (c *Client) CreateDirectory(ctx context.Context, p string) error {
	start := time.Now()
	fs, cancel := c.fs(ctx)
	defer cancel()

	err := fs.MkdirAll(normalize(p), 0o755)
	record("create_directory", start, err)
	return classify("create_directory", p, err)
}

// DeleteDirectory removes a directory. Without recursive it fails with an
// invalid-argument error when the directory still has children.
func (c *Client) DeleteDirectory(ctx context.Context, p string, recursive bool) error {
	start := time.Now()
	var err error
	defer func() { record("delete_directory", start, err) }()

	fs, cancel := c.fs(ctx)
	defer cancel()

	rel := normalize(p)
	info, statErr := fs.Stat(rel)
	if statErr != nil {
		err = statErr
		return classify("delete_directory", p, statErr)
	}
	if !info.IsDir() {
		err = os.ErrInvalid
		return protocol.InvalidArgument("not a directory: %s", p)
	}

	entries, listErr := fs.ReadDir(rel)
	if listErr != nil {
		err = listErr
		return classify("delete_directory", p, listErr)
	}

	if len(entries) > 0 && !recursive {
		err = os.ErrInvalid
		return protocol.InvalidArgument("directory not empty: %s", p)
	}

	if recursive {
		for _, entry := range entries {
			child := join(rel, strings.TrimRight(entry.Name(), "/\\"))
			if entry.IsDir() {
				if derr := c.DeleteDirectory(ctx, child, true); derr != nil {
					err = derr
					return derr
				}
			} else if rerr := fs.Remove(child); rerr != nil {
				err = rerr
				return classify("delete_directory", child, rerr)
			}
		}
	}

	err = fs.Remove(rel)
	return classify("delete_directory", p, err)
}

// CopyDirectory recursively copies a directory tree within the share.
func (c *Client) CopyDirectory(ctx context.Context, src, dst string) error {
	srcInfo, err := c.Stat(ctx, src)
	if err != nil {
		return err
	}
	if !srcInfo.IsDir {
		return protocol.InvalidArgument("copy source is not a directory: %s", src)
	}

	if err := c.CreateDirectory(ctx, dst); err != nil {
		return err
	}

	entries, err := c.ListFiles(ctx, src)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		srcChild := join(normalize(src), entry.Name)
		dstChild := join(normalize(dst), entry.Name)
		if entry.IsDir {
			if err := c.CopyDirectory(ctx, srcChild, dstChild); err != nil {
				return err
			}
			continue
		}
		if err := c.copyFile(ctx, srcChild, dstChild); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) copyFile(ctx context.Context, src, dst string) error {
	f, err := c.OpenFile(ctx, src)
	if err != nil {
		return err
	}
	defer f.Close()
	return c.WriteFile(ctx, dst, f)
}

// DirectorySize computes the total size of all files under a path.
func (c *Client) DirectorySize(ctx context.Context, p string) (int64, error) {
	info, err := c.Stat(ctx, p)
	if err != nil {
		return 0, err
	}
	if !info.IsDir {
		return 0, protocol.InvalidArgument("not a directory: %s", p)
	}

	var total int64
	entries, err := c.ListFiles(ctx, p)
	if err != nil {
		return 0, err
	}
	for _, entry := range entries {
		if entry.IsDir {
			sub, err := c.DirectorySize(ctx, entry.Path)
			if err != nil {
				return 0, err
			}
			total += sub
			continue
		}
		total += entry.Size
	}
	return total, nil
}

// Close unmounts the share, logs off and closes the connection.
func (c *Client) Close() error {
	var errs []error

	if c.share != nil {
		if err := c.share.Umount(); err != nil {
			errs = append(errs, fmt.Errorf("unmount share: %w", err))
		}
	}
	if c.session != nil {
		if err := c.session.Logoff(); err != nil {
			errs = append(errs, fmt.Errorf("logoff session: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("closing SMB client: %v", errs)
	}
	return nil
}

// join builds a share-relative child path without reintroducing a
// leading "./".
func join(dir, name string) string {
	if dir == "." || dir == "" {
		return name
	}
	return dir + "/" + name
}
