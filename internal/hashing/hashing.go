package hashing

import (
	"crypto/md5"
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"media-catalog/internal/metrics"
)

// Options tunes the hashing engine. Numeric zero values fall back to
// the defaults from DefaultOptions; the enable flags are taken as
// given, so build Options from DefaultOptions when customizing.
type Options struct {
	EnableMD5    bool
	EnableSHA256 bool

	// EnableFastDigest adds the xxHash64 whole-content digest.
	EnableFastDigest bool

	// EnableQuickHash samples head and tail blocks of files above
	// QuickHashThreshold.
	EnableQuickHash bool

	// EnableFullHashing streams the whole content through the enabled
	// digest algorithms.
	EnableFullHashing bool

	// BufferSize is the read buffer used for full-content hashing.
	BufferSize int

	// QuickHashBlockSize is the sample block read from the head and tail
	// of large files for the quick hash.
	QuickHashBlockSize int

	// QuickHashThreshold is the minimum file size that gets a quick
	// hash. Files at or below the threshold are cheap enough to hash in
	// full, so sampling buys nothing.
	QuickHashThreshold int64

	// MaxFileSizeForFullHashing caps full-content hashing. Files larger
	// than the cap keep only their quick hash. Zero means no cap.
	MaxFileSizeForFullHashing int64
}

// DefaultOptions returns the production defaults: every digest enabled,
// full hashing uncapped.
func DefaultOptions() Options {
	return Options{
		EnableMD5:                 true,
		EnableSHA256:              true,
		EnableFastDigest:          true,
		EnableQuickHash:           true,
		EnableFullHashing:         true,
		BufferSize:                1 << 20,   // 1 MiB
		QuickHashBlockSize:        64 << 10,  // 64 KiB
		QuickHashThreshold:        100 << 20, // 100 MiB
		MaxFileSizeForFullHashing: 0,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.BufferSize <= 0 {
		o.BufferSize = def.BufferSize
	}
	if o.QuickHashBlockSize <= 0 {
		o.QuickHashBlockSize = def.QuickHashBlockSize
	}
	if o.QuickHashThreshold <= 0 {
		o.QuickHashThreshold = def.QuickHashThreshold
	}
	return o
}

// FileHashes carries every digest computed for one file. Empty fields
// mean the digest was not computed (quick hash below the threshold,
// full digests above the full-hashing cap).
type FileHashes struct {
	// QuickHash samples the file size plus head and tail blocks. Two
	// files with different quick hashes are definitely different; equal
	// quick hashes only make them duplicate candidates.
	QuickHash string `json:"quickHash,omitempty"`

	MD5    string `json:"md5,omitempty"`
	SHA256 string `json:"sha256,omitempty"`

	// FastDigest is a non-cryptographic whole-content digest; its
	// algorithm is recorded in FastDigestAlgo.
	FastDigest     string `json:"fastDigest,omitempty"`
	FastDigestAlgo string `json:"fastDigestAlgo,omitempty"`
}

// FastDigestAlgoXXH64 is the algorithm label for the xxHash64 fast digest.
const FastDigestAlgoXXH64 = "xxh64"

// ContentHash returns the strongest available whole-content digest for
// duplicate grouping, or "" if no full digest was computed.
func (h FileHashes) ContentHash() string {
	switch {
	case h.SHA256 != "":
		return h.SHA256
	case h.MD5 != "":
		return h.MD5
	default:
		return h.FastDigest
	}
}

// ComputationError reports a failed hash computation for one file.
type ComputationError struct {
	Path string
	Err  error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("hashing %s: %v", e.Path, e.Err)
}

func (e *ComputationError) Unwrap() error { return e.Err }

// Compute reads the file once and produces all configured digests.
// Size must be the file's total size; it drives the quick-hash and
// full-hashing decisions without an extra stat. The stream is consumed
// from its current position after QuickHash seeks back to the start.
func Compute(r io.ReadSeeker, size int64, opts Options) (FileHashes, error) {
	opts = opts.withDefaults()

	var hashes FileHashes

	if opts.EnableQuickHash && size > opts.QuickHashThreshold {
		quick, err := QuickHash(r, size, opts.QuickHashBlockSize)
		if err != nil {
			return FileHashes{}, err
		}
		hashes.QuickHash = quick
	}

	if !opts.EnableFullHashing {
		return hashes, nil
	}
	if opts.MaxFileSizeForFullHashing > 0 && size > opts.MaxFileSizeForFullHashing {
		return hashes, nil
	}

	var writers []io.Writer
	md5Sum := md5.New()
	sha256Sum := sha256.New()
	fast := xxhash.New()
	if opts.EnableMD5 {
		writers = append(writers, md5Sum)
	}
	if opts.EnableSHA256 {
		writers = append(writers, sha256Sum)
	}
	if opts.EnableFastDigest {
		writers = append(writers, fast)
	}
	if len(writers) == 0 {
		return hashes, nil
	}

	buf := make([]byte, opts.BufferSize)
	n, err := io.CopyBuffer(io.MultiWriter(writers...), r, buf)
	if err != nil {
		return FileHashes{}, fmt.Errorf("reading content: %w", err)
	}
	metrics.HashBytesProcessed.Add(float64(n))

	if opts.EnableMD5 {
		hashes.MD5 = fmt.Sprintf("%x", md5Sum.Sum(nil))
	}
	if opts.EnableSHA256 {
		hashes.SHA256 = fmt.Sprintf("%x", sha256Sum.Sum(nil))
	}
	if opts.EnableFastDigest {
		hashes.FastDigest = fmt.Sprintf("%016x", fast.Sum64())
		hashes.FastDigestAlgo = FastDigestAlgoXXH64
	}
	return hashes, nil
}

// QuickHash digests the file size together with the first block and,
// when the file is bigger than two blocks, the last block. It reads at
// most 2×blockSize bytes regardless of file size, and leaves the stream
// positioned at the start.
func QuickHash(r io.ReadSeeker, size int64, blockSize int) (string, error) {
	if blockSize <= 0 {
		blockSize = DefaultOptions().QuickHashBlockSize
	}

	h := xxhash.New()
	h.WriteString(strconv.FormatInt(size, 10))

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("seeking to start: %w", err)
	}

	head := make([]byte, blockSize)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", fmt.Errorf("reading head block: %w", err)
	}
	h.Write(head[:n])

	// The tail block only adds signal when it does not overlap the head.
	if size > int64(2*blockSize) {
		if _, err := r.Seek(-int64(blockSize), io.SeekEnd); err != nil {
			return "", fmt.Errorf("seeking to tail: %w", err)
		}
		tail := make([]byte, blockSize)
		n, err := io.ReadFull(r, tail)
		if err != nil && err != io.ErrUnexpectedEOF {
			return "", fmt.Errorf("reading tail block: %w", err)
		}
		h.Write(tail[:n])
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewinding: %w", err)
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// Verify compares two hex digests case-insensitively. Either side empty
// is never a match.
func Verify(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(a, b)
}

// VerifyStream recomputes the named digest over the stream and compares
// it against expected via Verify. Read failures and unknown algorithms
// are errors, not mismatches.
func VerifyStream(r io.Reader, expected, algo string) (bool, error) {
	if expected == "" {
		return false, fmt.Errorf("no expected digest to verify against")
	}

	var h hash.Hash
	switch strings.ToLower(algo) {
	case "md5":
		h = md5.New()
	case "sha256":
		h = sha256.New()
	case FastDigestAlgoXXH64:
		h = xxhash.New()
	default:
		return false, fmt.Errorf("unknown digest algorithm %q", algo)
	}

	n, err := io.Copy(h, r)
	if err != nil {
		return false, fmt.Errorf("reading content: %w", err)
	}
	metrics.HashBytesProcessed.Add(float64(n))

	return Verify(fmt.Sprintf("%x", h.Sum(nil)), expected), nil
}
