package rpa

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

// ByteSource provides random access to archive bytes.
//
// Implementations must support concurrent positioned reads; extraction
// workers call ReadAt in parallel and never share a seek cursor.
type ByteSource interface {
	io.ReaderAt
	Size() int64
}

// fileSource wraps *os.File to implement ByteSource.
// os.File has ReadAt but not Size, so we cache the size at construction.
type fileSource struct {
	file *os.File
	size int64
}

// newFileSource creates a fileSource from an open file.
func newFileSource(f *os.File) (*fileSource, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	return &fileSource{file: f, size: info.Size()}, nil
}

// ReadAt implements io.ReaderAt.
func (fs *fileSource) ReadAt(p []byte, off int64) (int, error) {
	return fs.file.ReadAt(p, off)
}

// Size returns the total size of the file.
func (fs *fileSource) Size() int64 {
	return fs.size
}

// Archive is an open RPA archive: the parsed header plus the fully
// decoded, deobfuscated index.
//
// The header and index are loaded once, inside Open or New, before any
// listing or extraction; both are immutable afterwards, so an Archive
// is safe for concurrent use. Close releases the file handle and is
// terminal: all later calls fail with os.ErrClosed.
type Archive struct {
	src    ByteSource
	file   *os.File // non-nil when opened from disk
	header Header
	idx    *index
	closed atomic.Bool

	// options
	logger       *slog.Logger
	workers      int
	maxIndexSize int64
}

// Option configures an Archive during Open or New.
type Option func(*Archive)

// WithLogger sets a logger for index warnings and per-entry extraction
// outcomes. By default nothing is logged.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archive) {
		a.logger = logger
	}
}

// WithWorkers sets the extraction worker count.
// Values <= 0 use runtime.GOMAXPROCS(0).
func WithWorkers(n int) Option {
	return func(a *Archive) {
		a.workers = n
	}
}

// WithMaxIndexSize caps the inflated index size in bytes, guarding
// against decompression bombs in third-party archives. The default is
// DefaultMaxIndexSize; values <= 0 restore the default.
func WithMaxIndexSize(n int64) Option {
	return func(a *Archive) {
		a.maxIndexSize = n
	}
}

// DefaultMaxIndexSize is the default cap on the inflated index.
const DefaultMaxIndexSize = 1 << 30 // 1GB

// Open opens the RPA archive at path.
//
// The header is parsed and the index decoded before Open returns, so
// any format error in either is reported here and no handle is
// returned. The returned Archive must be closed to release the file.
func Open(path string, opts ...Option) (*Archive, error) {
	f, err := os.Open(path) //nolint:gosec // user-provided path is intentional
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	source, err := newFileSource(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	a, err := newArchive(source, opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	a.file = f
	return a, nil
}

// New opens an archive from an arbitrary random-access source.
//
// Close releases no resources for a source-backed archive but still
// marks the handle terminal.
func New(src ByteSource, opts ...Option) (*Archive, error) {
	return newArchive(src, opts)
}

func newArchive(src ByteSource, opts []Option) (*Archive, error) {
	a := &Archive{
		src:          src,
		maxIndexSize: DefaultMaxIndexSize,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.maxIndexSize <= 0 {
		a.maxIndexSize = DefaultMaxIndexSize
	}

	hdr, err := readHeader(src)
	if err != nil {
		return nil, err
	}
	a.header = hdr

	idx, err := decodeIndex(src, hdr, a.maxIndexSize)
	if err != nil {
		return nil, err
	}
	a.idx = idx

	for _, w := range idx.warnings {
		a.log().Warn("index entry excluded", "path", w.Path, "reason", w.Reason)
	}
	return a, nil
}

// log returns the logger, falling back to a discard logger if nil.
func (a *Archive) log() *slog.Logger {
	if a.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.logger
}

// Header returns the parsed archive header.
func (a *Archive) Header() Header {
	return a.header
}

// Close releases the archive's file handle. Close is idempotent; after
// the first call every other method fails with os.ErrClosed.
func (a *Archive) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}

// checkOpen returns os.ErrClosed once Close has been called.
func (a *Archive) checkOpen() error {
	if a.closed.Load() {
		return os.ErrClosed
	}
	return nil
}

// ArchiveInfo summarizes an open archive.
type ArchiveInfo struct {
	// Version is the advertised format version, e.g. "3.0".
	Version string
	// Entries is the number of usable index entries.
	Entries int
	// TotalSize is the sum of logical (reconstructed) file sizes.
	TotalSize uint64
	// ArchiveSize is the size of the container file itself.
	ArchiveSize int64
}

// Stat returns summary information about the archive.
func (a *Archive) Stat() ArchiveInfo {
	var total uint64
	for _, path := range a.idx.paths {
		total += a.idx.entries[path].Length
	}
	return ArchiveInfo{
		Version:     a.header.Version,
		Entries:     len(a.idx.paths),
		TotalSize:   total,
		ArchiveSize: a.src.Size(),
	}
}
