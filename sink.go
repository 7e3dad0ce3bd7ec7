package rpa

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Committer receives one entry's content. Commit publishes the content
// atomically; Discard drops it. Exactly one of the two must be called,
// so a failed entry never leaves partial output behind.
type Committer interface {
	io.Writer
	Commit() error
	Discard() error
}

// Sink produces a Committer per extracted entry. Implementations must
// be safe for concurrent Writer calls; extraction runs on a worker
// pool.
type Sink interface {
	Writer(entry Entry) (Committer, error)
}

// FileSink writes entries under a destination root with atomic writes.
//
// Content goes to a temporary file in the final directory and is
// renamed into place on Commit, so partially written files are never
// visible at the final path. Parent directories are created as needed;
// creation is idempotent under concurrent workers.
type FileSink struct {
	destRoot string
}

// NewFileSink creates a FileSink rooted at destRoot.
func NewFileSink(destRoot string) *FileSink {
	return &FileSink{destRoot: destRoot}
}

// Writer returns a Committer for the entry, refusing any path whose
// resolved destination escapes the sink root.
func (s *FileSink) Writer(entry Entry) (Committer, error) {
	destPath, err := s.resolve(entry.Path)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}

	tempFile, err := os.CreateTemp(dir, ".rpa-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	return &fileCommitter{
		destPath: destPath,
		tempFile: tempFile,
	}, nil
}

// resolve joins path under the root and verifies containment. Index
// paths are already sanitized; this guards sinks handed raw paths.
func (s *FileSink) resolve(path string) (string, error) {
	destPath := filepath.Join(s.destRoot, filepath.FromSlash(path))
	rel, err := filepath.Rel(s.destRoot, destPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes destination root", ErrPath, path)
	}
	return destPath, nil
}

// fileCommitter writes to a temp file and renames on Commit.
type fileCommitter struct {
	destPath string
	tempFile *os.File
}

// Write implements io.Writer.
func (c *fileCommitter) Write(p []byte) (int, error) {
	return c.tempFile.Write(p)
}

// Commit closes the temp file and renames it to the final path.
func (c *fileCommitter) Commit() error {
	tempPath := c.tempFile.Name()

	if err := c.tempFile.Close(); err != nil {
		_ = os.Remove(tempPath) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tempPath, c.destPath); err != nil {
		_ = os.Remove(tempPath) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("rename to %s: %w", c.destPath, err)
	}
	return nil
}

// Discard closes and removes the temp file.
func (c *fileCommitter) Discard() error {
	tempPath := c.tempFile.Name()
	_ = c.tempFile.Close() //nolint:errcheck // we're cleaning up
	return os.Remove(tempPath)
}

// MemorySink collects extracted entries in memory, keyed by path.
// Committed content only; discarded entries leave no trace.
type MemorySink struct {
	mu    sync.Mutex
	files map[string][]byte
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{files: make(map[string][]byte)}
}

// Writer returns a Committer buffering the entry's content.
func (s *MemorySink) Writer(entry Entry) (Committer, error) {
	return &memCommitter{sink: s, path: entry.Path}, nil
}

// Bytes returns the committed content for path.
func (s *MemorySink) Bytes(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.files[path]
	return content, ok
}

// Len returns the number of committed entries.
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

// memCommitter buffers content and publishes it on Commit.
type memCommitter struct {
	sink *MemorySink
	path string
	buf  bytes.Buffer
}

func (c *memCommitter) Write(p []byte) (int, error) {
	return c.buf.Write(p)
}

func (c *memCommitter) Commit() error {
	c.sink.mu.Lock()
	defer c.sink.mu.Unlock()
	c.sink.files[c.path] = c.buf.Bytes()
	return nil
}

func (c *memCommitter) Discard() error {
	c.buf.Reset()
	return nil
}
