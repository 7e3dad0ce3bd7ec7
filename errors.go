package rpa

import "errors"

// Sentinel errors for the rpa package.
//
// Per-entry extraction failures are reported through Result.Err and
// wrap one of these sentinels (or the underlying I/O error), so
// callers can classify outcomes with errors.Is.
var (
	// ErrFormat is returned for malformed archives: unrecognized magic,
	// unparsable header fields, a corrupt compressed index, a malformed
	// index object graph, or an entry whose length is smaller than its
	// prefix.
	ErrFormat = errors.New("rpa: invalid archive format")

	// ErrPath is returned when an archive path is rejected: traversal
	// segments, empty segments, or a resolved destination escaping the
	// extraction root.
	ErrPath = errors.New("rpa: invalid path")

	// ErrNotFound is returned when a requested path is absent from the
	// archive index.
	ErrNotFound = errors.New("rpa: entry not found")

	// ErrRead is returned when archive body bytes cannot be read, either
	// because the entry's range extends past the end of the file or due
	// to an underlying I/O failure.
	ErrRead = errors.New("rpa: read failure")
)
