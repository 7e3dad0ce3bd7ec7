package rpa

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/klauspost/compress/zlib"

	"github.com/renmod/rpa/internal/pyobj"
)

// Entry is a usable index record: where a file's bytes live and how to
// reconstruct its content.
//
// Length is the logical file size and includes the prefix; the archive
// body contributes the remaining Length - len(Prefix) bytes starting
// at Offset.
type Entry struct {
	Path   string
	Offset uint64
	Length uint64
	Prefix []byte
}

// bodyLen returns the number of bytes read from the archive body.
// ok is false when the recorded length is smaller than the prefix.
func (e *Entry) bodyLen() (uint64, bool) {
	if e.Length < uint64(len(e.Prefix)) {
		return 0, false
	}
	return e.Length - uint64(len(e.Prefix)), true
}

// Warning records a non-fatal index condition: a dropped invalid path
// or an excluded duplicate.
type Warning struct {
	Path   string
	Reason string
}

// index is the decoded, deobfuscated archive index. Built once per
// archive and read-only afterwards.
type index struct {
	entries  map[string]Entry
	paths    []string // sorted for deterministic iteration
	warnings []Warning
}

// decodeIndex reads the compressed index region, inflates it, decodes
// the object stream, and normalizes it into a usable index.
//
// Structural problems (corrupt stream, wrong shapes) are fatal and
// return ErrFormat. Per-path problems (invalid segments, duplicates)
// drop only the affected entry and are recorded as warnings.
func decodeIndex(src ByteSource, hdr Header, maxInflated int64) (*index, error) {
	region := io.NewSectionReader(src, int64(hdr.IndexOffset), src.Size()-int64(hdr.IndexOffset)) //nolint:gosec // offset validated against size in readHeader

	zr, err := zlib.NewReader(region)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt index: %v", ErrFormat, err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(io.LimitReader(zr, maxInflated+1))
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt index: %v", ErrFormat, err)
	}
	if int64(len(raw)) > maxInflated {
		return nil, fmt.Errorf("%w: inflated index exceeds %d bytes", ErrFormat, maxInflated)
	}

	top, err := pyobj.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed index: %v", ErrFormat, err)
	}
	return buildIndex(top, hdr.Key)
}

// buildIndex converts the decoded object graph into entries,
// deobfuscating offsets and lengths with key.
func buildIndex(top any, key uint32) (*index, error) {
	kvs, err := pyobj.Mapping(top)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed index: %v", ErrFormat, err)
	}

	idx := &index{entries: make(map[string]Entry, len(kvs))}
	for _, kv := range kvs {
		rawPath, err := pyobj.String(kv.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed index: %v", ErrFormat, err)
		}

		entry, err := decodeRecord(kv.Value, key)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed index: %s: %v", ErrFormat, rawPath, err)
		}

		path, ok := normalizePath(rawPath)
		if !ok {
			idx.warnings = append(idx.warnings, Warning{Path: rawPath, Reason: "invalid path segment"})
			continue
		}
		if _, dup := idx.entries[path]; dup {
			idx.warnings = append(idx.warnings, Warning{Path: path, Reason: "duplicate path"})
			continue
		}

		entry.Path = path
		idx.entries[path] = entry
		idx.paths = append(idx.paths, path)
	}

	sort.Strings(idx.paths)
	return idx, nil
}

// decodeRecord decodes one path's record list. Each record is an
// (offset, length) or (offset, length, prefix) tuple; archives store a
// single record per path and only the first is used.
func decodeRecord(v any, key uint32) (Entry, error) {
	records, err := pyobj.Sequence(v)
	if err != nil {
		return Entry{}, err
	}
	if len(records) == 0 {
		return Entry{}, fmt.Errorf("empty record list")
	}

	fields, err := pyobj.Sequence(records[0])
	if err != nil {
		return Entry{}, err
	}
	if len(fields) != 2 && len(fields) != 3 {
		return Entry{}, fmt.Errorf("record has %d fields", len(fields))
	}

	offset, err := pyobj.Uint64(fields[0])
	if err != nil {
		return Entry{}, err
	}
	length, err := pyobj.Uint64(fields[1])
	if err != nil {
		return Entry{}, err
	}

	var prefix []byte
	if len(fields) == 3 {
		prefix, err = pyobj.Bytes(fields[2])
		if err != nil {
			return Entry{}, err
		}
	}

	// Key zero is the identity transform (version 2.0 archives).
	return Entry{
		Offset: offset ^ uint64(key),
		Length: length ^ uint64(key),
		Prefix: prefix,
	}, nil
}

// normalizePath converts an archive path to forward-slash form and
// rejects anything that could leave the extraction root: empty paths
// and "", "." or ".." segments.
func normalizePath(p string) (string, bool) {
	p = strings.ReplaceAll(p, "\\", "/")
	if p == "" {
		return "", false
	}
	segments := strings.Split(p, "/")
	for _, seg := range segments {
		switch seg {
		case "", ".", "..":
			return "", false
		}
	}
	return strings.Join(segments, "/"), true
}

// Warnings returns the non-fatal conditions recorded while decoding
// the index: dropped invalid paths and excluded duplicates.
func (a *Archive) Warnings() []Warning {
	return a.idx.warnings
}
