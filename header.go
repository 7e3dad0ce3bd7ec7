package rpa

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// maxHeaderLine bounds the first-line scan. The longest known header
// ("RPA-3.0 " + 16 hex + " " + 8 hex + "\n") is 34 bytes; anything
// without a newline inside this window is not an RPA archive.
const maxHeaderLine = 64

// Header holds the parsed archive header.
type Header struct {
	// Version is the version string advertised by the magic line, e.g.
	// "3.0". Unknown versions are decoded via the compatibility rules in
	// parseHeader; Version preserves what the archive claimed.
	Version string

	// IndexOffset is the absolute file offset of the compressed index.
	IndexOffset uint64

	// Key is the per-archive obfuscation key XORed into index offsets
	// and lengths. Zero for version 2.0 archives (identity transform).
	Key uint32
}

// readHeader reads and parses the archive's first line.
func readHeader(src ByteSource) (Header, error) {
	buf := make([]byte, maxHeaderLine)
	n, err := src.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return Header{}, fmt.Errorf("%w: %v", ErrRead, err)
	}
	buf = buf[:n]

	nl := bytes.IndexByte(buf, '\n')
	if nl < 0 {
		return Header{}, fmt.Errorf("%w: missing header line", ErrFormat)
	}

	hdr, err := parseHeader(string(buf[:nl]))
	if err != nil {
		return Header{}, err
	}
	if hdr.IndexOffset > uint64(src.Size()) {
		return Header{}, fmt.Errorf("%w: index offset %#x beyond archive size %d", ErrFormat, hdr.IndexOffset, src.Size())
	}
	return hdr, nil
}

// parseHeader parses a magic line of the form
//
//	RPA-2.0 <16-hex offset>
//	RPA-3.0 <16-hex offset> <8-hex key>
//
// Version 4.0 uses the 3.0 layout. Unknown RPA-N.M versions fall back
// to the 3.0 layout when a key field is present and to 2.0 otherwise;
// the byte layout of future versions is not guaranteed, but this
// matches how other extractors treat them.
func parseHeader(line string) (Header, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 || len(fields) > 3 {
		return Header{}, fmt.Errorf("%w: bad magic line %q", ErrFormat, line)
	}

	version, ok := strings.CutPrefix(fields[0], "RPA-")
	if !ok || !validVersion(version) {
		return Header{}, fmt.Errorf("%w: bad magic %q", ErrFormat, fields[0])
	}

	offset, err := strconv.ParseUint(fields[1], 16, 64)
	if err != nil {
		return Header{}, fmt.Errorf("%w: bad index offset %q", ErrFormat, fields[1])
	}

	hdr := Header{Version: version, IndexOffset: offset}
	if len(fields) == 3 {
		key, err := strconv.ParseUint(fields[2], 16, 32)
		if err != nil {
			return Header{}, fmt.Errorf("%w: bad obfuscation key %q", ErrFormat, fields[2])
		}
		hdr.Key = uint32(key)
	}
	return hdr, nil
}

// validVersion reports whether s looks like N.M with decimal components.
func validVersion(s string) bool {
	major, minor, ok := strings.Cut(s, ".")
	if !ok || major == "" || minor == "" {
		return false
	}
	for _, part := range [2]string{major, minor} {
		for _, r := range part {
			if r < '0' || r > '9' {
				return false
			}
		}
	}
	return true
}
