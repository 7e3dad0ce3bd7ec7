package rpa

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/require"
)

// pickleBuf assembles a protocol-2 pickle stream opcode by opcode, so
// fixtures exercise the same wire format real archives carry without
// shelling out to Python.
type pickleBuf struct {
	bytes.Buffer
}

func (b *pickleBuf) proto() {
	b.Write([]byte{0x80, 0x02})
}

func (b *pickleBuf) mark()      { b.WriteByte('(') }
func (b *pickleBuf) emptyDict() { b.WriteByte('}') }
func (b *pickleBuf) emptyList() { b.WriteByte(']') }
func (b *pickleBuf) appendOp()  { b.WriteByte('a') }
func (b *pickleBuf) setItems()  { b.WriteByte('u') }
func (b *pickleBuf) tuple2()    { b.WriteByte(0x86) }
func (b *pickleBuf) tuple3()    { b.WriteByte(0x87) }
func (b *pickleBuf) stop()      { b.WriteByte('.') }

// binUnicode writes a BINUNICODE string (Python 3 str).
func (b *pickleBuf) binUnicode(s string) {
	b.WriteByte('X')
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	b.Write(lenBuf[:])
	b.WriteString(s)
}

// shortBinString writes a SHORT_BINSTRING (Python 2 str).
func (b *pickleBuf) shortBinString(s []byte) {
	b.WriteByte('U')
	b.WriteByte(byte(len(s)))
	b.Write(s)
}

// shortBinBytes writes a SHORT_BINBYTES (Python 3 bytes).
func (b *pickleBuf) shortBinBytes(s []byte) {
	b.WriteByte('C')
	b.WriteByte(byte(len(s)))
	b.Write(s)
}

// putUint writes an integer as BININT when it fits in a signed 32-bit
// value and as LONG1 otherwise, matching how pickle protocol 2 encodes
// archive offsets.
func (b *pickleBuf) putUint(v uint64) {
	if v < 1<<31 {
		b.WriteByte('J')
		var intBuf [4]byte
		binary.LittleEndian.PutUint32(intBuf[:], uint32(v))
		b.Write(intBuf[:])
		return
	}
	// LONG1: minimal little-endian two's complement, padded with a zero
	// byte when the top bit would flip the sign.
	var payload []byte
	for x := v; x > 0; x >>= 8 {
		payload = append(payload, byte(x))
	}
	if payload[len(payload)-1]&0x80 != 0 {
		payload = append(payload, 0)
	}
	b.WriteByte(0x8a)
	b.WriteByte(byte(len(payload)))
	b.Write(payload)
}

// indexRecord is one pickled index record for fixture archives.
type indexRecord struct {
	path   string
	offset uint64
	length uint64
	prefix []byte
}

// pickleIndex encodes records as the archive index object: a dict of
// path -> [(offset, length[, prefix])], obfuscated with key.
func pickleIndex(records []indexRecord, key uint32) []byte {
	var b pickleBuf
	b.proto()
	b.emptyDict()
	b.mark()
	for _, r := range records {
		b.binUnicode(r.path)
		b.emptyList()
		b.putUint(r.offset ^ uint64(key))
		b.putUint(r.length ^ uint64(key))
		if r.prefix != nil {
			b.shortBinBytes(r.prefix)
			b.tuple3()
		} else {
			b.tuple2()
		}
		b.appendOp()
	}
	b.setItems()
	b.stop()
	return b.Bytes()
}

// deflate zlib-compresses data the way archives store their index.
func deflate(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// headerLen returns the byte length of a magic line for the version.
func headerLen(version string, withKey bool) int {
	n := len("RPA-") + len(version) + 1 + 16 + 1
	if withKey {
		n += 8 + 1
	}
	return n
}

// assembleArchive concatenates header line, body, and compressed
// index into complete archive bytes. indexOffset must equal
// headerLen + len(body).
func assembleArchive(t *testing.T, version string, withKey bool, key uint32, body, compressedIndex []byte) []byte {
	t.Helper()
	offset := headerLen(version, withKey) + len(body)
	header := fmt.Sprintf("RPA-%s %016x", version, offset)
	if withKey {
		header += fmt.Sprintf(" %08x", key)
	}
	header += "\n"
	require.Len(t, header, headerLen(version, withKey))

	var buf bytes.Buffer
	buf.WriteString(header)
	buf.Write(body)
	buf.Write(compressedIndex)
	return buf.Bytes()
}

// testFile declares one archive member for buildArchive. The first
// prefixLen bytes of content are stored in the index; the rest in the
// archive body.
type testFile struct {
	path      string
	content   []byte
	prefixLen int
}

// buildArchive lays out files into a complete archive byte image.
func buildArchive(t *testing.T, version string, withKey bool, key uint32, files []testFile) []byte {
	t.Helper()
	var body bytes.Buffer
	records := make([]indexRecord, 0, len(files))
	base := headerLen(version, withKey)
	for _, f := range files {
		require.LessOrEqual(t, f.prefixLen, len(f.content))
		rec := indexRecord{
			path:   f.path,
			offset: uint64(base + body.Len()),
			length: uint64(len(f.content)),
		}
		if f.prefixLen > 0 {
			rec.prefix = f.content[:f.prefixLen]
		}
		body.Write(f.content[f.prefixLen:])
		records = append(records, rec)
	}
	return assembleArchive(t, version, withKey, key, body.Bytes(), deflate(t, pickleIndex(records, key)))
}

// writeArchive writes archive bytes to a temp file and returns its path.
func writeArchive(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.rpa")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// bytesSource is an in-memory ByteSource.
type bytesSource struct {
	r *bytes.Reader
}

func newBytesSource(data []byte) *bytesSource {
	return &bytesSource{r: bytes.NewReader(data)}
}

func (s *bytesSource) ReadAt(p []byte, off int64) (int, error) {
	return s.r.ReadAt(p, off)
}

func (s *bytesSource) Size() int64 {
	return s.r.Size()
}

// countingSource wraps a ByteSource and counts bytes served, letting
// tests assert that listing performs no body reads.
type countingSource struct {
	src       ByteSource
	bytesRead atomic.Int64
}

func (s *countingSource) ReadAt(p []byte, off int64) (int, error) {
	n, err := s.src.ReadAt(p, off)
	s.bytesRead.Add(int64(n))
	return n, err
}

func (s *countingSource) Size() int64 {
	return s.src.Size()
}
