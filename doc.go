// Package rpa reads Ren'Py RPA archives.
//
// An RPA archive is a single container file: a one-line ASCII header,
// the packed file bodies, and a zlib-compressed pickle-encoded index
// mapping archive paths to byte ranges. Offsets and lengths in the
// index are XOR-obfuscated with a per-archive key carried in the
// header (version 2.0 archives use no key).
//
// The package is strictly read-only. Opening an archive parses the
// header and loads the full index; after that, listing and extraction
// operate on the in-memory index and positioned reads against the
// archive file, so an Archive is safe for concurrent use.
//
// # Quick Start
//
// Extract an archive to a directory:
//
//	a, err := rpa.Open("game/archive.rpa")
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//	results, err := a.ExtractAll(ctx, "./out")
//
// Browse without touching file bodies:
//
//	for info := range a.Entries() {
//	    fmt.Println(info.Path, info.Size)
//	}
//
// Archives come from third-party game files, so all input is treated
// as untrusted: malformed headers or indexes fail with ErrFormat,
// paths that would escape the destination fail with ErrPath, and a
// single bad entry never aborts the rest of a batch.
package rpa
