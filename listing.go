package rpa

import "iter"

// EntryInfo describes one archive entry for browsing.
type EntryInfo struct {
	Path string
	// Size is the logical (reconstructed) file size: prefix bytes plus
	// the bytes read from the archive body.
	Size uint64
}

// Entries returns an iterator over archive entries sorted by path.
//
// The sequence is computed from the in-memory index and never reads
// archive body bytes, so it is cheap and restartable: ranging over it
// again replays the same entries.
func (a *Archive) Entries() iter.Seq[EntryInfo] {
	return func(yield func(EntryInfo) bool) {
		for _, path := range a.idx.paths {
			entry := a.idx.entries[path]
			if !yield(EntryInfo{Path: path, Size: entry.Length}) {
				return
			}
		}
	}
}

// Len returns the number of usable entries in the archive.
func (a *Archive) Len() int {
	return len(a.idx.paths)
}

// Entry returns the index entry for the given normalized path.
func (a *Archive) Entry(path string) (Entry, bool) {
	entry, ok := a.idx.entries[path]
	return entry, ok
}
