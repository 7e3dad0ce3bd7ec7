package rpa

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Result is the per-entry outcome of an extraction batch.
type Result struct {
	Path         string
	BytesWritten uint64
	Err          error
}

// OK reports whether the entry was extracted successfully.
func (r Result) OK() bool {
	return r.Err == nil
}

// ExtractAll extracts every entry in the archive under destRoot.
//
// The returned error is nil only when every entry succeeded; per-entry
// failures are reported in the results and never abort siblings.
func (a *Archive) ExtractAll(ctx context.Context, destRoot string) ([]Result, error) {
	return a.Extract(ctx, nil, NewFileSink(destRoot))
}

// ExtractSelected extracts the given archive paths under destRoot.
// Paths absent from the index yield a Result wrapping ErrNotFound
// without aborting the batch.
func (a *Archive) ExtractSelected(ctx context.Context, paths []string, destRoot string) ([]Result, error) {
	return a.Extract(ctx, paths, NewFileSink(destRoot))
}

// Extract runs an extraction batch against an arbitrary sink.
//
// A nil paths selection means every entry, in path order. Entries are
// independent byte ranges in a read-only file, so the batch fans out
// over a bounded worker pool (WithWorkers, default GOMAXPROCS); each
// worker performs its own positioned reads.
//
// Cancelling ctx stops dispatching new entries but lets in-flight ones
// finish; the partial result set covers dispatched entries only and
// the context error is returned.
func (a *Archive) Extract(ctx context.Context, paths []string, sink Sink) ([]Result, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}

	jobs := a.selectEntries(paths)
	results := make([]Result, len(jobs))

	workers := a.workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g := new(errgroup.Group)
	g.SetLimit(workers)

	dispatched := 0
	for i, j := range jobs {
		if ctx.Err() != nil {
			break
		}
		dispatched = i + 1

		if j.err != nil {
			results[i] = Result{Path: j.path, Err: j.err}
			continue
		}
		entry := j.entry
		g.Go(func() error {
			results[i] = a.extractEntry(entry, sink)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers never return errors; outcomes live in results

	results = results[:dispatched]
	for _, r := range results {
		if r.Err != nil {
			a.log().Warn("extraction failed", "path", r.Path, "error", r.Err)
		} else {
			a.log().Debug("extracted", "path", r.Path, "bytes", r.BytesWritten)
		}
	}

	if err := ctx.Err(); err != nil {
		return results, err
	}
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return results, fmt.Errorf("rpa: %d of %d entries failed", failed, len(results))
	}
	return results, nil
}

// job is one unit of extraction work. err is pre-set for requested
// paths missing from the index.
type job struct {
	path  string
	entry Entry
	err   error
}

// selectEntries resolves a selection into jobs. Nil means all entries.
func (a *Archive) selectEntries(paths []string) []job {
	if paths == nil {
		jobs := make([]job, 0, len(a.idx.paths))
		for _, path := range a.idx.paths {
			jobs = append(jobs, job{path: path, entry: a.idx.entries[path]})
		}
		return jobs
	}

	jobs := make([]job, 0, len(paths))
	for _, path := range paths {
		entry, ok := a.idx.entries[path]
		if !ok {
			jobs = append(jobs, job{path: path, err: fmt.Errorf("%w: %s", ErrNotFound, path)})
			continue
		}
		jobs = append(jobs, job{path: path, entry: entry})
	}
	return jobs
}

// extractEntry reconstructs one entry's content into the sink:
// the index prefix bytes followed by a positioned read of the body.
func (a *Archive) extractEntry(entry Entry, sink Sink) Result {
	result := Result{Path: entry.Path}

	body, ok := entry.bodyLen()
	if !ok {
		result.Err = fmt.Errorf("%w: %s: length %d smaller than %d prefix bytes",
			ErrFormat, entry.Path, entry.Length, len(entry.Prefix))
		return result
	}
	if err := a.checkBodyRange(entry.Offset, body); err != nil {
		result.Err = fmt.Errorf("%s: %w", entry.Path, err)
		return result
	}

	w, err := sink.Writer(entry)
	if err != nil {
		result.Err = fmt.Errorf("%s: %w", entry.Path, err)
		return result
	}

	if err := a.writeContent(w, entry, body); err != nil {
		_ = w.Discard() //nolint:errcheck // best-effort cleanup
		result.Err = fmt.Errorf("%s: %w", entry.Path, err)
		return result
	}
	if err := w.Commit(); err != nil {
		result.Err = fmt.Errorf("%s: commit: %w", entry.Path, err)
		return result
	}

	result.BytesWritten = entry.Length
	return result
}

// writeContent writes prefix plus body bytes to w.
func (a *Archive) writeContent(w Committer, entry Entry, body uint64) error {
	if len(entry.Prefix) > 0 {
		if _, err := w.Write(entry.Prefix); err != nil {
			return err
		}
	}
	if body == 0 {
		return nil
	}

	buf := make([]byte, body)
	n, err := a.src.ReadAt(buf, int64(entry.Offset)) //nolint:gosec // range checked in checkBodyRange
	if n != len(buf) {
		return fmt.Errorf("%w: short read (%d of %d bytes): %v", ErrRead, n, len(buf), err)
	}
	_, err = w.Write(buf)
	return err
}

// checkBodyRange verifies the entry's body range lies within the
// archive, so a bad index fails cleanly instead of reading past EOF.
func (a *Archive) checkBodyRange(offset, body uint64) error {
	size := uint64(a.src.Size())
	if offset > size || body > size-offset {
		return fmt.Errorf("%w: byte range [%d, %d) past end of archive (%d bytes)",
			ErrRead, offset, offset+body, size)
	}
	return nil
}

// ReadFile extracts a single entry into memory.
//
// It returns ErrNotFound when the path is absent from the index. The
// content is the prefix bytes followed by the body read.
func (a *Archive) ReadFile(path string) ([]byte, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}

	entry, ok := a.idx.entries[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	body, ok := entry.bodyLen()
	if !ok {
		return nil, fmt.Errorf("%w: %s: length %d smaller than %d prefix bytes",
			ErrFormat, path, entry.Length, len(entry.Prefix))
	}
	if err := a.checkBodyRange(entry.Offset, body); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	content := make([]byte, entry.Length)
	copy(content, entry.Prefix)
	if body > 0 {
		n, err := a.src.ReadAt(content[len(entry.Prefix):], int64(entry.Offset)) //nolint:gosec // range checked above
		if uint64(n) != body {
			return nil, fmt.Errorf("%s: %w: short read (%d of %d bytes): %v", path, ErrRead, n, body, err)
		}
	}
	return content, nil
}
