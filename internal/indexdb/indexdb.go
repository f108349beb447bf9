// Package indexdb implements the concurrently readable, per-file
// inverted index described in SPEC_FULL.md §4.3. It owns no knowledge of
// the filesystem or of tokenization; it only stores and queries
// SingleFileIndex values keyed by absolute path, under revision-checked
// replacement discipline.
package indexdb

import (
	"sort"
	"sync"
	"time"
)

// FilePosition is a single occurrence of a token: an absolute file path
// plus a half-open byte range within that file's contents at the
// revision the index currently holds. Immutable.
type FilePosition struct {
	FilePath string
	Start    int
	End      int
}

// SingleFileIndex is the complete index for one file at one revision.
// Tokens maps a token string to its ordered occurrences within the
// file. Revision is the wall-clock instant the Loader finished reading
// the contents this index was built from, used to order replacements.
// Never mutated in place — always replaced wholesale.
type SingleFileIndex struct {
	Tokens   map[string][]FilePosition
	Revision time.Time
}

// IndexDb is a mapping from absolute path to SingleFileIndex, owned by
// the system for the process lifetime. A fair sync.RWMutex guards the
// outer map; each per-file entry is an immutable value swapped as a
// whole, so a reader either observes a file's old or new index, never a
// partial mixture.
type IndexDb struct {
	mu    sync.RWMutex
	files map[string]SingleFileIndex
}

// New returns an empty IndexDb.
func New() *IndexDb {
	return &IndexDb{files: make(map[string]SingleFileIndex)}
}

// CreateFileIndex installs or replaces the entry for path unconditionally.
func (db *IndexDb) CreateFileIndex(path string, entry SingleFileIndex) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.files[path] = entry
}

// ModifyFileIndex installs entry only if an existing entry is present
// and its Revision is <= the new entry's Revision; it reports whether
// the replacement was applied. No existing entry, or a strictly newer
// existing revision, causes the update to be silently dropped (P7).
func (db *IndexDb) ModifyFileIndex(path string, entry SingleFileIndex) bool {
	db.mu.Lock()
	defer db.mu.Unlock()

	existing, ok := db.files[path]
	if !ok || existing.Revision.After(entry.Revision) {
		return false
	}
	db.files[path] = entry
	return true
}

// DeleteFileIndex removes the entry for path if present; a no-op
// otherwise.
func (db *IndexDb) DeleteFileIndex(path string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.files, path)
}

// Query returns every FilePosition for the exact token across every
// currently indexed file, in unspecified but stable order for a given
// snapshot. Token matching is exact string equality: no case folding,
// no normalization. An empty token returns an empty slice and is not an
// error.
func (db *IndexDb) Query(token string) []FilePosition {
	if token == "" {
		return nil
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	var out []FilePosition
	for _, idx := range db.files {
		positions, ok := idx.Tokens[token]
		if !ok {
			continue
		}
		out = append(out, positions...)
	}

	// Stable order for a given snapshot: sort by path then by start
	// offset, so repeated queries against an unchanged snapshot are
	// reproducible for callers and tests.
	sort.Slice(out, func(i, j int) bool {
		if out[i].FilePath != out[j].FilePath {
			return out[i].FilePath < out[j].FilePath
		}
		return out[i].Start < out[j].Start
	})
	return out
}

// Paths returns the set of currently indexed file paths. Not part of
// the core spec contract; used by the demo CLI to report which files
// appeared or disappeared between polls.
func (db *IndexDb) Paths() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	paths := make([]string, 0, len(db.files))
	for p := range db.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Len reports the number of currently indexed files.
func (db *IndexDb) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.files)
}
