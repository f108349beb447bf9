package indexdb

import (
	"sync"
	"testing"
	"time"
)

func entryAt(rev time.Time, tok string, start, end int, path string) SingleFileIndex {
	return SingleFileIndex{
		Tokens:   map[string][]FilePosition{tok: {{FilePath: path, Start: start, End: end}}},
		Revision: rev,
	}
}

func TestCreateFileIndexUnconditionalReplace(t *testing.T) {
	db := New()
	base := time.Unix(0, 0)

	db.CreateFileIndex("/a", entryAt(base.Add(10*time.Second), "hello", 0, 5, "/a"))
	if got := db.Query("hello"); len(got) != 1 {
		t.Fatalf("expected one hit, got %v", got)
	}

	// Create replaces unconditionally, even with an "older" revision.
	db.CreateFileIndex("/a", entryAt(base.Add(1*time.Second), "bye", 0, 3, "/a"))
	if got := db.Query("hello"); len(got) != 0 {
		t.Fatalf("expected create to fully replace entry, got %v", got)
	}
	if got := db.Query("bye"); len(got) != 1 {
		t.Fatalf("expected replaced entry present, got %v", got)
	}
}

// Scenario 6 from spec.md §8: revision replay.
func TestModifyFileIndexRevisionMonotonicity(t *testing.T) {
	db := New()
	base := time.Unix(0, 0)

	db.CreateFileIndex("/p", entryAt(base.Add(10*time.Second), "e1", 0, 2, "/p"))

	if applied := db.ModifyFileIndex("/p", entryAt(base.Add(5*time.Second), "e2", 0, 2, "/p")); applied {
		t.Fatalf("modify with older revision should not apply")
	}
	if got := db.Query("e1"); len(got) != 1 {
		t.Fatalf("expected e1 still present after stale modify, got %v", got)
	}
	if got := db.Query("e2"); len(got) != 0 {
		t.Fatalf("expected e2 not present, got %v", got)
	}

	if applied := db.ModifyFileIndex("/p", entryAt(base.Add(20*time.Second), "e3", 0, 2, "/p")); !applied {
		t.Fatalf("modify with newer revision should apply")
	}
	if got := db.Query("e3"); len(got) != 1 {
		t.Fatalf("expected e3 present after fresh modify, got %v", got)
	}
	if got := db.Query("e1"); len(got) != 0 {
		t.Fatalf("expected e1 replaced, got %v", got)
	}
}

func TestModifyFileIndexNoExistingEntry(t *testing.T) {
	db := New()
	if applied := db.ModifyFileIndex("/new", entryAt(time.Now(), "x", 0, 1, "/new")); applied {
		t.Fatalf("modify with no existing entry should not install it")
	}
	if got := db.Query("x"); len(got) != 0 {
		t.Fatalf("expected nothing installed, got %v", got)
	}
}

func TestDeleteFileIndex(t *testing.T) {
	db := New()
	db.CreateFileIndex("/a", entryAt(time.Now(), "word", 0, 4, "/a"))
	db.DeleteFileIndex("/a")
	if got := db.Query("word"); len(got) != 0 {
		t.Fatalf("expected no hits after delete, got %v", got)
	}
	// Deleting an absent path is a no-op, not an error.
	db.DeleteFileIndex("/never-existed")
}

func TestQueryEmptyTokenIsEmptyNotError(t *testing.T) {
	db := New()
	db.CreateFileIndex("/a", entryAt(time.Now(), "word", 0, 4, "/a"))
	if got := db.Query(""); got != nil {
		t.Fatalf("expected nil for empty query, got %v", got)
	}
}

func TestQueryAcrossMultipleFiles(t *testing.T) {
	db := New()
	db.CreateFileIndex("/a.txt", entryAt(time.Now(), "world", 6, 11, "/a.txt"))
	db.CreateFileIndex("/b.txt", entryAt(time.Now(), "world", 0, 5, "/b.txt"))

	got := db.Query("world")
	if len(got) != 2 {
		t.Fatalf("expected 2 hits across files, got %v", got)
	}
}

// P8: concurrent readers/writers never observe a partial/invalid range.
func TestConcurrentSafety(t *testing.T) {
	db := New()
	const iterations = 500

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			rev := time.Unix(0, int64(i))
			db.CreateFileIndex("/f", entryAt(rev, "tok", 0, 3, "/f"))
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			for _, pos := range db.Query("tok") {
				if pos.Start != 0 || pos.End != 3 || pos.FilePath != "/f" {
					t.Errorf("observed invalid position %+v", pos)
				}
			}
		}
	}()

	wg.Wait()
}

func TestPathsAndLen(t *testing.T) {
	db := New()
	db.CreateFileIndex("/b", entryAt(time.Now(), "x", 0, 1, "/b"))
	db.CreateFileIndex("/a", entryAt(time.Now(), "y", 0, 1, "/a"))

	if got := db.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
	if got := db.Paths(); len(got) != 2 || got[0] != "/a" || got[1] != "/b" {
		t.Fatalf("Paths() = %v, want sorted [/a /b]", got)
	}
}
