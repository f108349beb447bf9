package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/heinzelotto/fileindex/internal/fsload"
	"github.com/heinzelotto/fileindex/internal/fswatch"
)

func newTestIndexer(t *testing.T, root string) *Indexer {
	t.Helper()
	idx, err := New(root, fswatch.Config{}, fsload.Config{DelayBeforeRead: 50 * time.Millisecond, Workers: 4}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func awaitScan(t *testing.T, idx *Indexer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := idx.AwaitInitialScan(ctx); err != nil {
		t.Fatalf("AwaitInitialScan: %v", err)
	}
}

func waitForQuery(t *testing.T, idx *Indexer, token string, want int, timeout time.Duration) []string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		got := idx.Query(token)
		if len(got) == want {
			paths := make([]string, len(got))
			for i, p := range got {
				paths[i] = p.FilePath
			}
			return paths
		}
		if time.Now().After(deadline) {
			t.Fatalf("query(%q) = %d results, want %d (last: %v)", token, len(got), want, got)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// Scenario 1 from spec.md §8.
func TestCreateAndQuery(t *testing.T) {
	root := t.TempDir()
	idx := newTestIndexer(t, root)
	awaitScan(t, idx)

	path := filepath.Join(root, "a.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	waitForQuery(t, idx, "world", 1, 2*time.Second)
	if got := idx.Query("missing"); len(got) != 0 {
		t.Fatalf("expected no hits for missing token, got %v", got)
	}
}

// Scenario 2 from spec.md §8.
func TestInitialScanThenSecondFile(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	idx := newTestIndexer(t, root)
	awaitScan(t, idx)

	if got := idx.Query("world"); len(got) != 1 {
		t.Fatalf("expected 1 hit after initial scan, got %v", got)
	}

	if err := os.WriteFile(filepath.Join(root, "b.txt"), []byte("world peace"), 0o644); err != nil {
		t.Fatal(err)
	}

	waitForQuery(t, idx, "world", 2, 10*time.Second)
}

// Scenario 5 from spec.md §8.
func TestDeleteRemovesFromIndex(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	idx := newTestIndexer(t, root)
	awaitScan(t, idx)
	waitForQuery(t, idx, "world", 1, 2*time.Second)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	waitForQuery(t, idx, "world", 0, 2*time.Second)
}

// P5: every regular UTF-8 file present at scan time is represented.
func TestInitialScanCompleteness(t *testing.T) {
	root := t.TempDir()
	for i, content := range []string{"alpha one", "beta two", "gamma three"} {
		name := filepath.Join(root, filepath.Base(t.Name())+string(rune('0'+i))+".txt")
		if err := os.WriteFile(name, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	// Non-UTF-8 file must be skipped, not crash the scan.
	if err := os.WriteFile(filepath.Join(root, "binary.bin"), []byte{0xff, 0xfe, 0x00, 0x80}, 0o644); err != nil {
		t.Fatal(err)
	}

	idx := newTestIndexer(t, root)
	awaitScan(t, idx)

	if got := idx.Query("alpha"); len(got) != 1 {
		t.Fatalf("expected alpha indexed, got %v", got)
	}
	if got := idx.Query("gamma"); len(got) != 1 {
		t.Fatalf("expected gamma indexed, got %v", got)
	}
}

func TestAwaitInitialScanRepeatable(t *testing.T) {
	root := t.TempDir()
	idx := newTestIndexer(t, root)

	for i := 0; i < 3; i++ {
		awaitScan(t, idx)
	}
}
