// Package indexer binds a fsload.Loader's output to an indexdb.IndexDb
// and performs the initial synchronous scan described in
// SPEC_FULL.md §4.4. It is the glue component: no new concurrency or
// race-avoidance logic lives here, only dispatch.
package indexer

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/heinzelotto/fileindex/internal/fserrors"
	"github.com/heinzelotto/fileindex/internal/fsload"
	"github.com/heinzelotto/fileindex/internal/fswatch"
	"github.com/heinzelotto/fileindex/internal/indexdb"
	"github.com/heinzelotto/fileindex/internal/tokenize"
)

// Indexer performs the initial walk of root and then keeps the IndexDb
// in sync with a Loader's event stream for the lifetime of the process.
type Indexer struct {
	root      string
	loader    *fsload.Loader
	db        *indexdb.IndexDb
	tokenizer tokenize.Tokenizer
	logger    *slog.Logger

	scanDone chan struct{}
	wg       sync.WaitGroup
}

// New constructs an Indexer rooted at root. If tokenizer is nil,
// tokenize.Default is used. The initial scan runs synchronously in a
// background goroutine started by New; use AwaitInitialScan to block
// until it completes.
func New(root string, watchCfg fswatch.Config, loadCfg fsload.Config, tokenizer tokenize.Tokenizer) (*Indexer, error) {
	if tokenizer == nil {
		tokenizer = tokenize.Default
	}

	loader, err := fsload.New(root, watchCfg, loadCfg)
	if err != nil {
		return nil, err
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		absRoot = root
	}

	idx := &Indexer{
		root:      absRoot,
		loader:    loader,
		db:        indexdb.New(),
		tokenizer: tokenizer,
		logger:    slog.Default().With("component", "indexer"),
		scanDone:  make(chan struct{}),
	}

	idx.wg.Add(1)
	go idx.run()

	return idx, nil
}

// DB exposes the underlying IndexDb for direct querying.
func (idx *Indexer) DB() *indexdb.IndexDb { return idx.db }

// Query returns every FilePosition for the exact token across every
// currently indexed file.
func (idx *Indexer) Query(token string) []indexdb.FilePosition {
	return idx.db.Query(token)
}

// AwaitInitialScan blocks until the initial walk has completed
// (regardless of whether individual files succeeded), or until ctx is
// done. Safe to call from any number of goroutines, any number of
// times.
func (idx *Indexer) AwaitInitialScan(ctx context.Context) error {
	select {
	case <-idx.scanDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels the Indexer, cascading the shutdown to its Loader and
// the Loader's Watcher, and waits for the dispatch goroutine to exit.
func (idx *Indexer) Close() error {
	err := idx.loader.Close()
	idx.wg.Wait()
	return err
}

func (idx *Indexer) run() {
	defer idx.wg.Done()

	idx.initialScan()
	close(idx.scanDone)

	for ln := range idx.loader.Notifications() {
		idx.apply(ln)
	}
}

// initialScan walks the tree synchronously; for each regular file it
// attempts a UTF-8 read, tokenizes, and installs the result
// unconditionally. Decode failures are logged and skipped. Callers may
// query during the scan and will see a monotonically growing partial
// view, since each CreateFileIndex call is independently atomic.
func (idx *Indexer) initialScan() {
	err := filepath.WalkDir(idx.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			idx.logger.Warn("walk error during initial scan", "path", path, "error", err)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			idx.logger.Warn("skipping file during initial scan", "error", (&fserrors.TransientFsError{Path: path, Err: err}).Error())
			return nil
		}
		if !utf8.Valid(data) {
			idx.logger.Debug("skipping non-UTF-8 file during initial scan", "error", (&fserrors.EncodingError{Path: path}).Error())
			return nil
		}

		idx.db.CreateFileIndex(path, idx.buildEntry(path, string(data), time.Now()))
		return nil
	})
	if err != nil {
		idx.logger.Error("initial scan walk failed", "root", idx.root, "error", err)
	}
}

func (idx *Indexer) apply(ln fsload.LoadedNotification) {
	switch ln.Kind {
	case fswatch.Created:
		idx.db.CreateFileIndex(ln.Path, idx.buildEntry(ln.Path, *ln.Text, *ln.ReadAt))
	case fswatch.Modified:
		idx.db.ModifyFileIndex(ln.Path, idx.buildEntry(ln.Path, *ln.Text, *ln.ReadAt))
	case fswatch.Deleted:
		idx.db.DeleteFileIndex(ln.Path)
	}
}

func (idx *Indexer) buildEntry(path, text string, revision time.Time) indexdb.SingleFileIndex {
	ranges := idx.tokenizer(text)
	tokens := make(map[string][]indexdb.FilePosition, len(ranges))
	for tok, rs := range ranges {
		positions := make([]indexdb.FilePosition, len(rs))
		for i, r := range rs {
			positions[i] = indexdb.FilePosition{FilePath: path, Start: r.Start, End: r.End}
		}
		tokens[tok] = positions
	}
	return indexdb.SingleFileIndex{Tokens: tokens, Revision: revision}
}
