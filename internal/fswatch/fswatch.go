// Package fswatch implements the recursive directory watcher described
// in SPEC_FULL.md §4.1. It copes with fsnotify only watching individual
// directories by dynamically re-registering subdirectories as they are
// created or removed, and by synthesizing back-fill Created events for
// files discovered inside a newly created subtree.
package fswatch

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/heinzelotto/fileindex/internal/fserrors"
)

// EventKind is the closed set of filesystem changes the Watcher
// forwards. Directory create/delete is consumed internally and never
// appears here.
type EventKind int

const (
	Created EventKind = iota
	Modified
	Deleted
)

func (k EventKind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Notification is a raw filesystem event for a single regular file.
// ModTime is nil for Deleted.
type Notification struct {
	Kind    EventKind
	Path    string
	ModTime *time.Time
}

// Config tunes ignore-pattern filtering. Directories and files matching
// any pattern are never registered with the OS watch service nor
// forwarded, mirroring the gitignore-style filtering the domain stack
// carries per SPEC_FULL.md §6.1.
type Config struct {
	IgnorePatterns []string
}

// DefaultIgnorePatterns mirrors the teacher's index.DefaultWatcherConfig
// ignore list, trimmed to the entries relevant to a generic text index
// rather than a semantic-search cache.
func DefaultIgnorePatterns() []string {
	return []string{
		".git/**",
		"node_modules/**",
		"*~",
		".#*",
		"*.swp",
	}
}

// Watcher delivers a stream of Notification for all regular files under
// a root directory, recursively, for the lifetime of the Watcher.
type Watcher struct {
	root   string
	fsw    *fsnotify.Watcher
	ignore *gitignore.GitIgnore
	logger *slog.Logger

	// watchedFolders and needsReregister are single-owner: touched only
	// from the run() goroutine, never from another goroutine.
	watchedFolders  map[string]struct{}
	needsReregister bool

	out       chan Notification
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New constructs a Watcher rooted at root. root must exist and be a
// directory, or a *fserrors.ConfigError is returned.
func New(root string, cfg Config) (*Watcher, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, &fserrors.ConfigError{Path: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &fserrors.ConfigError{Path: root, Err: os.ErrInvalid}
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, &fserrors.ConfigError{Path: root, Err: err}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &fserrors.ConfigError{Path: root, Err: err}
	}

	w := &Watcher{
		root:           absRoot,
		fsw:            fsw,
		ignore:         gitignore.CompileIgnoreLines(cfg.IgnorePatterns...),
		logger:         slog.Default().With("component", "fswatch"),
		watchedFolders: make(map[string]struct{}),
		out:            make(chan Notification),
		done:           make(chan struct{}),
	}

	if err := w.registerTree(absRoot); err != nil {
		fsw.Close()
		return nil, &fserrors.ConfigError{Path: root, Err: err}
	}

	w.wg.Add(1)
	go w.run()

	return w, nil
}

// Notifications returns the receive-only stream of raw events.
func (w *Watcher) Notifications() <-chan Notification { return w.out }

// Close cancels the watcher, waits for its worker to exit, and releases
// the underlying OS watch resources.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	w.wg.Wait()
	return w.fsw.Close()
}

func (w *Watcher) registerTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("walk error during registration", "path", p, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.isIgnored(p) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			w.logger.Warn("failed to watch directory", "path", p, "error", err)
			return nil
		}
		w.watchedFolders[p] = struct{}{}
		return nil
	})
}

func (w *Watcher) isIgnored(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		rel = path
	}
	return w.ignore.MatchesPath(rel)
}

func (w *Watcher) run() {
	defer w.wg.Done()
	defer close(w.out)

	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watch service error", "error", (&fserrors.WatchServiceFailure{Err: err}).Error())
		}

		if w.needsReregister {
			w.reregister()
			w.needsReregister = false
		}
	}
}

func (w *Watcher) reregister() {
	for p := range w.watchedFolders {
		_ = w.fsw.Remove(p)
	}
	w.watchedFolders = make(map[string]struct{})
	if err := w.registerTree(w.root); err != nil {
		w.logger.Error("failed to re-walk tree for re-registration", "error", err)
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	if w.isIgnored(path) {
		return
	}

	switch {
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		_, wasDir := w.watchedFolders[path]
		if wasDir {
			delete(w.watchedFolders, path)
			_ = w.fsw.Remove(path)
			w.needsReregister = true
			return
		}
		w.emit(Notification{Kind: Deleted, Path: path})

	case ev.Op&fsnotify.Create != 0:
		info, err := os.Stat(path)
		if err != nil {
			// Created and deleted faster than we could stat it: not an
			// error, just drop (fserrors.TransientFsError).
			w.logger.Debug("stat failed for created path, dropping", "path", path, "error", err)
			return
		}
		if info.IsDir() {
			w.needsReregister = true
			w.backfill(path)
			return
		}
		mt := info.ModTime()
		w.emit(Notification{Kind: Created, Path: path, ModTime: &mt})

	case ev.Op&fsnotify.Write != 0:
		info, err := os.Stat(path)
		if err != nil {
			w.logger.Debug("stat failed for modified path, dropping", "path", path, "error", err)
			return
		}
		if info.IsDir() {
			return
		}
		mt := info.ModTime()
		w.emit(Notification{Kind: Modified, Path: path, ModTime: &mt})
	}
}

// backfill walks a newly created subtree and synthesizes Created
// notifications for every regular file found inside it. Downstream
// stages must tolerate duplicate Created/Modified for the same path,
// since the native watch service may also report these files once its
// own registration catches up.
func (w *Watcher) backfill(dir string) {
	if w.isIgnored(dir) {
		return
	}
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p != dir && w.isIgnored(p) {
				return filepath.SkipDir
			}
			return nil
		}
		if w.isIgnored(p) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		mt := info.ModTime()
		w.emit(Notification{Kind: Created, Path: p, ModTime: &mt})
		return nil
	})
	if err != nil {
		w.logger.Warn("back-fill walk failed", "dir", dir, "error", err)
	}
}

func (w *Watcher) emit(n Notification) {
	select {
	case w.out <- n:
	case <-w.done:
	}
}
