// Package fsload implements the debouncing, race-avoiding layer
// described in SPEC_FULL.md §4.2. It wraps an fswatch.Watcher, folding
// bursts of raw notifications per path into a single coalesced event,
// then reads file contents under a protocol that guarantees the read
// did not race a concurrent write.
package fsload

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/heinzelotto/fileindex/internal/fserrors"
	"github.com/heinzelotto/fileindex/internal/fswatch"
)

// Notification is re-exported so callers only need to import fsload.
type Notification = fswatch.Notification

// LoadedNotification is a Loader output: the underlying Notification,
// plus — for Created/Modified only — the full UTF-8 file text and the
// instant the read completed. Both are nil for Deleted.
type LoadedNotification struct {
	Notification
	Text   *string
	ReadAt *time.Time
}

// Config tunes the Loader's coalescing window and read concurrency.
type Config struct {
	// DelayBeforeRead is the coalescing window: events for the same
	// path arriving within this interval of each other are folded into
	// one, and the surviving event is not read until the stream has
	// been silent for this long.
	DelayBeforeRead time.Duration

	// Workers bounds how many file reads may be in flight at once.
	Workers int
}

// DefaultConfig returns the Loader's default tuning.
func DefaultConfig() Config {
	return Config{
		DelayBeforeRead: 300 * time.Millisecond,
		Workers:         4,
	}
}

// Loader transforms a Watcher's raw event stream into a stream of
// LoadedNotification whose Text, when present, reflects contents that
// were not concurrently being written.
type Loader struct {
	watcher *fswatch.Watcher
	cfg     Config
	logger  *slog.Logger

	out       chan LoadedNotification
	done      chan struct{}
	closeOnce sync.Once

	dispatchWG sync.WaitGroup
	flushWG    sync.WaitGroup

	// pending, timer, generation: owned by the dispatcher goroutine and
	// guarded by pendingMu so the timer callback (running on its own
	// goroutine) can safely snapshot and clear them. generation is
	// bumped every time fold() arms a new timer; a flush callback whose
	// generation no longer matches was superseded by a later arming and
	// does nothing beyond releasing its own flushWG slot.
	pendingMu  sync.Mutex
	pending    map[string]Notification
	timer      *time.Timer
	generation uint64
}

// New constructs a Loader watching root.
func New(root string, watchCfg fswatch.Config, cfg Config) (*Loader, error) {
	w, err := fswatch.New(root, watchCfg)
	if err != nil {
		return nil, err
	}

	def := DefaultConfig()
	if cfg.DelayBeforeRead <= 0 {
		cfg.DelayBeforeRead = def.DelayBeforeRead
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}

	l := &Loader{
		watcher: w,
		cfg:     cfg,
		logger:  slog.Default().With("component", "fsload"),
		out:     make(chan LoadedNotification),
		done:    make(chan struct{}),
		pending: make(map[string]Notification),
	}

	l.dispatchWG.Add(1)
	go l.dispatch()

	return l, nil
}

// Notifications returns the receive-only stream of loaded events.
func (l *Loader) Notifications() <-chan LoadedNotification { return l.out }

// Close cancels the Loader and cascades to the inner Watcher.
func (l *Loader) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	err := l.watcher.Close()
	l.dispatchWG.Wait()

	// dispatch has exited, so no further fold() calls can race this:
	// the timer we see here, if any, is the last one armed. If Stop
	// wins the race against the timer firing, its flush callback will
	// never run, so we must release its flushWG slot ourselves; if
	// Stop loses, the callback is already running (or has run) and
	// will release its own slot.
	l.pendingMu.Lock()
	if l.timer != nil && l.timer.Stop() {
		l.flushWG.Done()
	}
	l.pendingMu.Unlock()

	l.flushWG.Wait()
	close(l.out)
	return err
}

func (l *Loader) dispatch() {
	defer l.dispatchWG.Done()

	notifications := l.watcher.Notifications()
	for {
		select {
		case <-l.done:
			return
		case n, ok := <-notifications:
			if !ok {
				return
			}
			l.fold(n)
		}
	}
}

// fold applies the compaction step of the fold table (SPEC_FULL.md
// §4.2) for a single incoming raw notification, merging it into
// whatever is already pending for its path, and rearms the debounce
// timer.
//
// Every arming is paired with exactly one flushWG.Add(1) and replaces
// any previous timer outright rather than Reset-ing it: Reset-ing a
// timer that has already fired (but whose callback has not yet run)
// would schedule a second, un-Added callback invocation and eventually
// underflow flushWG. If stopping the old timer succeeds, its callback
// will never run, so its flushWG slot is released here; if it already
// fired, its callback is simply tagged with a stale generation and
// becomes a no-op beyond releasing its own flushWG slot.
func (l *Loader) fold(n Notification) {
	l.pendingMu.Lock()
	defer l.pendingMu.Unlock()

	if existing, ok := l.pending[n.Path]; ok {
		if folded := FoldPair(existing, n); folded != nil {
			l.pending[n.Path] = *folded
		} else {
			delete(l.pending, n.Path)
		}
	} else {
		l.pending[n.Path] = n
	}

	if l.timer != nil && l.timer.Stop() {
		l.flushWG.Done()
	}
	l.generation++
	gen := l.generation
	l.flushWG.Add(1)
	l.timer = time.AfterFunc(l.cfg.DelayBeforeRead, func() { l.flush(gen) })
}

// flush runs on the debounce timer's own goroutine once the stream has
// been silent for DelayBeforeRead, processing the accumulated batch.
// gen identifies the arming that scheduled this call; if a later fold
// has since rearmed the timer, this call is stale and does nothing.
func (l *Loader) flush(gen uint64) {
	defer l.flushWG.Done()

	l.pendingMu.Lock()
	if gen != l.generation {
		l.pendingMu.Unlock()
		return
	}
	batch := l.pending
	l.pending = make(map[string]Notification)
	l.timer = nil
	l.pendingMu.Unlock()

	if len(batch) == 0 {
		return
	}

	eg, _ := errgroup.WithContext(context.Background())
	eg.SetLimit(l.cfg.Workers)
	for _, n := range batch {
		n := n
		eg.Go(func() error {
			l.process(n)
			return nil
		})
	}
	_ = eg.Wait()
}

func (l *Loader) process(n Notification) {
	if n.Kind == fswatch.Deleted {
		l.emit(LoadedNotification{Notification: n})
		return
	}
	l.readRaceFree(n)
}

// readRaceFree implements the race-free read protocol from
// SPEC_FULL.md §4.2: read, then re-stat, and accept only if the mtime
// did not change across the read.
func (l *Loader) readRaceFree(n Notification) {
	if n.ModTime == nil {
		l.logger.Error("created/modified notification missing mtime", "path", n.Path)
		return
	}
	m0 := *n.ModTime

	data, err := os.ReadFile(n.Path)
	readAt := time.Now()
	if err != nil {
		l.logger.Debug("dropping notification, read failed", "error", (&fserrors.TransientFsError{Path: n.Path, Err: err}).Error())
		return
	}

	info, err := os.Stat(n.Path)
	if err != nil {
		l.logger.Debug("dropping notification, re-stat failed", "error", (&fserrors.TransientFsError{Path: n.Path, Err: err}).Error())
		return
	}
	m1 := info.ModTime()

	if m1.Before(m0) {
		violation := &fserrors.InvariantViolation{
			Path:    n.Path,
			Message: "mtime after read is earlier than mtime before read",
		}
		if fserrors.Debug {
			panic(violation)
		}
		l.logger.Error("invariant violated, dropping notification", "error", violation.Error())
		return
	}

	if m1.After(m0) {
		// Another write overlapped the read; a fresh Modified event
		// will arrive shortly and trigger a new read pass.
		l.logger.Debug("discarding read raced by concurrent write", "path", n.Path)
		return
	}

	if !utf8.Valid(data) {
		l.logger.Debug("dropping notification, not valid UTF-8", "error", (&fserrors.EncodingError{Path: n.Path}).Error())
		return
	}

	text := string(data)
	l.emit(LoadedNotification{
		Notification: Notification{Kind: n.Kind, Path: n.Path, ModTime: &m1},
		Text:         &text,
		ReadAt:       &readAt,
	})
}

func (l *Loader) emit(ln LoadedNotification) {
	select {
	case l.out <- ln:
	case <-l.done:
	}
}

// FoldPair applies one step of the compaction table from
// SPEC_FULL.md §4.2 to a prior and an incoming notification for the
// same path. A nil result means the pair cancels out and nothing
// should be emitted for this path (Created immediately followed by
// Deleted).
func FoldPair(prior, next Notification) *Notification {
	switch {
	case prior.Kind == fswatch.Created && next.Kind == fswatch.Modified:
		n := next
		n.Kind = fswatch.Created
		return &n
	case prior.Kind == fswatch.Created && next.Kind == fswatch.Deleted:
		return nil
	case prior.Kind == fswatch.Modified && next.Kind == fswatch.Modified:
		n := next
		return &n
	case prior.Kind == fswatch.Modified && next.Kind == fswatch.Deleted:
		n := next
		return &n
	case prior.Kind == fswatch.Deleted && next.Kind == fswatch.Created:
		n := next
		n.Kind = fswatch.Modified
		return &n
	default:
		n := next
		return &n
	}
}

// Compact folds an ordered sequence of notifications for a single path
// per the table in SPEC_FULL.md §4.2, returning zero or one surviving
// notification. It is idempotent: compacting its own output returns
// the same result unchanged.
func Compact(events []Notification) []Notification {
	if len(events) == 0 {
		return nil
	}

	first := events[0]
	cur := &first
	for _, e := range events[1:] {
		if cur == nil {
			ee := e
			cur = &ee
			continue
		}
		cur = FoldPair(*cur, e)
	}

	if cur == nil {
		return nil
	}
	return []Notification{*cur}
}
