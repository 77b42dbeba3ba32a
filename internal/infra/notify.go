package infra

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/eliteGoblin/devreload/internal/domain"
)

// DefaultChangeQueueSize is the buffer of the change handoff queue.
const DefaultChangeQueueSize = 64

// renamePairWindow is how long a Rename waits for its matching Create.
const renamePairWindow = 50 * time.Millisecond

// skipDirs are never descended into when adding recursive watches.
var skipDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	".idea":        true,
	".vscode":      true,
	"node_modules": true,
	"vendor":       true,
}

type registration struct {
	root   string
	filter domain.ChangeFilter
}

// NotifyWatcher watches directory trees with fsnotify and runs every raw
// event through the filters registered for the root it falls under.
// Accepted changes are queued on Changes(); the reader goroutine never
// touches anything else.
type NotifyWatcher struct {
	fsw    *fsnotify.Watcher
	fs     domain.FileSystemManager
	logger *zap.Logger

	mu    sync.RWMutex
	roots []registration
	dirs  map[string]bool

	changes   chan domain.Change
	done      chan struct{}
	wg        sync.WaitGroup
	started   atomic.Bool
	paused    atomic.Bool
	closeOnce sync.Once
}

// NewNotifyWatcher creates a watcher. Call Watch for each root, then Start.
func NewNotifyWatcher(fsm domain.FileSystemManager, logger *zap.Logger) (*NotifyWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &NotifyWatcher{
		fsw:     fsw,
		fs:      fsm,
		logger:  logger,
		dirs:    make(map[string]bool),
		changes: make(chan domain.Change, DefaultChangeQueueSize),
		done:    make(chan struct{}),
	}, nil
}

// Watch registers root recursively and routes its events to filter.
// A missing or unreadable root is a *domain.WatchSetupError.
func (w *NotifyWatcher) Watch(root string, filter domain.ChangeFilter) error {
	abs, err := filepath.Abs(w.fs.ExpandHome(root))
	if err != nil {
		return &domain.WatchSetupError{Root: root, Err: err}
	}
	if !w.fs.IsDir(abs) {
		return &domain.WatchSetupError{Root: root, Err: errors.New("not a readable directory")}
	}
	if err := w.addTree(abs); err != nil {
		return &domain.WatchSetupError{Root: root, Err: err}
	}

	w.mu.Lock()
	w.roots = append(w.roots, registration{root: abs, filter: filter})
	w.mu.Unlock()

	w.logger.Debug("watching directory",
		zap.String("root", abs),
		zap.Stringer("class", filter.Class()))
	return nil
}

// addTree adds a watch for dir and every directory below it.
func (w *NotifyWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			// Entries that vanish or cannot be read mid-walk are skipped
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && skipDirs[d.Name()] {
			return filepath.SkipDir
		}
		w.mu.Lock()
		seen := w.dirs[path]
		w.dirs[path] = true
		w.mu.Unlock()
		if seen {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			if path == dir {
				return err
			}
			w.logger.Warn("failed to watch directory", zap.String("dir", path), zap.Error(err))
		}
		return nil
	})
}

// Changes is the queue of accepted changes.
// It is closed once the watcher is closed.
func (w *NotifyWatcher) Changes() <-chan domain.Change {
	return w.changes
}

// Start launches the reader goroutine. Calling it twice is a no-op.
func (w *NotifyWatcher) Start() {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	w.wg.Add(1)
	go w.readLoop()
}

// Pause stops queueing new changes. Raw events are still drained.
func (w *NotifyWatcher) Pause() {
	w.paused.Store(true)
}

// Close stops fsnotify, joins the reader goroutine and closes Changes().
func (w *NotifyWatcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.paused.Store(true)
		close(w.done)
		err = w.fsw.Close()
		w.wg.Wait()
		close(w.changes)
	})
	return err
}

func (w *NotifyWatcher) readLoop() {
	defer w.wg.Done()

	var pairer renamePairer
	var flush <-chan time.Time
	for {
		select {
		case <-w.done:
			return

		case raw, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			ev, ok := w.convert(raw)
			if !ok {
				continue
			}
			for _, ready := range pairer.push(ev) {
				w.HandleEvent(ready)
			}
			flush = nil
			if pairer.holding() {
				flush = time.After(renamePairWindow)
			}

		case <-flush:
			flush = nil
			if ev, ok := pairer.flush(); ok {
				w.HandleEvent(ev)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

// convert maps an fsnotify event to a domain event, keeping the directory
// set in sync. Chmod-only events are dropped.
func (w *NotifyWatcher) convert(raw fsnotify.Event) (domain.WatchEvent, bool) {
	ev := domain.WatchEvent{Path: raw.Name, Time: time.Now()}

	w.mu.RLock()
	ev.IsDir = w.dirs[raw.Name]
	w.mu.RUnlock()

	switch {
	case raw.Has(fsnotify.Create):
		ev.Op = domain.OpCreated
		if info, err := os.Stat(raw.Name); err == nil && info.IsDir() {
			ev.IsDir = true
			if !skipDirs[filepath.Base(raw.Name)] {
				if err := w.addTree(raw.Name); err != nil {
					w.logger.Warn("failed to watch new directory", zap.String("dir", raw.Name), zap.Error(err))
				}
			}
		}
	case raw.Has(fsnotify.Write):
		ev.Op = domain.OpModified
	case raw.Has(fsnotify.Remove):
		ev.Op = domain.OpDeleted
		w.forgetDir(raw.Name)
	case raw.Has(fsnotify.Rename):
		ev.Op = domain.OpMoved
		w.forgetDir(raw.Name)
	default:
		return ev, false
	}
	return ev, true
}

func (w *NotifyWatcher) forgetDir(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.dirs, path)
}

// HandleEvent offers ev to every filter whose root contains it and queues
// the accepted changes. A full queue drops the change.
func (w *NotifyWatcher) HandleEvent(ev domain.WatchEvent) {
	if w.paused.Load() {
		return
	}

	w.mu.RLock()
	roots := append([]registration(nil), w.roots...)
	w.mu.RUnlock()

	for _, reg := range roots {
		if !within(reg.root, ev.Path) && !(ev.Dest != "" && within(reg.root, ev.Dest)) {
			continue
		}
		change, ok := reg.filter.Dispatch(ev)
		if !ok {
			continue
		}
		select {
		case w.changes <- change:
		default:
			w.logger.Warn("change queue full, dropping change", zap.Stringer("event", ev))
		}
	}
}

// renamePairer joins a Rename with the Create that directly follows it in
// the same directory into one move carrying both paths. fsnotify reports a
// move as those two separate events.
type renamePairer struct {
	pending *domain.WatchEvent
}

// push takes the next event and returns the events ready for the filters.
// A Rename without a destination is held until the next event or flush.
func (p *renamePairer) push(ev domain.WatchEvent) []domain.WatchEvent {
	var out []domain.WatchEvent
	if p.pending != nil {
		held := *p.pending
		p.pending = nil
		if ev.Op == domain.OpCreated && filepath.Dir(ev.Path) == filepath.Dir(held.Path) {
			held.Dest = ev.Path
			held.IsDir = held.IsDir || ev.IsDir
			held.Time = ev.Time
			return []domain.WatchEvent{held}
		}
		out = append(out, held)
	}
	if ev.Op == domain.OpMoved && ev.Dest == "" {
		p.pending = &ev
		return out
	}
	return append(out, ev)
}

func (p *renamePairer) holding() bool {
	return p.pending != nil
}

// flush releases a held Rename as a move without destination.
func (p *renamePairer) flush() (domain.WatchEvent, bool) {
	if p.pending == nil {
		return domain.WatchEvent{}, false
	}
	ev := *p.pending
	p.pending = nil
	return ev, true
}

// within reports whether path is root or below it.
func within(root, path string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}
