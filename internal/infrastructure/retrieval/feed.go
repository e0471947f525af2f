package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/doeshing/shai-agent/internal/domain"
	"github.com/doeshing/shai-agent/internal/ports"
)

// defaultChangeCapacity bounds the changes remembered by the watcher.
const defaultChangeCapacity = 256

// ScanFeed derives recent changes from modification times. It is the
// fallback when no filesystem watcher can be started.
type ScanFeed struct {
	searcher *LocalSearcher
}

// NewScanFeed reuses the searcher's cached listing.
func NewScanFeed(searcher *LocalSearcher) *ScanFeed {
	return &ScanFeed{searcher: searcher}
}

func (f *ScanFeed) RecentChanges(ctx context.Context, limit int) ([]domain.ChangeEntry, error) {
	return f.searcher.Recent(ctx, limit)
}

// Watcher records files written under the root while the process runs.
// Directories rejected by the filter are not watched.
type Watcher struct {
	root     string
	filter   PathFilter
	watcher  *fsnotify.Watcher
	logger   ports.Logger
	capacity int
	now      func() time.Time

	mu      sync.Mutex
	changes []domain.ChangeEntry

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWatcher registers every allowed directory below root. Call Start to
// begin consuming events and Close to release the watcher.
func NewWatcher(root string, filter PathFilter, logger ports.Logger) (*Watcher, error) {
	if filter == nil || logger == nil {
		return nil, errors.New("retrieval: watcher dependencies not satisfied")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve watch root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &Watcher{
		root:     abs,
		filter:   filter,
		watcher:  fsw,
		logger:   logger,
		capacity: defaultChangeCapacity,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	if err := w.addTree(abs); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Start consumes events until ctx ends or Close is called.
func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop(ctx)
	}()
}

// Close stops the event loop and releases the watcher.
func (w *Watcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}

// RecentChanges implements ports.ChangeFeed. A path appears once, at its
// latest modification.
func (w *Watcher) RecentChanges(_ context.Context, limit int) ([]domain.ChangeEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if limit <= 0 || limit > len(w.changes) {
		limit = len(w.changes)
	}
	out := make([]domain.ChangeEntry, 0, limit)
	for i := len(w.changes) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, w.changes[i])
	}
	return out, nil
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", map[string]interface{}{"error": err.Error()})
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	if !w.filter.AllowsContextPath(rel) {
		return
	}

	switch {
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		w.forget(rel)
	case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
		info, err := os.Stat(event.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if event.Has(fsnotify.Create) {
				if err := w.addTree(event.Name); err != nil {
					w.logger.Debug("watch new directory", map[string]interface{}{"path": rel, "error": err.Error()})
				}
			}
			return
		}
		w.remember(domain.ChangeEntry{Path: rel, ModifiedAt: w.now()})
	}
}

func (w *Watcher) remember(entry domain.ChangeEntry) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.removeLocked(entry.Path)
	w.changes = append(w.changes, entry)
	if overflow := len(w.changes) - w.capacity; overflow > 0 {
		w.changes = append([]domain.ChangeEntry(nil), w.changes[overflow:]...)
	}
}

func (w *Watcher) forget(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.removeLocked(path)
}

func (w *Watcher) removeLocked(path string) {
	for i, change := range w.changes {
		if change.Path == path {
			w.changes = append(w.changes[:i], w.changes[i+1:]...)
			return
		}
	}
}

// addTree watches dir and its allowed subdirectories. fsnotify is not
// recursive.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root {
			rel, relErr := filepath.Rel(w.root, path)
			if relErr != nil || !w.filter.AllowsContextPath(filepath.ToSlash(rel)) {
				return filepath.SkipDir
			}
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

var (
	_ ports.ChangeFeed = (*ScanFeed)(nil)
	_ ports.ChangeFeed = (*Watcher)(nil)
)
