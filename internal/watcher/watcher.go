// Package watcher keeps an asset catalog in sync with directories on disk.
// It watches roots with fsnotify and reports debounced changes per file.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Callback receives the watched root a file belongs to and the file path.
type Callback func(root, path string)

// Watcher watches directories and invokes callbacks on file changes.
type Watcher struct {
	roots       []string
	extensions  []string
	recursive   bool
	onChange    Callback
	onRemove    Callback
	debounce    time.Duration
	watcher     *fsnotify.Watcher
	mu          sync.Mutex
	debounceMap map[string]*time.Timer
	done        chan struct{}
	started     bool
	stopOnce    sync.Once
	logger      *zap.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithDebounce sets how long a file must stay quiet before onChange fires.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher over roots. Only files whose extension is in
// extensions are reported; an empty list reports every file. Hidden files
// and directories are ignored.
func NewWatcher(roots, extensions []string, recursive bool, onChange, onRemove Callback, opts ...Option) *Watcher {
	clean := make([]string, 0, len(roots))
	for _, r := range roots {
		if abs, err := filepath.Abs(r); err == nil {
			clean = append(clean, abs)
		}
	}
	w := &Watcher{
		roots:       clean,
		extensions:  extensions,
		recursive:   recursive,
		onChange:    onChange,
		onRemove:    onRemove,
		debounce:    defaultDebounce,
		debounceMap: make(map[string]*time.Timer),
		done:        make(chan struct{}),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Roots returns the watched root directories.
func (w *Watcher) Roots() []string {
	return append([]string(nil), w.roots...)
}

// Start begins watching. It runs until ctx is cancelled or Stop is called.
// A root that does not exist is an error.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, root := range w.roots {
		if err := w.addTree(fw, root); err != nil {
			_ = fw.Close()
			return fmt.Errorf("watch %s: %w", root, err)
		}
	}
	w.watcher = fw
	w.started = true
	w.logger.Debug("watcher started",
		zap.Strings("roots", w.roots),
		zap.Strings("extensions", w.extensions),
		zap.Bool("recursive", w.recursive))
	go w.run(ctx, fw.Events, fw.Errors)
	return nil
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory: %s", root)
	}
	if !w.recursive {
		return fw.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && hidden(d.Name()) {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}

func (w *Watcher) run(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-errs:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	root, ok := w.rootOf(path)
	if !ok || hidden(filepath.Base(path)) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))

	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.cancelDebounce(path)
		if w.onRemove != nil && w.matchExtension(path) {
			w.onRemove(root, path)
		}
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			w.handleNewDirectory(root, path)
			return
		}
		if w.matchExtension(path) {
			w.debounceChange(root, path)
		}
	}
}

// handleNewDirectory watches a directory created or moved below a root and
// reports the files already inside it.
func (w *Watcher) handleNewDirectory(root, dir string) {
	w.mu.Lock()
	fw := w.watcher
	w.mu.Unlock()
	if fw == nil || !w.recursive {
		return
	}
	if err := w.addTree(fw, dir); err != nil {
		w.logger.Warn("watcher failed to add directory", zap.String("path", dir), zap.Error(err))
	}
	w.syncDirectory(root, dir)
}

func (w *Watcher) rootOf(path string) (string, bool) {
	for _, root := range w.roots {
		if inDir(root, path) {
			return root, true
		}
	}
	return "", false
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

func (w *Watcher) matchExtension(path string) bool {
	return matchExtension(path, w.extensions)
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

func (w *Watcher) debounceChange(root, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounceMap[path]; ok {
		t.Stop()
	}
	w.debounceMap[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.debounceMap, path)
		w.mu.Unlock()
		w.logger.Debug("watcher file changed (debounced)", zap.String("path", path))
		if w.onChange != nil {
			w.onChange(root, path)
		}
	})
}

func (w *Watcher) cancelDebounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounceMap[path]; ok {
		t.Stop()
		delete(w.debounceMap, path)
	}
}

func (w *Watcher) syncDirectory(root, dir string) {
	if w.onChange == nil {
		return
	}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if hidden(d.Name()) && path != dir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != dir && !w.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && w.matchExtension(path) {
			w.onChange(root, path)
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		w.logger.Warn("watcher sync failed", zap.String("dir", dir), zap.Error(err))
	}
}

// SyncExistingFiles reports every matching file already present in the roots.
// Call it after Start to catch up on files that changed while not watching.
func (w *Watcher) SyncExistingFiles() {
	w.logger.Debug("watcher syncing existing files", zap.Strings("roots", w.roots))
	for _, root := range w.roots {
		w.syncDirectory(root, root)
	}
}

// Stop stops the watcher and releases resources. Pending debounced changes are dropped.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	for path, t := range w.debounceMap {
		t.Stop()
		delete(w.debounceMap, path)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
