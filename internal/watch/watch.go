// Package watch reruns work when scenario files change on disk.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces editor save bursts into one change.
const DefaultDebounce = 300 * time.Millisecond

// Config configures a Watcher.
type Config struct {
	// Paths are scenario files or directories. A directory matches every
	// .yaml and .yml file directly inside it.
	Paths []string

	// Debounce is how long a path must stay quiet before it is reported.
	// Default: DefaultDebounce
	Debounce time.Duration

	// OnChange receives the settled paths, sorted. It runs on the watcher's
	// goroutine, so events arriving meanwhile are batched into the next call.
	OnChange func(ctx context.Context, paths []string)

	// OnError is called for errors reported by the underlying watcher.
	OnError func(err error)

	Logger *slog.Logger
}

// Watcher monitors scenario files.
type Watcher struct {
	cfg    Config
	fs     *fsnotify.Watcher
	logger *slog.Logger

	files map[string]bool // exact files to report
	dirs  map[string]bool // directories whose yaml files are reported

	mu      sync.Mutex
	pending map[string]time.Time
}

// New validates cfg and registers the watches. The caller must call Run or
// Close to release the watcher.
func New(cfg Config) (*Watcher, error) {
	if len(cfg.Paths) == 0 {
		return nil, errors.New("watch: no paths")
	}
	if cfg.OnChange == nil {
		return nil, errors.New("watch: OnChange is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		cfg:     cfg,
		fs:      fsw,
		logger:  cfg.Logger,
		files:   make(map[string]bool),
		dirs:    make(map[string]bool),
		pending: make(map[string]time.Time),
	}

	added := make(map[string]bool)
	for _, p := range cfg.Paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("watch %s: %w", p, err)
		}

		dir := abs
		if info.IsDir() {
			w.dirs[abs] = true
		} else {
			// Editors replace files on save, so watch the parent.
			w.files[abs] = true
			dir = filepath.Dir(abs)
		}
		if added[dir] {
			continue
		}
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
		added[dir] = true
		w.logger.Debug("watching directory", "path", dir)
	}
	return w, nil
}

// Run delivers changes until ctx is cancelled, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.Close()

	tick := w.cfg.Debounce / 3
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.observe(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("fsnotify error", "error", err)
			if w.cfg.OnError != nil {
				w.cfg.OnError(err)
			}
		case <-ticker.C:
			if paths := w.settled(time.Now()); len(paths) > 0 {
				w.logger.Info("scenario files changed", "paths", paths)
				w.cfg.OnChange(ctx, paths)
			}
		}
	}
}

// Close stops watching. Safe to call more than once.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

func (w *Watcher) observe(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	if !w.matches(event.Name) {
		return
	}
	w.mu.Lock()
	w.pending[event.Name] = time.Now()
	w.mu.Unlock()
	w.logger.Debug("scenario file event", "path", event.Name, "op", event.Op.String())
}

func (w *Watcher) matches(name string) bool {
	abs, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	if w.files[abs] {
		return true
	}
	if !w.dirs[filepath.Dir(abs)] {
		return false
	}
	ext := strings.ToLower(filepath.Ext(abs))
	return ext == ".yaml" || ext == ".yml"
}

// settled removes and returns the paths quiet for at least Debounce.
func (w *Watcher) settled(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []string
	for p, last := range w.pending {
		if now.Sub(last) >= w.cfg.Debounce {
			out = append(out, p)
			delete(w.pending, p)
		}
	}
	sort.Strings(out)
	return out
}
