package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DefaultDebounce is how long changes accumulate before a rebuild.
const DefaultDebounce = 500 * time.Millisecond

// RebuildFunc is called once per debounce window with the changed paths,
// relative to the watched root and sorted.
type RebuildFunc func(ctx context.Context, changed []string) error

// Watcher rebuilds when template or locale files under a root change.
type Watcher struct {
	root     string
	debounce time.Duration
	rebuild  RebuildFunc
	fsw      *fsnotify.Watcher

	pendingMu sync.Mutex
	pending   map[string]fsnotify.Op

	done chan struct{}
}

// New creates a Watcher for root. A non-positive debounce uses DefaultDebounce.
func New(root string, debounce time.Duration, rebuild RebuildFunc) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve watch root: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	return &Watcher{
		root:     abs,
		debounce: debounce,
		rebuild:  rebuild,
		fsw:      fsw,
		pending:  make(map[string]fsnotify.Op),
		done:     make(chan struct{}),
	}, nil
}

// Start registers watches on every directory under the root and begins
// processing events in the background until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.root); err != nil {
		w.fsw.Close()
		return err
	}
	go w.loop(ctx)

	log.Info().Str("root", w.root).Dur("debounce", w.debounce).Msg("Watching for template changes")
	return nil
}

// Stop releases the underlying watcher. Wait blocks until the event loop exits.
func (w *Watcher) Stop() error {
	return w.fsw.Close()
}

// Wait blocks until the event loop has exited.
func (w *Watcher) Wait() {
	<-w.done
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to watch directory")
			return nil
		}
		log.Debug().Str("path", path).Msg("Watching directory")
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Watcher error")

		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if strings.HasPrefix(filepath.Base(event.Name), ".") {
				return
			}
			// Files copied in together with the directory raise no events of their own.
			if err := w.addRecursive(event.Name); err != nil {
				log.Warn().Err(err).Str("path", event.Name).Msg("Failed to watch new directory")
			}
			w.mark(event.Name, event.Op)
			return
		}
	}

	if !Relevant(event.Name) || event.Op == fsnotify.Chmod {
		return
	}
	w.mark(event.Name, event.Op)
}

func (w *Watcher) mark(path string, op fsnotify.Op) {
	w.pendingMu.Lock()
	w.pending[path] |= op
	w.pendingMu.Unlock()

	log.Debug().Str("path", path).Str("op", op.String()).Msg("Change detected")
}

func (w *Watcher) flush(ctx context.Context) {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}
	changed := make([]string, 0, len(w.pending))
	for path := range w.pending {
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			rel = path
		}
		changed = append(changed, filepath.ToSlash(rel))
	}
	w.pending = make(map[string]fsnotify.Op)
	w.pendingMu.Unlock()

	slices.Sort(changed)
	log.Info().Int("changes", len(changed)).Strs("paths", changed).Msg("Rebuilding after changes")

	if err := w.rebuild(ctx, changed); err != nil {
		log.Error().Err(err).Msg("Rebuild failed")
	}
}

// Relevant reports whether a path is a template or locale resource file.
func Relevant(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".admx" || ext == ".adml"
}
