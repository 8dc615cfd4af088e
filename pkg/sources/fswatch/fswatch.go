// Package fswatch is a capture source for hosts without eBPF support. It
// watches directories with inotify and reports files once they stop
// changing. inotify does not identify the writing process, so it only feeds
// the file creation pathways.
package fswatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lucid-vigil/ransomguard/pkg/events"
	"github.com/lucid-vigil/ransomguard/pkg/sources"
	"github.com/rs/zerolog"
)

// DefaultSettleDelay is how long a new file must stay unmodified before it
// is reported.
const DefaultSettleDelay = 500 * time.Millisecond

// Watcher implements sources.Source over fsnotify.
type Watcher struct {
	paths  []string
	settle time.Duration
	logger zerolog.Logger

	mu      sync.Mutex
	pending map[string]*pendingFile
}

// pendingFile is a created file waiting for its settle timer.
type pendingFile struct {
	timer *time.Timer
}

var _ sources.Source = (*Watcher)(nil)

// New creates a watcher for paths. Subdirectories created later are added
// as they appear.
func New(paths []string, settle time.Duration, logger zerolog.Logger) *Watcher {
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	return &Watcher{
		paths:   paths,
		settle:  settle,
		logger:  logger.With().Str("source", "fsnotify").Logger(),
		pending: make(map[string]*pendingFile),
	}
}

func (w *Watcher) Name() string {
	return "fsnotify"
}

// Run watches until ctx is cancelled. Pending files are dropped on exit.
func (w *Watcher) Run(ctx context.Context, pub sources.Publisher) error {
	if len(w.paths) == 0 {
		return fmt.Errorf("no paths to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	added := 0
	for _, path := range w.paths {
		if err := watcher.Add(path); err != nil {
			w.logger.Error().Err(err).Str("path", path).Msg("Failed to add path to watcher.")
			continue
		}
		added++
		w.logger.Info().Str("path", path).Msg("Monitoring filesystem path.")
	}
	if added == 0 {
		return fmt.Errorf("none of the %d watch paths could be added", len(w.paths))
	}

	defer w.stopPending()
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.handle(watcher, event, pub)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("Filesystem watcher error.")
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *Watcher) handle(watcher *fsnotify.Watcher, event fsnotify.Event, pub sources.Publisher) {
	if isNoise(event.Name) {
		return
	}

	switch {
	case event.Has(fsnotify.Create):
		if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
			if err := watcher.Add(event.Name); err != nil {
				w.logger.Debug().Err(err).Str("path", event.Name).Msg("Failed to watch new directory.")
			}
			return
		}
		w.schedule(event.Name, pub)
	case event.Has(fsnotify.Write):
		w.reschedule(event.Name)
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.cancel(event.Name)
	}
}

// schedule starts the settle timer of a newly created file.
func (w *Watcher) schedule(path string, pub sources.Publisher) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.pending[path]; ok {
		w.resetLocked(path)
		return
	}
	p := &pendingFile{}
	w.pending[path] = p
	p.timer = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		// A cancelled or replaced entry must not be reported.
		if w.pending[path] != p {
			w.mu.Unlock()
			return
		}
		delete(w.pending, path)
		w.mu.Unlock()

		err := pub.Publish(events.Event{
			Op:        events.OpClose,
			Filename:  path,
			Timestamp: time.Now(),
			Created:   true,
		})
		if err != nil {
			w.logger.Debug().Err(err).Str("path", path).Msg("Failed to publish created file.")
		}
	})
}

// reschedule pushes back the report of a file that is still being written.
// Writes to files that were not created under watch are ignored.
func (w *Watcher) reschedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resetLocked(path)
}

// resetLocked restarts the settle timer of path. A timer that already fired
// is left alone: its callback is about to report the file, and resetting it
// would run the callback a second time. w.mu must be held.
func (w *Watcher) resetLocked(path string) {
	p, ok := w.pending[path]
	if !ok {
		return
	}
	if p.timer.Stop() {
		p.timer.Reset(w.settle)
	}
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.pending[path]; ok {
		p.timer.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, path)
	}
}

// isNoise skips editor swap files and similar short-lived artifacts.
func isNoise(path string) bool {
	base := filepath.Base(path)
	return strings.HasSuffix(base, ".swp") ||
		strings.HasSuffix(base, ".swx") ||
		strings.HasSuffix(base, "~") ||
		strings.HasPrefix(base, ".#")
}
