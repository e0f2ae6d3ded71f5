package archive

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher reports changes to ZIM files in library directories and their
// subdirectories. Bursts of events (a large copy, a move of many files)
// collapse into one callback.
type Watcher struct {
	dirs     []string
	debounce time.Duration
	onChange func()
	logger   *slog.Logger

	ready func() // Called once the initial watches are in place
}

// NewWatcher creates a watcher calling onChange after ZIM files in dirs
// are created, removed or renamed. A non-positive debounce uses the default.
func NewWatcher(dirs []string, debounce time.Duration, onChange func(), logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{dirs: dirs, debounce: debounce, onChange: onChange, logger: logger}
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	watched := make(map[string]bool)
	for _, dir := range w.dirs {
		if _, err := os.Stat(dir); err != nil {
			w.logger.Warn("not watching library directory", "dir", dir, "error", err)
			continue
		}
		w.addTree(fw, dir, watched)
	}
	w.logger.Info("watching library directories", "count", len(watched))
	if w.ready != nil {
		w.ready()
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			switch {
			case event.Has(fsnotify.Create) && isDir(event.Name):
				// A new or moved-in directory may already hold archives
				w.addTree(fw, event.Name, watched)
			case watched[event.Name] && event.Has(fsnotify.Remove|fsnotify.Rename):
				delete(watched, event.Name)
			case IsZimPath(event.Name) && event.Has(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write):
			default:
				continue
			}
			w.logger.Debug("library change", "path", event.Name, "op", event.Op.String())

			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				if ctx.Err() == nil {
					w.onChange()
				}
			})
			mu.Unlock()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("library watcher error", "error", err)
		}
	}
}

// addTree watches root and every directory below it.
func (w *Watcher) addTree(fw *fsnotify.Watcher, root string, watched map[string]bool) {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("failed to read library directory", "dir", path, "error", err)
			return nil
		}
		if !d.IsDir() || watched[path] {
			return nil
		}
		if err := fw.Add(path); err != nil {
			w.logger.Warn("failed to watch library directory", "dir", path, "error", err)
			return nil
		}
		watched[path] = true
		return nil
	})
	if err != nil {
		w.logger.Warn("failed to walk library directory", "dir", root, "error", err)
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
