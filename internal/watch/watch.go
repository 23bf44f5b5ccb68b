// Package watch reports changes to feature files so a run can be repeated
// while scenarios are being edited.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pgharness/pkg/logging"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period that ends a burst of changes.
const DefaultDebounce = 300 * time.Millisecond

// Watcher watches feature files under a set of paths.
type Watcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	// files restricts events to explicitly named feature files. Events for
	// anything inside a watched directory pass when files is empty for that
	// directory.
	files map[string]bool
	dirs  map[string]bool
}

// New watches paths, which may name feature files or directories.
// Directories are watched recursively, including ones created later.
func New(paths []string, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  fw,
		debounce: debounce,
		files:    make(map[string]bool),
		dirs:     make(map[string]bool),
	}
	for _, p := range paths {
		if err := w.add(p); err != nil {
			fw.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *Watcher) add(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		w.files[abs] = true
		return w.watcher.Add(filepath.Dir(abs))
	}
	return w.addTree(abs)
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			return err
		}
		w.dirs[path] = true
		logging.Debug("Watch", "Watching directory: %s", path)
		return nil
	})
}

// relevant reports whether an event for name should trigger a rerun.
func (w *Watcher) relevant(name string) bool {
	if !strings.EqualFold(filepath.Ext(name), ".feature") {
		return false
	}
	if w.files[name] {
		return true
	}
	return w.dirs[filepath.Dir(name)]
}

// Next blocks until a feature file changes and no further change follows
// within the debounce period. It returns the first changed file.
func (w *Watcher) Next(ctx context.Context) (string, error) {
	var (
		changed string
		timer   *time.Timer
		quiet   <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()

		case <-quiet:
			return changed, nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return "", errors.New("watcher closed")
			}
			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && w.dirs[filepath.Dir(event.Name)] {
					if err := w.addTree(event.Name); err != nil {
						logging.Warn("Watch", "Failed to watch %s: %v", event.Name, err)
					}
					continue
				}
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 || !w.relevant(event.Name) {
				continue
			}
			if changed == "" {
				changed = event.Name
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			quiet = timer.C

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return "", errors.New("watcher closed")
			}
			logging.Error("Watch", err, "Filesystem watcher error")
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
