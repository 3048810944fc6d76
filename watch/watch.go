// Package watch triggers a callback when anything under a directory tree
// changes.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

var fs = afero.NewOsFs()

// ErrRootRemoved is returned by Run when the watched directory disappears.
var ErrRootRemoved = errors.New("watched directory vanished")

// Watcher watches a directory and all of its subdirectories. Directories
// created after New are picked up as they appear.
type Watcher struct {
	root    string
	watcher *fsnotify.Watcher
}

// New starts watching root recursively.
func New(root string) (*Watcher, error) {
	root = filepath.Clean(root)
	fi, err := fs.Stat(root)
	if err != nil {
		return nil, errors.Wrap(err, "stat")
	}
	if !fi.IsDir() {
		return nil, errors.Errorf("%q is not a directory", root)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create watcher")
	}

	w := &Watcher{root: root, watcher: watcher}
	if err := w.addTree(root); err != nil {
		// Close the watcher so that we release the file handlers for the
		// previously added paths.
		if err := watcher.Close(); err != nil {
			log.WithError(err).Warn("Failed to close file watcher")
		}
		return nil, err
	}
	return w, nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// Run calls onChange once the tree has been quiet for the given interval
// after a change. Calls never overlap: changes made while onChange runs are
// collected into the next call. Run returns nil when ctx is cancelled, and
// ErrRootRemoved if the root directory is deleted or moved away.
func (w *Watcher) Run(ctx context.Context, quiet time.Duration, onChange func(context.Context)) error {
	changed, rootGone := w.combineUpdates()

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-rootGone:
			return ErrRootRemoved
		case <-changed:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(quiet)
		case <-timer.C:
			// A removal of the root may be queued behind the change that
			// started the timer.
			select {
			case <-rootGone:
				return ErrRootRemoved
			default:
			}
			onChange(ctx)
		}
	}
}

// combineUpdates collapses bursts of events into a single pending signal.
// New directories are added to the watch before the signal is sent.
func (w *Watcher) combineUpdates() (<-chan struct{}, <-chan struct{}) {
	combined := make(chan struct{}, 1)
	rootGone := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if w.handle(event) {
					close(rootGone)
					return
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				// An overflow means events were lost, so treat it as a change.
				log.WithError(err).Warn("File watcher error")
			}

			select {
			case combined <- struct{}{}:
			default:
			}
		}
	}()
	return combined, rootGone
}

// handle returns true if the event means the root is gone.
func (w *Watcher) handle(event fsnotify.Event) bool {
	log.WithField("path", event.Name).WithField("op", event.Op.String()).Debug("File change")

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		if _, err := fs.Stat(w.root); os.IsNotExist(err) {
			return true
		}
	}

	if event.Has(fsnotify.Create) {
		if fi, err := fs.Stat(event.Name); err == nil && fi.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				log.WithError(err).WithField("path", event.Name).Warn("Failed to watch new directory")
			}
		}
	}
	return false
}

// addTree watches dir and every directory below it. fsnotify doesn't watch
// recursively.
func (w *Watcher) addTree(dir string) error {
	return afero.Walk(fs, dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			// Removed between the event and the walk.
			if os.IsNotExist(err) && path != dir {
				return nil
			}
			return errors.Wrap(err, "walk")
		}
		if !fi.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			return errors.Wrap(err, fmt.Sprintf("watch %q", path))
		}
		return nil
	})
}
