// Package watch supplements the monitor's explicit reload_rules command with
// automatic rule-cache invalidation when a watched rule file changes on
// disk, using fsnotify the way vanducng-goclaw watches its own config tree.
package watch

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Invalidator is the subset of rules.RuleCache the watcher needs; kept as an
// interface so this package never imports the rules package directly.
type Invalidator interface {
	Invalidate(workingDir string)
}

// OnReload is called after the cache is invalidated in response to a
// watched file changing, so the caller can publish a daemon_status event.
type OnReload func(path string)

// Watcher watches the fixed set of rule file paths passed to Run (the daemon
// passes its global rule file plus the repo rule file found from its working
// directory at startup) and invalidates the rule cache whenever any of them
// is written, created, removed, or renamed.
type Watcher struct {
	fsw        *fsnotify.Watcher
	invalidate Invalidator
	onReload   OnReload
	logger     *logrus.Logger
	done       chan struct{}
}

// New constructs a Watcher. Call Add for each path to watch, then Run in its
// own goroutine.
func New(invalidate Invalidator, onReload OnReload, logger *logrus.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Watcher{fsw: fsw, invalidate: invalidate, onReload: onReload, logger: logger, done: make(chan struct{})}, nil
}

// Add watches the directory containing path (fsnotify watches directories,
// not bare files, so renames-over and editor atomic-saves are observed too).
func (w *Watcher) Add(path string) error {
	if path == "" {
		return nil
	}
	return w.fsw.Add(filepath.Dir(path))
}

// Run processes filesystem events until Close is called. Intended to run in
// its own goroutine for the lifetime of the daemon.
func (w *Watcher) Run(watchedFiles map[string]bool) {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !watchedFiles[filepath.Clean(ev.Name)] {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.invalidate.Invalidate("")
			if w.onReload != nil {
				w.onReload(ev.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("rule file watcher error")
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher and releases its inotify (or platform-equivalent)
// file descriptor.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
