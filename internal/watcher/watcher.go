// Package watcher turns filesystem changes into build cycles. FileWatcher
// subscribes to the watched trees; Coordinator debounces the stream,
// filters out the engine's own writes and runs one build per burst.
package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	skifferrors "github.com/conneroisu/skiff/internal/errors"
)

// ChangeEvent represents a file change event
type ChangeEvent struct {
	Type EventType
	Path string
}

// EventType represents the type of file change
type EventType int

const (
	EventTypeCreated EventType = iota
	EventTypeModified
	EventTypeDeleted
	EventTypeRenamed
)

// String returns the string representation of the EventType
func (e EventType) String() string {
	switch e {
	case EventTypeCreated:
		return "created"
	case EventTypeModified:
		return "modified"
	case EventTypeDeleted:
		return "deleted"
	case EventTypeRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// FileFilter reports whether a path should produce events.
type FileFilter func(path string) bool

// Source delivers filesystem change events.
type Source interface {
	Events() <-chan ChangeEvent
	Errors() <-chan error
	Close() error
}

// FileWatcher is a Source backed by fsnotify. Directories are watched
// recursively, including ones created after they were added.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	filters []FileFilter

	events chan ChangeEvent
	errors chan error
	done   chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ Source = (*FileWatcher)(nil)

// NewFileWatcher creates a watcher delivering events accepted by every
// filter.
func NewFileWatcher(filters ...FileFilter) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, skifferrors.NewWatchError(skifferrors.ErrCodeSubscribe, "failed to create file watcher", err)
	}

	fw := &FileWatcher{
		watcher: w,
		filters: filters,
		events:  make(chan ChangeEvent, 256),
		errors:  make(chan error, 16),
		done:    make(chan struct{}),
	}
	fw.wg.Add(1)
	go fw.loop()

	return fw, nil
}

func (fw *FileWatcher) Events() <-chan ChangeEvent { return fw.events }
func (fw *FileWatcher) Errors() <-chan error       { return fw.errors }

// AddRecursive adds a directory and all subdirectories to watch. A file is
// watched on its own.
func (fw *FileWatcher) AddRecursive(root string) error {
	root = filepath.Clean(root)
	info, err := os.Stat(root)
	if err != nil {
		return skifferrors.NewWatchError(skifferrors.ErrCodeSubscribe, "cannot watch path", err).WithPath(root)
	}
	if !info.IsDir() {
		return fw.add(root)
	}

	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return skifferrors.NewWatchError(skifferrors.ErrCodeSubscribe, "cannot walk path", err).WithPath(path)
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}

		return fw.add(path)
	})
}

func (fw *FileWatcher) add(path string) error {
	if err := fw.watcher.Add(path); err != nil {
		return skifferrors.NewWatchError(skifferrors.ErrCodeSubscribe, "failed to watch path", err).WithPath(path)
	}

	return nil
}

// WatchList returns the watched paths.
func (fw *FileWatcher) WatchList() []string {
	return fw.watcher.WatchList()
}

// Close stops the watcher. The events channel is closed once the
// delivery loop exits.
func (fw *FileWatcher) Close() error {
	var err error
	fw.closeOnce.Do(func() {
		close(fw.done)
		err = fw.watcher.Close()
		fw.wg.Wait()
	})

	return err
}

func (fw *FileWatcher) loop() {
	defer fw.wg.Done()
	defer close(fw.events)

	for {
		select {
		case <-fw.done:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handle(event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.sendErr(skifferrors.NewWatchError(skifferrors.ErrCodeSubscribe, "file watcher error", err))
		}
	}
}

func (fw *FileWatcher) handle(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := fw.AddRecursive(event.Name); err != nil {
				fw.sendErr(err)
			}
		}
	}

	for _, filter := range fw.filters {
		if !filter(event.Name) {
			return
		}
	}

	select {
	case fw.events <- ChangeEvent{Type: eventType(event.Op), Path: event.Name}:
	case <-fw.done:
	}
}

func (fw *FileWatcher) sendErr(err error) {
	select {
	case fw.errors <- err:
	default:
		// nobody is draining errors; drop
	}
}

func eventType(op fsnotify.Op) EventType {
	switch {
	case op&fsnotify.Create == fsnotify.Create:
		return EventTypeCreated
	case op&fsnotify.Write == fsnotify.Write:
		return EventTypeModified
	case op&fsnotify.Remove == fsnotify.Remove:
		return EventTypeDeleted
	case op&fsnotify.Rename == fsnotify.Rename:
		return EventTypeRenamed
	default:
		return EventTypeModified
	}
}

// NoEditorTempFilter drops swap, backup and lock files editors write next to
// the file being saved.
func NoEditorTempFilter(path string) bool {
	base := filepath.Base(path)
	switch {
	case strings.HasSuffix(base, "~"),
		strings.HasSuffix(base, ".swp"),
		strings.HasSuffix(base, ".swx"),
		strings.HasSuffix(base, ".tmp"),
		strings.HasPrefix(base, ".#"),
		strings.HasPrefix(base, "#") && strings.HasSuffix(base, "#"),
		base == "4913":
		return false
	}

	return true
}

// NoGitFilter drops events inside .git directories.
func NoGitFilter(path string) bool {
	slashed := filepath.ToSlash(path)
	return !strings.HasPrefix(slashed, ".git/") && !strings.Contains(slashed, "/.git/")
}
