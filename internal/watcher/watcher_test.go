package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	skifferrors "github.com/conneroisu/skiff/internal/errors"
)

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeCreated, "created"},
		{EventTypeModified, "modified"},
		{EventTypeDeleted, "deleted"},
		{EventTypeRenamed, "renamed"},
		{EventType(99), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.eventType.String())
		})
	}
}

// waitFor returns the first event for path, failing after a timeout.
func waitFor(t *testing.T, fw *FileWatcher, path string) ChangeEvent {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-fw.Events():
			require.True(t, ok, "events closed")
			if ev.Path == path {
				return ev
			}
		case <-timeout:
			t.Fatalf("no event for %s", path)
		}
	}
}

func TestFileWatcherDeliversEvents(t *testing.T) {
	dir := t.TempDir()
	fw, err := NewFileWatcher()
	require.NoError(t, err)
	defer fw.Close()
	require.NoError(t, fw.AddRecursive(dir))

	file := filepath.Join(dir, "index.html")
	require.NoError(t, os.WriteFile(file, []byte("<html></html>"), 0o644))
	ev := waitFor(t, fw, file)
	assert.Contains(t, []EventType{EventTypeCreated, EventTypeModified}, ev.Type)
}

func TestFileWatcherFollowsNewDirectories(t *testing.T) {
	dir := t.TempDir()
	fw, err := NewFileWatcher()
	require.NoError(t, err)
	defer fw.Close()
	require.NoError(t, fw.AddRecursive(dir))

	sub := filepath.Join(dir, "styles")
	require.NoError(t, os.Mkdir(sub, 0o755))
	waitFor(t, fw, sub)

	require.Eventually(t, func() bool {
		for _, p := range fw.WatchList() {
			if p == sub {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	file := filepath.Join(sub, "app.scss")
	require.NoError(t, os.WriteFile(file, []byte("a{}"), 0o644))
	waitFor(t, fw, file)
}

func TestFileWatcherSkipsHiddenDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git", "objects"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))

	fw, err := NewFileWatcher()
	require.NoError(t, err)
	defer fw.Close()
	require.NoError(t, fw.AddRecursive(dir))

	assert.ElementsMatch(t, []string{dir, filepath.Join(dir, "src")}, fw.WatchList())
}

func TestFileWatcherMissingPath(t *testing.T) {
	fw, err := NewFileWatcher()
	require.NoError(t, err)
	defer fw.Close()

	err = fw.AddRecursive(filepath.Join(t.TempDir(), "gone"))
	require.Error(t, err)
	assert.True(t, skifferrors.IsWatch(err))
}

func TestFileWatcherCloseClosesEvents(t *testing.T) {
	fw, err := NewFileWatcher()
	require.NoError(t, err)
	require.NoError(t, fw.Close())
	require.NoError(t, fw.Close())

	select {
	case _, ok := <-fw.Events():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("events not closed")
	}
}

func TestFilters(t *testing.T) {
	tests := []struct {
		path string
		keep bool
	}{
		{"/src/app.css", true},
		{"/src/app.css~", false},
		{"/src/.app.css.swp", false},
		{"/src/.#app.css", false},
		{"/src/#app.css#", false},
		{"/src/4913", false},
		{"/src/file.tmp", false},
		{"/src/.git/index", false},
		{".git/HEAD", false},
		{"/src/gitignore", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			keep := NoEditorTempFilter(filepath.FromSlash(tt.path)) && NoGitFilter(filepath.FromSlash(tt.path))
			assert.Equal(t, tt.keep, keep)
		})
	}
}

func TestIgnoreList(t *testing.T) {
	var l IgnoreList
	l.Ignore("/a/target", "", "/a/Cargo.lock")
	l.Ignore("/b/")

	assert.Equal(t, []string{filepath.Clean("/a/target"), filepath.Clean("/a/Cargo.lock"), filepath.Clean("/b")}, l.Drain())
	assert.Empty(t, l.Drain())
}

func TestIgnoreSetMatches(t *testing.T) {
	set := newIgnoreSet([]string{"/out/dist", "/out/dist"}, []string{"/lock"})
	assert.Len(t, set, 2)

	assert.True(t, set.matches("/out/dist"))
	assert.True(t, set.matches("/out/dist/a/b.js"))
	assert.False(t, set.matches("/out/distro.js"))
	assert.True(t, set.matches("/lock"))
	assert.False(t, set.matches("/lockfile"))
}
