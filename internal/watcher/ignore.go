package watcher

import (
	"path/filepath"
	"strings"
	"sync"
)

// IgnoreList collects paths pipelines announce they are about to write so
// the coordinator does not rebuild on them. It is the only state shared
// between running pipelines and the watch loop.
type IgnoreList struct {
	mu    sync.Mutex
	paths []string
}

// Ignore records paths. Safe for concurrent use.
func (l *IgnoreList) Ignore(paths ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range paths {
		if p != "" {
			l.paths = append(l.paths, filepath.Clean(p))
		}
	}
}

// Drain returns and clears the recorded paths.
func (l *IgnoreList) Drain() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.paths
	l.paths = nil

	return out
}

// ignoreSet matches a path against directory and file prefixes.
type ignoreSet []string

func (s ignoreSet) matches(path string) bool {
	path = filepath.Clean(path)
	for _, p := range s {
		if path == p || strings.HasPrefix(path, p+string(filepath.Separator)) {
			return true
		}
	}

	return false
}

func newIgnoreSet(groups ...[]string) ignoreSet {
	seen := make(map[string]bool)
	var out ignoreSet
	for _, g := range groups {
		for _, p := range g {
			if p == "" {
				continue
			}
			p = filepath.Clean(p)
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}

	return out
}
