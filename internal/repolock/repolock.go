// Package repolock serializes operations per repository path. Concurrent
// work on the same working tree corrupts git state; work on distinct trees
// is independent.
package repolock

import (
	"path/filepath"
	"sync"
)

// Registry maps canonicalized repository paths to their locks. Locks are
// created lazily, exactly once per path, and never removed: the set of
// repositories a single user touches stays small.
type Registry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{locks: make(map[string]*sync.Mutex)}
}

// Lock returns the mutex for a repository path, creating it on first use.
// The same path always yields the same mutex.
func (r *Registry) Lock(path string) *sync.Mutex {
	key := filepath.Clean(path)

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.locks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	r.locks[key] = l
	return l
}

// With runs fn while holding the repository's lock. The lock is released
// even if fn panics.
func (r *Registry) With(path string, fn func()) {
	l := r.Lock(path)
	l.Lock()
	defer l.Unlock()
	fn()
}

// Len reports how many repository locks exist.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}

// ValidCommitHash reports whether s looks like a git object name: 7 to 40
// lowercase hex characters.
func ValidCommitHash(s string) bool {
	if len(s) < 7 || len(s) > 40 {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
