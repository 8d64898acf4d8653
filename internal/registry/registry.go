// Package registry holds the set of shared files: a name -> path mapping
// read by the data plane and mutated by the control plane.
package registry

import (
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fruitsalade/fileshare/internal/metrics"
)

// ErrNoName is returned when no share name can be derived from a path.
var ErrNoName = errors.New("path has no file name")

// Registry maps share names to filesystem paths. It is safe for concurrent
// use; locks are held only for the map operation itself.
type Registry struct {
	mu    sync.RWMutex
	files map[string]string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{files: make(map[string]string)}
}

// Add shares path under name, replacing any previous path for that name.
func (r *Registry) Add(name, path string) {
	r.mu.Lock()
	r.files[name] = path
	n := len(r.files)
	r.mu.Unlock()
	metrics.SetRegistryFiles(n)
}

// Remove unshares name. Removing an unknown name is a no-op.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	delete(r.files, name)
	n := len(r.files)
	r.mu.Unlock()
	metrics.SetRegistryFiles(n)
}

// RemoveIf unshares name only while it still maps to path, so pruning a
// stale entry never drops a newer Add for the same name. It reports whether
// the entry was removed.
func (r *Registry) RemoveIf(name, path string) bool {
	r.mu.Lock()
	current, ok := r.files[name]
	if ok && current == path {
		delete(r.files, name)
	}
	n := len(r.files)
	r.mu.Unlock()
	metrics.SetRegistryFiles(n)
	return ok && current == path
}

// Lookup returns the path shared under name.
func (r *Registry) Lookup(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	path, ok := r.files[name]
	return path, ok
}

// List returns a snapshot of all name -> path pairs.
func (r *Registry) List() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.files))
	for name, path := range r.files {
		out[name] = path
	}
	return out
}

// Names returns the shared names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.files))
	for name := range r.files {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Len returns the number of shared files.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.files)
}

// DeriveName returns the final segment of path, e.g. "report.txt" for
// "/a/b/report.txt". Trailing separators are ignored.
func DeriveName(path string) (string, error) {
	trimmed := strings.TrimRight(path, string(filepath.Separator))
	if trimmed == "" {
		return "", ErrNoName
	}
	name := filepath.Base(trimmed)
	switch name {
	case ".", "..", string(filepath.Separator):
		return "", ErrNoName
	}
	return name, nil
}
