package server

import (
	"sync"

	"github.com/telebroad/twinftp/filesystem"
)

// registry holds the destinations of uploads in progress across all sessions.
type registry struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

func newRegistry() *registry {
	return &registry{paths: make(map[string]struct{})}
}

// Reserve picks a free name for dest and registers it.
func (r *registry) Reserve(dest string, exists func(string) bool) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := filesystem.UniqueName(dest, func(p string) bool {
		_, busy := r.paths[p]
		return busy || exists(p)
	})
	r.paths[name] = struct{}{}
	return name
}

// Release unregisters name.
func (r *registry) Release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.paths, name)
}

// Busy reports whether name is being uploaded.
func (r *registry) Busy(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, busy := r.paths[name]
	return busy
}
