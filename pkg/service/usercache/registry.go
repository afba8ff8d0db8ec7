package usercache

import (
	"sync"

	"github.com/secmon-lab/mentionist/pkg/domain/interfaces"
)

// Registry holds one Cache per workspace session
type Registry struct {
	lookup interfaces.UserLookup

	mu     sync.Mutex
	caches map[string]*Cache
}

// NewRegistry creates a Registry whose caches share lookup
func NewRegistry(lookup interfaces.UserLookup) *Registry {
	return &Registry{
		lookup: lookup,
		caches: make(map[string]*Cache),
	}
}

// For returns the cache of workspaceID, creating it on first use
func (r *Registry) For(workspaceID string) *Cache {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.caches[workspaceID]; ok {
		return c
	}
	c := New(r.lookup, WithWorkspaceID(workspaceID))
	r.caches[workspaceID] = c
	return c
}
