// Package registry exposes the DLP registry collaborator: the mapping from
// entity id to its associated token and LP position.
package registry

import (
	"context"
	"sort"
	"sync"
)

// Entry is one DLP registry record. A zero TokenAddress means the entity has
// no associated token, which routes it to the direct-burn fallback path.
type Entry struct {
	TokenAddress string
	LpPositionID int64
}

// HasToken reports whether the entity has an associated token.
func (e *Entry) HasToken() bool {
	return e != nil && e.TokenAddress != ""
}

// DlpRegistry looks up DLP entity records.
type DlpRegistry interface {
	// Lookup returns the entry for an entity. Unknown entities return a
	// zero entry, not an error.
	Lookup(ctx context.Context, entityID int64) (*Entry, error)
}

// StaticRegistry serves entries from a fixed map, typically loaded from
// configuration.
type StaticRegistry struct {
	mu      sync.RWMutex
	entries map[int64]Entry
}

// NewStaticRegistry creates a registry from entity id → entry.
func NewStaticRegistry(entries map[int64]Entry) *StaticRegistry {
	copied := make(map[int64]Entry, len(entries))
	for id, e := range entries {
		copied[id] = e
	}
	return &StaticRegistry{entries: copied}
}

// Lookup implements DlpRegistry.
func (r *StaticRegistry) Lookup(_ context.Context, entityID int64) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[entityID]
	if !ok {
		return &Entry{}, nil
	}
	return &Entry{TokenAddress: e.TokenAddress, LpPositionID: e.LpPositionID}, nil
}

// Register adds or replaces an entry.
func (r *StaticRegistry) Register(entityID int64, e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[entityID] = e
}

// ActiveEntities returns all registered entity ids in ascending order.
func (r *StaticRegistry) ActiveEntities(_ context.Context) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int64, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Compile-time interface check.
var _ DlpRegistry = (*StaticRegistry)(nil)
