package cache

import (
	"sort"
	"sync"

	"github.com/ferro-labs/ner-visualizer/internal/fingerprint"
	"github.com/ferro-labs/ner-visualizer/internal/metrics"
)

// Registry owns the per-model caches. Its lock guards only the identity to
// cache map; each Memory carries its own lock, so traffic against different
// models never contends.
//
// A cache dropped by Reconcile is simply forgotten. Operations already
// holding it finish against the discarded instance and have no further
// effect.
type Registry struct {
	mu       sync.RWMutex
	capacity int
	caches   map[Identity]*Memory
}

// ModelStats describes one model cache.
type ModelStats struct {
	Identity Identity `json:"identity"`
	Entries  int      `json:"entries"`
	Capacity int      `json:"capacity"`
}

// NewRegistry creates an empty registry whose caches hold capacity entries.
func NewRegistry(capacity int) (*Registry, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	return &Registry{
		capacity: capacity,
		caches:   make(map[Identity]*Memory),
	}, nil
}

// Capacity returns the per-model capacity.
func (r *Registry) Capacity() int { return r.capacity }

// Ensure returns the cache for id, creating an empty one on first use.
func (r *Registry) Ensure(id Identity) *Memory {
	r.mu.RLock()
	m, ok := r.caches[id]
	r.mu.RUnlock()
	if ok {
		return m
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok = r.caches[id]; ok {
		return m
	}
	m = r.newMemoryLocked(id)
	return m
}

// Reconcile makes the registry hold exactly one cache per identity in ids.
// Missing caches are created empty; caches for identities not listed are
// dropped together with their contents.
func (r *Registry) Reconcile(ids []Identity) (added, removed []Identity) {
	want := make(map[Identity]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	r.mu.Lock()
	for id := range want {
		if _, ok := r.caches[id]; !ok {
			r.newMemoryLocked(id)
			added = append(added, id)
		}
	}
	for id := range r.caches {
		if _, ok := want[id]; !ok {
			delete(r.caches, id)
			removed = append(removed, id)
		}
	}
	r.mu.Unlock()

	for _, id := range removed {
		metrics.CacheEntries.DeleteLabelValues(string(id))
	}
	metrics.CacheReconciles.WithLabelValues("added").Add(float64(len(added)))
	metrics.CacheReconciles.WithLabelValues("removed").Add(float64(len(removed)))

	sortIdentities(added)
	sortIdentities(removed)
	return added, removed
}

// ClearAll empties every cache but keeps the models registered.
func (r *Registry) ClearAll() {
	for _, m := range r.snapshot() {
		m.Clear()
	}
}

// ClearOne empties the cache for id. An unknown id ends up registered with
// an empty cache, the same as Ensure.
func (r *Registry) ClearOne(id Identity) {
	r.Ensure(id).Clear()
}

// Lookup returns the cached entry for fp under id, promoting it. The cache
// for id is created if it does not exist yet.
func (r *Registry) Lookup(id Identity, fp fingerprint.Fingerprint) (Entry, bool) {
	return r.Ensure(id).Get(fp)
}

// Peek returns the entry for fp under id without promoting it and without
// creating a cache for an unknown id.
func (r *Registry) Peek(id Identity, fp fingerprint.Fingerprint) (Entry, bool) {
	m, ok := r.get(id)
	if !ok {
		return Entry{}, false
	}
	return m.Peek(fp)
}

// LatestForText returns the newest entry cached for text under id. Unlike
// Lookup it never creates a cache, so read-only views cannot resurrect a
// model that was just removed.
func (r *Registry) LatestForText(id Identity, text string) (Entry, bool) {
	m, ok := r.get(id)
	if !ok {
		return Entry{}, false
	}
	return m.LatestForText(fingerprint.TextDigest(text))
}

// Has reports whether a cache is registered for id.
func (r *Registry) Has(id Identity) bool {
	_, ok := r.get(id)
	return ok
}

// Identities returns the registered identities in sorted order.
func (r *Registry) Identities() []Identity {
	r.mu.RLock()
	ids := make([]Identity, 0, len(r.caches))
	for id := range r.caches {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sortIdentities(ids)
	return ids
}

// Stats returns the size of every registered cache, sorted by identity.
func (r *Registry) Stats() []ModelStats {
	caches := r.snapshot()
	out := make([]ModelStats, 0, len(caches))
	for _, m := range caches {
		out = append(out, ModelStats{
			Identity: m.Identity(),
			Entries:  m.Len(),
			Capacity: m.Capacity(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

func (r *Registry) get(id Identity) (*Memory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.caches[id]
	return m, ok
}

func (r *Registry) snapshot() []*Memory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Memory, 0, len(r.caches))
	for _, m := range r.caches {
		out = append(out, m)
	}
	return out
}

// newMemoryLocked must be called with r.mu held for writing.
func (r *Registry) newMemoryLocked(id Identity) *Memory {
	// capacity was validated in NewRegistry.
	m, _ := NewMemory(id, r.capacity)
	r.caches[id] = m
	return m
}

func sortIdentities(ids []Identity) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
