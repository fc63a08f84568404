package cache

import (
	"fmt"
	"slices"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/ferro-labs/ner-visualizer/internal/fingerprint"
	"github.com/ferro-labs/ner-visualizer/internal/metrics"
)

// Memory is a thread-safe, fixed-capacity LRU of NER results for one model.
// A single mutex covers lookup, promotion and eviction.
type Memory struct {
	mu       sync.Mutex
	id       Identity
	capacity int
	lru      *simplelru.LRU[fingerprint.Fingerprint, Entry]
}

// NewMemory creates an empty cache for id holding at most capacity entries.
func NewMemory(id Identity, capacity int) (*Memory, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	lru, err := simplelru.NewLRU[fingerprint.Fingerprint, Entry](capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &Memory{id: id, capacity: capacity, lru: lru}, nil
}

// Identity returns the model identity this cache belongs to.
func (m *Memory) Identity() Identity { return m.id }

// Capacity returns the maximum number of entries.
func (m *Memory) Capacity() int { return m.capacity }

// Get returns the entry for fp and marks it most recently used. A miss
// leaves the recency order untouched.
func (m *Memory) Get(fp fingerprint.Fingerprint) (Entry, bool) {
	m.mu.Lock()
	entry, ok := m.lru.Get(fp)
	m.mu.Unlock()

	if !ok {
		metrics.CacheLookups.WithLabelValues(string(m.id), "miss").Inc()
		return Entry{}, false
	}
	metrics.CacheLookups.WithLabelValues(string(m.id), "hit").Inc()
	return entry.clone(), true
}

// Peek returns the entry for fp without changing its recency.
func (m *Memory) Peek(fp fingerprint.Fingerprint) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.lru.Peek(fp)
	if !ok {
		return Entry{}, false
	}
	return entry.clone(), true
}

// Set stores entry under fp as the most recently used item. Storing a new
// key into a full cache evicts the least recently used entry.
func (m *Memory) Set(fp fingerprint.Fingerprint, entry Entry) {
	entry = entry.clone()

	m.mu.Lock()
	evicted := m.lru.Add(fp, entry)
	n := m.lru.Len()
	m.mu.Unlock()

	if evicted {
		metrics.CacheEvictions.WithLabelValues(string(m.id)).Inc()
	}
	metrics.CacheEntries.WithLabelValues(string(m.id)).Set(float64(n))
}

// LatestForText returns the most recently used entry produced for the text
// with the given digest, whatever extra arguments it was requested with.
// Recency is not changed.
func (m *Memory) LatestForText(digest fingerprint.Fingerprint) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Keys are ordered oldest to newest.
	keys := m.lru.Keys()
	for i := len(keys) - 1; i >= 0; i-- {
		entry, ok := m.lru.Peek(keys[i])
		if ok && entry.TextDigest == digest {
			return entry.clone(), true
		}
	}
	return Entry{}, false
}

// Keys returns the cached fingerprints from most to least recently used.
func (m *Memory) Keys() []fingerprint.Fingerprint {
	m.mu.Lock()
	keys := m.lru.Keys()
	m.mu.Unlock()
	slices.Reverse(keys)
	return keys
}

// Len returns the number of entries currently cached.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Len()
}

// Clear removes all entries.
func (m *Memory) Clear() {
	m.mu.Lock()
	m.lru.Purge()
	m.mu.Unlock()
	metrics.CacheEntries.WithLabelValues(string(m.id)).Set(0)
}
