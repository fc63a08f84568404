// Package cache holds the per-model response caches. Each configured NER
// model owns one bounded LRU Memory; a Registry maps model identities to
// their caches and reconciles that set against the configured model list.
package cache

import (
	"errors"
	"maps"
	"time"

	"github.com/ferro-labs/ner-visualizer/internal/fingerprint"
)

// DefaultCapacity is the number of results kept per model when no capacity
// is configured.
const DefaultCapacity = 256

// ErrInvalidCapacity is returned when a cache is constructed with a
// non-positive capacity.
var ErrInvalidCapacity = errors.New("cache capacity must be a positive integer")

// Identity names one configured NER endpoint. For plain HTTP endpoints it is
// the endpoint URL.
type Identity string

// Entry is a cached NER result: entity text mapped to its predicted label,
// plus the wall-clock time the endpoint took to produce it when measured.
type Entry struct {
	Result     map[string]string
	Elapsed    time.Duration
	Timed      bool
	TextDigest fingerprint.Fingerprint
	StoredAt   time.Time
}

// ElapsedSeconds returns the measured duration in seconds and whether it
// was measured at all.
func (e Entry) ElapsedSeconds() (float64, bool) {
	if !e.Timed {
		return 0, false
	}
	return e.Elapsed.Seconds(), true
}

// clone returns a copy whose Result map is not shared with e.
func (e Entry) clone() Entry {
	e.Result = maps.Clone(e.Result)
	return e
}
