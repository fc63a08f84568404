package admin

import (
	"errors"
	"fmt"
	"sync"
	"time"

	nervis "github.com/ferro-labs/ner-visualizer"
)

// ErrVersionNotFound is returned by Rollback for an unknown version.
var ErrVersionNotFound = errors.New("model list version not found")

// Reloader is the part of *nervis.Visualizer the manager drives.
type Reloader interface {
	Models() []nervis.ModelConfig
	ReloadModels(models []nervis.ModelConfig) (nervis.ReloadResult, error)
}

// ModelHistoryEntry is one applied model list.
type ModelHistoryEntry struct {
	Version        int                  `json:"version"`
	UpdatedAt      time.Time            `json:"updated_at"`
	Models         []nervis.ModelConfig `json:"models"`
	RolledBackFrom *int                 `json:"rolled_back_from,omitempty"`
}

// ModelManager connects runtime model list changes to optional persistent
// storage and keeps an in-memory history for rollback.
type ModelManager struct {
	mu      sync.Mutex
	v       Reloader
	initial []nervis.ModelConfig
	store   ModelStore
	history []ModelHistoryEntry
	now     func() time.Time
}

// NewModelManager wraps v. When store holds a saved model list it replaces
// the configured one.
func NewModelManager(v Reloader, store ModelStore) (*ModelManager, error) {
	if v == nil {
		return nil, fmt.Errorf("visualizer is required")
	}

	m := &ModelManager{
		v:       v,
		initial: v.Models(),
		store:   store,
		now:     time.Now,
	}

	if store != nil {
		persisted, ok, err := store.Load()
		if err != nil {
			return nil, err
		}
		if ok {
			if _, err := v.ReloadModels(persisted); err != nil {
				return nil, fmt.Errorf("reload persisted models: %w", err)
			}
		}
	}
	m.appendLocked(v.Models(), nil)
	return m, nil
}

// Models returns the current model list.
func (m *ModelManager) Models() []nervis.ModelConfig {
	return m.v.Models()
}

// ReloadModels applies models, persists them and records a history entry.
func (m *ModelManager) ReloadModels(models []nervis.ModelConfig) (nervis.ReloadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyLocked(models, nil)
}

// ResetModels restores the model list the process started with and drops
// the saved one.
func (m *ModelManager) ResetModels() (nervis.ReloadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, err := m.v.ReloadModels(m.initial)
	if err != nil {
		return nervis.ReloadResult{}, err
	}
	if m.store != nil {
		if err := m.store.Delete(); err != nil {
			return res, err
		}
	}
	m.appendLocked(m.v.Models(), nil)
	return res, nil
}

// History returns every applied model list, oldest first.
func (m *ModelManager) History() []ModelHistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ModelHistoryEntry, len(m.history))
	copy(out, m.history)
	return out
}

// Rollback re-applies the model list recorded as version.
func (m *ModelManager) Rollback(version int) (nervis.ReloadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var target *ModelHistoryEntry
	for i := range m.history {
		if m.history[i].Version == version {
			entry := m.history[i]
			target = &entry
			break
		}
	}
	if target == nil {
		return nervis.ReloadResult{}, fmt.Errorf("%w: %d", ErrVersionNotFound, version)
	}
	from := m.history[len(m.history)-1].Version
	return m.applyLocked(target.Models, &from)
}

func (m *ModelManager) applyLocked(models []nervis.ModelConfig, rolledBackFrom *int) (nervis.ReloadResult, error) {
	res, err := m.v.ReloadModels(models)
	if err != nil {
		return nervis.ReloadResult{}, err
	}
	applied := m.v.Models()
	if m.store != nil {
		if err := m.store.Save(applied); err != nil {
			return res, fmt.Errorf("models applied but not saved: %w", err)
		}
	}
	m.appendLocked(applied, rolledBackFrom)
	return res, nil
}

func (m *ModelManager) appendLocked(models []nervis.ModelConfig, rolledBackFrom *int) {
	m.history = append(m.history, ModelHistoryEntry{
		Version:        len(m.history) + 1,
		UpdatedAt:      m.now().UTC(),
		Models:         models,
		RolledBackFrom: rolledBackFrom,
	})
}
