package compliance

import (
	"context"
	"slices"
	"sync"
)

// MemoryStore implements Store using in-memory maps (for demo/testing).
type MemoryStore struct {
	mu     sync.RWMutex
	alerts map[string]*Alert
}

// NewMemoryStore creates an in-memory alert store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts: make(map[string]*Alert),
	}
}

func (m *MemoryStore) Create(_ context.Context, a *Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a.IsActive() {
		for _, existing := range m.alerts {
			if existing.IsActive() && existing.RecordID == a.RecordID && existing.Rule == a.Rule {
				return ErrDuplicateActive
			}
		}
	}
	m.alerts[a.ID] = a.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.alerts[id]
	if !ok {
		return nil, ErrAlertNotFound
	}
	return a.Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, a *Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.alerts[a.ID]; !ok {
		return ErrAlertNotFound
	}
	m.alerts[a.ID] = a.Clone()
	return nil
}

func (m *MemoryStore) FindActive(_ context.Context, recordID, rule string) (*Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.alerts {
		if a.IsActive() && a.RecordID == recordID && a.Rule == rule {
			return a.Clone(), nil
		}
	}
	return nil, ErrAlertNotFound
}

func (m *MemoryStore) List(_ context.Context, f Filter) ([]*Alert, error) {
	m.mu.RLock()
	result := make([]*Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if f.Matches(a) {
			result = append(result, a.Clone())
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(result, newestFirst)
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}
