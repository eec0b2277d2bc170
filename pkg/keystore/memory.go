package keystore

import (
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store. Data is lost when the process exits.
type MemoryStore struct {
	mu      sync.RWMutex
	spheres map[string]*Sphere
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{spheres: make(map[string]*Sphere)}
}

// LoadSpheres returns all spheres ordered by reference.
func (m *MemoryStore) LoadSpheres() ([]*Sphere, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Sphere, 0, len(m.spheres))
	for _, s := range m.spheres {
		result = append(result, s.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ReferenceID < result[j].ReferenceID })
	return result, nil
}

// SaveSphere stores or replaces a sphere.
func (m *MemoryStore) SaveSphere(s *Sphere) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spheres[s.ReferenceID] = s.Clone()
	return nil
}

// DeleteSphere removes a sphere. Deleting an unknown sphere succeeds.
func (m *MemoryStore) DeleteSphere(referenceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.spheres, referenceID)
	return nil
}

// Clear removes all stored data.
func (m *MemoryStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spheres = make(map[string]*Sphere)
}

var _ Store = (*MemoryStore)(nil)
