package store

import (
	"bytes"
	"sort"
	"strconv"
	"sync"
)

// MemoryBackend keeps partitions in process memory. Data does not survive a
// restart; use it for tests and throwaway environments.
type MemoryBackend struct {
	mu         sync.RWMutex
	claims     map[PartitionID]string
	partitions map[PartitionID]map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		claims:     make(map[PartitionID]string),
		partitions: make(map[PartitionID]map[string][]byte),
	}
}

// Claim binds a partition to name
func (m *MemoryBackend) Claim(id PartitionID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.claims[id]; ok && existing != name {
		return claimConflict(id, existing, name)
	}
	m.claims[id] = name
	return nil
}

func (m *MemoryBackend) partition(id PartitionID) map[string][]byte {
	p, ok := m.partitions[id]
	if !ok {
		p = make(map[string][]byte)
		m.partitions[id] = p
	}
	return p
}

// Get returns a copy of the value stored under key
func (m *MemoryBackend) Get(id PartitionID, key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.partitions[id][string(key)]
	if !ok {
		return nil, false, nil
	}
	return clone(v), true, nil
}

// Insert stores value if key is absent
func (m *MemoryBackend) Insert(id PartitionID, key, value []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.partition(id)
	if _, ok := p[string(key)]; ok {
		return false, nil
	}
	p[string(key)] = clone(value)
	return true, nil
}

// Replace overwrites value if key is present
func (m *MemoryBackend) Replace(id PartitionID, key, value []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.partition(id)
	if _, ok := p[string(key)]; !ok {
		return false, nil
	}
	p[string(key)] = clone(value)
	return true, nil
}

// Put inserts or overwrites
func (m *MemoryBackend) Put(id PartitionID, key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.partition(id)[string(key)] = clone(value)
	return nil
}

// Delete removes key and reports whether it existed
func (m *MemoryBackend) Delete(id PartitionID, key []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.partition(id)
	if _, ok := p[string(key)]; !ok {
		return false, nil
	}
	delete(p, string(key))
	return true, nil
}

// Scan visits a snapshot of the partition in key order. The lock is released
// before fn runs so callbacks may use the backend.
func (m *MemoryBackend) Scan(id PartitionID, fn func(key, value []byte) bool) error {
	m.mu.RLock()
	p := m.partitions[id]
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	values := make(map[string][]byte, len(p))
	for _, k := range keys {
		values[k] = clone(p[k])
	}
	m.mu.RUnlock()

	sort.Strings(keys)
	for _, k := range keys {
		if !fn([]byte(k), values[k]) {
			return nil
		}
	}
	return nil
}

// LastKey returns the greatest key in the partition
func (m *MemoryBackend) LastKey(id PartitionID) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var last []byte
	found := false
	for k := range m.partitions[id] {
		if !found || bytes.Compare([]byte(k), last) > 0 {
			last = []byte(k)
			found = true
		}
	}
	return last, found, nil
}

// Clear drops every entry of the partition, keeping its claim
func (m *MemoryBackend) Clear(id PartitionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.partitions[id] = make(map[string][]byte)
	return nil
}

// HealthCheck always succeeds
func (m *MemoryBackend) HealthCheck() error {
	return nil
}

// Close is a no-op
func (m *MemoryBackend) Close() error {
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return append([]byte(nil), b...)
}

func partitionLabel(id PartitionID) string {
	return "partition=" + strconv.Itoa(int(id))
}
