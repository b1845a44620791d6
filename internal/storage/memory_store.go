package storage

import (
	"bytes"
	"io"
	"sort"
	"sync"
)

// MemoryStore implements BlobStore with in-memory storage.
// Uses sync.RWMutex for thread-safe concurrent access.
type MemoryStore struct {
	mu   sync.RWMutex      // Protects concurrent access
	data map[string][]byte // Object storage
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
	}
}

// Exists reports whether name is stored.
func (m *MemoryStore) Exists(name string) bool {
	if ValidateName(name) != nil {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.data[name]
	return exists
}

// Open returns a reader over a copy of the stored value so later writes
// cannot change bytes that are already being streamed.
func (m *MemoryStore) Open(name string) (io.ReadCloser, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.data[name]
	if !exists {
		return nil, ErrNotFound
	}

	result := make([]byte, len(value))
	copy(result, value)
	return io.NopCloser(bytes.NewReader(result)), nil
}

// Write drains r before taking the lock, so a failed or slow stream never
// exposes a partial object.
func (m *MemoryStore) Write(name string, r io.Reader) (int64, error) {
	if err := ValidateName(name); err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	n, err := buf.ReadFrom(r)
	if err != nil {
		return n, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[name] = buf.Bytes()

	return n, nil
}

// List returns all object names in sorted order.
func (m *MemoryStore) List() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.data))
	for name := range m.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Stats returns storage statistics
func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var totalBytes int64
	for _, value := range m.data {
		totalBytes += int64(len(value))
	}

	return StoreStats{
		Objects: len(m.data),
		Bytes:   totalBytes,
	}
}
