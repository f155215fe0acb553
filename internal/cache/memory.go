package cache

import (
	"context"
	"sync"
)

// memoryBackend is the storage shared by every MemoryStore view.
type memoryBackend struct {
	mu      sync.RWMutex
	entries map[string][]byte
	size    int64
	quota   int64
	views   map[*MemoryStore]struct{}
}

// MemoryStore is an in-memory implementation of Store.
// Views created with Share see the same entries and are notified of each
// other's writes, the way browser tabs of one origin share local storage.
type MemoryStore struct {
	backend *memoryBackend
	hub     *hub
}

// NewMemoryStore creates an in-memory store. A positive quota limits the total
// number of key plus value bytes.
func NewMemoryStore(quotaBytes int64) *MemoryStore {
	backend := &memoryBackend{
		entries: make(map[string][]byte),
		quota:   quotaBytes,
		views:   make(map[*MemoryStore]struct{}),
	}
	return backend.newView()
}

func (b *memoryBackend) newView() *MemoryStore {
	s := &MemoryStore{backend: b, hub: newHub()}
	b.mu.Lock()
	b.views[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Share returns another view over the same entries.
func (s *MemoryStore) Share() *MemoryStore {
	return s.backend.newView()
}

// Get retrieves a value by key.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.backend.mu.RLock()
	defer s.backend.mu.RUnlock()

	value, exists := s.backend.entries[key]
	if !exists {
		return nil, ErrCacheMiss
	}

	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

// Set stores a value, failing with ErrQuotaExceeded when it would not fit.
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	b := s.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	size := b.size + int64(len(key)+len(value))
	if old, exists := b.entries[key]; exists {
		size -= int64(len(key) + len(old))
	}
	if b.quota > 0 && size > b.quota {
		return ErrQuotaExceeded
	}

	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)
	b.entries[key] = valueCopy
	b.size = size

	s.notifyOthers(Change{Key: key, Value: valueCopy})
	return nil
}

// Delete removes a value by key.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	b := s.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	old, exists := b.entries[key]
	if !exists {
		return nil
	}
	delete(b.entries, key)
	b.size -= int64(len(key) + len(old))

	s.notifyOthers(Change{Key: key, Deleted: true})
	return nil
}

// Clear removes all entries.
func (s *MemoryStore) Clear(ctx context.Context) error {
	b := s.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	for key := range b.entries {
		s.notifyOthers(Change{Key: key, Deleted: true})
	}
	b.entries = make(map[string][]byte)
	b.size = 0
	return nil
}

// Size returns the number of key plus value bytes stored.
func (s *MemoryStore) Size() int64 {
	s.backend.mu.RLock()
	defer s.backend.mu.RUnlock()
	return s.backend.size
}

// Subscribe reports writes made through other views.
func (s *MemoryStore) Subscribe() (<-chan Change, func()) {
	return s.hub.subscribe()
}

// Close detaches the view and ends its subscriptions.
func (s *MemoryStore) Close() error {
	s.backend.mu.Lock()
	delete(s.backend.views, s)
	s.backend.mu.Unlock()

	s.hub.close()
	return nil
}

// notifyOthers must be called with the backend lock held.
func (s *MemoryStore) notifyOthers(c Change) {
	for view := range s.backend.views {
		if view != s {
			view.hub.publish(c)
		}
	}
}

var _ Store = (*MemoryStore)(nil)
