package cache

import (
	"context"
	"sync"
)

// Store is a durable byte-level key-value store.
// Implementations may be shared by several processes or "tabs"; Subscribe reports
// changes made through other Store instances so dependent state can refresh.
type Store interface {
	// Get retrieves a value by key. Returns ErrCacheMiss if not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value. Returns ErrQuotaExceeded if the store is full.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes a value by key.
	Delete(ctx context.Context, key string) error

	// Clear removes all entries from the store.
	Clear(ctx context.Context) error

	// Subscribe returns a channel of changes made by other instances and a
	// function that ends the subscription.
	Subscribe() (<-chan Change, func())

	// Close releases the store. Subscription channels are closed.
	Close() error
}

// Change describes a write made through another Store instance.
type Change struct {
	Key     string
	Value   []byte
	Deleted bool
}

// Common cache errors
type CacheError string

func (e CacheError) Error() string { return string(e) }

const (
	// ErrCacheMiss indicates the key was not found in cache.
	ErrCacheMiss CacheError = "cache miss"

	// ErrQuotaExceeded indicates the store refused a write for lack of space.
	ErrQuotaExceeded CacheError = "storage quota exceeded"

	// ErrStorageUnavailable indicates no persistent store is configured.
	ErrStorageUnavailable CacheError = "storage unavailable"
)

// subscriberBuffer bounds each subscriber channel; changes are dropped for a
// subscriber that falls this far behind.
const subscriberBuffer = 64

// hub fans changes out to subscribers.
type hub struct {
	mu     sync.Mutex
	next   int
	subs   map[int]chan Change
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan Change)}
}

func (h *hub) subscribe() (<-chan Change, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Change, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.next
	h.next++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
		})
	}
}

func (h *hub) publish(c Change) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
