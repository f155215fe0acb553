package cache

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"
)

// Persistent is a JSON view over a Store that never fails its caller.
// Every storage error is logged and degrades to the fallback value.
// A nil Store means no persistence is available; reads return the fallback
// and writes are dropped.
type Persistent struct {
	store    Store
	log      *zap.Logger
	preserve []string
}

// NewPersistent wraps store. store may be nil.
func NewPersistent(store Store, log *zap.Logger) *Persistent {
	if log == nil {
		log = zap.NewNop()
	}
	return &Persistent{store: store, log: log.Named("cache")}
}

// Preserve marks keys that survive a quota purge. Their values are read back
// before the store is cleared and rewritten afterwards.
func (p *Persistent) Preserve(keys ...string) *Persistent {
	p.preserve = append(p.preserve, keys...)
	return p
}

// Available reports whether a backing store is configured.
func (p *Persistent) Available() bool {
	return p != nil && p.store != nil
}

// Read returns the decoded value stored under key, or fallback if it is absent,
// unreadable, or no store is available.
func Read[T any](ctx context.Context, p *Persistent, key string, fallback T) T {
	if !p.Available() {
		return fallback
	}

	data, err := p.store.Get(ctx, key)
	if errors.Is(err, ErrCacheMiss) {
		return fallback
	}
	if err != nil {
		p.log.Warn("error reading cache key", zap.String("key", key), zap.Error(err))
		return fallback
	}

	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		p.log.Warn("error decoding cache key", zap.String("key", key), zap.Error(err))
		return fallback
	}
	return value
}

// Write encodes value as JSON and stores it under key. When the store is full
// it is purged entirely; the write itself is not retried, so the caller's next
// write lands in an empty store.
func (p *Persistent) Write(ctx context.Context, key string, value any) {
	if !p.Available() {
		if p != nil {
			p.log.Debug("no persistent store, dropping write", zap.String("key", key))
		}
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		p.log.Warn("error encoding cache key", zap.String("key", key), zap.Error(err))
		return
	}

	err = p.store.Set(ctx, key, data)
	if err == nil {
		return
	}
	if errors.Is(err, ErrQuotaExceeded) {
		p.log.Warn("storage quota exceeded, clearing cache", zap.String("key", key), zap.Int("bytes", len(data)))
		p.purge(ctx)
		return
	}
	p.log.Warn("error writing cache key", zap.String("key", key), zap.Error(err))
}

func (p *Persistent) purge(ctx context.Context) {
	kept := make(map[string][]byte, len(p.preserve))
	for _, key := range p.preserve {
		if data, err := p.store.Get(ctx, key); err == nil {
			kept[key] = data
		}
	}

	if err := p.store.Clear(ctx); err != nil {
		p.log.Error("error clearing cache", zap.Error(err))
		return
	}

	for key, data := range kept {
		if err := p.store.Set(ctx, key, data); err != nil {
			p.log.Warn("preserved key lost in purge", zap.String("key", key), zap.Error(err))
		}
	}
}

// Remove deletes key.
func (p *Persistent) Remove(ctx context.Context, key string) {
	if !p.Available() {
		return
	}
	if err := p.store.Delete(ctx, key); err != nil {
		p.log.Warn("error removing cache key", zap.String("key", key), zap.Error(err))
	}
}

// Watch calls fn for every change to key made through another store instance,
// until ctx is done or the store is closed. It returns immediately when no
// store is available.
func (p *Persistent) Watch(ctx context.Context, key string, fn func(raw []byte, deleted bool)) {
	if !p.Available() {
		return
	}

	changes, unsubscribe := p.store.Subscribe()
	defer unsubscribe()

	for {
		select {
		case change, ok := <-changes:
			if !ok {
				return
			}
			if change.Key == key {
				fn(change.Value, change.Deleted)
			}
		case <-ctx.Done():
			return
		}
	}
}
