package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"payndeliver-cart/internal/model"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Buffer configuration
const (
	MaxBatchSize       = 50
	FlushTimeout       = 60 * time.Second
	StaleDataThreshold = 24 * time.Hour
	CleanupInterval    = 5 * time.Minute
)

// FlushFunc is called to persist buffered carts to the database.
type FlushFunc func(ctx context.Context, carts []*model.Cart) error

var deleteIfUnchangedScript = redis.NewScript(`
	if redis.call("HGET", KEYS[1], ARGV[1]) == ARGV[2] then
		redis.call("HDEL", KEYS[1], ARGV[1])
		redis.call("SREM", KEYS[2], ARGV[1])
		return 1
	else
		return 0
	end
`)

// RedisCartBuffer uses Redis for write-behind caching of cart records.
// Each user has at most one pending record; a newer upsert replaces it.
type RedisCartBuffer struct {
	client        *redis.Client
	flushFunc     FlushFunc
	log           *zap.Logger
	flushTicker   *time.Ticker
	cleanupTicker *time.Ticker
	stopFlush     chan struct{}
	stopOnce      sync.Once
	done          sync.WaitGroup
	keyPrefix     string
}

// RedisBufferConfig holds configuration for the Redis buffer.
type RedisBufferConfig struct {
	FlushInterval time.Duration
	KeyPrefix     string
}

// NewRedisCartBuffer creates a Redis-backed cart buffer and starts its
// background flush and cleanup loops. The caller owns the redis.Client.
func NewRedisCartBuffer(client *redis.Client, cfg RedisBufferConfig, flushFunc FlushFunc, log *zap.Logger) *RedisCartBuffer {
	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "payndeliver:cart"
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	b := &RedisCartBuffer{
		client:        client,
		flushFunc:     flushFunc,
		log:           log.Named("cart-buffer"),
		flushTicker:   time.NewTicker(cfg.FlushInterval),
		cleanupTicker: time.NewTicker(CleanupInterval),
		stopFlush:     make(chan struct{}),
		keyPrefix:     keyPrefix,
	}

	b.done.Add(2)
	go b.backgroundFlush()
	go b.backgroundCleanup()

	b.log.Info("started",
		zap.String("prefix", keyPrefix),
		zap.Duration("flush_interval", cfg.FlushInterval),
		zap.Int("batch", MaxBatchSize))
	return b
}

func (b *RedisCartBuffer) bufferKey() string {
	return b.keyPrefix + ":buffer"
}

func (b *RedisCartBuffer) pendingKey() string {
	return b.keyPrefix + ":pending"
}

// Add buffers a cart upsert in Redis.
func (b *RedisCartBuffer) Add(ctx context.Context, c *model.Cart) error {
	jsonData, err := json.Marshal(c)
	if err != nil {
		return err
	}

	pipe := b.client.Pipeline()
	pipe.HSet(ctx, b.bufferKey(), c.UserID, jsonData)
	pipe.SAdd(ctx, b.pendingKey(), c.UserID)
	_, err = pipe.Exec(ctx)
	return err
}

// Get retrieves a buffered cart, or nil if none is pending.
func (b *RedisCartBuffer) Get(ctx context.Context, userID string) (*model.Cart, error) {
	data, err := b.client.HGet(ctx, b.bufferKey(), userID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var c model.Cart
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}

	return &c, nil
}

// Remove drops a pending cart without flushing it.
func (b *RedisCartBuffer) Remove(ctx context.Context, userID string) error {
	pipe := b.client.Pipeline()
	pipe.HDel(ctx, b.bufferKey(), userID)
	pipe.SRem(ctx, b.pendingKey(), userID)
	_, err := pipe.Exec(ctx)
	return err
}

// Count returns the number of pending carts.
func (b *RedisCartBuffer) Count(ctx context.Context) (int64, error) {
	return b.client.SCard(ctx, b.pendingKey()).Result()
}

// FlushBatch writes up to MaxBatchSize carts to the database.
// A cart replaced while the batch was being written stays pending.
func (b *RedisCartBuffer) FlushBatch(ctx context.Context) (int, error) {
	userIDs, err := b.client.SRandMemberN(ctx, b.pendingKey(), MaxBatchSize).Result()
	if err != nil {
		return 0, err
	}

	if len(userIDs) == 0 {
		return 0, nil
	}

	carts := make([]*model.Cart, 0, len(userIDs))
	originalData := make(map[string]string)

	for _, userID := range userIDs {
		data, err := b.client.HGet(ctx, b.bufferKey(), userID).Bytes()
		if err == redis.Nil {
			b.client.SRem(ctx, b.pendingKey(), userID)
			continue
		}
		if err != nil {
			b.log.Warn("error reading buffered cart", zap.String("user_id", userID), zap.Error(err))
			continue
		}

		originalData[userID] = string(data)

		var c model.Cart
		if err := json.Unmarshal(data, &c); err != nil {
			b.log.Warn("dropping unreadable buffered cart", zap.String("user_id", userID), zap.Error(err))
			b.client.HDel(ctx, b.bufferKey(), userID)
			b.client.SRem(ctx, b.pendingKey(), userID)
			delete(originalData, userID)
			continue
		}
		carts = append(carts, &c)
	}

	if len(carts) == 0 {
		return 0, nil
	}

	if err := b.flushFunc(ctx, carts); err != nil {
		b.log.Error("flush failed", zap.Int("carts", len(carts)), zap.Error(err))
		return 0, err
	}

	pipe := b.client.Pipeline()
	for userID, rawJSON := range originalData {
		deleteIfUnchangedScript.Eval(ctx, pipe, []string{b.bufferKey(), b.pendingKey()}, userID, rawJSON)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		b.log.Warn("error clearing flushed carts", zap.Error(err))
	}

	b.log.Debug("flushed carts", zap.Int("carts", len(carts)))
	return len(carts), nil
}

// Flush writes every buffered cart to the database. It stops early if a
// batch leaves the pending set no smaller.
func (b *RedisCartBuffer) Flush(ctx context.Context) error {
	remaining, err := b.Count(ctx)
	if err != nil {
		return err
	}
	for remaining > 0 {
		flushed, err := b.FlushBatch(ctx)
		if err != nil {
			return err
		}
		if flushed == 0 {
			return nil
		}
		left, err := b.Count(ctx)
		if err != nil {
			return err
		}
		if left >= remaining {
			b.log.Warn("flush made no progress", zap.Int64("pending", left))
			return nil
		}
		remaining = left
	}
	return nil
}

// CleanupStale removes buffered carts older than StaleDataThreshold.
func (b *RedisCartBuffer) CleanupStale(ctx context.Context) (int, error) {
	userIDs, err := b.client.SMembers(ctx, b.pendingKey()).Result()
	if err != nil {
		return 0, err
	}

	if len(userIDs) == 0 {
		return 0, nil
	}

	staleThreshold := time.Now().Add(-StaleDataThreshold)
	staleCount := 0
	pipe := b.client.Pipeline()

	for _, userID := range userIDs {
		data, err := b.client.HGet(ctx, b.bufferKey(), userID).Bytes()
		if err == redis.Nil {
			pipe.SRem(ctx, b.pendingKey(), userID)
			continue
		}
		if err != nil {
			continue
		}

		var c model.Cart
		if err := json.Unmarshal(data, &c); err != nil || c.UpdatedAt.Before(staleThreshold) {
			pipe.HDel(ctx, b.bufferKey(), userID)
			pipe.SRem(ctx, b.pendingKey(), userID)
			staleCount++
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	if staleCount > 0 {
		b.log.Info("cleaned up stale buffered carts", zap.Int("carts", staleCount))
	}

	return staleCount, nil
}

func (b *RedisCartBuffer) backgroundFlush() {
	defer b.done.Done()
	for {
		select {
		case <-b.flushTicker.C:
			ctx, cancel := context.WithTimeout(context.Background(), FlushTimeout)
			if _, err := b.FlushBatch(ctx); err != nil {
				b.log.Error("background flush failed", zap.Error(err))
			}
			cancel()
		case <-b.stopFlush:
			b.log.Info("shutdown: flushing remaining carts")
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			if err := b.Flush(ctx); err != nil {
				b.log.Error("shutdown flush failed", zap.Error(err))
			}
			cancel()
			return
		}
	}
}

func (b *RedisCartBuffer) backgroundCleanup() {
	defer b.done.Done()
	for {
		select {
		case <-b.cleanupTicker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if _, err := b.CleanupStale(ctx); err != nil {
				b.log.Warn("stale cleanup failed", zap.Error(err))
			}
			cancel()
		case <-b.stopFlush:
			return
		}
	}
}

// Close stops the buffer after a final flush. The redis client stays open.
func (b *RedisCartBuffer) Close() error {
	b.stopOnce.Do(func() {
		b.flushTicker.Stop()
		b.cleanupTicker.Stop()
		close(b.stopFlush)
	})
	b.done.Wait()
	return nil
}
