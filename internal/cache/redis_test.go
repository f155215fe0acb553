package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"payndeliver-cart/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flushRecorder struct {
	mu    sync.Mutex
	carts []*model.Cart
	err   error
}

func (r *flushRecorder) flush(ctx context.Context, carts []*model.Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.carts = append(r.carts, carts...)
	return nil
}

func (r *flushRecorder) flushed() []*model.Cart {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*model.Cart(nil), r.carts...)
}

func newTestBuffer(t *testing.T, recorder *flushRecorder) *RedisCartBuffer {
	t.Helper()
	_, client := newTestRedis(t)
	b := NewRedisCartBuffer(client, RedisBufferConfig{FlushInterval: time.Hour, KeyPrefix: "test:cart"}, recorder.flush, nil)
	t.Cleanup(func() { b.Close() })
	return b
}

func testCart(userID string, qty int) *model.Cart {
	return model.NewCart(userID, []model.LineItem{
		{ID: "p1", Name: "Pizza", Price: decimal.RequireFromString("9.50"), Quantity: qty},
	})
}

func TestRedisCartBufferAddGetRemove(t *testing.T) {
	ctx := context.Background()
	b := newTestBuffer(t, &flushRecorder{})

	got, err := b.Get(ctx, "u1")
	assert.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, b.Add(ctx, testCart("u1", 1)))
	require.NoError(t, b.Add(ctx, testCart("u1", 3)))

	got, err = b.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.Products[0].Quantity)
	assert.True(t, got.Total.Equal(decimal.RequireFromString("28.5")))

	count, err := b.Count(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.NoError(t, b.Remove(ctx, "u1"))
	got, err = b.Get(ctx, "u1")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisCartBufferFlush(t *testing.T) {
	ctx := context.Background()
	recorder := &flushRecorder{}
	b := newTestBuffer(t, recorder)

	require.NoError(t, b.Add(ctx, testCart("u1", 1)))
	require.NoError(t, b.Add(ctx, testCart("u2", 2)))

	require.NoError(t, b.Flush(ctx))
	assert.Len(t, recorder.flushed(), 2)

	count, err := b.Count(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestRedisCartBufferFlushFailureKeepsCarts(t *testing.T) {
	ctx := context.Background()
	recorder := &flushRecorder{err: errors.New("db down")}
	b := newTestBuffer(t, recorder)

	require.NoError(t, b.Add(ctx, testCart("u1", 1)))
	_, err := b.FlushBatch(ctx)
	assert.Error(t, err)

	count, err := b.Count(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), count)

	recorder.mu.Lock()
	recorder.err = nil
	recorder.mu.Unlock()

	n, err := b.FlushBatch(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRedisCartBufferCleanupStale(t *testing.T) {
	ctx := context.Background()
	b := newTestBuffer(t, &flushRecorder{})

	stale := testCart("old", 1)
	stale.UpdatedAt = time.Now().Add(-2 * StaleDataThreshold)
	require.NoError(t, b.Add(ctx, stale))
	require.NoError(t, b.Add(ctx, testCart("fresh", 1)))

	removed, err := b.CleanupStale(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, removed)

	got, err := b.Get(ctx, "fresh")
	assert.NoError(t, err)
	assert.NotNil(t, got)
	got, err = b.Get(ctx, "old")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisCartBufferCloseFlushes(t *testing.T) {
	ctx := context.Background()
	recorder := &flushRecorder{}
	_, client := newTestRedis(t)
	b := NewRedisCartBuffer(client, RedisBufferConfig{FlushInterval: time.Hour}, recorder.flush, nil)

	require.NoError(t, b.Add(ctx, testCart("u1", 1)))
	require.NoError(t, b.Close())
	assert.Len(t, recorder.flushed(), 1)
}
