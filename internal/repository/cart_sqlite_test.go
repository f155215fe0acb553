package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"payndeliver-cart/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteRepo(t *testing.T) *SQLiteCartRepository {
	t.Helper()
	repo, err := NewSQLiteCartRepository(filepath.Join(t.TempDir(), "carts.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func sampleItems() []model.LineItem {
	return []model.LineItem{
		{ID: "p1", Name: "Jollof", Price: decimal.RequireFromString("10"), Quantity: 2, Image: "j.png"},
		{ID: "p2", Name: "Suya", Price: decimal.RequireFromString("5"), Quantity: 3},
	}
}

func TestSQLiteCartRepositoryUpsertAndGet(t *testing.T) {
	ctx := context.Background()
	repo := newTestSQLiteRepo(t)

	missing, err := repo.GetCart(ctx, "u1")
	assert.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, repo.UpsertCart(ctx, model.NewCart("u1", sampleItems())))

	cart, err := repo.GetCart(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, cart)
	assert.Equal(t, "u1", cart.UserID)
	require.Len(t, cart.Products, 2)
	assert.Equal(t, "p1", cart.Products[0].ID)
	assert.Equal(t, "j.png", cart.Products[0].Image)
	assert.True(t, cart.Total.Equal(decimal.NewFromInt(35)))
	assert.WithinDuration(t, time.Now(), cart.UpdatedAt, time.Minute)

	// Whole-document replace.
	require.NoError(t, repo.UpsertCart(ctx, model.NewCart("u1", []model.LineItem{})))
	cart, err = repo.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.NotNil(t, cart.Products)
	assert.Empty(t, cart.Products)
	assert.True(t, cart.Total.IsZero())
}

func TestSQLiteCartRepositoryBatchUpsert(t *testing.T) {
	ctx := context.Background()
	repo := newTestSQLiteRepo(t)

	require.NoError(t, repo.BatchUpsertCarts(ctx, nil))
	require.NoError(t, repo.BatchUpsertCarts(ctx, []*model.Cart{
		model.NewCart("a", sampleItems()),
		model.NewCart("b", sampleItems()[:1]),
	}))

	stats, err := repo.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats["total_carts"])
	assert.Contains(t, stats, "last_update")
	assert.Contains(t, stats, "db_size_bytes")
}

func TestSQLiteCartRepositoryDelete(t *testing.T) {
	ctx := context.Background()
	repo := newTestSQLiteRepo(t)
	require.NoError(t, repo.UpsertCart(ctx, model.NewCart("u1", sampleItems())))

	deleted, err := repo.DeleteCart(ctx, "u1")
	assert.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = repo.DeleteCart(ctx, "u1")
	assert.NoError(t, err)
	assert.False(t, deleted)
}

func TestSQLiteCartRepositoryDeleteInactive(t *testing.T) {
	ctx := context.Background()
	repo := newTestSQLiteRepo(t)

	old := model.NewCart("old", sampleItems())
	old.UpdatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, repo.UpsertCart(ctx, old))
	require.NoError(t, repo.UpsertCart(ctx, model.NewCart("fresh", sampleItems())))

	deleted, err := repo.DeleteInactiveCarts(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	cart, err := repo.GetCart(ctx, "old")
	assert.NoError(t, err)
	assert.Nil(t, cart)
	cart, err = repo.GetCart(ctx, "fresh")
	assert.NoError(t, err)
	assert.NotNil(t, cart)
}

func TestSQLiteCartRepositoryPing(t *testing.T) {
	repo := newTestSQLiteRepo(t)
	assert.NoError(t, repo.Ping(context.Background()))
}
