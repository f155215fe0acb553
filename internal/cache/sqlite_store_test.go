package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T, path string, quota int64) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), path, quota, 20*time.Millisecond, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreSetGetDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t, filepath.Join(t.TempDir(), "store.db"), 0)

	_, err := s.Get(ctx, "cart")
	assert.ErrorIs(t, err, ErrCacheMiss)

	assert.NoError(t, s.Set(ctx, "cart", []byte(`[{"id":"a"}]`)))
	val, err := s.Get(ctx, "cart")
	assert.NoError(t, err)
	assert.Equal(t, `[{"id":"a"}]`, string(val))

	assert.NoError(t, s.Set(ctx, "cart", []byte(`[]`)))
	val, err = s.Get(ctx, "cart")
	assert.NoError(t, err)
	assert.Equal(t, `[]`, string(val))

	assert.NoError(t, s.Delete(ctx, "cart"))
	_, err = s.Get(ctx, "cart")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.db")

	first, err := NewSQLiteStore(ctx, path, 0, time.Second, nil)
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, "identity", []byte(`"user-1"`)))
	require.NoError(t, first.Close())

	second := newTestSQLiteStore(t, path, 0)
	val, err := second.Get(ctx, "identity")
	assert.NoError(t, err)
	assert.Equal(t, `"user-1"`, string(val))
}

func TestSQLiteStoreQuota(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t, filepath.Join(t.TempDir(), "store.db"), 16)

	assert.NoError(t, s.Set(ctx, "k", []byte("0123456789")))
	assert.ErrorIs(t, s.Set(ctx, "other", []byte("0123456789")), ErrQuotaExceeded)

	// The existing value of the same key does not count against the write.
	assert.NoError(t, s.Set(ctx, "k", []byte("012345678901234")))

	assert.NoError(t, s.Clear(ctx))
	assert.NoError(t, s.Set(ctx, "other", []byte("0123456789")))
}

func TestSQLiteStoreReportsOtherConnectionWrites(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.db")
	writer := newTestSQLiteStore(t, path, 0)
	reader := newTestSQLiteStore(t, path, 0)

	readerChanges, cancelReader := reader.Subscribe()
	defer cancelReader()
	writerChanges, cancelWriter := writer.Subscribe()
	defer cancelWriter()

	require.NoError(t, writer.Set(ctx, "cart", []byte(`[1]`)))

	c := receive(t, readerChanges)
	assert.Equal(t, "cart", c.Key)
	assert.Equal(t, `[1]`, string(c.Value))
	assert.False(t, c.Deleted)

	require.NoError(t, writer.Delete(ctx, "cart"))
	c = receive(t, readerChanges)
	assert.Equal(t, "cart", c.Key)
	assert.True(t, c.Deleted)

	// A store never hears about its own writes.
	assertNoChange(t, writerChanges)
}

func TestSQLiteStoreClearReportsDeletions(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.db")
	writer := newTestSQLiteStore(t, path, 0)
	require.NoError(t, writer.Set(ctx, "cart", []byte(`[]`)))

	reader := newTestSQLiteStore(t, path, 0)
	changes, cancel := reader.Subscribe()
	defer cancel()

	require.NoError(t, writer.Clear(ctx))
	c := receive(t, changes)
	assert.Equal(t, "cart", c.Key)
	assert.True(t, c.Deleted)
}

// newManualSQLiteStore never polls on its own; tests drive poll directly.
func newManualSQLiteStore(t *testing.T, path string) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), path, 0, time.Hour, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStorePurgeThenWriteWithinOnePoll(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.db")
	writer := newManualSQLiteStore(t, path)
	reader := newManualSQLiteStore(t, path)

	changes, cancel := reader.Subscribe()
	defer cancel()

	require.NoError(t, writer.Set(ctx, "cart", []byte(`["old"]`)))
	require.NoError(t, reader.poll(ctx))
	assert.Equal(t, `["old"]`, string(receive(t, changes).Value))

	require.NoError(t, writer.Clear(ctx))
	require.NoError(t, writer.Set(ctx, "cart", []byte(`["new"]`)))
	require.NoError(t, reader.poll(ctx))

	c := receive(t, changes)
	assert.Equal(t, "cart", c.Key)
	assert.False(t, c.Deleted)
	assert.Equal(t, `["new"]`, string(c.Value))
}

func TestSQLiteStoreRawDeleteThenWrite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.db")
	writer := newManualSQLiteStore(t, path)
	reader := newManualSQLiteStore(t, path)

	changes, cancel := reader.Subscribe()
	defer cancel()

	require.NoError(t, writer.Set(ctx, "identity", []byte(`"u1"`)))
	require.NoError(t, writer.Set(ctx, "cart", []byte(`["old"]`)))
	require.NoError(t, reader.poll(ctx))
	receive(t, changes)
	receive(t, changes)

	// Deleting the newest row must not let the next write reuse its revision.
	_, err := writer.db.ExecContext(ctx, `DELETE FROM kv WHERE key = 'cart'`)
	require.NoError(t, err)
	require.NoError(t, writer.Set(ctx, "cart", []byte(`["new"]`)))
	require.NoError(t, reader.poll(ctx))

	c := receive(t, changes)
	assert.Equal(t, "cart", c.Key)
	assert.Equal(t, `["new"]`, string(c.Value))
	assertNoChange(t, changes)
}

func TestSQLiteStoreRevisionsKeepIncreasingAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.db")

	first := newManualSQLiteStore(t, path)
	require.NoError(t, first.Set(ctx, "cart", []byte(`[1]`)))
	require.NoError(t, first.Set(ctx, "cart", []byte(`[2]`)))
	before := first.revisions["cart"].rev
	require.NoError(t, first.Clear(ctx))
	require.NoError(t, first.Close())

	second := newManualSQLiteStore(t, path)
	require.NoError(t, second.Set(ctx, "cart", []byte(`[3]`)))
	assert.Greater(t, second.revisions["cart"].rev, before)
}
