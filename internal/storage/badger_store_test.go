package storage

import (
	"context"
	"testing"

	"github.com/annel0/worldstore/internal/chunk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := NewBadgerStore(t.TempDir())
	require.NoError(t, err, "Не удалось создать хранилище")
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBadgerStore_ApplyGetScan(t *testing.T) {
	ctx := context.Background()
	store := setupBadgerStore(t)

	require.NoError(t, store.Apply(ctx, []Mutation{
		Put("overworld/0/0/legacy", []byte("a")),
		Put("overworld/0/1/legacy", []byte("b")),
		Put("nether/0/0/legacy", []byte("c")),
	}))

	val, err := store.Get(ctx, "overworld/0/1/legacy")
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), val)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	var keys []string
	require.NoError(t, store.Scan(ctx, "overworld/", func(k string) error {
		keys = append(keys, k)
		return nil
	}))
	assert.Equal(t, []string{"overworld/0/0/legacy", "overworld/0/1/legacy"}, keys)

	require.NoError(t, store.Apply(ctx, []Mutation{Del("overworld/0/0/legacy"), Put("x", []byte("y"))}))
	_, err = store.Get(ctx, "overworld/0/0/legacy")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestBadgerStore_Closed(t *testing.T) {
	store, err := NewBadgerStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err = store.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestBadgerStore_DirectoryLockConflict(t *testing.T) {
	dir := t.TempDir()
	store, err := NewBadgerStore(dir)
	require.NoError(t, err)
	defer store.Close()

	_, err = NewBadgerStore(dir)
	assert.ErrorIs(t, err, ErrLockConflict)
}

func TestBadgerStore_LayerRoundTrip(t *testing.T) {
	ctx := context.Background()
	layer := NewLayer(setupBadgerStore(t))
	key := chunk.NewKey(chunk.Overworld, 10, 20)
	c := testChunk(key, chunk.WaterBlockID)

	require.NoError(t, layer.Save(ctx, key, c, WriteBoth))
	got, format, err := layer.Load(ctx, key, chunk.FormatEnhanced)
	require.NoError(t, err)
	assert.Equal(t, chunk.FormatEnhanced, format)
	assert.True(t, c.Equal(got))

	report, err := layer.ValidateConsistency(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, Consistent, report.Status)
}

func TestWorldLock(t *testing.T) {
	lock := NewWorldLock()

	require.NoError(t, lock.TryRLock())
	err := lock.TryLock("migration")
	assert.ErrorIs(t, err, ErrLockConflict)
	lock.RUnlock()

	require.NoError(t, lock.TryLock("migration"))
	assert.Equal(t, "migration", lock.Holder())
	assert.ErrorIs(t, lock.TryRLock(), ErrWorldLocked)
	assert.ErrorIs(t, lock.TryLock("other"), ErrLockConflict)
	lock.Unlock()

	require.NoError(t, lock.TryRLock())
	lock.RUnlock()
}
