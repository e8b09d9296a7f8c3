package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"memory": NewMemStore(),
		"sqlite": sqlite,
	}
}

func keys(t *testing.T, p Partition) []string {
	var keys []string
	require.NoError(t, p.Keys(func(k string) { keys = append(keys, k) }))
	return keys
}

func TestOpenCreatesPartition(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Open("b-runtime")
			require.NoError(t, err)
			_, err = store.Open("a-shell")
			require.NoError(t, err)
			// opening again is not a second partition
			_, err = store.Open("a-shell")
			require.NoError(t, err)

			names, err := store.Names()
			require.NoError(t, err)
			assert.Equal(t, []string{"a-shell", "b-runtime"}, names)
		})
	}
}

func TestPutOverwrites(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			p, err := store.Open("runtime")
			require.NoError(t, err)

			_, ok, err := p.Get("GET http://localhost/")
			require.NoError(t, err)
			assert.False(t, ok)

			first := time.Now().Add(-time.Minute)
			require.NoError(t, p.Put(Entry{Key: "GET http://localhost/", StoredAt: first, Bytes: []byte("one")}))
			require.NoError(t, p.Put(Entry{Key: "GET http://localhost/", StoredAt: time.Now(), Bytes: []byte("two")}))

			entry, ok, err := p.Get("GET http://localhost/")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "two", string(entry.Bytes))
			assert.True(t, entry.StoredAt.After(first))

			assert.Equal(t, []string{"GET http://localhost/"}, keys(t, p))
		})
	}
}

func TestPartitionsAreIsolated(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			shell, err := store.Open("shell")
			require.NoError(t, err)
			runtime, err := store.Open("runtime")
			require.NoError(t, err)

			require.NoError(t, shell.Put(Entry{Key: "k", Bytes: []byte("shell")}))

			_, ok, err := runtime.Get("k")
			require.NoError(t, err)
			assert.False(t, ok)

			assert.Equal(t, []string{"k"}, keys(t, shell))
		})
	}
}

func TestDelete(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			p, err := store.Open("old-runtime")
			require.NoError(t, err)
			require.NoError(t, p.Put(Entry{Key: "k", Bytes: []byte("v")}))

			deleted, err := store.Delete("old-runtime")
			require.NoError(t, err)
			assert.True(t, deleted)

			deleted, err = store.Delete("old-runtime")
			require.NoError(t, err)
			assert.False(t, deleted, "deleting twice is a no-op")

			names, err := store.Names()
			require.NoError(t, err)
			assert.Empty(t, names)

			// the stale handle must not bring the partition back
			assert.ErrorIs(t, p.Put(Entry{Key: "k2", Bytes: []byte("v")}), ErrPartitionDeleted)
			names, err = store.Names()
			require.NoError(t, err)
			assert.Empty(t, names)

			// reopening creates a fresh, empty partition
			p, err = store.Open("old-runtime")
			require.NoError(t, err)
			assert.Empty(t, keys(t, p))
		})
	}
}

func TestMemStoreReadsSnapshotAfterDelete(t *testing.T) {
	store := NewMemStore()
	p, _ := store.Open("old-shell")
	require.NoError(t, p.Put(Entry{Key: "k", Bytes: []byte("v")}))
	_, err := store.Delete("old-shell")
	require.NoError(t, err)

	entry, ok, err := p.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(entry.Bytes))
}

func TestSQLiteStorePersists(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "cache.db")
	store, err := NewSQLiteStore(filename)
	require.NoError(t, err)
	p, err := store.Open("v1-shell")
	require.NoError(t, err)
	require.NoError(t, p.Put(Entry{Key: "GET http://localhost/", StoredAt: time.Now(), Bytes: []byte("body")}))
	require.NoError(t, store.Close())

	store, err = NewSQLiteStore(filename)
	require.NoError(t, err)
	defer store.Close()
	names, err := store.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"v1-shell"}, names)
	p, err = store.Open("v1-shell")
	require.NoError(t, err)
	entry, ok, err := p.Get("GET http://localhost/")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "body", string(entry.Bytes))
}
