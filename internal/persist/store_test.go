package persist

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	t.Parallel()

	t.Run("missing file starts empty", func(t *testing.T) {
		t.Parallel()
		s, err := Open(filepath.Join(t.TempDir(), "nested", "store.json"))
		require.NoError(t, err)
		assert.Equal(t, 0, s.Len())

		_, ok := s.Get("anything")
		assert.False(t, ok)
	})

	t.Run("empty path", func(t *testing.T) {
		t.Parallel()
		_, err := Open("")
		assert.ErrorIs(t, err, ErrStorage)
	})

	t.Run("corrupted file", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "store.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

		_, err := Open(path)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrStorage)
		assert.ErrorIs(t, err, ErrStoreCorrupted)
	})

	t.Run("non-string values are corrupt", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "store.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"a": 1}`), 0o600))

		_, err := Open(path)
		assert.ErrorIs(t, err, ErrStoreCorrupted)
	})

	t.Run("null document starts empty", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "store.json")
		require.NoError(t, os.WriteFile(path, []byte("null"), 0o600))

		s, err := Open(path)
		require.NoError(t, err)
		require.NoError(t, s.Set("k", "v"))
		assert.Equal(t, 1, s.Len())
	})
}

func TestStore_SetGetDelete(t *testing.T) {
	t.Parallel()

	s, err := Open(filepath.Join(t.TempDir(), "test_dict.json"))
	require.NoError(t, err)

	require.NoError(t, s.Set("key1", "value1"))
	v, ok := s.Get("key1")
	require.True(t, ok)
	assert.Equal(t, "value1", v)

	require.NoError(t, s.Set("key2", "value2"))
	v, ok = s.Get("key2")
	require.True(t, ok)
	assert.Equal(t, "value2", v)

	require.NoError(t, s.Delete("key1"))
	_, ok = s.Get("key1")
	assert.False(t, ok)

	v, ok = s.Get("key2")
	require.True(t, ok)
	assert.Equal(t, "value2", v)

	assert.Equal(t, []string{"key2"}, s.Keys())
}

func TestStore_OverwriteAndAbsentDelete(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "store.json")
	s, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, s.Set("k", "old"))
	require.NoError(t, s.Set("k", "new"))
	v, _ := s.Get("k")
	assert.Equal(t, "new", v)

	assert.NoError(t, s.Delete("never-set"))
	assert.Equal(t, 1, s.Len())

	assert.ErrorIs(t, s.Set("", "v"), ErrEmptyKey)
	assert.ErrorIs(t, s.Delete(""), ErrEmptyKey)
}

func TestStore_SurvivesReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data", "store.json")
	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Set("data/spot.csv", "2023-10-23"))
	require.NoError(t, s1.Set("data/index.csv", "2023-10-20"))
	require.NoError(t, s1.Delete("data/index.csv"))

	s2, err := Open(path)
	require.NoError(t, err)

	v, ok := s2.Get("data/spot.csv")
	require.True(t, ok)
	assert.Equal(t, "2023-10-23", v)

	_, ok = s2.Get("data/index.csv")
	assert.False(t, ok)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must not be left behind")
}

func TestStore_FailedWriteKeepsMemoryUnchanged(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "cache")
	s, err := Open(filepath.Join(dir, "store.json"))
	require.NoError(t, err)

	// A regular file where the store directory should be makes every write fail.
	require.NoError(t, os.WriteFile(dir, []byte("x"), 0o600))

	err = s.Set("k", "v")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorage))

	_, ok := s.Get("k")
	assert.False(t, ok, "failed Set must not update the in-memory map")
}

func TestStore_SnapshotIsCopy(t *testing.T) {
	t.Parallel()

	s, err := Open(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, err)
	require.NoError(t, s.Set("a", "1"))

	snap := s.Snapshot()
	snap["a"] = "mutated"

	v, _ := s.Get("a")
	assert.Equal(t, "1", v)
}

func TestStore_ConcurrentSet(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "store.json")
	s, err := Open(path)
	require.NoError(t, err)

	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	var wg sync.WaitGroup
	for _, k := range keys {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Set(k, k+"-value"))
		}()
	}
	wg.Wait()

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, len(keys), reopened.Len())
}
