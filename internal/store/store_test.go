package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runContract exercises the DurableStore behaviour every backend must share.
func runContract(t *testing.T, s DurableStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing key", func(t *testing.T) {
		_, err := s.Get(ctx, "missing/key.json")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete missing key", func(t *testing.T) {
		err := s.Delete(ctx, "missing/key.json")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("put get roundtrip", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "a/one.json", []byte(`{"n":1}`)))
		got, err := s.Get(ctx, "a/one.json")
		require.NoError(t, err)
		assert.Equal(t, `{"n":1}`, string(got))
	})

	t.Run("overwrite replaces data", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "a/one.json", []byte(`{"n":2}`)))
		got, err := s.Get(ctx, "a/one.json")
		require.NoError(t, err)
		assert.Equal(t, `{"n":2}`, string(got))
	})

	t.Run("list by prefix sorted by key", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "a/two.json", []byte("22")))
		require.NoError(t, s.Put(ctx, "b/three.json", []byte("333")))

		infos, err := s.List(ctx, "a/")
		require.NoError(t, err)
		require.Len(t, infos, 2)
		assert.Equal(t, "a/one.json", infos[0].Key)
		assert.Equal(t, "a/two.json", infos[1].Key)
		assert.Equal(t, int64(2), infos[1].Size)
		assert.False(t, infos[0].ModifiedAt.IsZero())

		all, err := s.List(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("delete removes key", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, "b/three.json"))
		_, err := s.Get(ctx, "b/three.json")
		assert.ErrorIs(t, err, ErrNotFound)

		infos, err := s.List(ctx, "b/")
		require.NoError(t, err)
		assert.Empty(t, infos)
	})
}

func TestMemoryContract(t *testing.T) {
	runContract(t, NewMemory(nil))
}

func TestDirContract(t *testing.T) {
	d, err := NewDir(t.TempDir())
	require.NoError(t, err)
	runContract(t, d)
}

func TestMemoryKeepsCreatedOnOverwrite(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m := NewMemory(func() time.Time { return now })

	require.NoError(t, m.Put(ctx, "k", []byte("1")))
	created := now
	now = now.Add(time.Minute)
	require.NoError(t, m.Put(ctx, "k", []byte("2")))

	infos, err := m.List(ctx, "k")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, created, infos[0].CreatedAt)
	assert.Equal(t, now, infos[0].ModifiedAt)
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)
	data := []byte("abc")
	require.NoError(t, m.Put(ctx, "k", data))
	data[0] = 'z'

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestDirRejectsUnsafeKeys(t *testing.T) {
	d, err := NewDir(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{"", "/abs", "../escape", "a//b", "a/./b", "a/.tmp-x"} {
		assert.Error(t, d.Put(ctx, key, []byte("x")), "key %q", key)
	}
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `ns:a\*b\?c\[d\]`, escapeGlob("ns:a*b?c[d]"))
}
