package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// storeUnderTest runs the same contract checks against every Store backend.
func storeUnderTest(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	// Missing keys are simply absent from the result.
	values, err := s.Get(ctx, "a", "b")
	require.NoError(t, err)
	require.Empty(t, values)

	require.NoError(t, s.Set(ctx, map[string][]byte{
		"a": []byte("alpha"),
		"b": []byte("beta"),
	}))

	values, err = s.Get(ctx, "a", "b", "c")
	require.NoError(t, err)
	require.Len(t, values, 2)
	require.Equal(t, []byte("alpha"), values["a"])
	require.Equal(t, []byte("beta"), values["b"])

	// Overwrite.
	require.NoError(t, SetOne(ctx, s, "a", []byte("alpha2")))
	raw, err := GetOne(ctx, s, "a")
	require.NoError(t, err)
	require.Equal(t, []byte("alpha2"), raw)

	// Remove is idempotent.
	require.NoError(t, s.Remove(ctx, "a", "missing"))
	raw, err = GetOne(ctx, s, "a")
	require.NoError(t, err)
	require.Nil(t, raw)
	require.NoError(t, s.Remove(ctx, "a"))
}

func TestMemStore(t *testing.T) {
	t.Parallel()
	storeUnderTest(t, NewMemStore())
}

func TestBoltStore(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "wallet.db")
	s, err := OpenBolt(path)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })

	storeUnderTest(t, s)
}

func TestBoltStorePersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "wallet.db")

	s, err := OpenBolt(path)
	require.NoError(t, err)
	require.NoError(t, SetOne(ctx, s, "k", []byte("v")))
	require.NoError(t, s.Close())

	s, err = OpenBolt(path)
	require.NoError(t, err)
	defer s.Close()
	raw, err := GetOne(ctx, s, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), raw)
}

func TestMemStoreCopiesValues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore()

	value := []byte("original")
	require.NoError(t, SetOne(ctx, s, "k", value))
	value[0] = 'X'

	raw, err := GetOne(ctx, s, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("original"), raw)
}
