package pebble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/refstore/pkg/db"
)

func TestIterator(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T, store db.KVStore)
	}{
		{
			name: "forward_and_backward",
			fn:   testForwardAndBackward,
		},
		{
			name: "bounded_range",
			fn:   testBoundedRange,
		},
		{
			name: "seek_lands_on_successor",
			fn:   testSeekLandsOnSuccessor,
		},
		{
			name: "validity",
			fn:   testIteratorValidity,
		},
		{
			name: "snapshot_isolation",
			fn:   testSnapshotIsolation,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store, err := NewKVStore()
			require.NoError(t, err)
			defer store.Close() //nolint:errcheck

			for _, k := range []string{"a", "b", "c", "d", "e"} {
				require.NoError(t, store.Put([]byte(k), []byte("value-"+k)))
			}

			tc.fn(t, store)
		})
	}
}

func collect(t *testing.T, iter db.Iterator, step func() bool) []string {
	t.Helper()

	var keys []string
	for step() {
		value, err := iter.Value()
		require.NoError(t, err)
		assert.Equal(t, "value-"+string(iter.Key()), string(value))
		keys = append(keys, string(iter.Key()))
	}
	return keys
}

func testForwardAndBackward(t *testing.T, store db.KVStore) {
	iter, err := store.NewIterator(db.IterOptions{})
	require.NoError(t, err)
	defer iter.Close() //nolint:errcheck

	// an unpositioned iterator starts from the first key on Next
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, collect(t, iter, iter.Next))

	require.True(t, iter.Last())
	assert.Equal(t, "e", string(iter.Key()))
	assert.Equal(t, []string{"d", "c", "b", "a"}, collect(t, iter, iter.Prev))
}

func testBoundedRange(t *testing.T, store db.KVStore) {
	iter, err := store.NewIterator(db.IterOptions{LowerBound: []byte("b"), UpperBound: []byte("e")})
	require.NoError(t, err)
	defer iter.Close() //nolint:errcheck

	assert.Equal(t, []string{"b", "c", "d"}, collect(t, iter, iter.Next))
}

func testSeekLandsOnSuccessor(t *testing.T, store db.KVStore) {
	require.NoError(t, store.Delete([]byte("c")))

	iter, err := store.NewIterator(db.IterOptions{})
	require.NoError(t, err)
	defer iter.Close() //nolint:errcheck

	require.True(t, iter.SeekGE([]byte("c")))
	assert.Equal(t, "d", string(iter.Key()))

	assert.False(t, iter.SeekGE([]byte("z")))
	assert.False(t, iter.Valid())
}

func testIteratorValidity(t *testing.T, store db.KVStore) {
	iter, err := store.NewIterator(db.IterOptions{LowerBound: []byte("d")})
	require.NoError(t, err)
	defer iter.Close() //nolint:errcheck

	assert.False(t, iter.Valid())

	assert.True(t, iter.Next())
	assert.True(t, iter.Next())
	assert.False(t, iter.Next())
	assert.False(t, iter.Valid())
	assert.NoError(t, iter.Error())

	_, err = iter.Value()
	assert.ErrorIs(t, err, ErrIteratorInvalid)
}

func testSnapshotIsolation(t *testing.T, store db.KVStore) {
	snap, err := store.NewSnapshot()
	require.NoError(t, err)

	require.NoError(t, store.Put([]byte("bb"), []byte("value-bb")))
	require.NoError(t, store.Delete([]byte("a")))

	got, err := snap.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("value-a"), got)
	_, err = snap.Get([]byte("bb"))
	assert.ErrorIs(t, err, ErrNotFound)

	iter, err := snap.NewIterator(db.IterOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, collect(t, iter, iter.Next))
	require.NoError(t, iter.Close())

	require.NoError(t, snap.Close())
	// releasing twice is harmless
	require.NoError(t, snap.Close())

	_, err = snap.NewIterator(db.IterOptions{})
	assert.ErrorIs(t, err, ErrClosed)
}
