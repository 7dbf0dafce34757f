package hashtable

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func intHash(k int) uint64 {
	return HashInt32(int32(k))
}

func TestDirectoryGrowth(t *testing.T) {
	tbl := New[int, int](2, intHash)

	tbl.Insert(1, 1)
	tbl.Insert(2, 2)
	tbl.Insert(3, 3)
	tbl.Insert(4, 4)

	require.Equal(t, 2, tbl.GlobalDepth())

	v, ok := tbl.Find(3)
	require.True(t, ok)
	require.Equal(t, 3, v)

	require.True(t, tbl.Remove(2))

	_, ok = tbl.Find(2)
	require.False(t, ok)
}

func TestInsertReplacesExistingValue(t *testing.T) {
	tbl := New[int, string](4, intHash)
	tbl.Insert(1, "a")
	tbl.Insert(1, "b")

	v, ok := tbl.Find(1)
	require.True(t, ok)
	require.Equal(t, "b", v)
}

func TestFindMissingKey(t *testing.T) {
	tbl := New[int, int](4, intHash)
	_, ok := tbl.Find(42)
	require.False(t, ok)
}

func TestRemoveMissingKey(t *testing.T) {
	tbl := New[int, int](4, intHash)
	require.False(t, tbl.Remove(42))
}

func TestManyKeysPreserveAllValues(t *testing.T) {
	tbl := New[int, int](2, intHash)
	for i := 0; i < 200; i++ {
		tbl.Insert(i, i*10)
	}
	for i := 0; i < 200; i++ {
		v, ok := tbl.Find(i)
		require.True(t, ok)
		require.Equal(t, i*10, v)
	}
}
