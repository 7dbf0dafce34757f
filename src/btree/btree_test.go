package btree

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/kvnovik/relcore/src/bufferpool"
	"github.com/kvnovik/relcore/src/lockmgr"
	"github.com/kvnovik/relcore/src/logging"
	"github.com/kvnovik/relcore/src/pkg/common"
	"github.com/kvnovik/relcore/src/pkg/utils"
	"github.com/kvnovik/relcore/src/storage/disk"
	"github.com/kvnovik/relcore/src/txn"
)

const testKeySize = 4

func encodeKey(n uint32) []byte {
	return utils.Uint32ToBytes(n)
}

func newTestTree(t *testing.T, poolSize int) *BTree {
	t.Helper()
	dm, err := disk.New(afero.NewMemMapFs(), "/data.db")
	require.NoError(t, err)
	bpm := bufferpool.New(poolSize, 2, dm, logging.Nop())
	header, err := NewHeader(bpm)
	require.NoError(t, err)
	return New("test_index", bpm, header, testKeySize, ByteComparator)
}

func TestInsertGetValueRoundTrips(t *testing.T) {
	tree := newTestTree(t, 32)
	ctx := txn.New(1, lockmgr.RepeatableRead)

	ok, err := tree.Insert(encodeKey(5), common.RecordID{PageID: 1, Slot: 0}, ctx)
	require.NoError(t, err)
	require.True(t, ok)

	values, found, err := tree.GetValue(encodeKey(5), ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, common.RecordID{PageID: 1, Slot: 0}, values[0])
}

func TestInsertDuplicateKeyFails(t *testing.T) {
	tree := newTestTree(t, 32)
	ctx := txn.New(1, lockmgr.RepeatableRead)

	ok, err := tree.Insert(encodeKey(1), common.RecordID{PageID: 1, Slot: 0}, ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = tree.Insert(encodeKey(1), common.RecordID{PageID: 2, Slot: 0}, ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetValueMissingKeyNotFound(t *testing.T) {
	tree := newTestTree(t, 32)
	ctx := txn.New(1, lockmgr.RepeatableRead)

	_, found, err := tree.GetValue(encodeKey(42), ctx)
	require.NoError(t, err)
	require.False(t, found)
}

func TestRemoveAbsentKeyIsNoop(t *testing.T) {
	tree := newTestTree(t, 32)
	ctx := txn.New(1, lockmgr.RepeatableRead)
	require.NoError(t, tree.Remove(encodeKey(9), ctx))
}

func TestInsertManyKeysTriggersSplitsAndPreservesOrder(t *testing.T) {
	tree := newTestTree(t, 64)
	ctx := txn.New(1, lockmgr.RepeatableRead)

	// A leaf holds 340 four-byte keys, so 1000 keys force several splits.
	const n = 1000
	for i := uint32(0); i < n; i++ {
		ok, err := tree.Insert(encodeKey(i), common.RecordID{PageID: common.PageID(i), Slot: 0}, ctx)
		require.NoError(t, err)
		require.True(t, ok)
	}

	for i := uint32(0); i < n; i++ {
		values, found, err := tree.GetValue(encodeKey(i), ctx)
		require.NoError(t, err)
		require.True(t, found, "key %d should be present", i)
		require.Equal(t, common.PageID(i), values[0].PageID)
	}
}

func TestInsertThenRemoveAllLeavesTreeEmpty(t *testing.T) {
	tree := newTestTree(t, 64)
	ctx := txn.New(1, lockmgr.RepeatableRead)

	const n = 100
	for i := uint32(0); i < n; i++ {
		_, err := tree.Insert(encodeKey(i), common.RecordID{PageID: common.PageID(i), Slot: 0}, ctx)
		require.NoError(t, err)
	}
	for i := uint32(0); i < n; i++ {
		require.NoError(t, tree.Remove(encodeKey(i), ctx))
	}

	for i := uint32(0); i < n; i++ {
		_, found, err := tree.GetValue(encodeKey(i), ctx)
		require.NoError(t, err)
		require.False(t, found)
	}

	require.True(t, tree.IsEmpty())
	require.Equal(t, common.InvalidPageID, tree.GetRootPageId())
}

func TestIteratorVisitsKeysInOrder(t *testing.T) {
	tree := newTestTree(t, 64)
	ctx := txn.New(1, lockmgr.RepeatableRead)

	keys := []uint32{5, 1, 9, 3, 7}
	for _, k := range keys {
		_, err := tree.Insert(encodeKey(k), common.RecordID{PageID: common.PageID(k), Slot: 0}, ctx)
		require.NoError(t, err)
	}

	it, err := tree.Begin()
	require.NoError(t, err)

	var seen []uint32
	for !it.IsEnd() {
		seen = append(seen, utils.BytesToUint32(it.Key()))
		require.NoError(t, it.Next())
	}
	require.Equal(t, []uint32{1, 3, 5, 7, 9}, seen)
}

func TestIsEmptyTracksRootLifecycle(t *testing.T) {
	tree := newTestTree(t, 32)
	ctx := txn.New(1, lockmgr.RepeatableRead)

	require.True(t, tree.IsEmpty())
	_, err := tree.Insert(encodeKey(1), common.RecordID{PageID: 1, Slot: 0}, ctx)
	require.NoError(t, err)
	require.False(t, tree.IsEmpty())
}
