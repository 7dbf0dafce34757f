package replacer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvnovik/relcore/src/pkg/common"
)

func TestEvict_EarliestKthAccessHasLargestDistance(t *testing.T) {
	r := New(8, 2)

	r.RecordAccess(1) // frame 1 @ t=0
	r.RecordAccess(2) // frame 2 @ t=1
	r.RecordAccess(1) // frame 1 @ t=2
	r.RecordAccess(2) // frame 2 @ t=3
	// Distances are measured at Evict time (now = 4): frame 1 is 4-0 = 4,
	// frame 2 is 4-1 = 3, so frame 1 is the victim.

	r.SetEvictable(1, true)
	r.SetEvictable(2, true)

	victim, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, common.FrameID(1), victim)
}

func TestEvict_FewerThanKAccessesIsInfiniteDistance(t *testing.T) {
	r := New(4, 3)

	r.RecordAccess(0)
	r.RecordAccess(0)
	r.RecordAccess(0) // frame 0 has exactly k=3 accesses, finite distance

	r.RecordAccess(1) // frame 1 has 1 access, infinite distance

	r.SetEvictable(0, true)
	r.SetEvictable(1, true)

	victim, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, common.FrameID(1), victim)
}

func TestEvict_EmptyReplacerReturnsFalse(t *testing.T) {
	r := New(4, 2)
	_, ok := r.Evict()
	require.False(t, ok)
}

func TestEvict_KEqualsOneIsPureLRU(t *testing.T) {
	r := New(3, 1)

	r.RecordAccess(0)
	r.RecordAccess(1)
	r.RecordAccess(2)
	r.SetEvictable(0, true)
	r.SetEvictable(1, true)
	r.SetEvictable(2, true)

	victim, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, common.FrameID(0), victim)
}

func TestSize_CountsOnlyEvictableWithHistory(t *testing.T) {
	r := New(4, 2)
	r.RecordAccess(0)
	r.RecordAccess(1)
	r.SetEvictable(0, true)

	require.Equal(t, 1, r.Size())
}

func TestRemove_ClearsHistory(t *testing.T) {
	r := New(4, 2)
	r.RecordAccess(0)
	r.SetEvictable(0, true)
	r.Remove(0)
	require.Equal(t, 0, r.Size())
}

func TestEvict_ClearsHistoryAfterEviction(t *testing.T) {
	r := New(4, 2)
	r.RecordAccess(0)
	r.SetEvictable(0, true)

	_, ok := r.Evict()
	require.True(t, ok)

	_, ok = r.Evict()
	require.False(t, ok, "frame should not be re-evictable after history clear")
}
