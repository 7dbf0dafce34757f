package bufferpool

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/kvnovik/relcore/src/logging"
	"github.com/kvnovik/relcore/src/storage/disk"
)

func newTestPool(t *testing.T, poolSize, k int) *Manager {
	t.Helper()
	dm, err := disk.New(afero.NewMemMapFs(), "test.db")
	require.NoError(t, err)
	return New(poolSize, k, dm, logging.Nop())
}

func TestEvictionUnderPressure(t *testing.T) {
	pool := newTestPool(t, 3, 2)

	p1, _, err := pool.NewPage()
	require.NoError(t, err)
	_, _, err = pool.NewPage()
	require.NoError(t, err)
	_, _, err = pool.NewPage()
	require.NoError(t, err)

	require.True(t, pool.UnpinPage(p1, false))

	_, _, err = pool.NewPage()
	require.NoError(t, err, "should succeed by evicting the unpinned page")
}

func TestUnpinUnknownPageFails(t *testing.T) {
	pool := newTestPool(t, 2, 2)
	require.False(t, pool.UnpinPage(999, false))
}

func TestNewFetchUnpinFlushRoundTrips(t *testing.T) {
	pool := newTestPool(t, 2, 2)

	id, p, err := pool.NewPage()
	require.NoError(t, err)

	data := p.GetData()
	copy(data, []byte("payload"))

	require.True(t, pool.UnpinPage(id, true))
	require.True(t, pool.FlushPage(id))

	fetched, err := pool.FetchPage(id)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), fetched.GetData()[:7])
	require.True(t, pool.UnpinPage(id, false))
}

func TestDeletePageFailsWhilePinned(t *testing.T) {
	pool := newTestPool(t, 2, 2)
	id, _, err := pool.NewPage()
	require.NoError(t, err)

	require.False(t, pool.DeletePage(id))
	require.True(t, pool.UnpinPage(id, false))
	require.True(t, pool.DeletePage(id))
}

func TestDeleteNonResidentPageSucceedsTwice(t *testing.T) {
	pool := newTestPool(t, 2, 2)
	require.True(t, pool.DeletePage(42))
	require.True(t, pool.DeletePage(42))
}

func TestResourceExhaustedWhenAllFramesPinned(t *testing.T) {
	pool := newTestPool(t, 2, 2)
	_, _, err := pool.NewPage()
	require.NoError(t, err)
	_, _, err = pool.NewPage()
	require.NoError(t, err)

	_, _, err = pool.NewPage()
	require.Error(t, err)
}
