package bufferpool

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/kvnovik/relcore/src/logging"
	"github.com/kvnovik/relcore/src/storage/disk"
)

func newTestShardedPool(t *testing.T, numInstances, poolSize, k int) *Sharded {
	t.Helper()
	fs := afero.NewMemMapFs()
	instances := make([]*Manager, numInstances)
	for i := range instances {
		dm, err := disk.NewStrided(fs, "test.db", i, numInstances)
		require.NoError(t, err)
		instances[i] = New(poolSize, k, dm, logging.Nop())
	}
	return NewSharded(instances)
}

func TestShardedRoutesPagesToCongruentInstance(t *testing.T) {
	const n = 3
	pool := newTestShardedPool(t, n, 4, 2)

	seen := make([]int, n)
	for i := 0; i < 9; i++ {
		id, _, err := pool.NewPage()
		require.NoError(t, err)
		seen[int(id)%n]++
	}
	for shard, count := range seen {
		require.Positive(t, count, "shard %d never received a page", shard)
	}
}

func TestShardedFetchAfterNewPageRoundTrips(t *testing.T) {
	pool := newTestShardedPool(t, 2, 4, 2)

	id, p, err := pool.NewPage()
	require.NoError(t, err)
	copy(p.GetData(), []byte("sharded"))
	require.True(t, pool.UnpinPage(id, true))

	got, err := pool.FetchPage(id)
	require.NoError(t, err)
	require.Equal(t, []byte("sharded"), got.GetData()[:7])
	require.True(t, pool.UnpinPage(id, false))
}

func TestShardedGetPoolSizeSumsInstances(t *testing.T) {
	pool := newTestShardedPool(t, 3, 4, 2)
	require.Equal(t, 12, pool.GetPoolSize())
}
