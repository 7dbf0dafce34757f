package disk

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/kvnovik/relcore/src/pkg/common"
	"github.com/kvnovik/relcore/src/storage/page"
)

func TestAllocatePageIsMonotonic(t *testing.T) {
	m, err := New(afero.NewMemMapFs(), "test.db")
	require.NoError(t, err)

	a := m.AllocatePage()
	b := m.AllocatePage()
	c := m.AllocatePage()

	require.Equal(t, a+1, b)
	require.Equal(t, b+1, c)
}

func TestStridedAllocationStaysCongruentToOffset(t *testing.T) {
	m, err := NewStrided(afero.NewMemMapFs(), "test.db", 2, 3)
	require.NoError(t, err)

	a := m.AllocatePage()
	b := m.AllocatePage()
	c := m.AllocatePage()

	require.Equal(t, a, common.PageID(2))
	require.Equal(t, b, common.PageID(5))
	require.Equal(t, c, common.PageID(8))
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	m, err := New(afero.NewMemMapFs(), "test.db")
	require.NoError(t, err)

	id := m.AllocatePage()
	p := page.New()
	data := p.GetData()
	copy(data, []byte("hello world"))

	require.NoError(t, m.WritePage(id, p))

	got, err := m.ReadPage(id)
	require.NoError(t, err)
	require.Equal(t, []byte("hello world"), got.GetData()[:11])
}
