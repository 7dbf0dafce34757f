package bufferpool

import (
	"sync/atomic"

	"github.com/kvnovik/relcore/src/pkg/assert"
	"github.com/kvnovik/relcore/src/pkg/common"
	"github.com/kvnovik/relcore/src/storage/page"
)

// Sharded splits the page-id space across N independent instance pools by
// page_id mod N, so each instance only ever allocates ids congruent to its
// own index. This lets NewPage/FetchPage/etc. proceed on N separate mutexes
// instead of one, at the cost of a page never moving between instances.
type Sharded struct {
	instances []*Manager
	next      atomic.Uint64
}

// NewSharded wraps n already-constructed instance pools into one
// routed-by-page-id front. Instance i must only ever be asked to allocate
// ids ≡ i (mod n); callers arrange this by opening instance i's disk.Manager
// with disk.NewStrided(fs, path, i, n), so every id it allocates already
// lands in its own shard.
func NewSharded(instances []*Manager) *Sharded {
	assert.Assert(len(instances) > 0, "sharded pool needs at least one instance")
	return &Sharded{instances: instances}
}

func (s *Sharded) instanceFor(id common.PageID) *Manager {
	n := len(s.instances)
	return s.instances[(int(id)%n+n)%n]
}

// NewPage is attempted in round-robin order across instances until one
// succeeds (i.e. has a free/evictable frame).
func (s *Sharded) NewPage() (common.PageID, *page.Page, error) {
	n := len(s.instances)
	start := int((s.next.Add(1) - 1) % uint64(n))
	var lastErr error
	for i := 0; i < n; i++ {
		inst := s.instances[(start+i)%n]
		id, p, err := inst.NewPage()
		if err == nil {
			return id, p, nil
		}
		lastErr = err
	}
	return common.InvalidPageID, nil, lastErr
}

func (s *Sharded) FetchPage(id common.PageID) (*page.Page, error) {
	return s.instanceFor(id).FetchPage(id)
}

func (s *Sharded) UnpinPage(id common.PageID, dirty bool) bool {
	return s.instanceFor(id).UnpinPage(id, dirty)
}

func (s *Sharded) FlushPage(id common.PageID) bool {
	return s.instanceFor(id).FlushPage(id)
}

func (s *Sharded) FlushAllPages() {
	for _, inst := range s.instances {
		inst.FlushAllPages()
	}
}

func (s *Sharded) DeletePage(id common.PageID) bool {
	return s.instanceFor(id).DeletePage(id)
}

func (s *Sharded) GetPoolSize() int {
	total := 0
	for _, inst := range s.instances {
		total += inst.GetPoolSize()
	}
	return total
}
