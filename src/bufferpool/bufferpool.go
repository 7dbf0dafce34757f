// Package bufferpool implements the fixed-capacity page cache: pin-counted
// frames, LRU-K victim selection, and a single mutex serializing every
// operation, favoring a simple fully-latched design over a fast/slow-path
// double-checked-locking split.
package bufferpool

import (
	"sync"

	"go.uber.org/zap"

	"github.com/go-faster/errors"

	"github.com/kvnovik/relcore/src/errs"
	"github.com/kvnovik/relcore/src/hashtable"
	"github.com/kvnovik/relcore/src/pkg/assert"
	"github.com/kvnovik/relcore/src/pkg/common"
	"github.com/kvnovik/relcore/src/replacer"
	"github.com/kvnovik/relcore/src/storage/disk"
	"github.com/kvnovik/relcore/src/storage/page"
)

// PageStore is the page-cache surface both Manager and Sharded implement,
// so callers that only need to pin/unpin/flush pages (the B+-tree, its
// header page) can be handed either one.
type PageStore interface {
	NewPage() (common.PageID, *page.Page, error)
	FetchPage(id common.PageID) (*page.Page, error)
	UnpinPage(id common.PageID, dirty bool) bool
	FlushPage(id common.PageID) bool
	FlushAllPages()
	DeletePage(id common.PageID) bool
	GetPoolSize() int
}

type frame struct {
	page     *page.Page
	pageID   common.PageID
	pinCount int
}

// Manager is the buffer pool. A single mutex serializes NewPage, FetchPage,
// UnpinPage, FlushPage, FlushAllPages, and DeletePage.
type Manager struct {
	mu sync.Mutex

	frames    []frame
	freeList  []common.FrameID
	pageTable *hashtable.Table[common.PageID, common.FrameID]
	replacer  *replacer.LRUK
	disk      *disk.Manager
	log       *zap.SugaredLogger
}

// New constructs a pool of poolSize frames, evicting via LRU-K with the
// given K.
func New(poolSize, replacerK int, dm *disk.Manager, log *zap.SugaredLogger) *Manager {
	assert.Assert(poolSize > 0, "pool size must be positive")

	free := make([]common.FrameID, poolSize)
	for i := range free {
		free[i] = common.FrameID(i)
	}

	return &Manager{
		frames:    make([]frame, poolSize),
		freeList:  free,
		pageTable: hashtable.New[common.PageID, common.FrameID](4, hashPageID),
		replacer:  replacer.New(poolSize, replacerK),
		disk:      dm,
		log:       log,
	}
}

func hashPageID(id common.PageID) uint64 {
	return hashtable.HashInt32(int32(id))
}

// GetPoolSize returns the number of frames the pool manages.
func (m *Manager) GetPoolSize() int {
	return len(m.frames)
}

// NewPage allocates a fresh page id, installs it in a victim frame, and
// returns the page pinned once.
func (m *Manager) NewPage() (common.PageID, *page.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameID, ok := m.availableFrame()
	if !ok {
		return common.InvalidPageID, nil, errs.ErrResourceExhausted
	}

	id := m.disk.AllocatePage()

	f := &m.frames[frameID]
	f.page.Reset()
	f.pageID = id
	f.pinCount = 1

	m.pageTable.Insert(id, frameID)
	m.replacer.RecordAccess(frameID)
	m.replacer.SetEvictable(frameID, false)

	m.log.Debugw("new page", "page_id", id, "frame", frameID)

	return id, f.page, nil
}

// FetchPage returns id's page, pinned. It is read from disk on a miss.
func (m *Manager) FetchPage(id common.PageID) (*page.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if frameID, ok := m.pageTable.Find(id); ok {
		f := &m.frames[frameID]
		f.pinCount++
		m.replacer.RecordAccess(frameID)
		m.replacer.SetEvictable(frameID, false)
		return f.page, nil
	}

	frameID, ok := m.availableFrame()
	if !ok {
		return nil, errs.ErrResourceExhausted
	}

	p, err := m.disk.ReadPage(id)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching page %d", id)
	}

	f := &m.frames[frameID]
	f.page = p
	f.pageID = id
	f.pinCount = 1

	m.pageTable.Insert(id, frameID)
	m.replacer.RecordAccess(frameID)
	m.replacer.SetEvictable(frameID, false)

	return f.page, nil
}

// UnpinPage decrements id's pin count, ORing in dirty. Returns false if the
// page isn't resident or its pin count is already zero.
func (m *Manager) UnpinPage(id common.PageID, dirty bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameID, ok := m.pageTable.Find(id)
	if !ok {
		return false
	}

	f := &m.frames[frameID]
	if f.pinCount <= 0 {
		return false
	}

	f.page.SetDirtiness(f.page.IsDirty() || dirty)
	f.pinCount--
	if f.pinCount == 0 {
		m.replacer.SetEvictable(frameID, true)
	}
	return true
}

// FlushPage writes id's bytes to disk and clears dirty, regardless of pin
// count.
func (m *Manager) FlushPage(id common.PageID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameID, ok := m.pageTable.Find(id)
	if !ok {
		return false
	}
	m.flushFrame(frameID)
	return true
}

// FlushAllPages writes every resident page to disk and clears its dirty
// flag, regardless of dirtiness or pin count.
func (m *Manager) FlushAllPages() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.frames {
		if m.frames[i].page != nil && m.frames[i].pageID != common.InvalidPageID {
			m.flushFrame(common.FrameID(i))
		}
	}
}

func (m *Manager) flushFrame(frameID common.FrameID) {
	f := &m.frames[frameID]
	if err := m.disk.WritePage(f.pageID, f.page); err != nil {
		m.log.Errorw("flush failed", "page_id", f.pageID, "err", err)
		return
	}
	f.page.SetDirtiness(false)
}

// DeletePage removes id from the pool, deallocating its id. Fails if the
// page is resident and still pinned.
func (m *Manager) DeletePage(id common.PageID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameID, ok := m.pageTable.Find(id)
	if !ok {
		m.disk.DeallocatePage(id)
		return true
	}

	f := &m.frames[frameID]
	if f.pinCount > 0 {
		return false
	}

	f.page.Reset()
	f.pageID = common.InvalidPageID
	f.pinCount = 0

	m.disk.DeallocatePage(id)
	m.pageTable.Remove(id)
	m.replacer.Remove(frameID)
	m.freeList = append(m.freeList, frameID)

	return true
}

// availableFrame implements the victim-selection contract: free list first,
// else the replacer's choice; a dirty victim is flushed before reuse and its
// old mapping removed from the page table. Must be called with m.mu held.
func (m *Manager) availableFrame() (common.FrameID, bool) {
	if len(m.freeList) > 0 {
		id := m.freeList[0]
		m.freeList = m.freeList[1:]
		if m.frames[id].page == nil {
			m.frames[id].page = page.New()
		}
		return id, true
	}

	frameID, ok := m.replacer.Evict()
	if !ok {
		return 0, false
	}

	victim := &m.frames[frameID]
	if victim.page.IsDirty() {
		if err := m.disk.WritePage(victim.pageID, victim.page); err != nil {
			m.log.Errorw("victim flush failed", "page_id", victim.pageID, "err", err)
		}
		victim.page.SetDirtiness(false)
	}
	m.pageTable.Remove(victim.pageID)

	return frameID, true
}
