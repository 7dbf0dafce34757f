// Package txn holds the transaction context threaded through the lock
// manager and the B+-tree's latch-crabbing write path.
package txn

import (
	"sync"

	"github.com/kvnovik/relcore/src/lockmgr"
	"github.com/kvnovik/relcore/src/pkg/common"
	"github.com/kvnovik/relcore/src/storage/page"
)

// TableID identifies a lockable table (or other table-granularity
// resource); it is opaque to the lock manager.
type TableID uint64

// PageLatch is one entry in a transaction's write-path latch deque: either a
// held page latch pinned through the buffer pool, or the sentinel meaning
// "the tree latch itself is held". The sentinel lets the B+-tree release
// latches incrementally as it ascends through safe ancestors without losing
// track of whether the outermost tree latch still needs releasing.
type PageLatch struct {
	IsTreeLatchSentinel bool
	PageID              common.PageID
	Page                *page.Page
	Exclusive           bool
}

// Context is the per-transaction state the lock manager and B+-tree share.
// Every field is mutated under mu; the lock manager and the background
// deadlock detector serialize their reads/writes of State through it.
type Context struct {
	mu sync.Mutex

	id        common.TxnID
	state     lockmgr.State
	isolation lockmgr.IsolationLevel

	tableLocks map[lockmgr.Mode]map[TableID]struct{}
	rowLocksS  map[TableID]map[common.RecordID]struct{}
	rowLocksX  map[TableID]map[common.RecordID]struct{}

	latchDeque []PageLatch
	toDelete   map[common.PageID]struct{}
}

// New constructs a fresh, GROWING transaction context.
func New(id common.TxnID, isolation lockmgr.IsolationLevel) *Context {
	return &Context{
		id:        id,
		state:     lockmgr.Growing,
		isolation: isolation,
		tableLocks: map[lockmgr.Mode]map[TableID]struct{}{
			lockmgr.IS:  {},
			lockmgr.IX:  {},
			lockmgr.S:   {},
			lockmgr.SIX: {},
			lockmgr.X:   {},
		},
		rowLocksS: map[TableID]map[common.RecordID]struct{}{},
		rowLocksX: map[TableID]map[common.RecordID]struct{}{},
		toDelete:  map[common.PageID]struct{}{},
	}
}

func (c *Context) ID() common.TxnID { return c.id }

func (c *Context) State() lockmgr.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Context) SetState(s lockmgr.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *Context) Isolation() lockmgr.IsolationLevel {
	return c.isolation
}

// HasTableLock reports whether the transaction holds mode on table.
func (c *Context) HasTableLock(mode lockmgr.Mode, table TableID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.tableLocks[mode][table]
	return ok
}

// TableLockMode returns the mode currently held on table, if any.
func (c *Context) TableLockMode(table TableID) (lockmgr.Mode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range []lockmgr.Mode{lockmgr.IS, lockmgr.IX, lockmgr.S, lockmgr.SIX, lockmgr.X} {
		if _, ok := c.tableLocks[m][table]; ok {
			return m, true
		}
	}
	return 0, false
}

// GrantTableLock records that the transaction now holds mode on table.
func (c *Context) GrantTableLock(mode lockmgr.Mode, table TableID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tableLocks[mode][table] = struct{}{}
}

// RevokeTableLock removes the record of mode held on table.
func (c *Context) RevokeTableLock(mode lockmgr.Mode, table TableID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tableLocks[mode], table)
}

// HasAnyRowLock reports whether the transaction holds any row lock (S or X)
// on table.
func (c *Context) HasAnyRowLock(table TableID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rowLocksS[table]) > 0 || len(c.rowLocksX[table]) > 0
}

func (c *Context) HasRowLock(mode lockmgr.Mode, table TableID, rid common.RecordID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	var set map[TableID]map[common.RecordID]struct{}
	if mode == lockmgr.S {
		set = c.rowLocksS
	} else {
		set = c.rowLocksX
	}
	_, ok := set[table][rid]
	return ok
}

// GrantRowLock records that the transaction now holds mode on rid.
func (c *Context) GrantRowLock(mode lockmgr.Mode, table TableID, rid common.RecordID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := c.rowLocksS
	if mode == lockmgr.X {
		set = c.rowLocksX
	}
	if set[table] == nil {
		set[table] = map[common.RecordID]struct{}{}
	}
	set[table][rid] = struct{}{}
}

// RevokeRowLock removes the record of mode held on rid.
func (c *Context) RevokeRowLock(mode lockmgr.Mode, table TableID, rid common.RecordID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := c.rowLocksS
	if mode == lockmgr.X {
		set = c.rowLocksX
	}
	delete(set[table], rid)
}

// PushLatch records a page (or the tree) as latched on the current write
// path, for release in reverse order during crabbing ascent.
func (c *Context) PushLatch(l PageLatch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latchDeque = append(c.latchDeque, l)
}

// PopLatch removes and returns the most recently pushed latch.
func (c *Context) PopLatch() (PageLatch, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.latchDeque)
	if n == 0 {
		return PageLatch{}, false
	}
	l := c.latchDeque[n-1]
	c.latchDeque = c.latchDeque[:n-1]
	return l, true
}

// Latches returns a snapshot of the currently held latch deque, oldest
// (outermost) first.
func (c *Context) Latches() []PageLatch {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PageLatch, len(c.latchDeque))
	copy(out, c.latchDeque)
	return out
}

// MarkForDeletion schedules id for physical deletion once the operation
// holding it succeeds.
func (c *Context) MarkForDeletion(id common.PageID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toDelete[id] = struct{}{}
}

// TakePagesToDelete returns the set of page ids scheduled for deletion and
// clears it, so a context reused across operations never redelivers a page
// id it already handed out.
func (c *Context) TakePagesToDelete() []common.PageID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]common.PageID, 0, len(c.toDelete))
	for id := range c.toDelete {
		out = append(out, id)
	}
	c.toDelete = map[common.PageID]struct{}{}
	return out
}
