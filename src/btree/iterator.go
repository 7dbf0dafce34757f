package btree

import (
	"github.com/kvnovik/relcore/src/pkg/common"
	"github.com/kvnovik/relcore/src/storage/page"
)

// Iterator is a single-pass forward range iterator over leaf entries. It
// holds at most one page pinned (and shared-latched) at a time.
type Iterator struct {
	tree *BTree
	cur  *page.Page
	id   common.PageID
	idx  int
}

// Begin returns an iterator positioned at the first entry of the tree's
// leftmost leaf.
func (t *BTree) Begin() (*Iterator, error) {
	leaf, found, err := t.descendLeftmostLeaf()
	if err != nil || !found {
		return &Iterator{tree: t, id: common.InvalidPageID}, err
	}
	return &Iterator{tree: t, cur: leaf.page, id: leaf.id, idx: 0}, nil
}

// BeginAt returns an iterator positioned at the first entry with key >= key.
func (t *BTree) BeginAt(key []byte) (*Iterator, error) {
	leaf, found, err := t.descendShared(key)
	if err != nil || !found {
		return &Iterator{tree: t, id: common.InvalidPageID}, err
	}
	idx := t.leafLowerBound(leaf.page, key)
	it := &Iterator{tree: t, cur: leaf.page, id: leaf.id, idx: idx}
	it.skipToNonEmpty()
	return it, nil
}

func (t *BTree) descendLeftmostLeaf() (pinnedPage, bool, error) {
	t.treeLatch.RLock()
	root := t.rootPageID
	if root == common.InvalidPageID {
		t.treeLatch.RUnlock()
		return pinnedPage{}, false, nil
	}
	cur, err := t.bpm.FetchPage(root)
	if err != nil {
		t.treeLatch.RUnlock()
		return pinnedPage{}, false, err
	}
	cur.RLock()
	t.treeLatch.RUnlock()
	curID := root

	for !isLeafPage(cur) {
		childID := internalChildAt(cur, t.keySize, 0)
		child, err := t.bpm.FetchPage(childID)
		if err != nil {
			cur.RUnlock()
			t.bpm.UnpinPage(curID, false)
			return pinnedPage{}, false, err
		}
		child.RLock()
		cur.RUnlock()
		t.bpm.UnpinPage(curID, false)
		cur, curID = child, childID
	}
	return pinnedPage{cur, curID}, true, nil
}

// End returns the past-the-end sentinel iterator: a nil-page Iterator whose
// IsEnd always reports true. Iterators have no equality method; callers
// test IsEnd, which an iterator from Begin on an empty tree also satisfies.
func (t *BTree) End() *Iterator {
	return &Iterator{tree: t, id: common.InvalidPageID}
}

// IsEnd reports whether it is at the past-the-end position.
func (it *Iterator) IsEnd() bool {
	return it.id == common.InvalidPageID
}

// Key and Value return the entry at the iterator's current position. Valid
// only when !IsEnd().
func (it *Iterator) Key() []byte {
	buf := make([]byte, it.tree.keySize)
	copy(buf, leafKeyAt(it.cur, it.tree.keySize, it.idx))
	return buf
}

func (it *Iterator) Value() common.RecordID {
	return leafValueAt(it.cur, it.tree.keySize, it.idx)
}

// Next advances the iterator to the next entry, following next_page_id
// across leaf boundaries and releasing the old page's shared latch and pin.
func (it *Iterator) Next() error {
	if it.IsEnd() {
		return nil
	}
	it.idx++
	return it.skipToNonEmpty()
}

// skipToNonEmpty advances across (possibly several, in the pathological
// all-empty-leaves case) leaf boundaries until idx points at a real entry
// or the iterator reaches End.
func (it *Iterator) skipToNonEmpty() error {
	for !it.IsEnd() && it.idx >= getSize(it.cur) {
		next := getNextPageID(it.cur)
		it.cur.RUnlock()
		it.tree.bpm.UnpinPage(it.id, false)

		if next == common.InvalidPageID {
			it.cur, it.id, it.idx = nil, common.InvalidPageID, 0
			return nil
		}
		p, err := it.tree.bpm.FetchPage(next)
		if err != nil {
			it.cur, it.id = nil, common.InvalidPageID
			return err
		}
		p.RLock()
		it.cur, it.id, it.idx = p, next, 0
	}
	return nil
}

// Close releases the iterator's currently held page, if any. Callers that
// drain an iterator to End do not need to call this; it exists for early
// abandonment.
func (it *Iterator) Close() {
	if it.IsEnd() {
		return
	}
	it.cur.RUnlock()
	it.tree.bpm.UnpinPage(it.id, false)
	it.cur, it.id = nil, common.InvalidPageID
}
