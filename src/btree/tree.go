package btree

import (
	"sort"
	"sync"

	"github.com/kvnovik/relcore/src/bufferpool"
	"github.com/kvnovik/relcore/src/pkg/assert"
	"github.com/kvnovik/relcore/src/pkg/common"
	"github.com/kvnovik/relcore/src/storage/page"
	"github.com/kvnovik/relcore/src/txn"
)

// BTree is a latch-crabbing B+-tree of unique fixed-width keys over pages
// pinned through a buffer pool. Each tree object holds only its root page
// id and configuration; every node lives in exactly one buffer-pool page.
type BTree struct {
	name    string
	bpm     bufferpool.PageStore
	header  *Header
	cmp     Comparator
	keySize int

	leafMax     int
	internalMax int

	treeLatch  sync.RWMutex
	rootPageID common.PageID
}

// New constructs a BTree bound to name, reading (or initializing) its root
// page id from header.
func New(name string, bpm bufferpool.PageStore, header *Header, keySize int, cmp Comparator) *BTree {
	root := common.InvalidPageID
	if rootOpt := header.GetRootPageID(name); rootOpt.IsSome() {
		root = rootOpt.Unwrap()
	}
	return &BTree{
		name:        name,
		bpm:         bpm,
		header:      header,
		cmp:         cmp,
		keySize:     keySize,
		leafMax:     leafMaxSize(keySize),
		internalMax: internalMaxSize(keySize),
		rootPageID:  root,
	}
}

// IsEmpty reports whether the tree currently has no root.
func (t *BTree) IsEmpty() bool {
	t.treeLatch.RLock()
	defer t.treeLatch.RUnlock()
	return t.rootPageID == common.InvalidPageID
}

// GetRootPageId returns the tree's current root page id.
func (t *BTree) GetRootPageId() common.PageID {
	t.treeLatch.RLock()
	defer t.treeLatch.RUnlock()
	return t.rootPageID
}

type pinnedPage struct {
	page *page.Page
	id   common.PageID
}

// childFor binary-searches an internal page's keys to find which child
// subtree covers key, using the [key(i), key(i+1)) partitioning implied by
// an internal page's separator keys, with key(0) treated as -infinity.
func (t *BTree) childFor(p *page.Page, key []byte) common.PageID {
	n := getSize(p)
	m := n - 1
	r := sort.Search(m, func(k int) bool {
		return t.cmp(key, internalKeyAt(p, t.keySize, k+1)) < 0
	})
	if r == m {
		return internalChildAt(p, t.keySize, n-1)
	}
	return internalChildAt(p, t.keySize, r)
}

// childIndexFor is childFor but returns the index rather than the page id,
// for structural operations that need to know a child's position among its
// siblings.
func (t *BTree) childIndexFor(p *page.Page, key []byte) int {
	n := getSize(p)
	m := n - 1
	r := sort.Search(m, func(k int) bool {
		return t.cmp(key, internalKeyAt(p, t.keySize, k+1)) < 0
	})
	if r == m {
		return n - 1
	}
	return r
}

// leafLowerBound returns the index of the first key >= target in a leaf
// page, or the leaf's size if none qualifies.
func (t *BTree) leafLowerBound(p *page.Page, key []byte) int {
	n := getSize(p)
	return sort.Search(n, func(i int) bool {
		return t.cmp(leafKeyAt(p, t.keySize, i), key) >= 0
	})
}

// descendShared is the read-path crabbing protocol: acquire the tree latch
// shared, fetch and shared-latch the root, release the tree latch, then
// crab down releasing each parent only after the child is shared-latched.
// Returns the leaf pinned and still held under its shared latch.
func (t *BTree) descendShared(key []byte) (pinnedPage, bool, error) {
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
		childID := t.childFor(cur, key)
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

// GetValue returns the record(s) associated with key (at most one, since
// keys are unique) and whether key was found.
func (t *BTree) GetValue(key []byte, _ *txn.Context) ([]common.RecordID, bool, error) {
	leaf, found, err := t.descendShared(key)
	if err != nil || !found {
		return nil, false, err
	}
	defer func() {
		leaf.page.RUnlock()
		t.bpm.UnpinPage(leaf.id, false)
	}()

	idx := t.leafLowerBound(leaf.page, key)
	n := getSize(leaf.page)
	if idx >= n || t.cmp(leafKeyAt(leaf.page, t.keySize, idx), key) != 0 {
		return nil, false, nil
	}
	return []common.RecordID{leafValueAt(leaf.page, t.keySize, idx)}, true, nil
}

func leafIsSafeForInsert(p *page.Page) bool {
	return getSize(p)+1 < getMaxSize(p)
}

func leafIsSafeForRemove(p *page.Page) bool {
	return getSize(p)-1 >= leafMinSize(getMaxSize(p))
}

func internalIsSafeForInsert(p *page.Page) bool {
	return getSize(p)+1 <= getMaxSize(p)
}

func internalIsSafeForRemove(p *page.Page) bool {
	return getSize(p)-1 >= internalMinSize(getMaxSize(p))
}

// descendOptimistic attempts the shared-crab-to-leaf fast path: descend as
// reader, exclusive-latch only the leaf. ok is false when the tree is
// currently empty, in which case the caller must fall back to the
// pessimistic path to create the first root.
func (t *BTree) descendOptimistic(key []byte) (pinnedPage, bool, error) {
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
	curID := root

	if isLeafPage(cur) {
		cur.Lock()
		t.treeLatch.RUnlock()
		return pinnedPage{cur, curID}, true, nil
	}
	cur.RLock()
	t.treeLatch.RUnlock()

	for {
		childID := t.childFor(cur, key)
		child, err := t.bpm.FetchPage(childID)
		if err != nil {
			cur.RUnlock()
			t.bpm.UnpinPage(curID, false)
			return pinnedPage{}, false, err
		}
		leaf := isLeafPage(child)
		if leaf {
			child.Lock()
		} else {
			child.RLock()
		}
		cur.RUnlock()
		t.bpm.UnpinPage(curID, false)
		cur, curID = child, childID
		if leaf {
			return pinnedPage{cur, curID}, true, nil
		}
	}
}

// releaseAncestors unwinds ctx's held latches from the top (most recently
// acquired) down to and including the tree-latch sentinel, releasing each
// page's exclusive latch, unpinning it as dirty, and releasing the tree
// latch when the sentinel is reached.
func (t *BTree) releaseAncestors(ctx *txn.Context) {
	for {
		l, ok := ctx.PopLatch()
		if !ok {
			return
		}
		if l.IsTreeLatchSentinel {
			t.treeLatch.Unlock()
			return
		}
		l.Page.Unlock()
		t.bpm.UnpinPage(l.PageID, true)
	}
}

func (t *BTree) releaseAll(ctx *txn.Context) {
	t.releaseAncestors(ctx)
}

// descendPessimistic is the pessimistic fallback: hold the tree latch
// exclusive, exclusive-latch every page on the path and push it onto ctx's
// latch deque, releasing ancestors as soon as a safe descendant is found so
// at most one subtree stays locked.
func (t *BTree) descendPessimistic(key []byte, ctx *txn.Context, safe func(*page.Page) bool) (pinnedPage, []pinnedPage, error) {
	t.treeLatch.Lock()
	ctx.PushLatch(txn.PageLatch{IsTreeLatchSentinel: true})

	var path []pinnedPage

	root := t.rootPageID
	if root == common.InvalidPageID {
		return pinnedPage{}, path, nil
	}

	cur, err := t.bpm.FetchPage(root)
	if err != nil {
		t.releaseAncestors(ctx)
		return pinnedPage{}, nil, err
	}
	cur.Lock()
	curID := root
	ctx.PushLatch(txn.PageLatch{PageID: curID, Page: cur, Exclusive: true})
	path = append(path, pinnedPage{cur, curID})

	for !isLeafPage(cur) {
		if safe(cur) {
			t.releaseAncestorsKeepLast(ctx)
			path = path[len(path)-1:]
		}
		childID := t.childFor(cur, key)
		child, err := t.bpm.FetchPage(childID)
		if err != nil {
			t.releaseAncestors(ctx)
			return pinnedPage{}, nil, err
		}
		child.Lock()
		ctx.PushLatch(txn.PageLatch{PageID: childID, Page: child, Exclusive: true})
		path = append(path, pinnedPage{child, childID})
		cur, curID = child, childID
	}

	return pinnedPage{cur, curID}, path, nil
}

// releaseAncestorsKeepLast releases every latch in ctx's deque except the
// most recently pushed one (the page about to become safe), leaving that
// one on the deque for the caller to manage.
func (t *BTree) releaseAncestorsKeepLast(ctx *txn.Context) {
	last, ok := ctx.PopLatch()
	assert.Assert(ok, "descent deque must hold at least the current page")
	t.releaseAncestors(ctx)
	ctx.PushLatch(last)
}

// Insert adds (key, value); returns false without modifying the tree if
// key is already present.
func (t *BTree) Insert(key []byte, value common.RecordID, ctx *txn.Context) (bool, error) {
	if !t.IsEmpty() {
		leaf, found, err := t.descendOptimistic(key)
		if err != nil {
			return false, err
		}
		if found {
			if leafIsSafeForInsert(leaf.page) {
				ok, err := t.insertIntoLeaf(leaf.page, key, value)
				leaf.page.Unlock()
				t.bpm.UnpinPage(leaf.id, ok)
				return ok, err
			}
			leaf.page.Unlock()
			t.bpm.UnpinPage(leaf.id, false)
		}
	}
	return t.insertPessimistic(key, value, ctx)
}

func (t *BTree) insertIntoLeaf(p *page.Page, key []byte, value common.RecordID) (bool, error) {
	n := getSize(p)
	idx := t.leafLowerBound(p, key)
	if idx < n && t.cmp(leafKeyAt(p, t.keySize, idx), key) == 0 {
		return false, nil
	}
	shiftLeafRight(p, t.keySize, idx, n)
	setLeafEntry(p, t.keySize, idx, key, value)
	setSize(p, n+1)
	return true, nil
}

func (t *BTree) insertPessimistic(key []byte, value common.RecordID, ctx *txn.Context) (bool, error) {
	leaf, path, err := t.descendPessimistic(key, ctx, leafIsSafeForInsertAncestorCheck)
	if err != nil {
		return false, err
	}

	if leaf.page == nil {
		// Empty tree: create the first leaf as root.
		id, p, err := t.bpm.NewPage()
		if err != nil {
			t.releaseAll(ctx)
			return false, err
		}
		initLeafPage(p, t.leafMax, common.InvalidPageID)
		setLeafEntry(p, t.keySize, 0, key, value)
		setSize(p, 1)
		t.bpm.UnpinPage(id, true)

		t.rootPageID = id
		if err := t.header.UpdateRecord(t.name, id); err != nil {
			t.releaseAll(ctx)
			return false, err
		}
		t.releaseAll(ctx)
		return true, nil
	}

	n := getSize(leaf.page)
	idx := t.leafLowerBound(leaf.page, key)
	if idx < n && t.cmp(leafKeyAt(leaf.page, t.keySize, idx), key) == 0 {
		t.releaseAll(ctx)
		return false, nil
	}
	shiftLeafRight(leaf.page, t.keySize, idx, n)
	setLeafEntry(leaf.page, t.keySize, idx, key, value)
	setSize(leaf.page, n+1)

	if getSize(leaf.page) == getMaxSize(leaf.page) {
		if err := t.splitLeaf(leaf, path, ctx); err != nil {
			t.releaseAll(ctx)
			return false, err
		}
	}

	t.releaseAll(ctx)
	return true, nil
}

// leafIsSafeForInsertAncestorCheck adapts leafIsSafeForInsert/
// internalIsSafeForInsert into the single predicate descendPessimistic
// wants, since the same descent is used for both page kinds.
func leafIsSafeForInsertAncestorCheck(p *page.Page) bool {
	if isLeafPage(p) {
		return leafIsSafeForInsert(p)
	}
	return internalIsSafeForInsert(p)
}

func internalIsSafeForRemoveAncestorCheck(p *page.Page) bool {
	if isLeafPage(p) {
		return leafIsSafeForRemove(p)
	}
	return internalIsSafeForRemove(p)
}

// splitLeaf splits an overfull leaf: the upper half moves to a new leaf
// linked in by next_page_id, and (first key of new leaf, new leaf id) is
// inserted into the parent.
func (t *BTree) splitLeaf(leaf pinnedPage, path []pinnedPage, ctx *txn.Context) error {
	n := getSize(leaf.page)
	mid := n / 2

	newID, newPage, err := t.bpm.NewPage()
	if err != nil {
		return err
	}
	initLeafPage(newPage, t.leafMax, getParentPageID(leaf.page))

	for i := mid; i < n; i++ {
		k := leafKeyAt(leaf.page, t.keySize, i)
		buf := make([]byte, t.keySize)
		copy(buf, k)
		setLeafEntry(newPage, t.keySize, i-mid, buf, leafValueAt(leaf.page, t.keySize, i))
	}
	setSize(newPage, n-mid)
	setNextPageID(newPage, getNextPageID(leaf.page))
	setNextPageID(leaf.page, newID)
	setSize(leaf.page, mid)

	promoted := make([]byte, t.keySize)
	copy(promoted, leafKeyAt(newPage, t.keySize, 0))
	t.bpm.UnpinPage(newID, true)

	return t.insertIntoParent(leaf, path, promoted, newID, ctx)
}

// insertIntoParent inserts (promotedKey, rightChildID) into the parent of
// the page at the tail of path, recursing through splitInternal if the
// parent itself overflows, or creating a new root if path has no parent.
func (t *BTree) insertIntoParent(left pinnedPage, path []pinnedPage, promotedKey []byte, rightID common.PageID, ctx *txn.Context) error {
	parentIdx := len(path) - 2
	if parentIdx < 0 {
		// left was the root: create a fresh root with two children.
		newRootID, newRoot, err := t.bpm.NewPage()
		if err != nil {
			return err
		}
		initInternalPage(newRoot, t.internalMax, common.InvalidPageID)
		setInternalEntry(newRoot, t.keySize, 0, make([]byte, t.keySize), left.id)
		setInternalEntry(newRoot, t.keySize, 1, promotedKey, rightID)
		setSize(newRoot, 2)
		t.bpm.UnpinPage(newRootID, true)

		setParentPageID(left.page, newRootID)
		if right, err := t.bpm.FetchPage(rightID); err == nil {
			setParentPageID(right, newRootID)
			t.bpm.UnpinPage(rightID, true)
		}

		t.rootPageID = newRootID
		return t.header.UpdateRecord(t.name, newRootID)
	}

	parent := path[parentIdx].page
	n := getSize(parent)
	leftIdx := t.childIndexFor(parent, promotedKey)
	insertAt := leftIdx + 1

	shiftInternalRight(parent, t.keySize, insertAt, n)
	setInternalEntry(parent, t.keySize, insertAt, promotedKey, rightID)
	setSize(parent, n+1)

	if right, err := t.bpm.FetchPage(rightID); err == nil {
		setParentPageID(right, path[parentIdx].id)
		t.bpm.UnpinPage(rightID, true)
	}

	if getSize(parent) > t.internalMax {
		return t.splitInternal(path[parentIdx], path[:parentIdx+1], ctx)
	}
	return nil
}

// splitInternal splits an overfull internal page, promoting the dividing
// key to its parent. When the key that caused the overflow lands in the
// right half, the split point is effectively bumped by one so the right
// half is never larger than left+1; that falls out simply from always
// splitting at n/2 after the insert already landed, which keeps the two
// halves within one entry of each other regardless of where the inserted
// entry fell.
func (t *BTree) splitInternal(node pinnedPage, path []pinnedPage, ctx *txn.Context) error {
	n := getSize(node.page)
	mid := n / 2

	promoted := make([]byte, t.keySize)
	copy(promoted, internalKeyAt(node.page, t.keySize, mid))

	newID, newPage, err := t.bpm.NewPage()
	if err != nil {
		return err
	}
	initInternalPage(newPage, t.internalMax, getParentPageID(node.page))

	for i := mid; i < n; i++ {
		var k []byte
		if i == mid {
			k = make([]byte, t.keySize)
		} else {
			k = internalKeyAt(node.page, t.keySize, i)
		}
		buf := make([]byte, t.keySize)
		copy(buf, k)
		setInternalEntry(newPage, t.keySize, i-mid, buf, internalChildAt(node.page, t.keySize, i))
	}
	setSize(newPage, n-mid)
	setSize(node.page, mid)

	for i := 0; i < getSize(newPage); i++ {
		childID := internalChildAt(newPage, t.keySize, i)
		if child, err := t.bpm.FetchPage(childID); err == nil {
			setParentPageID(child, newID)
			t.bpm.UnpinPage(childID, true)
		}
	}
	t.bpm.UnpinPage(newID, true)

	return t.insertIntoParent(node, path, promoted, newID, ctx)
}

// Remove deletes key if present; absent keys are a silent no-op.
func (t *BTree) Remove(key []byte, ctx *txn.Context) error {
	if !t.IsEmpty() {
		leaf, found, err := t.descendOptimistic(key)
		if err != nil {
			return err
		}
		if found {
			if leafIsSafeForRemove(leaf.page) {
				t.removeFromLeaf(leaf.page, key)
				leaf.page.Unlock()
				t.bpm.UnpinPage(leaf.id, true)
				return nil
			}
			leaf.page.Unlock()
			t.bpm.UnpinPage(leaf.id, false)
		}
	}
	return t.removePessimistic(key, ctx)
}

func (t *BTree) removeFromLeaf(p *page.Page, key []byte) bool {
	n := getSize(p)
	idx := t.leafLowerBound(p, key)
	if idx >= n || t.cmp(leafKeyAt(p, t.keySize, idx), key) != 0 {
		return false
	}
	shiftLeafLeft(p, t.keySize, idx, n)
	setSize(p, n-1)
	return true
}

func (t *BTree) removePessimistic(key []byte, ctx *txn.Context) error {
	leaf, path, err := t.descendPessimistic(key, ctx, internalIsSafeForRemoveAncestorCheck)
	if err != nil {
		return err
	}
	if leaf.page == nil {
		t.releaseAll(ctx)
		return nil
	}

	if !t.removeFromLeaf(leaf.page, key) {
		t.releaseAll(ctx)
		return nil
	}

	var opErr error
	if len(path) > 1 {
		if getSize(leaf.page) < leafMinSize(getMaxSize(leaf.page)) {
			opErr = t.rebalance(leaf, path, ctx)
		}
	} else if getSize(leaf.page) == 0 {
		// The root leaf emptied out: the tree collapses to nothing. The
		// page is still latched and pinned on ctx's path, so schedule it
		// for deletion rather than deleting it out from under the
		// pending release.
		ctx.MarkForDeletion(leaf.id)
		t.rootPageID = common.InvalidPageID
		opErr = t.header.UpdateRecord(t.name, common.InvalidPageID)
	}

	t.releaseAll(ctx)
	for _, id := range ctx.TakePagesToDelete() {
		t.bpm.DeletePage(id)
	}

	return opErr
}

// rebalance is the delete-time underflow cascade: borrow from the left
// sibling, then the right sibling, then merge left,
// then merge right, recursing into the parent if it underflows, and
// collapsing the root if a merge leaves it with a single child.
func (t *BTree) rebalance(node pinnedPage, path []pinnedPage, ctx *txn.Context) error {
	parentIdx := len(path) - 2
	parent := path[parentIdx].page
	idx := t.indexOfChild(parent, node.id)

	if idx > 0 {
		leftID := internalChildAt(parent, t.keySize, idx-1)
		left, err := t.bpm.FetchPage(leftID)
		if err == nil {
			ok := t.tryBorrowFromLeft(node, left, parent, idx)
			t.bpm.UnpinPage(leftID, ok)
			if ok {
				return nil
			}
		}
	}
	if idx < getSize(parent)-1 {
		rightID := internalChildAt(parent, t.keySize, idx+1)
		right, err := t.bpm.FetchPage(rightID)
		if err == nil {
			ok := t.tryBorrowFromRight(node, right, parent, idx)
			t.bpm.UnpinPage(rightID, ok)
			if ok {
				return nil
			}
		}
	}
	if idx > 0 {
		leftID := internalChildAt(parent, t.keySize, idx-1)
		left, err := t.bpm.FetchPage(leftID)
		if err == nil {
			// left is the merge survivor and was fetched (not path-pinned)
			// here, so it is this call's responsibility to unpin it once
			// mergeSiblings is done mutating it; node (the victim) is
			// still on ctx's path and is released by the pending
			// releaseAll instead.
			mergeErr := t.mergeSiblings(left, leftID, node, parent, path[:parentIdx+1], idx-1, ctx, false)
			t.bpm.UnpinPage(leftID, true)
			return mergeErr
		}
	}
	if idx < getSize(parent)-1 {
		rightID := internalChildAt(parent, t.keySize, idx+1)
		right, err := t.bpm.FetchPage(rightID)
		if err == nil {
			// node is the merge survivor and stays path-pinned; right is
			// the victim fetched here and must be unpinned before it can
			// be deleted.
			return t.mergeSiblings(node.page, node.id, pinnedPage{right, rightID}, parent, path[:parentIdx+1], idx, ctx, true)
		}
	}
	return nil
}

func (t *BTree) indexOfChild(parent *page.Page, childID common.PageID) int {
	n := getSize(parent)
	for i := 0; i < n; i++ {
		if internalChildAt(parent, t.keySize, i) == childID {
			return i
		}
	}
	return -1
}

// tryBorrowFromLeft moves the left sibling's last entry into node, updating
// the separating key in parent. Returns false if the left sibling cannot
// spare an entry.
func (t *BTree) tryBorrowFromLeft(node pinnedPage, left *page.Page, parent *page.Page, idx int) bool {
	if isLeafPage(node.page) {
		if getSize(left) <= leafMinSize(getMaxSize(left)) {
			return false
		}
		ln := getSize(left)
		k := leafKeyAt(left, t.keySize, ln-1)
		v := leafValueAt(left, t.keySize, ln-1)
		buf := make([]byte, t.keySize)
		copy(buf, k)
		shiftLeafRight(node.page, t.keySize, 0, getSize(node.page))
		setLeafEntry(node.page, t.keySize, 0, buf, v)
		setSize(node.page, getSize(node.page)+1)
		setSize(left, ln-1)

		sep := make([]byte, t.keySize)
		copy(sep, leafKeyAt(node.page, t.keySize, 0))
		setInternalEntry(parent, t.keySize, idx, sep, internalChildAt(parent, t.keySize, idx))
		return true
	}

	if getSize(left) <= internalMinSize(getMaxSize(left)) {
		return false
	}
	ln := getSize(left)
	borrowChild := internalChildAt(left, t.keySize, ln-1)
	sepDown := make([]byte, t.keySize)
	copy(sepDown, internalKeyAt(parent, t.keySize, idx))

	shiftInternalRight(node.page, t.keySize, 0, getSize(node.page))
	setInternalEntry(node.page, t.keySize, 0, sepDown, borrowChild)
	setSize(node.page, getSize(node.page)+1)
	setSize(left, ln-1)

	sepUp := make([]byte, t.keySize)
	copy(sepUp, internalKeyAt(left, t.keySize, ln-1))
	setInternalEntry(parent, t.keySize, idx, sepUp, internalChildAt(parent, t.keySize, idx))

	if child, err := t.bpm.FetchPage(borrowChild); err == nil {
		setParentPageID(child, node.id)
		t.bpm.UnpinPage(borrowChild, true)
	}
	return true
}

// tryBorrowFromRight moves the right sibling's first entry into node.
func (t *BTree) tryBorrowFromRight(node pinnedPage, right *page.Page, parent *page.Page, idx int) bool {
	if isLeafPage(node.page) {
		if getSize(right) <= leafMinSize(getMaxSize(right)) {
			return false
		}
		k := leafKeyAt(right, t.keySize, 0)
		v := leafValueAt(right, t.keySize, 0)
		buf := make([]byte, t.keySize)
		copy(buf, k)
		n := getSize(node.page)
		setLeafEntry(node.page, t.keySize, n, buf, v)
		setSize(node.page, n+1)
		shiftLeafLeft(right, t.keySize, 0, getSize(right))
		setSize(right, getSize(right)-1)

		sep := make([]byte, t.keySize)
		copy(sep, leafKeyAt(right, t.keySize, 0))
		setInternalEntry(parent, t.keySize, idx+1, sep, internalChildAt(parent, t.keySize, idx+1))
		return true
	}

	if getSize(right) <= internalMinSize(getMaxSize(right)) {
		return false
	}
	borrowChild := internalChildAt(right, t.keySize, 0)
	sepDown := make([]byte, t.keySize)
	copy(sepDown, internalKeyAt(parent, t.keySize, idx+1))

	n := getSize(node.page)
	setInternalEntry(node.page, t.keySize, n, sepDown, borrowChild)
	setSize(node.page, n+1)

	sepUp := make([]byte, t.keySize)
	copy(sepUp, internalKeyAt(right, t.keySize, 1))
	shiftInternalLeft(right, t.keySize, 0, getSize(right))
	setSize(right, getSize(right)-1)

	setInternalEntry(parent, t.keySize, idx+1, sepUp, internalChildAt(parent, t.keySize, idx+1))

	if child, err := t.bpm.FetchPage(borrowChild); err == nil {
		setParentPageID(child, node.id)
		t.bpm.UnpinPage(borrowChild, true)
	}
	return true
}

// mergeSiblings merges right into left (right's entries appended to
// left's), removes right's entry from parent, deletes the right page, and
// recurses into the parent if it now underflows, collapsing the root if a
// merge leaves it with a single child. victimFetched tells it whether right
// was pinned by a plain FetchPage (and so needs an explicit unpin here) or
// is still held on ctx's crabbing path (and will be unpinned when that path
// is released).
func (t *BTree) mergeSiblings(left *page.Page, leftID common.PageID, right pinnedPage, parent *page.Page, path []pinnedPage, leftIdx int, ctx *txn.Context, victimFetched bool) error {
	ln, rn := getSize(left), getSize(right.page)

	if isLeafPage(left) {
		for i := 0; i < rn; i++ {
			k := leafKeyAt(right.page, t.keySize, i)
			buf := make([]byte, t.keySize)
			copy(buf, k)
			setLeafEntry(left, t.keySize, ln+i, buf, leafValueAt(right.page, t.keySize, i))
		}
		setSize(left, ln+rn)
		setNextPageID(left, getNextPageID(right.page))
	} else {
		sep := make([]byte, t.keySize)
		copy(sep, internalKeyAt(parent, t.keySize, leftIdx+1))
		setInternalEntry(left, t.keySize, ln, sep, internalChildAt(right.page, t.keySize, 0))
		for i := 1; i < rn; i++ {
			k := internalKeyAt(right.page, t.keySize, i)
			buf := make([]byte, t.keySize)
			copy(buf, k)
			setInternalEntry(left, t.keySize, ln+i, buf, internalChildAt(right.page, t.keySize, i))
		}
		setSize(left, ln+rn)
		for i := 0; i < rn; i++ {
			childID := internalChildAt(right.page, t.keySize, i)
			if child, err := t.bpm.FetchPage(childID); err == nil {
				setParentPageID(child, leftID)
				t.bpm.UnpinPage(childID, true)
			}
		}
	}

	pn := getSize(parent)
	shiftInternalLeft(parent, t.keySize, leftIdx+1, pn)
	setSize(parent, pn-1)

	// The victim's pin must reach zero before it can actually be deleted.
	// If it's still on ctx's crabbing path that happens when the pending
	// releaseAll unwinds it, so defer the delete until then; if it was
	// fetched just for this merge, drop that pin now.
	if victimFetched {
		t.bpm.UnpinPage(right.id, false)
	}
	ctx.MarkForDeletion(right.id)

	parentIdx := len(path) - 1
	if parentIdx == 0 {
		// parent is the root.
		if getSize(parent) == 1 {
			newRoot := internalChildAt(parent, t.keySize, 0)
			if child, err := t.bpm.FetchPage(newRoot); err == nil {
				setParentPageID(child, common.InvalidPageID)
				t.bpm.UnpinPage(newRoot, true)
			}
			// path[0] (the old root) is still on ctx's crabbing path;
			// schedule it for deletion rather than deleting it while
			// still latched and pinned.
			ctx.MarkForDeletion(path[0].id)
			t.rootPageID = newRoot
			return t.header.UpdateRecord(t.name, newRoot)
		}
		return nil
	}

	if getSize(parent) < internalMinSize(getMaxSize(parent)) {
		return t.rebalance(path[parentIdx], path[:parentIdx+1], ctx)
	}
	return nil
}
