// Package hashtable implements a concurrent extendible hash table, used both
// as the buffer pool's page table and as a general-purpose directory.
package hashtable

import (
	"sync"

	"github.com/kvnovik/relcore/src/pkg/assert"
)

// HashFunc maps a key to a 64-bit hash. Only the low bits (up to
// globalDepth) are consulted.
type HashFunc[K comparable] func(key K) uint64

type entry[K comparable, V any] struct {
	key   K
	value V
}

type bucket[K comparable, V any] struct {
	localDepth int
	items      []entry[K, V]
}

func newBucket[K comparable, V any](localDepth int) *bucket[K, V] {
	return &bucket[K, V]{localDepth: localDepth}
}

func (b *bucket[K, V]) find(key K) (V, bool) {
	for _, e := range b.items {
		if e.key == key {
			return e.value, true
		}
	}
	var zero V
	return zero, false
}

// insertOrReplace returns true if the item was placed without needing a
// split (either replaced in place or room existed).
func (b *bucket[K, V]) insertOrReplace(key K, value V, capacity int) bool {
	for i, e := range b.items {
		if e.key == key {
			b.items[i].value = value
			return true
		}
	}
	if len(b.items) >= capacity {
		return false
	}
	b.items = append(b.items, entry[K, V]{key: key, value: value})
	return true
}

func (b *bucket[K, V]) remove(key K) bool {
	for i, e := range b.items {
		if e.key == key {
			b.items = append(b.items[:i], b.items[i+1:]...)
			return true
		}
	}
	return false
}

// Table is a concurrent extendible hash map. A single mutex protects the
// whole structure (directory, buckets, and depths); every operation is
// O(1) expected.
type Table[K comparable, V any] struct {
	mu sync.Mutex

	bucketSize  int
	globalDepth int
	dir         []*bucket[K, V]
	hash        HashFunc[K]
}

// New constructs a table with the given per-bucket capacity and hash
// function, starting at global depth 0 (a single bucket).
func New[K comparable, V any](bucketSize int, hash HashFunc[K]) *Table[K, V] {
	assert.Assert(bucketSize > 0, "bucketSize must be positive")

	t := &Table[K, V]{
		bucketSize:  bucketSize,
		globalDepth: 0,
		hash:        hash,
	}
	t.dir = []*bucket[K, V]{newBucket[K, V](0)}
	return t
}

func mask(depth int) uint64 {
	return (uint64(1) << uint(depth)) - 1
}

func (t *Table[K, V]) dirIndex(key K) uint64 {
	return t.hash(key) & mask(t.globalDepth)
}

// Find returns the value for key and whether it was present.
func (t *Table[K, V]) Find(key K) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.dir[t.dirIndex(key)]
	return b.find(key)
}

// Insert adds key/value, replacing any existing value for key. It may grow
// the directory and split buckets as many times as needed.
func (t *Table[K, V]) Insert(key K, value V) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		idx := t.dirIndex(key)
		b := t.dir[idx]

		if b.insertOrReplace(key, value, t.bucketSize) {
			t.checkIntegrity()
			return
		}

		t.splitBucket(idx)
		// retry: the loop terminates because each iteration either reduces
		// the number of colliding items (split redistributes them) or
		// doubles the directory, strictly growing global depth, which is
		// bounded by the key hash's bit width.
	}
}

// Remove deletes key if present, reporting whether it was found.
func (t *Table[K, V]) Remove(key K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.dir[t.dirIndex(key)]
	ok := b.remove(key)
	t.checkIntegrity()
	return ok
}

// GlobalDepth reports the directory's current depth, mostly for tests.
func (t *Table[K, V]) GlobalDepth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.globalDepth
}

// splitBucket grows the directory (only if the bucket's local depth has
// caught up with the global depth) and redistributes the bucket's items
// between it and a freshly allocated sibling. Must be called with t.mu held.
func (t *Table[K, V]) splitBucket(idx uint64) {
	b := t.dir[idx]

	if b.localDepth == t.globalDepth {
		t.doubleDirectory()
	}

	newDepth := b.localDepth + 1
	sibling := newBucket[K, V](newDepth)
	b.localDepth = newDepth

	// The newly significant bit is bit (newDepth-1) of the key's hash.
	// Every directory slot that used to point at b and has that bit set
	// is rewritten to point at the sibling.
	highBit := uint64(1) << uint(newDepth-1)
	for i := range t.dir {
		if t.dir[i] != b {
			continue
		}
		if uint64(i)&highBit != 0 {
			t.dir[i] = sibling
		}
	}

	// Redistribute only the colliding bucket's own items (not the whole
	// directory) by the newly significant bit.
	kept := b.items[:0]
	for _, e := range b.items {
		if t.hash(e.key)&highBit != 0 {
			sibling.items = append(sibling.items, e)
		} else {
			kept = append(kept, e)
		}
	}
	b.items = kept
}

// doubleDirectory duplicates the directory's contents, incrementing global
// depth. Must be called with t.mu held.
func (t *Table[K, V]) doubleDirectory() {
	doubled := make([]*bucket[K, V], len(t.dir)*2)
	copy(doubled, t.dir)
	copy(doubled[len(t.dir):], t.dir)
	t.dir = doubled
	t.globalDepth++
}

// checkIntegrity validates the directory-size and local/global-depth
// invariants. Panics via assert on violation.
func (t *Table[K, V]) checkIntegrity() {
	assert.Assert(len(t.dir) == 1<<uint(t.globalDepth), "directory size must be 2^globalDepth")

	for i, b := range t.dir {
		assert.Assert(b.localDepth <= t.globalDepth, "local depth must not exceed global depth")

		low := uint64(i) & mask(b.localDepth)
		for j := range t.dir {
			if uint64(j)&mask(b.localDepth) == low {
				assert.Assert(t.dir[j] == b, "slots sharing low local-depth bits must reference the same bucket")
			}
		}
	}
}
