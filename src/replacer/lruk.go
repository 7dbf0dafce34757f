// Package replacer implements the LRU-K buffer-frame eviction policy.
package replacer

import (
	"sync"

	"github.com/kvnovik/relcore/src/pkg/assert"
	"github.com/kvnovik/relcore/src/pkg/common"
)

// LRUK picks the evictable frame with the largest backward K-distance: the
// gap between now and the Kth most recent access. Frames with fewer than K
// recorded accesses are treated as having infinite distance, so a frame
// touched only once is preferred for eviction over one touched K times,
// however long ago. Ties break toward the frame whose oldest recorded access
// is earliest.
type LRUK struct {
	mu sync.Mutex

	k            int
	history      [][]uint64 // per-frame, oldest first, len <= k
	evictable    []bool
	currentTime  uint64
	replacerSize int
}

// New constructs a replacer managing numFrames frames, each tracking up to k
// access timestamps.
func New(numFrames, k int) *LRUK {
	assert.Assert(numFrames > 0, "numFrames must be positive")
	assert.Assert(k >= 1, "k must be at least 1")

	return &LRUK{
		k:            k,
		history:      make([][]uint64, numFrames),
		evictable:    make([]bool, numFrames),
		replacerSize: numFrames,
	}
}

// RecordAccess appends the current timestamp to frame's history, trimming
// the oldest entry once history exceeds K.
func (r *LRUK) RecordAccess(frame common.FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	assert.Assert(int(frame) < r.replacerSize, "frame id out of range")

	h := append(r.history[frame], r.currentTime)
	r.currentTime++
	if len(h) > r.k {
		h = h[1:]
	}
	r.history[frame] = h
}

// SetEvictable marks frame as a candidate (or not) for Evict.
func (r *LRUK) SetEvictable(frame common.FrameID, evictable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	assert.Assert(int(frame) < r.replacerSize, "frame id out of range")
	r.evictable[frame] = evictable
}

// Evict picks the evictable frame with the largest backward K-distance and
// clears its history. Returns false if no evictable frame has any history.
func (r *LRUK) Evict() (common.FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		found         bool
		victim        common.FrameID
		maxDiff       uint64
		maxDiffAtTime uint64
	)

	for i := 0; i < r.replacerSize; i++ {
		if len(r.history[i]) == 0 || !r.evictable[i] {
			continue
		}

		diff, timestamp := r.distance(i)
		if !found || diff > maxDiff || (diff == maxDiff && timestamp < maxDiffAtTime) {
			victim = common.FrameID(i)
			maxDiff = diff
			maxDiffAtTime = timestamp
			found = true
		}
	}

	if found {
		r.history[victim] = nil
	}

	return victim, found
}

// Remove clears a frame's history outright. The frame must currently be
// evictable; removing a frame with empty history is a no-op.
func (r *LRUK) Remove(frame common.FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	assert.Assert(int(frame) < r.replacerSize, "frame id out of range")
	if len(r.history[frame]) == 0 {
		return
	}
	assert.Assert(r.evictable[frame], "cannot remove a non-evictable frame")
	r.history[frame] = nil
}

// Size returns the number of evictable frames with at least one recorded
// access.
func (r *LRUK) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for i := 0; i < r.replacerSize; i++ {
		if len(r.history[i]) > 0 && r.evictable[i] {
			n++
		}
	}
	return n
}

// distance returns (backward K-distance, earliest recorded timestamp) for
// frame. Must be called with r.mu held.
func (r *LRUK) distance(frame int) (uint64, uint64) {
	h := r.history[frame]
	earliest := h[0]
	if len(h) < r.k {
		return ^uint64(0), earliest
	}
	return r.currentTime - earliest, earliest
}
