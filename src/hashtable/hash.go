package hashtable

import (
	"encoding/binary"
	"hash"
	"hash/fnv"
)

// defaultHashSeed is an arbitrary odd 64-bit constant (related to the golden
// ratio) used to perturb the mapping deterministically across runs.
const defaultHashSeed uint64 = 0x9e3779b97f4a7c15

// deterministicHasher64 wraps stdlib FNV-1a with a deterministic seed so
// table construction is reproducible in tests.
type deterministicHasher64 struct {
	seed uint64
	h    hash.Hash64
}

func newDeterministicHasher64(seed uint64) *deterministicHasher64 {
	h := &deterministicHasher64{seed: seed}
	h.reset()
	return h
}

func (h *deterministicHasher64) reset() {
	h.h = fnv.New64a()
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], h.seed)
	_, _ = h.h.Write(b[:])
}

func (h *deterministicHasher64) sum64(p []byte) uint64 {
	h.reset()
	_, _ = h.h.Write(p)
	return h.h.Sum64()
}

// HashBytes hashes an arbitrary byte key deterministically. Exposed so
// callers that key the table on raw byte slices don't need to build their
// own hasher; HashInt32 encodes its key and delegates here.
func HashBytes(key []byte) uint64 {
	return newDeterministicHasher64(defaultHashSeed).sum64(key)
}

// HashInt32 hashes a 32-bit key, the common case for page-id-keyed tables.
func HashInt32(key int32) uint64 {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(key))
	return HashBytes(b[:])
}
