package btree

// Comparator orders two fixed-width keys: negative if a < b, zero if equal,
// positive if a > b.
type Comparator func(a, b []byte) int

// ByteComparator compares keys lexicographically, the natural ordering for
// fixed-width big-endian-encoded integer or string keys.
func ByteComparator(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return int(a[i]) - int(b[i])
		}
	}
	return len(a) - len(b)
}

