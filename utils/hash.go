package utils

import (
	"hash/fnv"

	"github.com/benbjohnson/immutable"
	"golang.org/x/exp/constraints"
)

// Hashable is implemented by abstract states and other values kept in
// hash-indexed collections.
type Hashable interface {
	Hash() uint32
}

// OrderedComparer orders the keys of persistent sorted maps.
type OrderedComparer[K constraints.Ordered] struct{}

// Compare returns -1, 0 or 1 as a is less than, equal to or greater than b.
func (OrderedComparer[K]) Compare(a, b K) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

var _ immutable.Comparer[string] = OrderedComparer[string]{}

// NewSortedMap creates an empty persistent map iterated in key order.
func NewSortedMap[K constraints.Ordered, V any]() *immutable.SortedMap[K, V] {
	return immutable.NewSortedMap[K, V](OrderedComparer[K]{})
}

// HashCombine uses the C++ boost algorithm for combining multiple hash values.
func HashCombine(hs ...uint32) (seed uint32) {
	for _, v := range hs {
		seed = v + 0x9e3779b9 + (seed << 6) + (seed >> 2)
	}

	return
}

// HashString computes the FNV-1a hash of a string.
func HashString(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

// HashInt mixes an integer into a well distributed 32-bit hash.
func HashInt(i int64) uint32 {
	x := uint64(i)
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	return uint32(x ^ (x >> 32))
}
