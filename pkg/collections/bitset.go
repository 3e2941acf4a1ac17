// Package collections provides small generic data structures used by the
// linker: id sets, a FIFO work queue and compute-once cells.
package collections

import (
	"iter"
	"math/bits"
)

// Bitset is a growable set of small non-negative integers, such as klass
// ids.
type Bitset struct {
	words []uint64
}

// NewBitset creates a bitset sized for ids below n.
func NewBitset(n int) *Bitset {
	return &Bitset{words: make([]uint64, (max(n, 1)+63)/64)}
}

// Set adds i. Negative ids are ignored.
func (b *Bitset) Set(i int) {
	b.Add(i)
}

// Add adds i and reports whether it was absent.
func (b *Bitset) Add(i int) bool {
	if i < 0 {
		return false
	}
	w, mask := i/64, uint64(1)<<(i%64)
	if w >= len(b.words) {
		b.words = append(b.words, make([]uint64, w+1-len(b.words))...)
	}
	if b.words[w]&mask != 0 {
		return false
	}
	b.words[w] |= mask
	return true
}

// Test reports whether i is in the set.
func (b *Bitset) Test(i int) bool {
	if i < 0 || i/64 >= len(b.words) {
		return false
	}
	return b.words[i/64]&(1<<(i%64)) != 0
}

// Len returns the number of ids in the set.
func (b *Bitset) Len() int {
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// All yields the ids in ascending order.
func (b *Bitset) All() iter.Seq[int] {
	return func(yield func(int) bool) {
		for wi, w := range b.words {
			for w != 0 {
				if !yield(wi*64 + bits.TrailingZeros64(w)) {
					return
				}
				w &= w - 1
			}
		}
	}
}
