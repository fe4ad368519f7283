package hnsw

// BitSet tracks visited node ids during a graph traversal. It replaces a
// map[uint32]struct{}: membership tests are a shift and a mask, and Clear
// lets a pooled instance be reused across searches without reallocating.
type BitSet struct {
	words []uint64
}

// NewBitSet creates a set able to hold ids in [0, size).
func NewBitSet(size uint32) *BitSet {
	return &BitSet{words: make([]uint64, (size+63)/64)}
}

// Add marks id as visited. The caller must have sized the set via
// EnsureCapacity.
func (b *BitSet) Add(id uint32) {
	b.words[id>>6] |= 1 << (id & 63)
}

// Has reports whether id was visited.
func (b *BitSet) Has(id uint32) bool {
	w := id >> 6
	if int(w) >= len(b.words) {
		return false
	}
	return b.words[w]&(1<<(id&63)) != 0
}

// Clear resets every bit, keeping the backing array.
func (b *BitSet) Clear() {
	for i := range b.words {
		b.words[i] = 0
	}
}

// EnsureCapacity grows the set so ids in [0, size) fit.
func (b *BitSet) EnsureCapacity(size uint32) {
	need := int(size+63) / 64
	if need > len(b.words) {
		grown := make([]uint64, need)
		copy(grown, b.words)
		b.words = grown
	}
}
