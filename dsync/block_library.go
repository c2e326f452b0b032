package dsync

// BlockLibrary indexes reference block hashes by weak hash. It is built
// once, before matching starts, and is read-only afterwards, so any number
// of matcher goroutines may share it without locking.
type BlockLibrary struct {
	hashLookup map[uint32][]BlockHash
}

// NewBlockLibrary builds a library from a signature. A single weak hash
// may bucket many distinct blocks; insertion order within a bucket is the
// order hashes are given, which matchers rely on for deterministic
// tie-breaking.
func NewBlockLibrary(hashes []BlockHash) *BlockLibrary {
	hashLookup := make(map[uint32][]BlockHash)

	for _, h := range hashes {
		hashLookup[h.WeakHash] = append(hashLookup[h.WeakHash], h)
	}

	return &BlockLibrary{hashLookup: hashLookup}
}

// NumBlocks returns the number of indexed blocks.
func (bl *BlockLibrary) NumBlocks() int {
	n := 0
	for _, hh := range bl.hashLookup {
		n += len(hh)
	}
	return n
}
