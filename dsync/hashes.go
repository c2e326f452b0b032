package dsync

import (
	"bufio"
	"bytes"
	"io"

	"github.com/zeebo/blake3"
)

func (ctx *Context) splitFunc(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if len(data) >= ctx.blockSize {
		return ctx.blockSize, data[:ctx.blockSize], nil
	}

	if atEOF {
		if len(data) > 0 {
			return len(data), data, nil
		}
		return 0, nil, io.EOF
	}

	// wait for more data
	return 0, nil, nil
}

// CreateSignature computes the block signature of one reference file,
// calling writeHash once per block in file order.
func (ctx *Context) CreateSignature(fileIndex int64, reader io.Reader, writeHash SignatureWriter) error {
	s := bufio.NewScanner(reader)
	s.Buffer(make([]byte, ctx.blockSize+1), ctx.blockSize+1)
	s.Split(ctx.splitFunc)

	blockIndex := int64(0)

	for s.Scan() {
		block := s.Bytes()

		weakHash, _, _ := βhash(block)
		strongHash := strongHash(block)

		blockHash := BlockHash{
			FileIndex:  fileIndex,
			BlockIndex: blockIndex,
			WeakHash:   weakHash,
			StrongHash: strongHash,
		}

		if len(block) < ctx.blockSize {
			blockHash.ShortSize = int32(len(block))
		}

		err := writeHash(blockHash)
		if err != nil {
			return err
		}
		blockIndex++
	}

	return s.Err()
}

// strongHash identifies a block in a collision-resistant way, used to
// confirm weak hash hits.
func strongHash(v []byte) []byte {
	sum := blake3.Sum256(v)
	return sum[:]
}

// findUniqueHash scans a weak-hash bucket for a candidate whose length and
// strong hash both match. Buckets keep first-seen order, so ties resolve
// to the earliest indexed block, which keeps patches reproducible.
func findUniqueHash(hh []BlockHash, hashValue []byte, shortSize int32) *BlockHash {
	if len(hashValue) == 0 {
		return nil
	}

	for _, block := range hh {
		// full blocks have 0 shortSize
		if block.ShortSize == shortSize && bytes.Equal(block.StrongHash, hashValue) {
			return &block
		}
	}
	return nil
}

// βhash computes the two-part weak checksum of a block from scratch.
// β1 is a plain byte sum, β2 weighs each byte by its reverse position,
// both mod 2^16; β packs them as β1 + 2^16·β2.
func βhash(block []byte) (β uint32, β1 uint32, β2 uint32) {
	var a, b uint32
	for i, val := range block {
		a += uint32(val)
		b += (uint32(len(block)-1) - uint32(i) + 1) * uint32(val)
	}
	β1 = a % _M
	β2 = b % _M
	β = β1 + (_M * β2)
	return
}
