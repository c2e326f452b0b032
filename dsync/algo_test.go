package dsync_test

import (
	"bytes"
	"io"
	"math/rand"
	"testing"

	"github.com/itchio/randsource"
	"github.com/stretchr/testify/assert"

	"github.com/wavemill/driftwood/dsync"
	"github.com/wavemill/driftwood/dtest"
)

const testBlockSize = 700

// bytesPool serves reference files straight from memory.
type bytesPool struct {
	files [][]byte
}

var _ dsync.Pool = (*bytesPool)(nil)

func (bp *bytesPool) GetReader(fileIndex int64) (io.ReadSeeker, error) {
	return bytes.NewReader(bp.files[fileIndex]), nil
}

func (bp *bytesPool) Close() error {
	return nil
}

func makeData(t *testing.T, seed int64, size int) []byte {
	prng := randsource.Reader{
		Source: rand.New(rand.NewSource(seed)),
	}

	data := make([]byte, size)
	_, err := io.ReadFull(prng, data)
	dtest.Must(t, err)
	return data
}

func makeLibrary(t *testing.T, refs [][]byte) *dsync.BlockLibrary {
	var hashes []dsync.BlockHash
	ctx := dsync.NewContext(testBlockSize)

	for fileIndex, ref := range refs {
		err := ctx.CreateSignature(int64(fileIndex), bytes.NewReader(ref), func(h dsync.BlockHash) error {
			hashes = append(hashes, h)
			return nil
		})
		dtest.Must(t, err)
	}

	return dsync.NewBlockLibrary(hashes)
}

func computeOps(t *testing.T, refs [][]byte, source []byte) []dsync.Operation {
	library := makeLibrary(t, refs)

	var ops []dsync.Operation
	ctx := dsync.NewContext(testBlockSize)
	err := ctx.ComputeDiff(bytes.NewReader(source), library, func(op dsync.Operation) error {
		if op.Type == dsync.OpData {
			op.Data = append([]byte(nil), op.Data...)
		}
		ops = append(ops, op)
		return nil
	})
	dtest.Must(t, err)
	return ops
}

// roundTrip diffs source against refs, replays the operations, and
// expects the source back, byte for byte.
func roundTrip(t *testing.T, refs [][]byte, source []byte) []dsync.Operation {
	ops := computeOps(t, refs, source)

	out := new(bytes.Buffer)
	ctx := dsync.NewContext(testBlockSize)
	err := ctx.Apply(out, &bytesPool{files: refs}, ops)
	dtest.Must(t, err)

	assert.True(t, bytes.Equal(source, out.Bytes()), "rebuilt content differs")
	return ops
}

func Test_DiffIdentical(t *testing.T) {
	ref := makeData(t, 0x1, testBlockSize*8+64)

	ops := roundTrip(t, [][]byte{ref}, ref)

	// the 8 full blocks and the short tail coalesce into a single range
	assert.Len(t, ops, 1)
	assert.Equal(t, dsync.OpBlockRange, ops[0].Type)
	assert.EqualValues(t, 0, ops[0].BlockIndex)
	assert.EqualValues(t, 9, ops[0].BlockSpan)
}

func Test_DiffSwappedBlocks(t *testing.T) {
	blockA := makeData(t, 0xa, testBlockSize)
	blockB := makeData(t, 0xb, testBlockSize)

	ref := append(append([]byte(nil), blockA...), blockB...)
	source := append(append([]byte(nil), blockB...), blockA...)

	ops := roundTrip(t, [][]byte{ref}, source)

	assert.Len(t, ops, 2)
	assert.Equal(t, dsync.OpBlockRange, ops[0].Type)
	assert.EqualValues(t, 1, ops[0].BlockIndex)
	assert.Equal(t, dsync.OpBlockRange, ops[1].Type)
	assert.EqualValues(t, 0, ops[1].BlockIndex)
}

func Test_DiffFreshContent(t *testing.T) {
	ref := makeData(t, 0x1, testBlockSize*4)
	source := makeData(t, 0x2, testBlockSize*3+17)

	ops := roundTrip(t, [][]byte{ref}, source)

	for _, op := range ops {
		assert.Equal(t, dsync.OpData, op.Type)
	}
}

func Test_DiffPrepended(t *testing.T) {
	ref := makeData(t, 0x1, testBlockSize*3+13)
	junk := makeData(t, 0x2, 100)
	source := append(append([]byte(nil), junk...), ref...)

	ops := roundTrip(t, [][]byte{ref}, source)

	// literal prefix, then the whole reference as one range (the short
	// tail block coalesces with the full ones)
	assert.Len(t, ops, 2)
	assert.Equal(t, dsync.OpData, ops[0].Type)
	assert.Equal(t, junk, ops[0].Data)
	assert.Equal(t, dsync.OpBlockRange, ops[1].Type)
	assert.EqualValues(t, 0, ops[1].BlockIndex)
	assert.EqualValues(t, 4, ops[1].BlockSpan)
}

func Test_DiffEdited(t *testing.T) {
	ref := makeData(t, 0x1, testBlockSize*10)
	source := append([]byte(nil), ref...)
	// flip some bytes in the middle of block 4
	copy(source[testBlockSize*4+100:], []byte("driftwood was here"))

	ops := roundTrip(t, [][]byte{ref}, source)

	var dataBytes int64
	for _, op := range ops {
		if op.Type == dsync.OpData {
			dataBytes += int64(len(op.Data))
		}
	}
	// only the damaged block should go over as literal data
	assert.EqualValues(t, testBlockSize, dataBytes)
}

func Test_DiffAcrossFiles(t *testing.T) {
	refA := makeData(t, 0xa, testBlockSize*2)
	refB := makeData(t, 0xb, testBlockSize*2)

	source := append(append([]byte(nil), refB[:testBlockSize]...), refA...)

	ops := roundTrip(t, [][]byte{refA, refB}, source)

	assert.Len(t, ops, 2)
	assert.EqualValues(t, 1, ops[0].FileIndex)
	assert.EqualValues(t, 0, ops[1].FileIndex)
	assert.EqualValues(t, 2, ops[1].BlockSpan)
}

func Test_DiffEmptySource(t *testing.T) {
	ref := makeData(t, 0x1, testBlockSize*2)

	ops := roundTrip(t, [][]byte{ref}, nil)
	assert.Empty(t, ops)
}

func Test_DiffEmptyLibrary(t *testing.T) {
	source := makeData(t, 0x1, testBlockSize*2+5)

	ops := roundTrip(t, nil, source)
	assert.Len(t, ops, 1)
	assert.Equal(t, dsync.OpData, ops[0].Type)
}

func Test_DiffShortSourceShortRef(t *testing.T) {
	// both smaller than one block
	ref := makeData(t, 0x1, 42)

	ops := roundTrip(t, [][]byte{ref}, ref)
	assert.Len(t, ops, 1)
	assert.Equal(t, dsync.OpBlockRange, ops[0].Type)
}
