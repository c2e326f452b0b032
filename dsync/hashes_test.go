package dsync

import (
	"bytes"
	"io"
	"math/rand"
	"testing"

	"github.com/itchio/randsource"
	"github.com/stretchr/testify/assert"

	"github.com/wavemill/driftwood/dtest"
)

// The rolled checksum must agree with a from-scratch computation at
// every offset, or matching silently degrades to never-hits.
func Test_RollingMatchesScratch(t *testing.T) {
	prng := randsource.Reader{
		Source: rand.New(rand.NewSource(0x05a17)),
	}

	buf := make([]byte, 1024)
	_, err := io.ReadFull(prng, buf)
	dtest.Must(t, err)

	const windowLen = 64

	β, β1, β2 := βhash(buf[:windowLen])

	for i := 1; i+windowLen <= len(buf); i++ {
		αPop := uint32(buf[i-1])
		αPush := uint32(buf[i+windowLen-1])

		β1 = (β1 - αPop + αPush) % _M
		β2 = (β2 - uint32(windowLen)*αPop + β1) % _M
		β = β1 + (_M * β2)

		want, _, _ := βhash(buf[i : i+windowLen])
		assert.Equal(t, want, β, "offset %d", i)
	}
}

// [1,0,1] and [0,2,0] have the same byte sum and the same weighted sum,
// so they collide on the weak hash. The strong hash has to tell them
// apart.
func Test_WeakCollisionIsCaughtByStrongHash(t *testing.T) {
	blockA := []byte{1, 0, 1}
	blockB := []byte{0, 2, 0}

	βa, _, _ := βhash(blockA)
	βb, _, _ := βhash(blockB)
	assert.Equal(t, βa, βb, "test blocks should weak-collide")

	library := NewBlockLibrary([]BlockHash{
		{FileIndex: 0, BlockIndex: 0, WeakHash: βa, StrongHash: strongHash(blockA), ShortSize: 3},
	})

	hit := findUniqueHash(library.hashLookup[βb], strongHash(blockB), 3)
	assert.Nil(t, hit)

	hit = findUniqueHash(library.hashLookup[βa], strongHash(blockA), 3)
	assert.NotNil(t, hit)
}

// Ties between identical blocks resolve to the earliest indexed one.
func Test_DuplicateBlocksResolveToFirst(t *testing.T) {
	block := []byte{7, 7, 7, 7}
	β, _, _ := βhash(block)
	strong := strongHash(block)

	library := NewBlockLibrary([]BlockHash{
		{FileIndex: 0, BlockIndex: 4, WeakHash: β, StrongHash: strong},
		{FileIndex: 1, BlockIndex: 0, WeakHash: β, StrongHash: strong},
	})

	hit := findUniqueHash(library.hashLookup[β], strong, 0)
	assert.NotNil(t, hit)
	assert.EqualValues(t, 0, hit.FileIndex)
	assert.EqualValues(t, 4, hit.BlockIndex)
}

func Test_SignatureIsDeterministic(t *testing.T) {
	prng := randsource.Reader{
		Source: rand.New(rand.NewSource(0xdada)),
	}

	data := make([]byte, 700*4+123)
	_, err := io.ReadFull(prng, data)
	dtest.Must(t, err)

	sign := func() []BlockHash {
		var hashes []BlockHash
		ctx := NewContext(700)
		err := ctx.CreateSignature(0, bytes.NewReader(data), func(h BlockHash) error {
			hashes = append(hashes, h)
			return nil
		})
		dtest.Must(t, err)
		return hashes
	}

	first := sign()
	second := sign()
	assert.Equal(t, first, second)

	assert.Len(t, first, 5)
	for i, h := range first {
		assert.EqualValues(t, i, h.BlockIndex)
	}
	assert.EqualValues(t, 123, first[4].ShortSize)
	assert.EqualValues(t, 0, first[3].ShortSize)
}

func Test_SignatureBoundaryBlocks(t *testing.T) {
	sign := func(data []byte) []BlockHash {
		var hashes []BlockHash
		ctx := NewContext(700)
		err := ctx.CreateSignature(0, bytes.NewReader(data), func(h BlockHash) error {
			hashes = append(hashes, h)
			return nil
		})
		dtest.Must(t, err)
		return hashes
	}

	// exact multiple: no short final block
	exact := sign(make([]byte, 700*2))
	assert.Len(t, exact, 2)
	assert.EqualValues(t, 0, exact[0].ShortSize)
	assert.EqualValues(t, 0, exact[1].ShortSize)

	// one byte over: a final block of length 1, keyed by its length so it
	// never competes with full blocks sharing the same prefix
	over := sign(make([]byte, 700*2+1))
	assert.Len(t, over, 3)
	assert.EqualValues(t, 1, over[2].ShortSize)
}

func Test_SignatureEmptyInput(t *testing.T) {
	ctx := NewContext(700)
	calls := 0
	err := ctx.CreateSignature(0, bytes.NewReader(nil), func(h BlockHash) error {
		calls++
		return nil
	})
	dtest.Must(t, err)
	assert.Equal(t, 0, calls)
}
