// Package dsync implements the rolling-checksum block matching at the
// heart of driftwood, in the family of rsync's weak/strong hash scheme:
// https://www.samba.org/~tridge/phd_thesis.pdf
//
// Definitions
//   Source: the new content, the one we want to reconstruct.
//   Reference: the old content, whose blocks may be reused.
//   Signature: the sequence of block hashes computed over the reference.
package dsync

import "io"

// Modulus of both halves of the weak checksum.
const _M = 1 << 16

// MaxDataOp is the maximum size of the payload of a single OpData
// operation. Longer literal runs are split.
const MaxDataOp = 4 * 1024 * 1024

type OpType byte

const (
	OpBlockRange OpType = iota
	OpData
)

// Operation is an instruction to reconstruct a span of the source, either
// by copying a range of reference blocks or by writing literal bytes.
type Operation struct {
	Type       OpType
	FileIndex  int64
	BlockIndex int64
	BlockSpan  int64
	Data       []byte
}

// OperationWriter receives operations as the matcher emits them. The Data
// slice of an OpData operation aliases an internal buffer: it must be
// copied out before the callback returns.
type OperationWriter func(op Operation) error

// BlockHash is one entry of a reference signature.
type BlockHash struct {
	FileIndex  int64
	BlockIndex int64

	WeakHash   uint32
	StrongHash []byte

	// ShortSize is the block's length if it's shorter than the full
	// block size (the last block of a file), 0 otherwise. Short blocks
	// only ever match windows of the exact same length.
	ShortSize int32
}

// SignatureWriter receives block hashes as they are computed.
type SignatureWriter func(hash BlockHash) error

// Pool gives read access to the files of a reference tree by index.
type Pool interface {
	GetReader(fileIndex int64) (io.ReadSeeker, error)
	Close() error
}

// Context holds the scratch state for diffing or applying one file at a
// time. It is not safe for concurrent use; give each worker its own.
type Context struct {
	blockSize int
	buffer    []byte
}

func NewContext(blockSize int) *Context {
	return &Context{blockSize: blockSize}
}

func (ctx *Context) BlockSize() int {
	return ctx.blockSize
}
