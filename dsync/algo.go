package dsync

import (
	"io"

	"github.com/pkg/errors"
)

// ComputeDiff scans source and emits the operation sequence that rebuilds
// it out of reference blocks and literal data. It is a single greedy pass:
// at each position the window's weak hash is looked up in the library, a
// hit is confirmed with the strong hash, and on a verified match the
// window jumps a whole block; otherwise it slides one byte.
//
// Consecutive block matches are coalesced into block ranges before being
// handed to ops. Any OpData payload must be copied out within the span of
// the callback; the backing buffer is reused.
func (ctx *Context) ComputeDiff(source io.Reader, library *BlockLibrary, ops OperationWriter) (err error) {
	if library == nil {
		return errors.New("dsync: nil block library")
	}

	minBufferSize := (ctx.blockSize * 2) + MaxDataOp
	if len(ctx.buffer) < minBufferSize {
		ctx.buffer = make([]byte, minBufferSize)
	}
	buffer := ctx.buffer

	type section struct {
		tail int
		head int
	}

	var data, sum section
	var n, validTo int
	var αPop, αPush, β, β1, β2 uint32
	var rolling, lastRun bool

	// Previous range op, held back so consecutive block matches merge
	// into a single range.
	var prevOp *Operation

	defer func() {
		if err == nil && prevOp != nil {
			err = ops(*prevOp)
			prevOp = nil
		}
	}()

	enqueue := func(op Operation) error {
		switch op.Type {
		case OpBlockRange:
			if prevOp != nil {
				if prevOp.FileIndex == op.FileIndex &&
					prevOp.BlockIndex+prevOp.BlockSpan == op.BlockIndex {
					prevOp.BlockSpan += op.BlockSpan
					return nil
				}
				if wErr := ops(*prevOp); wErr != nil {
					return wErr
				}
			}
			opCopy := op
			prevOp = &opCopy
		case OpData:
			// Data ops are never held back: their payload aliases the
			// window buffer, which is about to move on.
			if prevOp != nil {
				if wErr := ops(*prevOp); wErr != nil {
					return wErr
				}
				prevOp = nil
			}
			if wErr := ops(op); wErr != nil {
				return wErr
			}
		}
		return nil
	}

	for {
		// Top up the buffer when the window is about to outrun it.
		if !lastRun && sum.tail+ctx.blockSize > validTo {
			// Before wrapping the buffer, send any trailing literals off.
			if validTo+ctx.blockSize > len(buffer) {
				if data.tail < data.head {
					err = enqueue(Operation{Type: OpData, Data: buffer[data.tail:data.head]})
					if err != nil {
						return err
					}
				}

				l := validTo - sum.tail
				copy(buffer[:l], buffer[sum.tail:validTo])

				validTo = l
				sum.tail = 0
				data.tail = 0
				data.head = 0
			}

			n, err = io.ReadAtLeast(source, buffer[validTo:validTo+ctx.blockSize], ctx.blockSize)
			validTo += n
			if err != nil {
				if err != io.EOF && err != io.ErrUnexpectedEOF {
					return errors.WithStack(err)
				}
				err = nil
				lastRun = true
			}
		}

		if sum.tail >= validTo {
			// Everything consumed; flush whatever literals remain.
			if data.tail < data.head {
				err = enqueue(Operation{Type: OpData, Data: buffer[data.tail:data.head]})
				if err != nil {
					return err
				}
			}
			break
		}

		// The window is a full block, or whatever remains at end of file.
		sum.head = min(sum.tail+ctx.blockSize, validTo)
		windowLen := sum.head - sum.tail

		shortSize := int32(0)
		if windowLen < ctx.blockSize {
			shortSize = int32(windowLen)
		}

		if shortSize != 0 || !rolling {
			// The rolling update only holds between same-length windows;
			// short tail windows are hashed from scratch.
			β, β1, β2 = βhash(buffer[sum.tail:sum.head])
			rolling = shortSize == 0
		} else {
			αPush = uint32(buffer[sum.head-1])
			β1 = (β1 - αPop + αPush) % _M
			β2 = (β2 - uint32(windowLen)*αPop + β1) % _M
			β = β1 + (_M * β2)
		}

		var blockHash *BlockHash
		if hh, ok := library.hashLookup[β]; ok {
			blockHash = findUniqueHash(hh, strongHash(buffer[sum.tail:sum.head]), shortSize)
		}

		// A match flushes the pending literal run first, so operations
		// cover the output in order. Long runs also flush at the op size
		// cap, to bound buffer growth.
		if data.tail < data.head && (blockHash != nil || data.head-data.tail >= MaxDataOp) {
			err = enqueue(Operation{Type: OpData, Data: buffer[data.tail:data.head]})
			if err != nil {
				return err
			}
			data.tail = data.head
		}

		if blockHash != nil {
			err = enqueue(Operation{
				Type:       OpBlockRange,
				FileIndex:  blockHash.FileIndex,
				BlockIndex: blockHash.BlockIndex,
				BlockSpan:  1,
			})
			if err != nil {
				return err
			}

			rolling = false
			sum.tail += windowLen

			// Any buffered literals have been sent already.
			data.tail = sum.tail
			data.head = sum.tail
		} else {
			if lastRun {
				// After the stream is exhausted, a miss sends everything
				// up to validTo as literals in one go: shorter windows at
				// later offsets could still match short reference tails,
				// but they aren't tried. Trades tail compression for a
				// single flush; output stays byte-correct either way.
				err = enqueue(Operation{Type: OpData, Data: buffer[data.tail:validTo]})
				if err != nil {
					return err
				}
				data.tail = validTo
				data.head = validTo
				sum.tail = validTo
			} else {
				if rolling {
					αPop = uint32(buffer[sum.tail])
				}
				sum.tail++

				// The byte that left the window joins the literal run.
				data.head = sum.tail
			}
		}
	}

	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
