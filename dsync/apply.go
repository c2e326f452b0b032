package dsync

import (
	"io"

	"github.com/pkg/errors"
)

// ApplySingle replays one operation against output, pulling reference
// bytes from pool as needed.
func (ctx *Context) ApplySingle(output io.Writer, pool Pool, op Operation) error {
	switch op.Type {
	case OpBlockRange:
		return ctx.applyBlockRange(output, pool, op)
	case OpData:
		_, err := output.Write(op.Data)
		return errors.WithStack(err)
	default:
		return errors.Errorf("dsync: unknown op type %d", op.Type)
	}
}

// Apply replays a whole operation sequence, in order, against output.
func (ctx *Context) Apply(output io.Writer, pool Pool, ops []Operation) error {
	for _, op := range ops {
		err := ctx.ApplySingle(output, pool, op)
		if err != nil {
			return err
		}
	}
	return nil
}

func (ctx *Context) applyBlockRange(output io.Writer, pool Pool, op Operation) error {
	if len(ctx.buffer) < ctx.blockSize {
		ctx.buffer = make([]byte, ctx.blockSize)
	}
	buffer := ctx.buffer[:ctx.blockSize]

	reader, err := pool.GetReader(op.FileIndex)
	if err != nil {
		return errors.WithStack(err)
	}

	_, err = reader.Seek(op.BlockIndex*int64(ctx.blockSize), io.SeekStart)
	if err != nil {
		return errors.WithStack(err)
	}

	span := op.BlockSpan
	if span == 0 {
		span = 1
	}

	for i := int64(0); i < span; i++ {
		n, err := io.ReadAtLeast(reader, buffer, ctx.blockSize)
		if err != nil {
			// A short read is expected on the last block of a file.
			if err != io.ErrUnexpectedEOF && err != io.EOF {
				return errors.WithStack(err)
			}
		}
		if n == 0 {
			break
		}

		_, err = output.Write(buffer[:n])
		if err != nil {
			return errors.WithStack(err)
		}
	}

	return nil
}
