package wire

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

type WriteContext struct {
	writer io.Writer

	varintBuf []byte
}

func NewWriteContext(writer io.Writer) *WriteContext {
	return &WriteContext{
		writer:    writer,
		varintBuf: make([]byte, binary.MaxVarintLen64),
	}
}

func (w *WriteContext) Writer() io.Writer {
	return w.writer
}

func (w *WriteContext) Close() error {
	if c, ok := w.writer.(io.Closer); ok {
		return errors.WithStack(c.Close())
	}

	return nil
}

func (w *WriteContext) WriteMagic(magic int32) error {
	return errors.WithStack(binary.Write(w.writer, Endianness, magic))
}

func (w *WriteContext) WriteByte(b byte) error {
	_, err := w.writer.Write([]byte{b})
	return errors.WithStack(err)
}

func (w *WriteContext) WriteUvarint(v uint64) error {
	n := binary.PutUvarint(w.varintBuf, v)
	_, err := w.writer.Write(w.varintBuf[:n])
	return errors.WithStack(err)
}

// WriteBytes writes a length-prefixed blob.
func (w *WriteContext) WriteBytes(buf []byte) error {
	err := w.WriteUvarint(uint64(len(buf)))
	if err != nil {
		return err
	}

	_, err = w.writer.Write(buf)
	return errors.WithStack(err)
}

// WriteString writes a length-prefixed string.
func (w *WriteContext) WriteString(s string) error {
	return w.WriteBytes([]byte(s))
}
