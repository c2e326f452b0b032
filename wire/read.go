package wire

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

type ReadContext struct {
	reader io.Reader

	byteBuffer []byte
	blobBuf    []byte
}

func NewReadContext(reader io.Reader) *ReadContext {
	return &ReadContext{
		reader:     reader,
		byteBuffer: make([]byte, 1),
		blobBuf:    make([]byte, 32),
	}
}

func (r *ReadContext) Reader() io.Reader {
	return r.reader
}

func (r *ReadContext) ReadByte() (byte, error) {
	if br, ok := r.reader.(io.ByteReader); ok {
		return br.ReadByte()
	}

	_, err := io.ReadFull(r.reader, r.byteBuffer)
	if err != nil {
		return 0, err
	}

	return r.byteBuffer[0], nil
}

func (r *ReadContext) ExpectMagic(magic int32) error {
	var readMagic int32
	err := binary.Read(r.reader, Endianness, &readMagic)
	if err != nil {
		return errors.WithStack(err)
	}

	if magic != readMagic {
		return errors.Errorf("wire: expected magic %x, got %x", magic, readMagic)
	}

	return nil
}

func (r *ReadContext) ReadUvarint() (uint64, error) {
	v, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, errors.WithStack(err)
	}

	return v, nil
}

// ReadBytes reads a length-prefixed blob. The returned slice is only
// valid until the next read; callers keeping it must copy.
func (r *ReadContext) ReadBytes() ([]byte, error) {
	length, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}

	if length > MaxBlobLen {
		return nil, errors.WithStack(ErrBlobTooLong)
	}

	if uint64(cap(r.blobBuf)) < length {
		r.blobBuf = make([]byte, length)
	}

	buf := r.blobBuf[:length]
	_, err = io.ReadFull(r.reader, buf)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return buf, nil
}

func (r *ReadContext) ReadString() (string, error) {
	length, err := r.ReadUvarint()
	if err != nil {
		return "", err
	}

	if length > MaxStringLen {
		return "", errors.WithStack(ErrStringTooLong)
	}

	buf := make([]byte, length)
	_, err = io.ReadFull(r.reader, buf)
	if err != nil {
		return "", errors.WithStack(err)
	}

	return string(buf), nil
}
