package wire_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wavemill/driftwood/dtest"
	"github.com/wavemill/driftwood/wire"
)

func Test_RoundTrip(t *testing.T) {
	buf := new(bytes.Buffer)
	wc := wire.NewWriteContext(buf)

	dtest.Must(t, wc.WriteMagic(0x0DD17F00))
	dtest.Must(t, wc.WriteByte(42))
	dtest.Must(t, wc.WriteUvarint(0))
	dtest.Must(t, wc.WriteUvarint(1<<40))
	dtest.Must(t, wc.WriteString("bits/and/pieces"))
	dtest.Must(t, wc.WriteBytes([]byte{1, 2, 3}))
	dtest.Must(t, wc.WriteBytes(nil))

	rc := wire.NewReadContext(bytes.NewReader(buf.Bytes()))

	dtest.Must(t, rc.ExpectMagic(0x0DD17F00))

	b, err := rc.ReadByte()
	dtest.Must(t, err)
	assert.EqualValues(t, 42, b)

	v, err := rc.ReadUvarint()
	dtest.Must(t, err)
	assert.EqualValues(t, 0, v)

	v, err = rc.ReadUvarint()
	dtest.Must(t, err)
	assert.EqualValues(t, 1<<40, v)

	s, err := rc.ReadString()
	dtest.Must(t, err)
	assert.Equal(t, "bits/and/pieces", s)

	blob, err := rc.ReadBytes()
	dtest.Must(t, err)
	assert.Equal(t, []byte{1, 2, 3}, blob)

	blob, err = rc.ReadBytes()
	dtest.Must(t, err)
	assert.Empty(t, blob)
}

func Test_BadMagic(t *testing.T) {
	buf := new(bytes.Buffer)
	wc := wire.NewWriteContext(buf)
	dtest.Must(t, wc.WriteMagic(0x0DD17F00))

	rc := wire.NewReadContext(bytes.NewReader(buf.Bytes()))
	err := rc.ExpectMagic(0x0BADCAFE)
	assert.Error(t, err)
}

func Test_Truncated(t *testing.T) {
	buf := new(bytes.Buffer)
	wc := wire.NewWriteContext(buf)
	dtest.Must(t, wc.WriteBytes(make([]byte, 512)))

	// cut the blob short
	rc := wire.NewReadContext(bytes.NewReader(buf.Bytes()[:100]))
	_, err := rc.ReadBytes()
	assert.Error(t, err)
}

func Test_LimitsEnforced(t *testing.T) {
	// a length prefix past MaxStringLen must be refused without
	// allocating or reading the payload
	buf := new(bytes.Buffer)
	wc := wire.NewWriteContext(buf)
	dtest.Must(t, wc.WriteUvarint(wire.MaxStringLen+1))

	rc := wire.NewReadContext(bytes.NewReader(buf.Bytes()))
	_, err := rc.ReadString()
	assert.Error(t, err)
}

func Test_ReadBytesReusesBuffer(t *testing.T) {
	buf := new(bytes.Buffer)
	wc := wire.NewWriteContext(buf)
	dtest.Must(t, wc.WriteBytes([]byte("first")))
	dtest.Must(t, wc.WriteBytes([]byte("xxxxx")))

	rc := wire.NewReadContext(bytes.NewReader(buf.Bytes()))

	first, err := rc.ReadBytes()
	dtest.Must(t, err)
	kept := append([]byte(nil), first...)

	_, err = rc.ReadBytes()
	dtest.Must(t, err)

	// the first slice is stale now; only the copy is safe
	assert.Equal(t, []byte("first"), kept)
}
