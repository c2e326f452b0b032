// Package wire reads and writes the framed little-endian binary records
// the patch format is made of: a magic number up front, then unsigned
// varints, length-prefixed strings and byte blobs.
package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

var Endianness = binary.LittleEndian

// Decoding limits. Anything larger than these in a length prefix means
// the stream is truncated or corrupt, not that someone has a 2GB path.
const (
	// MaxStringLen bounds paths and symlink targets.
	MaxStringLen = 64 * 1024
	// MaxBlobLen bounds digests and literal data payloads.
	MaxBlobLen = 64 * 1024 * 1024
)

var (
	ErrStringTooLong = errors.New("wire: string length prefix exceeds limit")
	ErrBlobTooLong   = errors.New("wire: blob length prefix exceeds limit")
)
