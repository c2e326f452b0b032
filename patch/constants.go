package patch

// PatchMagic is the first four bytes (little-endian) of every patch
// artifact.
const PatchMagic = int32(0x0DD17F00)

// PatchVersion is bumped on any breaking format change; the decoder
// refuses anything else.
const PatchVersion = 1

// DefaultBlockSize is a compromise between index size and diff
// granularity, in classical rsync's range.
const DefaultBlockSize = 700
