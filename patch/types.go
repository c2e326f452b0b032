// Package patch computes and applies tree patches: compact operation
// sequences that rebuild a new directory tree out of an old one, reusing
// reference blocks wherever the content already exists locally.
package patch

// OpKind tags the operation variants. The values are the wire tags.
type OpKind byte

const (
	OpData       OpKind = 0
	OpBlockRange OpKind = 1
	OpSymlink    OpKind = 2
	OpMkdir      OpKind = 3
	OpDelete     OpKind = 4
)

func (k OpKind) String() string {
	switch k {
	case OpData:
		return "DATA"
	case OpBlockRange:
		return "BLOCK_RANGE"
	case OpSymlink:
		return "SYMLINK"
	case OpMkdir:
		return "MKDIR"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Op is one patch operation. Which fields are meaningful depends on Kind;
// everywhere an Op is interpreted, the switch on Kind is exhaustive and
// fails loudly on anything else.
type Op struct {
	Kind OpKind

	// OpData
	Data []byte

	// OpBlockRange: copy Length bytes from SourcePath at Offset in the
	// reference tree.
	SourcePath string
	Offset     int64
	Length     int64

	// OpSymlink
	Target string
}

// Entry is the ordered operation list for one path. For a regular file,
// the DATA/BLOCK_RANGE sub-sequence concatenates to exactly the file's
// new content, and Digest holds its SHA-256. A file entry with a digest
// and no operations means "unchanged": the applier materializes it from
// the reference file at the same path. An empty file is not a zero-op
// entry; it carries a single empty DATA op, so the applier writes it
// without consulting the reference.
type Entry struct {
	Path   string
	Digest []byte
	Ops    []Op
}

// IsFile reports whether the entry reconstructs a regular file (as
// opposed to a purely structural entry).
func (e *Entry) IsFile() bool {
	if e.Digest != nil {
		return true
	}
	for _, op := range e.Ops {
		if op.Kind == OpData || op.Kind == OpBlockRange {
			return true
		}
	}
	return false
}

// Patch is the artifact crossing from diff to apply: an ordered sequence
// of per-path entries, plus the block size it was computed with (not
// needed to apply, but kept for diagnostics and re-diffing). It owns all
// literal data but only references the reference tree's content.
type Patch struct {
	BlockSize int
	Entries   []*Entry
}

// NumOps counts operations of each kind, for logging.
func (p *Patch) NumOps() (data, blockRange, structural int64) {
	for _, entry := range p.Entries {
		for _, op := range entry.Ops {
			switch op.Kind {
			case OpData:
				data++
			case OpBlockRange:
				blockRange++
			default:
				structural++
			}
		}
	}
	return
}
