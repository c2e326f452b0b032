package patch

import (
	"io"

	"github.com/itchio/savior"
	"github.com/pkg/errors"

	"github.com/wavemill/driftwood/wire"
)

// WritePatch encodes a patch. Layout: magic (int32, little-endian),
// then format version, block size and entry count as uvarints, then the
// entries in order. Every operation starts with its kind byte, followed
// only by the fields that kind carries.
func WritePatch(writer io.Writer, p *Patch) error {
	wc := wire.NewWriteContext(writer)

	err := wc.WriteMagic(PatchMagic)
	if err != nil {
		return err
	}
	err = wc.WriteUvarint(PatchVersion)
	if err != nil {
		return err
	}
	err = wc.WriteUvarint(uint64(p.BlockSize))
	if err != nil {
		return err
	}
	err = wc.WriteUvarint(uint64(len(p.Entries)))
	if err != nil {
		return err
	}

	for _, entry := range p.Entries {
		err = wc.WriteString(entry.Path)
		if err != nil {
			return err
		}
		err = wc.WriteBytes(entry.Digest)
		if err != nil {
			return err
		}
		err = wc.WriteUvarint(uint64(len(entry.Ops)))
		if err != nil {
			return err
		}

		for _, op := range entry.Ops {
			err = wc.WriteByte(byte(op.Kind))
			if err != nil {
				return err
			}

			switch op.Kind {
			case OpData:
				err = wc.WriteBytes(op.Data)
			case OpBlockRange:
				err = wc.WriteString(op.SourcePath)
				if err != nil {
					return err
				}
				err = wc.WriteUvarint(uint64(op.Offset))
				if err != nil {
					return err
				}
				err = wc.WriteUvarint(uint64(op.Length))
			case OpSymlink:
				err = wc.WriteString(op.Target)
			case OpMkdir, OpDelete:
				// kind byte only
			default:
				err = errors.Errorf("refusing to encode unknown op kind %d", op.Kind)
			}
			if err != nil {
				return err
			}
		}
	}

	return nil
}

// ReadPatch decodes a whole patch before anything gets applied, so a
// truncated or mangled artifact fails up front with ErrCorruptPatch
// instead of halfway through a destination tree.
func ReadPatch(source savior.SeekSource) (*Patch, error) {
	_, err := source.Resume(nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	rc := wire.NewReadContext(source)

	err = rc.ExpectMagic(PatchMagic)
	if err != nil {
		return nil, corrupt(err, "bad magic")
	}

	version, err := rc.ReadUvarint()
	if err != nil {
		return nil, corrupt(err, "reading version")
	}
	if version != PatchVersion {
		return nil, errors.Wrapf(ErrCorruptPatch, "unsupported patch version %d", version)
	}

	blockSize, err := rc.ReadUvarint()
	if err != nil {
		return nil, corrupt(err, "reading block size")
	}
	if blockSize == 0 {
		return nil, errors.Wrap(ErrCorruptPatch, "zero block size")
	}

	numEntries, err := rc.ReadUvarint()
	if err != nil {
		return nil, corrupt(err, "reading entry count")
	}

	p := &Patch{
		BlockSize: int(blockSize),
	}

	for i := uint64(0); i < numEntries; i++ {
		entry := &Entry{}

		entry.Path, err = rc.ReadString()
		if err != nil {
			return nil, corrupt(err, "reading entry path")
		}

		digest, err := rc.ReadBytes()
		if err != nil {
			return nil, corrupt(err, "reading entry digest")
		}
		if len(digest) > 0 {
			entry.Digest = append([]byte(nil), digest...)
		}

		numOps, err := rc.ReadUvarint()
		if err != nil {
			return nil, corrupt(err, "reading op count")
		}

		for j := uint64(0); j < numOps; j++ {
			kindByte, err := rc.ReadByte()
			if err != nil {
				return nil, corrupt(err, "reading op kind")
			}

			op := Op{Kind: OpKind(kindByte)}

			switch op.Kind {
			case OpData:
				data, err := rc.ReadBytes()
				if err != nil {
					return nil, corrupt(err, "reading data payload")
				}
				op.Data = append([]byte(nil), data...)
			case OpBlockRange:
				op.SourcePath, err = rc.ReadString()
				if err != nil {
					return nil, corrupt(err, "reading block range source")
				}
				offset, err := rc.ReadUvarint()
				if err != nil {
					return nil, corrupt(err, "reading block range offset")
				}
				length, err := rc.ReadUvarint()
				if err != nil {
					return nil, corrupt(err, "reading block range length")
				}
				op.Offset = int64(offset)
				op.Length = int64(length)
			case OpSymlink:
				op.Target, err = rc.ReadString()
				if err != nil {
					return nil, corrupt(err, "reading symlink target")
				}
			case OpMkdir, OpDelete:
				// kind byte only
			default:
				return nil, errors.Wrapf(ErrCorruptPatch, "unknown op kind %d in %s", kindByte, entry.Path)
			}

			entry.Ops = append(entry.Ops, op)
		}

		p.Entries = append(p.Entries, entry)
	}

	return p, nil
}

// corrupt folds an underlying decode error into ErrCorruptPatch so
// callers match on one sentinel. Truncation shows up here as EOF from
// the wire layer.
func corrupt(err error, msg string) error {
	return errors.Wrapf(ErrCorruptPatch, "%s: %v", msg, err)
}
