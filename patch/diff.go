package patch

import (
	"bytes"
	"context"
	"io"
	"os"
	"runtime"
	"sync/atomic"

	"github.com/go-git/go-billy/v5"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/itchio/headway/state"
	"github.com/itchio/headway/united"
	sha256 "github.com/minio/sha256-simd"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/wavemill/driftwood/counter"
	"github.com/wavemill/driftwood/dsync"
	"github.com/wavemill/driftwood/manifest"
	"github.com/wavemill/driftwood/pools/fspool"
)

// DiffContext computes a Patch that turns the content of OldFs into the
// content of NewFs.
type DiffContext struct {
	// BlockSize is the reuse granularity. 0 means DefaultBlockSize.
	BlockSize int

	// Concurrency bounds the per-file worker pool. 0 means NumCPU.
	Concurrency int

	// Consumer receives progress and log messages. Optional.
	Consumer *state.Consumer

	OldFs billy.Filesystem
	NewFs billy.Filesystem
}

// Validate checks that the context is usable.
func (dctx *DiffContext) Validate() error {
	return validation.ValidateStruct(dctx,
		validation.Field(&dctx.OldFs, validation.Required),
		validation.Field(&dctx.NewFs, validation.Required),
		validation.Field(&dctx.BlockSize, validation.Min(0)),
	)
}

type entryKind int

const (
	kindNone entryKind = iota
	kindFile
	kindDir
	kindSymlink
)

// ComputePatch walks both trees, indexes the old tree's blocks, matches
// every new regular file against the index, and assembles the ordered
// entry sequence. Per-file matching runs on parallel workers; the block
// index is fully built before any of them start and is read-only from
// then on.
func (dctx *DiffContext) ComputePatch(ctx context.Context) (*Patch, error) {
	err := dctx.Validate()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	blockSize := dctx.BlockSize
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	concurrency := dctx.Concurrency
	if concurrency == 0 {
		concurrency = runtime.NumCPU()
	}
	consumer := dctx.Consumer
	if consumer == nil {
		consumer = &state.Consumer{}
	}

	oldContainer, err := manifest.Walk(dctx.OldFs, nil)
	if err != nil {
		return nil, errors.Wrap(err, "walking old tree")
	}
	newContainer, err := manifest.Walk(dctx.NewFs, nil)
	if err != nil {
		return nil, errors.Wrap(err, "walking new tree")
	}

	consumer.Debugf("old: %s", oldContainer.Stats())
	consumer.Debugf("new: %s", newContainer.Stats())

	oldDigests, library, err := dctx.indexOldTree(ctx, oldContainer, blockSize, concurrency)
	if err != nil {
		return nil, err
	}

	consumer.Debugf("indexed %d blocks (%s of reference data)",
		library.NumBlocks(), united.FormatBytes(oldContainer.Size))

	// Lookup tables for classifying the union of both listings.
	oldKinds := make(map[string]entryKind)
	oldFileIndex := make(map[string]int)
	for i, f := range oldContainer.Files {
		oldKinds[f.Path] = kindFile
		oldFileIndex[f.Path] = i
	}
	for _, d := range oldContainer.Dirs {
		oldKinds[d.Path] = kindDir
	}
	oldSymlinks := make(map[string]string)
	for _, s := range oldContainer.Symlinks {
		oldKinds[s.Path] = kindSymlink
		oldSymlinks[s.Path] = s.Dest
	}

	newKinds := make(map[string]entryKind)
	for _, f := range newContainer.Files {
		newKinds[f.Path] = kindFile
	}
	for _, d := range newContainer.Dirs {
		newKinds[d.Path] = kindDir
	}
	for _, s := range newContainer.Symlinks {
		newKinds[s.Path] = kindSymlink
	}

	var entries []*Entry

	// Entries whose path only exists in the old tree come first, files
	// and symlinks before directories, directories children-first, so
	// every directory is empty by the time its own DELETE applies.
	for _, f := range oldContainer.Files {
		if newKinds[f.Path] == kindNone {
			entries = append(entries, &Entry{Path: f.Path, Ops: []Op{{Kind: OpDelete}}})
		}
	}
	for _, s := range oldContainer.Symlinks {
		if newKinds[s.Path] == kindNone {
			entries = append(entries, &Entry{Path: s.Path, Ops: []Op{{Kind: OpDelete}}})
		}
	}
	for i := len(oldContainer.Dirs) - 1; i >= 0; i-- {
		d := oldContainer.Dirs[i]
		if newKinds[d.Path] == kindNone {
			entries = append(entries, &Entry{Path: d.Path, Ops: []Op{{Kind: OpDelete}}})
		}
	}

	// Directories next, parents before children (walk order).
	for _, d := range newContainer.Dirs {
		switch oldKinds[d.Path] {
		case kindDir:
			// already there
		case kindNone:
			entries = append(entries, &Entry{Path: d.Path, Ops: []Op{{Kind: OpMkdir}}})
		default:
			// type change: clear the old entry first
			entries = append(entries, &Entry{Path: d.Path, Ops: []Op{{Kind: OpDelete}, {Kind: OpMkdir}}})
		}
	}

	// Symlinks: recreate on any change of kind or destination.
	for _, s := range newContainer.Symlinks {
		oldKind := oldKinds[s.Path]
		if oldKind == kindSymlink && oldSymlinks[s.Path] == s.Dest {
			continue
		}

		var ops []Op
		if oldKind != kindNone {
			ops = append(ops, Op{Kind: OpDelete})
		}
		ops = append(ops, Op{Kind: OpSymlink, Target: s.Dest})
		entries = append(entries, &Entry{Path: s.Path, Ops: ops})
	}

	// Regular files, matched in parallel. Results land in per-file slots
	// so the entry order stays the new tree's walk order no matter how
	// the workers are scheduled.
	fileEntries := make([]*Entry, len(newContainer.Files))

	var processed int64
	totalBytes := newContainer.Size
	if totalBytes == 0 {
		totalBytes = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for fileIndex, file := range newContainer.Files {
		fileIndex, file := fileIndex, file
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			entry, err := dctx.diffFile(file, oldContainer, oldKinds, oldFileIndex,
				oldDigests, library, blockSize, &processed, totalBytes, consumer)
			if err != nil {
				return errors.Wrapf(err, "diffing %s", file.Path)
			}

			fileEntries[fileIndex] = entry
			return nil
		})
	}

	err = g.Wait()
	if err != nil {
		return nil, err
	}

	entries = append(entries, fileEntries...)

	patch := &Patch{
		BlockSize: blockSize,
		Entries:   entries,
	}

	data, blockRange, structural := patch.NumOps()
	consumer.Debugf("patch: %d entries (%d data, %d block-range, %d structural ops)",
		len(entries), data, blockRange, structural)

	return patch, nil
}

// indexOldTree computes, for every old regular file, its whole-file
// SHA-256 and its block signature, in one read per file. Files are
// fanned out to a fixed set of workers, each owning its own FsPool
// (pools aren't safe for concurrent use) and scratch context.
// Signatures are flattened in file order before the library is built,
// so bucket order (and with it, match tie-breaking) is reproducible.
func (dctx *DiffContext) indexOldTree(ctx context.Context, oldContainer *manifest.Container, blockSize int, concurrency int) ([][]byte, *dsync.BlockLibrary, error) {
	digests := make([][]byte, len(oldContainer.Files))
	hashes := make([][]dsync.BlockHash, len(oldContainer.Files))

	indices := make(chan int)
	g, gctx := errgroup.WithContext(ctx)

	for w := 0; w < concurrency; w++ {
		g.Go(func() error {
			pool := fspool.New(oldContainer, dctx.OldFs)
			defer pool.Close()

			sctx := dsync.NewContext(blockSize)

			for fileIndex := range indices {
				if err := gctx.Err(); err != nil {
					return err
				}

				reader, err := pool.GetReader(int64(fileIndex))
				if err != nil {
					return errors.Wrapf(err, "opening %s", pool.GetPath(int64(fileIndex)))
				}

				digest := sha256.New()
				err = sctx.CreateSignature(int64(fileIndex), io.TeeReader(reader, digest),
					func(h dsync.BlockHash) error {
						hashes[fileIndex] = append(hashes[fileIndex], h)
						return nil
					})
				if err != nil {
					return errors.Wrapf(err, "signing %s", pool.GetPath(int64(fileIndex)))
				}

				digests[fileIndex] = digest.Sum(nil)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(indices)
		for i := range oldContainer.Files {
			select {
			case indices <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	err := g.Wait()
	if err != nil {
		return nil, nil, err
	}

	var flat []dsync.BlockHash
	for _, hh := range hashes {
		flat = append(flat, hh...)
	}

	return digests, dsync.NewBlockLibrary(flat), nil
}

func (dctx *DiffContext) diffFile(file *manifest.File, oldContainer *manifest.Container,
	oldKinds map[string]entryKind, oldFileIndex map[string]int, oldDigests [][]byte,
	library *dsync.BlockLibrary, blockSize int, processed *int64, totalBytes int64,
	consumer *state.Consumer) (*Entry, error) {

	f, err := dctx.NewFs.OpenFile(file.Path, os.O_RDONLY, 0)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()

	digest := sha256.New()

	// Whole-file digest short-circuit: a same-path regular file of the
	// same size that hashes identically needs no operations at all.
	oldKind := oldKinds[file.Path]
	if oldKind == kindFile {
		oldIndex := oldFileIndex[file.Path]
		if oldContainer.Files[oldIndex].Size == file.Size {
			_, err = io.Copy(digest, f)
			if err != nil {
				return nil, errors.WithStack(err)
			}

			sum := digest.Sum(nil)
			if bytes.Equal(sum, oldDigests[oldIndex]) {
				atomic.AddInt64(processed, file.Size)
				return &Entry{Path: file.Path, Digest: sum}, nil
			}

			_, err = f.Seek(0, io.SeekStart)
			if err != nil {
				return nil, errors.WithStack(err)
			}
			digest.Reset()
		}
	}

	var ops []Op

	// A DELETE clears the path first when the old tree had something
	// other than a regular file there.
	if oldKind != kindNone && oldKind != kindFile {
		ops = append(ops, Op{Kind: OpDelete})
	}

	var lastCount int64
	src := counter.NewReaderCallback(func(count int64) {
		delta := count - lastCount
		lastCount = count
		total := atomic.AddInt64(processed, delta)
		consumer.Progress(float64(total) / float64(totalBytes))
	}, f)

	sctx := dsync.NewContext(blockSize)

	err = sctx.ComputeDiff(io.TeeReader(src, digest), library, func(op dsync.Operation) error {
		ops = append(ops, convertOp(op, oldContainer, blockSize))
		return nil
	})
	if err != nil {
		return nil, err
	}

	// The matcher emits nothing for an empty file. Give it one empty
	// DATA op: only entries the digest short-circuit produced may have
	// zero content ops, since the applier reads those from the
	// reference tree.
	hasContent := false
	for _, op := range ops {
		if op.Kind == OpData || op.Kind == OpBlockRange {
			hasContent = true
			break
		}
	}
	if !hasContent {
		ops = append(ops, Op{Kind: OpData})
	}

	return &Entry{Path: file.Path, Digest: digest.Sum(nil), Ops: ops}, nil
}

// convertOp rewrites a matcher operation into its patch form: block
// coordinates become a (source path, byte offset, length) triple, with
// the length clamped at the source file's end for trailing ranges. Data
// payloads are copied out of the matcher's reused buffer.
func convertOp(op dsync.Operation, oldContainer *manifest.Container, blockSize int) Op {
	switch op.Type {
	case dsync.OpData:
		data := make([]byte, len(op.Data))
		copy(data, op.Data)
		return Op{Kind: OpData, Data: data}
	case dsync.OpBlockRange:
		src := oldContainer.Files[op.FileIndex]
		offset := op.BlockIndex * int64(blockSize)
		length := op.BlockSpan * int64(blockSize)
		if offset+length > src.Size {
			length = src.Size - offset
		}
		return Op{Kind: OpBlockRange, SourcePath: src.Path, Offset: offset, Length: length}
	default:
		// the matcher only ever emits the two kinds above
		panic("unknown dsync op type")
	}
}
