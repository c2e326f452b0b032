package patch

import (
	"bytes"
	"context"
	"io"
	"os"
	gopath "path"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/itchio/headway/state"
	sha256 "github.com/minio/sha256-simd"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/wavemill/driftwood/counter"
	"github.com/wavemill/driftwood/pools/fspool"
)

// tmpPrefix marks in-flight file writes; the rename at the end of each
// file entry is what makes its content visible at the final path. The
// rest of the temp name is randomized per write, so temp paths never
// collide with each other or with entries the patch itself carries.
const tmpPrefix = ".dwtmp-"

// ApplyStats summarizes what an apply run actually did.
type ApplyStats struct {
	Files     int64 // regular files materialized
	Dirs      int64 // directories created
	Symlinks  int64 // symlinks created
	Deleted   int64 // entries removed
	Conflicts int64 // structural ops skipped on occupied paths

	BytesWritten int64
	BytesFresh   int64 // from literal payloads
	BytesReused  int64 // from reference block ranges
}

// ApplyContext rebuilds a tree on OutFs from a Patch plus the reference
// tree on RefFs. RefFs is only ever read. Pointing both at the same
// tree is not supported: structural deletes run before file writes and
// could remove content a block range still needs.
type ApplyContext struct {
	// Concurrency bounds the parallel file writers. 0 means NumCPU.
	Concurrency int

	// Consumer receives progress and log messages. Optional.
	Consumer *state.Consumer

	// StrictDeletes turns "DELETE of a missing path" from a debug-logged
	// no-op into a recorded error.
	StrictDeletes bool

	RefFs billy.Filesystem
	OutFs billy.Filesystem

	Stats ApplyStats
}

// Validate checks that the context is usable.
func (actx *ApplyContext) Validate() error {
	return validation.ValidateStruct(actx,
		validation.Field(&actx.RefFs, validation.Required),
		validation.Field(&actx.OutFs, validation.Required),
	)
}

// Apply runs the patch in two passes: structural operations first,
// sequentially and in patch order (so DELETE/MKDIR ordering guarantees
// hold), then file contents on parallel workers (file entries are
// independent once the structure exists). Per-path failures go into the
// returned Report and don't stop the run; only context cancellation and
// invalid input abort it.
func (actx *ApplyContext) Apply(ctx context.Context, p *Patch) (*Report, error) {
	err := actx.Validate()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	concurrency := actx.Concurrency
	if concurrency == 0 {
		concurrency = runtime.NumCPU()
	}
	consumer := actx.Consumer
	if consumer == nil {
		consumer = &state.Consumer{}
	}

	report := &Report{}
	var reportMu sync.Mutex
	record := func(path string, err error) {
		reportMu.Lock()
		report.record(path, err)
		reportMu.Unlock()
	}

	// Pass 1: structure. This includes the leading DELETEs of file
	// entries (type changes), so pass 2 never races a removal.
	for _, entry := range p.Entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for _, op := range entry.Ops {
			switch op.Kind {
			case OpData, OpBlockRange:
				// pass 2
			case OpDelete:
				actx.applyDelete(entry.Path, record, consumer)
			case OpMkdir:
				actx.applyMkdir(entry.Path, record)
			case OpSymlink:
				actx.applySymlink(entry.Path, op.Target, record)
			default:
				return nil, errors.Errorf("unknown op kind %d", op.Kind)
			}
		}
	}

	// Byte total for progress, best-effort for unchanged files.
	var totalBytes int64
	for _, entry := range p.Entries {
		if !entry.IsFile() {
			continue
		}
		if len(entry.Ops) == 0 {
			if stat, err := actx.RefFs.Stat(entry.Path); err == nil {
				totalBytes += stat.Size()
			}
			continue
		}
		for _, op := range entry.Ops {
			switch op.Kind {
			case OpData:
				totalBytes += int64(len(op.Data))
			case OpBlockRange:
				totalBytes += op.Length
			}
		}
	}
	if totalBytes == 0 {
		totalBytes = 1
	}

	// Pass 2: file contents.
	var processed int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, entry := range p.Entries {
		if !entry.IsFile() {
			continue
		}

		entry := entry
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			err := actx.writeEntry(entry, &processed, totalBytes, consumer)
			if err != nil {
				record(entry.Path, err)
				return nil
			}

			atomic.AddInt64(&actx.Stats.Files, 1)
			return nil
		})
	}

	err = g.Wait()
	if err != nil {
		return nil, err
	}

	consumer.Debugf("applied: %d files, %d dirs, %d symlinks, %d deleted, %d conflicts",
		actx.Stats.Files, actx.Stats.Dirs, actx.Stats.Symlinks,
		actx.Stats.Deleted, actx.Stats.Conflicts)

	return report, nil
}

func (actx *ApplyContext) applyDelete(path string, record func(string, error), consumer *state.Consumer) {
	_, err := actx.OutFs.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			if actx.StrictDeletes {
				record(path, errors.Wrap(ErrStructuralConflict, "delete of missing path"))
			} else {
				consumer.Debugf("delete: %s already absent", path)
			}
			return
		}
		record(path, errors.WithStack(err))
		return
	}

	err = actx.OutFs.Remove(path)
	if err != nil {
		record(path, errors.WithStack(err))
		return
	}
	actx.Stats.Deleted++
}

func (actx *ApplyContext) applyMkdir(path string, record func(string, error)) {
	stat, err := actx.OutFs.Lstat(path)
	if err == nil {
		if stat.IsDir() {
			return
		}
		actx.Stats.Conflicts++
		record(path, errors.Wrap(ErrStructuralConflict, "mkdir"))
		return
	}

	err = actx.OutFs.MkdirAll(path, 0755)
	if err != nil {
		record(path, errors.WithStack(err))
		return
	}
	actx.Stats.Dirs++
}

func (actx *ApplyContext) applySymlink(path string, target string, record func(string, error)) {
	_, err := actx.OutFs.Lstat(path)
	if err == nil {
		actx.Stats.Conflicts++
		record(path, errors.Wrap(ErrStructuralConflict, "symlink"))
		return
	}

	err = actx.OutFs.MkdirAll(gopath.Dir(path), 0755)
	if err != nil {
		record(path, errors.WithStack(err))
		return
	}

	err = actx.OutFs.Symlink(target, path)
	if err != nil {
		record(path, errors.WithStack(err))
		return
	}
	actx.Stats.Symlinks++
}

// writeEntry materializes one regular file: operations stream into a
// temporary file next to the final path, the digest is checked, then a
// rename publishes it. A zero-op entry copies the reference file at the
// same path, which also serves re-applying a patch to an already
// patched tree.
func (actx *ApplyContext) writeEntry(entry *Entry, processed *int64, totalBytes int64, consumer *state.Consumer) error {
	err := actx.OutFs.MkdirAll(gopath.Dir(entry.Path), 0755)
	if err != nil {
		return errors.WithStack(err)
	}

	out, err := util.TempFile(actx.OutFs, gopath.Dir(entry.Path), tmpPrefix)
	if err != nil {
		return errors.WithStack(err)
	}
	tmpPath := out.Name()

	discard := func() {
		out.Close()
		actx.OutFs.Remove(tmpPath)
	}

	refPool := fspool.NewPathPool(actx.RefFs)
	defer refPool.Close()

	digest := sha256.New()

	var lastCount int64
	cw := counter.NewWriterCallback(func(count int64) {
		delta := count - lastCount
		lastCount = count
		total := atomic.AddInt64(processed, delta)
		consumer.Progress(float64(total) / float64(totalBytes))
	}, io.MultiWriter(out, digest))

	if len(entry.Ops) == 0 {
		// unchanged file: content comes from the reference tree
		ref, err := refPool.GetReader(entry.Path)
		if err != nil {
			discard()
			return errors.Wrap(ErrReferenceMismatch, "unchanged file missing from reference")
		}
		_, err = ref.Seek(0, io.SeekStart)
		if err != nil {
			discard()
			return errors.WithStack(err)
		}
		_, err = io.Copy(cw, ref)
		if err != nil {
			discard()
			return errors.WithStack(err)
		}
	}

	for _, op := range entry.Ops {
		switch op.Kind {
		case OpData:
			_, err := cw.Write(op.Data)
			if err != nil {
				discard()
				return errors.WithStack(err)
			}
			atomic.AddInt64(&actx.Stats.BytesFresh, int64(len(op.Data)))
		case OpBlockRange:
			err := actx.copyRange(cw, refPool, op)
			if err != nil {
				discard()
				return err
			}
			atomic.AddInt64(&actx.Stats.BytesReused, op.Length)
		default:
			// structural ops were handled in pass 1
		}
	}

	err = out.Close()
	if err != nil {
		actx.OutFs.Remove(tmpPath)
		return errors.WithStack(err)
	}

	if entry.Digest != nil {
		sum := digest.Sum(nil)
		if !bytes.Equal(sum, entry.Digest) {
			actx.OutFs.Remove(tmpPath)
			return errors.Wrap(ErrReferenceMismatch, "rebuilt content digest mismatch")
		}
	}

	err = actx.OutFs.Rename(tmpPath, entry.Path)
	if err != nil {
		actx.OutFs.Remove(tmpPath)
		return errors.WithStack(err)
	}

	atomic.AddInt64(&actx.Stats.BytesWritten, cw.Count())
	return nil
}

func (actx *ApplyContext) copyRange(w io.Writer, refPool *fspool.PathPool, op Op) error {
	stat, err := actx.RefFs.Stat(op.SourcePath)
	if err != nil {
		return errors.Wrapf(ErrReferenceMismatch, "block range source %s: %v", op.SourcePath, err)
	}
	if op.Offset+op.Length > stat.Size() {
		return errors.Wrapf(ErrReferenceMismatch,
			"block range [%d,%d) past end of %s (%d bytes)",
			op.Offset, op.Offset+op.Length, op.SourcePath, stat.Size())
	}

	ref, err := refPool.GetReader(op.SourcePath)
	if err != nil {
		return errors.WithStack(err)
	}

	_, err = ref.Seek(op.Offset, io.SeekStart)
	if err != nil {
		return errors.WithStack(err)
	}

	_, err = io.CopyN(w, ref, op.Length)
	if err != nil {
		return errors.Wrapf(ErrReferenceMismatch, "block range source %s: %v", op.SourcePath, err)
	}

	return nil
}
