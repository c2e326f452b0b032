// Package fspool gives read access to a container's files by index,
// keeping a bounded number of handles open so block-range heavy
// workloads don't reopen (or exhaust) file descriptors.
package fspool

import (
	"io"
	"os"

	"github.com/go-git/go-billy/v5"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/wavemill/driftwood/dsync"
	"github.com/wavemill/driftwood/manifest"
)

// MaxOpenFiles is how many handles a pool keeps open at once.
const MaxOpenFiles = 32

// FsPool maps a container's file indices to open readers on a filesystem.
// It is not safe for concurrent use; workers each get their own pool over
// the same (read-only) filesystem.
type FsPool struct {
	container *manifest.Container
	fs        billy.Filesystem

	cache *lru.Cache
}

var _ dsync.Pool = (*FsPool)(nil)

func New(container *manifest.Container, fs billy.Filesystem) *FsPool {
	cache, err := lru.NewWithEvict(MaxOpenFiles, func(key interface{}, value interface{}) {
		value.(billy.File).Close()
	})
	if err != nil {
		// only happens for a non-positive size
		panic(err)
	}

	return &FsPool{
		container: container,
		fs:        fs,
		cache:     cache,
	}
}

// GetPath returns the container-relative path for a file index.
func (fp *FsPool) GetPath(fileIndex int64) string {
	return fp.container.Files[fileIndex].Path
}

// GetSize returns the size the container recorded for a file index.
func (fp *FsPool) GetSize(fileIndex int64) int64 {
	return fp.container.Files[fileIndex].Size
}

// GetReader returns a reader for the given file, positioned at the start.
func (fp *FsPool) GetReader(fileIndex int64) (io.ReadSeeker, error) {
	if cached, ok := fp.cache.Get(fileIndex); ok {
		reader := cached.(billy.File)
		_, err := reader.Seek(0, io.SeekStart)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		return reader, nil
	}

	reader, err := fp.fs.OpenFile(fp.GetPath(fileIndex), os.O_RDONLY, 0)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	fp.cache.Add(fileIndex, reader)
	return reader, nil
}

// Close closes every handle the pool still has open.
func (fp *FsPool) Close() error {
	fp.cache.Purge()
	return nil
}
