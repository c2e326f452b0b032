package fspool

import (
	"os"

	"github.com/go-git/go-billy/v5"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

// PathPool is the path-keyed sibling of FsPool: it hands out read
// handles by path instead of container index, for callers that work
// from patch operations rather than a container listing. Same rules:
// bounded open handles, not safe for concurrent use.
type PathPool struct {
	fs    billy.Filesystem
	cache *lru.Cache
}

func NewPathPool(fs billy.Filesystem) *PathPool {
	cache, err := lru.NewWithEvict(MaxOpenFiles, func(key interface{}, value interface{}) {
		value.(billy.File).Close()
	})
	if err != nil {
		panic(err)
	}

	return &PathPool{
		fs:    fs,
		cache: cache,
	}
}

// GetReader returns an open handle for path. The handle's position is
// unspecified; callers seek before reading.
func (pp *PathPool) GetReader(path string) (billy.File, error) {
	if cached, ok := pp.cache.Get(path); ok {
		return cached.(billy.File), nil
	}

	f, err := pp.fs.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	pp.cache.Add(path, f)
	return f, nil
}

// Close closes every handle the pool still has open.
func (pp *PathPool) Close() error {
	pp.cache.Purge()
	return nil
}
