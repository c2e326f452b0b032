package fspool_test

import (
	"io"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"

	"github.com/wavemill/driftwood/dtest"
	"github.com/wavemill/driftwood/manifest"
	"github.com/wavemill/driftwood/pools/fspool"
)

func Test_FsPool(t *testing.T) {
	fs := memfs.New()
	dtest.Must(t, util.WriteFile(fs, "a", []byte("content of a"), 0644))
	dtest.Must(t, util.WriteFile(fs, "b", []byte("b!"), 0644))

	container, err := manifest.Walk(fs, nil)
	dtest.Must(t, err)

	pool := fspool.New(container, fs)
	defer pool.Close()

	assert.Equal(t, "a", pool.GetPath(0))
	assert.EqualValues(t, 12, pool.GetSize(0))

	r, err := pool.GetReader(0)
	dtest.Must(t, err)
	data, err := io.ReadAll(r)
	dtest.Must(t, err)
	assert.Equal(t, "content of a", string(data))

	// a second fetch hands back the same handle, rewound
	r2, err := pool.GetReader(0)
	dtest.Must(t, err)
	data, err = io.ReadAll(r2)
	dtest.Must(t, err)
	assert.Equal(t, "content of a", string(data))

	r3, err := pool.GetReader(1)
	dtest.Must(t, err)
	data, err = io.ReadAll(r3)
	dtest.Must(t, err)
	assert.Equal(t, "b!", string(data))
}

func Test_PathPool(t *testing.T) {
	fs := memfs.New()
	dtest.Must(t, util.WriteFile(fs, "dir/f", []byte("0123456789"), 0644))

	pool := fspool.NewPathPool(fs)
	defer pool.Close()

	r, err := pool.GetReader("dir/f")
	dtest.Must(t, err)

	_, err = r.Seek(4, io.SeekStart)
	dtest.Must(t, err)

	buf := make([]byte, 3)
	_, err = io.ReadFull(r, buf)
	dtest.Must(t, err)
	assert.Equal(t, "456", string(buf))

	_, err = pool.GetReader("missing")
	assert.Error(t, err)
}
