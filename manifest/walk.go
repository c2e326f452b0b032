package manifest

import (
	"os"
	gopath "path"
	"sort"

	"github.com/go-git/go-billy/v5"
	"github.com/pkg/errors"
)

// Entries are given mode bits the patcher can work with.
const modeMask = 0644

// FilterFunc decides whether an entry is part of the container.
type FilterFunc func(name string, info os.FileInfo) bool

// DefaultFilter skips the usual VCS directories.
func DefaultFilter(name string, info os.FileInfo) bool {
	if info.IsDir() {
		for _, ignored := range IgnoredDirs {
			if name == ignored {
				return false
			}
		}
	}
	return true
}

// Walk lists the tree rooted at fs into a Container. Sibling entries are
// visited in name order so the same tree always produces the same
// container, whatever the filesystem's iteration order.
func Walk(fs billy.Filesystem, filter FilterFunc) (*Container, error) {
	if filter == nil {
		filter = DefaultFilter
	}

	container := &Container{}

	err := walkDir(fs, ".", filter, container)
	if err != nil {
		return nil, err
	}

	return container, nil
}

func walkDir(fs billy.Filesystem, dir string, filter FilterFunc, container *Container) error {
	infos, err := fs.ReadDir(dir)
	if err != nil {
		return errors.Wrapf(err, "listing %s", dir)
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name() < infos[j].Name()
	})

	for _, info := range infos {
		if !filter(info.Name(), info) {
			continue
		}

		entryPath := gopath.Join(dir, info.Name())
		mode := info.Mode() | modeMask

		switch {
		case mode.IsDir():
			container.Dirs = append(container.Dirs, &Dir{
				Path: entryPath,
				Mode: mode,
			})

			err := walkDir(fs, entryPath, filter, container)
			if err != nil {
				return err
			}
		case mode&os.ModeSymlink != 0:
			dest, err := fs.Readlink(entryPath)
			if err != nil {
				return errors.Wrapf(err, "reading link %s", entryPath)
			}

			container.Symlinks = append(container.Symlinks, &Symlink{
				Path: entryPath,
				Mode: mode,
				Dest: dest,
			})
		case mode.IsRegular():
			container.Files = append(container.Files, &File{
				Path:   entryPath,
				Mode:   mode,
				Size:   info.Size(),
				Offset: container.Size,
			})
			container.Size += info.Size()
		}
	}

	return nil
}
