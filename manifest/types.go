// Package manifest lists a directory tree as a flat container of dirs,
// regular files and symlinks, the unit the differ and applier work from.
package manifest

import (
	"fmt"
	"os"

	"github.com/itchio/headway/united"
)

// IgnoredDirs are never walked into by the default filter.
var IgnoredDirs = []string{
	".git",
	".hg",
	".svn",
}

// File is a regular file with data.
type File struct {
	Path string
	Mode os.FileMode

	Size int64

	// Offset of this file's data in the virtual concatenation of all
	// container files, used for progress accounting.
	Offset int64
}

// Dir is a directory, empty or not.
type Dir struct {
	Path string
	Mode os.FileMode
}

// Symlink is a symbolic link and the destination it points to.
type Symlink struct {
	Path string
	Mode os.FileMode

	Dest string
}

// Container holds the listing of one tree. Paths are slash-separated and
// relative to the tree root; within each kind, entries appear in walk
// order (parents before children, siblings sorted by name).
type Container struct {
	// Total size of all regular files
	Size int64

	Dirs     []*Dir
	Files    []*File
	Symlinks []*Symlink
}

// Stats returns a human-readable summary of the container.
func (c *Container) Stats() string {
	return fmt.Sprintf("%d files, %d dirs, %d symlinks, %s total",
		len(c.Files), len(c.Dirs), len(c.Symlinks), united.FormatBytes(c.Size))
}
