package patch

import (
	"bytes"
	"io"
	"os"

	"github.com/go-git/go-billy/v5"
	sha256 "github.com/minio/sha256-simd"
	"github.com/pkg/errors"
)

// Verify checks a tree against what a patch promises: every file entry
// hashes to its recorded digest, every directory and symlink entry is
// in place, every deleted path is gone. Mismatches go into the report;
// only I/O failures unrelated to tree content abort the run.
func Verify(fs billy.Filesystem, p *Patch) (*Report, error) {
	report := &Report{}

	for _, entry := range p.Entries {
		if entry.IsFile() {
			verifyFile(fs, entry, report)
			continue
		}

		if len(entry.Ops) == 0 {
			continue
		}

		// structural entries: the last op decides what should be there
		last := entry.Ops[len(entry.Ops)-1]
		switch last.Kind {
		case OpDelete:
			_, err := fs.Lstat(entry.Path)
			if err == nil {
				report.record(entry.Path, errors.New("should be deleted, still present"))
			} else if !os.IsNotExist(err) {
				report.record(entry.Path, errors.WithStack(err))
			}
		case OpMkdir:
			stat, err := fs.Lstat(entry.Path)
			if err != nil {
				report.record(entry.Path, errors.Wrap(err, "expected directory"))
			} else if !stat.IsDir() {
				report.record(entry.Path, errors.New("expected directory, found something else"))
			}
		case OpSymlink:
			dest, err := fs.Readlink(entry.Path)
			if err != nil {
				report.record(entry.Path, errors.Wrap(err, "expected symlink"))
			} else if dest != last.Target {
				report.record(entry.Path, errors.Errorf("symlink points at %q, expected %q", dest, last.Target))
			}
		}
	}

	return report, nil
}

func verifyFile(fs billy.Filesystem, entry *Entry, report *Report) {
	stat, err := fs.Lstat(entry.Path)
	if err != nil {
		report.record(entry.Path, errors.Wrap(err, "expected regular file"))
		return
	}
	if !stat.Mode().IsRegular() {
		report.record(entry.Path, errors.New("expected regular file, found something else"))
		return
	}

	if entry.Digest == nil {
		return
	}

	f, err := fs.OpenFile(entry.Path, os.O_RDONLY, 0)
	if err != nil {
		report.record(entry.Path, errors.WithStack(err))
		return
	}
	defer f.Close()

	digest := sha256.New()
	_, err = io.Copy(digest, f)
	if err != nil {
		report.record(entry.Path, errors.WithStack(err))
		return
	}

	if !bytes.Equal(digest.Sum(nil), entry.Digest) {
		report.record(entry.Path, errors.Wrap(ErrReferenceMismatch, "content digest mismatch"))
	}
}
