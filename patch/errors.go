package patch

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrCorruptPatch means the decoder hit an unknown tag, a truncated
	// record or a length prefix past its limits. Fatal: nothing has been
	// applied when it surfaces, since decoding completes before any
	// destination mutation.
	ErrCorruptPatch = errors.New("corrupt patch")

	// ErrReferenceMismatch means a block range points past the end of
	// the reference file, or the rebuilt content doesn't hash to what
	// the patch recorded: the reference tree drifted since the patch
	// was computed. Fatal for that file only.
	ErrReferenceMismatch = errors.New("reference tree drifted since patch was computed")

	// ErrStructuralConflict means a MKDIR or SYMLINK target is occupied
	// by an incompatible entry that no preceding DELETE cleared. The
	// operation is skipped and the run continues.
	ErrStructuralConflict = errors.New("path occupied by an incompatible entry")
)

// IsCorruptPatch reports whether err is rooted in ErrCorruptPatch.
func IsCorruptPatch(err error) bool {
	return errors.Cause(err) == ErrCorruptPatch
}

// PathError ties a per-path failure to the path it happened on.
type PathError struct {
	Path string
	Err  error
}

func (pe *PathError) Error() string {
	return fmt.Sprintf("%s: %v", pe.Path, pe.Err)
}

func (pe *PathError) Unwrap() error {
	return pe.Err
}

// Report aggregates per-path failures of an apply or verify run. Per-path
// failures don't abort the run; callers check Ok afterwards.
type Report struct {
	Errors []*PathError
}

func (r *Report) Ok() bool {
	return len(r.Errors) == 0
}

func (r *Report) record(path string, err error) {
	r.Errors = append(r.Errors, &PathError{Path: path, Err: err})
}
