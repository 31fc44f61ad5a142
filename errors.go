package ftidx

import (
	"errors"
	"fmt"
	"os"
)

// sentinel errors, tested with errors.Is. Mirrors the BLTErr enum the
// teacher carries in blterr.go, generalized into the wrapped-error
// idiom the rest of the pack's storage engines use.
var (
	ErrNotFound      = errors.New("ftidx: key not found")
	ErrCorrupt       = errors.New("ftidx: page structure broken")
	ErrOutOfMemory   = errors.New("ftidx: buffer pool exhausted")
	ErrFileFull      = errors.New("ftidx: index file has no more page numbers")
	ErrCrashed       = errors.New("ftidx: index opened in crashed state")
	ErrEndOfFile     = errors.New("ftidx: read past end of file")
	ErrRecordDeleted = errors.New("ftidx: record slot already deleted")
)

// DuplicateError is returned by BTree.Insert on a unique index when the
// key already maps to a different RecRef.
type DuplicateError struct {
	Key      []byte
	Existing RecRef
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("ftidx: duplicate key, already mapped to %v", e.Existing)
}

func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicate
}

// ErrDuplicate is the sentinel matched by errors.Is(err, ErrDuplicate)
// against a *DuplicateError.
var ErrDuplicate = errors.New("ftidx: duplicate key")

func wrapf(err error, format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// logf mirrors the teacher's errPrintf helper (common.go): operational
// warnings go to stderr as plain text, not through a logging framework.
var logf = defaultLogf

func defaultLogf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format, args...)
}
