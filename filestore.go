package ftidx

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ncw/directio"
)

// KeyFile is the on-disk backing store for one index: a flat file of
// fixed-size pages. Page numbering starts at 1, so page 0 is never handed
// out; nothing is stored on it, and the delete-chain head lives only in
// the chain field. Grounded on bufmgr.go's PageIn/PageOut
// split between an in-memory header and a raw data slice; generalized
// from the teacher's external-buffer-pool indirection to a direct file,
// optionally O_DIRECT-aligned via github.com/ncw/directio (the teacher's
// own unwired dependency — see DESIGN.md).
type KeyFile struct {
	mu       sync.Mutex
	fh       *os.File
	kd       *KeyDef
	direct   bool
	nextPage Uid
	chain    Uid // delete chain head
}

// OpenKeyFile opens or creates the backing file for kd at path. When
// direct is true, reads/writes go through directio-aligned buffers;
// callers should only request this on a filesystem that supports
// O_DIRECT, matching the CLI's --sort_buffer family of tunables that
// assume page-aligned I/O (SPEC_FULL.md domain stack table).
func OpenKeyFile(path string, kd *KeyDef, direct bool) (*KeyFile, error) {
	var fh *os.File
	var err error
	if direct {
		fh, err = directio.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	} else {
		fh, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	}
	if err != nil {
		return nil, wrapf(err, "ftidx: open key file %s", path)
	}

	kf := &KeyFile{fh: fh, kd: kd, direct: direct, nextPage: 1}
	info, err := fh.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() >= int64(kd.BlockLength) {
		kf.nextPage = Uid(info.Size() / int64(kd.BlockLength))
	}
	return kf, nil
}

func (f *KeyFile) keyDef() *KeyDef { return f.kd }

func (f *KeyFile) alignedBuffer() []byte {
	if f.direct {
		return directio.AlignedBlock(f.kd.BlockLength)
	}
	return make([]byte, f.kd.BlockLength)
}

func (f *KeyFile) readPage(pageNo Uid) ([]byte, error) {
	buf := f.alignedBuffer()
	off := int64(pageNo) * int64(f.kd.BlockLength)
	n, err := f.fh.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return nil, wrapf(err, "ftidx: read page %d", pageNo)
	}
	if n < len(buf) {
		// never-written page reads as an empty leaf
		clearBuf := make([]byte, len(buf))
		return clearBuf, nil
	}
	return buf, nil
}

func (f *KeyFile) writePage(pageNo Uid, data []byte) error {
	buf := f.alignedBuffer()
	copy(buf, data)
	off := int64(pageNo) * int64(f.kd.BlockLength)
	if _, err := f.fh.WriteAt(buf, off); err != nil {
		return wrapf(err, "ftidx: write page %d", pageNo)
	}
	return nil
}

// AllocatePage hands back a page number, preferring the delete chain
// before extending the file (spec.md invariant 4).
func (f *KeyFile) AllocatePage() (Uid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.chain != 0 {
		raw, err := f.readPage(f.chain)
		if err != nil {
			return 0, err
		}
		pageNo := f.chain
		if len(raw) >= 10 {
			f.chain = Uid(getUint64(raw[2:10]))
		} else {
			f.chain = 0
		}
		return pageNo, nil
	}

	pageNo := f.nextPage
	f.nextPage++
	if int64(f.nextPage)*int64(f.kd.BlockLength) > (1 << 48) {
		return 0, fmt.Errorf("ftidx: key file too large: %w", ErrFileFull)
	}
	return pageNo, nil
}

// FreePage links pageNo into the delete chain (spec.md invariant 4): the
// freed page's own body stores the next chain entry at bytes 2..10. The
// chain head is held only in memory and starts empty on every
// OpenKeyFile, so pages freed before a reopen are not reused after it.
func (f *KeyFile) FreePage(pageNo Uid) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw := f.alignedBuffer()
	raw[0], raw[1] = 0, 0
	var nb [8]byte
	putUint64(nb[:], uint64(f.chain))
	copy(raw[2:10], nb[:])
	if err := f.writePage(pageNo, raw); err != nil {
		return err
	}
	f.chain = pageNo
	return nil
}

func (f *KeyFile) Close() error {
	return f.fh.Close()
}
