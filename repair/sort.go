// Package repair implements table repair by external merge sort (spec.md
// §4.8) and the lock/checksum/state-header coordinator (§4.9), grounded on
// original_source/storage/myisam/sort.cc, mi_check.c and mi_locking.c.
package repair

import (
	"bufio"
	"container/heap"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/blinkft/ftidx"
	"github.com/dsnet/golib/memfile"
	"github.com/google/uuid"
)

// mergeBuff/mergeBuff2 are sort.cc's MERGEBUFF/MERGEBUFF2: a fan-in pass
// folds up to mergeBuff runs into one, repeated until at most mergeBuff2
// runs remain for the final merge.
const (
	mergeBuff  = 15
	mergeBuff2 = 31
)

// SortEntry is one key extracted from a record during repair's key-read
// pass (§4.8 step 2): the packed logical key, the record it points at,
// and — for a full-text index only — the per-document weight that would
// otherwise live in a LeafTail. The external sort never needs to know
// about FT2 subtree promotion; that happens again, the ordinary way,
// when the sorted run is replayed into the fresh tree (step 3/4).
type SortEntry struct {
	Key       []byte
	Ref       ftidx.RecRef
	HasWeight bool
	Weight    float32
}

// Less orders two SortEntry values the way the destination KeyDef would,
// breaking ties on RecRef. Unlike BTree.findSlot, which ignores the
// RecRef for a NoSame KeyDef, the tie-break applies to every KeyDef.
func Less(kd *ftidx.KeyDef, a, b SortEntry) bool {
	if c := kd.CompareKeys(a.Key, b.Key); c != 0 {
		return c < 0
	}
	return a.Ref < b.Ref
}

// buffpek is one sorted run spilled to a backing store: a windowed view
// refilled from disk on demand, grounded on sort.cc's BUFFPEK
// (base_buf/file_pos/count/mem_count/max_keys/current_key).
type buffpek struct {
	kd      *ftidx.KeyDef
	store   io.ReadWriteSeeker
	closer  func() error
	filePos int64 // next unread byte offset
	endPos  int64 // end of this run's serialized region
	maxKeys int   // read_to_buffer's window capacity, in entries

	buf []SortEntry
	idx int // cursor into buf; read_to_buffer's "current_key"
}

func (b *buffpek) currentKey() *SortEntry {
	if b.idx >= len(b.buf) {
		return nil
	}
	return &b.buf[b.idx]
}

func (b *buffpek) exhausted() bool {
	return b.idx >= len(b.buf) && b.filePos >= b.endPos
}

// refill is read_to_buffer: once the in-memory window is drained, pull
// up to maxKeys more entries starting at filePos.
func (b *buffpek) refill() error {
	if b.idx < len(b.buf) || b.filePos >= b.endPos {
		return nil
	}
	if _, err := b.store.Seek(b.filePos, io.SeekStart); err != nil {
		return err
	}
	r := bufio.NewReader(io.LimitReader(b.store, b.endPos-b.filePos))
	buf := make([]SortEntry, 0, b.maxKeys)
	for len(buf) < b.maxKeys {
		e, n, err := decodeSortEntry(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		buf = append(buf, e)
		b.filePos += int64(n)
	}
	b.buf = buf
	b.idx = 0
	return nil
}

func encodeSortEntry(w io.Writer, e SortEntry) error {
	var hdr [13]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(e.Key)))
	binary.BigEndian.PutUint64(hdr[4:12], uint64(e.Ref))
	if e.HasWeight {
		hdr[12] = 1
	}
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.Write(e.Key); err != nil {
		return err
	}
	if e.HasWeight {
		var wb [4]byte
		binary.BigEndian.PutUint32(wb[:], math.Float32bits(e.Weight))
		if _, err := w.Write(wb[:]); err != nil {
			return err
		}
	}
	return nil
}

func decodeSortEntry(r io.Reader) (SortEntry, int, error) {
	var hdr [13]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return SortEntry{}, 0, err
	}
	keyLen := int(binary.BigEndian.Uint32(hdr[0:4]))
	ref := ftidx.RecRef(binary.BigEndian.Uint64(hdr[4:12]))
	hasWeight := hdr[12] == 1
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return SortEntry{}, 0, err
	}
	n := len(hdr) + keyLen
	e := SortEntry{Key: key, Ref: ref, HasWeight: hasWeight}
	if hasWeight {
		var wb [4]byte
		if _, err := io.ReadFull(r, wb[:]); err != nil {
			return SortEntry{}, 0, err
		}
		e.Weight = math.Float32frombits(binary.BigEndian.Uint32(wb[:]))
		n += 4
	}
	return e, n, nil
}

// Sorter buffers keys in memory and spills sorted runs once the buffer
// budget is exceeded, grounded on sort.cc's find_all_keys/write_keys.
type Sorter struct {
	kd        *ftidx.KeyDef
	bufferLen int
	tempDirs  []string
	nextDir   int

	batch    []SortEntry
	batchLen int
	runs     []*buffpek
	spilled  bool // true once any run left memory, per-run store policy below
}

// NewSorter allocates a sort over kd's ordering with an in-memory budget
// of bufferLen bytes before a batch is spilled as a run, round-robining
// spill files across tempDirs the way multiple --tmpdir paths do.
func NewSorter(kd *ftidx.KeyDef, bufferLen int, tempDirs []string) *Sorter {
	if len(tempDirs) == 0 {
		tempDirs = []string{"."}
	}
	return &Sorter{kd: kd, bufferLen: bufferLen, tempDirs: tempDirs}
}

func entrySize(e SortEntry) int {
	n := 13 + len(e.Key)
	if e.HasWeight {
		n += 4
	}
	return n
}

// Add buffers one key, spilling the current batch as a sorted run once
// bufferLen would be exceeded.
func (s *Sorter) Add(e SortEntry) error {
	sz := entrySize(e)
	if s.batchLen+sz > s.bufferLen && len(s.batch) > 0 {
		if err := s.spillBatch(); err != nil {
			return err
		}
	}
	s.batch = append(s.batch, e)
	s.batchLen += sz
	return nil
}

// spillBatch is write_keys: sort the current batch and write it out as
// one new run. A run spilled here always lands in a real temp file,
// since by definition at least one more batch is following it.
func (s *Sorter) spillBatch() error {
	sort.Slice(s.batch, func(i, j int) bool { return Less(s.kd, s.batch[i], s.batch[j]) })
	pk, err := s.writeRun(s.batch, true)
	if err != nil {
		return err
	}
	s.runs = append(s.runs, pk)
	s.batch = nil
	s.batchLen = 0
	s.spilled = true
	return nil
}

// writeRun serializes a pre-sorted batch into a fresh backing store.
// forceDisk chooses a real os.CreateTemp-style file (round-robin across
// tempDirs, named via github.com/google/uuid so concurrent repairs never
// collide); otherwise the run lives in an in-memory
// github.com/dsnet/golib/memfile.File, never touching disk — the shape
// Finish uses when the whole key set fit in a single batch.
func (s *Sorter) writeRun(batch []SortEntry, forceDisk bool) (*buffpek, error) {
	var store io.ReadWriteSeeker
	var closer func() error
	if forceDisk {
		dir := s.tempDirs[s.nextDir%len(s.tempDirs)]
		s.nextDir++
		name := filepath.Join(dir, "ftchk-sort-"+uuid.NewString()+".tmp")
		f, err := os.Create(name)
		if err != nil {
			return nil, fmt.Errorf("repair: create sort spill file: %w", err)
		}
		store = f
		closer = func() error {
			f.Close()
			return os.Remove(name)
		}
	} else {
		store = memfile.New(nil)
		closer = func() error { return nil }
	}

	w := bufio.NewWriter(store)
	var total int64
	for _, e := range batch {
		if err := encodeSortEntry(w, e); err != nil {
			return nil, err
		}
		total += int64(entrySize(e))
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return &buffpek{kd: s.kd, store: store, closer: closer, endPos: total, maxKeys: windowKeys(s.bufferLen)}, nil
}

func windowKeys(bufferLen int) int {
	const avgEntry = 32
	n := bufferLen / mergeBuff / avgEntry
	if n < 16 {
		n = 16
	}
	return n
}

// Close releases every remaining run's backing store (temp files are
// removed). Runs consumed by MergeIter.Next close themselves as they
// drain.
func (s *Sorter) Close() error {
	var first error
	for _, pk := range s.runs {
		if err := pk.closer(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Finish is merge_many_buff followed by the final merge_buffers pass: it
// fans spilled runs in mergeBuff at a time until at most mergeBuff2
// remain, then returns an iterator driving the final k-way merge across
// whatever is left (including any still-unspilled in-memory batch).
func (s *Sorter) Finish() (*MergeIter, error) {
	if len(s.batch) > 0 {
		sort.Slice(s.batch, func(i, j int) bool { return Less(s.kd, s.batch[i], s.batch[j]) })
		pk, err := s.writeRun(s.batch, s.spilled)
		if err != nil {
			return nil, err
		}
		s.runs = append(s.runs, pk)
		s.batch = nil
	}
	if len(s.runs) == 0 {
		return &MergeIter{}, nil
	}

	for len(s.runs) > mergeBuff2 {
		var next []*buffpek
		for i := 0; i < len(s.runs); i += mergeBuff {
			end := i + mergeBuff
			if end > len(s.runs) {
				end = len(s.runs)
			}
			chunk := s.runs[i:end]
			if len(chunk) == 1 {
				next = append(next, chunk[0])
				continue
			}
			merged, err := s.mergeRuns(chunk, true)
			if err != nil {
				return nil, err
			}
			next = append(next, merged)
		}
		s.runs = next
	}

	it, err := newMergeIter(s.runs)
	if err != nil {
		return nil, err
	}
	s.runs = nil
	return it, nil
}

// mergeRuns drives one k-way merge pass over runs and spills the result
// as a fresh run — an intermediate merge_many_buff pass, as opposed to
// the final merge_buffers pass that MergeIter itself drives.
func (s *Sorter) mergeRuns(runs []*buffpek, toDisk bool) (*buffpek, error) {
	it, err := newMergeIter(runs)
	if err != nil {
		return nil, err
	}
	var batch []SortEntry
	for {
		e, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		batch = append(batch, e)
	}
	return s.writeRun(batch, toDisk)
}

// mergeHeap backs MergeIter's k-way merge via container/heap, standing
// in for sort.cc's QUEUE priority queue (queue_insert/queue_top/
// queue_replaced).
type mergeHeap struct {
	kd   *ftidx.KeyDef
	runs []*buffpek
}

func (h *mergeHeap) Len() int { return len(h.runs) }
func (h *mergeHeap) Less(i, j int) bool {
	return Less(h.kd, *h.runs[i].currentKey(), *h.runs[j].currentKey())
}
func (h *mergeHeap) Swap(i, j int) { h.runs[i], h.runs[j] = h.runs[j], h.runs[i] }
func (h *mergeHeap) Push(x any)    { h.runs = append(h.runs, x.(*buffpek)) }
func (h *mergeHeap) Pop() any {
	old := h.runs
	n := len(old)
	item := old[n-1]
	h.runs = old[:n-1]
	return item
}

// MergeIter yields SortEntry values across a set of runs in ascending
// order, the driving loop behind merge_buffers.
type MergeIter struct {
	h *mergeHeap
}

func newMergeIter(runs []*buffpek) (*MergeIter, error) {
	if len(runs) == 0 {
		return &MergeIter{}, nil
	}
	h := &mergeHeap{kd: runs[0].kd}
	for _, pk := range runs {
		if err := pk.refill(); err != nil {
			return nil, err
		}
		if pk.currentKey() != nil {
			h.runs = append(h.runs, pk)
		}
	}
	heap.Init(h)
	return &MergeIter{h: h}, nil
}

// Next returns the next entry in ascending order, or ok=false once every
// run is drained. Runs are closed (temp files removed) as they empty.
func (m *MergeIter) Next() (SortEntry, bool, error) {
	if m.h == nil || m.h.Len() == 0 {
		return SortEntry{}, false, nil
	}
	top := m.h.runs[0]
	e := *top.currentKey()
	top.idx++
	if err := top.refill(); err != nil {
		return SortEntry{}, false, err
	}
	if top.currentKey() == nil {
		heap.Pop(m.h)
		top.closer()
	} else {
		heap.Fix(m.h, 0)
	}
	return e, true, nil
}
