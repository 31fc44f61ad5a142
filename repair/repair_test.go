package repair

import (
	"path/filepath"
	"testing"

	"github.com/blinkft/ftidx"
	"github.com/stretchr/testify/require"
)

// fakeStore is a minimal ftidx.RecordStore+DataCompactor double: records
// live in a plain map, Checksum is each record's byte length (deliberately
// cheap — only Repair's summation behavior is under test here, not a real
// checksum algorithm).
type fakeStore struct {
	records   map[ftidx.RecRef][]byte
	compacted bool
}

func (s *fakeStore) ReadRecord(ref ftidx.RecRef) ([]byte, error) {
	d, ok := s.records[ref]
	if !ok {
		return nil, ftidx.ErrRecordDeleted
	}
	return d, nil
}

func (s *fakeStore) Checksum(ref ftidx.RecRef) (uint64, error) {
	d, ok := s.records[ref]
	if !ok {
		return 0, ftidx.ErrRecordDeleted
	}
	return uint64(len(d)), nil
}

func (s *fakeStore) Compact() error {
	s.compacted = true
	return nil
}

// fakeIterator replays fakeStore's records in a fixed order, the
// RecordIterator contract Repair.Repair drives its key-read pass with.
type fakeIterator struct {
	refs []ftidx.RecRef
	data map[ftidx.RecRef][]byte
	i    int
}

func (it *fakeIterator) Next() (ftidx.RecRef, []byte, error) {
	if it.i >= len(it.refs) {
		return 0, nil, ErrIterationDone
	}
	ref := it.refs[it.i]
	it.i++
	return ref, it.data[ref], nil
}

func openTestTable(t *testing.T) (*ftidx.Table, *ftidx.KeyDef) {
	t.Helper()
	kd := testKeyDef()
	dir := t.TempDir()
	opts := ftidx.DefaultOptions()
	tbl, err := ftidx.Open([]string{filepath.Join(dir, "idx0.dat")}, []*ftidx.KeyDef{kd}, opts)
	require.NoError(t, err)
	t.Cleanup(func() { tbl.Close() })
	return tbl, kd
}

func wordExtractor(kd *ftidx.KeyDef) KeyExtractor {
	return func(ref ftidx.RecRef, data []byte) ([]SortEntry, error) {
		return []SortEntry{{Key: ftidx.PackKey(kd, [][]byte{data}), Ref: ref}}, nil
	}
}

// TestRepairRebuildsIndexSequential mirrors property 6 end to end: after
// a sequential (non-parallel) repair-by-sort run, every original key is
// searchable again and Report.Checksum is the sum of every record's
// checksum.
func TestRepairRebuildsIndexSequential(t *testing.T) {
	tbl, kd := openTestTable(t)
	store := &fakeStore{records: map[ftidx.RecRef][]byte{
		1: []byte("apple"), 2: []byte("banana"), 3: []byte("cherry"),
	}}
	iter := &fakeIterator{refs: []ftidx.RecRef{1, 2, 3}, data: store.records}

	rp := NewRepairer(tbl, store, []KeyExtractor{wordExtractor(kd)}, nil)
	report, err := rp.Repair(iter, Options{SortBufferLen: 4096, TempDirs: []string{t.TempDir()}})
	require.NoError(t, err)
	require.EqualValues(t, 3, report.RecordsOK)
	require.EqualValues(t, len("apple")+len("banana")+len("cherry"), report.Checksum)
	require.True(t, store.compacted)

	for _, w := range []string{"apple", "banana", "cherry"} {
		found, _, err := tbl.Trees[0].Search(ftidx.PackKey(kd, [][]byte{[]byte(w)}), 0)
		require.NoError(t, err)
		require.True(t, found, "expected %q to be reindexed", w)
	}
}

// TestRepairQuickSkipsCompact exercises rep_quick (§4.8): the data file
// compaction hook must not run.
func TestRepairQuickSkipsCompact(t *testing.T) {
	tbl, kd := openTestTable(t)
	store := &fakeStore{records: map[ftidx.RecRef][]byte{1: []byte("only")}}
	iter := &fakeIterator{refs: []ftidx.RecRef{1}, data: store.records}

	rp := NewRepairer(tbl, store, []KeyExtractor{wordExtractor(kd)}, nil)
	_, err := rp.Repair(iter, Options{Quick: true, SortBufferLen: 4096, TempDirs: []string{t.TempDir()}})
	require.NoError(t, err)
	require.False(t, store.compacted)
}

// TestRepairParallelMatchesSequential mirrors mi_repair_parallel: with
// one enabled index the parallel path must reindex the same key set as
// the sequential one.
func TestRepairParallelMatchesSequential(t *testing.T) {
	tbl, kd := openTestTable(t)
	records := map[ftidx.RecRef][]byte{1: []byte("red"), 2: []byte("green"), 3: []byte("blue")}
	store := &fakeStore{records: records}
	iter := &fakeIterator{refs: []ftidx.RecRef{1, 2, 3}, data: records}

	rp := NewRepairer(tbl, store, []KeyExtractor{wordExtractor(kd)}, nil)
	report, err := rp.Repair(iter, Options{Parallel: true, SortBufferLen: 4096, TempDirs: []string{t.TempDir()}})
	require.NoError(t, err)
	require.EqualValues(t, 3, report.RecordsOK)

	for _, w := range []string{"red", "green", "blue"} {
		found, _, err := tbl.Trees[0].Search(ftidx.PackKey(kd, [][]byte{[]byte(w)}), 0)
		require.NoError(t, err)
		require.True(t, found, "expected %q to be reindexed", w)
	}
}
