package repair

import (
	"errors"
	"fmt"

	"github.com/blinkft/ftidx"
	"golang.org/x/sync/errgroup"
)

// ErrIterationDone is returned by RecordIterator.Next once every record
// has been read, mirroring mi_check.c's repair loop ("while
// (!(error=mi_rnext(info,NULL,inx)))" treating HA_ERR_END_OF_FILE as the
// normal exit).
var ErrIterationDone = errors.New("repair: no more records")

// RecordIterator drives repair's key-extraction pass (§4.8 step 2): it
// yields every live record still readable from the data file. A record
// that fails to decode is reported via its own error rather than
// aborting the whole pass — the "read cache tolerating block-level
// corruption" spec.md describes — and Repair.Repair counts and skips it.
type RecordIterator interface {
	Next() (ref ftidx.RecRef, data []byte, err error)
}

// KeyExtractor produces every key one record contributes to one index —
// a single SortEntry for an ordinary index, or one SortEntry per indexed
// word for a full-text index (ft_linearize's job, replayed here instead
// of recomputed from scratch by letting the caller supply the already-
// tokenized weights via fulltext.FTIndex's own linearize, see
// cmd/ftchk for the wiring).
type KeyExtractor func(ref ftidx.RecRef, data []byte) ([]SortEntry, error)

// DataCompactor is implemented by a RecordStore able to rewrite its data
// file contiguously, the non-quick half of repair (§4.8 step 5 — record
// layout itself is out of scope for this module per record.go's
// RecordStore boundary, so Repair only ever drives this through the
// caller-supplied hook, never touching record bytes itself).
type DataCompactor interface {
	Compact() error
}

// Options configures one Repair run (spec.md §4.8/§6 "-c/-e/-r/...").
type Options struct {
	// Indexes restricts the rebuild to these index positions. Empty means
	// "every index currently enabled in Table.State.KeyMap", inverted
	// when CreateMissingKeys is set (T_CREATE_MISSING_KEYS semantics).
	Indexes           []int
	CreateMissingKeys bool
	Quick             bool // rep_quick: skip DataCompactor entirely
	Parallel          bool // mi_repair_parallel vs mi_repair_by_sort
	SortBufferLen     int
	TempDirs          []string
}

func (o Options) sortBufferLen() int {
	if o.SortBufferLen > 0 {
		return o.SortBufferLen
	}
	return 8 << 20
}

// Report summarizes one Repair run for CheckUtil's exit-code bitmask
// (spec.md §6).
type Report struct {
	RecordsOK      uint64
	RecordsSkipped uint64
	Checksum       uint64
	RebuiltIndexes []int
}

// Repairer rebuilds a Table's indexes from its data file by external
// merge sort, grounded on original_source/storage/myisam/mi_check.c's
// mi_repair_by_sort/mi_repair_parallel.
type Repairer struct {
	Table       *ftidx.Table
	Records     ftidx.RecordStore
	Extractors  []KeyExtractor // aligned with Table.Defs
	Coordinator *Coordinator
}

func NewRepairer(tbl *ftidx.Table, records ftidx.RecordStore, extractors []KeyExtractor, coord *Coordinator) *Repairer {
	return &Repairer{Table: tbl, Records: records, Extractors: extractors, Coordinator: coord}
}

// enabledIndexes is mi_repair_by_sort's key_map inversion: "key_map=
// share->state.key_map; if (T_CREATE_MISSING_KEYS) key_map = ~key_map".
func (r *Repairer) enabledIndexes(opts Options) []int {
	if len(opts.Indexes) > 0 {
		return opts.Indexes
	}
	var idxs []int
	for i := range r.Table.Defs {
		on := r.Table.State.IndexEnabled(i)
		if opts.CreateMissingKeys {
			on = !on
		}
		if on {
			idxs = append(idxs, i)
		}
	}
	return idxs
}

// Repair runs the sequential (single read-cache) pipeline: stage 1
// (decide the rebuild set), stage 2 (read every record once, buffering
// each enabled index's keys into its own Sorter and summing the record
// checksum), stage 3/4 (drain each sorter's final merge straight into a
// freshly emptied tree — InsertTail's own FT2-promotion logic handles
// step 4's single-vs-two-level distinction without any special casing
// here), stage 5 (non-quick data-file compaction, if supported) and
// stage 6 (persist the new state header via Coordinator).
func (r *Repairer) Repair(iter RecordIterator, opts Options) (*Report, error) {
	if opts.Parallel {
		return r.repairParallel(iter, opts)
	}

	enabled := r.enabledIndexes(opts)
	sorters, err := r.newSorters(enabled, opts)
	if err != nil {
		return nil, err
	}
	defer closeSorters(sorters)

	report, checksum, err := r.readAndSort(iter, enabled, sorters)
	if err != nil {
		return nil, err
	}

	if !opts.Quick {
		if err := r.compact(); err != nil {
			return nil, err
		}
	}

	if err := r.drainSorters(enabled, sorters, report); err != nil {
		return nil, err
	}

	if err := r.commit(report.RecordsOK, checksum); err != nil {
		return nil, err
	}
	report.Checksum = checksum
	return report, nil
}

func (r *Repairer) newSorters(enabled []int, opts Options) (map[int]*Sorter, error) {
	sorters := make(map[int]*Sorter, len(enabled))
	for _, idx := range enabled {
		if idx < 0 || idx >= len(r.Table.Defs) {
			return nil, fmt.Errorf("repair: index %d out of range", idx)
		}
		sorters[idx] = NewSorter(r.Table.Defs[idx], opts.sortBufferLen(), opts.TempDirs)
	}
	return sorters, nil
}

func closeSorters(sorters map[int]*Sorter) {
	for _, s := range sorters {
		s.Close()
	}
}

// readAndSort is find_all_keys' outer read loop: one pass over every
// record, feeding each enabled index's extractor output into its Sorter
// and accumulating param->glob_crc += info->checksum (mi_check.c line
// ~1170's running sum — no rotation, a plain uint64 wraparound add).
func (r *Repairer) readAndSort(iter RecordIterator, enabled []int, sorters map[int]*Sorter) (*Report, uint64, error) {
	report := &Report{}
	var checksum uint64
	for {
		ref, data, err := iter.Next()
		if errors.Is(err, ErrIterationDone) {
			break
		}
		if err != nil {
			report.RecordsSkipped++
			continue
		}
		for _, idx := range enabled {
			entries, err := r.Extractors[idx](ref, data)
			if err != nil {
				return nil, 0, fmt.Errorf("repair: extract keys for index %d: %w", idx, err)
			}
			for _, e := range entries {
				if err := sorters[idx].Add(e); err != nil {
					return nil, 0, err
				}
			}
		}
		if sum, err := r.Records.Checksum(ref); err == nil {
			checksum += sum
		}
		report.RecordsOK++
	}
	return report, checksum, nil
}

func (r *Repairer) compact() error {
	dc, ok := r.Records.(DataCompactor)
	if !ok {
		return fmt.Errorf("repair: non-quick repair requires a RecordStore implementing DataCompactor")
	}
	return dc.Compact()
}

// drainSorters is stage 3/4: empty the destination root and replay the
// final merge straight into it via Insert/InsertTail.
func (r *Repairer) drainSorters(enabled []int, sorters map[int]*Sorter, report *Report) error {
	for _, idx := range enabled {
		it, err := sorters[idx].Finish()
		if err != nil {
			return err
		}
		if err := r.replay(idx, it); err != nil {
			return err
		}
		report.RebuiltIndexes = append(report.RebuiltIndexes, idx)
	}
	return nil
}

func (r *Repairer) replay(idx int, it *MergeIter) error {
	r.Table.State.Roots[idx] = ftidx.RootDisabled
	tree := r.Table.Trees[idx]
	kd := r.Table.Defs[idx]
	fulltext := kd.Flags&ftidx.FullText != 0

	for {
		e, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if fulltext {
			tail := &ftidx.LeafTail{HasWeight: e.HasWeight, Weight: e.Weight}
			if err := tree.InsertTail(e.Key, e.Ref, tail); err != nil {
				return err
			}
		} else if err := tree.Insert(e.Key, e.Ref); err != nil {
			return err
		}
	}
	r.Table.State.EnableIndex(idx)
	return nil
}

func (r *Repairer) commit(records, checksum uint64) error {
	r.Table.State.Records = records
	r.Table.State.Checksum = checksum
	if r.Coordinator == nil {
		return nil
	}
	if err := r.Coordinator.Lock(LockWrite); err != nil {
		return err
	}
	defer r.Coordinator.Unlock(LockWrite)
	r.Coordinator.MarkChanged()
	return r.Coordinator.WriteState()
}

// repairParallel is mi_repair_parallel's one-thread-per-enabled-key fan
// out. The teacher's hand-rolled join barrier around a shared read cache
// is not reproduced: readAll below reads every record into memory once
// before any worker starts, so the workers need no barrier or mutex. The
// THREADING goes through golang.org/x/sync/errgroup instead of raw
// pthread_create/pthread_join; Wait returns the first worker error (the
// other workers are not cancelled), standing in for mi_check.c's shared
// got_error flag.
func (r *Repairer) repairParallel(iter RecordIterator, opts Options) (*Report, error) {
	enabled := r.enabledIndexes(opts)
	sorters, err := r.newSorters(enabled, opts)
	if err != nil {
		return nil, err
	}
	defer closeSorters(sorters)

	// mi_repair_parallel's shared read cache: the data file is read
	// exactly once — here, by the "master" — and every per-index worker
	// below replays the same in-memory batch instead of re-reading the
	// file once per enabled index.
	records, report, checksum, err := r.readAll(iter)
	if err != nil {
		return nil, err
	}

	g := new(errgroup.Group)
	for _, idx := range enabled {
		idx := idx
		g.Go(func() error {
			for _, rec := range records {
				entries, err := r.Extractors[idx](rec.ref, rec.data)
				if err != nil {
					return fmt.Errorf("repair: extract keys for index %d: %w", idx, err)
				}
				for _, e := range entries {
					if err := sorters[idx].Add(e); err != nil {
						return err
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if !opts.Quick {
		if err := r.compact(); err != nil {
			return nil, err
		}
	}
	if err := r.drainSorters(enabled, sorters, report); err != nil {
		return nil, err
	}
	if err := r.commit(report.RecordsOK, checksum); err != nil {
		return nil, err
	}
	report.Checksum = checksum
	return report, nil
}

type cachedRecord struct {
	ref  ftidx.RecRef
	data []byte
}

// readAll is the master thread's read pass in mi_repair_parallel: every
// record is read once, its checksum folded into the running total, and
// the decoded bytes retained for every worker goroutine to replay
// against its own index's KeyExtractor.
func (r *Repairer) readAll(iter RecordIterator) ([]cachedRecord, *Report, uint64, error) {
	report := &Report{}
	var checksum uint64
	var records []cachedRecord
	for {
		ref, data, err := iter.Next()
		if errors.Is(err, ErrIterationDone) {
			break
		}
		if err != nil {
			report.RecordsSkipped++
			continue
		}
		records = append(records, cachedRecord{ref: ref, data: data})
		if sum, err := r.Records.Checksum(ref); err == nil {
			checksum += sum
		}
		report.RecordsOK++
	}
	return records, report, checksum, nil
}
