package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/blinkft/ftidx"
	"github.com/blinkft/ftidx/fulltext"
	"github.com/blinkft/ftidx/repair"
)

// checkTable is CheckUtil's -c/-e pass (spec.md §4.10): -c validates
// every tree's key order (btree.go's ValidateOrder, the Go-native stand-
// in for mi_check.c's check_k_link/chk_index page walk); -e additionally
// re-reads every record from the data file, mirroring mi_check.c's
// extend-check record-chain walk.
func checkTable(tbl *ftidx.Table, store *lineRecordStore, extend bool) (bool, error) {
	for _, tree := range tbl.Trees {
		if err := tree.ValidateOrder(); err != nil {
			fmt.Fprintf(os.Stderr, "ftchk: index order: %v\n", err)
			return false, nil
		}
	}
	if !extend {
		return true, nil
	}
	it := store.Iterator()
	for {
		_, _, err := it.Next()
		if err == repair.ErrIterationDone {
			break
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "ftchk: record read: %v\n", err)
			return false, nil
		}
	}
	return true, nil
}

// analyzeCardinality is -a: walk the whole tree counting distinct leaf
// keys, the Go-native stand-in for mi_check.c's update_key_parts
// per-key-part NDV estimate (this index has exactly one key part, the
// packed word, so there is only one cardinality to record).
func analyzeCardinality(tbl *ftidx.Table) {
	tree := tbl.Trees[0]
	var count uint64
	entry, ok, err := tree.SearchFirstEntry()
	for ok && err == nil {
		count++
		entry, ok, err = tree.SearchNextEntry(entry.Key, entry.Ref)
	}
	tbl.State.Cardinality = [][]uint64{{count}}
}

// dumpWordPostings is the SPEC_FULL.md-supplemented -dump flag,
// grounded on original_source/client/myisam_ftdump.c's per-word dump
// mode: "%9lx %20.7f %s" per posting (offset, weight, word), sorted by
// offset the way ftdump's mi_rnext walk visits them in key order.
func dumpWordPostings(idx *fulltext.FTIndex, word string) int {
	postings, err := idx.WordPostings([]byte(word))
	if err != nil {
		fmt.Fprintf(os.Stderr, "ftchk: dump: %v\n", err)
		return exitDataLost
	}
	refs := make([]ftidx.RecRef, 0, len(postings))
	for ref := range postings {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
	for _, ref := range refs {
		fmt.Printf("%9x %20.7f %s\n", uint64(ref), postings[ref], word)
	}
	return 0
}

// ftWordEntries is the KeyExtractor repair.Repairer drives per record:
// it replays fulltext.FTIndex's own linearize/packWord (via the
// exported LinearizedEntries) rather than re-deriving ft_linearize's
// normalization inside the repair package.
func ftWordEntries(idx *fulltext.FTIndex, ref ftidx.RecRef, data []byte) ([]repair.SortEntry, error) {
	keys, weights := idx.LinearizedEntries([][]byte{data})
	entries := make([]repair.SortEntry, len(keys))
	for i, k := range keys {
		entries[i] = repair.SortEntry{Key: k, Ref: ref, HasWeight: true, Weight: float32(weights[i])}
	}
	return entries, nil
}

// parseKeyMask turns -k's mask string (hex with a 0x prefix, decimal
// otherwise) into a bitset sized
// to n indexes, spec.md §6 "-k <mask>: restrict the active key set".
func parseKeyMask(s string, n int) (*bitset.BitSet, error) {
	var v uint64
	var err error
	if strings.HasPrefix(s, "0x") {
		v, err = strconv.ParseUint(s[2:], 16, 64)
	} else {
		v, err = strconv.ParseUint(s, 10, 64)
	}
	if err != nil {
		return nil, err
	}
	bs := bitset.New(uint(n))
	for i := 0; i < n; i++ {
		if v&(1<<uint(i)) != 0 {
			bs.Set(uint(i))
		}
	}
	return bs, nil
}

func splitTempDirs(s string) []string {
	if s == "" {
		return []string{"."}
	}
	var dirs []string
	for _, d := range strings.Split(s, string(os.PathListSeparator)) {
		if d != "" {
			dirs = append(dirs, d)
		}
	}
	if len(dirs) == 0 {
		return []string{"."}
	}
	return dirs
}

func backupDataFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	name := fmt.Sprintf("%s-%d.BAK", path, time.Now().Unix())
	return os.WriteFile(name, data, 0o644)
}

func mustStateFile(indexPath string) *os.File {
	f, err := os.OpenFile(indexPath+".state", os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ftchk: state file: %v\n", err)
		os.Exit(2)
	}
	return f
}
