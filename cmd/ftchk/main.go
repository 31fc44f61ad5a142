// Command ftchk is CheckUtil (spec.md §4.10/§6): check, repair and
// inspect one full-text index the way the teacher's package main
// command entrypoints wrap a library into a flag-driven tool, grounded
// on original_source/client/myisamchk.c's option table and
// original_source/client/myisam_ftdump.c's dump mode.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/blinkft/ftidx"
	"github.com/blinkft/ftidx/fulltext"
	"github.com/blinkft/ftidx/repair"
	"github.com/spf13/pflag"
)

// Exit-code bitmask (spec.md §6: "0 OK; non-zero: bitwise OR of
// DATA_LOST, RETRY_WITHOUT_QUICK, RETRY_REPAIR"). The spec names the
// three bits but not their numeric values; this repo assigns them in
// myisamchk's own historical order (DATA_LOST=1, RETRY_WITHOUT_QUICK=2,
// RETRY_REPAIR=4) — see DESIGN.md's Open Question decisions.
const (
	exitDataLost          = 1 << 0
	exitRetryWithoutQuick = 1 << 1
	exitRetryRepair       = 1 << 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := pflag.NewFlagSet("ftchk", pflag.ContinueOnError)

	check := fs.BoolP("check", "c", false, "check the table")
	extend := fs.BoolP("extend-check", "e", false, "extended check: re-read every record")
	repairBySort := fs.BoolP("repair", "r", false, "repair by sort")
	repairInPlace := fs.BoolP("safe-recover", "o", false, "repair in place (old recovery method)")
	parallel := fs.BoolP("parallel-recover", "p", false, "repair by sort, one thread per key")
	quick := fs.BoolP("quick", "q", false, "quick repair: don't rebuild the data file")
	forceSort := fs.BoolP("force-sort", "n", false, "force repair by sort even past the temp-file limit")
	analyze := fs.BoolP("analyze", "a", false, "analyze distribution of keys (-a)")
	sortIndex := fs.BoolP("sort-index", "S", false, "sort index pages in key order")
	sortRecords := fs.IntP("sort-records", "R", 0, "sort records according to an index")
	updateState := fs.BoolP("update-state", "U", false, "mark crashed tables as updated")
	readOnly := fs.BoolP("read-only", "T", false, "don't mark the table as checked")
	backup := fs.BoolP("backup", "B", false, "make a backup of the data file before rewriting it")
	keyMask := fs.StringP("key-mask", "k", "", "restrict the active key set (hex or decimal bitmask)")
	autoIncr := fs.StringP("auto-increment", "A", "", "set auto_increment value to at least this, or \"max\"")
	statsMethod := fs.String("stats_method", "nulls_unequal", "nulls_equal|nulls_unequal|nulls_ignored")
	keyBufferSize := fs.Int("key_buffer_size", 0, "key cache size in pages (0: use the built-in default)")
	sortBufferSize := fs.Int("sort_buffer_size", 8<<20, "repair's external-sort in-memory buffer, bytes")
	_ = fs.Int("read_buffer_size", 0, "accepted for flag-table parity; record I/O here is unbuffered")
	_ = fs.Int("write_buffer_size", 0, "accepted for flag-table parity; record I/O here is unbuffered")
	dumpWord := fs.String("dump", "", "dump one word's postings (myisam_ftdump -d, a SPEC_FULL.md supplement)")
	tmpDirs := fs.String("tmpdir", os.Getenv("TMPDIR"), "colon-separated round-robin external-sort temp dirs")
	stopwordFile := fs.String("stopword-file", "", "path to a newline-delimited stopword list")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: ftchk [flags] <data-file>")
		return 2
	}
	dataPath := fs.Arg(0)
	tempDirs := splitTempDirs(*tmpDirs)
	_ = statsMethod // accepted for flag-table parity; cardinality here has no NULL-sensitive key parts
	_ = forceSort   // repair here always sorts, so -n has nothing further to force

	tz := &fulltext.Tokenizer{Stopwords: fulltext.DefaultStopwords}
	if *stopwordFile != "" {
		sw, err := fulltext.LoadStopwordFile(*stopwordFile, tz)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ftchk: stopword file: %v\n", err)
			return exitDataLost
		}
		tz.Stopwords = sw
	}

	kd := fulltext.NewFTKeyDef(4096, 84, nil)
	opts := ftidx.DefaultOptions()
	if *keyBufferSize > 0 {
		opts.CachePages = uint(*keyBufferSize)
	}
	opts.SortBufferLen = *sortBufferSize
	opts.TempDirs = tempDirs

	indexPath := dataPath + ".ftidx"
	tbl, err := ftidx.Open([]string{indexPath}, []*ftidx.KeyDef{kd}, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ftchk: open index: %v\n", err)
		return exitDataLost
	}
	defer tbl.Close()

	store, err := openLineRecordStore(dataPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ftchk: open data file: %v\n", err)
		return exitDataLost
	}
	defer store.Close()

	ftidxTree := fulltext.NewFTIndex(tbl.Trees[0], kd, tz)

	if *dumpWord != "" {
		return dumpWordPostings(ftidxTree, *dumpWord)
	}

	if *keyMask != "" {
		mask, err := parseKeyMask(*keyMask, len(tbl.Defs))
		if err != nil {
			fmt.Fprintf(os.Stderr, "ftchk: -k: %v\n", err)
			return 2
		}
		tbl.State.KeyMap = mask
	}

	if *autoIncr == "max" {
		tbl.State.AutoIncrement = maxRecRef(store) + 1
	} else if *autoIncr != "" {
		if v, err := strconv.ParseUint(*autoIncr, 10, 64); err == nil && v > tbl.State.AutoIncrement {
			tbl.State.AutoIncrement = v
		}
	}

	if *backup {
		if err := backupDataFile(dataPath); err != nil {
			fmt.Fprintf(os.Stderr, "ftchk: backup: %v\n", err)
			return exitDataLost
		}
	}

	var exitCode int
	switch {
	case *repairBySort || *parallel:
		extractor := func(ref ftidx.RecRef, data []byte) ([]repair.SortEntry, error) {
			return ftWordEntries(ftidxTree, ref, data)
		}
		stateF := mustStateFile(indexPath)
		defer stateF.Close()
		coord := repair.NewCoordinator(tbl, stateF, 1, true)
		rp := repair.NewRepairer(tbl, store, []repair.KeyExtractor{extractor}, coord)
		report, err := rp.Repair(store.Iterator(), repair.Options{
			Quick:         *quick,
			Parallel:      *parallel,
			SortBufferLen: *sortBufferSize,
			TempDirs:      tempDirs,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "ftchk: repair: %v\n", err)
			return exitRetryRepair
		}
		fmt.Printf("repaired %d records (%d skipped), checksum=%d, rebuilt indexes=%v\n",
			report.RecordsOK, report.RecordsSkipped, report.Checksum, report.RebuiltIndexes)
	case *repairInPlace:
		fmt.Fprintln(os.Stderr, "ftchk: -o (repair in place) is not implemented; use -r")
		return exitRetryRepair
	case *check || *extend:
		ok, err := checkTable(tbl, store, *extend)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ftchk: check: %v\n", err)
			return exitDataLost
		}
		if !ok && !*readOnly {
			exitCode |= exitRetryRepair
		}
	default:
		fmt.Fprintln(os.Stderr, "ftchk: no action requested; pass one of -c/-e/-r/-o/-p")
		return 2
	}

	if *analyze {
		analyzeCardinality(tbl)
	}
	if *updateState {
		tbl.State.UpdateCount++
	}
	if *sortIndex {
		// -S: the page layout this repo keeps is already tree-ordered by
		// construction (no out-of-order allocation to fix up), so this
		// flag is accepted for CLI parity and otherwise a no-op.
	}
	if *sortRecords > 0 {
		fmt.Fprintf(os.Stderr, "ftchk: -R (sort records by key %d) is not implemented\n", *sortRecords)
	}

	return exitCode
}
