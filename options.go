package ftidx

// Options configures an opened table, mirroring the teacher's
// NewBufMgr(name, bits, nodeMax, pbm, lastPageZeroId) constructor-with-
// tunables idiom (SPEC_FULL.md §1 "Configuration"). No config-file
// library is wired: like the teacher, all tuning comes through this
// struct passed to Open, not a parsed file.
type Options struct {
	CachePages    uint   // KeyCache capacity in pages
	KeyRefLength  int    // child-pointer width, 1..7 bytes
	DirectIO      bool   // open key/data files with O_DIRECT
	StopwordFile  string // path to a newline-delimited stopword list; "" uses the built-in set
	FTBSyntax     string // 12-char boolean operator string; "" uses the default
	SortBufferLen int    // repair external-sort in-memory buffer size
	TempDirs      []string
}

// DefaultOptions returns the tunables used when a caller doesn't need to
// override anything.
func DefaultOptions() Options {
	return Options{
		CachePages:    4096,
		KeyRefLength:  6,
		SortBufferLen: 8 << 20,
		TempDirs:      []string{"."},
	}
}

// Table bundles one open index file's file/cache/codec/tree, the unit
// CheckUtil and Repair operate over.
type Table struct {
	Opts  Options
	State *StateInfo
	Cache *KeyCache
	Codec *PageCodec
	Files []*KeyFile
	Trees []*BTree
	Defs  []*KeyDef
}

// Open opens (creating if absent) the index files for every KeyDef and
// wires them to a shared KeyCache, returning a ready-to-use Table.
func Open(paths []string, defs []*KeyDef, opts Options) (*Table, error) {
	codec := &PageCodec{KeyRefLength: opts.KeyRefLength}
	cache := NewKeyCache(opts.CachePages, codec)
	state := NewStateInfo(len(defs))

	tbl := &Table{Opts: opts, State: state, Cache: cache, Codec: codec, Defs: defs}
	for i, kd := range defs {
		f, err := OpenKeyFile(paths[i], kd, opts.DirectIO)
		if err != nil {
			tbl.Close()
			return nil, err
		}
		tbl.Files = append(tbl.Files, f)
		tbl.Trees = append(tbl.Trees, NewBTree(f, kd, cache, codec, state, i))
		state.EnableIndex(i)
	}
	return tbl, nil
}

func (t *Table) Close() error {
	var first error
	for i, f := range t.Files {
		if err := t.Cache.Flush(f, FlushForceWrite); err != nil && first == nil {
			first = err
		}
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
		_ = i
	}
	return first
}
