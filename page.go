package ftidx

// LeafTail is the discriminated 4-byte trailer on a full-text leaf key,
// spec.md §3/§9: either the record's weight, or a negative count pointing
// at an FT2 subtree root keyed purely by RecRef.
type LeafTail struct {
	HasWeight bool
	Weight    float32
	SubCount  uint32
	SubRoot   Uid
}

// PageEntry is one decoded key slot: the logical (already segment-joined)
// key bytes, its payload, and — for non-leaf pages — the child pointer
// that precedes it on disk (spec.md §6 "Key page body").
type PageEntry struct {
	Key   []byte
	Ref   RecRef
	Child Uid // valid when the owning page is non-leaf
	Tail  *LeafTail
}

// KeyPage is one in-memory B-tree node: a decoded, ordered entry list
// plus the bookkeeping the teacher's Page/PageHeader carried (level,
// right sibling, free/kill markers for the delete-chain and B-link
// right-pointer machinery KeyCache/BTree still use).
type KeyPage struct {
	PageNo Uid
	Lvl    uint8 // 0 = leaf
	Right  Uid   // right sibling, 0 = none (B-link style horizontal chain)
	Free   bool  // page sits on the delete chain
	Kill   bool  // logically removed, still chained for in-flight readers

	Entries []PageEntry
}

func newKeyPage(lvl uint8) *KeyPage {
	return &KeyPage{Lvl: lvl, Entries: make([]PageEntry, 0, 8)}
}

func (p *KeyPage) isLeaf() bool { return p.Lvl == 0 }

// findSlot returns the index of the first entry whose key is >= key
// (binary search over the decoded, ordered entries — legal because the
// page is fully decoded into memory once per fetch; see pagecodec.go's
// note on why this repo decodes-on-fetch rather than re-walking prefix
// chains on every comparison).
func (kd *KeyDef) findSlot(p *KeyPage, key []byte, ref RecRef) int {
	lo, hi := 0, len(p.Entries)
	for lo < hi {
		mid := (lo + hi) / 2
		c := kd.compareKeys(p.Entries[mid].Key, key)
		if c == 0 && kd.Flags&NoSame == 0 {
			c = compareRef(p.Entries[mid].Ref, ref)
		}
		if c < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func compareRef(a, b RecRef) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// compareKeys compares two logical (segment-concatenated) keys segment
// by segment, honoring each segment's collation and REVERSE_SORT flag
// (spec.md §3 invariant 2). packLogicalKey gives every segment its own
// length prefix, so segment boundaries are recoverable here.
// CompareKeys is compareKeys exported for the repair package's external
// merge sort, which orders SortEntry values under the destination
// index's own collation instead of a bytewise compare.
func (kd *KeyDef) CompareKeys(a, b []byte) int { return kd.compareKeys(a, b) }

func (kd *KeyDef) compareKeys(a, b []byte) int {
	ao, bo := 0, 0
	for i := range kd.Segments {
		seg := &kd.Segments[i]
		av, na := readLogicalSegment(a, ao)
		bv, nb := readLogicalSegment(b, bo)
		if c := seg.CompareSegment(av, bv); c != 0 {
			return c
		}
		ao += na
		bo += nb
	}
	return 0
}
