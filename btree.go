package ftidx

import "fmt"

// BTree maintains one index's tree over a KeyFile, generalizing the
// teacher's bltree.go (InsertKey/DeleteKey/splitPage/splitKeys/cleanPage)
// from a fixed-shape BtId-width key to PageCodec-packed variable keys,
// and from the teacher's always-B-link horizontal-chain shape to a
// classic separator-key B-tree: each non-leaf PageEntry's Child pointer
// precedes its Key (spec.md §6 "Key page body"), and the page's Right
// field plays the "last child" pointer at non-leaf level while remaining
// the true horizontal sibling link at leaf level — letting SearchNext
// walk leaves in order without retracing the parent chain. Writes hold a
// single exclusive root lock for the whole operation instead of the
// teacher's lock-chained B-link descent.
type BTree struct {
	file     *KeyFile
	kd       *KeyDef
	cache    *KeyCache
	codec    *PageCodec
	rootLock BLTRWLock
	state    *StateInfo
	stateIdx int
}

func NewBTree(file *KeyFile, kd *KeyDef, cache *KeyCache, codec *PageCodec, state *StateInfo, stateIdx int) *BTree {
	return &BTree{file: file, kd: kd, cache: cache, codec: codec, state: state, stateIdx: stateIdx}
}

func (t *BTree) root() Uid { return t.state.Roots[t.stateIdx] }

func (t *BTree) setRoot(p Uid) { t.state.Roots[t.stateIdx] = p }

type pathStep struct {
	pageNo Uid
	page   *KeyPage
	latch  *PageLatch
	idx    int // the child-entry index taken to descend, -1 if via page.Right
}

// descend walks root-to-leaf, returning the full path. Every page along
// the path is fetched (pinned) through the KeyCache; callers must
// release every step's latch.
func (t *BTree) descend(key []byte, ref RecRef) ([]pathStep, error) {
	var path []pathStep
	pageNo := t.root()
	for {
		page, latch, err := t.cache.Fetch(t.file, pageNo, t.kd)
		if err != nil {
			return path, err
		}
		idx := t.kd.findSlot(page, key, ref)
		path = append(path, pathStep{pageNo: pageNo, page: page, latch: latch, idx: idx})
		if page.isLeaf() {
			return path, nil
		}
		if idx < len(page.Entries) {
			pageNo = page.Entries[idx].Child
		} else {
			pageNo = page.Right
		}
	}
}

func (t *BTree) releasePath(path []pathStep, dirty map[Uid]bool) {
	for _, s := range path {
		t.cache.Release(s.latch, dirty[s.pageNo])
	}
}

// Search implements spec.md §4.2's FIND mode: exact match on key (and,
// for non-NO_SAME indexes, ref as the tie-break).
func (t *BTree) Search(key []byte, ref RecRef) (found bool, gotRef RecRef, err error) {
	t.rootLock.ReadLock()
	defer t.rootLock.ReadRelease()

	if t.root() == RootDisabled {
		return false, 0, nil
	}
	path, err := t.descend(key, ref)
	defer t.releasePath(path, nil)
	if err != nil {
		return false, 0, err
	}
	leaf := path[len(path)-1]
	if leaf.idx >= len(leaf.page.Entries) {
		return false, 0, nil
	}
	e := leaf.page.Entries[leaf.idx]
	if t.kd.compareKeys(e.Key, key) == 0 {
		return true, e.Ref, nil
	}
	return false, 0, nil
}

// SearchFirst returns the leftmost key in the tree, for scans.
func (t *BTree) SearchFirst() (key []byte, ref RecRef, ok bool, err error) {
	t.rootLock.ReadLock()
	defer t.rootLock.ReadRelease()
	if t.root() == RootDisabled {
		return nil, 0, false, nil
	}
	pageNo := t.root()
	for {
		page, latch, err := t.cache.Fetch(t.file, pageNo, t.kd)
		if err != nil {
			return nil, 0, false, err
		}
		if page.isLeaf() {
			defer t.cache.Release(latch, false)
			if len(page.Entries) == 0 {
				return nil, 0, false, nil
			}
			return page.Entries[0].Key, page.Entries[0].Ref, true, nil
		}
		next := page.Right
		if len(page.Entries) > 0 {
			next = page.Entries[0].Child
		}
		t.cache.Release(latch, false)
		pageNo = next
	}
}

// SearchNext retrieves the logical successor of (key, ref) by
// re-descending and following the leaf's Right sibling chain when the
// match is the last entry on its page — the B-link horizontal walk
// preserved from the teacher's findNext/nextKey.
func (t *BTree) SearchNext(key []byte, ref RecRef) (nextKey []byte, nextRef RecRef, ok bool, err error) {
	t.rootLock.ReadLock()
	defer t.rootLock.ReadRelease()
	if t.root() == RootDisabled {
		return nil, 0, false, nil
	}
	path, err := t.descend(key, ref)
	if err != nil {
		t.releasePath(path, nil)
		return nil, 0, false, err
	}
	leaf := path[len(path)-1]
	slot := leaf.idx
	if slot < len(leaf.page.Entries) && t.kd.compareKeys(leaf.page.Entries[slot].Key, key) == 0 {
		slot++
	}
	if slot < len(leaf.page.Entries) {
		e := leaf.page.Entries[slot]
		t.releasePath(path, nil)
		return e.Key, e.Ref, true, nil
	}
	right := leaf.page.Right
	t.releasePath(path, nil)
	if right == 0 {
		return nil, 0, false, nil
	}
	page, latch, err := t.cache.Fetch(t.file, right, t.kd)
	if err != nil {
		return nil, 0, false, err
	}
	defer t.cache.Release(latch, false)
	if len(page.Entries) == 0 {
		return nil, 0, false, nil
	}
	return page.Entries[0].Key, page.Entries[0].Ref, true, nil
}

// Insert adds key→ref to the tree (spec.md §4.2 insert). Descent and
// every page mutated along the path happen under the exclusive root
// lock, matching "writers acquire it exclusively across the entire
// operation" (spec.md §4.3).
func (t *BTree) Insert(key []byte, ref RecRef) error {
	t.rootLock.WriteLock()
	defer t.rootLock.WriteRelease()

	if t.root() == RootDisabled || t.root() == 0 {
		pageNo, err := t.file.AllocatePage()
		if err != nil {
			return err
		}
		leaf := newKeyPage(0)
		leaf.Entries = append(leaf.Entries, PageEntry{Key: append([]byte{}, key...), Ref: ref})
		t.cache.InstallNew(t.file, pageNo, leaf)
		t.setRoot(pageNo)
		t.kd.bumpVersion()
		return nil
	}

	path, err := t.descend(key, ref)
	if err != nil {
		t.releasePath(path, nil)
		return err
	}
	leaf := path[len(path)-1]

	if t.kd.Flags&(Unique|NoSame) != 0 {
		// with the RecRef tie-break (no NoSame) an equal key can sit just
		// before the insertion slot as well as at it
		for _, i := range []int{leaf.idx - 1, leaf.idx} {
			if i < 0 || i >= len(leaf.page.Entries) {
				continue
			}
			if e := leaf.page.Entries[i]; t.kd.compareKeys(e.Key, key) == 0 {
				t.releasePath(path, nil)
				return &DuplicateError{Key: key, Existing: e.Ref}
			}
		}
	}

	entry := PageEntry{Key: append([]byte{}, key...), Ref: ref}
	entries := leaf.page.Entries
	entries = append(entries, PageEntry{})
	copy(entries[leaf.idx+1:], entries[leaf.idx:])
	entries[leaf.idx] = entry
	leaf.page.Entries = entries

	dirty := map[Uid]bool{leaf.pageNo: true}

	if _, err := t.codec.EncodePage(t.kd, leaf.page); err == nil {
		t.releasePath(path, dirty)
		t.kd.bumpVersion()
		return nil
	}

	// overflow: split leaf and propagate the separator key upward
	if err := t.splitAndPropagate(path, len(path)-1, dirty); err != nil {
		t.releasePath(path, dirty)
		return err
	}
	t.releasePath(path, dirty)
	t.kd.bumpVersion()
	return nil
}

// InsertTail is Insert generalized for full-text indexes, which carry a
// LeafTail (weight, or a negative subkey count pointing at an FT2
// subtree) on the leaf entry instead of a bare RecRef. On a duplicate
// word whose existing entry already has a tail, the two entries are
// promoted into an FT2 subtree keyed by RecRef alone (spec.md §4.5 step 4).
func (t *BTree) InsertTail(key []byte, ref RecRef, tail *LeafTail) error {
	t.rootLock.WriteLock()
	defer t.rootLock.WriteRelease()

	if t.root() == RootDisabled || t.root() == 0 {
		pageNo, err := t.file.AllocatePage()
		if err != nil {
			return err
		}
		leaf := newKeyPage(0)
		leaf.Entries = append(leaf.Entries, PageEntry{Key: append([]byte{}, key...), Ref: ref, Tail: tail})
		t.cache.InstallNew(t.file, pageNo, leaf)
		t.setRoot(pageNo)
		t.kd.bumpVersion()
		return nil
	}

	path, err := t.descend(key, ref)
	if err != nil {
		t.releasePath(path, nil)
		return err
	}
	leaf := path[len(path)-1]
	dirty := map[Uid]bool{leaf.pageNo: true}

	if leaf.idx < len(leaf.page.Entries) {
		existing := leaf.page.Entries[leaf.idx]
		if t.kd.compareKeys(existing.Key, key) == 0 {
			if err := t.promoteToFT2(leaf.page, leaf.idx, ref, tail); err != nil {
				t.releasePath(path, dirty)
				return err
			}
			t.releasePath(path, dirty)
			t.kd.bumpVersion()
			return nil
		}
	}

	entry := PageEntry{Key: append([]byte{}, key...), Ref: ref, Tail: tail}
	entries := leaf.page.Entries
	entries = append(entries, PageEntry{})
	copy(entries[leaf.idx+1:], entries[leaf.idx:])
	entries[leaf.idx] = entry
	leaf.page.Entries = entries

	if _, err := t.codec.EncodePage(t.kd, leaf.page); err == nil {
		t.releasePath(path, dirty)
		t.kd.bumpVersion()
		return nil
	}
	if err := t.splitAndPropagate(path, len(path)-1, dirty); err != nil {
		t.releasePath(path, dirty)
		return err
	}
	t.releasePath(path, dirty)
	t.kd.bumpVersion()
	return nil
}

// promoteToFT2 replaces a single-word leaf entry that just collided with
// a second document reference into a subtree keyed by RecRef alone: the
// first FT2 page holds both refs, and the parent entry's tail becomes a
// negative subkey count pointing at its root (spec.md §4.5 step 4).
func (t *BTree) promoteToFT2(page *KeyPage, idx int, newRef RecRef, newTail *LeafTail) error {
	existing := page.Entries[idx]

	if existing.Tail != nil && !existing.Tail.HasWeight {
		sub, latch, err := t.cache.Fetch(t.file, existing.Tail.SubRoot, ft2KeyDef)
		if err != nil {
			return err
		}
		defer t.cache.Release(latch, true)
		ins := ft2KeyDef.findSlot(sub, ft2Key(newRef), newRef)
		entries := sub.Entries
		entries = append(entries, PageEntry{})
		copy(entries[ins+1:], entries[ins:])
		entries[ins] = PageEntry{Key: ft2Key(newRef), Ref: newRef, Tail: newTail}
		sub.Entries = entries
		existing.Tail.SubCount++
		page.Entries[idx] = existing
		return nil
	}

	ft2PageNo, err := t.file.AllocatePage()
	if err != nil {
		return err
	}
	ft2 := newKeyPage(0)
	ft2.Entries = []PageEntry{
		{Key: ft2Key(existing.Ref), Ref: existing.Ref, Tail: existing.Tail},
		{Key: ft2Key(newRef), Ref: newRef, Tail: newTail},
	}
	if ft2.Entries[0].Ref > ft2.Entries[1].Ref {
		ft2.Entries[0], ft2.Entries[1] = ft2.Entries[1], ft2.Entries[0]
	}
	t.cache.InstallNew(t.file, ft2PageNo, ft2)

	page.Entries[idx] = PageEntry{
		Key: existing.Key,
		Ref: existing.Ref,
		Tail: &LeafTail{
			SubCount: 2,
			SubRoot:  ft2PageNo,
		},
	}
	return nil
}

// ft2KeyDef is the fixed schema of an FT2 subtree page: entries keyed by
// an 8-byte big-endian RecRef, each still carrying its own per-document
// weight in a LeafTail so promotion to FT2 doesn't lose ranking
// information (the FullText flag is what makes EncodePage/DecodePage
// serialize that tail at all).
var ft2KeyDef = &KeyDef{
	Segments:    []KeySegment{{Type: SegBinary, Length: RefSize}},
	BlockLength: 4096,
	MaxLength:   RefSize,
	Flags:       NoSame | FullText,
}

// ft2Key packs a RecRef into the length-prefixed logical key shape
// compareKeys/readLogicalSegment expect, matching ft2KeyDef's single
// SegBinary segment.
func ft2Key(ref RecRef) []byte {
	return packLogicalKey(ft2KeyDef, [][]byte{ref.bytes()})
}

// DeleteWord removes one document's contribution to a full-text word
// key: if the word is still a plain weighted entry it is dropped
// entirely, otherwise ref is removed from its FT2 subtree (spec.md
// §4.5's update-diff path runs this for every word present in the old
// record but absent, or reweighed, in the new one). An FT2 subtree is
// never demoted back to a plain weighted entry: the word keeps its FT2
// tail even once its count drops to 1 or 0.
func (t *BTree) DeleteWord(key []byte, ref RecRef) error {
	t.rootLock.WriteLock()
	defer t.rootLock.WriteRelease()

	if t.root() == RootDisabled || t.root() == 0 {
		return ErrNotFound
	}
	path, err := t.descend(key, ref)
	if err != nil {
		t.releasePath(path, nil)
		return err
	}
	leaf := path[len(path)-1]
	if leaf.idx >= len(leaf.page.Entries) || t.kd.compareKeys(leaf.page.Entries[leaf.idx].Key, key) != 0 {
		t.releasePath(path, nil)
		return ErrNotFound
	}
	e := leaf.page.Entries[leaf.idx]
	dirty := map[Uid]bool{leaf.pageNo: true}

	if e.Tail == nil || e.Tail.HasWeight {
		if e.Ref != ref {
			t.releasePath(path, nil)
			return ErrNotFound
		}
		entries := leaf.page.Entries
		entries = append(entries[:leaf.idx], entries[leaf.idx+1:]...)
		leaf.page.Entries = entries
		if len(entries) > 0 || len(path) == 1 {
			t.releasePath(path, dirty)
			t.kd.bumpVersion()
			return nil
		}
		if err := t.collapseEmpty(path, len(path)-1, dirty); err != nil {
			t.releasePath(path, dirty)
			return err
		}
		t.releasePath(path, dirty)
		t.kd.bumpVersion()
		return nil
	}

	sub, latch, err := t.cache.Fetch(t.file, e.Tail.SubRoot, ft2KeyDef)
	if err != nil {
		t.releasePath(path, nil)
		return err
	}
	pos := ft2KeyDef.findSlot(sub, ft2Key(ref), ref)
	if pos >= len(sub.Entries) || sub.Entries[pos].Ref != ref {
		t.cache.Release(latch, false)
		t.releasePath(path, nil)
		return ErrNotFound
	}
	sub.Entries = append(sub.Entries[:pos], sub.Entries[pos+1:]...)
	e.Tail.SubCount--
	leaf.page.Entries[leaf.idx] = e
	t.cache.Release(latch, true)
	t.releasePath(path, dirty)
	t.kd.bumpVersion()
	return nil
}

// SearchEntry is Search generalized to return the full PageEntry,
// including its LeafTail, for full-text callers.
func (t *BTree) SearchEntry(key []byte, ref RecRef) (entry PageEntry, ok bool, err error) {
	t.rootLock.ReadLock()
	defer t.rootLock.ReadRelease()
	if t.root() == RootDisabled {
		return PageEntry{}, false, nil
	}
	path, err := t.descend(key, ref)
	defer t.releasePath(path, nil)
	if err != nil {
		return PageEntry{}, false, err
	}
	leaf := path[len(path)-1]
	if leaf.idx >= len(leaf.page.Entries) {
		return PageEntry{}, false, nil
	}
	e := leaf.page.Entries[leaf.idx]
	if t.kd.compareKeys(e.Key, key) == 0 {
		return e, true, nil
	}
	return PageEntry{}, false, nil
}

// SearchFirstEntry is SearchFirst generalized to return the full PageEntry.
func (t *BTree) SearchFirstEntry() (entry PageEntry, ok bool, err error) {
	t.rootLock.ReadLock()
	defer t.rootLock.ReadRelease()
	if t.root() == RootDisabled {
		return PageEntry{}, false, nil
	}
	pageNo := t.root()
	for {
		page, latch, err := t.cache.Fetch(t.file, pageNo, t.kd)
		if err != nil {
			return PageEntry{}, false, err
		}
		if page.isLeaf() {
			defer t.cache.Release(latch, false)
			if len(page.Entries) == 0 {
				return PageEntry{}, false, nil
			}
			return page.Entries[0], true, nil
		}
		next := page.Right
		if len(page.Entries) > 0 {
			next = page.Entries[0].Child
		}
		t.cache.Release(latch, false)
		pageNo = next
	}
}

// SearchNextEntry is SearchNext generalized to return the full PageEntry.
func (t *BTree) SearchNextEntry(key []byte, ref RecRef) (entry PageEntry, ok bool, err error) {
	t.rootLock.ReadLock()
	defer t.rootLock.ReadRelease()
	if t.root() == RootDisabled {
		return PageEntry{}, false, nil
	}
	path, err := t.descend(key, ref)
	if err != nil {
		t.releasePath(path, nil)
		return PageEntry{}, false, err
	}
	leaf := path[len(path)-1]
	slot := leaf.idx
	if slot < len(leaf.page.Entries) && t.kd.compareKeys(leaf.page.Entries[slot].Key, key) == 0 {
		slot++
	}
	if slot < len(leaf.page.Entries) {
		e := leaf.page.Entries[slot]
		t.releasePath(path, nil)
		return e, true, nil
	}
	right := leaf.page.Right
	t.releasePath(path, nil)
	if right == 0 {
		return PageEntry{}, false, nil
	}
	page, latch, err := t.cache.Fetch(t.file, right, t.kd)
	if err != nil {
		return PageEntry{}, false, err
	}
	defer t.cache.Release(latch, false)
	if len(page.Entries) == 0 {
		return PageEntry{}, false, nil
	}
	return page.Entries[0], true, nil
}

// FT2Entries returns the PageEntries (RecRef + per-document weight
// tail) stored under an FT2 subtree root, for full-text callers
// resolving a promoted word's full posting list.
func (t *BTree) FT2Entries(subRoot Uid) ([]PageEntry, error) {
	page, latch, err := t.cache.Fetch(t.file, subRoot, ft2KeyDef)
	if err != nil {
		return nil, err
	}
	defer t.cache.Release(latch, false)
	out := make([]PageEntry, len(page.Entries))
	copy(out, page.Entries)
	return out, nil
}

// SeekEntry returns the first entry whose key is >= key (unlike
// SearchEntry, key need not already be present), for prefix/truncation
// scans over full-text word keys.
func (t *BTree) SeekEntry(key []byte) (entry PageEntry, ok bool, err error) {
	t.rootLock.ReadLock()
	defer t.rootLock.ReadRelease()
	if t.root() == RootDisabled || t.root() == 0 {
		return PageEntry{}, false, nil
	}
	path, err := t.descend(key, 0)
	if err != nil {
		t.releasePath(path, nil)
		return PageEntry{}, false, err
	}
	leaf := path[len(path)-1]
	if leaf.idx < len(leaf.page.Entries) {
		e := leaf.page.Entries[leaf.idx]
		t.releasePath(path, nil)
		return e, true, nil
	}
	right := leaf.page.Right
	t.releasePath(path, nil)
	if right == 0 {
		return PageEntry{}, false, nil
	}
	page, latch, err := t.cache.Fetch(t.file, right, t.kd)
	if err != nil {
		return PageEntry{}, false, err
	}
	defer t.cache.Release(latch, false)
	if len(page.Entries) == 0 {
		return PageEntry{}, false, nil
	}
	return page.Entries[0], true, nil
}

// splitAndPropagate splits path[level].page in two and inserts the
// separator into path[level-1] (or creates a new root), recursing
// upward while pages keep overflowing — the generalized analogue of the
// teacher's splitPage/splitKeys/splitRoot trio.
func (t *BTree) splitAndPropagate(path []pathStep, level int, dirty map[Uid]bool) error {
	step := path[level]
	half := t.codec.findHalfPos(t.kd, step.page)
	if half <= 0 || half >= len(step.page.Entries) {
		half = len(step.page.Entries) / 2
	}

	rightEntries := append([]PageEntry{}, step.page.Entries[half:]...)
	leftEntries := append([]PageEntry{}, step.page.Entries[:half]...)

	rightPageNo, err := t.file.AllocatePage()
	if err != nil {
		return err
	}
	rightPage := newKeyPage(step.page.Lvl)
	rightPage.Entries = rightEntries
	rightPage.Right = step.page.Right

	step.page.Entries = leftEntries
	step.page.Right = rightPageNo
	dirty[step.pageNo] = true

	t.cache.InstallNew(t.file, rightPageNo, rightPage)
	dirty[rightPageNo] = true

	sepKey := append([]byte{}, leftEntries[len(leftEntries)-1].Key...)

	if level == 0 {
		// new root: left's old content stays at step.pageNo (unchanged
		// page number), right is the freshly split half. The new root
		// gets one entry (sepKey -> left) plus Right -> right.
		newRootNo, err := t.file.AllocatePage()
		if err != nil {
			return err
		}
		newRoot := newKeyPage(step.page.Lvl + 1)
		newRoot.Entries = []PageEntry{{Key: sepKey, Child: step.pageNo}}
		newRoot.Right = rightPageNo
		t.cache.InstallNew(t.file, newRootNo, newRoot)
		dirty[newRootNo] = true
		t.setRoot(newRootNo)
		return nil
	}

	parent := path[level-1]
	idx := parent.idx
	entries := parent.page.Entries
	entries = append(entries, PageEntry{})
	copy(entries[idx+1:], entries[idx:])
	entries[idx] = PageEntry{Key: sepKey, Child: step.pageNo}
	// the entry previously at idx (if any) pointed at step.pageNo too
	// (we're inserting the new separator for the left half immediately
	// before whatever already routed through this subtree); if idx was
	// within range the following entry/Right still correctly targets
	// rightPageNo because Child/Right values are untouched above it.
	if idx+1 < len(entries) && entries[idx+1].Child == step.pageNo {
		entries[idx+1].Child = rightPageNo
	} else if idx+1 == len(entries) {
		parent.page.Right = rightPageNo
	}
	parent.page.Entries = entries
	dirty[parent.pageNo] = true

	if _, err := t.codec.EncodePage(t.kd, parent.page); err == nil {
		return nil
	}
	return t.splitAndPropagate(path, level-1, dirty)
}

// Delete removes key→ref from the tree (spec.md §4.2 delete). Underflow:
// an emptied non-root page is unlinked from its parent and freed
// (collapsing the tree when that empties the root's last child); a page
// left partly filled, however far below half capacity, is not borrowed
// into, merged or otherwise rebalanced.
func (t *BTree) Delete(key []byte, ref RecRef) error {
	t.rootLock.WriteLock()
	defer t.rootLock.WriteRelease()

	if t.root() == RootDisabled || t.root() == 0 {
		return ErrNotFound
	}

	path, err := t.descend(key, ref)
	if err != nil {
		t.releasePath(path, nil)
		return err
	}
	leaf := path[len(path)-1]
	if leaf.idx >= len(leaf.page.Entries) || t.kd.compareKeys(leaf.page.Entries[leaf.idx].Key, key) != 0 {
		t.releasePath(path, nil)
		return ErrNotFound
	}

	entries := leaf.page.Entries
	entries = append(entries[:leaf.idx], entries[leaf.idx+1:]...)
	leaf.page.Entries = entries
	dirty := map[Uid]bool{leaf.pageNo: true}

	if len(entries) > 0 || len(path) == 1 {
		t.releasePath(path, dirty)
		t.kd.bumpVersion()
		return nil
	}

	// leaf emptied and isn't the root: remove it from its parent,
	// recursing upward if that empties ancestors too.
	if err := t.collapseEmpty(path, len(path)-1, dirty); err != nil {
		t.releasePath(path, dirty)
		return err
	}
	t.releasePath(path, dirty)
	t.kd.bumpVersion()
	return nil
}

func (t *BTree) collapseEmpty(path []pathStep, level int, dirty map[Uid]bool) error {
	step := path[level]
	_ = t.file.FreePage(step.pageNo)
	dirty[step.pageNo] = false

	if level == 0 {
		t.setRoot(RootDisabled)
		return nil
	}

	parent := path[level-1]
	entries := parent.page.Entries
	// find and remove the entry whose Child (or the implicit Right) is step.pageNo
	removed := false
	for i, e := range entries {
		if e.Child == step.pageNo {
			entries = append(entries[:i], entries[i+1:]...)
			removed = true
			break
		}
	}
	if !removed && parent.page.Right == step.pageNo {
		if len(entries) > 0 {
			parent.page.Right = entries[len(entries)-1].Child
			entries = entries[:len(entries)-1]
		} else {
			parent.page.Right = 0
		}
	}
	parent.page.Entries = entries
	dirty[parent.pageNo] = true

	if len(entries) > 0 || parent.page.Right != 0 {
		return nil
	}
	return t.collapseEmpty(path, level-1, dirty)
}

// ValidateOrder walks the tree in-order and reports an error when a key
// compares smaller than its predecessor (spec.md §8 property 1); equal
// adjacent keys are not reported, and the RecRef order among them is not
// checked. Used by tests and by CheckUtil's -c check mode.
func (t *BTree) ValidateOrder() error {
	key, ref, ok, err := t.SearchFirst()
	if err != nil || !ok {
		return err
	}
	count := 0
	for {
		nk, nr, ok, err := t.SearchNext(key, ref)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if t.kd.compareKeys(nk, key) < 0 {
			return fmt.Errorf("ftidx: order violated at entry %d: %w", count, ErrCorrupt)
		}
		key, ref = nk, nr
		count++
		if count > 10_000_000 {
			return fmt.Errorf("ftidx: scan did not terminate: %w", ErrCorrupt)
		}
	}
}
