package ftidx

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/spaolacci/murmur3"
)

// FlushPolicy selects how KeyCache.Flush disposes of dirty buffers,
// spec.md §4.3.
type FlushPolicy int

const (
	FlushRelease FlushPolicy = iota
	FlushKeep
	FlushIgnoreChanged
	FlushForceWrite
)

type pageKey struct {
	file   *KeyFile
	pageNo Uid
}

func (k pageKey) hash() uint64 {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:8], uint64(uintptrOf(k.file)))
	binary.LittleEndian.PutUint64(b[8:16], uint64(k.pageNo))
	return murmur3.Sum64(b[:])
}

// cacheSlot is the cached, decoded form of one page plus its PageLatch.
// Grounded on the teacher's bufmgr.go (latchs[]/pagePool[] parallel
// arrays), generalized so one pool serves every open KeyFile instead of
// one fixed buffer manager per tree.
type cacheSlot struct {
	key   pageKey
	page  *KeyPage
	latch PageLatch
}

// KeyCache is the pinned, shared page cache described in spec.md §4.3:
// fetch/release/flush over buffers identified by (file, page number),
// with a clock-sweep victim search when the pool is full. Unlike the
// teacher's single-tree BufMgr, one KeyCache instance is shared by every
// open KeyFile/KeyDef in a process, matching "the key cache is
// process-wide and internally synchronized" (spec.md §5).
type KeyCache struct {
	mu sync.Mutex // guards hashTable bucket-chain linkage during install/evict

	capacity  uint
	hashSize  uint
	hashTable []HashEntry
	slots     []cacheSlot
	deployed  uint32
	victim    uint32
	codec     *PageCodec
}

// NewKeyCache allocates a cache able to pin up to capacity pages at
// once. capacity must be at least hashTableEntryChainLen to keep the
// hash table's average chain length bounded, mirroring the teacher's
// NewBufMgr sanity check.
func NewKeyCache(capacity uint, codec *PageCodec) *KeyCache {
	if capacity < hashTableEntryChainLen {
		capacity = hashTableEntryChainLen
	}
	hashSize := capacity / hashTableEntryChainLen
	if hashSize == 0 {
		hashSize = 1
	}
	return &KeyCache{
		capacity:  capacity,
		hashSize:  hashSize,
		hashTable: make([]HashEntry, hashSize),
		slots:     make([]cacheSlot, capacity+1), // slot 0 unused, 1-based like the teacher
		codec:     codec,
	}
}

// Fetch pins and returns the decoded page for (file, pageNo), loading it
// from the backing KeyFile on a cold miss.
func (kc *KeyCache) Fetch(file *KeyFile, pageNo Uid, kd *KeyDef) (*KeyPage, *PageLatch, error) {
	key := pageKey{file, pageNo}
	hashIdx := key.hash() % uint64(kc.hashSize)

	kc.hashTable[hashIdx].latch.SpinWriteLock()
	slot := kc.hashTable[hashIdx].slot
	for slot > 0 {
		s := &kc.slots[slot]
		if s.key == key {
			atomic.AddUint32(&s.latch.pin, 1)
			kc.hashTable[hashIdx].latch.SpinReleaseWrite()
			return s.page, &s.latch, nil
		}
		slot = s.latch.next
	}
	kc.hashTable[hashIdx].latch.SpinReleaseWrite()

	raw, err := file.readPage(pageNo)
	if err != nil {
		return nil, nil, err
	}
	page, err := kc.codec.DecodePage(kd, raw)
	if err != nil {
		return nil, nil, err
	}
	page.PageNo = pageNo

	idx := kc.install(key, page)
	return page, &kc.slots[idx].latch, nil
}

// install links a freshly loaded page into a hash bucket, growing the
// pool until capacity is reached, then falling back to a clock sweep —
// the same two-phase strategy as the teacher's PinLatch.
func (kc *KeyCache) install(key pageKey, page *KeyPage) uint {
	hashIdx := key.hash() % uint64(kc.hashSize)
	kc.hashTable[hashIdx].latch.SpinWriteLock()
	defer kc.hashTable[hashIdx].latch.SpinReleaseWrite()

	if idx := atomic.AddUint32(&kc.deployed, 1); uint(idx) < kc.capacity {
		kc.link(uint(idx), hashIdx, key, page)
		return uint(idx)
	}
	atomic.AddUint32(&kc.deployed, decrement)

	for {
		victim := uint(atomic.AddUint32(&kc.victim, 1)-1) % kc.capacity
		if victim == 0 {
			continue
		}
		s := &kc.slots[victim]
		vIdx := s.key.hash() % uint64(kc.hashSize)
		if vIdx == hashIdx {
			continue
		}
		if !kc.hashTable[vIdx].latch.SpinWriteTry() {
			continue
		}
		if s.latch.pin > 0 {
			if s.latch.pin&clockBit != 0 {
				fetchAndAndUint32(&s.latch.pin, ^clockBit)
			}
			kc.hashTable[vIdx].latch.SpinReleaseWrite()
			continue
		}
		if s.latch.dirty {
			if enc, err := kc.codec.EncodePage(s.key.file.keyDef(), s.page); err == nil {
				_ = s.key.file.writePage(s.key.pageNo, enc)
			}
		}
		kc.unlink(victim, vIdx)
		kc.link(victim, hashIdx, key, page)
		kc.hashTable[vIdx].latch.SpinReleaseWrite()
		return victim
	}
}

func (kc *KeyCache) link(slot uint, hashIdx uint64, key pageKey, page *KeyPage) {
	s := &kc.slots[slot]
	s.key = key
	s.page = page
	s.latch = PageLatch{pageNo: key.pageNo, entry: slot, pin: 1}
	s.latch.next = kc.hashTable[hashIdx].slot
	if s.latch.next > 0 {
		kc.slots[s.latch.next].latch.prev = slot
	}
	kc.hashTable[hashIdx].slot = slot
}

func (kc *KeyCache) unlink(slot uint, hashIdx uint64) {
	s := &kc.slots[slot]
	if s.latch.prev > 0 {
		kc.slots[s.latch.prev].latch.next = s.latch.next
	} else {
		kc.hashTable[hashIdx].slot = s.latch.next
	}
	if s.latch.next > 0 {
		kc.slots[s.latch.next].latch.prev = s.latch.prev
	}
}

// InstallNew registers a freshly allocated, already in-memory page (a
// new split half, or a new root) under the cache so later Fetch calls
// reuse it and Flush picks it up, without a round-trip through the
// backing file.
func (kc *KeyCache) InstallNew(file *KeyFile, pageNo Uid, page *KeyPage) *PageLatch {
	page.PageNo = pageNo
	key := pageKey{file, pageNo}
	idx := kc.install(key, page)
	kc.slots[idx].latch.dirty = true
	return &kc.slots[idx].latch
}

// Release unpins a page previously returned by Fetch, marking it dirty
// if the caller mutated it.
func (kc *KeyCache) Release(latch *PageLatch, dirty bool) {
	if dirty {
		latch.dirty = true
	}
	if latch.pin&^clockBit != 0 {
		fetchAndOrUint32(&latch.pin, clockBit)
	}
	atomic.AddUint32(&latch.pin, decrement)
}

// Flush writes back every dirty buffer belonging to file and clears its
// dirty mark. FlushRelease, FlushKeep and FlushForceWrite behave the
// same here: every dirty page is written whether pinned or not, and no
// policy evicts a page from the cache. FlushIgnoreChanged skips dirty
// pages that are currently pinned.
func (kc *KeyCache) Flush(file *KeyFile, policy FlushPolicy) error {
	for i := uint(1); i < uint(len(kc.slots)); i++ {
		s := &kc.slots[i]
		if s.key.file != file || s.page == nil {
			continue
		}
		if !s.latch.dirty {
			continue
		}
		if policy != FlushForceWrite && s.latch.pin&^clockBit != 0 && policy == FlushIgnoreChanged {
			continue
		}
		enc, err := kc.codec.EncodePage(file.keyDef(), s.page)
		if err != nil {
			return err
		}
		if err := file.writePage(s.key.pageNo, enc); err != nil {
			return err
		}
		s.latch.dirty = false
	}
	return nil
}

func uintptrOf(p *KeyFile) uintptr {
	return uintptr(unsafe.Pointer(p))
}
