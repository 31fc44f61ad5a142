package ftidx

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// BLTLockMode names the five lock modes (plus LockNone) a page latch can be requested in,
// carried over from the teacher's latchmgr.go BLTLockMode enum. LockParent
// serializes posting or changing a node's fence key; LockAccess is the
// short-lived "may I touch this latch" handoff used while chaining locks
// root-to-leaf.
type BLTLockMode int

const (
	LockNone BLTLockMode = iota
	LockAccess
	LockDelete
	LockRead
	LockWrite
	LockParent
)

// BLTRWLock is a ticket-ordered, writer-preference reader/writer lock.
// Writers queue FIFO on a ticket counter; once a writer's ticket is being
// served, no new reader can enter until the writer releases. Grounded on
// hmarui66-blink-tree-go's latchmgr.go phase-fair lock (spin via
// runtime.Gosched rather than a mutex, so it composes with the latch
// table's hash-chain spinlocks without risking priority inversion).
type BLTRWLock struct {
	ticket        uint32
	serving       uint32
	writerPending uint32
	readers       int32
}

func (l *BLTRWLock) WriteLock() {
	ticket := atomic.AddUint32(&l.ticket, 1) - 1
	for atomic.LoadUint32(&l.serving) != ticket {
		runtime.Gosched()
	}
	atomic.StoreUint32(&l.writerPending, 1)
	for atomic.LoadInt32(&l.readers) != 0 {
		runtime.Gosched()
	}
}

func (l *BLTRWLock) WriteRelease() {
	atomic.StoreUint32(&l.writerPending, 0)
	atomic.AddUint32(&l.serving, 1)
}

func (l *BLTRWLock) ReadLock() {
	for {
		for atomic.LoadUint32(&l.writerPending) != 0 {
			runtime.Gosched()
		}
		atomic.AddInt32(&l.readers, 1)
		if atomic.LoadUint32(&l.writerPending) == 0 {
			return
		}
		atomic.AddInt32(&l.readers, -1)
	}
}

func (l *BLTRWLock) ReadRelease() {
	atomic.AddInt32(&l.readers, -1)
}

// SpinLatch protects one hash-table bucket chain in the key cache. It
// supports a shared mode for bucket scans and an exclusive mode for
// insert/evict, matching hmarui66's latchmgr.go SpinLatch.
type SpinLatch struct {
	mu        sync.Mutex
	exclusive bool
	share     uint16
}

func (s *SpinLatch) SpinReadLock() {
	for {
		s.mu.Lock()
		if !s.exclusive {
			s.share++
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		runtime.Gosched()
	}
}

func (s *SpinLatch) SpinReleaseRead() {
	s.mu.Lock()
	s.share--
	s.mu.Unlock()
}

func (s *SpinLatch) SpinWriteLock() {
	for {
		if s.SpinWriteTry() {
			return
		}
		runtime.Gosched()
	}
}

func (s *SpinLatch) SpinWriteTry() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exclusive || s.share > 0 {
		return false
	}
	s.exclusive = true
	return true
}

func (s *SpinLatch) SpinReleaseWrite() {
	s.mu.Lock()
	s.exclusive = false
	s.mu.Unlock()
}

// HashEntry is one bucket head in the key cache's page hash table.
type HashEntry struct {
	slot  uint
	latch SpinLatch
}

// PageLatch is the per-cached-page control block: the pin count, the
// three independent lock faces (readWr for data, access for the short
// root-to-leaf handoff, parent for fence-key posting), and hash-chain
// links. Grounded on hmarui66's LatchSet / the teacher's Latchs.
type PageLatch struct {
	pageNo Uid
	readWr BLTRWLock
	access BLTRWLock
	parent BLTRWLock

	entry uint
	next  uint
	prev  uint
	split uint

	pin   uint32
	dirty bool
}
