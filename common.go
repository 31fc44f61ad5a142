package ftidx

// Uid identifies a page number within an index file. Grounded on
// hmarui66-blink-tree-go's common.go (`type uid uint64`).
type Uid uint64

const (
	// RefSize is the width in bytes of a packed RecRef value on a page,
	// playing the role of the teacher's fixed BtId constant but sized
	// for the spec's RecRef (file offset + optional duplicate sequence).
	RefSize = 8

	BtMaxBits = 24
	BtMinBits = 9

	// RootPage and LeafPage mirror the teacher's fixed bootstrap layout:
	// page 0 is the allocation/free-chain page, page 1 the root, page 2
	// the first (and initially only) leaf.
	AllocPage Uid = 0
	RootPage  Uid = 1
	LeafPage  Uid = 2
	MinLvl    uint8 = 2

	hashTableEntryChainLen = 16
)

// clockBit marks a pinned latch as a recent-use victim candidate during
// clock-sweep eviction (KeyCache.install and KeyCache.Release in keycache.go).
const clockBit = uint32(0x8000)

// decrement is -1 as a uint32, used with atomic.AddUint32 the same way
// the teacher's bufmgr.go does (`DECREMENT = ^uint32(0)`).
const decrement = ^uint32(0)
