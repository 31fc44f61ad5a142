package ftidx

import (
	"bytes"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// SegType is the type tag of one KeySegment, mirroring the column
// families a MyISAM-style key definition packs: fixed binary/text,
// variable-length text, the fixed integer families, and float/double.
type SegType int

const (
	SegText SegType = iota
	SegVarText
	SegBinary
	SegInt8
	SegInt16
	SegInt32
	SegInt64
	SegFloat
	SegDouble
	SegBlobPart
)

// Packing flags for a KeySegment, from spec.md §4.1's packing-rule table.
type PackFlag uint16

const (
	SpacePack PackFlag = 1 << iota
	VarLengthPart
	BlobPart
	PackKey
	BinaryPackKey
	NullPart
	ReverseSort
)

// KeySegment describes one column's contribution to a composite key.
type KeySegment struct {
	Type     SegType
	Length   int // declared byte length (max length for variable parts)
	Nullable bool
	NullBit  uint8 // bit position of the null flag within the record's null bitmap
	Flags    PackFlag
	Collate  Collation
}

func (s *KeySegment) hasLengthPrefix() bool {
	return s.Flags&(SpacePack|BlobPart|VarLengthPart) != 0
}

func (s *KeySegment) packed() bool {
	return s.Flags&(PackKey|BinaryPackKey) != 0
}

// KeyDef flags, carried from spec.md §3.
type KeyDefFlag uint16

const (
	Unique KeyDefFlag = 1 << iota
	FullText
	Spatial
	AutoKey
	NoSame
)

// KeyDef is the schema of one index.
type KeyDef struct {
	Name        string
	Segments    []KeySegment
	Flags       KeyDefFlag
	BlockLength int // page size for this index, one of 1024,2048,4096,8192,16384
	MaxLength   int // upper bound on packed key length, for CORRUPT_PAGE checks

	// version is bumped on every write to this index's tree; readers
	// compare their cached value to detect a stale retained position
	// (spec.md §4.2 "Version counter").
	version uint64
}

func (kd *KeyDef) bumpVersion() { kd.version++ }

func (kd *KeyDef) underflowBlockLength() int {
	return kd.BlockLength / 2
}

// RecRef is an opaque, fixed-width record identifier whose only built-in
// meaning is the sentinel "absent" value and ordering as an unsigned
// integer, used as the final tie-break component of a key (spec.md §3
// invariant 2) and the payload stored in every leaf slot.
type RecRef uint64

// RefAbsent is the sentinel RecRef denoting "no record".
const RefAbsent RecRef = ^RecRef(0)

func (r RecRef) bytes() []byte {
	var b [RefSize]byte
	putUint64(b[:], uint64(r))
	return b[:]
}

func recRefFromBytes(b []byte) RecRef {
	return RecRef(getUint64(b))
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * (7 - i)))
	}
}

func getUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// Collation is a comparison handle for the text segments of a key. The
// default collation is a plain byte-wise compare (BINARY in the spec's
// vocabulary); CollateText wires golang.org/x/text/collate for
// locale-aware segments, and stopword/NLQ code falls back to Binary
// whenever the underlying encoding is UCS2/UTF16/UTF32 (spec.md §4.4).
type Collation interface {
	Compare(a, b []byte) int
	Name() string
}

type binaryCollation struct{}

func (binaryCollation) Compare(a, b []byte) int { return bytes.Compare(a, b) }
func (binaryCollation) Name() string            { return "binary" }

// Binary is the default byte-wise collation.
var Binary Collation = binaryCollation{}

// textCollation wraps golang.org/x/text/collate for a locale-aware text
// segment (spec.md §4.4's non-binary key collations). Compare treats its
// inputs as UTF-8; the stopword/NLQ path falls back to Binary itself
// whenever the underlying column encoding is UCS2/UTF16/UTF32, per
// §4.4's "stopword comparison collation falls back to latin1" rule —
// textCollation only ever backs genuinely UTF-8 segments.
type textCollation struct {
	tag  language.Tag
	coll *collate.Collator
	name string
}

// CollateText returns a Collation backed by golang.org/x/text/collate
// for the given BCP 47 locale tag (e.g. "en", "de", "sv"), named the way
// MyISAM names its collations ("<tag>_text").
func CollateText(tag string) Collation {
	t := language.Make(tag)
	return &textCollation{tag: t, coll: collate.New(t), name: tag + "_text"}
}

func (c *textCollation) Compare(a, b []byte) int { return c.coll.Compare(a, b) }
func (c *textCollation) Name() string            { return c.name }

// CompareSegment compares two encoded segment values respecting its flags.
func (s *KeySegment) CompareSegment(a, b []byte) int {
	c := s.Collate
	if c == nil {
		c = Binary
	}
	cmp := c.Compare(a, b)
	if s.Flags&ReverseSort != 0 {
		cmp = -cmp
	}
	return cmp
}
