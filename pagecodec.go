package ftidx

import (
	"encoding/binary"
	"fmt"
	"math"
)

// PageCodec serializes and deserializes the on-disk key page format
// described in spec.md §4.1 and §6. It decodes a whole page into an
// ordered []PageEntry on fetch and re-encodes the whole page on any
// mutation, rather than patching bytes in place: MyISAM's own prefix
// compression makes random-access slot patching awkward enough that the
// reference implementation largely rewrites affected page halves on
// split/rebalance too (mi_search.c / mi_page_tools). Decoding the full
// page up front lets BTree binary-search the in-memory entry list while
// PageCodec still owns every byte-level packing rule named in §4.1.
type PageCodec struct {
	KeyRefLength int // width in bytes of a child pointer, 1..7 per file size
}

// packLogicalKey joins a KeyDef's per-segment encoded values into the
// single byte slice KeyPage/BTree compare and store as one logical key.
// Each segment is length-delimited (1 byte if <255, else a 3-byte
// 0xFF-marked length) so compareKeys/readLogicalSegment can walk it
// without re-deriving the schema's VAR/BLOB flags.
func packLogicalKey(kd *KeyDef, segments [][]byte) []byte {
	out := make([]byte, 0, 32)
	for _, v := range segments {
		out = appendLengthPrefixed(out, v)
	}
	return out
}

// PackKey is the exported form of packLogicalKey, used by fulltext and
// any other caller outside this package that needs to build a logical
// key from its segment values (e.g. a single word plus its RecRef tie-break).
func PackKey(kd *KeyDef, segments [][]byte) []byte { return packLogicalKey(kd, segments) }

// ReadSegment is the exported form of readLogicalSegment, letting callers
// walk a packed key's length-delimited segments (e.g. recovering the
// indexed word from a full-text leaf key).
func ReadSegment(b []byte, off int) (value []byte, consumed int) {
	return readLogicalSegment(b, off)
}

func appendLengthPrefixed(out []byte, v []byte) []byte {
	if len(v) < 255 {
		out = append(out, byte(len(v)))
	} else {
		out = append(out, 0xFF)
		var lb [4]byte
		binary.BigEndian.PutUint32(lb[:], uint32(len(v)))
		out = append(out, lb[1:]...)
	}
	return append(out, v...)
}

func readLogicalSegment(b []byte, off int) (value []byte, consumed int) {
	if off >= len(b) {
		return nil, 0
	}
	l := int(b[off])
	hdr := 1
	if l == 0xFF {
		l = int(b[off+1])<<16 | int(b[off+2])<<8 | int(b[off+3])
		hdr = 4
	}
	start := off + hdr
	return b[start : start+l], hdr + l
}

// SplitSegments breaks a raw record's key column bytes into the slices
// FTIndex/callers hand to packLogicalKey, honoring NULL_PART/VAR_LENGTH
// segment shape. Simple fixed/variable segments only; blob parts are
// supplied pre-extracted by the caller.
func SplitSegments(kd *KeyDef, columns [][]byte, nullBitmap []byte) ([][]byte, error) {
	out := make([][]byte, 0, len(kd.Segments))
	for i, seg := range kd.Segments {
		if seg.Nullable && nullBitmap != nil {
			byteIdx := seg.NullBit / 8
			bit := seg.NullBit % 8
			if int(byteIdx) < len(nullBitmap) && nullBitmap[byteIdx]&(1<<bit) != 0 {
				out = append(out, nil)
				continue
			}
		}
		if i >= len(columns) {
			return nil, fmt.Errorf("ftidx: missing column for segment %d: %w", i, ErrCorrupt)
		}
		v := columns[i]
		if seg.Length > 0 && len(v) > seg.Length && seg.Flags&(VarLengthPart|BlobPart) == 0 {
			v = v[:seg.Length]
		}
		out = append(out, v)
	}
	return out, nil
}

// --- page-level encode/decode ---

// sharedPrefixLen implements the PACK_KEY / BINARY_PACK_KEY rule from
// spec.md §4.1: the byte count of the longest common prefix with the
// previous key on the page, capped at 254 so it always fits one length
// byte (a longer common prefix is shared only up to its first 254 bytes).
func sharedPrefixLen(prev, cur []byte) int {
	n := len(prev)
	if len(cur) < n {
		n = len(cur)
	}
	if n > 254 {
		n = 254
	}
	i := 0
	for i < n && prev[i] == cur[i] {
		i++
	}
	return i
}

// EncodePage writes the page body: for non-leaf pages each entry is
// preceded by a KeyRefLength-byte big-endian child pointer; for leaf
// pages entries are followed by the RecRef and, for full-text indexes,
// the LeafTail. Packable key segments (PACK_KEY/BINARY_PACK_KEY on the
// KeyDef's leading text segment) are prefix-compressed against the
// previous key on the page.
func (c *PageCodec) EncodePage(kd *KeyDef, p *KeyPage) ([]byte, error) {
	buf := make([]byte, 2, kd.BlockLength)

	packable := len(kd.Segments) > 0 && kd.Segments[0].packed()
	var prev []byte
	for _, e := range p.Entries {
		if !p.isLeaf() {
			var ref [8]byte
			binary.BigEndian.PutUint64(ref[:], uint64(e.Child))
			buf = append(buf, ref[8-c.KeyRefLength:]...)
		}

		if packable {
			shared := sharedPrefixLen(prev, e.Key)
			suffix := e.Key[shared:]
			buf = append(buf, byte(shared))
			buf = appendLengthPrefixed(buf, suffix)
		} else {
			buf = appendLengthPrefixed(buf, e.Key)
		}
		prev = e.Key

		if p.isLeaf() {
			buf = append(buf, e.Ref.bytes()...)
			if kd.Flags&FullText != 0 {
				var tb [4]byte
				if e.Tail != nil && !e.Tail.HasWeight {
					binary.BigEndian.PutUint32(tb[:], e.Tail.SubCount|0x80000000)
					buf = append(buf, tb[:]...)
					var rb [8]byte
					binary.BigEndian.PutUint64(rb[:], uint64(e.Tail.SubRoot))
					buf = append(buf, rb[:]...)
				} else {
					w := float32(0)
					if e.Tail != nil {
						w = e.Tail.Weight
					}
					binary.BigEndian.PutUint32(tb[:], float32bits(w))
					buf = append(buf, tb[:]...)
				}
			}
		}
	}

	if len(buf) > kd.BlockLength {
		return nil, fmt.Errorf("ftidx: page overflow %d > %d: %w", len(buf), kd.BlockLength, ErrCorrupt)
	}

	usedLength := uint16(len(buf))
	if !p.isLeaf() {
		usedLength |= 0x8000
	}
	binary.BigEndian.PutUint16(buf[0:2], usedLength)
	return buf, nil
}

// DecodePage is the inverse of EncodePage: PageCodec.get_key applied
// repeatedly across the page body, expanding the shared-prefix encoding
// against the running "previous key" accumulator.
func (c *PageCodec) DecodePage(kd *KeyDef, raw []byte) (*KeyPage, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("ftidx: page too short: %w", ErrCorrupt)
	}
	usedLength := binary.BigEndian.Uint16(raw[0:2])
	nonLeaf := usedLength&0x8000 != 0
	used := int(usedLength &^ 0x8000)
	if used > len(raw) {
		return nil, fmt.Errorf("ftidx: used_length %d exceeds page: %w", used, ErrCorrupt)
	}

	p := newKeyPage(0)
	if nonLeaf {
		p.Lvl = 1
	}
	packable := len(kd.Segments) > 0 && kd.Segments[0].packed()

	pos := 2
	var prev []byte
	for pos < used {
		var child Uid
		if nonLeaf {
			if pos+c.KeyRefLength > used {
				return nil, fmt.Errorf("ftidx: truncated child pointer: %w", ErrCorrupt)
			}
			var rb [8]byte
			copy(rb[8-c.KeyRefLength:], raw[pos:pos+c.KeyRefLength])
			child = Uid(binary.BigEndian.Uint64(rb[:]))
			pos += c.KeyRefLength
		}

		var key []byte
		if packable {
			if pos >= used {
				return nil, fmt.Errorf("ftidx: truncated shared-prefix byte: %w", ErrCorrupt)
			}
			shared := int(raw[pos])
			pos++
			suffix, n := readLogicalSegment(raw, pos)
			if n == 0 {
				return nil, fmt.Errorf("ftidx: truncated key suffix: %w", ErrCorrupt)
			}
			pos += n
			if shared > len(prev) {
				return nil, fmt.Errorf("ftidx: shared prefix longer than previous key: %w", ErrCorrupt)
			}
			key = append(append([]byte{}, prev[:shared]...), suffix...)
		} else {
			v, n := readLogicalSegment(raw, pos)
			if n == 0 {
				return nil, fmt.Errorf("ftidx: truncated key: %w", ErrCorrupt)
			}
			pos += n
			key = append([]byte{}, v...)
		}
		if kd.MaxLength > 0 && len(key) > kd.MaxLength {
			return nil, fmt.Errorf("ftidx: key length %d exceeds maxlength: %w", len(key), ErrCorrupt)
		}
		prev = key

		e := PageEntry{Key: key, Child: child}
		if !nonLeaf {
			if pos+RefSize > used {
				return nil, fmt.Errorf("ftidx: truncated RecRef: %w", ErrCorrupt)
			}
			e.Ref = recRefFromBytes(raw[pos : pos+RefSize])
			pos += RefSize
			if kd.Flags&FullText != 0 {
				if pos+4 > used {
					return nil, fmt.Errorf("ftidx: truncated FT tail: %w", ErrCorrupt)
				}
				tv := binary.BigEndian.Uint32(raw[pos : pos+4])
				pos += 4
				tail := &LeafTail{}
				if tv&0x80000000 != 0 {
					tail.SubCount = tv &^ 0x80000000
					if pos+8 > used {
						return nil, fmt.Errorf("ftidx: truncated FT2 root: %w", ErrCorrupt)
					}
					tail.SubRoot = Uid(binary.BigEndian.Uint64(raw[pos : pos+8]))
					pos += 8
				} else {
					tail.HasWeight = true
					tail.Weight = float32frombits(tv)
				}
				e.Tail = tail
			}
		}
		p.Entries = append(p.Entries, e)
	}
	return p, nil
}

// findHalfPos implements find_half_pos: the first entry boundary at which
// an estimate of the encoded size (key + RecRef + 2 bytes per entry)
// reaches half the block length, used by the splitter. If the estimate
// never gets there it returns half the entry count.
func (c *PageCodec) findHalfPos(kd *KeyDef, p *KeyPage) int {
	target := kd.BlockLength / 2
	acc := 2
	for i, e := range p.Entries {
		acc += len(e.Key) + RefSize + 2
		if acc >= target {
			return i + 1
		}
	}
	return len(p.Entries) / 2
}

func float32bits(f float32) uint32    { return math.Float32bits(f) }
func float32frombits(b uint32) float32 { return math.Float32frombits(b) }
