package ftidx

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/bits-and-blooms/bitset"
)

// StateInfo is the per-table persisted header, spec.md §3/§6. The
// enabled-index mask (`key_map`) uses a real bitset rather than a plain
// uint64 so the table isn't capped at 64 indexes, wiring
// github.com/bits-and-blooms/bitset the way huhu99-BumbleBase's go.mod
// pulls it in for an identical "which slots are live" role.
type StateInfo struct {
	Roots          []Uid // per-index root page number, HA_OFFSET_ERROR sentinel when disabled
	DeleteChain    map[int]Uid // per-block-size delete chain head
	KeyFileLength  int64
	DataFileLength int64
	Records        uint64
	Deleted        uint64
	SplitCount     uint64
	OpenCount      uint32
	AutoIncrement  uint64
	Checksum       uint64
	KeyMap         *bitset.BitSet
	Unique         uint64
	UpdateCount    uint64

	// Cardinality is the supplemented per-key-part distinct-value
	// estimate populated by ftchk's -a analyze pass (analyzeCardinality).
	Cardinality [][]uint64

	Crashed bool
}

// RootDisabled is the sentinel root value for a disabled index,
// standing in for the original HA_OFFSET_ERROR.
const RootDisabled Uid = ^Uid(0)

func NewStateInfo(numKeys int) *StateInfo {
	roots := make([]Uid, numKeys)
	for i := range roots {
		roots[i] = RootDisabled
	}
	return &StateInfo{
		Roots:       roots,
		DeleteChain: make(map[int]Uid),
		KeyMap:      bitset.New(uint(numKeys)),
	}
}

func (s *StateInfo) EnableIndex(i int)  { s.KeyMap.Set(uint(i)) }
func (s *StateInfo) DisableIndex(i int) { s.KeyMap.Clear(uint(i)) }
func (s *StateInfo) IndexEnabled(i int) bool {
	return s.KeyMap.Test(uint(i))
}

func writeUint64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// WriteTo serializes the state header the way Coordinator.WriteState
// persists it on the last unlock (spec.md §6 "state header", §4.9
// mi_state_info_write): every counter, the roots array, the delete
// chain, and the key_map bitset, in a fixed field order private to this
// repo (the spec names the fields, not a byte layout).
func (s *StateInfo) WriteTo(w io.Writer) (int64, error) {
	var n int64
	write := func(v uint64) error {
		if err := writeUint64(w, v); err != nil {
			return err
		}
		n += 8
		return nil
	}

	if err := write(uint64(len(s.Roots))); err != nil {
		return n, err
	}
	for _, r := range s.Roots {
		if err := write(uint64(r)); err != nil {
			return n, err
		}
	}

	if err := write(uint64(len(s.DeleteChain))); err != nil {
		return n, err
	}
	for k, v := range s.DeleteChain {
		if err := write(uint64(int64(k))); err != nil {
			return n, err
		}
		if err := write(uint64(v)); err != nil {
			return n, err
		}
	}

	for _, v := range []uint64{
		uint64(s.KeyFileLength), uint64(s.DataFileLength),
		s.Records, s.Deleted, s.SplitCount,
		uint64(s.OpenCount), s.AutoIncrement, s.Checksum,
		s.Unique, s.UpdateCount,
	} {
		if err := write(v); err != nil {
			return n, err
		}
	}

	if err := write(uint64(len(s.Cardinality))); err != nil {
		return n, err
	}
	for _, part := range s.Cardinality {
		if err := write(uint64(len(part))); err != nil {
			return n, err
		}
		for _, v := range part {
			if err := write(v); err != nil {
				return n, err
			}
		}
	}

	crashed := uint64(0)
	if s.Crashed {
		crashed = 1
	}
	if err := write(crashed); err != nil {
		return n, err
	}

	keyMap := s.KeyMap
	if keyMap == nil {
		keyMap = bitset.New(0)
	}
	mapBytes, err := keyMap.MarshalBinary()
	if err != nil {
		return n, fmt.Errorf("ftidx: marshal key_map: %w", err)
	}
	if err := write(uint64(len(mapBytes))); err != nil {
		return n, err
	}
	m, err := w.Write(mapBytes)
	n += int64(m)
	return n, err
}

// ReadFrom is WriteTo's inverse, used when reopening a table to recover
// the last-persisted state header (spec.md §4.9 "reload the state
// header").
func (s *StateInfo) ReadFrom(r io.Reader) (int64, error) {
	var n int64
	read := func() (uint64, error) {
		v, err := readUint64(r)
		if err == nil {
			n += 8
		}
		return v, err
	}

	numRoots, err := read()
	if err != nil {
		return n, err
	}
	s.Roots = make([]Uid, numRoots)
	for i := range s.Roots {
		v, err := read()
		if err != nil {
			return n, err
		}
		s.Roots[i] = Uid(v)
	}

	numChain, err := read()
	if err != nil {
		return n, err
	}
	s.DeleteChain = make(map[int]Uid, numChain)
	for i := uint64(0); i < numChain; i++ {
		k, err := read()
		if err != nil {
			return n, err
		}
		v, err := read()
		if err != nil {
			return n, err
		}
		s.DeleteChain[int(int64(k))] = Uid(v)
	}

	fields := make([]uint64, 10)
	for i := range fields {
		v, err := read()
		if err != nil {
			return n, err
		}
		fields[i] = v
	}
	s.KeyFileLength = int64(fields[0])
	s.DataFileLength = int64(fields[1])
	s.Records = fields[2]
	s.Deleted = fields[3]
	s.SplitCount = fields[4]
	s.OpenCount = uint32(fields[5])
	s.AutoIncrement = fields[6]
	s.Checksum = fields[7]
	s.Unique = fields[8]
	s.UpdateCount = fields[9]

	numCard, err := read()
	if err != nil {
		return n, err
	}
	s.Cardinality = make([][]uint64, numCard)
	for i := range s.Cardinality {
		numParts, err := read()
		if err != nil {
			return n, err
		}
		part := make([]uint64, numParts)
		for j := range part {
			v, err := read()
			if err != nil {
				return n, err
			}
			part[j] = v
		}
		s.Cardinality[i] = part
	}

	crashed, err := read()
	if err != nil {
		return n, err
	}
	s.Crashed = crashed != 0

	mapLen, err := read()
	if err != nil {
		return n, err
	}
	mapBytes := make([]byte, mapLen)
	if _, err := io.ReadFull(r, mapBytes); err != nil {
		return n, err
	}
	n += int64(mapLen)
	s.KeyMap = bitset.New(0)
	if err := s.KeyMap.UnmarshalBinary(mapBytes); err != nil {
		return n, fmt.Errorf("ftidx: unmarshal key_map: %w", err)
	}
	return n, nil
}
