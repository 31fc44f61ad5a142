package main

import (
	"bufio"
	"os"
	"strings"

	"github.com/blinkft/ftidx"
	"github.com/blinkft/ftidx/repair"
)

// lineRecordStore is a minimal, CLI-local RecordStore/DataCompactor: one
// record per newline-terminated line, RecRef is the line's byte offset.
// record.go's own doc comment puts MyISAM's dynamic-record block format
// (headers, Huffman-compressed reads) out of scope for the core library;
// ftchk still needs *some* concrete bytes to check/repair/dump against,
// so this tool supplies the simplest possible one rather than attempting
// to reproduce the real on-disk layout.
type lineRecordStore struct {
	path string
}

func openLineRecordStore(path string) (*lineRecordStore, error) {
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		f, cerr := os.Create(path)
		if cerr != nil {
			return nil, cerr
		}
		f.Close()
	}
	return &lineRecordStore{path: path}, nil
}

func (s *lineRecordStore) Close() error { return nil }

func (s *lineRecordStore) ReadRecord(ref ftidx.RecRef) ([]byte, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := f.Seek(int64(ref), os.SEEK_SET); err != nil {
		return nil, err
	}
	r := bufio.NewReader(f)
	line, err := r.ReadString('\n')
	if len(line) == 0 && err != nil {
		return nil, ftidx.ErrRecordDeleted
	}
	return []byte(strings.TrimRight(line, "\n")), nil
}

// Checksum folds a record's bytes with mi_checksum's rotate-combine
// style (original_source/storage/myisam/mi_check.c's per-field
// checksum helper rotates the running value before XOR-ing in each
// byte) — distinct from the plain-sum glob_crc accumulation Repair does
// across records, which mi_check.c confirms is a flat addition.
func (s *lineRecordStore) Checksum(ref ftidx.RecRef) (uint64, error) {
	data, err := s.ReadRecord(ref)
	if err != nil {
		return 0, err
	}
	var sum uint64
	for _, b := range data {
		sum = sum<<1 ^ sum>>63 ^ uint64(b)
	}
	return sum, nil
}

// Compact satisfies repair.DataCompactor. Lines are appended and never
// rewritten in place by this tool, so there are no delete-holes to
// squeeze out; the non-quick repair stage's data-file rebuild is a
// no-op for this record format.
func (s *lineRecordStore) Compact() error { return nil }

type lineIterator struct {
	f   *os.File
	r   *bufio.Reader
	off int64
}

// Iterator opens its own file handle so it can be driven independently
// of (and repeatedly alongside) ReadRecord/Checksum calls.
func (s *lineRecordStore) Iterator() *lineIterator {
	f, err := os.Open(s.path)
	if err != nil {
		return &lineIterator{}
	}
	return &lineIterator{f: f, r: bufio.NewReader(f)}
}

func (it *lineIterator) Next() (ftidx.RecRef, []byte, error) {
	if it.f == nil {
		return 0, nil, repair.ErrIterationDone
	}
	for {
		start := it.off
		line, err := it.r.ReadString('\n')
		if len(line) == 0 && err != nil {
			it.f.Close()
			it.f = nil
			return 0, nil, repair.ErrIterationDone
		}
		it.off += int64(len(line))
		text := strings.TrimRight(line, "\n")
		if text == "" {
			continue
		}
		return ftidx.RecRef(start), []byte(text), nil
	}
}

func maxRecRef(store *lineRecordStore) uint64 {
	it := store.Iterator()
	var max uint64
	for {
		ref, _, err := it.Next()
		if err != nil {
			break
		}
		if uint64(ref) > max {
			max = uint64(ref)
		}
	}
	return max
}
