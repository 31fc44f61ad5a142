package repair

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/blinkft/ftidx"
	"github.com/stretchr/testify/require"
)

func testKeyDef() *ftidx.KeyDef {
	return &ftidx.KeyDef{
		Segments:    []ftidx.KeySegment{{Type: ftidx.SegText, Length: 40}},
		BlockLength: 4096,
		MaxLength:   256,
		Flags:       ftidx.NoSame,
	}
}

// TestSorterOrdersAcrossSpilledRuns mirrors property 6 (a repair run
// reproduces the same key set in sorted order) at the Sorter level: a
// tiny bufferLen forces many runs to spill and fan-in through
// mergeBuff/mergeBuff2, exercising sort.go's whole run/merge pipeline.
func TestSorterOrdersAcrossSpilledRuns(t *testing.T) {
	kd := testKeyDef()
	s := NewSorter(kd, 256, []string{t.TempDir()})

	const n = 500
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("word-%05d", i)
	}
	perm := rand.New(rand.NewSource(1)).Perm(n)

	for _, i := range perm {
		key := ftidx.PackKey(kd, [][]byte{[]byte(words[i])})
		require.NoError(t, s.Add(SortEntry{Key: key, Ref: ftidx.RecRef(i + 1)}))
	}

	it, err := s.Finish()
	require.NoError(t, err)
	defer s.Close()

	var gotRefs []ftidx.RecRef
	var prevKey []byte
	for {
		e, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		if prevKey != nil {
			require.LessOrEqual(t, kd.CompareKeys(prevKey, e.Key), 0)
		}
		prevKey = e.Key
		gotRefs = append(gotRefs, e.Ref)
	}
	require.Len(t, gotRefs, n)
}

// TestSorterSingleBatchStaysInMemory exercises Finish's memfile path:
// when every key fits in one batch, no run is ever spilled to disk.
func TestSorterSingleBatchStaysInMemory(t *testing.T) {
	kd := testKeyDef()
	s := NewSorter(kd, 1<<20, []string{t.TempDir()})

	for _, w := range []string{"delta", "alpha", "charlie", "bravo"} {
		require.NoError(t, s.Add(SortEntry{Key: ftidx.PackKey(kd, [][]byte{[]byte(w)}), Ref: 1}))
	}
	require.False(t, s.spilled)

	it, err := s.Finish()
	require.NoError(t, err)
	defer s.Close()

	var words []string
	for {
		e, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		w, _ := ftidx.ReadSegment(e.Key, 0)
		words = append(words, string(w))
	}
	require.Equal(t, []string{"alpha", "bravo", "charlie", "delta"}, words)
}

func TestLessBreaksTiesOnRef(t *testing.T) {
	kd := testKeyDef()
	key := ftidx.PackKey(kd, [][]byte{[]byte("same")})
	a := SortEntry{Key: key, Ref: 1}
	b := SortEntry{Key: key, Ref: 2}
	require.True(t, Less(kd, a, b))
	require.False(t, Less(kd, b, a))
}
