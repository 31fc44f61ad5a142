package ftidx

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestTree(t *testing.T, blockLen int, noSame bool) *BTree {
	t.Helper()
	dir := t.TempDir()
	kd := &KeyDef{
		Segments:    []KeySegment{{Type: SegText, Length: 40}},
		BlockLength: blockLen,
		MaxLength:   256,
	}
	if noSame {
		kd.Flags |= NoSame
	} else {
		kd.Flags |= Unique
	}
	f, err := OpenKeyFile(filepath.Join(dir, "idx0.dat"), kd, false)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	state := NewStateInfo(1)
	codec := &PageCodec{KeyRefLength: 6}
	cache := NewKeyCache(64, codec)
	return NewBTree(f, kd, cache, codec, state, 0)
}

// TestS1BasicInsertSearchDelete mirrors spec.md's S1 scenario.
func TestS1BasicInsertSearchDelete(t *testing.T) {
	tree := openTestTree(t, 4096, true)

	words := map[string]RecRef{"apple": 1, "banana": 2, "cherry": 3}
	for w, r := range words {
		require.NoError(t, tree.Insert(packLogicalKey(tree.kd, [][]byte{[]byte(w)}), r))
	}

	key := packLogicalKey(tree.kd, [][]byte{[]byte("banana")})
	found, ref, err := tree.Search(key, 0)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, RecRef(2), ref)

	require.NoError(t, tree.Delete(key, 2))
	found, _, err = tree.Search(key, 0)
	require.NoError(t, err)
	require.False(t, found)
}

func TestInsertManyKeepsOrder(t *testing.T) {
	tree := openTestTree(t, 1024, true)
	const n = 300
	for i := 0; i < n; i++ {
		k := packLogicalKey(tree.kd, [][]byte{[]byte(fmt.Sprintf("key-%04d", i))})
		require.NoError(t, tree.Insert(k, RecRef(i+1)))
	}
	require.NoError(t, tree.ValidateOrder())

	key, ref, ok, err := tree.SearchFirst()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, RecRef(1), ref)

	count := 1
	for {
		nk, _, ok, err := tree.SearchNext(key, ref)
		require.NoError(t, err)
		if !ok {
			break
		}
		key = nk
		count++
	}
	require.Equal(t, n, count)
}

func TestDuplicateUniqueRejected(t *testing.T) {
	tree := openTestTree(t, 4096, false)
	key := packLogicalKey(tree.kd, [][]byte{[]byte("dup")})
	require.NoError(t, tree.Insert(key, 1))
	err := tree.Insert(key, 2)
	require.Error(t, err)
	var dupErr *DuplicateError
	require.ErrorAs(t, err, &dupErr)
}

func TestDeleteAbsentKeyNotFound(t *testing.T) {
	tree := openTestTree(t, 4096, true)
	key := packLogicalKey(tree.kd, [][]byte{[]byte("missing")})
	err := tree.Delete(key, 0)
	require.ErrorIs(t, err, ErrNotFound)
}
