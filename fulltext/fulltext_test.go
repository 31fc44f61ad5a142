package fulltext

import (
	"path/filepath"
	"testing"

	"github.com/blinkft/ftidx"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) *FTIndex {
	t.Helper()
	dir := t.TempDir()
	kd := NewFTKeyDef(4096, 84, nil)
	f, err := ftidx.OpenKeyFile(filepath.Join(dir, "ft0.dat"), kd, false)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	state := ftidx.NewStateInfo(1)
	codec := &ftidx.PageCodec{KeyRefLength: 6}
	cache := ftidx.NewKeyCache(64, codec)
	tree := ftidx.NewBTree(f, kd, cache, codec, state, 0)
	tz := &Tokenizer{MinWordLen: 3, MaxWordLen: 84, Stopwords: DefaultStopwords}
	return NewFTIndex(tree, kd, tz)
}

func TestSimpleScanSkipsStopwordsIdempotently(t *testing.T) {
	tz := &Tokenizer{MinWordLen: 1, MaxWordLen: 84, Stopwords: NewStopwordSet([]string{"the"})}
	withStop := tz.SimpleScan([]byte("X the Y"), true)
	without := tz.SimpleScan([]byte("X Y"), true)
	require.Equal(t, len(without), len(withStop))
	for i := range without {
		require.Equal(t, string(without[i].Text), string(withStop[i].Text))
	}
}

func TestSimpleScanFoldsApostrophe(t *testing.T) {
	tz := &Tokenizer{MinWordLen: 1, MaxWordLen: 84}
	words := tz.SimpleScan([]byte("don't stop"), false)
	require.Len(t, words, 2)
	require.Equal(t, "don't", string(words[0].Text))
}

// TestS3BooleanAndOrNot mirrors spec.md's S3 scenario.
func TestS3BooleanAndOrNot(t *testing.T) {
	idx := newTestIndex(t)
	records := map[ftidx.RecRef]string{
		1: "the quick brown fox",
		2: "quick brown dogs",
		3: "lazy fox",
	}
	for ref, text := range records {
		require.NoError(t, idx.Index(ref, [][]byte{[]byte(text)}))
	}

	recordText := func(ref ftidx.RecRef) ([]byte, error) { return []byte(records[ref]), nil }
	eval := NewFTBoolEval(idx, DefaultFTBSyntax, recordText)

	res, err := eval.Eval("+quick +brown -dogs")
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Equal(t, ftidx.RecRef(1), res[0].Ref)
	require.Greater(t, res[0].Weight, 0.0)

	res, err = eval.Eval("+quick +brown")
	require.NoError(t, err)
	refs := map[ftidx.RecRef]bool{}
	for _, r := range res {
		refs[r.Ref] = true
	}
	require.True(t, refs[1])
	require.True(t, refs[2])
	require.False(t, refs[3])

	res, err = eval.Eval(`"quick brown"`)
	require.NoError(t, err)
	refs = map[ftidx.RecRef]bool{}
	for _, r := range res {
		refs[r.Ref] = true
	}
	require.True(t, refs[1])
	require.True(t, refs[2])
	require.False(t, refs[3])
}

// TestS4TruncationDedup mirrors spec.md's S4 scenario.
func TestS4TruncationDedup(t *testing.T) {
	idx := newTestIndex(t)
	records := map[ftidx.RecRef]string{
		1: "testing",
		2: "tester",
		3: "tested",
		4: "unrelated",
	}
	for ref, text := range records {
		require.NoError(t, idx.Index(ref, [][]byte{[]byte(text)}))
	}

	eval := NewFTBoolEval(idx, DefaultFTBSyntax, nil)
	res, err := eval.Eval("test*")
	require.NoError(t, err)
	seen := map[ftidx.RecRef]int{}
	for _, r := range res {
		seen[r.Ref]++
	}
	require.Len(t, res, 3)
	for ref, count := range seen {
		require.Equal(t, 1, count, "docid %v returned more than once", ref)
	}
	require.NotContains(t, seen, ftidx.RecRef(4))
}

// TestS5NLQRanking mirrors spec.md's S5 scenario.
func TestS5NLQRanking(t *testing.T) {
	idx := newTestIndex(t)
	records := map[ftidx.RecRef]string{
		1: "the fox ran",
		2: "the dog slept",
		3: "no animals here",
	}
	for ref, text := range records {
		require.NoError(t, idx.Index(ref, [][]byte{[]byte(text)}))
	}

	eval := NewFTNLQEval(idx, func() uint64 { return uint64(len(records)) })
	res, err := eval.Eval("fox dog")
	require.NoError(t, err)

	refs := map[ftidx.RecRef]bool{}
	for _, r := range res {
		refs[r.Ref] = true
		require.Greater(t, r.Weight, 0.0)
	}
	require.True(t, refs[1])
	require.True(t, refs[2])
	require.False(t, refs[3])
}

func TestFTIndexUpdateDiffsWords(t *testing.T) {
	idx := newTestIndex(t)
	ref := ftidx.RecRef(7)
	require.NoError(t, idx.Index(ref, [][]byte{[]byte("apple banana")}))

	postings, err := idx.WordPostings([]byte("apple"))
	require.NoError(t, err)
	require.Contains(t, postings, ref)

	require.NoError(t, idx.Update(ref, [][]byte{[]byte("apple banana")}, [][]byte{[]byte("cherry banana")}))

	postings, err = idx.WordPostings([]byte("apple"))
	require.NoError(t, err)
	require.NotContains(t, postings, ref)

	postings, err = idx.WordPostings([]byte("cherry"))
	require.NoError(t, err)
	require.Contains(t, postings, ref)
}

func TestCheckSyntaxStringRejectsDuplicateNonQuoteOperators(t *testing.T) {
	bad := DefaultFTBSyntax
	bad.No = bad.Yes
	require.False(t, CheckSyntaxString(bad))
	require.True(t, CheckSyntaxString(DefaultFTBSyntax))
}
