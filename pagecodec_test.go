package ftidx

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func textKeyDef(blockLen int) *KeyDef {
	return &KeyDef{
		Segments:    []KeySegment{{Type: SegText, Length: 40}},
		BlockLength: blockLen,
		MaxLength:   256,
	}
}

func TestPageCodecRoundTrip(t *testing.T) {
	kd := textKeyDef(4096)
	codec := &PageCodec{KeyRefLength: 6}

	page := newKeyPage(0)
	words := []string{"apple", "banana", "cherry"}
	for i, w := range words {
		page.Entries = append(page.Entries, PageEntry{
			Key: packLogicalKey(kd, [][]byte{[]byte(w)}),
			Ref: RecRef(i + 1),
		})
	}

	enc, err := codec.EncodePage(kd, page)
	require.NoError(t, err)

	decoded, err := codec.DecodePage(kd, enc)
	require.NoError(t, err)
	require.Len(t, decoded.Entries, 3)
	for i, w := range words {
		v, _ := readLogicalSegment(decoded.Entries[i].Key, 0)
		require.Equal(t, w, string(v))
		require.Equal(t, RecRef(i+1), decoded.Entries[i].Ref)
	}
}

func TestPageCodecOverflow(t *testing.T) {
	kd := textKeyDef(64)
	codec := &PageCodec{KeyRefLength: 6}
	page := newKeyPage(0)
	for i := 0; i < 20; i++ {
		page.Entries = append(page.Entries, PageEntry{
			Key: packLogicalKey(kd, [][]byte{[]byte("a reasonably long value to force overflow")}),
			Ref: RecRef(i),
		})
	}
	_, err := codec.EncodePage(kd, page)
	require.Error(t, err)
}

func TestCompareKeysRespectsReverseSort(t *testing.T) {
	kd := &KeyDef{Segments: []KeySegment{{Type: SegText, Flags: ReverseSort}}}
	a := packLogicalKey(kd, [][]byte{[]byte("a")})
	b := packLogicalKey(kd, [][]byte{[]byte("b")})
	if kd.compareKeys(a, b) <= 0 {
		t.Fatalf("expected reverse sort to order a after b")
	}
}
