package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/blinkft/ftidx"
	"github.com/stretchr/testify/require"
)

func TestLineRecordStoreIteratesAndReads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.txt")
	require.NoError(t, os.WriteFile(path, []byte("apple\nbanana\ncherry\n"), 0o644))

	store, err := openLineRecordStore(path)
	require.NoError(t, err)

	it := store.Iterator()
	var refs []ftidx.RecRef
	var words []string
	for {
		ref, data, err := it.Next()
		if err != nil {
			break
		}
		refs = append(refs, ref)
		words = append(words, string(data))
	}
	require.Equal(t, []string{"apple", "banana", "cherry"}, words)

	for i, ref := range refs {
		data, err := store.ReadRecord(ref)
		require.NoError(t, err)
		require.Equal(t, words[i], string(data))

		sum, err := store.Checksum(ref)
		require.NoError(t, err)
		require.NotZero(t, sum)
	}
}

func TestLineRecordStoreCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.txt")
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))

	store, err := openLineRecordStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Compact())

	_, err = os.Stat(path)
	require.NoError(t, err)
}
