package fulltext

import (
	"bytes"
	"errors"
	"math"
	"sort"

	"github.com/blinkft/ftidx"
)

// weightEpsilon is the |Δw| threshold below which Update treats a word's
// recomputed weight as unchanged (spec.md §4.5 "equal-word-but-differing-weight").
const weightEpsilon = 1e-5

// NewFTKeyDef builds the KeyDef a full-text index is stored under: one
// packable variable-length text segment plus the FullText flag that
// tells PageCodec to serialize the LeafTail weight/subcount trailer.
func NewFTKeyDef(blockLen, maxWordLen int, collation ftidx.Collation) *ftidx.KeyDef {
	return &ftidx.KeyDef{
		Segments: []ftidx.KeySegment{{
			Type:    ftidx.SegVarText,
			Length:  maxWordLen,
			Flags:   ftidx.VarLengthPart | ftidx.PackKey,
			Collate: collation,
		}},
		BlockLength: blockLen,
		MaxLength:   maxWordLen + 8,
		// NoSame: a word is its own unique key — multiple documents
		// sharing a word are folded into one leaf entry's LeafTail
		// (weight for one doc, or an FT2 subtree for several), never
		// into sibling entries with the same word differentiated only
		// by RecRef.
		Flags: ftidx.FullText | ftidx.NoSame,
	}
}

// FTIndex stores a (word → {docid, weight}) mapping in a ftidx.BTree,
// promoting repeated words into an FT2 subtree (spec.md §4.5), grounded
// on original_source/storage/myisam/ft_parser.c's ft_linearize and
// storage/myisam/ftdefs.h's update path.
type FTIndex struct {
	Tree      *ftidx.BTree
	KeyDef    *ftidx.KeyDef
	Tokenizer *Tokenizer
}

func NewFTIndex(tree *ftidx.BTree, kd *ftidx.KeyDef, tz *Tokenizer) *FTIndex {
	return &FTIndex{Tree: tree, KeyDef: kd, Tokenizer: tz}
}

type linWord struct {
	Text   []byte
	Weight float64
}

// linearize tokenizes every indexed segment of one record into a
// deduplicated, weighted word list: local weight LWS(count)=ln(count)+1,
// then PRENORM=weight/Σweights·uniq followed by NORM=1+0.0115·uniq
// (spec.md §4.5 steps 2-3), mirroring ft_linearize's tree-walk-then-
// normalize passes without needing an actual in-memory tree structure —
// a Go map plus a sort accomplishes the same dedup-and-order result.
func (x *FTIndex) linearize(segments [][]byte) []linWord {
	counts := make(map[string]int)
	var order []string
	for _, seg := range segments {
		for _, w := range x.Tokenizer.SimpleScan(seg, true) {
			key := string(w.Text)
			if _, ok := counts[key]; !ok {
				order = append(order, key)
			}
			counts[key]++
		}
	}
	collation := x.collation()
	sort.Slice(order, func(i, j int) bool {
		return collation.Compare([]byte(order[i]), []byte(order[j])) < 0
	})

	list := make([]linWord, 0, len(order))
	sum := 0.0
	for _, w := range order {
		c := counts[w]
		lws := 0.0
		if c > 0 {
			lws = math.Log(float64(c)) + 1
		}
		list = append(list, linWord{Text: []byte(w), Weight: lws})
		sum += lws
	}
	if sum == 0 {
		return list
	}
	uniq := float64(len(list))
	norm := 1 + 0.0115*uniq
	for i := range list {
		prenorm := list[i].Weight / sum * uniq
		list[i].Weight = prenorm / norm
	}
	return list
}

func (x *FTIndex) collation() ftidx.Collation {
	if len(x.KeyDef.Segments) > 0 && x.KeyDef.Segments[0].Collate != nil {
		return x.KeyDef.Segments[0].Collate
	}
	return ftidx.Binary
}

func (x *FTIndex) packWord(text []byte) []byte {
	return ftidx.PackKey(x.KeyDef, [][]byte{text})
}

// LinearizedEntries tokenizes segments exactly as Index does and returns
// the packed word key plus weight for each distinct word, letting
// repair's external-sort key-extraction pass (§4.8 step 2) reuse
// ft_linearize's normalization without re-deriving it or reaching past
// this package's unexported packWord/linearize.
func (x *FTIndex) LinearizedEntries(segments [][]byte) (keys [][]byte, weights []float64) {
	words := x.linearize(segments)
	keys = make([][]byte, len(words))
	weights = make([]float64, len(words))
	for i, w := range words {
		keys[i] = x.packWord(w.Text)
		weights[i] = w.Weight
	}
	return keys, weights
}

// Index tokenizes segments and writes one key per distinct word.
func (x *FTIndex) Index(ref ftidx.RecRef, segments [][]byte) error {
	for _, w := range x.linearize(segments) {
		tail := &ftidx.LeafTail{HasWeight: true, Weight: float32(w.Weight)}
		if err := x.Tree.InsertTail(x.packWord(w.Text), ref, tail); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes ref's contribution for every word in segments.
func (x *FTIndex) Delete(ref ftidx.RecRef, segments [][]byte) error {
	for _, w := range x.linearize(segments) {
		if err := x.Tree.DeleteWord(x.packWord(w.Text), ref); err != nil && !errors.Is(err, ftidx.ErrNotFound) {
			return err
		}
	}
	return nil
}

// WordPostings resolves one exact word to its docid→weight posting map,
// following an FT2 subtree when the word has been promoted (spec.md
// §4.5 step 4). A word with no entry returns an empty, non-nil map.
func (x *FTIndex) WordPostings(word []byte) (map[ftidx.RecRef]float64, error) {
	entry, ok, err := x.Tree.SearchEntry(x.packWord(word), 0)
	if err != nil {
		return nil, err
	}
	out := make(map[ftidx.RecRef]float64)
	if !ok || entry.Tail == nil {
		return out, nil
	}
	if entry.Tail.HasWeight {
		out[entry.Ref] = float64(entry.Tail.Weight)
		return out, nil
	}
	subEntries, err := x.Tree.FT2Entries(entry.Tail.SubRoot)
	if err != nil {
		return nil, err
	}
	for _, se := range subEntries {
		w := 1.0
		if se.Tail != nil && se.Tail.HasWeight {
			w = float64(se.Tail.Weight)
		}
		out[se.Ref] = w
	}
	return out, nil
}

// PrefixWords returns every distinct indexed word starting with prefix,
// by seeking to prefix's key and walking the leaf chain while the
// decoded word still matches (spec.md §4.6 truncation / property 10).
func (x *FTIndex) PrefixWords(prefix []byte) ([][]byte, error) {
	entry, ok, err := x.Tree.SeekEntry(x.packWord(prefix))
	if err != nil {
		return nil, err
	}
	var words [][]byte
	for ok {
		w, _ := ftidx.ReadSegment(entry.Key, 0)
		if !bytes.HasPrefix(w, prefix) {
			break
		}
		words = append(words, append([]byte{}, w...))
		entry, ok, err = x.Tree.SearchNextEntry(entry.Key, entry.Ref)
		if err != nil {
			return nil, err
		}
	}
	return words, nil
}

// Update diffs the old and new linearized word arrays for ref, deleting
// and reinserting only the words that actually changed (spec.md §4.5
// "Update": differing words are deleted+inserted; equal words whose
// weight moved by more than weightEpsilon are deleted+reinserted too).
func (x *FTIndex) Update(ref ftidx.RecRef, oldSegments, newSegments [][]byte) error {
	oldWords := x.linearize(oldSegments)
	newWords := x.linearize(newSegments)

	oldMap := make(map[string]float64, len(oldWords))
	for _, w := range oldWords {
		oldMap[string(w.Text)] = w.Weight
	}
	newMap := make(map[string]float64, len(newWords))
	for _, w := range newWords {
		newMap[string(w.Text)] = w.Weight
	}

	for text, ow := range oldMap {
		nw, present := newMap[text]
		if !present || math.Abs(nw-ow) > weightEpsilon {
			if err := x.Tree.DeleteWord(x.packWord([]byte(text)), ref); err != nil && !errors.Is(err, ftidx.ErrNotFound) {
				return err
			}
		}
	}
	for text, nw := range newMap {
		ow, present := oldMap[text]
		if !present || math.Abs(nw-ow) > weightEpsilon {
			tail := &ftidx.LeafTail{HasWeight: true, Weight: float32(nw)}
			if err := x.Tree.InsertTail(x.packWord([]byte(text)), ref, tail); err != nil {
				return err
			}
		}
	}
	return nil
}
