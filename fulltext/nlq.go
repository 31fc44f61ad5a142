package fulltext

import (
	"math"
	"sort"

	"github.com/blinkft/ftidx"
)

// walkAndMatchCap is MySQL's documented safety cap on doc_cnt before
// ft_nlq_search.c's walk_and_match gives up and returns a zero global
// weight for the word (spec.md §9 "not a semantic requirement").
const walkAndMatchCap = 2_000_000

// NLQResult is one ranked hit from FTNLQEval.Eval.
type NLQResult struct {
	Ref    ftidx.RecRef
	Weight float64
}

// QueryWord is one word driving a natural-language query, carrying its
// own local weight so query-expansion words (LWS from the expansion
// doc's word counts) and the original query's words (LWS=1) share a
// code path.
type QueryWord struct {
	Text []byte
	LWS  float64
}

type nlqSuperDoc struct {
	Weight    float64
	LastLocal float64
	LastGWS   float64
}

// FTNLQEval ranks documents for a natural-language query, grounded on
// original_source/storage/myisam/ft_nlq_search.c.
type FTNLQEval struct {
	Index        *FTIndex
	TotalRecords func() uint64
	RecordText   func(ref ftidx.RecRef) ([]byte, error) // required only for ExpansionK>0
	ExpansionK   int                                    // 0 disables query expansion
	Sorted       bool
}

func NewFTNLQEval(index *FTIndex, totalRecords func() uint64) *FTNLQEval {
	return &FTNLQEval{Index: index, TotalRecords: totalRecords, Sorted: true}
}

// Eval tokenizes query, walks each word's postings accumulating
// SuperDoc weights, optionally expands via top-K feedback, and returns
// a duplicate-free result set (spec.md §4.7).
func (e *FTNLQEval) Eval(query string) ([]NLQResult, error) {
	words := uniqueQueryWords(e.Index.Tokenizer.SimpleScan([]byte(query), true))

	docs, err := e.runWalk(words)
	if err != nil {
		return nil, err
	}

	if e.ExpansionK > 0 && e.RecordText != nil {
		expanded, err := e.expand(words, docs)
		if err != nil {
			return nil, err
		}
		docs, err = e.runWalk(expanded)
		if err != nil {
			return nil, err
		}
	}

	results := make([]NLQResult, 0, len(docs))
	for ref, sd := range docs {
		results = append(results, NLQResult{Ref: ref, Weight: sd.Weight})
	}
	if e.Sorted {
		sort.Slice(results, func(i, j int) bool { return results[i].Weight > results[j].Weight })
	}
	return results, nil
}

// runWalk is walk_and_match: for each word, in turn, fetch its posting
// list and global weight, and for every live docid either start a new
// SuperDoc or roll the *previous* word's (local weight × GWS) product
// into the running total before overwriting the doc's scratch — the
// final word's contribution is rolled in by the loop after this one
// returns (spec.md §4.7's "iterate once more").
func (e *FTNLQEval) runWalk(words []QueryWord) (map[ftidx.RecRef]*nlqSuperDoc, error) {
	docs := make(map[ftidx.RecRef]*nlqSuperDoc)
	total := e.TotalRecords()

	for _, qw := range words {
		postings, err := e.Index.WordPostings(qw.Text)
		if err != nil {
			return nil, err
		}
		gws := globalWeight(uint64(len(postings)), total)

		refs := make([]ftidx.RecRef, 0, len(postings))
		for ref := range postings {
			refs = append(refs, ref)
		}
		sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })

		for _, ref := range refs {
			local := postings[ref] * qw.LWS
			sd, ok := docs[ref]
			if !ok {
				sd = &nlqSuperDoc{}
				docs[ref] = sd
			} else {
				sd.Weight += sd.LastLocal * sd.LastGWS
			}
			sd.LastLocal = local
			sd.LastGWS = gws
		}
	}
	for _, sd := range docs {
		sd.Weight += sd.LastLocal * sd.LastGWS
	}
	return docs, nil
}

// expand builds the query word set for the second (feedback) walk: the
// top ExpansionK docs from the first pass are re-tokenized and their
// words, weighted by LWS(count), are folded in alongside the originals
// (spec.md §4.7 "query expansion").
func (e *FTNLQEval) expand(seed []QueryWord, first map[ftidx.RecRef]*nlqSuperDoc) ([]QueryWord, error) {
	top := topRefs(first, e.ExpansionK)

	seen := make(map[string]bool, len(seed))
	out := append([]QueryWord{}, seed...)
	for _, w := range seed {
		seen[string(w.Text)] = true
	}

	for _, ref := range top {
		text, err := e.RecordText(ref)
		if err != nil {
			continue
		}
		counts := make(map[string]int)
		for _, w := range e.Index.Tokenizer.SimpleScan(text, true) {
			counts[string(w.Text)]++
		}
		for word, c := range counts {
			if seen[word] {
				continue
			}
			seen[word] = true
			lws := 0.0
			if c > 0 {
				lws = math.Log(float64(c)) + 1
			}
			out = append(out, QueryWord{Text: []byte(word), LWS: lws})
		}
	}
	return out, nil
}

func topRefs(docs map[ftidx.RecRef]*nlqSuperDoc, k int) []ftidx.RecRef {
	type pair struct {
		ref ftidx.RecRef
		w   float64
	}
	pairs := make([]pair, 0, len(docs))
	for ref, sd := range docs {
		pairs = append(pairs, pair{ref, sd.Weight})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].w > pairs[j].w })
	if len(pairs) > k {
		pairs = pairs[:k]
	}
	out := make([]ftidx.RecRef, len(pairs))
	for i, p := range pairs {
		out[i] = p.ref
	}
	return out
}

func uniqueQueryWords(words []Word) []QueryWord {
	seen := make(map[string]bool, len(words))
	out := make([]QueryWord, 0, len(words))
	for _, w := range words {
		key := string(w.Text)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, QueryWord{Text: append([]byte{}, w.Text...), LWS: 1})
	}
	return out
}

// globalWeight is GWS(word) = ln((records-doc_count)/doc_count), zero
// when the word is too common (doc_count >= records) or absent, and
// zero past walkAndMatchCap (spec.md property 8 / §9).
func globalWeight(docCount, total uint64) float64 {
	if docCount == 0 || docCount >= total || docCount > walkAndMatchCap {
		return 0
	}
	return math.Log(float64(total-docCount) / float64(docCount))
}
