package fulltext

import (
	"bytes"
	"sort"

	"github.com/blinkft/ftidx"
)

// NodeKind discriminates an ExprNode.
type NodeKind int

const (
	NodeGroup NodeKind = iota
	NodeWord
	NodePhrase
)

// ExprNode is one node of a boolean query's expression tree (spec.md
// §4.6). Unlike the teacher's mutable per-node scratch fields reset on
// every cursor advance, matching/weight is recomputed per candidate
// docid by a pure recursive walk (FTBoolEval.apply) — the REDESIGN FLAG
// "ExprNode parent pointer with interior mutability for per-query
// scratch" carried further: no scratch fields at all, since the whole
// tree is rebuilt fresh for every Eval call.
type ExprNode struct {
	Kind     NodeKind
	Parent   *ExprNode
	Children []*ExprNode

	Yes, No      bool
	WeightFactor float64

	Word  []byte // NodeWord, and NodePhrase's first word (candidate filter)
	Trunc bool

	Phrase [][]byte // NodePhrase's full word sequence

	Ythresh int // NodeGroup: count of YES children

	matchedDocs map[ftidx.RecRef]float64 // resolved postings, Word/Phrase leaves only
}

// BoolResult is one ranked hit from FTBoolEval.Eval.
type BoolResult struct {
	Ref    ftidx.RecRef
	Weight float64
}

// FTBoolEval parses and drives a boolean full-text query over an
// FTIndex, grounded on original_source/storage/myisam/ft_boolean_search.cc.
type FTBoolEval struct {
	Index      *FTIndex
	Syntax     FTBSyntax
	RecordText func(ref ftidx.RecRef) ([]byte, error) // nil disables phrase verification
}

func NewFTBoolEval(index *FTIndex, syntax FTBSyntax, recordText func(ftidx.RecRef) ([]byte, error)) *FTBoolEval {
	return &FTBoolEval{Index: index, Syntax: syntax, RecordText: recordText}
}

// Eval parses query, resolves every word/phrase leaf's posting list,
// drives the merged candidate docid set, and returns matches ranked by
// descending weight (spec.md §4.6 property 7's "root.cur_weight>0").
func (e *FTBoolEval) Eval(query string) ([]BoolResult, error) {
	sc := NewBooleanScanner(e.Index.Tokenizer, e.Syntax, []byte(query))
	root := &ExprNode{Kind: NodeGroup}
	e.parseGroup(sc, root)
	root.Ythresh = countYes(root.Children)

	if err := e.resolveLeaves(root); err != nil {
		return nil, err
	}

	candidates := make(map[ftidx.RecRef]bool)
	e.collectCandidates(root, candidates)

	docids := make([]ftidx.RecRef, 0, len(candidates))
	for d := range candidates {
		docids = append(docids, d)
	}
	sort.Slice(docids, func(i, j int) bool { return docids[i] < docids[j] })

	var results []BoolResult
	for _, doc := range docids {
		if e.hasNegativeMatch(root, doc) {
			continue
		}
		matched, weight := e.apply(root, doc)
		if !matched || weight <= 0 {
			continue
		}
		if !e.phrasesMatch(root, doc) {
			continue
		}
		results = append(results, BoolResult{Ref: doc, Weight: weight})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Weight > results[j].Weight })
	return results, nil
}

// parseGroup is a recursive-descent reader over BooleanScanner tokens,
// consuming up to (and including) a matching right paren/close-quote or
// EOF. Parens push/pop groups; a left-quote collects a NodePhrase leaf
// instead of recursing, per spec.md §4.4/§4.6.
func (e *FTBoolEval) parseGroup(sc *BooleanScanner, group *ExprNode) {
	for {
		tok := sc.Next()
		switch tok.Kind {
		case TokEOF, TokRightParen:
			return
		case TokLeftParen:
			if tok.PhraseOpen {
				phrase := &ExprNode{
					Kind: NodePhrase, Parent: group,
					Yes: tok.Yesno > 0, No: tok.Yesno < 0,
					WeightFactor: WeightAdjustFactor(tok.WeightAdjust),
				}
				for {
					t2 := sc.Next()
					if t2.Kind == TokEOF || t2.Kind == TokRightParen {
						break
					}
					if t2.Kind == TokWord || t2.Kind == TokStopword {
						phrase.Phrase = append(phrase.Phrase, append([]byte{}, t2.Text...))
					}
				}
				if len(phrase.Phrase) > 0 {
					phrase.Word = phrase.Phrase[0]
					group.Children = append(group.Children, phrase)
				}
				continue
			}
			child := &ExprNode{
				Kind: NodeGroup, Parent: group,
				Yes: tok.Yesno > 0, No: tok.Yesno < 0,
				WeightFactor: WeightAdjustFactor(tok.WeightAdjust),
			}
			e.parseGroup(sc, child)
			child.Ythresh = countYes(child.Children)
			group.Children = append(group.Children, child)
		case TokWord:
			group.Children = append(group.Children, &ExprNode{
				Kind: NodeWord, Parent: group,
				Yes: tok.Yesno > 0, No: tok.Yesno < 0,
				WeightFactor: WeightAdjustFactor(tok.WeightAdjust),
				Word:         append([]byte{}, tok.Text...),
				Trunc:        tok.Trunc,
			})
		case TokStopword:
			// dropped: stopwords carry no index entry to drive against
		}
	}
}

func countYes(children []*ExprNode) int {
	n := 0
	for _, c := range children {
		if c.Yes {
			n++
		}
	}
	return n
}

// resolveLeaves fetches the BTree posting list for every Word/Phrase
// leaf once, up front (truncated words union every matching word's
// postings, deduplicating by docid per spec.md property 10).
func (e *FTBoolEval) resolveLeaves(node *ExprNode) error {
	switch node.Kind {
	case NodeWord, NodePhrase:
		node.matchedDocs = make(map[ftidx.RecRef]float64)
		if node.Trunc && node.Kind == NodeWord {
			words, err := e.Index.PrefixWords(node.Word)
			if err != nil {
				return err
			}
			for _, w := range words {
				postings, err := e.Index.WordPostings(w)
				if err != nil {
					return err
				}
				for ref, wt := range postings {
					if cur, ok := node.matchedDocs[ref]; !ok || wt > cur {
						node.matchedDocs[ref] = wt
					}
				}
			}
			return nil
		}
		postings, err := e.Index.WordPostings(node.Word)
		if err != nil {
			return err
		}
		node.matchedDocs = postings
		return nil
	default:
		for _, c := range node.Children {
			if err := e.resolveLeaves(c); err != nil {
				return err
			}
		}
		return nil
	}
}

func (e *FTBoolEval) collectCandidates(node *ExprNode, out map[ftidx.RecRef]bool) {
	switch node.Kind {
	case NodeWord, NodePhrase:
		if node.No {
			return
		}
		for ref := range node.matchedDocs {
			out[ref] = true
		}
	default:
		for _, c := range node.Children {
			e.collectCandidates(c, out)
		}
	}
}

func (e *FTBoolEval) hasNegativeMatch(node *ExprNode, doc ftidx.RecRef) bool {
	for _, c := range node.Children {
		if c.No {
			if m, _ := e.apply(c, doc); m {
				return true
			}
		}
		if c.Kind == NodeGroup && e.hasNegativeMatch(c, doc) {
			return true
		}
	}
	return false
}

// apply recomputes whether node matches doc and its weight contribution,
// the pure-function analogue of climb_tree (spec.md §4.6 lines ~134-158):
// a YES leaf contributes weight/ythresh, an optional leaf weight/3; a
// group propagates only once enough of its YES children matched.
func (e *FTBoolEval) apply(node *ExprNode, doc ftidx.RecRef) (matched bool, weight float64) {
	switch node.Kind {
	case NodeWord, NodePhrase:
		w, ok := node.matchedDocs[doc]
		return ok, w * node.WeightFactor
	case NodeGroup:
		yesses := 0
		sum := 0.0
		anyOptional := false
		denom := float64(node.Ythresh)
		if denom == 0 {
			denom = 1
		}
		for _, c := range node.Children {
			if c.No {
				continue
			}
			m, w := e.apply(c, doc)
			if c.Yes {
				if m {
					yesses++
					sum += w / denom
				}
			} else if m {
				anyOptional = true
				sum += w / 3
			}
		}
		if node.Ythresh > 0 && yesses < node.Ythresh {
			return false, 0
		}
		if node.Ythresh == 0 && !anyOptional {
			return false, 0
		}
		return true, sum * orOne(node.WeightFactor)
	}
	return false, 0
}

func orOne(f float64) float64 {
	if f == 0 {
		return 1
	}
	return f
}

func (e *FTBoolEval) phrasesMatch(node *ExprNode, doc ftidx.RecRef) bool {
	if node.Kind == NodePhrase {
		if _, ok := node.matchedDocs[doc]; !ok {
			return true
		}
		if e.RecordText == nil {
			return true
		}
		text, err := e.RecordText(doc)
		if err != nil {
			return false
		}
		return phraseMatches(e.Index.Tokenizer, text, node.Phrase)
	}
	for _, c := range node.Children {
		if !e.phrasesMatch(c, doc) {
			return false
		}
	}
	return true
}

// phraseMatches re-tokenizes a record's text (without stopword
// skipping, so phrase boundaries align with the original wording) and
// slides the phrase word list across it under a case-insensitive
// compare (spec.md §4.6 "Phrase matching").
func phraseMatches(tz *Tokenizer, text []byte, phrase [][]byte) bool {
	if len(phrase) == 0 {
		return true
	}
	words := tz.SimpleScan(text, false)
	for start := 0; start+len(phrase) <= len(words); start++ {
		match := true
		for i, pw := range phrase {
			if !bytes.EqualFold(words[start+i].Text, pw) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
