// Package fulltext implements the word-splitting, indexing and query
// evaluation layer over a ftidx.BTree: Tokenizer, FTIndex, FTBoolEval and
// FTNLQEval (spec.md §4.4-§4.7).
package fulltext

import (
	"bufio"
	"os"
	"unicode"
	"unicode/utf8"

	"github.com/blinkft/ftidx"
)

const (
	defaultMinWordLen = 4
	defaultMaxWordLen = 84
)

// Word is one token yielded by simple_scan: its byte offset in the
// source and its (already trimmed) text.
type Word struct {
	Pos  int
	Text []byte
}

func trueWordChar(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// miscWordChar recognizes the apostrophe-like characters ft_parser.c
// folds into a word when sandwiched between two true word characters
// ("don't" stays one word), per spec.md §4.4.
func miscWordChar(r rune) bool {
	return r == '\''
}

// Tokenizer splits byte sequences into word tokens under a collation,
// grounded on original_source/storage/myisam/ft_parser.c's
// ft_simple_get_word/ft_get_word. MinWordLen/MaxWordLen default to
// MySQL's ft_min_word_len=4/ft_max_word_len=84 when zero.
type Tokenizer struct {
	MinWordLen int
	MaxWordLen int
	Collation  ftidx.Collation
	Stopwords  *StopwordSet
}

func (tz *Tokenizer) minLen() int {
	if tz.MinWordLen > 0 {
		return tz.MinWordLen
	}
	return defaultMinWordLen
}

func (tz *Tokenizer) maxLen() int {
	if tz.MaxWordLen > 0 {
		return tz.MaxWordLen
	}
	return defaultMaxWordLen
}

// SimpleScan yields successive words from data under the teacher's
// ft_simple_get_word algorithm: a word begins at the first
// true_word_char and ends at the first character that is neither a
// true_word_char nor a misc_word_char immediately followed by a word
// character. Words shorter than MinWordLen, longer than MaxWordLen, or
// (when skipStopwords) present in the stopword set are skipped.
func (tz *Tokenizer) SimpleScan(data []byte, skipStopwords bool) []Word {
	var words []Word
	i := 0
	for i < len(data) {
		r, size := utf8.DecodeRune(data[i:])
		if !trueWordChar(r) {
			i += size
			continue
		}
		start := i
		mwc := 0
		for i < len(data) {
			r, size := utf8.DecodeRune(data[i:])
			if trueWordChar(r) {
				mwc = 0
			} else if miscWordChar(r) && mwc == 0 {
				mwc++
			} else {
				break
			}
			i += size
		}
		end := i - mwc
		length := utf8.RuneCount(data[start:end])
		text := data[start:end]
		if skipStopwords && tz.Stopwords != nil && tz.Stopwords.Contains(text) {
			continue
		}
		if length >= tz.minLen() && length <= tz.maxLen() {
			words = append(words, Word{Pos: start, Text: text})
		}
	}
	return words
}

// TokenKind is the discriminant of a BooleanScan token.
type TokenKind int

const (
	TokEOF TokenKind = iota
	TokWord
	TokLeftParen
	TokRightParen
	TokStopword
)

// BoolToken is one token from BooleanScan, carrying the YES/NO/weight
// modifiers accumulated since the previous token (spec.md §4.4).
type BoolToken struct {
	Kind         TokenKind
	Text         []byte
	Yesno        int  // -1/0/+1
	WeightAdjust int  // net count of '>' minus '<'; WeightAdjustFactor clamps it to ±5
	Wasign       bool // negate sign toggle ('~')
	Trunc        bool // trailing '*'
	PhraseOpen   bool
	PhraseClose  bool
}

// FTBSyntax holds the ten configurable boolean-operator characters.
// LQuote/RQuote (the phrase quotes) are the only pair allowed to match.
type FTBSyntax struct {
	Yes, No, Inc, Dec, Neg, LParen, RParen, Trunc, LQuote, RQuote byte
}

// DefaultFTBSyntax mirrors MySQL's DEFAULT_FTB_SYNTAX.
var DefaultFTBSyntax = FTBSyntax{
	Yes: '+', No: '-', Inc: '>', Dec: '<', Neg: '~',
	LParen: '(', RParen: ')', Trunc: '*', LQuote: '"', RQuote: '"',
}

// CheckSyntaxString validates a candidate 10-character operator set the
// way ft_boolean_check_syntax_string does: 7-bit ASCII, non-alphanumeric,
// and pairwise distinct except the quote pair.
func CheckSyntaxString(s FTBSyntax) bool {
	chars := []byte{s.Yes, s.No, s.Inc, s.Dec, s.Neg, s.LParen, s.RParen, s.Trunc, s.LQuote, s.RQuote}
	for i, c := range chars {
		if c > 127 || unicode.IsLetter(rune(c)) || unicode.IsDigit(rune(c)) {
			return false
		}
		for j := 0; j < i; j++ {
			if chars[j] == c && !(i == 9 && j == 8) {
				return false
			}
		}
	}
	return true
}

var weightTable = [11]float64{}

func init() {
	w := 1.0
	for i := 0; i <= 5; i++ {
		weightTable[5+i] = w
		w *= 1.5
	}
	w = -0.5
	for i := 1; i <= 5; i++ {
		weightTable[5-i] = w
		w *= 1.5
	}
}

// WeightAdjustFactor maps a clamped weight_adjust (-5..+5) through the
// geometric table spec.md §4.4 describes (1.5^i, or -0.5*1.5^i for
// negative adjustments).
func WeightAdjustFactor(adjust int) float64 {
	if adjust < -5 {
		adjust = -5
	}
	if adjust > 5 {
		adjust = 5
	}
	return weightTable[5+adjust]
}

// BooleanScanner walks a boolean query string emitting BoolTokens,
// grounded on ft_parser.c's ft_get_word.
type BooleanScanner struct {
	tz     *Tokenizer
	syntax FTBSyntax
	data   []byte
	pos    int
	prev   byte
	quoted bool
}

func NewBooleanScanner(tz *Tokenizer, syntax FTBSyntax, data []byte) *BooleanScanner {
	return &BooleanScanner{tz: tz, syntax: syntax, data: data, prev: ' '}
}

// Next returns the next token, or a TokEOF token once the input is
// exhausted.
func (s *BooleanScanner) Next() BoolToken {
	yesno, weightAdjust, wasign := 0, 0, false
	if s.quoted {
		yesno = 1
	}

	for s.pos < len(s.data) {
		c := s.data[s.pos]
		r, size := utf8.DecodeRune(s.data[s.pos:])
		if trueWordChar(r) {
			break
		}
		if c == s.syntax.RQuote && s.quoted {
			s.pos++
			s.quoted = false
			return BoolToken{Kind: TokRightParen, PhraseClose: true}
		}
		if !s.quoted {
			switch c {
			case s.syntax.LParen, s.syntax.RParen, s.syntax.LQuote:
				s.pos++
				if c == s.syntax.LQuote {
					s.quoted = true
				}
				if c == s.syntax.RParen {
					return BoolToken{Kind: TokRightParen}
				}
				return BoolToken{
					Kind: TokLeftParen, PhraseOpen: c == s.syntax.LQuote,
					Yesno: yesno, WeightAdjust: weightAdjust, Wasign: wasign,
				}
			}
			if s.prev == ' ' {
				switch c {
				case s.syntax.Yes:
					yesno = 1
					s.pos += size
					continue
				case s.syntax.No:
					yesno = -1
					s.pos += size
					continue
				case s.syntax.Inc:
					weightAdjust++
					s.pos += size
					continue
				case s.syntax.Dec:
					weightAdjust--
					s.pos += size
					continue
				case s.syntax.Neg:
					wasign = !wasign
					s.pos += size
					continue
				}
			}
		}
		s.prev = c
		yesno = 0
		if s.quoted {
			yesno = 1
		}
		weightAdjust, wasign = 0, false
		s.pos += size
	}

	if s.pos >= len(s.data) {
		if s.quoted {
			return BoolToken{Kind: TokRightParen, PhraseClose: true}
		}
		return BoolToken{Kind: TokEOF}
	}

	start := s.pos
	mwc := 0
	for s.pos < len(s.data) {
		r, size := utf8.DecodeRune(s.data[s.pos:])
		if trueWordChar(r) {
			mwc = 0
		} else if miscWordChar(r) && mwc == 0 {
			mwc++
		} else {
			break
		}
		s.pos += size
	}
	end := s.pos - mwc
	s.prev = 'A'

	trunc := false
	if s.pos < len(s.data) && s.data[s.pos] == s.syntax.Trunc {
		trunc = true
		s.pos++
	}

	text := s.data[start:end]
	length := utf8.RuneCount(text)

	isStop := s.tz.Stopwords != nil && s.tz.Stopwords.Contains(text)
	if (length >= s.tz.minLen() && !isStop) || trunc {
		if length <= s.tz.maxLen() {
			return BoolToken{Kind: TokWord, Text: text, Yesno: yesno, WeightAdjust: weightAdjust, Wasign: wasign, Trunc: trunc}
		}
	}
	if length > 0 {
		return BoolToken{Kind: TokStopword, Text: text, Yesno: yesno}
	}
	return s.Next()
}

// StopwordSet is an immutable, process-wide-by-convention set of
// skipped words (spec.md §4.4 "stopwords"). Build once with
// NewStopwordSet/LoadStopwordFile and share by reference — unlike the
// teacher's global mutable stopword tree (a REDESIGN FLAG target), it
// carries no package-level state.
type StopwordSet struct {
	words map[string]struct{}
}

func NewStopwordSet(words []string) *StopwordSet {
	s := &StopwordSet{words: make(map[string]struct{}, len(words))}
	for _, w := range words {
		s.words[w] = struct{}{}
	}
	return s
}

// LoadStopwordFile reads one word per line, tokenizing each line through
// SimpleScan the way the teacher's ft_stopwords.c load_stopwords does,
// so punctuation/case handling matches ordinary indexing.
func LoadStopwordFile(path string, tz *Tokenizer) (*StopwordSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	set := &StopwordSet{words: make(map[string]struct{})}
	sc := bufio.NewScanner(f)
	plain := &Tokenizer{MinWordLen: 1, MaxWordLen: 84}
	for sc.Scan() {
		for _, w := range plain.SimpleScan(sc.Bytes(), false) {
			set.words[string(w.Text)] = struct{}{}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	_ = tz
	return set, nil
}

// DefaultStopwords is MySQL's built-in English stopword list
// (ft_stopwords.c's compiled-in ft_precompiled_stopwords, abridged).
var DefaultStopwords = NewStopwordSet([]string{
	"a", "about", "an", "are", "as", "at", "be", "by", "com", "for",
	"from", "how", "i", "in", "is", "it", "of", "on", "or", "that",
	"the", "this", "to", "was", "what", "when", "where", "who", "will",
	"with", "the", "www",
})

// Contains reports whether word is a stopword. Under non-UTF8 column
// encodings the comparison falls back to a plain byte compare against
// latin1-folded stopwords (spec.md §4.4); this set already stores words
// as UTF-8/ASCII bytes, so Contains is always that fallback-equivalent
// byte compare.
func (s *StopwordSet) Contains(word []byte) bool {
	if s == nil {
		return false
	}
	_, ok := s.words[string(word)]
	return ok
}
