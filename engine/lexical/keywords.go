package lexical

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MinKeywordLen is the shortest word kept as a keyword; words of three
// runes or fewer are dropped.
const MinKeywordLen = 4

// MaxKeywords caps the keyword set stored per record.
const MaxKeywords = 20

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "in": {}, "on": {},
	"at": {}, "to": {}, "for": {}, "of": {}, "with": {}, "by": {}, "is": {}, "are": {},
	"was": {}, "were": {}, "be": {}, "been": {}, "being": {}, "have": {}, "has": {},
	"had": {}, "do": {}, "does": {}, "did": {}, "will": {}, "would": {}, "could": {},
	"should": {}, "may": {}, "might": {}, "can": {}, "this": {}, "that": {}, "these": {},
	"those": {},
}

// Keywords lowercases text, trims surrounding punctuation from each word and
// keeps the first MaxKeywords distinct non-stopwords of at least
// MinKeywordLen runes.
func Keywords(text string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.TrimFunc(w, func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSymbol(r) })
		if utf8.RuneCountInString(w) < MinKeywordLen {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
		if len(out) == MaxKeywords {
			break
		}
	}
	return out
}

type wordSet map[string]struct{}

// words is the lowercase whitespace-delimited word set used for Jaccard scoring.
func words(text string) wordSet {
	fields := strings.Fields(strings.ToLower(text))
	set := make(wordSet, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// jaccard returns |a ∩ b| / |a ∪ b|, or 0 when either set is empty.
func jaccard(a, b wordSet) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}
