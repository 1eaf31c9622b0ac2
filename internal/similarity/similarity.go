// Package similarity provides token-set similarity metrics for memory values.
//
// All other decision components (write gate, scoring, conflict resolution,
// retrieval rerank) are built on these metrics. The tokenizer is CJK-aware:
// CJK text is not space-delimited, so each CJK character is emitted as a
// unigram in addition to the whole chunk, which gives usable overlap signals
// without a word segmenter.
package similarity

import "strings"

// stopWords are dropped before any set comparison. Mixed English/Chinese
// because memory values routinely contain both.
var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"and": {}, "or": {}, "of": {}, "to": {}, "in": {}, "on": {}, "at": {},
	"user": {}, "users": {}, "i": {}, "my": {}, "me": {}, "we": {},
	"的": {}, "了": {}, "是": {}, "在": {}, "和": {}, "我": {}, "用户": {},
}

// cjkPunct maps fullwidth punctuation to a space before chunking.
const cjkPunct = "，。！？；：“”‘’【】（）《》、"

func isCJK(r rune) bool {
	return r >= 0x4E00 && r <= 0x9FFF
}

func containsCJK(s string) bool {
	for _, r := range s {
		if isCJK(r) {
			return true
		}
	}
	return false
}

// Tokenize splits text into lowercased meaningful tokens.
//
// Latin chunks are kept whole (length >= 1). Chunks containing CJK characters
// contribute each CJK character as a unigram plus the whole chunk when it is
// at least two characters long. Stop words are dropped at both levels.
func Tokenize(text string) []string {
	normalized := strings.ToLower(text)
	normalized = strings.Map(func(r rune) rune {
		if strings.ContainsRune(cjkPunct, r) {
			return ' '
		}
		return r
	}, normalized)

	// Strip everything that is not alphanumeric, CJK, whitespace, or slug
	// punctuation before splitting on whitespace.
	normalized = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case isCJK(r):
			return r
		case r == '_' || r == '.' || r == '-':
			return r
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			return r
		default:
			return ' '
		}
	}, normalized)

	var tokens []string
	for _, chunk := range strings.Fields(normalized) {
		if _, stop := stopWords[chunk]; stop {
			continue
		}
		if containsCJK(chunk) {
			for _, r := range chunk {
				if !isCJK(r) {
					continue
				}
				c := string(r)
				if _, stop := stopWords[c]; stop {
					continue
				}
				tokens = append(tokens, c)
			}
			if len([]rune(chunk)) >= 2 {
				tokens = append(tokens, chunk)
			}
			continue
		}
		tokens = append(tokens, chunk)
	}
	return tokens
}

// TokenSet returns the deduplicated token set of text.
func TokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range Tokenize(text) {
		set[t] = struct{}{}
	}
	return set
}

func intersectionSize(a, b map[string]struct{}) int {
	if len(b) < len(a) {
		a, b = b, a
	}
	n := 0
	for t := range a {
		if _, ok := b[t]; ok {
			n++
		}
	}
	return n
}

// Jaccard computes |A∩B| / |A∪B| over the token sets of a and b.
// Two empty sets are considered identical (1.0); exactly one empty set
// yields 0.0.
func Jaccard(a, b string) float64 {
	setA, setB := TokenSet(a), TokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := intersectionSize(setA, setB)
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Overlap computes the overlap coefficient |A∩B| / min(|A|, |B|).
// Better than Jaccard when one value is a near-subset of the other.
// Returns 0 if either token set is empty.
func Overlap(a, b string) float64 {
	setA, setB := TokenSet(a), TokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := intersectionSize(setA, setB)
	minSize := len(setA)
	if len(setB) < minSize {
		minSize = len(setB)
	}
	return float64(inter) / float64(minSize)
}

// Combined is max(Jaccard, Overlap). Used wherever one value may be a
// near-subset of another, such as merge candidates.
func Combined(a, b string) float64 {
	j := Jaccard(a, b)
	o := Overlap(a, b)
	if o > j {
		return o
	}
	return j
}

// Clamp01 clamps v into [0, 1]. NaN clamps to 0.
func Clamp01(v float64) float64 {
	if v != v || v <= 0 {
		return 0
	}
	if v >= 1 {
		return 1
	}
	return v
}
