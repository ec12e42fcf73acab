package analyzer

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Tokenizer turns text into normalized lexical terms: lower-cased runs of
// letters and digits with stopwords and single characters removed.
type Tokenizer struct {
	stopwords map[string]struct{}
	minLen    int
}

// NewTokenizer creates a Tokenizer using the default English and patent
// boilerplate stopwords plus any extra words given.
func NewTokenizer(extra ...string) *Tokenizer {
	stops := defaultStopwords()
	for _, w := range extra {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			stops[w] = struct{}{}
		}
	}
	return &Tokenizer{
		stopwords: stops,
		minLen:    2,
	}
}

// Tokenize splits text into terms, keeping their order and duplicates.
func (t *Tokenizer) Tokenize(text string) []string {
	all := words(strings.ToLower(text))
	terms := all[:0]
	for _, w := range all {
		if utf8.RuneCountInString(w) < t.minLen {
			continue
		}
		if _, stop := t.stopwords[w]; stop {
			continue
		}
		terms = append(terms, w)
	}
	return terms
}

// CountTokens returns the number of whitespace-delimited tokens in text,
// the unit chunk sizes are measured in.
func (t *Tokenizer) CountTokens(text string) int {
	return len(Spans([]rune(text)))
}

// IsStopword reports whether term is dropped by Tokenize.
func (t *Tokenizer) IsStopword(term string) bool {
	_, ok := t.stopwords[strings.ToLower(term)]
	return ok
}

// TermFrequencies counts occurrences of each term.
func TermFrequencies(terms []string) map[string]int {
	tf := make(map[string]int, len(terms))
	for _, term := range terms {
		tf[term]++
	}
	return tf
}

// words splits text on anything that is not a letter or digit, so
// "H01L 21/02" yields three words.
func words(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// defaultStopwords returns common English stopwords and claim boilerplate.
func defaultStopwords() map[string]struct{} {
	stops := []string{
		"a", "an", "and", "are", "as", "at", "be", "by", "for",
		"from", "has", "he", "in", "is", "it", "its", "of", "on",
		"that", "the", "to", "was", "were", "will", "with", "this",
		"have", "had", "but", "not", "you", "your", "we", "our",
		"they", "their", "she", "her", "his", "if", "or", "so",
		"no", "can", "do", "does", "did", "been", "being", "would",
		"could", "should", "may", "might", "must", "shall", "which",
		"who", "whom", "what", "when", "where", "why", "how", "all",
		"each", "every", "both", "few", "more", "most", "other",
		"some", "such", "than", "too", "very", "just", "also",
		// patent boilerplate
		"wherein", "whereby", "comprising", "comprises", "comprise",
		"said", "thereof", "therein", "thereto", "herein", "claim",
		"claims", "claimed", "according", "embodiment", "embodiments",
	}
	m := make(map[string]struct{}, len(stops))
	for _, s := range stops {
		m[s] = struct{}{}
	}
	return m
}
