package analyzer

import "unicode"

// Span is a half-open [Start, End) range of rune offsets.
type Span struct {
	Start int
	End   int
}

// Spans returns the maximal runs of non-whitespace runes in text, in order.
func Spans(text []rune) []Span {
	var spans []Span
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				spans = append(spans, Span{Start: start, End: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		spans = append(spans, Span{Start: start, End: len(text)})
	}
	return spans
}
