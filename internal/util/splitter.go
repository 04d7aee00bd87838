package util

import (
	"fmt"
	"unicode"
)

var DefaultSeparators = []string{"\n\n", "\n", ". ", " "}

// Span is a half-open rune range [Start, End) of the split input.
type Span struct {
	Text  string
	Start int
	End   int
}

// Splitter cuts text into windows of at most Size runes. A window ends on the
// latest preferred separator that still fits, falling back through
// Separators and finally a hard cut. Consecutive windows share at most
// Overlap runes.
type Splitter struct {
	Size       int
	Overlap    int
	Separators []string
}

func NewSplitter(size, overlap int) (Splitter, error) {
	if size <= 0 {
		return Splitter{}, fmt.Errorf("%w: chunk size %d must be positive", ErrConfiguration, size)
	}
	if overlap < 0 || overlap >= size {
		return Splitter{}, fmt.Errorf("%w: chunk overlap %d must be in [0, %d)", ErrConfiguration, overlap, size)
	}
	return Splitter{Size: size, Overlap: overlap, Separators: DefaultSeparators}, nil
}

func (s Splitter) Split(text string) []Span {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}
	out := make([]Span, 0, n/s.Size+1)
	start := 0
	for {
		if n-start <= s.Size {
			out = append(out, Span{Text: string(runes[start:n]), Start: start, End: n})
			return out
		}
		end := s.boundary(runes, start)
		out = append(out, Span{Text: string(runes[start:end]), Start: start, End: end})
		start = s.nextStart(runes, start, end)
	}
}

// SplitText returns only the window texts.
func (s Splitter) SplitText(text string) []string {
	spans := s.Split(text)
	out := make([]string, 0, len(spans))
	for _, sp := range spans {
		out = append(out, sp.Text)
	}
	return out
}

// boundary picks the end of the window starting at start. Candidate ends must
// lie past start+Overlap so the next window always moves forward.
func (s Splitter) boundary(runes []rune, start int) int {
	limit := start + s.Size
	floor := start + s.Overlap
	for _, sep := range s.Separators {
		sr := []rune(sep)
		for end := limit; end-len(sr) >= start && end > floor; end-- {
			if hasRunesAt(runes, end-len(sr), sr) {
				return end
			}
		}
	}
	return limit
}

// nextStart backs off Overlap runes from end, then moves forward to the first
// word start so overlapping text does not begin mid-word.
func (s Splitter) nextStart(runes []rune, start, end int) int {
	if s.Overlap == 0 {
		return end
	}
	next := end - s.Overlap
	for p := next; p < end; p++ {
		if p > 0 && unicode.IsSpace(runes[p-1]) && !unicode.IsSpace(runes[p]) {
			next = p
			break
		}
	}
	if next <= start {
		next = start + 1
	}
	return next
}

func hasRunesAt(runes []rune, at int, sep []rune) bool {
	if at < 0 || at+len(sep) > len(runes) {
		return false
	}
	for i, r := range sep {
		if runes[at+i] != r {
			return false
		}
	}
	return true
}
