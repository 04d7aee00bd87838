package util

import (
	"strings"
	"unicode"
)

// Preview flattens s to a single sanitized line of at most maxRunes runes.
func Preview(s string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = 160
	}
	s = strings.Join(strings.Fields(SanitizeText(s)), " ")
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if unicode.IsPrint(r) {
			out = append(out, r)
		}
	}
	if len(out) > maxRunes {
		return strings.TrimSpace(string(out[:maxRunes])) + "..."
	}
	return string(out)
}

// EvidencePreview returns the sentence of text sharing the most terms with
// query, cut to maxRunes. Ties go to the earlier sentence.
func EvidencePreview(text, query string, maxRunes int) string {
	terms := queryTerms(query)
	sentences := splitSentences(Preview(text, 4000))
	if len(terms) == 0 || len(sentences) == 0 {
		return Preview(text, maxRunes)
	}
	best, bestScore := sentences[0], -1
	for _, s := range sentences {
		low := strings.ToLower(s)
		score := 0
		for _, t := range terms {
			if strings.Contains(low, t) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = s, score
		}
	}
	return Preview(best, maxRunes)
}

func splitSentences(s string) []string {
	out := make([]string, 0, 8)
	var b strings.Builder
	for _, r := range s {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if x := strings.TrimSpace(b.String()); x != "" {
				out = append(out, x)
			}
			b.Reset()
		}
	}
	if rest := strings.TrimSpace(b.String()); rest != "" {
		out = append(out, rest)
	}
	return out
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "was": {}, "were": {}, "what": {}, "how": {},
	"why": {}, "which": {}, "that": {}, "this": {}, "with": {}, "from": {}, "does": {}, "into": {},
}

func queryTerms(q string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, 8)
	for _, f := range strings.Fields(strings.ToLower(q)) {
		f = strings.Trim(f, ",.;:!?()[]{}\"'`")
		if len(f) < 3 {
			continue
		}
		if _, ok := stopWords[f]; ok {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
