package agent

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"labrag/internal/models"
)

const unknownSource = "Unknown"

// FormatSources groups chunks by source in first-seen order and lists the
// sorted distinct pages of each, e.g. "paper.pdf — pages 1,2,3". Sources
// without pages are rendered bare.
func FormatSources(chunks []models.Chunk) []string {
	order := make([]string, 0)
	pages := map[string][]int{}
	for _, c := range chunks {
		src := c.Metadata.Source
		if src == "" {
			src = unknownSource
		}
		if _, seen := pages[src]; !seen {
			order = append(order, src)
			pages[src] = []int{}
		}
		if c.Metadata.Page != nil && !slices.Contains(pages[src], *c.Metadata.Page) {
			pages[src] = append(pages[src], *c.Metadata.Page)
		}
	}

	out := make([]string, 0, len(order))
	for _, src := range order {
		ps := pages[src]
		if len(ps) == 0 {
			out = append(out, src)
			continue
		}
		slices.Sort(ps)
		strs := make([]string, len(ps))
		for i, p := range ps {
			strs[i] = strconv.Itoa(p)
		}
		out = append(out, fmt.Sprintf("%s — pages %s", src, strings.Join(strs, ",")))
	}
	return out
}

// FormatContext numbers the chunks for the synthesis prompt.
func FormatContext(chunks []models.Chunk) string {
	blocks := make([]string, 0, len(chunks))
	for i, c := range chunks {
		src := c.Metadata.Source
		if src == "" {
			src = unknownSource
		}
		header := fmt.Sprintf("Document %d (Source: %s)", i+1, src)
		if c.Metadata.Page != nil {
			header = fmt.Sprintf("Document %d (Source: %s - page %d)", i+1, src, *c.Metadata.Page)
		}
		blocks = append(blocks, header+":\n"+c.Content)
	}
	return strings.Join(blocks, "\n\n")
}

// ChatHistory renders up to n messages preceding the latest one as
// "Human: ..." / "Ai: ..." lines.
func ChatHistory(msgs []models.Message, n int) string {
	if len(msgs) < 2 || n <= 0 {
		return ""
	}
	prior := msgs[:len(msgs)-1]
	if len(prior) > n {
		prior = prior[len(prior)-n:]
	}
	lines := make([]string, len(prior))
	for i, m := range prior {
		lines[i] = roleLabel(m.Role) + ": " + m.Content
	}
	return strings.Join(lines, "\n")
}

func roleLabel(r models.Role) string {
	s := string(r)
	if s == "" {
		return "Unknown"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
