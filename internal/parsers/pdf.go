// Package parsers turns raw sources into text plus document metadata.
package parsers

import (
	"bufio"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"labrag/internal/models"
	"labrag/internal/util"

	"github.com/ledongthuc/pdf"
)

const PDFParsingMethod = "ledongthuc_pdf"

// PDFResult is a pre-segmented document: every chunk carries its page.
type PDFResult struct {
	Content  string
	Metadata models.DocumentMetadata
	Chunks   []models.PageChunk
}

// PDFParser extracts text page by page. Pages longer than the splitter size
// are split further and every piece keeps the page number.
type PDFParser struct {
	splitter util.Splitter
}

func NewPDFParser(splitter util.Splitter) *PDFParser {
	return &PDFParser{splitter: splitter}
}

func (p *PDFParser) Parse(ctx context.Context, path string) (res PDFResult, err error) {
	// The pdf package panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", util.ErrParse, path, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return PDFResult{}, fmt.Errorf("%w: open pdf %s: %v", util.ErrParse, path, err)
	}
	defer f.Close()

	var all strings.Builder
	chunks := make([]models.PageChunk, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return PDFResult{}, err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return PDFResult{}, fmt.Errorf("%w: page %d of %s: %v", util.ErrParse, i, path, err)
		}
		text = util.SanitizeText(text)
		if text == "" {
			continue
		}
		all.WriteString(text)
		all.WriteString("\n\n")
		for _, piece := range p.splitter.SplitText(text) {
			if strings.TrimSpace(piece) == "" {
				continue
			}
			chunks = append(chunks, models.PageChunk{Content: piece, Page: i})
		}
	}
	if len(chunks) == 0 {
		return PDFResult{}, fmt.Errorf("%s: %w", path, util.ErrNoExtractableText)
	}

	content := strings.TrimSpace(all.String())
	title, authors := heuristicTitleAndAuthors(content)
	meta := models.DocumentMetadata{
		Source:        filepath.Base(path),
		SourceType:    models.SourcePDF,
		Title:         title,
		ParsingMethod: PDFParsingMethod,
	}
	if authors != "" {
		meta.Extra = map[string]any{"authors": authors}
	}
	return PDFResult{Content: content, Metadata: meta, Chunks: chunks}, nil
}

// heuristicTitleAndAuthors takes the first two non-empty lines.
func heuristicTitleAndAuthors(text string) (string, string) {
	s := bufio.NewScanner(strings.NewReader(text))
	lines := make([]string, 0, 2)
	for s.Scan() && len(lines) < 2 {
		if line := strings.TrimSpace(s.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	var title, authors string
	if len(lines) > 0 {
		title = lines[0]
	}
	if len(lines) > 1 {
		authors = lines[1]
	}
	return title, authors
}
