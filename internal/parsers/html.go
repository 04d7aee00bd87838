package parsers

import (
	"strings"

	"codeberg.org/readeck/go-readability/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

// Readability output shorter than this usually means it only caught a title
// or a byline, so extraction falls back to the whole page.
const minArticleChars = 200

const blockSelector = "h1, h2, h3, h4, h5, h6, p, li, pre, blockquote"

// ExtractArticle returns the page title and its main text with paragraphs
// separated by blank lines. Plain text input is returned as is.
func ExtractArticle(raw string) (string, string) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ""
	}
	if !strings.Contains(trimmed, "<") {
		return "", normalizeSpaces(trimmed)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(trimmed))
	if err != nil {
		return "", stripTags(trimmed)
	}
	title := pageTitle(doc)

	doc.Find("script, style, noscript, iframe, embed, object, video, audio, canvas, svg, form").Remove()
	doc.Find("nav, header, footer, aside").Remove()
	doc.Find("[class*='share'], [class*='social'], [class*='comment'], [id*='comment'], [class*='advert'], [id*='advert']").Remove()
	cleaned, err := doc.Html()
	if err != nil || cleaned == "" {
		cleaned = trimmed
	}

	if article, err := readability.FromReader(strings.NewReader(cleaned), nil); err == nil {
		var textBuf strings.Builder
		if err := article.RenderText(&textBuf); err == nil && len(strings.TrimSpace(textBuf.String())) >= minArticleChars {
			var htmlBuf strings.Builder
			if err := article.RenderHTML(&htmlBuf); err == nil {
				if text := blockText(htmlBuf.String()); text != "" {
					return title, text
				}
			}
			return title, normalizeSpaces(textBuf.String())
		}
	}

	if text := blockText(cleaned); text != "" {
		return title, text
	}
	return title, stripTags(cleaned)
}

func pageTitle(doc *goquery.Document) string {
	if v, ok := doc.Find("meta[property='og:title']").Attr("content"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

// blockText collects block-level text in document order. Blocks nested in
// another matched block are skipped so their text is not repeated.
func blockText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	parts := make([]string, 0, 32)
	doc.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		if s.ParentsFiltered(blockSelector).Length() > 0 {
			return
		}
		if text := normalizeSpaces(s.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, "\n\n")
}

func stripTags(raw string) string {
	return normalizeSpaces(bluemonday.StrictPolicy().Sanitize(raw))
}

func normalizeSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
