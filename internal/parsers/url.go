package parsers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"labrag/internal/models"
	"labrag/internal/util"

	"golang.org/x/time/rate"
)

const (
	URLParsingMethod = "readability"
	maxBodyBytes     = 10 << 20
	userAgent        = "labrag/1.0 (+knowledge-base builder)"
)

type URLResult struct {
	Content    string
	RawContent string
	Metadata   models.DocumentMetadata
}

// Cleaner rewrites extracted article text, dropping ads and boilerplate.
type Cleaner interface {
	Clean(ctx context.Context, article string) (string, error)
}

type URLParserOptions struct {
	Client *http.Client
	// RequestsPerSecond caps fetches across all concurrent parses; <= 0 disables the cap.
	RequestsPerSecond float64
	Cleaner           Cleaner
	Log               *slog.Logger
}

type URLParser struct {
	client  *http.Client
	limiter *rate.Limiter
	cleaner Cleaner
	log     *slog.Logger
}

func NewURLParser(opts URLParserOptions) *URLParser {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &URLParser{
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		cleaner: opts.Cleaner,
		log:     log,
	}
}

// Parse fetches and extracts an article. It returns nil, nil when the page
// has no usable content.
func (p *URLParser) Parse(ctx context.Context, rawURL string) (*URLResult, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request for %s: %v", util.ErrParse, rawURL, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %v", util.ErrParse, rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: fetch %s: status %d", util.ErrParse, rawURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", util.ErrParse, rawURL, err)
	}

	var title, text string
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch mediaType {
	case "text/plain", "text/markdown":
		text = strings.TrimSpace(util.SanitizeText(string(body)))
	default:
		title, text = ExtractArticle(string(body))
	}
	if text == "" {
		p.log.WarnContext(ctx, "no content extracted", "url", rawURL)
		return nil, nil
	}

	content := text
	if p.cleaner != nil {
		p.log.InfoContext(ctx, "cleaning article", "url", rawURL)
		cleaned, err := p.cleaner.Clean(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("clean article %s: %w", rawURL, err)
		}
		content = strings.TrimSpace(cleaned)
		if content == "" {
			p.log.WarnContext(ctx, "article cleaning left no relevant content", "url", rawURL)
			return nil, nil
		}
	}

	return &URLResult{
		Content:    content,
		RawContent: text,
		Metadata: models.DocumentMetadata{
			Source:        rawURL,
			SourceType:    models.SourceURL,
			SourceURL:     rawURL,
			Title:         strings.TrimSpace(title),
			ParsingMethod: URLParsingMethod,
		},
	}, nil
}
