// Package ingestion turns parsed sources into indexed chunks and keeps the
// processing ledger in step with the vector index.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"labrag/internal/models"
	"labrag/internal/parsers"
	"labrag/internal/util"
	"labrag/internal/vector"
)

// Loader chunks parser output and writes it to the index.
type Loader struct {
	index    vector.Index
	splitter util.Splitter
	log      *slog.Logger
}

func NewLoader(index vector.Index, splitter util.Splitter, log *slog.Logger) *Loader {
	if log == nil {
		log = slog.Default()
	}
	return &Loader{index: index, splitter: splitter, log: log}
}

// PDFChunks keeps the parser's page segmentation. Only the source fields and
// the parsing method are copied from the document metadata.
func PDFChunks(res parsers.PDFResult) []models.Chunk {
	source := res.Metadata.Source
	out := make([]models.Chunk, 0, len(res.Chunks))
	for i, pc := range res.Chunks {
		out = append(out, models.Chunk{
			ID:      models.ChunkID(i, source),
			Content: pc.Content,
			Metadata: models.ChunkMetadata{
				Source:        source,
				SourceType:    res.Metadata.SourceType,
				SourceURL:     res.Metadata.SourceURL,
				ParsingMethod: res.Metadata.ParsingMethod,
				Page:          models.IntPtr(pc.Page),
				ChunkIndex:    i,
				TotalChunks:   len(res.Chunks),
			},
		})
	}
	return out
}

// URLChunks splits the article body. Every chunk carries the full document
// metadata and no page.
func URLChunks(res parsers.URLResult, splitter util.Splitter) []models.Chunk {
	pieces := splitter.SplitText(res.Content)
	source := res.Metadata.Source
	out := make([]models.Chunk, 0, len(pieces))
	for i, text := range pieces {
		meta := models.ChunkMetadata{
			Source:        source,
			SourceType:    res.Metadata.SourceType,
			SourceURL:     res.Metadata.SourceURL,
			Title:         res.Metadata.Title,
			ParsingMethod: res.Metadata.ParsingMethod,
			ChunkIndex:    i,
			TotalChunks:   len(pieces),
		}
		if len(res.Metadata.Extra) > 0 {
			meta.Extra = maps.Clone(res.Metadata.Extra)
		}
		out = append(out, models.Chunk{ID: models.ChunkID(i, source), Content: text, Metadata: meta})
	}
	return out
}

func (l *Loader) LoadPDF(ctx context.Context, res parsers.PDFResult) (int, error) {
	chunks := PDFChunks(res)
	if err := l.add(ctx, res.Metadata.Source, chunks); err != nil {
		return 0, err
	}
	l.log.InfoContext(ctx, "loaded pdf chunks", "source", res.Metadata.Source, "chunks", len(chunks))
	return len(chunks), nil
}

func (l *Loader) LoadURL(ctx context.Context, res parsers.URLResult) (int, error) {
	chunks := URLChunks(res, l.splitter)
	if err := l.add(ctx, res.Metadata.Source, chunks); err != nil {
		return 0, err
	}
	l.log.InfoContext(ctx, "loaded url chunks", "source", res.Metadata.Source, "chunks", len(chunks))
	return len(chunks), nil
}

func (l *Loader) add(ctx context.Context, source string, chunks []models.Chunk) error {
	if strings.TrimSpace(source) == "" {
		return fmt.Errorf("%w: document has no source", util.ErrParse)
	}
	if len(chunks) == 0 {
		return fmt.Errorf("%s: %w", source, util.ErrNoExtractableText)
	}
	if err := l.index.Add(ctx, chunks); err != nil {
		return fmt.Errorf("index %s: %w", source, err)
	}
	return nil
}
