package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"labrag/internal/config"
	"labrag/internal/ledger"
	"labrag/internal/models"
	"labrag/internal/parsers"
	"labrag/internal/util"

	"golang.org/x/sync/errgroup"
)

type PDFParser interface {
	Parse(ctx context.Context, path string) (parsers.PDFResult, error)
}

type URLParser interface {
	Parse(ctx context.Context, url string) (*parsers.URLResult, error)
}

type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeSkipped   Outcome = "skipped"
	// OutcomeEmpty means the parser found nothing to index. The source stays
	// unprocessed so a later build retries it.
	OutcomeEmpty  Outcome = "empty"
	OutcomeFailed Outcome = "failed"
)

type SourceResult struct {
	Source  models.Source `json:"source"`
	Outcome Outcome       `json:"outcome"`
	Chunks  int           `json:"chunks"`
	Error   string        `json:"error,omitempty"`
	// Err is the failure cause; it does not survive serialization.
	Err error `json:"-"`
}

// Report summarizes one build. Results list PDFs, then URLs, each in input
// order, then repeated sources.
type Report struct {
	Processed int            `json:"processed"`
	Skipped   int            `json:"skipped"`
	Failed    int            `json:"failed"`
	Results   []SourceResult `json:"results"`
}

func (r *Report) record(res SourceResult) {
	switch res.Outcome {
	case OutcomeProcessed:
		r.Processed++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	}
	r.Results = append(r.Results, res)
}

type BuilderOptions struct {
	Ledger ledger.Ledger
	Loader *Loader
	PDF    PDFParser
	URL    URLParser
	// MaxConcurrency bounds parallel URL tasks; <= 0 runs them all at once.
	MaxConcurrency int
	Log            *slog.Logger
}

// Builder ingests sources into the index, skipping those the ledger already
// holds unless forced.
type Builder struct {
	ledger  ledger.Ledger
	loader  *Loader
	pdf     PDFParser
	url     URLParser
	maxConc int
	log     *slog.Logger
}

func NewBuilder(opts BuilderOptions) (*Builder, error) {
	if opts.Ledger == nil || opts.Loader == nil || opts.PDF == nil || opts.URL == nil {
		return nil, fmt.Errorf("%w: builder needs a ledger, loader and both parsers", util.ErrConfiguration)
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Builder{
		ledger:  opts.Ledger,
		loader:  opts.Loader,
		pdf:     opts.PDF,
		url:     opts.URL,
		maxConc: opts.MaxConcurrency,
		log:     log,
	}, nil
}

// BuildFromConfig reads a sources file and ingests every PDF in its papers
// directory and every listed URL.
func (b *Builder) BuildFromConfig(ctx context.Context, path string, force bool) (Report, error) {
	sf, err := config.LoadSources(path)
	if err != nil {
		return Report{}, err
	}
	sources, err := DiscoverSources(sf)
	if err != nil {
		return Report{}, err
	}
	return b.BuildFromSources(ctx, sources, force)
}

// DiscoverSources lists the PDFs of the papers directory followed by the
// configured URLs.
func DiscoverSources(sf config.SourcesFile) ([]models.Source, error) {
	paths, err := util.ListFiles(sf.DataSources.PapersDir, ".pdf")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrConfiguration, err)
	}
	out := make([]models.Source, 0, len(paths)+len(sf.DataSources.MediaURLs))
	for _, p := range paths {
		out = append(out, models.Source{ID: p, Kind: models.SourcePDF})
	}
	for _, u := range sf.DataSources.MediaURLs {
		out = append(out, models.Source{ID: u, Kind: models.SourceURL})
	}
	return out, nil
}

// BuildFromSources ingests PDFs one after another, then all URLs
// concurrently. A source listed more than once is ingested on its first
// occurrence only; the repeats are reported as skipped. A failing source is
// recorded in the report and never stops the others. The returned error is
// reserved for invalid input and cancellation.
func (b *Builder) BuildFromSources(ctx context.Context, sources []models.Source, force bool) (Report, error) {
	var pdfs, urls, repeats []models.Source
	seen := make(map[string]bool, len(sources))
	for _, s := range sources {
		switch s.Kind {
		case models.SourcePDF, models.SourceURL:
		default:
			return Report{}, fmt.Errorf("%w: source %q has unknown kind %q", util.ErrConfiguration, s.ID, s.Kind)
		}
		fp := util.Fingerprint(s.ID)
		if seen[fp] {
			repeats = append(repeats, s)
			continue
		}
		seen[fp] = true
		if s.Kind == models.SourcePDF {
			pdfs = append(pdfs, s)
		} else {
			urls = append(urls, s)
		}
	}

	b.log.InfoContext(ctx, "starting knowledge base build", "pdfs", len(pdfs), "urls", len(urls), "repeats", len(repeats), "force", force)
	report := Report{Results: make([]SourceResult, 0, len(sources))}

	for _, s := range pdfs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.record(b.IngestPDF(ctx, s.ID, force))
	}

	results := make([]SourceResult, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	if b.maxConc > 0 {
		g.SetLimit(b.maxConc)
	}
	for i, s := range urls {
		g.Go(func() error {
			results[i] = b.IngestURL(gctx, s.ID, force)
			return nil
		})
	}
	_ = g.Wait()
	for _, r := range results {
		report.record(r)
	}
	for _, s := range repeats {
		b.log.DebugContext(ctx, "source listed twice in one build", "source", s.ID)
		report.record(SourceResult{Source: s, Outcome: OutcomeSkipped})
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	b.log.InfoContext(ctx, "knowledge base build complete",
		"processed", report.Processed, "skipped", report.Skipped, "failed", report.Failed)
	return report, nil
}

func (b *Builder) IngestPDF(ctx context.Context, path string, force bool) SourceResult {
	src := models.Source{ID: path, Kind: models.SourcePDF}
	return b.ingest(ctx, src, force, func(ctx context.Context) (int, error) {
		res, err := b.pdf.Parse(ctx, path)
		if err != nil {
			return 0, err
		}
		return b.loader.LoadPDF(ctx, res)
	})
}

func (b *Builder) IngestURL(ctx context.Context, url string, force bool) SourceResult {
	src := models.Source{ID: url, Kind: models.SourceURL}
	return b.ingest(ctx, src, force, func(ctx context.Context) (int, error) {
		res, err := b.url.Parse(ctx, url)
		if err != nil {
			return 0, err
		}
		if res == nil {
			return 0, errEmpty
		}
		return b.loader.LoadURL(ctx, *res)
	})
}

var errEmpty = errors.New("no content")

// ingest writes the index before the ledger. A crash in between leaves the
// source unprocessed and the retry overwrites the same chunk ids.
func (b *Builder) ingest(ctx context.Context, src models.Source, force bool, load func(context.Context) (int, error)) SourceResult {
	res := SourceResult{Source: src}
	fp := util.Fingerprint(src.ID)
	log := b.log.With("source", src.ID, "kind", src.Kind)

	if !force {
		done, err := b.ledger.IsProcessed(ctx, fp)
		if err != nil {
			return failed(ctx, log, res, err)
		}
		if done {
			log.DebugContext(ctx, "already processed")
			res.Outcome = OutcomeSkipped
			return res
		}
	}

	log.InfoContext(ctx, "processing source")
	n, err := load(ctx)
	if errors.Is(err, errEmpty) {
		log.WarnContext(ctx, "source has no extractable content")
		res.Outcome = OutcomeEmpty
		return res
	}
	if err != nil {
		return failed(ctx, log, res, err)
	}
	if err := b.ledger.Add(ctx, fp, src.ID, src.Kind); err != nil {
		return failed(ctx, log, res, err)
	}
	res.Outcome = OutcomeProcessed
	res.Chunks = n
	log.InfoContext(ctx, "processed source", "chunks", n)
	return res
}

func failed(ctx context.Context, log *slog.Logger, res SourceResult, err error) SourceResult {
	log.ErrorContext(ctx, "source ingestion failed", "err", err)
	res.Outcome = OutcomeFailed
	res.Error = err.Error()
	res.Err = err
	return res
}
