// Package app assembles the ledger, index, builder and conversation service
// from configuration. Every binary starts here.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"labrag/internal/agent"
	"labrag/internal/config"
	"labrag/internal/ingestion"
	"labrag/internal/ledger"
	"labrag/internal/parsers"
	"labrag/internal/providers"
	"labrag/internal/storage"
	"labrag/internal/util"
	"labrag/internal/vector"
)

type App struct {
	Cfg       config.Config
	Log       *slog.Logger
	Prompts   *config.Prompts
	Providers *providers.Manager
	Ledger    ledger.Ledger
	Index     vector.Index
	Builder   *ingestion.Builder
	Agent     *agent.Service

	closers []func() error
}

// New applies the sources file overrides to cfg, validates it and opens every
// store it names. Close releases them.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	cfg, err := config.WithSources(cfg.Normalize())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{Cfg: cfg, Log: log}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Cfg
	prompts, err := config.LoadPrompts(cfg.PromptsFile)
	if err != nil {
		return err
	}
	a.Prompts = prompts

	pm, err := providers.NewManager(cfg, a.Log)
	if err != nil {
		return err
	}
	a.Providers = pm

	var db *storage.DB
	if cfg.LedgerBackend == "postgres" || cfg.VectorBackend == "pgvector" {
		db, err = storage.NewDB(ctx, cfg.PostgresURL, cfg.VectorBackend == "pgvector")
		if err != nil {
			return fmt.Errorf("%w: %v", util.ErrStorage, err)
		}
		a.closers = append(a.closers, func() error { db.Close(); return nil })

		audit, err := storage.NewLLMAuditRepo(ctx, db)
		if err != nil {
			return fmt.Errorf("%w: %v", util.ErrStorage, err)
		}
		pm.SetRecorder(auditRecorder{repo: audit})
	}

	if err := a.openLedger(ctx, db); err != nil {
		return err
	}
	if err := a.openIndex(ctx, db); err != nil {
		return err
	}

	splitter, err := util.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return err
	}
	var cleaner parsers.Cleaner
	if cfg.CleanArticles {
		cleaner = parsers.NewLLMCleaner(pm.LLM(), prompts, cfg.CleanModel)
	}
	a.Builder, err = ingestion.NewBuilder(ingestion.BuilderOptions{
		Ledger: a.Ledger,
		Loader: ingestion.NewLoader(a.Index, splitter, a.Log),
		PDF:    parsers.NewPDFParser(splitter),
		URL: parsers.NewURLParser(parsers.URLParserOptions{
			RequestsPerSecond: cfg.FetchRPS,
			Cleaner:           cleaner,
			Log:               a.Log,
		}),
		MaxConcurrency: cfg.IngestMaxConcurrency,
		Log:            a.Log,
	})
	if err != nil {
		return err
	}

	ckpt, err := a.openCheckpointer(ctx)
	if err != nil {
		return err
	}
	a.Agent, err = agent.NewService(agent.ServiceOptions{
		LLM:     pm.LLM(),
		Index:   a.Index,
		Prompts: prompts,
		Models: agent.Models{
			Intent:    cfg.IntentModel,
			Chat:      cfg.ChatModel,
			Synthesis: cfg.SynthesisModel,
		},
		TopK:          cfg.RetrievalTopK,
		HistoryWindow: cfg.HistoryWindow,
		Checkpointer:  ckpt,
		Log:           a.Log,
	})
	return err
}

func (a *App) openLedger(ctx context.Context, db *storage.DB) error {
	if a.Cfg.LedgerBackend == "postgres" {
		l, err := ledger.NewPostgres(ctx, db)
		if err != nil {
			return err
		}
		a.Ledger = l
	} else {
		l, err := ledger.OpenSQLite(ctx, a.Cfg.LedgerPath)
		if err != nil {
			return err
		}
		a.Ledger = l
	}
	a.closers = append(a.closers, a.Ledger.Close)
	return nil
}

func (a *App) openIndex(ctx context.Context, db *storage.DB) error {
	metric, err := vector.ParseMetric(a.Cfg.VectorMetric)
	if err != nil {
		return fmt.Errorf("%w: %v", util.ErrConfiguration, err)
	}
	opts := vector.EmbedOptions{
		Embedder:  a.Providers.Embedder(),
		Model:     a.Cfg.EmbedModel,
		Dimension: a.Cfg.EmbedDim,
		BatchSize: a.Cfg.EmbedBatchSize,
	}
	if a.Cfg.VectorBackend == "pgvector" {
		a.Index, err = vector.NewPGIndex(ctx, db, metric, opts, a.Log)
	} else {
		a.Index, err = vector.OpenFileIndex(a.Cfg.VectorStorePath, metric, opts, a.Log)
	}
	return err
}

func (a *App) openCheckpointer(ctx context.Context) (agent.Checkpointer, error) {
	if a.Cfg.SessionBackend != "sqlite" {
		return agent.NewMemoryCheckpointer(), nil
	}
	durable, err := agent.OpenSQLiteCheckpointer(ctx, a.Cfg.SessionPath)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, durable.Close)
	return agent.NewCachedCheckpointer(durable, a.Cfg.SessionCache)
}

// auditRecorder stores provider call records in the llm_calls table.
type auditRecorder struct {
	repo *storage.LLMAuditRepo
}

func (r auditRecorder) RecordCall(ctx context.Context, rec providers.CallRecord) error {
	return r.repo.Insert(ctx, storage.LLMCallRecord{
		Operation: rec.Operation,
		Provider:  rec.Provider,
		KeyAlias:  rec.KeyAlias,
		Model:     rec.Model,
		Status:    rec.Status,
		ErrorType: string(rec.ErrorType),
		LatencyMS: rec.Latency.Milliseconds(),
	})
}

// Close releases stores in reverse opening order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
