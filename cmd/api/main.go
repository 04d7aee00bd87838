package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"labrag/internal/api"
	"labrag/internal/app"
	"labrag/internal/config"
	"labrag/internal/logger"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	lg := logger.New("labrag-api", cfg.LogLevel, cfg.OTelLogs)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := app.New(ctx, cfg, lg)
	cancel()
	if err != nil {
		log.Fatal(err)
	}
	defer a.Close()
	cfg = a.Cfg

	// Chat works without Temporal; only knowledge base builds need it.
	var wc api.WorkflowClient
	c, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		lg.Warn("temporal unavailable, build endpoints disabled", "address", cfg.TemporalAddress, "err", err)
	} else {
		defer c.Close()
		wc = c
	}

	h := api.NewServer(cfg, a.Agent, a.Ledger, a.Index, wc, lg)
	lg.Info("labrag api listening", "addr", cfg.APIAddr, "llm_providers", cfg.LLMProviders, "embed_providers", cfg.EmbedProviders)
	if err := http.ListenAndServe(cfg.APIAddr, h.Routes()); err != nil {
		log.Fatal(err)
	}
}
