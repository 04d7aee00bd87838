package main

import (
	"context"
	stdlog "log"
	"time"

	"labrag/internal/activities"
	"labrag/internal/app"
	"labrag/internal/config"
	"labrag/internal/logger"
	"labrag/internal/workflows"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	lg := logger.New("labrag-worker", cfg.LogLevel, cfg.OTelLogs)

	c, err := client.Dial(client.Options{
		HostPort: cfg.TemporalAddress,
		Logger:   log.NewStructuredLogger(lg),
	})
	if err != nil {
		stdlog.Fatal(err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := app.New(ctx, cfg, lg)
	cancel()
	if err != nil {
		stdlog.Fatal(err)
	}
	defer a.Close()
	cfg = a.Cfg

	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{})
	workflows.Register(w)
	activities.Register(w, activities.New(a.Builder, cfg.DataOutRoot))

	lg.Info("labrag worker listening", "address", cfg.TemporalAddress, "queue", cfg.TemporalTaskQueue, "llm_providers", cfg.LLMProviders, "embed_providers", cfg.EmbedProviders)
	if err := w.Run(worker.InterruptCh()); err != nil {
		stdlog.Fatal(err)
	}
}
