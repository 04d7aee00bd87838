package main

import (
	"context"
	"fmt"
	"time"

	"labrag/internal/app"
	"labrag/internal/config"
	"labrag/internal/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type cli struct {
	sourcesFile string
	verbose     bool

	// overridable in tests
	loadConfig func() config.Config
	app        *app.App
}

func newRootCmd() *cobra.Command {
	c := &cli{loadConfig: func() config.Config {
		_ = godotenv.Load(".env")
		return config.Load()
	}}
	return c.command()
}

func (c *cli) command() *cobra.Command {
	root := &cobra.Command{
		Use:   "kb",
		Short: "LabRAG knowledge base tool",
		Long: `kb builds the lab's knowledge base from papers and web articles and
answers questions over it.

Example usage:
  kb build                     # Ingest every new source in the sources file
  kb build --force             # Re-ingest everything
  kb ledger list               # Show processed sources
  kb chat                      # Interactive conversation
  kb search "gene flow" -k 5   # Raw similarity search`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if c.app == nil {
				return nil
			}
			err := c.app.Close()
			c.app = nil
			return err
		},
	}
	root.PersistentFlags().StringVar(&c.sourcesFile, "config", "", "sources file (default from LABRAG_SOURCES_FILE)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(c.buildCmd(), c.ledgerCmd(), c.chatCmd(), c.sourcesCmd(), c.searchCmd())
	return root
}

// open assembles the app once per invocation. --config picks the sources file
// whose vector_store settings app.New applies.
func (c *cli) open(ctx context.Context) (*app.App, error) {
	if c.app != nil {
		return c.app, nil
	}
	cfg := c.loadConfig()
	if c.sourcesFile != "" {
		cfg.SourcesFile = c.sourcesFile
	}
	// Logs would interleave with answers, so they are opt-in here.
	lg := logger.Discard()
	if c.verbose {
		lg = logger.New("labrag-kb", "debug", cfg.OTelLogs)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	a, err := app.New(ctx, cfg, lg)
	if err != nil {
		return nil, fmt.Errorf("open knowledge base: %w", err)
	}
	c.app = a
	return a, nil
}
