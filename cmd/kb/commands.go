package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"labrag/internal/ingestion"
	"labrag/internal/util"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func (c *cli) buildCmd() *cobra.Command {
	var (
		force   bool
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Ingest the papers and URLs named in the sources file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			rep, err := a.Builder.BuildFromConfig(cmd.Context(), a.Cfg.SourcesFile, force)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), rep)
			}
			printReport(cmd.OutOrStdout(), rep)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "re-ingest sources already in the ledger")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output the build report as JSON")
	return cmd
}

func printReport(w io.Writer, rep ingestion.Report) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tKIND\tOUTCOME\tCHUNKS\tERROR")
	for _, r := range rep.Results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", r.Source.ID, r.Source.Kind, r.Outcome, r.Chunks, r.Error)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\nprocessed=%d skipped=%d failed=%d\n", rep.Processed, rep.Skipped, rep.Failed)
}

func (c *cli) ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect or edit the processing ledger",
	}
	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List processed sources, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := a.Ledger.ListAll(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "PROCESSED AT\tKIND\tSOURCE")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", e.ProcessedAt.Format(time.RFC3339), e.Kind, e.Source)
			}
			return tw.Flush()
		},
	}
	forget := &cobra.Command{
		Use:   "forget <source>",
		Short: "Drop a source from the ledger so the next build re-ingests it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			removed, err := a.Ledger.Remove(cmd.Context(), util.Fingerprint(args[0]))
			if err != nil {
				return err
			}
			if !removed {
				fmt.Fprintf(cmd.OutOrStdout(), "%s was not in the ledger\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "forgot %s\n", args[0])
			return nil
		},
	}
	cmd.AddCommand(list, forget)
	return cmd
}

func (c *cli) chatCmd() *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Ask a question, or start an interactive session with no message",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			if session == "" {
				session = uuid.NewString()
			}
			out := cmd.OutOrStdout()
			ask := func(msg string) error {
				res, err := a.Agent.RunTurn(cmd.Context(), session, msg)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, res.Reply)
				return nil
			}
			if len(args) > 0 {
				return ask(strings.Join(args, " "))
			}

			fmt.Fprintf(out, "session %s (type 'exit' to quit)\n", session)
			sc := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "> ")
				if !sc.Scan() {
					return sc.Err()
				}
				msg := strings.TrimSpace(sc.Text())
				switch msg {
				case "":
					continue
				case "exit", "quit":
					return nil
				}
				if err := ask(msg); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
				}
			}
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "session id to continue (default: new session)")
	return cmd
}

func (c *cli) sourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List sources present in the vector index",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			sources, err := a.Index.Sources(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range sources {
				fmt.Fprintln(cmd.OutOrStdout(), s)
			}
			return nil
		},
	}
}

func (c *cli) searchCmd() *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a similarity search against the vector index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			query := strings.Join(args, " ")
			hits, err := a.Index.SearchWithScores(cmd.Context(), query, k)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, h := range hits {
				page := "N/A"
				if h.Chunk.Metadata.Page != nil {
					page = fmt.Sprint(*h.Chunk.Metadata.Page)
				}
				fmt.Fprintf(out, "%d. %.4f  %s (page %s)\n   %s\n", i+1, h.Score, h.Chunk.Metadata.Source, page, util.EvidencePreview(h.Chunk.Content, query, 240))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "top-k", "k", 5, "number of chunks to return")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
