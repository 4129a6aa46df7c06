package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/directory-crawler/internal/app"
	"github.com/JakeFAU/directory-crawler/internal/config"
	"github.com/JakeFAU/directory-crawler/internal/metrics"
	"github.com/JakeFAU/directory-crawler/internal/pipeline"
)

const shutdownTimeout = 30 * time.Second

// newApp is a variable so tests can swap the service builder.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

type crawlFlags struct {
	engine      string
	headless    bool
	maxEntities int
	output      string
}

func newCrawlCmd() *cobra.Command {
	var flags crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl and merges the results into the dataset",
		Long: `Opens one browser session, runs the configured mode and merges the collected
records into the dataset file. An interrupt stops the crawl after the current
entity; records collected so far are still saved.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			cfg := rt.cfg
			if cmd.Flags().Changed("engine") {
				cfg.Browser.Engine = flags.engine
			}
			if cmd.Flags().Changed("headless") {
				cfg.Browser.Headless = flags.headless
			}
			if cmd.Flags().Changed("max-entities") {
				cfg.Crawler.MaxEntities = flags.maxEntities
			}
			if flags.output != "" {
				if cfg.Mode == config.ModeListing {
					cfg.Output.ListingPath = flags.output
				} else {
					cfg.Output.DetailPath = flags.output
				}
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runCrawl(cmd, cfg, rt.logger)
		},
	}
	cmd.Flags().StringVar(&flags.engine, "engine", "", "page engine: chrome or static")
	cmd.Flags().BoolVar(&flags.headless, "headless", false, "run Chrome without a window")
	cmd.Flags().IntVar(&flags.maxEntities, "max-entities", 0, "stop after this many detail pages (0 = all)")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "dataset file to merge into")
	return cmd
}

func runCrawl(cmd *cobra.Command, cfg config.Config, logger *zap.Logger) (err error) {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if cerr := a.Close(closeCtx); cerr != nil {
			logger.Warn("shutdown incomplete", zap.Error(cerr))
		}
		if path := cfg.Metrics.TextfilePath; path != "" {
			if werr := metrics.WriteTextfile(path); werr != nil {
				logger.Warn("metrics textfile not written", zap.String("path", path), zap.Error(werr))
			}
		}
	}()

	runID, err := a.IDs.NewRunID()
	if err != nil {
		return err
	}
	res, runErr := a.Runner.Run(ctx, runID)
	printResult(cmd, res)
	if runErr != nil {
		return fmt.Errorf("run %s: %w", runID, runErr)
	}
	return nil
}

func printResult(cmd *cobra.Command, res pipeline.Result) {
	t := newTable(cmd.OutOrStdout())
	t.SetTitle("run " + res.RunID.String())
	t.AppendRows([]table.Row{
		{"mode", res.Mode},
		{"visited", res.Visited},
		{"empty pages", res.Empty},
		{"added", res.Merged.Added},
		{"updated", res.Merged.Updated},
		{"skipped", res.Merged.Skipped},
		{"dataset total", res.Merged.Total},
		{"dataset", res.Merged.Path},
		{"sha256", res.Merged.Digest},
		{"export failures", res.ExportFailures},
		{"interrupted", res.Interrupted},
		{"elapsed", res.Duration.Round(time.Millisecond)},
	})
	t.Render()
}
