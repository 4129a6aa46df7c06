// Package cmd defines the dircrawl command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/directory-crawler/internal/config"
	"github.com/JakeFAU/directory-crawler/internal/logging"
)

type runtimeKeyType string

const runtimeKey runtimeKeyType = "runtime"

// runtime is what PersistentPreRunE hands to subcommands.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
}

type rootFlags struct {
	configPath string
	mode       string
	url        string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags
	cmd := &cobra.Command{
		Use:   "dircrawl",
		Short: "Crawls a doctor directory into a deduplicated JSON dataset.",
		Long: `dircrawl reads a paginated, infinite-scroll directory listing and, depending on
the mode, the detail page of every entity it links to. Records are merged into a
JSON dataset keyed by entity name, so repeated runs update rather than duplicate.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey, &runtime{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(runtimeKey).(*runtime); ok {
				_ = rt.logger.Sync()
			}
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (default ./dircrawl.yaml, ~/.dircrawl, /etc/dircrawl)")
	pf.StringVar(&flags.mode, "mode", "", "crawl mode: listing, detail or single")
	pf.StringVar(&flags.url, "url", "", "listing URL, or the entity URL in single mode")
	pf.StringVar(&flags.logLevel, "log-level", "", "minimum log level (debug, info, warn, error)")

	cmd.AddCommand(newCrawlCmd(), newInspectCmd())
	return cmd
}

// loadConfig applies flag overrides on top of config.Load and revalidates.
func loadConfig(flags rootFlags) (config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if flags.mode != "" {
		cfg.Mode = flags.mode
	}
	if flags.url != "" {
		if cfg.Mode == config.ModeSingle {
			cfg.Site.EntityURL = flags.url
		} else {
			cfg.Site.ListingURL = flags.url
		}
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("configuration not initialized")
	}
	return rt, nil
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)
	return t
}

// Execute runs the root command until it finishes or SIGINT/SIGTERM arrives.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "dircrawl:", err)
		os.Exit(1)
	}
}
