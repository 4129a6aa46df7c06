package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/directory-crawler/internal/dataset"
	"github.com/JakeFAU/directory-crawler/internal/hash/sha256"
	"github.com/JakeFAU/directory-crawler/internal/record"
	"github.com/JakeFAU/directory-crawler/internal/storage/postgres"
	"github.com/JakeFAU/directory-crawler/internal/store"
)

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Summarizes datasets and past runs",
	}
	cmd.AddCommand(newInspectDatasetCmd(), newInspectRunsCmd())
	return cmd
}

func newInspectDatasetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dataset [path]",
		Short: "Lists the records of a dataset file and the fields each is missing",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			path := rt.cfg.DatasetPath()
			if len(args) == 1 {
				path = args[0]
			}
			records, err := dataset.Load(path)
			if err != nil {
				return err
			}
			digest, err := sha256.New().HashFile(path)
			if err != nil {
				return err
			}

			t := newTable(cmd.OutOrStdout())
			t.SetTitle(fmt.Sprintf("%s (%d records)", path, len(records)))
			t.AppendHeader(table.Row{"#", "Name", "Fields", "Missing"})
			for i, rec := range records {
				name, ok := rec.Key()
				if !ok {
					name = record.NotSpecified
				}
				t.AppendRow(table.Row{i + 1, name, rec.Len(), strings.Join(missingFields(rec), ", ")})
			}
			t.AppendFooter(table.Row{"", "sha256", "", digest})
			t.Render()
			return nil
		},
	}
}

func missingFields(rec *record.Record) []string {
	var out []string
	for _, field := range rec.Fields() {
		if v, _ := rec.Get(field); v.IsMissing() {
			out = append(out, field)
		}
	}
	return out
}

func newInspectRunsCmd() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Lists recent crawl runs recorded in Postgres",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			if rt.cfg.Postgres.DSN == "" {
				return errors.New("postgres.dsn is required to list runs")
			}
			pool, err := postgres.Connect(cmd.Context(), rt.cfg.Postgres)
			if err != nil {
				return err
			}
			defer pool.Close()
			repo, err := postgres.NewRunStore(pool, rt.cfg.Postgres.RunsTable)
			if err != nil {
				return err
			}
			runs, err := repo.ListRuns(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			renderRuns(cmd, runs)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "runs to skip")
	return cmd
}

func renderRuns(cmd *cobra.Command, runs []store.Run) {
	t := newTable(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"Run", "Mode", "Started", "Elapsed", "Status", "Entities", "Empty", "Missing", "Error"})
	for _, run := range runs {
		elapsed := "-"
		if run.FinishedAt != nil {
			elapsed = run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String()
		}
		msg := ""
		if run.ErrorMessage != nil {
			msg = *run.ErrorMessage
		}
		t.AppendRow(table.Row{
			run.ID, run.Mode, run.StartedAt.Format(time.RFC3339), elapsed, run.Status,
			run.Entities, run.Empty, run.MissingFields, msg,
		})
	}
	t.Render()
}
