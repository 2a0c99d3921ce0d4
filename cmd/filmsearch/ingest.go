package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/metrics"
)

func newIngestCmd(a *app) *cobra.Command {
	var csvPath string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load the catalog CSV into an empty index",
		Long: `Creates the index with its mapping if needed and loads every CSV record
into it. Nothing is written when the index already holds documents.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if csvPath != "" {
				cfg.Ingestion.CSVPath = csvPath
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d, err := openDeps(ctx, cfg)
			if err != nil {
				return err
			}
			defer d.close()

			res, err := d.pipeline(cfg.Ingestion, metrics.New()).Run(ctx)
			if err != nil {
				return err
			}
			cmd.Printf("status=%s existing=%d indexed=%d failed=%d skipped_records=%d duration=%s\n",
				res.Status, res.Existing, res.Indexed, res.Failed, res.Skipped, res.Duration)
			return nil
		},
	}
	cmd.Flags().StringVar(&csvPath, "csv", "", "CSV file to load; overrides ingestion.csvPath")
	return cmd
}
