package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/logger"
)

// app carries state shared by the subcommands once the config is loaded.
type app struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "filmsearch",
		Short:         "Film catalog search API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
			a.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to YAML config file; defaults and environment only when empty")

	root.AddCommand(newServeCmd(a), newIngestCmd(a))
	return root
}
