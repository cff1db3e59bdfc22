package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fabfab/hearings-ai/config"
	"github.com/fabfab/hearings-ai/logger"
)

var (
	cfg config.Config
	log *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:           "hearings",
	Short:         "Search and analyse regulatory hearing records",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		mode := "dev"
		if cfg.IsProduction() {
			mode = "prod"
		}
		log, err = logger.New(mode)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			log.Sync()
		}
	},
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		rootCmd.PrintErrln("Error:", err)
		cancel()
		os.Exit(1)
	}
}
