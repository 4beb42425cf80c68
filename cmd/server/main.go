package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"replate/internal/platform/config"
	"replate/internal/platform/logger"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	ctx    context.Context
	cfg    config.Server
	logger *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd(ctx).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd(ctx context.Context) *cobra.Command {
	a := &app{ctx: ctx}
	var configPath string

	root := &cobra.Command{
		Use:           "replate",
		Short:         "Surplus food donation service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logger.New(cfg.LogLevel, cfg.LogFormat)
			slog.SetDefault(a.logger)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "optional YAML config file")

	root.AddCommand(serveCmd(a), migrateCmd(a), tokenCmd(a))
	return root
}
