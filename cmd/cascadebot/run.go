package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/cascadebot/internal/app"
	"github.com/alanyoungcy/cascadebot/internal/config"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch pending transactions and dispatch contract calls",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		logger := newLogger(cfg.LogLevel)
		slog.SetDefault(logger)

		if err := cfg.Validate(); err != nil {
			logger.Error("invalid configuration", slog.String("error", err.Error()))
			return err
		}

		logger.Info("cascadebot starting",
			slog.String("mode", cfg.Mode),
			slog.String("config", configPath),
		)

		application := app.New(cfg, logger)
		defer application.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("application exited with error", slog.String("error", err.Error()))
			return err
		}

		logger.Info("cascadebot stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
