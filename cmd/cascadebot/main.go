// Command cascadebot watches pending transactions on an EVM node and, for
// each new matching signal, calls emitCascade and then claimYield on the
// notification contract.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "cascadebot",
	Short:         "Pending transaction cascade notifier",
	Long:          "cascadebot watches the mempool for transactions touching a pool and notifies a contract once per unique signal.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// A bare invocation runs the bot.
	rootCmd.RunE = runCmd.RunE
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.toml", "path to configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// newLogger returns the JSON logger used by every subcommand.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
