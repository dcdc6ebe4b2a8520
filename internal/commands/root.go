package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"eve-trade-analytics/internal/config"
	"eve-trade-analytics/internal/logger"
)

var (
	configPath string
	logLevel   string

	// cfg is loaded once by the root command before any subcommand runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "eve-trade-analytics",
	Short: "Market trend and trading velocity analysis for EVE Online",
	Long: `Analyze EVE Online market history and order books.

Every analysis is an explicit run over a list of items in one region:
price trend with support/resistance and a short-term prediction,
trading velocity with days-to-sell and a 0-100 score, and FIFO
profit and loss over a character's wallet ledger.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			c.Log.Level = logLevel
		}
		if err := logger.SetLevel(c.Log.Level); err != nil {
			return fmt.Errorf("log level: %w", err)
		}
		logger.SetFormat(c.Log.Format)
		cfg = c
		return nil
	},
}

// Execute runs the root command with the given build version. SIGINT and
// SIGTERM cancel the command context.
func Execute(version string) error {
	rootCmd.Version = version
	appVersion = version

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

var appVersion = "dev"

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to YAML config file")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level (debug, info, warn, error)")
}
