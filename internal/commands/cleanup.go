package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"eve-trade-analytics/internal/logger"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Drop expired cached market history",
	Long: `Remove market history older than the retention window and orphaned
rows from SQLite. With the redis cache backend, cached history keys are
purged as well.`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	database, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	st, err := database.CleanupOldHistory(ctx)
	if err != nil {
		return err
	}
	logger.Section("Cleanup")
	logger.Stats("History rows", st.HistoryRows)
	logger.Stats("Stale cache entries", st.MetaRows)
	logger.Stats("Orphaned rows", st.OrphanedRows)

	if cfg.Cache.Backend == "redis" {
		rh, err := redisCache(ctx, cfg)
		if err != nil {
			return err
		}
		defer rh.Close()
		n, err := rh.Purge(ctx)
		if err != nil {
			return fmt.Errorf("purge redis: %w", err)
		}
		logger.Stats("Redis keys", n)
	}
	logger.Success("Cleanup", "Done")
	return nil
}
