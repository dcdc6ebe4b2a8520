package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"eve-trade-analytics/internal/api"
	"eve-trade-analytics/internal/engine"
	"eve-trade-analytics/internal/logger"
	"eve-trade-analytics/internal/market"
)

var (
	analyzeRegion      int32
	analyzeTypes       string
	analyzeWatchlist   bool
	analyzeMinScore    int
	analyzeMinVolume   float64
	analyzeMinSpread   float64
	analyzeCompetition string
	analyzeNoSave      bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run one batch analysis and print the results",
	Long: `Run one batch analysis over the given items and print a summary.

Examples:
  # Tritanium, Pyerite and Mexallon in The Forge
  eve-trade-analytics analyze --types 34,35,36

  # Every watchlist item, only fast movers
  eve-trade-analytics analyze --watchlist --min-score 60`,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().Int32Var(&analyzeRegion, "region", 0, "region ID (default from config)")
	analyzeCmd.Flags().StringVar(&analyzeTypes, "types", "", "comma-separated type IDs")
	analyzeCmd.Flags().BoolVar(&analyzeWatchlist, "watchlist", false, "analyze the region's watchlist")
	analyzeCmd.Flags().IntVar(&analyzeMinScore, "min-score", -1, "minimum velocity score to list (default from config)")
	analyzeCmd.Flags().Float64Var(&analyzeMinVolume, "min-volume", -1, "minimum 7-day daily volume to list (default from config)")
	analyzeCmd.Flags().Float64Var(&analyzeMinSpread, "min-spread", -1, "minimum spread percent to list (default from config)")
	analyzeCmd.Flags().StringVar(&analyzeCompetition, "competition", "", "only list items at this competition level")
	analyzeCmd.Flags().BoolVar(&analyzeNoSave, "no-save", false, "do not persist the run")
	rootCmd.AddCommand(analyzeCmd)
}

// parseTypeIDs parses a comma-separated list of positive type IDs.
func parseTypeIDs(s string) ([]int32, error) {
	var ids []int32
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 32)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid type ID %q", part)
		}
		ids = append(ids, int32(id))
	}
	return ids, nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	if analyzeTypes == "" && !analyzeWatchlist {
		return fmt.Errorf("either --types or --watchlist must be specified")
	}
	typeIDs, err := parseTypeIDs(analyzeTypes)
	if err != nil {
		return err
	}
	regionID := analyzeRegion
	if regionID == 0 {
		regionID = cfg.Analysis.RegionID
	}

	ctx := cmd.Context()

	database, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	if analyzeWatchlist {
		ids, err := database.WatchlistTypeIDs(ctx, regionID)
		if err != nil {
			return err
		}
		typeIDs = append(typeIDs, ids...)
	}

	hc, closeCache, err := historyCache(ctx, cfg, database, nil)
	if err != nil {
		return err
	}
	defer closeCache()

	src := market.NewSource(newESIClient(cfg, nil), hc, cfg.Analysis.LocationID)
	logger.Info("Analyze", fmt.Sprintf("Analyzing %d items in region %d", len(typeIDs), regionID))

	res, err := engine.RunBatch(ctx, src, engine.BatchRequest{
		RegionID:       regionID,
		TypeIDs:        typeIDs,
		Concurrency:    cfg.Analysis.Concurrency,
		PredictPeriods: cfg.Analysis.PredictPeriods,
	})
	if err != nil {
		return err
	}

	printBatch(res, analyzeFilter())

	if !analyzeNoSave {
		if err := database.SaveBatch(ctx, res); err != nil {
			return err
		}
		logger.Success("Analyze", fmt.Sprintf("Saved run %s", res.ID))
	}
	return nil
}

func analyzeFilter() engine.VelocityFilter {
	f := api.FilterFromConfig(cfg.Analysis)
	if analyzeMinScore >= 0 {
		f.MinScore = analyzeMinScore
	}
	if analyzeMinVolume >= 0 {
		f.MinDailyVolume = analyzeMinVolume
	}
	if analyzeMinSpread >= 0 {
		f.MinSpread = analyzeMinSpread
	}
	if analyzeCompetition != "" {
		f.CompetitionLevel = engine.CompetitionLevel(analyzeCompetition)
	}
	return f
}

func printBatch(res *engine.BatchResult, f engine.VelocityFilter) {
	st := res.Stats
	logger.Section("Summary")
	logger.Stats("Run", res.ID)
	logger.Stats("Duration", (time.Duration(res.DurationMs) * time.Millisecond).String())
	logger.Stats("Analyzed", fmt.Sprintf("%d / %d", st.Succeeded, st.Requested))
	logger.Stats("Trend", fmt.Sprintf("%d bullish, %d bearish, %d neutral", st.Bullish, st.Bearish, st.Neutral))
	logger.Stats("Volume", fmt.Sprintf("%d increasing, %d decreasing", st.VolumeIncreasing, st.VolumeDecreasing))
	logger.Stats("Avg velocity score", fmt.Sprintf("%.1f", st.AvgVelocityScore))
	logger.Stats("Avg confidence", fmt.Sprintf("%.2f", st.AvgConfidence))
	logger.Stats("Illiquid", st.Illiquid)

	byType := make(map[int32]engine.ItemAnalysis, len(res.Items))
	for _, it := range res.Items {
		byType[it.TypeID] = it
	}

	listed := engine.FilterVelocity(res.Velocities(), f)
	logger.Section(fmt.Sprintf("Items (%d listed)", len(listed)))
	for _, v := range listed {
		t := byType[v.TypeID].Trend
		pred := "-"
		if t.PredictedPrice != nil {
			pred = fmt.Sprintf("%.2f", *t.PredictedPrice)
		}
		logger.Stats(strconv.Itoa(int(v.TypeID)), fmt.Sprintf(
			"%-8s %+6.1f%%  pred %s  score %3d  %5.1fd  %s",
			t.Trend, t.PriceChange7d, pred, v.VelocityScore, v.DaysToSell, v.CompetitionLevel))
	}

	if len(res.Failed) > 0 {
		logger.Section("Failed")
		for _, f := range res.Failed {
			logger.Warn("Analyze", fmt.Sprintf("type %d: %s", f.TypeID, f.Error))
		}
	}
}
