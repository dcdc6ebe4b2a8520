package engine

// VelocityFilter holds caller thresholds applied after scoring.
// Zero values disable the corresponding check.
type VelocityFilter struct {
	MinDailyVolume   float64          `json:"min_daily_volume"`
	MinScore         int              `json:"min_score"`
	MinSpread        float64          `json:"min_spread"` // percent
	CompetitionLevel CompetitionLevel `json:"competition_level"`
}

// Match reports whether r passes every enabled threshold.
func (f VelocityFilter) Match(r VelocityResult) bool {
	if f.MinDailyVolume > 0 && r.DailyVolume7d < f.MinDailyVolume {
		return false
	}
	if f.MinScore > 0 && r.VelocityScore < f.MinScore {
		return false
	}
	if f.MinSpread > 0 && r.Spread < f.MinSpread {
		return false
	}
	if f.CompetitionLevel != "" && r.CompetitionLevel != f.CompetitionLevel {
		return false
	}
	return true
}

// FilterVelocity returns the results that pass f, preserving order.
func FilterVelocity(results []VelocityResult, f VelocityFilter) []VelocityResult {
	out := make([]VelocityResult, 0, len(results))
	for _, r := range results {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out
}
