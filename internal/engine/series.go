package engine

import (
	"math"
	"sort"
	"time"

	"eve-trade-analytics/internal/esi"
)

// PricePoint is one cleaned day of price history.
type PricePoint struct {
	Date    time.Time `json:"date"`
	Average float64   `json:"average"`
	Volume  int64     `json:"volume"`
}

// CleanHistory converts raw ESI history into chronologically ordered price points.
// Entries without a parseable date or a positive finite average are dropped;
// negative volumes are treated as 0. Duplicate dates keep the last occurrence.
func CleanHistory(history []esi.HistoryEntry) []PricePoint {
	byDate := make(map[time.Time]PricePoint, len(history))
	for _, h := range history {
		if h.Date == "" {
			continue
		}
		d, err := time.Parse("2006-01-02", h.Date)
		if err != nil {
			continue
		}
		if h.Average <= 0 || math.IsNaN(h.Average) || math.IsInf(h.Average, 0) {
			continue
		}
		vol := h.Volume
		if vol < 0 {
			vol = 0
		}
		byDate[d] = PricePoint{Date: d, Average: h.Average, Volume: vol}
	}

	points := make([]PricePoint, 0, len(byDate))
	for _, p := range byDate {
		points = append(points, p)
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Date.Before(points[j].Date)
	})
	return points
}

// AnalysisWindowDays is the span of history, counted back from the newest
// point, that item analysis looks at.
const AnalysisWindowDays = 60

// TrimWindow keeps the points dated within days calendar days of the newest
// point. Points must be in chronological order, as CleanHistory returns them.
func TrimWindow(points []PricePoint, days int) []PricePoint {
	if len(points) == 0 || days <= 0 {
		return points
	}
	cutoff := points[len(points)-1].Date.AddDate(0, 0, -days)
	i := sort.Search(len(points), func(i int) bool {
		return points[i].Date.After(cutoff)
	})
	return points[i:]
}

// Prices extracts the average price column.
func Prices(points []PricePoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Average
	}
	return out
}

// Volumes extracts the volume column as floats.
func Volumes(points []PricePoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = float64(p.Volume)
	}
	return out
}

// mean returns the arithmetic mean (0 for empty input).
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stdDev calculates sample standard deviation (Bessel-corrected).
func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var variance float64
	for _, v := range values {
		diff := v - m
		variance += diff * diff
	}
	variance /= float64(len(values) - 1)
	return math.Sqrt(variance)
}

// minMax returns the extremes of a non-empty slice.
func minMax(values []float64) (lo, hi float64) {
	lo, hi = values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// normalize clamps value to [0, 1] range based on min/max.
func normalize(value, minVal, maxVal float64) float64 {
	if maxVal <= minVal {
		return 0
	}
	normalized := (value - minVal) / (maxVal - minVal)
	if normalized < 0 {
		return 0
	}
	if normalized > 1 {
		return 1
	}
	return normalized
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// sanitize maps NaN and ±Inf to 0 so results always serialize.
func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func ptr(v float64) *float64 { return &v }
