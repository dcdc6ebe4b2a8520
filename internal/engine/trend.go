package engine

import "math"

// Trend is the short-term direction of an item's price.
type Trend string

const (
	TrendBullish Trend = "bullish"
	TrendBearish Trend = "bearish"
	TrendNeutral Trend = "neutral"
)

const (
	trendLookback = 7 // periods used for PriceChange7d
	// Direction, confidence and prediction come from a fit over this many recent periods.
	trendWindow = 30

	// A directional call needs at least this much movement over the lookback...
	minTrendChangePct = 2.0
	// ...and either a regression fit this good...
	minTrendR2 = 0.3
	// ...or a move this large.
	strongTrendChangePct = 10.0

	// Support/resistance margin as a multiple of the sample standard deviation.
	bandStdDevs = 0.5
	// Floor on the margin relative to the mean, so flat series still get a band.
	minBandPct = 0.005
	// EVE's smallest price increment.
	priceTick = 0.01

	// Sanity bounds on predicted price, as multiples of the current price.
	minPredictRatio = 0.01
	maxPredictRatio = 2.0
)

// Regression is an ordinary least-squares fit of price against period index.
type Regression struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
	R2        float64 `json:"r2"`
}

// TrendResult is the output of AnalyzeTrend.
type TrendResult struct {
	Trend           Trend      `json:"trend"`
	TrendStrength   float64    `json:"trend_strength"`
	PriceChange7d   float64    `json:"price_change_7d"` // percent
	SupportLevel    *float64   `json:"support_level"`
	ResistanceLevel *float64   `json:"resistance_level"`
	PredictedPrice  *float64   `json:"predicted_price"`
	Confidence      float64    `json:"confidence"` // 0-100
	Regression      Regression `json:"regression"`
	Points          int        `json:"points"`
}

// MovingAverage returns the simple moving average for every full window.
// The result has max(0, len(prices)-window+1) elements and is never nil.
func MovingAverage(prices []float64, window int) []float64 {
	if window <= 0 || len(prices) < window {
		return []float64{}
	}
	out := make([]float64, 0, len(prices)-window+1)
	var sum float64
	for i, p := range prices {
		sum += p
		if i >= window {
			sum -= prices[i-window]
		}
		if i >= window-1 {
			out = append(out, sum/float64(window))
		}
	}
	return out
}

// LinearTrend fits price = Intercept + Slope*i over i = 0..n-1.
// Fewer than two points yields the zero Regression. R2 is 0 when prices have no variance.
func LinearTrend(prices []float64) Regression {
	n := len(prices)
	if n < 2 {
		return Regression{}
	}

	xMean := float64(n-1) / 2
	yMean := mean(prices)

	var sxx, sxy, ssTot float64
	for i, y := range prices {
		dx := float64(i) - xMean
		dy := y - yMean
		sxx += dx * dx
		sxy += dx * dy
		ssTot += dy * dy
	}

	slope := sxy / sxx
	intercept := yMean - slope*xMean

	r2 := 0.0
	if ssTot > 0 {
		var ssRes float64
		for i, y := range prices {
			e := y - (intercept + slope*float64(i))
			ssRes += e * e
		}
		r2 = clampRange(1-ssRes/ssTot, 0, 1)
	}

	return Regression{
		Slope:     sanitize(slope),
		Intercept: sanitize(intercept),
		R2:        sanitize(r2),
	}
}

// SupportResistance returns a band strictly outside the observed [min, max].
// The margin is half a standard deviation, floored at 0.5% of the mean and one
// price tick. Fewer than three points yields (nil, nil).
func SupportResistance(prices []float64) (support, resistance *float64) {
	if len(prices) < 3 {
		return nil, nil
	}

	lo, hi := minMax(prices)
	margin := math.Max(bandStdDevs*stdDev(prices), minBandPct*math.Abs(mean(prices)))
	margin = math.Max(margin, priceTick)

	s := lo - margin
	if s <= 0 && lo > 0 {
		s = lo / 2
	}
	return ptr(s), ptr(hi + margin)
}

// PredictPrice projects the regression slope periodsAhead periods past the last
// price and clamps the result to [0.01x, 2x] of that price. Non-positive prices
// are not usable; fewer than two usable points yields nil.
func PredictPrice(prices []float64, periodsAhead int) *float64 {
	usable := make([]float64, 0, len(prices))
	for _, p := range prices {
		if p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p) {
			usable = append(usable, p)
		}
	}
	if len(usable) < 2 {
		return nil
	}
	if periodsAhead < 0 {
		periodsAhead = 0
	}

	current := usable[len(usable)-1]
	reg := LinearTrend(usable)
	projected := current + reg.Slope*float64(periodsAhead)
	return ptr(clampRange(projected, minPredictRatio*current, maxPredictRatio*current))
}

// PriceChange returns the percent change from the price lookback periods before
// the last one (or the first price, if the series is shorter) to the last price.
func PriceChange(prices []float64, lookback int) float64 {
	n := len(prices)
	if n < 2 {
		return 0
	}
	ref := prices[max(0, n-1-lookback)]
	if ref <= 0 {
		return 0
	}
	return sanitize((prices[n-1] - ref) / ref * 100)
}

// recent returns the last trendWindow prices.
func recent(prices []float64) []float64 {
	if len(prices) > trendWindow {
		return prices[len(prices)-trendWindow:]
	}
	return prices
}

// ClassifyTrend labels the series and measures how pronounced the move is.
// Only the last 30 periods are regressed.
//
// Strength is the mean of the regression's fitted move over that window
// and the 7-period change, both as absolute percentages, capped at 100.
func ClassifyTrend(prices []float64) (trend Trend, strength, change7d float64) {
	if len(prices) < 2 {
		return TrendNeutral, 0, 0
	}

	change7d = PriceChange(prices, trendLookback)
	prices = recent(prices)
	reg := LinearTrend(prices)

	var fitMovePct float64
	if m := mean(prices); m > 0 {
		fitMovePct = reg.Slope * float64(len(prices)-1) / m * 100
	}
	strength = clampRange(sanitize((math.Abs(fitMovePct)+math.Abs(change7d))/2), 0, 100)

	consistent := reg.R2 >= minTrendR2 || math.Abs(change7d) >= strongTrendChangePct
	switch {
	case reg.Slope > 0 && change7d >= minTrendChangePct && consistent:
		trend = TrendBullish
	case reg.Slope < 0 && change7d <= -minTrendChangePct && consistent:
		trend = TrendBearish
	default:
		trend = TrendNeutral
	}
	return trend, strength, change7d
}

// Confidence scales the regression fit to 0-100. One point or none carries no confidence.
func Confidence(r2 float64, points int) float64 {
	if points <= 1 {
		return 0
	}
	return clampRange(sanitize(r2*100), 0, 100)
}

// AnalyzeTrend runs the full trend analysis over cleaned history. Support and
// resistance span the whole history; the regression, confidence and
// prediction use the last 30 periods.
func AnalyzeTrend(history []PricePoint, periodsAhead int) TrendResult {
	prices := Prices(history)
	window := recent(prices)
	trend, strength, change := ClassifyTrend(prices)
	reg := LinearTrend(window)
	support, resistance := SupportResistance(prices)

	return TrendResult{
		Trend:           trend,
		TrendStrength:   strength,
		PriceChange7d:   change,
		SupportLevel:    support,
		ResistanceLevel: resistance,
		PredictedPrice:  PredictPrice(window, periodsAhead),
		Confidence:      Confidence(reg.R2, len(window)),
		Regression:      reg,
		Points:          len(prices),
	}
}
