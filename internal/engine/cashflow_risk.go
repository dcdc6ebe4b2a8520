package engine

import (
	"math"
	"sort"
	"time"
)

// CashFlowRisk summarizes how volatile a ledger's daily net cash flow is.
// Loss figures are reported as positive ISK amounts.
type CashFlowRisk struct {
	RiskScore float64 `json:"risk_score"` // 0-100, higher = riskier
	RiskLevel string  `json:"risk_level"` // safe | balanced | high

	// Historical one-day loss levels and the mean of the days beyond them.
	VaR95 float64 `json:"var_95"`
	VaR99 float64 `json:"var_99"`
	ES95  float64 `json:"es_95"`
	ES99  float64 `json:"es_99"`

	TypicalDailyFlow float64 `json:"typical_daily_flow"` // median |flow|
	WorstDay         float64 `json:"worst_day"`
	BestDay          float64 `json:"best_day"`

	SampleDays int  `json:"sample_days"`
	WindowDays int  `json:"window_days"`
	LowSample  bool `json:"low_sample"` // fewer than 20 days, tail figures are rough
}

const (
	riskLookbackDays  = 180
	minRiskSampleDays = 5
	lowSampleDays     = 20
)

// DailyCashFlow nets sells minus buys per UTC day over the window ending at
// asOf, in date order. Invalid transactions are ignored.
func DailyCashFlow(txns []Transaction, asOf time.Time, windowDays int) []float64 {
	cutoff := asOf.AddDate(0, 0, -windowDays)
	byDay := make(map[time.Time]float64)
	for _, tx := range txns {
		if !validTransaction(tx) || tx.Date.Before(cutoff) || tx.Date.After(asOf) {
			continue
		}
		d := tx.Date.UTC()
		day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
		amount := tx.UnitPrice * float64(tx.Quantity)
		if tx.IsBuy {
			amount = -amount
		}
		byDay[day] += amount
	}

	days := make([]time.Time, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	flows := make([]float64, len(days))
	for i, d := range days {
		flows[i] = byDay[d]
	}
	return flows
}

// AssessCashFlowRisk scores the last 180 days of a ledger. It returns nil with
// fewer than 5 trading days or when every day nets to zero.
func AssessCashFlowRisk(txns []Transaction, asOf time.Time) *CashFlowRisk {
	flows := DailyCashFlow(txns, asOf, riskLookbackDays)
	if len(flows) < minRiskSampleDays {
		return nil
	}
	typical := medianAbs(flows)
	if typical <= 0 {
		return nil
	}

	// Volatility in units of a typical day.
	std := stdDev(flows) / typical
	score := clampRange(std*40, 0, 100)

	level := "balanced"
	switch {
	case score < 30:
		level = "safe"
	case score > 70:
		level = "high"
	}

	var95, es95 := historicalTail(flows, 0.05)
	var99, es99 := historicalTail(flows, 0.01)
	worst, best := minMax(flows)

	return &CashFlowRisk{
		RiskScore:        score,
		RiskLevel:        level,
		VaR95:            math.Max(0, -var95),
		VaR99:            math.Max(0, -var99),
		ES95:             math.Max(0, -es95),
		ES99:             math.Max(0, -es99),
		TypicalDailyFlow: typical,
		WorstDay:         math.Max(0, -worst),
		BestDay:          best,
		SampleDays:       len(flows),
		WindowDays:       riskLookbackDays,
		LowSample:        len(flows) < lowSampleDays,
	}
}

func medianAbs(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	abs := make([]float64, len(x))
	for i, v := range x {
		abs[i] = math.Abs(v)
	}
	sort.Float64s(abs)
	n := len(abs)
	if n%2 == 1 {
		return abs[n/2]
	}
	return (abs[n/2-1] + abs[n/2]) / 2
}

// historicalTail returns the empirical q-quantile of x and the mean of the
// values at or below it.
func historicalTail(x []float64, q float64) (quantile, shortfall float64) {
	if len(x) == 0 {
		return 0, 0
	}
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	idx := min(max(int(math.Floor(q*float64(len(sorted)))), 0), len(sorted)-1)
	return sorted[idx], mean(sorted[:idx+1])
}
