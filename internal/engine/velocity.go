package engine

import "math"

// VolumeTrendDirection is the direction of recent traded volume.
type VolumeTrendDirection string

const (
	VolumeIncreasing VolumeTrendDirection = "increasing"
	VolumeDecreasing VolumeTrendDirection = "decreasing"
	VolumeStable     VolumeTrendDirection = "stable"
)

const (
	// MaxDaysToSell marks an item as effectively illiquid.
	MaxDaysToSell = 999.0

	volumeTrendWindow    = 7
	volumeTrendThreshold = 20.0 // percent

	// Score weights.
	turnoverWeight  = 40.0
	liquidityWeight = 40.0
	absVolumeWeight = 20.0

	// Units traded per competing order that earns the full turnover weight.
	refVolumePerOrder = 100.0
	// Days-to-sell at which the liquidity component reaches zero.
	liquidationHorizonDays = 30.0
	// log10 of the daily volume that earns the full absolute-volume weight (10,000/day).
	refLogVolume = 4.0
)

// VelocityResult is the output of AnalyzeVelocity.
type VelocityResult struct {
	TypeID             int32                `json:"type_id"`
	DailyVolume7d      float64              `json:"daily_volume_7d"`
	DailyVolume30d     float64              `json:"daily_volume_30d"`
	VolumeTrend        VolumeTrendDirection `json:"volume_trend"`
	VolumeTrendPercent float64              `json:"volume_trend_percent"`
	DaysToSell         float64              `json:"days_to_sell"`
	VelocityScore      int                  `json:"velocity_score"`
	CompetitionLevel   CompetitionLevel     `json:"competition_level"`
	BestBuyPrice       float64              `json:"best_buy_price"`
	BestSellPrice      float64              `json:"best_sell_price"`
	Spread             float64              `json:"spread"`
}

// AverageDailyVolume is the mean volume of the last `days` entries (all if fewer).
func AverageDailyVolume(history []PricePoint, days int) float64 {
	if len(history) == 0 || days <= 0 {
		return 0
	}
	start := max(0, len(history)-days)
	var total int64
	for _, p := range history[start:] {
		total += p.Volume
	}
	return float64(total) / float64(len(history)-start)
}

// VolumeTrend compares the mean volume of the last 7 periods with the 7 before.
// Fewer than 14 points is always stable.
func VolumeTrend(history []PricePoint) (VolumeTrendDirection, float64) {
	n := len(history)
	if n < 2*volumeTrendWindow {
		return VolumeStable, 0
	}
	vols := Volumes(history)
	recent := mean(vols[n-volumeTrendWindow:])
	prior := mean(vols[n-2*volumeTrendWindow : n-volumeTrendWindow])

	if prior == 0 {
		if recent > 0 {
			return VolumeIncreasing, 100
		}
		return VolumeStable, 0
	}

	pct := (recent - prior) / prior * 100
	switch {
	case pct > volumeTrendThreshold:
		return VolumeIncreasing, pct
	case pct < -volumeTrendThreshold:
		return VolumeDecreasing, pct
	default:
		return VolumeStable, pct
	}
}

// DaysToSell estimates how long the listed supply takes to clear, rounded to
// one decimal and capped at MaxDaysToSell. No volume, or a supply that is not
// a finite number, means MaxDaysToSell.
func DaysToSell(totalSupply, dailyVolume float64) float64 {
	if dailyVolume <= 0 || math.IsNaN(dailyVolume) {
		return MaxDaysToSell
	}
	if math.IsNaN(totalSupply) || math.IsInf(totalSupply, 0) {
		return MaxDaysToSell
	}
	if totalSupply <= 0 {
		return 0
	}
	return math.Min(round1(totalSupply/dailyVolume), MaxDaysToSell)
}

// VelocityScore combines turnover per competing order, liquidation speed and
// absolute volume into a 0-100 score. It is 0 without volume or without orders.
func VelocityScore(dailyVolume float64, totalOrders int, daysToSell float64) int {
	if dailyVolume <= 0 || totalOrders <= 0 {
		return 0
	}

	perOrder := dailyVolume / float64(totalOrders)
	turnover := turnoverWeight * math.Min(1, perOrder/refVolumePerOrder)
	liquidity := liquidityWeight * math.Max(0, 1-daysToSell/liquidationHorizonDays)

	var absolute float64
	if dailyVolume > 1 {
		absolute = absVolumeWeight * normalize(math.Log10(dailyVolume), 0, refLogVolume)
	}

	score := math.Round(sanitize(turnover + liquidity + absolute))
	return int(clampRange(score, 0, 100))
}

// AnalyzeVelocity scores one item from its cleaned history and order book.
// Competing orders and supply are taken from the sell side of the book.
func AnalyzeVelocity(typeID int32, history []PricePoint, book OrderBookSummary) VelocityResult {
	vol7 := AverageDailyVolume(history, 7)
	vol30 := AverageDailyVolume(history, 30)
	dir, pct := VolumeTrend(history)
	dts := DaysToSell(float64(book.TotalSellVolume), vol7)

	return VelocityResult{
		TypeID:             typeID,
		DailyVolume7d:      vol7,
		DailyVolume30d:     vol30,
		VolumeTrend:        dir,
		VolumeTrendPercent: pct,
		DaysToSell:         dts,
		VelocityScore:      VelocityScore(vol7, book.SellOrders, dts),
		CompetitionLevel:   book.CompetitionLevel,
		BestBuyPrice:       book.BestBuyPrice,
		BestSellPrice:      book.BestSellPrice,
		Spread:             book.Spread,
	}
}
