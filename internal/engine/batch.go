package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"eve-trade-analytics/internal/esi"
)

// ErrNoItems is returned by RunBatch when the request names no items.
var ErrNoItems = errors.New("engine: no items to analyze")

// ItemInput is everything needed to analyze one item in one market.
type ItemInput struct {
	TypeID  int32              `json:"type_id"`
	History []esi.HistoryEntry `json:"history"`
	Book    OrderBookSummary   `json:"book"`
}

// ItemAnalysis is the combined trend and velocity result for one item.
type ItemAnalysis struct {
	TypeID   int32            `json:"type_id"`
	Trend    TrendResult      `json:"trend"`
	Velocity VelocityResult   `json:"velocity"`
	Book     OrderBookSummary `json:"book"`
	Points   int              `json:"points"`  // history entries inside the analysis window
	Dropped  int              `json:"dropped"` // history entries filtered out as unusable
}

// AnalyzeItem runs the trend and velocity analyzers over one item's inputs.
// Only the last AnalysisWindowDays of usable history are analyzed.
func AnalyzeItem(in ItemInput, predictPeriods int) ItemAnalysis {
	cleaned := CleanHistory(in.History)
	points := TrimWindow(cleaned, AnalysisWindowDays)
	return ItemAnalysis{
		TypeID:   in.TypeID,
		Trend:    AnalyzeTrend(points, predictPeriods),
		Velocity: AnalyzeVelocity(in.TypeID, points, in.Book),
		Book:     in.Book,
		Points:   len(points),
		Dropped:  len(in.History) - len(cleaned),
	}
}

// Source supplies raw inputs for one item. Implementations do the fetching and caching.
type Source interface {
	LoadItem(ctx context.Context, regionID, typeID int32) (ItemInput, error)
}

// Preflighter is implemented by sources that can detect a systemic outage
// (e.g. the upstream API is down) before any item is attempted.
type Preflighter interface {
	Preflight(ctx context.Context) error
}

// BatchObserver receives per-item and per-batch notifications. Optional.
type BatchObserver interface {
	ItemDone(typeID int32, err error, d time.Duration)
	BatchDone(res *BatchResult, err error)
}

// BatchRequest describes one explicit, caller-initiated batch run.
type BatchRequest struct {
	RegionID       int32
	TypeIDs        []int32
	Concurrency    int // 0 = 8
	PredictPeriods int
	Memo           *Memo         // optional
	Observer       BatchObserver // optional
}

// ItemOutcome is the per-item result: exactly one of Analysis and Err is set.
type ItemOutcome struct {
	TypeID   int32
	Analysis *ItemAnalysis
	Err      error
	Duration time.Duration
}

// OK reports whether the item was analyzed.
func (o ItemOutcome) OK() bool { return o.Err == nil && o.Analysis != nil }

// ItemFailure marks an item that could not be analyzed.
type ItemFailure struct {
	TypeID int32  `json:"type_id"`
	Error  string `json:"error"`
}

// BatchStats aggregates succeeded items only.
type BatchStats struct {
	Requested        int     `json:"requested"`
	Succeeded        int     `json:"succeeded"`
	Failed           int     `json:"failed"`
	Bullish          int     `json:"bullish"`
	Bearish          int     `json:"bearish"`
	Neutral          int     `json:"neutral"`
	VolumeIncreasing int     `json:"volume_increasing"`
	VolumeDecreasing int     `json:"volume_decreasing"`
	AvgVelocityScore float64 `json:"avg_velocity_score"`
	AvgConfidence    float64 `json:"avg_confidence"`
	Illiquid         int     `json:"illiquid"` // DaysToSell at the cap
}

// BatchResult separates succeeded and failed items of one run.
type BatchResult struct {
	ID         string         `json:"id"`
	RegionID   int32          `json:"region_id"`
	StartedAt  time.Time      `json:"started_at"`
	DurationMs int64          `json:"duration_ms"`
	Items      []ItemAnalysis `json:"items"`
	Failed     []ItemFailure  `json:"failed"`
	Stats      BatchStats     `json:"stats"`
}

// Velocities returns the velocity result of every succeeded item, in item order.
func (r *BatchResult) Velocities() []VelocityResult {
	out := make([]VelocityResult, len(r.Items))
	for i, it := range r.Items {
		out[i] = it.Velocity
	}
	return out
}

// RunBatch analyzes every requested item concurrently. A failing item is
// recorded in Failed and excluded from Stats; it never affects other items.
// A failed preflight or a cancelled context is systemic: no result is returned.
func RunBatch(ctx context.Context, src Source, req BatchRequest) (res *BatchResult, err error) {
	if req.Observer != nil {
		defer func() { req.Observer.BatchDone(res, err) }()
	}

	typeIDs := dedupeTypeIDs(req.TypeIDs)
	if len(typeIDs) == 0 {
		return nil, ErrNoItems
	}
	if pf, ok := src.(Preflighter); ok {
		if err := pf.Preflight(ctx); err != nil {
			return nil, fmt.Errorf("preflight: %w", err)
		}
	}

	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}

	started := time.Now()
	outcomes := make([]ItemOutcome, len(typeIDs))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, typeID := range typeIDs {
		g.Go(func() error {
			outcomes[i] = analyzeOne(ctx, src, req, typeID)
			if req.Observer != nil {
				req.Observer.ItemDone(typeID, outcomes[i].Err, outcomes[i].Duration)
			}
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("batch aborted: %w", err)
	}

	res = &BatchResult{
		ID:         uuid.NewString(),
		RegionID:   req.RegionID,
		StartedAt:  started.UTC(),
		DurationMs: time.Since(started).Milliseconds(),
		Items:      make([]ItemAnalysis, 0, len(outcomes)),
		Failed:     []ItemFailure{},
	}
	for _, o := range outcomes {
		if o.OK() {
			res.Items = append(res.Items, *o.Analysis)
			continue
		}
		res.Failed = append(res.Failed, ItemFailure{TypeID: o.TypeID, Error: o.Err.Error()})
	}
	sort.Slice(res.Items, func(i, j int) bool { return res.Items[i].TypeID < res.Items[j].TypeID })
	sort.Slice(res.Failed, func(i, j int) bool { return res.Failed[i].TypeID < res.Failed[j].TypeID })
	res.Stats = Summarize(res.Items, len(res.Failed))
	return res, nil
}

// analyzeOne loads and analyzes one item. Panics are converted into the item's error.
func analyzeOne(ctx context.Context, src Source, req BatchRequest, typeID int32) (out ItemOutcome) {
	start := time.Now()
	out.TypeID = typeID
	defer func() {
		if r := recover(); r != nil {
			out.Analysis = nil
			out.Err = fmt.Errorf("type %d: panic: %v", typeID, r)
		}
		out.Duration = time.Since(start)
	}()

	if err := ctx.Err(); err != nil {
		out.Err = err
		return out
	}
	in, err := src.LoadItem(ctx, req.RegionID, typeID)
	if err != nil {
		out.Err = fmt.Errorf("type %d: %w", typeID, err)
		return out
	}
	in.TypeID = typeID

	var a ItemAnalysis
	if req.Memo != nil {
		a = req.Memo.Analyze(in, req.PredictPeriods)
	} else {
		a = AnalyzeItem(in, req.PredictPeriods)
	}
	out.Analysis = &a
	return out
}

// Summarize computes aggregate statistics over analyzed items.
func Summarize(items []ItemAnalysis, failed int) BatchStats {
	s := BatchStats{
		Requested: len(items) + failed,
		Succeeded: len(items),
		Failed:    failed,
	}
	if len(items) == 0 {
		return s
	}
	var scoreSum, confSum float64
	for _, it := range items {
		switch it.Trend.Trend {
		case TrendBullish:
			s.Bullish++
		case TrendBearish:
			s.Bearish++
		default:
			s.Neutral++
		}
		switch it.Velocity.VolumeTrend {
		case VolumeIncreasing:
			s.VolumeIncreasing++
		case VolumeDecreasing:
			s.VolumeDecreasing++
		}
		if it.Velocity.DaysToSell >= MaxDaysToSell {
			s.Illiquid++
		}
		scoreSum += float64(it.Velocity.VelocityScore)
		confSum += it.Trend.Confidence
	}
	s.AvgVelocityScore = scoreSum / float64(len(items))
	s.AvgConfidence = confSum / float64(len(items))
	return s
}

func dedupeTypeIDs(ids []int32) []int32 {
	seen := make(map[int32]bool, len(ids))
	out := make([]int32, 0, len(ids))
	for _, id := range ids {
		if id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
