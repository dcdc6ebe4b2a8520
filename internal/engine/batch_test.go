package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"eve-trade-analytics/internal/esi"
)

type fakeSource struct {
	inputs    map[int32]ItemInput
	errs      map[int32]error
	panics    map[int32]bool
	preflight error
	calls     atomic.Int32
	inFlight  atomic.Int32
	maxSeen   atomic.Int32
	delay     time.Duration
}

func (f *fakeSource) LoadItem(ctx context.Context, regionID, typeID int32) (ItemInput, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		old := f.maxSeen.Load()
		if n <= old || f.maxSeen.CompareAndSwap(old, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.panics[typeID] {
		panic("corrupt record")
	}
	if err := f.errs[typeID]; err != nil {
		return ItemInput{}, err
	}
	return f.inputs[typeID], nil
}

func (f *fakeSource) Preflight(ctx context.Context) error { return f.preflight }

func historyFromPrices(prices []float64, volume int64) []esi.HistoryEntry {
	out := make([]esi.HistoryEntry, len(prices))
	for i, p := range prices {
		out[i] = esi.HistoryEntry{
			Date:    time.Date(2024, 1, 1+i, 0, 0, 0, 0, time.UTC).Format("2006-01-02"),
			Average: p,
			Volume:  volume,
		}
	}
	return out
}

func sampleInput(typeID int32, prices []float64) ItemInput {
	return ItemInput{
		TypeID:  typeID,
		History: historyFromPrices(prices, 1000),
		Book:    OrderBookSummary{SellOrders: 4, TotalSellVolume: 2000, BestSellPrice: 110, BestBuyPrice: 100, Spread: 9.09, CompetitionLevel: CompetitionMedium},
	}
}

type recordingObserver struct {
	mu        sync.Mutex
	items     map[int32]error
	batchErr  error
	batchDone int
}

func (o *recordingObserver) ItemDone(typeID int32, err error, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.items == nil {
		o.items = make(map[int32]error)
	}
	o.items[typeID] = err
}

func (o *recordingObserver) BatchDone(res *BatchResult, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.batchDone++
	o.batchErr = err
}

func TestRunBatchIsolatesFailures(t *testing.T) {
	src := &fakeSource{
		inputs: map[int32]ItemInput{
			34: sampleInput(34, []float64{100, 102, 104, 106, 108, 110, 112, 114}),
			35: sampleInput(35, []float64{114, 112, 110, 108, 106, 104, 102, 100}),
		},
		errs:   map[int32]error{36: errors.New("esi 502")},
		panics: map[int32]bool{37: true},
	}
	obs := &recordingObserver{}
	res, err := RunBatch(context.Background(), src, BatchRequest{
		RegionID:       10000002,
		TypeIDs:        []int32{37, 36, 35, 34, 34},
		Concurrency:    2,
		PredictPeriods: 7,
		Observer:       obs,
	})
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if res.ID == "" || res.RegionID != 10000002 {
		t.Errorf("result header = %q / %d", res.ID, res.RegionID)
	}
	if len(res.Items) != 2 || res.Items[0].TypeID != 34 || res.Items[1].TypeID != 35 {
		t.Fatalf("items = %+v", res.Items)
	}
	if len(res.Failed) != 2 || res.Failed[0].TypeID != 36 || res.Failed[1].TypeID != 37 {
		t.Fatalf("failed = %+v", res.Failed)
	}
	if !strings.Contains(res.Failed[0].Error, "esi 502") {
		t.Errorf("failure message = %q", res.Failed[0].Error)
	}
	if !strings.Contains(res.Failed[1].Error, "panic") {
		t.Errorf("panic message = %q", res.Failed[1].Error)
	}
	if res.Items[0].Trend.Trend != TrendBullish || res.Items[1].Trend.Trend != TrendBearish {
		t.Errorf("trends = %v / %v", res.Items[0].Trend.Trend, res.Items[1].Trend.Trend)
	}

	s := res.Stats
	if s.Requested != 4 || s.Succeeded != 2 || s.Failed != 2 {
		t.Errorf("stats counts = %+v", s)
	}
	if s.Bullish != 1 || s.Bearish != 1 {
		t.Errorf("stats trends = %+v", s)
	}
	if src.calls.Load() != 4 {
		t.Errorf("LoadItem called %d times, want 4 (duplicates removed)", src.calls.Load())
	}
	if len(obs.items) != 4 || obs.items[34] != nil || obs.items[36] == nil || obs.batchDone != 1 {
		t.Errorf("observer = %+v", obs)
	}
}

func TestRunBatchRespectsConcurrency(t *testing.T) {
	src := &fakeSource{inputs: map[int32]ItemInput{}, delay: 5 * time.Millisecond}
	ids := make([]int32, 20)
	for i := range ids {
		ids[i] = int32(i + 1)
		src.inputs[ids[i]] = sampleInput(ids[i], []float64{1, 2, 3})
	}
	if _, err := RunBatch(context.Background(), src, BatchRequest{TypeIDs: ids, Concurrency: 3}); err != nil {
		t.Fatal(err)
	}
	if got := src.maxSeen.Load(); got > 3 {
		t.Errorf("max in-flight = %d, want <= 3", got)
	}
}

func TestRunBatchPreflightIsSystemic(t *testing.T) {
	src := &fakeSource{preflight: errors.New("esi unreachable")}
	obs := &recordingObserver{}
	res, err := RunBatch(context.Background(), src, BatchRequest{TypeIDs: []int32{34}, Observer: obs})
	if err == nil || res != nil {
		t.Fatalf("RunBatch = %v, %v; want systemic error", res, err)
	}
	if src.calls.Load() != 0 {
		t.Errorf("items attempted after failed preflight")
	}
	if obs.batchErr == nil {
		t.Errorf("observer did not see the batch error")
	}
}

func TestRunBatchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &fakeSource{inputs: map[int32]ItemInput{34: sampleInput(34, []float64{1, 2, 3})}}
	_, err := RunBatch(ctx, src, BatchRequest{TypeIDs: []int32{34}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRunBatchNoItems(t *testing.T) {
	for _, ids := range [][]int32{nil, {}, {0, -4}} {
		_, err := RunBatch(context.Background(), &fakeSource{}, BatchRequest{TypeIDs: ids})
		if !errors.Is(err, ErrNoItems) {
			t.Errorf("RunBatch(%v) err = %v, want ErrNoItems", ids, err)
		}
	}
}

func TestRunBatchAllFailed(t *testing.T) {
	src := &fakeSource{errs: map[int32]error{1: errors.New("a"), 2: errors.New("b")}}
	res, err := RunBatch(context.Background(), src, BatchRequest{TypeIDs: []int32{1, 2}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Items) != 0 || res.Items == nil || res.Stats.Failed != 2 || res.Stats.AvgConfidence != 0 {
		t.Errorf("all-failed result = %+v", res)
	}
}

func TestAnalyzeItemCountsDropped(t *testing.T) {
	in := sampleInput(34, []float64{100, 101, 102})
	in.History = append(in.History, esi.HistoryEntry{Date: "", Average: 5}, esi.HistoryEntry{Date: "2024-02-01"})
	got := AnalyzeItem(in, 7)
	if got.Points != 3 || got.Dropped != 2 {
		t.Errorf("points/dropped = %d/%d, want 3/2", got.Points, got.Dropped)
	}
}

func TestAnalyzeItemUsesAnalysisWindow(t *testing.T) {
	long := make([]float64, 400)
	for i := range long {
		long[i] = 100 + float64(i%9)
	}
	full := sampleInput(34, long)
	recent := full
	recent.History = full.History[len(long)-AnalysisWindowDays:]

	a, b := AnalyzeItem(full, 7), AnalyzeItem(recent, 7)
	if a.Points != AnalysisWindowDays || a.Dropped != 0 {
		t.Errorf("points/dropped = %d/%d, want %d/0", a.Points, a.Dropped, AnalysisWindowDays)
	}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("full history analysis differs from windowed:\n%+v\n%+v", a, b)
	}
}

func TestSummarize(t *testing.T) {
	items := []ItemAnalysis{
		{Trend: TrendResult{Trend: TrendBullish, Confidence: 80}, Velocity: VelocityResult{VelocityScore: 60, VolumeTrend: VolumeIncreasing}},
		{Trend: TrendResult{Trend: TrendNeutral, Confidence: 20}, Velocity: VelocityResult{VelocityScore: 0, DaysToSell: MaxDaysToSell, VolumeTrend: VolumeDecreasing}},
	}
	s := Summarize(items, 3)
	if s.Requested != 5 || s.Succeeded != 2 || s.Failed != 3 {
		t.Errorf("counts = %+v", s)
	}
	if s.Bullish != 1 || s.Neutral != 1 || s.VolumeIncreasing != 1 || s.VolumeDecreasing != 1 || s.Illiquid != 1 {
		t.Errorf("classes = %+v", s)
	}
	if !approx(s.AvgVelocityScore, 30) || !approx(s.AvgConfidence, 50) {
		t.Errorf("averages = %v / %v", s.AvgVelocityScore, s.AvgConfidence)
	}
}

func TestBatchResultVelocities(t *testing.T) {
	res := &BatchResult{Items: []ItemAnalysis{
		{TypeID: 1, Velocity: VelocityResult{TypeID: 1}},
		{TypeID: 2, Velocity: VelocityResult{TypeID: 2}},
	}}
	got := res.Velocities()
	if len(got) != 2 || got[1].TypeID != 2 {
		t.Errorf("Velocities = %+v", got)
	}
}

func ExampleRunBatch() {
	src := &fakeSource{inputs: map[int32]ItemInput{
		34: sampleInput(34, []float64{100, 102, 104, 106, 108}),
	}}
	res, _ := RunBatch(context.Background(), src, BatchRequest{TypeIDs: []int32{34}, PredictPeriods: 1})
	fmt.Println(res.Items[0].Trend.Trend, *res.Items[0].Trend.PredictedPrice)
	// Output: bullish 110
}
