package market

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eve-trade-analytics/internal/db"
	"eve-trade-analytics/internal/engine"
	"eve-trade-analytics/internal/esi"
)

type fakeAPI struct {
	history      map[int32][]esi.HistoryEntry
	orders       map[int32][]esi.MarketOrder
	historyErr   error
	ordersErr    error
	healthErr    error
	historyCalls atomic.Int32
	delay        time.Duration
}

func (f *fakeAPI) FetchMarketHistory(ctx context.Context, regionID, typeID int32) ([]esi.HistoryEntry, error) {
	f.historyCalls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	h, ok := f.history[typeID]
	if !ok {
		return nil, &esi.StatusError{Code: 404, Body: "type not found"}
	}
	return h, nil
}

func (f *fakeAPI) FetchRegionOrdersByType(ctx context.Context, regionID, typeID int32) ([]esi.MarketOrder, error) {
	if f.ordersErr != nil {
		return nil, f.ordersErr
	}
	return f.orders[typeID], nil
}

func (f *fakeAPI) HealthCheck(ctx context.Context) error { return f.healthErr }

type memCache struct {
	mu      sync.Mutex
	entries map[int32][]esi.HistoryEntry
	sets    int
}

func newMemCache() *memCache { return &memCache{entries: map[int32][]esi.HistoryEntry{}} }

func (c *memCache) GetHistory(_ context.Context, _, typeID int32) ([]esi.HistoryEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[typeID]
	return e, ok
}

func (c *memCache) SetHistory(_ context.Context, _, typeID int32, entries []esi.HistoryEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[typeID] = entries
	c.sets++
}

var (
	_ engine.Source      = (*Source)(nil)
	_ engine.Preflighter = (*Source)(nil)
)

func sampleAPI() *fakeAPI {
	return &fakeAPI{
		history: map[int32][]esi.HistoryEntry{
			34: {
				{Date: "2024-01-01", Average: 5, Volume: 1000},
				{Date: "2024-01-02", Average: 5.2, Volume: 1100},
				{Date: "2024-01-03", Average: 5.4, Volume: 1200},
			},
		},
		orders: map[int32][]esi.MarketOrder{
			34: {
				{OrderID: 1, LocationID: 60003760, Price: 5.5, VolumeRemain: 100},
				{OrderID: 2, LocationID: 60008494, Price: 5.0, VolumeRemain: 900},
				{OrderID: 3, LocationID: 60003760, Price: 5.1, VolumeRemain: 50, IsBuyOrder: true},
			},
		},
	}
}

func TestLoadItem_WholeRegion(t *testing.T) {
	src := NewSource(sampleAPI(), nil, 0)
	in, err := src.LoadItem(context.Background(), 10000002, 34)
	require.NoError(t, err)

	assert.Equal(t, int32(34), in.TypeID)
	assert.Len(t, in.History, 3)
	assert.Equal(t, 2, in.Book.SellOrders)
	assert.Equal(t, 5.0, in.Book.BestSellPrice)
	assert.Equal(t, int64(1000), in.Book.TotalSellVolume)
}

func TestLoadItem_StationFilter(t *testing.T) {
	src := NewSource(sampleAPI(), nil, 60003760)
	in, err := src.LoadItem(context.Background(), 10000002, 34)
	require.NoError(t, err)

	assert.Equal(t, 1, in.Book.SellOrders)
	assert.Equal(t, 5.5, in.Book.BestSellPrice)
	assert.Equal(t, 5.1, in.Book.BestBuyPrice)
}

func TestLoadItem_UnknownTypeHasEmptyHistory(t *testing.T) {
	src := NewSource(sampleAPI(), nil, 0)
	in, err := src.LoadItem(context.Background(), 10000002, 99999)
	require.NoError(t, err)
	assert.Empty(t, in.History)

	a := engine.AnalyzeItem(in, 7)
	assert.Equal(t, engine.TrendNeutral, a.Trend.Trend)
	assert.Nil(t, a.Trend.PredictedPrice)
}

func TestLoadItem_ErrorsFailTheItem(t *testing.T) {
	api := sampleAPI()
	api.ordersErr = errors.New("ESI 503")
	_, err := NewSource(api, nil, 0).LoadItem(context.Background(), 1, 34)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "orders")

	api = sampleAPI()
	api.historyErr = errors.New("ESI 500")
	_, err = NewSource(api, nil, 0).LoadItem(context.Background(), 1, 34)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history")
}

func TestHistory_UsesCache(t *testing.T) {
	api := sampleAPI()
	cache := newMemCache()
	src := NewSource(api, cache, 0)
	ctx := context.Background()

	_, err := src.History(ctx, 1, 34)
	require.NoError(t, err)
	_, err = src.History(ctx, 1, 34)
	require.NoError(t, err)

	assert.Equal(t, int32(1), api.historyCalls.Load())
	assert.Equal(t, 1, cache.sets)

	// Empty history is not cached.
	_, err = src.History(ctx, 1, 99999)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets)
}

// longHistory is a year of steady gains followed by a two-week slide.
func longHistory() []esi.HistoryEntry {
	start := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]esi.HistoryEntry, 400)
	for i := range out {
		avg := 100 + float64(i)*0.5
		if i >= 386 {
			avg = 293 - float64(i-386)*4
		}
		out[i] = esi.HistoryEntry{
			Date:    start.AddDate(0, 0, i).Format("2006-01-02"),
			Average: avg,
			Volume:  int64(1000 + i%7*100),
		}
	}
	return out
}

func TestLoadItem_ColdAndWarmCacheAgree(t *testing.T) {
	ctx := context.Background()
	d, err := db.Open(t.TempDir() + "/cache.db")
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	caches := map[string]esi.HistoryCache{
		"sqlite": d.HistoryCache(),
		"full":   newMemCache(),
	}
	for name, cache := range caches {
		t.Run(name, func(t *testing.T) {
			api := sampleAPI()
			api.history[34] = longHistory()
			src := NewSource(api, cache, 0)

			cold, err := src.LoadItem(ctx, 10000002, 34)
			require.NoError(t, err)
			warm, err := src.LoadItem(ctx, 10000002, 34)
			require.NoError(t, err)
			require.Equal(t, int32(1), api.historyCalls.Load(), "second load must come from the cache")

			a, b := engine.AnalyzeItem(cold, 7), engine.AnalyzeItem(warm, 7)
			assert.Equal(t, a, b)
			assert.Equal(t, engine.AnalysisWindowDays, a.Points)
			assert.Equal(t, engine.TrendBearish, a.Trend.Trend)
		})
	}
}

func TestHistory_DeduplicatesConcurrentFetches(t *testing.T) {
	api := sampleAPI()
	api.delay = 50 * time.Millisecond
	src := NewSource(api, nil, 0)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := src.History(context.Background(), 1, 34)
			assert.NoError(t, err)
			assert.Len(t, h, 3)
		}()
	}
	wg.Wait()
	assert.Less(t, api.historyCalls.Load(), int32(8))
}

func TestPreflight(t *testing.T) {
	api := sampleAPI()
	require.NoError(t, NewSource(api, nil, 0).Preflight(context.Background()))

	api.healthErr = errors.New("connection refused")
	err := NewSource(api, nil, 0).Preflight(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRunBatchWithSource(t *testing.T) {
	api := sampleAPI()
	api.orders[35] = nil
	api.history[35] = []esi.HistoryEntry{{Date: "2024-01-01", Average: 1}}
	src := NewSource(api, newMemCache(), 0)

	res, err := engine.RunBatch(context.Background(), src, engine.BatchRequest{
		RegionID: 10000002, TypeIDs: []int32{34, 35, 99999}, PredictPeriods: 7,
	})
	require.NoError(t, err)
	assert.Len(t, res.Items, 3)
	assert.Empty(t, res.Failed)

	api.healthErr = errors.New("down")
	_, err = engine.RunBatch(context.Background(), src, engine.BatchRequest{TypeIDs: []int32{34}})
	assert.Error(t, err)
}
