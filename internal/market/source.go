// Package market loads per-item analysis inputs from ESI and the history cache.
package market

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"eve-trade-analytics/internal/engine"
	"eve-trade-analytics/internal/esi"
)

// API is the subset of the ESI client the source needs.
type API interface {
	FetchMarketHistory(ctx context.Context, regionID, typeID int32) ([]esi.HistoryEntry, error)
	FetchRegionOrdersByType(ctx context.Context, regionID, typeID int32) ([]esi.MarketOrder, error)
	HealthCheck(ctx context.Context) error
}

// Source implements engine.Source and engine.Preflighter.
type Source struct {
	api        API
	cache      esi.HistoryCache
	locationID int64
	group      singleflight.Group
}

// NewSource builds a source. cache may be nil; locationID 0 keeps the whole region.
func NewSource(api API, cache esi.HistoryCache, locationID int64) *Source {
	return &Source{api: api, cache: cache, locationID: locationID}
}

// Preflight fails when ESI itself is unreachable, so a batch does not record
// every item as an individual failure.
func (s *Source) Preflight(ctx context.Context) error {
	if err := s.api.HealthCheck(ctx); err != nil {
		return fmt.Errorf("esi health check: %w", err)
	}
	return nil
}

// LoadItem fetches history and the order book of one item concurrently.
func (s *Source) LoadItem(ctx context.Context, regionID, typeID int32) (engine.ItemInput, error) {
	in := engine.ItemInput{TypeID: typeID}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h, err := s.History(gctx, regionID, typeID)
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		in.History = h
		return nil
	})
	g.Go(func() error {
		orders, err := s.api.FetchRegionOrdersByType(gctx, regionID, typeID)
		if err != nil {
			return fmt.Errorf("orders: %w", err)
		}
		in.Book = engine.SummarizeOrderBook(engine.FilterLocation(orders, s.locationID))
		return nil
	})
	if err := g.Wait(); err != nil {
		return engine.ItemInput{}, err
	}
	return in, nil
}

// History returns cached history when fresh, otherwise fetches it once per
// region/type even under concurrent callers and stores it.
// An item that never traded in the region (404) has empty history.
func (s *Source) History(ctx context.Context, regionID, typeID int32) ([]esi.HistoryEntry, error) {
	if s.cache != nil {
		if entries, ok := s.cache.GetHistory(ctx, regionID, typeID); ok {
			return entries, nil
		}
	}

	key := fmt.Sprintf("%d:%d", regionID, typeID)
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		entries, err := s.api.FetchMarketHistory(ctx, regionID, typeID)
		if errors.Is(err, esi.ErrNotFound) {
			return []esi.HistoryEntry{}, nil
		}
		if err != nil {
			return nil, err
		}
		if s.cache != nil && len(entries) > 0 {
			s.cache.SetHistory(ctx, regionID, typeID, entries)
		}
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]esi.HistoryEntry), nil
}
