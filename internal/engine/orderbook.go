package engine

import (
	"math"

	"eve-trade-analytics/internal/esi"
)

// CompetitionLevel classifies how crowded the sell side of a book is.
type CompetitionLevel string

const (
	CompetitionLow     CompetitionLevel = "low"
	CompetitionMedium  CompetitionLevel = "medium"
	CompetitionHigh    CompetitionLevel = "high"
	CompetitionExtreme CompetitionLevel = "extreme"
)

// competitionBandPct is how far above best sell an order still counts as competing.
const competitionBandPct = 5.0

// OrderBookSummary aggregates the open orders of one item in one market.
type OrderBookSummary struct {
	BuyOrders        int              `json:"buy_orders"`
	SellOrders       int              `json:"sell_orders"`
	BestBuyPrice     float64          `json:"best_buy_price"`
	BestSellPrice    float64          `json:"best_sell_price"`
	TotalBuyVolume   int64            `json:"total_buy_volume"`
	TotalSellVolume  int64            `json:"total_sell_volume"`
	Spread           float64          `json:"spread"` // percent of best sell
	CompetitionLevel CompetitionLevel `json:"competition_level"`
}

// SummarizeOrderBook builds an OrderBookSummary from raw orders.
// Orders with a non-positive price or remaining volume are ignored.
func SummarizeOrderBook(orders []esi.MarketOrder) OrderBookSummary {
	var s OrderBookSummary
	bestSell := math.MaxFloat64

	for _, o := range orders {
		if o.Price <= 0 || o.VolumeRemain <= 0 {
			continue
		}
		if o.IsBuyOrder {
			s.BuyOrders++
			s.TotalBuyVolume += int64(o.VolumeRemain)
			if o.Price > s.BestBuyPrice {
				s.BestBuyPrice = o.Price
			}
		} else {
			s.SellOrders++
			s.TotalSellVolume += int64(o.VolumeRemain)
			if o.Price < bestSell {
				bestSell = o.Price
			}
		}
	}
	if s.SellOrders > 0 {
		s.BestSellPrice = bestSell
	}
	if s.BestBuyPrice > 0 && s.BestSellPrice > 0 {
		s.Spread = (s.BestSellPrice - s.BestBuyPrice) / s.BestSellPrice * 100
	}

	competing := 0
	if s.BestSellPrice > 0 {
		limit := s.BestSellPrice * (1 + competitionBandPct/100)
		for _, o := range orders {
			if !o.IsBuyOrder && o.Price > 0 && o.VolumeRemain > 0 && o.Price <= limit {
				competing++
			}
		}
	}
	s.CompetitionLevel = ClassifyCompetition(competing)
	return s
}

// ClassifyCompetition maps the number of sell orders near the best price to a level.
func ClassifyCompetition(competingOrders int) CompetitionLevel {
	switch {
	case competingOrders <= 2:
		return CompetitionLow
	case competingOrders <= 5:
		return CompetitionMedium
	case competingOrders <= 10:
		return CompetitionHigh
	default:
		return CompetitionExtreme
	}
}

// FilterLocation keeps only orders at locationID (0 keeps everything).
func FilterLocation(orders []esi.MarketOrder, locationID int64) []esi.MarketOrder {
	if locationID == 0 {
		return orders
	}
	out := make([]esi.MarketOrder, 0, len(orders))
	for _, o := range orders {
		if o.LocationID == locationID {
			out = append(out, o)
		}
	}
	return out
}
