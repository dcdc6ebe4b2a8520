package esi

import (
	"context"
	"fmt"
)

// HistoryEntry represents a single day of market history for an item in a region.
// A null average decodes to 0; the engine drops such entries.
type HistoryEntry struct {
	Date       string  `json:"date"`
	Average    float64 `json:"average"`
	Highest    float64 `json:"highest"`
	Lowest     float64 `json:"lowest"`
	Volume     int64   `json:"volume"`
	OrderCount int64   `json:"order_count"`
}

// HistoryCache is a persistent cache for market history data.
type HistoryCache interface {
	GetHistory(ctx context.Context, regionID, typeID int32) ([]HistoryEntry, bool)
	SetHistory(ctx context.Context, regionID, typeID int32, entries []HistoryEntry)
}

// FetchMarketHistory fetches market history for a type in a region from ESI.
func (c *Client) FetchMarketHistory(ctx context.Context, regionID, typeID int32) ([]HistoryEntry, error) {
	url := fmt.Sprintf("%s/markets/%d/history/?datasource=tranquility&type_id=%d",
		c.baseURL, regionID, typeID)

	var entries []HistoryEntry
	if err := c.GetJSON(ctx, "history", url, &entries); err != nil {
		return nil, fmt.Errorf("history region=%d type=%d: %w", regionID, typeID, err)
	}
	return entries, nil
}
