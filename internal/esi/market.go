package esi

import (
	"context"
	"fmt"
)

// MarketOrder mirrors the ESI market order response.
type MarketOrder struct {
	OrderID      int64   `json:"order_id"`
	TypeID       int32   `json:"type_id"`
	LocationID   int64   `json:"location_id"`
	SystemID     int32   `json:"system_id"`
	Price        float64 `json:"price"`
	VolumeRemain int32   `json:"volume_remain"`
	IsBuyOrder   bool    `json:"is_buy_order"`
	RegionID     int32   `json:"-"` // set by us
}

// FetchRegionOrdersByType fetches all open orders (both sides) for a type in a region.
// Results are cached until the ESI Expires time.
func (c *Client) FetchRegionOrdersByType(ctx context.Context, regionID, typeID int32) ([]MarketOrder, error) {
	return c.fetchOrdersCached(ctx, regionID, typeID)
}

func (c *Client) fetchOrdersUncached(ctx context.Context, regionID, typeID int32) ([]MarketOrder, pageMeta, error) {
	url := fmt.Sprintf("%s/markets/%d/orders/?datasource=tranquility&order_type=all&type_id=%d",
		c.baseURL, regionID, typeID)

	orders, meta, err := getPaginated[MarketOrder](ctx, c, "orders", url)
	if err != nil {
		return nil, meta, fmt.Errorf("orders region=%d type=%d: %w", regionID, typeID, err)
	}
	for i := range orders {
		orders[i].RegionID = regionID
	}
	return orders, meta, nil
}
