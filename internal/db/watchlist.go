package db

import (
	"context"
	"fmt"
	"time"
)

// WatchlistItem is an item analyzed by default in a region.
type WatchlistItem struct {
	RegionID int32  `json:"region_id"`
	TypeID   int32  `json:"type_id"`
	Note     string `json:"note"`
	AddedAt  string `json:"added_at"`
}

// GetWatchlist returns watchlist items for a region, oldest first.
func (d *DB) GetWatchlist(ctx context.Context, regionID int32) ([]WatchlistItem, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT region_id, type_id, note, added_at
		  FROM watchlist
		 WHERE region_id = ?
		 ORDER BY added_at, type_id
	`, regionID)
	if err != nil {
		return nil, fmt.Errorf("query watchlist: %w", err)
	}
	defer rows.Close()

	items := []WatchlistItem{}
	for rows.Next() {
		var item WatchlistItem
		if err := rows.Scan(&item.RegionID, &item.TypeID, &item.Note, &item.AddedAt); err != nil {
			return nil, fmt.Errorf("scan watchlist: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// WatchlistTypeIDs returns just the type ids of a region's watchlist.
func (d *DB) WatchlistTypeIDs(ctx context.Context, regionID int32) ([]int32, error) {
	items, err := d.GetWatchlist(ctx, regionID)
	if err != nil {
		return nil, err
	}
	ids := make([]int32, len(items))
	for i, it := range items {
		ids[i] = it.TypeID
	}
	return ids, nil
}

// AddWatchlistItem inserts a watchlist item. Returns true if inserted, false if duplicate.
func (d *DB) AddWatchlistItem(ctx context.Context, item WatchlistItem) (bool, error) {
	if item.AddedAt == "" {
		item.AddedAt = d.now().UTC().Format(time.RFC3339)
	}
	res, err := d.sql.ExecContext(ctx,
		`INSERT OR IGNORE INTO watchlist (region_id, type_id, note, added_at) VALUES (?, ?, ?, ?)`,
		item.RegionID, item.TypeID, item.Note, item.AddedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert watchlist: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteWatchlistItem removes a watchlist item. Returns false if it was not present.
func (d *DB) DeleteWatchlistItem(ctx context.Context, regionID, typeID int32) (bool, error) {
	res, err := d.sql.ExecContext(ctx, "DELETE FROM watchlist WHERE region_id = ? AND type_id = ?", regionID, typeID)
	if err != nil {
		return false, fmt.Errorf("delete watchlist: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
