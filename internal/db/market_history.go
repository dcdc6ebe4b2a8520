package db

import (
	"context"
	"fmt"
	"time"

	"eve-trade-analytics/internal/esi"
	"eve-trade-analytics/internal/logger"
)

const (
	historyRetentionDays = 90
	metaRetentionDays    = 30
)

// GetMarketHistory retrieves cached market history for a region/type pair.
// Returns nil, false if not cached or if the cache is older than the history TTL.
func (d *DB) GetMarketHistory(ctx context.Context, regionID, typeID int32) ([]esi.HistoryEntry, bool) {
	var updatedAt string
	err := d.sql.QueryRowContext(ctx,
		"SELECT updated_at FROM market_history_meta WHERE region_id=? AND type_id=?",
		regionID, typeID,
	).Scan(&updatedAt)
	if err != nil {
		return nil, false
	}

	t, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil || d.now().Sub(t) > d.historyTTL {
		return nil, false
	}

	rows, err := d.sql.QueryContext(ctx,
		"SELECT date, average, highest, lowest, volume, order_count FROM market_history WHERE region_id=? AND type_id=? ORDER BY date",
		regionID, typeID,
	)
	if err != nil {
		return nil, false
	}
	defer rows.Close()

	var entries []esi.HistoryEntry
	for rows.Next() {
		var e esi.HistoryEntry
		if err := rows.Scan(&e.Date, &e.Average, &e.Highest, &e.Lowest, &e.Volume, &e.OrderCount); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if len(entries) == 0 {
		return nil, false
	}
	return entries, true
}

// SetMarketHistory replaces the cached history of a region/type pair.
// Only entries within 90 days of the newest entry are stored.
func (d *DB) SetMarketHistory(ctx context.Context, regionID, typeID int32, entries []esi.HistoryEntry) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM market_history WHERE region_id=? AND type_id=?", regionID, typeID); err != nil {
		return fmt.Errorf("delete old history: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT OR REPLACE INTO market_history (region_id, type_id, date, average, highest, lowest, volume, order_count) VALUES (?,?,?,?,?,?,?,?)")
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	now := d.now()
	cutoff := retentionCutoff(entries)
	for _, e := range entries {
		if e.Date < cutoff {
			continue
		}
		if _, err := stmt.ExecContext(ctx, regionID, typeID, e.Date, e.Average, e.Highest, e.Lowest, e.Volume, e.OrderCount); err != nil {
			return fmt.Errorf("insert %s: %w", e.Date, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO market_history_meta (region_id, type_id, updated_at) VALUES (?,?,?)",
		regionID, typeID, now.UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("update meta: %w", err)
	}
	return tx.Commit()
}

// retentionCutoff is the oldest date kept for a history series: 90 days before
// its newest entry. It covers the engine's analysis window.
func retentionCutoff(entries []esi.HistoryEntry) string {
	var newest time.Time
	for _, e := range entries {
		if t, err := time.Parse("2006-01-02", e.Date); err == nil && t.After(newest) {
			newest = t
		}
	}
	if newest.IsZero() {
		return ""
	}
	return newest.AddDate(0, 0, -historyRetentionDays).Format("2006-01-02")
}

// CleanupStats reports what CleanupOldHistory removed.
type CleanupStats struct {
	HistoryRows  int64 `json:"history_rows"`
	MetaRows     int64 `json:"meta_rows"`
	OrphanedRows int64 `json:"orphaned_rows"`
}

// CleanupOldHistory removes market history older than 90 days, meta entries
// not refreshed in 30 days and history rows whose meta is gone.
// It only runs when called; nothing schedules it.
func (d *DB) CleanupOldHistory(ctx context.Context) (CleanupStats, error) {
	var stats CleanupStats
	now := d.now()
	cutoffDate := now.AddDate(0, 0, -historyRetentionDays).Format("2006-01-02")
	cutoffMeta := now.AddDate(0, 0, -metaRetentionDays).UTC().Format(time.RFC3339)

	res, err := d.sql.ExecContext(ctx, "DELETE FROM market_history WHERE date < ?", cutoffDate)
	if err != nil {
		return stats, fmt.Errorf("history delete: %w", err)
	}
	stats.HistoryRows, _ = res.RowsAffected()

	res, err = d.sql.ExecContext(ctx, "DELETE FROM market_history_meta WHERE updated_at < ?", cutoffMeta)
	if err != nil {
		return stats, fmt.Errorf("meta delete: %w", err)
	}
	stats.MetaRows, _ = res.RowsAffected()

	res, err = d.sql.ExecContext(ctx, `
		DELETE FROM market_history
		WHERE (region_id, type_id) NOT IN (
			SELECT region_id, type_id FROM market_history_meta
		)
	`)
	if err != nil {
		return stats, fmt.Errorf("orphan delete: %w", err)
	}
	stats.OrphanedRows, _ = res.RowsAffected()

	if stats.HistoryRows+stats.MetaRows+stats.OrphanedRows > 0 {
		logger.Info("DB", fmt.Sprintf("Cleanup removed %d history, %d meta, %d orphaned rows",
			stats.HistoryRows, stats.MetaRows, stats.OrphanedRows))
	}
	return stats, nil
}

// HistoryCache exposes the market history tables as an esi.HistoryCache.
func (d *DB) HistoryCache() esi.HistoryCache {
	return historyCache{d}
}

type historyCache struct{ d *DB }

func (c historyCache) GetHistory(ctx context.Context, regionID, typeID int32) ([]esi.HistoryEntry, bool) {
	return c.d.GetMarketHistory(ctx, regionID, typeID)
}

func (c historyCache) SetHistory(ctx context.Context, regionID, typeID int32, entries []esi.HistoryEntry) {
	if err := c.d.SetMarketHistory(ctx, regionID, typeID, entries); err != nil {
		logger.Warn("DB", fmt.Sprintf("cache history %d/%d: %v", regionID, typeID, err))
	}
}
