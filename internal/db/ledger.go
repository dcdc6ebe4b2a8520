package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"eve-trade-analytics/internal/engine"
	"eve-trade-analytics/internal/esi"
)

// InsertTransactions appends wallet transactions to the ledger.
// Rows already present (same transaction_id) are left untouched.
// Returns the number of newly stored rows.
func (d *DB) InsertTransactions(ctx context.Context, characterID int64, txns []esi.WalletTransaction) (int, error) {
	if len(txns) == 0 {
		return 0, nil
	}
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO wallet_transactions
		(transaction_id, character_id, date, type_id, location_id, unit_price, quantity, is_buy)
		VALUES (?,?,?,?,?,?,?,?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, t := range txns {
		res, err := stmt.ExecContext(ctx, t.TransactionID, characterID, t.Date, t.TypeID, t.LocationID, t.UnitPrice, t.Quantity, t.IsBuy)
		if err != nil {
			return 0, fmt.Errorf("insert transaction %d: %w", t.TransactionID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// ListTransactions returns stored transactions in date order, optionally
// restricted to the given item types. Rows with an unparseable date are skipped.
func (d *DB) ListTransactions(ctx context.Context, typeIDs ...int32) ([]engine.Transaction, error) {
	query := "SELECT transaction_id, date, type_id, unit_price, quantity, is_buy FROM wallet_transactions"
	args := make([]any, 0, len(typeIDs))
	if len(typeIDs) > 0 {
		query += " WHERE type_id IN (" + strings.TrimSuffix(strings.Repeat("?,", len(typeIDs)), ",") + ")"
		for _, id := range typeIDs {
			args = append(args, id)
		}
	}
	query += " ORDER BY date, transaction_id"

	rows, err := d.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	out := []engine.Transaction{}
	for rows.Next() {
		var (
			t    engine.Transaction
			date string
		)
		if err := rows.Scan(&t.ID, &date, &t.TypeID, &t.UnitPrice, &t.Quantity, &t.IsBuy); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339, date)
		if err != nil {
			continue
		}
		t.Date = parsed
		out = append(out, t)
	}
	return out, rows.Err()
}

// LatestTransactionID returns the highest stored transaction id for a character (0 if none).
func (d *DB) LatestTransactionID(ctx context.Context, characterID int64) (int64, error) {
	var id int64
	err := d.sql.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(transaction_id), 0) FROM wallet_transactions WHERE character_id = ?",
		characterID,
	).Scan(&id)
	return id, err
}
