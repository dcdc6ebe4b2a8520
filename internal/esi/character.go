package esi

import (
	"context"
	"fmt"
)

// WalletTransaction represents a wallet transaction.
type WalletTransaction struct {
	TransactionID int64   `json:"transaction_id"`
	Date          string  `json:"date"` // RFC3339
	TypeID        int32   `json:"type_id"`
	LocationID    int64   `json:"location_id"`
	UnitPrice     float64 `json:"unit_price"`
	Quantity      int32   `json:"quantity"`
	IsBuy         bool    `json:"is_buy"`
}

// GetWalletTransactions fetches a character's recent wallet transactions.
// ESI returns at most 2500 rows, newest first; fromID pages further back (0 = newest).
func (c *Client) GetWalletTransactions(ctx context.Context, characterID int64, accessToken string, fromID int64) ([]WalletTransaction, error) {
	url := fmt.Sprintf("%s/characters/%d/wallet/transactions/?datasource=tranquility", c.baseURL, characterID)
	if fromID > 0 {
		url += fmt.Sprintf("&from_id=%d", fromID)
	}
	var txns []WalletTransaction
	if err := c.AuthGetJSON(ctx, "wallet_transactions", url, accessToken, &txns); err != nil {
		return nil, fmt.Errorf("wallet transactions: %w", err)
	}
	return txns, nil
}
