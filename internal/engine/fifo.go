package engine

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"eve-trade-analytics/internal/esi"
)

// Transaction is one executed trade from a wallet ledger.
type Transaction struct {
	ID        int64     `json:"transaction_id,omitempty"`
	TypeID    int32     `json:"type_id"`
	Date      time.Time `json:"date"`
	Quantity  int64     `json:"quantity"`
	UnitPrice float64   `json:"unit_price"`
	IsBuy     bool      `json:"is_buy"`
}

// MatchedTrade is the realized P&L of one item's round-tripped quantity.
type MatchedTrade struct {
	TypeID           int32   `json:"type_id"`
	QuantityMatched  int64   `json:"quantity_matched"`
	AvgBuyPrice      float64 `json:"avg_buy_price"`
	AvgSellPrice     float64 `json:"avg_sell_price"`
	TotalBuyCost     float64 `json:"total_buy_cost"`
	TotalSellRevenue float64 `json:"total_sell_revenue"`
	Profit           float64 `json:"profit"`
	ROI              float64 `json:"roi"` // fraction: profit / cost
	TradeCount       int     `json:"trade_count"`
}

// OpenPosition is bought quantity not yet matched by a sale, at FIFO cost.
type OpenPosition struct {
	TypeID    int32   `json:"type_id"`
	Quantity  int64   `json:"quantity"`
	CostBasis float64 `json:"cost_basis"`
	AvgCost   float64 `json:"avg_cost"`
}

// TransactionsFromWallet converts ESI wallet rows, dropping rows with an
// unparseable date, a non-positive quantity or a negative price.
func TransactionsFromWallet(txns []esi.WalletTransaction) []Transaction {
	out := make([]Transaction, 0, len(txns))
	for _, tx := range txns {
		d, err := time.Parse(time.RFC3339, tx.Date)
		if err != nil || tx.Quantity <= 0 || tx.UnitPrice < 0 {
			continue
		}
		out = append(out, Transaction{
			ID:        tx.TransactionID,
			TypeID:    tx.TypeID,
			Date:      d,
			Quantity:  int64(tx.Quantity),
			UnitPrice: tx.UnitPrice,
			IsBuy:     tx.IsBuy,
		})
	}
	return out
}

// MatchFIFO pairs each item's sells against its oldest unmatched buys and
// returns realized P&L for every item with matched quantity, ordered by TypeID.
func MatchFIFO(txns []Transaction) []MatchedTrade {
	trades, _ := matchLedger(txns)
	return trades
}

// OpenPositions returns the unmatched buy quantity left after FIFO matching,
// ordered by TypeID. Unmatched sells are not reported.
func OpenPositions(txns []Transaction) []OpenPosition {
	_, open := matchLedger(txns)
	return open
}

// FIFOReport bundles both sides of a matching run.
type FIFOReport struct {
	Trades         []MatchedTrade `json:"trades"`
	Open           []OpenPosition `json:"open_positions"`
	TotalProfit    float64        `json:"total_profit"`
	TotalCost      float64        `json:"total_cost"`
	TotalRevenue   float64        `json:"total_revenue"`
	ROI            float64        `json:"roi"`
	SkippedRecords int            `json:"skipped_records"`
}

// BuildFIFOReport runs one matching pass and totals the realized P&L.
func BuildFIFOReport(txns []Transaction) FIFOReport {
	trades, open := matchLedger(txns)
	r := FIFOReport{Trades: trades, Open: open}

	var cost, revenue decimal.Decimal
	for _, t := range trades {
		cost = cost.Add(decimal.NewFromFloat(t.TotalBuyCost))
		revenue = revenue.Add(decimal.NewFromFloat(t.TotalSellRevenue))
	}
	profit := revenue.Sub(cost)
	r.TotalCost = cost.InexactFloat64()
	r.TotalRevenue = revenue.InexactFloat64()
	r.TotalProfit = profit.InexactFloat64()
	if !cost.IsZero() {
		r.ROI = profit.Div(cost).InexactFloat64()
	}
	for _, tx := range txns {
		if !validTransaction(tx) {
			r.SkippedRecords++
		}
	}
	return r
}

func validTransaction(tx Transaction) bool {
	if math.IsNaN(tx.UnitPrice) || math.IsInf(tx.UnitPrice, 0) {
		return false
	}
	return tx.Quantity > 0 && tx.UnitPrice >= 0
}

type itemLedger struct {
	buys  []Transaction
	sells []Transaction
}

func matchLedger(txns []Transaction) ([]MatchedTrade, []OpenPosition) {
	ledgers := make(map[int32]*itemLedger)
	for _, tx := range txns {
		if !validTransaction(tx) {
			continue
		}
		l, ok := ledgers[tx.TypeID]
		if !ok {
			l = &itemLedger{}
			ledgers[tx.TypeID] = l
		}
		if tx.IsBuy {
			l.buys = append(l.buys, tx)
		} else {
			l.sells = append(l.sells, tx)
		}
	}

	typeIDs := make([]int32, 0, len(ledgers))
	for id := range ledgers {
		typeIDs = append(typeIDs, id)
	}
	sort.Slice(typeIDs, func(i, j int) bool { return typeIDs[i] < typeIDs[j] })

	var trades []MatchedTrade
	var open []OpenPosition
	for _, id := range typeIDs {
		t, o := matchItem(id, ledgers[id])
		if t.QuantityMatched > 0 {
			trades = append(trades, t)
		}
		if o.Quantity > 0 {
			open = append(open, o)
		}
	}
	if trades == nil {
		trades = []MatchedTrade{}
	}
	if open == nil {
		open = []OpenPosition{}
	}
	return trades, open
}

// matchItem walks the date-ordered buys and sells of one item with two cursors.
func matchItem(typeID int32, l *itemLedger) (MatchedTrade, OpenPosition) {
	byDate := func(txs []Transaction) {
		sort.SliceStable(txs, func(i, j int) bool { return txs[i].Date.Before(txs[j].Date) })
	}
	byDate(l.buys)
	byDate(l.sells)

	var (
		cost, revenue decimal.Decimal
		matched       int64
		pairings      int
		bi, si        int
		buyLeft       int64
		sellLeft      int64
	)
	if len(l.buys) > 0 {
		buyLeft = l.buys[0].Quantity
	}
	if len(l.sells) > 0 {
		sellLeft = l.sells[0].Quantity
	}

	for bi < len(l.buys) && si < len(l.sells) {
		q := min(buyLeft, sellLeft)
		qd := decimal.NewFromInt(q)
		cost = cost.Add(decimal.NewFromFloat(l.buys[bi].UnitPrice).Mul(qd))
		revenue = revenue.Add(decimal.NewFromFloat(l.sells[si].UnitPrice).Mul(qd))
		matched += q
		pairings++

		buyLeft -= q
		sellLeft -= q
		if buyLeft == 0 {
			bi++
			if bi < len(l.buys) {
				buyLeft = l.buys[bi].Quantity
			}
		}
		if sellLeft == 0 {
			si++
			if si < len(l.sells) {
				sellLeft = l.sells[si].Quantity
			}
		}
	}

	trade := MatchedTrade{TypeID: typeID}
	if matched > 0 {
		qty := decimal.NewFromInt(matched)
		profit := revenue.Sub(cost)
		trade.QuantityMatched = matched
		trade.TotalBuyCost = cost.InexactFloat64()
		trade.TotalSellRevenue = revenue.InexactFloat64()
		trade.AvgBuyPrice = cost.Div(qty).InexactFloat64()
		trade.AvgSellPrice = revenue.Div(qty).InexactFloat64()
		trade.Profit = profit.InexactFloat64()
		if !cost.IsZero() {
			trade.ROI = profit.Div(cost).InexactFloat64()
		}
		trade.TradeCount = pairings
	}

	pos := OpenPosition{TypeID: typeID}
	if bi < len(l.buys) {
		var basis decimal.Decimal
		pos.Quantity = buyLeft
		basis = decimal.NewFromFloat(l.buys[bi].UnitPrice).Mul(decimal.NewFromInt(buyLeft))
		for _, b := range l.buys[bi+1:] {
			pos.Quantity += b.Quantity
			basis = basis.Add(decimal.NewFromFloat(b.UnitPrice).Mul(decimal.NewFromInt(b.Quantity)))
		}
		pos.CostBasis = basis.InexactFloat64()
		if pos.Quantity > 0 {
			pos.AvgCost = basis.Div(decimal.NewFromInt(pos.Quantity)).InexactFloat64()
		}
	}
	return trade, pos
}
