package commands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"eve-trade-analytics/internal/engine"
	"eve-trade-analytics/internal/esi"
	"eve-trade-analytics/internal/logger"
)

var (
	pnlFetch bool
	pnlTypes string
)

var pnlCmd = &cobra.Command{
	Use:   "pnl",
	Short: "Report FIFO realized profit and open positions",
	Long: `Match stored wallet transactions first-in first-out and print realized
profit per item plus the quantity still held.

With --fetch, new transactions are pulled from ESI for the configured
character first (needs EVE_CHARACTER_ID and EVE_ACCESS_TOKEN).

Examples:
  eve-trade-analytics pnl --fetch
  eve-trade-analytics pnl --types 34,35`,
	RunE: runPnL,
}

func init() {
	pnlCmd.Flags().BoolVar(&pnlFetch, "fetch", false, "pull new wallet transactions from ESI first")
	pnlCmd.Flags().StringVar(&pnlTypes, "types", "", "comma-separated type IDs (default all)")
	rootCmd.AddCommand(pnlCmd)
}

type walletAPI interface {
	GetWalletTransactions(ctx context.Context, characterID int64, accessToken string, fromID int64) ([]esi.WalletTransaction, error)
}

type ledgerStore interface {
	LatestTransactionID(ctx context.Context, characterID int64) (int64, error)
	InsertTransactions(ctx context.Context, characterID int64, txns []esi.WalletTransaction) (int, error)
}

// maxWalletPages bounds how far back one sync walks.
const maxWalletPages = 20

// syncWallet pages back from the newest transaction until it reaches one that
// is already stored, and returns the number of newly inserted rows.
func syncWallet(ctx context.Context, api walletAPI, store ledgerStore, characterID int64, token string) (int, error) {
	latest, err := store.LatestTransactionID(ctx, characterID)
	if err != nil {
		return 0, err
	}

	var inserted int
	var fromID int64
	for page := 0; page < maxWalletPages; page++ {
		txns, err := api.GetWalletTransactions(ctx, characterID, token, fromID)
		if err != nil {
			return inserted, err
		}
		if len(txns) == 0 {
			break
		}
		n, err := store.InsertTransactions(ctx, characterID, txns)
		if err != nil {
			return inserted, err
		}
		inserted += n

		oldest := txns[0].TransactionID
		for _, tx := range txns[1:] {
			oldest = min(oldest, tx.TransactionID)
		}
		if oldest <= latest || oldest == fromID {
			break
		}
		fromID = oldest
	}
	return inserted, nil
}

func runPnL(cmd *cobra.Command, args []string) error {
	typeIDs, err := parseTypeIDs(pnlTypes)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	database, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	if pnlFetch {
		if cfg.Character.ID == 0 || cfg.Character.AccessToken == "" {
			return fmt.Errorf("--fetch needs EVE_CHARACTER_ID and EVE_ACCESS_TOKEN")
		}
		n, err := syncWallet(ctx, newESIClient(cfg, nil), database, cfg.Character.ID, cfg.Character.AccessToken)
		if err != nil {
			return fmt.Errorf("sync wallet: %w", err)
		}
		logger.Info("PnL", fmt.Sprintf("Stored %d new transactions", n))
	}

	txns, err := database.ListTransactions(ctx, typeIDs...)
	if err != nil {
		return err
	}
	printReport(engine.BuildFIFOReport(txns))
	printRisk(engine.AssessCashFlowRisk(txns, time.Now().UTC()))
	return nil
}

func printReport(r engine.FIFOReport) {
	logger.Section("Realized")
	for _, t := range r.Trades {
		logger.Stats(strconv.Itoa(int(t.TypeID)), fmt.Sprintf(
			"%d units  buy %.2f  sell %.2f  profit %.2f  roi %.1f%%",
			t.QuantityMatched, t.AvgBuyPrice, t.AvgSellPrice, t.Profit, t.ROI*100))
	}
	logger.Stats("Total profit", fmt.Sprintf("%.2f", r.TotalProfit))
	logger.Stats("ROI", fmt.Sprintf("%.1f%%", r.ROI*100))
	if r.SkippedRecords > 0 {
		logger.Stats("Skipped records", r.SkippedRecords)
	}

	if len(r.Open) > 0 {
		logger.Section("Open positions")
		for _, p := range r.Open {
			logger.Stats(strconv.Itoa(int(p.TypeID)), fmt.Sprintf("%d units  avg cost %.2f", p.Quantity, p.AvgCost))
		}
	}
}

func printRisk(r *engine.CashFlowRisk) {
	logger.Section("Cash flow risk")
	if r == nil {
		logger.Stats("Risk", "not enough trading days")
		return
	}
	logger.Stats("Score", fmt.Sprintf("%.0f (%s)", r.RiskScore, r.RiskLevel))
	logger.Stats("Typical day", fmt.Sprintf("%.2f", r.TypicalDailyFlow))
	logger.Stats("VaR 95 / 99", fmt.Sprintf("%.2f / %.2f", r.VaR95, r.VaR99))
	logger.Stats("ES 95 / 99", fmt.Sprintf("%.2f / %.2f", r.ES95, r.ES99))
	logger.Stats("Worst day", fmt.Sprintf("%.2f", r.WorstDay))
	logger.Stats("Days", fmt.Sprintf("%d of %d", r.SampleDays, r.WindowDays))
	if r.LowSample {
		logger.Warn("PnL", "Fewer than 20 trading days; tail figures are rough")
	}
}
