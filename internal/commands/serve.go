package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"eve-trade-analytics/internal/api"
	"eve-trade-analytics/internal/logger"
	"eve-trade-analytics/internal/market"
	"eve-trade-analytics/internal/metrics"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Start the HTTP API.

Analyses run only when a client calls POST /api/analyze; the server
never refreshes data on its own. Prometheus metrics are served on /metrics.

Examples:
  eve-trade-analytics serve
  eve-trade-analytics serve --port 9090`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveHost, "host", "H", "", "bind host (overrides config)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "bind port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	logger.Banner(appVersion)

	ctx := cmd.Context()

	database, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	m := metrics.New("")
	client := newESIClient(cfg, m)
	hc, closeCache, err := historyCache(ctx, cfg, database, m)
	if err != nil {
		return err
	}
	defer closeCache()

	src := market.NewSource(client, hc, cfg.Analysis.LocationID)
	srv := api.NewServer(cfg, src, database, m, appVersion)
	srv.SetOrderCache(client)

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Section("Config")
	logger.Stats("Region", cfg.Analysis.RegionID)
	logger.Stats("Location", cfg.Analysis.LocationID)
	logger.Stats("Cache", cfg.Cache.Backend)
	logger.Stats("Concurrency", cfg.Analysis.Concurrency)
	logger.Server(cfg.Addr())

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Server", "Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
