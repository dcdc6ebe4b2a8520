package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"eve-trade-analytics/internal/config"
	"eve-trade-analytics/internal/db"
	"eve-trade-analytics/internal/engine"
	"eve-trade-analytics/internal/logger"
	"eve-trade-analytics/internal/metrics"
)

// Server is the HTTP API server.
type Server struct {
	cfg     *config.Config
	source  engine.Source
	db      *db.DB
	metrics *metrics.Metrics
	version string

	// Owned here and only reset on request; the engine never refreshes it.
	memo *engine.Memo

	orders orderCache

	// One batch at a time; analysis fans out internally.
	batchMu sync.Mutex
}

// orderCache is the short-lived order book cache of the ESI client.
type orderCache interface {
	PurgeOrderCache() int
}

// SetOrderCache lets DELETE /api/memo also purge expired order books.
func (s *Server) SetOrderCache(c orderCache) {
	s.orders = c
}

// NewServer creates a new API server. database and m may be nil.
func NewServer(cfg *config.Config, source engine.Source, database *db.DB, m *metrics.Metrics, version string) *Server {
	s := &Server{
		cfg:     cfg,
		source:  source,
		db:      database,
		metrics: m,
		version: version,
		memo:    engine.NewMemo(0),
	}
	if m != nil {
		m.ObserveMemo(s.memo)
	}
	return s
}

// Handler returns the HTTP handler with all routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("POST /api/analyze", s.handleAnalyze)
	mux.HandleFunc("DELETE /api/memo", s.handleResetMemo)
	mux.HandleFunc("GET /api/runs", s.handleGetRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("DELETE /api/runs/{id}", s.handleDeleteRun)
	mux.HandleFunc("GET /api/watchlist", s.handleGetWatchlist)
	mux.HandleFunc("POST /api/watchlist", s.handleAddWatchlist)
	mux.HandleFunc("DELETE /api/watchlist/{typeID}", s.handleDeleteWatchlist)
	mux.HandleFunc("POST /api/pnl", s.handlePnL)
	mux.HandleFunc("GET /api/pnl", s.handleStoredPnL)
	mux.HandleFunc("GET /api/pnl/risk", s.handleCashFlowRisk)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return corsMiddleware(requestLogger(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(204)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("API", fmt.Sprintf("%s %s (%s)", r.Method, r.URL.Path, time.Since(start).Round(time.Millisecond)))
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) requireDB(w http.ResponseWriter) bool {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "database not configured")
		return false
	}
	return true
}

// --- Status ---

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	esiOK := true
	if pf, ok := s.source.(engine.Preflighter); ok {
		esiOK = pf.Preflight(ctx) == nil
	}
	dbOK := s.db != nil && s.db.Ping() == nil
	hits, misses := s.memo.Stats()

	writeJSON(w, map[string]interface{}{
		"version":      s.version,
		"esi_ok":       esiOK,
		"db_ok":        dbOK,
		"memo_entries": s.memo.Len(),
		"memo_hits":    hits,
		"memo_misses":  misses,
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.cfg)
}

// --- Analysis ---

type analyzeRequest struct {
	RegionID       int32                  `json:"region_id"`
	TypeIDs        []int32                `json:"type_ids"`
	PredictPeriods int                    `json:"predict_periods"`
	Concurrency    int                    `json:"concurrency"`
	Filters        *engine.VelocityFilter `json:"filters"`
	Fresh          bool                   `json:"fresh"` // bypass the memo
	Stream         bool                   `json:"stream"`
}

type analyzeResponse struct {
	Result   *engine.BatchResult     `json:"result"`
	Filtered []engine.VelocityResult `json:"filtered"`
	Saved    bool                    `json:"saved"`
}

// batchRequest resolves request defaults from config and the watchlist.
func (s *Server) batchRequest(ctx context.Context, req analyzeRequest) (engine.BatchRequest, engine.VelocityFilter, error) {
	a := s.cfg.Analysis
	br := engine.BatchRequest{
		RegionID:       req.RegionID,
		TypeIDs:        req.TypeIDs,
		Concurrency:    req.Concurrency,
		PredictPeriods: req.PredictPeriods,
	}
	if br.RegionID == 0 {
		br.RegionID = a.RegionID
	}
	if br.Concurrency <= 0 {
		br.Concurrency = a.Concurrency
	}
	if br.PredictPeriods <= 0 {
		br.PredictPeriods = a.PredictPeriods
	}
	if !req.Fresh {
		br.Memo = s.memo
	}
	if len(br.TypeIDs) == 0 && s.db != nil {
		ids, err := s.db.WatchlistTypeIDs(ctx, br.RegionID)
		if err != nil {
			return br, engine.VelocityFilter{}, err
		}
		br.TypeIDs = ids
	}

	filter := FilterFromConfig(a)
	if req.Filters != nil {
		filter = *req.Filters
	}
	return br, filter, nil
}

// FilterFromConfig builds the default result filter.
func FilterFromConfig(a config.AnalysisConfig) engine.VelocityFilter {
	return engine.VelocityFilter{
		MinDailyVolume:   a.MinDailyVolume,
		MinScore:         a.MinScore,
		MinSpread:        a.MinSpread,
		CompetitionLevel: engine.CompetitionLevel(a.Competition),
	}
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid json")
		return
	}
	br, filter, err := s.batchRequest(r.Context(), req)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}

	var stream *streamObserver
	if req.Stream {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, 500, "streaming not supported")
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Cache-Control", "no-cache")
		stream = &streamObserver{w: w, flusher: flusher}
	}
	br.Observer = s.observer(stream)

	s.batchMu.Lock()
	res, err := engine.RunBatch(r.Context(), s.source, br)
	s.batchMu.Unlock()

	if err != nil {
		logger.Warn("API", fmt.Sprintf("Analyze failed: %v", err))
		if stream != nil {
			stream.send(map[string]string{"type": "error", "message": err.Error()})
			return
		}
		writeError(w, batchErrorStatus(err), err.Error())
		return
	}

	resp := analyzeResponse{
		Result:   res,
		Filtered: engine.FilterVelocity(res.Velocities(), filter),
	}
	if s.db != nil {
		if err := s.db.SaveBatch(r.Context(), res); err != nil {
			logger.Warn("API", fmt.Sprintf("Save run %s: %v", res.ID, err))
		} else {
			resp.Saved = true
		}
	}
	logger.Info("API", fmt.Sprintf("Analyzed %d items in region %d: %d ok, %d failed (%d ms)",
		res.Stats.Requested, res.RegionID, res.Stats.Succeeded, res.Stats.Failed, res.DurationMs))

	if stream != nil {
		stream.send(map[string]interface{}{"type": "result", "data": resp})
		return
	}
	writeJSON(w, resp)
}

func batchErrorStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrNoItems):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) observer(stream *streamObserver) engine.BatchObserver {
	var obs multiObserver
	if s.metrics != nil {
		obs = append(obs, s.metrics)
	}
	if stream != nil {
		obs = append(obs, stream)
	}
	if len(obs) == 0 {
		return nil
	}
	return obs
}

type multiObserver []engine.BatchObserver

func (m multiObserver) ItemDone(typeID int32, err error, d time.Duration) {
	for _, o := range m {
		o.ItemDone(typeID, err, d)
	}
}

func (m multiObserver) BatchDone(res *engine.BatchResult, err error) {
	for _, o := range m {
		o.BatchDone(res, err)
	}
}

// streamObserver writes one NDJSON progress line per finished item.
type streamObserver struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	done    int
}

func (o *streamObserver) send(v interface{}) {
	line, _ := json.Marshal(v)
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintf(o.w, "%s\n", line)
	o.flusher.Flush()
}

func (o *streamObserver) ItemDone(typeID int32, err error, d time.Duration) {
	o.mu.Lock()
	o.done++
	n := o.done
	o.mu.Unlock()

	msg := map[string]interface{}{"type": "progress", "type_id": typeID, "done": n, "ok": err == nil}
	if err != nil {
		msg["error"] = err.Error()
	}
	o.send(msg)
}

func (o *streamObserver) BatchDone(*engine.BatchResult, error) {}

func (s *Server) handleResetMemo(w http.ResponseWriter, r *http.Request) {
	n := s.memo.Len()
	s.memo.Reset()
	orders := 0
	if s.orders != nil {
		orders = s.orders.PurgeOrderCache()
	}
	logger.Info("API", fmt.Sprintf("Reset memo (%d entries) and order cache (%d books)", n, orders))
	writeJSON(w, map[string]int{"cleared": n, "order_books": orders})
}

// --- Stored runs ---

func (s *Server) handleGetRuns(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.db.GetRuns(r.Context(), limit)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	res, err := s.db.GetRunResults(r.Context(), r.PathValue("id"))
	if errors.Is(err, db.ErrRunNotFound) {
		writeError(w, 404, "not found")
		return
	}
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	err := s.db.DeleteRun(r.Context(), r.PathValue("id"))
	if errors.Is(err, db.ErrRunNotFound) {
		writeError(w, 404, "not found")
		return
	}
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, map[string]bool{"deleted": true})
}

// --- Watchlist ---

func (s *Server) regionParam(r *http.Request) (int32, error) {
	v := r.URL.Query().Get("region_id")
	if v == "" {
		return s.cfg.Analysis.RegionID, nil
	}
	id, err := strconv.ParseInt(v, 10, 32)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid region_id %q", v)
	}
	return int32(id), nil
}

func (s *Server) handleGetWatchlist(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	regionID, err := s.regionParam(r)
	if err != nil {
		writeError(w, 400, err.Error())
		return
	}
	items, err := s.db.GetWatchlist(r.Context(), regionID)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, items)
}

func (s *Server) handleAddWatchlist(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	var item db.WatchlistItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeError(w, 400, "invalid json")
		return
	}
	if item.TypeID <= 0 {
		writeError(w, 400, "invalid type_id")
		return
	}
	if item.RegionID == 0 {
		item.RegionID = s.cfg.Analysis.RegionID
	}
	item.AddedAt = ""
	inserted, err := s.db.AddWatchlistItem(r.Context(), item)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	items, err := s.db.GetWatchlist(r.Context(), item.RegionID)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}

	type addResponse struct {
		Items    []db.WatchlistItem `json:"items"`
		Inserted bool               `json:"inserted"`
	}
	writeJSON(w, addResponse{Items: items, Inserted: inserted})
}

func (s *Server) handleDeleteWatchlist(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	id, err := strconv.ParseInt(r.PathValue("typeID"), 10, 32)
	if err != nil || id <= 0 {
		writeError(w, 400, "invalid type_id")
		return
	}
	regionID, err := s.regionParam(r)
	if err != nil {
		writeError(w, 400, err.Error())
		return
	}
	if _, err := s.db.DeleteWatchlistItem(r.Context(), regionID, int32(id)); err != nil {
		writeError(w, 500, err.Error())
		return
	}
	items, err := s.db.GetWatchlist(r.Context(), regionID)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, items)
}

// --- P&L ---

type pnlRequest struct {
	Transactions []engine.Transaction `json:"transactions"`
}

func (s *Server) handlePnL(w http.ResponseWriter, r *http.Request) {
	var req pnlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid json")
		return
	}
	writeJSON(w, engine.BuildFIFOReport(req.Transactions))
}

func (s *Server) handleStoredPnL(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	var typeIDs []int32
	for _, v := range r.URL.Query()["type_id"] {
		id, err := strconv.ParseInt(v, 10, 32)
		if err != nil || id <= 0 {
			writeError(w, 400, fmt.Sprintf("invalid type_id %q", v))
			return
		}
		typeIDs = append(typeIDs, int32(id))
	}
	txns, err := s.db.ListTransactions(r.Context(), typeIDs...)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, engine.BuildFIFOReport(txns))
}

func (s *Server) handleCashFlowRisk(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	txns, err := s.db.ListTransactions(r.Context())
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	risk := engine.AssessCashFlowRisk(txns, time.Now().UTC())
	if risk == nil {
		writeError(w, http.StatusUnprocessableEntity, "not enough trading days")
		return
	}
	writeJSON(w, risk)
}
