package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"eve-trade-analytics/internal/engine"
)

// ErrRunNotFound is returned when no stored run matches an id.
var ErrRunNotFound = errors.New("analysis run not found")

// RunRecord is the stored header of one analysis batch.
type RunRecord struct {
	ID         string            `json:"id"`
	RegionID   int32             `json:"region_id"`
	StartedAt  string            `json:"started_at"`
	DurationMs int64             `json:"duration_ms"`
	Succeeded  int               `json:"succeeded"`
	Failed     int               `json:"failed"`
	Stats      engine.BatchStats `json:"stats"`
}

// SaveBatch stores a batch result with its per-item results and failures.
func (d *DB) SaveBatch(ctx context.Context, res *engine.BatchResult) error {
	if res == nil || res.ID == "" {
		return errors.New("save batch: missing result id")
	}
	statsJSON, err := json.Marshal(res.Stats)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}

	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO analysis_runs (id, region_id, started_at, duration_ms, succeeded, failed, stats_json)
		 VALUES (?,?,?,?,?,?,?)`,
		res.ID, res.RegionID, res.StartedAt.UTC().Format(time.RFC3339Nano), res.DurationMs,
		len(res.Items), len(res.Failed), string(statsJSON),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	resultStmt, err := tx.PrepareContext(ctx, `INSERT INTO analysis_results
		(run_id, type_id, trend, confidence, predicted_price, velocity_score, days_to_sell, result_json)
		VALUES (?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare results: %w", err)
	}
	defer resultStmt.Close()

	for _, it := range res.Items {
		body, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("encode result %d: %w", it.TypeID, err)
		}
		var predicted sql.NullFloat64
		if it.Trend.PredictedPrice != nil {
			predicted = sql.NullFloat64{Float64: *it.Trend.PredictedPrice, Valid: true}
		}
		if _, err := resultStmt.ExecContext(ctx,
			res.ID, it.TypeID, string(it.Trend.Trend), it.Trend.Confidence, predicted,
			it.Velocity.VelocityScore, it.Velocity.DaysToSell, string(body),
		); err != nil {
			return fmt.Errorf("insert result %d: %w", it.TypeID, err)
		}
	}

	for _, f := range res.Failed {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO analysis_failures (run_id, type_id, error) VALUES (?,?,?)",
			res.ID, f.TypeID, f.Error,
		); err != nil {
			return fmt.Errorf("insert failure %d: %w", f.TypeID, err)
		}
	}
	return tx.Commit()
}

// GetRuns returns the newest stored runs first.
func (d *DB) GetRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.sql.QueryContext(ctx,
		`SELECT id, region_id, started_at, duration_ms, succeeded, failed, stats_json
		 FROM analysis_runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	out := []RunRecord{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (RunRecord, error) {
	var (
		r         RunRecord
		statsJSON string
	)
	if err := s.Scan(&r.ID, &r.RegionID, &r.StartedAt, &r.DurationMs, &r.Succeeded, &r.Failed, &statsJSON); err != nil {
		return r, err
	}
	if err := json.Unmarshal([]byte(statsJSON), &r.Stats); err != nil {
		return r, fmt.Errorf("decode stats for run %s: %w", r.ID, err)
	}
	return r, nil
}

// GetRunResults rebuilds a stored batch result.
func (d *DB) GetRunResults(ctx context.Context, id string) (*engine.BatchResult, error) {
	rec, err := scanRun(d.sql.QueryRowContext(ctx,
		`SELECT id, region_id, started_at, duration_ms, succeeded, failed, stats_json
		 FROM analysis_runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}

	started, _ := time.Parse(time.RFC3339Nano, rec.StartedAt)
	res := &engine.BatchResult{
		ID:         rec.ID,
		RegionID:   rec.RegionID,
		StartedAt:  started,
		DurationMs: rec.DurationMs,
		Items:      []engine.ItemAnalysis{},
		Failed:     []engine.ItemFailure{},
		Stats:      rec.Stats,
	}

	rows, err := d.sql.QueryContext(ctx,
		"SELECT result_json FROM analysis_results WHERE run_id = ? ORDER BY type_id", id)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		var it engine.ItemAnalysis
		if err := json.Unmarshal([]byte(body), &it); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		res.Items = append(res.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	frows, err := d.sql.QueryContext(ctx,
		"SELECT type_id, error FROM analysis_failures WHERE run_id = ? ORDER BY type_id", id)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer frows.Close()
	for frows.Next() {
		var f engine.ItemFailure
		if err := frows.Scan(&f.TypeID, &f.Error); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		res.Failed = append(res.Failed, f)
	}
	return res, frows.Err()
}

// DeleteRun removes a stored run and its rows.
func (d *DB) DeleteRun(ctx context.Context, id string) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, q := range []string{
		"DELETE FROM analysis_results WHERE run_id = ?",
		"DELETE FROM analysis_failures WHERE run_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM analysis_runs WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	return tx.Commit()
}
