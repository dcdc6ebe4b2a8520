package db

import (
	"database/sql"
	"fmt"
	"time"

	"eve-trade-analytics/internal/logger"
	_ "modernc.org/sqlite"
)

// DefaultHistoryTTL is how long cached market history is considered fresh.
const DefaultHistoryTTL = 24 * time.Hour

// DB wraps a SQLite database connection.
type DB struct {
	sql        *sql.DB
	historyTTL time.Duration
	now        func() time.Time
}

// Open opens (or creates) the SQLite database at path and runs migrations.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	d := newDB(sqlDB)
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	logger.Success("DB", fmt.Sprintf("Opened %s", path))
	return d, nil
}

func newDB(sqlDB *sql.DB) *DB {
	return &DB{sql: sqlDB, historyTTL: DefaultHistoryTTL, now: time.Now}
}

// SetHistoryTTL changes the freshness window for cached market history.
func (d *DB) SetHistoryTTL(ttl time.Duration) {
	if ttl > 0 {
		d.historyTTL = ttl
	}
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

// Ping checks the connection.
func (d *DB) Ping() error {
	return d.sql.Ping()
}

func (d *DB) migrate() error {
	version := 0
	// Missing table on a fresh database leaves version at 0.
	d.sql.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS market_history (
				region_id   INTEGER NOT NULL,
				type_id     INTEGER NOT NULL,
				date        TEXT NOT NULL,
				average     REAL,
				highest     REAL,
				lowest      REAL,
				volume      INTEGER,
				order_count INTEGER,
				PRIMARY KEY (region_id, type_id, date)
			);

			CREATE TABLE IF NOT EXISTS market_history_meta (
				region_id  INTEGER NOT NULL,
				type_id    INTEGER NOT NULL,
				updated_at TEXT NOT NULL,
				PRIMARY KEY (region_id, type_id)
			);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
		logger.Info("DB", "Applied migration v1 (market history)")
	}

	if version < 2 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS wallet_transactions (
				transaction_id INTEGER PRIMARY KEY,
				character_id   INTEGER NOT NULL,
				date           TEXT NOT NULL,
				type_id        INTEGER NOT NULL,
				location_id    INTEGER NOT NULL DEFAULT 0,
				unit_price     REAL NOT NULL,
				quantity       INTEGER NOT NULL,
				is_buy         INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_wallet_tx_type ON wallet_transactions(type_id, date);

			INSERT OR IGNORE INTO schema_version (version) VALUES (2);
		`)
		if err != nil {
			return fmt.Errorf("migration v2: %w", err)
		}
		logger.Info("DB", "Applied migration v2 (wallet ledger)")
	}

	if version < 3 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS analysis_runs (
				id          TEXT PRIMARY KEY,
				region_id   INTEGER NOT NULL,
				started_at  TEXT NOT NULL,
				duration_ms INTEGER NOT NULL DEFAULT 0,
				succeeded   INTEGER NOT NULL DEFAULT 0,
				failed      INTEGER NOT NULL DEFAULT 0,
				stats_json  TEXT NOT NULL DEFAULT '{}'
			);
			CREATE INDEX IF NOT EXISTS idx_analysis_runs_started ON analysis_runs(started_at);

			CREATE TABLE IF NOT EXISTS analysis_results (
				run_id          TEXT NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
				type_id         INTEGER NOT NULL,
				trend           TEXT NOT NULL,
				confidence      REAL NOT NULL,
				predicted_price REAL,
				velocity_score  INTEGER NOT NULL,
				days_to_sell    REAL NOT NULL,
				result_json     TEXT NOT NULL,
				PRIMARY KEY (run_id, type_id)
			);
			CREATE INDEX IF NOT EXISTS idx_analysis_results_score ON analysis_results(velocity_score DESC);

			CREATE TABLE IF NOT EXISTS analysis_failures (
				run_id  TEXT NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
				type_id INTEGER NOT NULL,
				error   TEXT NOT NULL,
				PRIMARY KEY (run_id, type_id)
			);

			INSERT OR IGNORE INTO schema_version (version) VALUES (3);
		`)
		if err != nil {
			return fmt.Errorf("migration v3: %w", err)
		}
		logger.Info("DB", "Applied migration v3 (analysis runs)")
	}

	if version < 4 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS watchlist (
				region_id INTEGER NOT NULL,
				type_id   INTEGER NOT NULL,
				note      TEXT NOT NULL DEFAULT '',
				added_at  TEXT NOT NULL,
				PRIMARY KEY (region_id, type_id)
			);

			INSERT OR IGNORE INTO schema_version (version) VALUES (4);
		`)
		if err != nil {
			return fmt.Errorf("migration v4: %w", err)
		}
		logger.Info("DB", "Applied migration v4 (watchlist)")
	}

	return nil
}
