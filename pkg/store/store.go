// Package store is the SQLite persistence layer: source tables the batch
// preloads from, sink tables it writes, the location catalog, and the batch
// processing log. Everything goes through database/sql so the engine stays
// swappable; the shipped driver is the pure-Go modernc build.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/worklens/worklens/pkg/events"
)

// ErrNotFound reports a lookup that matched no row.
var ErrNotFound = errors.New("store: row not found")

// Store wraps the analytics database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open connects to the SQLite database at dsn and applies the connection
// pragmas. WAL lets serve-mode readers overlap a running batch; the busy
// timeout absorbs writer contention between persistence and aggregation.
func Open(dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	logger.Debug("database opened", "dsn", dsn)
	return &Store{db: db, logger: logger}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS gate_events (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	employee_id   TEXT NOT NULL,
	ts            INTEGER NOT NULL,
	location_code TEXT NOT NULL,
	location_name TEXT NOT NULL DEFAULT '',
	direction     TEXT NOT NULL DEFAULT 'none'
);
CREATE INDEX IF NOT EXISTS idx_gate_events_emp_ts ON gate_events(employee_id, ts);
CREATE INDEX IF NOT EXISTS idx_gate_events_ts ON gate_events(ts);

CREATE TABLE IF NOT EXISTS meal_transactions (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	employee_id     TEXT NOT NULL,
	ts              INTEGER NOT NULL,
	serving_counter TEXT NOT NULL DEFAULT '',
	restaurant_name TEXT NOT NULL DEFAULT '',
	takeout_flag    INTEGER NOT NULL DEFAULT 0,
	meal_category   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_meal_transactions_emp_ts ON meal_transactions(employee_id, ts);
CREATE INDEX IF NOT EXISTS idx_meal_transactions_ts ON meal_transactions(ts);

CREATE TABLE IF NOT EXISTS equipment_logs (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	employee_id      TEXT NOT NULL,
	ts               INTEGER NOT NULL,
	activity_type    TEXT NOT NULL DEFAULT '',
	duration_minutes REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_equipment_logs_emp_ts ON equipment_logs(employee_id, ts);
CREATE INDEX IF NOT EXISTS idx_equipment_logs_ts ON equipment_logs(ts);

CREATE TABLE IF NOT EXISTS attendance_claims (
	employee_id   TEXT NOT NULL,
	claim_date    TEXT NOT NULL,
	claimed_hours REAL NOT NULL,
	PRIMARY KEY (employee_id, claim_date)
);

CREATE TABLE IF NOT EXISTS employees (
	employee_id TEXT PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	center      TEXT NOT NULL DEFAULT '',
	team        TEXT NOT NULL DEFAULT '',
	org_group   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS location_mappings (
	location_code TEXT NOT NULL,
	location_name TEXT NOT NULL DEFAULT '',
	tag           TEXT NOT NULL,
	confidence    REAL NOT NULL DEFAULT 0,
	rule_note     TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (location_code, location_name)
);

CREATE TABLE IF NOT EXISTS daily_metrics (
	employee_id           TEXT NOT NULL,
	analysis_date         TEXT NOT NULL,
	total_hours           REAL NOT NULL,
	actual_work_hours     REAL NOT NULL,
	focused_work_hours    REAL NOT NULL,
	work_minutes          REAL NOT NULL,
	meeting_minutes       REAL NOT NULL,
	meal_minutes          REAL NOT NULL,
	movement_minutes      REAL NOT NULL,
	rest_minutes          REAL NOT NULL,
	idle_minutes          REAL NOT NULL,
	breakfast_minutes     REAL NOT NULL,
	lunch_minutes         REAL NOT NULL,
	dinner_minutes        REAL NOT NULL,
	midnight_meal_minutes REAL NOT NULL,
	breakfast_count       INTEGER NOT NULL,
	lunch_count           INTEGER NOT NULL,
	dinner_count          INTEGER NOT NULL,
	midnight_meal_count   INTEGER NOT NULL,
	claimed_hours         REAL NOT NULL,
	efficiency_ratio      REAL NOT NULL,
	shift_type            TEXT NOT NULL,
	cross_day             INTEGER NOT NULL,
	tag_count             INTEGER NOT NULL,
	anomaly_count         INTEGER NOT NULL,
	data_reliability      REAL NOT NULL,
	first_tag_time        INTEGER NOT NULL,
	last_tag_time         INTEGER NOT NULL,
	updated_at            INTEGER NOT NULL,
	PRIMARY KEY (employee_id, analysis_date)
);
CREATE INDEX IF NOT EXISTS idx_daily_metrics_date ON daily_metrics(analysis_date);

CREATE TABLE IF NOT EXISTS org_daily_aggregates (
	org_scope              TEXT NOT NULL,
	org_id                 TEXT NOT NULL,
	analysis_date          TEXT NOT NULL,
	employee_count         INTEGER NOT NULL,
	avg_total_hours        REAL NOT NULL,
	avg_actual_work_hours  REAL NOT NULL,
	avg_focused_work_hours REAL NOT NULL,
	avg_efficiency_ratio   REAL NOT NULL,
	avg_meal_minutes       REAL NOT NULL,
	avg_data_reliability   REAL NOT NULL,
	day_shift_count        INTEGER NOT NULL,
	night_shift_count      INTEGER NOT NULL,
	cross_day_count        INTEGER NOT NULL,
	anomaly_count          INTEGER NOT NULL,
	PRIMARY KEY (org_scope, org_id, analysis_date)
);

CREATE TABLE IF NOT EXISTS batch_runs (
	id          TEXT PRIMARY KEY,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	attempted   INTEGER NOT NULL,
	succeeded   INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	status      TEXT NOT NULL
);
`

// Init creates the schema. Safe to call on every startup.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// dayRange converts an inclusive local date range into UTC unix bounds
// [start, end).
func dayRange(from, to events.Day, loc *time.Location) (int64, int64) {
	return from.Start(loc).Unix(), to.Next().Start(loc).Unix()
}
