// Package store provides SQLite persistence for usage snapshots and
// session details.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite"
)

// ErrValidation indicates caller-level misuse of a store method, such as a
// non-positive snapshot ID.
var ErrValidation = errors.New("store: validation error")

// calcColumns are the delta/total columns filled in by the recalculation
// pass. Each is independently nullable; a snapshot may carry raw
// percentages with no delta knowledge yet.
var calcColumns = []string{
	"five_hour_tokens_consumed",
	"five_hour_tokens_total",
	"five_hour_messages_count",
	"five_hour_messages_total",
	"seven_day_tokens_consumed",
	"seven_day_tokens_total",
	"seven_day_messages_count",
	"seven_day_messages_total",
}

// Store provides SQLite storage for logwatch
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Store with the given database path
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite is single-writer anyway, and each connection allocates its own
	// page cache. Two connections let a read proceed during a write under
	// WAL; busy_timeout handles any contention.
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-500;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &Store{db: db, logger: logger}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

// createTables creates the database schema. Safe to call on an existing
// database.
func (s *Store) createTables() error {
	schema := `
		CREATE TABLE IF NOT EXISTS usage_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			five_hour_used INTEGER NOT NULL,
			five_hour_limit INTEGER NOT NULL,
			seven_day_used INTEGER NOT NULL,
			seven_day_limit INTEGER NOT NULL,
			five_hour_pct REAL,
			seven_day_pct REAL,
			five_hour_reset TEXT,
			seven_day_reset TEXT,
			five_hour_tokens_consumed INTEGER,
			five_hour_tokens_total INTEGER,
			five_hour_messages_count INTEGER,
			five_hour_messages_total INTEGER,
			seven_day_tokens_consumed INTEGER,
			seven_day_tokens_total INTEGER,
			seven_day_messages_count INTEGER,
			seven_day_messages_total INTEGER,
			active_sessions TEXT,
			recalculated INTEGER DEFAULT 0,
			created_at TEXT DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_snapshots_timestamp
		ON usage_snapshots(timestamp);

		CREATE TABLE IF NOT EXISTS session_details (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT UNIQUE NOT NULL,
			start_time TEXT NOT NULL,
			end_time TEXT,
			total_messages INTEGER DEFAULT 0,
			total_tokens INTEGER DEFAULT 0,
			input_tokens INTEGER DEFAULT 0,
			output_tokens INTEGER DEFAULT 0,
			model_used TEXT,
			has_plans INTEGER DEFAULT 0,
			has_todos INTEGER DEFAULT 0,
			plan_count INTEGER DEFAULT 0,
			todo_count INTEGER DEFAULT 0,
			created_at TEXT DEFAULT CURRENT_TIMESTAMP,
			updated_at TEXT DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_session_id
		ON session_details(session_id);

		CREATE INDEX IF NOT EXISTS idx_session_start
		ON session_details(start_time);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := s.migrateSchema(); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	return nil
}

// migrateSchema handles schema migrations for databases created before the
// two-phase snapshot columns existed. Additive only: missing columns are
// added as nullable; nothing is dropped or rewritten.
func (s *Store) migrateSchema() error {
	for _, col := range calcColumns {
		if _, err := s.db.Exec(fmt.Sprintf(
			`ALTER TABLE usage_snapshots ADD COLUMN %s INTEGER`, col,
		)); err != nil {
			// Ignore error - column might already exist
			if !strings.Contains(err.Error(), "duplicate column name") {
				return fmt.Errorf("failed to add %s to usage_snapshots: %w", col, err)
			}
		}
	}

	for _, stmt := range []string{
		`ALTER TABLE usage_snapshots ADD COLUMN active_sessions TEXT`,
		`ALTER TABLE usage_snapshots ADD COLUMN recalculated INTEGER DEFAULT 0`,
	} {
		if _, err := s.db.Exec(stmt); err != nil {
			if !strings.Contains(err.Error(), "duplicate column name") {
				return fmt.Errorf("failed to extend usage_snapshots: %w", err)
			}
		}
	}

	s.verifyCalcColumnsNullable()

	return nil
}

// verifyCalcColumnsNullable checks that none of the calculation columns
// carry a NOT NULL constraint. A pre-existing database with a stricter
// shape would break phase-1 inserts, so the mismatch is logged for the
// operator, never treated as fatal.
func (s *Store) verifyCalcColumnsNullable() {
	rows, err := s.db.Query("PRAGMA table_info(usage_snapshots)")
	if err != nil {
		s.logger.Warn("could not inspect usage_snapshots columns", "error", err)
		return
	}
	defer rows.Close()

	notNull := map[string]bool{}
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			nn         int
			dflt       sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &nn, &dflt, &primaryKey); err != nil {
			s.logger.Warn("could not scan column info", "error", err)
			return
		}
		notNull[name] = nn != 0
	}

	for _, col := range calcColumns {
		if notNull[col] {
			s.logger.Warn("calculation column unexpectedly NOT NULL, phase-1 inserts may fail",
				"column", col)
		}
	}
}

// tableHasColumn checks whether a column exists on a table.
func (s *Store) tableHasColumn(tableName, columnName string) (bool, error) {
	query := fmt.Sprintf("PRAGMA table_info(%s)", tableName)
	rows, err := s.db.Query(query)
	if err != nil {
		return false, fmt.Errorf("failed to inspect table %s: %w", tableName, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name, typ  string
			nn         int
			dflt       sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &nn, &dflt, &primaryKey); err != nil {
			return false, fmt.Errorf("failed to scan column info: %w", err)
		}
		if name == columnName {
			return true, nil
		}
	}
	return false, rows.Err()
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for pragma checks in tests.
func (s *Store) DB() *sql.DB {
	return s.db
}
