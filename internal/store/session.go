package store

import (
	"database/sql"
	"fmt"
	"time"
)

// SessionDetail is one row of session_details.
type SessionDetail struct {
	ID            int64
	SessionID     string
	StartTime     string
	EndTime       *string
	TotalMessages int64
	TotalTokens   int64
	InputTokens   int64
	OutputTokens  int64
	ModelUsed     *string
	HasPlans      bool
	HasTodos      bool
	PlanCount     int64
	TodoCount     int64
	CreatedAt     string
	UpdatedAt     string
}

// AggregateStats summarizes session_details in a single pass.
type AggregateStats struct {
	TotalSessions     int64   `json:"total_sessions"`
	TotalTokens       int64   `json:"total_tokens"`
	TotalInputTokens  int64   `json:"total_input_tokens"`
	TotalOutputTokens int64   `json:"total_output_tokens"`
	TotalMessages     int64   `json:"total_messages"`
	AvgTokensPerSess  float64 `json:"avg_tokens_per_session"`
	SessionsWithPlans int64   `json:"sessions_with_plans"`
	SessionsWithTodos int64   `json:"sessions_with_todos"`
}

// UpsertSession inserts or replaces a session row keyed by session_id.
func (s *Store) UpsertSession(d *SessionDetail) error {
	if d.SessionID == "" {
		return fmt.Errorf("%w: session_id is required", ErrValidation)
	}
	if d.StartTime == "" {
		return fmt.Errorf("%w: start_time is required", ErrValidation)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO session_details (
			session_id, start_time, end_time,
			total_messages, total_tokens, input_tokens, output_tokens,
			model_used, has_plans, has_todos, plan_count, todo_count,
			updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			total_messages = excluded.total_messages,
			total_tokens = excluded.total_tokens,
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens,
			model_used = excluded.model_used,
			has_plans = excluded.has_plans,
			has_todos = excluded.has_todos,
			plan_count = excluded.plan_count,
			todo_count = excluded.todo_count,
			updated_at = excluded.updated_at
	`, d.SessionID, d.StartTime, nullString(d.EndTime),
		d.TotalMessages, d.TotalTokens, d.InputTokens, d.OutputTokens,
		nullString(d.ModelUsed), boolToInt(d.HasPlans), boolToInt(d.HasTodos),
		d.PlanCount, d.TodoCount, now)
	if err != nil {
		return fmt.Errorf("failed to upsert session %s: %w", d.SessionID, err)
	}
	return nil
}

const sessionColumns = `
	id, session_id, start_time, end_time,
	total_messages, total_tokens, input_tokens, output_tokens,
	model_used, has_plans, has_todos, plan_count, todo_count,
	created_at, updated_at
`

// GetSession fetches one session by its identifier. Returns nil when not
// found.
func (s *Store) GetSession(sessionID string) (*SessionDetail, error) {
	row := s.db.QueryRow(
		"SELECT "+sessionColumns+" FROM session_details WHERE session_id = ?", sessionID)
	detail, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}
	return detail, nil
}

// ListSessions returns all sessions ordered by start_time descending.
func (s *Store) ListSessions() ([]*SessionDetail, error) {
	rows, err := s.db.Query(
		"SELECT " + sessionColumns + " FROM session_details ORDER BY start_time DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*SessionDetail
	for rows.Next() {
		detail, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, detail)
	}
	return sessions, rows.Err()
}

// GetAggregateStats computes session totals in one aggregate SELECT.
func (s *Store) GetAggregateStats() (*AggregateStats, error) {
	var stats AggregateStats
	var avg sql.NullFloat64
	err := s.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(total_tokens), 0),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(total_messages), 0),
			AVG(total_tokens),
			COALESCE(SUM(has_plans), 0),
			COALESCE(SUM(has_todos), 0)
		FROM session_details
	`).Scan(
		&stats.TotalSessions, &stats.TotalTokens,
		&stats.TotalInputTokens, &stats.TotalOutputTokens,
		&stats.TotalMessages, &avg,
		&stats.SessionsWithPlans, &stats.SessionsWithTodos,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compute aggregate stats: %w", err)
	}
	if avg.Valid {
		stats.AvgTokensPerSess = avg.Float64
	}
	return &stats, nil
}

func scanSession(row rowScanner) (*SessionDetail, error) {
	var (
		d         SessionDetail
		endTime   sql.NullString
		modelUsed sql.NullString
		hasPlans  int
		hasTodos  int
		createdAt sql.NullString
		updatedAt sql.NullString
	)
	if err := row.Scan(
		&d.ID, &d.SessionID, &d.StartTime, &endTime,
		&d.TotalMessages, &d.TotalTokens, &d.InputTokens, &d.OutputTokens,
		&modelUsed, &hasPlans, &hasTodos, &d.PlanCount, &d.TodoCount,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	if endTime.Valid {
		d.EndTime = &endTime.String
	}
	if modelUsed.Valid {
		d.ModelUsed = &modelUsed.String
	}
	d.HasPlans = hasPlans != 0
	d.HasTodos = hasTodos != 0
	if createdAt.Valid {
		d.CreatedAt = createdAt.String
	}
	if updatedAt.Valid {
		d.UpdatedAt = updatedAt.String
	}
	return &d, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
