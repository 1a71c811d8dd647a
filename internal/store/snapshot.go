package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// Snapshot is one row of usage_snapshots. Pointer fields mirror nullable
// columns.
type Snapshot struct {
	ID           int64
	Timestamp    string
	FiveHourUsed int64
	FiveHourLim  int64
	SevenDayUsed int64
	SevenDayLim  int64

	FiveHourPct   *float64
	SevenDayPct   *float64
	FiveHourReset *string
	SevenDayReset *string

	FiveHourTokensConsumed *int64
	FiveHourTokensTotal    *int64
	FiveHourMessagesCount  *int64
	FiveHourMessagesTotal  *int64
	SevenDayTokensConsumed *int64
	SevenDayTokensTotal    *int64
	SevenDayMessagesCount  *int64
	SevenDayMessagesTotal  *int64

	ActiveSessions []string // nil when the column is NULL
	Recalculated   bool
	CreatedAt      string
}

// CalcUpdate names the fields a recalculation pass may fill in. Nil
// pointers mean "leave the column untouched". ActiveSessions follows the
// same convention: nil means not supplied, an empty non-nil slice stores
// an empty JSON array.
type CalcUpdate struct {
	FiveHourTokensConsumed *int64
	FiveHourTokensTotal    *int64
	FiveHourMessagesCount  *int64
	FiveHourMessagesTotal  *int64
	SevenDayTokensConsumed *int64
	SevenDayTokensTotal    *int64
	SevenDayMessagesCount  *int64
	SevenDayMessagesTotal  *int64

	ActiveSessions []string
}

// columnValues pairs each supplied numeric field with its column name, in
// schema order.
func (u *CalcUpdate) columnValues() (cols []string, vals []any) {
	fields := []struct {
		col string
		val *int64
	}{
		{"five_hour_tokens_consumed", u.FiveHourTokensConsumed},
		{"five_hour_tokens_total", u.FiveHourTokensTotal},
		{"five_hour_messages_count", u.FiveHourMessagesCount},
		{"five_hour_messages_total", u.FiveHourMessagesTotal},
		{"seven_day_tokens_consumed", u.SevenDayTokensConsumed},
		{"seven_day_tokens_total", u.SevenDayTokensTotal},
		{"seven_day_messages_count", u.SevenDayMessagesCount},
		{"seven_day_messages_total", u.SevenDayMessagesTotal},
	}
	for _, f := range fields {
		if f.val != nil {
			cols = append(cols, f.col)
			vals = append(vals, *f.val)
		}
	}
	return cols, vals
}

// validSessionID reports whether a session identifier is storable: a
// non-empty string of at most 100 alphanumeric, dash, or underscore
// characters.
func validSessionID(id string) bool {
	if len(id) == 0 || len(id) > 100 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

// encodeActiveSessions validates and serializes a session ID list. A nil
// second return with ok=false means the list failed validation and the
// column should be stored NULL.
func encodeActiveSessions(ids []string) (string, bool) {
	for _, id := range ids {
		if !validSessionID(id) {
			return "", false
		}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// InsertTick records the raw reading of one poll cycle. All calculation
// fields start NULL with recalculated=0; a later recalculation pass fills
// them in via UpdateCalculations.
func (s *Store) InsertTick(timestamp string, fiveHourUsed, fiveHourLimit, sevenDayUsed, sevenDayLimit int64,
	fiveHourPct, sevenDayPct *float64, fiveHourReset, sevenDayReset *string) (int64, error) {

	if timestamp == "" {
		return 0, fmt.Errorf("%w: timestamp is required", ErrValidation)
	}

	res, err := s.db.Exec(`
		INSERT INTO usage_snapshots (
			timestamp, five_hour_used, five_hour_limit,
			seven_day_used, seven_day_limit,
			five_hour_pct, seven_day_pct,
			five_hour_reset, seven_day_reset,
			recalculated
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
	`, timestamp, fiveHourUsed, fiveHourLimit, sevenDayUsed, sevenDayLimit,
		nullFloat(fiveHourPct), nullFloat(sevenDayPct),
		nullString(fiveHourReset), nullString(sevenDayReset))
	if err != nil {
		return 0, fmt.Errorf("failed to insert snapshot tick: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get snapshot id: %w", err)
	}
	return id, nil
}

// UpdateCalculations fills in a subset of the delta/total fields on an
// existing snapshot. Unsupplied fields keep their prior values. Supplying
// nothing is a no-op. An invalid ActiveSessions list degrades to NULL with
// a warning; the numeric update proceeds regardless.
func (s *Store) UpdateCalculations(snapshotID int64, upd CalcUpdate) error {
	if snapshotID <= 0 {
		return fmt.Errorf("%w: snapshot id must be positive, got %d", ErrValidation, snapshotID)
	}

	cols, vals := upd.columnValues()

	var sessionClause string
	var sessionVal any
	if upd.ActiveSessions != nil {
		if encoded, ok := encodeActiveSessions(upd.ActiveSessions); ok {
			sessionClause = "active_sessions = ?"
			sessionVal = encoded
		} else {
			s.logger.Warn("invalid active_sessions list, storing NULL",
				"snapshot_id", snapshotID,
				"count", len(upd.ActiveSessions))
			sessionClause = "active_sessions = NULL"
		}
	}

	if len(cols) == 0 && sessionClause == "" {
		return nil
	}

	sets := make([]string, 0, len(cols)+2)
	args := make([]any, 0, len(vals)+2)
	for i, col := range cols {
		sets = append(sets, col+" = ?")
		args = append(args, vals[i])
	}
	if sessionClause != "" {
		sets = append(sets, sessionClause)
		if sessionVal != nil {
			args = append(args, sessionVal)
		}
	}
	sets = append(sets, "recalculated = 1")
	args = append(args, snapshotID)

	query := fmt.Sprintf("UPDATE usage_snapshots SET %s WHERE id = ?", strings.Join(sets, ", "))
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to update calculations for snapshot %d: %w", snapshotID, err)
	}
	return nil
}

// InsertSnapshot is the one-phase convenience for callers that already
// have full knowledge at insert time: InsertTick followed by
// UpdateCalculations with every available field.
func (s *Store) InsertSnapshot(timestamp string, fiveHourUsed, fiveHourLimit, sevenDayUsed, sevenDayLimit int64,
	fiveHourPct, sevenDayPct *float64, fiveHourReset, sevenDayReset *string, upd CalcUpdate) (int64, error) {

	id, err := s.InsertTick(timestamp, fiveHourUsed, fiveHourLimit, sevenDayUsed, sevenDayLimit,
		fiveHourPct, sevenDayPct, fiveHourReset, sevenDayReset)
	if err != nil {
		return 0, err
	}
	if err := s.UpdateCalculations(id, upd); err != nil {
		return 0, err
	}
	return id, nil
}

const snapshotColumns = `
	id, timestamp, five_hour_used, five_hour_limit,
	seven_day_used, seven_day_limit,
	five_hour_pct, seven_day_pct,
	five_hour_reset, seven_day_reset,
	five_hour_tokens_consumed, five_hour_tokens_total,
	five_hour_messages_count, five_hour_messages_total,
	seven_day_tokens_consumed, seven_day_tokens_total,
	seven_day_messages_count, seven_day_messages_total,
	active_sessions, recalculated, created_at
`

// GetSnapshotByID fetches a single snapshot. Returns nil when not found.
func (s *Store) GetSnapshotByID(id int64) (*Snapshot, error) {
	row := s.db.QueryRow(
		"SELECT "+snapshotColumns+" FROM usage_snapshots WHERE id = ?", id)
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot %d: %w", id, err)
	}
	return snap, nil
}

// GetLatestSnapshot returns the snapshot with the greatest timestamp, or
// nil when the table is empty. Timestamp order, not insertion order:
// observations may arrive late.
func (s *Store) GetLatestSnapshot() (*Snapshot, error) {
	row := s.db.QueryRow(
		"SELECT " + snapshotColumns + " FROM usage_snapshots ORDER BY timestamp DESC LIMIT 1")
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	return snap, nil
}

// GetSnapshotsInRange returns snapshots with start <= timestamp <= end,
// ascending by timestamp.
func (s *Store) GetSnapshotsInRange(start, end string) ([]*Snapshot, error) {
	rows, err := s.db.Query(
		"SELECT "+snapshotColumns+" FROM usage_snapshots WHERE timestamp >= ? AND timestamp <= ? ORDER BY timestamp ASC",
		start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot range: %w", err)
	}
	defer rows.Close()

	var snapshots []*Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*Snapshot, error) {
	var (
		snap           Snapshot
		fiveHourPct    sql.NullFloat64
		sevenDayPct    sql.NullFloat64
		fiveHourReset  sql.NullString
		sevenDayReset  sql.NullString
		calc           [8]sql.NullInt64
		activeSessions sql.NullString
		recalculated   int
		createdAt      sql.NullString
	)

	if err := row.Scan(
		&snap.ID, &snap.Timestamp, &snap.FiveHourUsed, &snap.FiveHourLim,
		&snap.SevenDayUsed, &snap.SevenDayLim,
		&fiveHourPct, &sevenDayPct,
		&fiveHourReset, &sevenDayReset,
		&calc[0], &calc[1], &calc[2], &calc[3],
		&calc[4], &calc[5], &calc[6], &calc[7],
		&activeSessions, &recalculated, &createdAt,
	); err != nil {
		return nil, err
	}

	if fiveHourPct.Valid {
		snap.FiveHourPct = &fiveHourPct.Float64
	}
	if sevenDayPct.Valid {
		snap.SevenDayPct = &sevenDayPct.Float64
	}
	if fiveHourReset.Valid {
		snap.FiveHourReset = &fiveHourReset.String
	}
	if sevenDayReset.Valid {
		snap.SevenDayReset = &sevenDayReset.String
	}

	dests := []**int64{
		&snap.FiveHourTokensConsumed, &snap.FiveHourTokensTotal,
		&snap.FiveHourMessagesCount, &snap.FiveHourMessagesTotal,
		&snap.SevenDayTokensConsumed, &snap.SevenDayTokensTotal,
		&snap.SevenDayMessagesCount, &snap.SevenDayMessagesTotal,
	}
	for i, dest := range dests {
		if calc[i].Valid {
			v := calc[i].Int64
			*dest = &v
		}
	}

	if activeSessions.Valid {
		var ids []string
		if err := json.Unmarshal([]byte(activeSessions.String), &ids); err == nil {
			snap.ActiveSessions = ids
		}
	}
	snap.Recalculated = recalculated != 0
	if createdAt.Valid {
		snap.CreatedAt = createdAt.String
	}

	return &snap, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
