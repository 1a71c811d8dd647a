package store

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	_ "modernc.org/sqlite"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"), testLogger())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func ptrF(v float64) *float64 { return &v }
func ptrS(v string) *string   { return &v }
func ptrI(v int64) *int64     { return &v }

func insertBasicTick(t *testing.T, s *Store, timestamp string) int64 {
	t.Helper()
	id, err := s.InsertTick(timestamp, 75, 100, 45, 100,
		ptrF(75.5), ptrF(45.2), ptrS("2026-01-15T10:00:00Z"), ptrS("2026-01-20T00:00:00Z"))
	if err != nil {
		t.Fatalf("InsertTick failed: %v", err)
	}
	return id
}

func TestNew_Pragmas(t *testing.T) {
	s := newTestStore(t)

	var journalMode string
	if err := s.DB().QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("failed to read journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %q, want wal", journalMode)
	}

	var foreignKeys int
	if err := s.DB().QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys); err != nil {
		t.Fatalf("failed to read foreign_keys: %v", err)
	}
	if foreignKeys != 1 {
		t.Errorf("foreign_keys = %d, want 1", foreignKeys)
	}
}

func TestNew_Idempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s1, err := New(dbPath, testLogger())
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	id := insertBasicTick(t, s1, "2026-01-15T09:00:00Z")
	s1.Close()

	// Reopening must not recreate tables or lose data
	s2, err := New(dbPath, testLogger())
	if err != nil {
		t.Fatalf("second open failed: %v", err)
	}
	defer s2.Close()

	snap, err := s2.GetSnapshotByID(id)
	if err != nil {
		t.Fatalf("GetSnapshotByID failed: %v", err)
	}
	if snap == nil {
		t.Fatal("snapshot lost across reopen")
	}
}

func TestMigrateSchema_AddsCalcColumns(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "legacy.db")

	// Build a database with the pre-two-phase shape
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("failed to open raw db: %v", err)
	}
	_, err = db.Exec(`
		CREATE TABLE usage_snapshots (
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
			created_at TEXT DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		t.Fatalf("failed to create legacy table: %v", err)
	}
	if _, err := db.Exec(`
		INSERT INTO usage_snapshots (timestamp, five_hour_used, five_hour_limit, seven_day_used, seven_day_limit)
		VALUES ('2026-01-01T00:00:00Z', 10, 100, 5, 100)
	`); err != nil {
		t.Fatalf("failed to insert legacy row: %v", err)
	}
	db.Close()

	s, err := New(dbPath, testLogger())
	if err != nil {
		t.Fatalf("open over legacy schema failed: %v", err)
	}
	defer s.Close()

	for _, col := range calcColumns {
		has, err := s.tableHasColumn("usage_snapshots", col)
		if err != nil {
			t.Fatalf("tableHasColumn failed: %v", err)
		}
		if !has {
			t.Errorf("migration did not add column %s", col)
		}
	}

	// The legacy row must survive with NULL calc fields
	snap, err := s.GetSnapshotByID(1)
	if err != nil {
		t.Fatalf("GetSnapshotByID failed: %v", err)
	}
	if snap == nil {
		t.Fatal("legacy row lost in migration")
	}
	if snap.FiveHourTokensConsumed != nil {
		t.Error("legacy row should have NULL calc fields")
	}
	if snap.Recalculated {
		t.Error("legacy row should read as recalculated=0")
	}
}

func TestInsertTick_CalcFieldsStartNull(t *testing.T) {
	s := newTestStore(t)
	id := insertBasicTick(t, s, "2026-01-15T09:00:00Z")

	snap, err := s.GetSnapshotByID(id)
	if err != nil {
		t.Fatalf("GetSnapshotByID failed: %v", err)
	}
	if snap == nil {
		t.Fatal("snapshot not found")
	}
	if snap.Recalculated {
		t.Error("recalculated should be 0 after phase 1")
	}
	for name, v := range map[string]*int64{
		"five_hour_tokens_consumed": snap.FiveHourTokensConsumed,
		"five_hour_tokens_total":    snap.FiveHourTokensTotal,
		"five_hour_messages_count":  snap.FiveHourMessagesCount,
		"five_hour_messages_total":  snap.FiveHourMessagesTotal,
		"seven_day_tokens_consumed": snap.SevenDayTokensConsumed,
		"seven_day_tokens_total":    snap.SevenDayTokensTotal,
		"seven_day_messages_count":  snap.SevenDayMessagesCount,
		"seven_day_messages_total":  snap.SevenDayMessagesTotal,
	} {
		if v != nil {
			t.Errorf("%s should be NULL after phase 1, got %d", name, *v)
		}
	}
	if snap.ActiveSessions != nil {
		t.Error("active_sessions should be NULL after phase 1")
	}
	if snap.FiveHourUsed != 75 || snap.SevenDayUsed != 45 {
		t.Errorf("raw fields wrong: %d/%d", snap.FiveHourUsed, snap.SevenDayUsed)
	}
	if snap.FiveHourPct == nil || *snap.FiveHourPct != 75.5 {
		t.Error("five_hour_pct not persisted")
	}
}

func TestInsertTick_MissingTimestamp(t *testing.T) {
	s := newTestStore(t)
	_, err := s.InsertTick("", 1, 100, 1, 100, nil, nil, nil, nil)
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestUpdateCalculations_PartialUpdate(t *testing.T) {
	s := newTestStore(t)
	id := insertBasicTick(t, s, "2026-01-15T09:00:00Z")

	err := s.UpdateCalculations(id, CalcUpdate{
		FiveHourTokensConsumed: ptrI(1000),
		ActiveSessions:         []string{"s-1"},
	})
	if err != nil {
		t.Fatalf("UpdateCalculations failed: %v", err)
	}

	snap, err := s.GetSnapshotByID(id)
	if err != nil {
		t.Fatalf("GetSnapshotByID failed: %v", err)
	}
	if snap.FiveHourTokensConsumed == nil || *snap.FiveHourTokensConsumed != 1000 {
		t.Error("five_hour_tokens_consumed should be 1000")
	}
	if snap.SevenDayTokensConsumed != nil {
		t.Error("seven_day_tokens_consumed should still be NULL")
	}
	if len(snap.ActiveSessions) != 1 || snap.ActiveSessions[0] != "s-1" {
		t.Errorf("active_sessions = %v, want [s-1]", snap.ActiveSessions)
	}
	if !snap.Recalculated {
		t.Error("recalculated should be 1 after phase 2")
	}

	// A second partial update must not clobber the first
	if err := s.UpdateCalculations(id, CalcUpdate{SevenDayTokensTotal: ptrI(50000)}); err != nil {
		t.Fatalf("second UpdateCalculations failed: %v", err)
	}
	snap, _ = s.GetSnapshotByID(id)
	if snap.FiveHourTokensConsumed == nil || *snap.FiveHourTokensConsumed != 1000 {
		t.Error("earlier field lost by later partial update")
	}
	if snap.SevenDayTokensTotal == nil || *snap.SevenDayTokensTotal != 50000 {
		t.Error("seven_day_tokens_total should be 50000")
	}
}

func TestUpdateCalculations_ZeroFieldsNoOp(t *testing.T) {
	s := newTestStore(t)
	id := insertBasicTick(t, s, "2026-01-15T09:00:00Z")

	before, err := s.GetSnapshotByID(id)
	if err != nil {
		t.Fatalf("GetSnapshotByID failed: %v", err)
	}

	if err := s.UpdateCalculations(id, CalcUpdate{}); err != nil {
		t.Fatalf("zero-field update errored: %v", err)
	}

	after, err := s.GetSnapshotByID(id)
	if err != nil {
		t.Fatalf("GetSnapshotByID failed: %v", err)
	}
	if after.Recalculated != before.Recalculated {
		t.Error("zero-field update must not flip recalculated")
	}
	if !reflect.DeepEqual(before, after) {
		t.Errorf("zero-field update mutated row:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestUpdateCalculations_InvalidID(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []int64{0, -5} {
		err := s.UpdateCalculations(id, CalcUpdate{FiveHourTokensConsumed: ptrI(1)})
		if !errors.Is(err, ErrValidation) {
			t.Errorf("id %d: expected ErrValidation, got %v", id, err)
		}
	}
}

func TestUpdateCalculations_ActiveSessionsValidation(t *testing.T) {
	tests := []struct {
		name     string
		sessions []string
		wantNull bool
	}{
		{"valid", []string{"abc-123", "session_42", "S9"}, false},
		{"empty list", []string{}, false},
		{"empty id", []string{""}, true},
		{"bad char", []string{"user@host"}, true},
		{"too long", []string{strings.Repeat("a", 101)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			id := insertBasicTick(t, s, "2026-01-15T09:00:00Z")

			err := s.UpdateCalculations(id, CalcUpdate{
				FiveHourTokensConsumed: ptrI(7),
				ActiveSessions:         tt.sessions,
			})
			if err != nil {
				t.Fatalf("update must not error on bad session ids: %v", err)
			}

			snap, err := s.GetSnapshotByID(id)
			if err != nil {
				t.Fatalf("GetSnapshotByID failed: %v", err)
			}

			// Numeric fields persist regardless of session validation
			if snap.FiveHourTokensConsumed == nil || *snap.FiveHourTokensConsumed != 7 {
				t.Error("numeric field lost when sessions invalid")
			}

			if tt.wantNull {
				if snap.ActiveSessions != nil {
					t.Errorf("active_sessions = %v, want NULL", snap.ActiveSessions)
				}
				return
			}
			if len(snap.ActiveSessions) != len(tt.sessions) {
				t.Errorf("active_sessions = %v, want %v", snap.ActiveSessions, tt.sessions)
			}
			for i := range tt.sessions {
				if snap.ActiveSessions[i] != tt.sessions[i] {
					t.Errorf("session order not preserved: got %v want %v",
						snap.ActiveSessions, tt.sessions)
					break
				}
			}
		})
	}
}

func TestInsertSnapshot_OnePhase(t *testing.T) {
	s := newTestStore(t)
	id, err := s.InsertSnapshot("2026-01-15T09:00:00Z", 75, 100, 45, 100,
		ptrF(75.5), ptrF(45.2), nil, nil,
		CalcUpdate{
			FiveHourTokensConsumed: ptrI(1200),
			SevenDayTokensTotal:    ptrI(90000),
			ActiveSessions:         []string{"a", "b"},
		})
	if err != nil {
		t.Fatalf("InsertSnapshot failed: %v", err)
	}

	snap, err := s.GetSnapshotByID(id)
	if err != nil {
		t.Fatalf("GetSnapshotByID failed: %v", err)
	}
	if !snap.Recalculated {
		t.Error("one-phase insert should land recalculated=1")
	}
	if snap.FiveHourTokensConsumed == nil || *snap.FiveHourTokensConsumed != 1200 {
		t.Error("calc field missing after one-phase insert")
	}
	if len(snap.ActiveSessions) != 2 {
		t.Errorf("active_sessions = %v", snap.ActiveSessions)
	}
}

func TestGetLatestSnapshot_ByTimestamp(t *testing.T) {
	s := newTestStore(t)

	if snap, err := s.GetLatestSnapshot(); err != nil || snap != nil {
		t.Fatalf("empty store: snap=%v err=%v, want nil/nil", snap, err)
	}

	// Insert out of timestamp order: latest must follow timestamp, not id
	insertBasicTick(t, s, "2026-01-15T09:00:00Z")
	insertBasicTick(t, s, "2026-01-15T11:00:00Z")
	insertBasicTick(t, s, "2026-01-15T10:00:00Z")

	snap, err := s.GetLatestSnapshot()
	if err != nil {
		t.Fatalf("GetLatestSnapshot failed: %v", err)
	}
	if snap.Timestamp != "2026-01-15T11:00:00Z" {
		t.Errorf("latest timestamp = %s, want 2026-01-15T11:00:00Z", snap.Timestamp)
	}
}

func TestGetSnapshotsInRange_Ascending(t *testing.T) {
	s := newTestStore(t)
	insertBasicTick(t, s, "2026-01-15T10:00:00Z")
	insertBasicTick(t, s, "2026-01-15T08:00:00Z")
	insertBasicTick(t, s, "2026-01-15T09:00:00Z")
	insertBasicTick(t, s, "2026-01-16T00:00:00Z") // outside range

	snaps, err := s.GetSnapshotsInRange("2026-01-15T00:00:00Z", "2026-01-15T23:59:59Z")
	if err != nil {
		t.Fatalf("GetSnapshotsInRange failed: %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("got %d snapshots, want 3", len(snaps))
	}
	for i := 1; i < len(snaps); i++ {
		if snaps[i].Timestamp < snaps[i-1].Timestamp {
			t.Errorf("range not ascending: %s before %s",
				snaps[i-1].Timestamp, snaps[i].Timestamp)
		}
	}
}

func TestConcurrentInserts(t *testing.T) {
	s := newTestStore(t)

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ts := fmt.Sprintf("2026-01-15T09:%02d:00Z", n)
			if _, err := s.InsertTick(ts, int64(n), 100, int64(n), 100, nil, nil, nil, nil); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent insert failed: %v", err)
	}

	snaps, err := s.GetSnapshotsInRange("2026-01-15T00:00:00Z", "2026-01-15T23:59:59Z")
	if err != nil {
		t.Fatalf("range query failed: %v", err)
	}
	if len(snaps) != writers {
		t.Errorf("got %d snapshots, want %d", len(snaps), writers)
	}
}

func TestReadDuringWrite(t *testing.T) {
	s := newTestStore(t)
	id := insertBasicTick(t, s, "2026-01-15T09:00:00Z")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_ = s.UpdateCalculations(id, CalcUpdate{FiveHourTokensConsumed: ptrI(int64(i))})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if _, err := s.GetSnapshotByID(id); err != nil {
				t.Errorf("read during write failed: %v", err)
				return
			}
		}
	}()
	wg.Wait()
}

func TestSessionUpsertAndGet(t *testing.T) {
	s := newTestStore(t)

	d := &SessionDetail{
		SessionID:     "sess-1",
		StartTime:     "2026-01-15T08:00:00Z",
		TotalMessages: 12,
		TotalTokens:   3400,
		InputTokens:   3000,
		OutputTokens:  400,
		ModelUsed:     ptrS("claude-sonnet-4-5"),
		HasPlans:      true,
		PlanCount:     2,
	}
	if err := s.UpsertSession(d); err != nil {
		t.Fatalf("UpsertSession failed: %v", err)
	}

	got, err := s.GetSession("sess-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got == nil {
		t.Fatal("session not found")
	}
	if got.TotalTokens != 3400 || !got.HasPlans || got.PlanCount != 2 {
		t.Errorf("session fields wrong: %+v", got)
	}

	// Upsert same ID replaces, not duplicates
	d.TotalTokens = 5000
	if err := s.UpsertSession(d); err != nil {
		t.Fatalf("second UpsertSession failed: %v", err)
	}
	sessions, err := s.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	if sessions[0].TotalTokens != 5000 {
		t.Errorf("upsert did not replace: tokens = %d", sessions[0].TotalTokens)
	}

	if missing, err := s.GetSession("nope"); err != nil || missing != nil {
		t.Errorf("missing session: got %v, %v; want nil, nil", missing, err)
	}
}

func TestListSessions_OrderedByStartDesc(t *testing.T) {
	s := newTestStore(t)
	for i, start := range []string{"2026-01-15T08:00:00Z", "2026-01-15T10:00:00Z", "2026-01-15T09:00:00Z"} {
		if err := s.UpsertSession(&SessionDetail{
			SessionID: fmt.Sprintf("sess-%d", i),
			StartTime: start,
		}); err != nil {
			t.Fatalf("UpsertSession failed: %v", err)
		}
	}

	sessions, err := s.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("got %d sessions, want 3", len(sessions))
	}
	for i := 1; i < len(sessions); i++ {
		if sessions[i].StartTime > sessions[i-1].StartTime {
			t.Error("sessions not ordered by start_time descending")
		}
	}
}

func TestGetAggregateStats(t *testing.T) {
	s := newTestStore(t)

	stats, err := s.GetAggregateStats()
	if err != nil {
		t.Fatalf("GetAggregateStats on empty store failed: %v", err)
	}
	if stats.TotalSessions != 0 || stats.AvgTokensPerSess != 0 {
		t.Errorf("empty stats wrong: %+v", stats)
	}

	for i := 0; i < 3; i++ {
		if err := s.UpsertSession(&SessionDetail{
			SessionID:     fmt.Sprintf("sess-%d", i),
			StartTime:     "2026-01-15T08:00:00Z",
			TotalMessages: 10,
			TotalTokens:   1000,
			InputTokens:   800,
			OutputTokens:  200,
			HasPlans:      i == 0,
			HasTodos:      true,
		}); err != nil {
			t.Fatalf("UpsertSession failed: %v", err)
		}
	}

	stats, err = s.GetAggregateStats()
	if err != nil {
		t.Fatalf("GetAggregateStats failed: %v", err)
	}
	if stats.TotalSessions != 3 {
		t.Errorf("total_sessions = %d, want 3", stats.TotalSessions)
	}
	if stats.TotalTokens != 3000 || stats.TotalInputTokens != 2400 || stats.TotalOutputTokens != 600 {
		t.Errorf("token totals wrong: %+v", stats)
	}
	if stats.TotalMessages != 30 {
		t.Errorf("total_messages = %d, want 30", stats.TotalMessages)
	}
	if stats.AvgTokensPerSess != 1000 {
		t.Errorf("avg_tokens_per_session = %f, want 1000", stats.AvgTokensPerSess)
	}
	if stats.SessionsWithPlans != 1 || stats.SessionsWithTodos != 3 {
		t.Errorf("plan/todo counts wrong: %+v", stats)
	}
}
