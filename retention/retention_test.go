package retention

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
)

func newSweeperDBs(t *testing.T) (meridian, journal *sqlx.DB) {
	t.Helper()
	meridian, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	_, err = meridian.Exec(`CREATE TABLE conversations (
		id TEXT PRIMARY KEY, title TEXT, transcript TEXT,
		created_at TIMESTAMP NOT NULL, updated_at TIMESTAMP NOT NULL, archived_at TIMESTAMP
	)`)
	require.NoError(t, err)
	_, err = meridian.Exec(`CREATE TABLE execution_log (
		execution_id TEXT PRIMARY KEY, job_id TEXT NOT NULL, step_id TEXT NOT NULL,
		status TEXT NOT NULL, started_at TIMESTAMP NOT NULL, completed_at TIMESTAMP, result TEXT
	)`)
	require.NoError(t, err)

	journal, err = sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	_, err = journal.Exec(`CREATE TABLE episodes (
		id TEXT PRIMARY KEY, job_id TEXT NOT NULL, summary TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL, archived_at TIMESTAMP
	)`)
	require.NoError(t, err)
	return meridian, journal
}

func TestSweepArchivesAgedRowsOnly(t *testing.T) {
	meridian, journal := newSweeperDBs(t)
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	old := now.Add(-100 * 24 * time.Hour)
	recent := now.Add(-1 * time.Hour)

	_, err := meridian.Exec(`INSERT INTO conversations (id, created_at, updated_at) VALUES (?, ?, ?)`, "old", old, old)
	require.NoError(t, err)
	_, err = meridian.Exec(`INSERT INTO conversations (id, created_at, updated_at) VALUES (?, ?, ?)`, "new", recent, recent)
	require.NoError(t, err)

	s := New(meridian, journal, WithConversationAge(30*24*time.Hour))
	report, err := s.Run(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, 1, report.ConversationsArchived)

	var archivedCount int
	require.NoError(t, meridian.Get(&archivedCount, `SELECT COUNT(*) FROM conversations WHERE archived_at IS NOT NULL`))
	require.Equal(t, 1, archivedCount)
}

func TestSweepIsIdempotent(t *testing.T) {
	meridian, journal := newSweeperDBs(t)
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	old := now.Add(-200 * 24 * time.Hour)
	_, err := meridian.Exec(`INSERT INTO conversations (id, created_at, updated_at) VALUES (?, ?, ?)`, "old", old, old)
	require.NoError(t, err)

	s := New(meridian, journal)
	report1, err := s.Run(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, 1, report1.ConversationsArchived)

	report2, err := s.Run(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, 0, report2.ConversationsArchived, "rerunning has no additional effect on already-archived rows")
}

func TestPurgeExecutionLogDeletesOldCompletedRows(t *testing.T) {
	meridian, journal := newSweeperDBs(t)
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	old := now.Add(-60 * 24 * time.Hour)

	_, err := meridian.Exec(`INSERT INTO execution_log (execution_id, job_id, step_id, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		"e1", "j1", "s1", "completed", old)
	require.NoError(t, err)
	_, err = meridian.Exec(`INSERT INTO execution_log (execution_id, job_id, step_id, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		"e2", "j1", "s2", "started", old)
	require.NoError(t, err)

	s := New(meridian, journal, WithExecutionLogAge(30*24*time.Hour))
	report, err := s.Run(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, 1, report.ExecutionLogDeleted)

	var remaining int
	require.NoError(t, meridian.Get(&remaining, `SELECT COUNT(*) FROM execution_log`))
	require.Equal(t, 1, remaining)
}
