package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func TestOpenRunsMigrationsOnAllThreeDatabases(t *testing.T) {
	st, err := Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	defer st.Close()

	var n int
	require.NoError(t, st.Meridian.Get(&n, `SELECT COUNT(*) FROM jobs`))
	require.NoError(t, st.Meridian.Get(&n, `SELECT COUNT(*) FROM conversations`))
	require.NoError(t, st.Journal.Get(&n, `SELECT COUNT(*) FROM episodes`))
	require.NoError(t, st.Sentinel.Get(&n, `SELECT COUNT(*) FROM decisions`))
}

func TestOpenIsIdempotentAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	st1, err := Open(context.Background(), dir)
	require.NoError(t, err)
	_, err = st1.Meridian.Exec(`INSERT INTO jobs (id, status, source, created_at, updated_at) VALUES (?, ?, ?, datetime('now'), datetime('now'))`,
		"job-1", "pending", "user")
	require.NoError(t, err)
	require.NoError(t, st1.Close())

	st2, err := Open(context.Background(), dir)
	require.NoError(t, err)
	defer st2.Close()

	var status string
	require.NoError(t, st2.Meridian.Get(&status, `SELECT status FROM jobs WHERE id = ?`, "job-1"))
	require.Equal(t, "pending", status)
}

func TestWithTxCommitsOnSuccess(t *testing.T) {
	st, err := Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	defer st.Close()

	err = WithTx(context.Background(), st.Meridian, func(tx *sqlx.Tx) error {
		_, execErr := tx.Exec(`INSERT INTO jobs (id, status, source, created_at, updated_at) VALUES (?, ?, ?, datetime('now'), datetime('now'))`,
			"job-committed", "pending", "user")
		return execErr
	})
	require.NoError(t, err)

	var n int
	require.NoError(t, st.Meridian.Get(&n, `SELECT COUNT(*) FROM jobs WHERE id = ?`, "job-committed"))
	require.Equal(t, 1, n)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	st, err := Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	defer st.Close()

	sentinel := errors.New("boom")
	err = WithTx(context.Background(), st.Meridian, func(tx *sqlx.Tx) error {
		_, execErr := tx.Exec(`INSERT INTO jobs (id, status, source, created_at, updated_at) VALUES (?, ?, ?, datetime('now'), datetime('now'))`,
			"job-rolled-back", "pending", "user")
		if execErr != nil {
			return execErr
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	var n int
	require.NoError(t, st.Meridian.Get(&n, `SELECT COUNT(*) FROM jobs WHERE id = ?`, "job-rolled-back"))
	require.Equal(t, 0, n)
}
