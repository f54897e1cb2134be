package standingrule

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"

	"github.com/shreyasdbz/axis/core"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE standing_rules (
		id             TEXT PRIMARY KEY,
		action_pattern TEXT NOT NULL,
		scope          TEXT NOT NULL,
		verdict        TEXT NOT NULL,
		expires_at     TIMESTAMP,
		approval_count INTEGER NOT NULL DEFAULT 0,
		created_at     TIMESTAMP NOT NULL,
		created_by     TEXT NOT NULL
	)`)
	require.NoError(t, err)
	return db
}

func TestBypassRequiresApproveOnEveryStep(t *testing.T) {
	db := newTestDB(t)
	e := New(db)
	ctx := context.Background()

	_, err := e.Create(ctx, CreateOptions{ActionPattern: "file-manager:*", Verdict: core.RuleApprove, CreatedBy: "user"})
	require.NoError(t, err)

	plan := &core.ExecutionPlan{Steps: []core.PlanStep{
		{ID: "s1", Gear: "file-manager", Action: "write"},
		{ID: "s2", Gear: "email", Action: "send"},
	}}
	bypass, err := e.Bypass(ctx, plan)
	require.NoError(t, err)
	require.False(t, bypass, "email:send has no matching rule")

	_, err = e.Create(ctx, CreateOptions{ActionPattern: "email:send", Verdict: core.RuleApprove, CreatedBy: "user"})
	require.NoError(t, err)

	bypass, err = e.Bypass(ctx, plan)
	require.NoError(t, err)
	require.True(t, bypass)
}

func TestDenyRuleDominatesApprove(t *testing.T) {
	db := newTestDB(t)
	e := New(db)
	ctx := context.Background()

	_, err := e.Create(ctx, CreateOptions{ActionPattern: "file-manager:*", Verdict: core.RuleApprove, CreatedBy: "user"})
	require.NoError(t, err)
	_, err = e.Create(ctx, CreateOptions{ActionPattern: "file-manager:delete", Verdict: core.RuleDeny, CreatedBy: "user"})
	require.NoError(t, err)

	plan := &core.ExecutionPlan{Steps: []core.PlanStep{{ID: "s1", Gear: "file-manager", Action: "delete"}}}
	bypass, err := e.Bypass(ctx, plan)
	require.NoError(t, err)
	require.False(t, bypass)
}

func TestRecordApprovalSuggestsAfterThreshold(t *testing.T) {
	db := newTestDB(t)
	e := New(db, WithSuggestionCount(2))
	ctx := context.Background()
	step := core.PlanStep{Gear: "file-manager", Action: "write"}

	e.RecordApproval(ctx, step)
	e.mu.Lock()
	count := e.counters["file-manager"]
	e.mu.Unlock()
	require.Equal(t, 1, count)

	e.RecordApproval(ctx, step)
	e.mu.Lock()
	count = e.counters["file-manager"]
	e.mu.Unlock()
	require.Equal(t, 0, count, "counter resets once the suggestion threshold fires")
}

func TestDeleteRemovesRule(t *testing.T) {
	db := newTestDB(t)
	e := New(db)
	ctx := context.Background()

	rule, err := e.Create(ctx, CreateOptions{ActionPattern: "x:*", Verdict: core.RuleApprove, CreatedBy: "user"})
	require.NoError(t, err)

	require.NoError(t, e.Delete(ctx, rule.ID))

	rules, err := e.List(ctx)
	require.NoError(t, err)
	require.Empty(t, rules)
}
