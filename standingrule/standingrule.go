// Package standingrule implements the Standing-Rule Evaluator: persistent
// auto-decision rules for matching action patterns, consulted by the
// Approval Coordinator to bypass awaiting_approval, plus the in-memory
// approval-frequency suggester that proposes new rules after repeated
// same-category approvals.
package standingrule

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/shreyasdbz/axis/core"
	"github.com/shreyasdbz/axis/router"
)

// Evaluator is the Standing-Rule Evaluator, backed by the meridian
// database's standing_rules table for durable rules and a process-wide
// in-memory counter for approval-frequency suggestions.
type Evaluator struct {
	db     *sqlx.DB
	router *router.Router
	logger core.Logger

	suggestionCount int

	mu       sync.Mutex
	counters map[string]int
}

// Option configures an Evaluator.
type Option func(*Evaluator)

func WithLogger(l core.Logger) Option          { return func(e *Evaluator) { e.logger = l } }
func WithRouter(r *router.Router) Option       { return func(e *Evaluator) { e.router = r } }
func WithSuggestionCount(n int) Option         { return func(e *Evaluator) { e.suggestionCount = n } }

// New builds an Evaluator over db (the meridian handle).
func New(db *sqlx.DB, opts ...Option) *Evaluator {
	e := &Evaluator{
		db:              db,
		logger:          &core.NoOpLogger{},
		suggestionCount: 3,
		counters:        make(map[string]int),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// actionKey is the pattern-matching unit for one plan step: "<gear>:<action>".
// Patterns may target it exactly, or via a "<category>:*" glob over the
// portion before the first colon.
func actionKey(step core.PlanStep) string {
	return step.Gear + ":" + step.Action
}

func categoryOf(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}

// CreateOptions configures Create.
type CreateOptions struct {
	ActionPattern string
	Scope         string
	Verdict       core.RuleVerdict
	ExpiresAt     *time.Time
	CreatedBy     string
}

// Create persists a new standing rule.
func (e *Evaluator) Create(ctx context.Context, opts CreateOptions) (*core.StandingRule, error) {
	rule := &core.StandingRule{
		ID:            core.NewID(),
		ActionPattern: opts.ActionPattern,
		Scope:         opts.Scope,
		Verdict:       opts.Verdict,
		ExpiresAt:     opts.ExpiresAt,
		CreatedAt:     time.Now().UTC(),
		CreatedBy:     opts.CreatedBy,
	}
	_, err := e.db.ExecContext(ctx, `
		INSERT INTO standing_rules (id, action_pattern, scope, verdict, expires_at, approval_count, created_at, created_by)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		rule.ID, rule.ActionPattern, rule.Scope, string(rule.Verdict), nullableTime(rule.ExpiresAt), rule.CreatedAt, rule.CreatedBy)
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// Delete removes a standing rule by id.
func (e *Evaluator) Delete(ctx context.Context, id string) error {
	_, err := e.db.ExecContext(ctx, `DELETE FROM standing_rules WHERE id = ?`, id)
	return err
}

// List returns every unexpired standing rule.
func (e *Evaluator) List(ctx context.Context) ([]core.StandingRule, error) {
	var rows []ruleRow
	err := e.db.SelectContext(ctx, &rows, `
		SELECT * FROM standing_rules
		WHERE expires_at IS NULL OR expires_at > ?`, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	out := make([]core.StandingRule, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toRule())
	}
	return out, nil
}

type ruleRow struct {
	ID            string       `db:"id"`
	ActionPattern string       `db:"action_pattern"`
	Scope         string       `db:"scope"`
	Verdict       string       `db:"verdict"`
	ExpiresAt     sql.NullTime `db:"expires_at"`
	ApprovalCount int          `db:"approval_count"`
	CreatedAt     time.Time    `db:"created_at"`
	CreatedBy     string       `db:"created_by"`
}

func (r ruleRow) toRule() core.StandingRule {
	rule := core.StandingRule{
		ID:            r.ID,
		ActionPattern: r.ActionPattern,
		Scope:         r.Scope,
		Verdict:       core.RuleVerdict(r.Verdict),
		ApprovalCount: r.ApprovalCount,
		CreatedAt:     r.CreatedAt,
		CreatedBy:     r.CreatedBy,
	}
	if r.ExpiresAt.Valid {
		t := r.ExpiresAt.Time
		rule.ExpiresAt = &t
	}
	return rule
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// matches reports whether rule's action pattern matches key: either an
// exact match, or a "<category>:*" glob over key's category.
func matches(pattern, key string) bool {
	if pattern == key {
		return true
	}
	if strings.HasSuffix(pattern, ":*") {
		return categoryOf(key) == strings.TrimSuffix(pattern, ":*")
	}
	return false
}

// lookup reports, for one action key, whether any unexpired rule approves
// it and whether any unexpired rule denies it. Both can be true if two
// rules with different scopes conflict; the caller treats a deny as
// dominant over an approve.
func (e *Evaluator) lookup(ctx context.Context, key string) (approved, denied bool, err error) {
	rules, err := e.List(ctx)
	if err != nil {
		return false, false, err
	}
	for _, r := range rules {
		if !matches(r.ActionPattern, key) {
			continue
		}
		switch r.Verdict {
		case core.RuleApprove:
			approved = true
		case core.RuleDeny:
			denied = true
		}
	}
	return approved, denied, nil
}

// Bypass reports whether plan may skip awaiting_approval entirely: every
// step must match an approve rule, and no step may match a deny rule.
func (e *Evaluator) Bypass(ctx context.Context, plan *core.ExecutionPlan) (bool, error) {
	if plan == nil || len(plan.Steps) == 0 {
		return false, nil
	}
	for _, step := range plan.Steps {
		approved, denied, err := e.lookup(ctx, actionKey(step))
		if err != nil {
			return false, err
		}
		if denied || !approved {
			return false, nil
		}
	}
	return true, nil
}

// RecordApproval increments the in-memory, process-wide counter for step's
// action category. On reaching the configured suggestion count, it emits a
// one-shot "standing_rule_suggested" broadcast and resets the counter. The
// counter is intentionally not persisted: suggestions are advisory, and a
// fresh process re-learns approval frequency from scratch.
func (e *Evaluator) RecordApproval(ctx context.Context, step core.PlanStep) {
	category := categoryOf(actionKey(step))

	e.mu.Lock()
	e.counters[category]++
	count := e.counters[category]
	trigger := count >= e.suggestionCount
	if trigger {
		e.counters[category] = 0
	}
	e.mu.Unlock()

	if !trigger {
		return
	}
	e.logger.Info("standing rule suggestion threshold reached", map[string]interface{}{"category": category, "count": count})
	if e.router != nil {
		_ = e.router.Publish(ctx, router.Envelope{
			Type: "standing_rule_suggested",
			Payload: map[string]interface{}{
				"category":      category,
				"approvalCount": count,
			},
		})
	}
}
