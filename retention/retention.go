// Package retention implements periodic archival/purge of aged rows plus
// encrypted, rotated snapshots of the store's SQLite files.
package retention

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/shreyasdbz/axis/core"
)

// Sweeper runs the retention job: archiving conversations and episodic
// memory past their configured age, and purging completed execution-log
// rows. Each category is independent — a failure in one is logged and does
// not prevent the others from running, and reruns are idempotent since an
// already-archived or already-deleted row is simply not matched again.
type Sweeper struct {
	meridian *sqlx.DB
	journal  *sqlx.DB
	logger   core.Logger

	conversationAge time.Duration
	episodicAge     time.Duration
	executionLogAge time.Duration
}

// Option configures a Sweeper.
type Option func(*Sweeper)

func WithLogger(l core.Logger) Option                { return func(s *Sweeper) { s.logger = l } }
func WithConversationAge(d time.Duration) Option     { return func(s *Sweeper) { s.conversationAge = d } }
func WithEpisodicAge(d time.Duration) Option         { return func(s *Sweeper) { s.episodicAge = d } }
func WithExecutionLogAge(d time.Duration) Option     { return func(s *Sweeper) { s.executionLogAge = d } }

// New builds a Sweeper over the meridian (conversations, execution_log) and
// journal (episodes) database handles.
func New(meridian, journal *sqlx.DB, opts ...Option) *Sweeper {
	s := &Sweeper{
		meridian:        meridian,
		journal:         journal,
		logger:          &core.NoOpLogger{},
		conversationAge: 30 * 24 * time.Hour,
		episodicAge:     90 * 24 * time.Hour,
		executionLogAge: 30 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Report tallies how many rows each category affected, for diagnostics.
type Report struct {
	ConversationsArchived int
	EpisodesArchived      int
	ExecutionLogDeleted   int
}

// Run executes all three retention categories, continuing past a failure in
// any one so the others still get a chance to run. now is supplied by the
// caller (the lifecycle manager's idle scheduler) rather than read here.
func (s *Sweeper) Run(ctx context.Context, now time.Time) (Report, error) {
	var report Report
	var firstErr error

	n, err := s.archiveConversations(ctx, now)
	report.ConversationsArchived = n
	if err != nil {
		s.logger.Error("archive conversations failed", map[string]interface{}{"error": err.Error()})
		firstErr = err
	}

	n, err = s.archiveEpisodes(ctx, now)
	report.EpisodesArchived = n
	if err != nil {
		s.logger.Error("archive episodes failed", map[string]interface{}{"error": err.Error()})
		if firstErr == nil {
			firstErr = err
		}
	}

	n, err = s.purgeExecutionLog(ctx, now)
	report.ExecutionLogDeleted = n
	if err != nil {
		s.logger.Error("purge execution log failed", map[string]interface{}{"error": err.Error()})
		if firstErr == nil {
			firstErr = err
		}
	}

	return report, firstErr
}

func (s *Sweeper) archiveConversations(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.conversationAge)
	res, err := s.meridian.ExecContext(ctx, `
		UPDATE conversations SET archived_at = ?
		WHERE archived_at IS NULL AND created_at < ?`, now, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Sweeper) archiveEpisodes(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.episodicAge)
	res, err := s.journal.ExecContext(ctx, `
		UPDATE episodes SET archived_at = ?
		WHERE archived_at IS NULL AND created_at < ?`, now, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Sweeper) purgeExecutionLog(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.executionLogAge)
	res, err := s.meridian.ExecContext(ctx, `
		DELETE FROM execution_log
		WHERE status = 'completed' AND started_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
