package approval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shreyasdbz/axis/core"
	"github.com/shreyasdbz/axis/jobqueue"
	"github.com/shreyasdbz/axis/store"
)

func newTestQueue(t *testing.T) (*store.Store, *jobqueue.Queue) {
	t.Helper()
	st, err := store.Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st, jobqueue.New(st)
}

func newValidatingJob(t *testing.T, ctx context.Context, queue *jobqueue.Queue) *core.Job {
	t.Helper()
	job, err := queue.CreateJob(ctx, jobqueue.CreateOptions{Source: core.SourceUser})
	require.NoError(t, err)
	job, err = queue.Transition(ctx, job.ID, core.StatusPending, core.StatusPlanning, nil)
	require.NoError(t, err)
	plan := &core.ExecutionPlan{ID: core.NewID(), JobID: job.ID, Steps: []core.PlanStep{
		{ID: "s1", Gear: "file-manager", Action: "delete"},
	}}
	job, err = queue.Transition(ctx, job.ID, core.StatusPlanning, core.StatusValidating, &jobqueue.Patch{Plan: plan})
	require.NoError(t, err)
	return job
}

type fakeRules struct {
	bypass   bool
	recorded []core.PlanStep
}

func (f *fakeRules) Bypass(ctx context.Context, plan *core.ExecutionPlan) (bool, error) {
	return f.bypass, nil
}

func (f *fakeRules) RecordApproval(ctx context.Context, step core.PlanStep) {
	f.recorded = append(f.recorded, step)
}

func TestRequestApprovalBypassedByStandingRule(t *testing.T) {
	ctx := context.Background()
	st, queue := newTestQueue(t)
	job := newValidatingJob(t, ctx, queue)

	rules := &fakeRules{bypass: true}
	c := New(st.Meridian, queue, WithRules(rules))

	nonce, updated, err := c.RequestApproval(ctx, job, job.Plan)
	require.NoError(t, err)
	require.Empty(t, nonce)
	require.Equal(t, core.StatusExecuting, updated.Status)
}

func TestRequestApprovalIssuesNonceAndApprove(t *testing.T) {
	ctx := context.Background()
	st, queue := newTestQueue(t)
	job := newValidatingJob(t, ctx, queue)

	rules := &fakeRules{}
	c := New(st.Meridian, queue, WithRules(rules))

	nonce, updated, err := c.RequestApproval(ctx, job, job.Plan)
	require.NoError(t, err)
	require.NotEmpty(t, nonce)
	require.Equal(t, core.StatusAwaitingApproval, updated.Status)

	final, err := c.Approve(ctx, job.ID, nonce)
	require.NoError(t, err)
	require.Equal(t, core.StatusExecuting, final.Status)
	require.Len(t, rules.recorded, 1)
}

func TestApproveRejectsConsumedNonce(t *testing.T) {
	ctx := context.Background()
	st, queue := newTestQueue(t)
	job := newValidatingJob(t, ctx, queue)

	c := New(st.Meridian, queue, WithRules(&fakeRules{}))
	nonce, _, err := c.RequestApproval(ctx, job, job.Plan)
	require.NoError(t, err)

	_, err = c.Approve(ctx, job.ID, nonce)
	require.NoError(t, err)

	_, err = c.Approve(ctx, job.ID, nonce)
	require.Error(t, err)
	kind, ok := core.KindOf(err)
	require.True(t, ok)
	require.Equal(t, core.KindNonceConsumed, kind)
}

func TestApproveRejectsUnknownNonce(t *testing.T) {
	ctx := context.Background()
	st, queue := newTestQueue(t)
	job := newValidatingJob(t, ctx, queue)

	c := New(st.Meridian, queue, WithRules(&fakeRules{}))
	_, _, err := c.RequestApproval(ctx, job, job.Plan)
	require.NoError(t, err)

	_, err = c.Approve(ctx, job.ID, "not-a-real-nonce")
	require.Error(t, err)
	kind, ok := core.KindOf(err)
	require.True(t, ok)
	require.Equal(t, core.KindInvalidNonce, kind)
}

func TestRejectMovesJobToRejected(t *testing.T) {
	ctx := context.Background()
	st, queue := newTestQueue(t)
	job := newValidatingJob(t, ctx, queue)

	c := New(st.Meridian, queue, WithRules(&fakeRules{}))
	_, _, err := c.RequestApproval(ctx, job, job.Plan)
	require.NoError(t, err)

	final, err := c.Reject(ctx, job.ID, "not today")
	require.NoError(t, err)
	require.Equal(t, core.StatusRejected, final.Status)
	require.Equal(t, core.KindUserRejected, final.Error.Kind)
}
