package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shreyasdbz/axis/core"
)

type fakeClaimer struct {
	mu   sync.Mutex
	jobs []*core.Job
}

func (f *fakeClaimer) Claim(ctx context.Context, workerID string) (*core.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.jobs) == 0 {
		return nil, nil
	}
	job := f.jobs[0]
	f.jobs = f.jobs[1:]
	return job, nil
}

func TestPoolDrainsQueuedJobs(t *testing.T) {
	claimer := &fakeClaimer{jobs: []*core.Job{{ID: "j1"}, {ID: "j2"}, {ID: "j3"}}}
	var processed atomic.Int32
	pool := New(claimer, func(ctx context.Context, job *core.Job) error {
		processed.Add(1)
		return nil
	}, WithSize(2), WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	require.Eventually(t, func() bool { return processed.Load() == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	pool.Stop()
}

func TestPausePreventsNewClaims(t *testing.T) {
	claimer := &fakeClaimer{jobs: []*core.Job{{ID: "j1"}}}
	var processed atomic.Int32
	pool := New(claimer, func(ctx context.Context, job *core.Job) error {
		processed.Add(1)
		return nil
	}, WithSize(1), WithPollInterval(5*time.Millisecond))
	pool.Pause()

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, int32(0), processed.Load())

	pool.Resume()
	require.Eventually(t, func() bool { return processed.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	pool.Stop()
}
