package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/logging"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/retry"
)

func newTestRunner(t *testing.T) (*Runner, *MemoryQueue) {
	t.Helper()
	queue := NewMemoryQueue()
	return NewRunner(queue, 2, 10*time.Millisecond, logging.New("error", "text")), queue
}

func TestRunOnceCompletesDueJob(t *testing.T) {
	runner, queue := newTestRunner(t)
	ctx := context.Background()

	var got *Job
	runner.Register("test.noop", func(ctx context.Context, job *Job) error {
		got = job
		return nil
	})

	job := NewJob("test.noop", "target-1", time.Now().Add(-time.Second))
	require.NoError(t, runner.Enqueue(ctx, job))

	n := runner.RunOnce(ctx)
	require.Equal(t, 1, n)
	require.NotNil(t, got)
	assert.Equal(t, "target-1", got.TargetID)

	stored, err := queue.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
}

func TestFutureJobNotClaimed(t *testing.T) {
	runner, queue := newTestRunner(t)
	ctx := context.Background()

	runner.Register("test.noop", func(ctx context.Context, job *Job) error { return nil })

	job := NewJob("test.noop", "target-1", time.Now().Add(time.Hour))
	require.NoError(t, runner.Enqueue(ctx, job))

	assert.Equal(t, 0, runner.RunOnce(ctx))

	stored, err := queue.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
}

func TestRetryableErrorReschedules(t *testing.T) {
	runner, queue := newTestRunner(t)
	ctx := context.Background()

	runner.Register("test.flaky", func(ctx context.Context, job *Job) error {
		return errors.New("transient failure")
	})

	job := NewJob("test.flaky", "target-1", time.Now().Add(-time.Second))
	require.NoError(t, runner.Enqueue(ctx, job))

	before := time.Now()
	require.Equal(t, 1, runner.RunOnce(ctx))

	stored, err := queue.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.Equal(t, "transient failure", stored.LastError)
	assert.True(t, stored.RunAt.After(before), "reschedule must push run_at into the future")

	// Not due yet, so an immediate second pass claims nothing.
	assert.Equal(t, 0, runner.RunOnce(ctx))
}

func TestPermanentErrorFailsImmediately(t *testing.T) {
	runner, queue := newTestRunner(t)
	ctx := context.Background()

	calls := 0
	runner.Register("test.fatal", func(ctx context.Context, job *Job) error {
		calls++
		return retry.Permanent(errors.New("bad input"))
	})

	job := NewJob("test.fatal", "target-1", time.Now().Add(-time.Second)).WithAttempts(5)
	require.NoError(t, runner.Enqueue(ctx, job))
	require.Equal(t, 1, runner.RunOnce(ctx))

	stored, err := queue.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Equal(t, 1, calls)
	assert.Contains(t, stored.LastError, "bad input")
}

func TestAttemptCeilingFailsJob(t *testing.T) {
	runner, queue := newTestRunner(t)
	ctx := context.Background()

	calls := 0
	runner.Register("test.flaky", func(ctx context.Context, job *Job) error {
		calls++
		return errors.New("still failing")
	})

	job := NewJob("test.flaky", "target-1", time.Now().Add(-time.Second)).
		WithAttempts(3).
		WithBackoff(time.Nanosecond)
	require.NoError(t, runner.Enqueue(ctx, job))

	deadline := time.Now().Add(2 * time.Second)
	for {
		runner.RunOnce(ctx)
		stored, err := queue.Get(ctx, job.ID)
		require.NoError(t, err)
		if stored.Status == StatusFailed {
			assert.Equal(t, 3, stored.Attempts)
			assert.Equal(t, 3, calls)
			assert.Contains(t, stored.LastError, "attempt ceiling")
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never reached failed state, status=%s attempts=%d", stored.Status, stored.Attempts)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestUnknownJobTypeFails(t *testing.T) {
	runner, queue := newTestRunner(t)
	ctx := context.Background()

	job := NewJob("test.unregistered", "target-1", time.Now().Add(-time.Second))
	require.NoError(t, runner.Enqueue(ctx, job))
	require.Equal(t, 1, runner.RunOnce(ctx))

	stored, err := queue.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)
}

func TestHandlerPanicFailsJob(t *testing.T) {
	runner, queue := newTestRunner(t)
	ctx := context.Background()

	runner.Register("test.panic", func(ctx context.Context, job *Job) error {
		panic("boom")
	})

	job := NewJob("test.panic", "target-1", time.Now().Add(-time.Second))
	require.NoError(t, runner.Enqueue(ctx, job))
	require.Equal(t, 1, runner.RunOnce(ctx))

	stored, err := queue.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Contains(t, stored.LastError, "boom")
}

// A stop signal sent while the loop is not parked in its select (or before
// Start at all) must still terminate the runner.
func TestStopSignalIsNeverLost(t *testing.T) {
	runner, _ := newTestRunner(t)
	runner.Stop()

	done := make(chan struct{})
	go func() {
		runner.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("runner kept running after Stop")
	}
	assert.False(t, runner.Running())
}

func TestPendingByTarget(t *testing.T) {
	runner, queue := newTestRunner(t)
	ctx := context.Background()

	runner.Register("test.noop", func(ctx context.Context, job *Job) error { return nil })

	later := NewJob("test.noop", "ord_1", time.Now().Add(2*time.Hour))
	sooner := NewJob("test.noop", "ord_1", time.Now().Add(time.Hour))
	other := NewJob("test.noop", "ord_2", time.Now().Add(time.Hour))
	done := NewJob("test.noop", "ord_1", time.Now().Add(-time.Second))
	for _, j := range []*Job{later, sooner, other, done} {
		require.NoError(t, runner.Enqueue(ctx, j))
	}
	require.Equal(t, 1, runner.RunOnce(ctx))

	pending := queue.PendingByTarget("ord_1")
	require.Len(t, pending, 2)
	assert.Equal(t, sooner.ID, pending[0].ID)
	assert.Equal(t, later.ID, pending[1].ID)
}

func TestStartProcessesJobsInBackground(t *testing.T) {
	runner, queue := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan string, 1)
	runner.Register("test.bg", func(ctx context.Context, job *Job) error {
		done <- job.ID
		return nil
	})

	job := NewJob("test.bg", "target-1", time.Now())
	require.NoError(t, runner.Enqueue(ctx, job))

	go runner.Start(ctx)

	select {
	case id := <-done:
		assert.Equal(t, job.ID, id)
	case <-time.After(3 * time.Second):
		t.Fatal("job was never processed")
	}

	deadline := time.Now().Add(time.Second)
	for {
		stored, err := queue.Get(ctx, job.ID)
		require.NoError(t, err)
		if stored.Status == StatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never marked completed, status=%s", stored.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
}
