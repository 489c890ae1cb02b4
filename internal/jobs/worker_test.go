package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorker_ProcessesAndCompletes(t *testing.T) {
	q, _, _ := setupQueue(t)
	ctx := context.Background()

	var got atomic.Value
	w := NewWorker(q, WorkerOptions{Concurrency: 1})
	w.Handle("greet", func(ctx context.Context, job *Job) error {
		var p struct{ Name string }
		if err := job.Decode(&p); err != nil {
			return err
		}
		got.Store(p.Name)
		return nil
	})

	_, _, err := q.Enqueue(ctx, "greet", map[string]string{"Name": "luna"}, Options{})
	require.NoError(t, err)

	processed, err := w.processNext(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, "luna", got.Load())

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Completed: 1}, counts)
}

func TestWorker_PanicIsFailure(t *testing.T) {
	q, _, _ := setupQueue(t)
	ctx := context.Background()

	w := NewWorker(q, WorkerOptions{})
	w.Handle("explode", func(context.Context, *Job) error { panic("kaboom") })

	_, _, err := q.Enqueue(ctx, "explode", nil, Options{MaxAttempts: 1})
	require.NoError(t, err)

	processed, err := w.processNext(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Dead: 1}, counts)
}

func TestWorker_RetriesThenSucceeds(t *testing.T) {
	q, c, _ := setupQueue(t)
	ctx := context.Background()

	var calls atomic.Int32
	w := NewWorker(q, WorkerOptions{})
	w.Handle("flaky", func(context.Context, *Job) error {
		if calls.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	})

	_, _, err := q.Enqueue(ctx, "flaky", nil, Options{MaxAttempts: 3, Backoff: 10 * time.Second})
	require.NoError(t, err)

	_, err = w.processNext(ctx)
	require.NoError(t, err)
	c.Advance(10 * time.Second)
	_, err = w.processNext(ctx)
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Completed: 1}, counts)
}

func TestWorker_TimedOutHandlerCountsAttempt(t *testing.T) {
	q, _, _ := setupQueue(t)
	ctx := context.Background()

	w := NewWorker(q, WorkerOptions{LeaseTimeout: 50 * time.Millisecond})
	w.Handle("stuck", func(ctx context.Context, job *Job) error {
		<-ctx.Done()
		return ctx.Err()
	})

	_, _, err := q.Enqueue(ctx, "stuck", nil, Options{MaxAttempts: 1})
	require.NoError(t, err)

	processed, err := w.processNext(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Dead: 1}, counts)
}

func TestWorker_UnknownJobFails(t *testing.T) {
	q, _, _ := setupQueue(t)
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, "nobody-handles-this", nil, Options{})
	require.NoError(t, err)

	_, err = NewWorker(q, WorkerOptions{}).processNext(ctx)
	require.NoError(t, err)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Dead)
}

func TestWorker_RepeatableReschedules(t *testing.T) {
	q, c, _ := setupQueue(t)
	ctx := context.Background()

	var runs atomic.Int32
	w := NewWorker(q, WorkerOptions{})
	w.Handle("tick", func(context.Context, *Job) error {
		runs.Add(1)
		return nil
	})

	require.NoError(t, q.AddRepeatable(ctx, "tick", "0 * * * *"))

	c.Advance(30 * time.Minute) // 09:00
	processed, err := w.processNext(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	// next occurrence at 10:00 is pending
	processed, err = w.processNext(ctx)
	require.NoError(t, err)
	assert.False(t, processed)

	c.Advance(time.Hour)
	processed, err = w.processNext(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, int32(2), runs.Load())
}

func TestWorker_StopDrainsInFlight(t *testing.T) {
	q, _, _ := setupQueue(t)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool

	w := NewWorker(q, WorkerOptions{Concurrency: 2, PollInterval: 10 * time.Millisecond})
	w.Handle("slow", func(ctx context.Context, job *Job) error {
		close(started)
		<-release
		finished.Store(true)
		return nil
	})

	_, _, err := q.Enqueue(ctx, "slow", nil, Options{})
	require.NoError(t, err)
	w.Start(ctx)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not start")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- w.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned before the in-flight handler finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-stopped)
	assert.True(t, finished.Load())
}
