package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func setupQueue(t *testing.T) (*Queue, *clock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	c := &clock{t: time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)}
	q := NewQueue(rdb, "test")
	q.now = c.Now
	return q, c, mr
}

func TestEnqueue_DelayedUntilEligible(t *testing.T) {
	q, c, _ := setupQueue(t)
	ctx := context.Background()

	id, created, err := q.Enqueue(ctx, "summarize", map[string]string{"user": "u1"}, Options{Delay: 5 * time.Second, MaxAttempts: 3})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, id)

	job, err := q.claim(ctx, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, job, "job must not be claimable before its delay")

	c.Advance(5 * time.Second)
	job, err = q.claim(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "summarize", job.Name)
	assert.Equal(t, 3, job.MaxAttempts)

	var payload map[string]string
	require.NoError(t, job.Decode(&payload))
	assert.Equal(t, "u1", payload["user"])
}

func TestEnqueue_SameIDIsIdempotent(t *testing.T) {
	q, _, _ := setupQueue(t)
	ctx := context.Background()

	_, created, err := q.Enqueue(ctx, "x", nil, Options{ID: "fixed"})
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = q.Enqueue(ctx, "x", nil, Options{ID: "fixed"})
	require.NoError(t, err)
	assert.False(t, created)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Delayed)
}

func TestClaim_ExactlyOnce(t *testing.T) {
	q, _, _ := setupQueue(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, _, err := q.Enqueue(ctx, "x", i, Options{})
		require.NoError(t, err)
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for g := 0; g < 5; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := q.claim(ctx, time.Minute)
				if err != nil || job == nil {
					return
				}
				mu.Lock()
				seen[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 10)
	for id, n := range seen {
		assert.Equal(t, 1, n, "job %s claimed more than once", id)
	}
}

func TestFail_ExponentialBackoffThenDead(t *testing.T) {
	q, c, _ := setupQueue(t)
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, "x", nil, Options{MaxAttempts: 3, Backoff: 10 * time.Second})
	require.NoError(t, err)

	boom := errors.New("boom")

	job, err := q.claim(ctx, time.Minute)
	require.NoError(t, err)
	dead, err := q.fail(ctx, job, boom)
	require.NoError(t, err)
	assert.False(t, dead)

	// first retry after 10s
	c.Advance(9 * time.Second)
	job, _ = q.claim(ctx, time.Minute)
	assert.Nil(t, job)
	c.Advance(time.Second)
	job, err = q.claim(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 1, job.Attempts)

	dead, err = q.fail(ctx, job, boom)
	require.NoError(t, err)
	assert.False(t, dead)

	// second retry after 20s
	c.Advance(19 * time.Second)
	job, _ = q.claim(ctx, time.Minute)
	assert.Nil(t, job)
	c.Advance(time.Second)
	job, err = q.claim(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)

	dead, err = q.fail(ctx, job, boom)
	require.NoError(t, err)
	assert.True(t, dead)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Dead: 1}, counts)
}

func TestComplete_RemovesJob(t *testing.T) {
	q, _, mr := setupQueue(t)
	ctx := context.Background()

	id, _, err := q.Enqueue(ctx, "x", nil, Options{})
	require.NoError(t, err)
	job, err := q.claim(ctx, time.Minute)
	require.NoError(t, err)
	require.NoError(t, q.complete(ctx, job))

	assert.False(t, mr.Exists(q.jobKey(id)))
	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Completed: 1}, counts)
}

func TestRecoverExpired(t *testing.T) {
	q, c, _ := setupQueue(t)
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, "x", nil, Options{})
	require.NoError(t, err)
	job, err := q.claim(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)

	n, err := q.recoverExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	c.Advance(time.Minute)
	n, err = q.recoverExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	again, err := q.claim(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, job.ID, again.ID)
}

func TestRepeatable_ClearAndReregister(t *testing.T) {
	q, c, _ := setupQueue(t)
	ctx := context.Background()

	require.NoError(t, q.AddRepeatable(ctx, "check-routines", "0 * * * *"))
	// a second process registering the same schedule converges on one occurrence
	require.NoError(t, q.AddRepeatable(ctx, "check-routines", "0 * * * *"))

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Delayed)

	require.NoError(t, q.ClearRepeatable(ctx))
	counts, err = q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts.Delayed)
	specs, err := q.Repeatables(ctx)
	require.NoError(t, err)
	assert.Empty(t, specs)

	require.NoError(t, q.AddRepeatable(ctx, "check-routines", "0 * * * *"))
	c.Advance(30 * time.Minute)
	job, err := q.claim(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "check-routines", job.Name)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), job.ScheduledAt.UTC())
}

func TestAddRepeatable_InvalidSpec(t *testing.T) {
	q, _, _ := setupQueue(t)
	assert.Error(t, q.AddRepeatable(context.Background(), "x", "every hour"))
}

func TestEnqueue_AfterClose(t *testing.T) {
	q, _, _ := setupQueue(t)
	require.NoError(t, q.Close())
	_, _, err := q.Enqueue(context.Background(), "x", nil, Options{})
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestEnqueue_RedisDown(t *testing.T) {
	q, _, mr := setupQueue(t)
	mr.Close()
	_, _, err := q.Enqueue(context.Background(), "x", nil, Options{})
	assert.Error(t, err)
}
