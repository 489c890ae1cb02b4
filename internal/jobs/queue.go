// Package jobs is a delayed, retrying job queue on Redis. Every state change
// runs as a Lua script so that each job is claimed by exactly one worker.
package jobs

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

//go:embed lua/*.lua
var luaFS embed.FS

var (
	scriptEnqueue  = mustScript("enqueue.lua")
	scriptClaim    = mustScript("claim.lua")
	scriptComplete = mustScript("complete.lua")
	scriptFail     = mustScript("fail.lua")
	scriptRecover  = mustScript("recover.lua")
)

func mustScript(name string) *redis.Script {
	src, err := luaFS.ReadFile("lua/" + name)
	if err != nil {
		panic(fmt.Sprintf("jobs: reading %s: %v", name, err))
	}
	return redis.NewScript(string(src))
}

var ErrQueueClosed = errors.New("queue closed")

const (
	defaultKeepCompleted = 100
	defaultKeepDead      = 1000
	repeatIDPrefix       = "repeat:"
)

type Options struct {
	Delay       time.Duration
	MaxAttempts int
	// Backoff is the first retry delay; each later retry doubles it.
	Backoff time.Duration
	// ID makes the enqueue idempotent while a job with that id is pending.
	ID string
}

type Job struct {
	ID          string
	Name        string
	Payload     json.RawMessage
	Attempts    int
	MaxAttempts int
	Backoff     time.Duration
	Repeat      string
	ScheduledAt time.Time
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", j.Name, err)
	}
	return nil
}

type Counts struct {
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Dead      int64 `json:"dead"`
}

type Queue struct {
	rdb    redis.Cmdable
	name   string
	now    func() time.Time
	closed atomic.Bool
}

func NewQueue(rdb redis.Cmdable, name string) *Queue {
	return &Queue{rdb: rdb, name: name, now: time.Now}
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) key(part string) string { return "jobs:" + q.name + ":" + part }
func (q *Queue) jobPrefix() string      { return q.key("job:") }
func (q *Queue) jobKey(id string) string {
	return q.jobPrefix() + id
}

// Enqueue schedules a job. It returns the job id and whether a new job was
// created; an existing pending job with the same id is left untouched.
func (q *Queue) Enqueue(ctx context.Context, name string, payload any, opts Options) (string, bool, error) {
	if q.closed.Load() {
		return "", false, ErrQueueClosed
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", false, fmt.Errorf("marshaling %s payload: %w", name, err)
	}
	return q.enqueue(ctx, name, data, q.now().Add(opts.Delay), opts, "")
}

func (q *Queue) enqueue(ctx context.Context, name string, data []byte, at time.Time, opts Options, repeat string) (string, bool, error) {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}

	id := opts.ID
	if id == "" {
		seq, err := q.rdb.Incr(ctx, q.key("seq")).Result()
		if err != nil {
			return "", false, fmt.Errorf("allocating job id: %w", err)
		}
		id = strconv.FormatInt(seq, 10)
	}

	created, err := scriptEnqueue.Run(ctx, q.rdb,
		[]string{q.key("delayed"), q.jobKey(id)},
		id, at.UnixMilli(), name, string(data), opts.MaxAttempts, opts.Backoff.Milliseconds(), repeat,
	).Int()
	if err != nil {
		return "", false, fmt.Errorf("enqueueing %s: %w", name, err)
	}
	return id, created == 1, nil
}

// AddRepeatable registers a cron spec for name and schedules its next occurrence.
func (q *Queue) AddRepeatable(ctx context.Context, name, spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("parsing schedule %q: %w", spec, err)
	}
	if err := q.rdb.HSet(ctx, q.key("repeat"), name, spec).Err(); err != nil {
		return fmt.Errorf("registering %s: %w", name, err)
	}
	return q.scheduleNext(ctx, name, spec, q.now())
}

// ClearRepeatable removes every registered repeat spec and its pending occurrences.
func (q *Queue) ClearRepeatable(ctx context.Context) error {
	if err := q.rdb.Del(ctx, q.key("repeat")).Err(); err != nil {
		return fmt.Errorf("clearing repeat specs: %w", err)
	}

	ids, err := q.rdb.ZRange(ctx, q.key("delayed"), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("listing delayed jobs: %w", err)
	}
	for _, id := range ids {
		if !strings.HasPrefix(id, repeatIDPrefix) {
			continue
		}
		if err := q.rdb.ZRem(ctx, q.key("delayed"), id).Err(); err != nil {
			return fmt.Errorf("removing %s: %w", id, err)
		}
		if err := q.rdb.Del(ctx, q.jobKey(id)).Err(); err != nil {
			return fmt.Errorf("deleting %s: %w", id, err)
		}
	}
	return nil
}

// Repeatables returns the registered repeat specs by job name.
func (q *Queue) Repeatables(ctx context.Context) (map[string]string, error) {
	return q.rdb.HGetAll(ctx, q.key("repeat")).Result()
}

// scheduleNext enqueues the first occurrence of spec after from. The id is
// derived from the fire time so concurrent schedulers converge on one job.
func (q *Queue) scheduleNext(ctx context.Context, name, spec string, from time.Time) error {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("parsing schedule %q: %w", spec, err)
	}
	at := sched.Next(from)
	id := fmt.Sprintf("%s%s:%d", repeatIDPrefix, name, at.UnixMilli())
	if _, _, err := q.enqueue(ctx, name, []byte("{}"), at, Options{ID: id, MaxAttempts: 1}, spec); err != nil {
		return err
	}
	return nil
}

// rescheduleRepeat schedules the occurrence after job if its spec is still registered.
func (q *Queue) rescheduleRepeat(ctx context.Context, job *Job) error {
	spec, err := q.rdb.HGet(ctx, q.key("repeat"), job.Name).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading repeat spec for %s: %w", job.Name, err)
	}
	from := q.now()
	if job.ScheduledAt.After(from) {
		from = job.ScheduledAt
	}
	return q.scheduleNext(ctx, job.Name, spec, from)
}

// claim moves the earliest eligible job to the active set. It returns nil when
// nothing is due.
func (q *Queue) claim(ctx context.Context, lease time.Duration) (*Job, error) {
	res, err := scriptClaim.Run(ctx, q.rdb,
		[]string{q.key("delayed"), q.key("active")},
		q.now().UnixMilli(), lease.Milliseconds(), q.jobPrefix(),
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming job: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("claiming job: unexpected reply %v", res)
	}

	id, _ := res[0].(string)
	fields, _ := res[1].([]any)
	return parseJob(id, fields)
}

func parseJob(id string, fields []any) (*Job, error) {
	h := make(map[string]string, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		k, _ := fields[i].(string)
		v, _ := fields[i+1].(string)
		h[k] = v
	}

	job := &Job{ID: id, Name: h["name"], Payload: json.RawMessage(h["payload"]), Repeat: h["repeat"]}
	if len(h) == 0 {
		// hash removed while the id was still queued
		return job, nil
	}
	var err error
	if job.Attempts, err = strconv.Atoi(h["attempts"]); err != nil {
		return nil, fmt.Errorf("job %s: parsing attempts: %w", id, err)
	}
	if job.MaxAttempts, err = strconv.Atoi(h["max_attempts"]); err != nil {
		return nil, fmt.Errorf("job %s: parsing max_attempts: %w", id, err)
	}
	backoffMS, err := strconv.ParseInt(h["backoff_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("job %s: parsing backoff_ms: %w", id, err)
	}
	job.Backoff = time.Duration(backoffMS) * time.Millisecond
	if at, err := strconv.ParseFloat(h["scheduled_at"], 64); err == nil {
		job.ScheduledAt = time.UnixMilli(int64(at))
	}
	return job, nil
}

type record struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

func (q *Queue) complete(ctx context.Context, job *Job) error {
	rec, _ := json.Marshal(record{ID: job.ID, Name: job.Name, Attempts: job.Attempts + 1, At: q.now().UTC()})
	err := scriptComplete.Run(ctx, q.rdb,
		[]string{q.key("active"), q.key("completed"), q.jobKey(job.ID)},
		job.ID, string(rec), defaultKeepCompleted,
	).Err()
	if err != nil {
		return fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return nil
}

// fail records a failed attempt. It reports whether the job is now dead.
func (q *Queue) fail(ctx context.Context, job *Job, cause error) (bool, error) {
	rec, _ := json.Marshal(record{ID: job.ID, Name: job.Name, Attempts: job.Attempts + 1, Error: cause.Error(), At: q.now().UTC()})
	res, err := scriptFail.Run(ctx, q.rdb,
		[]string{q.key("active"), q.key("delayed"), q.key("dead"), q.jobKey(job.ID)},
		job.ID, q.now().UnixMilli(), cause.Error(), string(rec), defaultKeepDead,
	).Int()
	if err != nil {
		return false, fmt.Errorf("failing job %s: %w", job.ID, err)
	}
	return res == 1, nil
}

// recoverExpired re-delays active jobs whose lease has run out.
func (q *Queue) recoverExpired(ctx context.Context) (int, error) {
	n, err := scriptRecover.Run(ctx, q.rdb,
		[]string{q.key("active"), q.key("delayed")},
		q.now().UnixMilli(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("recovering expired jobs: %w", err)
	}
	return n, nil
}

func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	pipe := q.rdb.Pipeline()
	delayed := pipe.ZCard(ctx, q.key("delayed"))
	active := pipe.ZCard(ctx, q.key("active"))
	completed := pipe.LLen(ctx, q.key("completed"))
	dead := pipe.LLen(ctx, q.key("dead"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, fmt.Errorf("reading queue counts: %w", err)
	}
	return Counts{
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Dead:      dead.Val(),
	}, nil
}

// Close rejects further enqueues. The Redis client is owned by the caller.
func (q *Queue) Close() error {
	q.closed.Store(true)
	return nil
}
