package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/aiox-platform/companion/internal/metrics"
)

// Handler runs one job. A returned error (or panic) counts as a failed attempt.
type Handler func(ctx context.Context, job *Job) error

type WorkerOptions struct {
	Concurrency  int
	PollInterval time.Duration
	// LeaseTimeout bounds one handler run; an active job older than this is
	// treated as abandoned and re-delayed.
	LeaseTimeout time.Duration
}

type Worker struct {
	queue    *Queue
	opts     WorkerOptions
	handlers map[string]Handler

	mu      sync.Mutex
	cancel  context.CancelFunc
	loops   sync.WaitGroup
	running bool
}

func NewWorker(q *Queue, opts WorkerOptions) *Worker {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.LeaseTimeout <= 0 {
		opts.LeaseTimeout = 5 * time.Minute
	}
	return &Worker{queue: q, opts: opts, handlers: make(map[string]Handler)}
}

// Handle registers h for jobs named name. Call before Start.
func (w *Worker) Handle(name string, h Handler) {
	w.handlers[name] = h
}

// Start launches Concurrency claim loops. Handlers do not inherit ctx
// cancellation; use Stop to drain.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true

	for i := 0; i < w.opts.Concurrency; i++ {
		w.loops.Add(1)
		go func() {
			defer w.loops.Done()
			w.loop(loopCtx)
		}()
	}
	slog.Info("job worker started", "queue", w.queue.Name(), "concurrency", w.opts.Concurrency)
}

// Stop stops claiming and waits for in-flight handlers, or for ctx to expire.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.cancel()
	w.running = false
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.loops.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("job worker stopped", "queue", w.queue.Name())
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stopping %s worker: %w", w.queue.Name(), ctx.Err())
	}
}

func (w *Worker) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := w.processNext(ctx)
		if err != nil && ctx.Err() == nil {
			slog.Error("job worker poll failed", "queue", w.queue.Name(), "error", err)
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.opts.PollInterval):
		}
	}
}

// processNext recovers expired leases, then claims and runs at most one job.
func (w *Worker) processNext(ctx context.Context) (bool, error) {
	if n, err := w.queue.recoverExpired(ctx); err != nil {
		return false, err
	} else if n > 0 {
		slog.Warn("re-delayed jobs with expired lease", "queue", w.queue.Name(), "count", n)
	}

	job, err := w.queue.claim(ctx, w.opts.LeaseTimeout)
	if err != nil || job == nil {
		return false, err
	}

	// The claimed job must finish even if the worker is stopping.
	w.run(context.WithoutCancel(ctx), job)
	return true, nil
}

// bookkeepingTimeout bounds the queue writes that follow a handler run.
const bookkeepingTimeout = 5 * time.Second

// run executes job under a lease-bounded context. The queue writes that
// record the outcome get their own context so a handler that used up its
// lease still has its attempt counted.
func (w *Worker) run(ctx context.Context, job *Job) {
	queue := w.queue.Name()
	log := slog.With("queue", queue, "job_id", job.ID, "job", job.Name, "attempt", job.Attempts+1)

	if job.Repeat != "" {
		rctx, cancel := context.WithTimeout(ctx, bookkeepingTimeout)
		if err := w.queue.rescheduleRepeat(rctx, job); err != nil {
			log.Error("scheduling next occurrence", "error", err)
		}
		cancel()
	}

	metrics.JobsInFlight.WithLabelValues(queue).Inc()
	start := time.Now()
	handlerCtx, cancelHandler := context.WithTimeout(ctx, w.opts.LeaseTimeout)
	err := w.invoke(handlerCtx, job)
	cancelHandler()
	metrics.JobDuration.WithLabelValues(queue, job.Name).Observe(time.Since(start).Seconds())
	metrics.JobsInFlight.WithLabelValues(queue).Dec()

	bctx, cancel := context.WithTimeout(ctx, bookkeepingTimeout)
	defer cancel()

	if err == nil {
		if cerr := w.queue.complete(bctx, job); cerr != nil {
			log.Error("marking job complete", "error", cerr)
			return
		}
		metrics.JobsProcessedTotal.WithLabelValues(queue, job.Name, "completed").Inc()
		log.Debug("job completed")
		return
	}

	dead, ferr := w.queue.fail(bctx, job, err)
	if ferr != nil {
		log.Error("recording job failure", "error", ferr, "cause", err)
		return
	}
	metrics.JobsProcessedTotal.WithLabelValues(queue, job.Name, "failed").Inc()
	if dead {
		metrics.JobsDeadTotal.WithLabelValues(queue, job.Name).Inc()
		log.Error("job exhausted retries", "error", err, "max_attempts", job.MaxAttempts)
		return
	}
	log.Warn("job failed, will retry", "error", err, "max_attempts", job.MaxAttempts)
}

func (w *Worker) invoke(ctx context.Context, job *Job) (err error) {
	h, ok := w.handlers[job.Name]
	if !ok {
		return fmt.Errorf("no handler registered for %q", job.Name)
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("job handler panicked", "job", job.Name, "panic", r, "stack", string(debug.Stack()))
			err = errors.New(fmt.Sprint("panic: ", r))
		}
	}()
	return h(ctx, job)
}
