package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Dispatcher runs post-turn work detached from the request. Each task gets
// its own context bounded by timeout; failures are logged only.
type Dispatcher struct {
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{timeout: timeout}
}

// Go runs fn in the background. It is a no-op after Close.
func (d *Dispatcher) Go(name string, fn func(ctx context.Context) error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		slog.Warn("background task dropped, dispatcher closed", "task", name)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("background task panicked", "task", name, "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			slog.Error("background task failed", "task", name, "error", err)
		}
	}()
}

// Close stops accepting tasks and waits for running ones or ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
