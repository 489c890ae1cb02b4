// Package summary condenses conversations into a rolling summary memory.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aiox-platform/companion/internal/jobs"
	"github.com/aiox-platform/companion/internal/llm"
	"github.com/aiox-platform/companion/internal/memory"
)

const (
	QueueName = "summary-jobs"
	JobName   = "summarize"
)

type Payload struct {
	UserID    uuid.UUID `json:"userId"`
	PersonaID uuid.UUID `json:"personaId"`
}

type Config struct {
	Delay       time.Duration
	MaxAttempts int
	Backoff     time.Duration
	Window      int
	MinMessages int
}

type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any, opts jobs.Options) (string, bool, error)
}

// Scheduler enqueues debounced summary jobs after chat turns.
type Scheduler struct {
	queue Enqueuer
	cfg   Config
}

func NewScheduler(queue Enqueuer, cfg Config) *Scheduler {
	return &Scheduler{queue: queue, cfg: cfg}
}

// Schedule enqueues a summary run for the conversation after the debounce
// delay. Duplicate runs are cheap since the handler re-reads the messages.
func (s *Scheduler) Schedule(ctx context.Context, userID, personaID uuid.UUID) error {
	_, _, err := s.queue.Enqueue(ctx, JobName, Payload{UserID: userID, PersonaID: personaID}, jobs.Options{
		Delay:       s.cfg.Delay,
		MaxAttempts: s.cfg.MaxAttempts,
		Backoff:     s.cfg.Backoff,
	})
	if err != nil {
		return fmt.Errorf("scheduling summary: %w", err)
	}
	return nil
}

type MessageStore interface {
	RecentMessages(ctx context.Context, userID, personaID uuid.UUID, limit int) ([]memory.Message, error)
	Upsert(ctx context.Context, userID, personaID uuid.UUID, typ memory.Type, content any) error
}

type Summarizer interface {
	Summarize(ctx context.Context, transcript []llm.Message) (string, error)
}

// Handler is the summarize job handler.
type Handler struct {
	store      MessageStore
	summarizer Summarizer
	cfg        Config
	now        func() time.Time
}

func NewHandler(store MessageStore, summarizer Summarizer, cfg Config) *Handler {
	return &Handler{store: store, summarizer: summarizer, cfg: cfg, now: time.Now}
}

// Handle summarizes the latest Window messages. Conversations shorter than
// MinMessages are skipped without error; other failures are returned so the
// queue retries.
func (h *Handler) Handle(ctx context.Context, job *jobs.Job) error {
	var p Payload
	if err := job.Decode(&p); err != nil {
		return err
	}
	log := slog.With("user_id", p.UserID, "persona_id", p.PersonaID, "job_id", job.ID)

	msgs, err := h.store.RecentMessages(ctx, p.UserID, p.PersonaID, h.cfg.Window)
	if err != nil {
		return fmt.Errorf("loading messages: %w", err)
	}
	if len(msgs) < h.cfg.MinMessages {
		log.Debug("not enough messages to summarize", "count", len(msgs))
		return nil
	}

	transcript := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		role := llm.RoleAssistant
		if m.Role == memory.RoleUser {
			role = llm.RoleUser
		}
		transcript = append(transcript, llm.Message{Role: role, Content: m.Content})
	}

	text, err := h.summarizer.Summarize(ctx, transcript)
	if err != nil {
		return fmt.Errorf("summarizing: %w", err)
	}

	err = h.store.Upsert(ctx, p.UserID, p.PersonaID, memory.TypeSummary, memory.Summary{
		Summary:      text,
		MessageCount: len(msgs),
		UpdatedAt:    h.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("saving summary: %w", err)
	}
	log.Info("conversation summary updated", "messages", len(msgs))
	return nil
}
