// Package chat runs a metered chat turn: throttle, reserve credit, generate,
// then commit or refund.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aiox-platform/companion/internal/llm"
	"github.com/aiox-platform/companion/internal/memory"
	"github.com/aiox-platform/companion/internal/metrics"
	"github.com/aiox-platform/companion/internal/personas"
	"github.com/aiox-platform/companion/internal/ratelimit"
	"github.com/aiox-platform/companion/internal/relationship"
	"github.com/aiox-platform/companion/internal/users"
)

type RateLimiter interface {
	Check(ctx context.Context, key string) (ratelimit.Result, error)
}

type PersonaStore interface {
	HasSelected(ctx context.Context, userID, personaID uuid.UUID) (bool, error)
	Get(ctx context.Context, id uuid.UUID) (*personas.Persona, error)
}

type Ledger interface {
	Reserve(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (bool, error)
	Commit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error
	Rollback(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error
	Void(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error
	TrackUsage(ctx context.Context, userID uuid.UUID, tokens decimal.Decimal) error
}

type Conversations interface {
	SaveMessage(ctx context.Context, userID, personaID uuid.UUID, role memory.Role, content string) (*memory.Message, error)
	RecentMessages(ctx context.Context, userID, personaID uuid.UUID, limit int) ([]memory.Message, error)
	Memories(ctx context.Context, userID, personaID uuid.UUID) (*memory.Memories, error)
	UpdateProfile(ctx context.Context, userID, personaID uuid.UUID, message string) (memory.Profile, error)
}

type Relationships interface {
	Get(ctx context.Context, userID, personaID uuid.UUID) (*relationship.Relationship, error)
	UpdateIntimacy(ctx context.Context, userID, personaID uuid.UUID, delta int) (*relationship.Relationship, error)
}

type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*users.User, error)
}

type Completer interface {
	Complete(ctx context.Context, messages []llm.Message) (string, error)
}

type SummaryScheduler interface {
	Schedule(ctx context.Context, userID, personaID uuid.UUID) error
}

type Request struct {
	UserID    uuid.UUID
	PersonaID uuid.UUID
	Message   string
}

type MessageView struct {
	ID        uuid.UUID `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type RelationshipView struct {
	IntimacyLevel int                 `json:"intimacy_level"`
	Status        relationship.Status `json:"status"`
}

type RateLimitView struct {
	Remaining int `json:"remaining"`
}

type Result struct {
	UserMessage  MessageView      `json:"user_message"`
	AIMessage    MessageView      `json:"ai_message"`
	Relationship RelationshipView `json:"relationship"`
	RateLimit    RateLimitView    `json:"rate_limit"`
}

type Config struct {
	Cost            decimal.Decimal
	ContextMessages int
}

// Deps groups the collaborators of an Orchestrator.
type Deps struct {
	Limiter       RateLimiter
	Personas      PersonaStore
	Ledger        Ledger
	Conversations Conversations
	Relationships Relationships
	Users         UserStore
	LLM           Completer
	Summaries     SummaryScheduler
	Background    *Dispatcher
}

type Orchestrator struct {
	Deps
	cfg Config
}

func NewOrchestrator(deps Deps, cfg Config) *Orchestrator {
	if cfg.ContextMessages <= 0 {
		cfg.ContextMessages = 15
	}
	return &Orchestrator{Deps: deps, cfg: cfg}
}

// Turn runs one chat turn and reports progress and outcome to sink. Once
// credit is reserved, every failure gives it back exactly once.
func (o *Orchestrator) Turn(ctx context.Context, req Request, sink Sink) (*Result, error) {
	res, err := o.turn(ctx, req, sink)
	metrics.ChatTurnsTotal.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		sink.Error(err)
		return nil, err
	}
	sink.Result(res)
	return res, nil
}

func (o *Orchestrator) turn(ctx context.Context, req Request, sink Sink) (_ *Result, err error) {
	sink.Status(StatusSent)

	rl, err := o.Limiter.Check(ctx, req.UserID.String())
	if err != nil {
		return nil, fmt.Errorf("checking rate limit: %w", err)
	}
	if !rl.Allowed {
		metrics.RateLimitDeniedTotal.WithLabelValues("chat").Inc()
		return nil, &RateLimitedError{ResetIn: rl.ResetIn}
	}

	selected, err := o.Personas.HasSelected(ctx, req.UserID, req.PersonaID)
	if err != nil {
		return nil, fmt.Errorf("checking persona selection: %w", err)
	}
	if !selected {
		return nil, ErrPersonaNotSelected
	}

	reserved, err := o.Ledger.Reserve(ctx, req.UserID, o.cfg.Cost)
	if err != nil {
		return nil, fmt.Errorf("reserving credit: %w", err)
	}
	if !reserved {
		return nil, ErrInsufficientFunds
	}

	// settled is set once every write of the turn has landed. debited marks
	// that the chat transaction was appended and must be voided on refund.
	settled, debited := false, false
	defer func() {
		if settled {
			return
		}
		// The request context may already be gone; the refund must still land.
		bg := context.WithoutCancel(ctx)
		if rbErr := o.Ledger.Rollback(bg, req.UserID, o.cfg.Cost); rbErr != nil {
			slog.Error("chat: rolling back reservation", "error", rbErr, "user_id", req.UserID, "amount", o.cfg.Cost)
		}
		if debited {
			if vErr := o.Ledger.Void(bg, req.UserID, o.cfg.Cost); vErr != nil {
				slog.Error("chat: voiding chat debit", "error", vErr, "user_id", req.UserID, "amount", o.cfg.Cost)
			}
		}
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrGenerationFailed, err)
		}
	}()

	userMsg, err := o.Conversations.SaveMessage(ctx, req.UserID, req.PersonaID, memory.RoleUser, req.Message)
	if err != nil {
		return nil, fmt.Errorf("saving user message: %w", err)
	}
	sink.Status(StatusRead)

	pctx, err := o.loadContext(ctx, req, userMsg.ID)
	if err != nil {
		return nil, err
	}
	sink.Status(StatusTyping)

	reply, err := o.LLM.Complete(ctx, BuildPrompt(pctx, req.Message))
	if err != nil {
		return nil, err
	}

	aiMsg, err := o.Conversations.SaveMessage(ctx, req.UserID, req.PersonaID, memory.RoleAssistant, reply)
	if err != nil {
		return nil, fmt.Errorf("saving reply: %w", err)
	}
	if err := o.Ledger.Commit(ctx, req.UserID, o.cfg.Cost); err != nil {
		return nil, fmt.Errorf("committing credit: %w", err)
	}
	debited = true

	rel, err := o.Relationships.UpdateIntimacy(ctx, req.UserID, req.PersonaID, 1)
	if err != nil {
		return nil, fmt.Errorf("updating intimacy: %w", err)
	}
	if err := o.Ledger.TrackUsage(ctx, req.UserID, o.cfg.Cost); err != nil {
		return nil, fmt.Errorf("tracking usage: %w", err)
	}
	settled = true

	o.dispatchFollowUps(req)

	return &Result{
		UserMessage:  MessageView{ID: userMsg.ID, Content: userMsg.Content, CreatedAt: userMsg.CreatedAt},
		AIMessage:    MessageView{ID: aiMsg.ID, Content: aiMsg.Content, CreatedAt: aiMsg.CreatedAt},
		Relationship: RelationshipView{IntimacyLevel: rel.IntimacyLevel, Status: rel.Status},
		RateLimit:    RateLimitView{Remaining: rl.Remaining},
	}, nil
}

// loadContext gathers the prompt inputs. currentID is excluded from the
// recent messages because the current message is appended separately.
func (o *Orchestrator) loadContext(ctx context.Context, req Request, currentID uuid.UUID) (*Context, error) {
	persona, err := o.Personas.Get(ctx, req.PersonaID)
	if err != nil {
		return nil, fmt.Errorf("loading persona: %w", err)
	}
	rel, err := o.Relationships.Get(ctx, req.UserID, req.PersonaID)
	if err != nil {
		return nil, fmt.Errorf("loading relationship: %w", err)
	}
	mems, err := o.Conversations.Memories(ctx, req.UserID, req.PersonaID)
	if err != nil {
		return nil, fmt.Errorf("loading memories: %w", err)
	}
	recent, err := o.Conversations.RecentMessages(ctx, req.UserID, req.PersonaID, o.cfg.ContextMessages+1)
	if err != nil {
		return nil, fmt.Errorf("loading recent messages: %w", err)
	}

	userName := ""
	if o.Users != nil {
		u, err := o.Users.GetByID(ctx, req.UserID)
		if err != nil {
			return nil, fmt.Errorf("loading user: %w", err)
		}
		userName = u.DisplayName("")
	}

	filtered := recent[:0:0]
	for _, m := range recent {
		if m.ID != currentID {
			filtered = append(filtered, m)
		}
	}
	if len(filtered) > o.cfg.ContextMessages {
		filtered = filtered[len(filtered)-o.cfg.ContextMessages:]
	}

	return &Context{
		Persona:      persona,
		UserName:     userName,
		Relationship: rel,
		Memories:     mems,
		Recent:       filtered,
	}, nil
}

func (o *Orchestrator) dispatchFollowUps(req Request) {
	if o.Background == nil {
		return
	}
	o.Background.Go("profile-extract", func(ctx context.Context) error {
		_, err := o.Conversations.UpdateProfile(ctx, req.UserID, req.PersonaID, req.Message)
		return err
	})
	if o.Summaries != nil {
		o.Background.Go("summary-schedule", func(ctx context.Context) error {
			return o.Summaries.Schedule(ctx, req.UserID, req.PersonaID)
		})
	}
}

func outcome(err error) string {
	var rl *RateLimitedError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &rl):
		return "rate_limited"
	case errors.Is(err, ErrPersonaNotSelected):
		return "no_persona"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrGenerationFailed):
		return "refunded"
	default:
		return "error"
	}
}
