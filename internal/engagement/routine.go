// Package engagement sends proactive persona messages at routine times of
// the user's day.
package engagement

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/aiox-platform/companion/internal/jobs"
	"github.com/aiox-platform/companion/internal/llm"
	"github.com/aiox-platform/companion/internal/memory"
	"github.com/aiox-platform/companion/internal/metrics"
	inats "github.com/aiox-platform/companion/internal/nats"
	"github.com/aiox-platform/companion/internal/relationship"
)

type routine struct {
	name      string
	startHour int
	endHour   int
	context   string
}

var routines = []routine{
	{"morning", 7, 9, "It is morning (%s). Send a sweet good morning message. Ask how they slept or what their plan is."},
	{"lunch", 12, 14, "It is lunch time (%s). Remind them to eat or ask what they are having for lunch."},
	{"night", 21, 23, "It is night time (%s). Ask if they are tired or tell them to rest well."},
}

// routineAt returns the routine whose window contains the local hour.
func routineAt(local time.Time) (routine, bool) {
	h := local.Hour()
	for _, r := range routines {
		if h >= r.startHour && h < r.endHour {
			return r, true
		}
	}
	return routine{}, false
}

func markerKey(userID uuid.UUID, routine string, localDate string) string {
	return fmt.Sprintf("engagement:%s:%s:%s", userID, routine, localDate)
}

type RelationshipLister interface {
	ListActive(ctx context.Context, now time.Time, lookback, quiet time.Duration) ([]relationship.Active, error)
}

type MessageSaver interface {
	SaveMessage(ctx context.Context, userID, personaID uuid.UUID, role memory.Role, content string) (*memory.Message, error)
}

type Completer interface {
	Complete(ctx context.Context, messages []llm.Message) (string, error)
}

type Notifier interface {
	Publish(ctx context.Context, userID uuid.UUID, event string, payload any) error
}

type Config struct {
	DefaultTimezone string
	Lookback        time.Duration
	QuietPeriod     time.Duration
	MarkerTTL       time.Duration
}

type Stats struct {
	Scanned int
	Sent    int
	Skipped int
	Failed  int
}

// Routine scans recently active relationships and sends at most one message
// per user, routine and local day.
type Routine struct {
	rels     RelationshipLister
	messages MessageSaver
	llm      Completer
	notifier Notifier
	rdb      redis.Cmdable
	cfg      Config
	now      func() time.Time
	fallback *time.Location
}

func NewRoutine(rels RelationshipLister, messages MessageSaver, completer Completer, notifier Notifier, rdb redis.Cmdable, cfg Config) (*Routine, error) {
	loc, err := time.LoadLocation(cfg.DefaultTimezone)
	if err != nil {
		return nil, fmt.Errorf("loading default timezone %q: %w", cfg.DefaultTimezone, err)
	}
	return &Routine{
		rels:     rels,
		messages: messages,
		llm:      completer,
		notifier: notifier,
		rdb:      rdb,
		cfg:      cfg,
		now:      time.Now,
		fallback: loc,
	}, nil
}

// Handle is the check-routines job handler.
func (r *Routine) Handle(ctx context.Context, _ *jobs.Job) error {
	stats, err := r.Process(ctx, r.now())
	if err != nil {
		return err
	}
	slog.Info("engagement routines checked",
		"scanned", stats.Scanned, "sent", stats.Sent, "skipped", stats.Skipped, "failed", stats.Failed)
	return nil
}

// Process runs one scan. Per-relationship failures are logged and counted;
// only a failed scan query is returned.
func (r *Routine) Process(ctx context.Context, now time.Time) (Stats, error) {
	active, err := r.rels.ListActive(ctx, now, r.cfg.Lookback, r.cfg.QuietPeriod)
	if err != nil {
		return Stats{}, fmt.Errorf("listing active relationships: %w", err)
	}

	stats := Stats{Scanned: len(active)}
	for _, rel := range active {
		sent, rname, err := r.processOne(ctx, now, rel)
		switch {
		case err != nil:
			stats.Failed++
			metrics.EngagementMessagesTotal.WithLabelValues(rname, "failed").Inc()
			slog.Error("engagement message failed", "error", err, "user_id", rel.UserID, "persona_id", rel.PersonaID, "routine", rname)
		case sent:
			stats.Sent++
			metrics.EngagementMessagesTotal.WithLabelValues(rname, "sent").Inc()
		default:
			stats.Skipped++
			if rname != "" {
				metrics.EngagementMessagesTotal.WithLabelValues(rname, "skipped").Inc()
			}
		}
	}
	return stats, nil
}

func (r *Routine) location(name string) *time.Location {
	if name == "" {
		return r.fallback
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return r.fallback
	}
	return loc
}

func (r *Routine) processOne(ctx context.Context, now time.Time, rel relationship.Active) (bool, string, error) {
	local := now.In(r.location(rel.UserTimezone))
	rt, ok := routineAt(local)
	if !ok {
		return false, "", nil
	}

	key := markerKey(rel.UserID, rt.name, local.Format(time.DateOnly))
	claimed, err := r.rdb.SetNX(ctx, key, "1", r.cfg.MarkerTTL).Result()
	if err != nil {
		return false, rt.name, fmt.Errorf("claiming marker: %w", err)
	}
	if !claimed {
		return false, rt.name, nil
	}

	// Until the message is saved the marker is released on every exit, so a
	// later scan can retry.
	saved := false
	defer func() {
		if saved {
			return
		}
		if err := r.rdb.Del(context.WithoutCancel(ctx), key).Err(); err != nil {
			slog.Warn("releasing engagement marker", "error", err, "key", key)
		}
	}()

	content, err := r.llm.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: buildInstruction(rel, rt, local)},
		{Role: llm.RoleUser, Content: "(Automated trigger)"},
	})
	if err != nil {
		return false, rt.name, fmt.Errorf("generating message: %w", err)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return false, rt.name, nil
	}

	msg, err := r.messages.SaveMessage(ctx, rel.UserID, rel.PersonaID, memory.RoleAssistant, content)
	if err != nil {
		return false, rt.name, fmt.Errorf("saving message: %w", err)
	}
	saved = true

	if r.notifier != nil {
		err := r.notifier.Publish(ctx, rel.UserID, inats.EventMessageReceive, inats.MessageReceive{
			ID:        msg.ID,
			Content:   msg.Content,
			Sender:    "ai",
			PersonaID: rel.PersonaID,
			Timestamp: msg.CreatedAt,
		})
		if err != nil {
			slog.Warn("publishing engagement message", "error", err, "user_id", rel.UserID)
		}
	}

	slog.Info("engagement message sent", "user_id", rel.UserID, "persona_id", rel.PersonaID, "routine", rt.name)
	return true, rt.name, nil
}

func buildInstruction(rel relationship.Active, rt routine, local time.Time) string {
	userName := "User"
	if rel.UserName != nil && *rel.UserName != "" {
		userName = *rel.UserName
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a %s girlfriend.\n", rel.PersonaName, rel.PersonaType)
	fmt.Fprintf(&b, "User: %s.\n", userName)
	fmt.Fprintf(&b, "Relationship: %s (Intimacy: %d).\n", rel.Status, rel.IntimacyLevel)
	b.WriteString("Strictly follow your persona.\n")
	fmt.Fprintf(&b, rt.context+"\n", local.Format("15:04"))
	b.WriteString("Keep it short (1-2 sentences).")
	return b.String()
}
