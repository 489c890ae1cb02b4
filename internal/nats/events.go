package nats

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stream names.
const (
	StreamUserEvents = "COMPANION_USER_EVENTS"
)

// SubjectUserPrefix is the root of per-user channels:
// companion.users.{user_id}.{event}.
const SubjectUserPrefix = "companion.users"

// Event names delivered on a user's channel.
const (
	EventMessageReceive = "message:receive"
	EventBalanceUpdate  = "balance:update"
)

// UserSubject returns the subject of event on the user's channel.
func UserSubject(userID uuid.UUID, event string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectUserPrefix, userID, event)
}

// MessageReceive is pushed when the companion sends a message the user did not request.
type MessageReceive struct {
	ID        uuid.UUID `json:"id"`
	Content   string    `json:"content"`
	Sender    string    `json:"sender"`
	PersonaID uuid.UUID `json:"persona_id"`
	Timestamp time.Time `json:"timestamp"`
}

// BalanceUpdate is pushed after the user's token balance changes.
type BalanceUpdate struct {
	Balance string `json:"balance"`
	Reason  string `json:"reason"`
}
