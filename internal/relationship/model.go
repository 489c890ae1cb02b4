// Package relationship tracks intimacy between a user and a persona.
package relationship

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusStranger Status = "stranger"
	StatusFriend   Status = "friend"
	StatusClose    Status = "close"
	StatusLover    Status = "lover"
)

const (
	MinIntimacy = 0
	MaxIntimacy = 100
)

// StatusFor maps an intimacy level to its tier.
func StatusFor(level int) Status {
	switch {
	case level >= 70:
		return StatusLover
	case level >= 40:
		return StatusClose
	case level >= 20:
		return StatusFriend
	default:
		return StatusStranger
	}
}

// Clamp bounds an intimacy level to [MinIntimacy, MaxIntimacy].
func Clamp(level int) int {
	return max(MinIntimacy, min(MaxIntimacy, level))
}

type Relationship struct {
	ID              uuid.UUID `json:"id"`
	UserID          uuid.UUID `json:"user_id"`
	PersonaID       uuid.UUID `json:"persona_id"`
	IntimacyLevel   int       `json:"intimacy_level"`
	Status          Status    `json:"status"`
	LastInteraction time.Time `json:"last_interaction"`
}

// Active is a relationship joined with the user and persona fields the
// engagement routine needs.
type Active struct {
	Relationship
	UserName     *string
	UserTimezone string
	PersonaName  string
	PersonaType  string
}

// Overview is a relationship as shown on the user's profile.
type Overview struct {
	Relationship
	PersonaName   string     `json:"persona_name"`
	PersonaType   string     `json:"persona_type"`
	LastMessage   *string    `json:"last_message"`
	LastMessageAt *time.Time `json:"last_message_at"`
}
