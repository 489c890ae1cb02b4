package memory

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a row in the messages table.
type Message struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"-"`
	PersonaID uuid.UUID `json:"-"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type Type string

const (
	TypeProfile      Type = "profile"
	TypeRelationship Type = "relationship"
	TypeSummary      Type = "summary"
)

// Memory represents a row in the memories table. There is at most one
// memory per (user, persona, type).
type Memory struct {
	UserID    uuid.UUID       `json:"-"`
	PersonaID uuid.UUID       `json:"-"`
	Type      Type            `json:"type"`
	Content   json.RawMessage `json:"content"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Summary is the content of a TypeSummary memory.
type Summary struct {
	Summary      string    `json:"summary"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Profile is the content of TypeProfile and TypeRelationship memories.
type Profile map[string]string

// Memories groups the memories of one conversation by type.
type Memories struct {
	Profile      Profile
	Relationship Profile
	Summary      *Summary
}

type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"total_pages"`
}

type History struct {
	Messages   []Message  `json:"messages"`
	Pagination Pagination `json:"pagination"`
}
