package personas

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("persona not found")

type Persona struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	Description  string    `json:"description"`
	SystemPrompt string    `json:"-"`
	Age          *int      `json:"age,omitempty"`
	Birthday     *string   `json:"birthday,omitempty"`
	Hobbies      []string  `json:"hobbies"`
	Likes        []string  `json:"likes"`
	Dislikes     []string  `json:"dislikes"`
	Background   *string   `json:"background,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type SelectPersonaRequest struct {
	PersonaID string `json:"persona_id" validate:"required,uuid"`
}
