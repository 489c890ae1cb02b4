package chat

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/aiox-platform/companion/internal/api"
	"github.com/aiox-platform/companion/internal/auth"
)

var validate = validator.New()

type SendRequest struct {
	PersonaID string `json:"persona_id" validate:"required,uuid"`
	Message   string `json:"message" validate:"required,min=1,max=2000"`
}

type Handler struct {
	orch          *Orchestrator
	maxMessageLen int
}

// NewHandler caps messages at maxMessageLen runes; the hard ceiling is 2000.
func NewHandler(orch *Orchestrator, maxMessageLen int) *Handler {
	if maxMessageLen <= 0 || maxMessageLen > 2000 {
		maxMessageLen = 2000
	}
	return &Handler{orch: orch, maxMessageLen: maxMessageLen}
}

// Send handles POST /chat. With ?stream=true progress is streamed as NDJSON.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r.Context())
	if id == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid request body"))
		return
	}
	if err := validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}
	if utf8.RuneCountInString(req.Message) > h.maxMessageLen {
		api.HandleError(w, api.NewValidationError(fmt.Sprintf("message must be at most %d characters", h.maxMessageLen)))
		return
	}

	var sink Sink = NewJSONSink(w)
	if r.URL.Query().Get("stream") == "true" {
		sink = NewNDJSONSink(w)
	}

	_, err := h.orch.Turn(r.Context(), Request{
		UserID:    id.UserID,
		PersonaID: uuid.MustParse(req.PersonaID),
		Message:   req.Message,
	}, sink)
	if err != nil && AppError(err).Code >= http.StatusInternalServerError {
		slog.Error("chat turn failed", "error", err, "user_id", id.UserID, "persona_id", req.PersonaID)
	}
}
