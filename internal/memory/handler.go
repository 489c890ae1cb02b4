package memory

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/aiox-platform/companion/internal/api"
	"github.com/aiox-platform/companion/internal/auth"
)

// Handler serves conversation history and memories.
type Handler struct {
	svc *Service
}

// NewHandler creates a new memory handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func personaParam(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.URL.Query().Get("persona_id"))
	return id, err == nil
}

// History returns paginated messages for a persona in chronological order.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r.Context())
	if id == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	personaID, ok := personaParam(r)
	if !ok {
		api.HandleError(w, api.NewValidationError("persona_id must be a valid UUID"))
		return
	}

	page := 1
	limit := 50
	if p := r.URL.Query().Get("page"); p != "" {
		v, err := strconv.Atoi(p)
		if err != nil || v < 1 {
			api.HandleError(w, api.NewValidationError("page must be a positive integer"))
			return
		}
		page = v
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		v, err := strconv.Atoi(l)
		if err != nil || v < 1 || v > 100 {
			api.HandleError(w, api.NewValidationError("limit must be between 1 and 100"))
			return
		}
		limit = v
	}

	history, err := h.svc.History(r.Context(), id.UserID, personaID, page, limit)
	if err != nil {
		slog.Error("listing chat history", "error", err, "user_id", id.UserID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSON(w, http.StatusOK, history)
}

// List returns the stored memories for a persona.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r.Context())
	if id == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	personaID, ok := personaParam(r)
	if !ok {
		api.HandleError(w, api.NewValidationError("persona_id must be a valid UUID"))
		return
	}

	memories, err := h.svc.List(r.Context(), id.UserID, personaID)
	if err != nil {
		slog.Error("listing memories", "error", err, "user_id", id.UserID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if memories == nil {
		memories = []Memory{}
	}
	api.JSON(w, http.StatusOK, memories)
}
