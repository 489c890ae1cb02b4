package personas

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/aiox-platform/companion/internal/api"
	"github.com/aiox-platform/companion/internal/auth"
)

var validate = validator.New()

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type SelectPersonaResponse struct {
	Message string   `json:"message"`
	Persona *Persona `json:"persona"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List(r.Context())
	if err != nil {
		slog.Error("listing personas", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if list == nil {
		list = []Persona{}
	}
	api.JSON(w, http.StatusOK, list)
}

func (h *Handler) Select(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r.Context())
	if id == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req SelectPersonaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid request body"))
		return
	}
	if err := validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	persona, err := h.svc.Select(r.Context(), id.UserID, uuid.MustParse(req.PersonaID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			api.HandleError(w, api.NewNotFoundError("persona not found"))
			return
		}
		slog.Error("selecting persona", "error", err, "user_id", id.UserID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, SelectPersonaResponse{
		Message: "You are now connected with " + persona.Name + "!",
		Persona: persona,
	})
}
