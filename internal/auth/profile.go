package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aiox-platform/companion/internal/api"
	"github.com/aiox-platform/companion/internal/relationship"
	"github.com/aiox-platform/companion/internal/users"
)

type UserReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*users.User, error)
}

type RelationshipLister interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]relationship.Overview, error)
}

// ProfileHandler serves the authenticated user's profile.
type ProfileHandler struct {
	users         UserReader
	balances      Balances
	relationships RelationshipLister
}

func NewProfileHandler(users UserReader, balances Balances, relationships RelationshipLister) *ProfileHandler {
	return &ProfileHandler{users: users, balances: balances, relationships: relationships}
}

type ProfileResponse struct {
	*users.User
	TokenBalance  decimal.Decimal         `json:"token_balance"`
	Relationships []relationship.Overview `json:"relationships"`
}

// Profile handles GET /user/profile.
func (h *ProfileHandler) Profile(w http.ResponseWriter, r *http.Request) {
	id := GetIdentity(r.Context())
	if id == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	user, err := h.users.GetByID(r.Context(), id.UserID)
	if err != nil {
		slog.Error("loading user", "error", err, "user_id", id.UserID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if user == nil {
		api.HandleError(w, api.NewNotFoundError("user not found"))
		return
	}

	balance, err := h.balances.Balance(r.Context(), id.UserID)
	if err != nil {
		slog.Error("loading balance", "error", err, "user_id", id.UserID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	rels, err := h.relationships.ListByUser(r.Context(), id.UserID)
	if err != nil {
		slog.Error("listing relationships", "error", err, "user_id", id.UserID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if rels == nil {
		rels = []relationship.Overview{}
	}

	api.JSON(w, http.StatusOK, ProfileResponse{User: user, TokenBalance: balance, Relationships: rels})
}
