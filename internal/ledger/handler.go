package ledger

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aiox-platform/companion/internal/api"
	"github.com/aiox-platform/companion/internal/auth"
	inats "github.com/aiox-platform/companion/internal/nats"
)

// Notifier pushes events to a user's channel.
type Notifier interface {
	Publish(ctx context.Context, userID uuid.UUID, event string, payload any) error
}

type Handler struct {
	svc      *Service
	notifier Notifier
}

func NewHandler(svc *Service, notifier Notifier) *Handler {
	return &Handler{svc: svc, notifier: notifier}
}

type BalanceResponse struct {
	Balance decimal.Decimal `json:"balance"`
}

type DailyRewardResponse struct {
	*DailyReward
	Balance decimal.Decimal `json:"balance"`
	Message string          `json:"message"`
}

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r.Context())
	if id == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	balance, err := h.svc.Balance(r.Context(), id.UserID)
	if err != nil {
		slog.Error("reading balance", "error", err, "user_id", id.UserID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, BalanceResponse{Balance: balance})
}

func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r.Context())
	if id == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	txs, err := h.svc.Transactions(r.Context(), id.UserID, limit)
	if err != nil {
		slog.Error("listing transactions", "error", err, "user_id", id.UserID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if txs == nil {
		txs = []Transaction{}
	}

	api.JSON(w, http.StatusOK, txs)
}

func (h *Handler) DailyReward(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r.Context())
	if id == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	reward, err := h.svc.ClaimDailyReward(r.Context(), id.UserID)
	if err != nil {
		slog.Error("claiming daily reward", "error", err, "user_id", id.UserID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	balance, err := h.svc.Balance(r.Context(), id.UserID)
	if err != nil {
		slog.Error("reading balance", "error", err, "user_id", id.UserID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	resp := DailyRewardResponse{DailyReward: reward, Balance: balance}
	if !reward.Claimed {
		resp.Message = "daily reward already claimed today"
		api.JSON(w, http.StatusOK, resp)
		return
	}

	resp.Message = "daily reward claimed: +" + reward.Reward.String() + " tokens"
	NotifyBalance(r.Context(), h.notifier, id.UserID, balance, "reward")
	api.JSON(w, http.StatusOK, resp)
}

// NotifyBalance publishes a balance:update event, logging delivery failures.
func NotifyBalance(ctx context.Context, n Notifier, userID uuid.UUID, balance decimal.Decimal, reason string) {
	if n == nil {
		return
	}
	payload := inats.BalanceUpdate{Balance: balance.String(), Reason: reason}
	if err := n.Publish(ctx, userID, inats.EventBalanceUpdate, payload); err != nil {
		slog.Warn("publishing balance update", "error", err, "user_id", userID)
	}
}
