package deposit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aiox-platform/companion/internal/api"
	"github.com/aiox-platform/companion/internal/auth"
	"github.com/aiox-platform/companion/internal/ledger"
)

var validate = validator.New()

type BalanceReader interface {
	Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
}

type Handler struct {
	verifier *Verifier
	ledger   BalanceReader
	notifier ledger.Notifier
}

func NewHandler(verifier *Verifier, balances BalanceReader, notifier ledger.Notifier) *Handler {
	return &Handler{verifier: verifier, ledger: balances, notifier: notifier}
}

type DepositRequest struct {
	Amount decimal.Decimal `json:"amount"`
	TxHash string          `json:"txHash" validate:"required"`
}

type WithdrawRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type DepositResponse struct {
	TokensAdded decimal.Decimal `json:"tokensAdded"`
	Balance     decimal.Decimal `json:"balance"`
}

type WithdrawResponse struct {
	Amount  decimal.Decimal `json:"amount"`
	Balance decimal.Decimal `json:"balance"`
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r.Context())
	if id == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid request body"))
		return
	}
	if err := validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	tokens, err := h.verifier.Deposit(r.Context(), id.UserID, req.Amount, req.TxHash)
	if err != nil {
		switch {
		case IsVerificationError(err):
			api.HandleError(w, api.NewBadRequestError(err.Error()))
		case errors.Is(err, ErrTreasuryNotConfigured):
			api.HandleError(w, &api.AppError{Code: http.StatusServiceUnavailable, Message: err.Error()})
		default:
			slog.Error("processing deposit", "error", err, "user_id", id.UserID)
			api.HandleError(w, api.ErrInternalServer)
		}
		return
	}

	balance, err := h.ledger.Balance(r.Context(), id.UserID)
	if err != nil {
		slog.Error("reading balance", "error", err, "user_id", id.UserID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	ledger.NotifyBalance(r.Context(), h.notifier, id.UserID, balance, "purchase")

	api.JSON(w, http.StatusOK, DepositResponse{TokensAdded: tokens, Balance: balance})
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r.Context())
	if id == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid request body"))
		return
	}

	if err := h.verifier.Withdraw(r.Context(), id.UserID, req.Amount); err != nil {
		switch {
		case errors.Is(err, ErrInvalidAmount):
			api.HandleError(w, api.NewBadRequestError(err.Error()))
		case errors.Is(err, ledger.ErrInsufficientBalance):
			api.HandleError(w, api.NewBadRequestError("insufficient balance"))
		default:
			slog.Error("processing withdrawal", "error", err, "user_id", id.UserID)
			api.HandleError(w, api.ErrInternalServer)
		}
		return
	}

	balance, err := h.ledger.Balance(r.Context(), id.UserID)
	if err != nil {
		slog.Error("reading balance", "error", err, "user_id", id.UserID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	ledger.NotifyBalance(r.Context(), h.notifier, id.UserID, balance, "withdraw")

	api.JSON(w, http.StatusOK, WithdrawResponse{Amount: req.Amount, Balance: balance})
}
