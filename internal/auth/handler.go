package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/aiox-platform/companion/internal/api"
	"github.com/aiox-platform/companion/internal/users"
)

type Handler struct {
	authSvc  *Service
	validate *validator.Validate
}

func NewHandler(authSvc *Service) *Handler {
	return &Handler{
		authSvc:  authSvc,
		validate: validator.New(),
	}
}

// WalletLoginRequest registers or logs in a wallet. Signature and Message are
// accepted for client compatibility and not verified.
type WalletLoginRequest struct {
	WalletAddress string `json:"wallet_address" validate:"required"`
	Signature     string `json:"signature,omitempty"`
	Message       string `json:"message,omitempty"`
	Name          string `json:"name,omitempty" validate:"omitempty,max=64"`
	Timezone      string `json:"timezone,omitempty" validate:"omitempty,max=64"`
}

func (h *Handler) WalletLogin(w http.ResponseWriter, r *http.Request) {
	var req WalletLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	result, err := h.authSvc.WalletLogin(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidAddress) || errors.Is(err, ErrAddressChecksum) || errors.Is(err, users.ErrUnknownTimezone) {
			api.HandleError(w, api.NewBadRequestError(err.Error()))
			return
		}
		slog.Error("wallet login", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, result)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	id := GetIdentity(r.Context())
	if id == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	if err := h.authSvc.Logout(r.Context(), id); err != nil {
		slog.Error("logging out", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONMessage(w, http.StatusOK, "logged out successfully")
}
