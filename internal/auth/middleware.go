package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aiox-platform/companion/internal/api"
)

type contextKey string

const IdentityKey contextKey = "identity"

// WalletHeader carries the caller's wallet address for clients without a session.
const WalletHeader = "X-Wallet-Address"

// Authenticator resolves request credentials to an Identity.
type Authenticator interface {
	AuthenticateToken(ctx context.Context, token string) (*Identity, error)
	AuthenticateWallet(ctx context.Context, walletAddress string) (*Identity, error)
}

// Middleware accepts either "Authorization: Bearer <session>" or the wallet header.
func Middleware(svc Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var (
				id  *Identity
				err error
			)

			if authHeader := r.Header.Get("Authorization"); authHeader != "" {
				parts := strings.SplitN(authHeader, " ", 2)
				if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
					api.HandleError(w, api.ErrUnauthorized)
					return
				}
				id, err = svc.AuthenticateToken(r.Context(), parts[1])
				if err != nil {
					api.HandleError(w, api.ErrInvalidToken)
					return
				}
			} else if wallet := r.Header.Get(WalletHeader); wallet != "" {
				id, err = svc.AuthenticateWallet(r.Context(), wallet)
				if err != nil {
					switch {
					case errors.Is(err, ErrUnknownWallet):
						api.HandleError(w, api.ErrUnknownWallet)
					case errors.Is(err, ErrInvalidAddress), errors.Is(err, ErrAddressChecksum):
						api.HandleError(w, api.NewBadRequestError(err.Error()))
					default:
						slog.Error("resolving wallet identity", "error", err)
						api.HandleError(w, api.ErrInternalServer)
					}
					return
				}
			} else {
				api.HandleError(w, api.ErrUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, id)
}

func GetIdentity(ctx context.Context) *Identity {
	id, _ := ctx.Value(IdentityKey).(*Identity)
	return id
}
