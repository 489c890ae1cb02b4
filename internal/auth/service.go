package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/aiox-platform/companion/internal/users"
)

var (
	ErrUnknownWallet  = errors.New("no user for wallet address")
	ErrSessionRevoked = errors.New("session revoked")
)

// Identity is the authenticated caller of a request.
type Identity struct {
	UserID        uuid.UUID
	WalletAddress string
	// SessionID is set when the caller authenticated with a session token.
	SessionID string
}

// UserStore is the subset of users.Service used for authentication.
type UserStore interface {
	Upsert(ctx context.Context, p users.UpsertParams) (*users.User, error)
	GetByWallet(ctx context.Context, walletAddress string) (*users.User, error)
}

// Balances creates and reads token balances for new logins.
type Balances interface {
	EnsureExists(ctx context.Context, userID uuid.UUID) error
	Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
}

type Service struct {
	jwt         *JWTManager
	redisClient redis.Cmdable
	users       UserStore
	balances    Balances
}

func NewService(jwt *JWTManager, redisClient redis.Cmdable, users UserStore, balances Balances) *Service {
	return &Service{
		jwt:         jwt,
		redisClient: redisClient,
		users:       users,
		balances:    balances,
	}
}

type LoginResult struct {
	User         *users.User     `json:"user"`
	TokenBalance decimal.Decimal `json:"token_balance"`
	Session      *SessionToken   `json:"session"`
}

// WalletLogin registers or updates the wallet's user, guarantees a balance
// and opens a session.
func (s *Service) WalletLogin(ctx context.Context, req WalletLoginRequest) (*LoginResult, error) {
	address, err := NormalizeAddress(req.WalletAddress)
	if err != nil {
		return nil, err
	}

	user, err := s.users.Upsert(ctx, users.UpsertParams{
		WalletAddress: address,
		Name:          nonEmpty(req.Name),
		Timezone:      nonEmpty(req.Timezone),
	})
	if err != nil {
		return nil, fmt.Errorf("upserting wallet user: %w", err)
	}

	if err := s.balances.EnsureExists(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("ensuring balance: %w", err)
	}
	balance, err := s.balances.Balance(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("reading balance: %w", err)
	}

	session, err := s.openSession(ctx, user.ID.String(), address)
	if err != nil {
		return nil, err
	}

	return &LoginResult{User: user, TokenBalance: balance, Session: session}, nil
}

// AuthenticateToken validates a session token and checks it was not revoked.
func (s *Service) AuthenticateToken(ctx context.Context, token string) (*Identity, error) {
	claims, err := s.jwt.ValidateSessionToken(token)
	if err != nil {
		return nil, err
	}

	exists, err := s.redisClient.Exists(ctx, sessionKey(claims.UserID, claims.ID)).Result()
	if err != nil {
		return nil, fmt.Errorf("checking session: %w", err)
	}
	if exists == 0 {
		return nil, ErrSessionRevoked
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("parsing session user id: %w", err)
	}
	return &Identity{UserID: userID, WalletAddress: claims.Wallet, SessionID: claims.ID}, nil
}

// AuthenticateWallet resolves the user registered for a wallet address.
func (s *Service) AuthenticateWallet(ctx context.Context, walletAddress string) (*Identity, error) {
	address, err := NormalizeAddress(walletAddress)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetByWallet(ctx, address)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUnknownWallet
	}
	return &Identity{UserID: user.ID, WalletAddress: address}, nil
}

// Logout revokes the session behind id. Wallet-header callers have no session.
func (s *Service) Logout(ctx context.Context, id *Identity) error {
	if id.SessionID == "" {
		return nil
	}
	if err := s.redisClient.Del(ctx, sessionKey(id.UserID.String(), id.SessionID)).Err(); err != nil {
		return fmt.Errorf("revoking session: %w", err)
	}
	return nil
}

func (s *Service) openSession(ctx context.Context, userID, wallet string) (*SessionToken, error) {
	session, err := s.jwt.GenerateSessionToken(userID, wallet)
	if err != nil {
		return nil, err
	}
	err = s.redisClient.Set(ctx, sessionKey(userID, session.tokenID), "1", s.jwt.Expiry()).Err()
	if err != nil {
		return nil, fmt.Errorf("storing session: %w", err)
	}
	return session, nil
}

func sessionKey(userID, tokenID string) string {
	return fmt.Sprintf("session:%s:%s", userID, tokenID)
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
