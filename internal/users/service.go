package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrUnknownTimezone = errors.New("unknown timezone")

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Upsert creates or updates the user owning the wallet. The address must
// already be normalized to lower case. An unknown timezone is rejected.
func (s *Service) Upsert(ctx context.Context, p UpsertParams) (*User, error) {
	if p.WalletAddress != strings.ToLower(p.WalletAddress) {
		return nil, fmt.Errorf("wallet address must be lower case")
	}
	if p.Timezone != nil {
		if _, err := time.LoadLocation(*p.Timezone); err != nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTimezone, *p.Timezone)
		}
	}
	return s.repo.Upsert(ctx, p)
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByWallet(ctx context.Context, walletAddress string) (*User, error) {
	return s.repo.GetByWallet(ctx, strings.ToLower(walletAddress))
}
