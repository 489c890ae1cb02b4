package relationship

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Get returns the relationship, or a zero-intimacy stranger when none exists.
func (s *Service) Get(ctx context.Context, userID, personaID uuid.UUID) (*Relationship, error) {
	rel, err := s.repo.Get(ctx, userID, personaID)
	if err != nil {
		return nil, err
	}
	if rel == nil {
		return &Relationship{UserID: userID, PersonaID: personaID, Status: StatusStranger}, nil
	}
	return rel, nil
}

func (s *Service) UpdateIntimacy(ctx context.Context, userID, personaID uuid.UUID, delta int) (*Relationship, error) {
	return s.repo.AddIntimacy(ctx, userID, personaID, delta)
}

// ListActive returns relationships last touched within lookback of now but
// not within quiet of now.
func (s *Service) ListActive(ctx context.Context, now time.Time, lookback, quiet time.Duration) ([]Active, error) {
	return s.repo.ListActive(ctx, now.Add(-lookback), now.Add(-quiet))
}

// ListByUser returns every relationship of the user, most recent first.
func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID) ([]Overview, error) {
	return s.repo.ListByUser(ctx, userID)
}
