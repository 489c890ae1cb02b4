package personas

import (
	"context"

	"github.com/google/uuid"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context) ([]Persona, error) {
	return s.repo.List(ctx)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Persona, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}

// Select is idempotent: selecting the same persona twice keeps the existing relationship.
func (s *Service) Select(ctx context.Context, userID, personaID uuid.UUID) (*Persona, error) {
	p, err := s.Get(ctx, personaID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Select(ctx, userID, personaID); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) HasSelected(ctx context.Context, userID, personaID uuid.UUID) (bool, error) {
	return s.repo.HasSelected(ctx, userID, personaID)
}
