package relationship

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("relationship not found")

type Repository interface {
	Get(ctx context.Context, userID, personaID uuid.UUID) (*Relationship, error)
	// AddIntimacy applies delta clamped to [0,100], recomputes the tier and
	// touches last_interaction in one statement.
	AddIntimacy(ctx context.Context, userID, personaID uuid.UUID, delta int) (*Relationship, error)
	// ListActive returns relationships whose last interaction is in [from, to).
	ListActive(ctx context.Context, from, to time.Time) ([]Active, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Overview, error)
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

const relationshipColumns = `id, user_id, persona_id, intimacy_level, status, last_interaction`

func (r *postgresRepository) Get(ctx context.Context, userID, personaID uuid.UUID) (*Relationship, error) {
	rel := &Relationship{}
	err := r.pool.QueryRow(ctx, `SELECT `+relationshipColumns+` FROM relationships WHERE user_id = $1 AND persona_id = $2`,
		userID, personaID).Scan(&rel.ID, &rel.UserID, &rel.PersonaID, &rel.IntimacyLevel, &rel.Status, &rel.LastInteraction)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying relationship: %w", err)
	}
	return rel, nil
}

func (r *postgresRepository) AddIntimacy(ctx context.Context, userID, personaID uuid.UUID, delta int) (*Relationship, error) {
	query := `
		WITH next AS (
			SELECT id, LEAST($4::int, GREATEST($5::int, intimacy_level + $3)) AS level
			FROM relationships
			WHERE user_id = $1 AND persona_id = $2
			FOR UPDATE
		)
		UPDATE relationships r
		SET intimacy_level = next.level,
		    status = CASE
		        WHEN next.level >= 70 THEN 'lover'
		        WHEN next.level >= 40 THEN 'close'
		        WHEN next.level >= 20 THEN 'friend'
		        ELSE 'stranger' END,
		    last_interaction = now()
		FROM next
		WHERE r.id = next.id
		RETURNING r.id, r.user_id, r.persona_id, r.intimacy_level, r.status, r.last_interaction`

	rel := &Relationship{}
	err := r.pool.QueryRow(ctx, query, userID, personaID, delta, MaxIntimacy, MinIntimacy).Scan(
		&rel.ID, &rel.UserID, &rel.PersonaID, &rel.IntimacyLevel, &rel.Status, &rel.LastInteraction)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("updating intimacy: %w", err)
	}
	return rel, nil
}

func (r *postgresRepository) ListActive(ctx context.Context, from, to time.Time) ([]Active, error) {
	query := `
		SELECT r.id, r.user_id, r.persona_id, r.intimacy_level, r.status, r.last_interaction,
		       u.name, u.timezone, p.name, p.type
		FROM relationships r
		JOIN users u ON u.id = r.user_id
		JOIN personas p ON p.id = r.persona_id
		WHERE r.last_interaction >= $1 AND r.last_interaction < $2
		ORDER BY r.last_interaction`

	rows, err := r.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("listing active relationships: %w", err)
	}
	defer rows.Close()

	var out []Active
	for rows.Next() {
		var a Active
		if err := rows.Scan(&a.ID, &a.UserID, &a.PersonaID, &a.IntimacyLevel, &a.Status, &a.LastInteraction,
			&a.UserName, &a.UserTimezone, &a.PersonaName, &a.PersonaType); err != nil {
			return nil, fmt.Errorf("scanning active relationship: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *postgresRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]Overview, error) {
	query := `
		SELECT r.id, r.user_id, r.persona_id, r.intimacy_level, r.status, r.last_interaction,
		       p.name, p.type, m.content, m.created_at
		FROM relationships r
		JOIN personas p ON p.id = r.persona_id
		LEFT JOIN LATERAL (
			SELECT content, created_at FROM messages
			WHERE user_id = r.user_id AND persona_id = r.persona_id AND deleted_at IS NULL
			ORDER BY created_at DESC
			LIMIT 1
		) m ON true
		WHERE r.user_id = $1
		ORDER BY r.last_interaction DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("listing user relationships: %w", err)
	}
	defer rows.Close()

	var out []Overview
	for rows.Next() {
		var o Overview
		if err := rows.Scan(&o.ID, &o.UserID, &o.PersonaID, &o.IntimacyLevel, &o.Status, &o.LastInteraction,
			&o.PersonaName, &o.PersonaType, &o.LastMessage, &o.LastMessageAt); err != nil {
			return nil, fmt.Errorf("scanning user relationship: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
