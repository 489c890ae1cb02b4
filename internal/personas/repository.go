package personas

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	List(ctx context.Context) ([]Persona, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Persona, error)
	// Select links the user to the persona and creates the relationship row.
	// Both inserts are no-ops when the rows already exist.
	Select(ctx context.Context, userID, personaID uuid.UUID) error
	HasSelected(ctx context.Context, userID, personaID uuid.UUID) (bool, error)
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

const personaColumns = `id, name, type, description, system_prompt, age, birthday, hobbies, likes, dislikes, background, created_at`

func scanPersona(row pgx.Row) (*Persona, error) {
	p := &Persona{}
	err := row.Scan(&p.ID, &p.Name, &p.Type, &p.Description, &p.SystemPrompt, &p.Age, &p.Birthday,
		&p.Hobbies, &p.Likes, &p.Dislikes, &p.Background, &p.CreatedAt)
	return p, err
}

func (r *postgresRepository) List(ctx context.Context) ([]Persona, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+personaColumns+` FROM personas ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing personas: %w", err)
	}
	defer rows.Close()

	var out []Persona
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning persona: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Persona, error) {
	p, err := scanPersona(r.pool.QueryRow(ctx, `SELECT `+personaColumns+` FROM personas WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying persona: %w", err)
	}
	return p, nil
}

func (r *postgresRepository) Select(ctx context.Context, userID, personaID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning select tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO user_personas (user_id, persona_id) VALUES ($1, $2)
		ON CONFLICT (user_id, persona_id) DO NOTHING`, userID, personaID); err != nil {
		return fmt.Errorf("linking persona: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO relationships (user_id, persona_id) VALUES ($1, $2)
		ON CONFLICT (user_id, persona_id) DO NOTHING`, userID, personaID); err != nil {
		return fmt.Errorf("creating relationship: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *postgresRepository) HasSelected(ctx context.Context, userID, personaID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM user_personas WHERE user_id = $1 AND persona_id = $2)`,
		userID, personaID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking persona selection: %w", err)
	}
	return exists, nil
}
