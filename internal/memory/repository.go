package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository stores conversation messages and per-conversation memories.
type Repository interface {
	InsertMessage(ctx context.Context, msg *Message) error
	// RecentMessages returns the newest limit messages, oldest first.
	RecentMessages(ctx context.Context, userID, personaID uuid.UUID, limit int) ([]Message, error)
	// ListMessages returns one page of messages, newest first.
	ListMessages(ctx context.Context, userID, personaID uuid.UUID, offset, limit int) ([]Message, error)
	CountMessages(ctx context.Context, userID, personaID uuid.UUID) (int64, error)

	GetMemory(ctx context.Context, userID, personaID uuid.UUID, typ Type) (*Memory, error)
	ListMemories(ctx context.Context, userID, personaID uuid.UUID) ([]Memory, error)
	// UpsertMemory replaces the content of the (user, persona, type) memory.
	UpsertMemory(ctx context.Context, mem *Memory) error
}

// PostgresRepository implements Repository on pgx.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new memory repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) InsertMessage(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO messages (user_id, persona_id, role, content)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	err := r.pool.QueryRow(ctx, query, msg.UserID, msg.PersonaID, msg.Role, msg.Content).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

func (r *PostgresRepository) RecentMessages(ctx context.Context, userID, personaID uuid.UUID, limit int) ([]Message, error) {
	msgs, err := r.ListMessages(ctx, userID, personaID, 0, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (r *PostgresRepository) ListMessages(ctx context.Context, userID, personaID uuid.UUID, offset, limit int) ([]Message, error) {
	query := `
		SELECT id, user_id, persona_id, role, content, created_at
		FROM messages
		WHERE user_id = $1 AND persona_id = $2 AND deleted_at IS NULL
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`

	rows, err := r.pool.Query(ctx, query, userID, personaID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.UserID, &m.PersonaID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (r *PostgresRepository) CountMessages(ctx context.Context, userID, personaID uuid.UUID) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE user_id = $1 AND persona_id = $2 AND deleted_at IS NULL`,
		userID, personaID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return count, nil
}

func (r *PostgresRepository) GetMemory(ctx context.Context, userID, personaID uuid.UUID, typ Type) (*Memory, error) {
	query := `
		SELECT user_id, persona_id, type, content_json, updated_at
		FROM memories
		WHERE user_id = $1 AND persona_id = $2 AND type = $3`

	m := &Memory{}
	err := r.pool.QueryRow(ctx, query, userID, personaID, typ).Scan(&m.UserID, &m.PersonaID, &m.Type, &m.Content, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying %s memory: %w", typ, err)
	}
	return m, nil
}

func (r *PostgresRepository) ListMemories(ctx context.Context, userID, personaID uuid.UUID) ([]Memory, error) {
	query := `
		SELECT user_id, persona_id, type, content_json, updated_at
		FROM memories
		WHERE user_id = $1 AND persona_id = $2
		ORDER BY type`

	rows, err := r.pool.Query(ctx, query, userID, personaID)
	if err != nil {
		return nil, fmt.Errorf("listing memories: %w", err)
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		var m Memory
		if err := rows.Scan(&m.UserID, &m.PersonaID, &m.Type, &m.Content, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning memory: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) UpsertMemory(ctx context.Context, mem *Memory) error {
	query := `
		INSERT INTO memories (user_id, persona_id, type, content_json)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, persona_id, type) DO UPDATE
		SET content_json = EXCLUDED.content_json, updated_at = now()
		RETURNING updated_at`

	err := r.pool.QueryRow(ctx, query, mem.UserID, mem.PersonaID, mem.Type, mem.Content).Scan(&mem.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting %s memory: %w", mem.Type, err)
	}
	return nil
}
