package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	Upsert(ctx context.Context, p UpsertParams) (*User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByWallet(ctx context.Context, walletAddress string) (*User, error)
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

const userColumns = `id, wallet_address, name, timezone, created_at, updated_at`

func (r *postgresRepository) Upsert(ctx context.Context, p UpsertParams) (*User, error) {
	query := `
		INSERT INTO users (wallet_address, name, timezone)
		VALUES ($1, $2, COALESCE($3, '` + DefaultTimezone + `'))
		ON CONFLICT (wallet_address) DO UPDATE
		SET name = COALESCE(EXCLUDED.name, users.name),
		    timezone = COALESCE($3, users.timezone),
		    updated_at = now()
		RETURNING ` + userColumns

	user := &User{}
	err := r.pool.QueryRow(ctx, query, p.WalletAddress, p.Name, p.Timezone).Scan(
		&user.ID, &user.WalletAddress, &user.Name, &user.Timezone, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upserting user: %w", err)
	}
	return user, nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user := &User{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.WalletAddress, &user.Name, &user.Timezone, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying user by id: %w", err)
	}
	return user, nil
}

func (r *postgresRepository) GetByWallet(ctx context.Context, walletAddress string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE wallet_address = $1`

	user := &User{}
	err := r.pool.QueryRow(ctx, query, walletAddress).Scan(
		&user.ID, &user.WalletAddress, &user.Name, &user.Timezone, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying user by wallet: %w", err)
	}
	return user, nil
}
