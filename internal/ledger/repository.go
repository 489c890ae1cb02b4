package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository persists balances, transactions and usage logs. Balance
// mutations are single conditional statements; no row is locked across calls.
type Repository interface {
	Reserve(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (bool, error)
	Increment(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error
	EnsureBalance(ctx context.Context, userID uuid.UUID, grant decimal.Decimal) error
	GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
	InsertTransaction(ctx context.Context, tx *Transaction) error
	ExistsByTxHash(ctx context.Context, txHash string) (bool, error)
	// Credit increments the balance and appends tx in one database transaction.
	// A duplicate tx_hash returns ErrDuplicateTxHash and changes nothing.
	Credit(ctx context.Context, tx *Transaction) error
	ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]Transaction, error)
	TrackUsage(ctx context.Context, userID uuid.UUID, day time.Time, tokens decimal.Decimal) error
	GetUsageLog(ctx context.Context, userID uuid.UUID, day time.Time) (*UsageLog, error)
	CountActiveDays(ctx context.Context, userID uuid.UUID, from, to time.Time) (int, error)
	// ClaimReward creates the usage row for day, credits tx and records it in
	// one database transaction. An existing row returns ErrAlreadyClaimed.
	ClaimReward(ctx context.Context, tx *Transaction, day time.Time) error
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

func (r *postgresRepository) Reserve(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (bool, error) {
	query := `
		UPDATE balances SET token_balance = token_balance - $2, updated_at = now()
		WHERE user_id = $1 AND token_balance >= $2`

	tag, err := r.pool.Exec(ctx, query, userID, amount)
	if err != nil {
		return false, fmt.Errorf("reserving balance: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *postgresRepository) Increment(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error {
	return incrementBalance(ctx, r.pool, userID, amount)
}

func (r *postgresRepository) EnsureBalance(ctx context.Context, userID uuid.UUID, grant decimal.Decimal) error {
	query := `INSERT INTO balances (user_id, token_balance) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING`

	if _, err := r.pool.Exec(ctx, query, userID, grant); err != nil {
		return fmt.Errorf("ensuring balance: %w", err)
	}
	return nil
}

func (r *postgresRepository) GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	query := `SELECT token_balance FROM balances WHERE user_id = $1`

	var balance decimal.Decimal
	err := r.pool.QueryRow(ctx, query, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("querying balance: %w", err)
	}
	return balance, nil
}

func (r *postgresRepository) InsertTransaction(ctx context.Context, tx *Transaction) error {
	return insertTransaction(ctx, r.pool, tx)
}

func (r *postgresRepository) ExistsByTxHash(ctx context.Context, txHash string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM transactions WHERE tx_hash = $1)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, txHash).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking tx hash: %w", err)
	}
	return exists, nil
}

func (r *postgresRepository) Credit(ctx context.Context, tx *Transaction) error {
	return pgx.BeginFunc(ctx, r.pool, func(dbtx pgx.Tx) error {
		if err := insertTransaction(ctx, dbtx, tx); err != nil {
			return err
		}
		return incrementBalance(ctx, dbtx, tx.UserID, tx.Amount)
	})
}

func (r *postgresRepository) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]Transaction, error) {
	query := `
		SELECT id, user_id, type, amount, tx_hash, created_at
		FROM transactions WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying transactions: %w", err)
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		var tx Transaction
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Type, &tx.Amount, &tx.TxHash, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func (r *postgresRepository) TrackUsage(ctx context.Context, userID uuid.UUID, day time.Time, tokens decimal.Decimal) error {
	query := `
		INSERT INTO usage_logs (user_id, date, tokens_used, messages_sent) VALUES ($1, $2, $3, 1)
		ON CONFLICT (user_id, date) DO UPDATE
		SET tokens_used = usage_logs.tokens_used + EXCLUDED.tokens_used,
		    messages_sent = usage_logs.messages_sent + 1`

	if _, err := r.pool.Exec(ctx, query, userID, day, tokens); err != nil {
		return fmt.Errorf("tracking usage: %w", err)
	}
	return nil
}

func (r *postgresRepository) GetUsageLog(ctx context.Context, userID uuid.UUID, day time.Time) (*UsageLog, error) {
	query := `SELECT user_id, date, tokens_used, messages_sent FROM usage_logs WHERE user_id = $1 AND date = $2`

	log := &UsageLog{}
	err := r.pool.QueryRow(ctx, query, userID, day).Scan(&log.UserID, &log.Date, &log.TokensUsed, &log.MessagesSent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying usage log: %w", err)
	}
	return log, nil
}

func (r *postgresRepository) CountActiveDays(ctx context.Context, userID uuid.UUID, from, to time.Time) (int, error) {
	query := `
		SELECT count(*) FROM usage_logs
		WHERE user_id = $1 AND date >= $2 AND date < $3 AND messages_sent > 0`

	var n int
	if err := r.pool.QueryRow(ctx, query, userID, from, to).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting active days: %w", err)
	}
	return n, nil
}

func (r *postgresRepository) ClaimReward(ctx context.Context, tx *Transaction, day time.Time) error {
	return pgx.BeginFunc(ctx, r.pool, func(dbtx pgx.Tx) error {
		query := `INSERT INTO usage_logs (user_id, date) VALUES ($1, $2) ON CONFLICT (user_id, date) DO NOTHING`
		tag, err := dbtx.Exec(ctx, query, tx.UserID, day)
		if err != nil {
			return fmt.Errorf("touching usage log: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrAlreadyClaimed
		}
		if err := incrementBalance(ctx, dbtx, tx.UserID, tx.Amount); err != nil {
			return err
		}
		return insertTransaction(ctx, dbtx, tx)
	})
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertTransaction(ctx context.Context, db execer, tx *Transaction) error {
	query := `
		INSERT INTO transactions (id, user_id, type, amount, tx_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := db.Exec(ctx, query, tx.ID, tx.UserID, tx.Type, tx.Amount, tx.TxHash, tx.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && tx.TxHash != nil {
			return ErrDuplicateTxHash
		}
		return fmt.Errorf("inserting transaction: %w", err)
	}
	return nil
}

func incrementBalance(ctx context.Context, db execer, userID uuid.UUID, amount decimal.Decimal) error {
	query := `
		INSERT INTO balances (user_id, token_balance) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET token_balance = balances.token_balance + EXCLUDED.token_balance, updated_at = now()`

	if _, err := db.Exec(ctx, query, userID, amount); err != nil {
		return fmt.Errorf("incrementing balance: %w", err)
	}
	return nil
}
