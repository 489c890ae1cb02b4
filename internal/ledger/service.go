package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aiox-platform/companion/internal/metrics"
)

// streakDays is the number of consecutive active days before today that
// earn the streak bonus.
const streakDays = 3

const streakBonus = 2

type Config struct {
	StartingGrant decimal.Decimal
	DailyReward   decimal.Decimal
}

// Service implements the reserve/commit/rollback credit protocol on top of
// a Repository. A reservation is the balance decrement itself; Commit only
// records it and Rollback gives it back.
type Service struct {
	repo Repository
	cfg  Config
	now  func() time.Time
}

func NewService(repo Repository, cfg Config) *Service {
	return &Service{repo: repo, cfg: cfg, now: time.Now}
}

// Reserve atomically deducts amount if the balance covers it. It returns
// false, not an error, when funds are insufficient or the balance is missing.
func (s *Service) Reserve(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (bool, error) {
	if !amount.IsPositive() {
		return false, fmt.Errorf("reserve amount must be positive, got %s", amount)
	}
	ok, err := s.repo.Reserve(ctx, userID, amount)
	if err != nil {
		metrics.LedgerOperationsTotal.WithLabelValues("reserve", "error").Inc()
		return false, err
	}
	if !ok {
		metrics.LedgerOperationsTotal.WithLabelValues("reserve", "insufficient").Inc()
		return false, nil
	}
	metrics.LedgerOperationsTotal.WithLabelValues("reserve", "ok").Inc()
	return true, nil
}

// Commit records a completed reservation as a chat transaction of -amount.
func (s *Service) Commit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error {
	if err := s.repo.InsertTransaction(ctx, s.newTransaction(userID, TypeChat, amount.Neg(), nil)); err != nil {
		metrics.LedgerOperationsTotal.WithLabelValues("commit", "error").Inc()
		return fmt.Errorf("committing deduction: %w", err)
	}
	metrics.LedgerOperationsTotal.WithLabelValues("commit", "ok").Inc()
	return nil
}

// Void appends a +amount chat transaction cancelling an earlier Commit. It
// records the refund only; the balance is restored by Rollback.
func (s *Service) Void(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error {
	if err := s.repo.InsertTransaction(ctx, s.newTransaction(userID, TypeChat, amount, nil)); err != nil {
		metrics.LedgerOperationsTotal.WithLabelValues("void", "error").Inc()
		return fmt.Errorf("voiding deduction: %w", err)
	}
	metrics.LedgerOperationsTotal.WithLabelValues("void", "ok").Inc()
	return nil
}

// Rollback returns a reservation to the balance. Callers invoke it at most
// once per failed reservation.
func (s *Service) Rollback(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error {
	if err := s.repo.Increment(ctx, userID, amount); err != nil {
		metrics.LedgerOperationsTotal.WithLabelValues("rollback", "error").Inc()
		return fmt.Errorf("rolling back reservation: %w", err)
	}
	metrics.LedgerOperationsTotal.WithLabelValues("rollback", "ok").Inc()
	return nil
}

// EnsureExists creates the balance with the starting grant if it is missing.
func (s *Service) EnsureExists(ctx context.Context, userID uuid.UUID) error {
	return s.repo.EnsureBalance(ctx, userID, s.cfg.StartingGrant)
}

// Balance returns the current balance, zero when none exists.
func (s *Service) Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	return s.repo.GetBalance(ctx, userID)
}

func (s *Service) Transactions(ctx context.Context, userID uuid.UUID, limit int) ([]Transaction, error) {
	return s.repo.ListTransactions(ctx, userID, limit)
}

// HasTxHash reports whether a transaction with txHash was already recorded.
func (s *Service) HasTxHash(ctx context.Context, txHash string) (bool, error) {
	return s.repo.ExistsByTxHash(ctx, txHash)
}

// Purchase credits tokens bought with an on-chain transfer identified by txHash.
func (s *Service) Purchase(ctx context.Context, userID uuid.UUID, tokens decimal.Decimal, txHash string) error {
	if err := s.repo.Credit(ctx, s.newTransaction(userID, TypePurchase, tokens, &txHash)); err != nil {
		if errors.Is(err, ErrDuplicateTxHash) {
			return err
		}
		return fmt.Errorf("crediting purchase: %w", err)
	}
	metrics.LedgerOperationsTotal.WithLabelValues("purchase", "ok").Inc()
	return nil
}

// Withdraw deducts amount and records it. The deduction is given back if the
// record cannot be written.
func (s *Service) Withdraw(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error {
	ok, err := s.Reserve(ctx, userID, amount)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInsufficientBalance
	}

	if err := s.repo.InsertTransaction(ctx, s.newTransaction(userID, TypeWithdraw, amount.Neg(), nil)); err != nil {
		if rbErr := s.Rollback(ctx, userID, amount); rbErr != nil {
			slog.Error("withdraw: rollback after failed record", "user_id", userID, "error", rbErr)
		}
		return fmt.Errorf("recording withdrawal: %w", err)
	}
	metrics.LedgerOperationsTotal.WithLabelValues("withdraw", "ok").Inc()
	return nil
}

// TrackUsage adds tokens and one message to today's usage log.
func (s *Service) TrackUsage(ctx context.Context, userID uuid.UUID, tokens decimal.Decimal) error {
	return s.repo.TrackUsage(ctx, userID, s.today(), tokens)
}

// ClaimDailyReward credits the daily reward unless today's usage row already
// exists, either from a chat turn or from an earlier claim. The streak bonus
// is reported when each of the previous three days had chat activity.
func (s *Service) ClaimDailyReward(ctx context.Context, userID uuid.UUID) (*DailyReward, error) {
	today := s.today()

	log, err := s.repo.GetUsageLog(ctx, userID, today)
	if err != nil {
		return nil, err
	}
	if log != nil {
		return &DailyReward{Claimed: false, Reward: decimal.Zero}, nil
	}

	active, err := s.repo.CountActiveDays(ctx, userID, today.AddDate(0, 0, -streakDays), today)
	if err != nil {
		return nil, err
	}
	bonus := 0
	if active >= streakDays {
		bonus = streakBonus
	}

	tx := s.newTransaction(userID, TypeReward, s.cfg.DailyReward, nil)
	if err := s.repo.ClaimReward(ctx, tx, today); err != nil {
		if errors.Is(err, ErrAlreadyClaimed) {
			return &DailyReward{Claimed: false, Reward: decimal.Zero}, nil
		}
		return nil, fmt.Errorf("claiming daily reward: %w", err)
	}
	metrics.LedgerOperationsTotal.WithLabelValues("reward", "ok").Inc()

	return &DailyReward{Claimed: true, Reward: s.cfg.DailyReward, StreakBonus: bonus}, nil
}

func (s *Service) today() time.Time {
	now := s.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func (s *Service) newTransaction(userID uuid.UUID, typ TransactionType, amount decimal.Decimal, txHash *string) *Transaction {
	return &Transaction{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      typ,
		Amount:    amount,
		TxHash:    txHash,
		CreatedAt: s.now(),
	}
}
