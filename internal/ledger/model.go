package ledger

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TypeChat     TransactionType = "chat"
	TypePurchase TransactionType = "purchase"
	TypeWithdraw TransactionType = "withdraw"
	TypeReward   TransactionType = "reward"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrDuplicateTxHash     = errors.New("transaction hash already recorded")
	ErrAlreadyClaimed      = errors.New("daily reward already claimed")
)

// Transaction is an append-only ledger entry. Amount is signed: debits are
// negative, credits positive.
type Transaction struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	Type      TransactionType `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	TxHash    *string         `json:"tx_hash,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// UsageLog aggregates one user's chat usage for one calendar day.
type UsageLog struct {
	UserID       uuid.UUID       `json:"user_id"`
	Date         time.Time       `json:"date"`
	TokensUsed   decimal.Decimal `json:"tokens_used"`
	MessagesSent int             `json:"messages_sent"`
}

// DailyReward is the outcome of a daily reward claim.
type DailyReward struct {
	Claimed     bool            `json:"claimed"`
	Reward      decimal.Decimal `json:"reward"`
	StreakBonus int             `json:"streak_bonus"`
}
