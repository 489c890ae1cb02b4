// Package deposit settles balance changes backed by on-chain transfers.
package deposit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aiox-platform/companion/internal/chain"
	"github.com/aiox-platform/companion/internal/ledger"
	"github.com/aiox-platform/companion/internal/metrics"
)

var (
	ErrInvalidTxHash         = errors.New("invalid transaction hash")
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrAlreadyProcessed      = errors.New("transaction already processed")
	ErrTxNotFound            = errors.New("transaction not found")
	ErrTxPending             = errors.New("transaction is not yet mined")
	ErrWrongRecipient        = errors.New("transaction recipient is not the treasury")
	ErrAmountMismatch        = errors.New("transaction value does not match claimed amount")
	ErrTreasuryNotConfigured = errors.New("treasury address not configured")
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// weiExp converts wei to ether.
const weiExp = -18

type ChainReader interface {
	TransactionByHash(ctx context.Context, hash string) (*chain.Transaction, error)
}

type Ledger interface {
	HasTxHash(ctx context.Context, txHash string) (bool, error)
	Purchase(ctx context.Context, userID uuid.UUID, tokens decimal.Decimal, txHash string) error
	Withdraw(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error
}

type Config struct {
	TreasuryAddress string
	Tolerance       decimal.Decimal
	ExchangeRate    decimal.Decimal
}

type Verifier struct {
	ledger Ledger
	chain  ChainReader
	cfg    Config
}

func NewVerifier(l Ledger, c ChainReader, cfg Config) *Verifier {
	return &Verifier{ledger: l, chain: c, cfg: cfg}
}

// Deposit verifies the transfer behind txHash and credits claimed × exchange
// rate tokens. It returns the credited token amount.
func (v *Verifier) Deposit(ctx context.Context, userID uuid.UUID, claimed decimal.Decimal, txHash string) (decimal.Decimal, error) {
	credited, err := v.deposit(ctx, userID, claimed, txHash)
	if err != nil {
		metrics.DepositsTotal.WithLabelValues(resultLabel(err)).Inc()
		return decimal.Zero, err
	}
	metrics.DepositsTotal.WithLabelValues("credited").Inc()
	return credited, nil
}

func (v *Verifier) deposit(ctx context.Context, userID uuid.UUID, claimed decimal.Decimal, txHash string) (decimal.Decimal, error) {
	if v.cfg.TreasuryAddress == "" {
		return decimal.Zero, ErrTreasuryNotConfigured
	}
	if !txHashPattern.MatchString(txHash) {
		return decimal.Zero, ErrInvalidTxHash
	}
	if !claimed.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	// Hex is case-insensitive; store one spelling so the replay guard holds.
	txHash = strings.ToLower(txHash)

	seen, err := v.ledger.HasTxHash(ctx, txHash)
	if err != nil {
		return decimal.Zero, fmt.Errorf("checking tx hash: %w", err)
	}
	if seen {
		return decimal.Zero, ErrAlreadyProcessed
	}

	tx, err := v.chain.TransactionByHash(ctx, txHash)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetching transaction: %w", err)
	}
	if tx == nil {
		return decimal.Zero, ErrTxNotFound
	}
	if tx.BlockNumber == nil {
		return decimal.Zero, ErrTxPending
	}
	if !strings.EqualFold(tx.To, v.cfg.TreasuryAddress) {
		return decimal.Zero, ErrWrongRecipient
	}

	value := decimal.NewFromBigInt(tx.Value, weiExp)
	if value.Sub(claimed).Abs().GreaterThan(v.cfg.Tolerance) {
		return decimal.Zero, ErrAmountMismatch
	}

	tokens := claimed.Mul(v.cfg.ExchangeRate)
	if err := v.ledger.Purchase(ctx, userID, tokens, txHash); err != nil {
		if errors.Is(err, ledger.ErrDuplicateTxHash) {
			return decimal.Zero, ErrAlreadyProcessed
		}
		return decimal.Zero, err
	}

	slog.Info("deposit credited", "user_id", userID, "tx_hash", txHash, "value", value.String(), "tokens", tokens.String())
	return tokens, nil
}

// Withdraw settles the ledger side of a withdrawal. No on-chain transfer is made.
func (v *Verifier) Withdraw(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return v.ledger.Withdraw(ctx, userID, amount)
}

// IsVerificationError reports whether err is a permanent rejection of the request.
func IsVerificationError(err error) bool {
	for _, target := range []error{
		ErrInvalidTxHash, ErrInvalidAmount, ErrAlreadyProcessed,
		ErrTxNotFound, ErrTxPending, ErrWrongRecipient, ErrAmountMismatch,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyProcessed):
		return "replay"
	case errors.Is(err, ErrTxNotFound):
		return "not_found"
	case errors.Is(err, ErrTxPending):
		return "pending"
	case errors.Is(err, ErrWrongRecipient):
		return "wrong_recipient"
	case errors.Is(err, ErrAmountMismatch):
		return "amount_mismatch"
	case IsVerificationError(err):
		return "invalid"
	default:
		return "error"
	}
}
