package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// memRepository is an in-memory Repository whose balance mutations are
// conditional under a mutex, mirroring the single-statement SQL updates.
type memRepository struct {
	mu       sync.Mutex
	balances map[uuid.UUID]decimal.Decimal
	txs      []Transaction
	usage    map[string]*UsageLog
	failTx   error
}

func newMemRepository() *memRepository {
	return &memRepository{
		balances: map[uuid.UUID]decimal.Decimal{},
		usage:    map[string]*UsageLog{},
	}
}

func usageKey(userID uuid.UUID, day time.Time) string {
	return userID.String() + day.Format("2006-01-02")
}

func (m *memRepository) Reserve(_ context.Context, userID uuid.UUID, amount decimal.Decimal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal, ok := m.balances[userID]
	if !ok || bal.LessThan(amount) {
		return false, nil
	}
	m.balances[userID] = bal.Sub(amount)
	return true, nil
}

func (m *memRepository) Increment(_ context.Context, userID uuid.UUID, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] = m.balances[userID].Add(amount)
	return nil
}

func (m *memRepository) EnsureBalance(_ context.Context, userID uuid.UUID, grant decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.balances[userID]; !ok {
		m.balances[userID] = grant
	}
	return nil
}

func (m *memRepository) GetBalance(_ context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID], nil
}

func (m *memRepository) InsertTransaction(_ context.Context, tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTx != nil {
		return m.failTx
	}
	return m.insertLocked(tx)
}

func (m *memRepository) insertLocked(tx *Transaction) error {
	if tx.TxHash != nil {
		for _, existing := range m.txs {
			if existing.TxHash != nil && *existing.TxHash == *tx.TxHash {
				return ErrDuplicateTxHash
			}
		}
	}
	m.txs = append(m.txs, *tx)
	return nil
}

func (m *memRepository) ExistsByTxHash(_ context.Context, txHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.txs {
		if tx.TxHash != nil && *tx.TxHash == txHash {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRepository) Credit(_ context.Context, tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.insertLocked(tx); err != nil {
		return err
	}
	m.balances[tx.UserID] = m.balances[tx.UserID].Add(tx.Amount)
	return nil
}

func (m *memRepository) ListTransactions(_ context.Context, userID uuid.UUID, limit int) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Transaction
	for i := len(m.txs) - 1; i >= 0 && len(out) < limit; i-- {
		if m.txs[i].UserID == userID {
			out = append(out, m.txs[i])
		}
	}
	return out, nil
}

func (m *memRepository) TrackUsage(_ context.Context, userID uuid.UUID, day time.Time, tokens decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	log, ok := m.usage[usageKey(userID, day)]
	if !ok {
		log = &UsageLog{UserID: userID, Date: day}
		m.usage[usageKey(userID, day)] = log
	}
	log.TokensUsed = log.TokensUsed.Add(tokens)
	log.MessagesSent++
	return nil
}

func (m *memRepository) GetUsageLog(_ context.Context, userID uuid.UUID, day time.Time) (*UsageLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	log, ok := m.usage[usageKey(userID, day)]
	if !ok {
		return nil, nil
	}
	cp := *log
	return &cp, nil
}

func (m *memRepository) CountActiveDays(_ context.Context, userID uuid.UUID, from, to time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, log := range m.usage {
		if log.UserID == userID && !log.Date.Before(from) && log.Date.Before(to) && log.MessagesSent > 0 {
			n++
		}
	}
	return n, nil
}

func (m *memRepository) ClaimReward(_ context.Context, tx *Transaction, day time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := usageKey(tx.UserID, day)
	if _, ok := m.usage[key]; ok {
		return ErrAlreadyClaimed
	}
	m.usage[key] = &UsageLog{UserID: tx.UserID, Date: day}
	m.balances[tx.UserID] = m.balances[tx.UserID].Add(tx.Amount)
	return m.insertLocked(tx)
}
