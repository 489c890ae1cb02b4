//go:build integration

package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiox-platform/companion/internal/testutil"
)

func TestPostgres_ConcurrentReservesNeverOverdraw(t *testing.T) {
	pool := testutil.StartPostgres(t)
	svc := NewService(NewRepository(pool), Config{StartingGrant: decimal.NewFromInt(10), DailyReward: decimal.NewFromInt(5)})
	ctx := context.Background()

	user := uuid.MustParse(testutil.CreateUser(t, pool, "0x00000000000000000000000000000000000000aa"))
	require.NoError(t, svc.EnsureExists(ctx, user))

	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := svc.Reserve(ctx, user, decimal.NewFromInt(1))
			if err == nil && ok {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), granted.Load())
	bal, err := svc.Balance(ctx, user)
	require.NoError(t, err)
	assert.True(t, bal.IsZero(), "balance %s", bal)
}

func TestPostgres_ReserveCommitRollback(t *testing.T) {
	pool := testutil.StartPostgres(t)
	svc := NewService(NewRepository(pool), Config{StartingGrant: decimal.NewFromInt(5)})
	ctx := context.Background()

	user := uuid.MustParse(testutil.CreateUser(t, pool, "0x00000000000000000000000000000000000000bb"))
	require.NoError(t, svc.EnsureExists(ctx, user))

	ok, err := svc.Reserve(ctx, user, decimal.NewFromInt(1))
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, svc.Rollback(ctx, user, decimal.NewFromInt(1)))

	bal, _ := svc.Balance(ctx, user)
	assert.True(t, bal.Equal(decimal.NewFromInt(5)))

	ok, err = svc.Reserve(ctx, user, decimal.NewFromInt(1))
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, svc.Commit(ctx, user, decimal.NewFromInt(1)))

	bal, _ = svc.Balance(ctx, user)
	assert.True(t, bal.Equal(decimal.NewFromInt(4)))

	txs, err := svc.Transactions(ctx, user, 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, TypeChat, txs[0].Type)
	assert.True(t, txs[0].Amount.Equal(decimal.NewFromInt(-1)))
}

func TestPostgres_PurchaseReplay(t *testing.T) {
	pool := testutil.StartPostgres(t)
	svc := NewService(NewRepository(pool), Config{})
	ctx := context.Background()

	user := uuid.MustParse(testutil.CreateUser(t, pool, "0x00000000000000000000000000000000000000cc"))

	require.NoError(t, svc.Purchase(ctx, user, decimal.NewFromInt(150), "0xfeed"))
	assert.ErrorIs(t, svc.Purchase(ctx, user, decimal.NewFromInt(150), "0xfeed"), ErrDuplicateTxHash)

	bal, _ := svc.Balance(ctx, user)
	assert.True(t, bal.Equal(decimal.NewFromInt(150)))
}

func TestPostgres_DailyReward(t *testing.T) {
	pool := testutil.StartPostgres(t)
	svc := NewService(NewRepository(pool), Config{DailyReward: decimal.NewFromInt(5)})
	ctx := context.Background()

	user := uuid.MustParse(testutil.CreateUser(t, pool, "0x00000000000000000000000000000000000000dd"))

	res, err := svc.ClaimDailyReward(ctx, user)
	require.NoError(t, err)
	assert.True(t, res.Claimed)

	res, err = svc.ClaimDailyReward(ctx, user)
	require.NoError(t, err)
	assert.False(t, res.Claimed)

	bal, _ := svc.Balance(ctx, user)
	assert.True(t, bal.Equal(decimal.NewFromInt(5)))
}
