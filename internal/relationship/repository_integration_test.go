//go:build integration

package relationship

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiox-platform/companion/internal/testutil"
)

var lunaID = uuid.MustParse("11111111-1111-4111-8111-111111111111")

func TestPostgres_AddIntimacyClampsAndTiers(t *testing.T) {
	pool := testutil.StartPostgres(t)
	repo := NewRepository(pool)
	ctx := context.Background()

	user := uuid.MustParse(testutil.CreateUser(t, pool, "0x00000000000000000000000000000000000000bb"))
	_, err := pool.Exec(ctx, `INSERT INTO relationships (user_id, persona_id, intimacy_level) VALUES ($1, $2, 19)`, user, lunaID)
	require.NoError(t, err)

	rel, err := repo.AddIntimacy(ctx, user, lunaID, 1)
	require.NoError(t, err)
	assert.Equal(t, 20, rel.IntimacyLevel)
	assert.Equal(t, StatusFriend, rel.Status)

	rel, err = repo.AddIntimacy(ctx, user, lunaID, 500)
	require.NoError(t, err)
	assert.Equal(t, 100, rel.IntimacyLevel)
	assert.Equal(t, StatusLover, rel.Status)

	_, err = repo.AddIntimacy(ctx, uuid.New(), lunaID, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgres_ListActiveWindow(t *testing.T) {
	pool := testutil.StartPostgres(t)
	svc := NewService(NewRepository(pool))
	ctx := context.Background()
	now := time.Now()

	insert := func(wallet string, ago time.Duration) uuid.UUID {
		user := uuid.MustParse(testutil.CreateUser(t, pool, wallet))
		_, err := pool.Exec(ctx, `INSERT INTO relationships (user_id, persona_id, last_interaction) VALUES ($1, $2, $3)`,
			user, lunaID, now.Add(-ago))
		require.NoError(t, err)
		return user
	}
	insert("0x00000000000000000000000000000000000000c1", time.Hour) // too recent
	want := insert("0x00000000000000000000000000000000000000c2", 3*time.Hour)
	insert("0x00000000000000000000000000000000000000c3", 8*24*time.Hour) // too old

	active, err := svc.ListActive(ctx, now, 7*24*time.Hour, 2*time.Hour)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, want, active[0].UserID)
	assert.Equal(t, "Luna", active[0].PersonaName)
	assert.Equal(t, "Asia/Jakarta", active[0].UserTimezone)
}
