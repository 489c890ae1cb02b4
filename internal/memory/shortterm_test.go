package memory

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniredis(t *testing.T, maxMsgs int) (*ShortTermStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewShortTermStore(client, maxMsgs, time.Hour), mr
}

// fill caches msgs the way the service does, reading the version first.
func fill(t *testing.T, store *ShortTermStore, user, persona uuid.UUID, msgs ...Message) {
	t.Helper()
	ctx := context.Background()
	v, err := store.Version(ctx, user, persona)
	require.NoError(t, err)
	filled, err := store.Fill(ctx, user, persona, msgs, v)
	require.NoError(t, err)
	require.True(t, filled)
}

func msg(user, persona uuid.UUID, role Role, content string) Message {
	return Message{ID: uuid.New(), UserID: user, PersonaID: persona, Role: role, Content: content, CreatedAt: time.Now()}
}

func TestShortTermStore_MissUntilFilled(t *testing.T) {
	store, _ := setupMiniredis(t, 15)
	ctx := context.Background()
	user, persona := uuid.New(), uuid.New()

	_, err := store.GetRecentMessages(ctx, user, persona, 15)
	assert.ErrorIs(t, err, ErrCacheMiss)

	// append on an uncached conversation must not create a partial window
	require.NoError(t, store.AppendMessage(ctx, msg(user, persona, RoleUser, "Hello")))
	_, err = store.GetRecentMessages(ctx, user, persona, 15)
	assert.ErrorIs(t, err, ErrCacheMiss)

	fill(t, store, user, persona,
		msg(user, persona, RoleUser, "Hello"),
		msg(user, persona, RoleAssistant, "Hi there!"),
	)
	require.NoError(t, store.AppendMessage(ctx, msg(user, persona, RoleUser, "How are you?")))

	msgs, err := store.GetRecentMessages(ctx, user, persona, 15)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.Equal(t, "How are you?", msgs[2].Content)
}

func TestShortTermStore_Trim(t *testing.T) {
	store, _ := setupMiniredis(t, 3)
	ctx := context.Background()
	user, persona := uuid.New(), uuid.New()

	fill(t, store, user, persona, msg(user, persona, RoleUser, "0"))
	for i := 1; i < 5; i++ {
		require.NoError(t, store.AppendMessage(ctx, msg(user, persona, RoleUser, strconv.Itoa(i))))
	}

	msgs, err := store.GetRecentMessages(ctx, user, persona, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "2", msgs[0].Content)
	assert.Equal(t, "4", msgs[2].Content)
}

func TestShortTermStore_TTL(t *testing.T) {
	store, mr := setupMiniredis(t, 15)
	ctx := context.Background()
	user, persona := uuid.New(), uuid.New()

	fill(t, store, user, persona, msg(user, persona, RoleUser, "x"))
	assert.Equal(t, time.Hour, mr.TTL(convKey(user, persona)))

	mr.FastForward(2 * time.Hour)
	_, err := store.GetRecentMessages(ctx, user, persona, 15)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestShortTermStore_Clear(t *testing.T) {
	store, _ := setupMiniredis(t, 15)
	ctx := context.Background()
	user, persona := uuid.New(), uuid.New()

	fill(t, store, user, persona, msg(user, persona, RoleUser, "x"))
	require.NoError(t, store.ClearConversation(ctx, user, persona))

	_, err := store.GetRecentMessages(ctx, user, persona, 15)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestShortTermStore_FillSkipsAfterAppend(t *testing.T) {
	store, _ := setupMiniredis(t, 15)
	ctx := context.Background()
	user, persona := uuid.New(), uuid.New()

	v, err := store.Version(ctx, user, persona)
	require.NoError(t, err)

	// a message lands between the database read and the fill
	require.NoError(t, store.AppendMessage(ctx, msg(user, persona, RoleUser, "late")))

	filled, err := store.Fill(ctx, user, persona, []Message{msg(user, persona, RoleUser, "stale")}, v)
	require.NoError(t, err)
	assert.False(t, filled)
	_, err = store.GetRecentMessages(ctx, user, persona, 15)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestShortTermStore_FillKeepsExistingWindow(t *testing.T) {
	store, _ := setupMiniredis(t, 15)
	ctx := context.Background()
	user, persona := uuid.New(), uuid.New()

	fill(t, store, user, persona, msg(user, persona, RoleUser, "first"))
	v, err := store.Version(ctx, user, persona)
	require.NoError(t, err)

	filled, err := store.Fill(ctx, user, persona, []Message{msg(user, persona, RoleUser, "second")}, v)
	require.NoError(t, err)
	assert.False(t, filled)

	msgs, err := store.GetRecentMessages(ctx, user, persona, 15)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "first", msgs[0].Content)
}
