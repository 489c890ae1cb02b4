package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned when a conversation has no cached window.
var ErrCacheMiss = errors.New("recent messages not cached")

// ShortTermStore caches the most recent messages of each conversation in a
// Redis list, oldest first.
type ShortTermStore struct {
	client  redis.Cmdable
	maxMsgs int
	ttl     time.Duration
}

// NewShortTermStore creates a store that keeps at most maxMsgs messages per
// conversation for ttl after the last write.
func NewShortTermStore(client redis.Cmdable, maxMsgs int, ttl time.Duration) *ShortTermStore {
	return &ShortTermStore{client: client, maxMsgs: maxMsgs, ttl: ttl}
}

func convKey(userID, personaID uuid.UUID) string {
	return fmt.Sprintf("conv:%s:%s", userID, personaID)
}

// verKey counts appends to a conversation. Fill compares it against the value
// read before the database query it is filling from.
func verKey(userID, personaID uuid.UUID) string {
	return convKey(userID, personaID) + ":ver"
}

// fillScript writes the window only when no append happened since the caller
// read the version and nothing cached the window in the meantime.
var fillScript = redis.NewScript(`
local ver = redis.call('GET', KEYS[2]) or '0'
if ver ~= ARGV[1] then return 0 end
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
for i = 4, #ARGV do redis.call('RPUSH', KEYS[1], ARGV[i]) end
redis.call('LTRIM', KEYS[1], -tonumber(ARGV[2]), -1)
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// GetRecentMessages returns the last limit cached messages. limit must not
// exceed the store's window.
func (s *ShortTermStore) GetRecentMessages(ctx context.Context, userID, personaID uuid.UUID, limit int) ([]Message, error) {
	key := convKey(userID, personaID)

	vals, err := s.client.LRange(ctx, key, int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	if len(vals) == 0 {
		return nil, ErrCacheMiss
	}

	msgs := make([]Message, 0, len(vals))
	for _, v := range vals {
		var m Message
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			continue // skip malformed entries
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// AppendMessage pushes msg onto an existing window. A conversation that is
// not cached stays uncached so a partial window is never served.
func (s *ShortTermStore) AppendMessage(ctx context.Context, msg Message) error {
	key := convKey(msg.UserID, msg.PersonaID)

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	ver := verKey(msg.UserID, msg.PersonaID)
	pipe := s.client.TxPipeline()
	pipe.Incr(ctx, ver)
	pipe.Expire(ctx, ver, s.ttl)
	pipe.RPushX(ctx, key, string(data))
	pipe.LTrim(ctx, key, int64(-s.maxMsgs), -1)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pipeline exec for %s: %w", key, err)
	}
	return nil
}

// Version returns the conversation's append counter. Read it before loading
// the messages passed to Fill.
func (s *ShortTermStore) Version(ctx context.Context, userID, personaID uuid.UUID) (int64, error) {
	v, err := s.client.Get(ctx, verKey(userID, personaID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading version: %w", err)
	}
	return v, nil
}

// Fill caches msgs, oldest first, as the conversation's window. It is a no-op
// returning false when a message was appended after version was read or
// the window is already cached.
func (s *ShortTermStore) Fill(ctx context.Context, userID, personaID uuid.UUID, msgs []Message, version int64) (bool, error) {
	if len(msgs) == 0 {
		return false, nil
	}
	key := convKey(userID, personaID)

	args := make([]any, 0, len(msgs)+3)
	args = append(args, strconv.FormatInt(version, 10), s.maxMsgs, s.ttl.Milliseconds())
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return false, fmt.Errorf("marshaling message: %w", err)
		}
		args = append(args, string(data))
	}

	filled, err := fillScript.Run(ctx, s.client, []string{key, verKey(userID, personaID)}, args...).Int()
	if err != nil {
		return false, fmt.Errorf("filling %s: %w", key, err)
	}
	return filled == 1, nil
}

// ClearConversation drops the cached window.
func (s *ShortTermStore) ClearConversation(ctx context.Context, userID, personaID uuid.UUID) error {
	return s.client.Del(ctx, convKey(userID, personaID)).Err()
}
