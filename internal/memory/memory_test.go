package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type pair struct{ user, persona uuid.UUID }

// memRepository is an in-memory Repository for tests.
type memRepository struct {
	mu       sync.Mutex
	messages map[pair][]Message
	memories map[pair]map[Type]Memory
	clock    time.Time
	reads    int
	// afterRecent runs once after the next RecentMessages read.
	afterRecent func()
}

func newMemRepository() *memRepository {
	return &memRepository{
		messages: map[pair][]Message{},
		memories: map[pair]map[Type]Memory{},
		clock:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (r *memRepository) InsertMessage(_ context.Context, msg *Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = r.clock.Add(time.Second)
	msg.ID = uuid.New()
	msg.CreatedAt = r.clock
	k := pair{msg.UserID, msg.PersonaID}
	r.messages[k] = append(r.messages[k], *msg)
	return nil
}

func (r *memRepository) RecentMessages(ctx context.Context, userID, personaID uuid.UUID, limit int) ([]Message, error) {
	msgs, _ := r.ListMessages(ctx, userID, personaID, 0, limit)
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	if hook := r.afterRecent; hook != nil {
		r.afterRecent = nil
		hook()
	}
	return msgs, nil
}

func (r *memRepository) ListMessages(_ context.Context, userID, personaID uuid.UUID, offset, limit int) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	all := r.messages[pair{userID, personaID}]
	var out []Message
	for i := len(all) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (r *memRepository) CountMessages(_ context.Context, userID, personaID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.messages[pair{userID, personaID}])), nil
}

func (r *memRepository) GetMemory(_ context.Context, userID, personaID uuid.UUID, typ Type) (*Memory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.memories[pair{userID, personaID}][typ]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (r *memRepository) ListMemories(_ context.Context, userID, personaID uuid.UUID) ([]Memory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Memory
	for _, m := range r.memories[pair{userID, personaID}] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, nil
}

func (r *memRepository) UpsertMemory(_ context.Context, mem *Memory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := pair{mem.UserID, mem.PersonaID}
	if r.memories[k] == nil {
		r.memories[k] = map[Type]Memory{}
	}
	mem.UpdatedAt = r.clock
	r.memories[k][mem.Type] = *mem
	return nil
}
