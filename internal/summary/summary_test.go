package summary

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiox-platform/companion/internal/jobs"
	"github.com/aiox-platform/companion/internal/llm"
	"github.com/aiox-platform/companion/internal/memory"
)

type fakeStore struct {
	mu       sync.Mutex
	messages []memory.Message
	upserts  []memory.Summary
}

func (s *fakeStore) RecentMessages(_ context.Context, _, _ uuid.UUID, limit int) ([]memory.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (s *fakeStore) Upsert(_ context.Context, _, _ uuid.UUID, typ memory.Type, content any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if typ != memory.TypeSummary {
		return errors.New("unexpected memory type")
	}
	s.upserts = append(s.upserts, content.(memory.Summary))
	return nil
}

type fakeSummarizer struct {
	mu    sync.Mutex
	calls int
	got   []llm.Message
	err   error
}

func (f *fakeSummarizer) Summarize(_ context.Context, transcript []llm.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.got = transcript
	if f.err != nil {
		return "", f.err
	}
	return "summary #" + strconv.Itoa(f.calls), nil
}

func conversation(n int) []memory.Message {
	msgs := make([]memory.Message, n)
	for i := range msgs {
		role := memory.RoleUser
		if i%2 == 1 {
			role = memory.RoleAssistant
		}
		msgs[i] = memory.Message{Role: role, Content: strconv.Itoa(i)}
	}
	return msgs
}

var cfg = Config{Delay: 5 * time.Second, MaxAttempts: 3, Backoff: 10 * time.Second, Window: 75, MinMessages: 10}

func job(t *testing.T, p Payload) *jobs.Job {
	t.Helper()
	return &jobs.Job{ID: "1", Name: JobName, Payload: []byte(`{"userId":"` + p.UserID.String() + `","personaId":"` + p.PersonaID.String() + `"}`)}
}

func TestHandle_SkipsShortConversations(t *testing.T) {
	store := &fakeStore{messages: conversation(9)}
	sum := &fakeSummarizer{}
	h := NewHandler(store, sum, cfg)

	require.NoError(t, h.Handle(context.Background(), job(t, Payload{uuid.New(), uuid.New()})))
	assert.Zero(t, sum.calls)
	assert.Empty(t, store.upserts)
}

func TestHandle_SummarizesLatestWindow(t *testing.T) {
	store := &fakeStore{messages: conversation(100)}
	sum := &fakeSummarizer{}
	h := NewHandler(store, sum, cfg)

	require.NoError(t, h.Handle(context.Background(), job(t, Payload{uuid.New(), uuid.New()})))
	require.Len(t, sum.got, 75)
	assert.Equal(t, "25", sum.got[0].Content)
	assert.Equal(t, llm.RoleAssistant, sum.got[0].Role)
	assert.Equal(t, "99", sum.got[74].Content)

	require.Len(t, store.upserts, 1)
	assert.Equal(t, 75, store.upserts[0].MessageCount)
}

func TestHandle_ErrorIsReturnedForRetry(t *testing.T) {
	store := &fakeStore{messages: conversation(12)}
	h := NewHandler(store, &fakeSummarizer{err: llm.ErrServiceUnavailable}, cfg)

	err := h.Handle(context.Background(), job(t, Payload{uuid.New(), uuid.New()}))
	assert.ErrorIs(t, err, llm.ErrServiceUnavailable)
	assert.Empty(t, store.upserts)
}

// Five turns inside the debounce window produce five delayed jobs; each run
// re-reads the conversation and overwrites the single summary memory.
func TestPipeline_DebouncedBurst(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	pipeCfg := cfg
	pipeCfg.Delay = 300 * time.Millisecond

	q := jobs.NewQueue(rdb, QueueName)
	sched := NewScheduler(q, pipeCfg)
	store := &fakeStore{messages: conversation(12)}
	sum := &fakeSummarizer{}
	h := NewHandler(store, sum, pipeCfg)

	ctx := context.Background()
	user, persona := uuid.New(), uuid.New()
	for i := 0; i < 5; i++ {
		require.NoError(t, sched.Schedule(ctx, user, persona))
	}

	w := jobs.NewWorker(q, jobs.WorkerOptions{Concurrency: 2, PollInterval: 10 * time.Millisecond})
	w.Handle(JobName, h.Handle)
	w.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		require.NoError(t, w.Stop(stopCtx))
	}()

	time.Sleep(100 * time.Millisecond)
	sum.mu.Lock()
	assert.Zero(t, sum.calls, "nothing runs before the debounce delay")
	sum.mu.Unlock()

	require.Eventually(t, func() bool {
		c, err := q.Counts(ctx)
		return err == nil && c.Completed == 5
	}, 5*time.Second, 20*time.Millisecond)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.upserts, 5)
	for _, s := range store.upserts {
		assert.Equal(t, 12, s.MessageCount)
	}
}
