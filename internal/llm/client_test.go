package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string, attempts int) *Client {
	c := NewClient(Config{
		BaseURL:     url,
		APIKey:      "test-key",
		Model:       "test-model",
		Temperature: 0.85,
		TopP:        0.9,
		MaxTokens:   512,
		MaxAttempts: attempts,
		Timeout:     time.Second,
	})
	c.initialInterval = time.Millisecond
	return c
}

func reply(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
	})
}

func TestComplete_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req completionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, 512, req.MaxTokens)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, RoleSystem, req.Messages[0].Role)

		reply(w, "hi there")
	}))
	defer srv.Close()

	out, err := newTestClient(srv.URL, 3).Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: "be nice"},
		{Role: RoleUser, Content: "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", out)
}

func TestComplete_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		reply(w, "finally")
	}))
	defer srv.Close()

	out, err := newTestClient(srv.URL, 3).Complete(context.Background(), []Message{{Role: RoleUser, Content: "x"}})
	require.NoError(t, err)
	assert.Equal(t, "finally", out)
	assert.Equal(t, int32(3), calls.Load())
}

func TestComplete_RetriesRateLimited(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		reply(w, "ok")
	}))
	defer srv.Close()

	out, err := newTestClient(srv.URL, 3).Complete(context.Background(), []Message{{Role: RoleUser, Content: "x"}})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestComplete_ExhaustedAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3).Complete(context.Background(), []Message{{Role: RoleUser, Content: "x"}})
	require.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Equal(t, int32(3), calls.Load())
}

func TestComplete_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3).Complete(context.Background(), []Message{{Role: RoleUser, Content: "x"}})
	require.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestComplete_EmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reply(w, "  ")
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 1).Complete(context.Background(), []Message{{Role: RoleUser, Content: "x"}})
	require.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Contains(t, err.Error(), "empty completion")
}

func TestComplete_MissingKey(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:0", MaxAttempts: 3})
	_, err := c.Complete(context.Background(), nil)
	require.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestSummarize_FormatsTranscript(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req completionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.True(t, strings.HasPrefix(req.Messages[0].Content, "You are a conversation summarizer"))
		assert.Equal(t, "Summarize this conversation:\n\nUser: hi\nAI: hello", req.Messages[1].Content)
		reply(w, "They greeted each other.")
	}))
	defer srv.Close()

	out, err := newTestClient(srv.URL, 1).Summarize(context.Background(), []Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "They greeted each other.", out)
}
