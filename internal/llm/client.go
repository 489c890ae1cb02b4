// Package llm calls an OpenAI-compatible chat completion endpoint.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/aiox-platform/companion/internal/metrics"
)

// ErrServiceUnavailable wraps every completion failure.
var ErrServiceUnavailable = errors.New("completion service unavailable")

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	TopP        float64
	MaxTokens   int
	MaxAttempts int
	RPS         float64
	Timeout     time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	// initialInterval is the first retry wait; 429 responses wait twice as long.
	initialInterval time.Duration
}

func NewClient(cfg Config) *Client {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	return &Client{
		cfg:             cfg,
		httpClient:      &http.Client{Timeout: cfg.Timeout},
		limiter:         rate.NewLimiter(limit, 1),
		initialInterval: time.Second,
	}
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	TopP        float64   `json:"top_p"`
	MaxTokens   int       `json:"max_tokens"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type statusError struct {
	code       int
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("completion API returned status %d", e.code)
}

// Complete returns the first choice's content. Transport errors, 429 and 5xx
// responses are retried with exponential backoff up to MaxAttempts.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	start := time.Now()
	content, err := c.complete(ctx, messages)
	metrics.LLMRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	metrics.LLMRequestsTotal.WithLabelValues("ok").Inc()
	return content, nil
}

func (c *Client) complete(ctx context.Context, messages []Message) (string, error) {
	if c.cfg.APIKey == "" {
		return "", errors.New("API key not configured")
	}

	body, err := json.Marshal(completionRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		TopP:        c.cfg.TopP,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialInterval
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	var (
		content string
		attempt int
	)
	operation := func() error {
		attempt++
		var opErr error
		content, opErr = c.do(ctx, body)
		if opErr == nil {
			return nil
		}

		var se *statusError
		if errors.As(opErr, &se) {
			if se.code == http.StatusTooManyRequests {
				wait := se.retryAfter
				if wait == 0 {
					wait = c.initialInterval << (attempt - 1)
				}
				if attempt < c.cfg.MaxAttempts {
					if err := sleep(ctx, wait); err != nil {
						return backoff.Permanent(err)
					}
				}
				return opErr
			}
			if se.code < http.StatusInternalServerError {
				return backoff.Permanent(opErr)
			}
		}
		return opErr
	}
	notify := func(err error, wait time.Duration) {
		slog.Warn("completion request failed, retrying", "error", err, "attempt", attempt, "max_attempts", c.cfg.MaxAttempts, "wait", wait)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.cfg.MaxAttempts-1)), ctx)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return "", err
	}
	return content, nil
}

func (c *Client) do(ctx context.Context, body []byte) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for rate limiter: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		se := &statusError{code: resp.StatusCode}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			se.retryAfter = time.Duration(secs) * time.Second
		}
		slog.Error("completion API error", "status", resp.StatusCode, "body", truncate(string(raw), 512))
		return "", se
	}

	var parsed completionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", errors.New("empty completion")
	}
	return parsed.Choices[0].Message.Content, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
