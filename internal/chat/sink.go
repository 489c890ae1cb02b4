package chat

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aiox-platform/companion/internal/api"
)

type Status string

const (
	StatusSent   Status = "sent"
	StatusRead   Status = "read"
	StatusTyping Status = "typing"
)

// Sink receives the progress and the outcome of one turn. Turn calls either
// Result or Error exactly once, after any number of Status calls.
type Sink interface {
	Status(s Status)
	Result(res *Result)
	Error(err error)
}

// JSONSink writes a single JSON response once the turn completes.
type JSONSink struct {
	w http.ResponseWriter
}

func NewJSONSink(w http.ResponseWriter) *JSONSink {
	return &JSONSink{w: w}
}

func (s *JSONSink) Status(Status) {}

func (s *JSONSink) Result(res *Result) {
	api.JSON(s.w, http.StatusOK, res)
}

func (s *JSONSink) Error(err error) {
	api.HandleError(s.w, AppError(err))
}

type streamLine struct {
	Type      string    `json:"type"`
	Status    Status    `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
	Data      *Result   `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// NDJSONSink streams one JSON object per line: status updates, then a
// message or an error line.
type NDJSONSink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	enc     *json.Encoder
	started bool
	now     func() time.Time
}

func NewNDJSONSink(w http.ResponseWriter) *NDJSONSink {
	return &NDJSONSink{w: w, enc: json.NewEncoder(w), now: time.Now}
}

func (s *NDJSONSink) Status(st Status) {
	s.write(streamLine{Type: "status", Status: st, Timestamp: s.now()})
}

func (s *NDJSONSink) Result(res *Result) {
	s.write(streamLine{Type: "message", Data: res})
}

func (s *NDJSONSink) Error(err error) {
	s.write(streamLine{Type: "error", Error: AppError(err).Message})
}

func (s *NDJSONSink) write(line streamLine) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		s.w.Header().Set("Content-Type", "application/x-ndjson")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	if err := s.enc.Encode(line); err != nil {
		slog.Debug("writing stream line", "error", err)
		return
	}
	if err := http.NewResponseController(s.w).Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		slog.Debug("flushing stream line", "error", err)
	}
}
