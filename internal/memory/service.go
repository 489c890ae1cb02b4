package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Service combines the message store, the recent-message cache and memories.
type Service struct {
	repo      Repository
	shortTerm *ShortTermStore
	// cacheWindow is the largest limit served from shortTerm.
	cacheWindow int
}

// NewService creates a new memory service. shortTerm may be nil.
func NewService(repo Repository, shortTerm *ShortTermStore) *Service {
	s := &Service{repo: repo, shortTerm: shortTerm}
	if shortTerm != nil {
		s.cacheWindow = shortTerm.maxMsgs
	}
	return s
}

// SaveMessage persists a message and appends it to the cached window.
func (s *Service) SaveMessage(ctx context.Context, userID, personaID uuid.UUID, role Role, content string) (*Message, error) {
	msg := &Message{UserID: userID, PersonaID: personaID, Role: role, Content: content}
	if err := s.repo.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	if s.shortTerm != nil {
		if err := s.shortTerm.AppendMessage(ctx, *msg); err != nil {
			slog.Warn("memory: caching message", "error", err, "user_id", userID)
			// A window missing this message must not be served.
			if cerr := s.shortTerm.ClearConversation(ctx, userID, personaID); cerr != nil {
				slog.Warn("memory: dropping message cache", "error", cerr, "user_id", userID)
			}
		}
	}
	return msg, nil
}

// RecentMessages returns the newest limit messages, oldest first. Small
// windows are served from Redis and refilled from the database on a miss.
func (s *Service) RecentMessages(ctx context.Context, userID, personaID uuid.UUID, limit int) ([]Message, error) {
	useCache := s.shortTerm != nil && limit <= s.cacheWindow
	if useCache {
		msgs, err := s.shortTerm.GetRecentMessages(ctx, userID, personaID, limit)
		if err == nil {
			return msgs, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			slog.Warn("memory: reading cached messages", "error", err, "user_id", userID)
		}
	}

	fetch := limit
	var version int64
	if useCache {
		fetch = s.cacheWindow
		v, err := s.shortTerm.Version(ctx, userID, personaID)
		if err != nil {
			slog.Warn("memory: reading cache version", "error", err, "user_id", userID)
			useCache = false
		}
		version = v
	}
	msgs, err := s.repo.RecentMessages(ctx, userID, personaID, fetch)
	if err != nil {
		return nil, err
	}
	if useCache {
		if _, err := s.shortTerm.Fill(ctx, userID, personaID, msgs, version); err != nil {
			slog.Warn("memory: filling message cache", "error", err, "user_id", userID)
		}
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// History returns one page of messages in chronological order.
func (s *Service) History(ctx context.Context, userID, personaID uuid.UUID, page, limit int) (*History, error) {
	msgs, err := s.repo.ListMessages(ctx, userID, personaID, (page-1)*limit, limit)
	if err != nil {
		return nil, err
	}
	total, err := s.repo.CountMessages(ctx, userID, personaID)
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return &History{
		Messages: msgs,
		Pagination: Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: (total + int64(limit) - 1) / int64(limit),
		},
	}, nil
}

// Memories loads every memory of the conversation. Undecodable content is
// logged and skipped.
func (s *Service) Memories(ctx context.Context, userID, personaID uuid.UUID) (*Memories, error) {
	list, err := s.repo.ListMemories(ctx, userID, personaID)
	if err != nil {
		return nil, err
	}

	out := &Memories{}
	for _, m := range list {
		var dst any
		switch m.Type {
		case TypeProfile:
			dst = &out.Profile
		case TypeRelationship:
			dst = &out.Relationship
		case TypeSummary:
			out.Summary = &Summary{}
			dst = out.Summary
		default:
			continue
		}
		if err := json.Unmarshal(m.Content, dst); err != nil {
			slog.Warn("memory: decoding memory", "error", err, "type", m.Type, "user_id", userID)
			if m.Type == TypeSummary {
				out.Summary = nil
			}
		}
	}
	return out, nil
}

// List returns the raw memories of the conversation.
func (s *Service) List(ctx context.Context, userID, personaID uuid.UUID) ([]Memory, error) {
	return s.repo.ListMemories(ctx, userID, personaID)
}

// Upsert replaces the memory of the given type with content.
func (s *Service) Upsert(ctx context.Context, userID, personaID uuid.UUID, typ Type, content any) error {
	data, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("marshaling %s memory: %w", typ, err)
	}
	return s.repo.UpsertMemory(ctx, &Memory{UserID: userID, PersonaID: personaID, Type: typ, Content: data})
}

// Profile returns the stored profile, empty when none exists.
func (s *Service) Profile(ctx context.Context, userID, personaID uuid.UUID) (Profile, error) {
	m, err := s.repo.GetMemory(ctx, userID, personaID, TypeProfile)
	if err != nil {
		return nil, err
	}
	profile := Profile{}
	if m == nil {
		return profile, nil
	}
	if err := json.Unmarshal(m.Content, &profile); err != nil {
		slog.Warn("memory: decoding profile, starting fresh", "error", err, "user_id", userID)
		return Profile{}, nil
	}
	return profile, nil
}
