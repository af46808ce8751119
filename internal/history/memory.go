package history

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// MemoryStore is the in-process backend for local/dev use. Each conversation
// owns its own lock so appends to distinct conversations never contend.
type MemoryStore struct {
	mu   sync.RWMutex
	logs map[string]*convLog
}

type convLog struct {
	mu    sync.Mutex
	turns []Turn
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[string]*convLog)}
}

func (s *MemoryStore) log(conversationID string) *convLog {
	s.mu.RLock()
	l, ok := s.logs[conversationID]
	s.mu.RUnlock()
	if ok {
		return l
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok = s.logs[conversationID]; ok {
		return l
	}
	l = &convLog{}
	s.logs[conversationID] = l
	return l
}

func (s *MemoryStore) AppendTurn(_ context.Context, conversationID, speakerID, content, emotionTag string) (Turn, error) {
	if strings.TrimSpace(content) == "" {
		return Turn{}, ErrEmptyContent
	}

	l := s.log(conversationID)
	l.mu.Lock()
	defer l.mu.Unlock()

	turn := Turn{
		ID:             ulid.Make().String(),
		ConversationID: conversationID,
		TurnNum:        int64(len(l.turns)) + 1,
		SpeakerID:      speakerID,
		Content:        content,
		EmotionTag:     emotionTag,
		CreatedAt:      time.Now().UTC(),
	}
	l.turns = append(l.turns, turn)
	return turn, nil
}

func (s *MemoryStore) Recent(_ context.Context, conversationID string, limit int) ([]Turn, error) {
	l := s.log(conversationID)
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.turns)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Turn, limit)
	copy(out, l.turns[n-limit:])
	return out, nil
}

func (s *MemoryStore) All(_ context.Context, conversationID string) ([]Turn, error) {
	l := s.log(conversationID)
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
