package convo

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRegistry keeps conversation bindings in process memory.
type MemoryRegistry struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	ttl           time.Duration
}

func NewMemoryRegistry(ttl time.Duration) *MemoryRegistry {
	if ttl <= 0 {
		ttl = 720 * time.Hour
	}
	return &MemoryRegistry{
		conversations: make(map[string]*Conversation),
		ttl:           ttl,
	}
}

func (r *MemoryRegistry) Create(_ context.Context, userID, characterID string) (Conversation, error) {
	now := time.Now().UTC()
	c := &Conversation{
		ID:             uuid.NewString(),
		UserID:         userID,
		CharacterID:    characterID,
		State:          StateActive,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversations[c.ID] = c
	return *c, nil
}

func (r *MemoryRegistry) Get(_ context.Context, id string) (Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return *c, nil
}

func (r *MemoryRegistry) Resume(_ context.Context, id, userID, characterID string) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	if c.UserID != userID || c.CharacterID != characterID {
		return Conversation{}, ErrOwnership
	}
	c.State = StateActive
	c.LastActivityAt = time.Now().UTC()
	return *c, nil
}

func (r *MemoryRegistry) Touch(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.LastActivityAt = time.Now().UTC()
	return nil
}

func (r *MemoryRegistry) End(_ context.Context, id string) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	c.State = StateClosed
	c.LastActivityAt = time.Now().UTC()
	return *c, nil
}

// StartJanitor drops bindings idle beyond the TTL. Closed conversations are
// kept until then so a recent id can still be resumed.
func (r *MemoryRegistry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.expireIdle()
			}
		}
	}()
}

func (r *MemoryRegistry) expireIdle() {
	cutoff := time.Now().UTC().Add(-r.ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.conversations {
		if c.LastActivityAt.Before(cutoff) {
			delete(r.conversations, id)
		}
	}
}

func (r *MemoryRegistry) Close() error { return nil }
