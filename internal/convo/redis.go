package convo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "convo:"

// RedisRegistry stores conversation bindings as JSON values with a TTL, so
// conversations survive process restarts and are visible to every instance.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRegistry(ctx context.Context, addr, password string, ttl time.Duration) (*RedisRegistry, error) {
	if ttl <= 0 {
		ttl = 720 * time.Hour
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisRegistry{client: client, ttl: ttl}, nil
}

func key(id string) string {
	return redisKeyPrefix + id
}

func (r *RedisRegistry) store(ctx context.Context, c Conversation) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	if err := r.client.Set(ctx, key(c.ID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("store conversation: %w", err)
	}
	return nil
}

func (r *RedisRegistry) load(ctx context.Context, id string) (Conversation, error) {
	raw, err := r.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("load conversation: %w", err)
	}
	var c Conversation
	if err := json.Unmarshal(raw, &c); err != nil {
		return Conversation{}, fmt.Errorf("decode conversation: %w", err)
	}
	return c, nil
}

func (r *RedisRegistry) Create(ctx context.Context, userID, characterID string) (Conversation, error) {
	now := time.Now().UTC()
	c := Conversation{
		ID:             uuid.NewString(),
		UserID:         userID,
		CharacterID:    characterID,
		State:          StateActive,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := r.store(ctx, c); err != nil {
		return Conversation{}, err
	}
	return c, nil
}

func (r *RedisRegistry) Get(ctx context.Context, id string) (Conversation, error) {
	return r.load(ctx, id)
}

func (r *RedisRegistry) Resume(ctx context.Context, id, userID, characterID string) (Conversation, error) {
	c, err := r.load(ctx, id)
	if err != nil {
		return Conversation{}, err
	}
	if c.UserID != userID || c.CharacterID != characterID {
		return Conversation{}, ErrOwnership
	}
	c.State = StateActive
	c.LastActivityAt = time.Now().UTC()
	if err := r.store(ctx, c); err != nil {
		return Conversation{}, err
	}
	return c, nil
}

func (r *RedisRegistry) Touch(ctx context.Context, id string) error {
	c, err := r.load(ctx, id)
	if err != nil {
		return err
	}
	c.LastActivityAt = time.Now().UTC()
	return r.store(ctx, c)
}

func (r *RedisRegistry) End(ctx context.Context, id string) (Conversation, error) {
	c, err := r.load(ctx, id)
	if err != nil {
		return Conversation{}, err
	}
	c.State = StateClosed
	c.LastActivityAt = time.Now().UTC()
	if err := r.store(ctx, c); err != nil {
		return Conversation{}, err
	}
	return c, nil
}

func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
