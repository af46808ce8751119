package convo

import (
	"context"
	"strings"
	"time"
)

// New selects a registry backend: redis when an address is configured,
// otherwise in-process memory.
func New(ctx context.Context, redisAddr, redisPassword string, ttl time.Duration) (Registry, error) {
	if strings.TrimSpace(redisAddr) == "" {
		return NewMemoryRegistry(ttl), nil
	}
	return NewRedisRegistry(ctx, redisAddr, redisPassword, ttl)
}
