package convo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newRedisForTest(t *testing.T) *RedisRegistry {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := NewRedisRegistry(context.Background(), mr.Addr(), "", time.Hour)
	if err != nil {
		t.Fatalf("NewRedisRegistry() error = %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRedisRegistryLifecycle(t *testing.T) {
	r := newRedisForTest(t)
	ctx := context.Background()

	c, err := r.Create(ctx, "19", "char_jva1t0fu")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := r.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.UserID != "19" || got.CharacterID != "char_jva1t0fu" || got.State != StateActive {
		t.Fatalf("binding = %+v", got)
	}

	ended, err := r.End(ctx, c.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.State != StateClosed {
		t.Fatalf("State = %q, want %q", ended.State, StateClosed)
	}

	resumed, err := r.Resume(ctx, c.ID, "19", "char_jva1t0fu")
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if resumed.State != StateActive {
		t.Fatalf("State after resume = %q", resumed.State)
	}
}

func TestRedisRegistryOwnershipAndMissing(t *testing.T) {
	r := newRedisForTest(t)
	ctx := context.Background()

	c, err := r.Create(ctx, "19", "char_a")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := r.Resume(ctx, c.ID, "21", "char_a"); !errors.Is(err, ErrOwnership) {
		t.Fatalf("Resume() error = %v, want ErrOwnership", err)
	}
	if _, err := r.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
	if err := r.Touch(ctx, c.ID); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
}
