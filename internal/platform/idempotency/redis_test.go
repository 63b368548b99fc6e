package idempotency

import (
	"context"
	"errors"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("API_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("API_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	return NewRedisStore(client, "idempotency-test:"+t.Name()+":")
}

func TestRedisStoreReserveAndReplay(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first, err := store.Reserve(ctx, "key-1", "fp", now, time.Minute)
	if err != nil || first.State != ReservationStateNew {
		t.Fatalf("expected new reservation, got %+v / %v", first, err)
	}
	t.Cleanup(func() { _ = store.Release(ctx, "key-1", "fp") })

	pending, err := store.Reserve(ctx, "key-1", "fp", now, time.Minute)
	if err != nil || pending.State != ReservationStatePending {
		t.Fatalf("expected pending reservation, got %+v / %v", pending, err)
	}
	if _, err := store.Reserve(ctx, "key-1", "other", now, time.Minute); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected fingerprint mismatch, got %v", err)
	}

	resp := Response{Status: http.StatusCreated, Headers: http.Header{"Content-Type": {"application/json"}}, Body: []byte(`{"ok":true}`)}
	if err := store.SaveResponse(ctx, "key-1", "fp", resp, now, time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	done, err := store.Reserve(ctx, "key-1", "fp", now, time.Minute)
	if err != nil || done.State != ReservationStateCompleted {
		t.Fatalf("expected completed reservation, got %+v / %v", done, err)
	}
	if done.Record.ResponseStatus != http.StatusCreated || string(done.Record.ResponseBody) != `{"ok":true}` {
		t.Fatalf("unexpected stored response %+v", done.Record)
	}
}

func TestRedisStoreReleaseAllowsRetry(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := store.Reserve(ctx, "key-2", "fp", now, time.Minute); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := store.Release(ctx, "key-2", "fp"); err != nil {
		t.Fatalf("release: %v", err)
	}
	again, err := store.Reserve(ctx, "key-2", "fp", now, time.Minute)
	if err != nil || again.State != ReservationStateNew {
		t.Fatalf("expected fresh reservation after release, got %+v / %v", again, err)
	}
	_ = store.Release(ctx, "key-2", "fp")
}
