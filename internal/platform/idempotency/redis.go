package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "idempotency:"

// RedisStore shares idempotency records across API instances. Expiry is delegated to Redis key TTLs.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps client. An empty prefix falls back to "idempotency:".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Reserve implements the Store interface. SETNX makes the first writer win.
func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	redisKey := s.redisKey(key)

	// The existing key can expire between SETNX and GET; one retry covers that window.
	for attempt := 0; attempt < 2; attempt++ {
		fresh, err := reserve(nil, key, fingerprint, now, ttl)
		if err != nil {
			return Reservation{}, err
		}
		payload, err := json.Marshal(fresh.Record)
		if err != nil {
			return Reservation{}, fmt.Errorf("idempotency: encode record: %w", err)
		}
		created, err := s.client.SetNX(ctx, redisKey, payload, fresh.Record.ExpiresAt.Sub(now)).Result()
		if err != nil {
			return Reservation{}, fmt.Errorf("idempotency: redis setnx: %w", err)
		}
		if created {
			return fresh, nil
		}

		existing, err := s.load(ctx, redisKey)
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return Reservation{}, err
		}
		return reserve(&existing, key, fingerprint, now, ttl)
	}
	return Reservation{}, fmt.Errorf("idempotency: redis reservation for %s did not settle", key)
}

// SaveResponse implements the Store interface.
func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	redisKey := s.redisKey(key)

	var existing *Record
	record, err := s.load(ctx, redisKey)
	switch {
	case err == nil:
		existing = &record
	case !errors.Is(err, redis.Nil):
		return err
	}

	completed, err := complete(existing, key, fingerprint, resp, now, ttl)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(completed)
	if err != nil {
		return fmt.Errorf("idempotency: encode record: %w", err)
	}
	if err := s.client.Set(ctx, redisKey, payload, completed.ExpiresAt.Sub(now)).Err(); err != nil {
		return fmt.Errorf("idempotency: redis set: %w", err)
	}
	return nil
}

// Release implements the Store interface.
func (s *RedisStore) Release(ctx context.Context, key, _ string) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("idempotency: redis del: %w", err)
	}
	return nil
}

// CleanupExpired is a no-op; Redis evicts records when their TTL lapses.
func (s *RedisStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func (s *RedisStore) load(ctx context.Context, redisKey string) (Record, error) {
	raw, err := s.client.Get(ctx, redisKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, redis.Nil
		}
		return Record{}, fmt.Errorf("idempotency: redis get: %w", err)
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, fmt.Errorf("idempotency: decode record: %w", err)
	}
	return record, nil
}

func (s *RedisStore) redisKey(key string) string {
	return s.prefix + compositeKey(key)
}
