package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "idempotency:"

// saveScript stores the completed record unless the key now belongs to another fingerprint.
// KEYS[1] = record key, ARGV[1] = fingerprint, ARGV[2] = record JSON, ARGV[3] = ttl ms
var saveScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current then
  local decoded = cjson.decode(current)
  if decoded["fingerprint"] ~= ARGV[1] then
    return 0
  end
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

// releaseScript deletes the key only while it belongs to the caller's fingerprint.
var releaseScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current and cjson.decode(current)["fingerprint"] == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore shares reservations across instances. Expiry is delegated to Redis TTLs.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	pending := Record{Fingerprint: fingerprint, Status: StatusPending, CreatedAt: now, ExpiresAt: now.Add(ttl)}
	payload, err := json.Marshal(pending)
	if err != nil {
		return Reservation{}, err
	}

	redisKey := redisKeyPrefix + hashKey(key)
	created, err := s.client.SetNX(ctx, redisKey, payload, ttl).Result()
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: reserve: %w", err)
	}
	if created {
		return Reservation{State: ReservationStateNew, Record: pending}, nil
	}

	raw, err := s.client.Get(ctx, redisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; try once more.
		return s.Reserve(ctx, key, fingerprint, now, ttl)
	}
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: load: %w", err)
	}
	return reservationFromPayload(raw, fingerprint)
}

func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	payload, err := json.Marshal(completedRecord(fingerprint, resp, time.Time{}, now, ttl))
	if err != nil {
		return err
	}
	stored, err := saveScript.Run(ctx, s.client, []string{redisKeyPrefix + hashKey(key)}, fingerprint, string(payload), ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("idempotency: save: %w", err)
	}
	if stored == 0 {
		return ErrFingerprintMismatch
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key, fingerprint string) error {
	if err := releaseScript.Run(ctx, s.client, []string{redisKeyPrefix + hashKey(key)}, fingerprint).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("idempotency: release: %w", err)
	}
	return nil
}

func reservationFromPayload(raw []byte, fingerprint string) (Reservation, error) {
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Reservation{}, fmt.Errorf("idempotency: decode record: %w", err)
	}
	if record.Fingerprint != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}
	if record.Status == StatusCompleted {
		return Reservation{State: ReservationStateCompleted, Record: record}, nil
	}
	return Reservation{State: ReservationStatePending, Record: record}, nil
}
