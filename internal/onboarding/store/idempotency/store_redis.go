package idempotency

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"onboarding-gateway/internal/onboarding/models"
	id "onboarding-gateway/pkg/domain"
	"onboarding-gateway/pkg/platform/sentinel"
)

const entryKeyPrefix = "onboarding:idem:"

// RedisStore is a Redis-backed IdempotencyStore. Unlike the Postgres store
// it cannot share a transaction with the record store, so it relies on the
// record store's request-id adoption plus the reaper to heal crash windows.
// Use it when the idempotency tier must scale independently of the database.
//
// Entries are hashes guarded by Lua scripts so claim and finalize are
// single atomic round trips.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore constructs a Redis-backed idempotency store. Entries expire
// after ttl; zero means no expiry.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// tryBeginScript claims the entry. KEYS[1] entry key, ARGV: fingerprint,
// now (RFC3339Nano), ttl seconds. Returns the begin outcome string.
var tryBeginScript = redis.NewScript(`
	local key = KEYS[1]
	local fingerprint = ARGV[1]
	local now = ARGV[2]
	local ttl = tonumber(ARGV[3])

	if redis.call("EXISTS", key) == 0 then
		redis.call("HSET", key,
			"fingerprint", fingerprint,
			"state", "in_progress",
			"created_at", now,
			"updated_at", now)
		if ttl > 0 then
			redis.call("EXPIRE", key, ttl)
		end
		return "inserted"
	end

	if redis.call("HGET", key, "fingerprint") ~= fingerprint then
		return "conflict"
	end

	local state = redis.call("HGET", key, "state")
	if state == "completed" then
		return "already_completed"
	end
	if state == "in_progress" then
		return "already_in_progress"
	end

	redis.call("HSET", key, "state", "in_progress", "updated_at", now)
	redis.call("HDEL", key, "result_payload", "result_status_code")
	return "inserted"
`)

// finalizeScript transitions in_progress to a terminal state. ARGV: state,
// payload, status code, now. Returns 1 on success, 0 when missing, -1 when
// not in_progress.
var finalizeScript = redis.NewScript(`
	local key = KEYS[1]
	if redis.call("EXISTS", key) == 0 then
		return 0
	end
	if redis.call("HGET", key, "state") ~= "in_progress" then
		return -1
	end
	redis.call("HSET", key,
		"state", ARGV[1],
		"result_payload", ARGV[2],
		"result_status_code", ARGV[3],
		"updated_at", ARGV[4])
	return 1
`)

func (s *RedisStore) TryBegin(ctx context.Context, requestID id.RequestID, fingerprint string, now time.Time) (*models.BeginResult, error) {
	key := entryKeyPrefix + requestID.String()
	outcome, err := tryBeginScript.Run(ctx, s.client, []string{key},
		fingerprint,
		now.UTC().Format(time.RFC3339Nano),
		int(s.ttl.Seconds()),
	).Text()
	if err != nil {
		return nil, fmt.Errorf("claim idempotency entry: %w", err)
	}

	switch models.BeginOutcome(outcome) {
	case models.BeginInserted:
		return &models.BeginResult{
			Outcome: models.BeginInserted,
			Entry: &models.IdempotencyEntry{
				RequestID:   requestID,
				Fingerprint: fingerprint,
				State:       models.IdempotencyInProgress,
				CreatedAt:   now,
				UpdatedAt:   now,
			},
		}, nil
	case models.BeginConflict:
		return &models.BeginResult{Outcome: models.BeginConflict}, nil
	}

	entry, err := s.Find(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return &models.BeginResult{Outcome: models.BeginOutcome(outcome), Entry: entry}, nil
}

func (s *RedisStore) Finalize(ctx context.Context, requestID id.RequestID, state models.IdempotencyState, payload []byte, statusCode int, now time.Time) error {
	key := entryKeyPrefix + requestID.String()
	result, err := finalizeScript.Run(ctx, s.client, []string{key},
		string(state),
		string(payload),
		statusCode,
		now.UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return fmt.Errorf("finalize idempotency entry: %w", err)
	}
	switch result {
	case 0:
		return sentinel.ErrNotFound
	case -1:
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *RedisStore) Find(ctx context.Context, requestID id.RequestID) (*models.IdempotencyEntry, error) {
	key := entryKeyPrefix + requestID.String()
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("find idempotency entry: %w", err)
	}
	if len(fields) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return entryFromHash(requestID, fields)
}

// ReapStale scans for abandoned in_progress entries. Redis expiry already
// bounds entry lifetime; the reaper additionally frees claims well before
// the TTL so retries are not blocked for the full expiry window.
func (s *RedisStore) ReapStale(ctx context.Context, cutoff time.Time) (int, error) {
	reaped := 0
	iter := s.client.Scan(ctx, 0, entryKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		fields, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			return reaped, fmt.Errorf("reap stale entries: %w", err)
		}
		if fields["state"] != string(models.IdempotencyInProgress) {
			continue
		}
		updatedAt, err := time.Parse(time.RFC3339Nano, fields["updated_at"])
		if err != nil || !updatedAt.Before(cutoff) {
			continue
		}
		err = s.client.HSet(ctx, key,
			"state", string(models.IdempotencyFailed),
			"updated_at", cutoff.UTC().Format(time.RFC3339Nano),
		).Err()
		if err != nil {
			return reaped, fmt.Errorf("reap stale entries: %w", err)
		}
		reaped++
	}
	if err := iter.Err(); err != nil {
		return reaped, fmt.Errorf("reap stale entries: %w", err)
	}
	return reaped, nil
}

func entryFromHash(requestID id.RequestID, fields map[string]string) (*models.IdempotencyEntry, error) {
	entry := &models.IdempotencyEntry{
		RequestID:   requestID,
		Fingerprint: fields["fingerprint"],
		State:       models.IdempotencyState(fields["state"]),
	}
	if payload, ok := fields["result_payload"]; ok && payload != "" {
		entry.ResultPayload = []byte(payload)
	}
	if code, ok := fields["result_status_code"]; ok && code != "" {
		parsed, err := strconv.Atoi(code)
		if err != nil {
			return nil, fmt.Errorf("parse idempotency status code: %w", err)
		}
		entry.ResultStatusCode = parsed
	}
	for field, target := range map[string]*time.Time{
		"created_at": &entry.CreatedAt,
		"updated_at": &entry.UpdatedAt,
	} {
		if raw, ok := fields[field]; ok && raw != "" {
			parsed, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				return nil, fmt.Errorf("parse idempotency %s: %w", field, err)
			}
			*target = parsed
		}
	}
	return entry, nil
}
