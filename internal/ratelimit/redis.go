package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const cursorPrefix = "ratelimit:"

// advanceScript swaps the cursor only while it still holds the expected slot
var advanceScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[2])
	return 1
end
return 0
`)

// RedisCursorStore implements CursorStore using Redis
type RedisCursorStore struct {
	client *redis.Client
}

// NewRedisCursorStore creates a new Redis-backed cursor store
func NewRedisCursorStore(client *redis.Client) *RedisCursorStore {
	return &RedisCursorStore{client: client}
}

// CheckHealth verifies Redis connectivity
func (s *RedisCursorStore) CheckHealth(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// LoadCursor returns the current slot for bucket
func (s *RedisCursorStore) LoadCursor(ctx context.Context, bucket string) (int64, bool, error) {
	raw, err := s.client.Get(ctx, cursorPrefix+bucket).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("getting cursor: %w", err)
	}

	slot, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parsing cursor %q: %w", raw, err)
	}
	return slot, true, nil
}

// InsertCursor creates bucket at slot unless it already exists
func (s *RedisCursorStore) InsertCursor(ctx context.Context, bucket string, slot int64) (bool, error) {
	ok, err := s.client.SetNX(ctx, cursorPrefix+bucket, strconv.FormatInt(slot, 10), 0).Result()
	if err != nil {
		return false, fmt.Errorf("inserting cursor: %w", err)
	}
	return ok, nil
}

// AdvanceCursor moves bucket from prev to next atomically
func (s *RedisCursorStore) AdvanceCursor(ctx context.Context, bucket string, prev, next int64) (bool, error) {
	n, err := advanceScript.Run(ctx, s.client,
		[]string{cursorPrefix + bucket},
		strconv.FormatInt(prev, 10),
		strconv.FormatInt(next, 10),
	).Int()
	if err != nil {
		return false, fmt.Errorf("advancing cursor: %w", err)
	}
	return n == 1, nil
}
