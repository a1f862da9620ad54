package cooldown

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"solar_monitor/pkg/logger"
)

// DefaultRedisKey is the hash holding cooldown timestamps
const DefaultRedisKey = "solar:alert_cooldowns"

// RedisStore persists cooldown entries as a single hash of key -> RFC3339 time
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client, hashKey string) *RedisStore {
	if hashKey == "" {
		hashKey = DefaultRedisKey
	}
	return &RedisStore{client: client, key: hashKey}
}

func (s *RedisStore) Load(ctx context.Context) (map[string]time.Time, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err == redis.Nil {
		return map[string]time.Time{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cooldowns: %w", err)
	}
	return decodeEntries(raw), nil
}

func (s *RedisStore) Save(ctx context.Context, key string, at time.Time) error {
	if err := s.client.HSet(ctx, s.key, key, encodeTime(at)).Err(); err != nil {
		return fmt.Errorf("save cooldown %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.HDel(ctx, s.key, key).Err(); err != nil {
		return fmt.Errorf("delete cooldown %s: %w", key, err)
	}
	return nil
}

func encodeTime(at time.Time) string {
	return at.UTC().Format(time.RFC3339Nano)
}

// decodeEntries parses stored values, skipping any that are malformed
func decodeEntries(raw map[string]string) map[string]time.Time {
	out := make(map[string]time.Time, len(raw))
	for k, v := range raw {
		at, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			logger.Warnf("cooldown: skipping malformed entry %s=%q", k, v)
			continue
		}
		out[k] = at
	}
	return out
}
