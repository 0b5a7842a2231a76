package resume

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/signaling"
)

const (
	defaultKeyPrefix = "teleop:resume:"
	// busyTTL bounds how long a marker left by a crashed console blocks its
	// room.
	busyTTL = 12 * time.Hour
)

// RedisStore keeps markers and stashes in Redis, so a console on another
// host can resume a room.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: defaultKeyPrefix}
}

// DialRedis connects to addr and checks the connection.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}
	return client, nil
}

func (s *RedisStore) busyKey(room string) string { return s.prefix + "busy:" + room }
func (s *RedisStore) stashKey(key string) string { return s.prefix + "stash:" + key }

func (s *RedisStore) Acquire(ctx context.Context, room string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.busyKey(room), "busy", busyTTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquire busy marker: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) Release(ctx context.Context, room string) error {
	if err := s.client.Del(ctx, s.busyKey(room)).Err(); err != nil {
		return fmt.Errorf("release busy marker: %w", err)
	}
	return nil
}

func (s *RedisStore) Stash(ctx context.Context, key string, cfg signaling.ServerConfig, ttl time.Duration) error {
	if ttl <= 0 {
		return s.client.Del(ctx, s.stashKey(key)).Err()
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode stashed configuration: %w", err)
	}
	if err := s.client.Set(ctx, s.stashKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("stash configuration: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, key string) (signaling.ServerConfig, error) {
	data, err := s.client.Get(ctx, s.stashKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return signaling.ServerConfig{}, ErrNotFound
	}
	if err != nil {
		return signaling.ServerConfig{}, fmt.Errorf("load stashed configuration: %w", err)
	}
	var cfg signaling.ServerConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return signaling.ServerConfig{}, fmt.Errorf("decode stashed configuration: %w", err)
	}
	return cfg, nil
}
