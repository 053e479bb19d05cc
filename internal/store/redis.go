package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ocmod-labs/ocmodctl/internal/registry"
)

const defaultRedisURL = "redis://localhost:6379"

// RedisSettings keeps settings groups in Redis hashes, one hash per group.
// It lets several ocmodctl processes share deploy state such as the
// rate-limit stamp.
type RedisSettings struct {
	client *redis.Client
	prefix string
}

var _ registry.SettingsStore = (*RedisSettings)(nil)

// NewRedisSettings connects to url and verifies the connection.
func NewRedisSettings(url, prefix string) (*RedisSettings, error) {
	if url == "" {
		url = defaultRedisURL
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisSettings{client: client, prefix: prefix}, nil
}

// Close shuts down the Redis client.
func (s *RedisSettings) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisSettings) key(group string) string {
	return s.prefix + "setting:" + group
}

// GetSetting returns the hash for group.
func (s *RedisSettings) GetSetting(ctx context.Context, group string) (map[string]string, error) {
	values, err := s.client.HGetAll(ctx, s.key(group)).Result()
	if err != nil {
		return nil, fmt.Errorf("read settings %s: %w", group, err)
	}
	return values, nil
}

// EditSetting replaces the hash for group atomically.
func (s *RedisSettings) EditSetting(ctx context.Context, group string, values map[string]string) error {
	key := s.key(group)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(values) > 0 {
			args := make([]any, 0, len(values)*2)
			for k, v := range values {
				args = append(args, k, v)
			}
			pipe.HSet(ctx, key, args...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write settings %s: %w", group, err)
	}
	return nil
}
