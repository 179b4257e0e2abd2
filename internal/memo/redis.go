package memo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"divorcecast/internal/config"
	apperrors "divorcecast/internal/errors"
)

const scanBatch = 100

// RedisStore is a Store backed by Redis. Every key is namespaced with
// prefix so several deployments can share a database.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to the configured server and verifies the
// connection with PING.
func NewRedisStore(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, apperrors.NewStorageError(fmt.Sprintf("failed to connect to Redis at %s", cfg.RedisAddr), err)
	}

	if logger != nil {
		logger.Info("Connected to Redis",
			slog.String("addr", cfg.RedisAddr),
			slog.Int("db", cfg.RedisDB),
			slog.String("prefix", cfg.RedisPrefix))
	}
	return NewRedisStoreFromClient(client, cfg.RedisPrefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.NewStorageError("redis get failed", err).WithContext("key", key)
	}
	return data, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		return apperrors.NewStorageError("redis set failed", err).WithContext("key", key)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return apperrors.NewStorageError("redis del failed", err).WithContext("key", key)
	}
	return nil
}

// DeletePrefix removes matching keys with SCAN so the server is never
// blocked by KEYS.
func (s *RedisStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	pattern := s.prefix + prefix + "*"
	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return deleted, apperrors.NewStorageError("redis scan failed", err).WithContext("prefix", prefix)
		}
		if len(keys) > 0 {
			n, err := s.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, apperrors.NewStorageError("redis del failed", err).WithContext("prefix", prefix)
			}
			deleted += int(n)
		}
		if next == 0 {
			return deleted, nil
		}
		cursor = next
	}
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// NewStore builds the backend selected by cfg.Backend.
func NewStore(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "none":
		return NopStore{}, nil
	case "redis":
		store, err := NewRedisStore(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, apperrors.NewConfigError(fmt.Sprintf("unknown cache backend %q", cfg.Backend), nil)
}
