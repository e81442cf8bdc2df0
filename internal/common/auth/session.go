// Package auth exposes the current session credential as a read-only
// capability. The client core never performs login, logout, or refresh;
// it only reads whatever token the surrounding application maintains.
package auth

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"valueprop-client/internal/common/config"
)

// TokenSource yields the bearer token for the active session, if any.
// Implementations must be safe for concurrent reads and must never
// mutate the underlying session.
type TokenSource interface {
	Token(ctx context.Context) (string, bool)
}

// StaticTokenSource returns a fixed token, or no session when empty.
// Used for tests and for single-shot CLI invocations with an exported
// WORKFLOW_SESSION_TOKEN.
type StaticTokenSource struct {
	token string
}

func NewStaticTokenSource(token string) *StaticTokenSource {
	return &StaticTokenSource{token: token}
}

func (s *StaticTokenSource) Token(ctx context.Context) (string, bool) {
	if s.token == "" {
		return "", false
	}
	return s.token, true
}

// RedisSessionSource reads the active session token from a Redis key
// the surrounding application owns. A missing key means no session.
type RedisSessionSource struct {
	client *redis.Client
	key    string
}

func NewRedisSessionSource(cfg config.RedisConfig, key string) *RedisSessionSource {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	return &RedisSessionSource{client: rdb, key: key}
}

// NewRedisSessionSourceWithClient wraps an existing client, used by tests.
func NewRedisSessionSourceWithClient(client *redis.Client, key string) *RedisSessionSource {
	return &RedisSessionSource{client: client, key: key}
}

func (s *RedisSessionSource) Token(ctx context.Context) (string, bool) {
	val, err := s.client.Get(ctx, s.key).Result()
	if err != nil {
		// redis.Nil means no session. An unreachable store is treated
		// the same way: the request goes out unauthenticated and the
		// server's rejection surfaces as a normal HTTP error.
		return "", false
	}
	if val == "" {
		return "", false
	}
	return val, true
}

// Ping tests the Redis connection.
func (s *RedisSessionSource) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisSessionSource) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
