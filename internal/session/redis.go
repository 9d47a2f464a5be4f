package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/go-redis/redis/v8"
)

// DefaultKeyPrefix namespaces session keys in Redis.
const DefaultKeyPrefix = "replypipe:session:"

// RedisStore keeps sessions in Redis so several workers can share them.
// Expiry is delegated to Redis key TTLs, refreshed on every Save.
type RedisStore struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

// RedisOpts holds configuration for RedisStore.
type RedisOpts struct {
	URL    string
	TTL    time.Duration
	Prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisOpts)

// WithRedisURL sets the redis:// connection URL.
func WithRedisURL(url string) RedisOption {
	return func(o *RedisOpts) { o.URL = url }
}

// WithRedisTTL overrides the session TTL.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(o *RedisOpts) { o.TTL = ttl }
}

// WithKeyPrefix overrides the key namespace.
func WithKeyPrefix(prefix string) RedisOption {
	return func(o *RedisOpts) { o.Prefix = prefix }
}

// NewRedisStore connects to Redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, opts ...RedisOption) (*RedisStore, error) {
	cfg := RedisOpts{TTL: DefaultTTL, Prefix: DefaultKeyPrefix}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis URL not set")
	}

	redisOpts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	redisOpts.DialTimeout = 5 * time.Second
	redisOpts.ReadTimeout = 3 * time.Second
	redisOpts.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	slog.Debug("RedisStore connected", "ttl", cfg.TTL, "prefix", cfg.Prefix)
	return NewRedisStoreFromClient(rdb, cfg.TTL, cfg.Prefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(rdb *redis.Client, ttl time.Duration, prefix string) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{rdb: rdb, ttl: ttl, prefix: prefix}
}

func (r *RedisStore) key(chatID string) string {
	return r.prefix + chatID
}

// Get loads the session for chatID; Redis has already dropped expired keys.
func (r *RedisStore) Get(ctx context.Context, chatID string) (*models.AppointmentSession, error) {
	raw, err := r.rdb.Get(ctx, r.key(chatID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		slog.Error("RedisStore.Get: failed", "error", err, "chatID", chatID)
		return nil, fmt.Errorf("failed to load session %s: %w", chatID, err)
	}

	var s models.AppointmentSession
	if err := json.Unmarshal(raw, &s); err != nil {
		slog.Error("RedisStore.Get: corrupt session, discarding", "error", err, "chatID", chatID)
		r.rdb.Del(ctx, r.key(chatID))
		return nil, nil
	}
	return &s, nil
}

// Save writes the session and refreshes its TTL.
func (r *RedisStore) Save(ctx context.Context, s *models.AppointmentSession) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", s.ChatID, err)
	}
	if err := r.rdb.Set(ctx, r.key(s.ChatID), raw, r.ttl).Err(); err != nil {
		slog.Error("RedisStore.Save: failed", "error", err, "chatID", s.ChatID)
		return fmt.Errorf("failed to save session %s: %w", s.ChatID, err)
	}
	return nil
}

// Delete removes the session key.
func (r *RedisStore) Delete(ctx context.Context, chatID string) error {
	if err := r.rdb.Del(ctx, r.key(chatID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", chatID, err)
	}
	return nil
}

// Close closes the underlying client.
func (r *RedisStore) Close() error {
	return r.rdb.Close()
}
