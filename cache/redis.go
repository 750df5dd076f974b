package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/use-agent/quietpage/models"
)

const redisKeyPrefix = "quietpage:settle:"

// redisEntry is the stored JSON document.
type redisEntry struct {
	CreatedAt int64                  `json:"created_at"` // unix millis
	Response  *models.SettleResponse `json:"response"`
}

// Redis is a Store shared between instances. Entries expire after ttl.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedis connects to the Redis server at rawURL
// (e.g. "redis://localhost:6379/0") and checks it with PING.
func NewRedis(ctx context.Context, rawURL string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: redis ping: %w", err)
	}
	return &Redis{client: client, ttl: ttl, now: time.Now}, nil
}

// Get implements Store. Redis errors are logged and count as a miss.
func (r *Redis) Get(ctx context.Context, key string, maxAge time.Duration) (*models.SettleResponse, bool) {
	if maxAge <= 0 {
		return nil, false
	}
	data, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		slog.Warn("cache: redis get failed", "error", err)
		return nil, false
	}
	return decodeEntry(data, r.now(), maxAge)
}

// Set implements Store.
func (r *Redis) Set(ctx context.Context, key string, resp *models.SettleResponse) {
	data, err := json.Marshal(redisEntry{CreatedAt: r.now().UnixMilli(), Response: resp})
	if err != nil {
		slog.Warn("cache: encode response failed", "error", err)
		return
	}
	if err := r.client.Set(ctx, redisKeyPrefix+key, data, r.ttl).Err(); err != nil {
		slog.Warn("cache: redis set failed", "error", err)
	}
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func decodeEntry(data []byte, now time.Time, maxAge time.Duration) (*models.SettleResponse, bool) {
	var e redisEntry
	if err := json.Unmarshal(data, &e); err != nil || e.Response == nil {
		return nil, false
	}
	if now.Sub(time.UnixMilli(e.CreatedAt)) > maxAge {
		return nil, false
	}
	return e.Response, true
}
