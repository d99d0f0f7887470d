package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ghtak/stardust/internal/errorx"
)

const authRequestPrefix = "oauth2:req:"

// RedisRequestStore keeps pending authorization requests in Redis with a TTL
// matching the request expiry, so parked requests disappear on their own
// instead of accumulating in the relational store.
type RedisRequestStore struct {
	client *redis.Client
}

// NewRedisRequestStore connects to Redis using a redis:// URL and verifies
// connectivity.
func NewRedisRequestStore(url string) (*RedisRequestStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &RedisRequestStore{client: client}, nil
}

// NewRedisRequestStoreFromClient wraps an existing client, used by tests.
func NewRedisRequestStoreFromClient(client *redis.Client) *RedisRequestStore {
	return &RedisRequestStore{client: client}
}

func (s *RedisRequestStore) SaveRequest(ctx context.Context, req *AuthRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return errorx.Internal("marshal auth request failed", err)
	}

	ttl := time.Until(req.ExpiresAt)
	if ttl <= 0 {
		return errorx.InvalidParameter("auth request already expired")
	}

	key := authRequestPrefix + req.RequestID
	if err := s.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return errorx.Internal("store auth request failed", err)
	}
	return nil
}

func (s *RedisRequestStore) TakeRequest(ctx context.Context, requestID string) (*AuthRequest, error) {
	key := authRequestPrefix + requestID
	val, err := s.client.GetDel(ctx, key).Result()
	if err == redis.Nil {
		return nil, errorx.ErrNotFound
	}
	if err != nil {
		return nil, errorx.Internal("load auth request failed", err)
	}

	var req AuthRequest
	if err := json.Unmarshal([]byte(val), &req); err != nil {
		return nil, errorx.Internal("decode auth request failed", err)
	}
	return &req, nil
}

// Close closes the underlying client.
func (s *RedisRequestStore) Close() error {
	return s.client.Close()
}
