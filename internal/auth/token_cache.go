package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// TokenExpiryBuffer is how long before expiry a cached token is refreshed.
const TokenExpiryBuffer = 60 * time.Second

type TokenCache struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (tc *TokenCache) IsValid(now time.Time) bool {
	if tc == nil || tc.Token == "" {
		return false
	}
	return now.Add(TokenExpiryBuffer).Before(tc.ExpiresAt)
}

// RedisTokenCache shares one service token across every process.
type RedisTokenCache struct {
	Client *redis.Client
	Key    string
}

func NewRedisTokenCache(client *redis.Client, key string) *RedisTokenCache {
	return &RedisTokenCache{Client: client, Key: key}
}

// GetToken returns nil, nil when nothing usable is cached.
func (c *RedisTokenCache) GetToken(ctx context.Context) (*TokenCache, error) {
	if c.Client == nil {
		return nil, errors.New("redis client not initialized")
	}

	tokenJSON, err := c.Client.Get(ctx, c.Key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get token from Redis: %w", err)
	}

	var tokenCache TokenCache
	if err := json.Unmarshal([]byte(tokenJSON), &tokenCache); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token cache: %w", err)
	}
	if !tokenCache.IsValid(time.Now()) {
		return nil, nil
	}
	return &tokenCache, nil
}

func (c *RedisTokenCache) SetToken(ctx context.Context, token string, expiresIn time.Duration) error {
	if c.Client == nil {
		return errors.New("redis client not initialized")
	}

	tokenJSON, err := json.Marshal(&TokenCache{Token: token, ExpiresAt: time.Now().Add(expiresIn)})
	if err != nil {
		return fmt.Errorf("failed to marshal token cache: %w", err)
	}

	// Redis TTL outlives the token slightly so IsValid decides, not eviction.
	if err := c.Client.Set(ctx, c.Key, tokenJSON, expiresIn+TokenExpiryBuffer).Err(); err != nil {
		return fmt.Errorf("failed to store token in Redis: %w", err)
	}
	return nil
}
