// Package session keeps refresh sessions in Redis, keyed by the hash of the
// refresh token.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pingin/api/internal/auth"
	"pingin/api/internal/rbac"
)

// ErrNotFound means the refresh token is unknown, expired or already used.
var ErrNotFound = errors.New("refresh session not found or expired")

const (
	keyPrefix     = "pingin:refresh:"
	revokedPrefix = "pingin:revoked:"
)

type record struct {
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to redisURL and pings it.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func key(tokenHash string) string {
	return keyPrefix + tokenHash
}

// Save stores the principal under tokenHash until expiresAt.
func (s *RedisStore) Save(ctx context.Context, tokenHash string, p auth.Principal, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return fmt.Errorf("save refresh session: expiry %s is in the past", expiresAt.Format(time.RFC3339))
	}
	data, err := json.Marshal(record{UserID: p.UserID, Name: p.Name, Role: string(p.Role), CreatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal refresh session: %w", err)
	}
	if err := s.client.Set(ctx, key(tokenHash), data, ttl).Err(); err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

// Lookup returns the principal stored under tokenHash.
func (s *RedisStore) Lookup(ctx context.Context, tokenHash string) (auth.Principal, error) {
	raw, err := s.client.Get(ctx, key(tokenHash)).Bytes()
	return decode(raw, err)
}

// Consume returns the principal and deletes the session in one step, so a
// refresh token can only be exchanged once.
func (s *RedisStore) Consume(ctx context.Context, tokenHash string) (auth.Principal, error) {
	raw, err := s.client.GetDel(ctx, key(tokenHash)).Bytes()
	return decode(raw, err)
}

func decode(raw []byte, err error) (auth.Principal, error) {
	if errors.Is(err, redis.Nil) {
		return auth.Principal{}, ErrNotFound
	}
	if err != nil {
		return auth.Principal{}, fmt.Errorf("lookup refresh session: %w", err)
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return auth.Principal{}, fmt.Errorf("decode refresh session: %w", err)
	}
	return auth.Principal{UserID: rec.UserID, Name: rec.Name, Role: rbac.Normalize(rec.Role)}, nil
}

// Revoke deletes a session. Revoking an unknown token is not an error.
func (s *RedisStore) Revoke(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, key(tokenHash)).Err(); err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// RevokeAccess blocks an access token id until the token would have expired
// anyway. Already-expired tokens need no entry.
func (s *RedisStore) RevokeAccess(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if jti == "" || ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, revokedPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *RedisStore) IsAccessRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, revokedPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("check access token: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
