package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps the redis client. Besides backing the scan-event queue it
// holds operator records and refresh tokens for the terminal.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis with short timeouts.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// UpsertOperator records the operator's display name keyed by id.
func (r *Redis) UpsertOperator(ctx context.Context, id, name string) error {
	return r.Client.HSet(ctx, "eduguard:operators", id, name).Err()
}

// SaveRefreshToken stores a refresh token until it expires.
func (r *Redis) SaveRefreshToken(ctx context.Context, operatorID, token string, expiresAt time.Time) error {
	return r.Client.Set(ctx, "eduguard:refresh:"+token, operatorID, time.Until(expiresAt)).Err()
}
