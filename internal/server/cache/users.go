// Package cache keeps short-lived copies of user records in redis so the
// per-request caller lookup does not hit PostgreSQL every time.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ken-lyk/qrkeeper/internal/logging"
	"github.com/ken-lyk/qrkeeper/internal/server/models"
	"github.com/redis/go-redis/v9"
)

// UserCache is best effort: a miss or a backend failure simply means the
// caller falls back to the database.
type UserCache interface {
	Get(ctx context.Context, id string) (*models.User, bool)
	Set(ctx context.Context, user *models.User)
	Invalidate(ctx context.Context, id string)
}

// NewRedisClient connects to addr and verifies the connection with PING.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// cachedUser is the stored shape. The password hash never leaves PostgreSQL.
type cachedUser struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type RedisUserCache struct {
	client *redis.Client
	ttl    time.Duration
	logger logging.Logger
}

func NewRedisUserCache(client *redis.Client, ttl time.Duration, l logging.Logger) *RedisUserCache {
	return &RedisUserCache{client: client, ttl: ttl, logger: l.With("module", "user_cache")}
}

func userKey(id string) string {
	return "qrkeeper:user:" + id
}

func (c *RedisUserCache) Get(ctx context.Context, id string) (*models.User, bool) {
	raw, err := c.client.Get(ctx, userKey(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn(ctx, "user cache get failed", "user_id", id, "error", err)
		}
		return nil, false
	}

	var cu cachedUser
	if err := json.Unmarshal(raw, &cu); err != nil {
		c.logger.Warn(ctx, "user cache entry unreadable", "user_id", id, "error", err)
		return nil, false
	}
	role, err := models.ParseRole(cu.Role)
	if err != nil {
		return nil, false
	}

	return &models.User{
		ID:        cu.ID,
		Name:      cu.Name,
		Email:     cu.Email,
		Role:      role,
		Enabled:   cu.Enabled,
		CreatedAt: cu.CreatedAt,
		UpdatedAt: cu.UpdatedAt,
	}, true
}

func (c *RedisUserCache) Set(ctx context.Context, user *models.User) {
	raw, err := json.Marshal(cachedUser{
		ID:        user.ID,
		Name:      user.Name,
		Email:     user.Email,
		Role:      string(user.Role),
		Enabled:   user.Enabled,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	})
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, userKey(user.ID), raw, c.ttl).Err(); err != nil {
		c.logger.Warn(ctx, "user cache set failed", "user_id", user.ID, "error", err)
	}
}

func (c *RedisUserCache) Invalidate(ctx context.Context, id string) {
	if err := c.client.Del(ctx, userKey(id)).Err(); err != nil {
		c.logger.Warn(ctx, "user cache invalidate failed", "user_id", id, "error", err)
	}
}

// NopUserCache never stores anything.
type NopUserCache struct{}

func (NopUserCache) Get(context.Context, string) (*models.User, bool) { return nil, false }
func (NopUserCache) Set(context.Context, *models.User)                {}
func (NopUserCache) Invalidate(context.Context, string)               {}
