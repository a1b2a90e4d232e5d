package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/mossy-p/peercam/config"
	"github.com/redis/go-redis/v9"
)

const presenceKeyPrefix = "peercam:peer:"

// Connect creates a client and verifies the connection.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// Presence claims peer identities in Redis so that every signaling instance
// sharing the database hands out distinct ids. Claims expire after ttl in
// case an instance dies without releasing them.
type Presence struct {
	client   redis.Cmdable
	ttl      time.Duration
	instance string
}

func NewPresence(client redis.Cmdable, ttl time.Duration, instance string) *Presence {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Presence{client: client, ttl: ttl, instance: instance}
}

func (p *Presence) Claim(ctx context.Context, id string) (bool, error) {
	ok, err := p.client.SetNX(ctx, presenceKeyPrefix+id, p.instance, p.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", id, err)
	}
	return ok, nil
}

func (p *Presence) Release(ctx context.Context, id string) error {
	if err := p.client.Del(ctx, presenceKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", id, err)
	}
	return nil
}

// Refresh extends the claim on id for another ttl. It reports false when
// another instance holds id; an expired claim is taken again if still free.
func (p *Presence) Refresh(ctx context.Context, id string) (bool, error) {
	owner, err := p.Owner(ctx, id)
	if err != nil {
		return false, err
	}
	switch owner {
	case p.instance:
		if err := p.client.Expire(ctx, presenceKeyPrefix+id, p.ttl).Err(); err != nil {
			return false, fmt.Errorf("redis expire %s: %w", id, err)
		}
		return true, nil
	case "":
		return p.Claim(ctx, id)
	}
	return false, nil
}

// Owner returns the instance holding id, or "" when unclaimed.
func (p *Presence) Owner(ctx context.Context, id string) (string, error) {
	owner, err := p.client.Get(ctx, presenceKeyPrefix+id).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", id, err)
	}
	return owner, nil
}
