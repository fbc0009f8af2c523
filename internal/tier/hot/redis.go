package hot

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the production hot tier, grounded on the pack's go-redis/v9
// usage (evalgo-org-eve's db/repository.RedisRepository, wisbric-nightowl)
// rather than the teacher itself, which has no external cache backend.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to addr and verifies connectivity with a bounded ping,
// mirroring the pack's NewRedisRepository connection-check-on-construct
// pattern.
func NewRedis(addr string, prefix string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("hot tier: connecting to redis: %w", err)
	}

	return &Redis{client: client, prefix: prefix}, nil
}

func (r *Redis) key(id string) string {
	return r.prefix + ":" + id
}

func (r *Redis) Put(ctx context.Context, id string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, r.key(id), value, ttl).Err()
}

func (r *Redis) Get(ctx context.Context, id string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("hot tier: get %s: %w", id, err)
	}
	return data, true, nil
}

func (r *Redis) Invalidate(ctx context.Context, id string) error {
	return r.client.Del(ctx, r.key(id)).Err()
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
