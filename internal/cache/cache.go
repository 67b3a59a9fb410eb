package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/sourcefinder/pkg/models"
	"github.com/redis/go-redis/v9"
)

// Cache is the caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	// SetJobSnapshot stores snap under the job's key and marks it as the
	// client's latest job.
	SetJobSnapshot(ctx context.Context, clientID uuid.UUID, snap models.JobSnapshot, ttl time.Duration) error
	GetJobSnapshot(ctx context.Context, clientID, jobID uuid.UUID) (*models.JobSnapshot, bool, error)
	GetLatestJobSnapshot(ctx context.Context, clientID uuid.UUID) (*models.JobSnapshot, bool, error)
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// SetJobSnapshot writes the snapshot only if it is newer than the stored one,
// so a slow writer never replaces a later version.
func (c *RedisCache) SetJobSnapshot(ctx context.Context, clientID uuid.UUID, snap models.JobSnapshot, ttl time.Duration) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	key := JobKey(clientID, snap.ID)
	stored, found, err := c.getSnapshot(ctx, key)
	if err != nil {
		return err
	}
	if found && stored.Version >= snap.Version {
		return nil
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, key, data, ttl)
	pipe.Set(ctx, LatestJobKey(clientID), snap.ID.String(), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	return nil
}

func (c *RedisCache) GetJobSnapshot(ctx context.Context, clientID, jobID uuid.UUID) (*models.JobSnapshot, bool, error) {
	return c.getSnapshot(ctx, JobKey(clientID, jobID))
}

func (c *RedisCache) GetLatestJobSnapshot(ctx context.Context, clientID uuid.UUID) (*models.JobSnapshot, bool, error) {
	raw, err := c.client.Get(ctx, LatestJobKey(clientID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	jobID, err := uuid.Parse(raw)
	if err != nil {
		return nil, false, fmt.Errorf("parsing latest job id: %w", err)
	}
	return c.GetJobSnapshot(ctx, clientID, jobID)
}

func (c *RedisCache) getSnapshot(ctx context.Context, key string) (*models.JobSnapshot, bool, error) {
	data, found, err := c.Get(ctx, key)
	if err != nil || !found {
		return nil, false, err
	}
	var snap models.JobSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, false, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &snap, true, nil
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
