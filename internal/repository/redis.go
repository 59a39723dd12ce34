package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tablesync/internal/config"
	"tablesync/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	statusKeyPrefix = "job_status:"
	deadLetterKey   = "jobs:deadletter"
	// MaxDeadLetters caps the dead-letter list length.
	MaxDeadLetters = 1000
)

var errNilClient = errors.New("redis client is nil")

type RedisStatusRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient builds a Redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisStatusRepository(client *redis.Client, ttl time.Duration) *RedisStatusRepository {
	return &RedisStatusRepository{
		client: client,
		ttl:    ttl,
	}
}

func statusKey(jobID string) string {
	return statusKeyPrefix + jobID
}

func (r *RedisStatusRepository) GetStatus(ctx context.Context, jobID string) (*models.JobSnapshot, error) {
	if r.client == nil {
		return nil, errNilClient
	}
	val, err := r.client.Get(ctx, statusKey(jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get status from redis: %w", err)
	}

	var snap models.JobSnapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status: %w", err)
	}
	return &snap, nil
}

func (r *RedisStatusRepository) SetStatus(ctx context.Context, snap *models.JobSnapshot) error {
	if r.client == nil {
		return errNilClient
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	if err := r.client.Set(ctx, statusKey(snap.JobID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set status in redis: %w", err)
	}
	return nil
}

// PushDeadLetter records an exhausted retry chain, newest first.
func (r *RedisStatusRepository) PushDeadLetter(ctx context.Context, snap *models.JobSnapshot) error {
	if r.client == nil {
		return errNilClient
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, deadLetterKey, data)
	pipe.LTrim(ctx, deadLetterKey, 0, MaxDeadLetters-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push dead letter: %w", err)
	}
	return nil
}

func (r *RedisStatusRepository) ListDeadLetters(ctx context.Context, limit int) ([]*models.JobSnapshot, error) {
	if r.client == nil {
		return nil, errNilClient
	}
	if limit <= 0 || limit > MaxDeadLetters {
		limit = MaxDeadLetters
	}
	vals, err := r.client.LRange(ctx, deadLetterKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}

	out := make([]*models.JobSnapshot, 0, len(vals))
	for _, v := range vals {
		var snap models.JobSnapshot
		if err := json.Unmarshal([]byte(v), &snap); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dead letter: %w", err)
		}
		out = append(out, &snap)
	}
	return out, nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
