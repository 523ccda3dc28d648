package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisList is the part of the go-redis client the queue needs.
type redisList interface {
	LPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
}

// RedisQueue stores JSON encoded tasks in a Redis list so that uploads
// accepted by one process can be run by workers in another.
type RedisQueue struct {
	client      redisList
	closer      func() error
	key         string
	pollTimeout time.Duration
}

// NewRedisClient parses url and verifies the server is reachable.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// NewRedisQueue wraps client, pushing tasks onto the list named key.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	q := newRedisQueue(client, key)
	q.closer = client.Close
	return q
}

func newRedisQueue(client redisList, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key, pollTimeout: time.Second}
}

func (q *RedisQueue) Enqueue(ctx context.Context, task Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("failed to push task: %w", err)
	}
	return nil
}

// Dequeue polls with BRPOP so that cancellation is noticed within one
// poll interval.
func (q *RedisQueue) Dequeue(ctx context.Context) (Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Task{}, err
		}
		result, err := q.client.BRPop(ctx, q.pollTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Task{}, ctxErr
			}
			return Task{}, fmt.Errorf("failed to pop task: %w", err)
		}
		if len(result) != 2 {
			return Task{}, fmt.Errorf("unexpected BRPOP reply of %d elements", len(result))
		}
		var task Task
		if err := json.Unmarshal([]byte(result[1]), &task); err != nil {
			return Task{}, fmt.Errorf("failed to decode task: %w", err)
		}
		return task, nil
	}
}

// Len reports tasks waiting in the list.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

func (q *RedisQueue) Close() error {
	if q.closer == nil {
		return nil
	}
	return q.closer()
}
