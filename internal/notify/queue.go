package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrQueueFull is returned when the in-memory buffer is saturated.
var ErrQueueFull = errors.New("notification queue is full")

// Queue decouples publishers from the delivery worker.
type Queue interface {
	Enqueue(ctx context.Context, ev Event) error
	// Dequeue blocks until an event is available or ctx is done.
	Dequeue(ctx context.Context) (Event, error)
	Close() error
}

// MemoryQueue is a bounded channel. Events are lost on restart.
type MemoryQueue struct {
	ch chan Event
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size < 1 {
		size = 1
	}
	return &MemoryQueue{ch: make(chan Event, size)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, ev Event) error {
	select {
	case q.ch <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Event, error) {
	select {
	case ev := <-q.ch:
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

func (q *MemoryQueue) Close() error { return nil }

// RedisQueue is a list in redis, so queued events survive a restart and can be drained by any instance.
type RedisQueue struct {
	client *redis.Client
	key    string
	poll   time.Duration
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

func NewRedisQueue(ctx context.Context, opts RedisOptions) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisQueue{client: client, key: opts.Key, poll: 5 * time.Second}, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, payload).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context) (Event, error) {
	for {
		// short BRPOP timeouts keep cancellation responsive
		res, err := q.client.BRPop(ctx, q.poll, q.key).Result()
		if errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return Event{}, ctx.Err()
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Event{}, ctx.Err()
			}
			return Event{}, err
		}

		var ev Event
		if err := json.Unmarshal([]byte(res[1]), &ev); err != nil {
			return Event{}, fmt.Errorf("malformed queued event: %w", err)
		}
		return ev, nil
	}
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
