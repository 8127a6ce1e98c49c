package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrQueueFull is returned by Push when the queue is at capacity.
	ErrQueueFull = errors.New("notification queue full")
	// ErrQueueClosed is returned by Push after Close, and by Pop once a
	// closed queue is drained.
	ErrQueueClosed = errors.New("notification queue closed")
)

// Queue buffers messages between the workflow and the dispatcher workers.
type Queue interface {
	// Push adds m without blocking.
	Push(ctx context.Context, m Message) error
	// Pop blocks until a message is available, ctx is done, or the queue is
	// closed and empty.
	Pop(ctx context.Context) (Message, error)
	// Close stops accepting messages. Buffered messages can still be popped.
	Close() error
}

// MemoryQueue is an in-process bounded queue.
type MemoryQueue struct {
	mu     sync.RWMutex
	ch     chan Message
	closed bool
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 1
	}
	return &MemoryQueue{ch: make(chan Message, size)}
}

func (q *MemoryQueue) Push(_ context.Context, m Message) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- m:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Pop(ctx context.Context) (Message, error) {
	select {
	case m, ok := <-q.ch:
		if !ok {
			return Message{}, ErrQueueClosed
		}
		return m, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	return nil
}

// Len reports the number of buffered messages.
func (q *MemoryQueue) Len() int { return len(q.ch) }

// RedisQueue shares the notification backlog between server instances using
// a Redis list: LPUSH to enqueue, BRPOP to consume.
type RedisQueue struct {
	client *redis.Client
	key    string
	maxLen int64
	poll   time.Duration
	closed atomic.Bool
}

// NewRedisClient parses url and verifies the server is reachable.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// NewRedisQueue uses the list at key, holding at most maxLen messages. The
// caller owns client.
func NewRedisQueue(client *redis.Client, key string, maxLen int) *RedisQueue {
	return &RedisQueue{client: client, key: key, maxLen: int64(maxLen), poll: time.Second}
}

func (q *RedisQueue) Push(ctx context.Context, m Message) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	if q.maxLen > 0 {
		n, err := q.client.LLen(ctx, q.key).Result()
		if err != nil {
			return fmt.Errorf("redis llen: %w", err)
		}
		if n >= q.maxLen {
			return ErrQueueFull
		}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("redis lpush: %w", err)
	}
	return nil
}

func (q *RedisQueue) Pop(ctx context.Context) (Message, error) {
	for {
		if q.closed.Load() {
			data, err := q.client.RPop(ctx, q.key).Bytes()
			if errors.Is(err, redis.Nil) {
				return Message{}, ErrQueueClosed
			}
			if err != nil {
				return Message{}, fmt.Errorf("redis rpop: %w", err)
			}
			return decodeMessage(data)
		}

		res, err := q.client.BRPop(ctx, q.poll, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Message{}, ctx.Err()
			}
			return Message{}, fmt.Errorf("redis brpop: %w", err)
		}
		// BRPOP replies with [key, value].
		return decodeMessage([]byte(res[1]))
	}
}

func (q *RedisQueue) Close() error {
	q.closed.Store(true)
	return nil
}

func decodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	return m, nil
}
