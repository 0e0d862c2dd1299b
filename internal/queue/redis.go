package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"log/slog"

	redis "github.com/redis/go-redis/v9"

	"github.com/JenilSavalia/vercel-octo-sniffle/internal/domain"
)

// RedisBroker implements Queue, StatusStore and LogBroker on a single Redis
// instance. BRPOP gives the exactly-once-pop guarantee multiple worker
// processes rely on.
type RedisBroker struct {
	client *redis.Client
	logger *slog.Logger
	poll   time.Duration
}

var _ Broker = (*RedisBroker)(nil)

// NewRedisBroker connects to Redis and verifies the connection.
func NewRedisBroker(addr, password string, db int, poll time.Duration, logger *slog.Logger) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &RedisBroker{client: client, logger: logger, poll: poll}, nil
}

// Close releases the underlying connection pool.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}

// Ping verifies the Redis connection, for health probes.
func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Enqueue appends the id to the tail of the build queue.
func (b *RedisBroker) Enqueue(ctx context.Context, id string) error {
	if err := b.client.LPush(ctx, BuildQueueKey, id).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", id, err)
	}
	return nil
}

// Dequeue blocks until an id is available or ctx is cancelled. The blocking
// pop is bounded by a short poll so cancellation stops the claim of new work
// without abandoning an already-popped entry.
func (b *RedisBroker) Dequeue(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		res, err := b.client.BRPop(ctx, b.poll, BuildQueueKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("dequeue: %w", err)
		}
		// BRPop returns [key, value].
		if len(res) == 2 && res[1] != "" {
			return res[1], nil
		}
	}
}

// SetStatus overwrites the current state for id.
func (b *RedisBroker) SetStatus(ctx context.Context, id string, status domain.Status) error {
	if err := b.client.HSet(ctx, StatusKey, id, string(status)).Err(); err != nil {
		return fmt.Errorf("set status %s=%s: %w", id, status, err)
	}
	return nil
}

// GetStatus returns the latest state for id or ErrStatusNotFound.
func (b *RedisBroker) GetStatus(ctx context.Context, id string) (domain.Status, error) {
	value, err := b.client.HGet(ctx, StatusKey, id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrStatusNotFound
		}
		return "", fmt.Errorf("get status %s: %w", id, err)
	}
	return domain.Status(value), nil
}

// Publish broadcasts a progress line to live subscribers of the deployment.
func (b *RedisBroker) Publish(ctx context.Context, id, line string) error {
	if err := b.client.Publish(ctx, LogChannelPrefix+id, line).Err(); err != nil {
		return fmt.Errorf("publish logs for %s: %w", id, err)
	}
	return nil
}

// Subscribe attaches to the deployment's log channel. The returned cancel
// function must be called to release the subscription.
func (b *RedisBroker) Subscribe(ctx context.Context, id string) (<-chan string, func(), error) {
	sub := b.client.Subscribe(ctx, LogChannelPrefix+id)
	// Force the subscription onto the wire before handing out the channel.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe logs for %s: %w", id, err)
	}
	lines := make(chan string)
	done := make(chan struct{})
	go func() {
		defer close(lines)
		src := sub.Channel()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-src:
				if !ok {
					return
				}
				select {
				case lines <- msg.Payload:
				case <-done:
					return
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			if err := sub.Close(); err != nil && b.logger != nil {
				b.logger.Debug("log subscription close failed", "deployment_id", id, "error", err)
			}
		})
	}
	return lines, cancel, nil
}
