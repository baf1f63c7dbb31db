// Package broker implements the Queue Broker Contract: three
// named FIFO queues reachable by blocking pop with timeout and non-blocking
// push, plus a keyed claim-lock namespace with atomic set-if-absent, TTL
// expiry, delete, and existence checks. It is the coordination primitive
// every stage of the pipeline shares.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// ErrTimeout is returned by Pop when no item arrived within the timeout.
var ErrTimeout = errors.New("broker: pop timed out")

// ErrLockHeld is returned by Claim when the lock key is already held.
var ErrLockHeld = errors.New("broker: lock already held")

// Broker is the coordination fabric every component shares: never called
// directly between components, only through queues or locks.
type Broker struct {
	client *redis.Client
}

// New connects to Redis at addr and verifies reachability.
func New(addr string) (*Broker, error) {
	c := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Broker{client: c}, nil
}

// Close releases the underlying Redis connection.
func (b *Broker) Close() error {
	return b.client.Close()
}

// Push appends payload to the tail of the named queue.
func (b *Broker) Push(ctx context.Context, queue string, payload []byte) error {
	return b.client.LPush(ctx, queue, payload).Err()
}

// Pop blocks until an item is available on queue or timeout elapses,
// returning ErrTimeout in the latter case. A zero timeout blocks forever.
func (b *Broker) Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error) {
	res, err := b.client.BRPop(ctx, timeout, queue).Result()
	if err == redis.Nil {
		return nil, ErrTimeout
	}
	if err != nil {
		return nil, err
	}
	// BRPop returns [queue, value].
	if len(res) < 2 {
		return nil, ErrTimeout
	}
	return []byte(res[1]), nil
}

// Claim attempts an atomic set-if-absent with TTL on key, returning
// ErrLockHeld if another claimer already holds it. This is the Extraction
// Claim Lock primitive.
func (b *Broker) Claim(ctx context.Context, key, owner string, ttl time.Duration) error {
	ok, err := b.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrLockHeld
	}
	return nil
}

// Release deletes the claim lock key, making the file re-claimable before
// its TTL naturally expires.
func (b *Broker) Release(ctx context.Context, key string) error {
	return b.client.Del(ctx, key).Err()
}

// LockKey builds the lock:extraction:<filename> key from a
// configurable prefix and a filename.
func LockKey(prefix, filename string) string {
	return prefix + "extraction:" + filename
}

// Exists reports whether a claim lock key is currently held.
func (b *Broker) Exists(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ProbeLocks checks many lock keys concurrently, returning which of them are
// currently held. The manager's scan loop uses this to filter a large
// library directory down to unlocked candidates in one round instead of one
// sequential Exists call per file.
func (b *Broker) ProbeLocks(ctx context.Context, keys []string) (map[string]bool, error) {
	held := make(map[string]bool, len(keys))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			ok, err := b.Exists(gctx, key)
			if err != nil {
				return err
			}
			mu.Lock()
			held[key] = ok
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return held, nil
}
