package lock

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"github.com/onlinebank/onlinebank/internal/bankerr"
)

const redisKeyPrefix = "lock:account:"

// RedisOptions tunes the distributed lock.
type RedisOptions struct {
	// Expiry is the lease on each key. Held leases are extended every
	// Expiry/3 until release.
	Expiry time.Duration
	// Timeout bounds the total wait for all keys.
	Timeout time.Duration
	// RetryDelay is the pause between attempts on a contended key.
	RetryDelay time.Duration
}

// DefaultRedisOptions returns options suitable for request-scoped units.
func DefaultRedisOptions() RedisOptions {
	return RedisOptions{
		Expiry:     10 * time.Second,
		Timeout:    DefaultTimeout,
		RetryDelay: 50 * time.Millisecond,
	}
}

// RedisManager coordinates exclusive scopes across processes with redsync.
type RedisManager struct {
	rs     *redsync.Redsync
	opts   RedisOptions
	logger *slog.Logger
}

// NewRedis builds a distributed manager on client.
func NewRedis(client *redis.Client, opts RedisOptions, logger *slog.Logger) *RedisManager {
	def := DefaultRedisOptions()
	if opts.Expiry <= 0 {
		opts.Expiry = def.Expiry
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	pool := goredis.NewPool(client)
	return &RedisManager{rs: redsync.New(pool), opts: opts, logger: logger}
}

// Acquire implements Manager.
func (m *RedisManager) Acquire(ctx context.Context, keys ...string) (Release, error) {
	keys = SortedKeys(keys)

	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	tries := int(m.opts.Timeout/m.opts.RetryDelay) + 1
	held := make([]*redsync.Mutex, 0, len(keys))
	releaseHeld := func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			if ok, err := held[i].UnlockContext(unlockCtx); !ok || err != nil {
				m.logger.Warn("release account lock", slog.String("key", held[i].Name()), slog.Any("error", err))
			}
		}
	}

	for _, key := range keys {
		mutex := m.rs.NewMutex(redisKeyPrefix+key,
			redsync.WithExpiry(m.opts.Expiry),
			redsync.WithTries(tries),
			redsync.WithRetryDelay(m.opts.RetryDelay),
		)
		if err := mutex.LockContext(ctx); err != nil {
			releaseHeld()
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			return nil, bankerr.Wrap(bankerr.Busy, "acquire account lock "+key, err)
		}
		held = append(held, mutex)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go m.keepAlive(held, stop, done)

	return once(func() {
		close(stop)
		<-done
		releaseHeld()
	}), nil
}

// keepAlive extends every held lease at a third of the expiry until stop is
// closed.
func (m *RedisManager) keepAlive(held []*redsync.Mutex, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := m.opts.Expiry / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for _, mutex := range held {
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				ok, err := mutex.ExtendContext(ctx)
				cancel()
				if !ok || err != nil {
					m.logger.Warn("extend account lock", slog.String("key", mutex.Name()), slog.Any("error", err))
				}
			}
		}
	}
}
