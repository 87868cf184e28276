package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"procurement-reconciler/internal/core"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// KeyPrefix namespaces request locks in Redis.
const KeyPrefix = "procurement:request:"

// Options tunes the distributed lock. Expiry must outlive the slowest finalization.
type Options struct {
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
}

// DefaultOptions returns the lock tuning used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Expiry:     30 * time.Second,
		Tries:      20,
		RetryDelay: 250 * time.Millisecond,
	}
}

// Redis locks purchase requests across server instances with one redsync mutex per id.
type Redis struct {
	rs     *redsync.Redsync
	opts   Options
	logger *zap.Logger
}

var _ core.RequestLocker = (*Redis)(nil)

// NewRedis builds a distributed locker on client.
func NewRedis(client redis.UniversalClient, opts Options, logger *zap.Logger) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client is nil")
	}
	if opts.Expiry <= 0 {
		return nil, errors.New("lock expiry must be greater than 0")
	}
	if opts.Tries < 1 {
		return nil, errors.New("lock tries must be at least 1")
	}
	if opts.RetryDelay < 0 {
		return nil, errors.New("lock retry delay cannot be negative")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{
		rs:     redsync.New(goredis.NewPool(client)),
		opts:   opts,
		logger: logger,
	}, nil
}

// LockRequests acquires the mutex of every request id in sorted order and releases them
// in reverse. A partial acquisition is rolled back before the error is returned.
func (r *Redis) LockRequests(ctx context.Context, requestIDs []string) (func(), error) {
	ids := sortedUnique(requestIDs)
	held := make([]*redsync.Mutex, 0, len(ids))

	release := func() {
		// the caller's ctx may already be cancelled; unlocking must still reach Redis
		unlockCtx := context.WithoutCancel(ctx)
		for i := len(held) - 1; i >= 0; i-- {
			m := held[i]
			if ok, err := m.UnlockContext(unlockCtx); !ok || err != nil {
				r.logger.Warn("failed to release request lock",
					zap.String("lock_key", m.Name()), zap.Bool("unlock_ok", ok), zap.Error(err))
			}
		}
	}

	for _, id := range ids {
		m := r.rs.NewMutex(KeyPrefix+id,
			redsync.WithExpiry(r.opts.Expiry),
			redsync.WithTries(r.opts.Tries),
			redsync.WithRetryDelay(r.opts.RetryDelay),
		)
		if err := m.LockContext(ctx); err != nil {
			release()
			return nil, fmt.Errorf("acquire lock %s: %w", KeyPrefix+id, err)
		}
		held = append(held, m)
	}
	r.logger.Debug("request locks acquired", zap.Strings("request_ids", ids))

	done := false
	return func() {
		if done {
			return
		}
		done = true
		release()
	}, nil
}
