/*
redis.go - Redis-backed Locker for multi-instance deployments

PURPOSE:
  The in-process ledger.LocalLocker only serializes callers inside one
  server. When several instances share the same database, tank level
  changes are serialized through a Redis lock keyed on the tank id.

  The tank compare-and-swap in the store still guards the level; the lock
  only keeps instances from burning their retries against each other.
*/
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/warp/co2-ledger/ledger"
)

const (
	// DefaultTTL bounds how long a crashed holder can block the tank.
	DefaultTTL = 30 * time.Second

	defaultRetryEvery = 50 * time.Millisecond
	keyPrefix         = "co2-ledger:"
)

type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	retry  time.Duration
	log    *logrus.Logger
}

// NewRedisLocker wraps an existing go-redis client.
func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration, log *logrus.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RedisLocker{
		client: redislock.New(rdb),
		ttl:    ttl,
		retry:  defaultRetryEvery,
		log:    log,
	}
}

// Lock blocks until the key is obtained or ctx is done. Without a deadline on
// ctx, waiting is bounded by the lock TTL.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lock, err := l.client.Obtain(ctx, keyPrefix+key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(l.retry),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ledger.ErrLockNotObtained
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}

	return func() {
		// Release must not depend on the caller's context, which may be cancelled.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(rctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.log.WithFields(logrus.Fields{
				"module":   "lock",
				"funcName": "Lock",
				"key":      key,
			}).Warn("release redis lock: " + err.Error())
		}
	}, nil
}

var _ ledger.Locker = (*RedisLocker)(nil)
