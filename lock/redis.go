package lock

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/warp/station-engine/station"
)

// Redis is a Locker shared by every process that talks to the same Redis.
// Locks expire after ttl so a crashed terminal cannot wedge a tank.
type Redis struct {
	client  *redislock.Client
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	backoff time.Duration
	log     logrus.FieldLogger
}

// RedisConfig configures a Redis locker.
type RedisConfig struct {
	Prefix  string        // namespace, e.g. "station:"
	TTL     time.Duration // lock lease, default 30s
	Timeout time.Duration // acquisition timeout, default 5s
	Backoff time.Duration // retry interval while waiting, default 50ms
}

func NewRedis(rdb redis.UniversalClient, cfg RedisConfig, log logrus.FieldLogger) *Redis {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 50 * time.Millisecond
	}
	return &Redis{
		client:  redislock.New(rdb),
		prefix:  cfg.Prefix,
		ttl:     cfg.TTL,
		timeout: cfg.Timeout,
		backoff: cfg.Backoff,
		log:     log,
	}
}

func (r *Redis) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = normalize(keys)
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	held := make([]*redislock.Lock, 0, len(keys))
	releaseAll := func() {
		for i := len(held) - 1; i >= 0; i-- {
			// Release on a fresh context: the acquisition ctx may be done.
			rctx, rcancel := context.WithTimeout(context.Background(), time.Second)
			if err := held[i].Release(rctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				r.log.WithError(err).WithField("key", held[i].Key()).Warn("release redis lock")
			}
			rcancel()
		}
	}

	for _, key := range keys {
		l, err := r.client.Obtain(ctx, r.prefix+key, r.ttl, &redislock.Options{
			RetryStrategy: redislock.LinearBackoff(r.backoff),
		})
		if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
			releaseAll()
			return nil, timeoutError(ctx, key, r.timeout)
		}
		if err != nil {
			releaseAll()
			return nil, station.Unavailable("redis lock", err)
		}
		held = append(held, l)
	}
	return once(releaseAll), nil
}
