package config

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ConnectRedisWithRetry connects the optional Redis client + lock client.
// An empty address disables Redis and returns nil clients; callers must treat Redis as best-effort.
func ConnectRedisWithRetry(ctx context.Context, addr string) (*redis.Client, *redislock.Client, error) {
	if addr == "" {
		GetLogger().WithFields(logrus.Fields{"field": "redis"}).Info("REDIS_ADDRESS not set; running without redis")
		return nil, nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		DB:       0, // use default DB
		PoolSize: 20,
	})

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = time.Second
	expBackoff.MaxInterval = 10 * time.Second
	expBackoff.MaxElapsedTime = time.Minute

	attempt := 0
	operation := func() error {
		attempt++
		return rdb.Ping(ctx).Err()
	}
	notify := func(err error, wait time.Duration) {
		GetLogger().WithFields(logrus.Fields{"field": "redis", "addr": addr, "attempt": attempt}).
			Warnf("failed to connect redis: %v; retrying in %s", err, wait)
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(expBackoff, ctx), notify); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	GetLogger().WithFields(logrus.Fields{"field": "redis", "addr": addr, "attempt": attempt}).Info("connected to redis")
	return rdb, redislock.New(rdb), nil
}
