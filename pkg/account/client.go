// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package account

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// ClientOptions configures the Redis connection.
type ClientOptions struct {
	Addr       string
	Password   string
	DB         int
	MaxRetries int
	RetryDelay time.Duration
}

// InitRedisClient initializes and returns a Redis client, retrying the first ping
// with exponential backoff.
func InitRedisClient(ctx context.Context, opts ClientOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	b := backoff.NewExponentialBackOff()
	if opts.RetryDelay > 0 {
		b.InitialInterval = opts.RetryDelay
	}
	retries := opts.MaxRetries
	if retries < 1 {
		retries = 1
	}

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		return client.Ping(ctx).Err()
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries-1)), ctx),
		func(err error, next time.Duration) {
			logrus.Warnf("Redis connection failed (attempt %d/%d): %v, retrying in %v...",
				attempt, retries, err, next)
		})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s after %d attempts: %w", opts.Addr, attempt, err)
	}

	logrus.Infof("connected to Redis at %s (attempt %d/%d)", opts.Addr, attempt, retries)
	return client, nil
}
