// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

// Package ratelimit implements fixed-window request limits backed by Redis.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// window increments the counter and starts its expiry on first use. It
// returns the new count and the remaining TTL in milliseconds.
var window = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {n, redis.call('PTTL', KEYS[1])}
`)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Count      int64
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter counts hits per key in fixed windows.
type Limiter struct {
	client redis.Scripter
	prefix string
	window time.Duration
}

// New returns a Limiter using client. Keys are stored under prefix.
func New(client redis.Scripter, prefix string, window time.Duration) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{client: client, prefix: prefix, window: window}
}

// Allow records a hit for key in bucket and reports whether it stays within
// limit. A non-positive limit always allows.
func (l *Limiter) Allow(ctx context.Context, bucket, key string, limit int) (Decision, error) {
	if limit <= 0 {
		return Decision{Allowed: true}, nil
	}

	redisKey := l.prefix + ":" + bucket + ":" + key
	res, err := window.Run(ctx, l.client, []string{redisKey}, l.window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, oops.Code("RATE_LIMIT_UNAVAILABLE").
			With("bucket", bucket).
			Wrap(err)
	}
	if len(res) != 2 {
		return Decision{}, oops.Code("RATE_LIMIT_UNAVAILABLE").
			With("bucket", bucket).
			Errorf("unexpected script reply of length %d", len(res))
	}

	count, ttl := res[0], time.Duration(res[1])*time.Millisecond
	if ttl < 0 {
		ttl = l.window
	}
	d := Decision{
		Allowed:   count <= int64(limit),
		Count:     count,
		Remaining: max(int64(limit)-count, 0),
	}
	if !d.Allowed {
		d.RetryAfter = ttl
	}
	return d, nil
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, oops.Code("REDIS_CONFIG_INVALID").With("operation", "parse redis url").Wrap(err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck // ping error takes precedence
		return nil, oops.Code("REDIS_CONNECT_FAILED").With("operation", "ping").Wrap(err)
	}
	return client, nil
}
