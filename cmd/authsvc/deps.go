// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/redis/go-redis/v9"

	"github.com/ingeniia/authsvc/internal/auth/postgres"
	"github.com/ingeniia/authsvc/internal/observability"
	"github.com/ingeniia/authsvc/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// PoolFactory opens the database pool.
	// Default: store.Connect
	PoolFactory func(ctx context.Context, url string, opts store.PoolOptions) (Pool, error)

	// RedisFactory connects the rate limiter backend.
	// Default: ratelimit.NewRedisClient
	RedisFactory func(ctx context.Context, url string) (RedisClient, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer

	// ListenerFactory binds the public API listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)

	// Ready, when set, receives the bound API address once serving starts.
	Ready func(addr string)
}

// Pool wraps the methods serve uses from *pgxpool.Pool.
type Pool interface {
	postgres.DB
	Ping(ctx context.Context) error
	Close()
}

// RedisClient wraps the methods serve uses from *redis.Client.
type RedisClient interface {
	redis.Scripter
	Close() error
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}
