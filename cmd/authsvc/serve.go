// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/ingeniia/authsvc/internal/api"
	"github.com/ingeniia/authsvc/internal/auth"
	"github.com/ingeniia/authsvc/internal/auth/postgres"
	"github.com/ingeniia/authsvc/internal/captcha"
	"github.com/ingeniia/authsvc/internal/config"
	"github.com/ingeniia/authsvc/internal/mailer"
	"github.com/ingeniia/authsvc/internal/observability"
	"github.com/ingeniia/authsvc/internal/ratelimit"
	"github.com/ingeniia/authsvc/internal/store"
	"github.com/ingeniia/authsvc/internal/token"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the authentication HTTP API together with the metrics and
health endpoints.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}

	cmd.Flags().String("http-addr", "", "API listen address")
	cmd.Flags().String("metrics-addr", "", "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("environment", "", "development, staging or production")
	cmd.Flags().String("redis-url", "", "Redis URL for rate limiting (empty = disabled)")

	return cmd
}

// runServeWithDeps runs the API until a signal arrives, ctx is cancelled or a
// server fails. If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.PoolFactory == nil {
		deps.PoolFactory = connectPool
	}
	if deps.RedisFactory == nil {
		deps.RedisFactory = func(ctx context.Context, url string) (RedisClient, error) {
			return ratelimit.NewRedisClient(ctx, url)
		}
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, ready, logger)
		}
	}
	if deps.ListenerFactory == nil {
		deps.ListenerFactory = net.Listen
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.ValidateDatabase(); err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)
	logger.Info("starting authsvc",
		"version", version,
		"environment", cfg.Environment,
		"http_addr", cfg.HTTP.Addr,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool, err := deps.PoolFactory(ctx, cfg.Database.URL, store.PoolOptions{
		MaxConns: cfg.Database.MaxConns,
		Attempts: cfg.Database.ConnectAttempts,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info("connected to database")

	var limiter api.RateLimiter
	if cfg.Redis.URL != "" {
		client, err := deps.RedisFactory(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				logger.Debug("error closing redis client", "error", closeErr)
			}
		}()
		limiter = ratelimit.New(client, serviceName, time.Minute)
		logger.Info("rate limiting enabled")
	}

	var obsServer ObservabilityServer
	var recorder auth.Recorder
	var httpMetrics api.Metrics
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, pool.Ping, logger)
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.Metrics.Addr).Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		metrics := obsServer.Metrics()
		recorder, httpMetrics = metrics, metrics
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	svc, err := buildService(cfg, pool, recorder, logger)
	if err != nil {
		stopObservability(obsServer, logger)
		return err
	}
	app, err := api.New(api.Deps{
		Service: svc,
		Limiter: limiter,
		Metrics: httpMetrics,
		Logger:  logger,
		HTTP:    cfg.HTTP,
		Limits:  cfg.RateLimit,
	})
	if err != nil {
		stopObservability(obsServer, logger)
		return err
	}

	listener, err := deps.ListenerFactory("tcp", cfg.HTTP.Addr)
	if err != nil {
		stopObservability(obsServer, logger)
		return oops.Code("LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		if serveErr := app.Listener(listener); serveErr != nil {
			errChan <- serveErr
		}
	}()

	cmd.Println("authsvc started")
	logger.Info("http api listening", "addr", listener.Addr().String())
	if deps.Ready != nil {
		deps.Ready(listener.Addr().String())
	}

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errChan:
		runErr = oops.Code("HTTP_SERVE_FAILED").Wrap(err)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("error stopping http api", "error", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return runErr
}

// buildService assembles the auth service and its gates from cfg.
func buildService(cfg config.Config, db postgres.DB, recorder auth.Recorder, logger *slog.Logger) (*auth.Service, error) {
	codec, err := token.NewCodec(token.Options{
		Secret:     []byte(cfg.JWT.Secret),
		Algorithm:  cfg.JWT.Algorithm,
		Issuer:     cfg.JWT.Issuer,
		Audience:   cfg.JWT.Audience,
		AccessTTL:  cfg.JWT.AccessTTL,
		RefreshTTL: cfg.JWT.RefreshTTL,
	})
	if err != nil {
		return nil, err
	}
	verifier, err := newCaptcha(cfg, logger)
	if err != nil {
		return nil, err
	}
	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		return nil, err
	}

	return auth.NewService(auth.ServiceDeps{
		Store:    postgres.NewStore(db),
		Codec:    codec,
		Hasher:   auth.NewArgon2idHasher(),
		Captcha:  verifier,
		Notifier: notifier,
		Recorder: recorder,
		Logger:   logger,
		Policy: auth.VerificationPolicy{
			TokenTTL:       cfg.Verification.TokenTTL,
			ResendCooldown: cfg.Verification.ResendCooldown,
			MinRetryAfter:  cfg.Verification.MinRetryAfter,
		},
		MaxLiveRefreshTokens: cfg.Session.MaxLiveRefreshTokens,
		FrontendURL:          cfg.Verification.FrontendURL,
	})
}

// newCaptcha bypasses the captcha in development when no secret is set.
func newCaptcha(cfg config.Config, logger *slog.Logger) (auth.CaptchaVerifier, error) {
	if cfg.IsDevelopment() && cfg.Captcha.Secret == "" {
		logger.Warn("captcha verification bypassed in development")
		return captcha.Bypass{Logger: logger}, nil
	}
	return captcha.NewRecaptcha(captcha.Options{
		Secret:    cfg.Captcha.Secret,
		VerifyURL: cfg.Captcha.VerifyURL,
		MinScore:  cfg.Captcha.MinScore,
		Timeout:   cfg.Captcha.Timeout,
		Logger:    logger,
	})
}

func newNotifier(cfg config.Config, logger *slog.Logger) (auth.Notifier, error) {
	switch cfg.Email.Provider {
	case config.EmailProviderSendGrid:
		return mailer.NewSendGrid(mailer.SendGridOptions{
			APIKey:      cfg.Email.SendGridAPIKey,
			Host:        cfg.Email.SendGridHost,
			FromAddress: cfg.Email.FromAddress,
			FromName:    cfg.Email.FromName,
			TemplateID:  cfg.Email.TemplateID,
			CompanyName: cfg.Email.CompanyName,
			Timeout:     cfg.Email.Timeout,
			Logger:      logger,
		})
	case config.EmailProviderLog:
		return mailer.Log{Logger: logger}, nil
	default:
		return nil, oops.Code("CONFIG_INVALID").
			With("key", "email.provider").
			Errorf("unknown email provider %q", cfg.Email.Provider)
	}
}

func stopObservability(server ObservabilityServer, logger *slog.Logger) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		logger.Warn("failed to stop observability server during cleanup", "error", err)
	}
}

// monitorServerErrors monitors a server's error channel and cancels the context on error.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
