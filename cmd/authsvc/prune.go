// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

package main

import (
	"context"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/ingeniia/authsvc/internal/auth"
	"github.com/ingeniia/authsvc/internal/auth/postgres"
	"github.com/ingeniia/authsvc/internal/config"
	"github.com/ingeniia/authsvc/internal/store"
)

const defaultPruneAge = 30 * 24 * time.Hour

// connectPool opens the database for one-shot commands. Tests replace it.
var connectPool = func(ctx context.Context, url string, opts store.PoolOptions) (Pool, error) {
	return store.Connect(ctx, url, opts)
}

// NewPruneCmd creates the prune subcommand.
func NewPruneCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete stale verification codes",
		Long: `Delete email verification codes that expired more than --older-than ago.
Refresh tokens are kept for audit and are never pruned.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runPrune(cmd.Context(), cmd, cfg, olderThan, time.Now().UTC())
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", defaultPruneAge, "minimum time since expiry")
	return cmd
}

func runPrune(ctx context.Context, cmd *cobra.Command, cfg config.Config, olderThan time.Duration, now time.Time) error {
	if olderThan < 0 {
		return oops.Code("INVALID_ARGUMENT").
			With("older_than", olderThan.String()).
			Errorf("--older-than must not be negative")
	}
	if err := cfg.ValidateDatabase(); err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)

	pool, err := connectPool(ctx, cfg.Database.URL, store.PoolOptions{
		MaxConns: 2,
		Attempts: cfg.Database.ConnectAttempts,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	verifications, err := auth.NewVerificationService(postgres.NewStore(pool), auth.VerificationPolicy{
		TokenTTL:       cfg.Verification.TokenTTL,
		ResendCooldown: cfg.Verification.ResendCooldown,
		MinRetryAfter:  cfg.Verification.MinRetryAfter,
	}, auth.SystemClock{}, nil, logger)
	if err != nil {
		return err
	}

	cutoff := now.Add(-olderThan)
	deleted, err := verifications.Prune(ctx, cutoff)
	if err != nil {
		return err
	}
	logger.Info("pruned verification codes", "deleted", deleted, "cutoff", cutoff)
	cmd.Printf("Deleted %d verification codes that expired before %s\n", deleted, cutoff.Format(time.RFC3339))
	return nil
}
