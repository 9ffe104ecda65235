// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/aegis/internal/auth"
	"github.com/tomtom215/aegis/internal/config"
	"github.com/tomtom215/aegis/internal/logging"
	"github.com/tomtom215/aegis/internal/supervisor"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := mintToken(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	})
	logging.Info().
		Str("version", version).
		Str("environment", cfg.Server.Environment).
		Str("config", cfg.SourcePath).
		Msg("Starting Aegis")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := build(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer a.close()

	if cfg.SourcePath != "" {
		stop, err := config.Watch(cfg.SourcePath, func(next *config.Config) {
			if err := a.applyReload(next); err != nil {
				logging.Warn().Err(err).Msg("Configuration reload rejected")
			}
		}, func(err error) {
			logging.Warn().Err(err).Msg("Configuration reload failed, keeping previous settings")
		})
		if err != nil {
			logging.Warn().Err(err).Msg("Configuration hot reload unavailable")
		} else {
			defer func() { _ = stop() }()
		}
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}
	a.supervise(tree)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Str("addr", a.server.Addr).Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}
	logging.Info().Msg("Aegis stopped")
}

// mintToken prints an admin API bearer token signed with the configured
// JWT secret.
//
//	aegis token -sub oncall -role analyst -ttl 8h
func mintToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	sub := fs.String("sub", "operator", "token subject")
	role := fs.String("role", "admin", "role claim: viewer, analyst or admin")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	tokens, err := auth.NewTokenManager(cfg.Security)
	if err != nil {
		return err
	}
	token, err := tokens.GenerateToken(*sub, *role, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
