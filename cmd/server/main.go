// Cadence Realtime - Multi-Tenant Sales Engagement Notification Service
// Copyright 2026 Cadence CRM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadencecrm/realtime

// Package main is the entry point for the Cadence realtime server.
//
// The server pushes CRM events (activity feeds, call status, contact
// updates, tenant announcements) to browser and mobile clients over
// WebSocket. Fan-out across nodes rides a pub/sub bus; Redis is the
// production backend, NATS and in-process memory are alternatives.
//
// Startup order:
//
//  1. Configuration: koanf v2 layering defaults, config.yaml and
//     CADENCE_-prefixed environment variables
//  2. Logging: zerolog, console or JSON format
//  3. Bus: Redis, NATS or memory backend per bus.backend
//  4. Connection manager, heartbeat monitor and notification producer
//  5. Supervisor tree: messaging layer (heartbeat monitor) and API
//     layer (HTTP server) under suture supervision
//
// Shutdown is graceful on SIGINT/SIGTERM: the HTTP server drains
// in-flight requests, every WebSocket connection is closed and bus
// subscriptions are released.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cadencecrm/realtime/internal/api"
	"github.com/cadencecrm/realtime/internal/auth"
	"github.com/cadencecrm/realtime/internal/bus"
	"github.com/cadencecrm/realtime/internal/config"
	"github.com/cadencecrm/realtime/internal/logging"
	"github.com/cadencecrm/realtime/internal/notify"
	"github.com/cadencecrm/realtime/internal/realtime"
	"github.com/cadencecrm/realtime/internal/supervisor"
	"github.com/cadencecrm/realtime/internal/supervisor/services"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("backend", cfg.Bus.Backend).
		Str("addr", cfg.Server.Addr()).
		Msg("starting cadence realtime server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, store, err := buildBus(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect bus backend: %w", err)
	}
	defer func() {
		if err := b.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing bus")
		}
	}()

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret)
	if err != nil {
		return fmt.Errorf("initialize token verifier: %w", err)
	}

	manager := realtime.NewManager(b, store)
	defer manager.Close()

	notifier := notify.NewService(b, store, manager)

	handler := api.NewHandler(cfg, manager, notifier, verifier)
	middleware := api.NewMiddleware(api.MiddlewareConfig{
		CORSAllowedOrigins: cfg.Server.CORSOrigins,
		RateLimitRequests:  cfg.Server.RateLimitReqs,
		RateLimitWindow:    cfg.Server.RateLimitWindow,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(handler, middleware).Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})

	monitor := realtime.NewMonitor(manager.Registry(), manager,
		cfg.WebSocket.HeartbeatInterval, cfg.WebSocket.HeartbeatTimeout)
	tree.AddMessagingService(monitor)

	tree.AddAPIService(services.NewHTTPService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("http server added to supervisor tree")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)

	// ServeBackground delivers exactly one terminal error and never
	// closes the channel, so it must be received exactly once.
	var treeErr error
	select {
	case <-ctx.Done():
		logging.Info().Msg("shutting down, waiting for supervisor tree")
		treeErr = <-errCh
	case treeErr = <-errCh:
	}
	if treeErr != nil && !errors.Is(treeErr, context.Canceled) {
		return fmt.Errorf("supervisor tree failed: %w", treeErr)
	}
	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", fmt.Sprintf("%v", svc.Service)).Msg("service did not stop in time")
		}
	}

	logging.Info().Msg("shutdown complete")
	return nil
}

// buildBus connects the configured backend. The memory backend serves
// single-node deployments and development; NATS carries pub/sub only,
// so connection records and the offline queue are disabled with it.
func buildBus(ctx context.Context, cfg *config.Config) (bus.Bus, bus.Store, error) {
	switch cfg.Bus.Backend {
	case "redis":
		r, err := bus.NewRedis(ctx, bus.RedisConfig{
			Addr:     cfg.Bus.Redis.Addr,
			Password: cfg.Bus.Redis.Password,
			DB:       cfg.Bus.Redis.DB,
			PoolSize: cfg.Bus.Redis.PoolSize,
		})
		if err != nil {
			return nil, nil, err
		}
		return r, r, nil

	case "nats":
		n, err := bus.NewNATS(bus.NATSConfig{
			URL:           cfg.Bus.NATS.URL,
			ReconnectWait: cfg.Bus.NATS.ReconnectWait,
		})
		if err != nil {
			return nil, nil, err
		}
		logging.Warn().Msg("nats backend has no store; offline notifications disabled")
		return n, nil, nil

	case "memory":
		m := bus.NewMemory()
		return m, m, nil

	default:
		return nil, nil, fmt.Errorf("unknown bus backend %q", cfg.Bus.Backend)
	}
}
