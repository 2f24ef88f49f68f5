// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authgate/internal/account"
	"github.com/holomush/authgate/internal/config"
	"github.com/holomush/authgate/internal/gate"
	"github.com/holomush/authgate/internal/gate/postgres"
	"github.com/holomush/authgate/internal/gate/redis"
	"github.com/holomush/authgate/internal/logging"
	"github.com/holomush/authgate/internal/observability"
	"github.com/holomush/authgate/internal/telnet"
	"github.com/holomush/authgate/pkg/errutil"
)

const (
	connectAttempts = 5
	shutdownTimeout = 5 * time.Second
)

// worldSpawn is where new accounts start.
var worldSpawn = gate.Position{X: 0, Y: 64, Z: 0}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the telnet server behind the authentication gate",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}
}

// runServeWithDeps runs the server until ctx ends or a signal arrives.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.RepositoryFactory == nil {
		deps.RepositoryFactory = openRepository
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, register ...func(prometheus.Registerer)) ObservabilityServer {
			return observability.NewServer(addr, ready, register...)
		}
	}

	logger, err := logging.SetDefault(logging.Options{
		Service: "authgate",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
		Writer:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}

	policy, err := cfg.CompilePolicy()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		telnetSrv *telnet.Server
		obsServer ObservabilityServer
		store     *gate.MemoryStore
	)
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, func() bool {
			return telnetSrv != nil && telnetSrv.Addr() != ""
		}, gate.RegisterMetrics)
		store = gate.NewMemoryStoreWithRegistry(obsServer.Registry())
	} else {
		store = gate.NewMemoryStore()
	}

	engine, err := gate.NewEngine(policy, store, logger.With("component", "gate"))
	if err != nil {
		return err
	}

	repo, closeRepo, err := deps.RepositoryFactory(ctx, cfg.SessionCache)
	if err != nil {
		return err
	}
	if closeRepo != nil {
		defer closeRepo()
	}
	if repo != nil {
		restoreSessions(ctx, logger, store, repo)
	}

	world := telnet.NewWorld(worldSpawn)
	if spec := policy.Spec(); len(spec.HazardMaterials) > 0 {
		world.Place(gate.Position{X: 0, Y: 64, Z: 8}, spec.HazardMaterials[0])
	}
	accounts := account.NewRegistry(account.NewHasher(), world.Spawn())

	telnetSrv, err = telnet.NewServer(cfg.Telnet.Addr, engine, accounts, world, logger.With("component", "telnet"))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if obsServer != nil {
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.Metrics.Addr).Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			if err := obsServer.Stop(shutdownCtx); err != nil {
				errutil.LogWarn(logger, "error stopping observability server", err)
			}
		}()
	}

	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		store.RunSweeper(ctx, cfg.SessionCache.SweepInterval)
	}()

	telnetErr := make(chan error, 1)
	go func() { telnetErr <- telnetSrv.Run(ctx) }()

	if deps.Ready != nil {
		go waitListening(ctx, telnetSrv, deps.Ready)
	}

	logger.Info("authgate ready",
		"telnet_addr", cfg.Telnet.Addr,
		"session_cache", cfg.SessionCache.Backend,
	)

	// Run returns only after every connection ran its leave flow, so the
	// snapshot below sees every armed window.
	err = <-telnetErr
	cancel()
	<-sweeperDone
	if err != nil {
		return err
	}

	if repo != nil {
		saveSessions(logger, store, repo)
	}
	logger.Info("shutdown complete")
	return nil
}

func restoreSessions(ctx context.Context, logger *slog.Logger, store *gate.MemoryStore, repo gate.SnapshotRepository) {
	now := time.Now()
	if pruner, ok := repo.(expiredPruner); ok {
		if n, err := pruner.DeleteExpired(ctx, now); err != nil {
			errutil.LogWarn(logger, "failed to prune expired session records", err)
		} else if n > 0 {
			logger.Info("pruned expired session records", "count", n)
		}
	}

	n, err := gate.RestoreSnapshots(ctx, store, repo, now)
	observability.RecordSnapshot("load", err)
	if err != nil {
		errutil.LogError(logger, "failed to restore session records", err)
		return
	}
	logger.Info("restored session records", "count", n)
}

func saveSessions(logger *slog.Logger, store *gate.MemoryStore, repo gate.SnapshotRepository) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	n, err := gate.SaveSnapshots(ctx, store, repo, time.Now())
	observability.RecordSnapshot("save", err)
	if err != nil {
		errutil.LogError(logger, "failed to save session records", err)
		return
	}
	logger.Info("saved session records", "count", n)
}

// openRepository connects the configured session cache backend.
func openRepository(ctx context.Context, cfg config.SessionCacheConfig) (gate.SnapshotRepository, func(), error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		pool, err := postgres.Connect(ctx, cfg.PostgresURL, connectAttempts)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewSnapshotRepository(pool), pool.Close, nil
	case config.BackendRedis:
		client, err := redis.Connect(ctx, cfg.RedisAddr, connectAttempts)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if err := client.Close(); err != nil {
				slog.Debug("error closing redis client", "error", err)
			}
		}
		return redis.NewSnapshotRepository(client, cfg.RedisPrefix), closeFn, nil
	default:
		return nil, nil, nil
	}
}

// monitorServerErrors cancels ctx when a background server fails.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, name string) {
	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			slog.Error("server failed, shutting down", "server", name, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}

// waitListening calls ready with the telnet address once it is bound.
func waitListening(ctx context.Context, srv *telnet.Server, ready func(string)) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if addr := srv.Addr(); addr != "" {
			ready(addr)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
