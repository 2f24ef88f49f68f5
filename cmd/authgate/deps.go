// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/holomush/authgate/internal/config"
	"github.com/holomush/authgate/internal/gate"
	"github.com/holomush/authgate/internal/observability"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// RepositoryFactory opens the session cache backend named by cfg.
	// It returns a nil repository for the memory backend.
	// Default: openRepository
	RepositoryFactory func(ctx context.Context, cfg config.SessionCacheConfig) (gate.SnapshotRepository, func(), error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker, register ...func(prometheus.Registerer)) ObservabilityServer

	// Ready, when set, is called with the telnet address once the server
	// is listening.
	Ready func(addr string)
}

// ObservabilityServer is the subset of observability.Server used by serve.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Registry() *prometheus.Registry
}

// expiredPruner is implemented by repositories that can drop closed
// windows in bulk.
type expiredPruner interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
