// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package observability serves Prometheus metrics and health probes, and
// owns the counters for the telnet and persistence layers.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// ReadinessChecker reports whether the telnet listener is accepting.
type ReadinessChecker func() bool

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// connectionsTotal counts telnet connections by how their join ended.
var connectionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "authgate_telnet_connections_total",
		Help: "Total number of telnet connections by join result",
	},
	[]string{"result"},
)

// snapshotOperations counts session record persistence operations.
var snapshotOperations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "authgate_snapshot_operations_total",
		Help: "Total number of session record save/load operations by result",
	},
	[]string{"operation", "result"},
)

// RecordConnection increments the telnet connection counter.
func RecordConnection(result string) {
	connectionsTotal.WithLabelValues(result).Inc()
}

// RecordSnapshot counts one save or load of session records; err decides
// the result label.
func RecordSnapshot(operation string, err error) {
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	snapshotOperations.WithLabelValues(operation, result).Inc()
}

// Server serves /metrics and the health probes for authgate.
type Server struct {
	addr     string
	registry *prometheus.Registry
	ready    ReadinessChecker
	logger   *slog.Logger

	running    atomic.Bool
	listener   net.Listener
	httpServer *http.Server
}

// NewServer creates a server listening on addr once started. The registry
// carries the Go and process collectors plus this package's counters; each
// register func adds collectors owned by other packages. A nil ready is
// always ready.
func NewServer(addr string, ready ReadinessChecker, register ...func(prometheus.Registerer)) *Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		connectionsTotal,
		snapshotOperations,
	)
	for _, fn := range register {
		fn(reg)
	}
	return &Server{
		addr:     addr,
		registry: reg,
		ready:    ready,
		logger:   slog.Default().With("component", "observability"),
	}
}

// Registry returns the server's registry.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/healthz/liveness", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, "ok")
	})
	mux.HandleFunc("/healthz/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if s.ready != nil && !s.ready() {
			writeStatus(w, http.StatusServiceUnavailable, "not ready")
			return
		}
		writeStatus(w, http.StatusOK, "ok")
	})
	return mux
}

// Start listens and serves in the background. Serve failures arrive on the
// returned channel, which is closed once serving stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Code("OBSERVABILITY_ALREADY_RUNNING").Errorf("observability server already running")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.Code("OBSERVABILITY_LISTEN_FAILED").With("addr", s.addr).Wrap(err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func(srv *http.Server) {
		defer close(errCh)
		err := srv.Serve(ln)
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return
		}
		s.logger.Error("metrics endpoint failed", "error", err)
		errCh <- err
	}(s.httpServer)

	s.logger.Info("metrics endpoint listening", "addr", ln.Addr().String())
	return errCh, nil
}

// Stop shuts the server down. Stopping a server that is not running is a
// no-op; a failed shutdown leaves it running.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.running.Store(true)
		return oops.Code("OBSERVABILITY_SHUTDOWN_FAILED").With("addr", s.Addr()).Wrap(err)
	}
	s.logger.Info("metrics endpoint stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func writeStatus(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	//nolint:errcheck // the client may already be gone
	fmt.Fprintln(w, body)
}
