// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package telnet is the event layer: it accepts telnet clients, runs them
// through the gate's join, action and leave flows, and performs the
// resulting side effects on the connection.
package telnet

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/authgate/internal/account"
	"github.com/holomush/authgate/internal/gate"
)

// Server is a telnet server.
type Server struct {
	addr     string
	listener net.Listener
	engine   *gate.Engine
	accounts *account.Registry
	auth     *AuthHandler
	world    *World
	roster   *roster
	logger   *slog.Logger
	now      func() time.Time
	mu       sync.RWMutex
	conns    sync.WaitGroup
}

// NewServer creates a new telnet server. A nil logger discards output.
// Returns an error if engine, accounts or world is nil.
func NewServer(addr string, engine *gate.Engine, accounts *account.Registry, world *World, logger *slog.Logger) (*Server, error) {
	if engine == nil {
		return nil, oops.Code("TELNET_ENGINE_REQUIRED").Errorf("gate engine is required")
	}
	if accounts == nil {
		return nil, oops.Code("TELNET_ACCOUNTS_REQUIRED").Errorf("account registry is required")
	}
	if world == nil {
		return nil, oops.Code("TELNET_WORLD_REQUIRED").Errorf("world is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	auth, err := NewAuthHandler(accounts, logger)
	if err != nil {
		return nil, err
	}
	return &Server{
		addr:     addr,
		engine:   engine,
		accounts: accounts,
		auth:     auth,
		world:    world,
		roster:   newRoster(),
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Online returns the number of joined connections.
func (s *Server) Online() int {
	return s.roster.len()
}

// Run starts the server and blocks until ctx is cancelled and every
// connection has run its leave flow.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return oops.Code("TELNET_LISTEN_FAILED").With("addr", s.addr).Wrap(err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("telnet server started", "addr", listener.Addr().String())

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		if err := listener.Close(); err != nil {
			s.logger.Debug("error closing listener", "error", err)
		}
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				<-stopped
				s.conns.Wait()
				s.logger.Info("telnet server stopped")
				return nil
			default:
				s.logger.Error("accept failed", "error", err)
				continue
			}
		}
		c := newConnection(s, conn)
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			c.handle(ctx)
		}()
	}
}
