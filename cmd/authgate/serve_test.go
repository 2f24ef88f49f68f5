// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authgate/internal/config"
	"github.com/holomush/authgate/internal/gate"
)

type memoryRepo struct {
	mu      sync.Mutex
	saved   []gate.Snapshot
	loads   int
	loadErr error
}

func (r *memoryRepo) Save(_ context.Context, snaps []gate.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append([]gate.Snapshot(nil), snaps...)
	return nil
}

func (r *memoryRepo) Load(context.Context, time.Time) ([]gate.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads++
	return nil, r.loadErr
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Telnet.Addr = "127.0.0.1:0"
	cfg.Metrics.Addr = ""
	cfg.SessionCache.Backend = config.BackendRedis
	cfg.SessionCache.RedisAddr = "unused"
	return &cfg
}

// registerAndQuit connects as name, registers, and disconnects.
func registerAndQuit(t *testing.T, addr, name string) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	reader := bufio.NewReader(conn)
	readUntil := func(want string) {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if strings.Contains(line, want) {
				return
			}
		}
	}

	readUntil("Enter your name")
	_, err = conn.Write([]byte(name + "\n"))
	require.NoError(t, err)
	readUntil("not logged in")
	_, err = conn.Write([]byte("/register hunter2\n"))
	require.NoError(t, err)
	readUntil("Registered")
	_, err = conn.Write([]byte("/quit\n"))
	require.NoError(t, err)
	readUntil("Goodbye")
}

func TestServe_SavesArmedWindowsOnShutdown(t *testing.T) {
	repo := &memoryRepo{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := &cobra.Command{}
	var logs bytes.Buffer
	cmd.SetErr(&logs)

	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- runServeWithDeps(ctx, testConfig(), cmd, &ServeDeps{
			RepositoryFactory: func(context.Context, config.SessionCacheConfig) (gate.SnapshotRepository, func(), error) {
				return repo, nil, nil
			},
			Ready: func(addr string) { ready <- addr },
		})
	}()

	var addr string
	select {
	case addr = <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	registerAndQuit(t, addr, "Steve")
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	assert.Equal(t, 1, repo.loads)
	require.Len(t, repo.saved, 1)
	assert.True(t, repo.saved[0].Record.WasAuthenticated)
	assert.Contains(t, logs.String(), "saved session records")
}

func TestServe_RestoreFailureIsNotFatal(t *testing.T) {
	repo := &memoryRepo{loadErr: errors.New("connection refused")}
	ctx, cancel := context.WithCancel(context.Background())

	cmd := &cobra.Command{}
	var logs bytes.Buffer
	cmd.SetErr(&logs)

	done := make(chan error, 1)
	go func() {
		done <- runServeWithDeps(ctx, testConfig(), cmd, &ServeDeps{
			RepositoryFactory: func(context.Context, config.SessionCacheConfig) (gate.SnapshotRepository, func(), error) {
				return repo, nil, nil
			},
			Ready: func(string) { cancel() },
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Contains(t, logs.String(), "failed to restore session records")
	assert.Contains(t, logs.String(), "SNAPSHOT_LOAD_FAILED")
}

func TestServe_RepositoryErrorAborts(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.SetErr(&bytes.Buffer{})

	err := runServeWithDeps(context.Background(), testConfig(), cmd, &ServeDeps{
		RepositoryFactory: func(context.Context, config.SessionCacheConfig) (gate.SnapshotRepository, func(), error) {
			return nil, nil, errors.New("no route to host")
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no route to host")
}

func TestOpenRepository_MemoryBackend(t *testing.T) {
	repo, closeFn, err := openRepository(context.Background(), config.SessionCacheConfig{Backend: config.BackendMemory})
	require.NoError(t, err)
	assert.Nil(t, repo)
	assert.Nil(t, closeFn)
}
