// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package gatetest provides test helpers for session record repositories.
package gatetest

import (
	"context"
	"net/netip"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authgate/internal/gate"
)

var restartOrigin = netip.MustParseAddr("203.0.113.7")

// T is the subset of testing.T the helpers use; GinkgoT() satisfies it.
type T interface {
	require.TestingT
	Helper()
}

// reset empties repo so each helper starts from a clean set.
func reset(ctx context.Context, t T, repo gate.SnapshotRepository) {
	t.Helper()
	require.NoError(t, repo.Save(ctx, nil))
}

// RestartCycle is one process lifetime against a shared repository.
type RestartCycle struct {
	Store  *gate.MemoryStore
	Engine *gate.Engine
}

// StartProcess restores repo into a fresh engine, as serve does at startup.
// Returns the cycle and the number of records restored.
func StartProcess(ctx context.Context, t T, repo gate.SnapshotRepository, now time.Time) (RestartCycle, int) {
	t.Helper()
	store := gate.NewMemoryStore()
	n, err := gate.RestoreSnapshots(ctx, store, repo, now)
	require.NoError(t, err)
	engine, err := gate.NewEngine(gate.DefaultPolicy(), store, nil)
	require.NoError(t, err)
	return RestartCycle{Store: store, Engine: engine}, n
}

// Stop saves the cycle's store to repo, as serve does at shutdown.
func (c RestartCycle) Stop(ctx context.Context, t T, repo gate.SnapshotRepository, now time.Time) int {
	t.Helper()
	n, err := gate.SaveSnapshots(ctx, c.Store, repo, now)
	require.NoError(t, err)
	return n
}

func (c RestartCycle) join(id gate.Identity, now time.Time) gate.JoinOutcome {
	return c.Engine.OnJoin(gate.JoinRequest{
		Identity: id,
		Name:     "Steve",
		Origin:   restartOrigin,
		Now:      now,
	}, nil).Outcome
}

// AssertConsumedWindowNotRestored runs three process lifetimes against
// repo. The first arms a window and saves it. The second restores it,
// resumes it, logs out, leaves and saves. The third must not be able to
// resume the same window. repo is emptied first.
func AssertConsumedWindowNotRestored(t T, repo gate.SnapshotRepository) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	id := ulid.Make()
	reset(ctx, t, repo)

	first, _ := StartProcess(ctx, t, repo, now)
	require.Equal(t, gate.JoinUnauthenticated, first.join(id, now))
	_, ok := first.Engine.Authenticate(id, nil)
	require.True(t, ok)
	require.True(t, first.Engine.OnLeave(id, now))
	require.Equal(t, 1, first.Stop(ctx, t, repo, now))

	second, restored := StartProcess(ctx, t, repo, now.Add(time.Second))
	require.Equal(t, 1, restored)
	require.Equal(t, gate.JoinResumed, second.join(id, now.Add(time.Second)))
	second.Engine.Deauthenticate(id, restartOrigin, nil)
	assert.False(t, second.Engine.OnLeave(id, now.Add(2*time.Second)))
	assert.Zero(t, second.Stop(ctx, t, repo, now.Add(2*time.Second)))

	third, restored := StartProcess(ctx, t, repo, now.Add(3*time.Second))
	assert.Zero(t, restored, "a consumed window must not be restored")
	assert.Equal(t, gate.JoinUnauthenticated, third.join(id, now.Add(3*time.Second)))
}

// AssertSaveReplacesPreviousSet saves two identities, then only one, and
// checks the other no longer loads. repo is emptied first.
func AssertSaveReplacesPreviousSet(t T, repo gate.SnapshotRepository) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	kept, dropped := ulid.Make(), ulid.Make()
	record := gate.SessionRecord{WasAuthenticated: true, ValidUntil: now.Add(time.Minute), LastOrigin: restartOrigin}
	reset(ctx, t, repo)

	require.NoError(t, repo.Save(ctx, []gate.Snapshot{
		{Identity: kept, Record: record},
		{Identity: dropped, Record: record},
	}))
	require.NoError(t, repo.Save(ctx, []gate.Snapshot{{Identity: kept, Record: record}}))

	loaded, err := repo.Load(ctx, now)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, kept, loaded[0].Identity)

	require.NoError(t, repo.Save(ctx, nil))
	loaded, err = repo.Load(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}
