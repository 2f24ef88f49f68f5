// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package redis

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/oklog/ulid/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authgate/internal/gate"
	"github.com/holomush/authgate/internal/gate/gatetest"
	"github.com/holomush/authgate/pkg/errutil"
)

var (
	testNow    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	testOrigin = netip.MustParseAddr("203.0.113.7")
)

func newTestRepo(t *testing.T) (*SnapshotRepository, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := NewSnapshotRepository(client, "")
	repo.now = func() time.Time { return testNow }
	return repo, mr
}

func TestSnapshotRepository_SaveSetsTTLFromWindow(t *testing.T) {
	repo, mr := newTestRepo(t)
	id := ulid.Make()

	err := repo.Save(context.Background(), []gate.Snapshot{{
		Identity: id,
		Record: gate.SessionRecord{
			WasAuthenticated: true,
			ValidUntil:       testNow.Add(45 * time.Second),
			LastOrigin:       testOrigin,
		},
	}})
	require.NoError(t, err)

	key := DefaultPrefix + id.String()
	assert.True(t, mr.Exists(key))
	assert.Equal(t, 45*time.Second, mr.TTL(key))
}

func TestSnapshotRepository_SaveDropsNonResumable(t *testing.T) {
	repo, mr := newTestRepo(t)
	stale := ulid.Make()
	require.NoError(t, mr.Set(DefaultPrefix+stale.String(), `{"valid_until":"2026-03-01T12:00:30Z"}`))

	err := repo.Save(context.Background(), []gate.Snapshot{
		{Identity: stale, Record: gate.SessionRecord{ValidUntil: testNow.Add(time.Minute)}},
		{Identity: ulid.Make(), Record: gate.SessionRecord{WasAuthenticated: true, ValidUntil: testNow.Add(-time.Second)}},
	})
	require.NoError(t, err)
	assert.Empty(t, mr.Keys())
}

func TestSnapshotRepository_SaveDeletesKeysMissingFromSnapshot(t *testing.T) {
	repo, mr := newTestRepo(t)
	consumed, kept := ulid.Make(), ulid.Make()
	require.NoError(t, mr.Set(DefaultPrefix+consumed.String(), `{"valid_until":"2026-03-01T12:00:30Z"}`))
	require.NoError(t, mr.Set("other:"+consumed.String(), `{"valid_until":"2026-03-01T12:00:30Z"}`))

	err := repo.Save(context.Background(), []gate.Snapshot{{
		Identity: kept,
		Record:   gate.SessionRecord{WasAuthenticated: true, ValidUntil: testNow.Add(time.Minute), LastOrigin: testOrigin},
	}})
	require.NoError(t, err)

	assert.False(t, mr.Exists(DefaultPrefix+consumed.String()))
	assert.True(t, mr.Exists(DefaultPrefix+kept.String()))
	assert.True(t, mr.Exists("other:"+consumed.String()), "keys outside the prefix are left alone")
}

func newRealClockRepo(t *testing.T) *SnapshotRepository {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSnapshotRepository(client, "")
}

func TestSnapshotRepository_SaveReplacesPreviousSet(t *testing.T) {
	gatetest.AssertSaveReplacesPreviousSet(t, newRealClockRepo(t))
}

func TestSnapshotRepository_ConsumedWindowNotRestoredAfterRestart(t *testing.T) {
	gatetest.AssertConsumedWindowNotRestored(t, newRealClockRepo(t))
}

func TestSnapshotRepository_LoadRoundTrip(t *testing.T) {
	repo, mr := newTestRepo(t)
	id := ulid.Make()

	require.NoError(t, repo.Save(context.Background(), []gate.Snapshot{{
		Identity: id,
		Record: gate.SessionRecord{
			WasAuthenticated: true,
			ValidUntil:       testNow.Add(time.Minute),
			LastOrigin:       testOrigin,
			WasInPortal:      true,
		},
	}}))
	require.NoError(t, mr.Set(DefaultPrefix+"garbage", `{"valid_until":"2026-03-01T12:01:00Z"}`))
	require.NoError(t, mr.Set(DefaultPrefix+ulid.Make().String(), `not json`))
	require.NoError(t, mr.Set("other:"+ulid.Make().String(), `{"valid_until":"2026-03-01T12:01:00Z"}`))

	got, err := repo.Load(context.Background(), testNow)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].Identity)
	assert.True(t, got[0].Record.WasAuthenticated)
	assert.Equal(t, testOrigin, got[0].Record.LastOrigin)
	assert.True(t, got[0].Record.WasInPortal)
	assert.True(t, got[0].Record.ValidUntil.Equal(testNow.Add(time.Minute)))
}

func TestSnapshotRepository_LoadSkipsClosedWindows(t *testing.T) {
	repo, _ := newTestRepo(t)

	require.NoError(t, repo.Save(context.Background(), []gate.Snapshot{{
		Identity: ulid.Make(),
		Record:   gate.SessionRecord{WasAuthenticated: true, ValidUntil: testNow.Add(time.Second), LastOrigin: testOrigin},
	}}))

	got, err := repo.Load(context.Background(), testNow.Add(2*time.Second))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSnapshotRepository_CustomPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := NewSnapshotRepository(client, "test:")
	repo.now = func() time.Time { return testNow }
	id := ulid.Make()

	require.NoError(t, repo.Save(context.Background(), []gate.Snapshot{{
		Identity: id,
		Record:   gate.SessionRecord{WasAuthenticated: true, ValidUntil: testNow.Add(time.Minute), LastOrigin: testOrigin},
	}}))
	assert.True(t, mr.Exists("test:"+id.String()))
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := Connect(context.Background(), mr.Addr(), 2)
	require.NoError(t, err)
	assert.NoError(t, client.Close())
}

func TestConnect_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Connect(context.Background(), addr, 1)
	errutil.AssertErrorCode(t, err, "SNAPSHOT_CONNECT_FAILED")
}
