// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package gate

import (
	"context"
	"time"

	"github.com/samber/oops"
)

// SnapshotRepository persists resumable session records so a restart does
// not force every recently disconnected identity to log in again.
type SnapshotRepository interface {
	// Save replaces the whole persisted set with snapshots. A record that
	// is absent from snapshots (resumed, logged out or expired since the
	// last save) must not survive, or a restart would revive its window.
	Save(ctx context.Context, snapshots []Snapshot) error
	// Load returns the snapshots still resumable at now.
	Load(ctx context.Context, now time.Time) ([]Snapshot, error)
}

// SaveSnapshots replaces the records held by repo with the resumable
// records in store. An empty store clears repo. Returns the number of
// records written.
func SaveSnapshots(ctx context.Context, store *MemoryStore, repo SnapshotRepository, now time.Time) (int, error) {
	snaps := store.Snapshot(now)
	if err := repo.Save(ctx, snaps); err != nil {
		return 0, oops.In("gate").Code("SNAPSHOT_SAVE_FAILED").
			With("count", len(snaps)).
			Wrap(err)
	}
	return len(snaps), nil
}

// RestoreSnapshots loads resumable records from repo into store.
// Returns the number of records restored.
func RestoreSnapshots(ctx context.Context, store *MemoryStore, repo SnapshotRepository, now time.Time) (int, error) {
	snaps, err := repo.Load(ctx, now)
	if err != nil {
		return 0, oops.In("gate").Code("SNAPSHOT_LOAD_FAILED").Wrap(err)
	}
	return store.Restore(snaps, now), nil
}
