// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package gate

import (
	"context"
	"log/slog"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Entry is everything the store tracks for one identity.
type Entry struct {
	// Record is the resumable-session state, nil when none exists.
	Record *SessionRecord
	// Live is the in-memory authenticated flag. Never carried across a
	// disconnect.
	Live bool
	// Connected is true between join and leave.
	Connected bool
	// Exempt marks a non-interactive identity that skipped gating at join.
	Exempt bool
	// Origin is the network origin of the current connection.
	Origin netip.Addr
}

func (e Entry) empty() bool {
	return e.Record == nil && !e.Live && !e.Connected && !e.Exempt && !e.Origin.IsValid()
}

func (e Entry) clone() Entry {
	if e.Record != nil {
		rec := *e.Record
		e.Record = &rec
	}
	return e
}

// Store is the single source of truth for "is this identity authenticated
// now". Implementations must be safe for concurrent use and must run
// Update atomically per identity.
type Store interface {
	// Get returns a copy of the identity's SessionRecord.
	Get(id Identity) (SessionRecord, bool)
	// Put replaces the identity's SessionRecord.
	Put(id Identity, record SessionRecord)
	// SetLiveAuthenticated sets the live authenticated flag.
	SetLiveAuthenticated(id Identity, live bool)
	// IsLiveAuthenticated reports the live flag; false for unknown identities.
	IsLiveAuthenticated(id Identity) bool
	// IsExempt reports whether the identity joined as exempt and is still
	// connected.
	IsExempt(id Identity) bool
	// Update runs fn with exclusive access to the identity's entry. Changes
	// fn makes to the entry are stored when it returns.
	Update(id Identity, fn func(e *Entry))
}

const storeShards = 32

type shard struct {
	mu      sync.RWMutex
	entries map[Identity]Entry
}

// MemoryStore is a Store backed by a sharded lock table. Operations on
// different identities rarely contend; operations on one identity are
// serialized by its shard lock.
type MemoryStore struct {
	shards [storeShards]shard
	size   atomic.Int64

	// Metrics gauge for tracked entries (nil if no registry provided)
	sizeGauge prometheus.GaugeFunc
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return newMemoryStore(nil)
}

// NewMemoryStoreWithRegistry creates an empty store and registers a gauge of
// tracked entries with the provided Prometheus registry.
func NewMemoryStoreWithRegistry(reg prometheus.Registerer) *MemoryStore {
	return newMemoryStore(reg)
}

func newMemoryStore(reg prometheus.Registerer) *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i].entries = make(map[Identity]Entry)
	}
	if reg != nil {
		s.sizeGauge = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "authgate_session_records",
			Help: "Current number of identities tracked by the auth state store",
		}, func() float64 { return float64(s.Len()) })
		reg.MustRegister(s.sizeGauge)
	}
	return s
}

// The low byte of a ULID is random, so it spreads identities evenly.
func (s *MemoryStore) shardFor(id Identity) *shard {
	return &s.shards[int(id[len(id)-1])%storeShards]
}

// Get implements Store.
func (s *MemoryStore) Get(id Identity) (SessionRecord, bool) {
	sh := s.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	e, ok := sh.entries[id]
	if !ok || e.Record == nil {
		return SessionRecord{}, false
	}
	return *e.Record, true
}

// Put implements Store.
func (s *MemoryStore) Put(id Identity, record SessionRecord) {
	s.Update(id, func(e *Entry) {
		e.Record = &record
	})
}

// SetLiveAuthenticated implements Store.
func (s *MemoryStore) SetLiveAuthenticated(id Identity, live bool) {
	s.Update(id, func(e *Entry) {
		e.Live = live
	})
}

// IsLiveAuthenticated implements Store.
func (s *MemoryStore) IsLiveAuthenticated(id Identity) bool {
	sh := s.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	return sh.entries[id].Live
}

// IsExempt implements Store.
func (s *MemoryStore) IsExempt(id Identity) bool {
	sh := s.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	e := sh.entries[id]
	return e.Exempt && e.Connected
}

// Update implements Store. fn receives a private copy of the entry; an
// entry left empty is removed.
func (s *MemoryStore) Update(id Identity, fn func(e *Entry)) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	current, existed := sh.entries[id]
	next := current.clone()
	fn(&next)

	switch {
	case next.empty() && existed:
		delete(sh.entries, id)
		s.size.Add(-1)
	case next.empty():
	default:
		if !existed {
			s.size.Add(1)
		}
		sh.entries[id] = next.clone()
	}
}

// Len returns the number of tracked identities.
func (s *MemoryStore) Len() int {
	return int(s.size.Load())
}

// Sweep drops entries for disconnected identities whose record no longer
// holds a resumable window at now. Returns the number of entries removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for id, e := range sh.entries {
			if e.Connected || e.Live {
				continue
			}
			if e.Record != nil && e.Record.Resumable(now) {
				continue
			}
			delete(sh.entries, id)
			removed++
		}
		sh.mu.Unlock()
	}
	s.size.Add(int64(-removed))
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *MemoryStore) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.Sweep(now); n > 0 {
				slog.Debug("swept stale session records", "removed", n)
			}
		}
	}
}

// Snapshot is one identity's resumable record, as persisted across restarts.
type Snapshot struct {
	Identity Identity
	Record   SessionRecord
}

// Snapshot returns every record still holding a resumable window at now.
func (s *MemoryStore) Snapshot(now time.Time) []Snapshot {
	var out []Snapshot
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for id, e := range sh.entries {
			if e.Record != nil && e.Record.Resumable(now) {
				out = append(out, Snapshot{Identity: id, Record: *e.Record})
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

// Restore loads snapshots taken by a previous process. Expired snapshots
// and identities the store already tracks are skipped. Returns the number
// restored.
func (s *MemoryStore) Restore(snapshots []Snapshot, now time.Time) int {
	restored := 0
	for _, snap := range snapshots {
		if !snap.Record.Resumable(now) {
			continue
		}
		record := snap.Record
		s.Update(snap.Identity, func(e *Entry) {
			if e.Record != nil || e.Connected {
				return
			}
			e.Record = &record
			restored++
		})
	}
	return restored
}
