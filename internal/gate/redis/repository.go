// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package redis persists resumable session records in Redis, one key per
// identity, expiring when the record's window closes.
package redis

import (
	"context"
	"encoding/json"
	"net/netip"
	"time"

	"github.com/oklog/ulid/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/authgate/internal/gate"
)

// DefaultPrefix namespaces session record keys.
const DefaultPrefix = "authgate:session:"

const scanBatch = 1000

// storedRecord is the JSON value kept under each key.
type storedRecord struct {
	ValidUntil  time.Time `json:"valid_until"`
	LastOrigin  string    `json:"last_origin,omitempty"`
	WasInPortal bool      `json:"was_in_portal,omitempty"`
	WasOnFire   bool      `json:"was_on_fire,omitempty"`
}

// SnapshotRepository implements gate.SnapshotRepository using Redis.
type SnapshotRepository struct {
	client goredis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewSnapshotRepository creates a repository writing keys under prefix.
// An empty prefix uses DefaultPrefix.
func NewSnapshotRepository(client goredis.UniversalClient, prefix string) *SnapshotRepository {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &SnapshotRepository{client: client, prefix: prefix, now: time.Now}
}

func (r *SnapshotRepository) key(id gate.Identity) string {
	return r.prefix + id.String()
}

// Save replaces every key under the prefix with snapshots. Each resumable
// snapshot is written with a TTL matching its remaining window; keys whose
// identity is absent from snapshots, or whose snapshot is no longer
// resumable, are deleted in the same transaction.
func (r *SnapshotRepository) Save(ctx context.Context, snapshots []gate.Snapshot) error {
	existing, err := r.keys(ctx)
	if err != nil {
		return err
	}

	now := r.now()
	values := make(map[string][]byte, len(snapshots))
	ttls := make(map[string]time.Duration, len(snapshots))
	for _, s := range snapshots {
		ttl := s.Record.ValidUntil.Sub(now)
		if !s.Record.WasAuthenticated || ttl <= 0 {
			continue
		}
		value, err := json.Marshal(encode(s.Record))
		if err != nil {
			return oops.With("identity", s.Identity.String()).Wrap(err)
		}
		key := r.key(s.Identity)
		values[key] = value
		ttls[key] = ttl
	}

	var stale []string
	for _, key := range existing {
		if _, ok := values[key]; !ok {
			stale = append(stale, key)
		}
	}

	_, err = r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		if len(stale) > 0 {
			pipe.Del(ctx, stale...)
		}
		for key, value := range values {
			pipe.Set(ctx, key, value, ttls[key])
		}
		return nil
	})
	if err != nil {
		return oops.With("operation", "write session records").Wrap(err)
	}
	return nil
}

// keys returns every key under the prefix.
func (r *SnapshotRepository) keys(ctx context.Context) ([]string, error) {
	var (
		out    []string
		cursor uint64
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", scanBatch).Result()
		if err != nil {
			return nil, oops.With("operation", "scan session records").Wrap(err)
		}
		out = append(out, keys...)
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

// Load returns records still resumable at now. Keys or values that fail
// to decode are skipped.
func (r *SnapshotRepository) Load(ctx context.Context, now time.Time) ([]gate.Snapshot, error) {
	keys, err := r.keys(ctx)
	if err != nil {
		return nil, err
	}

	var out []gate.Snapshot
	for start := 0; start < len(keys); start += scanBatch {
		batch := keys[start:min(start+scanBatch, len(keys))]
		values, err := r.client.MGet(ctx, batch...).Result()
		if err != nil {
			return nil, oops.With("operation", "read session records").Wrap(err)
		}
		for i, raw := range values {
			snap, ok := r.decode(batch[i], raw)
			if ok && snap.Record.Resumable(now) {
				out = append(out, snap)
			}
		}
	}
	return out, nil
}

func encode(rec gate.SessionRecord) storedRecord {
	s := storedRecord{
		ValidUntil:  rec.ValidUntil.UTC(),
		WasInPortal: rec.WasInPortal,
		WasOnFire:   rec.WasOnFire,
	}
	if rec.LastOrigin.IsValid() {
		s.LastOrigin = rec.LastOrigin.String()
	}
	return s
}

func (r *SnapshotRepository) decode(key string, raw any) (gate.Snapshot, bool) {
	str, ok := raw.(string)
	if !ok {
		return gate.Snapshot{}, false
	}
	id, err := ulid.Parse(key[len(r.prefix):])
	if err != nil {
		return gate.Snapshot{}, false
	}
	var stored storedRecord
	if err := json.Unmarshal([]byte(str), &stored); err != nil {
		return gate.Snapshot{}, false
	}
	rec := gate.SessionRecord{
		WasAuthenticated: true,
		ValidUntil:       stored.ValidUntil,
		WasInPortal:      stored.WasInPortal,
		WasOnFire:        stored.WasOnFire,
	}
	if origin, err := netip.ParseAddr(stored.LastOrigin); err == nil {
		rec.LastOrigin = origin
	}
	return gate.Snapshot{Identity: id, Record: rec}, true
}

// Connect creates a client for addr and retries PING with exponential
// backoff up to attempts times.
func Connect(ctx context.Context, addr string, attempts uint64) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr})

	backoff := retry.WithMaxRetries(attempts, retry.NewExponential(200*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		_ = client.Close() //nolint:errcheck // connect error takes precedence
		return nil, oops.Code("SNAPSHOT_CONNECT_FAILED").With("addr", addr).Wrap(err)
	}
	return client, nil
}
