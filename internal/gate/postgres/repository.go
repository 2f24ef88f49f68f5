// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres persists resumable session records in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"net/netip"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/authgate/internal/gate"
)

// poolIface is the subset of pgxpool.Pool the repository uses; pgxmock
// satisfies it in tests.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// SnapshotRepository implements gate.SnapshotRepository using PostgreSQL.
type SnapshotRepository struct {
	pool poolIface
}

// NewSnapshotRepository creates a new SnapshotRepository.
func NewSnapshotRepository(pool poolIface) *SnapshotRepository {
	return &SnapshotRepository{pool: pool}
}

const upsertSQL = `
	INSERT INTO gate_session_records (identity, was_authenticated, valid_until, last_origin, was_in_portal, was_on_fire, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, NOW())
	ON CONFLICT (identity) DO UPDATE SET
		was_authenticated = EXCLUDED.was_authenticated,
		valid_until = EXCLUDED.valid_until,
		last_origin = EXCLUDED.last_origin,
		was_in_portal = EXCLUDED.was_in_portal,
		was_on_fire = EXCLUDED.was_on_fire,
		updated_at = NOW()`

const clearSQL = `DELETE FROM gate_session_records`

// Save replaces the stored records with snapshots in a single
// transaction. Rows for identities absent from snapshots are removed.
func (r *SnapshotRepository) Save(ctx context.Context, snapshots []gate.Snapshot) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return classify(err, "begin snapshot transaction")
	}
	defer func() {
		_ = tx.Rollback(ctx) //nolint:errcheck // no-op after commit
	}()

	if _, err := tx.Exec(ctx, clearSQL); err != nil {
		return classify(err, "clear session records")
	}

	for _, s := range snapshots {
		origin := ""
		if s.Record.LastOrigin.IsValid() {
			origin = s.Record.LastOrigin.String()
		}
		if _, err := tx.Exec(ctx, upsertSQL,
			s.Identity.String(),
			s.Record.WasAuthenticated,
			s.Record.ValidUntil,
			origin,
			s.Record.WasInPortal,
			s.Record.WasOnFire,
		); err != nil {
			return oops.With("identity", s.Identity.String()).Wrap(classify(err, "upsert session record"))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(err, "commit snapshot transaction")
	}
	return nil
}

// Load returns the records still resumable at now. Rows with an unparsable
// identity are skipped; an unparsable origin loads as the zero address,
// which never resumes.
func (r *SnapshotRepository) Load(ctx context.Context, now time.Time) ([]gate.Snapshot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT identity, valid_until, last_origin, was_in_portal, was_on_fire
		FROM gate_session_records
		WHERE was_authenticated AND valid_until >= $1
	`, now)
	if err != nil {
		return nil, classify(err, "query session records")
	}
	defer rows.Close()

	var out []gate.Snapshot
	for rows.Next() {
		var (
			idStr, originStr string
			rec              gate.SessionRecord
		)
		if err := rows.Scan(&idStr, &rec.ValidUntil, &originStr, &rec.WasInPortal, &rec.WasOnFire); err != nil {
			return nil, oops.Code("SNAPSHOT_SCAN_FAILED").With("operation", "scan session record").Wrap(err)
		}
		id, err := ulid.Parse(idStr)
		if err != nil {
			continue
		}
		rec.WasAuthenticated = true
		if origin, err := netip.ParseAddr(originStr); err == nil {
			rec.LastOrigin = origin
		}
		out = append(out, gate.Snapshot{Identity: id, Record: rec})
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "iterate session records")
	}
	return out, nil
}

// DeleteExpired removes records whose window closed before now and returns
// the number removed.
func (r *SnapshotRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM gate_session_records WHERE valid_until < $1`, now)
	if err != nil {
		return 0, classify(err, "delete expired session records")
	}
	return tag.RowsAffected(), nil
}

// classify wraps err, flagging a missing table so operators know to run
// the migrations.
func classify(err error, operation string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
		return oops.Code("SNAPSHOT_SCHEMA_MISSING").
			With("operation", operation).
			Hint("run `authgate migrate up`").
			Wrap(err)
	}
	return oops.With("operation", operation).Wrap(err)
}

// Connect opens a pool to url, retrying the initial ping with exponential
// backoff up to attempts times.
func Connect(ctx context.Context, url string, attempts uint64) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, oops.Code("SNAPSHOT_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	backoff := retry.WithMaxRetries(attempts, retry.NewExponential(200*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("SNAPSHOT_CONNECT_FAILED").With("operation", "ping").Wrap(err)
	}
	return pool, nil
}
