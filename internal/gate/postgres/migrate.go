// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"embed"
	"errors"
	"io/fs"
	"path"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	// Register pgx/v5 database driver for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/samber/oops"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrateIface abstracts golang-migrate so the Migrator can be tested
// without a database.
type migrateIface interface {
	Up() error
	Down() error
	Version() (version uint, dirty bool, err error)
	Close() (source error, database error)
}

// Migrator applies the session record schema.
type Migrator struct {
	m migrateIface
}

// NewMigrator creates a Migrator for databaseURL. postgres:// and
// postgresql:// URLs are rewritten to the pgx5:// scheme golang-migrate's
// pgx/v5 driver expects.
func NewMigrator(databaseURL string) (*Migrator, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, oops.Code("MIGRATION_SOURCE_FAILED").With("operation", "create migration source").Wrap(err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL(databaseURL))
	if err != nil {
		_ = source.Close() //nolint:errcheck // init error takes precedence
		return nil, oops.Code("MIGRATION_INIT_FAILED").With("operation", "initialize migrator").Wrap(err)
	}
	return &Migrator{m: m}, nil
}

func migrateURL(databaseURL string) string {
	if rest, found := strings.CutPrefix(databaseURL, "postgres://"); found {
		return "pgx5://" + rest
	}
	if rest, found := strings.CutPrefix(databaseURL, "postgresql://"); found {
		return "pgx5://" + rest
	}
	return databaseURL
}

// Up applies all pending migrations.
func (m *Migrator) Up() error {
	if err := m.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.Code("MIGRATION_UP_FAILED").Wrap(err)
	}
	return nil
}

// Down drops the session record schema.
func (m *Migrator) Down() error {
	if err := m.m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.Code("MIGRATION_DOWN_FAILED").Wrap(err)
	}
	return nil
}

// Status describes the schema state of a database.
type Status struct {
	// Version is the applied migration version, 0 when none is applied.
	Version uint
	// Dirty is set when a migration failed part way.
	Dirty bool
	// Latest is the newest migration embedded in this binary.
	Latest uint
}

// Pending reports whether migrations remain to be applied.
func (s Status) Pending() bool {
	return s.Version < s.Latest
}

// Status returns the applied version against the latest embedded one.
func (m *Migrator) Status() (Status, error) {
	latest, err := latestVersion(migrationsFS)
	if err != nil {
		return Status{}, err
	}
	version, dirty, err := m.m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return Status{Latest: latest}, nil
	case err != nil:
		return Status{}, oops.Code("MIGRATION_VERSION_FAILED").Wrap(err)
	}
	return Status{Version: version, Dirty: dirty, Latest: latest}, nil
}

// latestVersion returns the highest version among the *.up.sql files.
func latestVersion(fsys fs.FS) (uint, error) {
	names, err := fs.Glob(fsys, "migrations/*.up.sql")
	if err != nil {
		return 0, oops.Code("MIGRATION_SOURCE_FAILED").Wrap(err)
	}
	var latest uint
	for _, name := range names {
		prefix, _, ok := strings.Cut(path.Base(name), "_")
		if !ok {
			return 0, oops.Code("MIGRATION_SOURCE_FAILED").With("file", name).Errorf("migration file has no version prefix")
		}
		v, err := strconv.ParseUint(prefix, 10, 32)
		if err != nil {
			return 0, oops.Code("MIGRATION_SOURCE_FAILED").With("file", name).Wrap(err)
		}
		latest = max(latest, uint(v))
	}
	return latest, nil
}

// Close releases resources.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	if err := errors.Join(srcErr, dbErr); err != nil {
		return oops.Code("MIGRATION_CLOSE_FAILED").Wrap(err)
	}
	return nil
}
