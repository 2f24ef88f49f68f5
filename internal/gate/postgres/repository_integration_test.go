// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package postgres_test

import (
	"context"
	"net/netip"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/authgate/internal/gate"
	"github.com/holomush/authgate/internal/gate/gatetest"
	"github.com/holomush/authgate/internal/gate/postgres"
)

var _ = Describe("SnapshotRepository", Ordered, func() {
	var (
		ctx       context.Context
		container *tcpostgres.PostgresContainer
		pool      *pgxpool.Pool
		repo      *postgres.SnapshotRepository
	)

	BeforeAll(func() {
		ctx = context.Background()

		var err error
		container, err = tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("authgate_test"),
			tcpostgres.WithUsername("authgate"),
			tcpostgres.WithPassword("authgate"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err := container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		migrator, err := postgres.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(migrator.Up()).To(Succeed())
		status, err := migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Version).To(BeEquivalentTo(1))
		Expect(status.Dirty).To(BeFalse())
		Expect(status.Pending()).To(BeFalse())
		Expect(migrator.Close()).To(Succeed())

		pool, err = postgres.Connect(ctx, connStr, 5)
		Expect(err).NotTo(HaveOccurred())
		repo = postgres.NewSnapshotRepository(pool)
	})

	AfterAll(func() {
		if pool != nil {
			pool.Close()
		}
		if container != nil {
			_ = container.Terminate(ctx)
		}
	})

	It("round-trips resumable records and drops expired ones", func() {
		now := time.Now().UTC().Truncate(time.Microsecond)
		live := ulid.Make()
		expired := ulid.Make()
		origin := netip.MustParseAddr("203.0.113.7")

		Expect(repo.Save(ctx, []gate.Snapshot{
			{Identity: live, Record: gate.SessionRecord{
				WasAuthenticated: true, ValidUntil: now.Add(time.Minute), LastOrigin: origin, WasInPortal: true,
			}},
			{Identity: expired, Record: gate.SessionRecord{
				WasAuthenticated: true, ValidUntil: now.Add(-time.Minute), LastOrigin: origin,
			}},
		})).To(Succeed())

		loaded, err := repo.Load(ctx, now)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded).To(HaveLen(1))
		Expect(loaded[0].Identity).To(Equal(live))
		Expect(loaded[0].Record.LastOrigin).To(Equal(origin))
		Expect(loaded[0].Record.WasInPortal).To(BeTrue())
		Expect(loaded[0].Record.ValidUntil.Equal(now.Add(time.Minute))).To(BeTrue())

		removed, err := repo.DeleteExpired(ctx, now)
		Expect(err).NotTo(HaveOccurred())
		Expect(removed).To(BeEquivalentTo(1))
	})

	It("overwrites an identity's record on save", func() {
		now := time.Now().UTC().Truncate(time.Microsecond)
		id := ulid.Make()
		origin := netip.MustParseAddr("198.51.100.9")

		rec := gate.SessionRecord{WasAuthenticated: true, ValidUntil: now.Add(time.Minute), LastOrigin: origin}
		Expect(repo.Save(ctx, []gate.Snapshot{{Identity: id, Record: rec}})).To(Succeed())

		rec.WasOnFire = true
		Expect(repo.Save(ctx, []gate.Snapshot{{Identity: id, Record: rec}})).To(Succeed())

		loaded, err := repo.Load(ctx, now)
		Expect(err).NotTo(HaveOccurred())
		var found bool
		for _, s := range loaded {
			if s.Identity == id {
				found = true
				Expect(s.Record.WasOnFire).To(BeTrue())
			}
		}
		Expect(found).To(BeTrue())
	})

	It("replaces the stored set on save", func() {
		gatetest.AssertSaveReplacesPreviousSet(GinkgoT(), repo)
	})

	It("does not restore a window consumed before the last save", func() {
		gatetest.AssertConsumedWindowNotRestored(GinkgoT(), repo)
	})
})
