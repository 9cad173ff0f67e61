// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pharmadiet Contributors

//go:build integration

package store_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/pharmadiet/pharmadiet/internal/access"
	"github.com/pharmadiet/pharmadiet/internal/auth"
	"github.com/pharmadiet/pharmadiet/internal/auth/postgres"
	"github.com/pharmadiet/pharmadiet/internal/store"
)

var _ = Describe("Migrator", Ordered, func() {
	var migrator *store.Migrator

	BeforeAll(func() {
		var err error
		migrator, err = store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = migrator.Close() })
	})

	It("applies every embedded migration", func() {
		Expect(migrator.Up()).To(Succeed())

		st, err := migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Pending).To(BeEmpty())
		Expect(st.Dirty).To(BeFalse())

		all, err := store.Migrations()
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Current).To(Equal(all[len(all)-1].Version))
	})

	It("steps down and back up", func() {
		latest, _, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())

		Expect(migrator.Steps(-1)).To(Succeed())
		v, _, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(latest - 1))

		Expect(migrator.Steps(1)).To(Succeed())
		v, _, err = migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(latest))
	})

	It("treats a second Up as a no-op", func() {
		Expect(migrator.Up()).To(Succeed())
	})
})

var _ = Describe("UserRepository on a migrated schema", Ordered, func() {
	var (
		ctx  context.Context
		repo *postgres.UserRepository
		now  time.Time
	)

	BeforeAll(func() {
		ctx = context.Background()
		m, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Up()).To(Succeed())
		Expect(m.Close()).To(Succeed())

		repo = postgres.NewUserRepository(pool)
		now = time.Now().UTC().Truncate(time.Microsecond)
	})

	newUser := func(username string) *auth.User {
		u, err := auth.NewUser(username, username+"@pharmacy.local", access.RolePharmacist, "hash", "salt", now)
		Expect(err).NotTo(HaveOccurred())
		return u
	}

	It("round-trips a user including lockout state", func() {
		u := newUser("roundtrip")
		locked := now.Add(30 * time.Minute)
		u.FailedLoginCount = 5
		u.LockedUntil = &locked
		Expect(repo.Save(ctx, u)).To(Succeed())

		got, err := repo.GetByID(ctx, u.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Username).To(Equal("roundtrip"))
		Expect(got.FailedLoginCount).To(Equal(5))
		Expect(got.LockedUntil).NotTo(BeNil())
		Expect(got.LockedUntil.Equal(locked)).To(BeTrue())

		byEmail, err := repo.FindByUsernameOrEmail(ctx, "RoundTrip@Pharmacy.Local")
		Expect(err).NotTo(HaveOccurred())
		Expect(byEmail.ID).To(Equal(u.ID))
	})

	It("rejects a second active user with the same username", func() {
		Expect(repo.Save(ctx, newUser("dupe"))).To(Succeed())
		err := repo.Save(ctx, newUser("dupe"))
		Expect(err).To(HaveOccurred())
		Expect(auth.ErrorCode(err)).To(Equal(auth.CodeUserDuplicate))
	})

	It("allows reusing the name of a deactivated user", func() {
		old := newUser("recycled")
		Expect(repo.Save(ctx, old)).To(Succeed())
		old.IsActive = false
		Expect(repo.Save(ctx, old)).To(Succeed())

		fresh := newUser("recycled")
		Expect(repo.Save(ctx, fresh)).To(Succeed())

		found, err := repo.FindByUsernameOrEmail(ctx, "recycled")
		Expect(err).NotTo(HaveOccurred())
		Expect(found.ID).To(Equal(fresh.ID))
	})

	It("reports a missing user as not found", func() {
		_, err := repo.GetByID(ctx, "missing")
		Expect(err).To(MatchError(auth.ErrNotFound))
	})

	It("counts and lists", func() {
		n, err := repo.Count(ctx)
		Expect(err).NotTo(HaveOccurred())

		all, err := repo.ListAll(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(HaveLen(n))

		active, err := repo.ListActive(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(len(active)).To(BeNumerically("<", n))
	})
})

var _ = Describe("PasswordResetRepository on a migrated schema", Ordered, func() {
	var (
		ctx    context.Context
		users  *postgres.UserRepository
		resets *postgres.PasswordResetRepository
		owner  *auth.User
		now    time.Time
	)

	BeforeAll(func() {
		ctx = context.Background()
		m, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Up()).To(Succeed())
		Expect(m.Close()).To(Succeed())

		users = postgres.NewUserRepository(pool)
		resets = postgres.NewPasswordResetRepository(pool)
		now = time.Now().UTC().Truncate(time.Microsecond)

		owner, err = auth.NewUser("reset-owner", "reset-owner@pharmacy.local", access.RoleViewer, "hash", "salt", now)
		Expect(err).NotTo(HaveOccurred())
		Expect(users.Save(ctx, owner)).To(Succeed())
	})

	newReset := func(hash string, expires time.Time) *auth.PasswordReset {
		return &auth.PasswordReset{
			ID:        hash + "-id",
			UserID:    owner.ID,
			TokenHash: hash,
			IssuedBy:  auth.BootstrapAdminID,
			ExpiresAt: expires,
			CreatedAt: now,
		}
	}

	It("stores and finds a reset by token hash", func() {
		want := newReset("live-hash", now.Add(time.Hour))
		Expect(resets.Create(ctx, want)).To(Succeed())

		got, err := resets.GetByTokenHash(ctx, "live-hash")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.UserID).To(Equal(owner.ID))
		Expect(got.IssuedBy).To(Equal(auth.BootstrapAdminID))
		Expect(got.ExpiresAt.Equal(want.ExpiresAt)).To(BeTrue())
	})

	It("rejects a duplicate token hash", func() {
		err := resets.Create(ctx, &auth.PasswordReset{
			ID: "other-id", UserID: owner.ID, TokenHash: "live-hash", ExpiresAt: now, CreatedAt: now,
		})
		Expect(err).To(HaveOccurred())
		Expect(auth.ErrorCode(err)).To(Equal("RESET_CREATE_FAILED"))
	})

	It("deletes only expired resets", func() {
		Expect(resets.Create(ctx, newReset("stale-hash", now.Add(-time.Minute)))).To(Succeed())

		n, err := resets.DeleteExpired(ctx, now)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeEquivalentTo(1))

		_, err = resets.GetByTokenHash(ctx, "stale-hash")
		Expect(err).To(MatchError(auth.ErrNotFound))
		_, err = resets.GetByTokenHash(ctx, "live-hash")
		Expect(err).NotTo(HaveOccurred())
	})

	It("consumes a reset exactly once", func() {
		Expect(resets.Create(ctx, newReset("once-hash", now.Add(time.Hour)))).To(Succeed())

		got, err := resets.ConsumeByTokenHash(ctx, "once-hash")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.TokenHash).To(Equal("once-hash"))

		_, err = resets.ConsumeByTokenHash(ctx, "once-hash")
		Expect(err).To(MatchError(auth.ErrNotFound))
	})

	It("deletes every reset of a user", func() {
		Expect(resets.DeleteByUser(ctx, owner.ID)).To(Succeed())
		_, err := resets.GetByTokenHash(ctx, "live-hash")
		Expect(err).To(MatchError(auth.ErrNotFound))
	})
})
