// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Appraise Contributors

//go:build integration

package postgres_test

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/appraise-dev/appraise/internal/auth"
	"github.com/appraise-dev/appraise/internal/auth/postgres"
	"github.com/appraise-dev/appraise/internal/store"
)

// setupPostgresContainer starts a migrated PostgreSQL container for testing.
func setupPostgresContainer() (*pgxpool.Pool, func(), error) {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("appraise_test"),
		tcpostgres.WithUsername("appraise"),
		tcpostgres.WithPassword("appraise"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		return nil, nil, err
	}
	if err := migrator.Up(); err != nil {
		return nil, nil, err
	}
	_ = migrator.Close()

	pool, err := store.Connect(ctx, connStr)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}

	return pool, cleanup, nil
}

var _ = Describe("Auth repositories", Ordered, func() {
	var (
		pool     *pgxpool.Pool
		cleanup  func()
		accounts *postgres.AccountRepository
		codes    *postgres.VerificationCodeRepository
		sessions *postgres.SessionRepository
	)

	BeforeAll(func() {
		var err error
		pool, cleanup, err = setupPostgresContainer()
		Expect(err).NotTo(HaveOccurred())

		accounts = postgres.NewAccountRepository(pool)
		codes = postgres.NewVerificationCodeRepository(pool)
		sessions = postgres.NewSessionRepository(pool)
	})

	AfterAll(func() {
		cleanup()
	})

	Describe("AccountRepository", func() {
		It("creates and retrieves a pending account", func() {
			ctx := context.Background()
			account, err := auth.NewAccount("pending@example.com")
			Expect(err).NotTo(HaveOccurred())

			Expect(accounts.Create(ctx, account)).To(Succeed())

			got, err := accounts.GetByEmail(ctx, "pending@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(account.ID))
			Expect(got.PasswordHash).To(BeNil())
			Expect(got.Active()).To(BeFalse())
		})

		It("rejects duplicate emails case-insensitively", func() {
			ctx := context.Background()
			account, err := auth.NewAccount("dup@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(accounts.Create(ctx, account)).To(Succeed())

			clash := &auth.Account{
				ID:        ulid.Make(),
				Email:     "DUP@example.com",
				CreatedAt: time.Now(),
				UpdatedAt: time.Now(),
			}
			err = accounts.Create(ctx, clash)
			Expect(err).To(MatchError(auth.ErrDuplicateEmail))
		})

		It("finds accounts regardless of lookup case", func() {
			ctx := context.Background()
			got, err := accounts.GetByEmail(ctx, "DUP@EXAMPLE.COM")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Email).To(Equal("dup@example.com"))
		})

		It("activates a pending account via SetPassword", func() {
			ctx := context.Background()
			account, err := auth.NewAccount("activate@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(accounts.Create(ctx, account)).To(Succeed())

			hash := "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA"
			Expect(accounts.SetPassword(ctx, account.ID, hash)).To(Succeed())

			got, err := accounts.GetByID(ctx, account.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Active()).To(BeTrue())
			Expect(*got.PasswordHash).To(Equal(hash))
		})

		It("reports ErrNotFound for unknown accounts", func() {
			ctx := context.Background()
			_, err := accounts.GetByEmail(ctx, "ghost@example.com")
			Expect(err).To(MatchError(auth.ErrNotFound))

			err = accounts.SetPassword(ctx, ulid.Make(), "hash")
			Expect(err).To(MatchError(auth.ErrNotFound))
		})
	})

	Describe("VerificationCodeRepository", func() {
		const email = "codes@example.com"

		It("reissue supersedes the previous code", func() {
			ctx := context.Background()

			first, err := auth.NewVerificationCode(email, auth.HashCode("FIRSTAAA"), time.Now().Add(auth.CodeTTL))
			Expect(err).NotTo(HaveOccurred())
			Expect(codes.Replace(ctx, first)).To(Succeed())

			second, err := auth.NewVerificationCode(email, auth.HashCode("SECONDBB"), time.Now().Add(auth.CodeTTL))
			Expect(err).NotTo(HaveOccurred())
			Expect(codes.Replace(ctx, second)).To(Succeed())

			latest, err := codes.GetLatestByEmail(ctx, email)
			Expect(err).NotTo(HaveOccurred())
			Expect(latest.ID).To(Equal(second.ID))
			Expect(auth.VerifyCode("FIRSTAAA", latest.CodeHash)).To(BeFalse())
			Expect(auth.VerifyCode("SECONDBB", latest.CodeHash)).To(BeTrue())

			var count int
			err = pool.QueryRow(ctx, "SELECT COUNT(*) FROM verification_codes WHERE email = $1", email).Scan(&count)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(1), "superseded code should be deleted, not shadowed")
		})

		It("allows exactly one consume", func() {
			ctx := context.Background()

			code, err := auth.NewVerificationCode("consume@example.com", auth.HashCode("CONSUMED"), time.Now().Add(auth.CodeTTL))
			Expect(err).NotTo(HaveOccurred())
			Expect(codes.Replace(ctx, code)).To(Succeed())

			Expect(codes.Consume(ctx, code.ID)).To(Succeed())
			Expect(codes.Consume(ctx, code.ID)).To(MatchError(auth.ErrCodeConsumed))
		})

		It("hides consumed codes from GetLatestByEmail", func() {
			ctx := context.Background()
			_, err := codes.GetLatestByEmail(ctx, "consume@example.com")
			Expect(err).To(MatchError(auth.ErrNotFound))
		})

		It("deletes expired codes", func() {
			ctx := context.Background()

			expired, err := auth.NewVerificationCode("expired@example.com", auth.HashCode("EXPIREDC"), time.Now().Add(-time.Minute))
			Expect(err).NotTo(HaveOccurred())
			Expect(codes.Replace(ctx, expired)).To(Succeed())

			count, err := codes.DeleteExpired(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(BeNumerically(">=", 1))

			_, err = codes.GetLatestByEmail(ctx, "expired@example.com")
			Expect(err).To(MatchError(auth.ErrNotFound))
		})
	})

	Describe("SessionRepository", func() {
		var accountID ulid.ULID

		BeforeAll(func() {
			ctx := context.Background()
			account, err := auth.NewAccount("sessions@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(accounts.Create(ctx, account)).To(Succeed())
			accountID = account.ID
		})

		It("creates and retrieves sessions by token hash", func() {
			ctx := context.Background()
			_, tokenHash, err := auth.GenerateSessionToken()
			Expect(err).NotTo(HaveOccurred())

			session, err := auth.NewSession(accountID, tokenHash, time.Now().Add(auth.SessionLifetime))
			Expect(err).NotTo(HaveOccurred())
			Expect(sessions.Create(ctx, session)).To(Succeed())

			got, err := sessions.GetByTokenHash(ctx, tokenHash)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(session.ID))
			Expect(got.AccountID).To(Equal(accountID))
		})

		It("extends expiry", func() {
			ctx := context.Background()
			_, tokenHash, err := auth.GenerateSessionToken()
			Expect(err).NotTo(HaveOccurred())

			session, err := auth.NewSession(accountID, tokenHash, time.Now().Add(time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(sessions.Create(ctx, session)).To(Succeed())

			newExpiry := time.Now().Add(auth.SessionLifetime)
			Expect(sessions.UpdateExpiry(ctx, session.ID, newExpiry, time.Now())).To(Succeed())

			got, err := sessions.GetByTokenHash(ctx, tokenHash)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ExpiresAt).To(BeTemporally("~", newExpiry, time.Second))
		})

		It("deletes idempotently by token hash", func() {
			ctx := context.Background()
			_, tokenHash, err := auth.GenerateSessionToken()
			Expect(err).NotTo(HaveOccurred())

			session, err := auth.NewSession(accountID, tokenHash, time.Now().Add(auth.SessionLifetime))
			Expect(err).NotTo(HaveOccurred())
			Expect(sessions.Create(ctx, session)).To(Succeed())

			Expect(sessions.DeleteByTokenHash(ctx, tokenHash)).To(Succeed())
			Expect(sessions.DeleteByTokenHash(ctx, tokenHash)).To(Succeed())

			_, err = sessions.GetByTokenHash(ctx, tokenHash)
			Expect(err).To(MatchError(auth.ErrNotFound))
		})

		It("sweeps expired sessions only", func() {
			ctx := context.Background()

			_, liveHash, err := auth.GenerateSessionToken()
			Expect(err).NotTo(HaveOccurred())
			live, err := auth.NewSession(accountID, liveHash, time.Now().Add(auth.SessionLifetime))
			Expect(err).NotTo(HaveOccurred())
			Expect(sessions.Create(ctx, live)).To(Succeed())

			_, deadHash, err := auth.GenerateSessionToken()
			Expect(err).NotTo(HaveOccurred())
			dead, err := auth.NewSession(accountID, deadHash, time.Now().Add(time.Hour))
			Expect(err).NotTo(HaveOccurred())
			dead.ExpiresAt = time.Now().Add(-time.Minute)
			Expect(sessions.Create(ctx, dead)).To(Succeed())

			count, err := sessions.DeleteExpired(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(BeNumerically(">=", 1))

			_, err = sessions.GetByTokenHash(ctx, deadHash)
			Expect(err).To(MatchError(auth.ErrNotFound))
			_, err = sessions.GetByTokenHash(ctx, liveHash)
			Expect(err).NotTo(HaveOccurred())
		})

		It("deletes all of an account's sessions", func() {
			ctx := context.Background()
			account, err := auth.NewAccount("cascade@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(accounts.Create(ctx, account)).To(Succeed())

			_, tokenHash, err := auth.GenerateSessionToken()
			Expect(err).NotTo(HaveOccurred())
			session, err := auth.NewSession(account.ID, tokenHash, time.Now().Add(auth.SessionLifetime))
			Expect(err).NotTo(HaveOccurred())
			Expect(sessions.Create(ctx, session)).To(Succeed())

			Expect(sessions.DeleteByAccount(ctx, account.ID)).To(Succeed())
			_, err = sessions.GetByTokenHash(ctx, tokenHash)
			Expect(err).To(MatchError(auth.ErrNotFound))
		})
	})
})
