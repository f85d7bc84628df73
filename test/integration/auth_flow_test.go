// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Appraise Contributors

//go:build integration

// Package integration provides end-to-end integration tests for Appraise.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/appraise-dev/appraise/internal/auth"
	authpg "github.com/appraise-dev/appraise/internal/auth/postgres"
	"github.com/appraise-dev/appraise/internal/config"
	"github.com/appraise-dev/appraise/internal/httpapi"
	"github.com/appraise-dev/appraise/internal/store"
)

// capturingNotifier records dispatched verification codes so tests can
// complete registrations the way a real user would, from their inbox.
type capturingNotifier struct {
	codes chan string
}

func newCapturingNotifier() *capturingNotifier {
	return &capturingNotifier{codes: make(chan string, 8)}
}

func (n *capturingNotifier) SendVerificationCode(_ context.Context, _, code string) error {
	n.codes <- code
	return nil
}

// testEnv holds all the resources needed for the auth flow tests.
type testEnv struct {
	ctx       context.Context
	cancel    context.CancelFunc
	container testcontainers.Container
	pool      *pgxpool.Pool
	notifier  *capturingNotifier
	svc       *auth.Service
	httpSrv   *httptest.Server
}

// setupTestEnv creates a complete test environment: PostgreSQL, migrated
// schema, wired auth service, and an HTTP server over the auth handler.
func setupTestEnv() (*testEnv, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)

	env := &testEnv{
		ctx:      ctx,
		cancel:   cancel,
		notifier: newCapturingNotifier(),
	}

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
		cancel()
		return nil, err
	}
	env.container = container

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		env.cleanup()
		return nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		env.cleanup()
		return nil, err
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		env.cleanup()
		return nil, err
	}
	_ = migrator.Close()

	env.pool, err = store.Connect(ctx, connStr)
	if err != nil {
		env.cleanup()
		return nil, err
	}

	logger := slog.Default()

	issuer, err := auth.NewCodeIssuer(authpg.NewVerificationCodeRepository(env.pool), auth.CodeTTL)
	if err != nil {
		env.cleanup()
		return nil, err
	}
	sessionStore, err := auth.NewSessionStore(authpg.NewSessionRepository(env.pool), auth.SessionLifetime, logger)
	if err != nil {
		env.cleanup()
		return nil, err
	}
	env.svc, err = auth.NewService(
		authpg.NewAccountRepository(env.pool),
		issuer,
		sessionStore,
		auth.NewArgon2idHasher(auth.DefaultArgon2Params()),
		env.notifier,
		logger,
	)
	if err != nil {
		env.cleanup()
		return nil, err
	}

	handler := httpapi.NewHandler(env.svc, config.Default().Session.Cookie, nil)
	env.httpSrv = httptest.NewServer(handler.Router())

	return env, nil
}

// cleanup releases all test resources.
func (env *testEnv) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if env.httpSrv != nil {
		env.httpSrv.Close()
	}
	if env.pool != nil {
		env.pool.Close()
	}
	if env.container != nil {
		_ = env.container.Terminate(ctx)
	}
	env.cancel()
}

// waitForCode blocks until a verification code arrives from the notifier.
func (env *testEnv) waitForCode() string {
	var code string
	Eventually(env.notifier.codes, 5*time.Second).Should(Receive(&code))
	return code
}

func (env *testEnv) postJSON(path string, payload any) *http.Response {
	body, err := json.Marshal(payload)
	Expect(err).NotTo(HaveOccurred())

	resp, err := http.Post(env.httpSrv.URL+path, "application/json", bytes.NewReader(body))
	Expect(err).NotTo(HaveOccurred())
	return resp
}

func sessionCookie(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == "appraise_session" {
			return c
		}
	}
	return nil
}

var _ = Describe("Auth Flow", Ordered, func() {
	var env *testEnv

	BeforeAll(func() {
		var err error
		env, err = setupTestEnv()
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		env.cleanup()
	})

	Describe("Service-level registration and login", func() {
		const (
			email    = "flow@example.com"
			password = "correct horse battery staple"
		)

		It("completes the full lifecycle", func() {
			By("Step 1: request a verification code")
			err := env.svc.BeginRegistration(env.ctx, email, true)
			Expect(err).NotTo(HaveOccurred())
			code := env.waitForCode()
			Expect(code).To(HaveLen(auth.CodeLength))

			By("Step 2: complete registration and receive a session")
			session, token, err := env.svc.CompleteRegistration(env.ctx, email, code, password)
			Expect(err).NotTo(HaveOccurred())
			Expect(token).NotTo(BeEmpty())
			Expect(session.ExpiresAt).To(BeTemporally("~", time.Now().Add(auth.SessionLifetime), time.Minute))

			By("Step 3: the session resolves to the new account")
			account, err := env.svc.CurrentAccount(env.ctx, token)
			Expect(err).NotTo(HaveOccurred())
			Expect(account.Email).To(Equal(email))
			Expect(account.Active()).To(BeTrue())

			By("Step 4: the code is spent and cannot be replayed")
			_, _, err = env.svc.CompleteRegistration(env.ctx, email, code, password)
			Expect(err).To(MatchError(auth.ErrDuplicateEmail))

			By("Step 5: log out, then the token is dead")
			Expect(env.svc.Logout(env.ctx, token)).To(Succeed())
			_, err = env.svc.CurrentAccount(env.ctx, token)
			Expect(err).To(MatchError(auth.ErrInvalidSession))

			By("Step 6: log back in with the registered password")
			_, token2, err := env.svc.Login(env.ctx, email, password)
			Expect(err).NotTo(HaveOccurred())
			account, err = env.svc.CurrentAccount(env.ctx, token2)
			Expect(err).NotTo(HaveOccurred())
			Expect(account.Email).To(Equal(email))
		})

		It("rejects wrong passwords with the generic credential error", func() {
			_, _, err := env.svc.Login(env.ctx, email, "not the password")
			Expect(err).To(MatchError(auth.ErrInvalidCredentials))
		})

		It("supersedes a pending code on reissue", func() {
			const pendingEmail = "reissue@example.com"

			Expect(env.svc.BeginRegistration(env.ctx, pendingEmail, true)).To(Succeed())
			first := env.waitForCode()

			Expect(env.svc.BeginRegistration(env.ctx, pendingEmail, true)).To(Succeed())
			second := env.waitForCode()

			_, _, err := env.svc.CompleteRegistration(env.ctx, pendingEmail, first, "some password")
			Expect(err).To(MatchError(auth.ErrCodeMismatch))

			_, _, err = env.svc.CompleteRegistration(env.ctx, pendingEmail, second, "some password")
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("HTTP-level registration and login", func() {
		const (
			email    = "http-flow@example.com"
			password = "hunter2 hunter2 hunter2"
		)

		It("completes the full lifecycle over the wire", func() {
			By("Step 1: POST /auth/register/send-code")
			resp := env.postJSON("/auth/register/send-code", map[string]any{
				"email": email,
				"agree": true,
			})
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			code := env.waitForCode()

			By("Step 2: POST /auth/register/verify issues a session cookie")
			resp = env.postJSON("/auth/register/verify", map[string]any{
				"email":    email,
				"code":     code,
				"password": password,
			})
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			cookie := sessionCookie(resp)
			Expect(cookie).NotTo(BeNil())
			Expect(cookie.HttpOnly).To(BeTrue())

			By("Step 3: GET /auth/session with the cookie")
			req, err := http.NewRequest(http.MethodGet, env.httpSrv.URL+"/auth/session", nil)
			Expect(err).NotTo(HaveOccurred())
			req.AddCookie(cookie)
			sessResp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer sessResp.Body.Close()
			Expect(sessResp.StatusCode).To(Equal(http.StatusOK))

			var body struct {
				Account struct {
					ID    string `json:"id"`
					Email string `json:"email"`
				} `json:"account"`
			}
			Expect(json.NewDecoder(sessResp.Body).Decode(&body)).To(Succeed())
			Expect(body.Account.Email).To(Equal(email))

			By("Step 4: the session also works as a bearer token")
			req, err = http.NewRequest(http.MethodGet, env.httpSrv.URL+"/auth/session", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", cookie.Value))
			bearerResp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer bearerResp.Body.Close()
			Expect(bearerResp.StatusCode).To(Equal(http.StatusOK))

			By("Step 5: POST /auth/logout clears the cookie")
			req, err = http.NewRequest(http.MethodPost, env.httpSrv.URL+"/auth/logout", nil)
			Expect(err).NotTo(HaveOccurred())
			req.AddCookie(cookie)
			logoutResp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer logoutResp.Body.Close()
			Expect(logoutResp.StatusCode).To(Equal(http.StatusNoContent))
			cleared := sessionCookie(logoutResp)
			Expect(cleared).NotTo(BeNil())
			Expect(cleared.MaxAge).To(BeNumerically("<", 0))

			By("Step 6: the revoked session is rejected")
			req, err = http.NewRequest(http.MethodGet, env.httpSrv.URL+"/auth/session", nil)
			Expect(err).NotTo(HaveOccurred())
			req.AddCookie(cookie)
			deadResp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer deadResp.Body.Close()
			Expect(deadResp.StatusCode).To(Equal(http.StatusUnauthorized))

			By("Step 7: POST /auth/login starts a fresh session")
			resp = env.postJSON("/auth/login", map[string]any{
				"email":    email,
				"password": password,
			})
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(sessionCookie(resp)).NotTo(BeNil())
		})

		It("maps duplicate registration to 409", func() {
			resp := env.postJSON("/auth/register/send-code", map[string]any{
				"email": email,
				"agree": true,
			})
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		})

		It("maps a wrong code to 422", func() {
			const pendingEmail = "http-mismatch@example.com"

			resp := env.postJSON("/auth/register/send-code", map[string]any{
				"email": pendingEmail,
				"agree": true,
			})
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			env.waitForCode()

			resp = env.postJSON("/auth/register/verify", map[string]any{
				"email":    pendingEmail,
				"code":     "WRONGCOD",
				"password": "irrelevant password",
			})
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
		})
	})
})
