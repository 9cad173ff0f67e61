// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pharmadiet Contributors

package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pharmadiet/pharmadiet/internal/access"
	"github.com/pharmadiet/pharmadiet/internal/auth"
	"github.com/pharmadiet/pharmadiet/pkg/errutil"
)

const strongPassword = "Pharm4cy!"

type harness struct {
	svc    *auth.Service
	dir    *auth.Directory
	reg    *auth.SessionRegistry
	hasher *auth.PBKDF2Hasher
	clock  *fakeClock
	rec    *eventRecorder
}

func newHarness(t *testing.T, tweak ...func(*auth.Config)) *harness {
	t.Helper()

	h := &harness{
		dir:    auth.NewDirectory(),
		hasher: auth.NewPBKDF2Hasher(1000),
		clock:  newFakeClock(),
		rec:    &eventRecorder{},
	}
	h.reg = auth.NewSessionRegistry(auth.WithSessionClock(h.clock.Now))

	cfg := auth.DefaultConfig()
	for _, fn := range tweak {
		fn(&cfg)
	}
	tokens, err := auth.NewTokenService(testSecret, 0, auth.WithTokenClock(h.clock.Now))
	require.NoError(t, err)

	bus := auth.NewEventBus()
	bus.Subscribe(h.rec)

	h.svc, err = auth.NewService(h.dir, h.hasher, h.reg,
		auth.WithConfig(cfg),
		auth.WithClock(h.clock.Now),
		auth.WithEventBus(bus),
		auth.WithTokenService(tokens),
	)
	require.NoError(t, err)
	t.Cleanup(h.svc.Close)
	return h
}

// addUser stores a user directly, bypassing permission checks.
func (h *harness) addUser(t *testing.T, username, password string, role access.Role) *auth.User {
	t.Helper()
	salt, err := h.hasher.GenerateSalt()
	require.NoError(t, err)
	u, err := auth.NewUser(username, username+"@pharmacy.local", role, h.hasher.Hash(password, salt), salt, h.clock.Now())
	require.NoError(t, err)
	require.NoError(t, h.dir.Save(context.Background(), u))
	return u
}

func (h *harness) login(t *testing.T, identifier, password string) *auth.LoginResult {
	t.Helper()
	res, err := h.svc.Login(context.Background(), auth.LoginRequest{Identifier: identifier, Password: password})
	require.NoError(t, err)
	return res
}

func (h *harness) loginAdmin(t *testing.T) *auth.LoginResult {
	t.Helper()
	_, err := h.svc.Bootstrap(context.Background())
	require.NoError(t, err)
	return h.login(t, auth.BootstrapAdminUsername, auth.BootstrapAdminPassword)
}

func (h *harness) stored(t *testing.T, id string) *auth.User {
	t.Helper()
	u, err := h.dir.GetByID(context.Background(), id)
	require.NoError(t, err)
	return u
}

func TestNewService_NilDependencies(t *testing.T) {
	dir := auth.NewDirectory()
	hasher := auth.NewPBKDF2Hasher(1000)
	reg := auth.NewSessionRegistry()

	tests := []struct {
		name        string
		users       auth.UserRepository
		hasher      auth.CredentialHasher
		sessions    *auth.SessionRegistry
		expectError string
	}{
		{"nil user repository", nil, hasher, reg, "user repository is required"},
		{"nil hasher", dir, nil, reg, "credential hasher is required"},
		{"nil session registry", dir, hasher, nil, "session registry is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := auth.NewService(tt.users, tt.hasher, tt.sessions)
			require.Error(t, err)
			assert.Nil(t, svc)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestService_Bootstrap(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	created, err := h.svc.Bootstrap(ctx)
	require.NoError(t, err)
	assert.True(t, created)

	admin := h.stored(t, auth.BootstrapAdminID)
	assert.Equal(t, auth.BootstrapAdminUsername, admin.Username)
	assert.Equal(t, auth.BootstrapAdminEmail, admin.Email)
	assert.Equal(t, access.RoleAdmin, admin.Role)
	assert.True(t, h.hasher.Verify(auth.BootstrapAdminPassword, admin.PasswordHash, admin.Salt))

	created, err = h.svc.Bootstrap(ctx)
	require.NoError(t, err)
	assert.False(t, created)

	n, err := h.dir.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestService_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds and makes session current", func(t *testing.T) {
		h := newHarness(t)
		u := h.addUser(t, "pharma1", strongPassword, access.RolePharmacist)

		res, err := h.svc.Login(ctx, auth.LoginRequest{
			Identifier: "pharma1",
			Password:   strongPassword,
			IPAddress:  "192.0.2.1",
			UserAgent:  "desk-client",
		})
		require.NoError(t, err)

		assert.Equal(t, u.ID, res.Session.UserID)
		assert.Equal(t, access.RolePharmacist, res.Session.Role)
		assert.Equal(t, h.clock.Now().Add(auth.DefaultSessionTimeout), res.Session.ExpiresAt)
		assert.Equal(t, "192.0.2.1", res.Session.IPAddress)
		assert.Equal(t, "pharma1", res.User.Username)
		assert.Empty(t, res.Token)

		assert.True(t, h.svc.IsAuthenticated())
		current, ok := h.svc.CurrentSession()
		require.True(t, ok)
		assert.Equal(t, res.Session.ID, current.ID)

		stored := h.stored(t, u.ID)
		require.NotNil(t, stored.LastLoginAt)
		assert.Equal(t, h.clock.Now(), *stored.LastLoginAt)

		assert.Equal(t, []auth.EventKind{auth.EventLoginSucceeded}, h.rec.kinds())
		assert.Equal(t, res.Session.ID, h.rec.last().SessionID)
	})

	t.Run("remember me lasts longer", func(t *testing.T) {
		h := newHarness(t)
		h.addUser(t, "pharma1", strongPassword, access.RolePharmacist)

		res, err := h.svc.Login(ctx, auth.LoginRequest{Identifier: "pharma1", Password: strongPassword, RememberMe: true})
		require.NoError(t, err)
		assert.Equal(t, h.clock.Now().Add(auth.DefaultRememberMeDuration), res.Session.ExpiresAt)
	})

	t.Run("accepts email", func(t *testing.T) {
		h := newHarness(t)
		u := h.addUser(t, "pharma1", strongPassword, access.RolePharmacist)

		res := h.login(t, "PHARMA1@pharmacy.local", strongPassword)
		assert.Equal(t, u.ID, res.User.ID)
	})

	t.Run("issues token on request", func(t *testing.T) {
		h := newHarness(t)
		h.addUser(t, "pharma1", strongPassword, access.RolePharmacist)

		res, err := h.svc.Login(ctx, auth.LoginRequest{Identifier: "pharma1", Password: strongPassword, IssueToken: true})
		require.NoError(t, err)
		require.NotEmpty(t, res.Token)

		claims, err := h.svc.VerifyToken(res.Token)
		require.NoError(t, err)
		assert.Equal(t, res.User.ID, claims.UserID)
		assert.Equal(t, access.RolePharmacist, claims.Role)
	})

	t.Run("rejects empty fields before lookup", func(t *testing.T) {
		repo := &mockUserRepository{}
		reg := auth.NewSessionRegistry()
		svc, err := auth.NewService(repo, auth.NewPBKDF2Hasher(1000), reg)
		require.NoError(t, err)

		for _, req := range []auth.LoginRequest{
			{Identifier: "", Password: "x"},
			{Identifier: "   ", Password: "x"},
			{Identifier: "someone", Password: ""},
		} {
			_, err := svc.Login(ctx, req)
			errutil.AssertErrorCode(t, err, auth.CodeValidation)
		}
		repo.AssertNotCalled(t, "FindByUsernameOrEmail", mock.Anything, mock.Anything)
	})

	t.Run("unknown user is indistinguishable publicly", func(t *testing.T) {
		h := newHarness(t)

		_, err := h.svc.Login(ctx, auth.LoginRequest{Identifier: "ghost", Password: "whatever"})
		errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)
		assert.Equal(t, "Invalid username or password", auth.PublicMessage(err))

		last := h.rec.last()
		assert.Equal(t, auth.EventLoginFailed, last.Kind)
		assert.Equal(t, auth.ReasonUserNotFound, last.Reason)
		assert.Equal(t, "ghost", last.Subject)
		assert.False(t, h.svc.IsAuthenticated())
	})

	t.Run("inactive user is rejected", func(t *testing.T) {
		h := newHarness(t)
		u := h.addUser(t, "former", strongPassword, access.RoleViewer)
		u.IsActive = false
		require.NoError(t, h.dir.Save(ctx, u))

		_, err := h.svc.Login(ctx, auth.LoginRequest{Identifier: "former", Password: strongPassword})
		errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)
		assert.Equal(t, auth.ReasonAccountInactive, h.rec.last().Reason)
		assert.Zero(t, h.reg.Len())
	})

	t.Run("wrong password reports attempts remaining", func(t *testing.T) {
		h := newHarness(t)
		u := h.addUser(t, "pharma1", strongPassword, access.RolePharmacist)

		_, err := h.svc.Login(ctx, auth.LoginRequest{Identifier: "pharma1", Password: "wrong"})
		errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)
		errutil.AssertErrorContext(t, err, "attempts_remaining", auth.DefaultMaxLoginAttempts-1)
		assert.Equal(t, "Invalid username or password. 4 attempts remaining.", auth.PublicMessage(err))
		assert.Equal(t, 1, h.stored(t, u.ID).FailedLoginCount)
		assert.Equal(t, auth.ReasonInvalidPassword, h.rec.last().Reason)
	})

	t.Run("success resets failure count", func(t *testing.T) {
		h := newHarness(t)
		u := h.addUser(t, "pharma1", strongPassword, access.RolePharmacist)

		for range 2 {
			_, err := h.svc.Login(ctx, auth.LoginRequest{Identifier: "pharma1", Password: "wrong"})
			require.Error(t, err)
		}
		require.Equal(t, 2, h.stored(t, u.ID).FailedLoginCount)

		h.login(t, "pharma1", strongPassword)
		assert.Zero(t, h.stored(t, u.ID).FailedLoginCount)
	})

	t.Run("repository failure", func(t *testing.T) {
		repo := &mockUserRepository{}
		repo.On("FindByUsernameOrEmail", mock.Anything, "pharma1").
			Return(nil, errors.New("connection reset"))
		svc, err := auth.NewService(repo, auth.NewPBKDF2Hasher(1000), auth.NewSessionRegistry())
		require.NoError(t, err)

		_, err = svc.Login(ctx, auth.LoginRequest{Identifier: "pharma1", Password: "x"})
		errutil.AssertErrorCode(t, err, auth.CodeLoginFailed)
		assert.Equal(t, "An unexpected error occurred", auth.PublicMessage(err))
		repo.AssertExpectations(t)
	})
}

func TestService_LockoutThreshold(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(c *auth.Config) {
		c.Lockout = auth.LockoutPolicy{MaxAttempts: 3, Duration: 15 * time.Minute}
	})
	u := h.addUser(t, "nutri", strongPassword, access.RoleNutritionist)

	for i := 1; i <= 3; i++ {
		_, err := h.svc.Login(ctx, auth.LoginRequest{Identifier: "nutri", Password: "wrong"})
		errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)
		errutil.AssertErrorContext(t, err, "attempts_remaining", 3-i)
	}
	assert.Equal(t, 1, h.rec.count(auth.EventAccountLocked))

	_, err := h.svc.Login(ctx, auth.LoginRequest{Identifier: "nutri", Password: strongPassword})
	errutil.AssertErrorCode(t, err, auth.CodeAccountLocked)
	assert.Equal(t, "Account is temporarily locked. Try again later.", auth.PublicMessage(err))
	assert.Equal(t, auth.ReasonAccountLocked, h.rec.last().Reason)
	assert.Equal(t, 1, h.rec.count(auth.EventAccountLocked))

	h.clock.Advance(14 * time.Minute)
	_, err = h.svc.Login(ctx, auth.LoginRequest{Identifier: "nutri", Password: strongPassword})
	errutil.AssertErrorCode(t, err, auth.CodeAccountLocked)

	h.clock.Advance(time.Minute)
	h.login(t, "nutri", strongPassword)

	stored := h.stored(t, u.ID)
	assert.Zero(t, stored.FailedLoginCount)
	assert.Nil(t, stored.LockedUntil)
}

func TestService_ExpiredLockoutStartsFresh(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(c *auth.Config) {
		c.Lockout = auth.LockoutPolicy{MaxAttempts: 2, Duration: time.Minute}
	})
	u := h.addUser(t, "asst", strongPassword, access.RoleAssistant)

	for range 2 {
		_, err := h.svc.Login(ctx, auth.LoginRequest{Identifier: "asst", Password: "wrong"})
		require.Error(t, err)
	}
	require.NotNil(t, h.stored(t, u.ID).LockedUntil)

	h.clock.Advance(2 * time.Minute)
	_, err := h.svc.Login(ctx, auth.LoginRequest{Identifier: "asst", Password: "wrong"})
	errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)
	errutil.AssertErrorContext(t, err, "attempts_remaining", 1)

	stored := h.stored(t, u.ID)
	assert.Equal(t, 1, stored.FailedLoginCount)
	assert.Nil(t, stored.LockedUntil)
}

func TestService_ConcurrentFailedLogins(t *testing.T) {
	ctx := context.Background()

	t.Run("two attempts at the threshold lock once", func(t *testing.T) {
		h := newHarness(t, func(c *auth.Config) {
			c.Lockout = auth.LockoutPolicy{MaxAttempts: 3, Duration: time.Hour}
		})
		u := h.addUser(t, "nutri", strongPassword, access.RoleNutritionist)
		u.FailedLoginCount = 2
		require.NoError(t, h.dir.Save(ctx, u))

		runConcurrentLogins(t, h.svc, "nutri", "wrong", 2)

		stored := h.stored(t, u.ID)
		assert.Equal(t, 3, stored.FailedLoginCount)
		assert.NotNil(t, stored.LockedUntil)
		assert.Equal(t, 1, h.rec.count(auth.EventAccountLocked))
	})

	t.Run("many attempts never under-count", func(t *testing.T) {
		h := newHarness(t)
		u := h.addUser(t, "viewer1", strongPassword, access.RoleViewer)

		runConcurrentLogins(t, h.svc, "viewer1", "wrong", 20)

		stored := h.stored(t, u.ID)
		assert.Equal(t, auth.DefaultMaxLoginAttempts, stored.FailedLoginCount)
		assert.Equal(t, 1, h.rec.count(auth.EventAccountLocked))
		assert.Equal(t, 20, h.rec.count(auth.EventLoginFailed))
	})
}

func runConcurrentLogins(t *testing.T, svc *auth.Service, identifier, password string, n int) {
	t.Helper()

	start := make(chan struct{})
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Login(context.Background(), auth.LoginRequest{Identifier: identifier, Password: password})
			assert.Error(t, err)
		}()
	}
	close(start)
	wg.Wait()
}

func TestService_Logout(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.addUser(t, "pharma1", strongPassword, access.RolePharmacist)
	res := h.login(t, "pharma1", strongPassword)

	require.NoError(t, h.svc.Logout(ctx))
	assert.False(t, h.reg.IsValid(res.Session.ID))
	assert.False(t, h.svc.IsAuthenticated())
	assert.Equal(t, auth.EventLoggedOut, h.rec.last().Kind)

	err := h.svc.Logout(ctx)
	errutil.AssertErrorCode(t, err, auth.CodeNoSession)
	assert.Equal(t, 1, h.rec.count(auth.EventLoggedOut))
}

func TestService_LogoutAfterSessionVanished(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.addUser(t, "pharma1", strongPassword, access.RolePharmacist)
	res := h.login(t, "pharma1", strongPassword)

	h.reg.Terminate(res.Session.ID)

	assert.NoError(t, h.svc.Logout(ctx))
	errutil.AssertErrorCode(t, h.svc.Logout(ctx), auth.CodeNoSession)
}

func TestService_ChangePassword(t *testing.T) {
	ctx := context.Background()

	t.Run("requires a session", func(t *testing.T) {
		h := newHarness(t)
		err := h.svc.ChangePassword(ctx, "a", "b")
		errutil.AssertErrorCode(t, err, auth.CodeNoSession)
	})

	t.Run("rejects wrong current password", func(t *testing.T) {
		h := newHarness(t)
		h.addUser(t, "pharma1", strongPassword, access.RolePharmacist)
		h.login(t, "pharma1", strongPassword)

		err := h.svc.ChangePassword(ctx, "not-it", "N3w!Password")
		errutil.AssertErrorCode(t, err, auth.CodePasswordIncorrect)
	})

	t.Run("rejects weak new password", func(t *testing.T) {
		h := newHarness(t)
		h.addUser(t, "pharma1", strongPassword, access.RolePharmacist)
		h.login(t, "pharma1", strongPassword)

		err := h.svc.ChangePassword(ctx, strongPassword, "short")
		errutil.AssertErrorCode(t, err, auth.CodePasswordTooWeak)
	})

	t.Run("replaces salt and hash", func(t *testing.T) {
		h := newHarness(t)
		u := h.addUser(t, "pharma1", strongPassword, access.RolePharmacist)
		h.login(t, "pharma1", strongPassword)

		require.NoError(t, h.svc.ChangePassword(ctx, strongPassword, "N3w!Password"))
		stored := h.stored(t, u.ID)
		assert.NotEqual(t, u.Salt, stored.Salt)
		assert.Equal(t, auth.EventPasswordChanged, h.rec.last().Kind)

		_, err := h.svc.Login(ctx, auth.LoginRequest{Identifier: "pharma1", Password: strongPassword})
		errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)
		h.login(t, "pharma1", "N3w!Password")
	})
}

func TestService_PermissionChecks(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	victim := h.addUser(t, "victim", strongPassword, access.RoleViewer)
	h.addUser(t, "viewer1", strongPassword, access.RoleViewer)
	h.login(t, "viewer1", strongPassword)

	checks := map[string]func() error{
		"create user": func() error {
			_, err := h.svc.CreateUser(ctx, auth.CreateUserRequest{Username: "x_user", Email: "x@example.com", Password: strongPassword, Role: access.RoleViewer})
			return err
		},
		"update user": func() error {
			_, err := h.svc.UpdateUser(ctx, victim.ID, auth.UserUpdate{})
			return err
		},
		"deactivate user":       func() error { return h.svc.DeactivateUser(ctx, victim.ID) },
		"list users":            func() error { _, err := h.svc.ListUsers(ctx, true); return err },
		"reset failed attempts": func() error { return h.svc.ResetFailedAttempts(ctx, "victim") },
		"terminate session":     func() error { return h.svc.TerminateSession(ctx, "any") },
	}

	for name, call := range checks {
		t.Run(name, func(t *testing.T) {
			err := call()
			errutil.AssertErrorCode(t, err, auth.CodePermissionDenied)
			errutil.AssertErrorContext(t, err, "permission", access.UserManage)
			assert.Equal(t, "You don't have permission: user:manage", auth.PublicMessage(err))
		})
	}

	t.Run("list sessions needs audit view", func(t *testing.T) {
		_, err := h.svc.ListActiveSessions(ctx)
		errutil.AssertErrorCode(t, err, auth.CodePermissionDenied)
		errutil.AssertErrorContext(t, err, "permission", access.AuditView)
	})

	t.Run("no session", func(t *testing.T) {
		require.NoError(t, h.svc.Logout(ctx))
		_, err := h.svc.ListUsers(ctx, false)
		errutil.AssertErrorCode(t, err, auth.CodeNoSession)
		assert.False(t, h.svc.HasPermission(access.ClientRead))
	})
}

func TestService_Login_DeactivatedAfterLookup(t *testing.T) {
	ctx := context.Background()
	hasher := auth.NewPBKDF2Hasher(1000)
	salt, err := hasher.GenerateSalt()
	require.NoError(t, err)
	active, err := auth.NewUser("leaving", "leaving@pharmacy.local", access.RoleAssistant,
		hasher.Hash(strongPassword, salt), salt, newFakeClock().Now())
	require.NoError(t, err)
	deactivated := active.Clone()
	deactivated.IsActive = false

	repo := &mockUserRepository{}
	repo.On("FindByUsernameOrEmail", mock.Anything, "leaving").Return(active, nil)
	repo.On("GetByID", mock.Anything, active.ID).Return(deactivated, nil)

	reg := auth.NewSessionRegistry()
	rec := &eventRecorder{}
	bus := auth.NewEventBus()
	bus.Subscribe(rec)
	svc, err := auth.NewService(repo, hasher, reg, auth.WithEventBus(bus))
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	_, err = svc.Login(ctx, auth.LoginRequest{Identifier: "leaving", Password: strongPassword})
	errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)
	assert.Equal(t, auth.ReasonAccountInactive, rec.last().Reason)
	assert.False(t, svc.IsAuthenticated())
	assert.Zero(t, reg.Len())
	repo.AssertExpectations(t)
}

func TestService_RoleCapturedAtLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("downgrade waits for the next login", func(t *testing.T) {
		h := newHarness(t)
		res := h.loginAdmin(t)
		require.True(t, h.svc.HasPermission(access.UserManage))

		admin := h.stored(t, res.User.ID)
		admin.Role = access.RoleViewer
		require.NoError(t, h.dir.Save(ctx, admin))

		assert.True(t, h.svc.HasPermission(access.UserManage))

		h.login(t, auth.BootstrapAdminUsername, auth.BootstrapAdminPassword)
		assert.False(t, h.svc.HasPermission(access.UserManage))
		assert.True(t, h.svc.HasPermission(access.ClientRead))
	})

	t.Run("promotion does not widen a live session", func(t *testing.T) {
		h := newHarness(t)
		u := h.addUser(t, "helper", strongPassword, access.RoleAssistant)
		h.login(t, "helper", strongPassword)
		require.True(t, h.svc.HasPermission(access.ClientUpdate))
		require.False(t, h.svc.HasPermission(access.ClientDelete))

		promoted := h.stored(t, u.ID)
		promoted.Role = access.RoleAdmin
		require.NoError(t, h.dir.Save(ctx, promoted))

		session, ok := h.svc.CurrentSession()
		require.True(t, ok)
		assert.Equal(t, access.RoleAssistant, session.Role)
		assert.False(t, h.svc.HasPermission(access.ClientDelete))
		assert.False(t, h.svc.HasPermission(access.UserManage))
		_, err := h.svc.RequirePermission(access.UserManage)
		errutil.AssertErrorCode(t, err, auth.CodePermissionDenied)

		h.login(t, "helper", strongPassword)
		assert.True(t, h.svc.HasPermission(access.UserManage))
	})
}

func TestService_CreateUser(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.loginAdmin(t)

	info, err := h.svc.CreateUser(ctx, auth.CreateUserRequest{
		Username: "dietitian",
		Email:    "Diet@Pharmacy.Local",
		Password: strongPassword,
		Role:     access.RoleNutritionist,
	})
	require.NoError(t, err)
	assert.Equal(t, "diet@pharmacy.local", info.Email)
	assert.True(t, info.IsActive)
	assert.Equal(t, auth.EventUserCreated, h.rec.last().Kind)
	assert.Equal(t, auth.BootstrapAdminID, h.rec.last().ActorID)

	t.Run("duplicate username", func(t *testing.T) {
		_, err := h.svc.CreateUser(ctx, auth.CreateUserRequest{Username: "dietitian", Email: "other@pharmacy.local", Password: strongPassword, Role: access.RoleViewer})
		errutil.AssertErrorCode(t, err, auth.CodeUserDuplicate)
		assert.Equal(t, "Username or email already exists", auth.PublicMessage(err))
	})

	t.Run("duplicate email", func(t *testing.T) {
		_, err := h.svc.CreateUser(ctx, auth.CreateUserRequest{Username: "another", Email: "diet@pharmacy.local", Password: strongPassword, Role: access.RoleViewer})
		errutil.AssertErrorCode(t, err, auth.CodeUserDuplicate)
	})

	t.Run("weak password", func(t *testing.T) {
		_, err := h.svc.CreateUser(ctx, auth.CreateUserRequest{Username: "weakling", Email: "weak@pharmacy.local", Password: "password", Role: access.RoleViewer})
		errutil.AssertErrorCode(t, err, auth.CodePasswordTooWeak)
	})

	t.Run("invalid role", func(t *testing.T) {
		_, err := h.svc.CreateUser(ctx, auth.CreateUserRequest{Username: "rolex", Email: "rolex@pharmacy.local", Password: strongPassword, Role: "owner"})
		errutil.AssertErrorCode(t, err, auth.CodeUserInvalid)
	})

	t.Run("created user can log in", func(t *testing.T) {
		res := h.login(t, "dietitian", strongPassword)
		assert.Equal(t, access.RoleNutritionist, res.Session.Role)
	})
}

func TestService_UpdateUser(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	target := h.addUser(t, "pharma1", strongPassword, access.RolePharmacist)
	targetSession := h.login(t, "pharma1", strongPassword)
	admin := h.loginAdmin(t)

	t.Run("changes role and email", func(t *testing.T) {
		role := access.RoleAssistant
		email := "NEW@pharmacy.local"
		info, err := h.svc.UpdateUser(ctx, target.ID, auth.UserUpdate{Role: &role, Email: &email})
		require.NoError(t, err)
		assert.Equal(t, access.RoleAssistant, info.Role)
		assert.Equal(t, "new@pharmacy.local", info.Email)
		assert.Equal(t, auth.EventUserUpdated, h.rec.last().Kind)
	})

	t.Run("rejects invalid username", func(t *testing.T) {
		bad := "a b"
		_, err := h.svc.UpdateUser(ctx, target.ID, auth.UserUpdate{Username: &bad})
		errutil.AssertErrorCode(t, err, auth.CodeUserInvalid)
	})

	t.Run("rejects self deactivation", func(t *testing.T) {
		inactive := false
		_, err := h.svc.UpdateUser(ctx, admin.User.ID, auth.UserUpdate{IsActive: &inactive})
		errutil.AssertErrorCode(t, err, auth.CodeValidation)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := h.svc.UpdateUser(ctx, "missing", auth.UserUpdate{})
		errutil.AssertErrorCode(t, err, auth.CodeUserNotFound)
	})

	t.Run("deactivation ends sessions", func(t *testing.T) {
		require.True(t, h.reg.IsValid(targetSession.Session.ID))
		inactive := false
		info, err := h.svc.UpdateUser(ctx, target.ID, auth.UserUpdate{IsActive: &inactive})
		require.NoError(t, err)
		assert.False(t, info.IsActive)
		assert.False(t, h.reg.IsValid(targetSession.Session.ID))
		assert.Equal(t, auth.EventSessionTerminated, h.rec.last().Kind)
		assert.True(t, h.svc.IsAuthenticated())
	})
}

func TestService_DeactivateUser(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	target := h.addUser(t, "asst1", strongPassword, access.RoleAssistant)
	targetSession := h.login(t, "asst1", strongPassword)
	admin := h.loginAdmin(t)

	require.NoError(t, h.svc.DeactivateUser(ctx, target.ID))
	assert.False(t, h.stored(t, target.ID).IsActive)
	assert.False(t, h.reg.IsValid(targetSession.Session.ID))
	assert.Equal(t, 1, h.rec.count(auth.EventUserDeleted))

	t.Run("inactive user is a no-op", func(t *testing.T) {
		require.NoError(t, h.svc.DeactivateUser(ctx, target.ID))
		assert.Equal(t, 1, h.rec.count(auth.EventUserDeleted))
	})

	t.Run("deactivated user cannot log in", func(t *testing.T) {
		_, err := h.svc.Login(ctx, auth.LoginRequest{Identifier: "asst1", Password: strongPassword})
		errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)
		h.login(t, auth.BootstrapAdminUsername, auth.BootstrapAdminPassword)
	})

	t.Run("unknown user", func(t *testing.T) {
		err := h.svc.DeactivateUser(ctx, "missing")
		errutil.AssertErrorCode(t, err, auth.CodeUserNotFound)
		assert.Equal(t, "User not found", auth.PublicMessage(err))
	})

	t.Run("self", func(t *testing.T) {
		err := h.svc.DeactivateUser(ctx, admin.User.ID)
		errutil.AssertErrorCode(t, err, auth.CodeValidation)
	})

	t.Run("name becomes reusable", func(t *testing.T) {
		_, err := h.svc.CreateUser(ctx, auth.CreateUserRequest{Username: "asst1", Email: "asst1@pharmacy.local", Password: strongPassword, Role: access.RoleAssistant})
		assert.NoError(t, err)
	})
}

func TestService_ListUsers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.loginAdmin(t)
	h.clock.Advance(time.Second)
	gone := h.addUser(t, "gone", strongPassword, access.RoleViewer)
	gone.IsActive = false
	require.NoError(t, h.dir.Save(ctx, gone))

	active, err := h.svc.ListUsers(ctx, false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, auth.BootstrapAdminUsername, active[0].Username)

	all, err := h.svc.ListUsers(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestService_ResetFailedAttempts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	u := h.addUser(t, "locked1", strongPassword, access.RoleViewer)
	for range auth.DefaultMaxLoginAttempts {
		_, err := h.svc.Login(ctx, auth.LoginRequest{Identifier: "locked1", Password: "wrong"})
		require.Error(t, err)
	}
	require.NotNil(t, h.stored(t, u.ID).LockedUntil)

	h.loginAdmin(t)
	require.NoError(t, h.svc.ResetFailedAttempts(ctx, "locked1@pharmacy.local"))

	stored := h.stored(t, u.ID)
	assert.Zero(t, stored.FailedLoginCount)
	assert.Nil(t, stored.LockedUntil)
	assert.Equal(t, auth.EventFailedAttemptsReset, h.rec.last().Kind)

	h.login(t, "locked1", strongPassword)

	t.Run("unknown user", func(t *testing.T) {
		h.loginAdmin(t)
		err := h.svc.ResetFailedAttempts(ctx, "nobody")
		errutil.AssertErrorCode(t, err, auth.CodeUserNotFound)
	})
}

func TestService_Sessions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.addUser(t, "pharma1", strongPassword, access.RolePharmacist)
	other := h.login(t, "pharma1", strongPassword)
	admin := h.loginAdmin(t)

	sessions, err := h.svc.ListActiveSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	require.NoError(t, h.svc.TerminateSession(ctx, other.Session.ID))
	assert.False(t, h.reg.IsValid(other.Session.ID))
	assert.Equal(t, auth.EventSessionTerminated, h.rec.last().Kind)

	err = h.svc.TerminateSession(ctx, other.Session.ID)
	errutil.AssertErrorCode(t, err, auth.CodeSessionNotFound)

	t.Run("terminating own session logs out", func(t *testing.T) {
		require.NoError(t, h.svc.TerminateSession(ctx, admin.Session.ID))
		assert.False(t, h.svc.IsAuthenticated())
	})
}

func TestService_ExtendCurrentSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.addUser(t, "pharma1", strongPassword, access.RolePharmacist)
	h.login(t, "pharma1", strongPassword)

	h.clock.Advance(7 * time.Hour)
	extended, err := h.svc.ExtendCurrentSession(ctx, 4*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, h.clock.Now().Add(4*time.Hour), extended.ExpiresAt)

	h.clock.Advance(3 * time.Hour)
	assert.True(t, h.svc.IsAuthenticated())

	_, err = h.svc.ExtendCurrentSession(ctx, 0)
	errutil.AssertErrorCode(t, err, auth.CodeValidation)
}

func TestService_SessionExpiry(t *testing.T) {
	h := newHarness(t, func(c *auth.Config) { c.SessionTimeout = time.Hour })
	h.addUser(t, "pharma1", strongPassword, access.RolePharmacist)
	res := h.login(t, "pharma1", strongPassword)
	h.rec.reset()

	h.clock.Advance(time.Hour + time.Second)
	assert.False(t, h.svc.IsAuthenticated())

	swept := h.reg.Sweep(h.clock.Now())
	require.Len(t, swept, 1)

	assert.Equal(t, []auth.EventKind{auth.EventSessionExpired, auth.EventLoggedOut}, h.rec.kinds())
	assert.Equal(t, res.Session.ID, h.rec.last().SessionID)
	errutil.AssertErrorCode(t, h.svc.Logout(context.Background()), auth.CodeNoSession)
}

func TestService_CurrentUser(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.CurrentUser(ctx)
	errutil.AssertErrorCode(t, err, auth.CodeNoSession)

	u := h.addUser(t, "pharma1", strongPassword, access.RolePharmacist)
	h.login(t, "pharma1", strongPassword)

	info, err := h.svc.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, u.ID, info.ID)
	require.NotNil(t, info.LastLoginAt)
}

func TestService_IssueToken(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.IssueToken(ctx)
	errutil.AssertErrorCode(t, err, auth.CodeNoSession)

	h.loginAdmin(t)
	token, err := h.svc.IssueToken(ctx)
	require.NoError(t, err)

	claims, err := h.svc.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, auth.BootstrapAdminID, claims.UserID)

	t.Run("tokens outlive logout", func(t *testing.T) {
		require.NoError(t, h.svc.Logout(ctx))
		_, err := h.svc.VerifyToken(token)
		assert.NoError(t, err)
	})

	t.Run("disabled without token service", func(t *testing.T) {
		svc, err := auth.NewService(auth.NewDirectory(), auth.NewPBKDF2Hasher(1000), auth.NewSessionRegistry())
		require.NoError(t, err)
		_, err = svc.VerifyToken(token)
		errutil.AssertErrorCode(t, err, "TOKEN_DISABLED")
	})
}

func TestService_Close(t *testing.T) {
	h := newHarness(t)
	h.loginAdmin(t)
	require.NoError(t, h.svc.Start(context.Background()))

	h.svc.Close()

	assert.False(t, h.svc.IsAuthenticated())
	assert.Zero(t, h.reg.Len())
}

// mockUserRepository is a testify mock of auth.UserRepository.
type mockUserRepository struct {
	mock.Mock
}

func (m *mockUserRepository) FindByUsernameOrEmail(ctx context.Context, identifier string) (*auth.User, error) {
	args := m.Called(ctx, identifier)
	u, _ := args.Get(0).(*auth.User) //nolint:errcheck // nil when the mock returns an error
	return u, args.Error(1)
}

func (m *mockUserRepository) GetByID(ctx context.Context, id string) (*auth.User, error) {
	args := m.Called(ctx, id)
	u, _ := args.Get(0).(*auth.User) //nolint:errcheck // nil when the mock returns an error
	return u, args.Error(1)
}

func (m *mockUserRepository) Save(ctx context.Context, user *auth.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *mockUserRepository) ListActive(ctx context.Context) ([]*auth.User, error) {
	args := m.Called(ctx)
	users, _ := args.Get(0).([]*auth.User) //nolint:errcheck // nil when the mock returns an error
	return users, args.Error(1)
}

func (m *mockUserRepository) ListAll(ctx context.Context) ([]*auth.User, error) {
	args := m.Called(ctx)
	users, _ := args.Get(0).([]*auth.User) //nolint:errcheck // nil when the mock returns an error
	return users, args.Error(1)
}

func (m *mockUserRepository) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func TestService_BootstrapCountFailure(t *testing.T) {
	repo := &mockUserRepository{}
	repo.On("Count", mock.Anything).Return(0, oops.Errorf("db down"))
	svc, err := auth.NewService(repo, auth.NewPBKDF2Hasher(1000), auth.NewSessionRegistry())
	require.NoError(t, err)

	created, err := svc.Bootstrap(context.Background())
	assert.False(t, created)
	errutil.AssertErrorCode(t, err, "AUTH_BOOTSTRAP_FAILED")
	repo.AssertExpectations(t)
}
