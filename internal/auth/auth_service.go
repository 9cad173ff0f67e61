// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pharmadiet Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/pharmadiet/pharmadiet/internal/access"
)

// Bootstrap administrator credentials, installed into an empty directory.
const (
	BootstrapAdminID       = "admin_001"
	BootstrapAdminUsername = "admin"
	BootstrapAdminEmail    = "admin@pharmacy.local"

	//nolint:gosec // G101: well-known first-run password, flagged for rotation at startup.
	BootstrapAdminPassword = "admin123"
)

// Timing parity material for logins against unknown or inactive users.
// The hash never matches any password.
const (
	dummySalt = "00000000000000000000000000000000"
	//nolint:gosec // G101: intentionally fake hash, not a credential.
	dummyHash = "0000000000000000000000000000000000000000000000000000000000000000"
)

// Config holds the tunable thresholds of a Service.
type Config struct {
	Lockout            LockoutPolicy
	Password           PasswordPolicy
	SessionTimeout     time.Duration
	RememberMeDuration time.Duration
	ResetTokenTTL      time.Duration
}

// DefaultConfig returns the default Service configuration.
func DefaultConfig() Config {
	return Config{
		Lockout:            DefaultLockoutPolicy(),
		Password:           DefaultPasswordPolicy(),
		SessionTimeout:     DefaultSessionTimeout,
		RememberMeDuration: DefaultRememberMeDuration,
		ResetTokenTTL:      DefaultResetTokenTTL,
	}
}

// LoginRequest carries the inputs of a login attempt.
// Identifier may be a username or an email address.
type LoginRequest struct {
	Identifier string
	Password   string
	RememberMe bool
	IssueToken bool
	IPAddress  string
	UserAgent  string
}

// LoginResult is returned from a successful login.
type LoginResult struct {
	Session Session
	User    UserInfo
	Token   string
}

// CreateUserRequest describes a user to create.
type CreateUserRequest struct {
	Username string
	Email    string
	Password string
	Role     access.Role
}

// UserUpdate lists the fields to change on a user. Nil fields are left alone.
type UserUpdate struct {
	Username *string
	Email    *string
	Role     *access.Role
	IsActive *bool
}

// Service orchestrates authentication and user management.
//
// A Service tracks one current session, the session of the operator using
// it. Permission checks use the role captured on that session.
type Service struct {
	users    UserRepository
	hasher   CredentialHasher
	sessions *SessionRegistry
	tokens   *TokenService
	resets   PasswordResetRepository
	events   *EventBus
	resolver *access.Resolver
	cfg      Config
	logger   *slog.Logger
	clock    func() time.Time

	userLocks sync.Map // user ID -> *sync.Mutex

	mu      sync.Mutex
	current *Session
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithConfig sets thresholds and durations.
func WithConfig(cfg Config) ServiceOption {
	return func(s *Service) { s.cfg = cfg }
}

// WithTokenService enables bearer token issue and verification.
func WithTokenService(tokens *TokenService) ServiceOption {
	return func(s *Service) { s.tokens = tokens }
}

// WithResetStore sets where password resets are kept. Default: a ResetStore.
func WithResetStore(resets PasswordResetRepository) ServiceOption {
	return func(s *Service) { s.resets = resets }
}

// WithEventBus sets the bus events are published to.
func WithEventBus(bus *EventBus) ServiceOption {
	return func(s *Service) { s.events = bus }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithClock sets the time source.
func WithClock(clock func() time.Time) ServiceOption {
	return func(s *Service) { s.clock = clock }
}

// NewService creates a Service and registers it as the expiry handler of sessions.
func NewService(users UserRepository, hasher CredentialHasher, sessions *SessionRegistry, opts ...ServiceOption) (*Service, error) {
	if users == nil {
		return nil, oops.Code("AUTH_INVALID_SERVICE").Errorf("user repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_INVALID_SERVICE").Errorf("credential hasher is required")
	}
	if sessions == nil {
		return nil, oops.Code("AUTH_INVALID_SERVICE").Errorf("session registry is required")
	}

	s := &Service{
		users:    users,
		hasher:   hasher,
		sessions: sessions,
		resets:   NewResetStore(),
		events:   NewEventBus(),
		resolver: access.NewResolver(),
		cfg:      DefaultConfig(),
		logger:   slog.Default(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.SessionTimeout <= 0 {
		s.cfg.SessionTimeout = DefaultSessionTimeout
	}
	if s.cfg.RememberMeDuration <= 0 {
		s.cfg.RememberMeDuration = DefaultRememberMeDuration
	}
	if s.cfg.ResetTokenTTL <= 0 {
		s.cfg.ResetTokenTTL = DefaultResetTokenTTL
	}

	sessions.SetExpiryHandler(s.handleExpired)
	return s, nil
}

// Events returns the bus the service publishes to.
func (s *Service) Events() *EventBus {
	return s.events
}

// Start begins the background session sweep.
func (s *Service) Start(ctx context.Context) error {
	return s.sessions.Start(ctx)
}

// Close stops the session sweep and ends every session.
func (s *Service) Close() {
	s.sessions.Stop()
	ended := s.sessions.TerminateAll()

	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()

	if len(ended) > 0 {
		s.logger.Info("sessions terminated on shutdown", "count", len(ended))
	}
}

// Bootstrap installs the default administrator when the directory is empty.
// Reports whether an account was created.
func (s *Service) Bootstrap(ctx context.Context) (bool, error) {
	n, err := s.users.Count(ctx)
	if err != nil {
		return false, oops.Code("AUTH_BOOTSTRAP_FAILED").With("operation", "count users").Wrap(err)
	}
	if n > 0 {
		return false, nil
	}

	salt, err := s.hasher.GenerateSalt()
	if err != nil {
		return false, oops.Code("AUTH_BOOTSTRAP_FAILED").With("operation", "generate salt").Wrap(err)
	}
	now := s.clock()
	admin := &User{
		ID:           BootstrapAdminID,
		Username:     BootstrapAdminUsername,
		Email:        BootstrapAdminEmail,
		Role:         access.RoleAdmin,
		PasswordHash: s.hasher.Hash(BootstrapAdminPassword, salt),
		Salt:         salt,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Save(ctx, admin); err != nil {
		return false, oops.Code("AUTH_BOOTSTRAP_FAILED").With("operation", "save admin").Wrap(err)
	}

	s.logger.WarnContext(ctx, "default administrator created; change its password immediately",
		"user_id", admin.ID, "username", admin.Username)
	s.publish(EventUserCreated, admin.ID, admin.Username, "", "bootstrap")
	return true, nil
}

// Login authenticates a user and makes the new session current.
//
// Unknown and inactive users get the same public error as a wrong password.
// The internal reason goes to the log and the LoginFailed event.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" || req.Password == "" {
		recordLogin(ResultValidation)
		return nil, oops.Code(CodeValidation).Errorf("username and password are required")
	}

	found, err := s.users.FindByUsernameOrEmail(ctx, identifier)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, s.rejectUnknown(ctx, identifier, "", ReasonUserNotFound, req.Password)
	case err != nil:
		recordLogin(ResultError)
		return nil, oops.Code(CodeLoginFailed).
			With("operation", "find user").
			Wrap(err)
	case !found.IsActive:
		return nil, s.rejectUnknown(ctx, identifier, found.ID, ReasonAccountInactive, req.Password)
	}

	unlock := s.lockUser(found.ID)
	defer unlock()

	// Re-read under the lock so concurrent attempts see each other's bookkeeping.
	user, err := s.users.GetByID(ctx, found.ID)
	if err != nil {
		recordLogin(ResultError)
		return nil, oops.Code(CodeLoginFailed).
			With("operation", "reload user").
			With("user_id", found.ID).
			Wrap(err)
	}
	// A deactivation may have landed between the lookup and the lock.
	if !user.IsActive {
		return nil, s.rejectUnknown(ctx, identifier, user.ID, ReasonAccountInactive, req.Password)
	}

	now := s.clock()
	cleared := s.cfg.Lockout.ClearExpired(user, now)

	if decision := s.cfg.Lockout.Check(user.LockedUntil, now); decision.Locked {
		recordLogin(ResultLocked)
		s.logger.WarnContext(ctx, "login rejected: account locked",
			"user_id", user.ID, "username", user.Username, "remaining", decision.Remaining)
		s.publish(EventLoginFailed, user.ID, user.Username, "", ReasonAccountLocked)
		return nil, oops.Code(CodeAccountLocked).
			With("user_id", user.ID).
			With("locked_until", *user.LockedUntil).
			With("remaining", decision.Remaining).
			Errorf("account is temporarily locked")
	}

	if !s.hasher.Verify(req.Password, user.PasswordHash, user.Salt) {
		return nil, s.rejectPassword(ctx, user, now)
	}

	s.cfg.Lockout.RecordSuccess(user)
	user.LastLoginAt = &now
	user.UpdatedAt = now
	if err := s.users.Save(ctx, user); err != nil {
		s.logger.WarnContext(ctx, "best-effort user update failed",
			"operation", "record_success", "user_id", user.ID, "error", err)
	}

	session, err := s.sessions.Create(user, s.sessionDuration(req.RememberMe), SessionMeta{
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
	})
	if err != nil {
		recordLogin(ResultError)
		return nil, oops.Code(CodeLoginFailed).
			With("operation", "create session").
			Wrap(err)
	}

	result := &LoginResult{Session: session, User: user.Public(now)}
	if req.IssueToken && s.tokens != nil {
		token, tokenErr := s.tokens.Issue(user)
		if tokenErr != nil {
			s.sessions.Terminate(session.ID)
			recordLogin(ResultError)
			return nil, oops.Code(CodeLoginFailed).
				With("operation", "issue token").
				Wrap(tokenErr)
		}
		result.Token = token
	}

	s.mu.Lock()
	current := session
	s.current = &current
	s.mu.Unlock()

	recordLogin(ResultSuccess)
	s.logger.InfoContext(ctx, "login succeeded",
		"user_id", user.ID, "username", user.Username, "role", user.Role,
		"remember_me", req.RememberMe, "lock_cleared", cleared)
	s.publishEvent(Event{
		Kind:      EventLoginSucceeded,
		SubjectID: user.ID,
		Subject:   user.Username,
		ActorID:   user.ID,
		SessionID: session.ID,
		Timestamp: now,
	})
	return result, nil
}

// rejectUnknown burns a hash verification so that unknown and inactive
// accounts take as long to reject as a wrong password.
func (s *Service) rejectUnknown(ctx context.Context, identifier, userID, reason, password string) error {
	_ = s.hasher.Verify(password, dummyHash, dummySalt)

	recordLogin(ResultInvalidCredentials)
	s.logger.InfoContext(ctx, "login failed", "identifier", identifier, "reason", reason)
	s.publish(EventLoginFailed, userID, identifier, "", reason)
	return oops.Code(CodeInvalidCredentials).
		With("reason", reason).
		Errorf("invalid username or password")
}

// rejectPassword runs lockout bookkeeping for a wrong password. Caller holds the user lock.
func (s *Service) rejectPassword(ctx context.Context, user *User, now time.Time) error {
	outcome := s.cfg.Lockout.RecordFailure(user, now)
	user.UpdatedAt = now
	if err := s.users.Save(ctx, user); err != nil {
		s.logger.WarnContext(ctx, "best-effort user update failed",
			"operation", "record_failure", "user_id", user.ID, "error", err)
	}

	recordLogin(ResultInvalidCredentials)
	s.logger.InfoContext(ctx, "login failed",
		"user_id", user.ID, "username", user.Username, "reason", ReasonInvalidPassword,
		"failed_count", user.FailedLoginCount)
	s.publish(EventLoginFailed, user.ID, user.Username, "", ReasonInvalidPassword)

	if outcome.Locked {
		AccountLockouts.Inc()
		s.logger.WarnContext(ctx, "account locked",
			"user_id", user.ID, "username", user.Username, "locked_until", outcome.LockedUntil)
		s.publish(EventAccountLocked, user.ID, user.Username, "", "")
	}

	return oops.Code(CodeInvalidCredentials).
		With("reason", ReasonInvalidPassword).
		With("attempts_remaining", outcome.AttemptsRemaining).
		Errorf("invalid username or password")
}

// Logout ends the current session.
func (s *Service) Logout(ctx context.Context) error {
	s.mu.Lock()
	current := s.current
	s.current = nil
	s.mu.Unlock()

	if current == nil {
		return oops.Code(CodeNoSession).Errorf("no active session")
	}

	s.sessions.Terminate(current.ID)
	s.logger.InfoContext(ctx, "logged out", "user_id", current.UserID, "username", current.Username)
	s.publishEvent(Event{
		Kind:      EventLoggedOut,
		SubjectID: current.UserID,
		Subject:   current.Username,
		ActorID:   current.UserID,
		SessionID: current.ID,
		Timestamp: s.clock(),
	})
	return nil
}

// ChangePassword replaces the current user's password after re-verifying the old one.
func (s *Service) ChangePassword(ctx context.Context, currentPassword, newPassword string) error {
	session, err := s.requireSession()
	if err != nil {
		return err
	}
	if currentPassword == "" || newPassword == "" {
		return oops.Code(CodeValidation).Errorf("current and new password are required")
	}

	unlock := s.lockUser(session.UserID)
	defer unlock()

	user, err := s.getUser(ctx, session.UserID)
	if err != nil {
		return err
	}
	if !s.hasher.Verify(currentPassword, user.PasswordHash, user.Salt) {
		return oops.Code(CodePasswordIncorrect).
			With("user_id", user.ID).
			Errorf("current password is incorrect")
	}
	if err := s.cfg.Password.Check(newPassword); err != nil {
		return err
	}

	if err := s.setPassword(user, newPassword); err != nil {
		return err
	}
	if err := s.users.Save(ctx, user); err != nil {
		return oops.Code("AUTH_PASSWORD_CHANGE_FAILED").With("user_id", user.ID).Wrap(err)
	}

	s.logger.InfoContext(ctx, "password changed", "user_id", user.ID, "username", user.Username)
	s.publish(EventPasswordChanged, user.ID, user.Username, session.UserID, "")
	return nil
}

// CreateUser adds a new active user. Requires user:manage.
func (s *Service) CreateUser(ctx context.Context, req CreateUserRequest) (UserInfo, error) {
	actor, err := s.RequirePermission(access.UserManage)
	if err != nil {
		return UserInfo{}, err
	}
	if req.Password == "" {
		return UserInfo{}, oops.Code(CodeValidation).Errorf("password is required")
	}
	if err := s.cfg.Password.Check(req.Password); err != nil {
		return UserInfo{}, err
	}

	salt, err := s.hasher.GenerateSalt()
	if err != nil {
		return UserInfo{}, oops.Code("USER_CREATE_FAILED").With("operation", "generate salt").Wrap(err)
	}
	now := s.clock()
	user, err := NewUser(strings.TrimSpace(req.Username), req.Email, req.Role,
		s.hasher.Hash(req.Password, salt), salt, now)
	if err != nil {
		return UserInfo{}, err
	}

	if err := s.users.Save(ctx, user); err != nil {
		return UserInfo{}, s.wrapSaveError(err, user)
	}

	s.logger.InfoContext(ctx, "user created",
		"user_id", user.ID, "username", user.Username, "role", user.Role, "actor_id", actor.UserID)
	s.publish(EventUserCreated, user.ID, user.Username, actor.UserID, "")
	return user.Public(now), nil
}

// UpdateUser applies update to the user with the given ID. Requires user:manage.
// Deactivating a user also ends that user's sessions.
func (s *Service) UpdateUser(ctx context.Context, id string, update UserUpdate) (UserInfo, error) {
	actor, err := s.RequirePermission(access.UserManage)
	if err != nil {
		return UserInfo{}, err
	}

	unlock := s.lockUser(id)
	defer unlock()

	user, err := s.getUser(ctx, id)
	if err != nil {
		return UserInfo{}, err
	}

	if update.Username != nil {
		username := strings.TrimSpace(*update.Username)
		if err := ValidateUsername(username); err != nil {
			return UserInfo{}, err
		}
		user.Username = username
	}
	if update.Email != nil {
		email, err := NormalizeEmail(*update.Email)
		if err != nil {
			return UserInfo{}, err
		}
		user.Email = email
	}
	if update.Role != nil {
		if !update.Role.Valid() {
			return UserInfo{}, oops.Code(CodeUserInvalid).
				With("role", *update.Role).
				Errorf("unknown role %q", *update.Role)
		}
		user.Role = *update.Role
	}
	deactivating := update.IsActive != nil && !*update.IsActive && user.IsActive
	if deactivating && user.ID == actor.UserID {
		return UserInfo{}, oops.Code(CodeValidation).Errorf("you cannot deactivate your own account")
	}
	if update.IsActive != nil {
		user.IsActive = *update.IsActive
	}

	now := s.clock()
	user.UpdatedAt = now
	if err := s.users.Save(ctx, user); err != nil {
		return UserInfo{}, s.wrapSaveError(err, user)
	}

	s.logger.InfoContext(ctx, "user updated", "user_id", user.ID, "username", user.Username, "actor_id", actor.UserID)
	s.publish(EventUserUpdated, user.ID, user.Username, actor.UserID, "")
	if deactivating {
		s.endUserSessions(user, actor.UserID, "user_deactivated")
	}
	return user.Public(now), nil
}

// DeactivateUser soft-deletes a user and ends its sessions. Requires user:manage.
// Deactivating an already inactive user succeeds without changes.
func (s *Service) DeactivateUser(ctx context.Context, id string) error {
	actor, err := s.RequirePermission(access.UserManage)
	if err != nil {
		return err
	}
	if id == actor.UserID {
		return oops.Code(CodeValidation).Errorf("you cannot delete your own account")
	}

	unlock := s.lockUser(id)
	defer unlock()

	user, err := s.getUser(ctx, id)
	if err != nil {
		return err
	}
	if !user.IsActive {
		return nil
	}

	user.IsActive = false
	user.UpdatedAt = s.clock()
	if err := s.users.Save(ctx, user); err != nil {
		return oops.Code("USER_DELETE_FAILED").With("user_id", id).Wrap(err)
	}

	s.logger.InfoContext(ctx, "user deactivated", "user_id", user.ID, "username", user.Username, "actor_id", actor.UserID)
	s.publish(EventUserDeleted, user.ID, user.Username, actor.UserID, "")
	s.endUserSessions(user, actor.UserID, "user_deactivated")
	return nil
}

// ListUsers returns user snapshots. Requires user:manage.
func (s *Service) ListUsers(ctx context.Context, includeInactive bool) ([]UserInfo, error) {
	if _, err := s.RequirePermission(access.UserManage); err != nil {
		return nil, err
	}

	var (
		users []*User
		err   error
	)
	if includeInactive {
		users, err = s.users.ListAll(ctx)
	} else {
		users, err = s.users.ListActive(ctx)
	}
	if err != nil {
		return nil, oops.Code("USER_LIST_FAILED").Wrap(err)
	}

	now := s.clock()
	out := make([]UserInfo, len(users))
	for i, u := range users {
		out[i] = u.Public(now)
	}
	return out, nil
}

// ResetFailedAttempts clears the failure count and lockout of a user,
// found by username or email. Requires user:manage.
func (s *Service) ResetFailedAttempts(ctx context.Context, identifier string) error {
	actor, err := s.RequirePermission(access.UserManage)
	if err != nil {
		return err
	}

	found, err := s.users.FindByUsernameOrEmail(ctx, strings.TrimSpace(identifier))
	if err != nil {
		return s.wrapLookupError(err, identifier)
	}

	unlock := s.lockUser(found.ID)
	defer unlock()

	user, err := s.getUser(ctx, found.ID)
	if err != nil {
		return err
	}
	s.cfg.Lockout.RecordSuccess(user)
	user.UpdatedAt = s.clock()
	if err := s.users.Save(ctx, user); err != nil {
		return oops.Code("USER_RESET_FAILED").With("user_id", user.ID).Wrap(err)
	}

	s.logger.InfoContext(ctx, "failed login attempts reset", "user_id", user.ID, "username", user.Username, "actor_id", actor.UserID)
	s.publish(EventFailedAttemptsReset, user.ID, user.Username, actor.UserID, "")
	return nil
}

// ListActiveSessions returns the usable sessions. Requires audit:view.
func (s *Service) ListActiveSessions(_ context.Context) ([]Session, error) {
	if _, err := s.RequirePermission(access.AuditView); err != nil {
		return nil, err
	}
	return s.sessions.Active(), nil
}

// TerminateSession ends the session with the given ID. Requires user:manage.
func (s *Service) TerminateSession(ctx context.Context, id string) error {
	actor, err := s.RequirePermission(access.UserManage)
	if err != nil {
		return err
	}

	ended, ok := s.sessions.Terminate(id)
	if !ok {
		return oops.Code(CodeSessionNotFound).Errorf("session not found")
	}
	s.clearCurrentIf(func(cur *Session) bool { return cur.ID == id })

	s.logger.InfoContext(ctx, "session terminated", "user_id", ended.UserID, "actor_id", actor.UserID)
	s.publishEvent(Event{
		Kind:      EventSessionTerminated,
		SubjectID: ended.UserID,
		Subject:   ended.Username,
		ActorID:   actor.UserID,
		SessionID: ended.ID,
		Timestamp: s.clock(),
	})
	return nil
}

// ExtendCurrentSession pushes the current session's expiry to now + d.
func (s *Service) ExtendCurrentSession(_ context.Context, d time.Duration) (Session, error) {
	if d <= 0 {
		return Session{}, oops.Code(CodeValidation).With("duration", d).Errorf("extension must be positive")
	}
	session, err := s.requireSession()
	if err != nil {
		return Session{}, err
	}

	extended, err := s.sessions.Extend(session.ID, d)
	if err != nil {
		return Session{}, err
	}

	s.mu.Lock()
	if s.current != nil && s.current.ID == extended.ID {
		cur := extended
		s.current = &cur
	}
	s.mu.Unlock()
	return extended, nil
}

// CurrentSession returns the current session, if one is usable.
func (s *Service) CurrentSession() (Session, bool) {
	session, err := s.requireSession()
	if err != nil {
		return Session{}, false
	}
	return session, true
}

// CurrentUser returns the user of the current session.
func (s *Service) CurrentUser(ctx context.Context) (UserInfo, error) {
	session, err := s.requireSession()
	if err != nil {
		return UserInfo{}, err
	}
	user, err := s.getUser(ctx, session.UserID)
	if err != nil {
		return UserInfo{}, err
	}
	return user.Public(s.clock()), nil
}

// IsAuthenticated reports whether a usable session is current.
func (s *Service) IsAuthenticated() bool {
	_, ok := s.CurrentSession()
	return ok
}

// HasPermission reports whether the current session's role grants p.
func (s *Service) HasPermission(p access.Permission) bool {
	_, err := s.RequirePermission(p)
	return err == nil
}

// RequirePermission returns the current session if its role grants p.
func (s *Service) RequirePermission(p access.Permission) (Session, error) {
	session, err := s.requireSession()
	if err != nil {
		return Session{}, err
	}
	if !s.resolver.Has(session.Role, p) {
		return Session{}, oops.Code(CodePermissionDenied).
			With("permission", p).
			With("role", session.Role).
			With("user_id", session.UserID).
			Errorf("permission denied: %s", p)
	}
	return session, nil
}

// IssueToken mints a bearer token for the current user.
func (s *Service) IssueToken(ctx context.Context) (string, error) {
	if s.tokens == nil {
		return "", oops.Code("TOKEN_DISABLED").Errorf("token service not configured")
	}
	session, err := s.requireSession()
	if err != nil {
		return "", err
	}
	user, err := s.getUser(ctx, session.UserID)
	if err != nil {
		return "", err
	}
	return s.tokens.Issue(user)
}

// VerifyToken checks a bearer token.
func (s *Service) VerifyToken(token string) (*Claims, error) {
	if s.tokens == nil {
		return nil, oops.Code("TOKEN_DISABLED").Errorf("token service not configured")
	}
	return s.tokens.Verify(token)
}

// handleExpired receives swept sessions from the registry.
func (s *Service) handleExpired(expired []Session) {
	ids := make(map[string]struct{}, len(expired))
	for _, e := range expired {
		ids[e.ID] = struct{}{}
	}

	var loggedOut *Session
	s.mu.Lock()
	if s.current != nil {
		if _, ok := ids[s.current.ID]; ok {
			loggedOut = s.current
			s.current = nil
		}
	}
	s.mu.Unlock()

	now := s.clock()
	for _, e := range expired {
		s.publishEvent(Event{
			Kind:      EventSessionExpired,
			SubjectID: e.UserID,
			Subject:   e.Username,
			SessionID: e.ID,
			Timestamp: now,
		})
	}
	if loggedOut != nil {
		s.logger.Info("current session expired", "user_id", loggedOut.UserID, "username", loggedOut.Username)
		s.publishEvent(Event{
			Kind:      EventLoggedOut,
			SubjectID: loggedOut.UserID,
			Subject:   loggedOut.Username,
			ActorID:   loggedOut.UserID,
			SessionID: loggedOut.ID,
			Reason:    "session_expired",
			Timestamp: now,
		})
	}
}

func (s *Service) requireSession() (Session, error) {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()

	if current == nil || !s.sessions.IsValid(current.ID) {
		return Session{}, oops.Code(CodeNoSession).Errorf("no active session")
	}
	return *current, nil
}

func (s *Service) clearCurrentIf(match func(*Session) bool) {
	s.mu.Lock()
	if s.current != nil && match(s.current) {
		s.current = nil
	}
	s.mu.Unlock()
}

func (s *Service) endUserSessions(user *User, actorID, reason string) {
	ended := s.sessions.TerminateUser(user.ID)
	s.clearCurrentIf(func(cur *Session) bool { return cur.UserID == user.ID })

	now := s.clock()
	for _, e := range ended {
		s.publishEvent(Event{
			Kind:      EventSessionTerminated,
			SubjectID: e.UserID,
			Subject:   e.Username,
			ActorID:   actorID,
			SessionID: e.ID,
			Reason:    reason,
			Timestamp: now,
		})
	}
}

func (s *Service) setPassword(user *User, password string) error {
	salt, err := s.hasher.GenerateSalt()
	if err != nil {
		return oops.Code("AUTH_PASSWORD_CHANGE_FAILED").With("operation", "generate salt").Wrap(err)
	}
	user.Salt = salt
	user.PasswordHash = s.hasher.Hash(password, salt)
	user.UpdatedAt = s.clock()
	return nil
}

func (s *Service) getUser(ctx context.Context, id string) (*User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, s.wrapLookupError(err, id)
	}
	return user, nil
}

func (s *Service) wrapLookupError(err error, key string) error {
	if errors.Is(err, ErrNotFound) {
		return oops.Code(CodeUserNotFound).With("user", key).Wrap(err)
	}
	return oops.Code("USER_LOOKUP_FAILED").With("user", key).Wrap(err)
}

func (s *Service) wrapSaveError(err error, user *User) error {
	if code := ErrorCode(err); code == CodeUserDuplicate {
		return err
	}
	return oops.Code("USER_SAVE_FAILED").With("user_id", user.ID).Wrap(err)
}

func (s *Service) sessionDuration(rememberMe bool) time.Duration {
	if rememberMe {
		return s.cfg.RememberMeDuration
	}
	return s.cfg.SessionTimeout
}

// lockUser serializes read-modify-write of one user's record.
func (s *Service) lockUser(id string) (unlock func()) {
	v, _ := s.userLocks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex) //nolint:forcetypeassert // only *sync.Mutex is stored
	mu.Lock()
	return mu.Unlock
}

func (s *Service) publish(kind EventKind, subjectID, subject, actorID, reason string) {
	s.publishEvent(Event{
		Kind:      kind,
		SubjectID: subjectID,
		Subject:   subject,
		ActorID:   actorID,
		Reason:    reason,
		Timestamp: s.clock(),
	})
}

func (s *Service) publishEvent(e Event) {
	if s.events != nil {
		s.events.Publish(e)
	}
}
