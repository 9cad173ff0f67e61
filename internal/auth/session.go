// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pharmadiet Contributors

package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/pharmadiet/pharmadiet/internal/access"
)

// Session defaults.
const (
	SessionIDBytes            = 32
	DefaultSessionTimeout     = 8 * time.Hour
	DefaultRememberMeDuration = 24 * time.Hour
	DefaultSweepInterval      = 60 * time.Second
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

// Session states. Expired and terminated are final.
const (
	SessionActive     SessionStatus = "active"
	SessionExpired    SessionStatus = "expired"
	SessionTerminated SessionStatus = "terminated"
)

// Session is an authenticated login session.
// Role is captured at creation and does not follow later role changes.
type Session struct {
	ID             string        `json:"session_id"`
	UserID         string        `json:"user_id"`
	Username       string        `json:"username"`
	Role           access.Role   `json:"role"`
	CreatedAt      time.Time     `json:"created_at"`
	ExpiresAt      time.Time     `json:"expires_at"`
	LastActivityAt time.Time     `json:"last_activity"`
	Status         SessionStatus `json:"status"`
	IPAddress      string        `json:"ip_address,omitempty"`
	UserAgent      string        `json:"user_agent,omitempty"`
}

// UsableAt reports whether the session is active and unexpired at t.
func (s Session) UsableAt(t time.Time) bool {
	return s.Status == SessionActive && t.Before(s.ExpiresAt)
}

// SessionMeta carries optional client details recorded on a session.
type SessionMeta struct {
	IPAddress string
	UserAgent string
}

// SessionRegistry holds the live sessions of this process.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	onExpire func([]Session)

	interval time.Duration
	logger   *slog.Logger
	clock    func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SessionOption configures a SessionRegistry.
type SessionOption func(*SessionRegistry)

// WithSweepInterval sets how often expired sessions are swept.
func WithSweepInterval(d time.Duration) SessionOption {
	return func(r *SessionRegistry) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithSessionClock sets the time source.
func WithSessionClock(clock func() time.Time) SessionOption {
	return func(r *SessionRegistry) { r.clock = clock }
}

// WithSessionLogger sets the logger.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(r *SessionRegistry) { r.logger = logger }
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry(opts ...SessionOption) *SessionRegistry {
	r := &SessionRegistry{
		sessions: make(map[string]*Session),
		interval: DefaultSweepInterval,
		logger:   slog.Default(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetExpiryHandler registers fn to receive sessions removed by Sweep.
// fn runs outside the registry lock.
func (r *SessionRegistry) SetExpiryHandler(fn func([]Session)) {
	r.mu.Lock()
	r.onExpire = fn
	r.mu.Unlock()
}

// Create registers a new active session for user lasting d.
func (r *SessionRegistry) Create(user *User, d time.Duration, meta SessionMeta) (Session, error) {
	id, err := newSessionID()
	if err != nil {
		return Session{}, err
	}
	now := r.clock()
	s := &Session{
		ID:             id,
		UserID:         user.ID,
		Username:       user.Username,
		Role:           user.Role,
		CreatedAt:      now,
		ExpiresAt:      now.Add(d),
		LastActivityAt: now,
		Status:         SessionActive,
		IPAddress:      meta.IPAddress,
		UserAgent:      meta.UserAgent,
	}

	r.mu.Lock()
	r.sessions[id] = s
	ActiveSessions.Set(float64(len(r.sessions)))
	r.mu.Unlock()

	return *s, nil
}

// IsValid reports whether id names a usable session. It changes nothing.
func (r *SessionRegistry) IsValid(id string) bool {
	now := r.clock()
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return ok && s.UsableAt(now)
}

// Get returns a copy of the session with the given ID.
func (r *SessionRegistry) Get(id string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, oops.Code(CodeSessionNotFound).Errorf("session not found")
	}
	return *s, nil
}

// Extend pushes the expiry of a usable session to now + d.
func (r *SessionRegistry) Extend(id string, d time.Duration) (Session, error) {
	now := r.clock()
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || !s.UsableAt(now) {
		return Session{}, oops.Code(CodeSessionNotFound).Errorf("session not found or no longer valid")
	}
	s.ExpiresAt = now.Add(d)
	s.LastActivityAt = now
	return *s, nil
}

// Terminate ends a session. Reports false if it was not registered.
func (r *SessionRegistry) Terminate(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	s.Status = SessionTerminated
	delete(r.sessions, id)
	ActiveSessions.Set(float64(len(r.sessions)))
	return *s, true
}

// TerminateUser ends every session belonging to userID.
func (r *SessionRegistry) TerminateUser(userID string) []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ended []Session
	for id, s := range r.sessions {
		if s.UserID != userID {
			continue
		}
		s.Status = SessionTerminated
		delete(r.sessions, id)
		ended = append(ended, *s)
	}
	ActiveSessions.Set(float64(len(r.sessions)))
	sortSessions(ended)
	return ended
}

// TerminateAll ends every session.
func (r *SessionRegistry) TerminateAll() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	ended := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		s.Status = SessionTerminated
		ended = append(ended, *s)
	}
	clear(r.sessions)
	ActiveSessions.Set(0)
	sortSessions(ended)
	return ended
}

// Active returns the usable sessions ordered by creation time.
func (r *SessionRegistry) Active() []Session {
	now := r.clock()
	r.mu.Lock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.UsableAt(now) {
			out = append(out, *s)
		}
	}
	r.mu.Unlock()
	sortSessions(out)
	return out
}

// Len returns the number of registered sessions, including ones that have
// expired but not yet been swept.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep removes sessions whose expiry is at or before now, marks them
// expired and hands them to the expiry handler.
func (r *SessionRegistry) Sweep(now time.Time) []Session {
	r.mu.Lock()
	var expired []Session
	for id, s := range r.sessions {
		if now.Before(s.ExpiresAt) {
			continue
		}
		s.Status = SessionExpired
		delete(r.sessions, id)
		expired = append(expired, *s)
	}
	ActiveSessions.Set(float64(len(r.sessions)))
	handler := r.onExpire
	r.mu.Unlock()

	if len(expired) == 0 {
		return nil
	}
	sortSessions(expired)
	SessionsExpired.Add(float64(len(expired)))
	r.logger.Info("expired sessions swept", "count", len(expired))
	if handler != nil {
		handler(expired)
	}
	return expired
}

// Start begins the periodic expiry sweep.
func (r *SessionRegistry) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.run(ctx)
	return nil
}

// Stop stops the sweep and waits for it to finish.
func (r *SessionRegistry) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *SessionRegistry) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			r.Sweep(r.clock())
		}
	}
}

func newSessionID() (string, error) {
	b := make([]byte, SessionIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", oops.Code("SESSION_ID_GENERATE_FAILED").
			With("requested_bytes", SessionIDBytes).
			Wrap(err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func sortSessions(s []Session) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].CreatedAt.Equal(s[j].CreatedAt) {
			return s[i].ID < s[j].ID
		}
		return s[i].CreatedAt.Before(s[j].CreatedAt)
	})
}
