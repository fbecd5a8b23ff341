package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/frahmantamala/familyguard/internal"
	"github.com/frahmantamala/familyguard/internal/audit"
	"github.com/frahmantamala/familyguard/internal/identity"
	"github.com/frahmantamala/familyguard/internal/metrics"
)

const DefaultTimeout = 30 * time.Minute

// Manager owns the session table. Expiry is lazy: Validate checks the
// inactivity window on every access, PurgeExpired only reclaims memory.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	byUser   map[string]map[string]struct{}

	roles    *identity.RoleTable
	timeout  time.Duration
	recorder audit.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Manager)

func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func WithRecorder(recorder audit.Recorder) Option {
	return func(m *Manager) {
		if recorder != nil {
			m.recorder = recorder
		}
	}
}

func NewManager(roles *identity.RoleTable, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		byUser:   make(map[string]map[string]struct{}),
		roles:    roles,
		timeout:  DefaultTimeout,
		recorder: audit.NopRecorder{},
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Timeout() time.Duration { return m.timeout }

// Create issues a session for an authenticated user and returns its id.
func (m *Manager) Create(ctx context.Context, user *identity.User, ip string) (string, error) {
	if user == nil {
		return "", internal.NewValidationError("user is required", internal.ErrCodeValidationFailed)
	}
	if !user.Active {
		return "", internal.ErrUserInactive
	}

	id, err := generateToken()
	if err != nil {
		return "", internal.NewInternalError("failed to generate session id", err)
	}

	now := m.now()
	s := &Session{
		ID:           id,
		UserID:       user.ID,
		Username:     user.Username,
		Role:         user.Role,
		Permissions:  m.roles.Permissions(user.Role),
		CreatedAt:    now,
		LastActivity: now,
		SourceIP:     ip,
		Active:       true,
		State:        StateCreated,
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.index(s)
	m.mu.Unlock()

	metrics.ActiveSessions.Inc()
	metrics.SessionTransitions.WithLabelValues(string(StateCreated)).Inc()
	m.recorder.Record(ctx, audit.Entry{
		Type:      audit.TypeSession,
		User:      user.Username,
		Operation: "session_create",
		Level:     audit.LevelInfo,
		Success:   true,
		Details:   map[string]interface{}{"ip": ip, "role": user.Role},
	})
	return id, nil
}

// Validate returns a copy of the session and refreshes its activity. A
// session idle past the timeout is expired and removed.
func (m *Manager) Validate(ctx context.Context, id string) (*Session, error) {
	return m.validate(ctx, id, true)
}

// Resolve is Validate without the session_expire audit entry, for callers
// that record the rejected attempt themselves. On expiry it returns the
// expired copy alongside the error so the attempt can be attributed.
func (m *Manager) Resolve(ctx context.Context, id string) (*Session, error) {
	return m.validate(ctx, id, false)
}

func (m *Manager) validate(ctx context.Context, id string, record bool) (*Session, error) {
	if id == "" {
		return nil, internal.ErrSessionNotFound
	}

	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil, internal.ErrSessionNotFound
	}
	if !s.Active {
		m.mu.Unlock()
		return nil, internal.ErrSessionInactive
	}

	now := m.now()
	if now.Sub(s.LastActivity) > m.timeout {
		s.Active = false
		s.State = StateExpired
		m.remove(s)
		expired := s.clone()
		m.mu.Unlock()

		metrics.ActiveSessions.Dec()
		metrics.SessionTransitions.WithLabelValues(string(StateExpired)).Inc()
		err := internal.NewSessionExpiredError(fmt.Sprintf("session expired after %s of inactivity", m.timeout))
		if !record {
			return expired, err
		}
		m.recorder.Record(ctx, audit.Entry{
			Type:      audit.TypeSession,
			User:      expired.Username,
			Operation: "session_expire",
			Level:     audit.LevelWarning,
			Details: map[string]interface{}{
				"idle":          now.Sub(expired.LastActivity).String(),
				"last_activity": expired.LastActivity,
			},
		})
		return nil, err
	}

	if s.State == StateCreated {
		metrics.SessionTransitions.WithLabelValues(string(StateActive)).Inc()
	}
	s.LastActivity = now
	s.State = StateActive
	out := s.clone()
	m.mu.Unlock()
	return out, nil
}

// CheckPermission consults the session's frozen snapshot, not the live
// role table.
func (m *Manager) CheckPermission(ctx context.Context, id string, permission identity.Permission) bool {
	s, err := m.Validate(ctx, id)
	if err != nil {
		return false
	}
	return s.Has(permission)
}

// Authorize is CheckPermission with a typed error for transports.
func (m *Manager) Authorize(ctx context.Context, id string, permission identity.Permission) (*Session, error) {
	s, err := m.Validate(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.Has(permission) {
		return s, internal.NewPermissionDeniedError(fmt.Sprintf("permission %s required", permission), internal.ErrCodeMissingPermission)
	}
	return s, nil
}

// Logout invalidates the session. It reports false when the id is unknown.
func (m *Manager) Logout(ctx context.Context, id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	s.Active = false
	s.State = StateInvalidated
	m.remove(s)
	username := s.Username
	m.mu.Unlock()

	metrics.ActiveSessions.Dec()
	metrics.SessionTransitions.WithLabelValues(string(StateInvalidated)).Inc()
	m.recorder.Record(ctx, audit.Entry{
		Type:      audit.TypeSession,
		User:      username,
		Operation: "logout",
		Level:     audit.LevelInfo,
		Success:   true,
	})
	return true
}

// InvalidateUser drops every session of a user, e.g. after a role change
// or archival, and returns how many were dropped.
func (m *Manager) InvalidateUser(ctx context.Context, userID string) int {
	m.mu.Lock()
	var username string
	count := 0
	for id := range m.byUser[userID] {
		s := m.sessions[id]
		if s == nil {
			continue
		}
		s.Active = false
		s.State = StateInvalidated
		username = s.Username
		delete(m.sessions, id)
		count++
	}
	delete(m.byUser, userID)
	m.mu.Unlock()

	if count == 0 {
		return 0
	}
	metrics.ActiveSessions.Sub(float64(count))
	metrics.SessionTransitions.WithLabelValues(string(StateInvalidated)).Add(float64(count))
	m.recorder.Record(ctx, audit.Entry{
		Type:      audit.TypeSession,
		User:      username,
		Operation: "invalidate_user_sessions",
		Level:     audit.LevelWarning,
		Success:   true,
		Details:   map[string]interface{}{"user_id": userID, "sessions": count},
	})
	return count
}

// PurgeExpired removes idle sessions that nobody validated since they
// timed out. Correctness never depends on it.
func (m *Manager) PurgeExpired(ctx context.Context) int {
	m.mu.Lock()
	now := m.now()
	count := 0
	for _, s := range m.sessions {
		if now.Sub(s.LastActivity) > m.timeout {
			s.Active = false
			s.State = StateExpired
			m.remove(s)
			count++
		}
	}
	m.mu.Unlock()

	if count > 0 {
		metrics.ActiveSessions.Sub(float64(count))
		metrics.SessionTransitions.WithLabelValues(string(StateExpired)).Add(float64(count))
		m.logger.Info("purged expired sessions", "count", count)
	}
	return count
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) UserSessions(userID string) []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Session, 0, len(m.byUser[userID]))
	for id := range m.byUser[userID] {
		if s, ok := m.sessions[id]; ok {
			out = append(out, s.clone())
		}
	}
	return out
}

func (m *Manager) index(s *Session) {
	ids, ok := m.byUser[s.UserID]
	if !ok {
		ids = make(map[string]struct{})
		m.byUser[s.UserID] = ids
	}
	ids[s.ID] = struct{}{}
}

// remove must be called with mu held.
func (m *Manager) remove(s *Session) {
	delete(m.sessions, s.ID)
	if ids, ok := m.byUser[s.UserID]; ok {
		delete(ids, s.ID)
		if len(ids) == 0 {
			delete(m.byUser, s.UserID)
		}
	}
}

func (m *Manager) SnapshotKey() string { return "sessions" }

func (m *Manager) Export() (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return json.Marshal(out)
}

// Import replaces the session table. Restored sessions keep their original
// activity time, so ones idle past the timeout expire on first use.
func (m *Manager) Import(data json.RawMessage) error {
	var list []*Session
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("decode sessions: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*Session, len(list))
	m.byUser = make(map[string]map[string]struct{})
	for _, s := range list {
		if s.ID == "" || !s.Active || s.State.Terminal() {
			continue
		}
		m.sessions[s.ID] = s
		m.index(s)
	}
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	return nil
}

// generateToken returns 32 bytes of crypto/rand as hex.
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
