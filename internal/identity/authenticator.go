package identity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/frahmantamala/familyguard/internal"
	"github.com/frahmantamala/familyguard/internal/audit"
	"github.com/frahmantamala/familyguard/internal/metrics"
)

// Authenticator runs the login check chain. Each check short-circuits; only
// a failed credential verification counts toward the lockout threshold.
type Authenticator struct {
	store    *Store
	lockout  *LockoutTracker
	filter   *IPFilter
	verifier CredentialVerifier
	recorder audit.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

type AuthenticatorOption func(*Authenticator)

func WithAuthClock(now func() time.Time) AuthenticatorOption {
	return func(a *Authenticator) {
		a.now = now
	}
}

func WithIPFilter(filter *IPFilter) AuthenticatorOption {
	return func(a *Authenticator) {
		a.filter = filter
	}
}

func WithAuditRecorder(recorder audit.Recorder) AuthenticatorOption {
	return func(a *Authenticator) {
		if recorder != nil {
			a.recorder = recorder
		}
	}
}

func NewAuthenticator(store *Store, lockout *LockoutTracker, verifier CredentialVerifier, logger *slog.Logger, opts ...AuthenticatorOption) *Authenticator {
	a := &Authenticator{
		store:    store,
		lockout:  lockout,
		verifier: verifier,
		recorder: audit.NopRecorder{},
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate returns the user on success. Every failure is an
// *internal.AppError carrying a display-ready message.
func (a *Authenticator) Authenticate(ctx context.Context, username, password, ip string) (*User, error) {
	if username == "" || password == "" {
		return nil, internal.NewValidationError("username and password are required", internal.ErrCodeValidationFailed)
	}

	user, err := a.store.GetByUsername(username)
	if err != nil {
		a.fail(ctx, username, ip, "unknown user", audit.LevelWarning)
		return nil, internal.ErrInvalidCredentials
	}

	if !user.Active {
		a.fail(ctx, username, ip, "inactive user", audit.LevelWarning)
		return nil, internal.ErrUserInactive
	}

	state, err := a.lockout.Observe(user.ID)
	if err != nil {
		return nil, internal.NewInternalError("failed to read lockout state", err)
	}
	if state.Released {
		a.logger.Info("lockout window elapsed", "username", username)
	}
	if state.Locked {
		a.fail(ctx, username, ip, "account locked", audit.LevelWarning)
		return nil, lockedError(state.LockedUntil)
	}

	if a.filter.Blacklisted(ip) {
		a.fail(ctx, username, ip, "ip blacklisted", audit.LevelSecurity)
		return nil, internal.NewPermissionDeniedError(fmt.Sprintf("ip address %s is blacklisted", ip), internal.ErrCodeIPBlacklisted)
	}
	if !a.filter.Whitelisted(ip) {
		a.fail(ctx, username, ip, "ip not whitelisted", audit.LevelWarning)
		return nil, internal.NewPermissionDeniedError(fmt.Sprintf("ip address %s is not whitelisted", ip), internal.ErrCodeIPNotWhitelisted)
	}

	if err := a.verifier.Verify(ctx, user.ID, password); err != nil {
		return nil, a.recordFailure(ctx, user, ip)
	}

	now := a.now()
	updated, err := a.store.Update(user.ID, func(u *User) error {
		u.FailedAttempts = 0
		u.LockedUntil = time.Time{}
		u.LastLogin = now
		return nil
	})
	if err != nil {
		return nil, internal.NewInternalError("failed to record login", err)
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	a.recorder.Record(ctx, audit.Entry{
		Type:      audit.TypeAuthentication,
		User:      username,
		Operation: "login",
		Level:     audit.LevelInfo,
		Success:   true,
		Details:   map[string]interface{}{"ip": ip},
	})
	return updated, nil
}

func (a *Authenticator) recordFailure(ctx context.Context, user *User, ip string) error {
	state, err := a.lockout.RecordFailure(user.ID)
	if err != nil {
		return internal.NewInternalError("failed to record failed attempt", err)
	}

	if state.Locked {
		if state.JustLocked {
			metrics.Lockouts.Inc()
			a.logger.Warn("account locked",
				"username", user.Username,
				"failed_attempts", state.FailedAttempts,
				"locked_until", state.LockedUntil)
		}
		metrics.AuthAttempts.WithLabelValues("locked").Inc()
		a.recorder.Record(ctx, audit.Entry{
			Type:      audit.TypeAuthentication,
			User:      user.Username,
			Operation: "login",
			Level:     audit.LevelSecurity,
			Details: map[string]interface{}{
				"ip":              ip,
				"reason":          "account locked",
				"failed_attempts": state.FailedAttempts,
				"locked_until":    state.LockedUntil,
			},
		})
		return lockedError(state.LockedUntil)
	}

	metrics.AuthAttempts.WithLabelValues("failure").Inc()
	a.recorder.Record(ctx, audit.Entry{
		Type:      audit.TypeAuthentication,
		User:      user.Username,
		Operation: "login",
		Level:     audit.LevelWarning,
		Details: map[string]interface{}{
			"ip":                 ip,
			"reason":             "invalid credentials",
			"failed_attempts":    state.FailedAttempts,
			"remaining_attempts": a.lockout.MaxAttempts() - state.FailedAttempts,
		},
	})
	return internal.ErrInvalidCredentials
}

func (a *Authenticator) fail(ctx context.Context, username, ip, reason string, level audit.Level) {
	metrics.AuthAttempts.WithLabelValues("rejected").Inc()
	a.recorder.Record(ctx, audit.Entry{
		Type:      audit.TypeAuthentication,
		User:      username,
		Operation: "login",
		Level:     level,
		Details:   map[string]interface{}{"ip": ip, "reason": reason},
	})
}

// IsLocked reports whether the named user has an open lock window.
func (a *Authenticator) IsLocked(username string) bool {
	u, err := a.store.GetByUsername(username)
	if err != nil {
		return false
	}
	return a.lockout.IsLocked(u.ID)
}

func lockedError(until time.Time) error {
	return internal.NewLockedAccountError(fmt.Sprintf("account locked until %s", until.UTC().Format(time.RFC3339)))
}
